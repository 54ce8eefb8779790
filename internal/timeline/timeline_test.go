package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

func rec(id, ts, resource string) types.Record {
	return types.Record{RequestID: id, Timestamp: ts, ResourceType: resource}
}

func TestGroupByRequest(t *testing.T) {
	records := []types.Record{
		rec("A", "2024-01-15T10:00:00.000Z", ""),
		rec("A", "2024-01-15T10:00:01.250Z", "aws_instance"),
		rec("B", "2024-01-15T10:00:02Z", "aws_vpc"),
		rec("", "2024-01-15T10:00:03Z", "ignored"),
		rec("A", "garbage", "aws_s3_bucket"),
		rec("C", "", ""),
	}

	groups := GroupByRequest(records)

	require.Len(t, groups, 3)
	assert.Equal(t, types.RequestGroup{
		RequestID:    "A",
		ResourceType: "aws_instance",
		Start:        "2024-01-15T10:00:00.000Z",
		End:          "2024-01-15T10:00:01.250Z",
		Count:        3,
		Unparsed:     1,
	}, groups[0])
	assert.Equal(t, "B", groups[1].RequestID)
	assert.Equal(t, groups[1].Start, groups[1].End)
	assert.Equal(t, types.RequestGroup{RequestID: "C", Count: 1, Unparsed: 1}, groups[2])
	assert.False(t, groups[2].HasSpan())
}

func TestGrouperComparesInstantsNotStrings(t *testing.T) {
	g := NewGrouper()
	// 10:00+02:00 is 08:00Z, earlier than 09:00Z despite sorting later as text
	g.Add(rec("A", "2024-01-15T09:00:00Z", ""))
	g.Add(rec("A", "2024-01-15T10:00:00+02:00", ""))

	groups := g.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "2024-01-15T10:00:00+02:00", groups[0].Start)
	assert.Equal(t, "2024-01-15T09:00:00Z", groups[0].End)
}

func TestBuild(t *testing.T) {
	records := []types.Record{
		rec("late", "2024-01-15T10:00:05Z", "aws_vpc"),
		rec("A", "2024-01-15T10:00:00Z", "aws_instance"),
		rec("A", "2024-01-15T10:00:01,500Z", ""),
		rec("B", "2024-01-15T10:00:02Z", ""),
		rec("nospan", "not a time", ""),
	}

	bars := Build(records)

	require.Len(t, bars, 3)
	assert.Equal(t, "A", bars[0].RequestID)
	assert.Equal(t, int64(1500), bars[0].DurationMS)
	assert.Equal(t, 2, bars[0].Count)
	assert.Equal(t, "aws_instance", bars[0].ResourceType)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), bars[0].Start.UTC())

	assert.Equal(t, "B", bars[1].RequestID)
	assert.Equal(t, int64(0), bars[1].DurationMS)

	assert.Equal(t, "late", bars[2].RequestID)
}

func TestGrouperPartialReads(t *testing.T) {
	g := NewGrouper()
	g.Add(rec("A", "2024-01-15T10:00:00Z", ""))
	assert.Equal(t, 1, g.Len())
	before := g.Groups()

	g.Add(rec("A", "2024-01-15T10:00:03Z", ""))

	assert.Equal(t, 1, before[0].Count)
	assert.Equal(t, 2, g.Groups()[0].Count)
	require.Len(t, g.Bars(), 1)
	assert.Equal(t, int64(3000), g.Bars()[0].DurationMS)
}
