package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAsIs(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func TestRecordJSONFieldNames(t *testing.T) {
	rec := Record{
		LineNumber:   3,
		Timestamp:    "2024-01-15T10:30:00Z",
		Level:        LevelInfo,
		Phase:        PhasePlan,
		Transition:   TransitionEntered,
		Message:      "m",
		RequestID:    "abc",
		RequestBody:  NewBody(json.RawMessage(`{"k":1}`), decodeAsIs),
		WellFormed:   true,
		Raw:          `{"@message":"m"}`,
		ResourceType: "aws_instance",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Equal(t, float64(3), fields["lineno"])
	assert.Equal(t, "plan", fields["section"])
	assert.Equal(t, true, fields["section_start"])
	assert.Equal(t, false, fields["section_end"])
	assert.Equal(t, "abc", fields["request_id"])
	assert.Equal(t, map[string]any{"hidden": true, "value": map[string]any{"k": float64(1)}}, fields["request_body"])
	assert.NotContains(t, fields, "response_body")
	for _, key := range []string{"timestamp", "timestamp_guessed", "level", "level_guessed", "message", "raw", "well_formed"} {
		assert.Contains(t, fields, key)
	}
}

func TestRecordJSONUnsetValues(t *testing.T) {
	data, err := json.Marshal(Record{LineNumber: 1, Phase: PhaseNone, Transition: TransitionExited})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Nil(t, fields["timestamp"])
	assert.Nil(t, fields["section"])
	assert.Nil(t, fields["request_id"])
	assert.Equal(t, true, fields["section_end"])
}

func TestRecordJSONDecode(t *testing.T) {
	in := `{"lineno":7,"timestamp":null,"level":"error","level_guessed":true,"section":"apply",` +
		`"section_start":false,"section_end":false,"message":"boom","request_id":"r1",` +
		`"response_body":{"hidden":false,"value":{"status":500}},"raw":"boom","well_formed":false}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(in), &rec))

	assert.Equal(t, 7, rec.LineNumber)
	assert.False(t, rec.HasTimestamp())
	assert.Equal(t, PhaseApply, rec.Phase)
	assert.Equal(t, TransitionNone, rec.Transition)
	assert.Equal(t, "r1", rec.RequestID)
	assert.Nil(t, rec.RequestBody)
	require.NotNil(t, rec.ResponseBody)
	assert.False(t, rec.ResponseBody.Hidden)
	assert.Equal(t, map[string]any{"status": float64(500)}, rec.ResponseBody.Value())
}

func TestRecordJSONDecodeRejectsUnknownSection(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"lineno":1,"section":"destroy"}`), &rec)
	assert.Error(t, err)
}

func TestBodyDecodedOnce(t *testing.T) {
	calls := 0
	b := NewBody(json.RawMessage(`"x"`), func(raw json.RawMessage) any {
		calls++
		return string(raw)
	})

	assert.Equal(t, 0, calls)
	b.Value()
	revealed := b.Reveal()
	revealed.Value()

	assert.Equal(t, 1, calls)
	assert.True(t, b.Hidden)
	assert.False(t, revealed.Hidden)

	var nilBody *Body
	assert.Nil(t, nilBody.Value())
	assert.Nil(t, nilBody.Reveal())
}

func TestRunStatsClone(t *testing.T) {
	s := NewRunStats()
	s.LevelCounts["info"] = 1
	c := s.Clone()
	c.LevelCounts["info"] = 5

	assert.Equal(t, 1, s.LevelCounts["info"])
}

func TestShortForm(t *testing.T) {
	long := make([]rune, ShortMessageLimit+20)
	for i := range long {
		long[i] = 'é'
	}
	rec := Record{
		LineNumber:  7,
		Timestamp:   "2024-01-15T10:00:00Z",
		Level:       LevelError,
		Phase:       PhaseApply,
		Message:     string(long),
		RequestBody: NewBody(json.RawMessage(`{"a":1}`), decodeAsIs),
		Raw:         "ignored",
	}

	short := rec.Short()
	assert.Equal(t, 7, short.LineNumber)
	assert.Len(t, []rune(short.Message), ShortMessageLimit)
	assert.True(t, short.HasRequestBody)
	assert.False(t, short.HasResponseBody)
	require.NotNil(t, short.Section)
	assert.Equal(t, "apply", *short.Section)
	assert.Nil(t, short.RequestID)

	data, err := json.Marshal(short)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "raw")
	assert.NotContains(t, doc, "request_body")
	assert.Nil(t, doc["request_id"])
}

func TestShortFormKeepsShortMessage(t *testing.T) {
	short := Record{Message: "fine", Phase: PhaseNone}.Short()
	assert.Equal(t, "fine", short.Message)
	assert.Nil(t, short.Section)
	assert.Nil(t, short.Timestamp)
}
