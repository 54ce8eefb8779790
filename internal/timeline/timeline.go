// Package timeline groups records by request id and derives time spans for
// Gantt-style rendering.
package timeline

import (
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

type group struct {
	summary    types.RequestGroup
	start, end time.Time
}

// Grouper accumulates records into request groups in first-seen order.
// A Grouper belongs to a single run and is not safe for concurrent use.
type Grouper struct {
	groups map[string]*group
	order  []string
}

// NewGrouper creates an empty grouper
func NewGrouper() *Grouper {
	return &Grouper{groups: make(map[string]*group)}
}

// Add folds one record into its group. Records without a request id are
// ignored. Records whose timestamp is missing or does not parse as an
// instant count toward the group but not its span.
func (g *Grouper) Add(rec types.Record) {
	if rec.RequestID == "" {
		return
	}

	grp, ok := g.groups[rec.RequestID]
	if !ok {
		grp = &group{summary: types.RequestGroup{RequestID: rec.RequestID}}
		g.groups[rec.RequestID] = grp
		g.order = append(g.order, rec.RequestID)
	}

	grp.summary.Count++
	if grp.summary.ResourceType == "" {
		grp.summary.ResourceType = rec.ResourceType
	}

	if !rec.HasTimestamp() {
		grp.summary.Unparsed++
		return
	}
	ts, err := parser.ParseTimestamp(rec.Timestamp)
	if err != nil {
		grp.summary.Unparsed++
		return
	}

	if grp.summary.Start == "" || ts.Before(grp.start) {
		grp.start = ts
		grp.summary.Start = rec.Timestamp
	}
	if grp.summary.End == "" || ts.After(grp.end) {
		grp.end = ts
		grp.summary.End = rec.Timestamp
	}
}

// Len returns the number of groups
func (g *Grouper) Len() int {
	return len(g.order)
}

// Groups returns the groups seen so far in first-seen order
func (g *Grouper) Groups() []types.RequestGroup {
	out := make([]types.RequestGroup, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.groups[id].summary)
	}
	return out
}

// Bars returns one bar per group that has a span
func (g *Grouper) Bars() []Bar {
	var bars []Bar
	for _, id := range g.order {
		grp := g.groups[id]
		if !grp.summary.HasSpan() {
			continue
		}
		bars = append(bars, Bar{
			RequestID:    grp.summary.RequestID,
			ResourceType: grp.summary.ResourceType,
			Start:        grp.start,
			End:          grp.end,
			DurationMS:   grp.end.Sub(grp.start).Milliseconds(),
			Count:        grp.summary.Count,
		})
	}
	return bars
}

// GroupByRequest groups an already produced record sequence
func GroupByRequest(records []types.Record) []types.RequestGroup {
	g := NewGrouper()
	for _, r := range records {
		g.Add(r)
	}
	return g.Groups()
}

// Bar is one row of a request timeline
type Bar struct {
	RequestID    string    `json:"request_id"`
	ResourceType string    `json:"resource_type,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	DurationMS   int64     `json:"duration_ms"`
	Count        int       `json:"count"`
}

// Build returns the timeline bars for records, ordered by start time
func Build(records []types.Record) []Bar {
	g := NewGrouper()
	for _, r := range records {
		g.Add(r)
	}
	bars := g.Bars()
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Start.Before(bars[j].Start)
	})
	return bars
}
