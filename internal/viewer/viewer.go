// Package viewer filters and pages an already normalized record stream.
package viewer

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// ErrNoBody is returned when a record has no payload of the requested kind
var ErrNoBody = errors.New("record has no such body")

// BodyKind selects a record payload
type BodyKind string

const (
	BodyRequest  BodyKind = "request"
	BodyResponse BodyKind = "response"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	RequestID    string        // exact match
	ResourceType string        // case-insensitive substring
	Query        string        // case-insensitive substring over raw text and message
	Levels       []string      // any of
	Phases       []types.Phase // any of
	From         time.Time     // inclusive
	To           time.Time     // inclusive
	WellFormed   *bool
}

// IsZero reports whether the filter matches everything
func (f Filter) IsZero() bool {
	return f.RequestID == "" && f.ResourceType == "" && f.Query == "" &&
		len(f.Levels) == 0 && len(f.Phases) == 0 &&
		f.From.IsZero() && f.To.IsZero() && f.WellFormed == nil
}

// Match reports whether rec passes the filter. When a time bound is set,
// records without a parseable timestamp are excluded.
func (f Filter) Match(rec types.Record) bool {
	if f.RequestID != "" && rec.RequestID != f.RequestID {
		return false
	}
	if f.ResourceType != "" && !containsFold(rec.ResourceType, f.ResourceType) {
		return false
	}
	if f.Query != "" && !containsFold(rec.Raw, f.Query) && !containsFold(rec.Message, f.Query) {
		return false
	}
	if len(f.Levels) > 0 && !slices.Contains(f.Levels, rec.Level) {
		return false
	}
	if len(f.Phases) > 0 && !slices.Contains(f.Phases, rec.Phase) {
		return false
	}
	if f.WellFormed != nil && rec.WellFormed != *f.WellFormed {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := parser.ParseTimestamp(rec.Timestamp)
		if !rec.HasTimestamp() || err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// Apply returns the records that pass the filter, in input order
func Apply(records []types.Record, f Filter) []types.Record {
	if f.IsZero() {
		return records
	}
	out := make([]types.Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// TopGroups returns the n largest groups by member count. Ties keep their
// original order. n <= 0 returns all groups sorted.
func TopGroups(groups []types.RequestGroup, n int) []types.RequestGroup {
	sorted := slices.Clone(groups)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// RevealBody returns a copy of rec with the selected payload made visible
func RevealBody(rec types.Record, kind BodyKind) (types.Record, error) {
	switch kind {
	case BodyRequest:
		if rec.RequestBody == nil {
			return rec, ErrNoBody
		}
		rec.RequestBody = rec.RequestBody.Reveal()
	case BodyResponse:
		if rec.ResponseBody == nil {
			return rec, ErrNoBody
		}
		rec.ResponseBody = rec.ResponseBody.Reveal()
	default:
		return rec, fmt.Errorf("unknown body kind %q", kind)
	}
	return rec, nil
}

// FindLine returns the record for a line number
func FindLine(records []types.Record, lineno int) (types.Record, bool) {
	i, found := sort.Find(len(records), func(i int) int {
		return lineno - records[i].LineNumber
	})
	if !found {
		return types.Record{}, false
	}
	return records[i], true
}

// Page slices items with offset and limit. limit <= 0 means no limit.
func Page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
