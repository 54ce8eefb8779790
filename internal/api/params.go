package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/viewer"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Pagination holds limit and offset from the query string
type Pagination struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps one page with its position in the full result
type PaginatedResponse struct {
	Data    any  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// parsePagination reads limit and offset. Invalid values fall back to the
// defaults and limit is capped.
func parsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: defaultLimit}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		p.Limit = min(v, maxLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		p.Offset = v
	}
	return p
}

func paginate[T any](items []T, p Pagination) PaginatedResponse {
	page := viewer.Page(items, p.Limit, p.Offset)
	return PaginatedResponse{
		Data:    page,
		Total:   len(items),
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(page) < len(items),
	}
}

// listParam collects a repeated or comma-separated query parameter
func listParam(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, strings.ToLower(part))
			}
		}
	}
	return out
}

// parseFilter builds a viewer filter from query parameters
func parseFilter(r *http.Request) (viewer.Filter, error) {
	q := r.URL.Query()
	f := viewer.Filter{
		RequestID:    q.Get("request_id"),
		ResourceType: q.Get("resource_type"),
		Query:        q.Get("q"),
	}

	for _, level := range listParam(r, "level") {
		if !parser.IsLevel(level) {
			return f, fmt.Errorf("unknown level %q", level)
		}
		f.Levels = append(f.Levels, level)
	}

	for _, phase := range listParam(r, "phase") {
		switch p := types.Phase(phase); p {
		case types.PhasePlan, types.PhaseApply, types.PhaseNone:
			f.Phases = append(f.Phases, p)
		default:
			return f, fmt.Errorf("unknown phase %q", phase)
		}
	}

	if v := q.Get("from"); v != "" {
		ts, err := parser.ParseTimestamp(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := parser.ParseTimestamp(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.To = ts
	}

	if v := q.Get("well_formed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("well_formed: %w", err)
		}
		f.WellFormed = &b
	}
	return f, nil
}
