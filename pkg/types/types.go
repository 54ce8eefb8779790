package types

import (
	"encoding/json"
	"sync"
)

// Phase is the Terraform lifecycle stage a record belongs to
type Phase string

const (
	PhaseNone  Phase = "none"
	PhasePlan  Phase = "plan"
	PhaseApply Phase = "apply"
)

// Transition marks whether a record entered or exited its phase
type Transition string

const (
	TransitionNone    Transition = "none"
	TransitionEntered Transition = "entered"
	TransitionExited  Transition = "exited"
)

// Canonical level values
const (
	LevelFatal   = "fatal"
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
	LevelDebug   = "debug"
	LevelTrace   = "trace"
	LevelUnknown = "unknown"
)

// Levels lists the canonical levels from most to least severe
var Levels = []string{LevelFatal, LevelError, LevelWarning, LevelInfo, LevelDebug, LevelTrace, LevelUnknown}

// Record is one normalized log line
type Record struct {
	LineNumber       int
	Timestamp        string // empty when unset
	TimestampGuessed bool
	Level            string
	LevelGuessed     bool
	Phase            Phase
	Transition       Transition
	Message          string
	RequestID        string
	ResourceType     string
	RequestBody      *Body
	ResponseBody     *Body
	WellFormed       bool
	Raw              string
}

// HasTimestamp reports whether a timestamp was resolved
func (r Record) HasTimestamp() bool {
	return r.Timestamp != ""
}

// Body is a request or response payload that is hidden by default and
// decoded on first access.
type Body struct {
	Hidden bool
	Raw    json.RawMessage
	value  func() any
}

// NewBody wraps a raw payload. decode is invoked at most once.
func NewBody(raw json.RawMessage, decode func(json.RawMessage) any) *Body {
	b := &Body{Hidden: true, Raw: raw}
	b.value = sync.OnceValue(func() any { return decode(raw) })
	return b
}

// Value returns the decoded payload
func (b *Body) Value() any {
	if b == nil {
		return nil
	}
	if b.value == nil {
		return nil
	}
	return b.value()
}

// Reveal returns a visible copy sharing the same decoded value
func (b *Body) Reveal() *Body {
	if b == nil {
		return nil
	}
	return &Body{Hidden: false, Raw: b.Raw, value: b.value}
}

// RequestGroup summarizes the records sharing one request id
type RequestGroup struct {
	RequestID    string `json:"request_id"`
	ResourceType string `json:"resource_type,omitempty"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
	Count        int    `json:"count"`
	Unparsed     int    `json:"unparsed"`
}

// HasSpan reports whether both ends of the group's time span are known
func (g RequestGroup) HasSpan() bool {
	return g.Start != "" && g.End != ""
}

// RunStats tracks counters accumulated over one pass
type RunStats struct {
	TotalLines        int            `json:"total_lines" msgpack:"total_lines"`
	Records           int            `json:"records" msgpack:"records"`
	ParseErrors       int            `json:"parse_errors" msgpack:"parse_errors"`
	GuessedTimestamps int            `json:"guessed_timestamps" msgpack:"guessed_timestamps"`
	GuessedLevels     int            `json:"guessed_levels" msgpack:"guessed_levels"`
	PhaseCounts       map[Phase]int  `json:"phase_counts" msgpack:"phase_counts"`
	LevelCounts       map[string]int `json:"level_counts" msgpack:"level_counts"`
}

// NewRunStats returns zeroed statistics with initialized histograms
func NewRunStats() RunStats {
	return RunStats{
		PhaseCounts: make(map[Phase]int),
		LevelCounts: make(map[string]int),
	}
}

// Clone returns a deep copy
func (s RunStats) Clone() RunStats {
	out := s
	out.PhaseCounts = make(map[Phase]int, len(s.PhaseCounts))
	for k, v := range s.PhaseCounts {
		out.PhaseCounts[k] = v
	}
	out.LevelCounts = make(map[string]int, len(s.LevelCounts))
	for k, v := range s.LevelCounts {
		out.LevelCounts[k] = v
	}
	return out
}
