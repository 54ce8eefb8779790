package types

import (
	"encoding/json"
	"fmt"
)

// WireBody is the exchanged form of a Body
type WireBody struct {
	Hidden bool `json:"hidden" msgpack:"hidden"`
	Value  any  `json:"value" msgpack:"value"`
}

// WireRecord is the exchanged form of a Record. Unset optional values are
// encoded as null.
type WireRecord struct {
	LineNumber       int       `json:"lineno" msgpack:"lineno"`
	Timestamp        *string   `json:"timestamp" msgpack:"timestamp"`
	TimestampGuessed bool      `json:"timestamp_guessed" msgpack:"timestamp_guessed"`
	Level            string    `json:"level" msgpack:"level"`
	LevelGuessed     bool      `json:"level_guessed" msgpack:"level_guessed"`
	Section          *string   `json:"section" msgpack:"section"`
	SectionStart     bool      `json:"section_start" msgpack:"section_start"`
	SectionEnd       bool      `json:"section_end" msgpack:"section_end"`
	Message          string    `json:"message" msgpack:"message"`
	RequestID        *string   `json:"request_id" msgpack:"request_id"`
	ResourceType     string    `json:"resource_type,omitempty" msgpack:"resource_type,omitempty"`
	RequestBody      *WireBody `json:"request_body,omitempty" msgpack:"request_body,omitempty"`
	ResponseBody     *WireBody `json:"response_body,omitempty" msgpack:"response_body,omitempty"`
	WellFormed       bool      `json:"well_formed" msgpack:"well_formed"`
	Raw              string    `json:"raw" msgpack:"raw"`
}

// Wire converts the record to its exchanged form. Body values are decoded
// here if they have not been already.
func (r Record) Wire() WireRecord {
	w := WireRecord{
		LineNumber:       r.LineNumber,
		TimestampGuessed: r.TimestampGuessed,
		Level:            r.Level,
		LevelGuessed:     r.LevelGuessed,
		SectionStart:     r.Transition == TransitionEntered,
		SectionEnd:       r.Transition == TransitionExited,
		Message:          r.Message,
		ResourceType:     r.ResourceType,
		WellFormed:       r.WellFormed,
		Raw:              r.Raw,
	}
	w.Timestamp = optional(r.Timestamp)
	w.Section = r.section()
	w.RequestID = optional(r.RequestID)
	w.RequestBody = wireBody(r.RequestBody)
	w.ResponseBody = wireBody(r.ResponseBody)
	return w
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r Record) section() *string {
	if r.Phase == PhaseNone {
		return nil
	}
	return optional(string(r.Phase))
}

func wireBody(b *Body) *WireBody {
	if b == nil {
		return nil
	}
	return &WireBody{Hidden: b.Hidden, Value: b.Value()}
}

// Record converts the exchanged form back into a Record
func (w WireRecord) Record() (Record, error) {
	r := Record{
		LineNumber:       w.LineNumber,
		TimestampGuessed: w.TimestampGuessed,
		Level:            w.Level,
		LevelGuessed:     w.LevelGuessed,
		Phase:            PhaseNone,
		Transition:       TransitionNone,
		Message:          w.Message,
		ResourceType:     w.ResourceType,
		WellFormed:       w.WellFormed,
		Raw:              w.Raw,
	}
	if w.Timestamp != nil {
		r.Timestamp = *w.Timestamp
	}
	if w.Section != nil {
		switch Phase(*w.Section) {
		case PhasePlan, PhaseApply, PhaseNone:
			r.Phase = Phase(*w.Section)
		default:
			return Record{}, fmt.Errorf("unknown section %q", *w.Section)
		}
	}
	switch {
	case w.SectionStart:
		r.Transition = TransitionEntered
	case w.SectionEnd:
		r.Transition = TransitionExited
	}
	if w.RequestID != nil {
		r.RequestID = *w.RequestID
	}

	var err error
	if r.RequestBody, err = bodyFromWire(w.RequestBody); err != nil {
		return Record{}, fmt.Errorf("request_body: %w", err)
	}
	if r.ResponseBody, err = bodyFromWire(w.ResponseBody); err != nil {
		return Record{}, fmt.Errorf("response_body: %w", err)
	}
	return r, nil
}

func bodyFromWire(w *WireBody) (*Body, error) {
	if w == nil {
		return nil, nil
	}
	raw, err := json.Marshal(w.Value)
	if err != nil {
		return nil, err
	}
	value := w.Value
	b := NewBody(raw, func(json.RawMessage) any { return value })
	b.Hidden = w.Hidden
	return b, nil
}

// MarshalJSON encodes the record using its wire field names
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Wire())
}

// UnmarshalJSON decodes a record from its wire form
func (r *Record) UnmarshalJSON(data []byte) error {
	var w WireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	rec, err := w.Record()
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// WireRecords converts a batch to its exchanged form
func WireRecords(records []Record) []WireRecord {
	out := make([]WireRecord, len(records))
	for i, r := range records {
		out[i] = r.Wire()
	}
	return out
}

// ShortMessageLimit caps the message length in the short form, in runes
const ShortMessageLimit = 300

// ShortRecord is the compact export form: bodies are reduced to presence
// flags and the message is truncated.
type ShortRecord struct {
	LineNumber      int     `json:"lineno" msgpack:"lineno"`
	Timestamp       *string `json:"timestamp" msgpack:"timestamp"`
	Level           string  `json:"level" msgpack:"level"`
	Section         *string `json:"section" msgpack:"section"`
	Message         string  `json:"message" msgpack:"message"`
	RequestID       *string `json:"request_id" msgpack:"request_id"`
	HasRequestBody  bool    `json:"has_request_body" msgpack:"has_request_body"`
	HasResponseBody bool    `json:"has_response_body" msgpack:"has_response_body"`
}

// Short converts the record to its compact form
func (r Record) Short() ShortRecord {
	msg := r.Message
	if runes := []rune(msg); len(runes) > ShortMessageLimit {
		msg = string(runes[:ShortMessageLimit])
	}
	return ShortRecord{
		LineNumber:      r.LineNumber,
		Timestamp:       optional(r.Timestamp),
		Level:           r.Level,
		Section:         r.section(),
		Message:         msg,
		RequestID:       optional(r.RequestID),
		HasRequestBody:  r.RequestBody != nil,
		HasResponseBody: r.ResponseBody != nil,
	}
}
