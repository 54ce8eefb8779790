package parser

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// ParseErrorKey marks an entry synthesized from a line that was not a JSON object
const ParseErrorKey = "_parse_error"

// Entry is the structured form of one log line
type Entry map[string]any

// Extract decodes line as a single JSON object. Anything else, including
// trailing data after the object, yields a synthetic entry holding the line
// as its message and false.
func Extract(line string) (Entry, bool) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return malformed(line), false
	}
	if _, err := dec.Token(); err != io.EOF {
		return malformed(line), false
	}
	return Entry(m), true
}

func malformed(line string) Entry {
	return Entry{"message": line, ParseErrorKey: true}
}

// ParseError reports whether the entry was synthesized from a malformed line
func (e Entry) ParseError() bool {
	v, _ := e[ParseErrorKey].(bool)
	return v
}

// String returns the first non-empty scalar value among keys
func (e Entry) String(keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := e[key]
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
