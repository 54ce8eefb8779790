package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

var errTrailingData = errors.New("trailing data after JSON value")

// DecodeBody turns a raw body field into a value. Objects and arrays pass
// through. Strings are decoded as JSON, then again with single quotes
// replaced by double quotes, and are otherwise kept as they are. Numbers
// decode as json.Number so large integer ids survive a round trip.
func DecodeBody(raw json.RawMessage) any {
	v, err := decodeJSON(raw)
	if err != nil {
		return string(raw)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	return decodeBodyString(s)
}

func decodeBodyString(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	if v, err := decodeJSON([]byte(trimmed)); err == nil {
		return v
	}
	if repaired := strings.ReplaceAll(trimmed, "'", `"`); repaired != trimmed {
		if v, err := decodeJSON([]byte(repaired)); err == nil {
			return v
		}
	}
	return s
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return v, nil
}

// bodyField wraps the first present key as a hidden, lazily decoded body
func bodyField(entry Entry, keys []string) *types.Body {
	for _, key := range keys {
		v, ok := entry[key]
		if !ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			raw = []byte("null")
		}
		return types.NewBody(raw, DecodeBody)
	}
	return nil
}
