package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/therealutkarshpriyadarshi/tflog/internal/pool"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// EncodeRecord returns one record as a JSON document, in the full or short form
func EncodeRecord(r types.Record, short bool) ([]byte, error) {
	var v any = r.Wire()
	if short {
		v = r.Short()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %d: %w", r.LineNumber, err)
	}
	return data, nil
}

// EncodeJSONL writes records as newline-delimited JSON
func EncodeJSONL(w io.Writer, records []types.Record, short bool) (int64, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	for _, r := range records {
		data, err := EncodeRecord(r, short)
		if err != nil {
			return 0, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.WriteTo(w)
}
