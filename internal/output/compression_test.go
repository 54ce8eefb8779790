package output

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

var terraformLines = []byte(strings.Repeat(`{"@level":"debug","@message":"provider.terraform-provider-aws: HTTP Request Sent","tf_req_id":"a1"}`+"\n", 20))

func TestCompressorRoundTrip(t *testing.T) {
	tests := []struct {
		name            string
		compressionType CompressionType
	}{
		{"default", ""},
		{"none", CompressionNone},
		{"gzip", CompressionGzip},
		{"snappy", CompressionSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressor, err := GetCompressor(tt.compressionType)
			if err != nil {
				t.Fatalf("failed to get compressor: %v", err)
			}

			compressed, err := compressor.Compress(terraformLines)
			if err != nil {
				t.Fatalf("compression failed: %v", err)
			}
			if tt.compressionType == CompressionGzip || tt.compressionType == CompressionSnappy {
				if len(compressed) >= len(terraformLines) {
					t.Errorf("repetitive input did not shrink: %d >= %d", len(compressed), len(terraformLines))
				}
			}

			decompressed, err := compressor.Decompress(compressed)
			if err != nil {
				t.Fatalf("decompression failed: %v", err)
			}
			if !bytes.Equal(decompressed, terraformLines) {
				t.Errorf("round trip failed: data mismatch")
			}
		})
	}
}

func TestStreamingWriterRoundTrip(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionGzip, CompressionSnappy} {
		t.Run(string(ct), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(ct, &buf)
			if err != nil {
				t.Fatalf("NewWriter() error = %v", err)
			}
			if _, err := w.Write(terraformLines); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			r, err := NewReader(ct, &buf)
			if err != nil {
				t.Fatalf("NewReader() error = %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if !bytes.Equal(got, terraformLines) {
				t.Errorf("round trip failed: data mismatch")
			}
		})
	}
}

func TestCompressionTypeValidate(t *testing.T) {
	tests := []struct {
		ct      CompressionType
		wantErr bool
		ext     string
	}{
		{"", false, ""},
		{CompressionNone, false, ""},
		{CompressionGzip, false, ".gz"},
		{CompressionSnappy, false, ".sz"},
		{"lz4", true, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.ct), func(t *testing.T) {
			err := tt.ct.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := tt.ct.Extension(); got != tt.ext {
				t.Errorf("Extension() = %q, want %q", got, tt.ext)
			}
			if _, err := GetCompressor(tt.ct); (err != nil) != tt.wantErr {
				t.Errorf("GetCompressor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnappyDecompressRejectsGarbage(t *testing.T) {
	if _, err := (&SnappyCompressor{}).Decompress([]byte("not snappy")); err == nil {
		t.Error("expected error for invalid snappy data")
	}
}
