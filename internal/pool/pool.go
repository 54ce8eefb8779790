// Package pool recycles the byte buffers used to encode record batches.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// MaxPooledBytes is the largest buffer capacity kept for reuse. Larger
// buffers are dropped so one huge batch does not pin its memory.
const MaxPooledBytes = 4 << 20

var (
	buffers = sync.Pool{
		New: func() any {
			stats.misses.Add(1)
			return new(bytes.Buffer)
		},
	}
	stats counters
)

type counters struct {
	gets      atomic.Uint64
	misses    atomic.Uint64
	puts      atomic.Uint64
	discarded atomic.Uint64
}

// GetBuffer retrieves an empty buffer from the pool
func GetBuffer() *bytes.Buffer {
	stats.gets.Add(1)
	buf := buffers.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool. buf must not be used afterwards.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > MaxPooledBytes {
		stats.discarded.Add(1)
		return
	}
	stats.puts.Add(1)
	buf.Reset()
	buffers.Put(buf)
}

// Stats reports pool usage since process start
type Stats struct {
	Gets      uint64
	Misses    uint64 // buffers allocated because the pool was empty
	Puts      uint64
	Discarded uint64 // buffers too large to keep
}

// GetStats returns current pool statistics
func GetStats() Stats {
	return Stats{
		Gets:      stats.gets.Load(),
		Misses:    stats.misses.Load(),
		Puts:      stats.puts.Load(),
		Discarded: stats.discarded.Load(),
	}
}
