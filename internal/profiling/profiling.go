// Package profiling exposes runtime diagnostics over HTTP.
package profiling

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Stats is a snapshot of the Go runtime
type Stats struct {
	Goroutines      int        `json:"goroutines"`
	CPUs            int        `json:"cpus"`
	GOMAXPROCS      int        `json:"gomaxprocs"`
	AllocBytes      uint64     `json:"alloc_bytes"`
	TotalAllocBytes uint64     `json:"total_alloc_bytes"`
	SysBytes        uint64     `json:"sys_bytes"`
	HeapInuseBytes  uint64     `json:"heap_inuse_bytes"`
	HeapObjects     uint64     `json:"heap_objects"`
	NumGC           uint32     `json:"num_gc"`
	PauseTotal      string     `json:"pause_total"`
	LastGC          *time.Time `json:"last_gc,omitempty"`
}

// ReadStats collects runtime statistics
func ReadStats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Stats{
		Goroutines:      runtime.NumGoroutine(),
		CPUs:            runtime.NumCPU(),
		GOMAXPROCS:      runtime.GOMAXPROCS(0),
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		HeapInuseBytes:  m.HeapInuse,
		HeapObjects:     m.HeapObjects,
		NumGC:           m.NumGC,
		PauseTotal:      time.Duration(m.PauseTotalNs).String(),
	}
	if m.NumGC > 0 {
		last := time.Unix(0, int64(m.LastGC)).UTC()
		s.LastGC = &last
	}
	return s
}

// Handler serves pprof under /pprof, expvar under /vars, runtime stats on
// GET /stats and a forced collection on POST /gc. Mount it under /debug.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/stats", statsHandler)
	r.Post("/gc", gcHandler)
	r.Mount("/", middleware.Profiler())
	return r
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ReadStats())
}

func gcHandler(w http.ResponseWriter, r *http.Request) {
	before := ReadStats()
	runtime.GC()
	after := ReadStats()

	var freed uint64
	if before.AllocBytes > after.AllocBytes {
		freed = before.AllocBytes - after.AllocBytes
	}
	writeJSON(w, map[string]uint64{
		"before_bytes": before.AllocBytes,
		"after_bytes":  after.AllocBytes,
		"freed_bytes":  freed,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
