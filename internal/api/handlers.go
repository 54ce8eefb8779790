package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/store"
	"github.com/therealutkarshpriyadarshi/tflog/internal/timeline"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/tflog/internal/viewer"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

var errUploadTooLarge = errors.New("upload exceeds size limit")

// capReader fails once more than max bytes have been read
type capReader struct {
	r        io.Reader
	max      int64
	read     int64
	exceeded bool
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.max {
		c.exceeded = true
		return n, errUploadTooLarge
	}
	return n, err
}

// UploadResponse is returned by the upload route
type UploadResponse struct {
	RunID    string         `json:"run_id"`
	Records  []types.Record `json:"records"`
	Stats    types.RunStats `json:"stats"`
	Degraded bool           `json:"degraded"`
	Reason   string         `json:"reason,omitempty"`
	Summary  map[string]any `json:"summary,omitempty"`
}

// upload normalizes the multipart "file" field, optionally enriches it and
// stores the run.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	// headroom for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()
		s.processUpload(w, r, part.FileName(), part)
		return
	}
}

func (s *Server) processUpload(w http.ResponseWriter, r *http.Request, filename string, body io.Reader) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(s.cfg.AllowedExtensions, ext) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	ctx, span := tracing.TraceRun(r.Context(), s.tracer, filename)
	defer span.End()

	in := &capReader{r: body, max: s.cfg.MaxUploadBytes}
	start := time.Now()
	res, err := s.engine.ProcessReader(ctx, in)
	s.metrics.HTTPUploadBytes.Add(float64(in.read))
	if in.exceeded {
		s.metrics.ObserveRun("upload", res.Stats, time.Since(start), errUploadTooLarge)
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes))
		return
	}
	s.metrics.ObserveRun("upload", res.Stats, time.Since(start), err)
	if err != nil {
		tracing.RecordError(span, err)
		if errors.Is(err, parser.ErrInputUnreadable) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	records := res.Records
	run := store.Run{Source: filename, Stats: res.Stats}
	if s.enrichRequested(r) {
		result := s.plugin.Enrich(ctx, records)
		records = result.Records
		run.Degraded = result.Degraded
		run.Reason = result.Reason
		run.Summary = result.Summary
	}

	run, err = s.runs.SaveRun(ctx, run, records)
	if err != nil {
		tracing.RecordError(span, err)
		s.logger.Error().Err(err).Str("file", filename).Msg("Failed to store run")
		respondError(w, http.StatusInternalServerError, "failed to store run")
		return
	}
	s.metrics.StoredRunsRecords.Set(float64(len(records)))

	s.logger.Info().
		Str("run_id", run.ID).
		Str("file", filename).
		Int("records", len(records)).
		Bool("degraded", run.Degraded).
		Msg("Upload processed")

	if records == nil {
		records = []types.Record{}
	}
	respondJSON(w, http.StatusOK, UploadResponse{
		RunID:    run.ID,
		Records:  records,
		Stats:    res.Stats,
		Degraded: run.Degraded,
		Reason:   run.Reason,
		Summary:  run.Summary,
	})
}

// enrichRequested applies ?plugin= over the configured default
func (s *Server) enrichRequested(r *http.Request) bool {
	if s.plugin == nil || !s.plugin.Enabled() {
		return false
	}
	if v := r.URL.Query().Get("plugin"); v != "" {
		on, err := strconv.ParseBool(v)
		return err == nil && on
	}
	return s.cfg.Enrich()
}

// decodeRecords reads a JSON array of records from the request body
func (s *Server) decodeRecords(w http.ResponseWriter, r *http.Request) ([]types.Record, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	var records []types.Record
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "body too large")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid records: %v", err))
		return nil, false
	}
	return records, true
}

func bars(records []types.Record) []timeline.Bar {
	out := timeline.Build(records)
	if out == nil {
		return []timeline.Bar{}
	}
	return out
}

func (s *Server) gantt(w http.ResponseWriter, r *http.Request) {
	records, ok := s.decodeRecords(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, bars(records))
}

// ExportResponse is returned by the export route
type ExportResponse struct {
	Records    int    `json:"records"`
	Deliveries any    `json:"deliveries"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil || s.exporter.Len() == 0 {
		respondError(w, http.StatusServiceUnavailable, "no outputs configured")
		return
	}
	records, ok := s.decodeRecords(w, r)
	if !ok {
		return
	}

	report, err := s.exporter.Route(r.Context(), records)
	resp := ExportResponse{Records: len(records), Deliveries: report.Deliveries}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	runs, err := s.runs.ListRuns(r.Context(), p.Limit, p.Offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// storeError maps a store failure onto a response
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Error().Err(err).Msg("Store query failed")
	respondError(w, http.StatusInternalServerError, "store query failed")
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// filteredRecords loads a run's records and applies the query filters
func (s *Server) filteredRecords(w http.ResponseWriter, r *http.Request) ([]types.Record, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	records, err := s.runs.Records(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return nil, false
	}
	return viewer.Apply(records, filter), true
}

func (s *Server) runRecords(w http.ResponseWriter, r *http.Request) {
	records, ok := s.filteredRecords(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, paginate(records, parsePagination(r)))
}

func (s *Server) runRecordsMsgpack(w http.ResponseWriter, r *http.Request) {
	records, ok := s.filteredRecords(w, r)
	if !ok {
		return
	}
	p := parsePagination(r)
	page := viewer.Page(records, p.Limit, p.Offset)

	data, err := msgpack.Marshal(types.WireRecords(page))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode msgpack")
		respondError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.Header().Set("X-Total-Count", strconv.Itoa(len(records)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) runGroups(w http.ResponseWriter, r *http.Request) {
	records, err := s.runs.Records(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	top, _ := strconv.Atoi(r.URL.Query().Get("top"))
	respondJSON(w, http.StatusOK, viewer.TopGroups(timeline.GroupByRequest(records), top))
}

func (s *Server) runGantt(w http.ResponseWriter, r *http.Request) {
	records, err := s.runs.Records(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bars(records))
}

// BodyResponse carries one revealed payload
type BodyResponse struct {
	LineNumber int    `json:"lineno"`
	Kind       string `json:"kind"`
	Value      any    `json:"value"`
}

func (s *Server) recordBody(w http.ResponseWriter, r *http.Request) {
	lineno, err := strconv.Atoi(chi.URLParam(r, "lineno"))
	if err != nil || lineno < 1 {
		respondError(w, http.StatusBadRequest, "invalid line number")
		return
	}
	kind := viewer.BodyKind(chi.URLParam(r, "kind"))
	if kind != viewer.BodyRequest && kind != viewer.BodyResponse {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown body kind %q", kind))
		return
	}

	rec, err := s.runs.Record(r.Context(), chi.URLParam(r, "id"), lineno)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.storeError(w, err)
		return
	}

	rec, err = viewer.RevealBody(rec, kind)
	if errors.Is(err, viewer.ErrNoBody) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := rec.RequestBody
	if kind == viewer.BodyResponse {
		body = rec.ResponseBody
	}
	respondJSON(w, http.StatusOK, BodyResponse{LineNumber: lineno, Kind: string(kind), Value: body.Value()})
}
