package parser

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// ErrInputUnreadable is returned when a line source cannot be read or decoded
var ErrInputUnreadable = errors.New("input unreadable")

// Engine normalizes Terraform log lines. An Engine is immutable and safe for
// concurrent use; each input gets its own Run.
type Engine struct {
	cfg     Config
	builder *Builder
	phases  *PhaseRules
}

// New creates an engine from cfg. Empty tables fall back to DefaultConfig.
func New(cfg Config) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	pattern, err := regexp.Compile(cfg.TimestampPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp pattern: %w", err)
	}

	return &Engine{
		cfg: cfg,
		builder: &Builder{
			cfg:        cfg,
			timestamps: NewTimestampResolver(cfg.TimestampKeys, pattern),
			levels:     NewLevelResolver(cfg.LevelKeys, cfg.LevelKeywords, cfg.DefaultLevel),
		},
		phases: NewPhaseRules(cfg.Phases),
	}, nil
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Run is one sequential pass over an input. Runs are not safe for concurrent use.
type Run struct {
	builder *Builder
	tracker *PhaseTracker
	stats   *Aggregator
	lineno  int
}

// NewRun starts a pass with fresh phase state and statistics
func (e *Engine) NewRun() *Run {
	return &Run{
		builder: e.builder,
		tracker: NewPhaseTracker(e.phases),
		stats:   NewAggregator(),
	}
}

// Next consumes the next physical line. Blank lines advance the line number
// but produce no record, in which case ok is false.
func (r *Run) Next(line string) (rec types.Record, ok bool) {
	r.lineno++
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		r.stats.Skip(r.lineno)
		return types.Record{}, false
	}
	rec = r.builder.Build(r.lineno, trimmed, r.tracker)
	r.stats.Add(rec)
	return rec, true
}

// Stats returns the statistics accumulated so far
func (r *Run) Stats() types.RunStats {
	return r.stats.Snapshot()
}

// Process runs lines through a fresh Run and returns every record
func (e *Engine) Process(lines iter.Seq[string]) ([]types.Record, types.RunStats) {
	run := e.NewRun()
	var records []types.Record
	for line := range lines {
		if rec, ok := run.Next(line); ok {
			records = append(records, rec)
		}
	}
	return records, run.Stats()
}

// Result is the output of a pass over a reader
type Result struct {
	Records []types.Record
	Stats   types.RunStats
}

// ProcessReader reads r line by line. A line longer than MaxLineBytes is cut
// at that size and the rest of it discarded, which normally leaves a malformed
// record. A read failure or invalid UTF-8 ends the run with ErrInputUnreadable.
// Cancelling ctx stops the pass and returns the records produced so far along
// with ctx.Err().
func (e *Engine) ProcessReader(ctx context.Context, r io.Reader) (Result, error) {
	reader := bufio.NewReaderSize(r, min(64*1024, e.cfg.MaxLineBytes))

	run := e.NewRun()
	var records []types.Record
	partial := func() Result {
		return Result{Records: records, Stats: run.Stats()}
	}

	for {
		if err := ctx.Err(); err != nil {
			return partial(), err
		}
		line, err := readLine(reader, e.cfg.MaxLineBytes)
		if errors.Is(err, io.EOF) {
			return partial(), nil
		}
		if err != nil {
			return partial(), fmt.Errorf("%w: %v", ErrInputUnreadable, err)
		}
		if !utf8.Valid(line) {
			return partial(), fmt.Errorf("%w: line %d is not valid UTF-8", ErrInputUnreadable, run.lineno+1)
		}
		if rec, ok := run.Next(string(line)); ok {
			records = append(records, rec)
		}
	}
}

// readLine returns the next line without its terminator, keeping at most limit
// bytes. io.EOF is only returned once no bytes are left.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	n := 0
	for {
		chunk, err := r.ReadSlice('\n')
		more := errors.Is(err, bufio.ErrBufferFull)
		if err != nil && !more && !(errors.Is(err, io.EOF) && n+len(chunk) > 0) {
			return nil, err
		}
		if !more {
			chunk = bytes.TrimSuffix(chunk, []byte{'\n'})
		}
		n += len(chunk)
		if room := limit - len(line); room > 0 {
			line = append(line, chunk[:min(room, len(chunk))]...)
		}
		if more {
			continue
		}
		if n > limit {
			return trimPartialRune(line), nil
		}
		return bytes.TrimSuffix(line, []byte{'\r'}), nil
	}
}

// trimPartialRune drops a multi-byte character split by truncation
func trimPartialRune(b []byte) []byte {
	i := len(b) - 1
	for i > 0 && len(b)-i < utf8.UTFMax && !utf8.RuneStart(b[i]) {
		i--
	}
	if i >= 0 && !utf8.FullRune(b[i:]) {
		return b[:i]
	}
	return b
}

// ProcessFile opens path and processes it with ProcessReader
func (e *Engine) ProcessFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	defer f.Close()
	return e.ProcessReader(ctx, f)
}
