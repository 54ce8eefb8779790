// Command loadtest appends synthetic Terraform runs to a log file at a fixed
// line rate. Point `tflog watch` at the file to load the follow path, or pass
// -parse to measure the engine in-process.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/synth"
)

var (
	outPath        = flag.String("out", "-", "Log file to append to, - for stdout")
	targetRate     = flag.Int("rate", 10000, "Target lines per second")
	duration       = flag.Int("duration", 60, "Test duration in seconds")
	requests       = flag.Int("requests", 50, "Provider requests per phase of each run")
	errorRate      = flag.Float64("error-rate", 0.05, "Share of requests followed by an error line")
	bodyBytes      = flag.Int("body-bytes", 256, "Approximate size of request and response bodies")
	seed           = flag.Int64("seed", 1, "Generator seed")
	parse          = flag.Bool("parse", false, "Also run every line through the engine")
	reportInterval = flag.Int("interval", 5, "Report interval in seconds")
)

// Stats tracks load test statistics
type Stats struct {
	linesWritten uint64
	runs         uint64
	records      uint64
	parseErrors  uint64
	startTime    time.Time
}

func (s *Stats) Report(logger *logging.Logger) {
	elapsed := time.Since(s.startTime).Seconds()
	written := atomic.LoadUint64(&s.linesWritten)
	records := atomic.LoadUint64(&s.records)

	logger.Info().
		Float64("elapsed_seconds", elapsed).
		Uint64("lines", written).
		Float64("lines_per_second", float64(written)/elapsed).
		Uint64("runs", atomic.LoadUint64(&s.runs)).
		Uint64("records", records).
		Float64("records_per_second", float64(records)/elapsed).
		Uint64("parse_errors", atomic.LoadUint64(&s.parseErrors)).
		Msg("Load test statistics")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	})

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	if *targetRate <= 0 {
		return fmt.Errorf("rate must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(*duration)*time.Second)
	defer cancel()

	var out io.Writer = os.Stdout
	if *outPath != "-" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	var engine *parser.Engine
	if *parse {
		var err error
		if engine, err = parser.New(parser.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}
	}

	gen := synth.New(synth.Config{
		Requests:  *requests,
		ErrorRate: *errorRate,
		BodyBytes: *bodyBytes,
		Seed:      *seed,
		Start:     time.Now().UTC(),
	})

	logger.Info().
		Str("out", *outPath).
		Int("rate", *targetRate).
		Int("duration_seconds", *duration).
		Int("lines_per_run", gen.LinesPerRun()).
		Bool("parse", *parse).
		Msg("Starting load test")

	stats := &Stats{startTime: time.Now()}

	report := time.NewTicker(time.Duration(*reportInterval) * time.Second)
	defer report.Stop()

	// Lines are written in slices of 10ms worth of the target rate
	const tick = 10 * time.Millisecond
	perTick := max(1, *targetRate/int(time.Second/tick))
	pace := time.NewTicker(tick)
	defer pace.Stop()

	var pending []string
	var current *parser.Run
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Load test finished")
			stats.Report(logger)
			return nil

		case <-report.C:
			stats.Report(logger)

		case <-pace.C:
			for i := 0; i < perTick; i++ {
				if len(pending) == 0 {
					pending = gen.Run()
					atomic.AddUint64(&stats.runs, 1)
					if engine != nil {
						current = engine.NewRun()
					}
				}
				line := pending[0]
				pending = pending[1:]

				if _, err := w.WriteString(line + "\n"); err != nil {
					return fmt.Errorf("failed to write: %w", err)
				}
				atomic.AddUint64(&stats.linesWritten, 1)

				if current != nil {
					rec, ok := current.Next(line)
					switch {
					case !ok:
					case !rec.WellFormed:
						atomic.AddUint64(&stats.parseErrors, 1)
					default:
						atomic.AddUint64(&stats.records, 1)
					}
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush: %w", err)
			}
		}
	}
}
