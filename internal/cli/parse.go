package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/tflog/internal/output"
	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/plugin"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/tflog/internal/viewer"
	"github.com/therealutkarshpriyadarshi/tflog/internal/worker"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

type parseOptions struct {
	format     string
	stats      bool
	plugin     bool
	pluginAddr string
	export     bool
	filter     filterFlags
}

// fileResult is the outcome of one input file
type fileResult struct {
	File     string         `json:"file"`
	Records  []types.Record `json:"records"`
	Stats    types.RunStats `json:"stats"`
	Degraded bool           `json:"degraded,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Summary  map[string]any `json:"summary,omitempty"`
}

func newParseCommand(a *app) *cobra.Command {
	var opts parseOptions
	cmd := &cobra.Command{
		Use:   "parse FILE...",
		Short: "Normalize one or more Terraform log files",
		Long: `Parse each file into normalized records. Files are processed in
parallel and written in argument order. Use - to read standard input.
Lines longer than engine.max_line_bytes (4 MiB by default) are cut at
that size and reported as malformed records.

Examples:
  tflog parse terraform.log
  tflog parse plan.log apply.log --format short --level error,warning
  TF_LOG=json terraform apply 2>&1 | tflog parse - --stats`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runParse(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", formatJSONL, "output format: json, jsonl or short")
	flags.BoolVar(&opts.stats, "stats", false, "write per-file statistics to stderr")
	flags.BoolVar(&opts.plugin, "plugin", false, "enrich records through the aggregation plugin")
	flags.StringVar(&opts.pluginAddr, "plugin-address", "", "aggregation plugin address (overrides the configuration)")
	flags.BoolVar(&opts.export, "export", false, "also route records to the configured outputs")
	opts.filter.bind(cmd)
	return cmd
}

func (a *app) runParse(cmd *cobra.Command, files []string, opts parseOptions) error {
	ctx := cmd.Context()
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	filter, err := opts.filter.filter()
	if err != nil {
		return err
	}
	stdinUses := 0
	for _, f := range files {
		if f == "-" {
			stdinUses++
		}
	}
	if stdinUses > 1 {
		return errors.New("standard input can be read only once")
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	client, err := a.newPlugin(opts.plugin, opts.pluginAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	var exp *exporter
	if opts.export {
		if exp, err = a.newExporter(ctx); err != nil {
			return err
		}
		defer func() {
			if err := exp.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close outputs")
			}
		}()
	}

	stdin := cmd.InOrStdin()
	pool := worker.PoolConfig{
		Name:       "parse",
		NumWorkers: a.cfg.WorkerPool.NumWorkers,
		QueueSize:  a.cfg.WorkerPool.QueueSize,
		JobTimeout: a.cfg.WorkerPool.JobTimeout,
	}
	results, errs := worker.Map(ctx, pool, files, func(ctx context.Context, file string) (fileResult, error) {
		return a.parseFile(ctx, engine, client, stdin, file, filter)
	}, a.metrics)

	var failed []error
	parsed := make([]fileResult, 0, len(results))
	for i, err := range errs {
		if err != nil {
			a.logger.Error().Err(err).Str("file", files[i]).Msg("Failed to parse file")
			failed = append(failed, fmt.Errorf("%s: %w", files[i], err))
			continue
		}
		parsed = append(parsed, results[i])
	}

	if err := writeResults(ctx, cmd.OutOrStdout(), opts.format, parsed); err != nil {
		return err
	}
	if opts.stats {
		if err := writeStats(cmd.ErrOrStderr(), parsed); err != nil {
			return err
		}
	}

	if exp != nil {
		for _, r := range parsed {
			if len(r.Records) == 0 {
				continue
			}
			report, err := exp.Route(ctx, r.Records)
			if err != nil {
				failed = append(failed, fmt.Errorf("export %s: %w", r.File, err))
				continue
			}
			a.logReport(report)
			if err := report.Err(); err != nil {
				failed = append(failed, fmt.Errorf("export %s: %w", r.File, err))
			}
		}
	}

	return errors.Join(failed...)
}

func (a *app) parseFile(ctx context.Context, engine *parser.Engine, client *plugin.Client, stdin io.Reader, file string, filter viewer.Filter) (fileResult, error) {
	ctx, span := tracing.TraceRun(ctx, a.tracer(), file)
	defer span.End()

	start := time.Now()
	var (
		res parser.Result
		err error
	)
	if file == "-" {
		res, err = engine.ProcessReader(ctx, stdin)
	} else {
		res, err = engine.ProcessFile(ctx, file)
	}
	a.metrics.ObserveRun("cli", res.Stats, time.Since(start), err)
	if err != nil {
		tracing.RecordError(span, err)
		return fileResult{}, err
	}

	enriched := client.Enrich(ctx, res.Records)
	records := viewer.Apply(enriched.Records, filter)
	if records == nil {
		records = []types.Record{}
	}

	a.logger.Info().
		Str("file", file).
		Int("lines", res.Stats.TotalLines).
		Int("records", len(res.Records)).
		Int("shown", len(records)).
		Int("parse_errors", res.Stats.ParseErrors).
		Dur("elapsed", time.Since(start)).
		Msg("Parsed file")

	return fileResult{
		File:     file,
		Records:  records,
		Stats:    res.Stats,
		Degraded: enriched.Degraded,
		Reason:   enriched.Reason,
		Summary:  enriched.Summary,
	}, nil
}

func writeResults(ctx context.Context, w io.Writer, format string, results []fileResult) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.NewJSONLWriter("stdout", w, format == formatShort)
	for _, r := range results {
		if err := out.Write(ctx, r.Records); err != nil {
			return err
		}
	}
	return out.Close()
}

// writeStats writes one JSON line per file
func writeStats(w io.Writer, results []fileResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		doc := struct {
			File     string         `json:"file"`
			Stats    types.RunStats `json:"stats"`
			Degraded bool           `json:"degraded,omitempty"`
			Reason   string         `json:"reason,omitempty"`
			Summary  map[string]any `json:"summary,omitempty"`
		}{r.File, r.Stats, r.Degraded, r.Reason, r.Summary}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return nil
}
