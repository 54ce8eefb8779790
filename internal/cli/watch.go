package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/tflog/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/tflog/internal/output"
	"github.com/therealutkarshpriyadarshi/tflog/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tailer"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

type watchOptions struct {
	format    string
	fromStart bool
	export    bool
	filter    filterFlags
}

func newWatchCommand(a *app) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Follow a growing Terraform log and print records as they arrive",
		Long: `Follow FILE the way tail -F does and print each normalized record as
soon as its line is complete. Rotation and truncation start a new run
with fresh phase state. When watch.checkpoint_dir is configured, a
restarted watch resumes after the last line it printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.format); err != nil {
				return err
			}
			if opts.format == formatJSON {
				return fmt.Errorf("watch writes one record per line: use jsonl or short")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runWatch(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", formatJSONL, "output format: jsonl or short")
	flags.BoolVar(&opts.fromStart, "from-start", false, "read the existing content before following")
	flags.BoolVar(&opts.export, "export", false, "also route records to the configured outputs in batches")
	opts.filter.bind(cmd)
	return cmd
}

// runWatch returns when ctx is done or the tailer fails. Pending batches are
// flushed before the shutdown hooks run.
func (a *app) runWatch(ctx context.Context, w io.Writer, file string, opts watchOptions) error {
	filter, err := opts.filter.filter()
	if err != nil {
		return err
	}
	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	path, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	watchCfg := a.cfg.Watch
	mgr := shutdown.New(shutdown.Config{Timeout: a.cfg.Server.ShutdownTimeout, Logger: a.logger})

	// The file is always replayed from the top so phase state and line
	// numbers are those of a full pass. skip hides lines already shown.
	skip := 0
	if !opts.fromStart && !watchCfg.FromStart {
		skip = countLines(path)
	}

	var ckpt *checkpoint.Manager
	if watchCfg.CheckpointDir != "" {
		if ckpt, err = checkpoint.NewManager(watchCfg.CheckpointDir, watchCfg.FlushInterval, a.logger); err != nil {
			return err
		}
		if fi, err := os.Stat(path); err == nil {
			if resume := ckpt.ResumeLine(path, checkpoint.FileID(fi)); resume > 0 {
				skip = resume
				a.logger.Info().Str("file", path).Int("line", resume).Msg("Resuming from checkpoint")
			}
		}
		ckpt.Start()
		mgr.RegisterCloser("checkpoint", ckpt.Stop)
	}

	var exp *exporter
	if opts.export {
		if exp, err = a.newExporter(ctx); err != nil {
			return err
		}
		mgr.RegisterCloser("outputs", exp.Close)
	}

	tail, err := tailer.New(path, tailer.Config{
		FromStart:    true,
		PollInterval: watchCfg.PollInterval,
		BufferSize:   watchCfg.BatchSize,
	}, a.logger)
	if err != nil {
		return errors.Join(err, mgr.Shutdown())
	}

	tailErr := make(chan error, 1)
	go func() { tailErr <- tail.Run(ctx) }()

	printer := output.NewJSONLWriter("stdout", w, opts.format == formatShort)
	run := engine.NewRun()
	lineno := 0
	var batch []types.Record

	flush := func(ctx context.Context) {
		if exp == nil || len(batch) == 0 {
			return
		}
		report, err := exp.Route(ctx, batch)
		if err != nil {
			a.logger.Error().Err(err).Int("records", len(batch)).Msg("Failed to route batch")
		} else {
			a.logReport(report)
		}
		// Routed slices may be retained by the dead letter queue
		batch = nil
	}

	ticker := time.NewTicker(watchCfg.FlushInterval)
	defer ticker.Stop()

	lines := tail.Lines()
	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if line.Reset {
				a.logger.Info().Str("file", path).Int("lines", lineno).Msg("File replaced, starting a new run")
				flush(ctx)
				run, lineno, skip = engine.NewRun(), 0, 0
			}
			lineno++
			rec, ok := run.Next(line.Text)
			if ckpt != nil {
				ckpt.Update(path, lineno, line.Inode)
			}
			if !ok || lineno <= skip || !filter.Match(rec) {
				continue
			}
			if err := printer.Write(ctx, []types.Record{rec}); err != nil && ctx.Err() == nil {
				return errors.Join(err, mgr.Shutdown())
			}
			if exp != nil {
				batch = append(batch, rec)
				if len(batch) >= watchCfg.BatchSize {
					flush(ctx)
				}
			}

		case <-ticker.C:
			flush(ctx)
		}
	}

	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	flush(final)
	cancel()

	stats := run.Stats()
	a.logger.Info().
		Str("file", path).
		Int("lines", stats.TotalLines).
		Int("records", stats.Records).
		Int("parse_errors", stats.ParseErrors).
		Msg("Watch stopped")

	return errors.Join(<-tailErr, mgr.Shutdown())
}

// countLines returns the number of complete lines in path, 0 if unreadable
func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	buf := make([]byte, 64*1024)
	for {
		k, err := f.Read(buf)
		n += bytes.Count(buf[:k], []byte{'\n'})
		if err != nil {
			return n
		}
	}
}
