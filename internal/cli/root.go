// Package cli implements the tflog command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/tflog/internal/config"
	"github.com/therealutkarshpriyadarshi/tflog/internal/dlq"
	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
	"github.com/therealutkarshpriyadarshi/tflog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/tflog/internal/output"
	"github.com/therealutkarshpriyadarshi/tflog/internal/parser"
	"github.com/therealutkarshpriyadarshi/tflog/internal/plugin"
	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
)

// Version is reported by --version
var Version = "0.3.0"

// app holds what every subcommand needs once the root command has loaded
// the configuration.
type app struct {
	configPath string
	logLevel   string

	stderr   io.Writer
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.Collector
	tracing  *tracing.Provider
	closeLog func() error
}

// Execute runs the command line with the process arguments
func Execute(ctx context.Context) error {
	return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "tflog",
		Short: "Normalize and correlate Terraform logs",
		Long: `tflog turns Terraform JSON and text logs into normalized records,
tracks the plan and apply phases, and correlates provider requests
into a per-request timeline.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (built-in defaults when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newParseCommand(a),
		newGanttCommand(a),
		newWatchCommand(a),
		newServeCommand(a),
		newPluginCommand(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	a.cfg = cfg

	var w io.Writer = a.stderr
	a.closeLog = func() error { return nil }
	if cfg.Logging.Output != "stderr" {
		if w, a.closeLog, err = logging.OpenOutput(cfg.Logging.Output); err != nil {
			return err
		}
	}
	a.logger = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: w,
	})
	logging.SetGlobal(a.logger)

	a.metrics = metrics.NewCollector()

	a.tracing, err = tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}

func (a *app) tracer() trace.Tracer {
	if a.tracing == nil {
		return tracing.NoopTracer()
	}
	return a.tracing.Tracer()
}

func (a *app) newEngine() (*parser.Engine, error) {
	engine, err := parser.New(a.cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, nil
}

// newPlugin returns a plugin client. address overrides the configured
// address; enabled false yields a client that skips every call.
func (a *app) newPlugin(enabled bool, address string) (*plugin.Client, error) {
	cfg := a.cfg.Plugin
	cfg.Enabled = enabled
	if address != "" {
		cfg.Address = address
	}
	return plugin.NewClient(cfg,
		plugin.WithLogger(a.logger),
		plugin.WithMetrics(a.metrics),
		plugin.WithTracer(a.tracer()),
	)
}

// exporter is the output router together with its dead letter queue
type exporter struct {
	*output.Router
	dlq *dlq.DeadLetterQueue
}

// newExporter builds a router over the configured outputs
func (a *app) newExporter(ctx context.Context) (*exporter, error) {
	if len(a.cfg.Outputs) == 0 {
		return nil, errors.New("no outputs configured")
	}

	opts := []output.RouterOption{
		output.WithRouterLogger(a.logger),
		output.WithRouterMetrics(a.metrics),
		output.WithRouterTracer(a.tracer()),
	}
	var queue *dlq.DeadLetterQueue
	if a.cfg.DeadLetter.Enabled {
		q, err := dlq.NewDeadLetterQueue(a.cfg.DeadLetter)
		if err != nil {
			return nil, err
		}
		queue = q
		a.metrics.DLQSize.Set(float64(q.Size()))
		opts = append(opts, output.WithDeadLetter(q))
	}

	e := &exporter{Router: output.NewRouter(a.cfg.Router, opts...), dlq: queue}
	for _, oc := range a.cfg.Outputs {
		out, err := output.New(ctx, oc)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("output %s: %w", oc.Name, err), e.Close())
		}
		e.AddOutput(out)
	}
	return e, nil
}

// Close closes every output, then the dead letter queue
func (e *exporter) Close() error {
	err := e.Router.Close()
	if e.dlq != nil {
		err = errors.Join(err, e.dlq.Close())
	}
	return err
}

func (a *app) logReport(report output.Report) {
	for _, d := range report.Deliveries {
		ev := a.logger.Debug()
		if d.Error != "" {
			ev = a.logger.Warn().Str("error", d.Error).Bool("dead_lettered", d.DeadLettered)
		}
		ev.Str("output", d.Output).Int("records", d.Records).Bool("skipped", d.Skipped).Msg("Delivered batch")
	}
}
