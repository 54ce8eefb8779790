package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/tflog/internal/api"
	"github.com/therealutkarshpriyadarshi/tflog/internal/dlq"
	"github.com/therealutkarshpriyadarshi/tflog/internal/health"
	"github.com/therealutkarshpriyadarshi/tflog/internal/plugin"
	"github.com/therealutkarshpriyadarshi/tflog/internal/security"
	"github.com/therealutkarshpriyadarshi/tflog/internal/server"
	"github.com/therealutkarshpriyadarshi/tflog/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/tflog/internal/store"
)

type serveOptions struct {
	address string
	store   string
}

func newServeCommand(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the upload, run browsing, timeline and export API together with
health and metrics endpoints. Runs are kept in the configured sqlite
store. SIGINT or SIGTERM stop the server gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.address, "address", "", "listen address (overrides server.address)")
	cmd.Flags().StringVar(&opts.store, "store", "", "sqlite database path (overrides store.path)")
	return cmd
}

func (a *app) runServe(ctx context.Context, opts serveOptions) error {
	cfg := *a.cfg
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if opts.store != "" {
		cfg.Store.Path = opts.store
	}

	tlsConfig, err := security.LoadServerTLSConfig(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("server tls: %w", err)
	}

	mgr := shutdown.New(shutdown.Config{Timeout: cfg.Server.ShutdownTimeout, Logger: a.logger})
	fail := func(err error) error {
		return errors.Join(err, mgr.Shutdown())
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	runs, err := store.Open(cfg.Store.Path, store.WithTracer(a.tracer()))
	if err != nil {
		return err
	}
	mgr.RegisterCloser("store", runs.Close)

	client, err := a.newPlugin(cfg.Plugin.Enabled, "")
	if err != nil {
		return fail(err)
	}
	mgr.RegisterCloser("plugin", client.Close)

	checker := health.NewChecker(cfg.Health.Timeout).WithMetrics(a.metrics)
	checker.Register("store", health.PingCheck(runs.Ping))
	checker.Register("plugin", health.OptionalCheck(client.Check, plugin.ErrDisabled))

	apiOpts := []api.Option{
		api.WithPlugin(client),
		api.WithHealth(checker),
		api.WithMetrics(a.metrics),
		api.WithLogger(a.logger),
		api.WithTracer(a.tracer()),
	}
	if len(cfg.Outputs) > 0 {
		exp, err := a.newExporter(ctx)
		if err != nil {
			return fail(err)
		}
		mgr.RegisterCloser("outputs", exp.Close)
		apiOpts = append(apiOpts, api.WithExporter(exp))
		if exp.dlq != nil {
			checker.Register("dead_letter", deadLetterCheck(exp.dlq))
		}
	}

	srv := server.New(server.Config{
		Name:         "api",
		Address:      cfg.Server.Address,
		Handler:      api.New(cfg.Server, engine, runs, apiOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLS:          tlsConfig,
		Logger:       a.logger,
	})
	if err := srv.Start(); err != nil {
		return fail(err)
	}
	// Registered last so it stops first
	mgr.RegisterComponent(srv)

	a.logger.Info().
		Str("address", srv.Addr().String()).
		Str("store", cfg.Store.Path).
		Bool("tls", tlsConfig != nil).
		Bool("plugin", client.Enabled()).
		Int("outputs", len(cfg.Outputs)).
		Msg("tflog API started")

	serveErr := make(chan error, 1)
	go func() {
		err := <-srv.Err()
		serveErr <- err
		if err != nil {
			_ = mgr.Shutdown()
		}
	}()

	shutdownErr := mgr.WaitForSignal(ctx)
	return errors.Join(<-serveErr, shutdownErr)
}

// deadLetterCheck reports degraded once the queue is more than 80% full
func deadLetterCheck(q *dlq.DeadLetterQueue) health.HealthCheck {
	return health.CheckWithMetadata(func() (health.Status, string, map[string]any) {
		m := q.Metrics()
		meta := map[string]any{
			"batches":  m.CurrentSize,
			"records":  q.RecordCount(),
			"enqueued": m.Enqueued,
			"dropped":  m.Dropped,
		}
		if u := m.Utilization(); u > 80 {
			return health.StatusDegraded, fmt.Sprintf("dead letter queue %.0f%% full", u), meta
		}
		return health.StatusHealthy, "", meta
	})
}
