package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/therealutkarshpriyadarshi/tflog/internal/plugin"
	"github.com/therealutkarshpriyadarshi/tflog/internal/security"
	"github.com/therealutkarshpriyadarshi/tflog/internal/shutdown"
)

// DefaultPluginAddress is where plugin serve listens without --address
const DefaultPluginAddress = "127.0.0.1:50051"

func newPluginCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Aggregation plugin commands",
	}

	var address string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bundled error-counting aggregation plugin",
		Long: `Serve the LogProcessor gRPC service with the bundled error counter.
Entries whose message mentions "error" are re-leveled to error and the
reply summary carries error_count and total. With plugin.tls enabled the
listener serves TLS using cert_file and key_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if address == "" {
				address = a.cfg.Plugin.Address
			}
			if address == "" {
				address = DefaultPluginAddress
			}
			return a.runPluginServer(cmd.Context(), address)
		},
	}
	serve.Flags().StringVar(&address, "address", "", "listen address (defaults to plugin.address, then "+DefaultPluginAddress+")")
	cmd.AddCommand(serve)
	return cmd
}

func (a *app) runPluginServer(ctx context.Context, address string) error {
	var opts []grpc.ServerOption
	tlsConfig, err := security.LoadServerTLSConfig(a.cfg.Plugin.TLS)
	if err != nil {
		return fmt.Errorf("plugin tls: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	srv := plugin.NewServer(address, plugin.NewErrorCounter(a.logger), a.logger, opts...)
	mgr := shutdown.New(shutdown.Config{Timeout: a.cfg.Server.ShutdownTimeout, Logger: a.logger})
	mgr.RegisterFunc("plugin-server", srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(lis)
		serveErr <- err
		if err != nil {
			_ = mgr.Shutdown()
		}
	}()

	shutdownErr := mgr.WaitForSignal(ctx)
	return errors.Join(<-serveErr, shutdownErr)
}
