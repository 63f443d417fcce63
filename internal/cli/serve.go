package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/TOMATOFGY/oceanbase/internal/api"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen       string        // overrides server.listen
	CompactEvery time.Duration // 0 disables background compaction
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP endpoint",
		Long: `Recover every stream and serve the read-only admin endpoint until
interrupted.

Routes: /health, /metrics (when metrics.enabled), /ls, /ls/{tenant}/{ls},
/ls/{tenant}/{ls}/history and /ls/{tenant}/{ls}/backup.

With --compact-every the durable log is trimmed to storage.keep entries per
stream on that interval.

Examples:
  lsmeta serve
  lsmeta serve --listen 0.0.0.0:9464 --compact-every 10m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default server.listen)")
	cmd.Flags().DurationVar(&opts.CompactEvery, "compact-every", 0, "background compaction interval")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	e, exitErr := openEnv(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
	if exitErr != nil {
		return f.Fail(exitErr)
	}
	defer e.close()

	addr := e.cfg.Server.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", addr), err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serveAdmin(ctx, e, ln, opts.CompactEvery); err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "server error", err))
	}
	return nil
}

// serveAdmin serves the admin router on ln until ctx is cancelled, then
// shuts the server down gracefully.
func serveAdmin(ctx context.Context, e *env, ln net.Listener, compactEvery time.Duration) error {
	var gatherer prometheus.Gatherer
	if e.registry != nil {
		gatherer = e.registry
	}
	srv := &http.Server{
		Handler:           api.NewRouter(e.svc, gatherer, e.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ln)
	}()
	e.logger.Info("admin server listening", "addr", ln.Addr().String())

	var tick <-chan time.Time
	if compactEvery > 0 && e.cfg.Storage.Keep > 0 {
		ticker := time.NewTicker(compactEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("shutdown signal received, stopping admin server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-serverDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			e.logger.Info("admin server stopped")
			return nil

		case err := <-serverDone:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-tick:
			n, err := e.svc.Compact(ctx)
			if err != nil {
				e.logger.Warn("compaction failed", "error", err)
				continue
			}
			e.logger.Debug("compaction done", "trimmed", n)
		}
	}
}
