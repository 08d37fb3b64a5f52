package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/roach88/varkeep/internal/engine"
	"github.com/roach88/varkeep/internal/metrics"
	"github.com/roach88/varkeep/internal/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	MetricsAddr string

	// Ready, if set, is called once the engine is running. Tests use it to
	// learn the metrics listener address.
	Ready func(metricsAddr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine until interrupted",
		Long: `Start the variable engine against the configured database and keep it
running. Dirty values are flushed on the configured interval and once more
on shutdown.

Signals:
  SIGINT, SIGTERM  flush and stop
  SIGHUP           reload definitions

Example:
  varkeep serve --db ./varkeep.db --defs ./variables
  varkeep serve --metrics-addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	cfg, err := opts.settings()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	metricsAddr := cfg.MetricsAddr
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("error flushing traces", "error", err)
		}
	}()

	m := metrics.New()
	sess, err := openSession(ctx, opts.RootOptions,
		engine.WithMetrics(m),
		engine.WithTracer(otel.Tracer(telemetry.ServiceName)),
	)
	if err != nil {
		return err
	}

	var srv *http.Server
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			sess.Close(context.Background())
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		metricsAddr = ln.Addr().String()
		slog.Info("serving metrics", "addr", metricsAddr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	slog.Info("engine started",
		"db", sess.cfg.DBPath,
		"definitions", len(sess.defs),
		"flush_interval", sess.cfg.FlushInterval,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Flushing every", sess.cfg.FlushInterval)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.Ready != nil {
		opts.Ready(metricsAddr)
	}

loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadDefinitions(sess)
				continue
			}
			slog.Info("received signal, shutting down", "signal", sig)
			break loop
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
			break loop
		}
	}

	// The command context may already be cancelled; the final flush needs
	// its own deadline.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if srv != nil {
		if err := srv.Shutdown(stopCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}
	if err := sess.Close(stopCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown flush failed", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// reloadDefinitions swaps in freshly loaded definitions. A failed load or
// validation keeps the running set.
func reloadDefinitions(sess *session) {
	defs, err := LoadDefinitions(sess.cfg.Definitions)
	if err != nil {
		slog.Error("reload failed", "path", sess.cfg.Definitions, "error", err)
		return
	}
	if err := sess.engine.Reload(defs); err != nil {
		slog.Error("reload rejected", "path", sess.cfg.Definitions, "error", err)
		return
	}
	sess.defs = defs
	slog.Info("definitions reloaded", "path", sess.cfg.Definitions, "definitions", len(defs))
}
