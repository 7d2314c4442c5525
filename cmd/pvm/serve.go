package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpAdapter "github.com/aretw0/pvm/pkg/adapters/http"
	"github.com/aretw0/pvm/pkg/observability"
	"github.com/aretw0/pvm/pkg/persistence/middleware"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics, health and instance inspection over HTTP",
	Long: `Opens the configured store and serves /health, /info, /metrics and a
read-only view of stored instances until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Metrics.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := observability.NewMetrics(reg)
		if err != nil {
			return err
		}
		hooks := observability.Combine(metrics.Hooks(), observability.LoggingHooks(logger))

		ctx := cmd.Context()
		eng, cleanup, err := openEngine(ctx, hooks)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := []httpAdapter.Option{httpAdapter.WithGatherer(reg), httpAdapter.WithLogger(logger)}
		if p, ok := eng.Store().(httpAdapter.Pinger); ok {
			opts = append(opts, httpAdapter.WithPinger(p))
		}
		if len(cfg.Security.Redact) > 0 {
			redactor, err := middleware.NewRedactor(cfg.Security.Redact)
			if err != nil {
				return err
			}
			opts = append(opts, httpAdapter.WithRedactor(redactor))
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           httpAdapter.NewHandler(eng, opts...),
			ReadHeaderTimeout: 5 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("pvm server listening", "addr", srv.Addr, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-shutdown:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
				return srv.Close()
			}
			logger.Info("pvm server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (defaults to metrics.addr)")
}
