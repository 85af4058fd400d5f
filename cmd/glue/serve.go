package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/banshee-data/permafrost.glue/internal/api"
	"github.com/banshee-data/permafrost.glue/internal/db"
	"github.com/banshee-data/permafrost.glue/internal/monitoring"
)

func newServeCmd() *cobra.Command {
	var (
		dbPath    string
		listen    string
		reportDir string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse stored batches over HTTP",
		Long: `Serves the batch store read-only:

  GET /api/batches                      batches, newest first
  GET /api/batches/{id}                 one batch with its samples
  GET /api/batches/{id}/curves          sensitivity curves
  GET /batches/{id}/sensitivity.html    interactive sensitivity page
  GET /batches/{id}/samples.csv         sample table
  GET /reports/...                      files under --reports
  GET /metrics                          Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := monitoring.NewZapLogger(verbose)
			if err != nil {
				return err
			}
			restore := monitoring.UseZap(logger)
			defer restore()

			store, err := db.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())

			mux := api.NewServer(store, reportDir).ServeMux()
			mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			server := &http.Server{
				Addr:              listen,
				Handler:           api.LoggingMiddleware(mux),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errc <- err
				}
				close(errc)
			}()
			monitoring.Logf("serving %s on %s", dbPath, listen)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			monitoring.Logf("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("HTTP server shutdown error: %v", err)
				return server.Close()
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&dbPath, "db", "out/glue.db", "SQLite database written by glue run")
	fl.StringVar(&listen, "listen", ":8080", "listen address")
	fl.StringVar(&reportDir, "reports", "", "report directory to expose under /reports/")
	fl.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}
