package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/banshee-data/permafrost.glue/internal/analysis"
	"github.com/banshee-data/permafrost.glue/internal/config"
	"github.com/banshee-data/permafrost.glue/internal/monitoring"
)

type runFlags struct {
	configPath  string
	verbose     bool
	metricsAddr string
	samples     int
	seed        uint64
	workers     int
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sensitivity analysis described by a YAML file",
		Long: `Runs every sample of the analysis, evaluates the sensitivity curves,
stores the batch when output.database is set and writes the configured
reports. Interrupting the run stops scheduling new samples; samples
already running are cancelled and the partial batch is discarded.

Example:
  glue run --config config/ttop.example.yaml --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", config.DefaultConfigPath, "analysis YAML file")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	fl.IntVar(&f.samples, "samples", 0, "override the number of samples")
	fl.Uint64Var(&f.seed, "seed", 0, "override the sampling seed")
	fl.IntVar(&f.workers, "workers", 0, "override the worker count")
	return cmd
}

func runAnalysis(cmd *cobra.Command, f *runFlags) error {
	logger, err := monitoring.NewZapLogger(f.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	restore := monitoring.UseZap(logger)
	defer restore()

	cfg, err := config.LoadAnalysisConfig(f.configPath)
	if err != nil {
		return err
	}
	fl := cmd.Flags()
	if fl.Changed("samples") {
		cfg.Samples = &f.samples
	}
	if fl.Changed("seed") {
		cfg.Seed = &f.seed
	}
	if fl.Changed("workers") {
		cfg.Workers = &f.workers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := monitoring.NewRunMetrics(reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.metricsAddr != "" {
		shutdown := serveMetrics(f.metricsAddr, reg)
		defer shutdown()
	}

	out, err := analysis.Run(ctx, cfg, analysis.Options{Metrics: metrics})
	if out != nil && out.Batch != nil {
		printOutcome(cmd.OutOrStdout(), cfg, out)
	}
	if errors.Is(err, context.Canceled) {
		return errors.New("analysis interrupted")
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("metrics server: %v", err)
		}
	}()
	monitoring.Logf("serving metrics on %s/metrics", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("metrics server shutdown error: %v", err)
			_ = server.Close()
		}
	}
}

func printOutcome(w io.Writer, cfg *config.AnalysisConfig, out *analysis.Outcome) {
	b := out.Batch
	fmt.Fprintf(w, "batch %s (%s): %d samples, %d missing, %s\n",
		b.ID, cfg.GetBackend(), b.Samples.Len(), b.Missing(), b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond))
	for _, fail := range b.Failures {
		fmt.Fprintf(w, "  %s\n", fail)
	}
	if out.Evaluation != nil {
		writeCurves(w, out.Evaluation.Curves)
	}
	if len(out.Reports) > 0 {
		fmt.Fprintln(w, "reports:")
		for _, p := range out.Reports {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}
