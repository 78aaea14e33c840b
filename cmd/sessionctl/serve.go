package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ggoodman/idp-sessions-go/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background sweeper and expose Prometheus metrics",
	Long: `serve keeps a session manager running against the configured backend so
idle sessions are expired and their logout events published. Metrics are served
on /metrics at IDP_METRICS_ADDR.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
			cfg.MetricsAddr = v
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sink, err := metrics.NewPrometheus(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		rt, err := openRuntime(ctx, cfg, runtimeOptions{background: true, metrics: sink})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			rt.log.InfoContext(ctx, "sessionctl.serve.start",
				slog.String("addr", cfg.MetricsAddr),
				slog.String("backend", cfg.Backend),
				slog.String("partition", rt.mgr.Partition()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.log.WarnContext(ctx, "sessionctl.serve.shutdown_fail", slog.String("err", err.Error()))
		}
		rt.log.InfoContext(ctx, "sessionctl.serve.stop")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("metrics-addr", "", "Listen address for /metrics (overrides IDP_METRICS_ADDR)")
}
