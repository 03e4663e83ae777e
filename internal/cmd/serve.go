package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation loop",
	Long: `Run evaluation cycles on the configured interval until interrupted,
exposing Prometheus metrics on the configured listen address. The first
cycle waits for the configured initial delay, which staggers replicas that
all start from the same trigger.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, ctx, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := logr.FromContextOrDiscard(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.emitter.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: a.cfg.MetricsListenAddr, Handler: mux}
	go func() {
		log.Info("metrics server listening", "addr", a.cfg.MetricsListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server stopped")
		}
	}()

	if a.cfg.InitialDelay > 0 {
		log.Info("waiting before first cycle", "delay", a.cfg.InitialDelay)
		select {
		case <-time.After(a.cfg.InitialDelay):
		case <-ctx.Done():
		}
	}

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	log.Info("evaluation loop started", "interval", a.cfg.Interval)
	for ctx.Err() == nil {
		cycle(ctx, a)
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "metrics server shutdown")
	}
	return nil
}

func cycle(ctx context.Context, a *app) {
	log := logr.FromContextOrDiscard(ctx)
	start := time.Now()
	results, err := a.batch.Run(ctx)
	if err != nil {
		log.Error(err, "evaluation cycle failed")
		return
	}
	log.Info("evaluation cycle complete", "policies", len(results), "took", time.Since(start))
}
