package cmd

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/alert"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/cloud"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/collector"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/config"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/evaluator"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/logging"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/metrics"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/recorder"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/store"
)

// app bundles the assembled collaborators behind one construction path so
// every command wires them identically.
type app struct {
	cfg     *config.Config
	log     logr.Logger
	store   *store.Store
	backend *cloud.AutoScalingBackend
	batch   *evaluator.Batch
	emitter *metrics.Emitter
}

// buildApp loads configuration, opens the store, and assembles the
// evaluation pipeline. The returned context carries the logger.
func buildApp(ctx context.Context) (*app, context.Context, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, ctx, err
	}

	log := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
	})
	ctx = logr.NewContext(ctx, log)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, ctx, fmt.Errorf("opening database %q: %w", cfg.DatabasePath, err)
	}

	client := cloud.NewClient(cloud.Credentials{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
	})
	backend := cloud.NewAutoScalingBackend(client)

	router := collector.NewRouter(cloud.NewCloudMonitorSource(client, cfg.Region))
	if cfg.PrometheusURL != "" {
		promSource, err := collector.NewPrometheusSource(cfg.PrometheusURL)
		if err != nil {
			_ = st.Close()
			return nil, ctx, err
		}
		router.Register(promSource)
	}

	emitter := metrics.NewEmitter()

	batch := evaluator.New(
		st, st, st, st,
		recorder.New(st),
		router,
		backend,
		emitter,
		alert.NewNotifier(cfg.AlertWebhookURL),
		evaluator.Options{
			Parallelism: cfg.EvaluationParallelism,
			LeaseTTL:    cfg.LeaseTTL,
			DryRun:      cfg.DryRun,
		},
	)

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		backend: backend,
		batch:   batch,
		emitter: emitter,
	}, ctx, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error(err, "closing database")
	}
}
