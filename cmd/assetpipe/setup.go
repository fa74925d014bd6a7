package main

import (
	"log/slog"

	"github.com/vango-dev/assetpipe/internal/build"
	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/metrics"
	"github.com/vango-dev/assetpipe/internal/notify"
	"github.com/vango-dev/assetpipe/internal/pipeline"
)

// project bundles what every command needs.
type project struct {
	config   *config.Config
	builder  *build.Builder
	metrics  *metrics.Collector
	pipeline *pipeline.Pipeline
}

// loadProject reads and validates the config from the working directory,
// then wires the builder, notifier and metrics into a pipeline.
func loadProject() (*project, error) {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		warn("%s", w)
	}

	logger := slog.Default()
	builder := build.New(cfg, build.Options{
		Logger: logger,
		OnProgress: func(step string) {
			logger.Debug(step)
		},
	})

	var notifier notify.Notifier = notify.Log{Logger: logger}
	if cfg.Notify.Desktop {
		notifier = notify.Multi{notifier, notify.NewDesktop(logger)}
	}

	collector := metrics.New()

	return &project{
		config:  cfg,
		builder: builder,
		metrics: collector,
		pipeline: pipeline.New(cfg, pipeline.Options{
			Builder:  builder,
			Notifier: notifier,
			Observer: collector,
			Logger:   logger,
		}),
	}, nil
}

func (p *project) Close() {
	if err := p.builder.Close(); err != nil {
		slog.Debug("closing builder", "error", err)
	}
}
