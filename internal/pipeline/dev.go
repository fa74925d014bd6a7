package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/dev"
	"github.com/vango-dev/assetpipe/internal/taskgraph"
)

// DevOptions configures the watch phase.
type DevOptions struct {
	// Metrics is served on the dev server's metrics endpoint. Optional.
	Metrics http.Handler

	// ReloadObserver records reload broadcasts. Optional.
	ReloadObserver dev.ReloadObserver

	// OpenBrowser opens the dev URL, with the bound port, once the build
	// finished. It is called only when dev.openBrowser is set.
	OpenBrowser func(url string)
}

// Dev runs clean, the full build, then watches and serves until ctx
// ends. Startup errors (missing source root, port in use, watcher setup)
// are returned before any watch work starts.
func (p *Pipeline) Dev(ctx context.Context, options DevOptions) error {
	if err := p.config.CheckSources(); err != nil {
		return err
	}

	reload := dev.NewReloadServer(dev.ReloadOptions{
		Logger:   p.logger,
		Observer: options.ReloadObserver,
	})
	server := dev.NewServer(dev.ServerOptions{
		Config:  p.config,
		Reload:  reload,
		Metrics: options.Metrics,
		Logger:  p.logger,
	})
	if err := server.Listen(); err != nil {
		return err
	}

	watcher, err := dev.NewWatcher(dev.WatcherConfig{Config: p.config, Logger: p.logger})
	if err != nil {
		server.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	tasks := p.BuildTasks(runID)
	after := make([]string, 0, len(config.Kinds))
	for _, kind := range config.Kinds {
		after = append(after, string(kind))
	}

	tasks = append(tasks,
		taskgraph.Task{
			Name: TaskWatch,
			Deps: after,
			Run: func(ctx context.Context) error {
				d := dev.NewDispatcher(watcher.Events(), dev.DispatcherOptions{
					Run:      p.Rebuild,
					Reloader: reload,
					Logger:   p.logger,
				})
				go d.Run(ctx)

				p.logger.Info("Watching for changes", "delay", p.config.WatchDelay())
				err := watcher.Start(ctx)
				if err != nil {
					cancel()
				}
				return err
			},
		},
		taskgraph.Task{
			Name: TaskServe,
			Deps: after,
			Run: func(ctx context.Context) error {
				if p.config.Dev.OpenBrowser && options.OpenBrowser != nil {
					options.OpenBrowser(server.URL())
				}
				err := server.Serve(ctx)
				if err != nil {
					cancel()
				}
				return err
			},
		},
	)

	g, err := taskgraph.New(tasks...)
	if err != nil {
		watcher.Close()
		server.Stop()
		return err
	}

	// watch and serve block until ctx ends, so every node needs a worker.
	workers := p.workers
	if workers < g.Len() {
		workers = g.Len()
	}
	pp := *p
	pp.workers = workers

	_, err = pp.execute(ctx, "dev", runID, g)

	// watch and serve are skipped when clean fails.
	watcher.Close()
	server.Stop()

	if err == context.Canceled {
		return nil
	}
	return err
}
