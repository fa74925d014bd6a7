package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/assetpipe/internal/build"
	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
	"github.com/vango-dev/assetpipe/internal/notify"
	"github.com/vango-dev/assetpipe/internal/taskgraph"
)

// Task names outside the asset kinds.
const (
	TaskClean = "clean"
	TaskWatch = "watch"
	TaskServe = "serve"
)

const tracerName = "github.com/vango-dev/assetpipe/pipeline"

// Builder runs the per-kind tasks. *build.Builder implements it.
type Builder interface {
	Clean() error
	Run(ctx context.Context, kind config.AssetKind) (*build.Result, error)
}

// TaskObserver records task outcomes. *metrics.Collector implements it.
type TaskObserver interface {
	ObserveTask(task string, err error, d time.Duration)
}

// Options configures a Pipeline.
type Options struct {
	// Builder runs the tasks. Required.
	Builder Builder

	// Notifier reports style and script outcomes. If nil, outcomes are
	// only logged.
	Notifier notify.Notifier

	// Observer records task metrics. Optional.
	Observer TaskObserver

	// Logger receives pipeline logs. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Workers bounds concurrent build tasks. Zero means GOMAXPROCS.
	Workers int
}

// Pipeline runs builds for one project.
type Pipeline struct {
	config   *config.Config
	builder  Builder
	notifier notify.Notifier
	observer TaskObserver
	logger   *slog.Logger
	workers  int
}

// Report is the outcome of a full build.
type Report struct {
	// RunID identifies the run in logs.
	RunID string

	// Result holds per-task states and errors.
	Result *taskgraph.Result

	// Failed lists the build tasks that failed, in graph order.
	Failed []string
}

// New creates a pipeline.
func New(cfg *config.Config, options Options) *Pipeline {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := options.Notifier
	if notifier == nil {
		notifier = notify.Log{Logger: logger}
	}
	return &Pipeline{
		config:   cfg,
		builder:  options.Builder,
		notifier: notifier,
		observer: options.Observer,
		logger:   logger,
		workers:  options.Workers,
	}
}

// BuildTasks returns clean followed by one task per asset kind.
func (p *Pipeline) BuildTasks(runID string) []taskgraph.Task {
	tasks := []taskgraph.Task{{
		Name: TaskClean,
		Run: func(ctx context.Context) error {
			return p.builder.Clean()
		},
	}}
	for _, kind := range config.Kinds {
		tasks = append(tasks, taskgraph.Task{
			Name: string(kind),
			Deps: []string{TaskClean},
			Run: func(ctx context.Context) error {
				return p.runKind(ctx, runID, kind)
			},
			ContinueOnError: true,
		})
	}
	return tasks
}

// BuildAll cleans the destination and runs every build task. The error
// is non-nil only when clean fails or ctx ends; failed build tasks are
// listed in the report.
func (p *Pipeline) BuildAll(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	g, err := taskgraph.New(p.BuildTasks(runID)...)
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, "build-all", runID, g)
}

// Rebuild runs the task for one kind without cleaning. The dispatcher
// uses it for watch events.
func (p *Pipeline) Rebuild(ctx context.Context, kind config.AssetKind) error {
	runID := uuid.NewString()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rebuild",
		trace.WithAttributes(
			attribute.String("assetpipe.run_id", runID),
			attribute.String("assetpipe.kind", string(kind)),
		))
	defer span.End()

	start := time.Now()
	err := p.runKind(ctx, runID, kind)
	if p.observer != nil {
		p.observer.ObserveTask(string(kind), err, time.Since(start))
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, name, runID string, g *taskgraph.Graph) (*Report, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("assetpipe.run_id", runID)))
	defer span.End()

	logger := p.logger.With("run_id", runID)
	logger.Debug("running task graph", "tasks", g.Order())

	result, err := g.Run(ctx, taskgraph.Options{
		Workers: p.workers,
		Logger:  logger,
		OnFinish: func(task string, err error, d time.Duration) {
			if p.observer != nil {
				p.observer.ObserveTask(task, err, d)
			}
		},
	})

	report := &Report{RunID: runID, Result: result}
	if result != nil {
		report.Failed = result.Failed(g)
	}
	if err != nil {
		return report, err
	}

	if len(report.Failed) > 0 {
		logger.Warn("build finished with errors", "failed", report.Failed, "duration", result.Duration.Round(time.Millisecond))
	} else {
		logger.Info("build finished", "duration", result.Duration.Round(time.Millisecond))
	}
	return report, nil
}

// runKind runs one build task and reports its outcome. Styles and
// scripts go through the notifier; images and copies are logged.
func (p *Pipeline) runKind(ctx context.Context, runID string, kind config.AssetKind) error {
	logger := p.logger.With("run_id", runID, "task", string(kind))

	result, err := p.builder.Run(ctx, kind)
	if result != nil {
		logger.Info("Built",
			"written", len(result.Written),
			"skipped", len(result.Skipped),
			"duration", result.Duration.Round(time.Millisecond))
	}

	err = codedError(kind, err)

	switch kind {
	case config.KindStyles, config.KindScripts:
		if err != nil {
			p.notifier.Failure(string(kind), err)
		} else {
			p.notifier.Success(string(kind) + " compiled")
		}
	default:
		if err != nil {
			logger.Error("task failed", "error", err)
		}
	}
	return err
}

// kindCodes gives uncoded task errors the code of their kind.
var kindCodes = map[config.AssetKind]string{
	config.KindStyles:  "E110",
	config.KindScripts: "E111",
	config.KindImages:  "E112",
	config.KindMarkup:  "E113",
	config.KindVideo:   "E113",
}

// codedError leaves coded errors (including joins of them) and
// cancellation alone, and wraps anything else in its kind's code.
func codedError(kind config.AssetKind, err error) error {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return err
	}
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return err
	}
	code, ok := kindCodes[kind]
	if !ok {
		return err
	}
	return errors.FromError(err, code)
}
