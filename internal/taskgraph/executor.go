package taskgraph

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// State is the execution state of one task in a run.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)

// Options configures a run.
type Options struct {
	// Workers bounds concurrently running tasks. Zero means GOMAXPROCS.
	Workers int

	// Logger receives scheduling logs. If nil, slog.Default() is used.
	Logger *slog.Logger

	// OnStart is called before a task body runs.
	OnStart func(name string)

	// OnFinish is called after a task body returns.
	OnFinish func(name string, err error, d time.Duration)
}

// Result is the outcome of a run.
type Result struct {
	// States holds the final state of every task.
	States map[string]State

	// Errors holds the error of every failed task.
	Errors map[string]error

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Failed returns the names of failed tasks in topological order.
func (r *Result) Failed(g *Graph) []string {
	var out []string
	for _, name := range g.order {
		if r.States[name] == StateFailed {
			out = append(out, name)
		}
	}
	return out
}

type run struct {
	g      *Graph
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	remaining map[string]int
	result    *Result
	firstErr  error
	ready     chan string
	wg        sync.WaitGroup
}

// Run executes the graph. It returns the first error from a task that
// is not marked ContinueOnError, or the context error if ctx ends first.
func (g *Graph) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	r := &run{
		g:         g,
		opts:      opts,
		logger:    logger,
		remaining: make(map[string]int, len(g.tasks)),
		result: &Result{
			States: make(map[string]State, len(g.tasks)),
			Errors: make(map[string]error),
		},
		ready: make(chan string, len(g.tasks)),
	}

	for _, t := range g.tasks {
		r.remaining[t.Name] = len(uniq(t.Deps))
		r.result.States[t.Name] = StatePending
	}

	r.wg.Add(len(g.tasks))
	for _, name := range g.order {
		if r.remaining[name] == 0 {
			r.ready <- name
		}
	}

	for i := 0; i < workers; i++ {
		go r.worker(ctx, i)
	}

	r.wg.Wait()
	close(r.ready)

	r.result.Duration = time.Since(start)
	if r.firstErr != nil {
		return r.result, r.firstErr
	}
	if err := ctx.Err(); err != nil {
		return r.result, err
	}
	return r.result, nil
}

func (r *run) worker(ctx context.Context, id int) {
	for name := range r.ready {
		t, _ := r.g.Task(name)

		if err := ctx.Err(); err != nil {
			r.logger.Debug("context done, skipping task", "task", name, "worker", id)
			r.mu.Lock()
			r.result.States[name] = StateSkipped
			r.skipDependents(name)
			r.mu.Unlock()
			r.wg.Done()
			continue
		}

		r.mu.Lock()
		r.result.States[name] = StateRunning
		r.mu.Unlock()

		err := r.execute(ctx, t)

		r.mu.Lock()
		if err != nil {
			r.result.States[name] = StateFailed
			r.result.Errors[name] = err
			if t.ContinueOnError {
				r.logger.Debug("task failed, dependents continue", "task", name, "error", err)
				r.release(name)
			} else {
				r.logger.Error("task failed", "task", name, "error", err)
				if r.firstErr == nil {
					r.firstErr = fmt.Errorf("task %s: %w", name, err)
				}
				r.skipDependents(name)
			}
		} else {
			r.result.States[name] = StateDone
			r.release(name)
		}
		r.mu.Unlock()
		r.wg.Done()
	}
}

// execute runs one task body inside a span, converting panics to errors.
func (r *run) execute(ctx context.Context, t Task) (err error) {
	ctx, span := otel.Tracer("github.com/vango-dev/assetpipe/taskgraph").Start(ctx, "task "+t.Name)
	span.SetAttributes(attribute.String("assetpipe.task", t.Name))
	defer span.End()

	if r.opts.OnStart != nil {
		r.opts.OnStart(t.Name)
	}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if r.opts.OnFinish != nil {
			r.opts.OnFinish(t.Name, err, time.Since(start))
		}
	}()

	return t.Run(ctx)
}

// release unlocks dependents whose last dependency just finished.
// Callers hold r.mu.
func (r *run) release(name string) {
	for _, dep := range r.g.dependents[name] {
		r.remaining[dep]--
		if r.remaining[dep] == 0 && r.result.States[dep] == StatePending {
			r.ready <- dep
		}
	}
}

// skipDependents marks every pending downstream task skipped.
// Callers hold r.mu.
func (r *run) skipDependents(name string) {
	for _, dep := range r.g.dependents[name] {
		if r.result.States[dep] != StatePending {
			continue
		}
		r.logger.Warn("skipping task due to upstream failure", "task", dep, "dependency", name)
		r.result.States[dep] = StateSkipped
		r.wg.Done()
		r.skipDependents(dep)
	}
}
