package dev

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
)

// DispatcherState is the state of the rebuild loop.
type DispatcherState int32

const (
	StateIdle DispatcherState = iota
	StateRebuilding
)

func (s DispatcherState) String() string {
	if s == StateRebuilding {
		return "rebuilding"
	}
	return "idle"
}

// Reloader is the browser side of a rebuild outcome.
type Reloader interface {
	NotifyReload()
	NotifyCSS(file string)
	NotifyError(errMsg string)
	ClearError()
}

// RunFunc runs the task for one asset kind.
type RunFunc func(ctx context.Context, kind config.AssetKind) error

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Run executes the task for a kind. Required.
	Run RunFunc

	// Reloader receives the outcome of each rebuild. If nil, browsers are
	// not notified.
	Reloader Reloader

	// Logger receives rebuild logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Dispatcher drains the event queue and runs one task at a time.
type Dispatcher struct {
	events  <-chan Event
	options DispatcherOptions
	logger  *slog.Logger
	state   atomic.Int32
}

// NewDispatcher creates a dispatcher reading from events.
func NewDispatcher(events <-chan Event, options DispatcherOptions) *Dispatcher {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		events:  events,
		options: options,
		logger:  logger,
	}
}

// State returns the current state.
func (d *Dispatcher) State() DispatcherState {
	return DispatcherState(d.state.Load())
}

// Run handles events until ctx is done or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle runs the task for ev and broadcasts the outcome. A failed task
// shows the error overlay and does not reload.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	d.state.Store(int32(StateRebuilding))
	defer d.state.Store(int32(StateIdle))

	d.logger.Info("Changed", "path", ev.Path, "kind", ev.Kind)

	start := time.Now()
	err := d.run(ctx, ev.Kind)
	if ctx.Err() != nil {
		return err
	}

	r := d.options.Reloader
	if err != nil {
		d.logger.Error("rebuild failed", "kind", ev.Kind, "error", err)
		if r != nil {
			r.NotifyError(errors.Describe(err))
		}
		return err
	}

	d.logger.Info("Rebuilt", "kind", ev.Kind, "duration", time.Since(start).Round(time.Millisecond))
	if r == nil {
		return nil
	}
	r.ClearError()
	if ev.Kind == config.KindStyles {
		r.NotifyCSS(ev.Path)
	} else {
		r.NotifyReload()
	}
	return nil
}

// run calls the task, turning a panic into an error so the loop survives.
func (d *Dispatcher) run(ctx context.Context, kind config.AssetKind) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return d.options.Run(ctx, kind)
}
