package dev

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
)

// Event is a queued change for one asset kind.
type Event struct {
	// Kind is the asset kind whose task should run.
	Kind config.AssetKind

	// Path is the last changed path, relative to the project.
	Path string

	// Op is the last file operation seen.
	Op fsnotify.Op
}

// Classifier maps paths to asset kinds by glob.
type Classifier struct {
	dir   string
	globs []kindGlob
}

type kindGlob struct {
	kind config.AssetKind
	glob string
}

// NewClassifier creates a classifier with the kinds in config.Kinds order.
func NewClassifier(cfg *config.Config) *Classifier {
	c := &Classifier{dir: cfg.Dir()}
	for _, kind := range config.Kinds {
		c.globs = append(c.globs, kindGlob{kind: kind, glob: cfg.Path(kind).Source})
	}
	return c
}

// Classify returns the first kind whose glob matches p. p may be absolute
// or relative to the project.
func (c *Classifier) Classify(p string) (config.AssetKind, bool) {
	rel := p
	if filepath.IsAbs(p) {
		r, err := filepath.Rel(c.dir, p)
		if err != nil {
			return "", false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)

	for _, g := range c.globs {
		if ok, _ := doublestar.Match(g.glob, rel); ok {
			return g.kind, true
		}
	}
	return "", false
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Config is the project configuration.
	Config *config.Config

	// Delay coalesces bursts of events per kind. Zero uses the config value.
	Delay time.Duration

	// Logger receives watcher logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Watcher monitors the source globs and queues one Event per kind after
// the settle delay.
type Watcher struct {
	config     *config.Config
	classifier *Classifier
	fsw        *fsnotify.Watcher
	delay      time.Duration
	logger     *slog.Logger
	events     chan Event
	done       chan struct{}

	mu      sync.Mutex
	timers  map[config.AssetKind]*time.Timer
	pending map[config.AssetKind]Event
	closed  bool
}

// NewWatcher creates a watcher and registers every directory under the
// glob bases.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.Delay
	if delay == 0 {
		delay = cfg.Config.WatchDelay()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New("E131").Wrap(err)
	}

	w := &Watcher{
		config:     cfg.Config,
		classifier: NewClassifier(cfg.Config),
		fsw:        fsw,
		delay:      delay,
		logger:     logger,
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
		timers:     make(map[config.AssetKind]*time.Timer),
		pending:    make(map[config.AssetKind]Event),
	}

	for _, root := range w.roots() {
		if err := w.addDirsRecursive(root); err != nil {
			fsw.Close()
			return nil, errors.New("E131").WithDetail("Cannot watch " + root).Wrap(err)
		}
	}
	return w, nil
}

// Events returns the event queue.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// roots returns the existing directories covering every glob base.
func (w *Watcher) roots() []string {
	seen := make(map[string]bool)
	var roots []string
	for _, kind := range config.Kinds {
		dir := filepath.Join(w.config.Dir(), filepath.FromSlash(w.config.GlobBase(kind)))
		// A missing base is covered by its nearest existing ancestor;
		// directories created later are added on Create.
		for !isDir(dir) && within(w.config.Dir(), filepath.Dir(dir)) {
			dir = filepath.Dir(dir)
		}
		if !isDir(dir) || seen[dir] {
			continue
		}
		seen[dir] = true
		roots = append(roots, dir)
	}
	return roots
}

func (w *Watcher) addDirsRecursive(root string) error {
	dest := w.config.DestRoot()
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules") {
			return filepath.SkipDir
		}
		if within(dest, p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			if p == root {
				return err
			}
			w.logger.Warn("watch add failed", "dir", p, "error", err)
		}
		return nil
	})
}

// Start processes file events until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops the watcher. Pending coalesced events are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	close(w.done)
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || shouldIgnoreEvent(ev.Name) {
		return
	}

	if ev.Has(fsnotify.Create) && isDir(ev.Name) {
		_ = w.addDirsRecursive(ev.Name)
		return
	}

	kind, ok := w.classifier.Classify(ev.Name)
	if !ok {
		return
	}

	w.logger.Debug("file change detected", "path", w.config.Rel(ev.Name), "op", ev.Op.String(), "kind", kind)
	w.enqueue(Event{Kind: kind, Path: w.config.Rel(ev.Name), Op: ev.Op})
}

// enqueue records ev and (re)arms the kind's settle timer.
func (w *Watcher) enqueue(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending[ev.Kind] = ev

	if t, ok := w.timers[ev.Kind]; ok {
		t.Stop()
	}
	w.timers[ev.Kind] = time.AfterFunc(w.delay, func() {
		w.fire(ev.Kind)
	})
}

// fire moves the pending event for kind onto the queue. The send blocks
// until the dispatcher takes it or the watcher closes.
func (w *Watcher) fire(kind config.AssetKind) {
	w.mu.Lock()
	ev, ok := w.pending[kind]
	delete(w.pending, kind)
	delete(w.timers, kind)
	w.mu.Unlock()

	if !ok {
		return
	}
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// shouldIgnoreEvent is true for hidden, swap and temp files.
func shouldIgnoreEvent(p string) bool {
	base := filepath.Base(p)
	return strings.HasPrefix(base, ".") ||
		strings.HasPrefix(base, "#") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasSuffix(base, ".tmp")
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// within reports whether p is dir or below it.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
