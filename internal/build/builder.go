package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/imagemin"
	"github.com/vango-dev/assetpipe/internal/sass"
)

// Result describes one task run.
type Result struct {
	// Kind is the asset kind the task built.
	Kind config.AssetKind

	// Written lists outputs written, relative to the project.
	Written []string

	// Skipped lists sources skipped because their output was current.
	Skipped []string

	// Duration is how long the task took.
	Duration time.Duration
}

// StyleCompiler compiles one Sass entry file to CSS.
type StyleCompiler interface {
	Compile(ctx context.Context, req sass.Request) (sass.Result, error)
}

// Options configures the builder.
type Options struct {
	// Logger receives task logs. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Styles compiles Sass. If nil, a Dart Sass compiler is used.
	Styles StyleCompiler

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Builder runs asset tasks for one project.
type Builder struct {
	config   *config.Config
	options  Options
	logger   *slog.Logger
	images   *imagemin.Optimizer
	ownsSass bool
}

// New creates a new builder.
func New(cfg *config.Config, options Options) *Builder {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Builder{
		config:  cfg,
		options: options,
		logger:  logger,
		images: imagemin.New(imagemin.Options{
			JPEGQuality: cfg.Images.JPEGQuality,
			PNGMin:      cfg.Images.PNGQuality.Min,
			PNGMax:      cfg.Images.PNGQuality.Max,
		}),
	}

	if b.options.Styles == nil {
		bin := sass.NewBinary()
		bin.Explicit = cfg.Styles.SassBinary
		b.options.Styles = sass.NewCompiler(bin, logger)
		b.ownsSass = true
	}

	return b
}

// Run runs the task for one asset kind.
func (b *Builder) Run(ctx context.Context, kind config.AssetKind) (*Result, error) {
	switch kind {
	case config.KindStyles:
		return b.Styles(ctx)
	case config.KindScripts:
		return b.Scripts(ctx)
	case config.KindImages:
		return b.Images(ctx)
	case config.KindMarkup, config.KindVideo:
		return b.Copy(ctx, kind)
	default:
		return nil, fmt.Errorf("unknown asset kind %q", kind)
	}
}

// Close releases the Sass compiler if the builder created it.
func (b *Builder) Close() error {
	if !b.ownsSass {
		return nil
	}
	if c, ok := b.options.Styles.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// progress reports build progress.
func (b *Builder) progress(step string) {
	if b.options.OnProgress != nil {
		b.options.OnProgress(step)
	}
}

// writeFileAtomic writes data to a temp file next to dst and renames it
// into place.
func writeFileAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// copyFile copies src to dst atomically and gives dst the source mtime.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()|0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
