package sass

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"
)

// Request describes one entry stylesheet to compile.
type Request struct {
	// Path is the absolute path of the entry file.
	Path string

	// IncludePaths are searched for @use and @import.
	IncludePaths []string

	// SourceMap requests a source map alongside the CSS.
	SourceMap bool
}

// Result is the compiled stylesheet.
type Result struct {
	CSS       string
	SourceMap string
}

// Compiler compiles SCSS through a long-lived Dart Sass embedded process.
// It is safe for concurrent use.
type Compiler struct {
	binary *Binary
	logger *slog.Logger

	mu         sync.Mutex
	transpiler *godartsass.Transpiler
}

// NewCompiler creates a compiler backed by the given binary.
func NewCompiler(binary *Binary, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{binary: binary, logger: logger}
}

// Compile compiles the entry file in req in expanded output style.
func (c *Compiler) Compile(ctx context.Context, req Request) (Result, error) {
	src, err := os.ReadFile(req.Path)
	if err != nil {
		return Result{}, err
	}

	t, err := c.start(ctx)
	if err != nil {
		return Result{}, err
	}

	args := godartsass.Args{
		Source:                  string(src),
		URL:                     fileURL(req.Path),
		IncludePaths:            req.IncludePaths,
		OutputStyle:             godartsass.OutputStyleExpanded,
		SourceSyntax:            sourceSyntax(req.Path),
		EnableSourceMap:         req.SourceMap,
		SourceMapIncludeSources: req.SourceMap,
	}

	res, err := t.Execute(args)
	if err == godartsass.ErrShutdown {
		// The embedded process died; start a fresh one once.
		c.reset(t)
		if t, err = c.start(ctx); err != nil {
			return Result{}, err
		}
		res, err = t.Execute(args)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{CSS: res.CSS, SourceMap: res.SourceMap}, nil
}

// Close stops the embedded Dart Sass process.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transpiler == nil {
		return nil
	}
	err := c.transpiler.Close()
	c.transpiler = nil
	return err
}

func (c *Compiler) start(ctx context.Context) (*godartsass.Transpiler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transpiler != nil {
		return c.transpiler, nil
	}

	path, err := c.binary.EnsureInstalled(ctx, func(msg string) {
		c.logger.Info(msg)
	})
	if err != nil {
		return nil, err
	}

	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: path,
		Timeout:                  time.Minute,
		LogEventHandler: func(e godartsass.LogEvent) {
			switch e.Type {
			case godartsass.LogEventTypeDebug:
				c.logger.Debug("sass", "message", e.Message)
			default:
				c.logger.Warn("sass", "message", e.Message)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start dart sass %s: %w", path, err)
	}

	c.transpiler = t
	return t, nil
}

func (c *Compiler) reset(t *godartsass.Transpiler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transpiler == t {
		_ = t.Close()
		c.transpiler = nil
	}
}

func sourceSyntax(path string) godartsass.SourceSyntax {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".css":
		return godartsass.SourceSyntaxCSS
	default:
		return godartsass.SourceSyntaxSCSS
	}
}

func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String()
}
