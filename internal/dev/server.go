package dev

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
)

// HealthPath and MetricsPath are the dev server's own endpoints.
const (
	HealthPath  = "/_assetpipe/healthz"
	MetricsPath = "/_assetpipe/metrics"
)

const shutdownTimeout = 5 * time.Second

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Reload serves the reload endpoint. If nil or hot reload is disabled
	// in the config, no script is injected.
	Reload *ReloadServer

	// Metrics serves the Prometheus endpoint. Optional.
	Metrics http.Handler

	// Logger receives request and lifecycle logs. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Server serves the destination directory with live reload.
type Server struct {
	config     *config.Config
	options    ServerOptions
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  options.Config,
		options: options,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if s.options.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.options.Metrics)
	}
	if s.reloadEnabled() {
		r.Get(ReloadPath, s.options.Reload.HandleWebSocket)
	}
	r.Handle("/*", s.staticHandler())

	return r
}

// Listen binds the configured address. A port already in use is reported
// here, before any watch work starts.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.config.DevAddress())
	if err != nil {
		return errors.New("E130").
			WithDetail(fmt.Sprintf("Cannot listen on %s", s.config.DevAddress())).
			WithSuggestion("Stop the other process or set dev.port / ASSETPIPE_PORT").
			Wrap(err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the dev URL with the bound port, which differs from the
// configured one when port 0 was requested.
func (s *Server) URL() string {
	tcp, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return s.config.DevURL()
	}
	return "http://" + net.JoinHostPort(s.config.Dev.Host, strconv.Itoa(tcp.Port))
}

// Serve serves until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info("Server running", "url", s.URL())

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		if err != nil {
			return errors.New("E130").Wrap(err)
		}
		return nil
	}
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (s *Server) Stop() {
	if s.options.Reload != nil {
		s.options.Reload.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("server shutdown", "error", err)
	}

	// A listener that never reached Serve is not owned by httpServer.
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
}

func (s *Server) reloadEnabled() bool {
	return s.config.Dev.HotReload && s.options.Reload != nil
}

// staticHandler serves the destination root. HTML responses get the
// client script when hot reload is on.
func (s *Server) staticHandler() http.Handler {
	root := s.config.DestRoot()
	files := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.reloadEnabled() {
			files.ServeHTTP(w, r)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/") {
			name = path.Join(name, "index.html")
		}
		if ext := strings.ToLower(path.Ext(name)); ext != ".html" && ext != ".htm" {
			files.ServeHTTP(w, r)
			return
		}

		p := filepath.Join(root, filepath.FromSlash(name))
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		data, err := os.ReadFile(p)
		if err != nil {
			http.Error(w, "cannot read "+name, http.StatusInternalServerError)
			return
		}

		body := InjectScript(data)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(body)
	})
}

// InjectScript inserts the client script before </body>, falling back to
// </html> and then to the end of the document.
func InjectScript(html []byte) []byte {
	doc := string(html)
	lower := strings.ToLower(doc)
	if idx := strings.LastIndex(lower, "</body>"); idx != -1 {
		doc = doc[:idx] + DevClientScript + doc[idx:]
	} else if idx := strings.LastIndex(lower, "</html>"); idx != -1 {
		doc = doc[:idx] + DevClientScript + doc[idx:]
	} else {
		doc += DevClientScript
	}
	return []byte(doc)
}
