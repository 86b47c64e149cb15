package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/shadowfs/internal/logger"
)

const (
	defaultPort            = 9090
	defaultShutdownTimeout = 5 * time.Second
)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on (default 9090)
	Port int

	// ShutdownTimeout bounds the graceful shutdown that follows the
	// cancellation of Start's context (default 5s)
	ShutdownTimeout time.Duration
}

// Server exposes the registry over HTTP:
//
//	GET /metrics  Prometheus text or OpenMetrics exposition
//	GET /healthz  liveness probe
//	GET /         index page
type Server struct {
	http            *http.Server
	port            int
	shutdownTimeout time.Duration
	stopOnce        sync.Once
	stopErr         error
}

// NewServer builds the server. Nothing listens until Start.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	if reg := GetRegistry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          promLogger{},
		}))
	} else {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, indexPage, s.port)
	})

	return mux
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>shadowfs metrics</title></head>
<body>
<h1>shadowfs</h1>
<p><a href="/metrics">/metrics</a> exposes cache, flush, retry queue and S3 request counters.</p>
<p>Scrape target: <code>http://&lt;host&gt;:%d/metrics</code></p>
</body>
</html>
`

// Start binds the port and serves until ctx is cancelled, then shuts down
// within the configured timeout.
//
// A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: listen %s: %w", s.http.Addr, err)
	}
	logger.Info("Metrics server listening on %s", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		// ctx is done; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-serveErr:
		if err == nil {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Stop shuts the server down gracefully. Later calls return the first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("Metrics server shutdown: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return s.stopErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the HTTP handler serving the endpoints.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// promLogger routes promhttp errors to the application logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	logger.Error("metrics handler: %s", fmt.Sprint(v...))
}
