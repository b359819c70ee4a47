package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gj2101/boutview/internal/annotation"
	"github.com/gj2101/boutview/internal/dataset"
	"github.com/gj2101/boutview/internal/geoip"
	"github.com/gj2101/boutview/internal/ratelimit"
	"github.com/gj2101/boutview/internal/review"
)

var DefaultCORSOrigins = []string{"http://localhost:5173", "https://gj2101-gui.vercel.app"}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr        string
	Media       http.Handler
	Registry    *review.Registry
	Annotations *annotation.Cache
	Loader      *dataset.Loader
	Pinger      Pinger
	Geo         *geoip.Resolver
	CORSOrigins []string
	// DatasetHosts limits the hosts the server fetches datasets and call tables from. Empty
	// allows any host.
	DatasetHosts []string
}

// Server is the HTTP surface: dataset files, annotations and review sessions.
type Server struct {
	router      chi.Router
	addr        string
	media       http.Handler
	sessions    *review.Registry
	annotations *annotation.Cache
	loader      *dataset.Loader
	pinger      Pinger
	geo         *geoip.Resolver
	origins     map[string]bool
	hosts       []string
	limiters    []*ratelimit.Limiter

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

func New(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = review.NewRegistry(review.Config{Annotations: cfg.Annotations})
	}
	if cfg.Annotations == nil {
		cfg.Annotations = cfg.Registry.Annotations()
	}
	if cfg.Loader == nil {
		cfg.Loader = dataset.NewLoader(dataset.LoaderConfig{})
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = DefaultCORSOrigins
	}

	s := &Server{
		router:      chi.NewRouter(),
		addr:        cfg.Addr,
		media:       cfg.Media,
		sessions:    cfg.Registry,
		annotations: cfg.Annotations,
		loader:      cfg.Loader,
		pinger:      cfg.Pinger,
		geo:         cfg.Geo,
		origins:     make(map[string]bool),
		hosts:       cfg.DatasetHosts,
	}
	for _, o := range cfg.CORSOrigins {
		s.origins[o] = true
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(s.slogMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.cors)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newLimiter(rate float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(rate, burst)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	readLimiter := s.newLimiter(20, 100)
	annotationLimiter := s.newLimiter(5, 20)
	s.router.Route("/api/annotations", func(r chi.Router) {
		r.With(readLimiter.Middleware).Get("/", s.getAnnotations)
		r.With(readLimiter.Middleware).Get("/export.csv", s.exportAnnotations)
		r.Group(func(r chi.Router) {
			r.Use(annotationLimiter.Middleware)
			r.Post("/tags", s.addTag)
			r.Delete("/tags", s.removeTag)
			r.Post("/tags/toggle", s.toggleTag)
			r.Put("/notes", s.setNote)
			r.Delete("/", s.clearAnnotations)
			r.Post("/import", s.importAnnotations)
		})
	})

	sessionLimiter := s.newLimiter(2, 10)
	s.router.Route("/api/sessions", func(r chi.Router) {
		r.With(sessionLimiter.Middleware).Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/play", s.sessionPlay)
			r.Post("/pause", s.sessionPause)
			r.Post("/toggle", s.sessionToggle)
			r.Post("/reset", s.sessionReset)
			r.Post("/seek", s.sessionSeek)
			r.Post("/file", s.sessionFile)
			r.Post("/reload", s.sessionReload)
			r.Post("/bouts/{boutID}/select", s.sessionSelectBout)
			r.Post("/locations/{name}/toggle", s.sessionToggleLocation)
			r.Post("/elements", s.sessionReportElement)
			r.Get("/ws", s.sessionStream)
		})
	})

	if s.media != nil {
		s.router.Get("/*", s.media.ServeHTTP)
		s.router.Head("/*", s.media.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"store unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.httpSrv = srv

	go func() {
		slog.Info("boutview listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop ends every review session, which releases websocket streams, then drains in-flight
// requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	for _, l := range s.limiters {
		l.Stop()
	}
	s.sessions.Close()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
