// Package httpapi exposes event ingestion, audio retrieval, queue control and
// health over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	chicors "github.com/go-chi/cors"

	"github.com/harunnryd/freestream/pkg/alert"
	"github.com/harunnryd/freestream/pkg/audio"
	"github.com/harunnryd/freestream/pkg/audiocache"
	"github.com/harunnryd/freestream/pkg/logging"
	"github.com/harunnryd/freestream/pkg/normalize"
	"github.com/harunnryd/freestream/pkg/orchestrator"
	"github.com/harunnryd/freestream/pkg/queue"
	"github.com/harunnryd/freestream/pkg/tts"
)

// Ingestor accepts platform events. *normalize.Normalizer satisfies it.
type Ingestor interface {
	Submit(ctx context.Context, ev normalize.Event) (alert.Job, error)
}

// Controller is the operator surface of the orchestrator.
type Controller interface {
	Status() orchestrator.Status
	Skip() (string, bool)
	ClearQueue(ctx context.Context) int
}

// QueueView lists waiting jobs.
type QueueView interface {
	Snapshot() []alert.Job
	Stats() queue.Stats
}

// AudioStore resolves audio IDs to bytes.
type AudioStore interface {
	Lookup(audioID string) (audiocache.Entry, bool)
}

// Speaker synthesizes ad-hoc text for the TTS test endpoint.
type Speaker interface {
	Synthesize(ctx context.Context, text string, v tts.Voice) (audio.Handle, error)
}

type Deps struct {
	Ingest  Ingestor
	Control Controller
	Queue   QueueView
	Audio   AudioStore
	Speaker Speaker
	// Overlay serves the WebSocket at /ws.
	Overlay http.Handler
	// Health reports engine health; nil means always healthy.
	Health func(ctx context.Context) error
}

type Config struct {
	Addr           string
	Debug          bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

type Server struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	mux  *chi.Mux
	srv  *http.Server
}

func New(cfg Config, deps Deps, log *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logging.NewComponentLogger(log, "http"),
	}
	s.mux = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(chicors.Handler(chicors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Overlay != nil {
		r.Handle("/ws", s.deps.Overlay)
	}
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.RequestTimeout))
			r.Post("/events", s.handleEvent)
			r.Get("/queue", s.handleQueue)
			r.Post("/queue/skip", s.handleSkip)
			r.Post("/queue/clear", s.handleClear)
			r.Post("/test", s.debugOnly(s.handleInject))
			r.Post("/tts/test", s.debugOnly(s.handleTTSTest))
		})
		r.Get("/audio/{audioID}", s.handleAudio)
	})
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http_listening", "addr", s.cfg.Addr)
		err := s.srv.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return <-errCh
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) debugOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Debug {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "only available in debug mode"})
			return
		}
		h(w, r)
	}
}
