package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/alpharace/mailqueue/internal/config"
	"github.com/alpharace/mailqueue/internal/queue"
)

type Server struct {
	cfg    config.ServerConfig
	api    config.APIConfig
	queue  *queue.Service
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, api config.APIConfig, q *queue.Service, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		api:   api,
		queue: q,
		log:   log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	emailHandler := NewEmailHandler(s.queue)
	queueHandler := NewQueueHandler(s.queue)

	// Health check, no auth
	r.Get("/health", queueHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Cycle trigger stays open so external cron jobs can drive
		// processing without credentials.
		r.Post("/queue/process", queueHandler.Process)

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(s.api.AdminKey))

			r.Post("/emails", emailHandler.Enqueue)
			r.Get("/emails", emailHandler.List)
			r.Get("/emails/{id}", emailHandler.Get)
			r.Post("/emails/{id}/requeue", emailHandler.Requeue)
			r.Post("/emails/{id}/cancel", emailHandler.Cancel)

			r.Get("/stats", queueHandler.Stats)
			r.Get("/queue/log", queueHandler.Log)
			r.Post("/queue/purge", queueHandler.Purge)
		})
	})

	return r
}

// Router exposes the handler tree. Used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
