// Package server собирает HTTP-сервер маркетплейса: роутер,
// промежуточные обработчики и таймауты.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/config"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/market"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/server/middleware"
)

// Server — HTTP-сервер маркетплейса.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
}

// New собирает сервер: пользовательские маршруты под авторизацией
// Mini-App и rate-limit'ом, служебные — под админ-ключом.
func New(cfg *config.Config, handler *market.Handler) *Server {
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	r := chi.NewRouter()
	r.Use(middleware.Recover)
	r.Use(middleware.LogRequests)

	r.Route("/api/market", func(r chi.Router) {
		r.Use(middleware.TelegramAuth(cfg.TelegramBotToken, cfg.DevMode))
		r.Use(limiter.Middleware)
		handler.Register(r)
	})
	r.Route("/api/internal", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminKeyHash))
		handler.RegisterInternal(r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		limiter: limiter,
	}
}

// Run блокирует до остановки сервера.
func (s *Server) Run() error {
	log.WithField("addr", s.httpServer.Addr).Info("HTTP-сервер запущен")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown останавливает сервер, дожидаясь активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}
