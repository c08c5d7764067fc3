// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package api exposes the operational HTTP surface: health, Prometheus
// metrics, and read-only presence and playtime queries per Realm.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/logging"
)

// Server serves the operational HTTP API.
type Server struct {
	cfg     config.ServerConfig
	handler *Handler
	log     zerolog.Logger

	srv *http.Server
}

// NewServer creates the HTTP server. Routes are wired at construction so
// Routes() can be used directly in tests without binding a socket.
func NewServer(cfg config.ServerConfig, handler *Handler) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		log:     logging.With().Str("component", "api").Logger(),
	}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Routes builds the chi router for the API surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))

		r.Get("/realms", s.handler.Realms)
		r.Route("/realms/{realmID}", func(r chi.Router) {
			r.Get("/online", s.handler.Online)
			r.Get("/activity", s.handler.Activity)
			r.Get("/leaderboard", s.handler.Leaderboard)
			r.Get("/hours", s.handler.ActiveHours)
		})
	})

	return r
}

// Start begins serving. It returns once the listener stops; a clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("Starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("Stopping HTTP server")
	return s.srv.Shutdown(ctx)
}
