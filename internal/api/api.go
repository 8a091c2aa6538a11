/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes calendar builds over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/rerun_calendar/internal/auth"
	"github.com/friendsincode/rerun_calendar/internal/scheduler"
)

// maxPlanBytes bounds request bodies carrying a plan.
const maxPlanBytes = 1 << 20

// API holds the handlers and their dependencies.
type API struct {
	jwtSecret []byte
	scheduler *scheduler.Service
	limiter   *clientLimiter
	logger    zerolog.Logger
}

// New creates the API. ratePerSec bounds builds and previews per caller.
func New(jwtSecret []byte, svc *scheduler.Service, ratePerSec float64, logger zerolog.Logger) *API {
	return &API{
		jwtSecret: jwtSecret,
		scheduler: svc,
		limiter:   newClientLimiter(ratePerSec),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))
			pr.Use(auth.RequireRole(auth.RoleViewer))

			pr.Route("/calendars", func(r chi.Router) {
				r.Get("/", a.handleCalendarsList)
				r.With(auth.RequireRole(auth.RoleEditor), a.rateLimit).Post("/", a.handleCalendarsBuild)
				r.With(a.rateLimit).Post("/preview", a.handleCalendarsPreview)
				r.Route("/{runID}", func(r chi.Router) {
					r.Get("/", a.handleCalendarsGet)
					r.Get("/ical", a.handleCalendarsICal)
					r.With(auth.RequireRole(auth.RoleEditor)).Delete("/", a.handleCalendarsDelete)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimit throttles per authenticated user, falling back to the remote
// address.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.UserID != "" {
			key = "user:" + claims.UserID
		}
		if !a.limiter.allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

func newClientLimiter(perSec float64) *clientLimiter {
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limit:   rate.Limit(perSec),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.clients[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
