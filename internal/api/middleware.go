package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/salonkit/campaignd/internal/models"
)

type contextKey int

const actorContextKey contextKey = iota

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// actorMiddleware builds the actor context from the identity headers set by
// the platform gateway. Requests without an actor or salon are rejected;
// role checks happen in the core per operation.
func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.ActorContext{
			ActorID: r.Header.Get("X-Actor-Id"),
			SalonID: r.Header.Get("X-Salon-Id"),
			Role:    models.Role(r.Header.Get("X-Actor-Role")),
			Email:   r.Header.Get("X-Actor-Email"),
		}

		if actor.ActorID == "" || actor.SalonID == "" {
			s.logger.Warn("request without actor context",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "actor and salon identity headers are required")
			return
		}

		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the actor context the middleware attached.
func actorFrom(r *http.Request) models.ActorContext {
	actor, _ := r.Context().Value(actorContextKey).(models.ActorContext)
	return actor
}
