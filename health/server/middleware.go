package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"tangled.sh/tangled.sh/healthsync/health/models"
)

func (s *Server) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		queryParams := r.URL.Query()
		queryAttrs := make([]any, 0, len(queryParams))
		for key, values := range queryParams {
			if len(values) == 1 {
				queryAttrs = append(queryAttrs, slog.String(key, values[0]))
			} else {
				queryAttrs = append(queryAttrs, slog.Any(key, values))
			}
		}

		s.l.LogAttrs(r.Context(), slog.LevelDebug, "",
			slog.Group("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Group("query", queryAttrs...),
				slog.Duration("duration", time.Since(start)),
			),
		)
	})
}

type typeKey struct{}

// recordType resolves the {type} url parameter, answering 404 for kinds
// outside the catalog.
func (s *Server) recordType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, err := models.ByID(chi.URLParam(r, "type"))
		if err != nil {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), typeKey{}, t)))
	})
}

func typeFrom(r *http.Request) models.RecordType {
	return r.Context().Value(typeKey{}).(models.RecordType)
}
