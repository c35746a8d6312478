package controller

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"querydash/pkg/httputil"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the Gorilla mux router
func (c *Controller) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.Use(httputil.RequestID)
	r.Use(loggingMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(c.auth.Middleware)

	// Query collection endpoints; fixed paths come before {id}
	api.HandleFunc("/queries", c.HandleListQueries).Methods("GET")
	api.HandleFunc("/queries", c.HandleCreateQuery).Methods("POST")
	api.HandleFunc("/queries/search", c.HandleSearchRedirect).Methods("GET")
	api.HandleFunc("/queries/tags", c.HandleQueryTags).Methods("GET")
	api.HandleFunc("/queries/my", c.HandleMyQueries).Methods("GET")
	api.HandleFunc("/queries/favorites", c.HandleFavoriteQueries).Methods("GET")
	api.HandleFunc("/queries/format", c.HandleFormatQuery).Methods("POST")

	// Single query endpoints
	api.HandleFunc("/queries/{id:[0-9]+}", c.HandleGetQuery).Methods("GET")
	api.HandleFunc("/queries/{id:[0-9]+}", c.HandleUpdateQuery).Methods("POST")
	api.HandleFunc("/queries/{id:[0-9]+}", c.HandleArchiveQuery).Methods("DELETE")
	api.HandleFunc("/queries/{id:[0-9]+}/fork", c.HandleForkQuery).Methods("POST")
	api.HandleFunc("/queries/{id:[0-9]+}/refresh", c.HandleRefreshQuery).Methods("POST")
	api.HandleFunc("/queries/{id:[0-9]+}/acl", c.HandleListACL).Methods("GET")
	api.HandleFunc("/queries/{id:[0-9]+}/acl", c.HandleGrantACL).Methods("POST")
	api.HandleFunc("/queries/{id:[0-9]+}/acl", c.HandleRevokeACL).Methods("DELETE")
	api.HandleFunc("/queries/{id:[0-9]+}/favorite", c.HandleAddFavorite).Methods("POST")
	api.HandleFunc("/queries/{id:[0-9]+}/favorite", c.HandleRemoveFavorite).Methods("DELETE")

	// Job endpoints
	api.HandleFunc("/jobs/ws", c.HandleJobsWebSocket).Methods("GET")
	api.HandleFunc("/jobs/{id}", c.HandleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", c.HandleCancelJob).Methods("DELETE")

	api.HandleFunc("/session/token", c.HandleIssueToken).Methods("POST")

	return r
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rec := &httputil.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info(fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.Status,
			"remote", r.RemoteAddr,
			"request_id", httputil.RequestIDFromContext(r.Context()),
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	})
}
