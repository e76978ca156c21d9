// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package api is the HTTP transport over service.Service.
//
// Query results are returned as an Arrow IPC stream unless the client asks
// for JSON in its Accept header. The generated statement, row count and
// execution time travel in X-Generated-SQL, X-Row-Count and X-Elapsed-Ms.
// The current subject is taken from the request body, the X-Subject header
// or the subject cookie, in that order.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/rs/cors"

	"nlcube/cli/internal/config"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/metrics"
	"nlcube/cli/internal/service"
)

const (
	headerSubject    = "X-Subject"
	headerSQL        = "X-Generated-SQL"
	headerRowCount   = "X-Row-Count"
	headerElapsed    = "X-Elapsed-Ms"
	headerUnreliable = "X-Unreliable"
	cookieSubject    = "nlcube_subject"
)

// Server holds the handlers' dependencies.
type Server struct {
	svc     *service.Service
	metrics *metrics.Metrics
	logger  *pterm.Logger
}

// NewHandler builds the router. gatherer backs /metrics and may be nil.
func NewHandler(svc *service.Service, cfg config.ServerConfig, gatherer prometheus.Gatherer, m *metrics.Metrics, logger *pterm.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{svc: svc, metrics: m, logger: logger}

	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/subjects", s.listSubjects).Methods(http.MethodGet)
	api.HandleFunc("/subjects", s.createSubject).Methods(http.MethodPost)
	api.HandleFunc("/subjects/select", s.selectSubject).Methods(http.MethodPost)
	api.HandleFunc("/subjects/{name}", s.deleteSubject).Methods(http.MethodDelete)
	api.HandleFunc("/subjects/{name}/tables/{table}/preview", s.preview).Methods(http.MethodGet)
	api.HandleFunc("/schema", s.schema).Methods(http.MethodGet)
	api.HandleFunc("/query", s.query).Methods(http.MethodPost)
	api.HandleFunc("/sql", s.rawSQL).Methods(http.MethodPost)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept", headerSubject},
		ExposedHeaders:   []string{headerSQL, headerRowCount, headerElapsed, headerUnreliable},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.Request(route, rec.status, time.Since(start))
		s.logger.Debug("request", s.logger.Args(
			"method", r.Method, "route", route, "status", rec.status, "duration", time.Since(start).String()))
	})
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *pterm.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("listening", logger.Args("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
