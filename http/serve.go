// Package http exposes the session controller and the metrics over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/metrics"
	"node.town/tabscribe/session"
	"node.town/tabscribe/stt"
)

// Name is the bus identity of requests made over HTTP.
const Name = "http"

// Controller is the part of *session.Controller the routes use.
type Controller interface {
	Start(ctx context.Context, tabID int, langs stt.Languages) error
	Stop(ctx context.Context) error
	UpdateLanguages(ctx context.Context, langs stt.Languages) error
	Snapshot(ctx context.Context) (session.View, error)
}

type Server struct {
	Controller Controller
	// Bus receives clear requests for the presentation.
	Bus      *bus.Bus
	Defaults stt.Languages
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

type startRequest struct {
	TabID          int    `json:"tabId"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

func (s *Server) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/status", s.handleStatus)
	r.Post("/session/start", s.handleStart)
	r.Post("/session/stop", s.handleStop)
	r.Post("/session/languages", s.handleLanguages)
	r.Post("/transcript/clear", s.handleClear)
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// observe logs and counts every request by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.Metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status))
		s.logger().Debug("request", "method", r.Method, "route", route, "status", status, "took", time.Since(start))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.Controller.Snapshot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req := startRequest{
		SourceLanguage: s.Defaults.Source,
		TargetLanguage: s.Defaults.Target,
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	langs := stt.Languages{Source: req.SourceLanguage, Target: req.TargetLanguage}
	if err := s.Controller.Start(r.Context(), req.TabID, langs); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Stop(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	var langs stt.Languages
	if err := decode(r, &langs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Controller.UpdateLanguages(r.Context(), langs); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.Bus != nil {
		s.Bus.Broadcast(Name, bus.KindClear, bus.Clear{})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stt.ErrSameLanguages), errors.Is(err, stt.ErrMissingLanguage):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger().Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve listens on port until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, port int, h http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http: %w", err)
	}
	return nil
}
