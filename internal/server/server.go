// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatpipe/internal/bus"
	"chatpipe/internal/command"
	"chatpipe/internal/config"
	"chatpipe/internal/domain"
	"chatpipe/internal/pipeline"
)

const maxBodySize = 1 << 20 // 1MB

// Pipeline is the part of the orchestrator the HTTP surface drives.
type Pipeline interface {
	ProcessMessage(ctx context.Context, raw domain.RawMessage) pipeline.ProcessResult
	ExecuteCommand(ctx context.Context, line, from string) command.Result
	SendMessage(ctx context.Context, to, content string, opts map[string]any) (domain.SendResult, error)
	Status() pipeline.Status
	Stats() pipeline.Stats
}

// Webhook is an inbound endpoint contributed by a connector.
type Webhook struct {
	Path    string
	Handler http.Handler
}

type Config struct {
	Server   config.ServerConfig
	Metrics  config.MetricsConfig
	Pipeline Pipeline
	// Events backs GET /events; optional.
	Events *bus.EventBus
	// MetricsHandler serves Metrics.Endpoint when metrics are enabled.
	MetricsHandler http.Handler
	Webhooks       []Webhook
	Logger         *slog.Logger
}

// Server is the HTTP front of a running pipeline.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(2 * time.Minute))
		r.Post("/messages", s.handleMessage)
		r.Post("/commands", s.handleCommand)
		r.Post("/send", s.handleSend)
	})

	if s.cfg.Metrics.Enabled && s.cfg.MetricsHandler != nil {
		endpoint := s.cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.Method(http.MethodGet, endpoint, s.cfg.MetricsHandler)
	}

	for _, wh := range s.cfg.Webhooks {
		r.Handle(wh.Path, wh.Handler)
		s.logger.Info("webhook mounted", "path", wh.Path)
	}
	return r
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("HTTP server started", "addr", s.httpServer.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

type statusResponse struct {
	Status pipeline.Status `json:"status"`
	Stats  pipeline.Stats  `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.cfg.Pipeline.Status(),
		Stats:  s.cfg.Pipeline.Stats(),
	})
}

// handleEvents replays recorded events. Query: type (default "*"), since
// (RFC 3339).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeError(w, http.StatusNotFound, "event history disabled")
		return
	}
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		eventType = "*"
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	events := s.cfg.Events.Replay(eventType, since)
	if events == nil {
		events = []bus.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	if raw.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	res := s.cfg.Pipeline.ProcessMessage(r.Context(), raw)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

type commandRequest struct {
	Command string `json:"command"`
	From    string `json:"from"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.From == "" {
		req.From = "api"
	}
	writeJSON(w, http.StatusOK, s.cfg.Pipeline.ExecuteCommand(r.Context(), req.Command, req.From))
}

type sendRequest struct {
	To      string         `json:"to"`
	Content string         `json:"content"`
	Options map[string]any `json:"options,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.To == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "to and content are required")
		return
	}
	res, err := s.cfg.Pipeline.SendMessage(r.Context(), req.To, req.Content, req.Options)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
