// Package api serves the chat HTTP API consumed by front ends: a simple
// chat endpoint, an OpenAI-compatible completions endpoint, and health
// and entity introspection.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/buildinfo"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/connwatch"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/pipeline"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Processor runs one turn. [pipeline.Pipeline] satisfies it.
type Processor interface {
	Process(ctx context.Context, conversationID, message string, history []llm.Message) pipeline.TurnState
}

// Forgetter drops per-conversation state held outside the API, such as
// the memory ledger.
type Forgetter interface {
	Forget(conversationID string)
}

// Snapshots supplies the classified entities for /v1/entities.
type Snapshots interface {
	Current(ctx context.Context) (*entity.Snapshot, error)
}

// Health reports dependency status for /health.
type Health interface {
	Status() map[string]connwatch.Status
}

// UsageReporter aggregates LLM token usage for /v1/usage.
type UsageReporter interface {
	Report(ctx context.Context, start, end time.Time) (*usage.Report, error)
}

// Options holds the optional collaborators of a Server.
type Options struct {
	Snapshots Snapshots
	Health    Health
	Forgetter Forgetter
	Usage     UsageReporter

	// ConversationTTL expires idle conversations. Zero keeps them.
	ConversationTTL time.Duration
	// MaxHistory caps the messages kept per conversation (default 40).
	MaxHistory int
}

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	processor     Processor
	conversations *Conversations
	opts          Options
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates a server. Call Close when done to stop the
// conversation cache.
func NewServer(address string, port int, processor Processor, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       address,
		port:          port,
		processor:     processor,
		conversations: NewConversations(opts.ConversationTTL, opts.MaxHistory),
		opts:          opts,
		logger:        logger,
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /v1/entities", s.handleEntities)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // agent turns with several tool rounds
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.conversations.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "hassist",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.BuildInfo(), s.logger)
}

// handleHealth reports 200 when every watched service is up and 503
// otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "healthy"}
	code := http.StatusOK

	if s.opts.Health != nil {
		services := s.opts.Health.Status()
		resp["services"] = services
		for _, st := range services {
			if !st.Up {
				resp["status"] = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, resp, s.logger)
}

// handleUsage reports token usage over the last ?hours=N (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Usage == nil {
		s.errorResponse(w, http.StatusNotFound, "usage tracking is disabled")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	end := time.Now()
	rep, err := s.opts.Usage.Report(r.Context(), end.Add(-time.Duration(hours)*time.Hour), end)
	if err != nil {
		s.logger.Error("usage report failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage report failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rep, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
