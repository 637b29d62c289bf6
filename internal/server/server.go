// Package server exposes the receiver over HTTP and MCP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"webhook-receiver/internal/event"
	"webhook-receiver/internal/history"
	"webhook-receiver/internal/llm"
	"webhook-receiver/internal/session"
	"webhook-receiver/internal/storage"
)

const ServiceName = "zapier-webhook-receiver"

// Dispatcher receives every stored event; it must not let the reply outcome reach the caller.
type Dispatcher interface {
	Dispatch(ev event.Event)
	Dropped() int64
}

// DigestStatus reports whether the periodic digest job is registered.
type DigestStatus interface {
	IsRunning() bool
}

type StatusReporter interface {
	Status() llm.Status
}

type Deps struct {
	Events        *storage.EventStore
	Conversations *history.Manager
	Context       *storage.ContextStore
	Normalizer    *event.Normalizer
	Resolver      *session.Resolver
	Dispatcher    Dispatcher
	Model         StatusReporter
	// Digest is optional.
	Digest        DigestStatus
	SessionHeader string
	MaxBodyBytes  int64
}

type Server struct {
	events        *storage.EventStore
	conversations *history.Manager
	contexts      *storage.ContextStore
	normalizer    *event.Normalizer
	resolver      *session.Resolver
	dispatcher    Dispatcher
	model         StatusReporter
	digest        DigestStatus
	sessionHeader string
	maxBodyBytes  int64
	now           func() time.Time

	httpServer *http.Server
}

func New(d Deps) *Server {
	s := &Server{
		events:        d.Events,
		conversations: d.Conversations,
		contexts:      d.Context,
		normalizer:    d.Normalizer,
		resolver:      d.Resolver,
		dispatcher:    d.Dispatcher,
		model:         d.Model,
		digest:        d.Digest,
		sessionHeader: d.SessionHeader,
		maxBodyBytes:  d.MaxBodyBytes,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if s.sessionHeader == "" {
		s.sessionHeader = "X-Session-ID"
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 1 << 20
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/context", s.handleContext)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSession)
	mux.HandleFunc("/llm/status", s.handleLLMStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)

	mcpServer := s.NewMCPServer()
	mux.Handle("/mcp", mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return mcpServer }))
	return mux
}

func (s *Server) Start(port int) error {
	// No write timeout: /mcp holds SSE streams open.
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	log.Printf("webhook receiver listening on :%d", port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}
