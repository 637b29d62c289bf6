package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webhook-receiver/internal/analytics"
	"webhook-receiver/internal/event"
	"webhook-receiver/internal/llm"
	"webhook-receiver/internal/session"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type ackResponse struct {
	Status   string    `json:"status"`
	EventID  string    `json:"event_id"`
	StoredAt time.Time `json:"stored_at"`
}

type statusResponse struct {
	Service        string         `json:"service"`
	Status         string         `json:"status"`
	EventsReceived int            `json:"events_received"`
	LastEvent      *event.Summary `json:"last_event"`
}

type eventsListResponse struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Items  []event.Event `json:"items"`
}

type healthResponse struct {
	Status         string `json:"status"`
	EventsStored   int    `json:"events_stored"`
	EventsReceived int    `json:"events_received_total"`
	RepliesDropped int64  `json:"replies_dropped"`
	DigestRunning  bool   `json:"digest_running"`
}

type contextRequest struct {
	Context *string `json:"context"`
}

type contextResponse struct {
	Context *string `json:"context"`
}

type sessionHistoryResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []llm.Message `json:"messages"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.receiveEvent(w, r)
	case http.MethodGet:
		s.listEvents(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// receiveEvent always acknowledges: malformed bodies degrade to an empty payload and the reply
// pipeline outcome never reaches the response.
func (s *Server) receiveEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		log.Printf("⚠️ failed to read event body, storing empty payload: %v", err)
		body = nil
	}

	in := s.normalizer.Normalize(body, r.Header.Get("Content-Type"))
	ev := event.Event{
		EventID:    in.EventID,
		Source:     in.Source,
		Payload:    in.Payload,
		ReceivedAt: s.now(),
		SessionID:  s.resolver.Resolve(session.Input{Event: in, Hint: r.Header.Get(s.sessionHeader)}),
	}
	if ev.EventID == "" {
		ev.EventID = event.NewID()
	}
	s.events.Add(ev)

	log.Printf("received_event event_id=%s source=%s session_id=%s payload_size=%d",
		ev.EventID, ev.Source, ev.SessionID, event.PayloadSize(ev.Payload))

	s.dispatcher.Dispatch(ev)

	writeJSON(w, http.StatusOK, ackResponse{Status: "ok", EventID: ev.EventID, StoredAt: ev.ReceivedAt})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		http.Error(w, "offset must be a non-negative integer", http.StatusUnprocessableEntity)
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageLimit)
	if err != nil || limit < 0 || limit > maxPageLimit {
		http.Error(w, "limit must be an integer between 0 and 100", http.StatusUnprocessableEntity)
		return
	}
	items, total := s.events.List(offset, limit)
	writeJSON(w, http.StatusOK, eventsListResponse{Total: total, Offset: offset, Limit: limit, Items: items})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Service: ServiceName, Status: "healthy", EventsReceived: s.events.Count()}
	if latest, ok := s.events.Latest(); ok {
		sum := latest.Summary()
		resp.LastEvent = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut, http.MethodPost:
		var req contextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Context == nil {
			http.Error(w, "context is required", http.StatusBadRequest)
			return
		}
		s.contexts.Set(*req.Context)
		log.Printf("context updated (%d chars)", len(*req.Context))
	case http.MethodDelete:
		s.contexts.Clear()
		log.Printf("context cleared")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.currentContext())
}

func (s *Server) currentContext() contextResponse {
	v, ok := s.contexts.Get()
	if !ok {
		return contextResponse{}
	}
	return contextResponse{Context: &v}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.conversations.Sessions()})
	case http.MethodDelete:
		s.conversations.ResetAll()
		log.Printf("all session histories cleared")
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []string{}})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSession serves /sessions/{id}; ids may contain ':' and are taken verbatim after unescaping.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "Session ID is required in path /sessions/{id}", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		s.conversations.Reset(id)
		log.Printf("session history cleared: %s", id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, sessionHistoryResponse{SessionID: id, Messages: s.conversations.Get(id)})
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.model.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	day := s.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusUnprocessableEntity)
			return
		}
		day = parsed
	}
	writeJSON(w, http.StatusOK, analytics.AnalyzeDailyEvents(s.events.Snapshot(), day))
}

// handleHealth reports liveness plus counters that /status does not carry: events evicted from
// the store still count toward events_received_total.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{
		Status:         "ok",
		EventsStored:   s.events.Count(),
		EventsReceived: s.events.Received(),
		RepliesDropped: s.dispatcher.Dropped(),
	}
	if s.digest != nil {
		resp.DigestRunning = s.digest.IsRunning()
	}
	writeJSON(w, http.StatusOK, resp)
}
