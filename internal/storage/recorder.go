package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"webhook-receiver/internal/llm"
)

// Roundtrip is one model request/response pair written for operator diagnosis.
type Roundtrip struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type"`
	EventID   string           `json:"event_id"`
	Source    string           `json:"source"`
	UserInput any              `json:"user_input"`
	Request   RoundtripRequest `json:"openai_request"`
	Response  RoundtripReply   `json:"openai_response"`
	Context   RoundtripContext `json:"context"`
	Session   RoundtripSession `json:"session"`
}

type RoundtripRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

type RoundtripReply struct {
	Text  *string `json:"text"`
	Error string  `json:"error,omitempty"`
}

type RoundtripContext struct {
	Included bool    `json:"included"`
	Value    *string `json:"value"`
}

type RoundtripSession struct {
	ID              string `json:"id"`
	HistoryIncluded bool   `json:"history_included"`
	HistoryCount    int    `json:"history_count"`
}

// Recorder persists roundtrips. Implementations must be safe for concurrent use.
type Recorder interface {
	AppendRoundtrip(rt Roundtrip) error
}

// FileRecorder appends roundtrips to a JSON lines file.
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init log file: %w", err)
	}
	_ = f.Close()
	return &FileRecorder{path: path}, nil
}

func (r *FileRecorder) AppendRoundtrip(rt Roundtrip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rt); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}
