// Package forward delivers generated replies to downstream consumers.
package forward

import (
	"context"
	"errors"
	"time"
)

// Payload is what a downstream consumer receives for each reply.
type Payload struct {
	Reply     string    `json:"reply"`
	EventID   string    `json:"event_id"`
	Source    string    `json:"source"`
	SessionID string    `json:"session_id"`
	RepliedAt time.Time `json:"replied_at"`
}

// Forwarder delivers a payload at most once. Callers only log the returned error.
type Forwarder interface {
	Name() string
	Deliver(ctx context.Context, p Payload) error
}

// Multi fans a payload out to every forwarder and joins the failures.
type Multi []Forwarder

func (m Multi) Name() string { return "multi" }

func (m Multi) Deliver(ctx context.Context, p Payload) error {
	var errs []error
	for _, f := range m {
		if err := f.Deliver(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine drops nil forwarders and returns nil when none remain.
func Combine(fs ...Forwarder) Forwarder {
	var out Multi
	for _, f := range fs {
		if f != nil {
			out = append(out, f)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
