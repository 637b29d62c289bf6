// Package session derives the conversation key an event belongs to.
package session

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"webhook-receiver/internal/event"
)

var (
	// DefaultKeys are scanned at the top level of the payload when no chat heuristic matched.
	DefaultKeys = []string{"session_id", "session", "conversation_id", "thread_id", "chat_id", "user_id", "user"}

	// DefaultNestedKeys name payload members checked first for a chat-platform event (Slack wraps it in
	// "event"). Other object members are checked afterwards in key order.
	DefaultNestedKeys = []string{"event"}

	channelKeys = []string{"channel", "channel_id"}
	threadKeys  = []string{"thread_ts", "ts"}
	userKeys    = []string{"user", "user_id"}
)

// Input is what the resolver looks at: the normalized event and an optional transport hint.
type Input struct {
	Event event.Inbound
	Hint  string
}

type rule func(r *Resolver, in Input, payload gjson.Result) (string, bool)

// Resolver applies an ordered chain of rules; the first match wins and the chain always ends in
// "<source>:global", so Resolve never returns an empty string.
type Resolver struct {
	keys       []string
	nestedKeys []string
	rules      []rule
}

type Option func(*Resolver)

// WithKeys replaces the generic key scan list.
func WithKeys(keys []string) Option {
	return func(r *Resolver) {
		var out []string
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
		if len(out) > 0 {
			r.keys = out
		}
	}
}

// WithNestedKeys replaces the members inspected first for nested chat events.
func WithNestedKeys(keys []string) Option {
	return func(r *Resolver) {
		var out []string
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
		if len(out) > 0 {
			r.nestedKeys = out
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		keys:       DefaultKeys,
		nestedKeys: DefaultNestedKeys,
		rules: []rule{
			explicitSession,
			transportHint,
			nestedChat,
			topLevelChat,
			keyScan,
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) Resolve(in Input) string {
	payload := parsePayload(in.Event.Payload)
	for _, rl := range r.rules {
		if id, ok := rl(r, in, payload); ok {
			return id
		}
	}
	return platform(in.Event.Source) + ":global"
}

func parsePayload(p any) gjson.Result {
	b, err := json.Marshal(p)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(b)
}

func platform(source string) string {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return "unknown"
	}
	return s
}

func explicitSession(_ *Resolver, in Input, _ gjson.Result) (string, bool) {
	s := strings.TrimSpace(in.Event.SessionID)
	return s, s != ""
}

func transportHint(_ *Resolver, in Input, _ gjson.Result) (string, bool) {
	s := strings.TrimSpace(in.Hint)
	return s, s != ""
}

func nestedChat(r *Resolver, in Input, payload gjson.Result) (string, bool) {
	if !payload.IsObject() {
		return "", false
	}
	for _, k := range nestedOrder(r.nestedKeys, payload) {
		obj := payload.Get(gjson.Escape(k))
		if !obj.IsObject() {
			continue
		}
		if id, ok := chatKey(in.Event.Source, obj); ok {
			return id, true
		}
	}
	return "", false
}

// nestedOrder lists the preferred keys followed by the remaining object members sorted by name.
func nestedOrder(preferred []string, payload gjson.Result) []string {
	seen := make(map[string]bool, len(preferred))
	for _, k := range preferred {
		seen[k] = true
	}
	var rest []string
	payload.ForEach(func(key, value gjson.Result) bool {
		if k := key.String(); value.IsObject() && !seen[k] {
			seen[k] = true
			rest = append(rest, k)
		}
		return true
	})
	sort.Strings(rest)
	return append(append([]string(nil), preferred...), rest...)
}

func topLevelChat(_ *Resolver, in Input, payload gjson.Result) (string, bool) {
	if !payload.IsObject() {
		return "", false
	}
	return chatKey(in.Event.Source, payload)
}

// chatKey composes platform:channel:thread, falling back to platform:channel:user.
func chatKey(source string, obj gjson.Result) (string, bool) {
	channel, ok := firstString(obj, channelKeys)
	if !ok {
		return "", false
	}
	if thread, ok := firstString(obj, threadKeys); ok {
		return platform(source) + ":" + channel + ":" + thread, true
	}
	if user, ok := firstString(obj, userKeys); ok {
		return platform(source) + ":" + channel + ":" + user, true
	}
	return "", false
}

func keyScan(r *Resolver, _ Input, payload gjson.Result) (string, bool) {
	if !payload.IsObject() {
		return "", false
	}
	return firstString(payload, r.keys)
}

// firstString returns the first key holding a non-empty scalar, rendered as a string.
func firstString(obj gjson.Result, keys []string) (string, bool) {
	for _, k := range keys {
		v := obj.Get(gjson.Escape(k))
		switch v.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s, true
			}
		}
	}
	return "", false
}
