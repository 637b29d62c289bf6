package event

import (
	"bytes"
	"encoding/json"
	"log"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

const (
	DefaultSource = "zapier"

	formMemoryLimit = 1 << 20
)

// Normalizer turns an inbound body of unknown shape into an Inbound value.
// Rules run in order and the first that accepts the body wins; Normalize never fails.
type Normalizer struct {
	defaultSource string
	rules         []rule
}

type rule func(n *Normalizer, body []byte, mediaType string, params map[string]string) (Inbound, bool)

func NewNormalizer(defaultSource string) *Normalizer {
	if strings.TrimSpace(defaultSource) == "" {
		defaultSource = DefaultSource
	}
	return &Normalizer{
		defaultSource: defaultSource,
		rules: []rule{
			canonicalJSON,
			looseJSONObject,
			scalarJSON,
			formFields,
		},
	}
}

func (n *Normalizer) Normalize(body []byte, contentType string) Inbound {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}
	for _, r := range n.rules {
		if in, ok := r(n, body, mediaType, params); ok {
			return in
		}
	}
	return Inbound{Source: n.defaultSource, Payload: map[string]any{}}
}

func decodeJSON(body []byte) (any, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

func decodeJSONObject(body []byte) (map[string]any, bool) {
	v, ok := decodeJSON(body)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// canonicalJSON accepts bodies already shaped as {source, payload, event_id?, session_id?}.
func canonicalJSON(_ *Normalizer, body []byte, _ string, _ map[string]string) (Inbound, bool) {
	obj, ok := decodeJSONObject(body)
	if !ok {
		return Inbound{}, false
	}
	source := stringField(obj, "source")
	payload, hasPayload := obj["payload"]
	if source == "" || !hasPayload {
		return Inbound{}, false
	}
	return Inbound{
		EventID:   stringField(obj, "event_id"),
		Source:    source,
		Payload:   payload,
		SessionID: stringField(obj, "session_id"),
	}, true
}

// looseJSONObject accepts any other JSON object, unwrapping "payload" when present.
func looseJSONObject(n *Normalizer, body []byte, _ string, _ map[string]string) (Inbound, bool) {
	obj, ok := decodeJSONObject(body)
	if !ok {
		return Inbound{}, false
	}
	in := Inbound{
		EventID:   stringField(obj, "event_id"),
		Source:    stringField(obj, "source"),
		SessionID: stringField(obj, "session_id"),
		Payload:   obj,
	}
	if p, ok := obj["payload"]; ok {
		in.Payload = p
	}
	if in.Source == "" {
		in.Source = n.defaultSource
	}
	return in, true
}

// formFields accepts url-encoded and multipart bodies.
func formFields(n *Normalizer, body []byte, mediaType string, params map[string]string) (Inbound, bool) {
	values, ok := parseForm(body, mediaType, params)
	if !ok || len(values) == 0 {
		return Inbound{}, false
	}
	in := Inbound{
		EventID:   strings.TrimSpace(values.Get("event_id")),
		Source:    strings.TrimSpace(values.Get("source")),
		SessionID: strings.TrimSpace(values.Get("session_id")),
	}
	if in.Source == "" {
		in.Source = n.defaultSource
	}
	if values.Has("payload") {
		raw := values.Get("payload")
		if v, ok := decodeJSON([]byte(raw)); ok {
			in.Payload = v
		} else {
			in.Payload = map[string]any{"raw": raw}
		}
		return in, true
	}
	fields := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			fields[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		fields[k] = list
	}
	in.Payload = fields
	return in, true
}

func parseForm(body []byte, mediaType string, params map[string]string) (url.Values, bool) {
	switch mediaType {
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, false
		}
		form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(formMemoryLimit)
		if err != nil {
			return nil, false
		}
		defer func() { _ = form.RemoveAll() }()
		return url.Values(form.Value), true
	case "application/x-www-form-urlencoded":
	case "application/json":
		return nil, false
	default:
		// Unlabelled bodies are only treated as forms when they look like key=value pairs.
		if !bytes.Contains(body, []byte("=")) {
			return nil, false
		}
	}
	raw := strings.TrimSpace(string(body))
	values, err := url.ParseQuery(raw)
	if err != nil {
		log.Printf("form body has malformed escapes, keeping raw values: %v", err)
		values = parseQueryLoose(raw)
	}
	return values, len(values) > 0
}

// parseQueryLoose splits a query like url.ParseQuery but keeps pairs whose escapes are invalid
// (e.g. "50% off"), decoding only '+' as a space.
func parseQueryLoose(raw string) url.Values {
	values := url.Values{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" || strings.Contains(pair, ";") {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key, value = unescapeLoose(key), unescapeLoose(value)
		if key == "" {
			continue
		}
		values.Add(key, value)
	}
	return values
}

func unescapeLoose(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return strings.ReplaceAll(s, "+", " ")
}

// scalarJSON keeps valid non-object JSON (arrays, strings, numbers) as the payload. It runs before
// formFields so a JSON string or array containing '=' is not read as a form.
func scalarJSON(n *Normalizer, body []byte, _ string, _ map[string]string) (Inbound, bool) {
	v, ok := decodeJSON(body)
	if !ok || v == nil {
		return Inbound{}, false
	}
	return Inbound{Source: n.defaultSource, Payload: v}, true
}
