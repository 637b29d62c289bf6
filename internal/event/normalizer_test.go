package event

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"reflect"
	"testing"
)

func asJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer("zapier")
	cases := []struct {
		name        string
		body        string
		contentType string
		wantSource  string
		wantID      string
		wantSession string
		wantPayload string
	}{
		{
			name:        "canonical",
			body:        `{"event_id":"evt-1","source":"slack","payload":{"a":1},"session_id":"s-1"}`,
			contentType: "application/json",
			wantSource:  "slack",
			wantID:      "evt-1",
			wantSession: "s-1",
			wantPayload: `{"a":1}`,
		},
		{
			name:        "wrapped payload without source",
			body:        `{"payload":{"text":"hi"}}`,
			contentType: "application/json",
			wantSource:  "zapier",
			wantPayload: `{"text":"hi"}`,
		},
		{
			name:        "bare object",
			body:        `{"text":"hi","user":"u1"}`,
			contentType: "application/json",
			wantSource:  "zapier",
			wantPayload: `{"text":"hi","user":"u1"}`,
		},
		{
			name:        "bare object keeps source",
			body:        `{"source":"github","action":"opened"}`,
			wantSource:  "github",
			wantPayload: `{"action":"opened","source":"github"}`,
		},
		{
			name:        "form with json payload",
			body:        `source=hooks&payload=%7B%22k%22%3A%22v%22%7D`,
			contentType: "application/x-www-form-urlencoded",
			wantSource:  "hooks",
			wantPayload: `{"k":"v"}`,
		},
		{
			name:        "form with broken payload",
			body:        `payload=not-json`,
			contentType: "application/x-www-form-urlencoded",
			wantSource:  "zapier",
			wantPayload: `{"raw":"not-json"}`,
		},
		{
			name:        "form fields",
			body:        `text=hello&tag=a&tag=b`,
			contentType: "application/x-www-form-urlencoded; charset=utf-8",
			wantSource:  "zapier",
			wantPayload: `{"tag":["a","b"],"text":"hello"}`,
		},
		{
			name:        "json array",
			body:        `[1,2]`,
			contentType: "application/json",
			wantSource:  "zapier",
			wantPayload: `[1,2]`,
		},
		{
			name:        "json array containing equals sign",
			body:        `[{"url":"https://x.io/?a=b"}]`,
			contentType: "application/json",
			wantSource:  "zapier",
			wantPayload: `[{"url":"https://x.io/?a=b"}]`,
		},
		{
			name:        "unlabelled json string containing equals sign",
			body:        `"a=b"`,
			wantSource:  "zapier",
			wantPayload: `"a=b"`,
		},
		{
			name:        "form with malformed escape keeps every field",
			body:        `message=50% off&user=u1`,
			contentType: "application/x-www-form-urlencoded",
			wantSource:  "zapier",
			wantPayload: `{"message":"50% off","user":"u1"}`,
		},
		{
			name:        "form with malformed escape keeps decodable pairs decoded",
			body:        `source=shop&note=100%+sure&title=big+sale`,
			contentType: "application/x-www-form-urlencoded",
			wantSource:  "shop",
			wantPayload: `{"note":"100% sure","source":"shop","title":"big sale"}`,
		},
		{
			name:        "garbage",
			body:        `{{{not json`,
			contentType: "application/json",
			wantSource:  "zapier",
			wantPayload: `{}`,
		},
		{
			name:        "empty",
			body:        ``,
			wantSource:  "zapier",
			wantPayload: `{}`,
		},
		{
			name:        "bad content type",
			body:        `{"source":"x","payload":null}`,
			contentType: ";;;",
			wantSource:  "x",
			wantPayload: `null`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := n.Normalize([]byte(tc.body), tc.contentType)
			if in.Source != tc.wantSource {
				t.Fatalf("source: want %q, got %q", tc.wantSource, in.Source)
			}
			if in.EventID != tc.wantID {
				t.Fatalf("event id: want %q, got %q", tc.wantID, in.EventID)
			}
			if in.SessionID != tc.wantSession {
				t.Fatalf("session: want %q, got %q", tc.wantSession, in.SessionID)
			}
			if got := asJSON(t, in.Payload); got != tc.wantPayload {
				t.Fatalf("payload: want %s, got %s", tc.wantPayload, got)
			}
		})
	}
}

func TestNormalize_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("source", "typeform")
	_ = w.WriteField("answer", "42")
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	in := NewNormalizer("").Normalize(buf.Bytes(), w.FormDataContentType())
	if in.Source != "typeform" {
		t.Fatalf("unexpected source %q", in.Source)
	}
	want := map[string]any{"source": "typeform", "answer": "42"}
	if !reflect.DeepEqual(in.Payload, want) {
		t.Fatalf("unexpected payload %#v", in.Payload)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty id %q", id)
		}
		seen[id] = true
	}
}

func TestPayloadSize(t *testing.T) {
	if got := PayloadSize(map[string]any{"a": 1, "b": 2}); got != 2 {
		t.Fatalf("want 2, got %d", got)
	}
	if got := PayloadSize("abc"); got != 5 {
		t.Fatalf("want 5, got %d", got)
	}
}
