package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"webhook-receiver/internal/event"
	"webhook-receiver/internal/forward"
	"webhook-receiver/internal/history"
	"webhook-receiver/internal/llm"
	"webhook-receiver/internal/storage"
)

type fakeModel struct {
	status llm.Status
	resp   llm.Response
	err    error
	calls  int
	msgs   []llm.Message
	// onGenerate runs before the response is returned.
	onGenerate func()
}

func (f *fakeModel) Status() llm.Status { return f.status }

func (f *fakeModel) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	f.calls++
	f.msgs = msgs
	if f.onGenerate != nil {
		f.onGenerate()
	}
	return f.resp, f.err
}

type fakeForwarder struct {
	sent    []forward.Payload
	ctxErrs []error
	err     error
}

func (f *fakeForwarder) Name() string { return "fake" }

func (f *fakeForwarder) Deliver(ctx context.Context, p forward.Payload) error {
	f.sent = append(f.sent, p)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

type memRecorder struct{ items []storage.Roundtrip }

func (m *memRecorder) AppendRoundtrip(rt storage.Roundtrip) error {
	m.items = append(m.items, rt)
	return nil
}

func ready() llm.Status { return llm.Status{Available: true, Provider: "fake", Model: "fake-1"} }

func testEvent() event.Event {
	return event.Event{
		EventID:    "evt-1",
		Source:     "slack",
		Payload:    map[string]any{"Text": "  What time is it?  ", "channel": "C1"},
		ReceivedAt: time.Unix(10, 0).UTC(),
		SessionID:  "slack:C1:T1",
	}
}

func newPipeline(m Model, f forward.Forwarder) (*Pipeline, *history.Manager, *storage.ContextStore) {
	h := history.NewManager(20)
	c := storage.NewContextStore()
	return New(Deps{Model: m, Conversations: h, Context: c, Forwarder: f}), h, c
}

func TestRun_NotConfiguredSkipsEverything(t *testing.T) {
	m := &fakeModel{status: llm.Status{Reason: "missing OPENAI_API_KEY"}}
	fw := &fakeForwarder{}
	p, h, _ := newPipeline(m, fw)

	out := p.Run(context.Background(), testEvent())
	if out.State != StateNotConfigured || out.Reason != "missing OPENAI_API_KEY" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if m.calls != 0 {
		t.Fatalf("model must not be called")
	}
	if len(h.Sessions()) != 0 {
		t.Fatalf("history must not change")
	}
	if len(fw.sent) != 0 {
		t.Fatalf("forwarder must not be called")
	}
}

func TestRun_RepliesRecordsHistoryAndForwards(t *testing.T) {
	m := &fakeModel{status: ready(), resp: llm.Response{Content: " It is noon.\nEnjoy! "}}
	fw := &fakeForwarder{}
	p, h, c := newPipeline(m, fw)
	c.Set("Company: ACME")
	h.Append("slack:C1:T1",
		llm.Message{Role: llm.RoleUser, Content: "earlier question"},
		llm.Message{Role: llm.RoleAssistant, Content: "earlier answer"},
	)

	out := p.Run(context.Background(), testEvent())
	if out.State != StateReplied || out.Reply != "It is noon. Enjoy!" || !out.Forwarded {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	if len(m.msgs) != 4 {
		t.Fatalf("want system+2 history+user, got %d: %+v", len(m.msgs), m.msgs)
	}
	if m.msgs[0].Role != llm.RoleSystem || !strings.HasSuffix(m.msgs[0].Content, "\n\nContext:\nCompany: ACME") {
		t.Fatalf("context not appended to system prompt: %q", m.msgs[0].Content)
	}
	if m.msgs[1].Content != "earlier question" || m.msgs[2].Content != "earlier answer" {
		t.Fatalf("history out of order: %+v", m.msgs[1:3])
	}
	user := m.msgs[3]
	if user.Role != llm.RoleUser || !strings.HasPrefix(user.Content, "User message:\nWhat time is it?\n\n") {
		t.Fatalf("unexpected user turn: %q", user.Content)
	}
	if !strings.Contains(user.Content, "Source: slack\nEvent ID: evt-1") {
		t.Fatalf("metadata missing: %q", user.Content)
	}

	msgs := h.Get("slack:C1:T1")
	if len(msgs) != 4 || msgs[2].Content != user.Content || msgs[3].Content != "It is noon. Enjoy!" {
		t.Fatalf("history not updated: %+v", msgs)
	}
	if msgs[3].Role != llm.RoleAssistant {
		t.Fatalf("last message must be assistant: %+v", msgs[3])
	}

	if len(fw.sent) != 1 {
		t.Fatalf("want 1 forward, got %d", len(fw.sent))
	}
	sent := fw.sent[0]
	if sent.Reply != "It is noon. Enjoy!" || sent.EventID != "evt-1" || sent.SessionID != "slack:C1:T1" || sent.RepliedAt.IsZero() {
		t.Fatalf("unexpected forward payload: %+v", sent)
	}
}

func TestRun_EmptyCompletion(t *testing.T) {
	m := &fakeModel{status: ready(), resp: llm.Response{Content: "  \n "}}
	fw := &fakeForwarder{}
	p, h, _ := newPipeline(m, fw)

	out := p.Run(context.Background(), testEvent())
	if out.State != StateEmpty {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(h.Get("slack:C1:T1")) != 0 || len(fw.sent) != 0 {
		t.Fatalf("empty completion must not touch history or forward")
	}
}

func TestRun_ModelFailure(t *testing.T) {
	boom := errors.New("rate limited")
	m := &fakeModel{status: ready(), err: boom}
	fw := &fakeForwarder{}
	p, h, _ := newPipeline(m, fw)

	out := p.Run(context.Background(), testEvent())
	if out.State != StateFailed || !errors.Is(out.Err, boom) || out.Reason != "rate limited" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(h.Get("slack:C1:T1")) != 0 || len(fw.sent) != 0 {
		t.Fatalf("failure must not touch history or forward")
	}
}

func TestRun_ForwardFailureKeepsHistory(t *testing.T) {
	m := &fakeModel{status: ready(), resp: llm.Response{Content: "Done."}}
	fw := &fakeForwarder{err: errors.New("connection refused")}
	p, h, _ := newPipeline(m, fw)

	out := p.Run(context.Background(), testEvent())
	if out.State != StateReplied || out.Forwarded {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(h.Get("slack:C1:T1")) != 2 {
		t.Fatalf("history must survive forward failure")
	}
}

func TestRun_NoForwarderConfigured(t *testing.T) {
	m := &fakeModel{status: ready(), resp: llm.Response{Content: "Done."}}
	p, _, _ := newPipeline(m, nil)
	if out := p.Run(context.Background(), testEvent()); out.State != StateReplied || out.Forwarded {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestRun_RecordsRoundtrip(t *testing.T) {
	rec := &memRecorder{}
	m := &fakeModel{status: ready(), resp: llm.Response{Content: "Ok."}}
	p := New(Deps{Model: m, Conversations: history.NewManager(20), Context: storage.NewContextStore(), Recorder: rec})

	p.Run(context.Background(), testEvent())
	items := rec.items
	if len(items) != 1 {
		t.Fatalf("want 1 record, got %d", len(items))
	}
	rt := items[0]
	if rt.EventID != "evt-1" || rt.Request.Model != "fake-1" || rt.Response.Text == nil || *rt.Response.Text != "Ok." {
		t.Fatalf("unexpected record: %+v", rt)
	}
	if rt.Context.Included || rt.Session.HistoryIncluded || rt.Session.ID != "slack:C1:T1" {
		t.Fatalf("unexpected context/session info: %+v %+v", rt.Context, rt.Session)
	}
}

func TestExtractUserText(t *testing.T) {
	cases := []struct {
		payload any
		want    string
	}{
		{map[string]any{"question": "Why?", "text": "ignored"}, "Why?"},
		{map[string]any{"message": "  ", "Query": "find it"}, "find it"},
		{map[string]any{"count": 2}, `{"count":2}`},
		{map[string]any{"html": "<b>x</b>"}, `{"html":"<b>x</b>"}`},
		{"plain", `"plain"`},
		{nil, "null"},
	}
	for _, tc := range cases {
		if got := ExtractUserText(tc.payload); got != tc.want {
			t.Fatalf("ExtractUserText(%v): want %q, got %q", tc.payload, tc.want, got)
		}
	}
}

func TestSystemPromptWithoutContext(t *testing.T) {
	if got := SystemPrompt("", true); strings.Contains(got, "Context:") {
		t.Fatalf("blank context must not be appended: %q", got)
	}
	if got := SystemPrompt("x", false); strings.Contains(got, "Context:") {
		t.Fatalf("unset context must not be appended: %q", got)
	}
}

func TestRun_ForwardSurvivesExpiredRunContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &fakeModel{status: ready(), resp: llm.Response{Content: "Late but fine."}, onGenerate: cancel}
	fw := &fakeForwarder{}
	p, _, _ := newPipeline(m, fw)

	out := p.Run(ctx, testEvent())
	if out.State != StateReplied || !out.Forwarded {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(fw.ctxErrs) != 1 || fw.ctxErrs[0] != nil {
		t.Fatalf("delivery must not inherit the run deadline, got %v", fw.ctxErrs)
	}
}
