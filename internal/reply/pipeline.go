package reply

import (
	"context"
	"log"
	"time"

	"webhook-receiver/internal/event"
	"webhook-receiver/internal/forward"
	"webhook-receiver/internal/history"
	"webhook-receiver/internal/llm"
	"webhook-receiver/internal/storage"
)

// Model is the language-model capability the pipeline depends on.
type Model interface {
	Status() llm.Status
	Generate(ctx context.Context, messages []llm.Message) (llm.Response, error)
}

type State string

const (
	StateReplied       State = "replied"
	StateNotConfigured State = "skipped: not configured"
	StateEmpty         State = "skipped: empty completion"
	StateFailed        State = "failed"
)

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	State     State
	Reply     string
	Reason    string
	Err       error
	Forwarded bool
}

type Deps struct {
	Model         Model
	Conversations *history.Manager
	Context       *storage.ContextStore
	// Forwarder and Recorder are optional.
	Forwarder forward.Forwarder
	Recorder  storage.Recorder
}

// Pipeline runs readiness check, prompt assembly, model call, history update and forwarding.
// No store lock is held while the model or forwarder is called.
type Pipeline struct {
	model         Model
	conversations *history.Manager
	contexts      *storage.ContextStore
	forwarder     forward.Forwarder
	recorder      storage.Recorder
	now           func() time.Time
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		model:         d.Model,
		conversations: d.Conversations,
		contexts:      d.Context,
		forwarder:     d.Forwarder,
		recorder:      d.Recorder,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) Run(ctx context.Context, ev event.Event) Outcome {
	st := p.model.Status()
	if !st.Available {
		log.Printf("reply skipped for event %s: not configured (%s)", ev.EventID, st.Reason)
		return Outcome{State: StateNotConfigured, Reason: st.Reason}
	}

	ctxText, hasCtx := p.contexts.Get()
	prior := p.conversations.Get(ev.SessionID)
	userTurn := UserTurn(ev)
	msgs := BuildPrompt(SystemPrompt(ctxText, hasCtx), prior, userTurn)

	resp, err := p.model.Generate(ctx, msgs)
	if err != nil {
		log.Printf("❌ reply failed for event %s (session %s): %v", ev.EventID, ev.SessionID, err)
		p.record(ev, st.Model, msgs, nil, err, ctxText, hasCtx, len(prior))
		return Outcome{State: StateFailed, Reason: err.Error(), Err: err}
	}

	text := cleanReply(resp.Content)
	if text == "" {
		log.Printf("reply skipped for event %s: empty completion", ev.EventID)
		p.record(ev, st.Model, msgs, nil, nil, ctxText, hasCtx, len(prior))
		return Outcome{State: StateEmpty}
	}
	p.record(ev, st.Model, msgs, &text, nil, ctxText, hasCtx, len(prior))

	p.conversations.Append(ev.SessionID,
		llm.Message{Role: llm.RoleUser, Content: userTurn},
		llm.Message{Role: llm.RoleAssistant, Content: text},
	)
	log.Printf("reply for event %s [model=%s, tokens: prompt=%d, completion=%d, total=%d]: %q",
		ev.EventID, resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens, text)

	out := Outcome{State: StateReplied, Reply: text}
	if p.forwarder != nil {
		payload := forward.Payload{
			Reply:     text,
			EventID:   ev.EventID,
			Source:    ev.Source,
			SessionID: ev.SessionID,
			RepliedAt: p.now(),
		}
		// Delivery is bounded by the forwarder's own timeout, not what is left of the run budget.
		if err := p.forwarder.Deliver(context.WithoutCancel(ctx), payload); err != nil {
			log.Printf("❌ forward failed for event %s via %s: %v", ev.EventID, p.forwarder.Name(), err)
		} else {
			out.Forwarded = true
		}
	}
	return out
}

func (p *Pipeline) record(ev event.Event, model string, msgs []llm.Message, text *string, callErr error, ctxText string, hasCtx bool, priorCount int) {
	if p.recorder == nil {
		return
	}
	rt := storage.Roundtrip{
		Timestamp: p.now(),
		Type:      "llm_roundtrip",
		EventID:   ev.EventID,
		Source:    ev.Source,
		UserInput: ev.Payload,
		Request:   storage.RoundtripRequest{Model: model, Messages: msgs},
		Response:  storage.RoundtripReply{Text: text},
		Context:   storage.RoundtripContext{Included: hasCtx && ctxText != ""},
		Session: storage.RoundtripSession{
			ID:              ev.SessionID,
			HistoryIncluded: priorCount > 0,
			HistoryCount:    priorCount,
		},
	}
	if hasCtx {
		rt.Context.Value = &ctxText
	}
	if callErr != nil {
		rt.Response.Error = callErr.Error()
	}
	if err := p.recorder.AppendRoundtrip(rt); err != nil {
		log.Printf("⚠️ failed to record llm roundtrip for event %s: %v", ev.EventID, err)
	}
}
