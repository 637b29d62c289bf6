package reply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"webhook-receiver/internal/event"
	"webhook-receiver/internal/llm"
)

const baseSystemPrompt = "You are a concise assistant. Respond in one single sentence only. " +
	"Primary instruction: Answer the user's message provided under 'User message' below. " +
	"Do not restate or summarize metadata such as Source or Event ID. " +
	"If the message is not a question, reply with a brief, helpful acknowledgement related to the message. " +
	"Do not include extra explanations or multiple sentences."

// TextKeys are checked case-insensitively, in order, for the human-readable part of a payload.
var TextKeys = []string{"question", "message", "text", "content", "prompt", "query"}

// SystemPrompt appends the shared context blob, when set, to the base instruction.
func SystemPrompt(contextText string, ok bool) string {
	if !ok || strings.TrimSpace(contextText) == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\nContext:\n" + contextText
}

// UserTurn renders the event as the current user message with out-of-band metadata.
func UserTurn(ev event.Event) string {
	return fmt.Sprintf("User message:\n%s\n\n[Metadata - ignore for response]\nSource: %s\nEvent ID: %s",
		ExtractUserText(ev.Payload), ev.Source, ev.EventID)
}

// BuildPrompt orders messages as system, prior history (oldest first), then the current turn.
func BuildPrompt(system string, prior []llm.Message, userTurn string) []llm.Message {
	msgs := make([]llm.Message, 0, len(prior)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, prior...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userTurn})
	return msgs
}

// ExtractUserText prefers a common text-bearing field and otherwise renders the payload as JSON.
func ExtractUserText(payload any) string {
	if obj, ok := payload.(map[string]any); ok {
		if s, ok := textField(obj); ok {
			return s
		}
	}
	return compactJSON(payload)
}

func textField(obj map[string]any) (string, bool) {
	for _, key := range TextKeys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
		for k, v := range obj {
			if !strings.EqualFold(k, key) {
				continue
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// cleanReply trims the completion and folds it onto one line.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
