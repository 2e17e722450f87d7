// Package dialogue runs one conversational turn: append the caller's speech,
// ask the model for the next reply plus a structured action, append the reply.
package dialogue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/covergate/covergate/internal/openai"
	"github.com/covergate/covergate/internal/session"
)

// Actions the model may emit. The decision signal is a closed enum carried
// next to the free-text reply; reply prose is never parsed for control flow
// when an action is present.
const (
	ActionAskMore           = "ask_more"
	ActionTransferInsured   = "transfer_insured"
	ActionTransferUninsured = "transfer_uninsured"
	ActionRequestCallback   = "request_callback"
	ActionEndCall           = "end_call"
)

// Extracted carries qualification facts pulled from the conversation.
type Extracted struct {
	Provider       string `json:"provider"`
	DurationMonths int    `json:"duration_months"`
}

// TurnResult is what one dialogue round produced. Structured is false when
// the model ignored the output contract and only free text is available.
type TurnResult struct {
	Reply      string
	Action     string
	Extracted  Extracted
	Structured bool
}

type Engine struct {
	llm    *openai.Client
	store  session.Store
	logger *slog.Logger
}

func NewEngine(llm *openai.Client, store session.Store, logger *slog.Logger) *Engine {
	return &Engine{llm: llm, store: store, logger: logger}
}

type llmTurn struct {
	Reply     string    `json:"reply"`
	Action    string    `json:"action"`
	Extracted Extracted `json:"extracted"`
}

// TakeTurn runs one round of the dialogue. It never returns an error: any
// upstream failure degrades to a safe re-prompt so the caller is not left on
// a dead connection.
func (e *Engine) TakeTurn(ctx context.Context, sess *session.Session, incomingSpeech string) TurnResult {
	if incomingSpeech != "" {
		updated, err := e.store.Append(ctx, sess.ID, session.RoleUser, incomingSpeech)
		if err != nil {
			e.logger.Error("append user turn", "call_id", sess.ID, "error", err)
			sess.History = append(sess.History, session.Turn{Role: session.RoleUser, Text: incomingSpeech})
		} else {
			*sess = *updated
		}
	}

	messages := make([]openai.Message, 0, len(sess.History)+1)
	for _, t := range sess.History {
		messages = append(messages, openai.Message{Role: t.Role, Content: t.Text})
	}
	if len(messages) == 0 {
		// Call start: no caller speech yet, prompt the model to open.
		messages = append(messages, openai.Message{Role: session.RoleUser, Content: "The call has just connected. Greet the caller."})
	}

	result := e.complete(ctx, sess.ID, messages)

	updated, err := e.store.Append(ctx, sess.ID, session.RoleAssistant, result.Reply)
	if err != nil {
		e.logger.Error("append assistant turn", "call_id", sess.ID, "error", err)
		sess.History = append(sess.History, session.Turn{Role: session.RoleAssistant, Text: result.Reply})
	} else {
		*sess = *updated
	}

	return result
}

func (e *Engine) complete(ctx context.Context, callID string, messages []openai.Message) TurnResult {
	raw, err := e.llm.Complete(ctx, personaPrompt, messages, openai.CompleteOptions{
		Temperature: 0.2,
		MaxTokens:   300,
		JSONOnly:    true,
	})
	if err != nil {
		e.logger.Error("dialogue completion failed", "call_id", callID, "error", err)
		return TurnResult{Reply: fallbackReply, Action: ActionAskMore, Structured: true}
	}

	var turn llmTurn
	if err := json.Unmarshal([]byte(stripFences(raw)), &turn); err != nil || turn.Reply == "" {
		// The model broke the output contract. Treat the whole completion as
		// free text; the router falls back to trigger-phrase matching.
		e.logger.Warn("unstructured dialogue output", "call_id", callID, "raw_len", len(raw))
		reply := strings.TrimSpace(raw)
		if reply == "" {
			reply = fallbackReply
		}
		return TurnResult{Reply: reply, Structured: false}
	}

	switch turn.Action {
	case ActionAskMore, ActionTransferInsured, ActionTransferUninsured, ActionRequestCallback, ActionEndCall:
		return TurnResult{Reply: turn.Reply, Action: turn.Action, Extracted: turn.Extracted, Structured: true}
	default:
		e.logger.Warn("unknown dialogue action", "call_id", callID, "action", turn.Action)
		return TurnResult{Reply: turn.Reply, Extracted: turn.Extracted, Structured: false}
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
