// Package router turns a dialogue result into a call-control decision.
package router

import (
	"log/slog"
	"strings"

	"github.com/covergate/covergate/internal/dialogue"
)

type Kind int

const (
	Continue Kind = iota
	Transfer
	Hangup
)

// Decision is computed fresh each turn and never stored.
type Decision struct {
	Kind        Kind
	Destination string
}

// Numbers are the fixed handoff destinations.
type Numbers struct {
	Insured   string
	Uninsured string
}

type Router struct {
	numbers Numbers
	logger  *slog.Logger
}

func New(numbers Numbers, logger *slog.Logger) *Router {
	return &Router{numbers: numbers, logger: logger}
}

// Decide maps a turn result to a decision. The structured action is
// authoritative; trigger-phrase matching is only the fallback for output that
// broke the structured contract.
func (r *Router) Decide(res dialogue.TurnResult) Decision {
	if !res.Structured {
		return r.DecideFromText(res.Reply)
	}

	switch res.Action {
	case dialogue.ActionTransferInsured:
		r.warnIncomplete(res)
		return Decision{Kind: Transfer, Destination: r.numbers.Insured}
	case dialogue.ActionTransferUninsured:
		r.warnIncomplete(res)
		return Decision{Kind: Transfer, Destination: r.numbers.Uninsured}
	case dialogue.ActionRequestCallback, dialogue.ActionEndCall:
		return Decision{Kind: Hangup}
	default:
		return Decision{Kind: Continue}
	}
}

// DecideFromText matches the legacy trigger phrases case-insensitively.
func (r *Router) DecideFromText(reply string) Decision {
	lower := strings.ToLower(reply)

	if !strings.Contains(lower, "connecting you now") && !strings.Contains(lower, "transferring you") {
		return Decision{Kind: Continue}
	}

	for _, trigger := range []string{"uninsured agent", "not insured", "less than 12 months"} {
		if strings.Contains(lower, trigger) {
			return Decision{Kind: Transfer, Destination: r.numbers.Uninsured}
		}
	}
	return Decision{Kind: Transfer, Destination: r.numbers.Insured}
}

// A transfer with no established duration is still honored; the handoff agent
// re-verifies, so a warning beats forcing another clarification turn.
func (r *Router) warnIncomplete(res dialogue.TurnResult) {
	if res.Extracted.DurationMonths == 0 && res.Action == dialogue.ActionTransferInsured {
		r.logger.Warn("transferring with incomplete qualification",
			"action", res.Action,
			"provider", res.Extracted.Provider,
		)
	}
}
