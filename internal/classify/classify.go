// Package classify provides the two narrow utterance-analysis operations:
// intent classification and number extraction. Both are pure request/response
// and never fail; upstream errors degrade to heuristics or a nil result.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/covergate/covergate/internal/openai"
)

const (
	IntentAffirmation   = "affirmation"
	IntentNegation      = "negation"
	IntentClarification = "clarification"
	IntentBusy          = "busy"
	IntentNotInterested = "not_interested"
	IntentProvideInfo   = "provide_info"
	IntentUnknown       = "unknown"
)

const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// ExtractedInfo holds qualification facts recognized in the utterance.
type ExtractedInfo struct {
	Provider       string `json:"provider"`
	DurationMonths int    `json:"duration_months"`
}

// Classification is always fully populated; Intent is one of the Intent*
// constants and Sentiment one of positive/neutral/negative.
type Classification struct {
	Intent        string        `json:"intent"`
	Sentiment     string        `json:"sentiment"`
	ExtractedInfo ExtractedInfo `json:"extracted_info"`
	Confidence    string        `json:"confidence"`
}

type Classifier struct {
	llm    *openai.Client
	logger *slog.Logger
}

func New(llm *openai.Client, logger *slog.Logger) *Classifier {
	return &Classifier{llm: llm, logger: logger}
}

const classifyPrompt = `You analyze one caller utterance from an insurance qualification call.
Current question: %q
Dialogue state: %q

Classify the utterance and extract any qualification facts. Durations must be converted to whole months (e.g. "two years" is 24).

Respond with ONLY a JSON object:
{
  "intent": "affirmation | negation | clarification | busy | not_interested | provide_info | unknown",
  "sentiment": "positive | neutral | negative",
  "extracted_info": {"provider": "", "duration_months": 0},
  "confidence": "low | medium | high"
}`

// ClassifyUtterance analyzes caller speech. It never returns an error: on any
// upstream or parse failure it falls back to keyword heuristics and finally
// to a neutral unknown result.
func (c *Classifier) ClassifyUtterance(ctx context.Context, speech, questionContext, dialogueState string) Classification {
	if c.llm == nil || strings.TrimSpace(speech) == "" {
		return heuristicClassify(speech)
	}

	system := fmt.Sprintf(classifyPrompt, questionContext, dialogueState)
	raw, err := c.llm.Complete(ctx, system, []openai.Message{{Role: "user", Content: speech}}, openai.CompleteOptions{
		Temperature: 0.2,
		MaxTokens:   200,
		JSONOnly:    true,
	})
	if err != nil {
		c.logger.Warn("classification call failed, using heuristics", "error", err)
		return heuristicClassify(speech)
	}

	var result Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil || !validIntent(result.Intent) {
		c.logger.Warn("unparseable classification output, using heuristics", "raw_len", len(raw))
		return heuristicClassify(speech)
	}
	if result.Sentiment == "" {
		result.Sentiment = "neutral"
	}
	if result.Confidence == "" {
		result.Confidence = ConfidenceLow
	}
	return result
}

const extractPrompt = `Extract any number or duration mentioned in the utterance. Durations must be converted to whole months. Respond with ONLY a JSON object: {"number": <value>} or {"number": null} if none is present.`

// ExtractNumber pulls a numeric or duration value from speech. It returns nil
// on any failure: call error, malformed output, or missing client.
func (c *Classifier) ExtractNumber(ctx context.Context, speech string) *float64 {
	if c.llm == nil {
		return nil
	}

	raw, err := c.llm.Complete(ctx, extractPrompt, []openai.Message{{Role: "user", Content: speech}}, openai.CompleteOptions{
		Temperature: 0,
		MaxTokens:   50,
		JSONOnly:    true,
	})
	if err != nil {
		c.logger.Warn("number extraction call failed", "error", err)
		return nil
	}

	var result struct {
		Number *float64 `json:"number"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.logger.Warn("unparseable extraction output", "raw_len", len(raw))
		return nil
	}
	return result.Number
}

func validIntent(intent string) bool {
	switch intent {
	case IntentAffirmation, IntentNegation, IntentClarification, IntentBusy, IntentNotInterested, IntentProvideInfo, IntentUnknown:
		return true
	}
	return false
}
