package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Keyword fallbacks, checked in order. The first matching pattern wins, so
// "sorry, what was that?" classifies as clarification before negation.
var heuristicPatterns = []struct {
	intent    string
	sentiment string
	re        *regexp.Regexp
}{
	{IntentBusy, "neutral", regexp.MustCompile(`(?i)\b(busy|driving|at work|in a meeting|call (me )?back|bad time|later)\b`)},
	{IntentNotInterested, "negative", regexp.MustCompile(`(?i)\b(not interested|stop calling|remove me|take me off|do not call|leave me alone)\b`)},
	{IntentClarification, "neutral", regexp.MustCompile(`(?i)\b(what|pardon|repeat|say (that )?again|huh|who is this|didn'?t (hear|catch))\b`)},
	{IntentNegation, "negative", regexp.MustCompile(`(?i)\b(no|nope|nah|don'?t|haven'?t|never|not really)\b`)},
	{IntentAffirmation, "positive", regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|correct|right|absolutely|of course|i do|i am|i have)\b`)},
}

var (
	yearsRe  = regexp.MustCompile(`(?i)(\d+)\s*(?:years?|yrs?)`)
	monthsRe = regexp.MustCompile(`(?i)(\d+)\s*(?:months?|mos?)\b`)
)

// heuristicClassify is the exhaustive regex fallback: it always produces one
// of the enumerated intents, defaulting to unknown/neutral/low.
func heuristicClassify(speech string) Classification {
	result := Classification{
		Intent:     IntentUnknown,
		Sentiment:  "neutral",
		Confidence: ConfidenceLow,
	}

	trimmed := strings.TrimSpace(speech)
	if trimmed == "" {
		return result
	}

	for _, p := range heuristicPatterns {
		if p.re.MatchString(trimmed) {
			result.Intent = p.intent
			result.Sentiment = p.sentiment
			break
		}
	}

	if months := heuristicDurationMonths(trimmed); months > 0 {
		result.ExtractedInfo.DurationMonths = months
		if result.Intent == IntentUnknown {
			result.Intent = IntentProvideInfo
		}
	}

	return result
}

// heuristicDurationMonths recognizes plain "N years" / "N months" phrasings.
func heuristicDurationMonths(speech string) int {
	if m := yearsRe.FindStringSubmatch(speech); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n * 12
		}
	}
	if m := monthsRe.FindStringSubmatch(speech); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}
