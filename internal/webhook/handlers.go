package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/covergate/covergate/internal/classify"
	"github.com/covergate/covergate/internal/dialogue"
	"github.com/covergate/covergate/internal/events"
	"github.com/covergate/covergate/internal/router"
	"github.com/covergate/covergate/internal/session"
	"github.com/covergate/covergate/internal/twiml"
)

const respondPath = "/voice/respond"

// handleCallStart answers the initial call webhook: greet, then listen.
func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	callSID := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	if callSID == "" || from == "" {
		http.Error(w, "CallSid and From are required", http.StatusBadRequest)
		return
	}

	s.deps.Locks.Lock(callSID)
	defer s.deps.Locks.Unlock(callSID)

	ctx := r.Context()
	sess, err := s.deps.Sessions.GetOrCreate(ctx, callSID, from)
	if err != nil {
		s.deps.Logger.Error("session create failed", "call_sid", callSID, "error", err)
		s.respondTwiML(w, twiml.Response{Verbs: []any{
			twiml.Say{Text: "We're sorry, we can't take your call right now. Goodbye."},
			twiml.Hangup{},
		}})
		return
	}

	s.publish(events.SubjectCallStarted, events.CallStarted{
		CallSID: callSID,
		From:    from,
		At:      events.Timestamp(),
	})
	if s.deps.CallLog != nil {
		if err := s.deps.CallLog.RecordCall(ctx, callSID, from); err != nil {
			s.deps.Logger.Warn("call log write failed", "call_sid", callSID, "error", err)
		}
	}

	result := s.deps.Engine.TakeTurn(ctx, sess, "")
	s.recordTurns(ctx, callSID, "", result.Reply)

	// Call start always prompts and listens, whatever the model said.
	s.respondTwiML(w, twiml.Response{Verbs: []any{
		s.speak(r, result.Reply),
		twiml.NewGather(respondPath),
	}})
}

// handleRespond runs one dialogue turn on recognized speech and routes.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	callSID := r.PostFormValue("CallSid")
	if callSID == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))

	s.deps.Locks.Lock(callSID)
	defer s.deps.Locks.Unlock(callSID)

	ctx := r.Context()
	sess, err := s.deps.Sessions.GetOrCreate(ctx, callSID, r.PostFormValue("From"))
	if err != nil {
		s.deps.Logger.Error("session lookup failed", "call_sid", callSID, "error", err)
		s.respondTwiML(w, twiml.Response{Verbs: []any{
			twiml.Say{Text: "We're sorry, something went wrong. Goodbye."},
			twiml.Hangup{},
		}})
		return
	}

	// A provider retry can hit this endpoint before the call row exists.
	if s.deps.CallLog != nil {
		if err := s.deps.CallLog.RecordCall(ctx, callSID, sess.From); err != nil {
			s.deps.Logger.Warn("call log write failed", "call_sid", callSID, "error", err)
		}
	}

	result := s.deps.Engine.TakeTurn(ctx, sess, speech)
	s.recordTurns(ctx, callSID, speech, result.Reply)

	decision := s.deps.Router.Decide(result)
	s.publish(events.SubjectCallRouted, events.CallRouted{
		CallSID:     callSID,
		Action:      result.Action,
		Destination: decision.Destination,
		Structured:  result.Structured,
		At:          events.Timestamp(),
	})
	if s.deps.CallLog != nil {
		if err := s.deps.CallLog.RecordDecision(ctx, callSID, result.Action, decision.Destination, result.Structured); err != nil {
			s.deps.Logger.Warn("decision log write failed", "call_sid", callSID, "error", err)
		}
	}

	switch decision.Kind {
	case router.Transfer:
		if err := s.deps.Sessions.SetConverted(ctx, callSID); err != nil {
			s.deps.Logger.Warn("set converted failed", "call_sid", callSID, "error", err)
		}
		if s.deps.CallLog != nil {
			if err := s.deps.CallLog.MarkConverted(ctx, callSID); err != nil {
				s.deps.Logger.Warn("mark converted failed", "call_sid", callSID, "error", err)
			}
		}
		s.deps.Logger.Info("transferring call", "call_sid", callSID, "destination", decision.Destination)
		s.respondTwiML(w, twiml.Response{Verbs: []any{
			s.speak(r, result.Reply),
			s.dial(decision.Destination),
		}})
	case router.Hangup:
		s.deps.Logger.Info("ending call", "call_sid", callSID, "action", result.Action)
		s.respondTwiML(w, twiml.Response{Verbs: []any{
			s.speak(r, result.Reply),
			twiml.Hangup{},
		}})
	default:
		s.respondTwiML(w, twiml.Response{Verbs: []any{
			s.speak(r, result.Reply),
			twiml.NewGather(respondPath),
		}})
	}
}

// handleRecording is the alternate input modality: download the recorded
// audio, transcribe it, classify insured status, dial accordingly.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	callSID := r.PostFormValue("CallSid")
	recordingURL := r.PostFormValue("RecordingUrl")
	if callSID == "" || recordingURL == "" {
		http.Error(w, "CallSid and RecordingUrl are required", http.StatusBadRequest)
		return
	}

	s.deps.Locks.Lock(callSID)
	defer s.deps.Locks.Unlock(callSID)

	ctx := r.Context()
	speech, err := s.transcribeRecording(r, recordingURL)
	if err != nil {
		s.deps.Logger.Error("recording transcription failed", "call_sid", callSID, "error", err)
		s.respondTwiML(w, twiml.Response{Verbs: []any{
			twiml.Say{Text: "Sorry, I didn't catch that. Are you currently insured?"},
			twiml.NewGather(respondPath),
		}})
		return
	}

	if _, err := s.deps.Sessions.GetOrCreate(ctx, callSID, r.PostFormValue("From")); err != nil {
		s.deps.Logger.Warn("session create failed", "call_sid", callSID, "error", err)
	}
	if _, err := s.deps.Sessions.Append(ctx, callSID, session.RoleUser, speech); err != nil {
		s.deps.Logger.Warn("append recording turn failed", "call_sid", callSID, "error", err)
	}
	if s.deps.CallLog != nil {
		if err := s.deps.CallLog.RecordCall(ctx, callSID, r.PostFormValue("From")); err != nil {
			s.deps.Logger.Warn("call log write failed", "call_sid", callSID, "error", err)
		}
	}
	s.recordTurns(ctx, callSID, speech, "")

	c := s.deps.Classifier.ClassifyUtterance(ctx, speech, "Are you currently insured, and for how long?", "recording")

	uninsured := c.Intent == classify.IntentNegation ||
		(c.ExtractedInfo.DurationMonths > 0 && c.ExtractedInfo.DurationMonths < 12)
	result := dialogue.TurnResult{
		Action:     dialogue.ActionTransferInsured,
		Structured: true,
		Extracted:  dialogue.Extracted{Provider: c.ExtractedInfo.Provider, DurationMonths: c.ExtractedInfo.DurationMonths},
	}
	if uninsured {
		result.Action = dialogue.ActionTransferUninsured
	}
	decision := s.deps.Router.Decide(result)

	s.publish(events.SubjectCallRouted, events.CallRouted{
		CallSID:     callSID,
		Action:      result.Action,
		Destination: decision.Destination,
		Structured:  true,
		At:          events.Timestamp(),
	})
	if s.deps.CallLog != nil {
		if err := s.deps.CallLog.RecordDecision(ctx, callSID, result.Action, decision.Destination, true); err != nil {
			s.deps.Logger.Warn("decision log write failed", "call_sid", callSID, "error", err)
		}
	}

	s.deps.Logger.Info("routing recorded call", "call_sid", callSID, "intent", c.Intent, "destination", decision.Destination)
	s.respondTwiML(w, twiml.Response{Verbs: []any{
		twiml.Say{Text: "Thank you. Connecting you now."},
		s.dial(decision.Destination),
	}})
}

func (s *Server) transcribeRecording(r *http.Request, url string) (string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.deps.TwilioAccountSID != "" {
		req.SetBasicAuth(s.deps.TwilioAccountSID, s.deps.TwilioAuthToken)
	}

	resp, err := s.fetch.Do(req)
	if err != nil {
		return "", fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download recording: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read recording: %w", err)
	}

	text, err := s.deps.STT.Transcribe(r.Context(), "recording.mp3", data)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty transcription")
	}
	return text, nil
}

// dial builds the transfer verb. The outbound leg presents the agent's own
// number so the receiving desk recognizes the source.
func (s *Server) dial(destination string) twiml.Dial {
	return twiml.Dial{CallerID: s.deps.TwilioPhoneNumber, Number: destination}
}

// speak synthesizes the reply and returns a Play verb pointing at the cached
// clip. When synthesis fails the provider's own voice reads the text instead,
// so the caller always hears something.
func (s *Server) speak(r *http.Request, text string) any {
	data, err := s.deps.TTS.Synthesize(r.Context(), text)
	if err != nil {
		s.deps.Logger.Warn("speech synthesis failed, using plain say", "error", err)
		return twiml.Say{Text: text}
	}
	id := s.deps.Audio.Put(data)
	return twiml.Play{URL: fmt.Sprintf("%s/audio/%s.mp3", strings.TrimRight(s.deps.PublicBaseURL, "/"), id)}
}

func (s *Server) respondTwiML(w http.ResponseWriter, doc twiml.Response) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twiml.Render(doc)))
}

func (s *Server) publish(subject string, data any) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Publish(subject, data); err != nil {
		s.deps.Logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// recordTurns writes the round's turns to the call log, best effort.
func (s *Server) recordTurns(ctx context.Context, callSID, userText, assistantText string) {
	if s.deps.CallLog == nil {
		return
	}
	if userText != "" {
		if err := s.deps.CallLog.RecordTurn(ctx, callSID, session.RoleUser, userText); err != nil {
			s.deps.Logger.Warn("turn log write failed", "call_sid", callSID, "error", err)
		}
	}
	if assistantText != "" {
		if err := s.deps.CallLog.RecordTurn(ctx, callSID, session.RoleAssistant, assistantText); err != nil {
			s.deps.Logger.Warn("turn log write failed", "call_sid", callSID, "error", err)
		}
	}
}
