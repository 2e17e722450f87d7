package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/covergate/covergate/internal/audio"
	"github.com/covergate/covergate/internal/classify"
	"github.com/covergate/covergate/internal/dialogue"
	"github.com/covergate/covergate/internal/elevenlabs"
	"github.com/covergate/covergate/internal/openai"
	"github.com/covergate/covergate/internal/router"
	"github.com/covergate/covergate/internal/session"
)

const (
	insuredNumber   = "+15550001111"
	uninsuredNumber = "+15550002222"
	agentNumber     = "+15559998888"
)

// testEnv wires the full handler stack against fake upstream servers.
type testEnv struct {
	srv   *Server
	store *session.MemoryStore

	mu             sync.Mutex
	llmContent     string
	llmFail        bool
	ttsFail        bool
	transcribeText string
}

func (e *testEnv) setLLM(content string) {
	e.mu.Lock()
	e.llmContent = content
	e.mu.Unlock()
}

func (e *testEnv) setStructuredLLM(t *testing.T, reply, action string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"reply":  reply,
		"action": action,
		"extracted": map[string]any{
			"provider":        "Acme",
			"duration_months": 24,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	e.setLLM(string(body))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		content, fail, transcript := env.llmContent, env.llmFail, env.transcribeText
		env.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		switch r.URL.Path {
		case "/chat/completions":
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": content}},
				},
			})
		case "/audio/transcriptions":
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"text": transcript})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(upstream.Close)

	tts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		fail := env.ttsFail
		env.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("fake-mp3"))
	}))
	t.Cleanup(tts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	llm := openai.NewClient("test-key", "test-model", 5*time.Second)
	llm.SetTestTransport(upstream.URL)

	ttsClient := elevenlabs.NewClient("test-key", "voice-123", 0.5, 0.75, 5*time.Second)
	ttsClient.SetTestTransport(tts.URL)

	store := session.NewMemoryStore(time.Hour)
	env.store = store

	env.srv = NewServer(0, Deps{
		Engine:            dialogue.NewEngine(llm, store, logger),
		Router:            router.New(router.Numbers{Insured: insuredNumber, Uninsured: uninsuredNumber}, logger),
		Classifier:        classify.New(llm, logger),
		TTS:               ttsClient,
		STT:               llm,
		Sessions:          store,
		Locks:             session.NewCallLocks(),
		Audio:             audio.NewCache(time.Hour),
		Logger:            logger,
		PublicBaseURL:     "https://agent.example.com",
		TwilioPhoneNumber: agentNumber,
	})

	return env
}

func postForm(t *testing.T, srv *Server, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestCallStart_PlayThenGather(t *testing.T) {
	env := newTestEnv(t)
	env.setStructuredLLM(t, "Hi, do you currently have car insurance?", dialogue.ActionAskMore)

	w := postForm(t, env.srv, "/voice", url.Values{
		"CallSid": {"CA100"},
		"From":    {"+15551234567"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("expected text/xml, got %q", ct)
	}

	body := w.Body.String()
	if n := strings.Count(body, "<Play>"); n != 1 {
		t.Errorf("expected exactly one Play, got %d:\n%s", n, body)
	}
	if n := strings.Count(body, "<Gather"); n != 1 {
		t.Errorf("expected exactly one Gather, got %d:\n%s", n, body)
	}
	if strings.Index(body, "<Play>") > strings.Index(body, "<Gather") {
		t.Error("expected Play before Gather")
	}
	if !strings.Contains(body, "https://agent.example.com/audio/") {
		t.Errorf("expected public audio URL, got:\n%s", body)
	}
}

func TestCallStart_MissingFieldsRejected(t *testing.T) {
	env := newTestEnv(t)

	w := postForm(t, env.srv, "/voice", url.Values{"From": {"+15551234567"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing CallSid, got %d", w.Code)
	}

	w = postForm(t, env.srv, "/voice", url.Values{"CallSid": {"CA100"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing From, got %d", w.Code)
	}

	// No session may be created for a rejected request.
	if env.store.Len() != 0 {
		t.Errorf("expected no sessions, got %d", env.store.Len())
	}
}

func TestRespond_ContinuePromptsAgain(t *testing.T) {
	env := newTestEnv(t)
	env.setStructuredLLM(t, "And which provider are you with?", dialogue.ActionAskMore)

	w := postForm(t, env.srv, "/voice/respond", url.Values{
		"CallSid":      {"CA200"},
		"SpeechResult": {"I've been insured for 2 years"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Errorf("expected a Gather to continue, got:\n%s", body)
	}
	if strings.Contains(body, "<Dial") {
		t.Errorf("did not expect a Dial, got:\n%s", body)
	}
}

func TestRespond_TransferUninsuredDials(t *testing.T) {
	env := newTestEnv(t)
	env.setStructuredLLM(t, "Great, connecting you now.", dialogue.ActionTransferUninsured)

	w := postForm(t, env.srv, "/voice/respond", url.Values{
		"CallSid":      {"CA300"},
		"SpeechResult": {"yes, transfer me"},
	})

	body := w.Body.String()
	if !strings.Contains(body, ">"+uninsuredNumber+"</Dial>") {
		t.Errorf("expected dial to uninsured number, got:\n%s", body)
	}
	if !strings.Contains(body, `callerId="`+agentNumber+`"`) {
		t.Errorf("expected agent number as caller id, got:\n%s", body)
	}
	if strings.Contains(body, "<Gather") {
		t.Errorf("did not expect a Gather on transfer, got:\n%s", body)
	}

	sess, _ := env.store.GetOrCreate(context.Background(), "CA300", "")
	if !sess.Converted {
		t.Error("expected session marked converted after transfer")
	}
}

func TestRespond_FreeTextTriggerFallback(t *testing.T) {
	env := newTestEnv(t)
	// Model ignored the structured contract; the trigger phrases still route.
	env.setLLM("Thanks! Connecting you now to our uninsured agent.")

	w := postForm(t, env.srv, "/voice/respond", url.Values{
		"CallSid":      {"CA400"},
		"SpeechResult": {"okay"},
	})

	body := w.Body.String()
	if !strings.Contains(body, ">"+uninsuredNumber+"</Dial>") {
		t.Errorf("expected fallback dial to uninsured number, got:\n%s", body)
	}
}

func TestRespond_EndCallHangsUp(t *testing.T) {
	env := newTestEnv(t)
	env.setStructuredLLM(t, "No problem, have a great day!", dialogue.ActionEndCall)

	w := postForm(t, env.srv, "/voice/respond", url.Values{
		"CallSid":      {"CA500"},
		"SpeechResult": {"not interested"},
	})

	body := w.Body.String()
	if !strings.Contains(body, "<Hangup") {
		t.Errorf("expected Hangup, got:\n%s", body)
	}
}

func TestRespond_MissingCallSidRejected(t *testing.T) {
	env := newTestEnv(t)

	w := postForm(t, env.srv, "/voice/respond", url.Values{"SpeechResult": {"hello"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRespond_SynthesisFailureFallsBackToSay(t *testing.T) {
	env := newTestEnv(t)
	env.setStructuredLLM(t, "Could you repeat that?", dialogue.ActionAskMore)
	env.mu.Lock()
	env.ttsFail = true
	env.mu.Unlock()

	w := postForm(t, env.srv, "/voice/respond", url.Values{
		"CallSid":      {"CA600"},
		"SpeechResult": {"mumble"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite synthesis failure, got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "<Play>") {
		t.Errorf("did not expect a Play when synthesis fails, got:\n%s", body)
	}
	if !strings.Contains(body, "<Say>Could you repeat that?</Say>") {
		t.Errorf("expected Say fallback, got:\n%s", body)
	}
}

func TestRespond_UpstreamFailureStillAnswers(t *testing.T) {
	env := newTestEnv(t)
	env.mu.Lock()
	env.llmFail = true
	env.mu.Unlock()

	w := postForm(t, env.srv, "/voice/respond", url.Values{
		"CallSid":      {"CA700"},
		"SpeechResult": {"hello?"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on upstream failure, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Errorf("expected a re-prompt Gather, got:\n%s", body)
	}
}

func TestRecording_RoutesInsured(t *testing.T) {
	env := newTestEnv(t)
	env.mu.Lock()
	env.transcribeText = "yes I've been insured for two years with Acme"
	env.mu.Unlock()

	classification, _ := json.Marshal(classify.Classification{
		Intent:        classify.IntentAffirmation,
		Sentiment:     "positive",
		ExtractedInfo: classify.ExtractedInfo{Provider: "Acme", DurationMonths: 24},
		Confidence:    classify.ConfidenceHigh,
	})
	env.setLLM(string(classification))

	recording := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("recorded-audio"))
	}))
	defer recording.Close()

	w := postForm(t, env.srv, "/voice/recording", url.Values{
		"CallSid":      {"CA800"},
		"RecordingUrl": {recording.URL},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, ">"+insuredNumber+"</Dial>") {
		t.Errorf("expected dial to insured number, got:\n%s", body)
	}
	if !strings.Contains(body, `callerId="`+agentNumber+`"`) {
		t.Errorf("expected agent number as caller id, got:\n%s", body)
	}
}

func TestRecording_ShortCoverageRoutesUninsured(t *testing.T) {
	env := newTestEnv(t)
	env.mu.Lock()
	env.transcribeText = "only about six months"
	env.mu.Unlock()

	classification, _ := json.Marshal(classify.Classification{
		Intent:        classify.IntentProvideInfo,
		Sentiment:     "neutral",
		ExtractedInfo: classify.ExtractedInfo{DurationMonths: 6},
		Confidence:    classify.ConfidenceHigh,
	})
	env.setLLM(string(classification))

	recording := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("recorded-audio"))
	}))
	defer recording.Close()

	w := postForm(t, env.srv, "/voice/recording", url.Values{
		"CallSid":      {"CA801"},
		"RecordingUrl": {recording.URL},
	})

	body := w.Body.String()
	if !strings.Contains(body, ">"+uninsuredNumber+"</Dial>") {
		t.Errorf("expected dial to uninsured number, got:\n%s", body)
	}
}

func TestRecording_MissingFieldsRejected(t *testing.T) {
	env := newTestEnv(t)

	w := postForm(t, env.srv, "/voice/recording", url.Values{"CallSid": {"CA802"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing RecordingUrl, got %d", w.Code)
	}
}

func TestRecording_TranscriptionFailureReprompts(t *testing.T) {
	env := newTestEnv(t)
	env.mu.Lock()
	env.llmFail = true
	env.mu.Unlock()

	recording := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("recorded-audio"))
	}))
	defer recording.Close()

	w := postForm(t, env.srv, "/voice/recording", url.Values{
		"CallSid":      {"CA803"},
		"RecordingUrl": {recording.URL},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Errorf("expected a re-prompt Gather, got:\n%s", body)
	}
	if strings.Contains(body, "<Dial") {
		t.Errorf("did not expect a Dial on transcription failure, got:\n%s", body)
	}
}

func TestAudioServing(t *testing.T) {
	env := newTestEnv(t)

	id := env.srv.deps.Audio.Put([]byte("clip-bytes"))

	req := httptest.NewRequest(http.MethodGet, "/audio/"+id+".mp3", nil)
	w := httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %q", ct)
	}
	if w.Body.String() != "clip-bytes" {
		t.Errorf("unexpected clip body: %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/audio/unknown.mp3", nil)
	w = httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown clip, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health body: %q", w.Body.String())
	}
}
