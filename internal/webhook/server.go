// Package webhook is the inbound HTTP surface for telephony events.
package webhook

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/covergate/covergate/internal/audio"
	"github.com/covergate/covergate/internal/calllog"
	"github.com/covergate/covergate/internal/classify"
	"github.com/covergate/covergate/internal/dialogue"
	"github.com/covergate/covergate/internal/elevenlabs"
	"github.com/covergate/covergate/internal/events"
	"github.com/covergate/covergate/internal/openai"
	"github.com/covergate/covergate/internal/router"
	"github.com/covergate/covergate/internal/session"
)

// Deps are the collaborators handlers need. CallLog and Events may be nil;
// handlers treat them as disabled.
type Deps struct {
	Engine     *dialogue.Engine
	Router     *router.Router
	Classifier *classify.Classifier
	TTS        *elevenlabs.Client
	STT        *openai.Client
	Sessions   session.Store
	Locks      *session.CallLocks
	Audio      *audio.Cache
	CallLog    *calllog.Store
	Events     *events.Publisher
	Logger     *slog.Logger

	PublicBaseURL     string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	UpstreamTimeout   time.Duration
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	fetch  *http.Client
}

func NewServer(port int, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	timeout := deps.UpstreamTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &Server{
		router: r,
		port:   port,
		deps:   deps,
		fetch:  &http.Client{Timeout: timeout},
	}

	r.Get("/health", s.health)
	r.Post("/voice", s.handleCallStart)
	r.Post("/voice/respond", s.handleRespond)
	r.Post("/voice/recording", s.handleRecording)
	r.Get("/audio/{id}.mp3", s.handleAudio)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.deps.Logger.Info("webhook server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, ok := s.deps.Audio.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
