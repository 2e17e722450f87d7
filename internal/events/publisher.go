// Package events publishes call lifecycle events for downstream consumers
// (dialer analytics, lead CRM sync). Optional: a nil *Publisher is a no-op
// from the caller's perspective.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectCallStarted = "voice.call.started"
	SubjectCallRouted  = "voice.call.routed"
)

// CallStarted is emitted when a new call session is created.
type CallStarted struct {
	CallSID string `json:"call_sid"`
	From    string `json:"from"`
	At      string `json:"at"`
}

// CallRouted is emitted for every routing decision.
type CallRouted struct {
	CallSID     string `json:"call_sid"`
	Action      string `json:"action"`
	Destination string `json:"destination,omitempty"`
	Structured  bool   `json:"structured"`
	At          string `json:"at"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: nc, logger: logger}, nil
}

func (p *Publisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

func (p *Publisher) Close() {
	p.conn.Close()
}

// Timestamp formats event times consistently.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
