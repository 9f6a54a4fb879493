// Package events publishes task transaction outcomes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/transaction"
)

// Event types.
const (
	TypeTaskCreated    = "task.created"
	TypeTaskRolledBack = "task.rolled_back"
)

// Event is a transaction outcome notification.
type Event struct {
	Type           string    `json:"type"`
	RequestID      string    `json:"requestId,omitempty"`
	TemplateID     string    `json:"templateId,omitempty"`
	StepIDs        []string  `json:"stepIds,omitempty"`
	InstanceID     string    `json:"instanceId,omitempty"`
	FailureKind    string    `json:"failureKind,omitempty"`
	CleanupIDs     []string  `json:"cleanupIds,omitempty"`
	PartialCleanup bool      `json:"partialCleanup,omitempty"`
	Time           time.Time `json:"time"`
}

// FromResult builds the event describing res.
func FromResult(res transaction.Result, requestID string, now time.Time) Event {
	ev := Event{RequestID: requestID, Time: now.UTC()}
	switch r := res.(type) {
	case *transaction.Success:
		ev.Type = TypeTaskCreated
		ev.TemplateID = r.TemplateID
		ev.StepIDs = r.StepIDs
		ev.InstanceID = r.InstanceID
	case *transaction.Failure:
		ev.Type = TypeTaskRolledBack
		ev.FailureKind = string(r.Kind)
		ev.CleanupIDs = r.CleanupIDs
		ev.PartialCleanup = r.PartialCleanup
	}
	return ev
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// NATSPublisher publishes events as JSON on <prefix>.<event type>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// ConnectNATS dials url and returns a publisher that closes the connection
// on Close.
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("taskflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))

	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher publishes over an existing connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject events of type eventType are published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}
