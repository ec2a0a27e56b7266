package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-erp-approvals/internal/service"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "notifications.approvals"

// EventPublisher is satisfied by *nats.Client.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the notifications service (email and push delivery).
//
// Subject convention: notifications.approvals.<event_type>
// Event types: request_submitted, stage_advanced, request_approved,
//              request_rejected, request_assigned, sla_reminder
type NotificationPublisher struct {
	nats EventPublisher
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id,omitempty"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Stage        string         `json:"stage,omitempty"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	ActionURL    string         `json:"action_url,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil publisher turns every
// dispatch into a no-op.
func NewNotificationPublisher(nats EventPublisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

func (p *NotificationPublisher) Name() string { return "nats" }

// Dispatch implements service.Dispatcher.
func (p *NotificationPublisher) Dispatch(ctx context.Context, msg service.Message) error {
	if p.nats == nil || len(msg.Recipients) == 0 {
		return nil
	}

	event := &NotificationEvent{
		EventType:    msg.EventType,
		ActorID:      msg.ActorID,
		Recipients:   msg.Recipients,
		ResourceType: string(msg.Workflow),
		ResourceID:   msg.RequestID,
		Stage:        msg.Stage,
		Title:        msg.Title,
		Body:         msg.Body,
		IsActionable: isActionable(msg.EventType),
		ActionURL:    msg.Link,
		Severity:     severity(msg.EventType),
		Category:     "approvals",
		Payload:      msg.Payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notification: failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, msg.EventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		return err
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", msg.RequestID).
		Int("recipients", len(msg.Recipients)).
		Msg("notification: event published")
	return nil
}

func isActionable(eventType string) bool {
	switch service.EventKind(eventType) {
	case service.EventRequestSubmitted, service.EventStageAdvanced, service.EventSLAReminder, service.EventRequestAssigned:
		return true
	}
	return false
}

func severity(eventType string) string {
	switch service.EventKind(eventType) {
	case service.EventRequestRejected, service.EventSLAReminder:
		return "warning"
	}
	return "info"
}
