package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
)

// EventKind names a committed state change.
type EventKind string

const (
	EventRequestSubmitted EventKind = "request_submitted"
	EventStageAdvanced    EventKind = "stage_advanced"
	EventRequestApproved  EventKind = "request_approved"
	EventRequestRejected  EventKind = "request_rejected"
	EventRequestAssigned  EventKind = "request_assigned"
	EventSLAReminder      EventKind = "sla_reminder"
)

// Event is emitted after a transaction commits. Request is the committed state.
type Event struct {
	Kind    EventKind
	Request *repository.ApprovalRequest
	// Stage is the stage that was decided, or the stage now awaiting action
	// for submitted, advanced and reminder events.
	Stage      string
	ActorID    string
	Comments   string
	OccurredAt time.Time
}

// EventSink consumes committed events. Implementations must not fail the
// caller; errors are theirs to log.
type EventSink interface {
	Publish(ctx context.Context, evt Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, evt Event)

func (f EventSinkFunc) Publish(ctx context.Context, evt Event) { f(ctx, evt) }

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
