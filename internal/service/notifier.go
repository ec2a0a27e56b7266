package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
)

// Message is one notification addressed to a recipient set.
type Message struct {
	EventType  string
	RequestID  string
	Workflow   workflow.Type
	Stage      string
	ActorID    string
	Recipients []string
	Title      string
	Body       string
	Link       string
	Payload    map[string]any
}

// Dispatcher delivers a message over one channel.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, msg Message) error
}

// Notifier turns committed events into messages and fans them out to every
// dispatcher. Dispatch errors are logged and dropped.
type Notifier struct {
	directory   repository.ProfileReader
	registry    *workflow.Registry
	resolver    *workflow.Resolver
	dispatchers []Dispatcher
	log         *logger.Logger
}

func NewNotifier(
	directory repository.ProfileReader,
	registry *workflow.Registry,
	resolver *workflow.Resolver,
	log *logger.Logger,
	dispatchers ...Dispatcher,
) *Notifier {
	return &Notifier{
		directory:   directory,
		registry:    registry,
		resolver:    resolver,
		dispatchers: dispatchers,
		log:         log,
	}
}

// Publish implements EventSink.
func (n *Notifier) Publish(ctx context.Context, evt Event) {
	msg, ok := n.compose(ctx, evt)
	if !ok {
		return
	}

	for _, d := range n.dispatchers {
		if err := d.Dispatch(ctx, msg); err != nil {
			n.log.Warn().Err(err).
				Str("dispatcher", d.Name()).
				Str("event_type", msg.EventType).
				Str("request_id", msg.RequestID).
				Msg("Notification dispatch failed (non-fatal)")
		}
	}
}

// Recipients computes who hears about evt.
func (n *Notifier) Recipients(ctx context.Context, evt Event) []string {
	req := evt.Request
	var ids []string

	switch evt.Kind {
	case EventRequestRejected, EventRequestApproved:
		ids = append(ids, req.RequesterID)
		if req.AssigneeID != nil {
			ids = append(ids, *req.AssigneeID)
		}
	case EventStageAdvanced, EventRequestSubmitted, EventSLAReminder:
		ids = append(ids, n.approversFor(ctx, req, evt.Stage)...)
		if req.AssigneeID != nil && evt.Kind != EventSLAReminder {
			ids = append(ids, *req.AssigneeID)
		}
	case EventRequestAssigned:
		if req.AssigneeID != nil {
			ids = append(ids, *req.AssigneeID)
		}
	}
	return dedupe(ids)
}

func (n *Notifier) approversFor(ctx context.Context, req *repository.ApprovalRequest, stage string) []string {
	if stage == "" {
		return nil
	}
	profiles, err := n.directory.ListProfiles(ctx)
	if err != nil {
		n.log.Warn().Err(err).Str("request_id", req.ID).Msg("Could not load directory for approver fan-out")
		return nil
	}

	actors := make([]workflow.Actor, 0, len(profiles))
	for _, p := range profiles {
		actors = append(actors, p.Actor())
	}

	var ids []string
	for _, a := range n.resolver.Eligible(actors, req.Subject(), stage) {
		ids = append(ids, a.ID)
	}
	return ids
}

func (n *Notifier) compose(ctx context.Context, evt Event) (Message, bool) {
	req := evt.Request
	if req == nil {
		return Message{}, false
	}

	recipients := n.Recipients(ctx, evt)
	if len(recipients) == 0 {
		n.log.Debug().Str("event_type", string(evt.Kind)).Str("request_id", req.ID).Msg("No recipients for event")
		return Message{}, false
	}

	label := evt.Stage
	if st, err := n.registry.Stage(req.WorkflowType, evt.Stage); err == nil && st.Label != "" {
		label = st.Label
	}
	noun := requestNoun(req.WorkflowType)

	msg := Message{
		EventType:  string(evt.Kind),
		RequestID:  req.ID,
		Workflow:   req.WorkflowType,
		Stage:      evt.Stage,
		ActorID:    evt.ActorID,
		Recipients: recipients,
		Link:       fmt.Sprintf("/approvals/%s", req.ID),
		Payload: map[string]any{
			"title":  req.Title,
			"status": req.Status,
		},
	}

	switch evt.Kind {
	case EventRequestSubmitted:
		msg.Title = fmt.Sprintf("New %s awaiting %s approval", noun, label)
		msg.Body = fmt.Sprintf("%q needs your decision.", req.Title)
	case EventStageAdvanced:
		msg.Title = fmt.Sprintf("%s awaiting %s approval", capitalize(noun), label)
		msg.Body = fmt.Sprintf("%q was approved at the previous stage and now needs your decision.", req.Title)
	case EventRequestApproved:
		msg.Title = fmt.Sprintf("%s approved", capitalize(noun))
		msg.Body = fmt.Sprintf("%q has been fully approved.", req.Title)
	case EventRequestRejected:
		msg.Title = fmt.Sprintf("%s rejected at %s", capitalize(noun), label)
		msg.Body = fmt.Sprintf("%q was rejected: %s", req.Title, evt.Comments)
		msg.Payload["comments"] = evt.Comments
	case EventRequestAssigned:
		msg.Title = fmt.Sprintf("%s assigned to you", capitalize(noun))
		msg.Body = fmt.Sprintf("You have been assigned %q.", req.Title)
	case EventSLAReminder:
		msg.Title = fmt.Sprintf("Reminder: %s overdue at %s", noun, label)
		msg.Body = fmt.Sprintf("%q has been waiting longer than the %s target.", req.Title, label)
	}
	return msg, true
}

func requestNoun(t workflow.Type) string {
	switch t {
	case workflow.Procurement:
		return "ticket"
	case workflow.Leave:
		return "leave request"
	}
	return "request"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ── in-app channel ───────────────────────────────────────────────────────────

// InAppDispatcher writes one notification row per recipient.
type InAppDispatcher struct {
	store repository.Store
}

func NewInAppDispatcher(store repository.Store) *InAppDispatcher {
	return &InAppDispatcher{store: store}
}

func (d *InAppDispatcher) Name() string { return "in_app" }

func (d *InAppDispatcher) Dispatch(ctx context.Context, msg Message) error {
	var firstErr error
	for _, userID := range msg.Recipients {
		requestID := msg.RequestID
		err := d.store.InsertNotification(ctx, &repository.Notification{
			UserID:    userID,
			EventType: msg.EventType,
			Title:     msg.Title,
			Message:   msg.Body,
			RequestID: &requestID,
			Link:      msg.Link,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
