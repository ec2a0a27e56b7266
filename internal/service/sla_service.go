package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
)

// SLAService periodically reminds approvers about stages past their SLA.
// It only reads approval state. Each overdue record is reminded once.
type SLAService struct {
	approvals *ApprovalService
	events    EventSink
	log       *logger.Logger
	timeout   time.Duration

	scheduler *cron.Cron
	mu        sync.Mutex
	reminded  map[string]struct{} // record ids
}

func NewSLAService(approvals *ApprovalService, events EventSink, log *logger.Logger) *SLAService {
	if events == nil {
		events = nopSink{}
	}
	return &SLAService{
		approvals: approvals,
		events:    events,
		log:       log,
		timeout:   time.Minute,
		reminded:  map[string]struct{}{},
	}
}

// Start schedules the sweep. schedule is a standard cron spec or descriptor
// such as "@every 15m".
func (s *SLAService) Start(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid SLA schedule: %w", err)
	}

	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("failed to schedule SLA sweep: %w", err)
	}
	s.scheduler.Start()

	s.log.Info().Str("schedule", schedule).Msg("SLA sweep scheduled")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *SLAService) Stop() {
	if s.scheduler == nil {
		return
	}
	<-s.scheduler.Stop().Done()
}

func (s *SLAService) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("SLA sweep failed")
	}
}

// Sweep publishes a reminder for every newly overdue stage and returns how
// many were sent.
func (s *SLAService) Sweep(ctx context.Context) (int, error) {
	items, err := s.approvals.Overdue(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]struct{}, len(items))
	sent := 0
	for _, item := range items {
		current[item.Record.ID] = struct{}{}
		if _, ok := s.reminded[item.Record.ID]; ok {
			continue
		}
		s.events.Publish(ctx, Event{
			Kind:       EventSLAReminder,
			Request:    item.Request,
			Stage:      item.Record.Stage,
			OccurredAt: s.approvals.now(),
		})
		s.reminded[item.Record.ID] = struct{}{}
		sent++

		s.log.Info().
			Str("request_id", item.Request.ID).
			Str("stage", item.Record.Stage).
			Dur("overdue_by", item.OverdueBy).
			Msg("SLA reminder sent")
	}

	// Decided records drop out of the overdue set.
	for id := range s.reminded {
		if _, ok := current[id]; !ok {
			delete(s.reminded, id)
		}
	}
	return sent, nil
}
