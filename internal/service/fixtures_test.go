package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(_ context.Context, evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *recordingSink) last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type fixture struct {
	store    *repository.MemoryStore
	registry *workflow.Registry
	resolver *workflow.Resolver
	sink     *recordingSink
	core     *ApprovalService
	tickets  *TicketService
	leave    *LeaveService
	clock    time.Time
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

var testProfiles = []*repository.Profile{
	{ID: "alice", FullName: "Alice Employee", Role: workflow.RoleEmployee, Department: "Finance"},
	{ID: "bob", FullName: "Bob Reliever", Role: workflow.RoleEmployee, Department: "Finance"},
	{ID: "sup", FullName: "Sue Supervisor", Role: workflow.RoleLead, Department: "Finance"},
	{ID: "fin-lead", FullName: "Fin Lead", Role: workflow.RoleLead, Department: "Finance", LeadDepartments: []string{"Finance"}},
	{ID: "it-lead", FullName: "It Lead", Role: workflow.RoleLead, Department: "IT"},
	{ID: "hr-admin", FullName: "Hr Admin", Role: workflow.RoleAdmin, Department: workflow.DepartmentAdminHR},
	{ID: "md", FullName: "Managing Director", Role: workflow.RoleAdmin, Department: workflow.DepartmentExecutiveMgmt},
	{ID: "root", FullName: "Root Super", Role: workflow.RoleSuperAdmin, Department: workflow.DepartmentExecutiveMgmt},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: repository.NewMemoryStore(),
		sink:  &recordingSink{},
		clock: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(f.now)

	for _, p := range testProfiles {
		c := *p
		require.NoError(t, f.store.UpsertProfile(ctx, &c))
	}
	for _, lt := range []string{"annual", "sick", "maternity", "study"} {
		require.NoError(t, f.store.SetLeaveBalance(ctx, "alice", lt, 20))
	}

	var err error
	f.registry, err = workflow.NewRegistry(workflow.DefaultDefinitions())
	require.NoError(t, err)
	eval, err := workflow.NewEvaluator()
	require.NoError(t, err)
	f.resolver = workflow.NewResolver(f.registry, eval, []string{workflow.RoleSuperAdmin}, logger.Nop().Logger)

	policies := workflow.DefaultLeavePolicies()
	f.core, err = NewApprovalService(f.store, f.store, f.registry, f.resolver, Extensions{
		Gates: map[string]TerminalGate{workflow.GateEvidence: NewEvidenceGate(policies)},
		Hooks: map[string]TerminalHook{workflow.HookDeductLeaveBalance: LeaveBalanceHook{}},
	}, f.sink, logger.Nop())
	require.NoError(t, err)
	f.core.SetClock(f.now)

	f.tickets = NewTicketService(f.core)
	f.leave = NewLeaveService(f.core, policies)
	return f
}

func (f *fixture) procurementTicket(t *testing.T) *repository.ApprovalRequest {
	t.Helper()
	req, err := f.tickets.Create(context.Background(), "alice", CreateTicketInput{
		Title:               "Replace finance laptops",
		Department:          "Finance",
		Category:            "hardware",
		RequiresProcurement: true,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) leaveRequest(t *testing.T, leaveType string) *repository.ApprovalRequest {
	t.Helper()
	req, err := f.leave.Create(context.Background(), "alice", CreateLeaveInput{
		LeaveType:    leaveType,
		StartDate:    "2026-03-09",
		EndDate:      "2026-03-13",
		Reason:       "family",
		RelieverID:   "bob",
		SupervisorID: "sup",
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) approve(t *testing.T, requestID, actorID string) *DecideResult {
	t.Helper()
	res, err := f.core.Decide(context.Background(), requestID, actorID, DecideInput{Decision: workflow.DecisionApproved})
	require.NoError(t, err)
	return res
}
