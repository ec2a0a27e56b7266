package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
)

func TestProcurementChainApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)
	assert.Equal(t, workflow.StatusPendingApproval, req.Status)
	assert.Equal(t, workflow.StageDepartmentLead, req.Stage())

	res := f.approve(t, req.ID, "fin-lead")
	assert.Equal(t, workflow.StageDepartmentLead, res.Stage)
	assert.Equal(t, workflow.StatusPendingApproval, res.Status)

	res = f.approve(t, req.ID, "hr-admin")
	assert.Equal(t, workflow.StageHeadCorporate, res.Stage)

	res = f.approve(t, req.ID, "md")
	assert.Equal(t, workflow.StageManagingDirector, res.Stage)
	assert.Equal(t, workflow.StatusApprovedForProcurement, res.Status)

	detail, err := f.core.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApprovedForProcurement, detail.Request.Status)
	assert.Nil(t, detail.Request.CurrentStage)
	assert.NotNil(t, detail.Request.CompletedAt)
	require.Len(t, detail.Records, 3)
	for _, rec := range detail.Records {
		assert.Equal(t, repository.RecordApproved, rec.Status)
		assert.NotNil(t, rec.DecidedAt)
	}

	history, err := f.core.GetHistory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, ActionCreated, history[0].Action)
	assert.Equal(t, ActionApproved, history[3].Action)
	assert.Equal(t, "md", history[3].PerformedBy)

	assert.Equal(t, []EventKind{
		EventRequestSubmitted,
		EventStageAdvanced,
		EventStageAdvanced,
		EventRequestApproved,
	}, f.sink.kinds())
}

func TestDecideOnTerminalRequestIsInvalidState(t *testing.T) {
	f := newFixture(t)
	req := f.procurementTicket(t)
	f.approve(t, req.ID, "fin-lead")
	f.approve(t, req.ID, "hr-admin")
	f.approve(t, req.ID, "md")

	_, err := f.core.Decide(context.Background(), req.ID, "root", DecideInput{Decision: workflow.DecisionApproved})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestRejectRequiresComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)

	_, err := f.core.Decide(ctx, req.ID, "fin-lead", DecideInput{Decision: workflow.DecisionRejected, Comments: "   "})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingApproval, got.Status)
	assert.Equal(t, workflow.StageDepartmentLead, got.Stage())
}

func TestRejectEndsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)
	f.approve(t, req.ID, "fin-lead")

	res, err := f.core.Decide(ctx, req.ID, "hr-admin", DecideInput{Decision: workflow.DecisionRejected, Comments: "over budget"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, res.Status)

	detail, err := f.core.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Request.RejectedStage)
	assert.Equal(t, workflow.StageHeadCorporate, *detail.Request.RejectedStage)
	assert.Nil(t, detail.Request.CurrentStage)
	require.Len(t, detail.Records, 2)
	assert.Equal(t, repository.RecordRejected, detail.Records[1].Status)
	require.NotNil(t, detail.Records[1].Comments)
	assert.Equal(t, "over budget", *detail.Records[1].Comments)

	evt := f.sink.last()
	assert.Equal(t, EventRequestRejected, evt.Kind)
	assert.Equal(t, "over budget", evt.Comments)

	_, err = f.core.Decide(ctx, req.ID, "md", DecideInput{Decision: workflow.DecisionApproved})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestDecideAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)
	approve := DecideInput{Decision: workflow.DecisionApproved}

	tests := []struct {
		name    string
		request string
		actor   string
		code    errors.Code
	}{
		{"no actor", req.ID, "", errors.ErrCodeUnauthenticated},
		{"unknown actor", req.ID, "ghost", errors.ErrCodeForbidden},
		{"requester", req.ID, "alice", errors.ErrCodeForbidden},
		{"lead of another department", req.ID, "it-lead", errors.ErrCodeForbidden},
		{"later stage approver", req.ID, "md", errors.ErrCodeForbidden},
		{"unknown request", "missing", "fin-lead", errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.core.Decide(ctx, tt.request, tt.actor, approve)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDepartmentLead, got.Stage())
}

func TestOverrideRoleDecidesAnyStage(t *testing.T) {
	f := newFixture(t)
	req := f.procurementTicket(t)
	f.approve(t, req.ID, "root")
	f.approve(t, req.ID, "root")
	res := f.approve(t, req.ID, "root")
	assert.Equal(t, workflow.StatusApprovedForProcurement, res.Status)
}

func TestDecideRejectsUnknownDecision(t *testing.T) {
	f := newFixture(t)
	req := f.procurementTicket(t)
	_, err := f.core.Decide(context.Background(), req.ID, "fin-lead", DecideInput{Decision: "maybe"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}

func TestDecideStaleStage(t *testing.T) {
	f := newFixture(t)
	req := f.procurementTicket(t)
	f.approve(t, req.ID, "fin-lead")

	_, err := f.core.Decide(context.Background(), req.ID, "root", DecideInput{
		Decision: workflow.DecisionApproved,
		Stage:    workflow.StageDepartmentLead,
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestConcurrentDecideHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)

	const deciders = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		invalids int
	)
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.core.Decide(ctx, req.ID, "root", DecideInput{
				Decision: workflow.DecisionApproved,
				Stage:    workflow.StageDepartmentLead,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.HasCode(err, errors.ErrCodeInvalidState):
				invalids++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, deciders-1, invalids)

	records, err := f.store.ListRecords(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, repository.RecordApproved, records[0].Status)
	assert.Equal(t, repository.RecordPending, records[1].Status)
	assert.Equal(t, workflow.StageHeadCorporate, records[1].Stage)
}

func TestInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)

	inbox, err := f.core.Inbox(ctx, "fin-lead")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, req.ID, inbox[0].ID)

	inbox, err = f.core.Inbox(ctx, "hr-admin")
	require.NoError(t, err)
	assert.Empty(t, inbox)

	f.approve(t, req.ID, "fin-lead")
	inbox, err = f.core.Inbox(ctx, "hr-admin")
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	inbox, err = f.core.Inbox(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)

	items, err := f.core.Overdue(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	f.advance(49 * time.Hour)
	items, err = f.core.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, req.ID, items[0].Request.ID)
	assert.Equal(t, workflow.StageDepartmentLead, items[0].Record.Stage)
	assert.Equal(t, time.Hour, items[0].OverdueBy)
}

func TestHistoryUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.core.GetHistory(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestNewApprovalServiceRequiresRegisteredExtensions(t *testing.T) {
	f := newFixture(t)
	_, err := NewApprovalService(f.store, f.store, f.registry, f.resolver, Extensions{}, nil, nil)
	assert.Error(t, err)
}

// staleDirectory answers from a fixed snapshot of profiles, like an
// expired-but-not-yet-evicted cache entry.
type staleDirectory struct {
	repository.ProfileReader
	profiles map[string]*repository.Profile
}

func (d staleDirectory) GetProfile(ctx context.Context, id string) (*repository.Profile, error) {
	if p, ok := d.profiles[id]; ok {
		return p, nil
	}
	return d.ProfileReader.GetProfile(ctx, id)
}

func TestDecideAuthorizesAgainstStoreNotDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// hr-admin was demoted in the store; the directory still holds the old role.
	demoted := &repository.Profile{ID: "hr-admin", FullName: "Hr Admin", Role: workflow.RoleEmployee, Department: workflow.DepartmentAdminHR}
	require.NoError(t, f.store.UpsertProfile(ctx, demoted))
	cached := *testProfiles[5]
	require.Equal(t, "hr-admin", cached.ID)

	core, err := NewApprovalService(f.store, staleDirectory{
		ProfileReader: f.store,
		profiles:      map[string]*repository.Profile{"hr-admin": &cached},
	}, f.registry, f.resolver, Extensions{
		Gates: map[string]TerminalGate{workflow.GateEvidence: NewEvidenceGate(workflow.DefaultLeavePolicies())},
		Hooks: map[string]TerminalHook{workflow.HookDeductLeaveBalance: LeaveBalanceHook{}},
	}, f.sink, logger.Nop())
	require.NoError(t, err)
	core.SetClock(f.now)

	req := f.procurementTicket(t)
	f.approve(t, req.ID, "fin-lead")

	_, err = core.Decide(ctx, req.ID, "hr-admin", DecideInput{Decision: workflow.DecisionApproved})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	inbox, err := core.Inbox(ctx, "hr-admin")
	require.NoError(t, err)
	assert.Empty(t, inbox)

	_, err = NewTicketService(core).Assign(ctx, req.ID, "hr-admin", "it-lead")
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))
}
