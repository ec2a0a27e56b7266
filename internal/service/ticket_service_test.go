package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

func TestCreateTicketWithoutProcurementStaysOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.tickets.Create(ctx, "alice", CreateTicketInput{Title: "Printer jam"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusOpen, req.Status)
	assert.Nil(t, req.CurrentStage)
	assert.Equal(t, "Finance", req.Department)
	assert.Equal(t, "medium", req.Priority)

	records, err := f.store.ListRecords(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, f.sink.kinds())

	_, err = f.core.Decide(ctx, req.ID, "root", DecideInput{Decision: workflow.DecisionApproved})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tickets.Create(ctx, "alice", CreateTicketInput{Title: " "})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = f.tickets.Create(ctx, "alice", CreateTicketInput{Title: "x", Priority: "whenever"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = f.tickets.Create(ctx, "", CreateTicketInput{Title: "x"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnauthenticated))

	_, err = f.tickets.Create(ctx, "ghost", CreateTicketInput{Title: "x"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))
}

func TestAssignTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.tickets.Create(ctx, "alice", CreateTicketInput{Title: "Printer jam"})
	require.NoError(t, err)

	_, err = f.tickets.Assign(ctx, req.ID, "bob", "it-lead")
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	_, err = f.tickets.Assign(ctx, req.ID, "fin-lead", "ghost")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	got, err := f.tickets.Assign(ctx, req.ID, "fin-lead", "it-lead")
	require.NoError(t, err)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, "it-lead", *got.AssigneeID)

	evt := f.sink.last()
	assert.Equal(t, EventRequestAssigned, evt.Kind)
	assert.Equal(t, "it-lead", *evt.Request.AssigneeID)

	history, err := f.core.GetHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionAssigned, history[len(history)-1].Action)

	leave := f.leaveRequest(t, "annual")
	_, err = f.tickets.Assign(ctx, leave.ID, "fin-lead", "it-lead")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestPivotOpenTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.tickets.Create(ctx, "alice", CreateTicketInput{Title: "New servers", Department: "IT"})
	require.NoError(t, err)

	_, err = f.tickets.Pivot(ctx, req.ID, "bob", PivotInput{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	got, err := f.tickets.Pivot(ctx, req.ID, "alice", PivotInput{Department: "Finance"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingApproval, got.Status)
	assert.Equal(t, workflow.StageDepartmentLead, got.Stage())
	assert.Equal(t, "Finance", got.Department)
	assert.Equal(t, EventRequestSubmitted, f.sink.last().Kind)

	_, err = f.tickets.Pivot(ctx, req.ID, "alice", PivotInput{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))

	f.approve(t, req.ID, "fin-lead")
}

func TestPivotRejectedTicketStaysRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)
	f.approve(t, req.ID, "fin-lead")
	_, err := f.core.Decide(ctx, req.ID, "hr-admin", DecideInput{Decision: workflow.DecisionRejected, Comments: "wrong vendor"})
	require.NoError(t, err)

	_, err = f.tickets.Pivot(ctx, req.ID, "alice", PivotInput{Comments: "new vendor"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
	_, err = f.tickets.Pivot(ctx, req.ID, "root", PivotInput{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, got.Status)
	assert.Nil(t, got.CurrentStage)
	require.NotNil(t, got.RejectedStage)
	assert.Equal(t, workflow.StageHeadCorporate, *got.RejectedStage)

	records, err := f.store.ListRecords(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, repository.RecordApproved, records[0].Status)
	assert.Equal(t, repository.RecordRejected, records[1].Status)

	_, err = f.core.Decide(ctx, req.ID, "fin-lead", DecideInput{Decision: workflow.DecisionApproved})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestPivotApprovedTicketFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.procurementTicket(t)
	f.approve(t, req.ID, "fin-lead")
	f.approve(t, req.ID, "hr-admin")
	res := f.approve(t, req.ID, "md")
	assert.Equal(t, workflow.StatusApprovedForProcurement, res.Status)

	_, err := f.tickets.Pivot(ctx, req.ID, "root", PivotInput{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestAssignTerminalTicketFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rejected := f.procurementTicket(t)
	_, err := f.core.Decide(ctx, rejected.ID, "fin-lead", DecideInput{Decision: workflow.DecisionRejected, Comments: "no budget"})
	require.NoError(t, err)

	approved := f.procurementTicket(t)
	f.approve(t, approved.ID, "fin-lead")
	f.approve(t, approved.ID, "hr-admin")
	f.approve(t, approved.ID, "md")

	for _, id := range []string{rejected.ID, approved.ID} {
		_, err := f.tickets.Assign(ctx, id, "fin-lead", "it-lead")
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))

		got, err := f.store.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.AssigneeID)
	}

	pending := f.procurementTicket(t)
	_, err = f.tickets.Assign(ctx, pending.ID, "fin-lead", "it-lead")
	assert.NoError(t, err)
}
