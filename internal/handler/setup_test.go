package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/service"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/auth"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
	"github.com/pesio-ai/be-erp-approvals/pkg/middleware"
)

type testEnv struct {
	store     *repository.MemoryStore
	approvals *service.ApprovalService
	tickets   *service.TicketService
	leave     *service.LeaveService
	tokens    *auth.Manager
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	store := repository.NewMemoryStore()
	for _, p := range []*repository.Profile{
		{ID: "alice", FullName: "Alice", Role: workflow.RoleEmployee, Department: "Finance"},
		{ID: "bob", FullName: "Bob", Role: workflow.RoleEmployee, Department: "Finance"},
		{ID: "sup", FullName: "Sue", Role: workflow.RoleLead, Department: "Finance"},
		{ID: "fin-lead", FullName: "Fin Lead", Role: workflow.RoleLead, Department: "Finance", LeadDepartments: []string{"Finance"}},
		{ID: "hr-admin", FullName: "Hr Admin", Role: workflow.RoleAdmin, Department: workflow.DepartmentAdminHR},
	} {
		require.NoError(t, store.UpsertProfile(ctx, p))
	}
	require.NoError(t, store.SetLeaveBalance(ctx, "alice", "sick", 10))

	registry, err := workflow.NewRegistry(workflow.DefaultDefinitions())
	require.NoError(t, err)
	eval, err := workflow.NewEvaluator()
	require.NoError(t, err)
	resolver := workflow.NewResolver(registry, eval, []string{workflow.RoleSuperAdmin}, log.Logger)
	policies := workflow.DefaultLeavePolicies()

	approvals, err := service.NewApprovalService(store, store, registry, resolver, service.Extensions{
		Gates: map[string]service.TerminalGate{workflow.GateEvidence: service.NewEvidenceGate(policies)},
		Hooks: map[string]service.TerminalHook{workflow.HookDeductLeaveBalance: service.LeaveBalanceHook{}},
	}, nil, log)
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		approvals: approvals,
		tickets:   service.NewTicketService(approvals),
		leave:     service.NewLeaveService(approvals, policies),
		tokens:    auth.NewManager("test-secret-test-secret-test-secret", "erp-approvals", time.Hour),
	}

	mux := http.NewServeMux()
	NewHTTPHandler(env.approvals, env.tickets, env.leave, log).Register(mux)
	env.handler = middleware.Chain(mux,
		middleware.Recovery(&log.Logger),
		middleware.Auth(env.tokens, func(w http.ResponseWriter, _ *http.Request, err error) {
			WriteError(w, errors.Unauthenticated(err.Error()))
		}, HealthPath),
	)
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Generate(userID, "", "")
	require.NoError(t, err)
	return tok
}
