package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
)

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %s", rec.Body.String())
	return envelope["code"].(string)
}

func (e *testEnv) createTicket(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/tickets", "alice", map[string]any{
		"title":                "Replace laptops",
		"requires_procurement": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, workflow.StageDepartmentLead, body["current_stage"])
	return body["id"].(string)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, HealthPath, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestDecideRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/approvals/x/decide", "", map[string]any{"decision": "approved"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
}

func TestDecideEndpoint(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTicket(t)
	path := "/api/v1/approvals/" + id + "/decide"

	rec := env.do(t, http.MethodPost, path, "alice", map[string]any{"decision": "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, path, "fin-lead", map[string]any{"decision": "rejected"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, path, "fin-lead", map[string]any{"decision": "approved", "comments": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{
		"request_id": id,
		"stage":      workflow.StageDepartmentLead,
		"decision":   "approved",
		"status":     workflow.StatusPendingApproval,
	}, decodeBody(t, rec))

	rec = env.do(t, http.MethodPost, path, "fin-lead", map[string]any{"decision": "approved", "stage": workflow.StageDepartmentLead})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/approvals/missing/decide", "fin-lead", map[string]any{"decision": "approved"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.token(t, "hr-admin"))
	bad := httptest.NewRecorder()
	env.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTicket(t)

	rec := env.do(t, http.MethodGet, "/api/v1/approvals/"+id, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody(t, rec)
	records := detail["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "pending", records[0].(map[string]any)["status"])

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/inbox", "fin-lead", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total"])

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/inbox", "hr-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["total"])

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/"+id+"/history", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody(t, rec)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "created", history[0].(map[string]any)["action"])

	rec = env.do(t, http.MethodGet, "/api/v1/approvals/overdue", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["total"])
}

func TestTicketEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tickets", "alice", map[string]any{"title": "Broken chair"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/assign", "fin-lead", map[string]any{"assignee_id": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decodeBody(t, rec)["assignee_id"])

	rec = env.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/pivot", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatusPendingApproval, decodeBody(t, rec)["status"])

	rec = env.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/pivot", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, rec))
}

func TestLeaveEvidenceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/leave-requests", "alice", map[string]any{
		"leave_type":    "sick",
		"start_date":    "2026-03-09",
		"end_date":      "2026-03-10",
		"reliever_id":   "bob",
		"supervisor_id": "sup",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/v1/leave-requests/"+id+"/evidence", "alice", map[string]any{
		"document_type": "medical_certificate",
		"file_url":      "https://files.example/cert.pdf",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, false, decodeBody(t, rec)["verified"])

	rec = env.do(t, http.MethodPost, "/api/v1/leave-requests/"+id+"/evidence/medical_certificate/verify", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/leave-requests/"+id+"/evidence/medical_certificate/verify", "hr-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["verified"])
}

func TestGateErrorCarriesDetails(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/leave-requests", "alice", map[string]any{
		"leave_type":    "sick",
		"start_date":    "2026-03-09",
		"end_date":      "2026-03-10",
		"reliever_id":   "bob",
		"supervisor_id": "sup",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["id"].(string)
	path := "/api/v1/approvals/" + id + "/decide"

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, "bob", map[string]any{"decision": "approved"}).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, "sup", map[string]any{"decision": "approved"}).Code)

	rec = env.do(t, http.MethodPost, path, "hr-admin", map[string]any{"decision": "approved"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeBody(t, rec)["error"].(map[string]any)
	details := envelope["details"].(map[string]any)
	assert.Equal(t, []any{"medical_certificate"}, details["missing_documents"])
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/notifications", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["notifications"])

	rec = env.do(t, http.MethodPost, "/api/v1/notifications/nope/read", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
