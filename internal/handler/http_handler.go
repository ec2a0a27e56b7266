package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-erp-approvals/internal/service"
	"github.com/pesio-ai/be-erp-approvals/pkg/auth"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
)

// HealthPath is served without authentication.
const HealthPath = "/health"

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	tickets   *service.TicketService
	leave     *service.LeaveService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, tickets *service.TicketService, leave *service.LeaveService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		tickets:   tickets,
		leave:     leave,
		log:       log,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+HealthPath, h.Health)

	mux.HandleFunc("POST /api/v1/approvals/{id}/decide", h.Decide)
	mux.HandleFunc("GET /api/v1/approvals/inbox", h.Inbox)
	mux.HandleFunc("GET /api/v1/approvals/overdue", h.Overdue)
	mux.HandleFunc("GET /api/v1/approvals/{id}", h.GetRequest)
	mux.HandleFunc("GET /api/v1/approvals/{id}/history", h.History)

	mux.HandleFunc("POST /api/v1/tickets", h.CreateTicket)
	mux.HandleFunc("POST /api/v1/tickets/{id}/assign", h.AssignTicket)
	mux.HandleFunc("POST /api/v1/tickets/{id}/pivot", h.PivotTicket)

	mux.HandleFunc("POST /api/v1/leave-requests", h.CreateLeaveRequest)
	mux.HandleFunc("POST /api/v1/leave-requests/{id}/evidence", h.RegisterEvidence)
	mux.HandleFunc("POST /api/v1/leave-requests/{id}/evidence/{type}/verify", h.VerifyEvidence)

	mux.HandleFunc("GET /api/v1/notifications", h.ListNotifications)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.MarkNotificationRead)
}

// Health reports whether the store answers.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.approvals.Ping(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Approvals ────────────────────────────────────────────────────────────────

type decideBody struct {
	Decision         string `json:"decision"`
	Comments         string `json:"comments"`
	OverrideEvidence bool   `json:"override_evidence"`
	Stage            string `json:"stage"`
}

// Decide handles approve/reject decisions on the outstanding stage
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var body decideBody
	if !h.decode(w, r, &body) {
		return
	}

	res, err := h.approvals.Decide(r.Context(), r.PathValue("id"), actorID(r), service.DecideInput{
		Decision:         body.Decision,
		Comments:         body.Comments,
		OverrideEvidence: body.OverrideEvidence,
		Stage:            body.Stage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecideView(res))
}

// GetRequest returns a request with its approval records and evidence
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}
	detail, err := h.approvals.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailView(detail))
}

// History returns the audit trail of a request
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}
	entries, err := h.approvals.GetHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": toAuditViews(entries)})
}

// Inbox lists requests awaiting the caller's decision
func (h *HTTPHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}
	reqs, err := h.approvals.Inbox(r.Context(), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestViews(reqs), "total": len(reqs)})
}

// Overdue lists stages past their SLA
func (h *HTTPHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}
	items, err := h.approvals.Overdue(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overdue": toOverdueViews(items), "total": len(items)})
}

// ── Tickets ──────────────────────────────────────────────────────────────────

type createTicketBody struct {
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	Priority            string         `json:"priority"`
	Department          string         `json:"department"`
	Category            string         `json:"category"`
	RequiresProcurement bool           `json:"requires_procurement"`
	Attributes          map[string]any `json:"attributes"`
}

// CreateTicket opens a ticket
func (h *HTTPHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var body createTicketBody
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.tickets.Create(r.Context(), actorID(r), service.CreateTicketInput{
		Title:               body.Title,
		Description:         body.Description,
		Priority:            body.Priority,
		Department:          body.Department,
		Category:            body.Category,
		RequiresProcurement: body.RequiresProcurement,
		Attributes:          body.Attributes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestView(req))
}

// AssignTicket sets the ticket's assignee
func (h *HTTPHandler) AssignTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssigneeID string `json:"assignee_id"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.tickets.Assign(r.Context(), r.PathValue("id"), actorID(r), body.AssigneeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// PivotTicket sends an open or rejected ticket back into the procurement chain
func (h *HTTPHandler) PivotTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Department string `json:"department"`
		Comments   string `json:"comments"`
	}
	if !h.decodeOptional(w, r, &body) {
		return
	}
	req, err := h.tickets.Pivot(r.Context(), r.PathValue("id"), actorID(r), service.PivotInput{
		Department: body.Department,
		Comments:   body.Comments,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// ── Leave ────────────────────────────────────────────────────────────────────

type createLeaveBody struct {
	LeaveType    string  `json:"leave_type"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	Days         float64 `json:"days"`
	Reason       string  `json:"reason"`
	RelieverID   string  `json:"reliever_id"`
	SupervisorID string  `json:"supervisor_id"`
}

// CreateLeaveRequest submits a leave request
func (h *HTTPHandler) CreateLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var body createLeaveBody
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.leave.Create(r.Context(), actorID(r), service.CreateLeaveInput{
		LeaveType:    body.LeaveType,
		StartDate:    body.StartDate,
		EndDate:      body.EndDate,
		Days:         body.Days,
		Reason:       body.Reason,
		RelieverID:   body.RelieverID,
		SupervisorID: body.SupervisorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestView(req))
}

// RegisterEvidence attaches a supporting document to a leave request
func (h *HTTPHandler) RegisterEvidence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentType string `json:"document_type"`
		FileURL      string `json:"file_url"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	ev, err := h.leave.RegisterEvidence(r.Context(), r.PathValue("id"), actorID(r), service.RegisterEvidenceInput{
		DocumentType: body.DocumentType,
		FileURL:      body.FileURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEvidenceView(ev))
}

// VerifyEvidence marks a document as checked by HR
func (h *HTTPHandler) VerifyEvidence(w http.ResponseWriter, r *http.Request) {
	ev, err := h.leave.VerifyEvidence(r.Context(), r.PathValue("id"), r.PathValue("type"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvidenceView(ev))
}

// ── Notifications ────────────────────────────────────────────────────────────

// ListNotifications returns the caller's newest notifications
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ns, err := h.approvals.ListNotifications(r.Context(), actorID(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": toNotificationViews(ns)})
}

// MarkNotificationRead flags one of the caller's notifications as read
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !h.requireUser(w, r) {
		return
	}
	if err := h.approvals.MarkNotificationRead(r.Context(), actorID(r), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func actorID(r *http.Request) string {
	if uc, ok := auth.GetUserContext(r.Context()); ok {
		return uc.UserID
	}
	return ""
}

func (h *HTTPHandler) requireUser(w http.ResponseWriter, r *http.Request) bool {
	if actorID(r) == "" {
		h.writeError(w, r, errors.Unauthenticated("authentication required"))
		return false
	}
	return true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *HTTPHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

type errorBody struct {
	Code    errors.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError renders err in the service error envelope.
func WriteError(w http.ResponseWriter, err error) {
	body := errorBody{Code: errors.CodeOf(err), Message: "internal server error"}
	if appErr, ok := errors.As(err); ok && appErr.Code != errors.ErrCodeInternal {
		body.Message = appErr.Message
		body.Details = appErr.Details
	}
	writeJSON(w, errors.HTTPStatus(err), map[string]any{"error": body})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
