package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
)

// MemoryStore is an in-process Store. Transactions are serialised by a single
// lock and roll back to a snapshot when fn fails, which gives the same
// one-decider-at-a-time behaviour as row locking in Postgres.
type MemoryStore struct {
	mu   sync.RWMutex
	data memoryData
	now  func() time.Time
}

type memoryData struct {
	profiles      map[string]*Profile
	requests      map[string]*ApprovalRequest
	records       map[string][]*ApprovalRecord // by request id, creation order
	audit         map[string][]*AuditEntry
	evidence      map[string]map[string]*Evidence // request id -> document type
	balances      map[string]float64              // profile id + "/" + leave type
	notifications []*Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: memoryData{
			profiles: map[string]*Profile{},
			requests: map[string]*ApprovalRequest{},
			records:  map[string][]*ApprovalRecord{},
			audit:    map[string][]*AuditEntry{},
			evidence: map[string]map[string]*Evidence{},
			balances: map[string]float64{},
		},
		now: time.Now,
	}
}

// SetClock overrides the store clock. Tests use it to age records.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ── seeding ──────────────────────────────────────────────────────────────────

func (s *MemoryStore) UpsertProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	c := *p
	c.LeadDepartments = append([]string(nil), p.LeadDepartments...)
	s.data.profiles[p.ID] = &c
	return nil
}

func (s *MemoryStore) SetLeaveBalance(_ context.Context, profileID, leaveType string, days float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.balances[balanceKey(profileID, leaveType)] = days
	return nil
}

// ── Store ────────────────────────────────────────────────────────────────────

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memoryTx{s: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) GetProfile(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.profiles[id]
	if !ok {
		return nil, errors.NotFound("profile", id)
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.data.profiles))
	for _, p := range s.data.profiles {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.data.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return req.clone(), nil
}

func (s *MemoryStore) ListRequestsByStatus(_ context.Context, workflowType workflow.Type, status string) ([]*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ApprovalRequest
	for _, req := range s.data.requests {
		if req.WorkflowType == workflowType && req.Status == status {
			out = append(out, req.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, requestID string) ([]*ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.data.records[requestID]
	out := make([]*ApprovalRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.clone())
	}
	return out, nil
}

func (s *MemoryStore) ListPendingApprovals(_ context.Context) ([]*PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PendingApproval
	for reqID, recs := range s.data.records {
		for _, r := range recs {
			if r.Status != RecordPending {
				continue
			}
			req, ok := s.data.requests[reqID]
			if !ok {
				continue
			}
			out = append(out, &PendingApproval{Request: req.clone(), Record: r.clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.RequestedAt.Before(out[j].Record.RequestedAt) })
	return out, nil
}

func (s *MemoryStore) ListEvidence(_ context.Context, requestID string) ([]*Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listEvidence(requestID), nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.requests[entry.RequestID]; !ok {
		return errors.NotFound("approval_request", entry.RequestID)
	}
	entry.ID = uuid.NewString()
	entry.PerformedAt = s.now()
	c := *entry
	s.data.audit[entry.RequestID] = append(s.data.audit[entry.RequestID], &c)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, requestID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.data.audit[requestID]
	out := make([]*AuditEntry, 0, len(entries))
	for _, e := range entries {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.NewString()
	n.CreatedAt = s.now()
	n.Read = false
	c := *n
	s.data.notifications = append(s.data.notifications, &c)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for i := len(s.data.notifications) - 1; i >= 0; i-- {
		n := s.data.notifications[i]
		if n.UserID != userID {
			continue
		}
		c := *n
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.data.notifications {
		if n.ID == id && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return errors.NotFound("notification", id)
}

// ── transaction ──────────────────────────────────────────────────────────────

// memoryTx runs with s.mu held for writing.
type memoryTx struct {
	s *MemoryStore
}

func (t *memoryTx) GetRequestForUpdate(_ context.Context, id string) (*ApprovalRequest, error) {
	req, ok := t.s.data.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return req.clone(), nil
}

func (t *memoryTx) InsertRequest(_ context.Context, req *ApprovalRequest) error {
	if _, ok := t.s.data.profiles[req.RequesterID]; !ok {
		return errors.NotFound("profile", req.RequesterID)
	}
	now := t.s.now()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now
	t.s.data.requests[req.ID] = req.clone()
	return nil
}

func (t *memoryTx) UpdateRequest(_ context.Context, req *ApprovalRequest) error {
	if _, ok := t.s.data.requests[req.ID]; !ok {
		return errors.NotFound("approval_request", req.ID)
	}
	req.UpdatedAt = t.s.now()
	t.s.data.requests[req.ID] = req.clone()
	return nil
}

func (t *memoryTx) GetPendingRecord(_ context.Context, requestID string) (*ApprovalRecord, error) {
	for _, r := range t.s.data.records[requestID] {
		if r.Status == RecordPending {
			return r.clone(), nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertRecord(_ context.Context, rec *ApprovalRecord) error {
	if _, ok := t.s.data.requests[rec.RequestID]; !ok {
		return errors.NotFound("approval_request", rec.RequestID)
	}
	if rec.Status == RecordPending {
		for _, r := range t.s.data.records[rec.RequestID] {
			if r.Status == RecordPending {
				return errors.InvalidState("request already has a pending approval")
			}
		}
	}
	rec.ID = uuid.NewString()
	rec.RequestedAt = t.s.now()
	t.s.data.records[rec.RequestID] = append(t.s.data.records[rec.RequestID], rec.clone())
	return nil
}

func (t *memoryTx) DecideRecord(_ context.Context, recordID, status, approverID string, comments *string, decidedAt time.Time) error {
	for _, recs := range t.s.data.records {
		for _, r := range recs {
			if r.ID != recordID {
				continue
			}
			if r.Status != RecordPending {
				return errors.InvalidState("approval record is no longer pending")
			}
			r.Status = status
			r.ApproverID = &approverID
			r.Comments = cloneString(comments)
			at := decidedAt
			r.DecidedAt = &at
			return nil
		}
	}
	return errors.InvalidState("approval record is no longer pending")
}

func (t *memoryTx) ListEvidence(_ context.Context, requestID string) ([]*Evidence, error) {
	return t.s.data.listEvidence(requestID), nil
}

func (t *memoryTx) UpsertEvidence(_ context.Context, ev *Evidence) error {
	docs, ok := t.s.data.evidence[ev.RequestID]
	if !ok {
		docs = map[string]*Evidence{}
		t.s.data.evidence[ev.RequestID] = docs
	}
	if existing, ok := docs[ev.DocumentType]; ok {
		ev.ID = existing.ID
	} else {
		ev.ID = uuid.NewString()
	}
	ev.UploadedAt = t.s.now()
	ev.Verified = false
	ev.VerifiedBy = nil
	ev.VerifiedAt = nil
	c := *ev
	docs[ev.DocumentType] = &c
	return nil
}

func (t *memoryTx) VerifyEvidence(_ context.Context, requestID, documentType, verifierID string, at time.Time) (*Evidence, error) {
	ev, ok := t.s.data.evidence[requestID][documentType]
	if !ok {
		return nil, errors.NotFound("evidence", documentType)
	}
	ev.Verified = true
	ev.VerifiedBy = &verifierID
	verifiedAt := at
	ev.VerifiedAt = &verifiedAt
	c := *ev
	return &c, nil
}

func (t *memoryTx) GetLeaveBalance(_ context.Context, profileID, leaveType string) (*LeaveBalance, error) {
	days, ok := t.s.data.balances[balanceKey(profileID, leaveType)]
	if !ok {
		return nil, errors.NotFound("leave_balance", balanceKey(profileID, leaveType))
	}
	return &LeaveBalance{ProfileID: profileID, LeaveType: leaveType, RemainingDays: days}, nil
}

func (t *memoryTx) DeductLeaveBalance(_ context.Context, profileID, leaveType string, days float64) error {
	key := balanceKey(profileID, leaveType)
	remaining, ok := t.s.data.balances[key]
	if !ok || remaining < days {
		return errors.Validation("insufficient leave balance", map[string]any{
			"leave_type":     leaveType,
			"requested_days": days,
		})
	}
	t.s.data.balances[key] = remaining - days
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func balanceKey(profileID, leaveType string) string {
	return profileID + "/" + leaveType
}

func (d *memoryData) listEvidence(requestID string) []*Evidence {
	docs := d.evidence[requestID]
	out := make([]*Evidence, 0, len(docs))
	for _, ev := range docs {
		c := *ev
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentType < out[j].DocumentType })
	return out
}

func (d *memoryData) clone() memoryData {
	c := memoryData{
		profiles:      make(map[string]*Profile, len(d.profiles)),
		requests:      make(map[string]*ApprovalRequest, len(d.requests)),
		records:       make(map[string][]*ApprovalRecord, len(d.records)),
		audit:         make(map[string][]*AuditEntry, len(d.audit)),
		evidence:      make(map[string]map[string]*Evidence, len(d.evidence)),
		balances:      make(map[string]float64, len(d.balances)),
		notifications: append([]*Notification(nil), d.notifications...),
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v.clone()
	}
	for k, recs := range d.records {
		cp := make([]*ApprovalRecord, len(recs))
		for i, r := range recs {
			cp[i] = r.clone()
		}
		c.records[k] = cp
	}
	for k, v := range d.audit {
		c.audit[k] = append([]*AuditEntry(nil), v...)
	}
	for k, docs := range d.evidence {
		cp := make(map[string]*Evidence, len(docs))
		for dt, ev := range docs {
			e := *ev
			cp[dt] = &e
		}
		c.evidence[k] = cp
	}
	for k, v := range d.balances {
		c.balances[k] = v
	}
	return c
}
