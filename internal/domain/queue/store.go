// Package queue manages the admission, surgery and room assignment requests
// reviewed on the doctor dashboard.
//
//	Pending     -> Approved | Rejected | Cancelled
//	Approved    -> In Progress | Cancelled
//	In Progress -> Completed | Cancelled
package queue

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr-dashboard/internal/domain/audit"
	"github.com/ehr/emr-dashboard/internal/domain/bed"
	"github.com/ehr/emr-dashboard/internal/domain/effects"
	"github.com/ehr/emr-dashboard/internal/domain/notification"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/internal/platform/websocket"
)

const storeName = "queue"

// BedAssigner places a patient in a bed. *bed.Store satisfies it.
type BedAssigner interface {
	AssignBed(ctx context.Context, bedID, patientID, patientName string) (bed.Bed, error)
}

type Store struct {
	mu         sync.RWMutex
	requests   []Request
	completing map[string]bool
	version    uint64

	beds BedAssigner
	fx   *effects.Emitter
	now  func() time.Time
}

// NewStore returns a request store. beds may be nil, in which case room
// assignments cannot be completed.
func NewStore(fx *effects.Emitter, beds BedAssigner) *Store {
	return &Store{
		completing: make(map[string]bool),
		beds:       beds,
		fx:         fx,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func actorName(ctx context.Context) string {
	if u, ok := auth.UserFromContext(ctx); ok {
		return u.Name
	}
	return ""
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.requests, func(r Request) bool { return r.ID == id })
}

func (s *Store) replaceLocked(i int, r Request) uint64 {
	next := slices.Clone(s.requests)
	next[i] = r
	s.requests = next
	s.version++
	return s.version
}

func (s *Store) outcome(action string, v uint64, r Request, a audit.Action, meta map[string]any, toast string) effects.Outcome {
	m := map[string]any{"request_type": string(r.Type()), "priority": string(r.Priority)}
	maps.Copy(m, meta)
	return effects.Outcome{
		Store: storeName, Action: action, Topic: websocket.TopicQueue, Version: v, Payload: r,
		Audit: &audit.NewEntry{
			Action: a, Module: ModuleFor(r.Type()),
			PatientID: r.PatientID, PatientName: r.PatientName, Metadata: m,
		},
		Toast: toast,
	}
}

func notifyData(r Request) map[string]string {
	return map[string]string{
		"request_type": string(r.Type()),
		"module":       string(ModuleFor(r.Type())),
		"patient_id":   r.PatientID,
		"patient_name": r.PatientName,
		"requested_by": r.RequestedBy,
		"approved_by":  r.ApprovedBy,
		"priority":     string(r.Priority),
		"reason":       r.RejectionReason,
	}
}

// CreateRequest files a Pending request.
func (s *Store) CreateRequest(ctx context.Context, in Request) (Request, error) {
	if in.Details == nil {
		return Request{}, effects.Invalid("request_type", "is required")
	}
	if ModuleFor(in.Type()) == "" {
		return Request{}, effects.Invalid("request_type", fmt.Sprintf("unknown request type %q", in.Type()))
	}
	if err := in.Details.validate(); err != nil {
		return Request{}, effects.Invalid("details", err.Error())
	}
	if strings.TrimSpace(in.PatientID) == "" {
		return Request{}, effects.Invalid("patient_id", "is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return Request{}, effects.Invalid("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if in.PatientType != "" && in.PatientType != PatientIPD && in.PatientType != PatientOPD {
		return Request{}, effects.Invalid("patient_type", "must be IPD or OPD")
	}

	r := in.clone()
	r.ID = uuid.New().String()
	r.Status = StatusPending
	r.RequestedAt = s.now()
	if r.RequestedBy == "" {
		r.RequestedBy = actorName(ctx)
	}
	r.ApprovedBy, r.ApprovedAt, r.CompletedBy, r.CompletedAt, r.RejectionReason = "", nil, "", nil, ""

	s.mu.Lock()
	next := make([]Request, 0, len(s.requests)+1)
	next = append(next, s.requests...)
	s.requests = append(next, r)
	s.version++
	v := s.version
	s.mu.Unlock()

	o := s.outcome("create", v, r, audit.ActionRequestCreated, nil,
		fmt.Sprintf("%s request submitted for %s", r.Type(), r.PatientName))
	o.Notify, o.NotifyData = notification.TemplateRequestCreated, notifyData(r)
	s.fx.Commit(ctx, o)
	return r.clone(), nil
}

// transition moves request id from one of from to a new state via fn. Requests
// with a completion in flight cannot transition.
func (s *Store) transition(ctx context.Context, action, id string, from []Status, fn func(*Request)) (Request, uint64, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return Request{}, 0, fmt.Errorf("request %s: %w", id, effects.ErrNotFound)
	}
	r := s.requests[i].clone()
	if s.completing[id] {
		s.mu.Unlock()
		return Request{}, 0, s.fx.Reject(ctx, storeName, action, effects.Rejectf("%s request for %s is being completed", r.Type(), r.PatientName))
	}
	if !slices.Contains(from, r.Status) {
		s.mu.Unlock()
		return Request{}, 0, s.fx.Reject(ctx, storeName, action,
			effects.Rejectf("%s request for %s is already %s", r.Type(), r.PatientName, strings.ToLower(string(r.Status))))
	}
	fn(&r)
	v := s.replaceLocked(i, r)
	s.mu.Unlock()
	return r, v, nil
}

func (s *Store) ApproveRequest(ctx context.Context, id string) (Request, error) {
	by := actorName(ctx)
	r, v, err := s.transition(ctx, "approve", id, []Status{StatusPending}, func(r *Request) {
		now := s.now()
		r.Status = StatusApproved
		r.ApprovedBy = by
		r.ApprovedAt = &now
	})
	if err != nil {
		return Request{}, err
	}
	o := s.outcome("approve", v, r, audit.ActionRequestApproved, nil,
		fmt.Sprintf("%s request for %s approved", r.Type(), r.PatientName))
	o.Notify, o.NotifyData = notification.TemplateRequestApproved, notifyData(r)
	s.fx.Commit(ctx, o)
	return r, nil
}

func (s *Store) RejectRequest(ctx context.Context, id, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, effects.Invalid("reason", "is required")
	}
	r, v, err := s.transition(ctx, "reject", id, []Status{StatusPending}, func(r *Request) {
		r.Status = StatusRejected
		r.RejectionReason = reason
	})
	if err != nil {
		return Request{}, err
	}
	o := s.outcome("reject", v, r, audit.ActionRequestRejected, map[string]any{"reason": reason},
		fmt.Sprintf("%s request for %s rejected", r.Type(), r.PatientName))
	o.Notify, o.NotifyData = notification.TemplateRequestRejected, notifyData(r)
	s.fx.Commit(ctx, o)
	return r, nil
}

func (s *Store) StartRequest(ctx context.Context, id string) (Request, error) {
	r, v, err := s.transition(ctx, "start", id, []Status{StatusApproved}, func(r *Request) {
		r.Status = StatusInProgress
	})
	if err != nil {
		return Request{}, err
	}
	s.fx.Commit(ctx, s.outcome("start", v, r, audit.ActionRequestStarted, nil,
		fmt.Sprintf("%s request for %s started", r.Type(), r.PatientName)))
	return r, nil
}

// CompleteRequest finishes an In Progress request. Completing a room
// assignment first assigns the bed; if the bed store refuses, the request
// stays In Progress and the refusal is returned.
func (s *Store) CompleteRequest(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("request %s: %w", id, effects.ErrNotFound)
	}
	r := s.requests[i].clone()
	var rej *effects.RejectedError
	switch {
	case s.completing[id]:
		rej = effects.Rejectf("%s request for %s is being completed", r.Type(), r.PatientName)
	case r.Status != StatusInProgress:
		rej = effects.Rejectf("%s request for %s is %s and cannot be completed", r.Type(), r.PatientName, strings.ToLower(string(r.Status)))
	}
	if rej != nil {
		s.mu.Unlock()
		return Request{}, s.fx.Reject(ctx, storeName, "complete", rej)
	}
	s.completing[id] = true
	s.mu.Unlock()

	details := r.Details
	if ra, ok := r.Details.(RoomAssignmentDetails); ok {
		b, err := s.assignBed(ctx, ra.BedID, r)
		if err != nil {
			s.mu.Lock()
			delete(s.completing, id)
			s.mu.Unlock()
			return Request{}, fmt.Errorf("complete %s request: %w", r.Type(), err)
		}
		ra.BedNumber, ra.Ward = b.BedNumber, b.Ward
		details = ra
	}

	s.mu.Lock()
	delete(s.completing, id)
	i = s.indexOf(id)
	r = s.requests[i].clone()
	now := s.now()
	r.Status = StatusCompleted
	r.CompletedBy = actorName(ctx)
	r.CompletedAt = &now
	r.Details = details
	v := s.replaceLocked(i, r)
	s.mu.Unlock()

	meta := map[string]any{}
	if ra, ok := r.Details.(RoomAssignmentDetails); ok {
		meta["bed_number"], meta["ward"] = ra.BedNumber, ra.Ward
	}
	s.fx.Commit(ctx, s.outcome("complete", v, r, audit.ActionRequestCompleted, meta,
		fmt.Sprintf("%s request for %s completed", r.Type(), r.PatientName)))
	return r, nil
}

func (s *Store) assignBed(ctx context.Context, bedID string, r Request) (bed.Bed, error) {
	if s.beds == nil {
		return bed.Bed{}, s.fx.Reject(ctx, storeName, "complete", effects.Rejectf("Bed management is unavailable"))
	}
	return s.beds.AssignBed(ctx, bedID, r.PatientID, r.PatientName)
}

// CancelRequest cancels a request in any non-terminal state.
func (s *Store) CancelRequest(ctx context.Context, id string) (Request, error) {
	var from Status
	r, v, err := s.transition(ctx, "cancel", id, []Status{StatusPending, StatusApproved, StatusInProgress}, func(r *Request) {
		from = r.Status
		r.Status = StatusCancelled
	})
	if err != nil {
		return Request{}, err
	}
	s.fx.Commit(ctx, s.outcome("cancel", v, r, audit.ActionRequestCancelled, map[string]any{"from": string(from)},
		fmt.Sprintf("%s request for %s cancelled", r.Type(), r.PatientName)))
	return r, nil
}

// UpdatePriority changes the priority of an open request.
func (s *Store) UpdatePriority(ctx context.Context, id string, p Priority) (Request, error) {
	if !p.Valid() {
		return Request{}, effects.Invalid("priority", fmt.Sprintf("unknown priority %q", p))
	}
	var from Priority
	r, v, err := s.transition(ctx, "priority", id, []Status{StatusPending, StatusApproved, StatusInProgress}, func(r *Request) {
		from = r.Priority
		r.Priority = p
	})
	if err != nil {
		return Request{}, err
	}
	s.fx.Commit(ctx, s.outcome("priority", v, r, audit.ActionRequestPriorityChanged,
		map[string]any{"from": string(from), "to": string(p)},
		fmt.Sprintf("Priority set to %s", p)))
	return r, nil
}

// ---------- queries ----------

// Requests returns every request, newest first.
func (s *Store) Requests() []Request {
	return s.where(func(Request) bool { return true })
}

func (s *Store) Request(id string) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.requests[i].clone(), true
	}
	return Request{}, false
}

func (s *Store) ByType(t Type) []Request {
	return s.where(func(r Request) bool { return r.Type() == t })
}

func (s *Store) ByStatus(st Status) []Request {
	return s.where(func(r Request) bool { return r.Status == st })
}

func (s *Store) ByPatient(patientID string) []Request {
	return s.where(func(r Request) bool { return r.PatientID == patientID })
}

func (s *Store) Pending() []Request {
	return s.ByStatus(StatusPending)
}

// Critical lists open requests with Critical priority.
func (s *Store) Critical() []Request {
	return s.where(func(r Request) bool { return r.Priority == PriorityCritical && !r.Status.Terminal() })
}

// PendingByType counts Pending requests per type.
func (s *Store) PendingByType() map[Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Type]int{TypeAdmission: 0, TypeSurgery: 0, TypeRoomAssignment: 0}
	for _, r := range s.requests {
		if r.Status == StatusPending {
			counts[r.Type()]++
		}
	}
	return counts
}

func (s *Store) where(keep func(Request) bool) []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0)
	for i := len(s.requests) - 1; i >= 0; i-- {
		if r := s.requests[i]; keep(r) {
			out = append(out, r.clone())
		}
	}
	return out
}
