// Package pharmacy tracks prescriptions from the prescriber through the
// cashier to the dispensary.
//
// The cashier queue is the set of Processing prescriptions and is computed on
// read, so a prescription is in the queue exactly while it awaits payment.
package pharmacy

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/emr-dashboard/internal/domain/audit"
	"github.com/ehr/emr-dashboard/internal/domain/effects"
	"github.com/ehr/emr-dashboard/internal/domain/notification"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/internal/platform/websocket"
)

const storeName = "pharmacy"

type Store struct {
	mu            sync.RWMutex
	prescriptions []Prescription
	seq           int
	version       uint64

	fx  *effects.Emitter
	now func() time.Time
}

func NewStore(fx *effects.Emitter) *Store {
	return &Store{
		fx:  fx,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// indexOf resolves either the internal id or the prescription number.
func (s *Store) indexOf(ref string) int {
	return slices.IndexFunc(s.prescriptions, func(p Prescription) bool {
		return p.ID == ref || strings.EqualFold(p.PrescriptionID, ref)
	})
}

func (s *Store) replaceLocked(i int, p Prescription) uint64 {
	next := slices.Clone(s.prescriptions)
	next[i] = p
	s.prescriptions = next
	s.version++
	return s.version
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CreatePrescription records a Pending prescription. When TotalAmount is
// absent it is computed from the priced lines.
func (s *Store) CreatePrescription(ctx context.Context, in Prescription) (Prescription, error) {
	if strings.TrimSpace(in.PatientID) == "" && strings.TrimSpace(in.PatientName) == "" {
		return Prescription{}, effects.Invalid("patient_id", "a patient id or name is required")
	}
	if len(in.PrescribedDrugs) == 0 {
		return Prescription{}, effects.Invalid("prescribed_drugs", "at least one drug is required")
	}
	for i, d := range in.PrescribedDrugs {
		if strings.TrimSpace(d.Name) == "" {
			return Prescription{}, effects.Invalid(fmt.Sprintf("prescribed_drugs[%d].name", i), "is required")
		}
		if d.Quantity <= 0 {
			return Prescription{}, effects.Invalid(fmt.Sprintf("prescribed_drugs[%d].quantity", i), "must be positive")
		}
		if d.Price != nil && *d.Price < 0 {
			return Prescription{}, effects.Invalid(fmt.Sprintf("prescribed_drugs[%d].price", i), "must not be negative")
		}
	}
	if in.TotalAmount != nil && *in.TotalAmount < 0 {
		return Prescription{}, effects.Invalid("total_amount", "must not be negative")
	}

	p := in.clone()
	p.ID = uuid.New().String()
	p.Status = StatusPending
	p.PaidAt, p.DispensedAt, p.CancelledAt = nil, nil, nil
	p.PaymentMethod, p.DispensedBy, p.CancellationReason = "", "", ""
	if p.TotalAmount == nil {
		p.TotalAmount = lineTotal(p.PrescribedDrugs)
	}
	if p.PrescriptionDate.IsZero() {
		p.PrescriptionDate = s.now()
	}
	if p.PrescribedBy == "" {
		if u, ok := auth.UserFromContext(ctx); ok {
			p.PrescribedBy = u.Name
		}
	}

	s.mu.Lock()
	if p.PrescriptionID == "" {
		for {
			s.seq++
			p.PrescriptionID = fmt.Sprintf("RX-%d", s.seq)
			if s.indexOf(p.PrescriptionID) < 0 {
				break
			}
		}
	} else if s.indexOf(p.PrescriptionID) >= 0 {
		s.mu.Unlock()
		return Prescription{}, s.fx.Reject(ctx, storeName, "create", effects.Rejectf("Prescription %s already exists", p.PrescriptionID))
	}
	next := make([]Prescription, 0, len(s.prescriptions)+1)
	next = append(next, s.prescriptions...)
	s.prescriptions = append(next, p)
	s.version++
	v := s.version
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "create", Topic: websocket.TopicPharmacy, Version: v, Payload: p,
		Audit: &audit.NewEntry{
			Action: audit.ActionPrescriptionCreated, Module: audit.ModulePharmacy,
			PatientID: p.PatientID, PatientName: p.PatientName,
			Metadata: map[string]any{
				"prescription_id": p.PrescriptionID, "drug_count": len(p.PrescribedDrugs), "total_amount": p.amount(),
			},
		},
		Toast: fmt.Sprintf("Prescription %s created", p.PrescriptionID),
	})
	return p.clone(), nil
}

// transition applies fn to the prescription ref if its status is one of from.
// It returns the updated prescription and the new version.
func (s *Store) transition(ctx context.Context, action, ref string, from []Status, fn func(*Prescription)) (Prescription, uint64, error) {
	s.mu.Lock()
	i := s.indexOf(ref)
	if i < 0 {
		s.mu.Unlock()
		return Prescription{}, 0, fmt.Errorf("prescription %s: %w", ref, effects.ErrNotFound)
	}
	p := s.prescriptions[i].clone()
	if !slices.Contains(from, p.Status) {
		s.mu.Unlock()
		return Prescription{}, 0, s.fx.Reject(ctx, storeName, action,
			effects.Rejectf("Prescription %s is %s and cannot be %s", p.PrescriptionID, p.Status, pastTense[action]))
	}
	fn(&p)
	v := s.replaceLocked(i, p)
	s.mu.Unlock()
	return p.clone(), v, nil
}

var pastTense = map[string]string{
	"queue":    "sent to the cashier",
	"pay":      "paid",
	"dispense": "dispensed",
	"cancel":   "cancelled",
}

// SendToCashierQueue moves a Pending prescription to Processing, which places
// it in the cashier queue.
func (s *Store) SendToCashierQueue(ctx context.Context, ref string) (Prescription, error) {
	p, v, err := s.transition(ctx, "queue", ref, []Status{StatusPending}, func(p *Prescription) {
		p.Status = StatusProcessing
	})
	if err != nil {
		return Prescription{}, err
	}
	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "queue", Topic: websocket.TopicQueue, Version: v, Payload: p,
		Audit: &audit.NewEntry{
			Action: audit.ActionPrescriptionQueued, Module: audit.ModulePharmacy,
			PatientID: p.PatientID, PatientName: p.PatientName,
			Metadata: map[string]any{"prescription_id": p.PrescriptionID, "total_amount": p.amount()},
		},
		Toast: fmt.Sprintf("Prescription %s sent to cashier", p.PrescriptionID),
	})
	return p, nil
}

// MarkAsPaid confirms payment of a Processing prescription, which removes it
// from the cashier queue.
func (s *Store) MarkAsPaid(ctx context.Context, ref, method string, amount float64) (Prescription, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return Prescription{}, effects.Invalid("payment_method", "is required")
	}
	if amount <= 0 {
		return Prescription{}, effects.Invalid("amount", "must be positive")
	}

	p, v, err := s.transition(ctx, "pay", ref, []Status{StatusProcessing}, func(p *Prescription) {
		now := s.now()
		p.Status = StatusPaid
		p.PaidAt = &now
		p.PaymentMethod = method
		p.TotalAmount = &amount
	})
	if err != nil {
		return Prescription{}, err
	}
	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "pay", Topic: websocket.TopicQueue, Version: v, Payload: p,
		Audit: &audit.NewEntry{
			Action: audit.ActionPaymentConfirmed, Module: audit.ModuleBilling,
			PatientID: p.PatientID, PatientName: p.PatientName,
			Metadata: map[string]any{"prescription_id": p.PrescriptionID, "amount": amount, "payment_method": method},
		},
		Toast:  fmt.Sprintf("Payment of %s confirmed for %s", formatAmount(amount), p.PrescriptionID),
		Notify: notification.TemplatePrescriptionPaid,
		NotifyData: map[string]string{
			"prescription_id": p.PrescriptionID, "patient_name": p.PatientName, "patient_id": p.PatientID,
			"amount": formatAmount(amount), "payment_method": method,
		},
	})
	return p, nil
}

// DispensePrescription hands a Paid prescription to the patient. An empty by
// defaults to the acting user.
func (s *Store) DispensePrescription(ctx context.Context, ref, by string) (Prescription, error) {
	if strings.TrimSpace(by) == "" {
		if u, ok := auth.UserFromContext(ctx); ok {
			by = u.Name
		}
	}
	if strings.TrimSpace(by) == "" {
		return Prescription{}, effects.Invalid("dispensed_by", "is required")
	}

	p, v, err := s.transition(ctx, "dispense", ref, []Status{StatusPaid}, func(p *Prescription) {
		now := s.now()
		p.Status = StatusDispensed
		p.DispensedBy = by
		p.DispensedAt = &now
	})
	if err != nil {
		return Prescription{}, err
	}
	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "dispense", Topic: websocket.TopicPharmacy, Version: v, Payload: p,
		Audit: &audit.NewEntry{
			Action: audit.ActionPrescriptionDispensed, Module: audit.ModulePharmacy,
			PatientID: p.PatientID, PatientName: p.PatientName,
			Metadata: map[string]any{"prescription_id": p.PrescriptionID, "dispensed_by": by},
		},
		Toast:  fmt.Sprintf("Prescription %s dispensed", p.PrescriptionID),
		Notify: notification.TemplatePrescriptionDispensed,
		NotifyData: map[string]string{
			"prescription_id": p.PrescriptionID, "patient_name": p.PatientName, "patient_id": p.PatientID, "dispensed_by": by,
		},
	})
	return p, nil
}

// CancelPrescription cancels a prescription in any non-terminal state.
func (s *Store) CancelPrescription(ctx context.Context, ref, reason string) (Prescription, error) {
	var from Status
	p, v, err := s.transition(ctx, "cancel", ref, []Status{StatusPending, StatusProcessing, StatusPaid}, func(p *Prescription) {
		now := s.now()
		from = p.Status
		p.Status = StatusCancelled
		p.CancelledAt = &now
		p.CancellationReason = reason
	})
	if err != nil {
		return Prescription{}, err
	}
	topic := websocket.TopicPharmacy
	if from == StatusProcessing {
		topic = websocket.TopicQueue
	}
	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "cancel", Topic: topic, Version: v, Payload: p,
		Audit: &audit.NewEntry{
			Action: audit.ActionPrescriptionCancelled, Module: audit.ModulePharmacy,
			PatientID: p.PatientID, PatientName: p.PatientName,
			Metadata: map[string]any{"prescription_id": p.PrescriptionID, "from": string(from), "reason": reason},
		},
		Toast: fmt.Sprintf("Prescription %s cancelled", p.PrescriptionID),
	})
	return p, nil
}

// ---------- queries ----------

// Prescriptions returns all prescriptions, newest first.
func (s *Store) Prescriptions() []Prescription {
	return s.where(func(Prescription) bool { return true })
}

// Prescription looks up by internal id or prescription number.
func (s *Store) Prescription(ref string) (Prescription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(ref); i >= 0 {
		return s.prescriptions[i].clone(), true
	}
	return Prescription{}, false
}

func (s *Store) ByStatus(status Status) []Prescription {
	return s.where(func(p Prescription) bool { return p.Status == status })
}

func (s *Store) ByPatient(patientID string) []Prescription {
	return s.where(func(p Prescription) bool { return p.PatientID == patientID })
}

// CashierQueue lists prescriptions awaiting payment, oldest first.
func (s *Store) CashierQueue() []Prescription {
	q := s.ByStatus(StatusProcessing)
	slices.Reverse(q)
	return q
}

// Revenue sums the totals of paid and dispensed prescriptions.
func (s *Store) Revenue() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, p := range s.prescriptions {
		if p.Status == StatusPaid || p.Status == StatusDispensed {
			total += p.amount()
		}
	}
	return total
}

// PendingAmount sums the totals of prescriptions in the cashier queue.
func (s *Store) PendingAmount() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, p := range s.prescriptions {
		if p.Status == StatusProcessing {
			total += p.amount()
		}
	}
	return total
}

func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[Status]int{
		StatusPending: 0, StatusProcessing: 0, StatusPaid: 0, StatusDispensed: 0, StatusCancelled: 0,
	}
	for _, p := range s.prescriptions {
		counts[p.Status]++
	}
	return counts
}

func (s *Store) where(keep func(Prescription) bool) []Prescription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Prescription, 0)
	for i := len(s.prescriptions) - 1; i >= 0; i-- {
		if p := s.prescriptions[i]; keep(p) {
			out = append(out, p.clone())
		}
	}
	return out
}
