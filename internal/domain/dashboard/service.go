// Package dashboard aggregates read-only KPIs for each role dashboard from the
// domain stores.
package dashboard

import (
	"errors"
	"time"

	"github.com/ehr/emr-dashboard/internal/domain/bed"
	"github.com/ehr/emr-dashboard/internal/domain/clinical"
	"github.com/ehr/emr-dashboard/internal/domain/notification"
	"github.com/ehr/emr-dashboard/internal/domain/pharmacy"
	"github.com/ehr/emr-dashboard/internal/domain/queue"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

var ErrUnknownRole = errors.New("unknown dashboard role")

// Dashboard roles. Pharmacy and laboratory dashboards are named after the
// department rather than the staff role.
const (
	RoleCashier    = "cashier"
	RoleNurse      = "nurse"
	RoleDoctor     = "doctor"
	RolePharmacy   = "pharmacy"
	RoleLaboratory = "laboratory"
	RoleAdmin      = "admin"
)

// StaffRole maps a dashboard to the staff role allowed to view it.
func StaffRole(dashboard string) string {
	switch dashboard {
	case RolePharmacy:
		return auth.RolePharmacist
	case RoleLaboratory:
		return auth.RoleLabTechnician
	}
	return dashboard
}

type Deps struct {
	Beds          *bed.Store
	Clinical      *clinical.Store
	Pharmacy      *pharmacy.Store
	Queue         *queue.Store
	Notifications *notification.Store
}

type Service struct {
	beds     *bed.Store
	clinical *clinical.Store
	pharmacy *pharmacy.Store
	queue    *queue.Store
	notes    *notification.Store
	now      func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		beds:     d.Beds,
		clinical: d.Clinical,
		pharmacy: d.Pharmacy,
		queue:    d.Queue,
		notes:    d.Notifications,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Snapshot struct {
	Role                string    `json:"role"`
	GeneratedAt         time.Time `json:"generated_at"`
	UnreadNotifications int       `json:"unread_notifications"`
	KPIs                any       `json:"kpis"`
}

type CashierKPIs struct {
	QueueLength   int     `json:"queue_length"`
	PendingAmount float64 `json:"pending_amount"`
	Revenue       float64 `json:"revenue"`
	PaidCount     int     `json:"paid_count"`
}

type NurseKPIs struct {
	Occupancy              bed.Stats `json:"occupancy"`
	PendingAdministrations int       `json:"pending_administrations"`
	PendingLabResults      int       `json:"pending_lab_results"`
}

type DoctorKPIs struct {
	PendingRequests  int                `json:"pending_requests"`
	PendingByType    map[queue.Type]int `json:"pending_by_type"`
	CriticalRequests int                `json:"critical_requests"`
}

type PharmacyKPIs struct {
	ByStatus        map[pharmacy.Status]int `json:"by_status"`
	ReadyToDispense int                     `json:"ready_to_dispense"`
}

type LaboratoryKPIs struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

type AdminKPIs struct {
	Occupancy bed.Stats  `json:"occupancy"`
	Wards     []bed.Ward `json:"wards"`
}

// For builds the snapshot for a dashboard role.
func (s *Service) For(role string) (Snapshot, error) {
	var kpis any
	switch role {
	case RoleCashier:
		kpis = s.Cashier()
	case RoleNurse:
		kpis = s.Nurse()
	case RoleDoctor:
		kpis = s.Doctor()
	case RolePharmacy:
		kpis = s.Pharmacy()
	case RoleLaboratory:
		kpis = s.Laboratory()
	case RoleAdmin:
		kpis = s.Admin()
	default:
		return Snapshot{}, ErrUnknownRole
	}
	snap := Snapshot{Role: role, GeneratedAt: s.now(), KPIs: kpis}
	if s.notes != nil {
		snap.UnreadNotifications = s.notes.UnreadCount()
	}
	return snap, nil
}

func (s *Service) Cashier() CashierKPIs {
	counts := s.pharmacy.CountByStatus()
	return CashierKPIs{
		QueueLength:   counts[pharmacy.StatusProcessing],
		PendingAmount: s.pharmacy.PendingAmount(),
		Revenue:       s.pharmacy.Revenue(),
		PaidCount:     counts[pharmacy.StatusPaid] + counts[pharmacy.StatusDispensed],
	}
}

func (s *Service) Nurse() NurseKPIs {
	return NurseKPIs{
		Occupancy:              s.beds.Stats(),
		PendingAdministrations: len(s.clinical.PendingAdministrations()),
		PendingLabResults:      len(s.clinical.PendingLabResults()),
	}
}

func (s *Service) Doctor() DoctorKPIs {
	byType := s.queue.PendingByType()
	total := 0
	for _, n := range byType {
		total += n
	}
	return DoctorKPIs{
		PendingRequests:  total,
		PendingByType:    byType,
		CriticalRequests: len(s.queue.Critical()),
	}
}

func (s *Service) Pharmacy() PharmacyKPIs {
	counts := s.pharmacy.CountByStatus()
	return PharmacyKPIs{ByStatus: counts, ReadyToDispense: counts[pharmacy.StatusPaid]}
}

func (s *Service) Laboratory() LaboratoryKPIs {
	c := s.clinical.LabCounts()
	return LaboratoryKPIs{
		Pending:    c[clinical.LabPending],
		InProgress: c[clinical.LabInProgress],
		Completed:  c[clinical.LabCompleted],
		Cancelled:  c[clinical.LabCancelled],
	}
}

func (s *Service) Admin() AdminKPIs {
	return AdminKPIs{Occupancy: s.beds.Stats(), Wards: s.beds.Wards()}
}
