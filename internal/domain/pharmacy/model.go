package pharmacy

import (
	"slices"
	"time"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusPaid       Status = "Paid"
	StatusDispensed  Status = "Dispensed"
	StatusCancelled  Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaid, StatusDispensed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDispensed || s == StatusCancelled
}

type PrescribedDrug struct {
	DrugID       string   `json:"drug_id,omitempty"`
	Name         string   `json:"name"`
	Dosage       string   `json:"dosage"`
	Quantity     int      `json:"quantity"`
	Duration     string   `json:"duration,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Price        *float64 `json:"price,omitempty"` // unit price
}

// Prescription is identified internally by ID and on paper by
// PrescriptionID (e.g. "RX-1").
type Prescription struct {
	ID                 string           `json:"id"`
	PrescriptionID     string           `json:"prescription_id"`
	FileNumber         string           `json:"file_number,omitempty"`
	PatientID          string           `json:"patient_id"`
	PatientName        string           `json:"patient_name"`
	PatientAge         int              `json:"patient_age,omitempty"`
	PatientGender      string           `json:"patient_gender,omitempty"`
	PatientType        string           `json:"patient_type,omitempty"` // IPD or OPD
	PrescribedDrugs    []PrescribedDrug `json:"prescribed_drugs"`
	PrescribedBy       string           `json:"prescribed_by"`
	PrescriptionDate   time.Time        `json:"prescription_date"`
	Status             Status           `json:"status"`
	TotalAmount        *float64         `json:"total_amount,omitempty"`
	PaymentMethod      string           `json:"payment_method,omitempty"`
	PaidAt             *time.Time       `json:"paid_at,omitempty"`
	DispensedBy        string           `json:"dispensed_by,omitempty"`
	DispensedAt        *time.Time       `json:"dispensed_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
}

// clone copies p so that no slice or pointer is shared with the original.
func (p Prescription) clone() Prescription {
	p.PrescribedDrugs = slices.Clone(p.PrescribedDrugs)
	for i := range p.PrescribedDrugs {
		p.PrescribedDrugs[i].Price = copyOf(p.PrescribedDrugs[i].Price)
	}
	p.TotalAmount = copyOf(p.TotalAmount)
	p.PaidAt = copyOf(p.PaidAt)
	p.DispensedAt = copyOf(p.DispensedAt)
	p.CancelledAt = copyOf(p.CancelledAt)
	return p
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (p Prescription) amount() float64 {
	if p.TotalAmount == nil {
		return 0
	}
	return *p.TotalAmount
}

// lineTotal sums price*quantity over priced lines. It returns nil when no
// line carries a price.
func lineTotal(drugs []PrescribedDrug) *float64 {
	var (
		total  float64
		priced bool
	)
	for _, d := range drugs {
		if d.Price == nil {
			continue
		}
		priced = true
		total += *d.Price * float64(d.Quantity)
	}
	if !priced {
		return nil
	}
	return &total
}
