package clinical

import (
	"maps"
	"math"
	"time"
)

// VitalSigns is one bedside observation. History is append-only per patient.
type VitalSigns struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patient_id"`
	PatientName      string    `json:"patient_name,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	BloodPressure    string    `json:"blood_pressure,omitempty"` // "systolic/diastolic"
	Temperature      float64   `json:"temperature,omitempty"`
	Pulse            int       `json:"pulse,omitempty"`
	RespiratoryRate  int       `json:"respiratory_rate,omitempty"`
	OxygenSaturation float64   `json:"oxygen_saturation,omitempty"`
	Weight           float64   `json:"weight,omitempty"` // kg
	Height           float64   `json:"height,omitempty"` // cm
	BMI              *float64  `json:"bmi,omitempty"`
	RecordedBy       string    `json:"recorded_by"`
	RecordedByRole   string    `json:"recorded_by_role"`
	Notes            string    `json:"notes,omitempty"`
}

func (v VitalSigns) clone() VitalSigns {
	v.BMI = copyOf(v.BMI)
	return v
}

// ComputeBMI returns weight(kg) / height(m)^2 rounded to one decimal, or nil
// when either reading is missing.
func ComputeBMI(weightKg, heightCm float64) *float64 {
	if weightKg <= 0 || heightCm <= 0 {
		return nil
	}
	m := heightCm / 100
	bmi := math.Round(weightKg/(m*m)*10) / 10
	return &bmi
}

type AdministrationStatus string

const (
	AdministrationAdministered AdministrationStatus = "Administered"
	AdministrationMissed       AdministrationStatus = "Missed"
	AdministrationRefused      AdministrationStatus = "Refused"
	AdministrationPending      AdministrationStatus = "Pending"
)

func (s AdministrationStatus) Valid() bool {
	switch s {
	case AdministrationAdministered, AdministrationMissed, AdministrationRefused, AdministrationPending:
		return true
	}
	return false
}

// DrugAdministration is one dose event.
type DrugAdministration struct {
	ID             string               `json:"id"`
	PatientID      string               `json:"patient_id"`
	PatientName    string               `json:"patient_name,omitempty"`
	DrugName       string               `json:"drug_name"`
	Dosage         string               `json:"dosage"`
	Route          string               `json:"route,omitempty"`
	Frequency      string               `json:"frequency,omitempty"`
	PrescribedBy   string               `json:"prescribed_by,omitempty"`
	AdministeredBy string               `json:"administered_by,omitempty"`
	AdministeredAt *time.Time           `json:"administered_at,omitempty"`
	Status         AdministrationStatus `json:"status"`
	Notes          string               `json:"notes,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

func (a DrugAdministration) clone() DrugAdministration {
	a.AdministeredAt = copyOf(a.AdministeredAt)
	return a
}

type LabStatus string

const (
	LabPending    LabStatus = "Pending"
	LabInProgress LabStatus = "In Progress"
	LabCompleted  LabStatus = "Completed"
	LabCancelled  LabStatus = "Cancelled"
)

func (s LabStatus) Valid() bool {
	switch s {
	case LabPending, LabInProgress, LabCompleted, LabCancelled:
		return true
	}
	return false
}

func (s LabStatus) terminal() bool {
	return s == LabCompleted || s == LabCancelled
}

type LabResult struct {
	ID          string         `json:"id"`
	PatientID   string         `json:"patient_id"`
	PatientName string         `json:"patient_name,omitempty"`
	TestName    string         `json:"test_name"`
	TestType    string         `json:"test_type,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	RequestDate time.Time      `json:"request_date"`
	ResultDate  *time.Time     `json:"result_date,omitempty"`
	Status      LabStatus      `json:"status"`
	Results     map[string]any `json:"results,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

func (l LabResult) clone() LabResult {
	l.Results = maps.Clone(l.Results)
	l.ResultDate = copyOf(l.ResultDate)
	return l
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
