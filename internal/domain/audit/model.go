package audit

import (
	"maps"
	"time"
)

// Action names one auditable domain event.
type Action string

const (
	ActionWardCreated       Action = "WARD_CREATED"
	ActionBedCreated        Action = "BED_CREATED"
	ActionBedUpdated        Action = "BED_UPDATED"
	ActionBedRemoved        Action = "BED_REMOVED"
	ActionBedAssigned       Action = "BED_ASSIGNED"
	ActionBedReleased       Action = "BED_RELEASED"
	ActionBedStatusChanged  Action = "BED_STATUS_CHANGED"
	ActionVitalsRecorded    Action = "VITALS_RECORDED"
	ActionDrugAdministered  Action = "DRUG_ADMINISTERED"
	ActionDrugStatusUpdated Action = "DRUG_ADMINISTRATION_UPDATED"
	ActionLabTestRequested  Action = "LAB_TEST_REQUESTED"
	ActionLabResultReady    Action = "LAB_RESULT_COMPLETED"

	ActionPrescriptionCreated   Action = "PRESCRIPTION_CREATED"
	ActionPrescriptionQueued    Action = "PRESCRIPTION_SENT_TO_CASHIER"
	ActionPaymentConfirmed      Action = "PAYMENT_CONFIRMED"
	ActionPrescriptionDispensed Action = "PRESCRIPTION_DISPENSED"
	ActionPrescriptionCancelled Action = "PRESCRIPTION_CANCELLED"

	ActionRequestCreated         Action = "REQUEST_CREATED"
	ActionRequestApproved        Action = "REQUEST_APPROVED"
	ActionRequestRejected        Action = "REQUEST_REJECTED"
	ActionRequestStarted         Action = "REQUEST_STARTED"
	ActionRequestCompleted       Action = "REQUEST_COMPLETED"
	ActionRequestCancelled       Action = "REQUEST_CANCELLED"
	ActionRequestPriorityChanged Action = "REQUEST_PRIORITY_CHANGED"
)

// Module is the functional area an action belongs to.
type Module string

const (
	ModuleBedManagement Module = "BedManagement"
	ModuleNursing       Module = "Nursing"
	ModuleLaboratory    Module = "Laboratory"
	ModulePharmacy      Module = "Pharmacy"
	ModuleBilling       Module = "Billing"
	ModuleAdmission     Module = "Admission"
	ModuleSurgery       Module = "Surgery"
)

// Entry is one immutable audit record.
type Entry struct {
	ID          string         `json:"id"`
	Action      Action         `json:"action"`
	Module      Module         `json:"module"`
	UserID      string         `json:"user_id"`
	UserName    string         `json:"user_name"`
	UserRole    string         `json:"user_role"`
	Timestamp   time.Time      `json:"timestamp"`
	PatientID   string         `json:"patient_id,omitempty"`
	PatientName string         `json:"patient_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewEntry is what callers supply; identity, time and user are stamped by
// the store.
type NewEntry struct {
	Action      Action
	Module      Module
	PatientID   string
	PatientName string
	Metadata    map[string]any
}

func (e Entry) clone() Entry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
