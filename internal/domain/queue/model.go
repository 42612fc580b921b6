package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/ehr/emr-dashboard/internal/domain/audit"
)

type Type string

const (
	TypeAdmission      Type = "Admission"
	TypeSurgery        Type = "Surgery"
	TypeRoomAssignment Type = "RoomAssignment"
)

// ModuleFor maps a request type to the audit module its actions are filed
// under.
func ModuleFor(t Type) audit.Module {
	switch t {
	case TypeAdmission:
		return audit.ModuleAdmission
	case TypeSurgery:
		return audit.ModuleSurgery
	case TypeRoomAssignment:
		return audit.ModuleBedManagement
	}
	return ""
}

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "Pending"
	StatusApproved   Status = "Approved"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusRejected   Status = "Rejected"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

type PatientType string

const (
	PatientIPD PatientType = "IPD"
	PatientOPD PatientType = "OPD"
)

// Details is the type-specific payload of a Request.
type Details interface {
	RequestType() Type
	validate() error
}

type AdmissionDetails struct {
	Diagnosis       string     `json:"diagnosis"`
	Ward            string     `json:"ward,omitempty"`
	AdmittingDoctor string     `json:"admitting_doctor,omitempty"`
	AdmissionDate   *time.Time `json:"admission_date,omitempty"`
	ExpectedStay    string     `json:"expected_stay,omitempty"`
}

func (AdmissionDetails) RequestType() Type { return TypeAdmission }

func (d AdmissionDetails) validate() error {
	if strings.TrimSpace(d.Diagnosis) == "" {
		return errors.New("diagnosis is required")
	}
	return nil
}

type SurgeryDetails struct {
	Procedure         string     `json:"procedure"`
	Surgeon           string     `json:"surgeon,omitempty"`
	Theatre           string     `json:"theatre,omitempty"`
	AnesthesiaType    string     `json:"anesthesia_type,omitempty"`
	ScheduledDate     *time.Time `json:"scheduled_date,omitempty"`
	EstimatedDuration string     `json:"estimated_duration,omitempty"`
}

func (SurgeryDetails) RequestType() Type { return TypeSurgery }

func (d SurgeryDetails) validate() error {
	if strings.TrimSpace(d.Procedure) == "" {
		return errors.New("procedure is required")
	}
	return nil
}

type RoomAssignmentDetails struct {
	BedID     string `json:"bed_id"`
	BedNumber string `json:"bed_number,omitempty"`
	Room      string `json:"room,omitempty"`
	Ward      string `json:"ward,omitempty"`
}

func (RoomAssignmentDetails) RequestType() Type { return TypeRoomAssignment }

func (d RoomAssignmentDetails) validate() error {
	if strings.TrimSpace(d.BedID) == "" {
		return errors.New("bed_id is required")
	}
	return nil
}

// Request is the common envelope. Its concrete kind is carried by Details;
// on the wire the kind is the "request_type" field and the payload sits
// under "details".
type Request struct {
	ID              string         `json:"id"`
	PatientID       string         `json:"patient_id"`
	PatientName     string         `json:"patient_name"`
	PatientType     PatientType    `json:"patient_type,omitempty"`
	Priority        Priority       `json:"priority"`
	Status          Status         `json:"status"`
	RequestedBy     string         `json:"requested_by"`
	RequestedAt     time.Time      `json:"requested_at"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	CompletedBy     string         `json:"completed_by,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Details         Details        `json:"details"`
}

// Type returns the request kind, or "" when Details is unset.
func (r Request) Type() Type {
	if r.Details == nil {
		return ""
	}
	return r.Details.RequestType()
}

func (r Request) clone() Request {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	return json.Marshal(struct {
		plain
		RequestType Type `json:"request_type"`
	}{plain(r), r.Type()})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var raw struct {
		plain
		RequestType Type            `json:"request_type"`
		Details     json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	details, err := decodeDetails(raw.RequestType, raw.Details)
	if err != nil {
		return err
	}
	*r = Request(raw.plain)
	r.Details = details
	return nil
}

func decodeDetails(t Type, data json.RawMessage) (Details, error) {
	empty := len(data) == 0 || string(data) == "null"
	switch t {
	case TypeAdmission:
		var d AdmissionDetails
		if !empty {
			if err := json.Unmarshal(data, &d); err != nil {
				return nil, fmt.Errorf("decode admission details: %w", err)
			}
		}
		return d, nil
	case TypeSurgery:
		var d SurgeryDetails
		if !empty {
			if err := json.Unmarshal(data, &d); err != nil {
				return nil, fmt.Errorf("decode surgery details: %w", err)
			}
		}
		return d, nil
	case TypeRoomAssignment:
		var d RoomAssignmentDetails
		if !empty {
			if err := json.Unmarshal(data, &d); err != nil {
				return nil, fmt.Errorf("decode room assignment details: %w", err)
			}
		}
		return d, nil
	case "":
		return nil, errors.New("request_type is required")
	}
	return nil, fmt.Errorf("unknown request_type %q", t)
}
