// Package clinical holds the nursing and laboratory records behind the nurse,
// doctor and laboratory dashboards: vital signs, drug administrations and lab
// results.
package clinical

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
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

const storeName = "clinical"

var bloodPressurePattern = regexp.MustCompile(`^\d{2,3}/\d{2,3}$`)

type Store struct {
	mu              sync.RWMutex
	vitals          []VitalSigns
	administrations []DrugAdministration
	labResults      []LabResult
	version         uint64

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

func actor(ctx context.Context) auth.User {
	u, _ := auth.UserFromContext(ctx)
	return u
}

func (s *Store) commit(ctx context.Context, action string, v uint64, payload any, entry *audit.NewEntry, toast string) {
	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: action, Topic: websocket.TopicClinical, Version: v,
		Payload: payload, Audit: entry, Toast: toast,
	})
}

// ---------- vitals ----------

// RecordVitals appends a vitals reading. BMI is derived from weight and
// height; any BMI supplied by the caller is ignored.
func (s *Store) RecordVitals(ctx context.Context, in VitalSigns) (VitalSigns, error) {
	if strings.TrimSpace(in.PatientID) == "" {
		return VitalSigns{}, effects.Invalid("patient_id", "is required")
	}
	in.BloodPressure = strings.ReplaceAll(in.BloodPressure, " ", "")
	if in.BloodPressure != "" && !bloodPressurePattern.MatchString(in.BloodPressure) {
		return VitalSigns{}, effects.Invalid("blood_pressure", "expected systolic/diastolic, e.g. 120/80")
	}
	if in.Weight < 0 || in.Height < 0 || in.Temperature < 0 || in.Pulse < 0 || in.RespiratoryRate < 0 {
		return VitalSigns{}, effects.Invalid("", "readings must not be negative")
	}
	if in.OxygenSaturation < 0 || in.OxygenSaturation > 100 {
		return VitalSigns{}, effects.Invalid("oxygen_saturation", "must be between 0 and 100")
	}

	u := actor(ctx)
	in.ID = uuid.New().String()
	in.BMI = ComputeBMI(in.Weight, in.Height)
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}
	if in.RecordedBy == "" {
		in.RecordedBy = u.Name
	}
	if in.RecordedByRole == "" {
		in.RecordedByRole = u.Role
	}

	s.mu.Lock()
	next := make([]VitalSigns, 0, len(s.vitals)+1)
	next = append(next, s.vitals...)
	s.vitals = append(next, in)
	s.version++
	v := s.version
	s.mu.Unlock()

	meta := map[string]any{
		"blood_pressure": in.BloodPressure,
		"temperature":    in.Temperature,
		"pulse":          in.Pulse,
	}
	if in.BMI != nil {
		meta["bmi"] = *in.BMI
	}
	s.commit(ctx, "record_vitals", v, in, &audit.NewEntry{
		Action: audit.ActionVitalsRecorded, Module: audit.ModuleNursing,
		PatientID: in.PatientID, PatientName: in.PatientName, Metadata: meta,
	}, fmt.Sprintf("Vitals recorded for %s", displayName(in.PatientName, in.PatientID)))
	return in.clone(), nil
}

// VitalsByPatient returns a patient's readings, newest first.
func (s *Store) VitalsByPatient(patientID string) []VitalSigns {
	s.mu.RLock()
	out := make([]VitalSigns, 0)
	for _, vs := range s.vitals {
		if vs.PatientID == patientID {
			out = append(out, vs.clone())
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b VitalSigns) int { return b.Timestamp.Compare(a.Timestamp) })
	return out
}

func (s *Store) LatestVitals(patientID string) (VitalSigns, bool) {
	all := s.VitalsByPatient(patientID)
	if len(all) == 0 {
		return VitalSigns{}, false
	}
	return all[0], true
}

// ---------- drug administration ----------

// RecordAdministration logs a dose event. Status defaults to Administered,
// which stamps the administration time and the acting nurse.
func (s *Store) RecordAdministration(ctx context.Context, in DrugAdministration) (DrugAdministration, error) {
	if strings.TrimSpace(in.PatientID) == "" {
		return DrugAdministration{}, effects.Invalid("patient_id", "is required")
	}
	if strings.TrimSpace(in.DrugName) == "" {
		return DrugAdministration{}, effects.Invalid("drug_name", "is required")
	}
	if in.Status == "" {
		in.Status = AdministrationAdministered
	}
	if !in.Status.Valid() {
		return DrugAdministration{}, effects.Invalid("status", fmt.Sprintf("unknown status %q", in.Status))
	}

	now := s.now()
	in.ID = uuid.New().String()
	in.CreatedAt = now
	if in.Status == AdministrationAdministered {
		if in.AdministeredAt == nil {
			in.AdministeredAt = &now
		}
		if in.AdministeredBy == "" {
			in.AdministeredBy = actor(ctx).Name
		}
	}

	s.mu.Lock()
	next := make([]DrugAdministration, 0, len(s.administrations)+1)
	next = append(next, s.administrations...)
	s.administrations = append(next, in)
	s.version++
	v := s.version
	s.mu.Unlock()

	s.commit(ctx, "record_administration", v, in, &audit.NewEntry{
		Action: audit.ActionDrugAdministered, Module: audit.ModuleNursing,
		PatientID: in.PatientID, PatientName: in.PatientName,
		Metadata: map[string]any{
			"drug_name": in.DrugName, "dosage": in.Dosage, "route": in.Route, "status": string(in.Status),
		},
	}, fmt.Sprintf("%s %s recorded for %s", in.DrugName, strings.ToLower(string(in.Status)), displayName(in.PatientName, in.PatientID)))
	return in.clone(), nil
}

// UpdateAdministrationStatus overwrites the status of a dose event.
func (s *Store) UpdateAdministrationStatus(ctx context.Context, id string, status AdministrationStatus, notes string) (DrugAdministration, error) {
	if !status.Valid() {
		return DrugAdministration{}, effects.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	s.mu.Lock()
	i := slices.IndexFunc(s.administrations, func(a DrugAdministration) bool { return a.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return DrugAdministration{}, fmt.Errorf("drug administration %s: %w", id, effects.ErrNotFound)
	}
	a := s.administrations[i]
	if a.Status == status && notes == "" {
		s.mu.Unlock()
		return a.clone(), nil
	}
	from := a.Status
	a.Status = status
	if notes != "" {
		a.Notes = notes
	}
	if status == AdministrationAdministered && a.AdministeredAt == nil {
		now := s.now()
		a.AdministeredAt = &now
		a.AdministeredBy = actor(ctx).Name
	}
	next := slices.Clone(s.administrations)
	next[i] = a
	s.administrations = next
	s.version++
	v := s.version
	s.mu.Unlock()

	s.commit(ctx, "update_administration", v, a, &audit.NewEntry{
		Action: audit.ActionDrugStatusUpdated, Module: audit.ModuleNursing,
		PatientID: a.PatientID, PatientName: a.PatientName,
		Metadata: map[string]any{"drug_name": a.DrugName, "from": string(from), "to": string(status)},
	}, fmt.Sprintf("%s marked %s", a.DrugName, strings.ToLower(string(status))))
	return a.clone(), nil
}

// AdministrationsByPatient returns a patient's dose events, newest first.
func (s *Store) AdministrationsByPatient(patientID string) []DrugAdministration {
	return s.administrationsWhere(func(a DrugAdministration) bool { return a.PatientID == patientID })
}

func (s *Store) PendingAdministrations() []DrugAdministration {
	return s.administrationsWhere(func(a DrugAdministration) bool { return a.Status == AdministrationPending })
}

func (s *Store) administrationsWhere(keep func(DrugAdministration) bool) []DrugAdministration {
	s.mu.RLock()
	out := make([]DrugAdministration, 0)
	for _, a := range s.administrations {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b DrugAdministration) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

// ---------- laboratory ----------

// RequestLabTest opens a Pending lab result.
func (s *Store) RequestLabTest(ctx context.Context, in LabResult) (LabResult, error) {
	if strings.TrimSpace(in.PatientID) == "" {
		return LabResult{}, effects.Invalid("patient_id", "is required")
	}
	if strings.TrimSpace(in.TestName) == "" {
		return LabResult{}, effects.Invalid("test_name", "is required")
	}

	in.ID = uuid.New().String()
	in.Status = LabPending
	in.ResultDate = nil
	in.Results = maps.Clone(in.Results)
	if in.RequestDate.IsZero() {
		in.RequestDate = s.now()
	}
	if in.RequestedBy == "" {
		in.RequestedBy = actor(ctx).Name
	}

	s.mu.Lock()
	next := make([]LabResult, 0, len(s.labResults)+1)
	next = append(next, s.labResults...)
	s.labResults = append(next, in)
	s.version++
	v := s.version
	s.mu.Unlock()

	s.commit(ctx, "request_lab", v, in, &audit.NewEntry{
		Action: audit.ActionLabTestRequested, Module: audit.ModuleLaboratory,
		PatientID: in.PatientID, PatientName: in.PatientName,
		Metadata: map[string]any{"test_name": in.TestName, "test_type": in.TestType, "priority": in.Priority},
	}, fmt.Sprintf("%s requested for %s", in.TestName, displayName(in.PatientName, in.PatientID)))
	return in.clone(), nil
}

// UpdateLabResult moves a lab result to status and merges results into it.
// Only the move to Completed is audited and notified; it also stamps the
// result date. Completed and Cancelled results are final.
func (s *Store) UpdateLabResult(ctx context.Context, id string, status LabStatus, results map[string]any) (LabResult, error) {
	if !status.Valid() {
		return LabResult{}, effects.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	s.mu.Lock()
	i := slices.IndexFunc(s.labResults, func(l LabResult) bool { return l.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return LabResult{}, fmt.Errorf("lab result %s: %w", id, effects.ErrNotFound)
	}
	l := s.labResults[i].clone()
	if l.Status.terminal() {
		s.mu.Unlock()
		return LabResult{}, s.fx.Reject(ctx, storeName, "update_lab", effects.Rejectf("%s for %s is already %s", l.TestName, displayName(l.PatientName, l.PatientID), strings.ToLower(string(l.Status))))
	}
	if status == l.Status && len(results) == 0 {
		s.mu.Unlock()
		return l, nil
	}
	completing := status == LabCompleted
	l.Status = status
	if len(results) > 0 {
		if l.Results == nil {
			l.Results = make(map[string]any, len(results))
		}
		maps.Copy(l.Results, results)
	}
	if completing {
		now := s.now()
		l.ResultDate = &now
	}
	next := slices.Clone(s.labResults)
	next[i] = l
	s.labResults = next
	s.version++
	v := s.version
	s.mu.Unlock()

	if !completing {
		s.commit(ctx, "update_lab", v, l, nil, "")
		return l.clone(), nil
	}
	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "complete_lab", Topic: websocket.TopicClinical, Version: v, Payload: l,
		Audit: &audit.NewEntry{
			Action: audit.ActionLabResultReady, Module: audit.ModuleLaboratory,
			PatientID: l.PatientID, PatientName: l.PatientName,
			Metadata: map[string]any{"test_name": l.TestName, "result_id": l.ID, "result_count": len(l.Results)},
		},
		Toast:  fmt.Sprintf("%s results completed", l.TestName),
		Notify: notification.TemplateLabResultReady,
		NotifyData: map[string]string{
			"test_name": l.TestName, "patient_name": displayName(l.PatientName, l.PatientID),
			"patient_id": l.PatientID, "result_id": l.ID,
		},
	})
	return l.clone(), nil
}

func (s *Store) LabResult(id string) (LabResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.labResults {
		if l.ID == id {
			return l.clone(), true
		}
	}
	return LabResult{}, false
}

func (s *Store) LabResultsByPatient(patientID string) []LabResult {
	return s.labResultsWhere(func(l LabResult) bool { return l.PatientID == patientID })
}

// PendingLabResults lists results not yet completed or cancelled.
func (s *Store) PendingLabResults() []LabResult {
	return s.labResultsWhere(func(l LabResult) bool { return !l.Status.terminal() })
}

func (s *Store) LabResultsByStatus(status LabStatus) []LabResult {
	return s.labResultsWhere(func(l LabResult) bool { return l.Status == status })
}

// LabCounts returns the number of results per status.
func (s *Store) LabCounts() map[LabStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[LabStatus]int{LabPending: 0, LabInProgress: 0, LabCompleted: 0, LabCancelled: 0}
	for _, l := range s.labResults {
		counts[l.Status]++
	}
	return counts
}

func (s *Store) labResultsWhere(keep func(LabResult) bool) []LabResult {
	s.mu.RLock()
	out := make([]LabResult, 0)
	for _, l := range s.labResults {
		if keep(l) {
			out = append(out, l.clone())
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b LabResult) int { return b.RequestDate.Compare(a.RequestDate) })
	return out
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return "patient " + id
}
