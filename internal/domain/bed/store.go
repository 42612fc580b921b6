// Package bed owns the ward and bed collections used by the admin and nurse
// dashboards. Occupancy changes only through AssignBed and ReleaseBed.
package bed

import (
	"context"
	"fmt"
	"math"
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

const storeName = "bed"

type Store struct {
	mu      sync.RWMutex
	beds    []Bed
	wards   []Ward
	version uint64

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

// commitLocked installs the new collections, recomputes ward counts and
// bumps the version. Callers hold s.mu.
func (s *Store) commitLocked(beds []Bed, wards []Ward) uint64 {
	s.beds = beds
	s.wards = recomputeWards(wards, beds)
	s.version++
	return s.version
}

func (s *Store) indexOfBed(id string) int {
	for i, b := range s.beds {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) wardExists(name string) bool {
	for _, w := range s.wards {
		if strings.EqualFold(w.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) bedNumberTaken(ward, number, exceptID string) bool {
	for _, b := range s.beds {
		if b.ID != exceptID && strings.EqualFold(b.Ward, ward) && strings.EqualFold(b.BedNumber, number) {
			return true
		}
	}
	return false
}

// replaceBed returns a copy of beds with the element at i set to b.
func replaceBed(beds []Bed, i int, b Bed) []Bed {
	next := make([]Bed, len(beds))
	copy(next, beds)
	next[i] = b
	return next
}

func actorName(ctx context.Context) string {
	if u, ok := auth.UserFromContext(ctx); ok {
		return u.Name
	}
	return ""
}

// AddWard creates a ward. Names are unique, case-insensitively.
func (s *Store) AddWard(ctx context.Context, w Ward) (Ward, error) {
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return Ward{}, effects.Invalid("name", "is required")
	}
	if w.Category == "" {
		w.Category = CategoryGeneral
	}
	if !w.Category.Valid() {
		return Ward{}, effects.Invalid("category", fmt.Sprintf("unknown category %q", w.Category))
	}

	s.mu.Lock()
	if s.wardExists(w.Name) {
		s.mu.Unlock()
		return Ward{}, s.fx.Reject(ctx, storeName, "add_ward", effects.Rejectf("Ward %s already exists", w.Name))
	}
	w.ID = uuid.New().String()
	wards := make([]Ward, 0, len(s.wards)+1)
	wards = append(wards, s.wards...)
	wards = append(wards, w)
	v := s.commitLocked(s.beds, wards)
	w = s.wards[len(s.wards)-1]
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "add_ward", Topic: websocket.TopicBeds, Version: v, Payload: w,
		Audit: &audit.NewEntry{
			Action: audit.ActionWardCreated, Module: audit.ModuleBedManagement,
			Metadata: map[string]any{"ward": w.Name, "department": w.Department, "floor": w.Floor},
		},
		Toast: fmt.Sprintf("Ward %s created", w.Name),
	})
	return w, nil
}

// AddBed creates a bed in an existing ward. New beds cannot start Occupied.
func (s *Store) AddBed(ctx context.Context, b Bed) (Bed, error) {
	b.BedNumber = strings.TrimSpace(b.BedNumber)
	if b.BedNumber == "" {
		return Bed{}, effects.Invalid("bed_number", "is required")
	}
	if strings.TrimSpace(b.Ward) == "" {
		return Bed{}, effects.Invalid("ward", "is required")
	}
	if b.Category == "" {
		b.Category = CategoryGeneral
	}
	if !b.Category.Valid() {
		return Bed{}, effects.Invalid("category", fmt.Sprintf("unknown category %q", b.Category))
	}
	if b.Status == "" {
		b.Status = StatusAvailable
	}
	if !b.Status.Valid() {
		return Bed{}, effects.Invalid("status", fmt.Sprintf("unknown status %q", b.Status))
	}
	if b.Status == StatusOccupied || b.PatientID != "" {
		return Bed{}, effects.Invalid("status", "a new bed cannot be occupied; assign a patient instead")
	}
	if b.Rate < 0 {
		return Bed{}, effects.Invalid("rate", "must not be negative")
	}

	s.mu.Lock()
	if !s.wardExists(b.Ward) {
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "add_bed", effects.Rejectf("Ward %s does not exist", b.Ward))
	}
	if s.bedNumberTaken(b.Ward, b.BedNumber, "") {
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "add_bed", effects.Rejectf("Bed %s already exists in %s", b.BedNumber, b.Ward))
	}
	b.ID = uuid.New().String()
	beds := make([]Bed, 0, len(s.beds)+1)
	beds = append(beds, s.beds...)
	beds = append(beds, b)
	v := s.commitLocked(beds, s.wards)
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "add_bed", Topic: websocket.TopicBeds, Version: v, Payload: b,
		Audit: &audit.NewEntry{
			Action: audit.ActionBedCreated, Module: audit.ModuleBedManagement,
			Metadata: map[string]any{"bed_number": b.BedNumber, "ward": b.Ward, "category": string(b.Category)},
		},
		Toast: fmt.Sprintf("Bed %s added to %s", b.BedNumber, b.Ward),
	})
	return b, nil
}

// UpdateBed edits the descriptive fields of a bed.
func (s *Store) UpdateBed(ctx context.Context, id string, u Update) (Bed, error) {
	if u.Category != nil && !u.Category.Valid() {
		return Bed{}, effects.Invalid("category", fmt.Sprintf("unknown category %q", *u.Category))
	}
	if u.Rate != nil && *u.Rate < 0 {
		return Bed{}, effects.Invalid("rate", "must not be negative")
	}
	if u.BedNumber != nil && strings.TrimSpace(*u.BedNumber) == "" {
		return Bed{}, effects.Invalid("bed_number", "must not be empty")
	}

	s.mu.Lock()
	i := s.indexOfBed(id)
	if i < 0 {
		s.mu.Unlock()
		return Bed{}, fmt.Errorf("bed %s: %w", id, effects.ErrNotFound)
	}
	b := s.beds[i]
	changed := map[string]any{}
	if u.Ward != nil && *u.Ward != b.Ward {
		if !s.wardExists(*u.Ward) {
			s.mu.Unlock()
			return Bed{}, s.fx.Reject(ctx, storeName, "update_bed", effects.Rejectf("Ward %s does not exist", *u.Ward))
		}
		b.Ward = *u.Ward
		changed["ward"] = b.Ward
	}
	if u.BedNumber != nil && strings.TrimSpace(*u.BedNumber) != b.BedNumber {
		b.BedNumber = strings.TrimSpace(*u.BedNumber)
		changed["bed_number"] = b.BedNumber
	}
	if s.bedNumberTaken(b.Ward, b.BedNumber, b.ID) {
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "update_bed", effects.Rejectf("Bed %s already exists in %s", b.BedNumber, b.Ward))
	}
	if u.Floor != nil && *u.Floor != b.Floor {
		b.Floor = *u.Floor
		changed["floor"] = b.Floor
	}
	if u.Category != nil && *u.Category != b.Category {
		b.Category = *u.Category
		changed["category"] = string(b.Category)
	}
	if u.Rate != nil && *u.Rate != b.Rate {
		b.Rate = *u.Rate
		changed["rate"] = b.Rate
	}
	if u.Notes != nil && *u.Notes != b.Notes {
		b.Notes = *u.Notes
		changed["notes"] = b.Notes
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return b.clone(), nil
	}
	v := s.commitLocked(replaceBed(s.beds, i, b), s.wards)
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "update_bed", Topic: websocket.TopicBeds, Version: v, Payload: b,
		Audit: &audit.NewEntry{
			Action: audit.ActionBedUpdated, Module: audit.ModuleBedManagement,
			Metadata: map[string]any{"bed_number": b.BedNumber, "ward": b.Ward, "changes": changed},
		},
		Toast: fmt.Sprintf("Bed %s updated", b.BedNumber),
	})
	return b.clone(), nil
}

// RemoveBed deletes a bed. Occupied beds must be released first.
func (s *Store) RemoveBed(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexOfBed(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("bed %s: %w", id, effects.ErrNotFound)
	}
	b := s.beds[i]
	if b.Status == StatusOccupied {
		s.mu.Unlock()
		return s.fx.Reject(ctx, storeName, "remove_bed", effects.Rejectf("Bed %s is occupied by %s and cannot be removed", b.BedNumber, b.PatientName))
	}
	beds := make([]Bed, 0, len(s.beds)-1)
	beds = append(beds, s.beds[:i]...)
	beds = append(beds, s.beds[i+1:]...)
	v := s.commitLocked(beds, s.wards)
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "remove_bed", Topic: websocket.TopicBeds, Version: v,
		Payload: map[string]string{"id": b.ID, "removed": "true"},
		Audit: &audit.NewEntry{
			Action: audit.ActionBedRemoved, Module: audit.ModuleBedManagement,
			Metadata: map[string]any{"bed_number": b.BedNumber, "ward": b.Ward},
		},
		Toast: fmt.Sprintf("Bed %s removed", b.BedNumber),
	})
	return nil
}

// AssignBed places a patient in an Available or Reserved bed. An occupied
// bed is never overwritten.
func (s *Store) AssignBed(ctx context.Context, bedID, patientID, patientName string) (Bed, error) {
	if strings.TrimSpace(patientID) == "" {
		return Bed{}, effects.Invalid("patient_id", "is required")
	}

	s.mu.Lock()
	i := s.indexOfBed(bedID)
	if i < 0 {
		s.mu.Unlock()
		return Bed{}, fmt.Errorf("bed %s: %w", bedID, effects.ErrNotFound)
	}
	b := s.beds[i]
	var rej *effects.RejectedError
	switch b.Status {
	case StatusOccupied:
		rej = effects.Rejectf("Bed %s is already occupied by %s", b.BedNumber, b.PatientName)
	case StatusMaintenance:
		rej = effects.Rejectf("Bed %s is under maintenance", b.BedNumber)
	case StatusCleaning:
		rej = effects.Rejectf("Bed %s is being cleaned", b.BedNumber)
	}
	if rej == nil {
		for _, other := range s.beds {
			if other.PatientID == patientID {
				rej = effects.Rejectf("%s already occupies bed %s in %s", patientName, other.BedNumber, other.Ward)
				break
			}
		}
	}
	if rej != nil {
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "assign", rej)
	}

	now := s.now()
	b.Status = StatusOccupied
	b.PatientID = patientID
	b.PatientName = patientName
	b.AssignedDate = &now
	b.AssignedBy = actorName(ctx)
	v := s.commitLocked(replaceBed(s.beds, i, b), s.wards)
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "assign", Topic: websocket.TopicBeds, Version: v, Payload: b,
		Audit: &audit.NewEntry{
			Action: audit.ActionBedAssigned, Module: audit.ModuleBedManagement,
			PatientID: patientID, PatientName: patientName,
			Metadata: map[string]any{"bed_number": b.BedNumber, "ward": b.Ward, "category": string(b.Category)},
		},
		Toast:  fmt.Sprintf("%s assigned to bed %s", patientName, b.BedNumber),
		Notify: notification.TemplateBedAssigned,
		NotifyData: map[string]string{
			"patient_id": patientID, "patient_name": patientName, "bed_number": b.BedNumber, "ward": b.Ward,
		},
	})
	return b.clone(), nil
}

// ReleaseBed discharges the occupant and makes the bed Available.
func (s *Store) ReleaseBed(ctx context.Context, bedID string) (Bed, error) {
	s.mu.Lock()
	i := s.indexOfBed(bedID)
	if i < 0 {
		s.mu.Unlock()
		return Bed{}, fmt.Errorf("bed %s: %w", bedID, effects.ErrNotFound)
	}
	b := s.beds[i]
	if b.Status != StatusOccupied {
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "release", effects.Rejectf("Bed %s is not occupied", b.BedNumber))
	}
	patientID, patientName := b.PatientID, b.PatientName
	b.Status = StatusAvailable
	b.PatientID = ""
	b.PatientName = ""
	b.AssignedDate = nil
	b.AssignedBy = ""
	v := s.commitLocked(replaceBed(s.beds, i, b), s.wards)
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "release", Topic: websocket.TopicBeds, Version: v, Payload: b,
		Audit: &audit.NewEntry{
			Action: audit.ActionBedReleased, Module: audit.ModuleBedManagement,
			PatientID: patientID, PatientName: patientName,
			Metadata: map[string]any{"bed_number": b.BedNumber, "ward": b.Ward},
		},
		Toast:      fmt.Sprintf("Bed %s released", b.BedNumber),
		Notify:     notification.TemplateBedReleased,
		NotifyData: map[string]string{"patient_id": patientID, "bed_number": b.BedNumber, "ward": b.Ward},
	})
	return b, nil
}

// ChangeBedStatus sets Reserved, Maintenance, Cleaning or Available on an
// unoccupied bed. Moving into or out of Occupied is refused so that status
// and patient fields never disagree.
func (s *Store) ChangeBedStatus(ctx context.Context, bedID string, status Status) (Bed, error) {
	if !status.Valid() {
		return Bed{}, effects.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	s.mu.Lock()
	i := s.indexOfBed(bedID)
	if i < 0 {
		s.mu.Unlock()
		return Bed{}, fmt.Errorf("bed %s: %w", bedID, effects.ErrNotFound)
	}
	b := s.beds[i]
	switch {
	case status == StatusOccupied:
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "change_status", effects.Rejectf("Assign a patient to mark bed %s occupied", b.BedNumber))
	case b.Status == StatusOccupied:
		s.mu.Unlock()
		return Bed{}, s.fx.Reject(ctx, storeName, "change_status", effects.Rejectf("Bed %s is occupied by %s; release it first", b.BedNumber, b.PatientName))
	case b.Status == status:
		s.mu.Unlock()
		return b.clone(), nil
	}
	from := b.Status
	b.Status = status
	v := s.commitLocked(replaceBed(s.beds, i, b), s.wards)
	s.mu.Unlock()

	s.fx.Commit(ctx, effects.Outcome{
		Store: storeName, Action: "change_status", Topic: websocket.TopicBeds, Version: v, Payload: b,
		Audit: &audit.NewEntry{
			Action: audit.ActionBedStatusChanged, Module: audit.ModuleBedManagement,
			Metadata: map[string]any{"bed_number": b.BedNumber, "ward": b.Ward, "from": string(from), "to": string(status)},
		},
		Toast: fmt.Sprintf("Bed %s marked %s", b.BedNumber, status),
	})
	return b, nil
}

// UpdateWardStats recomputes every ward's counts from the bed collection.
func (s *Store) UpdateWardStats(ctx context.Context) {
	s.mu.Lock()
	v := s.commitLocked(s.beds, s.wards)
	wards := append([]Ward(nil), s.wards...)
	s.mu.Unlock()

	s.fx.Publish(ctx, websocket.EventStoreChanged, websocket.TopicBeds, v, map[string]any{"wards": wards})
}

func recomputeWards(wards []Ward, beds []Bed) []Ward {
	next := make([]Ward, len(wards))
	for i, w := range wards {
		w.TotalBeds, w.AvailableBeds, w.OccupiedBeds = 0, 0, 0
		for _, b := range beds {
			if !strings.EqualFold(b.Ward, w.Name) {
				continue
			}
			w.TotalBeds++
			switch b.Status {
			case StatusAvailable:
				w.AvailableBeds++
			case StatusOccupied:
				w.OccupiedBeds++
			}
		}
		next[i] = w
	}
	return next
}

// ---------- queries ----------

func (s *Store) Beds() []Bed {
	return s.filterBeds(func(Bed) bool { return true })
}

func (s *Store) Bed(id string) (Bed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOfBed(id); i >= 0 {
		return s.beds[i].clone(), true
	}
	return Bed{}, false
}

// BedForPatient returns the bed a patient currently occupies.
func (s *Store) BedForPatient(patientID string) (Bed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.beds {
		if b.PatientID == patientID {
			return b.clone(), true
		}
	}
	return Bed{}, false
}

func (s *Store) BedsByWard(ward string) []Bed {
	return s.filterBeds(func(b Bed) bool { return strings.EqualFold(b.Ward, ward) })
}

// AvailableBeds lists Available beds, optionally restricted to one category.
func (s *Store) AvailableBeds(category Category) []Bed {
	return s.filterBeds(func(b Bed) bool {
		return b.Status == StatusAvailable && (category == "" || b.Category == category)
	})
}

func (s *Store) OccupiedBeds() []Bed {
	return s.filterBeds(func(b Bed) bool { return b.Status == StatusOccupied })
}

func (s *Store) BedsByStatus(status Status) []Bed {
	return s.filterBeds(func(b Bed) bool { return b.Status == status })
}

func (s *Store) Wards() []Ward {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Ward{}, s.wards...)
}

func (s *Store) Ward(name string) (Ward, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wards {
		if strings.EqualFold(w.Name, name) {
			return w, true
		}
	}
	return Ward{}, false
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalBeds: len(s.beds), ByCategory: make(map[Category]Counts)}
	for _, b := range s.beds {
		c := st.ByCategory[b.Category]
		c.Total++
		switch b.Status {
		case StatusAvailable:
			st.Available++
			c.Available++
		case StatusOccupied:
			st.Occupied++
			c.Occupied++
		case StatusReserved:
			st.Reserved++
		case StatusMaintenance:
			st.Maintenance++
		case StatusCleaning:
			st.Cleaning++
		}
		st.ByCategory[b.Category] = c
	}
	if st.TotalBeds > 0 {
		st.OccupancyRate = math.Round(float64(st.Occupied)/float64(st.TotalBeds)*1000) / 10
	}
	return st
}

func (s *Store) filterBeds(keep func(Bed) bool) []Bed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Bed, 0)
	for _, b := range s.beds {
		if keep(b) {
			out = append(out, b.clone())
		}
	}
	return out
}
