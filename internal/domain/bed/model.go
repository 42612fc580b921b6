package bed

import (
	"time"
)

type Category string

const (
	CategoryGeneral   Category = "General"
	CategoryPrivate   Category = "Private"
	CategoryICU       Category = "ICU"
	CategoryNICU      Category = "NICU"
	CategoryIsolation Category = "Isolation"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryPrivate, CategoryICU, CategoryNICU, CategoryIsolation:
		return true
	}
	return false
}

type Status string

const (
	StatusAvailable   Status = "Available"
	StatusOccupied    Status = "Occupied"
	StatusReserved    Status = "Reserved"
	StatusMaintenance Status = "Maintenance"
	StatusCleaning    Status = "Cleaning"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusReserved, StatusMaintenance, StatusCleaning:
		return true
	}
	return false
}

// Bed is Occupied exactly when PatientID is set.
type Bed struct {
	ID           string     `json:"id"`
	BedNumber    string     `json:"bed_number"`
	Ward         string     `json:"ward"`
	Floor        int        `json:"floor"`
	Category     Category   `json:"category"`
	Status       Status     `json:"status"`
	PatientID    string     `json:"patient_id,omitempty"`
	PatientName  string     `json:"patient_name,omitempty"`
	AssignedDate *time.Time `json:"assigned_date,omitempty"`
	AssignedBy   string     `json:"assigned_by,omitempty"`
	Rate         float64    `json:"rate"`
	Notes        string     `json:"notes,omitempty"`
}

func (b Bed) clone() Bed {
	if b.AssignedDate != nil {
		t := *b.AssignedDate
		b.AssignedDate = &t
	}
	return b
}

// Ward bed counts are derived from the bed collection.
type Ward struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Floor         int      `json:"floor"`
	Department    string   `json:"department"`
	TotalBeds     int      `json:"total_beds"`
	AvailableBeds int      `json:"available_beds"`
	OccupiedBeds  int      `json:"occupied_beds"`
	Category      Category `json:"category"`
}

// Update carries the editable, non-occupancy fields of a bed. Nil fields
// are left unchanged.
type Update struct {
	BedNumber *string   `json:"bed_number,omitempty"`
	Ward      *string   `json:"ward,omitempty"`
	Floor     *int      `json:"floor,omitempty"`
	Category  *Category `json:"category,omitempty"`
	Rate      *float64  `json:"rate,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}

// Stats summarizes occupancy across all beds.
type Stats struct {
	TotalBeds     int                 `json:"total_beds"`
	Available     int                 `json:"available"`
	Occupied      int                 `json:"occupied"`
	Reserved      int                 `json:"reserved"`
	Maintenance   int                 `json:"maintenance"`
	Cleaning      int                 `json:"cleaning"`
	OccupancyRate float64             `json:"occupancy_rate"`
	ByCategory    map[Category]Counts `json:"by_category"`
}

type Counts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Occupied  int `json:"occupied"`
}
