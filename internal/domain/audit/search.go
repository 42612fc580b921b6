package audit

import (
	"time"
)

// Filter combines the query helpers. Zero fields match everything.
type Filter struct {
	Module    Module
	Action    Action
	PatientID string
	UserID    string
	UserRole  string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
	SortOrder string // "desc" (default, newest first) or "asc"
}

// SearchResult is one page of matching entries.
type SearchResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Summary aggregates the entries matching a filter.
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	ByAction     map[string]int `json:"by_action"`
	ByModule     map[string]int `json:"by_module"`
	ByUser       map[string]int `json:"by_user"`
	TimeRange    struct {
		First *time.Time `json:"first,omitempty"`
		Last  *time.Time `json:"last,omitempty"`
	} `json:"time_range"`
}

func (f Filter) match(e Entry) bool {
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.UserRole != "" && e.UserRole != f.UserRole {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// applyDefaults fills unset paging fields. Limit is capped at maxLimit,
// the store's retention.
func (f *Filter) applyDefaults(maxLimit int) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

// Search filters and paginates the log.
func (s *Store) Search(f Filter) SearchResult {
	f.applyDefaults(s.retention)
	matched := s.filter(f.match)
	if f.SortOrder == "asc" {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	total := len(matched)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)

	return SearchResult{
		Entries: matched[start:end],
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
}

// Summary counts matching entries by action, module and user.
func (s *Store) Summary(f Filter) Summary {
	matched := s.filter(f.match)

	sum := Summary{
		TotalEntries: len(matched),
		ByAction:     make(map[string]int),
		ByModule:     make(map[string]int),
		ByUser:       make(map[string]int),
	}
	for _, e := range matched {
		sum.ByAction[string(e.Action)]++
		sum.ByModule[string(e.Module)]++
		sum.ByUser[e.UserID]++
	}
	if len(matched) > 0 {
		// newest first
		last := matched[0].Timestamp
		first := matched[len(matched)-1].Timestamp
		sum.TimeRange.First = &first
		sum.TimeRange.Last = &last
	}
	return sum
}
