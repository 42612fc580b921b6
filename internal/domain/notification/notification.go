// Package notification holds the persistent alerts shown in the dashboard
// notification center, the templates used to build them and the transient
// toast channel. Toasts and notification records are independent outputs.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/platform/websocket"
)

type Type string

const (
	TypeInfo     Type = "info"
	TypeSuccess  Type = "success"
	TypeWarning  Type = "warning"
	TypeCritical Type = "critical"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeCritical:
		return true
	}
	return false
}

// Notification is one user-visible, dismissible alert.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	Category  string    `json:"category"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	PatientID string    `json:"patient_id,omitempty"`
	ActionURL string    `json:"action_url,omitempty"`
}

// Filter selects notifications. Unread restricts to unread records.
type Filter struct {
	Type     Type
	Category string
	Module   string
	Unread   bool
}

func (f Filter) match(n Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	if f.Module != "" && n.Module != f.Module {
		return false
	}
	if f.Unread && n.Read {
		return false
	}
	return true
}

// Store owns the notification list, newest first.
type Store struct {
	mu      sync.RWMutex
	items   []Notification
	version uint64

	publisher websocket.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewStore creates an empty store. publisher may be nil.
func NewStore(publisher websocket.Publisher, logger zerolog.Logger) *Store {
	return &Store{
		publisher: publisher,
		logger:    logger.With().Str("component", "notifications").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Add stamps id and timestamp on n, marks it unread and prepends it.
func (s *Store) Add(ctx context.Context, n Notification) Notification {
	n.ID = uuid.New().String()
	n.Timestamp = s.now()
	n.Read = false
	if !n.Type.Valid() {
		n.Type = TypeInfo
	}

	s.mu.Lock()
	next := make([]Notification, 0, len(s.items)+1)
	next = append(next, n)
	next = append(next, s.items...)
	s.items = next
	s.version++
	v := s.version
	s.mu.Unlock()

	s.publish(ctx, websocket.EventNotification, v, n)
	return n
}

func (s *Store) List(f Filter) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, 0)
	for _, n := range s.items {
		if f.match(n) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Get(id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// MarkRead flags one notification as read. It reports false if id is unknown.
func (s *Store) MarkRead(ctx context.Context, id string) bool {
	return s.update(ctx, func(items []Notification) ([]Notification, bool) {
		found := false
		next := make([]Notification, len(items))
		for i, n := range items {
			if n.ID == id {
				n.Read = true
				found = true
			}
			next[i] = n
		}
		return next, found
	})
}

// MarkAllRead flags every notification as read and returns how many changed.
func (s *Store) MarkAllRead(ctx context.Context) int {
	changed := 0
	s.update(ctx, func(items []Notification) ([]Notification, bool) {
		next := make([]Notification, len(items))
		for i, n := range items {
			if !n.Read {
				n.Read = true
				changed++
			}
			next[i] = n
		}
		return next, changed > 0
	})
	return changed
}

// Delete removes one notification. It reports false if id is unknown.
func (s *Store) Delete(ctx context.Context, id string) bool {
	return s.update(ctx, func(items []Notification) ([]Notification, bool) {
		next := make([]Notification, 0, len(items))
		for _, n := range items {
			if n.ID != id {
				next = append(next, n)
			}
		}
		return next, len(next) != len(items)
	})
}

func (s *Store) ClearAll(ctx context.Context) {
	s.update(ctx, func(items []Notification) ([]Notification, bool) {
		return nil, len(items) > 0
	})
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// CountByType returns unread counts keyed by notification type.
func (s *Store) CountByType() map[Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Type]int)
	for _, n := range s.items {
		if !n.Read {
			out[n.Type]++
		}
	}
	return out
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// update applies fn under the write lock and publishes when fn reports a change.
func (s *Store) update(ctx context.Context, fn func([]Notification) ([]Notification, bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.items)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.items = next
	s.version++
	v := s.version
	unread := 0
	for _, n := range next {
		if !n.Read {
			unread++
		}
	}
	s.mu.Unlock()

	s.publish(ctx, websocket.EventStoreChanged, v, map[string]int{"unread": unread})
	return true
}

func (s *Store) publish(ctx context.Context, eventType string, version uint64, payload any) {
	if s.publisher == nil {
		return
	}
	ev, err := websocket.NewEvent(eventType, websocket.TopicNotifications, version, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("publish notification change")
	}
}
