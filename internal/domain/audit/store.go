// Package audit is the append-only ledger of dashboard actions. The log is
// the only state persisted across restarts.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore"
)

// StorageKey is the fixed namespace the log is persisted under.
const StorageKey = "emr/audit-logs"

const DefaultRetention = 1000

const persistTimeout = 5 * time.Second

// Recorder receives audit counters. *metrics.Collector satisfies it.
type Recorder interface {
	RecordAuditEntry(module, action string)
	RecordAuditSkipped()
	RecordAuditPersistFailure()
}

type Options struct {
	Retention int           // entries kept in memory and on disk; DefaultRetention if <= 0
	KV        kvstore.Store // nil disables persistence
	Session   *auth.Session // fallback user when the context carries none
	Logger    zerolog.Logger
	Metrics   Recorder
}

// Store holds the log newest-first. Writes to the durable copy are
// serialized by persistMu and always snapshot the latest list, so a slow
// write can never overwrite a newer one.
type Store struct {
	mu        sync.RWMutex
	entries   []Entry
	retention int

	persistMu sync.Mutex
	kv        kvstore.Store

	session *auth.Session
	logger  zerolog.Logger
	metrics Recorder
	now     func() time.Time
}

func NewStore(opts Options) *Store {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Session == nil {
		opts.Session = auth.NewSession()
	}
	return &Store{
		retention: opts.Retention,
		kv:        opts.KV,
		session:   opts.Session,
		logger:    opts.Logger.With().Str("component", "audit").Logger(),
		metrics:   opts.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetCurrentUser sets the process-wide acting user used outside requests.
func (s *Store) SetCurrentUser(u *auth.User) {
	s.session.SetCurrentUser(u)
}

func (s *Store) currentUser(ctx context.Context) (auth.User, bool) {
	if u, ok := auth.UserFromContext(ctx); ok {
		return u, true
	}
	return s.session.CurrentUser()
}

// AddLog stamps and prepends an entry. Without an acting user nothing is
// recorded and ok is false; the caller's action is never affected.
func (s *Store) AddLog(ctx context.Context, in NewEntry) (entry Entry, ok bool) {
	user, found := s.currentUser(ctx)
	if !found {
		s.logger.Warn().
			Str("action", string(in.Action)).
			Str("module", string(in.Module)).
			Msg("no current user set, audit entry skipped")
		if s.metrics != nil {
			s.metrics.RecordAuditSkipped()
		}
		return Entry{}, false
	}

	entry = Entry{
		ID:          uuid.New().String(),
		Action:      in.Action,
		Module:      in.Module,
		UserID:      user.ID,
		UserName:    user.Name,
		UserRole:    user.Role,
		PatientID:   in.PatientID,
		PatientName: in.PatientName,
		Metadata:    in.Metadata,
	}

	s.mu.Lock()
	entry.Timestamp = s.now()
	// keep timestamps non-increasing from the head even if the clock steps back
	if len(s.entries) > 0 && entry.Timestamp.Before(s.entries[0].Timestamp) {
		entry.Timestamp = s.entries[0].Timestamp
	}
	next := make([]Entry, 0, min(len(s.entries)+1, s.retention))
	next = append(next, entry)
	for _, e := range s.entries {
		if len(next) == s.retention {
			break
		}
		next = append(next, e)
	}
	s.entries = next
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordAuditEntry(string(entry.Module), string(entry.Action))
	}
	s.persist(ctx)
	return entry.clone(), true
}

// persist writes the current list. Failures are logged and counted only.
func (s *Store) persist(ctx context.Context) {
	if s.kv == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	data, err := json.Marshal(s.entries)
	s.mu.RUnlock()
	if err != nil {
		s.persistFailed(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.kv.Put(ctx, StorageKey, data); err != nil {
		s.persistFailed(err)
	}
}

func (s *Store) persistFailed(err error) {
	s.logger.Error().Err(err).Str("key", StorageKey).Msg("persist audit log")
	if s.metrics != nil {
		s.metrics.RecordAuditPersistFailure()
	}
}

// Load replaces the in-memory list with the persisted one. A missing key
// leaves an empty log.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	data, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load audit log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode audit log: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > s.retention {
		entries = entries[:s.retention]
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Info().Int("entries", len(entries)).Str("driver", string(s.kv.Driver())).Msg("audit log loaded")
	return nil
}

// ClearLogs wipes the log in memory and in durable storage. persistMu is
// held across both steps so an entry added meanwhile is persisted after the
// delete, not erased by it.
func (s *Store) ClearLogs(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	n := len(s.entries)
	s.entries = nil
	s.mu.Unlock()

	if s.kv != nil {
		if err := s.kv.Delete(ctx, StorageKey); err != nil {
			s.persistFailed(err)
		}
	}
	s.logger.Info().Int("entries", n).Msg("audit log cleared")
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Logs returns every retained entry, newest first.
func (s *Store) Logs() []Entry {
	return s.filter(func(Entry) bool { return true })
}

func (s *Store) ByModule(m Module) []Entry {
	return s.filter(func(e Entry) bool { return e.Module == m })
}

func (s *Store) ByPatient(patientID string) []Entry {
	return s.filter(func(e Entry) bool { return e.PatientID == patientID })
}

func (s *Store) ByUser(userID string) []Entry {
	return s.filter(func(e Entry) bool { return e.UserID == userID })
}

func (s *Store) ByAction(a Action) []Entry {
	return s.filter(func(e Entry) bool { return e.Action == a })
}

// ByDateRange returns entries with from <= timestamp <= to.
func (s *Store) ByDateRange(from, to time.Time) []Entry {
	return s.filter(func(e Entry) bool {
		return !e.Timestamp.Before(from) && !e.Timestamp.After(to)
	})
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

func (s *Store) filter(keep func(Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	return out
}
