package audit

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore"
	"github.com/ehr/emr-dashboard/internal/platform/kvstore/memory"
)

var nurse = auth.User{ID: "u-nurse", Name: "Nurse Joy", Role: auth.RoleNurse}

func userCtx(u auth.User) context.Context {
	return auth.WithUser(context.Background(), u)
}

type fakeRecorder struct {
	mu        sync.Mutex
	entries   int
	skipped   int
	persistKO int
}

func (f *fakeRecorder) RecordAuditEntry(string, string) { f.mu.Lock(); f.entries++; f.mu.Unlock() }
func (f *fakeRecorder) RecordAuditSkipped()             { f.mu.Lock(); f.skipped++; f.mu.Unlock() }
func (f *fakeRecorder) RecordAuditPersistFailure()      { f.mu.Lock(); f.persistKO++; f.mu.Unlock() }

type failingKV struct{ kvstore.Store }

func (failingKV) Put(context.Context, string, []byte) error { return errors.New("disk full") }

func TestAddLog_NewestFirst(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop()})
	ctx := userCtx(nurse)

	for i := 0; i < 5; i++ {
		s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing, Metadata: map[string]any{"n": i}})
	}

	logs := s.Logs()
	if len(logs) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(logs))
	}
	if logs[0].Metadata["n"] != 4 {
		t.Errorf("expected most recent entry first, got %v", logs[0].Metadata["n"])
	}
	for i := 1; i < len(logs); i++ {
		if logs[i-1].Timestamp.Before(logs[i].Timestamp) {
			t.Fatalf("entry %d is newer than entry %d", i, i-1)
		}
	}
	seen := map[string]bool{}
	for _, e := range logs {
		if seen[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestAddLog_StampsUserFromContext(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop()})
	e, ok := s.AddLog(userCtx(nurse), NewEntry{
		Action: ActionBedAssigned, Module: ModuleBedManagement,
		PatientID: "p-1", PatientName: "Ada",
	})
	if !ok {
		t.Fatal("expected entry to be recorded")
	}
	if e.UserID != "u-nurse" || e.UserName != "Nurse Joy" || e.UserRole != auth.RoleNurse {
		t.Errorf("unexpected user fields: %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("expected id and timestamp to be stamped")
	}
}

func TestAddLog_FallsBackToSessionUser(t *testing.T) {
	session := auth.NewSession()
	s := NewStore(Options{Logger: zerolog.Nop(), Session: session})
	s.SetCurrentUser(&auth.User{ID: "system", Name: "Seeder", Role: auth.RoleAdmin})

	e, ok := s.AddLog(context.Background(), NewEntry{Action: ActionWardCreated, Module: ModuleBedManagement})
	if !ok || e.UserID != "system" {
		t.Fatalf("expected session user, got ok=%v entry=%+v", ok, e)
	}
}

func TestAddLog_NoUserIsNoop(t *testing.T) {
	rec := &fakeRecorder{}
	kv := memory.New()
	s := NewStore(Options{Logger: zerolog.Nop(), Metrics: rec, KV: kv})

	_, ok := s.AddLog(context.Background(), NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing})
	if ok {
		t.Fatal("expected no entry without a current user")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty log, got %d entries", s.Len())
	}
	if rec.skipped != 1 {
		t.Errorf("expected skipped counter to be 1, got %d", rec.skipped)
	}
	if _, err := kv.Get(context.Background(), StorageKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("expected nothing persisted, got err=%v", err)
	}
}

func TestAddLog_RetentionCap(t *testing.T) {
	kv := memory.New()
	s := NewStore(Options{Logger: zerolog.Nop(), KV: kv, Retention: 3})
	ctx := userCtx(nurse)
	for i := 0; i < 5; i++ {
		s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing, Metadata: map[string]any{"n": i}})
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 retained entries, got %d", s.Len())
	}

	data, err := kv.Get(context.Background(), StorageKey)
	if err != nil {
		t.Fatalf("expected persisted log: %v", err)
	}
	var persisted []Entry
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(persisted) != 3 {
		t.Fatalf("expected 3 persisted entries, got %d", len(persisted))
	}
	// json numbers decode as float64
	if persisted[0].Metadata["n"] != float64(4) || persisted[2].Metadata["n"] != float64(2) {
		t.Errorf("expected the three most recent entries, got %v..%v", persisted[0].Metadata["n"], persisted[2].Metadata["n"])
	}
}

func TestLoad_RestoresPersistedLog(t *testing.T) {
	kv := memory.New()
	first := NewStore(Options{Logger: zerolog.Nop(), KV: kv})
	ctx := userCtx(nurse)
	first.AddLog(ctx, NewEntry{Action: ActionLabTestRequested, Module: ModuleLaboratory, PatientID: "p-1"})
	first.AddLog(ctx, NewEntry{Action: ActionLabResultReady, Module: ModuleLaboratory, PatientID: "p-1"})

	second := NewStore(Options{Logger: zerolog.Nop(), KV: kv})
	if err := second.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	logs := second.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].Action != ActionLabResultReady {
		t.Errorf("expected newest entry first after load, got %s", logs[0].Action)
	}
}

func TestLoad_MissingKey(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop(), KV: memory.New()})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty log")
	}
}

func TestLoad_CorruptPayload(t *testing.T) {
	kv := memory.New()
	kv.Put(context.Background(), StorageKey, []byte("{not json"))
	s := NewStore(Options{Logger: zerolog.Nop(), KV: kv})
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAddLog_PersistFailureDoesNotBlock(t *testing.T) {
	rec := &fakeRecorder{}
	s := NewStore(Options{Logger: zerolog.Nop(), KV: failingKV{memory.New()}, Metrics: rec})

	_, ok := s.AddLog(userCtx(nurse), NewEntry{Action: ActionPaymentConfirmed, Module: ModuleBilling})
	if !ok {
		t.Fatal("persistence failure must not prevent recording")
	}
	if s.Len() != 1 {
		t.Errorf("expected entry in memory")
	}
	if rec.persistKO != 1 {
		t.Errorf("expected persist failure to be counted, got %d", rec.persistKO)
	}
}

func TestClearLogs(t *testing.T) {
	kv := memory.New()
	s := NewStore(Options{Logger: zerolog.Nop(), KV: kv})
	s.AddLog(userCtx(nurse), NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing})

	s.ClearLogs(context.Background())
	if s.Len() != 0 {
		t.Fatalf("expected empty log")
	}
	if _, err := kv.Get(context.Background(), StorageKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("expected persisted copy removed, got %v", err)
	}
}

func TestClearLogs_ConcurrentAddsStayPersisted(t *testing.T) {
	for round := 0; round < 20; round++ {
		kv := memory.New()
		s := NewStore(Options{Logger: zerolog.Nop(), KV: kv})
		ctx := userCtx(nurse)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing})
			}()
			go func() {
				defer wg.Done()
				s.ClearLogs(context.Background())
			}()
		}
		wg.Wait()

		var persisted []Entry
		data, err := kv.Get(context.Background(), StorageKey)
		if err == nil {
			json.Unmarshal(data, &persisted)
		} else if !errors.Is(err, kvstore.ErrNotFound) {
			t.Fatalf("get: %v", err)
		}
		if len(persisted) != s.Len() {
			t.Fatalf("round %d: memory holds %d entries, durable copy holds %d", round, s.Len(), len(persisted))
		}
	}
}

func TestQueries(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop()})
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Hour) }

	doctor := auth.User{ID: "u-doc", Name: "Dr. Who", Role: auth.RoleDoctor}
	s.AddLog(userCtx(nurse), NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing, PatientID: "p-1"})
	s.AddLog(userCtx(doctor), NewEntry{Action: ActionRequestApproved, Module: ModuleSurgery, PatientID: "p-2"})
	s.AddLog(userCtx(nurse), NewEntry{Action: ActionPrescriptionQueued, Module: ModulePharmacy, PatientID: "p-1"})
	s.AddLog(userCtx(doctor), NewEntry{Action: ActionPrescriptionCreated, Module: ModulePharmacy, PatientID: "p-3"})

	if got := len(s.ByModule(ModulePharmacy)); got != 2 {
		t.Errorf("ByModule(Pharmacy) = %d, want 2", got)
	}
	if got := len(s.ByPatient("p-1")); got != 2 {
		t.Errorf("ByPatient(p-1) = %d, want 2", got)
	}
	if got := len(s.ByUser("u-doc")); got != 2 {
		t.Errorf("ByUser(u-doc) = %d, want 2", got)
	}
	if got := len(s.ByAction(ActionRequestApproved)); got != 1 {
		t.Errorf("ByAction = %d, want 1", got)
	}

	// inclusive on both ends
	inRange := s.ByDateRange(base.Add(2*time.Hour), base.Add(3*time.Hour))
	if len(inRange) != 2 {
		t.Fatalf("ByDateRange = %d, want 2", len(inRange))
	}
	if inRange[0].Action != ActionPrescriptionQueued {
		t.Errorf("expected newest in-range entry first, got %s", inRange[0].Action)
	}

	if got := len(s.ByModule(ModuleAdmission)); got != 0 {
		t.Errorf("expected no admission entries, got %d", got)
	}
}

func TestByModule_Idempotent(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop()})
	ctx := userCtx(nurse)
	s.AddLog(ctx, NewEntry{Action: ActionPrescriptionCreated, Module: ModulePharmacy, Metadata: map[string]any{"rx": "RX-1"}})
	s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing})

	first := s.ByModule(ModulePharmacy)
	second := s.ByModule(ModulePharmacy)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated queries differ:\n%v\n%v", first, second)
	}
}

func TestQueries_ReturnCopies(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop()})
	e, _ := s.AddLog(userCtx(nurse), NewEntry{Action: ActionBedAssigned, Module: ModuleBedManagement, Metadata: map[string]any{"bed": "B-1"}})

	e.Metadata["bed"] = "tampered"
	logs := s.Logs()
	logs[0].Metadata["bed"] = "tampered"

	got, ok := s.Get(e.ID)
	if !ok {
		t.Fatal("expected entry by id")
	}
	if got.Metadata["bed"] != "B-1" {
		t.Errorf("stored entry was mutated through a returned copy: %v", got.Metadata["bed"])
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("expected missing id to be absent")
	}
}

func TestSearch_LimitFollowsRetention(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop(), Retention: DefaultRetention + 200})
	ctx := userCtx(nurse)
	for i := 0; i < DefaultRetention+50; i++ {
		s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing})
	}

	res := s.Search(Filter{Limit: DefaultRetention + 500})
	if res.Limit != DefaultRetention+200 {
		t.Errorf("expected limit capped at retention %d, got %d", DefaultRetention+200, res.Limit)
	}
	if len(res.Entries) != DefaultRetention+50 {
		t.Errorf("expected all %d entries, got %d", DefaultRetention+50, len(res.Entries))
	}

	small := NewStore(Options{Logger: zerolog.Nop(), Retention: 5})
	if got := small.Search(Filter{Limit: 50}).Limit; got != 5 {
		t.Errorf("expected limit capped at 5, got %d", got)
	}
}

func TestSearchAndSummary(t *testing.T) {
	s := NewStore(Options{Logger: zerolog.Nop()})
	ctx := userCtx(nurse)
	for i := 0; i < 7; i++ {
		m := ModuleNursing
		if i%2 == 0 {
			m = ModulePharmacy
		}
		s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: m, Metadata: map[string]any{"n": i}})
	}

	res := s.Search(Filter{Module: ModulePharmacy, Limit: 2, Offset: 1})
	if res.Total != 4 {
		t.Fatalf("expected 4 pharmacy entries, got %d", res.Total)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected page of 2, got %d", len(res.Entries))
	}
	if res.Entries[0].Metadata["n"] != 4 {
		t.Errorf("expected second newest pharmacy entry (n=4), got %v", res.Entries[0].Metadata["n"])
	}

	asc := s.Search(Filter{Module: ModulePharmacy, SortOrder: "asc"})
	if asc.Entries[0].Metadata["n"] != 0 {
		t.Errorf("expected oldest first in asc order, got %v", asc.Entries[0].Metadata["n"])
	}

	beyond := s.Search(Filter{Offset: 50})
	if len(beyond.Entries) != 0 || beyond.Total != 7 {
		t.Errorf("unexpected page beyond end: %+v", beyond)
	}

	sum := s.Summary(Filter{})
	if sum.TotalEntries != 7 || sum.ByModule["Pharmacy"] != 4 || sum.ByModule["Nursing"] != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.ByUser["u-nurse"] != 7 {
		t.Errorf("expected 7 entries for u-nurse, got %d", sum.ByUser["u-nurse"])
	}
	if sum.TimeRange.First == nil || sum.TimeRange.Last == nil || sum.TimeRange.First.After(*sum.TimeRange.Last) {
		t.Errorf("unexpected time range: %+v", sum.TimeRange)
	}

	empty := s.Summary(Filter{Module: ModuleSurgery})
	if empty.TotalEntries != 0 || empty.TimeRange.First != nil {
		t.Errorf("expected empty summary, got %+v", empty)
	}
}

func TestAddLog_Concurrent(t *testing.T) {
	kv := memory.New()
	s := NewStore(Options{Logger: zerolog.Nop(), KV: kv})
	ctx := userCtx(nurse)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddLog(ctx, NewEntry{Action: ActionVitalsRecorded, Module: ModuleNursing})
		}()
	}
	wg.Wait()

	if s.Len() != 40 {
		t.Fatalf("expected 40 entries, got %d", s.Len())
	}
	data, _ := kv.Get(context.Background(), StorageKey)
	var persisted []Entry
	json.Unmarshal(data, &persisted)
	if len(persisted) != 40 {
		t.Errorf("expected final persisted copy to hold all 40 entries, got %d", len(persisted))
	}
}
