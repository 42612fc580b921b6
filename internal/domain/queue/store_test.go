package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/domain/audit"
	"github.com/ehr/emr-dashboard/internal/domain/bed"
	"github.com/ehr/emr-dashboard/internal/domain/effects"
	"github.com/ehr/emr-dashboard/internal/domain/notification"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
)

type fixture struct {
	store *Store
	beds  *bed.Store
	audit *audit.Store
	notes *notification.Store
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		audit: audit.NewStore(audit.Options{Logger: zerolog.Nop()}),
		notes: notification.NewStore(nil, zerolog.Nop()),
		ctx:   auth.WithUser(context.Background(), auth.User{ID: "d-1", Name: "Dr. Okafor", Role: auth.RoleDoctor}),
	}
	fx := effects.NewEmitter(effects.Deps{Audit: f.audit, Notifications: f.notes, Logger: zerolog.Nop()})
	f.beds = bed.NewStore(fx)
	f.store = NewStore(fx, f.beds)
	return f
}

func (f *fixture) create(t *testing.T, d Details) Request {
	t.Helper()
	r, err := f.store.CreateRequest(f.ctx, Request{PatientID: "p-1", PatientName: "Ada Obi", PatientType: PatientIPD, Details: d})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return r
}

func (f *fixture) advance(t *testing.T, id string, steps ...func(context.Context, string) (Request, error)) Request {
	t.Helper()
	var r Request
	for _, step := range steps {
		var err error
		if r, err = step(f.ctx, id); err != nil {
			t.Fatalf("advance %s: %v", id, err)
		}
	}
	return r
}

func TestModuleFor(t *testing.T) {
	tests := map[Type]audit.Module{
		TypeAdmission:      audit.ModuleAdmission,
		TypeSurgery:        audit.ModuleSurgery,
		TypeRoomAssignment: audit.ModuleBedManagement,
		"Transfer":         "",
	}
	for typ, want := range tests {
		if got := ModuleFor(typ); got != want {
			t.Errorf("ModuleFor(%s) = %q, want %q", typ, got, want)
		}
	}
}

func TestRequestJSON(t *testing.T) {
	in := Request{
		ID: "r-1", PatientID: "p-1", PatientName: "Ada", Priority: PriorityHigh, Status: StatusPending,
		Details: SurgeryDetails{Procedure: "Appendectomy", Surgeon: "Dr. Bello", Theatre: "OT-2"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `"request_type":"Surgery"`) || !strings.Contains(body, `"details":{"procedure":"Appendectomy"`) {
		t.Errorf("unexpected encoding: %s", body)
	}

	var out Request
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sd, ok := out.Details.(SurgeryDetails)
	if !ok || sd.Theatre != "OT-2" || out.Priority != PriorityHigh || out.Type() != TypeSurgery {
		t.Errorf("unexpected decode: %+v", out)
	}

	if err := json.Unmarshal([]byte(`{"request_type":"Transfer","details":{}}`), &out); err == nil {
		t.Error("expected unknown request type to fail")
	}
	if err := json.Unmarshal([]byte(`{"patient_id":"p-1"}`), &out); err == nil {
		t.Error("expected missing request type to fail")
	}
	if err := json.Unmarshal([]byte(`{"request_type":"RoomAssignment"}`), &out); err != nil {
		t.Errorf("missing details should decode to an empty payload: %v", err)
	} else if _, ok := out.Details.(RoomAssignmentDetails); !ok {
		t.Errorf("expected RoomAssignmentDetails, got %T", out.Details)
	}
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, AdmissionDetails{Diagnosis: "Pneumonia", Ward: "Ward A"})

	if r.Status != StatusPending || r.Priority != PriorityMedium || r.RequestedBy != "Dr. Okafor" || r.ID == "" {
		t.Errorf("unexpected request: %+v", r)
	}
	entries := f.audit.ByAction(audit.ActionRequestCreated)
	if len(entries) != 1 || entries[0].Module != audit.ModuleAdmission {
		t.Errorf("unexpected audit: %+v", entries)
	}
	notes := f.notes.List(notification.Filter{})
	if len(notes) != 1 || notes[0].Module != "Admission" || notes[0].Title != "Medium Admission Request" {
		t.Errorf("unexpected notification: %+v", notes)
	}

	bad := []Request{
		{PatientID: "p-1"},
		{PatientID: "p-1", Details: AdmissionDetails{}},
		{Details: SurgeryDetails{Procedure: "Hernia repair"}},
		{PatientID: "p-1", Priority: "Urgent", Details: SurgeryDetails{Procedure: "Hernia repair"}},
		{PatientID: "p-1", PatientType: "ER", Details: SurgeryDetails{Procedure: "Hernia repair"}},
	}
	for i, in := range bad {
		var ve *effects.ValidationError
		if _, err := f.store.CreateRequest(f.ctx, in); !errors.As(err, &ve) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestStateMachine_HappyPath(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, SurgeryDetails{Procedure: "Appendectomy"})

	r = f.advance(t, r.ID, f.store.ApproveRequest)
	if r.Status != StatusApproved || r.ApprovedBy != "Dr. Okafor" || r.ApprovedAt == nil {
		t.Errorf("unexpected approved request: %+v", r)
	}
	r = f.advance(t, r.ID, f.store.StartRequest, f.store.CompleteRequest)
	if r.Status != StatusCompleted || r.CompletedAt == nil || r.CompletedBy != "Dr. Okafor" {
		t.Errorf("unexpected completed request: %+v", r)
	}

	var actions []audit.Action
	for _, e := range f.audit.ByModule(audit.ModuleSurgery) {
		actions = append(actions, e.Action)
	}
	want := []audit.Action{audit.ActionRequestCompleted, audit.ActionRequestStarted, audit.ActionRequestApproved, audit.ActionRequestCreated}
	if len(actions) != len(want) {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("audit[%d] = %s, want %s", i, actions[i], want[i])
		}
	}

	if _, err := f.store.CancelRequest(f.ctx, r.ID); !effects.IsRejected(err) {
		t.Errorf("completed request must be final, got %v", err)
	}
}

func TestStateMachine_Rejections(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, AdmissionDetails{Diagnosis: "Malaria"})

	if _, err := f.store.StartRequest(f.ctx, r.ID); !effects.IsRejected(err) {
		t.Errorf("start before approval: expected rejection, got %v", err)
	}
	if _, err := f.store.CompleteRequest(f.ctx, r.ID); !effects.IsRejected(err) {
		t.Errorf("complete before start: expected rejection, got %v", err)
	}
	var ve *effects.ValidationError
	if _, err := f.store.RejectRequest(f.ctx, r.ID, " "); !errors.As(err, &ve) {
		t.Errorf("reject without reason: expected validation error, got %v", err)
	}

	rejected, err := f.store.RejectRequest(f.ctx, r.ID, "no beds in ward")
	if err != nil {
		t.Fatalf("RejectRequest: %v", err)
	}
	if rejected.Status != StatusRejected || rejected.RejectionReason != "no beds in ward" {
		t.Errorf("unexpected rejected request: %+v", rejected)
	}
	version := f.store.Version()
	if _, err := f.store.RejectRequest(f.ctx, r.ID, "again"); !effects.IsRejected(err) {
		t.Errorf("double reject: expected rejection, got %v", err)
	}
	if _, err := f.store.ApproveRequest(f.ctx, r.ID); !effects.IsRejected(err) {
		t.Errorf("approve after reject: expected rejection, got %v", err)
	}
	if f.store.Version() != version {
		t.Error("rejected transitions must not change state")
	}
	if _, err := f.store.ApproveRequest(f.ctx, "missing"); !errors.Is(err, effects.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	notes := f.notes.List(notification.Filter{Category: "request"})
	if len(notes) != 2 || !strings.Contains(notes[0].Message, "no beds in ward") {
		t.Errorf("unexpected notifications: %+v", notes)
	}
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	pending := f.create(t, AdmissionDetails{Diagnosis: "Malaria"})
	approved := f.advance(t, f.create(t, AdmissionDetails{Diagnosis: "Typhoid"}).ID, f.store.ApproveRequest)
	running := f.advance(t, f.create(t, SurgeryDetails{Procedure: "Biopsy"}).ID, f.store.ApproveRequest, f.store.StartRequest)

	for _, r := range []Request{pending, approved, running} {
		got, err := f.store.CancelRequest(f.ctx, r.ID)
		if err != nil || got.Status != StatusCancelled {
			t.Errorf("cancel from %s: %+v, %v", r.Status, got, err)
		}
	}
}

func TestCompleteRoomAssignment(t *testing.T) {
	f := newFixture(t)
	if _, err := f.beds.AddWard(f.ctx, bed.Ward{Name: "Ward A"}); err != nil {
		t.Fatalf("AddWard: %v", err)
	}
	b, err := f.beds.AddBed(f.ctx, bed.Bed{BedNumber: "A-1", Ward: "Ward A"})
	if err != nil {
		t.Fatalf("AddBed: %v", err)
	}

	r := f.create(t, RoomAssignmentDetails{BedID: b.ID})
	r = f.advance(t, r.ID, f.store.ApproveRequest, f.store.StartRequest, f.store.CompleteRequest)

	ra := r.Details.(RoomAssignmentDetails)
	if ra.BedNumber != "A-1" || ra.Ward != "Ward A" {
		t.Errorf("expected bed details to be filled in, got %+v", ra)
	}
	occupied, _ := f.beds.Bed(b.ID)
	if occupied.Status != bed.StatusOccupied || occupied.PatientID != "p-1" {
		t.Errorf("bed not assigned: %+v", occupied)
	}
	completed := f.audit.ByAction(audit.ActionRequestCompleted)
	if len(completed) != 1 || completed[0].Module != audit.ModuleBedManagement {
		t.Errorf("unexpected completion audit: %+v", completed)
	}

	second, err := f.store.CreateRequest(f.ctx, Request{PatientID: "p-2", PatientName: "Bola", Details: RoomAssignmentDetails{BedID: b.ID}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	f.advance(t, second.ID, f.store.ApproveRequest, f.store.StartRequest)
	if _, err := f.store.CompleteRequest(f.ctx, second.ID); !effects.IsRejected(err) {
		t.Fatalf("expected occupied bed to reject completion, got %v", err)
	}
	still, _ := f.store.Request(second.ID)
	if still.Status != StatusInProgress {
		t.Errorf("refused completion must leave the request in progress, got %s", still.Status)
	}
	if _, err := f.store.CancelRequest(f.ctx, second.ID); err != nil {
		t.Errorf("request should remain cancellable after a refused completion: %v", err)
	}
}

func TestCompleteRoomAssignment_NoBedStore(t *testing.T) {
	f := newFixture(t)
	f.store.beds = nil
	r := f.create(t, RoomAssignmentDetails{BedID: "b-1"})
	f.advance(t, r.ID, f.store.ApproveRequest, f.store.StartRequest)
	if _, err := f.store.CompleteRequest(f.ctx, r.ID); !effects.IsRejected(err) {
		t.Errorf("expected rejection without a bed store, got %v", err)
	}
}

func TestUpdatePriorityAndQueries(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, AdmissionDetails{Diagnosis: "Sepsis"})
	s := f.create(t, SurgeryDetails{Procedure: "Laparotomy"})

	r, err := f.store.UpdatePriority(f.ctx, a.ID, PriorityCritical)
	if err != nil || r.Priority != PriorityCritical {
		t.Fatalf("UpdatePriority: %+v, %v", r, err)
	}
	changes := f.audit.ByAction(audit.ActionRequestPriorityChanged)
	if len(changes) != 1 || changes[0].Metadata["from"] != "Medium" || changes[0].Metadata["to"] != "Critical" {
		t.Errorf("unexpected audit: %+v", changes)
	}
	var ve *effects.ValidationError
	if _, err := f.store.UpdatePriority(f.ctx, a.ID, "Whenever"); !errors.As(err, &ve) {
		t.Errorf("expected validation error, got %v", err)
	}

	if got := f.store.Critical(); len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("unexpected critical requests: %+v", got)
	}
	if got := f.store.Requests(); len(got) != 2 || got[0].ID != s.ID {
		t.Errorf("expected newest first, got %+v", got)
	}
	if got := f.store.ByType(TypeSurgery); len(got) != 1 || got[0].ID != s.ID {
		t.Errorf("unexpected surgery requests: %+v", got)
	}
	if got := f.store.ByPatient("p-1"); len(got) != 2 {
		t.Errorf("expected 2 requests for p-1, got %d", len(got))
	}
	counts := f.store.PendingByType()
	if counts[TypeAdmission] != 1 || counts[TypeSurgery] != 1 || counts[TypeRoomAssignment] != 0 {
		t.Errorf("unexpected pending counts: %v", counts)
	}

	if _, err := f.store.CancelRequest(f.ctx, a.ID); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if _, err := f.store.UpdatePriority(f.ctx, a.ID, PriorityLow); !effects.IsRejected(err) {
		t.Errorf("priority change on closed request: expected rejection, got %v", err)
	}
	if len(f.store.Critical()) != 0 || len(f.store.Pending()) != 1 {
		t.Errorf("unexpected open requests after cancel")
	}
}

func TestHandler_CreateAndApprove(t *testing.T) {
	f := newFixture(t)
	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(f.store).RegisterRoutes(e.Group("/api/v1"))
	do := func(method, path, body, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-Dev-Role", role)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/v1/requests",
		`{"request_type":"Surgery","patient_id":"p-1","patient_name":"Ada","priority":"High","details":{"procedure":"Appendectomy"}}`,
		auth.RoleNurse)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created Request
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Type() != TypeSurgery {
		t.Errorf("expected surgery request, got %+v", created)
	}

	if rec := do(http.MethodPost, "/api/v1/requests/"+created.ID+"/approve", "", auth.RoleNurse); rec.Code != http.StatusForbidden {
		t.Errorf("nurse approving: expected 403, got %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/api/v1/requests/"+created.ID+"/approve", "", auth.RoleDoctor); rec.Code != http.StatusOK {
		t.Errorf("doctor approving: expected 200, got %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/api/v1/requests/"+created.ID+"/reject", `{"reason":"late"}`, auth.RoleDoctor); rec.Code != http.StatusConflict {
		t.Errorf("reject approved: expected 409, got %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/api/v1/requests", `{"request_type":"Transfer","patient_id":"p-1"}`, auth.RoleDoctor); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: expected 400, got %d", rec.Code)
	}
	if rec := do(http.MethodGet, "/api/v1/requests?type=Surgery", "", auth.RoleDoctor); !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("list by type: %s", rec.Body.String())
	}
	if rec := do(http.MethodGet, "/api/v1/requests", "", auth.RoleCashier); rec.Code != http.StatusForbidden {
		t.Errorf("cashier listing requests: expected 403, got %d", rec.Code)
	}
}
