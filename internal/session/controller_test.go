package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutricare/intake/internal/backend"
	"github.com/nutricare/intake/internal/platform/events"
	"github.com/nutricare/intake/internal/record"
)

type fakeBackend struct {
	client *record.Client
	err    error

	// When set, CreateClient parks on createRelease after signalling
	// createStarted, to hold a save in flight.
	createStarted chan struct{}
	createRelease chan struct{}

	nextClientID   int64
	nextFollowUpID int64

	createClientCalls int
	getCalls          int

	lastReplace  *record.ClientPayload
	lastPatch    *record.ClientPatch
	lastFollowUp *record.FollowUpPayload
	lastOp       string
}

func (f *fakeBackend) CreateClient(_ context.Context, payload *record.ClientPayload) (*record.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.createStarted != nil {
		f.createStarted <- struct{}{}
		<-f.createRelease
	}
	f.createClientCalls++
	f.lastOp = "create"
	return &record.Client{ID: f.nextClientID, Name: payload.Name}, nil
}

func (f *fakeBackend) ReplaceClient(_ context.Context, id int64, payload *record.ClientPayload) (*record.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOp = "replace"
	f.lastReplace = payload
	return &record.Client{ID: id}, nil
}

func (f *fakeBackend) PatchClient(_ context.Context, id int64, patch *record.ClientPatch) (*record.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOp = "patch"
	f.lastPatch = patch
	return &record.Client{ID: id}, nil
}

func (f *fakeBackend) GetClientByID(_ context.Context, id int64) (*record.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.getCalls++
	return f.client, nil
}

func (f *fakeBackend) CreateFollowUp(_ context.Context, clientID int64, payload *record.FollowUpPayload) (*record.FollowUp, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOp = "createFollowUp"
	f.lastFollowUp = payload
	return &record.FollowUp{ID: f.nextFollowUpID, ClientID: clientID}, nil
}

func (f *fakeBackend) UpdateFollowUp(_ context.Context, clientID, followUpID int64, payload *record.FollowUpPayload) (*record.FollowUp, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOp = "updateFollowUp"
	f.lastFollowUp = payload
	return &record.FollowUp{ID: followUpID, ClientID: clientID}, nil
}

func (f *fakeBackend) DeleteFollowUp(_ context.Context, _, _ int64) error {
	if f.err != nil {
		return f.err
	}
	f.lastOp = "deleteFollowUp"
	return nil
}

type fakePublisher struct {
	published []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, evt events.Event) error {
	f.published = append(f.published, evt)
	return nil
}

func newTestController(fb *fakeBackend, pub *fakePublisher, debounce time.Duration) (*Controller, Store) {
	store := NewStoreMem()
	ctl := NewController(store, fb, pub, debounce, zerolog.Nop())
	return ctl, store
}

// baseClient returns a backend record whose assessment fields pass
// validation, with a couple of server-issued rows.
func baseClient() *record.Client {
	a := fullAssessment()
	return &record.Client{
		ID:               31,
		Name:             a.Name,
		Gender:           a.Gender,
		DateOfBirth:      a.DateOfBirth,
		Weight:           a.Weight,
		Height:           a.Height,
		PhysicalActivity: a.PhysicalActivity,
		WardType:         a.WardType,
		StressFactor:     a.StressFactor,
		FeedingType:      a.FeedingType,
		LabResults: []record.LabResult{
			{ID: 1, TestName: "CBC", Result: "ok", Date: "2024-01-02"},
			{ID: 2, TestName: "TSH", Result: "2.2", Date: "2024-01-02"},
		},
		Medications: []record.Medication{{ID: 3, Name: "metformin", Dosage: "500mg"}},
	}
}

func TestNewFlowCreatesThenReplaces(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{nextClientID: 12}
	ctl, store := newTestController(fb, &fakePublisher{}, time.Hour)

	id, err := ctl.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctl.Resolve(ctx, id, nil, Query{Mode: "new"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ctl.EnterStep(ctx, id, StepAssessment); err != nil {
		t.Fatal(err)
	}
	if _, err := ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: assessmentFields()}); err != nil {
		t.Fatal(err)
	}

	res, err := ctl.SaveStep(ctx, id, StepAssessment, false)
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if res.Op != OpCreateClient || res.ClientID != 12 {
		t.Fatalf("first save must create and report the issued id, got %+v", res)
	}

	rec, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClientID == nil || *rec.ClientID != 12 {
		t.Fatalf("issued client id must be persisted, got %+v", rec)
	}

	res, err = ctl.SaveStep(ctx, id, StepBiochemical, false)
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if res.Op != OpReplaceClient || res.ClientID != 12 {
		t.Fatalf("later saves must replace, got %+v", res)
	}
	if fb.createClientCalls != 1 {
		t.Fatalf("create must run exactly once, ran %d times", fb.createClientCalls)
	}
}

// assessmentFields is fullAssessment in wire-key form for the reducer.
func assessmentFields() map[string]string {
	a := fullAssessment()
	return map[string]string{
		"name":              a.Name,
		"gender":            a.Gender,
		"date_of_birth":     a.DateOfBirth,
		"weight":            a.Weight,
		"height":            a.Height,
		"physical_activity": a.PhysicalActivity,
		"ward_type":         a.WardType,
		"stress_factor":     a.StressFactor,
		"feeding_type":      a.FeedingType,
	}
}

func TestNewFinalSubmitClearsSession(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{nextClientID: 12}
	ctl, store := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, nil, Query{Mode: "new"})
	ctl.EnterStep(ctx, id, StepAssessment)
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: assessmentFields()})
	ctl.UpdateSection(ctx, id, UpdateMedication{Medications: []record.Medication{{Name: "iron", Dosage: "1x"}}})
	if _, err := ctl.SaveStep(ctx, id, StepAssessment, false); err != nil {
		t.Fatal(err)
	}

	res, err := ctl.FinalSubmit(ctx, id, StepMealPlan)
	if err != nil {
		t.Fatalf("final submit failed: %v", err)
	}
	if !res.SessionCleared {
		t.Fatal("completing a new-client session must clear it")
	}
	if res.Form.Meaningful() {
		t.Fatalf("form must reset after the session ends, got %+v", res.Form)
	}
	if _, err := store.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatal("session record must be deleted after final submission")
	}
}

func TestEditSaveWithoutClientIDFails(t *testing.T) {
	ctx := context.Background()
	ctl, _ := newTestController(&fakeBackend{}, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, nil, Query{Mode: "edit"})
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: assessmentFields()})

	_, err := ctl.SaveStep(ctx, id, StepAssessment, false)
	var idErr *MissingIdentifierError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected MissingIdentifierError, got %v", err)
	}
}

func TestSaveStepValidationBlocksSubmission(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{nextClientID: 12}
	ctl, _ := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, nil, Query{Mode: "new"})
	ctl.EnterStep(ctx, id, StepAssessment)
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: map[string]string{"name": "x"}})

	_, err := ctl.SaveStep(ctx, id, StepAssessment, false)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fb.createClientCalls != 0 {
		t.Fatal("validation failure must not reach the backend")
	}
}

func TestSaveStepBackendFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{err: &backend.APIError{Status: 503, Message: "upstream down"}}
	ctl, store := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, nil, Query{Mode: "new"})
	ctl.EnterStep(ctx, id, StepAssessment)
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: assessmentFields()})

	_, err := ctl.SaveStep(ctx, id, StepAssessment, false)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Status != 503 || netErr.Message != "upstream down" {
		t.Fatalf("backend detail lost: %+v", netErr)
	}

	st, _ := ctl.State(ctx, id)
	if st.Form.Assessment.Name != fullAssessment().Name {
		t.Fatal("form must survive a failed save")
	}
	rec, _ := store.Load(ctx, id)
	if rec.ClientID != nil {
		t.Fatal("record must not gain a client id from a failed create")
	}
}

func TestFollowUpEntryLoadsOncePerActivation(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{client: baseClient(), nextFollowUpID: 501}
	ctl, _ := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	if _, err := ctl.Resolve(ctx, id, &Intent{Mode: ModeFollowUp, ClientID: ptrInt64(31)}, Query{}); err != nil {
		t.Fatal(err)
	}

	form, err := ctl.EnterStep(ctx, id, StepAssessment)
	if err != nil {
		t.Fatalf("EnterStep() error: %v", err)
	}
	if form.Assessment.Name != fullAssessment().Name {
		t.Fatalf("follow-up entry must load the base record, got %+v", form.Assessment)
	}
	if len(form.Biochemical.LabResults) != 0 || len(form.Medication.Medications) != 0 {
		t.Fatal("follow-up starts from identity only, not the full history")
	}

	ctl.EnterStep(ctx, id, StepBiochemical)
	ctl.EnterStep(ctx, id, StepMedication)
	if fb.getCalls != 1 {
		t.Fatalf("load must run once per activation, ran %d times", fb.getCalls)
	}

	// Baseline rows count toward completeness even though they are not in
	// the form.
	st, _ := ctl.State(ctx, id)
	if !st.CanComplete {
		t.Fatal("baseline records must satisfy the completeness rule")
	}
}

func TestFollowUpSavePublishesUpdate(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{client: baseClient(), nextFollowUpID: 501}
	pub := &fakePublisher{}
	ctl, _ := newTestController(fb, pub, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, &Intent{Mode: ModeFollowUp, ClientID: ptrInt64(31)}, Query{})
	ctl.EnterStep(ctx, id, StepMealPlan)
	ctl.UpdateSection(ctx, id, UpdateMealPlan{Notes: "more protein"})

	res, err := ctl.SaveStep(ctx, id, StepMealPlan, false)
	if err != nil {
		t.Fatalf("follow-up save failed: %v", err)
	}
	if res.Op != OpCreateFollowUp || res.FollowUpID != 501 {
		t.Fatalf("expected createFollowUp with issued id, got %+v", res)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.published))
	}
	evt := pub.published[0]
	if evt.Topic != events.TopicFollowUpUpdated || evt.ClientID != 31 {
		t.Fatalf("wrong event: %+v", evt)
	}
}

func TestFollowUpRevisionStagesAndClears(t *testing.T) {
	ctx := context.Background()
	cl := baseClient()
	cl.FollowUps = []record.FollowUp{
		{ID: 88, Status: record.FollowUpStatusOngoing, Date: "2024-02-10", Weight: "60",
			Notes: "reviewed", LabResults: []record.LabResult{{ID: 1700000000005, TestName: "HbA1c", Result: "6.4", Date: "2024-02-10"}}},
	}
	fb := &fakeBackend{client: cl}
	ctl, store := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	snapshot, err := ctl.BeginFollowUpRevision(ctx, id, 31, 88)
	if err != nil {
		t.Fatalf("BeginFollowUpRevision() error: %v", err)
	}
	if snapshot.Assessment.Weight != "60" || snapshot.MealPlan.Notes != "reviewed" {
		t.Fatalf("snapshot must carry the entry's data, got %+v", snapshot)
	}

	rec, _ := store.Load(ctx, id)
	if rec.EditingFollowUpID == nil || *rec.EditingFollowUpID != 88 {
		t.Fatalf("entry must be staged in the record, got %+v", rec)
	}

	form, err := ctl.EnterStep(ctx, id, StepBiochemical)
	if err != nil {
		t.Fatal(err)
	}
	if len(form.Biochemical.LabResults) != 1 || form.Biochemical.LabResults[0].TestName != "HbA1c" {
		t.Fatalf("step entry must restore the staged entry, got %+v", form.Biochemical)
	}

	res, err := ctl.SaveStep(ctx, id, StepBiochemical, false)
	if err != nil {
		t.Fatalf("revision save failed: %v", err)
	}
	if res.Op != OpUpdateFollowUp || res.FollowUpID != 88 {
		t.Fatalf("staged entry must update in place, got %+v", res)
	}

	rec, _ = store.Load(ctx, id)
	if rec.EditingFollowUpID != nil {
		t.Fatal("staged follow-up id must clear after the save")
	}
	if !rec.FollowUpMode {
		t.Fatal("follow-up mode stays active for subsequent steps")
	}
}

func TestRevisionOfUnknownFollowUpFails(t *testing.T) {
	ctx := context.Background()
	ctl, _ := newTestController(&fakeBackend{client: baseClient()}, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	_, err := ctl.BeginFollowUpRevision(ctx, id, 31, 999)
	var idErr *MissingIdentifierError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected MissingIdentifierError, got %v", err)
	}
}

func TestCompletionFlagIsSticky(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{client: baseClient(), nextFollowUpID: 501}
	ctl, _ := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, &Intent{Mode: ModeFollowUp, ClientID: ptrInt64(31)}, Query{})
	ctl.EnterStep(ctx, id, StepAssessment)

	res, err := ctl.SaveStep(ctx, id, StepMealPlan, true)
	if err != nil {
		t.Fatalf("completing save failed: %v", err)
	}
	if !res.Form.IsComplete {
		t.Fatal("completing save must set the flag")
	}

	// Removing data afterwards does not revoke the flag.
	form, _ := ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: map[string]string{"weight": ""}})
	if !form.IsComplete {
		t.Fatal("completion flag must stay set once granted")
	}
}

// seedSnapshot persists a record with a full-assessment snapshot, standing
// in for a session left behind by an earlier process.
func seedSnapshot(t *testing.T, store Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	snap := FormState{Assessment: fullAssessment()}
	rec := NewRecord()
	rec.Snapshot = &snap
	if err := store.Save(context.Background(), id, rec); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestEditBeforeStepEntryKeepsPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewStoreMem()
	id := seedSnapshot(t, store)

	// A fresh controller shares the store but has no live state, as after a
	// restart. The first signal it sees is an edit, not a step entry.
	ctl := NewController(store, &fakeBackend{}, &fakePublisher{}, 5*time.Millisecond, zerolog.Nop())

	form, err := ctl.UpdateSection(ctx, id, UpdateMealPlan{Notes: "snack"})
	if err != nil {
		t.Fatalf("UpdateSection() error: %v", err)
	}
	if form.Assessment.Name != fullAssessment().Name {
		t.Fatalf("edit must apply on top of the restored snapshot, got %+v", form.Assessment)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := store.Load(ctx, id)
		if err == nil && rec.Snapshot != nil && rec.Snapshot.MealPlan.Notes == "snack" {
			if rec.Snapshot.Assessment.Name != fullAssessment().Name {
				t.Fatalf("mirror erased the persisted assessment: %+v", rec.Snapshot)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("mirror never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStepEntryLeavesStoredSnapshotIntact(t *testing.T) {
	ctx := context.Background()
	store := NewStoreMem()
	id := seedSnapshot(t, store)

	ctl := NewController(store, &fakeBackend{}, &fakePublisher{}, 5*time.Millisecond, zerolog.Nop())
	form, err := ctl.EnterStep(ctx, id, StepAssessment)
	if err != nil {
		t.Fatalf("EnterStep() error: %v", err)
	}
	if form.Assessment.Name != fullAssessment().Name {
		t.Fatalf("step entry must restore the snapshot, got %+v", form.Assessment)
	}

	// A step entry arms no mirror; well past the debounce the stored
	// snapshot must be untouched.
	time.Sleep(50 * time.Millisecond)
	rec, err := store.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Snapshot == nil || rec.Snapshot.Assessment.Name != fullAssessment().Name {
		t.Fatalf("step entry clobbered the stored snapshot: %+v", rec.Snapshot)
	}
}

func TestSaveWhileSaveInFlightIsRejected(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{
		nextClientID:  12,
		createStarted: make(chan struct{}),
		createRelease: make(chan struct{}),
	}
	ctl, _ := newTestController(fb, &fakePublisher{}, time.Hour)

	id, _ := ctl.Open(ctx)
	ctl.Resolve(ctx, id, nil, Query{Mode: "new"})
	ctl.EnterStep(ctx, id, StepAssessment)
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: assessmentFields()})

	done := make(chan error, 1)
	go func() {
		_, err := ctl.SaveStep(ctx, id, StepAssessment, false)
		done <- err
	}()
	<-fb.createStarted

	if _, err := ctl.SaveStep(ctx, id, StepAssessment, false); !errors.Is(err, ErrSaveInFlight) {
		t.Fatalf("expected ErrSaveInFlight while a save holds the backend, got %v", err)
	}
	st, _ := ctl.State(ctx, id)
	if !st.Submitting {
		t.Error("state must report the in-flight save")
	}

	close(fb.createRelease)
	if err := <-done; err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	st, _ = ctl.State(ctx, id)
	if st.Submitting {
		t.Error("submitting flag must clear once the save finishes")
	}
}

func TestMirrorPersistsAfterDebounce(t *testing.T) {
	ctx := context.Background()
	ctl, store := newTestController(&fakeBackend{}, &fakePublisher{}, 5*time.Millisecond)

	id, _ := ctl.Open(ctx)
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: map[string]string{"name": "Sara"}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := store.Load(ctx, id)
		if err == nil && rec.Snapshot != nil && rec.Snapshot.Assessment.Name == "Sara" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced mirror never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMirrorDropsWhenSessionCleared(t *testing.T) {
	ctx := context.Background()
	ctl, store := newTestController(&fakeBackend{}, &fakePublisher{}, 5*time.Millisecond)

	id, _ := ctl.Open(ctx)
	ctl.UpdateSection(ctx, id, UpdateAssessment{Fields: map[string]string{"name": "Sara"}})
	if err := ctl.ClearSession(ctx, id); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := store.Load(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatal("a cleared session must not be resurrected by a late mirror")
	}
}

func TestListAndDeleteFollowUps(t *testing.T) {
	ctx := context.Background()
	cl := baseClient()
	cl.FollowUps = []record.FollowUp{{ID: 88}, {ID: 89}}
	fb := &fakeBackend{client: cl}
	pub := &fakePublisher{}
	ctl, _ := newTestController(fb, pub, time.Hour)

	got, err := ctl.ListFollowUps(ctx, 31)
	if err != nil {
		t.Fatalf("ListFollowUps() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}

	if err := ctl.DeleteFollowUpEntry(ctx, 31, 88); err != nil {
		t.Fatalf("DeleteFollowUpEntry() error: %v", err)
	}
	if fb.lastOp != "deleteFollowUp" {
		t.Fatalf("delete not forwarded, last op %q", fb.lastOp)
	}
	if len(pub.published) != 1 || pub.published[0].ClientID != 31 {
		t.Fatalf("delete must broadcast an update, got %+v", pub.published)
	}
}
