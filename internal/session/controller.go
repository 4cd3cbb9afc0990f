package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutricare/intake/internal/backend"
	"github.com/nutricare/intake/internal/platform/events"
	"github.com/nutricare/intake/internal/record"
)

// Backend is the records-API collaborator as the controller consumes it.
type Backend interface {
	CreateClient(ctx context.Context, payload *record.ClientPayload) (*record.Client, error)
	ReplaceClient(ctx context.Context, id int64, payload *record.ClientPayload) (*record.Client, error)
	PatchClient(ctx context.Context, id int64, patch *record.ClientPatch) (*record.Client, error)
	GetClientByID(ctx context.Context, id int64) (*record.Client, error)
	CreateFollowUp(ctx context.Context, clientID int64, payload *record.FollowUpPayload) (*record.FollowUp, error)
	UpdateFollowUp(ctx context.Context, clientID, followUpID int64, payload *record.FollowUpPayload) (*record.FollowUp, error)
	DeleteFollowUp(ctx context.Context, clientID, followUpID int64) error
}

// ErrSaveInFlight is returned when a save lands while an earlier one for the
// same session has not finished.
var ErrSaveInFlight = errors.New("a save for this session is already in flight")

// loadPhase tracks per-(mode, target) step-entry loading so each mode
// activation loads its data exactly once. Switching mode or target lands on
// a fresh key, which resets the machine without any manual flag juggling.
type loadPhase int

const (
	loadIdle loadPhase = iota
	loadInProgress
	loadDone
)

type loadKey struct {
	mode   Mode
	target int64
}

// liveSession is the in-memory half of a session: the authoritative form
// state while the wizard is open, plus the load machine and the pending
// mirror timer. The session record only ever mirrors this.
type liveSession struct {
	mu         sync.Mutex
	form       FormState
	loads      map[loadKey]loadPhase
	hydrated   bool
	mirror     *time.Timer
	baseline   BaselineCounts
	submitting bool
}

// SaveResult reports what a save step did.
type SaveResult struct {
	Op             Operation `json:"operation"`
	ClientID       int64     `json:"client_id,omitempty"`
	FollowUpID     int64     `json:"follow_up_id,omitempty"`
	Form           FormState `json:"form"`
	SessionCleared bool      `json:"session_cleared"`
}

// Controller orchestrates the wizard per session: mode resolution, step
// entry loading, debounced mirroring of edits into the session record, and
// mode-dependent submission.
type Controller struct {
	store     Store
	backend   Backend
	resolver  *ModeResolver
	protocol  SubmissionProtocol
	validator Validator
	events    events.Publisher
	log       zerolog.Logger
	debounce  time.Duration

	mu   sync.Mutex
	live map[uuid.UUID]*liveSession
}

func NewController(store Store, be Backend, pub events.Publisher, debounce time.Duration, log zerolog.Logger) *Controller {
	return &Controller{
		store:     store,
		backend:   be,
		resolver:  NewModeResolver(store, log),
		validator: NewValidator(),
		events:    pub,
		log:       log,
		debounce:  debounce,
		live:      make(map[uuid.UUID]*liveSession),
	}
}

// Open creates a fresh session and returns its id.
func (c *Controller) Open(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	if err := c.store.Save(ctx, id, NewRecord()); err != nil {
		return uuid.Nil, fmt.Errorf("open session: %w", err)
	}
	return id, nil
}

func (c *Controller) session(id uuid.UUID) *liveSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	ls, ok := c.live[id]
	if !ok {
		ls = &liveSession{loads: make(map[loadKey]loadPhase)}
		c.live[id] = ls
	}
	return ls
}

// Resolve runs mode resolution for the session. An invalidation (follow-up
// target switch) also drops the in-memory form and resets the load machine,
// so nothing of the previous client survives anywhere.
func (c *Controller) Resolve(ctx context.Context, id uuid.UUID, intent *Intent, q Query) (Resolution, error) {
	res, err := c.resolver.Resolve(ctx, id, intent, q)
	if err != nil {
		return Resolution{}, err
	}

	if res.Invalidated {
		ls := c.session(id)
		ls.mu.Lock()
		ls.form = FormState{}
		ls.loads = make(map[loadKey]loadPhase)
		ls.baseline = BaselineCounts{}
		ls.mu.Unlock()
	}
	return res, nil
}

// EnterStep makes the form ready for the given step under the resolved
// mode. The load runs at most once per (mode, target) activation; repeat
// entries and step switches inside the same activation are no-ops.
func (c *Controller) EnterStep(ctx context.Context, id uuid.UUID, step int) (FormState, error) {
	res, err := c.resolver.Resolve(ctx, id, nil, Query{})
	if err != nil {
		return FormState{}, err
	}

	ls := c.session(id)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	key := loadKey{mode: res.Mode, target: derefID(res.ClientID)}
	if ls.loads[key] != loadIdle {
		return ls.form, nil
	}
	ls.loads[key] = loadInProgress

	switch res.Mode {
	case ModeNew:
		// New always starts clean: the cached snapshot, client id and edit
		// flag of any previous session must not leak into the new record.
		if _, err := c.store.Update(ctx, id, func(rec *Record) error {
			rec.Snapshot = nil
			rec.ClientID = nil
			rec.EditMode = false
			return nil
		}); err != nil && !errors.Is(err, ErrNotFound) {
			ls.loads[key] = loadIdle
			return FormState{}, fmt.Errorf("purge session for new client: %w", err)
		}
		ls.form = FormState{}
		ls.baseline = BaselineCounts{}

	case ModeEdit:
		rec, err := c.store.Load(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			ls.loads[key] = loadIdle
			return FormState{}, err
		}
		if rec != nil && rec.Snapshot != nil && rec.Snapshot.Meaningful() {
			ls.form = Reduce(ls.form, LoadForm{State: *rec.Snapshot})
		}

	case ModeFollowUp:
		if err := c.loadFollowUp(ctx, id, ls, res); err != nil {
			ls.loads[key] = loadIdle
			return FormState{}, err
		}

	case ModeContinue:
		// Form state accumulates across steps; restore a snapshot only when
		// memory is empty, e.g. right after a reload.
		if !ls.form.Meaningful() {
			rec, err := c.store.Load(ctx, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				ls.loads[key] = loadIdle
				return FormState{}, err
			}
			if rec != nil && rec.Snapshot != nil && rec.Snapshot.Meaningful() {
				ls.form = Reduce(ls.form, LoadForm{State: *rec.Snapshot})
			}
		}
	}

	ls.loads[key] = loadDone
	ls.hydrated = true
	return ls.form, nil
}

// loadFollowUp prefers navigation-supplied data, then the cached snapshot,
// then a backend fetch of the base record reduced to a minimal snapshot
// with empty lab, medication and meal sections.
func (c *Controller) loadFollowUp(ctx context.Context, id uuid.UUID, ls *liveSession, res Resolution) error {
	rec, err := c.store.Load(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if rec == nil {
		rec = NewRecord()
	}

	if rec.FollowUpClientData != nil {
		ls.form = Reduce(ls.form, LoadForm{State: *rec.FollowUpClientData})
		return nil
	}
	if rec.Snapshot != nil && rec.Snapshot.Meaningful() {
		ls.form = Reduce(ls.form, LoadForm{State: *rec.Snapshot})
		return nil
	}
	if res.ClientID == nil {
		return &MissingIdentifierError{Op: "follow-up load"}
	}

	cl, err := c.backend.GetClientByID(ctx, *res.ClientID)
	if err != nil {
		return asNetworkError(err)
	}
	ls.form = Reduce(ls.form, LoadForm{State: minimalSnapshot(cl)})
	ls.baseline = BaselineCounts{
		LabResults:  len(cl.LabResults),
		Medications: len(cl.Medications),
	}
	return nil
}

// minimalSnapshot keeps the basics of the fetched record and leaves the
// other sections empty, so a follow-up starts from the client's identity
// rather than their full history.
func minimalSnapshot(cl *record.Client) FormState {
	return FormState{
		Assessment: Assessment{
			Name:             cl.Name,
			Gender:           cl.Gender,
			DateOfBirth:      cl.DateOfBirth,
			Weight:           cl.Weight,
			Height:           cl.Height,
			PhysicalActivity: cl.PhysicalActivity,
			WardType:         cl.WardType,
			StressFactor:     cl.StressFactor,
			FeedingType:      cl.FeedingType,
		},
	}
}

// UpdateSection applies a reducer action to the form and schedules the
// debounced mirror into the session record. A live session that has not
// loaded anything yet is hydrated from the persisted snapshot first, so an
// edit arriving ahead of any step entry reduces against the restored data
// instead of an empty form whose mirror would then erase it.
func (c *Controller) UpdateSection(ctx context.Context, id uuid.UUID, action Action) (FormState, error) {
	ls := c.session(id)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := c.hydrate(ctx, id, ls); err != nil {
		return FormState{}, err
	}

	ls.form = Reduce(ls.form, action)
	c.scheduleMirror(id, ls)
	return ls.form, nil
}

// hydrate restores the persisted snapshot into a live session that has seen
// neither a step entry nor an edit, e.g. right after a process restart.
// Callers hold ls.mu.
func (c *Controller) hydrate(ctx context.Context, id uuid.UUID, ls *liveSession) error {
	if ls.hydrated {
		return nil
	}
	ls.hydrated = true

	rec, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !ls.form.Meaningful() && rec.Snapshot != nil && rec.Snapshot.Meaningful() {
		ls.form = Reduce(ls.form, LoadForm{State: *rec.Snapshot})
	}
	return nil
}

// scheduleMirror (re)arms the debounce timer. Callers hold ls.mu.
func (c *Controller) scheduleMirror(id uuid.UUID, ls *liveSession) {
	if ls.mirror != nil {
		ls.mirror.Stop()
	}
	ls.mirror = time.AfterFunc(c.debounce, func() {
		c.mirrorNow(id, ls)
	})
}

// mirrorNow writes the current form into the session record, when it is
// worth persisting. A session deleted in the meantime drops the write.
func (c *Controller) mirrorNow(id uuid.UUID, ls *liveSession) {
	ls.mu.Lock()
	form := ls.form.Clone()
	ls.mu.Unlock()

	if !form.Meaningful() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.store.Update(ctx, id, func(rec *Record) error {
		rec.Snapshot = &form
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		c.log.Debug().Str("session_id", id.String()).Msg("session gone, dropping mirror write")
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", id.String()).Msg("mirror write failed")
	}
}

// SaveStep validates the active step, plans the submission for the resolved
// mode and executes it. On failure of either stage, neither the form nor
// the session record changes, so the user can fix and retry. The live lock
// is not held across the backend call; the submitting flag serializes saves
// instead, so a second save arriving mid-flight is rejected rather than
// queued behind a slow backend.
func (c *Controller) SaveStep(ctx context.Context, id uuid.UUID, step int, markComplete bool) (*SaveResult, error) {
	ls := c.session(id)

	ls.mu.Lock()
	if ls.submitting {
		ls.mu.Unlock()
		return nil, ErrSaveInFlight
	}
	ls.submitting = true
	form := ls.form.Clone()
	ls.mu.Unlock()

	defer func() {
		ls.mu.Lock()
		ls.submitting = false
		ls.mu.Unlock()
	}()

	var fieldErrs map[string]string
	if markComplete {
		fieldErrs = c.validator.ValidateAll(form)
	} else {
		fieldErrs = c.validator.ValidateStep(form, step)
	}
	if len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}

	rec, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		rec = NewRecord()
	} else if err != nil {
		return nil, err
	}

	mode := resolutionFromFlags(rec).Mode
	plan, err := c.protocol.Plan(mode, step, rec, form, markComplete)
	if err != nil {
		return nil, err
	}

	result := &SaveResult{Op: plan.Op, ClientID: plan.ClientID, FollowUpID: plan.FollowUpID}

	switch plan.Op {
	case OpCreateClient:
		cl, err := c.backend.CreateClient(ctx, plan.CreateClient)
		if err != nil {
			return nil, asNetworkError(err)
		}
		result.ClientID = cl.ID
		c.persistClientID(ctx, id, cl.ID)

	case OpReplaceClient:
		if _, err := c.backend.ReplaceClient(ctx, plan.ClientID, plan.ReplaceClient); err != nil {
			return nil, asNetworkError(err)
		}

	case OpPatchClient:
		if _, err := c.backend.PatchClient(ctx, plan.ClientID, plan.PatchClient); err != nil {
			return nil, asNetworkError(err)
		}

	case OpCreateFollowUp:
		fu, err := c.backend.CreateFollowUp(ctx, plan.ClientID, plan.FollowUp)
		if err != nil {
			return nil, asNetworkError(err)
		}
		result.FollowUpID = fu.ID
		c.afterFollowUpSave(ctx, id, plan.ClientID)

	case OpUpdateFollowUp:
		if _, err := c.backend.UpdateFollowUp(ctx, plan.ClientID, plan.FollowUpID, plan.FollowUp); err != nil {
			return nil, asNetworkError(err)
		}
		c.afterFollowUpSave(ctx, id, plan.ClientID)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if markComplete {
		ls.form = Reduce(ls.form, MarkComplete{Value: true})
	}

	// New-mode final completion ends the session; everything else keeps the
	// form so subsequent steps build on it.
	if mode == ModeNew && markComplete {
		if err := c.store.Delete(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("session_id", id.String()).Msg("clearing completed session failed")
		}
		ls.form = FormState{}
		ls.loads = make(map[loadKey]loadPhase)
		ls.baseline = BaselineCounts{}
		result.SessionCleared = true
	}

	result.Form = ls.form
	return result, nil
}

// FinalSubmit is a save of the current step with the completion flag forced.
func (c *Controller) FinalSubmit(ctx context.Context, id uuid.UUID, step int) (*SaveResult, error) {
	return c.SaveStep(ctx, id, step, true)
}

// persistClientID records the backend-issued id after a create. The write
// is dropped when the session ended while the create was in flight.
func (c *Controller) persistClientID(ctx context.Context, id uuid.UUID, clientID int64) {
	_, err := c.store.Update(ctx, id, func(rec *Record) error {
		rec.ClientID = &clientID
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		c.log.Debug().Str("session_id", id.String()).Msg("session gone, dropping client id write")
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", id.String()).Msg("persisting client id failed")
	}
}

// afterFollowUpSave clears only the staged follow-up id, keeping follow-up
// mode active so further steps append to the same visit, and broadcasts the
// update so open list views refresh.
func (c *Controller) afterFollowUpSave(ctx context.Context, id uuid.UUID, clientID int64) {
	_, err := c.store.Update(ctx, id, func(rec *Record) error {
		rec.EditingFollowUpID = nil
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn().Err(err).Str("session_id", id.String()).Msg("clearing staged follow-up failed")
	}

	c.publishFollowUpUpdated(ctx, clientID)
}

func (c *Controller) publishFollowUpUpdated(ctx context.Context, clientID int64) {
	if c.events == nil {
		return
	}
	evt := events.Event{Topic: events.TopicFollowUpUpdated, ClientID: clientID}
	if err := c.events.Publish(ctx, evt); err != nil {
		c.log.Warn().Err(err).Int64("client_id", clientID).Msg("publishing follow-up update failed")
	}
}

// ClearSession ends a session explicitly: the record is deleted and the
// in-memory state dropped. Used when the user exits edit mode or abandons
// the wizard.
func (c *Controller) ClearSession(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	ls := c.live[id]
	delete(c.live, id)
	c.mu.Unlock()

	if ls != nil {
		ls.mu.Lock()
		if ls.mirror != nil {
			ls.mirror.Stop()
		}
		ls.mu.Unlock()
	}

	return c.store.Delete(ctx, id)
}

// State reports the session as the UI sees it: the persisted record, the
// live form and the evaluated completeness. The evaluator result is
// advisory; the form's own flag stays sticky.
type State struct {
	Record      *Record   `json:"record"`
	Form        FormState `json:"form"`
	CanComplete bool      `json:"can_complete"`
	Submitting  bool      `json:"submitting"`
}

func (c *Controller) State(ctx context.Context, id uuid.UUID) (*State, error) {
	rec, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		rec = NewRecord()
	} else if err != nil {
		return nil, err
	}

	ls := c.session(id)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	return &State{
		Record:      rec,
		Form:        ls.form,
		CanComplete: IsComplete(ls.form, ls.baseline),
		Submitting:  ls.submitting,
	}, nil
}

// ListFollowUps returns the follow-up entries nested in the client record.
func (c *Controller) ListFollowUps(ctx context.Context, clientID int64) ([]record.FollowUp, error) {
	cl, err := c.backend.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, asNetworkError(err)
	}
	return cl.FollowUps, nil
}

// UpdateFollowUpEntry edits a follow-up inline, outside the wizard.
func (c *Controller) UpdateFollowUpEntry(ctx context.Context, clientID, followUpID int64, payload *record.FollowUpPayload) (*record.FollowUp, error) {
	fu, err := c.backend.UpdateFollowUp(ctx, clientID, followUpID, payload)
	if err != nil {
		return nil, asNetworkError(err)
	}
	c.publishFollowUpUpdated(ctx, clientID)
	return fu, nil
}

// DeleteFollowUpEntry removes a follow-up.
func (c *Controller) DeleteFollowUpEntry(ctx context.Context, clientID, followUpID int64) error {
	if err := c.backend.DeleteFollowUp(ctx, clientID, followUpID); err != nil {
		return asNetworkError(err)
	}
	c.publishFollowUpUpdated(ctx, clientID)
	return nil
}

// BeginFollowUpRevision stages an existing follow-up for editing in the
// wizard: follow-up mode flags, the staged follow-up id and a navigation
// snapshot built from the entry land in the session record as one write.
func (c *Controller) BeginFollowUpRevision(ctx context.Context, id uuid.UUID, clientID, followUpID int64) (FormState, error) {
	cl, err := c.backend.GetClientByID(ctx, clientID)
	if err != nil {
		return FormState{}, asNetworkError(err)
	}

	var entry *record.FollowUp
	for i := range cl.FollowUps {
		if cl.FollowUps[i].ID == followUpID {
			entry = &cl.FollowUps[i]
			break
		}
	}
	if entry == nil {
		return FormState{}, &MissingIdentifierError{Op: "follow-up revision"}
	}

	snapshot := minimalSnapshot(cl)
	if entry.Weight != "" {
		snapshot.Assessment.Weight = entry.Weight
	}
	snapshot.Biochemical.LabResults = append([]record.LabResult(nil), entry.LabResults...)
	snapshot.Medication.Medications = append([]record.Medication(nil), entry.Medications...)
	snapshot.MealPlan.Notes = entry.Notes
	snapshot.IsComplete = entry.IsFinished

	intent := &Intent{
		Mode:              ModeFollowUp,
		ClientID:          &clientID,
		FollowUpData:      &snapshot,
		EditingFollowUpID: &followUpID,
	}
	if _, err := c.Resolve(ctx, id, intent, Query{}); err != nil {
		return FormState{}, err
	}

	// Force a fresh load so the next step entry picks up the staged data.
	ls := c.session(id)
	ls.mu.Lock()
	ls.loads = make(map[loadKey]loadPhase)
	ls.mu.Unlock()

	return snapshot, nil
}

func asNetworkError(err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return &NetworkError{Status: apiErr.Status, Message: apiErr.Message, Err: err}
	}
	return &NetworkError{Err: err}
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
