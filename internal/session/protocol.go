package session

import (
	"strings"
	"time"

	"github.com/nutricare/intake/internal/record"
)

// Operation names the records-API verb a save resolves to.
type Operation int

const (
	OpCreateClient Operation = iota
	OpReplaceClient
	OpPatchClient
	OpCreateFollowUp
	OpUpdateFollowUp
)

func (o Operation) String() string {
	switch o {
	case OpCreateClient:
		return "createClient"
	case OpReplaceClient:
		return "replaceClient"
	case OpPatchClient:
		return "patchClient"
	case OpCreateFollowUp:
		return "createFollowUp"
	case OpUpdateFollowUp:
		return "updateFollowUp"
	default:
		return "unknown"
	}
}

// Plan is the fully decided submission for one save: the verb, its target
// ids, and exactly one populated payload variant matching the verb.
type Plan struct {
	Op         Operation
	ClientID   int64
	FollowUpID int64

	CreateClient  *record.ClientPayload
	ReplaceClient *record.ClientPayload
	PatchClient   *record.ClientPatch
	FollowUp      *record.FollowUpPayload
}

// SubmissionProtocol maps (mode, step) to a concrete submission plan. It is
// a total function over its inputs: every mode and step combination either
// yields a plan or a typed error, never a partially built payload.
type SubmissionProtocol struct {
	// Now is injected for follow-up dating; defaults to time.Now.
	Now func() time.Time
}

func (p SubmissionProtocol) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Plan decides the operation and payload for a save of the given step.
//
// New and Continue share create/replace semantics: the first save (no client
// id yet) creates the record from the assessment fields, every later save
// replaces the record wholesale with the merged baseline-plus-added arrays.
// Edit patches only the active section. FollowUp appends (or revises, when a
// follow-up is staged) an entry carrying only the active section.
func (p SubmissionProtocol) Plan(mode Mode, step int, rec *Record, form FormState, markComplete bool) (Plan, error) {
	switch mode {
	case ModeEdit:
		if rec.ClientID == nil {
			return Plan{}, &MissingIdentifierError{Op: "edit save"}
		}
		return Plan{
			Op:          OpPatchClient,
			ClientID:    *rec.ClientID,
			PatchClient: p.buildPatch(step, form, markComplete),
		}, nil

	case ModeFollowUp:
		if rec.FollowUpClientID == nil {
			return Plan{}, &MissingIdentifierError{Op: "follow-up save"}
		}
		plan := Plan{
			ClientID: *rec.FollowUpClientID,
			FollowUp: p.buildFollowUp(step, form, markComplete),
		}
		if rec.EditingFollowUpID != nil {
			plan.Op = OpUpdateFollowUp
			plan.FollowUpID = *rec.EditingFollowUpID
		} else {
			plan.Op = OpCreateFollowUp
		}
		return plan, nil

	default: // ModeNew, ModeContinue
		if rec.ClientID == nil {
			return Plan{
				Op:           OpCreateClient,
				CreateClient: p.buildCreate(form, markComplete),
			}, nil
		}
		return Plan{
			Op:            OpReplaceClient,
			ClientID:      *rec.ClientID,
			ReplaceClient: p.buildReplace(form, markComplete),
		}, nil
	}
}

// buildCreate carries the assessment fields only; lab and medication rows
// accumulate in the form and go out with the first replace.
func (p SubmissionProtocol) buildCreate(form FormState, markComplete bool) *record.ClientPayload {
	a := form.Assessment
	return &record.ClientPayload{
		Name:             a.Name,
		Gender:           a.Gender,
		Age:              ageFromDOB(a.DateOfBirth, p.now()),
		DateOfBirth:      a.DateOfBirth,
		Weight:           numericOrZero(a.Weight),
		Height:           numericOrZero(a.Height),
		PhysicalActivity: a.PhysicalActivity,
		WardType:         a.WardType,
		StressFactor:     a.StressFactor,
		FeedingType:      a.FeedingType,
		IsFinished:       markComplete || form.IsComplete,
	}
}

// buildReplace is the merged full record: assessment plus the baseline and
// locally added rows of both collections, plus the meal-plan notes.
func (p SubmissionProtocol) buildReplace(form FormState, markComplete bool) *record.ClientPayload {
	payload := p.buildCreate(form, markComplete)
	payload.LabResults = trimLabRows(PartitionLabs(form.Biochemical.LabResults).Merged())
	payload.Medications = PartitionMedications(form.Medication.Medications).Merged()
	payload.Notes = form.MealPlan.Notes
	return payload
}

// buildPatch scopes the body to the active section. Step 0 sends the
// assessment fields with blank numerics defaulted; other blanks stay off
// the wire so the patch cannot erase them server-side.
func (p SubmissionProtocol) buildPatch(step int, form FormState, markComplete bool) *record.ClientPatch {
	patch := &record.ClientPatch{IsFinished: markComplete || form.IsComplete}

	switch step {
	case StepAssessment:
		a := form.Assessment
		patch.Name = a.Name
		patch.Gender = a.Gender
		patch.Age = ageFromDOB(a.DateOfBirth, p.now())
		patch.DateOfBirth = a.DateOfBirth
		patch.Weight = numericOrZero(a.Weight)
		patch.Height = numericOrZero(a.Height)
		patch.PhysicalActivity = a.PhysicalActivity
		patch.WardType = a.WardType
		patch.StressFactor = a.StressFactor
		patch.FeedingType = a.FeedingType
	case StepBiochemical:
		patch.LabResults = trimLabRows(form.Biochemical.LabResults)
	case StepMedication:
		patch.Medications = append([]record.Medication(nil), form.Medication.Medications...)
	case StepMealPlan:
		notes := form.MealPlan.Notes
		patch.Notes = &notes
	}
	return patch
}

// buildFollowUp sends only the active step's section, verbatim, plus the
// status/date/completion header every follow-up entry carries.
func (p SubmissionProtocol) buildFollowUp(step int, form FormState, markComplete bool) *record.FollowUpPayload {
	status := record.FollowUpStatusOngoing
	if markComplete {
		status = record.FollowUpStatusCompleted
	}
	payload := &record.FollowUpPayload{
		Status:     status,
		Date:       p.now().Format("2006-01-02"),
		IsFinished: markComplete || form.IsComplete,
	}

	switch step {
	case StepAssessment:
		a := form.Assessment
		payload.Name = a.Name
		payload.Gender = a.Gender
		payload.DateOfBirth = a.DateOfBirth
		payload.Weight = numericOrZero(a.Weight)
	case StepBiochemical:
		payload.LabResults = trimLabRows(form.Biochemical.LabResults)
	case StepMedication:
		payload.Medications = append([]record.Medication(nil), form.Medication.Medications...)
	case StepMealPlan:
		payload.Notes = form.MealPlan.Notes
	}
	return payload
}

// trimLabRows drops whitespace-only optional fields so they are omitted
// from the wire rather than sent as empty strings.
func trimLabRows(items []record.LabResult) []record.LabResult {
	out := append([]record.LabResult(nil), items...)
	for i := range out {
		out[i].ReferenceRange = trimOrEmpty(out[i].ReferenceRange)
		out[i].Interpretation = trimOrEmpty(out[i].Interpretation)
		out[i].File = trimOrEmpty(out[i].File)
	}
	return out
}

func trimOrEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// ageFromDOB is the records API's convention: plain year difference.
func ageFromDOB(dob string, now time.Time) int {
	t, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return 0
	}
	return now.Year() - t.Year()
}

func numericOrZero(s string) string {
	if !positiveNumber(s) {
		return "0"
	}
	return s
}
