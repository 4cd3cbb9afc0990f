package session

import "github.com/nutricare/intake/internal/record"

// Assessment holds the first wizard step. All values are strings until the
// validation pass; numeric fields are parsed there, not here.
type Assessment struct {
	Name             string `json:"name"`
	Gender           string `json:"gender"`
	DateOfBirth      string `json:"date_of_birth"`
	Weight           string `json:"weight"`
	Height           string `json:"height"`
	WeightType       string `json:"weight_type"`
	PhysicalActivity string `json:"physical_activity"`
	WardType         string `json:"ward_type"`
	StressFactor     string `json:"stress_factor"`
	FeedingType      string `json:"feeding_type"`
}

type Biochemical struct {
	LabResults []record.LabResult `json:"lab_results"`
}

type MedicationSection struct {
	Medications []record.Medication `json:"medications"`
}

type MealPlan struct {
	Notes string `json:"notes"`
}

// FormState is the in-memory aggregate of the four wizard sections plus the
// completion flag. It is the single source of truth while a session is open;
// the session record only mirrors it.
type FormState struct {
	Assessment  Assessment        `json:"assessment"`
	Biochemical Biochemical       `json:"biochemical"`
	Medication  MedicationSection `json:"medication"`
	MealPlan    MealPlan          `json:"meal_plan"`
	IsComplete  bool              `json:"is_complete"`
}

// Clone returns a deep copy. Reduce never aliases the slices of its input.
func (f FormState) Clone() FormState {
	out := f
	if f.Biochemical.LabResults != nil {
		out.Biochemical.LabResults = append([]record.LabResult(nil), f.Biochemical.LabResults...)
	}
	if f.Medication.Medications != nil {
		out.Medication.Medications = append([]record.Medication(nil), f.Medication.Medications...)
	}
	return out
}

// Meaningful reports whether the form carries data worth persisting: at
// least one non-empty assessment field, a non-empty lab or medication list,
// or meal-plan notes. Empty forms are never mirrored into the session
// record, so a fresh mount cannot clobber a restored snapshot.
func (f FormState) Meaningful() bool {
	a := f.Assessment
	fields := []string{
		a.Name, a.Gender, a.DateOfBirth, a.Weight, a.Height,
		a.WeightType, a.PhysicalActivity, a.WardType, a.StressFactor, a.FeedingType,
	}
	for _, v := range fields {
		if v != "" {
			return true
		}
	}
	return len(f.Biochemical.LabResults) > 0 ||
		len(f.Medication.Medications) > 0 ||
		f.MealPlan.Notes != ""
}

// Action is a single reducer input. The concrete types below are the only
// ways form state changes while a session is open.
type Action interface {
	isAction()
}

// UpdateAssessment merges the given fields into the assessment section.
// Keys are the wire names; unknown keys are ignored.
type UpdateAssessment struct {
	Fields map[string]string
}

// UpdateBiochemical replaces the lab-result list.
type UpdateBiochemical struct {
	LabResults []record.LabResult
}

// UpdateMedication replaces the medication list.
type UpdateMedication struct {
	Medications []record.Medication
}

// UpdateMealPlan replaces the meal-plan notes.
type UpdateMealPlan struct {
	Notes string
}

// LoadForm replaces the whole form, used when restoring a snapshot.
type LoadForm struct {
	State FormState
}

// ResetForm returns the form to its zero value.
type ResetForm struct{}

// MarkComplete sets the completion flag. Only explicit user action or a
// successful final submission produces this; the completeness evaluator
// never does.
type MarkComplete struct {
	Value bool
}

func (UpdateAssessment) isAction()  {}
func (UpdateBiochemical) isAction() {}
func (UpdateMedication) isAction()  {}
func (UpdateMealPlan) isAction()    {}
func (LoadForm) isAction()          {}
func (ResetForm) isAction()         {}
func (MarkComplete) isAction()      {}

// Reduce applies an action to a form state and returns the next state. Pure:
// the input is never mutated.
func Reduce(st FormState, action Action) FormState {
	next := st.Clone()

	switch a := action.(type) {
	case UpdateAssessment:
		applyAssessment(&next.Assessment, a.Fields)
	case UpdateBiochemical:
		next.Biochemical.LabResults = append([]record.LabResult(nil), a.LabResults...)
	case UpdateMedication:
		next.Medication.Medications = append([]record.Medication(nil), a.Medications...)
	case UpdateMealPlan:
		next.MealPlan.Notes = a.Notes
	case LoadForm:
		next = a.State.Clone()
	case ResetForm:
		next = FormState{}
	case MarkComplete:
		next.IsComplete = a.Value
	}

	return next
}

func applyAssessment(a *Assessment, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "name":
			a.Name = v
		case "gender":
			a.Gender = v
		case "date_of_birth":
			a.DateOfBirth = v
		case "weight":
			a.Weight = v
		case "height":
			a.Height = v
		case "weight_type":
			a.WeightType = v
		case "physical_activity":
			a.PhysicalActivity = v
		case "ward_type":
			a.WardType = v
		case "stress_factor":
			a.StressFactor = v
		case "feeding_type":
			a.FeedingType = v
		}
	}
}
