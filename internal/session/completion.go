package session

// BaselineCounts carries how many lab results and medications the backend
// already holds for the active client, so completeness can be judged before
// the baseline rows are ever loaded into the form.
type BaselineCounts struct {
	LabResults  int
	Medications int
}

// IsComplete reports whether the record has enough data to be marked
// complete: every required assessment field is non-empty and at least one
// lab result or medication exists, counting both the form and the baseline.
//
// Pure. It gates the complete toggle and final submit but never writes the
// flag itself; in particular, a form already marked complete under edit mode
// keeps its flag even when this returns false.
func IsComplete(form FormState, baseline BaselineCounts) bool {
	a := form.Assessment
	required := []string{
		a.Name, a.Gender, a.DateOfBirth, a.Weight, a.Height,
		a.PhysicalActivity, a.WardType, a.StressFactor, a.FeedingType,
	}
	for _, v := range required {
		if v == "" {
			return false
		}
	}

	labs := len(form.Biochemical.LabResults) + baseline.LabResults
	meds := len(form.Medication.Medications) + baseline.Medications
	return labs > 0 || meds > 0
}
