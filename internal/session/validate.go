package session

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/nutricare/intake/internal/record"
)

// Wizard step indexes.
const (
	StepAssessment = iota
	StepBiochemical
	StepMedication
	StepMealPlan
)

// Validator runs the synchronous pass that must succeed before any network
// submission. An empty map means the step is valid.
type Validator interface {
	ValidateStep(form FormState, step int) map[string]string
	ValidateAll(form FormState) map[string]string
}

type defaultValidator struct{}

// NewValidator returns the stock field rules.
func NewValidator() Validator {
	return defaultValidator{}
}

func (v defaultValidator) ValidateStep(form FormState, step int) map[string]string {
	errs := map[string]string{}
	switch step {
	case StepAssessment:
		v.assessment(form, errs)
	case StepBiochemical:
		v.labResults(form, errs)
	case StepMedication:
		v.medications(form, errs)
	case StepMealPlan:
		// Free text, nothing to check.
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v defaultValidator) ValidateAll(form FormState) map[string]string {
	errs := map[string]string{}
	v.assessment(form, errs)
	v.labResults(form, errs)
	v.medications(form, errs)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (defaultValidator) assessment(form FormState, errs map[string]string) {
	a := form.Assessment

	if len(a.Name) < 2 {
		errs["name"] = "name must be at least 2 characters"
	}
	if !slices.Contains(record.Genders, a.Gender) {
		errs["gender"] = "gender must be male or female"
	}
	if a.DateOfBirth == "" {
		errs["date_of_birth"] = "date of birth is required"
	}
	if !positiveNumber(a.Weight) {
		errs["weight"] = "weight must be a positive number"
	}
	if !positiveNumber(a.Height) {
		errs["height"] = "height must be a positive number"
	}
	choice := func(field, val string, allowed []string) {
		if val == "" {
			errs[field] = field + " is required"
			return
		}
		if !slices.Contains(allowed, val) {
			errs[field] = field + " has an unknown value"
		}
	}
	choice("physical_activity", a.PhysicalActivity, record.PhysicalActivities)
	choice("ward_type", a.WardType, record.WardTypes)
	choice("stress_factor", a.StressFactor, record.StressFactors)
	choice("feeding_type", a.FeedingType, record.FeedingTypes)
}

func (defaultValidator) labResults(form FormState, errs map[string]string) {
	for i, lr := range form.Biochemical.LabResults {
		if lr.TestName == "" {
			errs[fmt.Sprintf("lab_results[%d].test_name", i)] = "test name is required"
		}
		if lr.Result == "" {
			errs[fmt.Sprintf("lab_results[%d].result", i)] = "result is required"
		}
		if lr.Date == "" {
			errs[fmt.Sprintf("lab_results[%d].date", i)] = "date is required"
		}
	}
}

func (defaultValidator) medications(form FormState, errs map[string]string) {
	for i, m := range form.Medication.Medications {
		if m.Name == "" {
			errs[fmt.Sprintf("medications[%d].name", i)] = "medication name is required"
		}
		if m.Dosage == "" {
			errs[fmt.Sprintf("medications[%d].dosage", i)] = "dosage is required"
		}
	}
}

func positiveNumber(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f > 0
}
