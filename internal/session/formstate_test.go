package session

import (
	"testing"

	"github.com/nutricare/intake/internal/record"
)

func TestReduceUpdateAssessmentMergesPartially(t *testing.T) {
	st := FormState{Assessment: Assessment{Name: "Sara", Gender: "female"}}

	next := Reduce(st, UpdateAssessment{Fields: map[string]string{
		"weight":  "70",
		"unknown": "ignored",
	}})

	if next.Assessment.Name != "Sara" || next.Assessment.Gender != "female" {
		t.Errorf("untouched fields must survive the merge: %+v", next.Assessment)
	}
	if next.Assessment.Weight != "70" {
		t.Errorf("weight = %q, want 70", next.Assessment.Weight)
	}
	if st.Assessment.Weight != "" {
		t.Error("Reduce mutated its input")
	}
}

func TestReduceDoesNotAliasSlices(t *testing.T) {
	st := Reduce(FormState{}, UpdateMedication{Medications: []record.Medication{{Name: "aspirin", Dosage: "75mg"}}})

	next := Reduce(st, UpdateMealPlan{Notes: "low sodium"})
	next.Medication.Medications[0].Name = "changed"

	if st.Medication.Medications[0].Name != "aspirin" {
		t.Fatal("reduced states share a medications slice")
	}
}

func TestReduceLoadAndReset(t *testing.T) {
	snapshot := FormState{Assessment: fullAssessment(), IsComplete: true}
	snapshot.Biochemical.LabResults = []record.LabResult{{ID: 3, TestName: "CBC", Result: "ok", Date: "2024-02-01"}}

	loaded := Reduce(FormState{}, LoadForm{State: snapshot})
	if loaded.Assessment.Name != "Huda K" || len(loaded.Biochemical.LabResults) != 1 || !loaded.IsComplete {
		t.Fatalf("load did not restore the snapshot: %+v", loaded)
	}

	cleared := Reduce(loaded, ResetForm{})
	if cleared.Meaningful() || cleared.IsComplete {
		t.Fatalf("reset must return the zero form, got %+v", cleared)
	}
}

func TestMeaningful(t *testing.T) {
	if (FormState{}).Meaningful() {
		t.Error("zero form must not be meaningful")
	}
	if !(FormState{Assessment: Assessment{Name: "x"}}).Meaningful() {
		t.Error("a single assessment field makes the form meaningful")
	}
	if !(FormState{MealPlan: MealPlan{Notes: "snack"}}).Meaningful() {
		t.Error("meal-plan notes make the form meaningful")
	}

	var withLab FormState
	withLab.Biochemical.LabResults = []record.LabResult{{TestName: "x"}}
	if !withLab.Meaningful() {
		t.Error("a lab row makes the form meaningful")
	}
}

func TestReduceMarkComplete(t *testing.T) {
	st := Reduce(FormState{}, MarkComplete{Value: true})
	if !st.IsComplete {
		t.Fatal("MarkComplete(true) must set the flag")
	}
	st = Reduce(st, MarkComplete{Value: false})
	if st.IsComplete {
		t.Fatal("MarkComplete(false) must clear the flag")
	}
}
