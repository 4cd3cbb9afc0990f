package session

import (
	"time"

	"github.com/nutricare/intake/internal/record"
)

// AddedIDThreshold splits server-issued ids from locally staged ones. The
// records API issues small sequential ids; rows added in the wizard before
// their first save get timestamp-derived ids from NewLocalID, which are far
// above it. A backend that ever issued ids at or above this value would
// misclassify, so the constant is the single place the heuristic lives.
const AddedIDThreshold = 1000

// LabPartition holds lab results split into the server-sourced baseline and
// the locally added rows.
type LabPartition struct {
	Existing []record.LabResult
	Added    []record.LabResult
}

// MedicationPartition is the medication counterpart of LabPartition.
type MedicationPartition struct {
	Existing []record.Medication
	Added    []record.Medication
}

// PartitionLabs splits lab results by id magnitude, preserving relative
// order within each group.
func PartitionLabs(items []record.LabResult) LabPartition {
	var p LabPartition
	for _, it := range items {
		if it.ID < AddedIDThreshold {
			p.Existing = append(p.Existing, it)
		} else {
			p.Added = append(p.Added, it)
		}
	}
	return p
}

// PartitionMedications splits medications by id magnitude.
func PartitionMedications(items []record.Medication) MedicationPartition {
	var p MedicationPartition
	for _, it := range items {
		if it.ID < AddedIDThreshold {
			p.Existing = append(p.Existing, it)
		} else {
			p.Added = append(p.Added, it)
		}
	}
	return p
}

// Merged returns baseline rows followed by added rows, the full-replacement
// set sent on New and Continue submissions.
func (p LabPartition) Merged() []record.LabResult {
	return append(append([]record.LabResult(nil), p.Existing...), p.Added...)
}

// Merged returns baseline rows followed by added rows.
func (p MedicationPartition) Merged() []record.Medication {
	return append(append([]record.Medication(nil), p.Existing...), p.Added...)
}

// NewLocalID issues a staging id for a row created in the wizard. Millisecond
// timestamps keep concurrent additions distinct enough in practice and are
// always at or above AddedIDThreshold.
func NewLocalID() int64 {
	return time.Now().UnixMilli()
}
