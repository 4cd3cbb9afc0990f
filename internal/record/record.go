// Package record holds the wire types shared with the practice's records
// API: the client record, its nested lab results, medications and follow-up
// entries, and the payload shapes the intake service submits. Field names
// follow the records API's snake_case JSON contract.
package record

import "time"

// Client is a client record as returned by the records API.
type Client struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Gender           string       `json:"gender"`
	Age              int          `json:"age,omitempty"`
	DateOfBirth      string       `json:"date_of_birth"`
	Weight           string       `json:"weight"`
	Height           string       `json:"height"`
	PhysicalActivity string       `json:"physical_activity"`
	WardType         string       `json:"ward_type"`
	StressFactor     string       `json:"stress_factor"`
	FeedingType      string       `json:"feeding_type"`
	Notes            string       `json:"notes"`
	IsFinished       bool         `json:"is_finished"`
	LabResults       []LabResult  `json:"lab_results"`
	Medications      []Medication `json:"medications"`
	FollowUps        []FollowUp   `json:"followups"`
	CreatedAt        *time.Time   `json:"created_at,omitempty"`
	UpdatedAt        *time.Time   `json:"updated_at,omitempty"`
}

// LabResult is a single biochemical test row. Server-issued rows carry small
// sequential ids; rows staged in the wizard before their first save carry
// large timestamp-derived ids.
type LabResult struct {
	ID             int64  `json:"id"`
	TestName       string `json:"test_name"`
	Result         string `json:"result"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Interpretation string `json:"interpretation,omitempty"`
	File           string `json:"file,omitempty"`
	Date           string `json:"date"`
}

// Medication is a single medication row. The extended prescription fields
// are optional and omitted from the wire when blank.
type Medication struct {
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Notes        string `json:"notes,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Route        string `json:"route,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	PrescribedBy string `json:"prescribed_by,omitempty"`
	Indication   string `json:"indication,omitempty"`
	Status       string `json:"status,omitempty"`
}

// FollowUp is an incremental visit entry appended to a client record.
type FollowUp struct {
	ID          int64        `json:"id"`
	ClientID    int64        `json:"client,omitempty"`
	Status      string       `json:"status"`
	Date        string       `json:"date"`
	IsFinished  bool         `json:"is_finished"`
	Weight      string       `json:"weight,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	LabResults  []LabResult  `json:"lab_results,omitempty"`
	Medications []Medication `json:"medications,omitempty"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
}

// ClientPayload is the body for createClient and replaceClient. Create sends
// the assessment fields only; replace sends the merged full record including
// the accumulated lab and medication arrays.
type ClientPayload struct {
	Name             string       `json:"name"`
	Gender           string       `json:"gender"`
	Age              int          `json:"age,omitempty"`
	DateOfBirth      string       `json:"date_of_birth"`
	Weight           string       `json:"weight"`
	Height           string       `json:"height"`
	PhysicalActivity string       `json:"physical_activity"`
	WardType         string       `json:"ward_type"`
	StressFactor     string       `json:"stress_factor"`
	FeedingType      string       `json:"feeding_type"`
	Notes            string       `json:"notes,omitempty"`
	IsFinished       bool         `json:"is_finished"`
	LabResults       []LabResult  `json:"lab_results,omitempty"`
	Medications      []Medication `json:"medications,omitempty"`
}

// ClientPatch is the section-scoped body for patchClient. Exactly one
// section is populated per step; everything else stays off the wire so the
// patch touches only the active section plus the completion flag.
type ClientPatch struct {
	IsFinished       bool         `json:"is_finished"`
	Name             string       `json:"name,omitempty"`
	Gender           string       `json:"gender,omitempty"`
	Age              int          `json:"age,omitempty"`
	DateOfBirth      string       `json:"date_of_birth,omitempty"`
	Weight           string       `json:"weight,omitempty"`
	Height           string       `json:"height,omitempty"`
	PhysicalActivity string       `json:"physical_activity,omitempty"`
	WardType         string       `json:"ward_type,omitempty"`
	StressFactor     string       `json:"stress_factor,omitempty"`
	FeedingType      string       `json:"feeding_type,omitempty"`
	LabResults       []LabResult  `json:"lab_results,omitempty"`
	Medications      []Medication `json:"medications,omitempty"`
	Notes            *string      `json:"notes,omitempty"`
}

// FollowUpPayload is the body for createFollowUp and updateFollowUp. Every
// follow-up save carries status, date and the completion flag; the active
// step contributes exactly one section on top.
type FollowUpPayload struct {
	Status      string       `json:"status"`
	Date        string       `json:"date"`
	IsFinished  bool         `json:"is_finished"`
	Name        string       `json:"name,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	DateOfBirth string       `json:"date_of_birth,omitempty"`
	Weight      string       `json:"weight,omitempty"`
	LabResults  []LabResult  `json:"lab_results,omitempty"`
	Medications []Medication `json:"medications,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// Follow-up status values accepted by the records API.
const (
	FollowUpStatusOngoing   = "ongoing"
	FollowUpStatusCompleted = "completed"
)
