package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion tags the stored session record so format drift can be
// detected. Rows with an unknown version are treated as absent.
const SchemaVersion = 1

// Record is the single versioned session record. All mode flags, the active
// client identifier and the form snapshot live in one value and are written
// atomically, so a crash between writes can never leave the flags and the
// snapshot disagreeing with each other.
type Record struct {
	SchemaVersion      int        `json:"schema_version"`
	ClientID           *int64     `json:"client_id,omitempty"`
	NewClient          bool       `json:"is_new_client"`
	EditMode           bool       `json:"is_edit_mode"`
	FollowUpMode       bool       `json:"is_follow_up_mode"`
	FollowUpClientID   *int64     `json:"follow_up_client_id,omitempty"`
	EditingFollowUpID  *int64     `json:"editing_follow_up_id,omitempty"`
	FollowUpClientData *FormState `json:"follow_up_client_data,omitempty"`
	Snapshot           *FormState `json:"form_snapshot,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewRecord returns an empty record at the current schema version.
func NewRecord() *Record {
	return &Record{SchemaVersion: SchemaVersion}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.ClientID != nil {
		v := *r.ClientID
		out.ClientID = &v
	}
	if r.FollowUpClientID != nil {
		v := *r.FollowUpClientID
		out.FollowUpClientID = &v
	}
	if r.EditingFollowUpID != nil {
		v := *r.EditingFollowUpID
		out.EditingFollowUpID = &v
	}
	if r.FollowUpClientData != nil {
		v := r.FollowUpClientData.Clone()
		out.FollowUpClientData = &v
	}
	if r.Snapshot != nil {
		v := r.Snapshot.Clone()
		out.Snapshot = &v
	}
	return &out
}

// Store persists session records across reloads and restarts.
//
// Load returns ErrNotFound when no readable record exists; an unreadable row
// counts as absent. Save upserts the whole record in one write. Update runs
// fn inside a read-modify-write of an existing record and fails with
// ErrNotFound when the session is gone, which lets late completion handlers
// drop their write instead of resurrecting a cleared session.
type Store interface {
	Load(ctx context.Context, id uuid.UUID) (*Record, error)
	Save(ctx context.Context, id uuid.UUID, rec *Record) error
	Update(ctx context.Context, id uuid.UUID, fn func(*Record) error) (*Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
