package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mode is the operating mode of the wizard, governing what data is loaded
// on step entry and what gets submitted on save.
type Mode int

const (
	ModeContinue Mode = iota
	ModeNew
	ModeEdit
	ModeFollowUp
)

func (m Mode) String() string {
	switch m {
	case ModeNew:
		return "new"
	case ModeEdit:
		return "edit"
	case ModeFollowUp:
		return "followup"
	default:
		return "continue"
	}
}

// ParseMode maps the wire value of a mode to a Mode. Unknown values resolve
// to ModeContinue.
func ParseMode(s string) Mode {
	switch s {
	case "new":
		return ModeNew
	case "edit":
		return ModeEdit
	case "followup":
		return ModeFollowUp
	default:
		return ModeContinue
	}
}

// Intent is an explicit navigation signal, e.g. "edit this client" from a
// client list or "revise this follow-up" from the follow-up panel. It wins
// over everything else and is persisted into the session record as part of
// resolution.
type Intent struct {
	Mode              Mode
	ClientID          *int64
	FollowUpData      *FormState
	EditingFollowUpID *int64
}

// Query carries the mode signals of the request URL.
type Query struct {
	Mode     string
	ClientID *int64
}

// Resolution is the outcome of mode resolution. Invalidated is true when a
// follow-up target switch forced the cached snapshot, client id and edit
// flag to be discarded before the new target loads.
type Resolution struct {
	Mode        Mode
	ClientID    *int64
	Invalidated bool
}

// ModeResolver decides the active mode from navigation intent, URL query
// and persisted flags, in that strict precedence, and persists the flag
// transitions as one atomic record write.
type ModeResolver struct {
	store Store
	log   zerolog.Logger
}

func NewModeResolver(store Store, log zerolog.Logger) *ModeResolver {
	return &ModeResolver{store: store, log: log}
}

// Resolve runs the precedence chain for one session. A nil intent and an
// empty query fall through to the persisted flags without writing anything.
func (r *ModeResolver) Resolve(ctx context.Context, id uuid.UUID, intent *Intent, q Query) (Resolution, error) {
	rec, err := r.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		rec = NewRecord()
	} else if err != nil {
		return Resolution{}, fmt.Errorf("resolve mode: %w", err)
	}

	switch {
	case intent != nil:
		res := applyMode(rec, intent.Mode, intent.ClientID, intent.FollowUpData, intent.EditingFollowUpID)
		if err := r.store.Save(ctx, id, rec); err != nil {
			return Resolution{}, fmt.Errorf("persist mode intent: %w", err)
		}
		r.log.Debug().Str("session_id", id.String()).Str("mode", res.Mode.String()).
			Bool("invalidated", res.Invalidated).Msg("mode resolved from navigation intent")
		return res, nil

	case q.Mode != "":
		res := applyMode(rec, ParseMode(q.Mode), q.ClientID, nil, nil)
		if err := r.store.Save(ctx, id, rec); err != nil {
			return Resolution{}, fmt.Errorf("persist mode query: %w", err)
		}
		r.log.Debug().Str("session_id", id.String()).Str("mode", res.Mode.String()).
			Bool("invalidated", res.Invalidated).Msg("mode resolved from url query")
		return res, nil

	default:
		return resolutionFromFlags(rec), nil
	}
}

// applyMode rewrites the record's flags for an explicitly requested mode and
// reports the resulting resolution. Mutual exclusions live here: entering
// New clears the follow-up flags, entering FollowUp clears the new-client
// flag, and a follow-up target switch invalidates the cached form data so no
// field of the previous client's snapshot can bleed into the next one.
func applyMode(rec *Record, mode Mode, clientID *int64, followUpData *FormState, editingFollowUpID *int64) Resolution {
	switch mode {
	case ModeFollowUp:
		invalidated := false
		if clientID != nil && rec.FollowUpClientID != nil && *clientID != *rec.FollowUpClientID {
			rec.Snapshot = nil
			rec.ClientID = nil
			rec.EditMode = false
			rec.FollowUpClientData = nil
			rec.EditingFollowUpID = nil
			invalidated = true
		}
		rec.FollowUpMode = true
		rec.NewClient = false
		if clientID != nil {
			rec.FollowUpClientID = clientID
		}
		if followUpData != nil {
			rec.FollowUpClientData = followUpData
		}
		if editingFollowUpID != nil {
			rec.EditingFollowUpID = editingFollowUpID
		}
		return Resolution{Mode: ModeFollowUp, ClientID: rec.FollowUpClientID, Invalidated: invalidated}

	case ModeNew:
		rec.FollowUpMode = false
		rec.FollowUpClientID = nil
		rec.FollowUpClientData = nil
		rec.EditingFollowUpID = nil
		if clientID == nil || rec.ClientID == nil || *clientID != *rec.ClientID {
			rec.EditMode = false
			rec.Snapshot = nil
			rec.ClientID = nil
		}
		rec.NewClient = true
		if clientID != nil {
			rec.ClientID = clientID
		}
		return Resolution{Mode: ModeNew, ClientID: rec.ClientID}

	case ModeEdit:
		rec.EditMode = true
		rec.NewClient = false
		if clientID != nil {
			rec.ClientID = clientID
		}
		return Resolution{Mode: ModeEdit, ClientID: rec.ClientID}

	default:
		if clientID != nil {
			rec.ClientID = clientID
		}
		return Resolution{Mode: ModeContinue, ClientID: rec.ClientID}
	}
}

// resolutionFromFlags reads the persisted flags. Follow-up wins over edit,
// edit over new; with no flags set the session is a plain continue.
func resolutionFromFlags(rec *Record) Resolution {
	switch {
	case rec.FollowUpMode:
		return Resolution{Mode: ModeFollowUp, ClientID: rec.FollowUpClientID}
	case rec.EditMode:
		return Resolution{Mode: ModeEdit, ClientID: rec.ClientID}
	case rec.NewClient:
		return Resolution{Mode: ModeNew, ClientID: rec.ClientID}
	default:
		return Resolution{Mode: ModeContinue, ClientID: rec.ClientID}
	}
}
