package audit

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Action tags a state-changing operation recorded in an audit trail.
type Action string

const (
	ActionSubmitted     Action = "SUBMITTED"
	ActionApproved      Action = "APPROVED"
	ActionRejected      Action = "REJECTED"
	ActionTokenIssued   Action = "TOKEN_ISSUED"
	ActionLimitOverride Action = "LIMIT_OVERRIDE"
	ActionTokenConsumed Action = "TOKEN_CONSUMED"
	ActionTokenRevoked  Action = "TOKEN_REVOKED"
	ActionTokenExpired  Action = "TOKEN_EXPIRED"
)

// Metadata keys shared by the recorder's callers.
const (
	MetaTokenID       = "token_id"
	MetaExpiresAt     = "expires_at"
	MetaPreviousLimit = "previous_limit"
	MetaNewLimit      = "new_limit"
)

// Event is one immutable entry in a request's audit history.
type Event struct {
	ID          string            `json:"id"`
	Action      Action            `json:"action"`
	PerformedBy string            `json:"performed_by"`
	At          time.Time         `json:"at"`
	Remarks     string            `json:"remarks,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PrevHash    string            `json:"prev_hash"`
	Hash        string            `json:"hash"`
}

// eventBody is the hashed portion of an Event (everything except the links).
type eventBody struct {
	ID          string            `json:"id"`
	Action      Action            `json:"action"`
	PerformedBy string            `json:"performed_by"`
	At          time.Time         `json:"at"`
	Remarks     string            `json:"remarks,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (e Event) body() eventBody {
	return eventBody{
		ID:          e.ID,
		Action:      e.Action,
		PerformedBy: e.PerformedBy,
		At:          e.At,
		Remarks:     e.Remarks,
		Metadata:    e.Metadata,
	}
}

// NewEvent builds an unlinked event with a fresh id. The metadata map is
// copied so later changes by the caller cannot leak into the trail.
func NewEvent(action Action, performedBy string, at time.Time, remarks string, metadata map[string]string) Event {
	var meta map[string]string
	if len(metadata) > 0 {
		meta = maps.Clone(metadata)
	}
	return Event{
		ID:          uuid.NewString(),
		Action:      action,
		PerformedBy: performedBy,
		At:          at.UTC(),
		Remarks:     remarks,
		Metadata:    meta,
	}
}

// Append returns a new history equal to history with ev linked onto the end.
// The input slice is never written to.
func Append(history []Event, ev Event) ([]Event, error) {
	if ev.ID == "" || ev.Action == "" {
		return nil, errors.New("audit.Append: event id and action are required")
	}

	prev := ""
	if n := len(history); n > 0 {
		prev = history[n-1].Hash
	}
	canon, err := CanonicalJSON(ev.body())
	if err != nil {
		return nil, fmt.Errorf("audit.Append: %w", err)
	}
	ev.PrevHash = prev
	ev.Hash = ChainHash(prev, canon)

	out := make([]Event, len(history), len(history)+1)
	copy(out, history)
	return append(out, ev), nil
}

// Last returns the most recent event, if any.
func Last(history []Event) (Event, bool) {
	if len(history) == 0 {
		return Event{}, false
	}
	return history[len(history)-1], true
}
