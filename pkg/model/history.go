package model

import (
	"time"

	"github.com/google/uuid"
)

type EntryID string

// NewEntryID generates a new unique EntryID. Temporary and settled entries
// draw from the same id space.
func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

// Entry is one generation attempt kept in history
type Entry struct {
	ID          EntryID
	Inputs      RuleInputs
	Rule        string
	CompactRule string
	CreatedAt   time.Time

	// Session lives only in the current process and is never persisted
	Session *Session `json:"-"`
}

// Refinable reports whether the entry can continue its conversation
func (x *Entry) Refinable() bool {
	return x.Session != nil
}

// Clone returns a shallow copy. The session handle is shared.
func (x *Entry) Clone() *Entry {
	c := *x
	return &c
}

// Persisted returns the serializable projection of the entry
func (x *Entry) Persisted() PersistedEntry {
	return PersistedEntry{
		ID:          x.ID,
		Inputs:      x.Inputs,
		Rule:        x.Rule,
		CompactRule: x.CompactRule,
		CreatedAt:   x.CreatedAt,
	}
}

// PersistedEntry is the form of Entry written to durable storage
type PersistedEntry struct {
	ID          EntryID    `json:"id" firestore:"id"`
	Inputs      RuleInputs `json:"inputs" firestore:"inputs"`
	Rule        string     `json:"rule" firestore:"rule"`
	CompactRule string     `json:"compactRule,omitempty" firestore:"compactRule,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" firestore:"createdAt"`
}

// Restore builds an in-memory entry. Restored entries have no session.
func (x PersistedEntry) Restore() *Entry {
	return &Entry{
		ID:          x.ID,
		Inputs:      x.Inputs,
		Rule:        x.Rule,
		CompactRule: x.CompactRule,
		CreatedAt:   x.CreatedAt,
	}
}
