// Package repository stores the history snapshot of a named slot. A slot
// holds one JSON array of persisted entries; the backends differ only in
// where the array lives.
package repository

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
)

const DefaultSlot = "ruleGenerationHistory"

// ErrCorruptedSlot is returned by Load when the stored data cannot be decoded
var ErrCorruptedSlot = goerr.New("slot data is corrupted")

// Slot is a durable location for the history snapshot
type Slot interface {
	// Load returns the stored entries. A slot that was never written yields
	// no entries and no error.
	Load(ctx context.Context) ([]model.PersistedEntry, error)
	// Save replaces the stored entries
	Save(ctx context.Context, entries []model.PersistedEntry) error
}

func encode(entries []model.PersistedEntry) ([]byte, error) {
	if entries == nil {
		entries = []model.PersistedEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal history entries")
	}
	return data, nil
}

func decode(data []byte) ([]model.PersistedEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var entries []model.PersistedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, goerr.Wrap(ErrCorruptedSlot, "failed to unmarshal history entries", goerr.V("error", err.Error()))
	}
	return entries, nil
}
