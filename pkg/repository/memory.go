package repository

import (
	"context"
	"sync"

	"github.com/m-mizutani/rulesmith/pkg/model"
)

// Memory keeps the encoded snapshot in memory. It goes through the same
// JSON encoding as the durable backends.
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saves int

	// SaveErr, when set, is returned by every Save
	SaveErr error
}

var _ Slot = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (x *Memory) Load(ctx context.Context) ([]model.PersistedEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return decode(x.data)
}

func (x *Memory) Save(ctx context.Context, entries []model.PersistedEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.SaveErr != nil {
		return x.SaveErr
	}
	data, err := encode(entries)
	if err != nil {
		return err
	}
	x.data = data
	x.saves++
	return nil
}

// Raw sets the stored bytes as they are
func (x *Memory) Raw(data []byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.data = data
}

// Saves returns the number of successful saves
func (x *Memory) Saves() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.saves
}
