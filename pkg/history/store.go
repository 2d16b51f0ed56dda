// Package history keeps the ordered list of generation attempts, newest
// first, together with the selection pointer.
package history

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/m-mizutani/rulesmith/pkg/repository"
	"github.com/m-mizutani/rulesmith/pkg/utils/logging"
)

var ErrIndexOutOfRange = goerr.New("history index out of range")

// Store is safe for concurrent use. Every mutation swaps in a new slice and
// then writes the persisted projection to the slot outside the lock. Writes
// are not cancelled with the caller's context. Write failures are logged and
// never returned.
type Store struct {
	mu       sync.Mutex
	entries  []*model.Entry
	selected *int
	version  uint64
	slot     repository.Slot

	saveMu sync.Mutex
	saved  uint64
}

// snapshot is the persisted projection of one committed version
type snapshot struct {
	version uint64
	entries []model.PersistedEntry
}

// New creates an empty store backed by slot
func New(slot repository.Slot) *Store {
	return &Store{slot: slot}
}

// Load restores the store from slot. Missing or unreadable data yields an
// empty store. Restored entries have no session and the first entry is
// selected.
func Load(ctx context.Context, slot repository.Slot) *Store {
	s := New(slot)

	persisted, err := slot.Load(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to load history, starting empty", "error", err)
		return s
	}

	entries := make([]*model.Entry, 0, len(persisted))
	for _, p := range persisted {
		entries = append(entries, p.Restore())
	}
	s.entries = entries
	if len(entries) > 0 {
		s.selected = intPtr(0)
	}
	return s
}

func intPtr(i int) *int { return &i }

func (x *Store) indexOf(id model.EntryID) int {
	for i, e := range x.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// commit swaps in entries and returns the snapshot to persist. Caller holds
// the lock.
func (x *Store) commit(entries []*model.Entry) *snapshot {
	x.entries = entries
	x.version++

	if x.slot == nil {
		return nil
	}
	persisted := make([]model.PersistedEntry, len(entries))
	for i, e := range entries {
		persisted[i] = e.Persisted()
	}
	return &snapshot{version: x.version, entries: persisted}
}

// persist writes snap unless a newer version is already stored. Caller must
// not hold the lock.
func (x *Store) persist(ctx context.Context, snap *snapshot) {
	if snap == nil {
		return
	}
	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	if snap.version <= x.saved {
		return
	}
	if err := x.slot.Save(context.WithoutCancel(ctx), snap.entries); err != nil {
		logging.From(ctx).Error("failed to save history", "error", err, "entries", len(snap.entries))
		return
	}
	x.saved = snap.version
}

// Entries returns copies of all entries, newest first
func (x *Store) Entries() []*model.Entry {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make([]*model.Entry, len(x.entries))
	for i, e := range x.entries {
		out[i] = e.Clone()
	}
	return out
}

func (x *Store) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Get returns a copy of the entry with id
func (x *Store) Get(id model.EntryID) (*model.Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if i := x.indexOf(id); i >= 0 {
		return x.entries[i].Clone(), true
	}
	return nil, false
}

// At returns a copy of the entry at index
func (x *Store) At(index int) (*model.Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if index < 0 || index >= len(x.entries) {
		return nil, false
	}
	return x.entries[index].Clone(), true
}

// Selected returns the selected index
func (x *Store) Selected() (int, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.selected == nil {
		return 0, false
	}
	return *x.selected, true
}

// SelectedEntry returns a copy of the selected entry
func (x *Store) SelectedEntry() (*model.Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.selected == nil {
		return nil, false
	}
	return x.entries[*x.selected].Clone(), true
}

func (x *Store) Select(index int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if index < 0 || index >= len(x.entries) {
		return goerr.Wrap(ErrIndexOutOfRange, "cannot select entry",
			goerr.V("index", index),
			goerr.V("length", len(x.entries)))
	}
	x.selected = intPtr(index)
	return nil
}

// SelectID selects the entry with id and reports whether it exists
func (x *Store) SelectID(id model.EntryID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	i := x.indexOf(id)
	if i < 0 {
		return false
	}
	x.selected = intPtr(i)
	return true
}

func (x *Store) ClearSelection() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.selected = nil
}

// Prepend inserts entry at the head and selects it
func (x *Store) Prepend(ctx context.Context, entry *model.Entry) {
	x.mu.Lock()
	entries := make([]*model.Entry, 0, len(x.entries)+1)
	entries = append(entries, entry.Clone())
	entries = append(entries, x.entries...)
	x.selected = intPtr(0)
	snap := x.commit(entries)
	x.mu.Unlock()

	x.persist(ctx, snap)
}

// Update applies fn to a copy of the entry with id and stores the copy. It
// returns false when the entry no longer exists; fn is not called then.
func (x *Store) Update(ctx context.Context, id model.EntryID, fn func(e *model.Entry)) bool {
	x.mu.Lock()
	i := x.indexOf(id)
	if i < 0 {
		x.mu.Unlock()
		return false
	}

	updated := x.entries[i].Clone()
	fn(updated)

	entries := append([]*model.Entry(nil), x.entries...)
	entries[i] = updated
	snap := x.commit(entries)
	x.mu.Unlock()

	x.persist(ctx, snap)
	return true
}

// Replace swaps the entry with oldID for entry, keyed by id and never by
// position
func (x *Store) Replace(ctx context.Context, oldID model.EntryID, entry *model.Entry) bool {
	x.mu.Lock()
	i := x.indexOf(oldID)
	if i < 0 {
		x.mu.Unlock()
		return false
	}

	entries := append([]*model.Entry(nil), x.entries...)
	entries[i] = entry.Clone()
	snap := x.commit(entries)
	x.mu.Unlock()

	x.persist(ctx, snap)
	return true
}

// Remove deletes the entry with id
func (x *Store) Remove(ctx context.Context, id model.EntryID) bool {
	x.mu.Lock()
	i := x.indexOf(id)
	if i < 0 {
		x.mu.Unlock()
		return false
	}
	snap := x.deleteAt(i)
	x.mu.Unlock()

	x.persist(ctx, snap)
	return true
}

// Delete removes the entry at index. Deleting the selected entry clears the
// selection, deleting one before it shifts the selection up by one.
func (x *Store) Delete(ctx context.Context, index int) error {
	x.mu.Lock()
	if index < 0 || index >= len(x.entries) {
		length := len(x.entries)
		x.mu.Unlock()
		return goerr.Wrap(ErrIndexOutOfRange, "cannot delete entry",
			goerr.V("index", index),
			goerr.V("length", length))
	}
	snap := x.deleteAt(index)
	x.mu.Unlock()

	x.persist(ctx, snap)
	return nil
}

func (x *Store) deleteAt(index int) *snapshot {
	if x.selected != nil {
		switch {
		case *x.selected == index:
			x.selected = nil
		case index < *x.selected:
			x.selected = intPtr(*x.selected - 1)
		}
	}

	entries := make([]*model.Entry, 0, len(x.entries)-1)
	entries = append(entries, x.entries[:index]...)
	entries = append(entries, x.entries[index+1:]...)
	return x.commit(entries)
}

// Clear removes all entries and the selection
func (x *Store) Clear(ctx context.Context) {
	x.mu.Lock()
	x.selected = nil
	snap := x.commit(nil)
	x.mu.Unlock()

	x.persist(ctx, snap)
}
