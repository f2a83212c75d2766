package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingWriteSet batches a guild's not-yet-persisted slot and balance
// changes between flushes.
//
// A slot index is never present in both upserts and deletions: inserting
// into one side removes it from the other. The pending balance is
// last-writer-wins; intermediate values observed inside one buffering
// window are never persisted individually.
type PendingWriteSet struct {
	guildID uuid.UUID

	mu             sync.Mutex
	upserts        map[int]Item
	deletions      map[int]struct{}
	pendingBalance *int64
	firstChangeAt  time.Time
	lastChangeAt   time.Time
}

// NewPendingWriteSet creates an empty write buffer for the given guild.
func NewPendingWriteSet(guildID uuid.UUID) *PendingWriteSet {
	return &PendingWriteSet{
		guildID:   guildID,
		upserts:   make(map[int]Item),
		deletions: make(map[int]struct{}),
	}
}

// GuildID returns the owning guild identifier.
func (w *PendingWriteSet) GuildID() uuid.UUID {
	return w.guildID
}

// BufferSlotChange records a slot mutation awaiting persistence.
// A nil item records a deletion.
func (w *PendingWriteSet) BufferSlotChange(index int, item *Item) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if item == nil {
		delete(w.upserts, index)
		w.deletions[index] = struct{}{}
	} else {
		w.upserts[index] = *cloneItem(item)
		delete(w.deletions, index)
	}
	w.markChanged()
}

// BufferBalanceChange records the latest balance awaiting persistence,
// superseding any prior pending value.
func (w *PendingWriteSet) BufferBalanceChange(balance int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pendingBalance = &balance
	w.markChanged()
}

// HasPendingChanges reports whether anything is waiting to be flushed.
func (w *PendingWriteSet) HasPendingChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.upserts) > 0 || len(w.deletions) > 0 || w.pendingBalance != nil
}

// ShouldFlush reports whether the buffer exceeds the entry-count or age
// threshold. The dual threshold bounds both batch size and staleness: bursty
// single-slot edits are not flushed on every edit, but no edit waits past
// maxAge.
func (w *PendingWriteSet) ShouldFlush(maxEntries int, maxAge time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.upserts) == 0 && len(w.deletions) == 0 && w.pendingBalance == nil {
		return false
	}
	if len(w.upserts)+len(w.deletions) >= maxEntries {
		return true
	}
	return !w.firstChangeAt.IsZero() && time.Since(w.firstChangeAt) >= maxAge
}

// PendingWrites is a consistent copy of the buffer taken for one flush walk.
type PendingWrites struct {
	Upserts   map[int]Item
	Deletions []int
	Balance   *int64
}

// Empty reports whether the snapshot carries no work.
func (p PendingWrites) Empty() bool {
	return len(p.Upserts) == 0 && len(p.Deletions) == 0 && p.Balance == nil
}

// Snapshot copies the pending state so a flush can walk it without holding
// the buffer lock across persistence calls.
func (w *PendingWriteSet) Snapshot() PendingWrites {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapshot := PendingWrites{Upserts: make(map[int]Item, len(w.upserts))}
	for index, item := range w.upserts {
		snapshot.Upserts[index] = *cloneItem(&item)
	}
	for index := range w.deletions {
		snapshot.Deletions = append(snapshot.Deletions, index)
	}
	if w.pendingBalance != nil {
		balance := *w.pendingBalance
		snapshot.Balance = &balance
	}
	return snapshot
}

// Clear empties all pending state. Called only after the orchestrator
// confirms a successful persistence write.
func (w *PendingWriteSet) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.upserts = make(map[int]Item)
	w.deletions = make(map[int]struct{})
	w.pendingBalance = nil
	w.firstChangeAt = time.Time{}
	w.lastChangeAt = time.Time{}
}

// Age returns how long the oldest pending change has been buffered.
func (w *PendingWriteSet) Age() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.firstChangeAt.IsZero() {
		return 0
	}
	return time.Since(w.firstChangeAt)
}

func (w *PendingWriteSet) markChanged() {
	now := time.Now().UTC()
	if w.firstChangeAt.IsZero() {
		w.firstChangeAt = now
	}
	w.lastChangeAt = now
}
