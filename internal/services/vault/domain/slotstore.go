package domain

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ReservedSlot is the slot index rendered as the balance affordance.
// It is managed by the orchestrator and never holds a caller-supplied item.
const ReservedSlot = 0

var (
	// ErrInsufficientFunds indicates a withdrawal larger than the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNegativeAmount indicates a negative deposit or withdrawal amount.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// SlotStore is the in-memory authoritative snapshot of one guild's vault.
//
// Slot writes are atomic replacements guarded by a mutex; the balance lives
// in an atomic integer so deposits and withdrawals never serialize behind
// slot traffic. At most one SlotStore exists per guild within the process;
// the manager registry enforces that.
type SlotStore struct {
	guildID uuid.UUID

	mu    sync.RWMutex
	slots map[int]Item

	balance atomic.Int64
	dirty   atomic.Bool

	lastLoadedAt   atomic.Int64
	lastModifiedAt atomic.Int64
}

// NewSlotStore creates an empty store for the given guild.
func NewSlotStore(guildID uuid.UUID) *SlotStore {
	s := &SlotStore{
		guildID: guildID,
		slots:   make(map[int]Item),
	}
	now := time.Now().UTC().UnixMilli()
	s.lastLoadedAt.Store(now)
	s.lastModifiedAt.Store(now)
	return s
}

// GuildID returns the owning guild identifier.
func (s *SlotStore) GuildID() uuid.UUID {
	return s.guildID
}

// SetSlot replaces the content at index and returns the previous content.
// A nil item clears the slot.
func (s *SlotStore) SetSlot(index int, item *Item) *Item {
	s.mu.Lock()
	var previous *Item
	if existing, ok := s.slots[index]; ok {
		previous = cloneItem(&existing)
	}
	if item == nil {
		delete(s.slots, index)
	} else {
		s.slots[index] = *cloneItem(item)
	}
	s.mu.Unlock()

	s.touch()
	return previous
}

// Slot returns the content at index, or nil if the slot is empty.
func (s *SlotStore) Slot(index int) *Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.slots[index]; ok {
		return cloneItem(&item)
	}
	return nil
}

// Slots returns a snapshot copy of all occupied slots.
func (s *SlotStore) Slots() map[int]Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[int]Item, len(s.slots))
	for index, item := range s.slots {
		snapshot[index] = *cloneItem(&item)
	}
	return snapshot
}

// AddBalance atomically credits amount and returns the new balance.
func (s *SlotStore) AddBalance(amount int64) (int64, error) {
	if amount < 0 {
		return s.balance.Load(), ErrNegativeAmount
	}
	newBalance := s.balance.Add(amount)
	s.touch()
	return newBalance, nil
}

// SubtractBalance atomically debits amount if the balance allows it.
//
// The compare-and-swap loop re-reads the balance on every retry so the
// sufficiency check always runs against a fresh value: the balance never
// goes transiently negative and no concurrent credit or debit is lost.
// Returns ErrInsufficientFunds without mutating when the balance is short.
func (s *SlotStore) SubtractBalance(amount int64) (int64, error) {
	if amount < 0 {
		return s.balance.Load(), ErrNegativeAmount
	}
	for {
		current := s.balance.Load()
		if current < amount {
			return current, ErrInsufficientFunds
		}
		if s.balance.CompareAndSwap(current, current-amount) {
			s.touch()
			return current - amount, nil
		}
	}
}

// Balance returns the current balance.
func (s *SlotStore) Balance() int64 {
	return s.balance.Load()
}

// SetBalance overwrites the balance. Used when loading from persistence.
func (s *SlotStore) SetBalance(balance int64) {
	s.balance.Store(balance)
}

// MarkDirty flags the store for retry after a failed persistence write.
func (s *SlotStore) MarkDirty() {
	s.dirty.Store(true)
}

// ClearDirty clears the retry flag after a confirmed successful flush.
func (s *SlotStore) ClearDirty() {
	s.dirty.Store(false)
}

// Dirty reports whether the last flush attempt failed.
func (s *SlotStore) Dirty() bool {
	return s.dirty.Load()
}

// LastModified returns the time of the most recent mutation.
func (s *SlotStore) LastModified() time.Time {
	return time.UnixMilli(s.lastModifiedAt.Load()).UTC()
}

// LastLoaded returns the time the store was populated from persistence.
func (s *SlotStore) LastLoaded() time.Time {
	return time.UnixMilli(s.lastLoadedAt.Load()).UTC()
}

func (s *SlotStore) touch() {
	s.lastModifiedAt.Store(time.Now().UTC().UnixMilli())
}
