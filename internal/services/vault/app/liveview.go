package app

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
)

// BalanceDisplayKind is the item kind the manager renders into the reserved
// slot so the view layer can show the guild balance.
const BalanceDisplayKind = "guildvault:balance_display"

// LiveView is the single shared mutable representation of a guild's vault
// that every observing actor renders simultaneously.
//
// Only the Manager constructs live views; actors receive references to the
// existing instance and mutate it through the view layer, after which the
// manager reconciles it back into the cache.
type LiveView struct {
	guildID  uuid.UUID
	name     string
	capacity int

	mu    sync.RWMutex
	slots []*domain.Item
}

func newLiveView(guildID uuid.UUID, name string, capacity int) *LiveView {
	return &LiveView{
		guildID:  guildID,
		name:     name,
		capacity: capacity,
		slots:    make([]*domain.Item, capacity),
	}
}

// GuildID returns the guild this view renders.
func (v *LiveView) GuildID() uuid.UUID {
	return v.guildID
}

// Name returns the display name the view was created with.
func (v *LiveView) Name() string {
	return v.name
}

// Capacity returns the number of addressable slots.
func (v *LiveView) Capacity() int {
	return v.capacity
}

// SetSlot replaces the content at index. A nil item clears the slot.
func (v *LiveView) SetSlot(index int, item *domain.Item) error {
	if index < 0 || index >= v.capacity {
		return fmt.Errorf("slot index %d out of range [0, %d)", index, v.capacity)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if item == nil {
		v.slots[index] = nil
		return nil
	}
	copied := *item
	if item.Data != nil {
		copied.Data = append([]byte(nil), item.Data...)
	}
	v.slots[index] = &copied
	return nil
}

// Slot returns the content at index, or nil if empty or out of range.
func (v *LiveView) Slot(index int) *domain.Item {
	if index < 0 || index >= v.capacity {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	item := v.slots[index]
	if item == nil {
		return nil
	}
	copied := *item
	if item.Data != nil {
		copied.Data = append([]byte(nil), item.Data...)
	}
	return &copied
}

// RenderBalance writes the balance affordance into the reserved slot.
func (v *LiveView) RenderBalance(balance int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.slots[domain.ReservedSlot] = &domain.Item{
		Kind:  BalanceDisplayKind,
		Count: 1,
		Data:  []byte(strconv.FormatInt(balance, 10)),
	}
}
