package app

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
)

func TestLiveViewSetSlotBounds(t *testing.T) {
	t.Parallel()

	view := newLiveView(uuid.New(), "Guild", 9)
	if err := view.SetSlot(-1, nil); err == nil {
		t.Fatal("expected error for negative index")
	}
	if err := view.SetSlot(9, nil); err == nil {
		t.Fatal("expected error for index at capacity")
	}
	if err := view.SetSlot(8, &domain.Item{Kind: "stone", Count: 1}); err != nil {
		t.Fatalf("set last slot: %v", err)
	}
}

func TestLiveViewSlotReturnsCopy(t *testing.T) {
	t.Parallel()

	view := newLiveView(uuid.New(), "Guild", 9)
	original := &domain.Item{Kind: "shulker_box", Count: 1, Data: []byte("contents")}
	if err := view.SetSlot(2, original); err != nil {
		t.Fatalf("set slot: %v", err)
	}

	got := view.Slot(2)
	got.Data[0] = 'X'
	again := view.Slot(2)
	if string(again.Data) != "contents" {
		t.Fatalf("stored data = %q, mutated through returned copy", again.Data)
	}

	original.Count = 64
	if view.Slot(2).Count != 1 {
		t.Fatal("stored item aliased the caller's value")
	}
}

func TestLiveViewRenderBalanceOverwritesReservedSlot(t *testing.T) {
	t.Parallel()

	view := newLiveView(uuid.New(), "Guild", 9)
	view.RenderBalance(1250)

	item := view.Slot(domain.ReservedSlot)
	if item == nil || item.Kind != BalanceDisplayKind {
		t.Fatalf("reserved slot = %+v, want balance affordance", item)
	}
	if string(item.Data) != "1250" {
		t.Fatalf("affordance data = %q, want \"1250\"", item.Data)
	}

	view.RenderBalance(0)
	if got := string(view.Slot(domain.ReservedSlot).Data); got != "0" {
		t.Fatalf("affordance data = %q, want \"0\"", got)
	}
}
