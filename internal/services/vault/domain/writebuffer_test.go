package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBufferSlotChangeMovesBetweenUpsertsAndDeletions(t *testing.T) {
	t.Parallel()

	buffer := NewPendingWriteSet(uuid.New())
	buffer.BufferSlotChange(4, &Item{Kind: "gold_ingot", Count: 9})

	snapshot := buffer.Snapshot()
	if _, ok := snapshot.Upserts[4]; !ok {
		t.Fatal("slot 4 missing from upserts")
	}
	if len(snapshot.Deletions) != 0 {
		t.Fatalf("deletions = %v, want empty", snapshot.Deletions)
	}

	buffer.BufferSlotChange(4, nil)
	snapshot = buffer.Snapshot()
	if _, ok := snapshot.Upserts[4]; ok {
		t.Fatal("slot 4 still in upserts after deletion")
	}
	if len(snapshot.Deletions) != 1 || snapshot.Deletions[0] != 4 {
		t.Fatalf("deletions = %v, want [4]", snapshot.Deletions)
	}

	buffer.BufferSlotChange(4, &Item{Kind: "gold_ingot", Count: 1})
	snapshot = buffer.Snapshot()
	if len(snapshot.Deletions) != 0 {
		t.Fatalf("deletions = %v, want empty after re-add", snapshot.Deletions)
	}
}

func TestBufferBalanceChangeLastWriterWins(t *testing.T) {
	t.Parallel()

	buffer := NewPendingWriteSet(uuid.New())
	buffer.BufferBalanceChange(100)
	buffer.BufferBalanceChange(250)

	snapshot := buffer.Snapshot()
	if snapshot.Balance == nil || *snapshot.Balance != 250 {
		t.Fatalf("pending balance = %v, want 250", snapshot.Balance)
	}
}

func TestShouldFlushEntryThreshold(t *testing.T) {
	t.Parallel()

	buffer := NewPendingWriteSet(uuid.New())
	if buffer.ShouldFlush(5, time.Hour) {
		t.Fatal("empty buffer should not flush")
	}

	for slot := 1; slot <= 4; slot++ {
		buffer.BufferSlotChange(slot, &Item{Kind: "stone", Count: 1})
	}
	if buffer.ShouldFlush(5, time.Hour) {
		t.Fatal("4 entries should stay under a threshold of 5")
	}

	buffer.BufferSlotChange(5, nil)
	if !buffer.ShouldFlush(5, time.Hour) {
		t.Fatal("5 entries should reach a threshold of 5")
	}
}

func TestShouldFlushAgeThreshold(t *testing.T) {
	t.Parallel()

	buffer := NewPendingWriteSet(uuid.New())
	buffer.BufferBalanceChange(10)

	if buffer.ShouldFlush(100, time.Hour) {
		t.Fatal("fresh change should not trip the age threshold")
	}
	if !buffer.ShouldFlush(100, 0) {
		t.Fatal("zero max age should flush any pending change")
	}
}

func TestClearResetsState(t *testing.T) {
	t.Parallel()

	buffer := NewPendingWriteSet(uuid.New())
	buffer.BufferSlotChange(2, &Item{Kind: "dirt", Count: 64})
	buffer.BufferSlotChange(3, nil)
	buffer.BufferBalanceChange(7)

	buffer.Clear()
	if buffer.HasPendingChanges() {
		t.Fatal("buffer should be empty after Clear")
	}
	if !buffer.Snapshot().Empty() {
		t.Fatal("snapshot should be empty after Clear")
	}
	if buffer.Age() != 0 {
		t.Fatalf("age = %v, want 0 after Clear", buffer.Age())
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	buffer := NewPendingWriteSet(uuid.New())
	buffer.BufferSlotChange(1, &Item{Kind: "oak_log", Count: 12})

	snapshot := buffer.Snapshot()
	buffer.Clear()

	if len(snapshot.Upserts) != 1 {
		t.Fatalf("snapshot upserts = %v, want 1 entry", snapshot.Upserts)
	}
}
