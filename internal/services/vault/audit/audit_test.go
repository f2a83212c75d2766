package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
)

func openTempLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() {
		if err := log.Close(); err != nil {
			t.Fatalf("close audit log: %v", err)
		}
	})
	return log
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestAppendAndGuildEntriesRoundTrip(t *testing.T) {
	t.Parallel()

	log := openTempLog(t)
	guildID := uuid.New()
	actorID := uuid.New()

	deposit := Entry{
		GuildID: guildID,
		ActorID: actorID,
		Kind:    KindDeposit,
		Amount:  500,
		At:      time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
	itemAdd := Entry{
		GuildID: guildID,
		ActorID: actorID,
		Kind:    KindItemAdd,
		Slot:    5,
		Item:    &domain.Item{Kind: "netherite_ingot", Count: 2},
		At:      time.Date(2026, time.March, 1, 10, 5, 0, 0, time.UTC),
	}
	if err := log.Append(context.Background(), deposit); err != nil {
		t.Fatalf("append deposit: %v", err)
	}
	if err := log.Append(context.Background(), itemAdd); err != nil {
		t.Fatalf("append item add: %v", err)
	}

	entries, err := log.GuildEntries(context.Background(), guildID, 0)
	if err != nil {
		t.Fatalf("guild entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != KindDeposit || entries[0].Amount != 500 {
		t.Fatalf("first entry = %+v, want deposit of 500", entries[0])
	}
	if entries[1].Kind != KindItemAdd || entries[1].Item == nil || entries[1].Item.Kind != "netherite_ingot" {
		t.Fatalf("second entry = %+v, want netherite item add", entries[1])
	}
}

func TestGuildEntriesIsolatesGuilds(t *testing.T) {
	t.Parallel()

	log := openTempLog(t)
	guildA := uuid.New()
	guildB := uuid.New()

	if err := log.Append(context.Background(), Entry{GuildID: guildA, ActorID: uuid.New(), Kind: KindDeposit, Amount: 1}); err != nil {
		t.Fatalf("append guild A: %v", err)
	}
	if err := log.Append(context.Background(), Entry{GuildID: guildB, ActorID: uuid.New(), Kind: KindWithdraw, Amount: 2}); err != nil {
		t.Fatalf("append guild B: %v", err)
	}

	entries, err := log.GuildEntries(context.Background(), guildA, 0)
	if err != nil {
		t.Fatalf("guild entries: %v", err)
	}
	if len(entries) != 1 || entries[0].GuildID != guildA {
		t.Fatalf("entries = %+v, want only guild A", entries)
	}
}

func TestGuildEntriesHonorsLimit(t *testing.T) {
	t.Parallel()

	log := openTempLog(t)
	guildID := uuid.New()
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := Entry{GuildID: guildID, ActorID: uuid.New(), Kind: KindDeposit, Amount: int64(i + 1), At: base.Add(time.Duration(i) * time.Minute)}
		if err := log.Append(context.Background(), entry); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
	}

	entries, err := log.GuildEntries(context.Background(), guildID, 3)
	if err != nil {
		t.Fatalf("guild entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Amount != 1 {
		t.Fatalf("first entry amount = %d, want oldest first", entries[0].Amount)
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	t.Parallel()

	log := openTempLog(t)
	guildID := uuid.New()
	old := Entry{GuildID: guildID, ActorID: uuid.New(), Kind: KindDeposit, Amount: 10, At: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	recent := Entry{GuildID: guildID, ActorID: uuid.New(), Kind: KindDeposit, Amount: 20, At: time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)}
	if err := log.Append(context.Background(), old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := log.Append(context.Background(), recent); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	pruned, err := log.Prune(context.Background(), time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}

	entries, err := log.GuildEntries(context.Background(), guildID, 0)
	if err != nil {
		t.Fatalf("guild entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != 20 {
		t.Fatalf("entries = %+v, want only the recent entry", entries)
	}
}

func TestAppendRequiresGuildAndKind(t *testing.T) {
	t.Parallel()

	log := openTempLog(t)
	if err := log.Append(context.Background(), Entry{Kind: KindDeposit}); err == nil {
		t.Fatal("expected missing guild id error")
	}
	if err := log.Append(context.Background(), Entry{GuildID: uuid.New()}); err == nil {
		t.Fatal("expected missing kind error")
	}
}
