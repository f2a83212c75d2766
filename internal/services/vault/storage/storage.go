// Package storage defines persistence contracts for guild vault state.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
)

// ErrNotFound indicates a requested vault record is missing.
var ErrNotFound = errors.New("record not found")

// Store persists guild vault slot contents and balances.
//
// All operations are idempotent from the caller's perspective: retrying a
// save with the same buffered value is always safe.
type Store interface {
	// LoadVaultContents returns every occupied slot for the guild. A guild
	// with no persisted slots yields an empty map, not ErrNotFound.
	LoadVaultContents(ctx context.Context, guildID uuid.UUID) (map[int]domain.Item, error)

	// LoadBalance returns the guild's balance, or zero when the guild has
	// no balance row yet.
	LoadBalance(ctx context.Context, guildID uuid.UUID) (int64, error)

	// SaveSlot upserts the content at one slot index. A nil item deletes
	// the persisted row for that index.
	SaveSlot(ctx context.Context, guildID uuid.UUID, index int, item *domain.Item) error

	// SaveBalance upserts the guild's balance.
	SaveBalance(ctx context.Context, guildID uuid.UUID, balance int64) error

	// DeleteVault removes all persisted state for the guild.
	DeleteVault(ctx context.Context, guildID uuid.UUID) error

	// GuildIDs lists every guild with persisted vault state.
	GuildIDs(ctx context.Context) ([]uuid.UUID, error)
}
