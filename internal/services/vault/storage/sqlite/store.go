// Package sqlite provides a SQLite-backed vault storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/platform/storage/sqlitemigrate"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
	"github.com/lumalyte/guildvault/internal/services/vault/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists vault state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite vault store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadVaultContents returns every occupied slot for the guild.
func (s *Store) LoadVaultContents(ctx context.Context, guildID uuid.UUID) (map[int]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT slot_index, kind, count, data FROM vault_slots WHERE guild_id = ?`,
		guildID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query vault slots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	contents := make(map[int]domain.Item)
	for rows.Next() {
		var (
			index int
			kind  string
			count int
			data  []byte
		)
		if err := rows.Scan(&index, &kind, &count, &data); err != nil {
			return nil, fmt.Errorf("scan vault slot: %w", err)
		}
		contents[index] = domain.Item{Kind: kind, Count: count, Data: data}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault slots: %w", err)
	}
	return contents, nil
}

// LoadBalance returns the guild's balance, or zero when no row exists.
func (s *Store) LoadBalance(ctx context.Context, guildID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var balance int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT balance FROM vault_balances WHERE guild_id = ?`,
		guildID.String(),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query vault balance: %w", err)
	}
	return balance, nil
}

// SaveSlot upserts one slot. A nil item deletes the persisted row.
func (s *Store) SaveSlot(ctx context.Context, guildID uuid.UUID, index int, item *domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if index < 0 {
		return fmt.Errorf("slot index must not be negative")
	}

	if item == nil {
		if _, err := s.sqlDB.ExecContext(ctx,
			`DELETE FROM vault_slots WHERE guild_id = ? AND slot_index = ?`,
			guildID.String(), index,
		); err != nil {
			return fmt.Errorf("delete vault slot: %w", err)
		}
		return nil
	}

	if strings.TrimSpace(item.Kind) == "" {
		return fmt.Errorf("item kind is required")
	}
	if item.Count <= 0 {
		return fmt.Errorf("item count must be greater than zero")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO vault_slots (guild_id, slot_index, kind, count, data, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (guild_id, slot_index) DO UPDATE SET
    kind = excluded.kind,
    count = excluded.count,
    data = excluded.data,
    updated_at = excluded.updated_at`,
		guildID.String(), index, item.Kind, item.Count, item.Data, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert vault slot: %w", err)
	}
	return nil
}

// SaveBalance upserts the guild's balance.
func (s *Store) SaveBalance(ctx context.Context, guildID uuid.UUID, balance int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if balance < 0 {
		return fmt.Errorf("balance must not be negative")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO vault_balances (guild_id, balance, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (guild_id) DO UPDATE SET
    balance = excluded.balance,
    updated_at = excluded.updated_at`,
		guildID.String(), balance, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert vault balance: %w", err)
	}
	return nil
}

// DeleteVault removes all persisted state for the guild.
func (s *Store) DeleteVault(ctx context.Context, guildID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete vault: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vault_slots WHERE guild_id = ?`, guildID.String(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete vault slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vault_balances WHERE guild_id = ?`, guildID.String(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete vault balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete vault: %w", err)
	}
	return nil
}

// GuildIDs lists every guild with persisted vault state.
func (s *Store) GuildIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT guild_id FROM vault_slots
UNION
SELECT guild_id FROM vault_balances`)
	if err != nil {
		return nil, fmt.Errorf("query guild ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan guild id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse guild id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guild ids: %w", err)
	}
	return ids, nil
}
