// Package audit provides an append-only transaction log for vault activity.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
	"go.etcd.io/bbolt"
)

const auditBucket = "vault_audit"

// Kind classifies one audited vault operation.
type Kind string

// Audited operation kinds.
const (
	KindDeposit    Kind = "deposit"
	KindWithdraw   Kind = "withdraw"
	KindItemAdd    Kind = "item_add"
	KindItemRemove Kind = "item_remove"
)

// Entry is one audited vault operation.
type Entry struct {
	ID      uuid.UUID    `json:"id"`
	GuildID uuid.UUID    `json:"guild_id"`
	ActorID uuid.UUID    `json:"actor_id"`
	Kind    Kind         `json:"kind"`
	Amount  int64        `json:"amount,omitempty"`
	Slot    int          `json:"slot,omitempty"`
	Item    *domain.Item `json:"item,omitempty"`
	At      time.Time    `json:"at"`
}

// Log is a BoltDB-backed append-only vault transaction log.
type Log struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed audit log at the provided path.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit log path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(auditBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit bucket: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying BoltDB database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append persists one audit entry. Missing ID and At fields are filled in.
func (l *Log) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l == nil || l.db == nil {
		return fmt.Errorf("audit log is not configured")
	}
	if entry.GuildID == uuid.Nil {
		return fmt.Errorf("guild id is required")
	}
	if entry.Kind == "" {
		return fmt.Errorf("entry kind is required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	key := entryKey(entry)
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucket))
		if bucket == nil {
			return fmt.Errorf("audit bucket is missing")
		}
		return bucket.Put(key, payload)
	})
}

// GuildEntries returns up to limit entries for the guild in chronological
// order. A limit of zero or less returns all entries.
func (l *Log) GuildEntries(ctx context.Context, guildID uuid.UUID, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("audit log is not configured")
	}
	if guildID == uuid.Nil {
		return nil, fmt.Errorf("guild id is required")
	}

	prefix := []byte(guildID.String() + "/")
	var entries []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucket))
		if bucket == nil {
			return fmt.Errorf("audit bucket is missing")
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Seek(prefix); key != nil && strings.HasPrefix(string(key), string(prefix)); key, value = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("unmarshal audit entry: %w", err)
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune deletes entries recorded before the cutoff and returns how many
// were removed. Used by the retention sweep.
func (l *Log) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("audit log is not configured")
	}

	pruned := 0
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(auditBucket))
		if bucket == nil {
			return fmt.Errorf("audit bucket is missing")
		}
		cursor := bucket.Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("unmarshal audit entry: %w", err)
			}
			if entry.At.Before(olderThan) {
				if err := cursor.Delete(); err != nil {
					return fmt.Errorf("delete audit entry: %w", err)
				}
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

// entryKey orders entries by guild, then time, then entry id.
func entryKey(entry Entry) []byte {
	return []byte(fmt.Sprintf("%s/%013d/%s", entry.GuildID, entry.At.UnixMilli(), entry.ID))
}
