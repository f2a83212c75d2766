package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lumalyte/guildvault/internal/services/vault/audit"
	"github.com/lumalyte/guildvault/internal/services/vault/storage/sqlite"
)

// RuntimeConfig holds everything needed to run the vault service process.
type RuntimeConfig struct {
	DBPath            string
	AuditPath         string
	FlushMaxEntries   int
	FlushMaxAge       time.Duration
	IdleThreshold     time.Duration
	FlushInterval     time.Duration
	IdleSweepInterval time.Duration
	AuditRetention    time.Duration
}

// Run opens the backing stores, starts the maintenance worker, and blocks
// until ctx is cancelled. Pending writes are flushed before returning.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open vault store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close vault store: %v", err)
		}
	}()

	var auditLog *audit.Log
	if cfg.AuditPath != "" {
		auditLog, err = audit.Open(cfg.AuditPath)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer func() {
			if err := auditLog.Close(); err != nil {
				log.Printf("close audit log: %v", err)
			}
		}()
	}

	manager, err := NewManager(store, auditLog, Config{
		FlushMaxEntries: cfg.FlushMaxEntries,
		FlushMaxAge:     cfg.FlushMaxAge,
		IdleThreshold:   cfg.IdleThreshold,
	}, log.Default())
	if err != nil {
		return fmt.Errorf("create vault manager: %w", err)
	}

	stop, done := StartWorker(manager, WorkerConfig{
		FlushInterval:     cfg.FlushInterval,
		IdleSweepInterval: cfg.IdleSweepInterval,
		AuditRetention:    cfg.AuditRetention,
	}, log.Default())

	log.Printf("vault service running (db=%s)", cfg.DBPath)
	<-ctx.Done()

	stop()
	<-done
	return nil
}
