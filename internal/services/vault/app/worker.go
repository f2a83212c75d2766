package app

import (
	"context"
	"log"
	"time"
)

// WorkerConfig tunes the background maintenance loop.
type WorkerConfig struct {
	// FlushInterval is how often threshold-exceeding buffers are flushed.
	FlushInterval time.Duration
	// IdleSweepInterval is how often idle viewer sessions are swept.
	IdleSweepInterval time.Duration
	// AuditRetention bounds how long audit entries are kept. Zero disables
	// pruning.
	AuditRetention time.Duration
	// ShutdownTimeout bounds the final flush performed on stop.
	ShutdownTimeout time.Duration
}

const (
	defaultFlushInterval     = time.Second
	defaultIdleSweepInterval = 5 * time.Minute
	defaultShutdownTimeout   = 10 * time.Second
	auditPruneInterval       = 24 * time.Hour
)

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.IdleSweepInterval <= 0 {
		c.IdleSweepInterval = defaultIdleSweepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// StartWorker starts the async loop that periodically flushes pending write
// buffers, sweeps idle viewer sessions, and prunes expired audit entries.
// Cancel the returned function to stop; the done channel closes after the
// final shutdown flush completes.
func StartWorker(manager *Manager, cfg WorkerConfig, logger *log.Logger) (context.CancelFunc, chan struct{}) {
	if manager == nil {
		return nil, nil
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		RunMaintenanceLoop(ctx, manager, cfg, logger)
	}()

	return cancel, done
}

// RunMaintenanceLoop drives the flush, idle-sweep, and audit-prune tickers
// until ctx is cancelled, then performs a final flush of every buffer.
func RunMaintenanceLoop(ctx context.Context, manager *Manager, cfg WorkerConfig, logger *log.Logger) {
	cfg = cfg.withDefaults()

	flushTicker := time.NewTicker(cfg.FlushInterval)
	defer flushTicker.Stop()
	sweepTicker := time.NewTicker(cfg.IdleSweepInterval)
	defer sweepTicker.Stop()

	var pruneC <-chan time.Time
	if cfg.AuditRetention > 0 {
		pruneTicker := time.NewTicker(auditPruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			if err := manager.FlushAll(shutdownCtx); err != nil {
				logger.Printf("vault worker: shutdown flush: %v", err)
			}
			cancel()
			return
		case <-flushTicker.C:
			if flushed := manager.FlushPending(ctx); flushed > 0 {
				logger.Printf("vault worker: flushed %d buffer(s)", flushed)
			}
		case <-sweepTicker.C:
			if closed := manager.SweepIdle(ctx); closed > 0 {
				logger.Printf("vault worker: closed %d idle session(s)", closed)
			}
		case <-pruneC:
			pruned, err := manager.PruneAudit(ctx, time.Now().Add(-cfg.AuditRetention))
			if err != nil {
				logger.Printf("vault worker: prune audit: %v", err)
			} else if pruned > 0 {
				logger.Printf("vault worker: pruned %d audit entries", pruned)
			}
		}
	}
}
