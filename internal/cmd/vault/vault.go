// Package vault parses vault service flags and launches the service.
package vault

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/lumalyte/guildvault/internal/platform/cmd"
	vaultserver "github.com/lumalyte/guildvault/internal/services/vault/app"
)

// Config holds vault command configuration.
type Config struct {
	DBPath            string        `env:"GUILDVAULT_DB_PATH" envDefault:"data/vault.db"`
	AuditPath         string        `env:"GUILDVAULT_AUDIT_PATH" envDefault:"data/vault-audit.db"`
	FlushMaxEntries   int           `env:"GUILDVAULT_FLUSH_MAX_ENTRIES" envDefault:"5"`
	FlushMaxAge       time.Duration `env:"GUILDVAULT_FLUSH_MAX_AGE" envDefault:"1s"`
	IdleThreshold     time.Duration `env:"GUILDVAULT_IDLE_THRESHOLD" envDefault:"5m"`
	FlushInterval     time.Duration `env:"GUILDVAULT_FLUSH_INTERVAL" envDefault:"1s"`
	IdleSweepInterval time.Duration `env:"GUILDVAULT_IDLE_SWEEP_INTERVAL" envDefault:"5m"`
	AuditRetention    time.Duration `env:"GUILDVAULT_AUDIT_RETENTION" envDefault:"720h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The vault SQLite database path")
	fs.StringVar(&cfg.AuditPath, "audit-path", cfg.AuditPath, "The vault audit log path (empty disables auditing)")
	fs.IntVar(&cfg.FlushMaxEntries, "flush-max-entries", cfg.FlushMaxEntries, "Pending slot changes that force a flush")
	fs.DurationVar(&cfg.FlushMaxAge, "flush-max-age", cfg.FlushMaxAge, "Pending change age that forces a flush")
	fs.DurationVar(&cfg.IdleThreshold, "idle-threshold", cfg.IdleThreshold, "Viewer inactivity before a session is considered idle")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Background flush cadence")
	fs.DurationVar(&cfg.IdleSweepInterval, "idle-sweep-interval", cfg.IdleSweepInterval, "Idle session sweep cadence")
	fs.DurationVar(&cfg.AuditRetention, "audit-retention", cfg.AuditRetention, "How long audit entries are kept (0 disables pruning)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the vault service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceVault, func(context.Context) error {
		return vaultserver.Run(ctx, vaultserver.RuntimeConfig{
			DBPath:            cfg.DBPath,
			AuditPath:         cfg.AuditPath,
			FlushMaxEntries:   cfg.FlushMaxEntries,
			FlushMaxAge:       cfg.FlushMaxAge,
			IdleThreshold:     cfg.IdleThreshold,
			FlushInterval:     cfg.FlushInterval,
			IdleSweepInterval: cfg.IdleSweepInterval,
			AuditRetention:    cfg.AuditRetention,
		})
	})
}
