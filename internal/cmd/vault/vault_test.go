package vault

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("vault", flag.ContinueOnError)
	t.Setenv("GUILDVAULT_DB_PATH", "/tmp/env-vault.db")
	t.Setenv("GUILDVAULT_FLUSH_MAX_ENTRIES", "9")

	cfg, err := ParseConfig(fs, []string{"-flush-max-age", "250ms", "-audit-path", ""})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "/tmp/env-vault.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "/tmp/env-vault.db")
	}
	if cfg.FlushMaxEntries != 9 {
		t.Fatalf("flush max entries = %d, want 9", cfg.FlushMaxEntries)
	}
	if cfg.FlushMaxAge != 250*time.Millisecond {
		t.Fatalf("flush max age = %v, want 250ms", cfg.FlushMaxAge)
	}
	if cfg.AuditPath != "" {
		t.Fatalf("audit path = %q, want empty (flag override)", cfg.AuditPath)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("vault", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/vault.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/vault.db")
	}
	if cfg.FlushMaxAge != time.Second {
		t.Fatalf("flush max age = %v, want 1s", cfg.FlushMaxAge)
	}
	if cfg.IdleThreshold != 5*time.Minute {
		t.Fatalf("idle threshold = %v, want 5m", cfg.IdleThreshold)
	}
	if cfg.IdleSweepInterval != 5*time.Minute {
		t.Fatalf("idle sweep interval = %v, want 5m", cfg.IdleSweepInterval)
	}
}
