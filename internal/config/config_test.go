package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("APP_ENV", "production") // skip .env lookup
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE", StoreMemory)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()
	if cfg.Store != StoreMemory || cfg.Port != "8080" || !cfg.Production() {
		t.Fatalf("cfg %+v", cfg)
	}
	if cfg.Engine.LockTimeout != 3*time.Second || cfg.Engine.CancelLockWindow != time.Hour {
		t.Fatalf("engine defaults %+v", cfg.Engine)
	}
	if cfg.Engine.Workers != 4 || cfg.Engine.SameDayPenaltyPercent != 50 {
		t.Fatalf("engine defaults %+v", cfg.Engine)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("WORKERS", "9")
	t.Setenv("SETTLE_INTERVAL", "0s")
	cfg := Load()
	if cfg.Engine.LockTimeout != 750*time.Millisecond || cfg.Engine.Workers != 9 || cfg.Engine.SettleInterval != 0 {
		t.Fatalf("overrides not applied: %+v", cfg.Engine)
	}
}

func TestRateLimitNormalize(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	rl := LoadRateLimitConfig()
	if rl.Capacity != 1 || rl.TTL != 50*time.Second {
		t.Fatalf("rl %+v", rl)
	}
	if w := LoadWriteRateLimitConfig(); w.Prefix != "rlw" || w.Capacity != 10 {
		t.Fatalf("write rl %+v", w)
	}
}

func TestCacheConfig(t *testing.T) {
	c := LoadCacheConfig()
	if !c.Enabled || c.TTL != 2*time.Second || !c.Methods["GET"] || c.MaxBodyBytes != 1<<20 {
		t.Fatalf("cache defaults %+v", c)
	}
	t.Setenv("CACHE_METHODS", "get, head")
	t.Setenv("CACHE_TTL", "0s")
	c = LoadCacheConfig()
	if !c.Methods["HEAD"] || !c.Methods["GET"] {
		t.Fatalf("methods %v", c.Methods)
	}
	if c.Enabled {
		t.Fatal("zero ttl should disable the cache")
	}
}

func TestWriterLockDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE", StoreMySQL)
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "badminton")
	cfg := Load()
	if cfg.WriterLockName != "badminton-sessions.writer" || cfg.WriterLockWait != 5*time.Second || cfg.WriterLockCheck != 5*time.Second {
		t.Fatalf("writer lock %q %s %s", cfg.WriterLockName, cfg.WriterLockWait, cfg.WriterLockCheck)
	}
}
