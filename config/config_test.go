package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("STORE_DRIVER", "")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.RedisAddr != "localhost:6379" || cfg.StoreDriver != "sqlite3" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	data := "REDIS_ADDR=redis:6380\nSTORE_DRIVER=postgres\nREDIS_DB=3\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORE_DRIVER", "sqlite3")
	// Unset so the file value applies; t.Setenv restores it afterwards.
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")
	t.Setenv("REDIS_DB", "")
	os.Unsetenv("REDIS_DB")

	cfg := Load(path)
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("RedisAddr = %q, want value from file", cfg.RedisAddr)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d", cfg.RedisDB)
	}
	if cfg.StoreDriver != "sqlite3" {
		t.Errorf("StoreDriver = %q, environment must win", cfg.StoreDriver)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "45s")
	t.Setenv("X_LIST", " D, 1H ,,W ")
	if EnvInt("X_INT", 7) != 7 {
		t.Error("bad int should fall back")
	}
	if EnvDuration("X_DUR", time.Second) != 45*time.Second {
		t.Error("duration not parsed")
	}
	got := EnvList("X_LIST", "")
	if len(got) != 3 || got[0] != "D" || got[1] != "1H" || got[2] != "W" {
		t.Errorf("EnvList = %q", got)
	}
}
