// Package config loads shared infrastructure settings from the environment,
// after reading an optional .env file.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings every service shares.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreDriver string // "sqlite3" or "postgres"
	StoreDSN    string

	MetricsAddr string
	LogLevel    string
}

// Load reads .env files (if present; existing variables win) and then the
// environment.
func Load(envFiles ...string) *Config {
	LoadDotEnv(envFiles...)
	return &Config{
		RedisAddr:     Env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: Env("REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("REDIS_DB", 0),

		StoreDriver: Env("STORE_DRIVER", "sqlite3"),
		StoreDSN:    Env("STORE_DSN", "data/trend.db"),

		MetricsAddr: Env("METRICS_ADDR", ":9090"),
		LogLevel:    Env("LOG_LEVEL", "info"),
	}
}

// LoadDotEnv loads the given files, or ".env" when none are given. Missing
// files are skipped.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Printf("[config] %s: %v", f, err)
		}
	}
}

// Env returns the variable or fallback when unset or empty.
func Env(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// MustEnv exits when the variable is unset.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

// EnvInt parses an integer variable, falling back on error.
func EnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// EnvDuration parses a duration variable such as "30s".
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

// EnvList splits a comma-separated variable, dropping empty items.
func EnvList(key, fallback string) []string {
	parts := strings.Split(Env(key, fallback), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
