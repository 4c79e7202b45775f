// Package redis moves bars and detector events through Redis: bar streams
// consumed with consumer groups, event streams with latest-value keys and
// pub/sub fan-out, and detector snapshots as plain keys.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config addresses a Redis server.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Dial connects and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// SnapshotKey returns the key holding the latest detector snapshot of a
// series: "extr:snapshot:{tf}:{instrument}".
func SnapshotKey(tf, instrument string) string {
	return "extr:snapshot:" + tf + ":" + instrument
}

// LiveBarChannel returns the pub/sub channel for forming bars:
// "pub:bar:{tf}:{instrument}".
func LiveBarChannel(tf, instrument string) string {
	return "pub:bar:" + tf + ":" + instrument
}

// Event channel patterns, for PSUBSCRIBE.
const (
	ExtremumChannelPattern = "pub:extr:*"
	TrendChannelPattern    = "pub:trend:*"
	LiveBarChannelPattern  = "pub:bar:*"
	barStreamPattern       = "bar:*"
)

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
