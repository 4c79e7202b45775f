package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Pinger is satisfied by *redis.Client wrappers and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthStatus tracks dependency and pipeline health.
type HealthStatus struct {
	mu sync.RWMutex

	StartedAt      time.Time
	RedisConnected bool
	RedisLatencyMs float64
	StoreOK        bool
	StoreLatencyMs float64
	LastBarTime    time.Time
	Charts         int
	LastCheckAt    time.Time
}

// NewHealthStatus returns a status with both dependencies assumed up until
// the first check says otherwise.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), RedisConnected: true, StoreOK: true}
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetCharts(n int) {
	h.mu.Lock()
	h.Charts = n
	h.mu.Unlock()
}

// Check pings redis and store (either may be nil) and records latency and
// connectivity.
func (h *HealthStatus) Check(ctx context.Context, redis, store Pinger) {
	if redis != nil {
		start := time.Now()
		err := redis.PingContext(ctx)
		lat := time.Since(start)
		h.mu.Lock()
		h.RedisConnected = err == nil
		h.RedisLatencyMs = float64(lat.Microseconds()) / 1000.0
		h.mu.Unlock()
	}
	if store != nil {
		start := time.Now()
		err := store.PingContext(ctx)
		lat := time.Since(start)
		h.mu.Lock()
		h.StoreOK = err == nil
		h.StoreLatencyMs = float64(lat.Microseconds()) / 1000.0
		h.mu.Unlock()
	}
	h.mu.Lock()
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs Check every interval until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, store Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx, redis, store)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.RedisConnected || !h.StoreOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.StoreOK {
		overall = "unhealthy"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		StoreOK        bool    `json:"store_ok"`
		StoreLatencyMs float64 `json:"store_latency_ms"`
		LastBarAge     string  `json:"last_bar_age"`
		Charts         int     `json:"charts"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overall,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		LastBarAge:     barAge,
		Charts:         h.Charts,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
