package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trendscope/config"
	"trendscope/internal/gateway"
	"trendscope/internal/logger"
	"trendscope/internal/metrics"
	redisstore "trendscope/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	base := config.Load()
	logger.Init("gateway", logger.ParseLevel(base.LogLevel))
	listenAddr := config.Env("GATEWAY_ADDR", ":8080")

	rdb, err := redisstore.Dial(redisstore.Config{
		Addr:     base.RedisAddr,
		Password: base.RedisPassword,
		DB:       base.RedisDB,
	})
	if err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	defer rdb.Close()
	log.Printf("[gateway] redis connected at %s", base.RedisAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)

	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, metrics.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}), nil, 10*time.Second)

	// Hub fans Redis pub/sub events out to WebSocket clients
	hub := gateway.NewHub(rdb, prom)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, health)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: listenAddr, Handler: mux}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[gateway] serving at http://localhost%s", listenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[gateway] shutting down...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
}
