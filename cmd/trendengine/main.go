package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trendscope/config"
	"trendscope/internal/engine"
	"trendscope/internal/logger"
	"trendscope/internal/metrics"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	base := config.Load()
	slogger := logger.Init("trendengine", logger.ParseLevel(base.LogLevel))

	cfg := engine.LoadConfig(base)
	log.Printf("[trendengine] enabled TFs: %v, snapshot interval: %s", cfg.TimeFrames, cfg.SnapshotInterval)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := engine.New(cfg, reg, slogger)
	if err != nil {
		log.Fatalf("[trendengine] init failed: %v", err)
	}

	ms := metrics.NewServer(base.MetricsAddr, reg, svc.Health())
	ms.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	runErr := svc.Run(ctx)

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	ms.Stop(stopCtx)
	stop()

	if runErr != nil {
		log.Fatalf("[trendengine] fatal: %v", runErr)
	}
}
