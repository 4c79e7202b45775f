// Package engine runs the trend detection service: one chart and detector
// per instrument and timeframe, fed from Redis bar streams, with events
// published back to Redis and state checkpointed to Redis and SQL.
package engine

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"trendscope/internal/chart"
	"trendscope/internal/metrics"
	"trendscope/internal/model"
	"trendscope/internal/notification"
	redisstore "trendscope/internal/store/redis"
	"trendscope/internal/store/sqlstore"
)

// snapshotSource is one place detector snapshots are kept, tried in order
// on restore.
type snapshotSource struct {
	name  string
	store model.SnapshotStore
}

// Service is the top-level orchestrator of the trend engine. It wires all
// dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg    Config
	log    *slog.Logger
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	rdb       *goredis.Client
	reader    *redisstore.Reader
	writer    *redisstore.Writer
	publisher model.EventPublisher
	store     *sqlstore.Store
	snapshots []snapshotSource
	notifier  notification.Notifier

	// mu guards charts and everything reachable from them.
	mu        sync.RWMutex
	charts    map[model.Series]*chart.Chart
	lastSaved map[model.Series]int64

	barCh    chan model.BarMessage
	recordCh chan sqlstore.BarRecord
	streams  []string
	httpSrv  *http.Server
}

func newService(cfg Config, prom *metrics.Metrics, l *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		log:       l.With(slog.String("component", "engine")),
		prom:      prom,
		health:    metrics.NewHealthStatus(),
		charts:    make(map[model.Series]*chart.Chart),
		lastSaved: make(map[model.Series]int64),
		barCh:     make(chan model.BarMessage, 5000),
		recordCh:  make(chan sqlstore.BarRecord, 5000),
	}
}

// New connects to Redis and the SQL store and builds the publish and alert
// paths. Metrics are registered on reg.
func New(cfg Config, reg prometheus.Registerer, l *slog.Logger) (*Service, error) {
	svc := newService(cfg, metrics.NewMetrics(reg), l)

	var err error
	svc.rdb, err = redisstore.Dial(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	svc.reader = redisstore.NewReader(svc.rdb, cfg.ConsumerGroup, cfg.ConsumerName)
	svc.writer = redisstore.NewWriter(svc.rdb)

	if cfg.StoreDriver == sqlstore.DriverSQLite {
		os.MkdirAll(filepath.Dir(cfg.StoreDSN), 0o755)
	}
	svc.store, err = sqlstore.Open(sqlstore.Config{Driver: cfg.StoreDriver, DSN: cfg.StoreDSN})
	if err != nil {
		svc.rdb.Close()
		return nil, err
	}
	svc.snapshots = []snapshotSource{{"redis", svc.writer}, {"sql", svc.store}}
	svc.publisher = svc.newPublisher()
	svc.notifier = svc.newNotifier()
	return svc, nil
}

func (svc *Service) newPublisher() *redisstore.BufferedPublisher {
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[engine] redis circuit breaker %s -> %s", from, to)
	}
	pub := redisstore.NewBufferedPublisher(svc.writer, cb, 0)
	pub.OnBuffer = func(n int) { svc.prom.RedisBufferedBatches.Set(float64(n)) }
	pub.OnFlush = func(int) { svc.prom.RedisBufferedBatches.Set(0) }
	return pub
}

func (svc *Service) newNotifier() notification.Notifier {
	ns := notification.Multi{notification.NewLogNotifier(svc.log)}
	if svc.cfg.WebhookURL != "" {
		ns = append(ns, notification.NewWebhookNotifier(svc.cfg.WebhookURL))
	}
	if svc.cfg.TelegramToken != "" && svc.cfg.TelegramChatID != "" {
		ns = append(ns, notification.NewTelegramNotifier(svc.cfg.TelegramToken, svc.cfg.TelegramChatID))
	}
	return ns
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[engine] starting trend engine...")

	// ---- Restore charts that already have history ----
	svc.warmUp(ctx)

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[engine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	if len(svc.streams) > 0 {
		if err := svc.reader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[engine] WARNING: consumer group setup: %v", err)
		}
		// ---- Recover pending messages ----
		go func() {
			if err := svc.reader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
				log.Printf("[engine] pending recovery error: %v", err)
			}
		}()
	}

	// ---- Start subsystems ----
	go svc.store.RunBars(ctx, svc.recordCh)
	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	svc.startLiveSubscriber(ctx)
	go svc.snapshotLoop(ctx)
	svc.health.StartLivenessChecker(ctx,
		metrics.PingFunc(func(ctx context.Context) error { return svc.rdb.Ping(ctx).Err() }),
		metrics.PingFunc(svc.store.Ping), 10*time.Second)
	svc.startHTTP()

	// ---- Startup banner ----
	log.Println("[engine] ╔════════════════════════════════════════════════════════╗")
	log.Println("[engine] ║  Trend Engine Active                                   ║")
	log.Println("[engine] ║                                                        ║")
	log.Println("[engine] ║  [Bar Streams] → [Extrema T1..T5] → [Redis Publish]    ║")
	log.Printf("[engine] ║  Snapshot checkpoint every %-28s║", svc.cfg.SnapshotInterval)
	log.Printf("[engine] ║  TFs: %-49v║", svc.cfg.TimeFrames)
	log.Println("[engine] ╚════════════════════════════════════════════════════════╝")
	log.Println("[engine] ✅ all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()

	// ---- Graceful shutdown ----
	svc.shutdown()
	return nil
}

// shutdown saves a final checkpoint and closes connections.
func (svc *Service) shutdown() {
	log.Println("[engine] shutdown signal received, saving final checkpoint...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if svc.httpSrv != nil {
		svc.httpSrv.Shutdown(shutCtx)
	}
	n := svc.checkpoint(shutCtx)
	log.Printf("[engine] final checkpoint saved (%d charts)", n)

	if svc.store != nil {
		svc.store.Close()
	}
	if svc.writer != nil {
		svc.writer.Close()
	}
	log.Println("[engine] shutdown complete.")
}

// buildStreams constructs the bar stream names from the configured
// instruments, or discovers them when none are configured.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.Instruments) > 0 {
		var streams []string
		for _, s := range svc.cfg.seriesList() {
			streams = append(streams, s.BarStreamKey())
		}
		return streams
	}
	streams, err := svc.reader.DiscoverBarStreams(ctx, svc.cfg.TimeFrames)
	if err != nil {
		log.Printf("[engine] stream discovery failed: %v", err)
	}
	return streams
}

// warmUp restores every chart the SQL store has bars for, plus the
// configured ones, before consumption starts.
func (svc *Service) warmUp(ctx context.Context) {
	series := svc.cfg.seriesList()
	if svc.store != nil {
		stored, err := svc.store.ListSeries(ctx)
		if err != nil {
			log.Printf("[engine] list stored series: %v", err)
		}
		series = append(series, stored...)
	}
	for _, s := range series {
		if !svc.enabled(s.TF) {
			continue
		}
		if _, err := svc.chartFor(ctx, s); err != nil {
			svc.log.Error("restore chart", slog.String("series", s.String()), slog.Any("err", err))
		}
	}
	log.Printf("[engine] restored %d charts", svc.chartCount())
}

func (svc *Service) enabled(tf model.TimeFrame) bool {
	if len(svc.cfg.TimeFrames) == 0 {
		return true
	}
	for _, x := range svc.cfg.TimeFrames {
		if x == tf {
			return true
		}
	}
	return false
}

// Health returns the status served on /healthz.
func (svc *Service) Health() *metrics.HealthStatus { return svc.health }

func (svc *Service) chartCount() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.charts)
}
