package engine

import (
	"log"
	"time"

	"trendscope/config"
	"trendscope/internal/model"
)

// Config holds all env-parsed configuration of the trend engine service.
type Config struct {
	*config.Config

	ConsumerGroup string
	ConsumerName  string
	TimeFrames    []model.TimeFrame
	Instruments   []string // "EXCHANGE:TICKER"; empty means discover streams

	SnapshotInterval time.Duration
	HTTPAddr         string
	PELInterval      time.Duration
	PELMinIdle       time.Duration

	AlertMinTerm   int
	WebhookURL     string
	TelegramToken  string
	TelegramChatID string
}

// LoadConfig reads the engine variables on top of the shared ones.
func LoadConfig(base *config.Config) Config {
	return Config{
		Config:           base,
		ConsumerGroup:    config.Env("CONSUMER_GROUP", "trendengine"),
		ConsumerName:     config.Env("CONSUMER_NAME", "worker-1"),
		TimeFrames:       parseTimeFrames(config.EnvList("ENABLED_TFS", "1M,10M,1H,D")),
		Instruments:      config.EnvList("INSTRUMENTS", ""),
		SnapshotInterval: config.EnvDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		HTTPAddr:         config.Env("ENGINE_HTTP_ADDR", ":9095"),
		PELInterval:      config.EnvDuration("PEL_RECLAIM_INTERVAL", 30*time.Second),
		PELMinIdle:       config.EnvDuration("PEL_MIN_IDLE", time.Minute),
		AlertMinTerm:     config.EnvInt("ALERT_MIN_TERM", 3),
		WebhookURL:       config.Env("ALERT_WEBHOOK_URL", ""),
		TelegramToken:    config.Env("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   config.Env("TELEGRAM_CHAT_ID", ""),
	}
}

func parseTimeFrames(items []string) []model.TimeFrame {
	tfs := make([]model.TimeFrame, 0, len(items))
	for _, s := range items {
		tf, err := model.ParseTimeFrame(s)
		if err != nil {
			log.Printf("[engine] skipping timeframe %q: %v", s, err)
			continue
		}
		tfs = append(tfs, tf)
	}
	return tfs
}

// seriesList expands the configured instruments over the timeframes.
func (c Config) seriesList() []model.Series {
	out := make([]model.Series, 0, len(c.Instruments)*len(c.TimeFrames))
	for _, tf := range c.TimeFrames {
		for _, instr := range c.Instruments {
			out = append(out, model.Series{Instrument: instr, TF: tf})
		}
	}
	return out
}
