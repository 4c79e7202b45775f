package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeFrame is the bar width of a chart.
type TimeFrame string

const (
	TF1M    TimeFrame = "1M"
	TF10M   TimeFrame = "10M"
	TF1H    TimeFrame = "1H"
	TFDay   TimeFrame = "D"
	TFWeek  TimeFrame = "W"
	TFMonth TimeFrame = "M"
)

// TimeFrames lists the supported timeframes from shortest to longest.
var TimeFrames = []TimeFrame{TF1M, TF10M, TF1H, TFDay, TFWeek, TFMonth}

// ParseTimeFrame accepts the canonical names, case-insensitively for the
// intraday ones ("1m", "10m", "1h").
func ParseTimeFrame(s string) (TimeFrame, error) {
	for _, tf := range TimeFrames {
		if s == string(tf) {
			return tf, nil
		}
	}
	switch strings.ToUpper(s) {
	case "1M":
		return TF1M, nil
	case "10M":
		return TF10M, nil
	case "1H":
		return TF1H, nil
	}
	return "", fmt.Errorf("model: unknown timeframe %q", s)
}

// Duration returns the nominal bar width. Months are counted as 30 days.
func (tf TimeFrame) Duration() time.Duration {
	switch tf {
	case TF1M:
		return time.Minute
	case TF10M:
		return 10 * time.Minute
	case TF1H:
		return time.Hour
	case TFDay:
		return 24 * time.Hour
	case TFWeek:
		return 7 * 24 * time.Hour
	case TFMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}
