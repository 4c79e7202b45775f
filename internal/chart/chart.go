// Package chart keeps the bar history of one instrument and timeframe and
// drives the extremum detector attached to it.
package chart

import (
	"errors"
	"fmt"

	"trendscope/internal/extremum"
	"trendscope/internal/model"
)

// ErrOutOfOrder is returned when a finalized bar is not newer than the last
// one in the chart.
var ErrOutOfOrder = errors.New("chart: bar out of order")

// Chart is a bar series plus an optional extremum detector. Like the
// detector it is not safe for concurrent use.
type Chart struct {
	series model.Series
	bars   []model.Bar
	now    *model.Bar

	detector *extremum.Detector
}

// New builds a chart from finalized bars, which must have valid prices and
// strictly increasing timestamps.
func New(s model.Series, bars []model.Bar) (*Chart, error) {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("chart %s: bar %d: %w", s, i, err)
		}
		if i > 0 && b.TS <= bars[i-1].TS {
			return nil, fmt.Errorf("chart %s: bar %d ts %d after %d: %w", s, i, b.TS, bars[i-1].TS, ErrOutOfOrder)
		}
	}
	return &Chart{series: s, bars: append([]model.Bar(nil), bars...)}, nil
}

func (c *Chart) Series() model.Series { return c.series }

// Bars returns the finalized bars, oldest first. The slice must not be
// modified.
func (c *Chart) Bars() []model.Bar { return c.bars[:len(c.bars):len(c.bars)] }

// Len returns the number of finalized bars.
func (c *Chart) Len() int { return len(c.bars) }

// Bar returns the n-th bar counting back from the newest: 0 is the forming
// now-bar, 1 the last finalized bar.
func (c *Chart) Bar(n int) (model.Bar, bool) {
	if n == 0 {
		return c.Now()
	}
	if n < 0 || n > len(c.bars) {
		return model.Bar{}, false
	}
	return c.bars[len(c.bars)-n], true
}

func (c *Chart) First() (model.Bar, bool) {
	if len(c.bars) == 0 {
		return model.Bar{}, false
	}
	return c.bars[0], true
}

func (c *Chart) Last() (model.Bar, bool) { return c.Bar(1) }

// Now returns the forming bar, if any.
func (c *Chart) Now() (model.Bar, bool) {
	if c.now == nil {
		return model.Bar{}, false
	}
	return *c.now, true
}

// LastPrice is the close of the now-bar, or of the last finalized bar when
// nothing is forming.
func (c *Chart) LastPrice() (float64, bool) {
	if c.now != nil {
		return c.now.Close, true
	}
	if b, ok := c.Last(); ok {
		return b.Close, true
	}
	return 0, false
}

// Select returns the finalized bars with from <= TS <= till.
func (c *Chart) Select(from, till int64) []model.Bar {
	return model.SelectBars(c.bars, from, till)
}

// BarAt returns the finalized bar opened at exactly ts.
func (c *Chart) BarAt(ts int64) (model.Bar, bool) {
	i, ok := model.BisectLeft(c.bars, ts)
	if !ok || c.bars[i].TS != ts {
		return model.Bar{}, false
	}
	return c.bars[i], true
}

// AttachDetector creates a detector seeded from the current history.
func (c *Chart) AttachDetector() *extremum.Detector {
	d := extremum.New()
	d.Init(c.bars)
	c.detector = d
	return d
}

// AttachRestored installs a detector restored from a snapshot. It fails
// unless the detector has consumed exactly the chart's history.
func (c *Chart) AttachRestored(d *extremum.Detector) error {
	var last int64
	if b, ok := c.Last(); ok {
		last = b.TS
	}
	if d.Seeded() != (len(c.bars) > 0) || d.LastTS() != last {
		return fmt.Errorf("chart %s: detector at ts %d, chart at %d", c.series, d.LastTS(), last)
	}
	c.detector = d
	return nil
}

// Detector returns the attached detector or nil.
func (c *Chart) Detector() *extremum.Detector { return c.detector }

// Append adds a finalized bar and updates the detector. A now-bar at or
// before the new bar is dropped.
func (c *Chart) Append(b model.Bar) (extremum.UpdateStats, error) {
	if err := b.Validate(); err != nil {
		return extremum.UpdateStats{}, fmt.Errorf("chart %s: %w", c.series, err)
	}
	if last, ok := c.Last(); ok && b.TS <= last.TS {
		return extremum.UpdateStats{}, fmt.Errorf("chart %s: ts %d not after %d: %w", c.series, b.TS, last.TS, ErrOutOfOrder)
	}
	if c.now != nil && c.now.TS <= b.TS {
		c.now = nil
	}
	c.bars = append(c.bars, b)
	return c.updateDetector(), nil
}

// AddBar feeds a real-time bar. A bar with the now-bar's timestamp replaces
// it; a newer one finalizes the now-bar, updates the detector and becomes
// the new now-bar. Bars older than the now-bar are ignored.
func (c *Chart) AddBar(b model.Bar) (extremum.UpdateStats, error) {
	if err := b.Validate(); err != nil {
		return extremum.UpdateStats{}, fmt.Errorf("chart %s: %w", c.series, err)
	}
	if c.now == nil {
		if last, ok := c.Last(); ok && b.TS <= last.TS {
			return extremum.UpdateStats{}, fmt.Errorf("chart %s: ts %d not after %d: %w", c.series, b.TS, last.TS, ErrOutOfOrder)
		}
		c.now = &b
		return extremum.UpdateStats{}, nil
	}

	switch {
	case b.TS == c.now.TS:
		c.now = &b
		return extremum.UpdateStats{}, nil
	case b.TS > c.now.TS:
		c.bars = append(c.bars, *c.now)
		c.now = &b
		return c.updateDetector(), nil
	}
	return extremum.UpdateStats{}, nil
}

// SetNow replaces the forming bar without finalizing anything. Bars fed
// this way come from a live feed whose finalized copy arrives through Append.
func (c *Chart) SetNow(b model.Bar) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("chart %s: %w", c.series, err)
	}
	if last, ok := c.Last(); ok && b.TS <= last.TS {
		return fmt.Errorf("chart %s: ts %d not after %d: %w", c.series, b.TS, last.TS, ErrOutOfOrder)
	}
	c.now = &b
	return nil
}

func (c *Chart) updateDetector() extremum.UpdateStats {
	d := c.detector
	if d == nil {
		return extremum.UpdateStats{}
	}
	if !d.Seeded() {
		d.Init(c.bars)
		return extremum.UpdateStats{Bars: len(c.bars)}
	}
	return d.Update(c.bars)
}
