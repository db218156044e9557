// Package feed supplies OHLCV bars to the engine. Offsets follow the
// convention of the strategy runtime the engine was extracted from:
// 0 = current forming bar, 1 = most recently closed bar.
package feed

import (
	"errors"
	"time"

	"github.com/jasoncarty/breakout-engine/types"
)

var ErrNoBar = errors.New("feed: no bar at offset")

// Feed exposes historical bars by offset.
type Feed interface {
	// Bar returns the bar at the given offset (0 = forming, 1 = last closed).
	Bar(offset int) (types.Bar, error)
	// Len returns the number of bars currently held, the forming one included.
	Len() int
}

// Series is an in-memory Feed fed by appending bars as they complete. The
// most recently appended bar is treated as the forming bar (offset 0).
type Series struct {
	bars []types.Bar
}

func NewSeries(bars ...types.Bar) *Series {
	s := &Series{}
	s.bars = append(s.bars, bars...)
	return s
}

// Append adds a new bar to the series.
func (s *Series) Append(b types.Bar) {
	s.bars = append(s.bars, b)
}

func (s *Series) Bar(offset int) (types.Bar, error) {
	if offset < 0 || offset >= len(s.bars) {
		return types.Bar{}, ErrNoBar
	}
	return s.bars[len(s.bars)-1-offset], nil
}

func (s *Series) Len() int { return len(s.bars) }

// Bars returns the underlying chronological slice.
func (s *Series) Bars() []types.Bar { return s.bars }

// PreviousDayRange scans bars for the calendar day immediately before the
// day containing ref and returns that day's high and low. ok is false when
// the history holds no bar of that day.
func PreviousDayRange(bars []types.Bar, ref time.Time) (high, low float64, ok bool) {
	prev := ref.Truncate(24 * time.Hour).AddDate(0, 0, -1)
	for _, b := range bars {
		if !b.Time.Truncate(24 * time.Hour).Equal(prev) {
			continue
		}
		if !ok {
			high, low, ok = b.High, b.Low, true
			continue
		}
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low, ok
}
