// Package indicator implements the small set of rolling-window calculations
// the engine needs: ATR for stop sizing plus the oscillators that make up
// the ML oracle feature vector. All functions take a chronological slice of
// bars (most recent last) and degrade to (0, false) when history is too
// short, so callers can skip a cycle instead of handling errors.
package indicator

import (
	"math"

	"github.com/jasoncarty/breakout-engine/types"
)

// ATR returns the average true range over the last period bars.
func ATR(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(period), true
}

func trueRange(b types.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if d := math.Abs(b.High - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(b.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// RSI returns the relative strength index over the last period changes.
func RSI(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := len(bars) - period; i < len(bars); i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// MACD returns the MACD line, signal line and histogram using the standard
// 12/26/9 EMA periods unless overridden.
func MACD(bars []types.Bar, fast, slow, signal int) (macd, sig, hist float64, ok bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(bars) < slow+signal {
		return 0, 0, 0, false
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sigSeries := emaSeries(line[slow-1:], signal)
	macd = line[len(line)-1]
	sig = sigSeries[len(sigSeries)-1]
	return macd, sig, macd - sig, true
}

// emaSeries computes an EMA over the whole series, seeded with the SMA of
// the first period values.
func emaSeries(vals []float64, period int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1)
	seed := 0.0
	n := period
	if n > len(vals) {
		n = len(vals)
	}
	for i := 0; i < n; i++ {
		seed += vals[i]
		out[i] = seed / float64(i+1)
	}
	prev := out[n-1]
	for i := n; i < len(vals); i++ {
		prev = vals[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// Bollinger returns the upper, middle and lower band for the given period
// and standard-deviation multiplier.
func Bollinger(bars []types.Bar, period int, dev float64) (upper, middle, lower float64, ok bool) {
	if period <= 1 || len(bars) < period {
		return 0, 0, 0, false
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	middle = sum / float64(period)
	variance := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		d := bars[i].Close - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return middle + dev*sd, middle, middle - dev*sd, true
}

// WilliamsR returns Williams %R over the last period bars, in [-100, 0].
func WilliamsR(bars []types.Bar, period int) (float64, bool) {
	hh, ll, ok := highLow(bars, period)
	if !ok || hh == ll {
		return 0, false
	}
	c := bars[len(bars)-1].Close
	return (hh - c) / (hh - ll) * -100, true
}

// Stochastic returns the %K value over the last period bars, in [0, 100].
func Stochastic(bars []types.Bar, period int) (float64, bool) {
	hh, ll, ok := highLow(bars, period)
	if !ok || hh == ll {
		return 0, false
	}
	c := bars[len(bars)-1].Close
	return (c - ll) / (hh - ll) * 100, true
}

func highLow(bars []types.Bar, period int) (hh, ll float64, ok bool) {
	if period <= 0 || len(bars) < period {
		return 0, 0, false
	}
	hh = math.Inf(-1)
	ll = math.Inf(1)
	for i := len(bars) - period; i < len(bars); i++ {
		if bars[i].High > hh {
			hh = bars[i].High
		}
		if bars[i].Low < ll {
			ll = bars[i].Low
		}
	}
	return hh, ll, true
}

// CCI returns the commodity channel index over the last period bars.
func CCI(bars []types.Bar, period int) (float64, bool) {
	if period <= 1 || len(bars) < period {
		return 0, false
	}
	tp := make([]float64, period)
	sum := 0.0
	for i := 0; i < period; i++ {
		b := bars[len(bars)-period+i]
		tp[i] = (b.High + b.Low + b.Close) / 3
		sum += tp[i]
	}
	sma := sum / float64(period)
	md := 0.0
	for _, v := range tp {
		md += math.Abs(v - sma)
	}
	md /= float64(period)
	if md == 0 {
		return 0, false
	}
	return (tp[period-1] - sma) / (0.015 * md), true
}

// Momentum returns close minus the close period bars ago.
func Momentum(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	return bars[len(bars)-1].Close - bars[len(bars)-1-period].Close, true
}

// ForceIndex returns the EMA-smoothed force index (price change x volume).
func ForceIndex(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	raw := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		raw = append(raw, (bars[i].Close-bars[i-1].Close)*bars[i].Volume)
	}
	series := emaSeries(raw, period)
	return series[len(series)-1], true
}

// VolumeRatio returns the last bar's volume relative to the average volume
// of the preceding period bars.
func VolumeRatio(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := len(bars) - 1 - period; i < len(bars)-1; i++ {
		sum += bars[i].Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Volume / avg, true
}

// PriceChange returns the percent change of close over the last period bars.
func PriceChange(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	base := bars[len(bars)-1-period].Close
	if base == 0 {
		return 0, false
	}
	return (bars[len(bars)-1].Close - base) / base * 100, true
}

// Volatility returns the standard deviation of closes over the last period
// bars.
func Volatility(bars []types.Bar, period int) (float64, bool) {
	if period <= 1 || len(bars) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	mean := sum / float64(period)
	variance := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		d := bars[i].Close - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period)), true
}
