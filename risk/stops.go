package risk

import (
	"errors"
	"fmt"

	"github.com/jasoncarty/breakout-engine/config"
	"github.com/jasoncarty/breakout-engine/types"
)

// ErrInvalidLevels marks a stop/take-profit combination that failed the
// pre-submission gate. A failed gate aborts the specific trade only; the
// caller logs the reason and the state machine re-arms on the next breakout.
var ErrInvalidLevels = errors.New("invalid stop levels")

// pipRange is the fallback distance table, in pips, used when ATR is
// disabled or unreadable. One row per instrument class.
type pipRange struct {
	minStop, maxStop float64
	minTP, maxTP     float64
}

var classPips = map[config.InstrumentClass]pipRange{
	config.ClassMajor:  {minStop: 20, maxStop: 50, minTP: 30, maxTP: 80},
	config.ClassJPY:    {minStop: 25, maxStop: 60, minTP: 35, maxTP: 90},
	config.ClassMetal:  {minStop: 50, maxStop: 150, minTP: 80, maxTP: 250},
	config.ClassCrypto: {minStop: 100, maxStop: 400, minTP: 150, maxTP: 600},
}

// Calculator converts a trade intent plus current volatility into absolute,
// broker-legal stop-loss and take-profit prices.
type Calculator struct {
	cfg config.StrategyConfig
}

func NewCalculator(cfg config.StrategyConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// ranges resolves the configured pip distances, falling back to the class
// table for any knob left at zero. Values are returned in price units.
func (c *Calculator) ranges() (minStop, maxStop, minTP, maxTP float64) {
	tbl, ok := classPips[c.cfg.Class]
	if !ok {
		tbl = classPips[config.ClassMajor]
	}
	pick := func(cfgVal, tblVal float64) float64 {
		if cfgVal > 0 {
			return cfgVal * c.cfg.PipSize
		}
		return tblVal * c.cfg.PipSize
	}
	return pick(c.cfg.MinStopPips, tbl.minStop),
		pick(c.cfg.MaxStopPips, tbl.maxStop),
		pick(c.cfg.MinTPPips, tbl.minTP),
		pick(c.cfg.MaxTPPips, tbl.maxTP)
}

// brokerFloor widens a distance (never narrows) to honour the broker stops
// level and the symbol minimum distance.
func (c *Calculator) brokerFloor(dist float64) float64 {
	if min := 2 * c.cfg.BrokerStopsLevel(); dist < min {
		dist = min
	}
	if dist < c.cfg.SymbolMinDistance {
		dist = c.cfg.SymbolMinDistance
	}
	return dist
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Levels computes stop-loss and take-profit prices for an entry.
//
// The stop distance comes from the first usable tier: the state machine's
// swing anchor (when it sits on the losing side of entry), then
// ATR x multiplier, then the fixed pip table. Every tier is clamped into
// the configured pip range and then widened to broker constraints. The
// result always passes the validation gate or an error is returned and no
// order may be submitted.
func (c *Calculator) Levels(side types.Side, entry, anchor, atr float64) (types.StopLevels, error) {
	if entry <= 0 {
		return types.StopLevels{}, fmt.Errorf("%w: non-positive entry %v", ErrInvalidLevels, entry)
	}
	minStop, maxStop, minTP, maxTP := c.ranges()

	// Stop distance tiers.
	var stopDist float64
	if anchorDist := anchorDistance(side, entry, anchor); anchorDist > 0 {
		stopDist = anchorDist
	} else if c.cfg.UseATRStops && atr > 0 {
		stopDist = atr * c.cfg.StopATRMultiplier
	} else {
		stopDist = minStop
	}
	stopDist = clamp(stopDist, minStop, maxStop)
	stopDist = c.brokerFloor(stopDist)

	// Take-profit distance.
	var tpDist float64
	if c.cfg.UseATRStops && atr > 0 {
		tpDist = atr * c.cfg.TPATRMultiplier
	} else {
		tpDist = minTP
	}
	tpDist = clamp(tpDist, minTP, maxTP)
	tpDist = c.brokerFloor(tpDist)

	var levels types.StopLevels
	if side == types.Buy {
		levels = types.StopLevels{StopLoss: entry - stopDist, TakeProfit: entry + tpDist}
	} else {
		levels = types.StopLevels{StopLoss: entry + stopDist, TakeProfit: entry - tpDist}
	}
	if err := c.Validate(side, entry, levels); err != nil {
		return types.StopLevels{}, err
	}
	return levels, nil
}

// anchorDistance returns the distance from entry to the swing anchor when
// the anchor is usable as a stop, otherwise 0.
func anchorDistance(side types.Side, entry, anchor float64) float64 {
	if anchor <= 0 {
		return 0
	}
	if side == types.Buy && anchor < entry {
		return entry - anchor
	}
	if side == types.Sell && anchor > entry {
		return anchor - entry
	}
	return 0
}

// Validate is the gate every order must pass before submission: stop-loss
// strictly on the losing side, take-profit strictly on the winning side,
// both at least the broker stops level away from entry.
func (c *Calculator) Validate(side types.Side, entry float64, levels types.StopLevels) error {
	minDist := c.cfg.BrokerStopsLevel()
	switch side {
	case types.Buy:
		if levels.StopLoss >= entry {
			return fmt.Errorf("%w: buy stop-loss %v not below entry %v", ErrInvalidLevels, levels.StopLoss, entry)
		}
		if levels.TakeProfit <= entry {
			return fmt.Errorf("%w: buy take-profit %v not above entry %v", ErrInvalidLevels, levels.TakeProfit, entry)
		}
		if entry-levels.StopLoss < minDist || levels.TakeProfit-entry < minDist {
			return fmt.Errorf("%w: level closer than broker minimum %v", ErrInvalidLevels, minDist)
		}
	case types.Sell:
		if levels.StopLoss <= entry {
			return fmt.Errorf("%w: sell stop-loss %v not above entry %v", ErrInvalidLevels, levels.StopLoss, entry)
		}
		if levels.TakeProfit >= entry {
			return fmt.Errorf("%w: sell take-profit %v not below entry %v", ErrInvalidLevels, levels.TakeProfit, entry)
		}
		if levels.StopLoss-entry < minDist || entry-levels.TakeProfit < minDist {
			return fmt.Errorf("%w: level closer than broker minimum %v", ErrInvalidLevels, minDist)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidLevels, side)
	}
	return nil
}
