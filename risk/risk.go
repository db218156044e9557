package risk

import (
	"math"

	"github.com/jasoncarty/breakout-engine/config"
)

// CalcQty sizes a position so that losing the full stop distance costs at
// most maxRisk of equity. The result is floored to the exchange step size,
// rounded to the configured precision and zeroed when it falls below the
// broker minimum.
func CalcQty(equity, maxRisk, stopDistance float64, cfg config.StrategyConfig) float64 {
	if stopDistance <= 0 || equity <= 0 || maxRisk <= 0 {
		return 0
	}
	// Dollar risk per trade
	riskAmt := equity * maxRisk
	qty := riskAmt / stopDistance

	if cfg.StepSize > 0 {
		qty = math.Floor(qty/cfg.StepSize) * cfg.StepSize
	}
	if cfg.QuantityPrecision >= 0 {
		scale := math.Pow(10, float64(cfg.QuantityPrecision))
		qty = math.Floor(qty*scale) / scale
	}
	if qty < cfg.MinQty {
		return 0
	}
	return qty
}
