package strategy

import (
	"math"

	"github.com/evdnx/goti"

	"github.com/jasoncarty/breakout-engine/config"
	"github.com/jasoncarty/breakout-engine/executor"
	"github.com/jasoncarty/breakout-engine/logger"
	"github.com/jasoncarty/breakout-engine/metrics"
	"github.com/jasoncarty/breakout-engine/risk"
	"github.com/jasoncarty/breakout-engine/types"
)

// BaseStrategy bundles the common dependencies and helpers.
type BaseStrategy struct {
	Exec   executor.Executor
	Log    logger.Logger
	Cfg    config.StrategyConfig
	Suite  *goti.IndicatorSuite
	Symbol string
	prices *priceBuffer
}

// NewBaseStrategy creates the indicator suite (using the supplied factory)
// and validates the config. Concrete strategies call this from their own
// constructors.
func NewBaseStrategy(symbol string, cfg config.StrategyConfig,
	exec executor.Executor,
	suiteFactory func() (*goti.IndicatorSuite, error),
	log logger.Logger) (*BaseStrategy, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	suite, err := suiteFactory()
	if err != nil {
		return nil, err
	}
	return &BaseStrategy{
		Exec:   exec,
		Log:    log,
		Cfg:    cfg,
		Suite:  suite,
		Symbol: symbol,
		prices: newPriceBuffer(64),
	}, nil
}

// submitOrder is a thin wrapper that records metrics and logs.
func (b *BaseStrategy) submitOrder(o types.Order, ctx string) error {
	err := b.Exec.Submit(o)
	if err != nil {
		b.Log.Error("order_submit_failed",
			logger.String("symbol", o.Symbol),
			logger.String("side", string(o.Side)),
			logger.Float64("qty", o.Qty),
			logger.Err(err),
		)
		return err
	}
	b.Log.Info("order_submitted",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.Float64("stop_loss", o.StopLoss),
		logger.Float64("take_profit", o.TakeProfit),
		logger.String("ctx", ctx),
	)
	metrics.OrdersSubmitted.WithLabelValues(ctx).Inc()
	return nil
}

// calcQty delegates to the risk package using the stored config.
func (b *BaseStrategy) calcQty(stopDistance float64) float64 {
	return risk.CalcQty(b.Exec.Equity(), b.Cfg.MaxRiskPerTrade, stopDistance, b.Cfg)
}

// closePosition flattens the current position at the supplied price.
func (b *BaseStrategy) closePosition(price float64, ctx string) {
	qty, _ := b.Exec.Position(b.Symbol)
	if qty == 0 {
		return
	}
	side := types.Sell
	if qty < 0 {
		side = types.Buy
	}
	o := types.Order{
		Symbol:  b.Symbol,
		Side:    side,
		Qty:     math.Abs(qty),
		Price:   price,
		Comment: ctx,
	}
	_ = b.submitOrder(o, ctx)
}

func (b *BaseStrategy) recordPrice(close float64) {
	if b.prices != nil {
		b.prices.Add(close)
	}
}

func (b *BaseStrategy) bullishFallback() bool {
	if b.prices == nil || b.prices.Len() < 3 {
		return false
	}
	return b.prices.Trend() > 0 && b.prices.Slope() > 0
}

func (b *BaseStrategy) bearishFallback() bool {
	if b.prices == nil || b.prices.Len() < 3 {
		return false
	}
	return b.prices.Trend() < 0 && b.prices.Slope() < 0
}

func (b *BaseStrategy) swingVolatility() float64 {
	if b.prices == nil {
		return 0
	}
	return b.prices.Volatility()
}

func (b *BaseStrategy) sanitizeVolatility(raw, price float64) float64 {
	if price <= 0 {
		price = 1
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 || raw > price*0.1 {
		fallback := b.swingVolatility()
		if fallback <= 0 {
			fallback = price * 0.02
		}
		return math.Max(fallback, 0.0001)
	}
	return raw
}
