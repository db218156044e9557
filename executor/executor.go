package executor

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/jasoncarty/breakout-engine/types"
)

// Broker rejection codes, mirroring the usual retail-broker numbering.
const (
	CodeInvalidOrder   = 3
	CodeInvalidStops   = 130
	CodeNotEnoughMoney = 134
)

// BrokerError is a typed order rejection carrying the broker code. The
// engine logs it and moves on; there is no in-cycle retry.
type BrokerError struct {
	Code   int
	Reason string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.Code, e.Reason)
}

type Executor interface {
	Submit(o types.Order) error
	// For back-testing we expose the portfolio state
	Equity() float64
	Position(symbol string) (qty float64, avgPrice float64)
}

// PaperExecutor is a simple paper-trader: perfect fills, no slippage. It
// enforces the same stop-placement rules a real broker would, so the replay
// driver exercises the full validation path.
type PaperExecutor struct {
	equity    float64
	positions map[string]float64 // qty (positive = long, negative = short)
	avgPrice  map[string]float64
	fills     []types.Order
}

func NewPaperExecutor(startEquity float64) *PaperExecutor {
	return &PaperExecutor{
		equity:    startEquity,
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
	}
}

// validateStops rejects orders whose stop-loss or take-profit sits on the
// wrong side of the fill price.
func validateStops(o types.Order) error {
	if o.StopLoss == 0 && o.TakeProfit == 0 {
		return nil
	}
	if o.Side == types.Buy {
		if o.StopLoss != 0 && o.StopLoss >= o.Price {
			return &BrokerError{Code: CodeInvalidStops, Reason: "buy stop-loss not below price"}
		}
		if o.TakeProfit != 0 && o.TakeProfit <= o.Price {
			return &BrokerError{Code: CodeInvalidStops, Reason: "buy take-profit not above price"}
		}
		return nil
	}
	if o.StopLoss != 0 && o.StopLoss <= o.Price {
		return &BrokerError{Code: CodeInvalidStops, Reason: "sell stop-loss not above price"}
	}
	if o.TakeProfit != 0 && o.TakeProfit >= o.Price {
		return &BrokerError{Code: CodeInvalidStops, Reason: "sell take-profit not below price"}
	}
	return nil
}

func (p *PaperExecutor) Submit(o types.Order) error {
	if o.Qty <= 0 {
		return &BrokerError{Code: CodeInvalidOrder, Reason: "non-positive quantity"}
	}
	if err := validateStops(o); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	cost := o.Price * o.Qty
	old := p.positions[o.Symbol]
	var pos float64
	if o.Side == types.Buy {
		if cost > p.equity {
			return &BrokerError{Code: CodeNotEnoughMoney, Reason: "insufficient cash"}
		}
		p.equity -= cost
		pos = old + o.Qty
	} else { // Sell / short
		p.equity += cost
		pos = old - o.Qty
	}
	p.positions[o.Symbol] = pos
	p.avgPrice[o.Symbol] = nextAvgPrice(p.avgPrice[o.Symbol], old, pos, o.Price)
	p.fills = append(p.fills, o)
	return nil
}

// nextAvgPrice maintains the volume-weighted entry price of a signed
// position. The average only moves when a fill increases exposure; fills
// that reduce or flip the position keep (or restart) it, so it is always a
// positive entry price for longs and shorts alike.
func nextAvgPrice(avg, old, pos, price float64) float64 {
	switch {
	case pos == 0:
		return 0
	case old == 0 || (old > 0) != (pos > 0):
		return price
	case math.Abs(pos) > math.Abs(old):
		added := math.Abs(pos) - math.Abs(old)
		return (avg*math.Abs(old) + price*added) / math.Abs(pos)
	}
	return avg
}

func (p *PaperExecutor) Equity() float64 { return p.equity }

func (p *PaperExecutor) Position(sym string) (float64, float64) {
	return p.positions[sym], p.avgPrice[sym]
}

// Fills returns every accepted order, in submission order.
func (p *PaperExecutor) Fills() []types.Order {
	out := make([]types.Order, len(p.fills))
	copy(out, p.fills)
	return out
}
