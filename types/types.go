package types

import "time"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Bar is a single completed OHLCV candle.
type Bar struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Time   time.Time
}

type Order struct {
	ID         string // client order id, assigned by the executor if empty
	Symbol     string
	Side       Side
	Qty        float64
	Price      float64 // limit price; 0 = market
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
	// meta
	Comment string
}

// TradeIntent is emitted by the breakout-retest machine once a level break
// has been retested and confirmed by a momentum close. It carries the swing
// extreme reached since the breakout, which anchors the stop-loss. Intents
// are transient: consumed by the stop calculator in the same cycle, never
// persisted.
type TradeIntent struct {
	Direction   Side
	EntryPrice  float64
	StopAnchor  float64
	ConfirmedAt time.Time
}

// StopLevels are absolute stop-loss / take-profit prices, already validated
// against broker minimum-distance and side-correctness rules.
type StopLevels struct {
	StopLoss   float64
	TakeProfit float64
}
