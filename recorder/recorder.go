// Package recorder persists predictions and realized trade outcomes for
// offline model retraining. Calls are fire-and-forget from the trading
// path's perspective: the strategy logs failures and moves on.
package recorder

import "time"

// PredictionRecord captures one oracle lookup together with the feature
// vector that produced it.
type PredictionRecord struct {
	Time         time.Time
	Symbol       string
	Direction    string
	Probability  float64
	Confidence   float64
	ModelType    string
	ModelKey     string
	FeaturesJSON string
}

// TradeEntryRecord captures a filled entry order.
type TradeEntryRecord struct {
	Time       time.Time
	OrderID    string
	Symbol     string
	Direction  string
	Lots       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// TradeExitRecord captures the realized outcome of a trade.
type TradeExitRecord struct {
	Time      time.Time
	OrderID   string
	ExitPrice float64
	Profit    float64
}

// Recorder persists engine output for later analysis.
type Recorder interface {
	RecordPrediction(rec *PredictionRecord) error
	RecordTradeEntry(rec *TradeEntryRecord) error
	RecordTradeExit(rec *TradeExitRecord) error
	Close() error
}

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordPrediction(_ *PredictionRecord) error { return nil }
func (n *NoopRecorder) RecordTradeEntry(_ *TradeEntryRecord) error { return nil }
func (n *NoopRecorder) RecordTradeExit(_ *TradeExitRecord) error   { return nil }
func (n *NoopRecorder) Close() error                               { return nil }
