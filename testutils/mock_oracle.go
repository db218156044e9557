package testutils

import (
	"context"

	"github.com/jasoncarty/breakout-engine/oracle"
	"github.com/jasoncarty/breakout-engine/recorder"
	"github.com/jasoncarty/breakout-engine/types"
)

// MockOracle returns a canned prediction and remembers what it was asked.
type MockOracle struct {
	Disabled   bool
	Prediction oracle.Prediction
	Requests   []oracle.Features
	Sides      []types.Side
}

func (m *MockOracle) Enabled() bool { return !m.Disabled }

func (m *MockOracle) Predict(_ context.Context, f oracle.Features, side types.Side) oracle.Prediction {
	m.Requests = append(m.Requests, f)
	m.Sides = append(m.Sides, side)
	return m.Prediction
}

// SpyRecorder captures every record call in-memory.
type SpyRecorder struct {
	Predictions []recorder.PredictionRecord
	Entries     []recorder.TradeEntryRecord
	Exits       []recorder.TradeExitRecord
	Err         error // when set, every call fails with this error
}

func (s *SpyRecorder) RecordPrediction(r *recorder.PredictionRecord) error {
	if s.Err != nil {
		return s.Err
	}
	s.Predictions = append(s.Predictions, *r)
	return nil
}

func (s *SpyRecorder) RecordTradeEntry(r *recorder.TradeEntryRecord) error {
	if s.Err != nil {
		return s.Err
	}
	s.Entries = append(s.Entries, *r)
	return nil
}

func (s *SpyRecorder) RecordTradeExit(r *recorder.TradeExitRecord) error {
	if s.Err != nil {
		return s.Err
	}
	s.Exits = append(s.Exits, *r)
	return nil
}

func (s *SpyRecorder) Close() error { return nil }
