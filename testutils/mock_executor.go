package testutils

import (
	"math"
	"sync"

	"github.com/jasoncarty/breakout-engine/types"
)

// MockExecutor implements the Executor interface in-memory.
type MockExecutor struct {
	mu        sync.RWMutex
	equity    float64
	positions map[string]float64 // qty (signed)
	avgPrice  map[string]float64
	orders    []types.Order // captured for assertions
	SubmitErr error         // when set, Submit fails with this error
}

// NewMockExecutor creates a fresh executor with the supplied starting equity.
func NewMockExecutor(startEquity float64) *MockExecutor {
	return &MockExecutor{
		equity:    startEquity,
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
	}
}

// Submit records the order and updates equity/position like PaperExecutor.
func (m *MockExecutor) Submit(o types.Order) error {
	if m.SubmitErr != nil {
		return m.SubmitErr
	}
	if o.Qty == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.positions[o.Symbol]
	cost := o.Price * o.Qty
	var pos float64
	if o.Side == types.Buy {
		m.equity -= cost
		pos = old + o.Qty
	} else { // Sell / short
		m.equity += cost
		pos = old - o.Qty
	}
	m.positions[o.Symbol] = pos

	// Volume-weighted entry price of the signed position: moves only when
	// exposure grows, restarts on a flip, stays positive for shorts.
	switch {
	case pos == 0:
		m.avgPrice[o.Symbol] = 0
	case old == 0 || (old > 0) != (pos > 0):
		m.avgPrice[o.Symbol] = o.Price
	case math.Abs(pos) > math.Abs(old):
		added := math.Abs(pos) - math.Abs(old)
		m.avgPrice[o.Symbol] = (m.avgPrice[o.Symbol]*math.Abs(old) + o.Price*added) / math.Abs(pos)
	}
	m.orders = append(m.orders, o)
	return nil
}

// Equity returns the current cash balance.
func (m *MockExecutor) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// Position returns qty & avg price for a symbol.
func (m *MockExecutor) Position(symbol string) (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol], m.avgPrice[symbol]
}

// Orders returns a copy of all submitted orders (useful for assertions).
func (m *MockExecutor) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}
