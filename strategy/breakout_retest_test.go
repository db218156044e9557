package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/jasoncarty/breakout-engine/config"
	"github.com/jasoncarty/breakout-engine/oracle"
	"github.com/jasoncarty/breakout-engine/testutils"
	"github.com/jasoncarty/breakout-engine/types"
)

func mkBar(day, hour int, open, high, low, close float64) types.Bar {
	return types.Bar{
		Time:   time.Date(2025, 6, day, hour, 0, 0, 0, time.UTC),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 1000,
	}
}

// day1Bars covers 2025-06-02 with extremes 1.1000 / 1.0900, so the machine
// starts 2025-06-03 with PrevDayHigh=1.1000 and PrevDayLow=1.0900.
func day1Bars() []types.Bar {
	bars := make([]types.Bar, 12)
	for h := 0; h < 12; h++ {
		bars[h] = mkBar(2, h, 1.0950, 1.0960, 1.0940, 1.0950)
	}
	bars[3].High = 1.1000
	bars[8].Low = 1.0900
	return bars
}

func buildMachine(t *testing.T, pred oracle.Prediction) (*BreakoutRetest, *testutils.MockExecutor, *testutils.MockOracle, *testutils.SpyRecorder) {
	t.Helper()
	cfg := config.DefaultStrategyConfig()
	cfg.ConfirmWithHMA = false

	exec := testutils.NewMockExecutor(10_000)
	orc := &testutils.MockOracle{Prediction: pred}
	rec := &testutils.SpyRecorder{}
	log := testutils.NewMockLogger()

	m, err := NewBreakoutRetest(cfg.Symbol, cfg, exec, orc, rec, log)
	if err != nil {
		t.Fatalf("NewBreakoutRetest failed: %v", err)
	}
	return m, exec, orc, rec
}

func feedBars(m *BreakoutRetest, bars []types.Bar) {
	for _, b := range bars {
		m.ProcessBar(b)
	}
}

func confident() oracle.Prediction {
	return oracle.Prediction{IsValid: true, Probability: 0.9, Confidence: 0.9}
}

/*
-----------------------------------------------------------------------
Scenario: the full bullish sequence.
previousDayHigh=1.1000, epsilon=0.0005.
Bar closes 1.1006 -> BullishBreakoutDetected. Next close 1.1010 stays
above the threshold -> newDayHigh=1.1010, WaitingBullishRetest. Close
1.0998 retests the level -> WaitingBullishClose, swing=newDayLow. Close
1.1012 exceeds newDayHigh -> a BUY intent fires and the machine returns
to Idle.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_BullishSequence(t *testing.T) {
	m, exec, orc, rec := buildMachine(t, confident())
	feedBars(m, day1Bars())

	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950)) // day roll
	lv := m.Levels()
	if lv.PrevDayHigh != 1.1000 || lv.PrevDayLow != 1.0900 {
		t.Fatalf("prev-day levels = %+v, want 1.1000/1.0900", lv)
	}

	m.ProcessBar(mkBar(3, 1, 1.1000, 1.1006, 1.0996, 1.1006))
	if m.State() != StateBullishBreakout {
		t.Fatalf("state = %v, want bullish breakout", m.State())
	}

	m.ProcessBar(mkBar(3, 2, 1.1006, 1.1010, 1.1002, 1.1010))
	if m.State() != StateWaitBullishRetest {
		t.Fatalf("state = %v, want waiting bullish retest", m.State())
	}
	if m.Levels().NewDayHigh != 1.1010 {
		t.Fatalf("NewDayHigh = %v, want 1.1010", m.Levels().NewDayHigh)
	}

	m.ProcessBar(mkBar(3, 3, 1.1000, 1.1001, 1.0995, 1.0998))
	if m.State() != StateWaitBullishClose {
		t.Fatalf("state = %v, want waiting bullish close", m.State())
	}
	if m.Levels().NewDayLow != 1.0995 {
		t.Fatalf("NewDayLow = %v, want 1.0995", m.Levels().NewDayLow)
	}

	m.ProcessBar(mkBar(3, 4, 1.1002, 1.1012, 1.1001, 1.1012))
	if m.State() != StateIdle {
		t.Fatalf("state after confirmation = %v, want idle", m.State())
	}

	orders := exec.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(orders))
	}
	o := orders[0]
	if o.Side != types.Buy {
		t.Fatalf("side = %v, want BUY", o.Side)
	}
	if o.Price != 1.1012 {
		t.Fatalf("entry = %v, want 1.1012", o.Price)
	}
	// Anchor distance (17 pips) widens to the 20-pip class minimum.
	if math.Abs(o.StopLoss-1.0992) > 1e-9 {
		t.Fatalf("stop-loss = %v, want 1.0992", o.StopLoss)
	}
	if o.TakeProfit <= o.Price {
		t.Fatalf("take-profit %v must exceed entry %v", o.TakeProfit, o.Price)
	}
	if o.Qty <= 0 {
		t.Fatalf("qty = %v, want > 0", o.Qty)
	}

	if len(orc.Sides) != 1 || orc.Sides[0] != types.Buy {
		t.Fatalf("oracle consulted with %v, want one BUY", orc.Sides)
	}
	if len(rec.Predictions) != 1 || len(rec.Entries) != 1 {
		t.Fatalf("recorder calls = %d predictions / %d entries, want 1/1",
			len(rec.Predictions), len(rec.Entries))
	}
	if rec.Entries[0].StopLoss != o.StopLoss {
		t.Fatalf("recorded stop %v != order stop %v", rec.Entries[0].StopLoss, o.StopLoss)
	}
}

/*
-----------------------------------------------------------------------
Scenario: the mirrored bearish sequence emits a SELL with the stop
anchored at the swing high reached since the break.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_BearishSequence(t *testing.T) {
	m, exec, _, _ := buildMachine(t, confident())
	feedBars(m, day1Bars())

	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	m.ProcessBar(mkBar(3, 1, 1.0900, 1.0903, 1.0893, 1.0893))
	if m.State() != StateBearishBreakout {
		t.Fatalf("state = %v, want bearish breakout", m.State())
	}
	m.ProcessBar(mkBar(3, 2, 1.0893, 1.0893, 1.0890, 1.0890))
	if m.State() != StateWaitBearishRetest {
		t.Fatalf("state = %v, want waiting bearish retest", m.State())
	}
	m.ProcessBar(mkBar(3, 3, 1.0896, 1.0905, 1.0895, 1.0902))
	if m.State() != StateWaitBearishClose {
		t.Fatalf("state = %v, want waiting bearish close", m.State())
	}
	if m.Levels().NewDayHigh != 1.0905 {
		t.Fatalf("NewDayHigh = %v, want 1.0905", m.Levels().NewDayHigh)
	}
	m.ProcessBar(mkBar(3, 4, 1.0900, 1.0903, 1.0885, 1.0885))
	if m.State() != StateIdle {
		t.Fatalf("state = %v, want idle after emission", m.State())
	}

	orders := exec.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected one SELL order, got %d", len(orders))
	}
	o := orders[0]
	if o.Side != types.Sell {
		t.Fatalf("side = %v, want SELL", o.Side)
	}
	if math.Abs(o.StopLoss-1.0905) > 1e-9 {
		t.Fatalf("stop-loss = %v, want anchored 1.0905", o.StopLoss)
	}
	if o.TakeProfit >= o.Price {
		t.Fatalf("sell take-profit %v must be below entry %v", o.TakeProfit, o.Price)
	}
}

/*
-----------------------------------------------------------------------
No retest, no trade: a breakout that runs away without pulling back to
the broken level must never emit an intent.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_NoRetestNoTrade(t *testing.T) {
	m, exec, _, _ := buildMachine(t, confident())
	feedBars(m, day1Bars())

	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	closes := []float64{1.1006, 1.1010, 1.1015, 1.1020, 1.1025, 1.1030}
	for i, c := range closes {
		m.ProcessBar(mkBar(3, i+1, c-0.0004, c, c-0.0008, c))
	}
	if m.State() != StateWaitBullishRetest {
		t.Fatalf("state = %v, want still waiting for retest", m.State())
	}
	if len(exec.Orders()) != 0 {
		t.Fatalf("expected no orders without a retest, got %d", len(exec.Orders()))
	}
}

/*
-----------------------------------------------------------------------
An opposite-direction breakout while waiting for the bullish close
preempts the pending confirmation and restarts tracking bearish.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_OppositeBreakoutPreempts(t *testing.T) {
	m, exec, _, _ := buildMachine(t, confident())
	feedBars(m, day1Bars())

	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	m.ProcessBar(mkBar(3, 1, 1.1000, 1.1006, 1.0996, 1.1006))
	m.ProcessBar(mkBar(3, 2, 1.1006, 1.1010, 1.1002, 1.1010))
	m.ProcessBar(mkBar(3, 3, 1.1000, 1.1001, 1.0995, 1.0998))
	if m.State() != StateWaitBullishClose {
		t.Fatalf("setup failed, state = %v", m.State())
	}

	m.ProcessBar(mkBar(3, 4, 1.0895, 1.0900, 1.0890, 1.0893))
	if m.State() != StateBearishBreakout {
		t.Fatalf("state = %v, want preempted into bearish breakout", m.State())
	}
	if m.Levels().NewDayHigh != 1.0900 || m.Levels().NewDayLow != 1.0890 {
		t.Fatalf("tracking not restarted: %+v", m.Levels())
	}
	if len(exec.Orders()) != 0 {
		t.Fatalf("preemption must not trade, got %d orders", len(exec.Orders()))
	}
}

/*
-----------------------------------------------------------------------
The swing low is monotonically non-increasing while waiting for the
bullish close.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_SwingLowMonotone(t *testing.T) {
	m, exec, _, _ := buildMachine(t, confident())
	feedBars(m, day1Bars())

	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	m.ProcessBar(mkBar(3, 1, 1.1000, 1.1006, 1.0996, 1.1006))
	m.ProcessBar(mkBar(3, 2, 1.1006, 1.1010, 1.1002, 1.1010))
	m.ProcessBar(mkBar(3, 3, 1.1000, 1.1001, 1.0995, 1.0998))

	lows := []float64{1.0993, 1.0996, 1.0990, 1.0994}
	prev := m.Levels().NewDayLow
	for i, l := range lows {
		m.ProcessBar(mkBar(3, 4+i, 1.1000, 1.1005, l, 1.1002))
		cur := m.Levels().NewDayLow
		if cur > prev {
			t.Fatalf("bar %d: NewDayLow rose from %v to %v", i, prev, cur)
		}
		prev = cur
	}
	if len(exec.Orders()) != 0 {
		t.Fatalf("no confirmation close was fed, got %d orders", len(exec.Orders()))
	}
}

/*
-----------------------------------------------------------------------
ML gate: a valid prediction below the probability threshold skips the
trade; an invalid prediction (oracle down) falls back to the rule-based
path and trades.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_MLGateBlocks(t *testing.T) {
	m, exec, _, rec := buildMachine(t, oracle.Prediction{
		IsValid: true, Probability: 0.2, Confidence: 0.9,
	})
	runBullishSequence(m)

	if len(exec.Orders()) != 0 {
		t.Fatalf("low-probability prediction must skip the trade, got %d orders", len(exec.Orders()))
	}
	if len(rec.Predictions) != 1 {
		t.Fatalf("the prediction should still be recorded, got %d", len(rec.Predictions))
	}
	if m.State() != StateIdle {
		t.Fatalf("a skipped trade must still return to idle, state = %v", m.State())
	}
}

func TestBreakoutRetest_InvalidPredictionFallsBack(t *testing.T) {
	m, exec, _, _ := buildMachine(t, oracle.Prediction{
		IsValid: false, ErrorMessage: "timeout",
	})
	runBullishSequence(m)

	if len(exec.Orders()) != 1 {
		t.Fatalf("invalid prediction should fall back to the rule path, got %d orders", len(exec.Orders()))
	}
}

// runBullishSequence drives the machine through the full bullish scenario.
func runBullishSequence(m *BreakoutRetest) {
	feedBars(m, day1Bars())
	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	m.ProcessBar(mkBar(3, 1, 1.1000, 1.1006, 1.0996, 1.1006))
	m.ProcessBar(mkBar(3, 2, 1.1006, 1.1010, 1.1002, 1.1010))
	m.ProcessBar(mkBar(3, 3, 1.1000, 1.1001, 1.0995, 1.0998))
	m.ProcessBar(mkBar(3, 4, 1.1002, 1.1012, 1.1001, 1.1012))
}

/*
-----------------------------------------------------------------------
Daily reset: a new calendar day refreshes the prior-day levels from the
finished day and forces the machine back to Idle mid-sequence.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_DailyReset(t *testing.T) {
	m, _, _, _ := buildMachine(t, confident())
	feedBars(m, day1Bars())

	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	m.ProcessBar(mkBar(3, 1, 1.1000, 1.1006, 1.0996, 1.1006))
	m.ProcessBar(mkBar(3, 2, 1.1006, 1.1010, 1.1002, 1.1010))
	if m.State() != StateWaitBullishRetest {
		t.Fatalf("setup failed, state = %v", m.State())
	}

	m.ProcessBar(mkBar(4, 0, 1.1005, 1.1008, 1.1000, 1.1004))
	if m.State() != StateIdle {
		t.Fatalf("state = %v, want idle after day roll", m.State())
	}
	lv := m.Levels()
	if lv.PrevDayHigh != 1.1010 || lv.PrevDayLow != 1.0940 {
		t.Fatalf("prev-day levels = %+v, want 1.1010/1.0940", lv)
	}
	if lv.NewDayHigh != 0 || lv.NewDayLow != 0 {
		t.Fatalf("tracking fields should be cleared, got %+v", lv)
	}
}

/*
-----------------------------------------------------------------------
Stop-loss hit: the open trade is flattened at the stop price and the
realized loss is recorded.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_StopLossExitRecorded(t *testing.T) {
	m, exec, _, rec := buildMachine(t, confident())
	runBullishSequence(m)
	if len(exec.Orders()) != 1 {
		t.Fatalf("setup failed: %d orders", len(exec.Orders()))
	}
	entry := exec.Orders()[0]

	m.ProcessBar(mkBar(3, 5, 1.1000, 1.1000, 1.0985, 1.0990))

	orders := exec.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected the stop to close the position, got %d orders", len(orders))
	}
	if orders[1].Side != types.Sell || orders[1].Price != entry.StopLoss {
		t.Fatalf("exit order = %+v, want SELL at %v", orders[1], entry.StopLoss)
	}
	if len(rec.Exits) != 1 {
		t.Fatalf("expected one exit record, got %d", len(rec.Exits))
	}
	if rec.Exits[0].Profit >= 0 {
		t.Fatalf("a stop-out must realize a loss, got %v", rec.Exits[0].Profit)
	}
	if rec.Exits[0].OrderID != entry.ID {
		t.Fatalf("exit order id %q != entry id %q", rec.Exits[0].OrderID, entry.ID)
	}
}

// runBearishSequence drives the machine through the full bearish scenario.
func runBearishSequence(m *BreakoutRetest) {
	feedBars(m, day1Bars())
	m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
	m.ProcessBar(mkBar(3, 1, 1.0900, 1.0903, 1.0893, 1.0893))
	m.ProcessBar(mkBar(3, 2, 1.0893, 1.0893, 1.0890, 1.0890))
	m.ProcessBar(mkBar(3, 3, 1.0896, 1.0905, 1.0895, 1.0902))
	m.ProcessBar(mkBar(3, 4, 1.0900, 1.0903, 1.0885, 1.0885))
}

/*
-----------------------------------------------------------------------
Take-profit hit on a short: the position is covered at the take-profit
price and the realized gain is recorded with the right sign.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_TakeProfitExitShort(t *testing.T) {
	m, exec, _, rec := buildMachine(t, confident())
	runBearishSequence(m)
	if len(exec.Orders()) != 1 {
		t.Fatalf("setup failed: %d orders", len(exec.Orders()))
	}
	entry := exec.Orders()[0]
	if _, avg := exec.Position(entry.Symbol); avg != entry.Price {
		t.Fatalf("short entry average = %v, want %v", avg, entry.Price)
	}

	m.ProcessBar(mkBar(3, 5, 1.0880, 1.0885, 1.0800, 1.0810))

	orders := exec.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected the take-profit to cover the short, got %d orders", len(orders))
	}
	if orders[1].Side != types.Buy || orders[1].Price != entry.TakeProfit {
		t.Fatalf("exit order = %+v, want BUY at %v", orders[1], entry.TakeProfit)
	}
	if len(rec.Exits) != 1 {
		t.Fatalf("expected one exit record, got %d", len(rec.Exits))
	}
	want := (entry.Price - entry.TakeProfit) * entry.Qty
	if got := rec.Exits[0].Profit; got <= 0 || math.Abs(got-want) > 1e-6 {
		t.Fatalf("short take-profit recorded %v, want +%v", got, want)
	}
}

/*
-----------------------------------------------------------------------
Reversal: an opposite-direction intent with an open position closes the
old trade first and records its exit, so the replaced entry does not
dangle without an outcome.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_ReversalRecordsReplacedExit(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	cfg.ConfirmWithHMA = false
	// Wide stops so the long survives the bearish setup below it.
	cfg.MinStopPips = 200
	cfg.MaxStopPips = 300

	exec := testutils.NewMockExecutor(10_000)
	rec := &testutils.SpyRecorder{}
	m, err := NewBreakoutRetest(cfg.Symbol, cfg, exec,
		&testutils.MockOracle{Prediction: confident()}, rec, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("NewBreakoutRetest failed: %v", err)
	}

	runBullishSequence(m)
	if len(exec.Orders()) != 1 {
		t.Fatalf("setup failed: %d orders", len(exec.Orders()))
	}
	long := exec.Orders()[0]

	// Quiet bars age the bullish closes out of the lookback without
	// touching the wide stop.
	for h := 5; h <= 16; h++ {
		m.ProcessBar(mkBar(3, h, 1.0950, 1.0960, 1.0940, 1.0950))
	}
	m.ProcessBar(mkBar(3, 17, 1.0895, 1.0900, 1.0890, 1.0893))
	m.ProcessBar(mkBar(3, 18, 1.0893, 1.0893, 1.0890, 1.0890))
	m.ProcessBar(mkBar(3, 19, 1.0896, 1.0905, 1.0895, 1.0902))
	m.ProcessBar(mkBar(3, 20, 1.0900, 1.0903, 1.0885, 1.0885))

	orders := exec.Orders()
	if len(orders) != 3 {
		t.Fatalf("expected long entry, reversal close and short entry, got %d orders", len(orders))
	}
	if orders[1].Side != types.Sell || orders[1].Qty != long.Qty || orders[1].Price != 1.0885 {
		t.Fatalf("reversal close = %+v, want SELL %v at 1.0885", orders[1], long.Qty)
	}
	if orders[2].Side != types.Sell || orders[2].Qty <= 0 {
		t.Fatalf("short entry = %+v, want a SELL with positive qty", orders[2])
	}
	if len(rec.Entries) != 2 {
		t.Fatalf("expected two entry records, got %d", len(rec.Entries))
	}
	if len(rec.Exits) != 1 {
		t.Fatalf("expected the replaced trade's exit to be recorded, got %d", len(rec.Exits))
	}
	exit := rec.Exits[0]
	if exit.OrderID != long.ID || exit.ExitPrice != 1.0885 {
		t.Fatalf("exit = %+v, want order %q at 1.0885", exit, long.ID)
	}
	want := (1.0885 - long.Price) * long.Qty
	if math.Abs(exit.Profit-want) > 1e-6 {
		t.Fatalf("reversal profit = %v, want %v", exit.Profit, want)
	}
}

/*
-----------------------------------------------------------------------
Priority: when the lookback scan finds both directions in one pass the
configured priority decides. BearishFirst (the default) lets the
bearish match win.
-----------------------------------------------------------------------
*/
func TestBreakoutRetest_BothDirectionsPriority(t *testing.T) {
	for _, tc := range []struct {
		priority config.BreakoutPriority
		want     BreakoutState
	}{
		{config.BearishFirst, StateBearishBreakout},
		{config.BullishFirst, StateBullishBreakout},
	} {
		cfg := config.DefaultStrategyConfig()
		cfg.ConfirmWithHMA = false
		cfg.Priority = tc.priority

		exec := testutils.NewMockExecutor(10_000)
		m, err := NewBreakoutRetest(cfg.Symbol, cfg, exec,
			&testutils.MockOracle{Prediction: confident()},
			&testutils.SpyRecorder{}, testutils.NewMockLogger())
		if err != nil {
			t.Fatalf("NewBreakoutRetest failed: %v", err)
		}

		feedBars(m, day1Bars())
		m.ProcessBar(mkBar(3, 0, 1.0950, 1.0960, 1.0940, 1.0950))
		// A close above the prior-day high, then one below the prior-day
		// low. The second close fails the bullish hold check and resets the
		// machine, so the neutral third bar scans from Idle with both
		// breakouts inside the lookback.
		m.ProcessBar(mkBar(3, 1, 1.1000, 1.1008, 1.0996, 1.1006))
		m.ProcessBar(mkBar(3, 2, 1.0900, 1.0902, 1.0890, 1.0893))
		m.ProcessBar(mkBar(3, 3, 1.0950, 1.0955, 1.0945, 1.0950))

		if m.State() != tc.want {
			t.Fatalf("priority %s: state = %v, want %v", tc.priority, m.State(), tc.want)
		}
	}
}
