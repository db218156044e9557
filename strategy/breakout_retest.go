package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/evdnx/goti"
	"github.com/google/uuid"

	"github.com/jasoncarty/breakout-engine/config"
	"github.com/jasoncarty/breakout-engine/executor"
	"github.com/jasoncarty/breakout-engine/feed"
	"github.com/jasoncarty/breakout-engine/indicator"
	"github.com/jasoncarty/breakout-engine/logger"
	"github.com/jasoncarty/breakout-engine/metrics"
	"github.com/jasoncarty/breakout-engine/oracle"
	"github.com/jasoncarty/breakout-engine/recorder"
	"github.com/jasoncarty/breakout-engine/risk"
	"github.com/jasoncarty/breakout-engine/types"
)

// maxWindow bounds the bar history the machine retains. Two days of
// five-minute bars fit, which is what the prior-day range fallback needs.
const maxWindow = 600

// Predictor is the ML oracle surface the strategy depends on. The concrete
// client lives in the oracle package; tests inject fakes.
type Predictor interface {
	Enabled() bool
	Predict(ctx context.Context, f oracle.Features, side types.Side) oracle.Prediction
}

// BreakoutRetest trades breaks of the prior day's high or low, but only
// after the broken level has been retested and price has closed beyond the
// extreme reached since the break. The three-phase gate (break, retest,
// confirmed close) filters out most false breakouts; the swing extreme
// reached while waiting anchors the stop-loss.
type BreakoutRetest struct {
	*BaseStrategy

	calc   *risk.Calculator
	oracle Predictor
	rec    recorder.Recorder

	state      BreakoutState
	levels     DailyLevels
	swingPoint float64

	window  []types.Bar
	curDay  time.Time
	dayHigh float64
	dayLow  float64
	lastDailyFetch time.Time

	// open trade bookkeeping for exit recording
	openOrderID string
	openSL      float64
	openTP      float64
}

// NewBreakoutRetest wires the machine to its collaborators. oracle may be a
// disabled client; rec may be the no-op recorder.
func NewBreakoutRetest(symbol string, cfg config.StrategyConfig,
	exec executor.Executor, pred Predictor, rec recorder.Recorder,
	log logger.Logger) (*BreakoutRetest, error) {

	suiteFactory := func() (*goti.IndicatorSuite, error) {
		ic := goti.DefaultConfig()
		ic.ATSEMAperiod = cfg.ATSEMAperiod
		return goti.NewIndicatorSuiteWithConfig(ic)
	}
	base, err := NewBaseStrategy(symbol, cfg, exec, suiteFactory, log)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &BreakoutRetest{
		BaseStrategy: base,
		calc:         risk.NewCalculator(cfg),
		oracle:       pred,
		rec:          rec,
		state:        StateIdle,
	}, nil
}

// State returns the current machine state.
func (s *BreakoutRetest) State() BreakoutState { return s.state }

// Levels returns a copy of the tracked daily levels.
func (s *BreakoutRetest) Levels() DailyLevels { return s.levels }

// ProcessBar evaluates one completed bar. All work is synchronous; the
// driver must not call it concurrently.
func (s *BreakoutRetest) ProcessBar(b types.Bar) {
	metrics.BarsProcessed.Inc()

	s.window = append(s.window, b)
	if len(s.window) > maxWindow {
		s.window = s.window[len(s.window)-maxWindow:]
	}
	if err := s.Suite.Add(b.High, b.Low, b.Close, b.Volume); err != nil {
		// The suite only backs the optional confirmation filter; the
		// machine itself keeps running on raw bars.
		s.Log.Warn("suite_add_error", logger.Err(err))
	}
	s.recordPrice(b.Close)

	s.rollDay(b)
	s.manageOpenPosition(b)

	intent := s.evaluate(b)
	metrics.MachineState.Set(float64(s.state))
	if intent != nil {
		s.execute(b, intent)
	}
}

// rollDay maintains the calendar-day bookkeeping: the running extremes of
// the current day, the once-per-day refresh of the prior-day levels (which
// also forces a full state reset), and the hourly fallback re-fetch that
// repairs the levels without touching state if the day boundary was missed.
func (s *BreakoutRetest) rollDay(b types.Bar) {
	day := b.Time.UTC().Truncate(24 * time.Hour)
	switch {
	case s.curDay.IsZero():
		s.curDay = day
		s.dayHigh, s.dayLow = b.High, b.Low
	case day.After(s.curDay):
		s.levels.PrevDayHigh = s.dayHigh
		s.levels.PrevDayLow = s.dayLow
		s.curDay = day
		s.dayHigh, s.dayLow = b.High, b.Low
		s.resetToIdle("daily_reset")
	default:
		if b.High > s.dayHigh {
			s.dayHigh = b.High
		}
		if b.Low < s.dayLow {
			s.dayLow = b.Low
		}
	}

	if s.levels.PrevDayHigh == 0 || b.Time.Sub(s.lastDailyFetch) >= time.Hour {
		s.lastDailyFetch = b.Time
		if high, low, ok := feed.PreviousDayRange(s.window, b.Time.UTC()); ok {
			s.levels.PrevDayHigh = high
			s.levels.PrevDayLow = low
		}
	}
}

func (s *BreakoutRetest) resetToIdle(reason string) {
	if s.state != StateIdle {
		s.Log.Info("machine_reset",
			logger.String("from", s.state.String()),
			logger.String("reason", reason),
		)
	}
	s.state = StateIdle
	s.levels.resetTracking()
	s.swingPoint = 0
}

// evaluate runs one state transition for the just-closed bar and returns a
// trade intent when a confirmed close occurred.
func (s *BreakoutRetest) evaluate(b types.Bar) *types.TradeIntent {
	if s.levels.PrevDayHigh == 0 || s.levels.PrevDayLow == 0 {
		return nil // no prior-day levels yet
	}
	if len(s.window) < s.Cfg.LookbackBars {
		return nil
	}

	switch s.state {
	case StateIdle:
		s.scanForBreakout(b)

	case StateBullishBreakout:
		if b.Close > s.levels.PrevDayHigh+s.Cfg.Epsilon() {
			s.trackExtremes(b)
			s.state = StateWaitBullishRetest
		} else {
			// The close fell straight back through the level; the break
			// did not hold.
			s.resetToIdle("breakout_failed")
		}

	case StateBearishBreakout:
		if b.Close < s.levels.PrevDayLow-s.Cfg.Epsilon() {
			s.trackExtremes(b)
			s.state = StateWaitBearishRetest
		} else {
			s.resetToIdle("breakout_failed")
		}

	case StateWaitBullishRetest:
		s.trackExtremes(b)
		if b.Close <= s.levels.PrevDayHigh {
			s.swingPoint = s.levels.NewDayLow
			s.state = StateWaitBullishClose
			metrics.RetestsConfirmed.WithLabelValues("bullish").Inc()
			s.Log.Info("retest_confirmed",
				logger.String("direction", "bullish"),
				logger.Float64("swing_point", s.swingPoint),
			)
		}

	case StateWaitBearishRetest:
		s.trackExtremes(b)
		if b.Close >= s.levels.PrevDayLow {
			s.swingPoint = s.levels.NewDayHigh
			s.state = StateWaitBearishClose
			metrics.RetestsConfirmed.WithLabelValues("bearish").Inc()
			s.Log.Info("retest_confirmed",
				logger.String("direction", "bearish"),
				logger.Float64("swing_point", s.swingPoint),
			)
		}

	case StateWaitBullishClose:
		// A fresh opposite breakout always preempts a pending confirmation.
		if s.scanBreakout(types.Sell) {
			s.preempt(types.Sell, b)
			return nil
		}
		if b.Low < s.levels.NewDayLow {
			s.levels.NewDayLow = b.Low
			s.swingPoint = s.levels.NewDayLow
		}
		if b.Close > s.levels.NewDayHigh && s.closeConfirmed(types.Buy) {
			intent := &types.TradeIntent{
				Direction:   types.Buy,
				EntryPrice:  b.Close,
				StopAnchor:  s.levels.NewDayLow,
				ConfirmedAt: b.Time,
			}
			s.resetToIdle("intent_emitted")
			return intent
		}

	case StateWaitBearishClose:
		if s.scanBreakout(types.Buy) {
			s.preempt(types.Buy, b)
			return nil
		}
		if b.High > s.levels.NewDayHigh {
			s.levels.NewDayHigh = b.High
			s.swingPoint = s.levels.NewDayHigh
		}
		if b.Close < s.levels.NewDayLow && s.closeConfirmed(types.Sell) {
			intent := &types.TradeIntent{
				Direction:   types.Sell,
				EntryPrice:  b.Close,
				StopAnchor:  s.levels.NewDayHigh,
				ConfirmedAt: b.Time,
			}
			s.resetToIdle("intent_emitted")
			return intent
		}
	}
	return nil
}

// scanForBreakout runs the idle-state lookback scan in both directions and
// applies the configured priority when both match in the same pass.
func (s *BreakoutRetest) scanForBreakout(b types.Bar) {
	bull := s.scanBreakout(types.Buy)
	bear := s.scanBreakout(types.Sell)
	if bull && bear {
		if s.Cfg.Priority == config.BearishFirst {
			bull = false
		} else {
			bear = false
		}
	}
	switch {
	case bull:
		s.enterBreakout(types.Buy, b)
	case bear:
		s.enterBreakout(types.Sell, b)
	}
}

// scanBreakout reports whether any of the last LookbackBars closed bars
// closed beyond the prior-day level plus the noise buffer, scanning the
// most recent bar first and stopping at the first match.
func (s *BreakoutRetest) scanBreakout(side types.Side) bool {
	eps := s.Cfg.Epsilon()
	n := len(s.window)
	lookback := s.Cfg.LookbackBars
	if lookback > n {
		lookback = n
	}
	for i := n - 1; i >= n-lookback; i-- {
		c := s.window[i].Close
		if side == types.Buy && c > s.levels.PrevDayHigh+eps {
			return true
		}
		if side == types.Sell && c < s.levels.PrevDayLow-eps {
			return true
		}
	}
	return false
}

func (s *BreakoutRetest) enterBreakout(side types.Side, b types.Bar) {
	s.levels.NewDayHigh = b.High
	s.levels.NewDayLow = b.Low
	s.swingPoint = 0
	if side == types.Buy {
		s.state = StateBullishBreakout
	} else {
		s.state = StateBearishBreakout
	}
	metrics.BreakoutsDetected.WithLabelValues(directionLabel(side)).Inc()
	s.Log.Info("breakout_detected",
		logger.String("direction", directionLabel(side)),
		logger.Float64("prev_day_high", s.levels.PrevDayHigh),
		logger.Float64("prev_day_low", s.levels.PrevDayLow),
		logger.Float64("close", b.Close),
	)
}

// preempt abandons a pending confirmation in favour of a fresh breakout in
// the opposite direction, restarting tracking from the current bar.
func (s *BreakoutRetest) preempt(side types.Side, b types.Bar) {
	s.Log.Info("confirmation_preempted",
		logger.String("pending", s.state.String()),
		logger.String("new_direction", directionLabel(side)),
	)
	s.levels.resetTracking()
	s.swingPoint = 0
	s.enterBreakout(side, b)
}

// trackExtremes accumulates the extreme prices reached since the breakout.
func (s *BreakoutRetest) trackExtremes(b types.Bar) {
	if s.levels.NewDayHigh == 0 || b.High > s.levels.NewDayHigh {
		s.levels.NewDayHigh = b.High
	}
	if s.levels.NewDayLow == 0 || b.Low < s.levels.NewDayLow {
		s.levels.NewDayLow = b.Low
	}
}

// closeConfirmed applies the optional HMA momentum filter to a confirmed
// close. With the filter disabled every close confirmation passes.
func (s *BreakoutRetest) closeConfirmed(side types.Side) bool {
	if !s.Cfg.ConfirmWithHMA {
		return true
	}
	if side == types.Buy {
		conf := s.bullishFallback()
		if ok, err := s.Suite.GetHMA().IsBullishCrossover(); err == nil {
			conf = conf || ok
		}
		return conf
	}
	conf := s.bearishFallback()
	if ok, err := s.Suite.GetHMA().IsBearishCrossover(); err == nil {
		conf = conf || ok
	}
	return conf
}

func directionLabel(side types.Side) string {
	if side == types.Buy {
		return "bullish"
	}
	return "bearish"
}

// execute turns a trade intent into an order: ML gate, stop computation,
// position sizing, submission and recording. Every failure skips the trade
// and leaves the machine idle: a missed opportunity, never a fault.
func (s *BreakoutRetest) execute(b types.Bar, intent *types.TradeIntent) {
	metrics.IntentsEmitted.WithLabelValues(directionLabel(intent.Direction)).Inc()

	posQty, posAvg := s.Exec.Position(s.Symbol)
	if (intent.Direction == types.Buy && posQty > 0) ||
		(intent.Direction == types.Sell && posQty < 0) {
		s.Log.Info("intent_skipped_position_open",
			logger.String("direction", directionLabel(intent.Direction)))
		return
	}

	pred := s.consultOracle(b, intent)
	if pred.IsValid &&
		(pred.Probability < s.Cfg.MinProbability || pred.Confidence < s.Cfg.MinConfidence) {
		metrics.OrdersRejected.WithLabelValues("ml_gate").Inc()
		s.Log.Info("trade_skipped_ml_gate",
			logger.Float64("probability", pred.Probability),
			logger.Float64("confidence", pred.Confidence),
		)
		return
	}

	atr, _ := indicator.ATR(s.window, s.Cfg.ATRPeriod)
	levels, err := s.calc.Levels(intent.Direction, intent.EntryPrice, intent.StopAnchor, atr)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("invalid_stops").Inc()
		s.Log.Warn("stop_validation_failed", logger.Err(err))
		return
	}

	stopDist := intent.EntryPrice - levels.StopLoss
	if intent.Direction == types.Sell {
		stopDist = levels.StopLoss - intent.EntryPrice
	}
	qty := s.calcQty(stopDist)
	if qty <= 0 {
		metrics.OrdersRejected.WithLabelValues("qty_too_small").Inc()
		s.Log.Info("trade_skipped_qty", logger.Float64("stop_distance", stopDist))
		return
	}

	// Reverse an opposite position before entering. The replaced trade is
	// closed at the new entry price and its realized outcome recorded, so
	// every entry row has a matching exit row.
	if (intent.Direction == types.Buy && posQty < 0) ||
		(intent.Direction == types.Sell && posQty > 0) {
		s.closePosition(intent.EntryPrice, "breakout_retest_reverse")
		if s.openOrderID != "" {
			profit := (intent.EntryPrice - posAvg) * posQty
			s.OnOrderClosed(s.openOrderID, intent.EntryPrice, profit, intent.ConfirmedAt)
		}
	}

	o := types.Order{
		ID:         uuid.NewString(),
		Symbol:     s.Symbol,
		Side:       intent.Direction,
		Qty:        qty,
		Price:      intent.EntryPrice,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		Comment:    "breakout_retest",
	}
	if err := s.submitOrder(o, "breakout_retest"); err != nil {
		var be *executor.BrokerError
		if errors.As(err, &be) {
			metrics.OrdersRejected.WithLabelValues("broker").Inc()
		}
		return
	}
	s.openOrderID = o.ID
	s.openSL = levels.StopLoss
	s.openTP = levels.TakeProfit
	metrics.EquityGauge.Set(s.Exec.Equity())

	if err := s.rec.RecordTradeEntry(&recorder.TradeEntryRecord{
		Time:       intent.ConfirmedAt,
		OrderID:    o.ID,
		Symbol:     s.Symbol,
		Direction:  string(intent.Direction),
		Lots:       qty,
		EntryPrice: intent.EntryPrice,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		Comment:    o.Comment,
	}); err != nil {
		s.Log.Warn("record_trade_entry_failed", logger.Err(err))
	}
}

// consultOracle builds the feature vector and asks the ML oracle. A
// disabled oracle or a failed lookup yields an invalid prediction, which
// the caller treats as "no opinion" and falls back to the rule-based path.
func (s *BreakoutRetest) consultOracle(b types.Bar, intent *types.TradeIntent) oracle.Prediction {
	if s.oracle == nil || !s.oracle.Enabled() {
		return oracle.Prediction{}
	}
	feats := s.features(b)
	pred := s.oracle.Predict(context.Background(), feats, intent.Direction)

	featsJSON, err := json.Marshal(feats)
	if err != nil {
		featsJSON = []byte("{}")
	}
	if err := s.rec.RecordPrediction(&recorder.PredictionRecord{
		Time:         b.Time,
		Symbol:       s.Symbol,
		Direction:    string(intent.Direction),
		Probability:  pred.Probability,
		Confidence:   pred.Confidence,
		ModelType:    pred.ModelType,
		ModelKey:     pred.ModelKey,
		FeaturesJSON: string(featsJSON),
	}); err != nil {
		s.Log.Warn("record_prediction_failed", logger.Err(err))
	}
	if !pred.IsValid && pred.ErrorMessage != "" {
		s.Log.Warn("oracle_prediction_invalid",
			logger.String("error", pred.ErrorMessage))
	}
	return pred
}

// features assembles the oracle feature vector from the rolling window.
// Indicators that lack history contribute zero values.
func (s *BreakoutRetest) features(b types.Bar) oracle.Features {
	w := s.window
	f := oracle.Features{
		SessionHour: b.Time.UTC().Hour(),
		DayOfWeek:   int(b.Time.UTC().Weekday()),
		Month:       int(b.Time.UTC().Month()),
	}
	f.RSI, _ = indicator.RSI(w, 14)
	f.Stochastic, _ = indicator.Stochastic(w, 14)
	f.MACD, f.MACDSignal, _, _ = indicator.MACD(w, 12, 26, 9)
	f.BBUpper, _, f.BBLower, _ = indicator.Bollinger(w, 20, 2)
	f.WilliamsR, _ = indicator.WilliamsR(w, 14)
	f.CCI, _ = indicator.CCI(w, 20)
	f.Momentum, _ = indicator.Momentum(w, 10)
	f.ForceIndex, _ = indicator.ForceIndex(w, 13)
	f.VolumeRatio, _ = indicator.VolumeRatio(w, 20)
	f.PriceChange, _ = indicator.PriceChange(w, 5)
	rawVol, _ := indicator.Volatility(w, 20)
	f.Volatility = s.sanitizeVolatility(rawVol, b.Close)
	return f
}

// manageOpenPosition simulates stop-loss / take-profit fills against the
// completed bar's range and records the realized outcome. In a live
// deployment the broker does this server-side and the driver calls
// OnOrderClosed instead.
func (s *BreakoutRetest) manageOpenPosition(b types.Bar) {
	qty, avg := s.Exec.Position(s.Symbol)
	if qty == 0 || s.openOrderID == "" {
		return
	}
	var exit float64
	var ctx string
	if qty > 0 {
		switch {
		case s.openSL > 0 && b.Low <= s.openSL:
			exit, ctx = s.openSL, "stop_loss"
		case s.openTP > 0 && b.High >= s.openTP:
			exit, ctx = s.openTP, "take_profit"
		}
	} else {
		switch {
		case s.openSL > 0 && b.High >= s.openSL:
			exit, ctx = s.openSL, "stop_loss"
		case s.openTP > 0 && b.Low <= s.openTP:
			exit, ctx = s.openTP, "take_profit"
		}
	}
	if exit == 0 {
		return
	}
	profit := (exit - avg) * qty
	s.closePosition(exit, "breakout_retest_"+ctx)
	s.OnOrderClosed(s.openOrderID, exit, profit, b.Time)
	metrics.EquityGauge.Set(s.Exec.Equity())
}

// OnOrderClosed records the realized outcome of a filled order. Recorder
// failures are logged, never propagated.
func (s *BreakoutRetest) OnOrderClosed(orderID string, exitPrice, profit float64, at time.Time) {
	if err := s.rec.RecordTradeExit(&recorder.TradeExitRecord{
		Time:      at,
		OrderID:   orderID,
		ExitPrice: exitPrice,
		Profit:    profit,
	}); err != nil {
		s.Log.Warn("record_trade_exit_failed", logger.Err(err))
	}
	if orderID == s.openOrderID {
		s.openOrderID = ""
		s.openSL, s.openTP = 0, 0
	}
	s.Log.Info("trade_closed",
		logger.String("order_id", orderID),
		logger.Float64("exit_price", exitPrice),
		logger.Float64("profit", profit),
	)
}
