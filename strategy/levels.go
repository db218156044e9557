package strategy

// BreakoutState enumerates the phases of the breakout-retest machine.
// Direction-specific tracking fields (NewDay extremes, swing point) are
// meaningful only while the state is not Idle.
type BreakoutState int

const (
	StateIdle BreakoutState = iota
	StateBullishBreakout
	StateBearishBreakout
	StateWaitBullishRetest
	StateWaitBearishRetest
	StateWaitBullishClose
	StateWaitBearishClose
)

func (s BreakoutState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBullishBreakout:
		return "bullish_breakout"
	case StateBearishBreakout:
		return "bearish_breakout"
	case StateWaitBullishRetest:
		return "waiting_bullish_retest"
	case StateWaitBearishRetest:
		return "waiting_bearish_retest"
	case StateWaitBullishClose:
		return "waiting_bullish_close"
	case StateWaitBearishClose:
		return "waiting_bearish_close"
	}
	return "unknown"
}

// DailyLevels tracks the prior-day range being broken and the extremes
// reached since the most recent breakout. PrevDay values refresh once per
// calendar day (with an hourly re-fetch as fallback); NewDay values reset
// whenever the machine returns to Idle.
type DailyLevels struct {
	PrevDayHigh float64
	PrevDayLow  float64
	NewDayHigh  float64
	NewDayLow   float64
}

func (d *DailyLevels) resetTracking() {
	d.NewDayHigh = 0
	d.NewDayLow = 0
}
