package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// InstrumentClass selects the fallback pip table used when ATR-based stop
// sizing is disabled or ATR cannot be read.
type InstrumentClass string

const (
	ClassMajor  InstrumentClass = "major"
	ClassJPY    InstrumentClass = "jpy"
	ClassMetal  InstrumentClass = "metal"
	ClassCrypto InstrumentClass = "crypto"
)

// BreakoutPriority decides which direction wins when the lookback scan finds
// both a bullish and a bearish breakout in the same pass.
type BreakoutPriority string

const (
	// BearishFirst reproduces the original scan order, where the bearish
	// check ran second and overwrote an earlier bullish match.
	BearishFirst BreakoutPriority = "bearish_first"
	BullishFirst BreakoutPriority = "bullish_first"
)

// StrategyConfig holds all tunable parameters for the breakout-retest
// strategy and its risk calculator.
type StrategyConfig struct {
	Symbol string `yaml:"symbol"`

	// Instrument geometry.
	PointSize float64         `yaml:"point_size"` // smallest quote increment, e.g. 0.00001
	PipSize   float64         `yaml:"pip_size"`   // standard pip, e.g. 0.0001
	Class     InstrumentClass `yaml:"class"`

	// Breakout detection.
	EpsilonPoints float64          `yaml:"epsilon_points"` // noise buffer past the daily level, default 5
	LookbackBars  int              `yaml:"lookback_bars"`  // closed bars scanned for a break, default 10
	Priority      BreakoutPriority `yaml:"priority"`

	// Optional momentum confirmation on the closing leg.
	ConfirmWithHMA bool `yaml:"confirm_with_hma"`
	HMAPeriod      int  `yaml:"hma_period"`
	ATSEMAperiod   int  `yaml:"atso_ema_period"`

	// Stop / take-profit sizing.
	UseATRStops            bool    `yaml:"use_atr_stops"`
	ATRPeriod              int     `yaml:"atr_period"`
	StopATRMultiplier      float64 `yaml:"stop_atr_multiplier"`
	TPATRMultiplier        float64 `yaml:"tp_atr_multiplier"`
	MinStopPips            float64 `yaml:"min_stop_pips"` // 0 = per-class default
	MaxStopPips            float64 `yaml:"max_stop_pips"`
	MinTPPips              float64 `yaml:"min_tp_pips"`
	MaxTPPips              float64 `yaml:"max_tp_pips"`
	BrokerStopsLevelPoints float64 `yaml:"broker_stops_level_points"`
	SymbolMinDistance      float64 `yaml:"symbol_min_distance"` // absolute price distance

	// Position sizing.
	MaxRiskPerTrade   float64 `yaml:"max_risk_per_trade"` // e.g. 0.01 = 1 % of equity
	QuantityPrecision int     `yaml:"quantity_precision"`
	MinQty            float64 `yaml:"min_qty"`
	StepSize          float64 `yaml:"step_size"`

	// ML gate thresholds; a prediction below either skips the trade.
	MinProbability float64 `yaml:"min_probability"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

// Epsilon returns the breakout noise buffer in price units.
func (c *StrategyConfig) Epsilon() float64 {
	return c.EpsilonPoints * c.PointSize
}

// BrokerStopsLevel returns the broker minimum stop distance in price units.
func (c *StrategyConfig) BrokerStopsLevel() float64 {
	return c.BrokerStopsLevelPoints * c.PointSize
}

// Validate checks that all numeric fields are within sensible bounds.
// It returns the first encountered error, allowing the caller to surface a
// clear configuration problem before any trading starts.
func (c *StrategyConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("Symbol is required")
	}
	if c.PointSize <= 0 {
		return errors.New("PointSize must be positive")
	}
	if c.PipSize <= 0 {
		return errors.New("PipSize must be positive")
	}
	if c.EpsilonPoints < 0 {
		return errors.New("EpsilonPoints cannot be negative")
	}
	if c.LookbackBars <= 0 {
		return errors.New("LookbackBars must be positive")
	}
	switch c.Priority {
	case BearishFirst, BullishFirst:
	default:
		return fmt.Errorf("Priority %q must be %q or %q", c.Priority, BearishFirst, BullishFirst)
	}
	if c.ConfirmWithHMA {
		if c.HMAPeriod <= 0 {
			return errors.New("HMAPeriod must be positive")
		}
		if c.ATSEMAperiod <= 0 {
			return errors.New("ATSEMAperiod must be positive")
		}
	}
	if c.UseATRStops {
		if c.ATRPeriod <= 0 {
			return errors.New("ATRPeriod must be positive")
		}
		if c.StopATRMultiplier <= 0 {
			return errors.New("StopATRMultiplier must be positive")
		}
		if c.TPATRMultiplier <= 0 {
			return errors.New("TPATRMultiplier must be positive")
		}
	}
	if c.MinStopPips < 0 || c.MaxStopPips < 0 || c.MinTPPips < 0 || c.MaxTPPips < 0 {
		return errors.New("pip distances cannot be negative")
	}
	if c.MaxStopPips > 0 && c.MinStopPips > c.MaxStopPips {
		return errors.New("MinStopPips cannot exceed MaxStopPips")
	}
	if c.MaxTPPips > 0 && c.MinTPPips > c.MaxTPPips {
		return errors.New("MinTPPips cannot exceed MaxTPPips")
	}
	if c.BrokerStopsLevelPoints < 0 {
		return errors.New("BrokerStopsLevelPoints cannot be negative")
	}
	if c.SymbolMinDistance < 0 {
		return errors.New("SymbolMinDistance cannot be negative")
	}
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 0.5 {
		return fmt.Errorf("MaxRiskPerTrade (%f) must be >0 and <=0.5", c.MaxRiskPerTrade)
	}
	if c.QuantityPrecision < 0 {
		return errors.New("QuantityPrecision cannot be negative")
	}
	if c.MinQty < 0 {
		return errors.New("MinQty cannot be negative")
	}
	if c.StepSize <= 0 {
		return errors.New("StepSize must be positive")
	}
	if c.MinProbability < 0 || c.MinProbability > 1 {
		return errors.New("MinProbability must be within [0,1]")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.New("MinConfidence must be within [0,1]")
	}
	return nil
}

// DefaultStrategyConfig returns the knobs a EURUSD-style major runs with.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Symbol:                 "EURUSD",
		PointSize:              0.0001,
		PipSize:                0.0001,
		Class:                  ClassMajor,
		EpsilonPoints:          5,
		LookbackBars:           10,
		Priority:               BearishFirst,
		HMAPeriod:              9,
		ATSEMAperiod:           5,
		UseATRStops:            true,
		ATRPeriod:              14,
		StopATRMultiplier:      2.0,
		TPATRMultiplier:        3.0,
		BrokerStopsLevelPoints: 10,
		MaxRiskPerTrade:        0.01,
		QuantityPrecision:      2,
		MinQty:                 0.01,
		StepSize:               0.01,
		MinProbability:         0.55,
		MinConfidence:          0.3,
	}
}

// Duration is a time.Duration that unmarshals from humane YAML values like
// "5s" or "1500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the full engine configuration loaded from YAML.
type Config struct {
	Strategy StrategyConfig `yaml:"strategy"`
	Oracle   struct {
		URL       string   `yaml:"url"` // empty disables the ML gate
		Timeout   Duration `yaml:"timeout"`
		TimeoutMS int      `yaml:"timeout_ms"` // legacy knob, used when Timeout is zero
	} `yaml:"oracle"`
	Recorder struct {
		Path string `yaml:"path"` // sqlite file; empty = no-op recorder
	} `yaml:"recorder"`
	Metrics struct {
		Addr string `yaml:"addr"` // e.g. ":9102"; empty disables the endpoint
	} `yaml:"metrics"`
	Feed struct {
		CSVPath string `yaml:"csv_path"`
	} `yaml:"feed"`
	Executor struct {
		StartEquity float64 `yaml:"start_equity"`
	} `yaml:"executor"`
}

// OracleTimeout resolves the two timeout knobs into a single duration.
func (c *Config) OracleTimeout() time.Duration {
	if c.Oracle.Timeout > 0 {
		return time.Duration(c.Oracle.Timeout)
	}
	if c.Oracle.TimeoutMS > 0 {
		return time.Duration(c.Oracle.TimeoutMS) * time.Millisecond
	}
	return 5 * time.Second
}

// Load reads and parses a YAML configuration file, applying strategy
// defaults for unset fields and validating the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := &Config{Strategy: DefaultStrategyConfig()}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.Executor.StartEquity <= 0 {
		c.Executor.StartEquity = 10_000
	}
	if err := c.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables, so deployments can inject endpoints without editing the file.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		c.Oracle.URL = v
	}
	if v := os.Getenv("ORACLE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Oracle.TimeoutMS = ms
		}
	}
	if v := os.Getenv("RECORDER_PATH"); v != "" {
		c.Recorder.Path = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("SYMBOL"); v != "" {
		c.Strategy.Symbol = v
	}
	return c, nil
}
