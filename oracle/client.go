// Package oracle is the HTTP client for the external ML scoring service.
// The service is an opaque collaborator: it receives a feature vector and a
// trade direction and answers with a probability and confidence. Transport
// failures and timeouts never surface as errors to the trading path; they
// yield an invalid prediction, which the strategy treats as "no opinion".
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jasoncarty/breakout-engine/logger"
	"github.com/jasoncarty/breakout-engine/metrics"
	"github.com/jasoncarty/breakout-engine/types"
)

// Features is the vector sent to the scoring service.
type Features struct {
	RSI         float64 `json:"rsi"`
	Stochastic  float64 `json:"stochastic"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	BBUpper     float64 `json:"bb_upper"`
	BBLower     float64 `json:"bb_lower"`
	WilliamsR   float64 `json:"williams_r"`
	CCI         float64 `json:"cci"`
	Momentum    float64 `json:"momentum"`
	ForceIndex  float64 `json:"force_index"`
	VolumeRatio float64 `json:"volume_ratio"`
	PriceChange float64 `json:"price_change"`
	Volatility  float64 `json:"volatility"`
	Spread      float64 `json:"spread"`
	SessionHour int     `json:"session_hour"`
	DayOfWeek   int     `json:"day_of_week"`
	Month       int     `json:"month"`
}

// Prediction is the scoring service's answer. Lifetime is one evaluation
// cycle; it is never mutated after receipt.
type Prediction struct {
	IsValid      bool    `json:"is_valid"`
	Probability  float64 `json:"probability"`
	Confidence   float64 `json:"confidence"`
	Direction    string  `json:"direction"`
	ModelType    string  `json:"model_type"`
	ModelKey     string  `json:"model_key"`
	ErrorMessage string  `json:"error_message"`
}

type request struct {
	Features  Features `json:"features"`
	Direction string   `json:"direction"`
}

// Client calls the scoring service over HTTP with a bounded timeout.
type Client struct {
	baseURL string
	hc      *http.Client
	log     logger.Logger
}

// NewClient builds a client for the given base URL. An empty URL yields a
// disabled client; callers check Enabled before predicting.
func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Enabled reports whether a scoring endpoint is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Predict sends the feature vector and returns the service's prediction.
// On any failure (marshalling, transport, timeout, bad status, undecodable
// body) it returns Prediction{IsValid: false} with the failure recorded in
// ErrorMessage. It never returns an error.
func (c *Client) Predict(ctx context.Context, f Features, side types.Side) Prediction {
	if !c.Enabled() {
		return Prediction{IsValid: false, ErrorMessage: "oracle disabled"}
	}
	body, err := json.Marshal(request{Features: f, Direction: string(side)})
	if err != nil {
		return c.failed("marshal", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return c.failed("build_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		outcome := "error"
		var nerr interface{ Timeout() bool }
		if errors.As(err, &nerr) && nerr.Timeout() {
			outcome = "timeout"
		}
		metrics.OracleRequests.WithLabelValues(outcome).Inc()
		c.log.Warn("oracle_request_failed", logger.Err(err))
		return Prediction{IsValid: false, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.failed("status", fmt.Errorf("oracle: unexpected status %d", resp.StatusCode))
	}
	var p Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return c.failed("decode", err)
	}
	if p.IsValid {
		metrics.OracleRequests.WithLabelValues("valid").Inc()
	} else {
		metrics.OracleRequests.WithLabelValues("invalid").Inc()
	}
	return p
}

func (c *Client) failed(stage string, err error) Prediction {
	metrics.OracleRequests.WithLabelValues("error").Inc()
	c.log.Warn("oracle_"+stage+"_failed", logger.Err(err))
	return Prediction{IsValid: false, ErrorMessage: err.Error()}
}
