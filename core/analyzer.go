package core

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET ANALYZER - Trend state and reversal scoring from venue market data
// ═══════════════════════════════════════════════════════════════════════════════
//
// Public market-data endpoints only, no signing. The snapshot labels carry
// a directional prefix ("uptrend_*", "downtrend_*") that the reversal check
// keys on, so the label scheme is part of the engine's contract.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	fastEMAPeriod = 9
	slowEMAPeriod = 21
	klineLimit    = 60

	strongTrendSeparation = 0.004 // fast/slow EMA gap as fraction of price
)

// Analyzer reads market state off the venue's public REST API.
type Analyzer struct {
	baseURL    string
	httpClient *http.Client
}

// NewAnalyzer creates a market analyzer against the venue base URL.
func NewAnalyzer(baseURL string) *Analyzer {
	return &Analyzer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// MarkPrice returns the venue mark price for a symbol.
func (a *Analyzer) MarkPrice(symbol string) (decimal.Decimal, error) {
	body, err := a.get("/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse mark price: %w", err)
	}
	return decimal.NewFromString(result.MarkPrice)
}

// GetMarketState computes the trend snapshot for a symbol from 15m candles,
// with a 1h read for timeframe alignment.
func (a *Analyzer) GetMarketState(symbol string) (types.MarketStateSnapshot, error) {
	closes, err := a.closes(symbol, "15m")
	if err != nil {
		return types.MarketStateSnapshot{}, err
	}

	state, strength := trendLabel(closes)

	alignment := 0.5
	if hourly, err := a.closes(symbol, "1h"); err == nil {
		hourlyState, _ := trendLabel(hourly)
		alignment = alignmentScore(state, hourlyState)
	}

	return types.MarketStateSnapshot{
		State:              state,
		TrendStrength:      strength,
		MomentumState:      momentumLabel(closes),
		Confidence:         math.Min(1, strength*alignment+0.2),
		TimeframeAlignment: alignment,
	}, nil
}

// ReversalScore scores how strongly current conditions oppose a position
// side, 0-100.
func (a *Analyzer) ReversalScore(symbol, side string) (float64, error) {
	snap, err := a.GetMarketState(symbol)
	if err != nil {
		return 0, err
	}

	score := 0.0

	// Trend against the position (dominant component)
	trendAgainst := (side == types.SideLong && snap.IsDowntrend()) ||
		(side == types.SideShort && snap.IsUptrend())
	if trendAgainst {
		score += 40 * math.Min(1, snap.TrendStrength*2)
	}

	// Momentum against the position
	momentumAgainst := (side == types.SideLong && snap.MomentumState == "falling") ||
		(side == types.SideShort && snap.MomentumState == "rising")
	if momentumAgainst {
		score += 30
	}

	// Higher timeframe agreeing with the adverse move
	if trendAgainst {
		score += 30 * snap.TimeframeAlignment
	}

	return math.Min(100, score), nil
}

// closes fetches close prices for the last klineLimit candles.
func (a *Analyzer) closes(symbol, interval string) ([]float64, error) {
	body, err := a.get("/fapi/v1/klines", url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {fmt.Sprint(klineLimit)},
	})
	if err != nil {
		return nil, err
	}

	// Each kline is a mixed-type array; close price is index 4 as a string
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	closes := make([]float64, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		s, ok := k[4].(string)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		f, _ := d.Float64()
		closes = append(closes, f)
	}

	if len(closes) < slowEMAPeriod {
		return nil, fmt.Errorf("not enough candles for %s %s: got %d", symbol, interval, len(closes))
	}
	return closes, nil
}

func (a *Analyzer) get(path string, params url.Values) ([]byte, error) {
	resp, err := a.httpClient.Get(a.baseURL + path + "?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("market data %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("market data %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

// trendLabel classifies closes into a directional state label plus a
// strength in [0, 1].
func trendLabel(closes []float64) (string, float64) {
	fast := ema(closes, fastEMAPeriod)
	slow := ema(closes, slowEMAPeriod)
	price := closes[len(closes)-1]
	if price == 0 {
		return "ranging", 0
	}

	separation := (fast - slow) / price
	strength := math.Min(1, math.Abs(separation)/strongTrendSeparation)

	switch {
	case separation > strongTrendSeparation:
		return "uptrend_strong", strength
	case separation > 0:
		return "uptrend_weak", strength
	case separation < -strongTrendSeparation:
		return "downtrend_strong", strength
	case separation < 0:
		return "downtrend_weak", strength
	}
	return "ranging", 0
}

// momentumLabel compares the last close against the close five candles back.
func momentumLabel(closes []float64) string {
	last := closes[len(closes)-1]
	prev := closes[len(closes)-6]
	switch {
	case last > prev:
		return "rising"
	case last < prev:
		return "falling"
	}
	return "flat"
}

// alignmentScore is 1 when both timeframes point the same way, 0 when they
// conflict, 0.5 when either is ranging.
func alignmentScore(lower, higher string) float64 {
	lowerUp, lowerDown := directional(lower)
	higherUp, higherDown := directional(higher)

	switch {
	case lowerUp && higherUp, lowerDown && higherDown:
		return 1
	case (lowerUp && higherDown) || (lowerDown && higherUp):
		return 0
	}
	return 0.5
}

func directional(state string) (up, down bool) {
	s := types.MarketStateSnapshot{State: state}
	return s.IsUptrend(), s.IsDowntrend()
}

// ema computes an exponential moving average over the series.
func ema(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1)
	avg := values[0]
	for _, v := range values[1:] {
		avg = v*k + avg*(1-k)
	}
	return avg
}
