package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/execution"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FUTURES VENUE CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Places and manages protective orders against the futures REST API.
// Requests are HMAC-SHA256 signed with the API secret.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	dryRun     bool
	httpClient *http.Client
}

// NewClient creates a venue client.
func NewClient(baseURL, apiKey, apiSecret string, dryRun bool) *Client {
	mode := "LIVE"
	if dryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Str("url", baseURL).
		Msg("🚀 Venue client initialized")

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		dryRun:     dryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// PlaceProtectiveOrder places one stop-loss or take-profit leg. Protective
// legs close the position, so the order side is the opposite of the
// position side.
func (c *Client) PlaceProtectiveOrder(symbol, side, legType string, trigger, quantity decimal.Decimal) (string, error) {
	if c.dryRun {
		orderID := "dry-" + uuid.NewString()
		log.Info().
			Str("order_id", orderID).
			Str("symbol", symbol).
			Str("leg", legType).
			Str("trigger", trigger.StringFixed(4)).
			Str("qty", quantity.StringFixed(4)).
			Msg("📝 DRY RUN: Protective order would be placed")
		return orderID, nil
	}

	orderType := "STOP_MARKET"
	if legType == types.LegTakeProfit {
		orderType = "TAKE_PROFIT_MARKET"
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", closingSide(side))
	params.Set("type", orderType)
	params.Set("stopPrice", trigger.String())
	params.Set("quantity", quantity.String())
	params.Set("reduceOnly", "true")

	body, err := c.signedRequest(http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse order response: %w", err)
	}
	if result.OrderID == 0 {
		return "", fmt.Errorf("venue rejected %s order: %s", orderType, result.Msg)
	}

	orderID := strconv.FormatInt(result.OrderID, 10)
	log.Info().
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("type", orderType).
		Msg("✅ Protective order placed")

	return orderID, nil
}

// ClosePosition flattens a position with a reduce-only market order.
func (c *Client) ClosePosition(symbol, side string, quantity decimal.Decimal) error {
	if c.dryRun {
		log.Info().
			Str("symbol", symbol).
			Str("qty", quantity.StringFixed(4)).
			Msg("📝 DRY RUN: Position would be closed")
		return nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", closingSide(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())
	params.Set("reduceOnly", "true")

	_, err := c.signedRequest(http.MethodPost, "/fapi/v1/order", params)
	return err
}

// CancelOrder withdraws an order at the venue.
func (c *Client) CancelOrder(symbol, orderID string) error {
	if c.dryRun {
		log.Info().Str("order_id", orderID).Msg("📝 DRY RUN: Order would be cancelled")
		return nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	_, err := c.signedRequest(http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// GetOrder looks one order up and normalizes its state to the three values
// the reconciler understands: open, finished, other.
func (c *Client) GetOrder(orderID string) (execution.VenueOrder, error) {
	if c.dryRun {
		return execution.VenueOrder{OrderID: orderID, Status: "open"}, nil
	}

	params := url.Values{}
	params.Set("orderId", orderID)

	body, err := c.signedRequest(http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return execution.VenueOrder{}, err
	}

	var result struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return execution.VenueOrder{}, fmt.Errorf("parse order lookup: %w", err)
	}

	return execution.VenueOrder{
		OrderID: orderID,
		Status:  normalizeStatus(result.Status),
	}, nil
}

// normalizeStatus collapses the venue's order states.
func normalizeStatus(status string) string {
	switch status {
	case "NEW", "PARTIALLY_FILLED":
		return "open"
	case "FILLED":
		return "finished"
	default:
		return "other"
	}
}

// closingSide returns the order side that closes a position.
func closingSide(positionSide string) string {
	if positionSide == types.SideLong {
		return "SELL"
	}
	return "BUY"
}

// signedRequest sends an HMAC-SHA256 signed request.
func (c *Client) signedRequest(method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("venue %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	return body, nil
}
