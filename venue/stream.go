package venue

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// USER-DATA ORDER STREAM
// ═══════════════════════════════════════════════════════════════════════════════
//
// Listens for order updates so the ledger can mark protective legs
// triggered (or cancelled) the moment the venue reports them, instead of
// waiting for the next reconciliation pass.
//
// ═══════════════════════════════════════════════════════════════════════════════

const reconnectDelay = 5 * time.Second

// OrderEventHandler receives order lifecycle events. Satisfied by
// *execution.Ledger.
type OrderEventHandler interface {
	HandleVenueFill(symbol, orderID string)
	HandleVenueCancel(symbol, orderID string)
}

// OrderStream is the venue user-data websocket.
type OrderStream struct {
	mu      sync.Mutex
	wsURL   string
	handler OrderEventHandler
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
}

// NewOrderStream creates a stream that forwards order events to handler.
func NewOrderStream(wsURL string, handler OrderEventHandler) *OrderStream {
	return &OrderStream{
		wsURL:   wsURL,
		handler: handler,
	}
}

// Start connects and begins reading. Reconnects until stopped. Safe to
// call again after Stop: each run gets a fresh stop channel.
func (s *OrderStream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.readLoop(stopCh)
	log.Info().Str("url", s.wsURL).Msg("📡 Order stream started")
}

// Stop closes the stream.
func (s *OrderStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
	log.Info().Msg("Order stream stopped")
}

func (s *OrderStream) readLoop(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
		if err != nil {
			log.Error().Err(err).Msg("Order stream dial failed, retrying")
			select {
			case <-stopCh:
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.consume(conn, stopCh)
		conn.Close()
	}
}

// orderUpdate is the venue's ORDER_TRADE_UPDATE payload, reduced to the
// fields the ledger needs.
type orderUpdate struct {
	Event string `json:"e"`
	Order struct {
		Symbol  string `json:"s"`
		OrderID int64  `json:"i"`
		Status  string `json:"X"`
	} `json:"o"`
}

func (s *OrderStream) consume(conn *websocket.Conn, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Order stream read failed, reconnecting")
			return
		}

		var update orderUpdate
		if err := json.Unmarshal(raw, &update); err != nil || update.Event != "ORDER_TRADE_UPDATE" {
			continue
		}

		orderID := strconv.FormatInt(update.Order.OrderID, 10)
		switch update.Order.Status {
		case "FILLED":
			s.handler.HandleVenueFill(update.Order.Symbol, orderID)
		case "CANCELED", "EXPIRED":
			s.handler.HandleVenueCancel(update.Order.Symbol, orderID)
		}
	}
}
