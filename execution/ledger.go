package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/internal/metrics"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONDITIONAL ORDER LEDGER - entryOrder → {stop-loss leg, take-profit leg}
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns the protective-pair mapping across creation, replacement, venue
// reconciliation and duplicate repair. The invariant that matters: every
// replacement in a chain preserves the original positionOrderId, so all
// legs across the life of one position stay retrievable by a single key.
//
// Mutations are serialized per symbol. Two concurrent replacements for the
// same symbol could otherwise interleave their cancel/insert steps and
// leave two active rows of the same leg type.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Validation errors. A leg that fails validation is rejected without
// silently dropping its sibling.
var (
	ErrMissingTrigger  = errors.New("execution: protective leg missing trigger price")
	ErrMissingQuantity = errors.New("execution: protective leg missing quantity")
	ErrNoActivePair    = errors.New("execution: no active protective orders for symbol")
)

// OrderRepository is the persisted ledger store. Satisfied by *storage.Database.
type OrderRepository interface {
	InsertConditionalOrder(o *types.ConditionalOrder) error
	HasOrder(orderID string) (bool, error)
	ActiveOrders(symbol string) ([]types.ConditionalOrder, error)
	CancelActiveOrders(symbol string, at time.Time) (int64, error)
	MarkOrderStatus(orderID, status string, at time.Time) error
	BackfillPositionOrderID(orderID, positionOrderID string) (int64, error)
	RecordInconsistency(kind, orderID, detail string) error
}

// VenueOrder is the venue's view of one order.
type VenueOrder struct {
	OrderID string
	Status  string // "open", "finished", anything else maps to cancelled
}

// VenueClient places and manages protective orders at the venue.
type VenueClient interface {
	PlaceProtectiveOrder(symbol, side, legType string, trigger, quantity decimal.Decimal) (string, error)
	CancelOrder(symbol, orderID string) error
	GetOrder(orderID string) (VenueOrder, error)
}

// ProtectivePair holds the venue ids of a position's two legs.
type ProtectivePair struct {
	StopOrderID   string
	TargetOrderID string
}

// Ledger is the stateful core of the engine.
type Ledger struct {
	repo  OrderRepository
	venue VenueClient

	mu       sync.Mutex
	symLocks map[string]*sync.Mutex
}

// NewLedger creates the conditional order ledger.
func NewLedger(repo OrderRepository, venue VenueClient) *Ledger {
	return &Ledger{
		repo:     repo,
		venue:    venue,
		symLocks: make(map[string]*sync.Mutex),
	}
}

// lockSymbol serializes mutations per symbol. Distinct symbols proceed in
// parallel.
func (l *Ledger) lockSymbol(symbol string) func() {
	l.mu.Lock()
	lock, ok := l.symLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		l.symLocks[symbol] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// CreateProtectivePair places the stop-loss and take-profit legs for a new
// position and persists both as active rows sharing positionOrderID.
// A failure in one leg never silently drops the other: each leg is placed
// and persisted independently and the first error is reported after both
// attempts.
func (l *Ledger) CreateProtectivePair(positionOrderID, symbol, side string, stopPrice, targetPrice, quantity decimal.Decimal) (ProtectivePair, error) {
	unlock := l.lockSymbol(symbol)
	defer unlock()

	now := time.Now().UTC()
	var pair ProtectivePair
	var firstErr error

	slID, err := l.createLeg(positionOrderID, symbol, side, types.LegStopLoss, stopPrice, quantity, now)
	if err != nil {
		firstErr = err
	} else {
		pair.StopOrderID = slID
	}

	tpID, err := l.createLeg(positionOrderID, symbol, side, types.LegTakeProfit, targetPrice, quantity, now)
	if err != nil && firstErr == nil {
		firstErr = err
	} else if err == nil {
		pair.TargetOrderID = tpID
	}

	if firstErr == nil {
		log.Info().
			Str("symbol", symbol).
			Str("position_order_id", positionOrderID).
			Str("sl", pair.StopOrderID).
			Str("tp", pair.TargetOrderID).
			Msg("🛡️ Protective pair created")
	}

	return pair, firstErr
}

// ReplaceProtectivePair retires every active leg for the symbol and places
// fresh legs carrying the recovered positionOrderID. A zero price keeps the
// previous leg's trigger. Used by the stop-adjustment flow when a stop or
// target moves.
func (l *Ledger) ReplaceProtectivePair(symbol string, newStopPrice, newTargetPrice decimal.Decimal) (ProtectivePair, error) {
	unlock := l.lockSymbol(symbol)
	defer unlock()

	// 1. Recover positionOrderID from the currently active rows, preferring
	// a non-empty value (legacy rows may predate the field).
	active, err := l.repo.ActiveOrders(symbol)
	if err != nil {
		return ProtectivePair{}, fmt.Errorf("replace %s: %w", symbol, err)
	}
	if len(active) == 0 {
		return ProtectivePair{}, ErrNoActivePair
	}

	var positionOrderID, side string
	legs := make(map[string]types.ConditionalOrder, 2)
	for _, o := range active {
		if positionOrderID == "" && o.PositionOrderID != "" {
			positionOrderID = o.PositionOrderID
		}
		side = o.Side
		legs[o.LegType] = o
	}

	// 2. Retire all active rows together, even if only one price changed.
	now := time.Now().UTC()
	for _, o := range active {
		if err := l.venue.CancelOrder(symbol, o.OrderID); err != nil {
			// The row is still retired below; the venue-side remnant is
			// recorded for inspection.
			log.Error().Err(err).Str("order_id", o.OrderID).Msg("Venue cancel failed during replace")
			l.recordInconsistency("venue_cancel_failed", o.OrderID, err.Error())
		}
	}
	if _, err := l.repo.CancelActiveOrders(symbol, now); err != nil {
		return ProtectivePair{}, fmt.Errorf("replace %s: cancel active rows: %w", symbol, err)
	}

	// 3. Place the new legs under the recovered positionOrderID.
	var pair ProtectivePair
	var firstErr error

	if prev, ok := legs[types.LegStopLoss]; ok || !newStopPrice.IsZero() {
		price, qty := newStopPrice, prev.Quantity
		if price.IsZero() {
			price = prev.TriggerPrice
		}
		if qty.IsZero() {
			qty = legQuantity(legs)
		}
		id, err := l.createLeg(positionOrderID, symbol, side, types.LegStopLoss, price, qty, now)
		if err != nil {
			firstErr = err
		} else {
			pair.StopOrderID = id
		}
	}

	if prev, ok := legs[types.LegTakeProfit]; ok || !newTargetPrice.IsZero() {
		price, qty := newTargetPrice, prev.Quantity
		if price.IsZero() {
			price = prev.TriggerPrice
		}
		if qty.IsZero() {
			qty = legQuantity(legs)
		}
		id, err := l.createLeg(positionOrderID, symbol, side, types.LegTakeProfit, price, qty, now)
		if err != nil && firstErr == nil {
			firstErr = err
		} else if err == nil {
			pair.TargetOrderID = id
		}
	}

	if firstErr == nil {
		log.Info().
			Str("symbol", symbol).
			Str("position_order_id", positionOrderID).
			Str("sl", pair.StopOrderID).
			Str("tp", pair.TargetOrderID).
			Msg("🔁 Protective pair replaced")
	}

	return pair, firstErr
}

// RetirePair cancels both protective legs after a position closes through
// another path (forced exit, manual close).
func (l *Ledger) RetirePair(symbol string) error {
	unlock := l.lockSymbol(symbol)
	defer unlock()

	active, err := l.repo.ActiveOrders(symbol)
	if err != nil {
		return fmt.Errorf("retire %s: %w", symbol, err)
	}
	for _, o := range active {
		if err := l.venue.CancelOrder(symbol, o.OrderID); err != nil {
			log.Error().Err(err).Str("order_id", o.OrderID).Msg("Venue cancel failed during retire")
			l.recordInconsistency("venue_cancel_failed", o.OrderID, err.Error())
		}
	}
	if _, err := l.repo.CancelActiveOrders(symbol, time.Now().UTC()); err != nil {
		return fmt.Errorf("retire %s: cancel active rows: %w", symbol, err)
	}

	metrics.ActiveLegs.WithLabelValues(symbol, types.LegStopLoss).Set(0)
	metrics.ActiveLegs.WithLabelValues(symbol, types.LegTakeProfit).Set(0)
	return nil
}

// HandleVenueFill marks a leg triggered after the venue reports its fill.
func (l *Ledger) HandleVenueFill(symbol, orderID string) {
	unlock := l.lockSymbol(symbol)
	defer unlock()

	if err := l.repo.MarkOrderStatus(orderID, types.OrderTriggered, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to mark leg triggered")
		return
	}
	log.Info().Str("symbol", symbol).Str("order_id", orderID).Msg("⚡ Protective leg triggered")
}

// HandleVenueCancel marks a leg cancelled after a venue-side withdrawal.
func (l *Ledger) HandleVenueCancel(symbol, orderID string) {
	unlock := l.lockSymbol(symbol)
	defer unlock()

	if err := l.repo.MarkOrderStatus(orderID, types.OrderCancelled, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to mark leg cancelled")
	}
}

// createLeg validates, places and persists one protective leg.
func (l *Ledger) createLeg(positionOrderID, symbol, side, legType string, trigger, quantity decimal.Decimal, now time.Time) (string, error) {
	if trigger.IsZero() || trigger.IsNegative() {
		log.Error().
			Str("symbol", symbol).
			Str("leg", legType).
			Msg("❌ Leg rejected: missing trigger price")
		l.recordInconsistency("invalid_leg", "",
			fmt.Sprintf("%s %s leg rejected: missing trigger price", symbol, legType))
		return "", fmt.Errorf("%s leg for %s: %w", legType, symbol, ErrMissingTrigger)
	}
	if quantity.IsZero() || quantity.IsNegative() {
		log.Error().
			Str("symbol", symbol).
			Str("leg", legType).
			Msg("❌ Leg rejected: missing quantity")
		l.recordInconsistency("invalid_leg", "",
			fmt.Sprintf("%s %s leg rejected: missing quantity", symbol, legType))
		return "", fmt.Errorf("%s leg for %s: %w", legType, symbol, ErrMissingQuantity)
	}

	orderID, err := l.venue.PlaceProtectiveOrder(symbol, side, legType, trigger, quantity)
	if err != nil {
		log.Error().Err(err).
			Str("symbol", symbol).
			Str("leg", legType).
			Msg("❌ Venue rejected protective leg")
		return "", fmt.Errorf("place %s leg for %s: %w", legType, symbol, err)
	}

	order := &types.ConditionalOrder{
		OrderID:         orderID,
		PositionOrderID: positionOrderID,
		Symbol:          symbol,
		Side:            side,
		LegType:         legType,
		TriggerPrice:    trigger,
		Quantity:        quantity,
		Status:          types.OrderActive,
		CreatedAt:       now,
	}
	if err := l.repo.InsertConditionalOrder(order); err != nil {
		// The leg exists at the venue but not in the ledger. Never mask
		// this as success; reconciliation will pick the row up later.
		log.Error().Err(err).
			Str("symbol", symbol).
			Str("order_id", orderID).
			Str("leg", legType).
			Msg("❌ Failed to persist protective leg")
		return "", fmt.Errorf("persist %s leg for %s: %w", legType, symbol, err)
	}

	metrics.ActiveLegs.WithLabelValues(symbol, legType).Set(1)
	return orderID, nil
}

func (l *Ledger) recordInconsistency(kind, orderID, detail string) {
	if err := l.repo.RecordInconsistency(kind, orderID, detail); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to record inconsistency")
	}
	metrics.InconsistentStates.WithLabelValues(kind).Inc()
}

// legQuantity picks any known quantity among the previous legs.
func legQuantity(legs map[string]types.ConditionalOrder) decimal.Decimal {
	for _, o := range legs {
		if !o.Quantity.IsZero() {
			return o.Quantity
		}
	}
	return decimal.Zero
}
