package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Risk engine persistence layer
// ═══════════════════════════════════════════════════════════════════════════════

// ErrDuplicateOrder is returned when an insert would violate the order_id
// uniqueness invariant. Callers treat it as non-fatal; the violation is
// recorded in inconsistent_states.
var ErrDuplicateOrder = errors.New("storage: duplicate order_id")

type Database struct {
	db *gorm.DB
}

// Models

// ConditionalOrder is a persisted protective leg (stop-loss or take-profit).
type ConditionalOrder struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	OrderID         string `gorm:"uniqueIndex"`
	PositionOrderID string `gorm:"index"`
	Symbol          string `gorm:"index"`
	Side            string
	LegType         string
	TriggerPrice    decimal.Decimal `gorm:"type:decimal(18,8)"`
	Quantity        decimal.Decimal `gorm:"type:decimal(18,8)"`
	Status          string          `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

// ClosedPosition is one closed-position event. Append-only except for the
// duplicate repair routine.
type ClosedPosition struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Symbol         string `gorm:"index"`
	PnL            decimal.Decimal `gorm:"type:decimal(18,8)"`
	PnLPercent     decimal.Decimal `gorm:"type:decimal(10,4)"`
	CloseReason    string
	TriggerOrderID string    `gorm:"index"`
	ClosedAt       time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// InconsistentState records rejected writes and other integrity findings
// for later inspection instead of crashing the write path.
type InconsistentState struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Kind      string
	OrderID   string
	Detail    string
	CreatedAt time.Time
}

// New opens the database. PostgreSQL when the path is a connection string,
// SQLite otherwise.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&ConditionalOrder{}, &ClosedPosition{}, &InconsistentState{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests.
func NewWithDB(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLOSED EVENTS
// ═══════════════════════════════════════════════════════════════════════════════

// SaveClosedEvent appends a closed-position event.
func (d *Database) SaveClosedEvent(ev types.ClosedPositionEvent) error {
	row := ClosedPosition{
		Symbol:         ev.Symbol,
		PnL:            ev.PnL,
		PnLPercent:     ev.PnLPercent,
		CloseReason:    ev.CloseReason,
		TriggerOrderID: ev.TriggerOrderID,
		ClosedAt:       ev.ClosedAt.UTC(),
	}
	return d.db.Create(&row).Error
}

// ClosedEventsSince returns the events for a symbol closed at or after
// since, most recent first.
func (d *Database) ClosedEventsSince(symbol string, since time.Time) ([]types.ClosedPositionEvent, error) {
	var rows []ClosedPosition
	err := d.db.
		Where("symbol = ? AND closed_at >= ?", symbol, since.UTC()).
		Order("closed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]types.ClosedPositionEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, types.ClosedPositionEvent{
			Symbol:         r.Symbol,
			PnL:            r.PnL,
			PnLPercent:     r.PnLPercent,
			CloseReason:    r.CloseReason,
			TriggerOrderID: r.TriggerOrderID,
			ClosedAt:       r.ClosedAt,
		})
	}
	return events, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONDITIONAL ORDERS
// ═══════════════════════════════════════════════════════════════════════════════

// InsertConditionalOrder persists a new protective leg. The order_id
// uniqueness invariant is checked before the insert; a duplicate is
// recorded as an inconsistent-state entry and rejected with
// ErrDuplicateOrder rather than raised as a crash.
func (d *Database) InsertConditionalOrder(o *types.ConditionalOrder) error {
	exists, err := d.HasOrder(o.OrderID)
	if err != nil {
		return err
	}
	if exists {
		if recErr := d.RecordInconsistency("duplicate_order_insert", o.OrderID,
			"insert rejected: order_id already present"); recErr != nil {
			log.Error().Err(recErr).Str("order_id", o.OrderID).Msg("Failed to record inconsistency")
		}
		return ErrDuplicateOrder
	}

	row := fromDomain(o)
	if err := d.db.Create(&row).Error; err != nil {
		return err
	}
	o.CreatedAt = row.CreatedAt
	return nil
}

// HasOrder reports whether any row carries the given order_id.
func (d *Database) HasOrder(orderID string) (bool, error) {
	var count int64
	err := d.db.Model(&ConditionalOrder{}).Where("order_id = ?", orderID).Count(&count).Error
	return count > 0, err
}

// ActiveOrders returns all active legs for a symbol.
func (d *Database) ActiveOrders(symbol string) ([]types.ConditionalOrder, error) {
	var rows []ConditionalOrder
	err := d.db.
		Where("symbol = ? AND status = ?", symbol, types.OrderActive).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	orders := make([]types.ConditionalOrder, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, toDomain(r))
	}
	return orders, nil
}

// CancelActiveOrders retires every active leg for a symbol and stamps
// updated_at. Returns the number of rows cancelled.
func (d *Database) CancelActiveOrders(symbol string, at time.Time) (int64, error) {
	res := d.db.Model(&ConditionalOrder{}).
		Where("symbol = ? AND status = ?", symbol, types.OrderActive).
		Updates(map[string]interface{}{
			"status":     types.OrderCancelled,
			"updated_at": at.UTC(),
		})
	return res.RowsAffected, res.Error
}

// MarkOrderStatus transitions a single active order and stamps updated_at.
// Terminal rows (triggered/cancelled) are never updated in place.
func (d *Database) MarkOrderStatus(orderID, status string, at time.Time) error {
	return d.db.Model(&ConditionalOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderActive).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": at.UTC(),
		}).Error
}

// BackfillPositionOrderID sets position_order_id on legacy rows that
// predate the field. Returns the number of rows actually rewritten; rows
// that already carry a position order id match nothing.
func (d *Database) BackfillPositionOrderID(orderID, positionOrderID string) (int64, error) {
	res := d.db.Model(&ConditionalOrder{}).
		Where("order_id = ? AND (position_order_id = '' OR position_order_id IS NULL)", orderID).
		Update("position_order_id", positionOrderID)
	return res.RowsAffected, res.Error
}

// OrderByID returns the row for a venue order id.
func (d *Database) OrderByID(orderID string) (*types.ConditionalOrder, error) {
	var row ConditionalOrder
	if err := d.db.First(&row, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	o := toDomain(row)
	return &o, nil
}

// RecordInconsistency files a non-fatal integrity finding.
func (d *Database) RecordInconsistency(kind, orderID, detail string) error {
	return d.db.Create(&InconsistentState{
		Kind:    kind,
		OrderID: orderID,
		Detail:  detail,
	}).Error
}

// Close closes the underlying connection.
func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Converters

func fromDomain(o *types.ConditionalOrder) ConditionalOrder {
	return ConditionalOrder{
		OrderID:         o.OrderID,
		PositionOrderID: o.PositionOrderID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		LegType:         o.LegType,
		TriggerPrice:    o.TriggerPrice,
		Quantity:        o.Quantity,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toDomain(r ConditionalOrder) types.ConditionalOrder {
	return types.ConditionalOrder{
		OrderID:         r.OrderID,
		PositionOrderID: r.PositionOrderID,
		Symbol:          r.Symbol,
		Side:            r.Side,
		LegType:         r.LegType,
		TriggerPrice:    r.TriggerPrice,
		Quantity:        r.Quantity,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
