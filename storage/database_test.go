package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantara/leverbot/types"
)

// ============================================================
// Database Tests (gorm over sqlmock)
// ============================================================

func newMockDB(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}

	return NewWithDB(gdb), mock
}

func TestHasOrder(t *testing.T) {
	tests := []struct {
		name  string
		count int64
		want  bool
	}{
		{"present", 1, true},
		{"absent", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)

			mock.ExpectQuery(`SELECT count\(\*\) FROM "conditional_orders" WHERE order_id = \$1`).
				WithArgs("venue-1").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))

			got, err := db.HasOrder("venue-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasOrder = %v, want %v", got, tt.want)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestInsertConditionalOrderRejectsDuplicate(t *testing.T) {
	db, mock := newMockDB(t)

	// Pre-insert uniqueness check finds the id already present
	mock.ExpectQuery(`SELECT count\(\*\) FROM "conditional_orders" WHERE order_id = \$1`).
		WithArgs("venue-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// The violation is filed instead of inserted
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "inconsistent_states"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := db.InsertConditionalOrder(&types.ConditionalOrder{
		OrderID: "venue-1",
		Symbol:  "BTCUSDT",
		Status:  types.OrderActive,
	})
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("err = %v, want ErrDuplicateOrder", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertConditionalOrder(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "conditional_orders" WHERE order_id = \$1`).
		WithArgs("venue-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "conditional_orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	err := db.InsertConditionalOrder(&types.ConditionalOrder{
		OrderID:         "venue-2",
		PositionOrderID: "entry-1",
		Symbol:          "BTCUSDT",
		Side:            types.SideLong,
		LegType:         types.LegStopLoss,
		Status:          types.OrderActive,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCancelActiveOrders(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "conditional_orders" SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := db.CancelActiveOrders("BTCUSDT", time.Now().UTC())
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled = %d, want 2", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkOrderStatusTargetsActiveRowsOnly(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "conditional_orders" SET .+ WHERE order_id = \$3 AND status = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := db.MarkOrderStatus("venue-1", types.OrderTriggered, time.Now().UTC()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBackfillPositionOrderID(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "conditional_orders" SET .+ WHERE order_id = \$\d+ AND \(position_order_id = '' OR position_order_id IS NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := db.BackfillPositionOrderID("venue-1", "entry-1")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("rows rewritten = %d, want 1", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestBackfillPositionOrderIDSkipsLinkedRows(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "conditional_orders" SET .+ WHERE order_id = \$\d+ AND \(position_order_id = '' OR position_order_id IS NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := db.BackfillPositionOrderID("venue-1", "entry-1")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("rows rewritten = %d, want 0", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClosedEventsSince(t *testing.T) {
	db, mock := newMockDB(t)
	closedAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "symbol", "pn_l", "pn_l_percent", "close_reason", "trigger_order_id", "closed_at"}).
		AddRow(1, "AVAXUSDT", "-90", "-18", types.CloseReasonStopLoss, "venue-5", closedAt)
	mock.ExpectQuery(`SELECT \* FROM "closed_positions" WHERE symbol = \$1 AND closed_at >= \$2 ORDER BY closed_at DESC`).
		WillReturnRows(rows)

	events, err := db.ClosedEventsSince("AVAXUSDT", closedAt.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Symbol != "AVAXUSDT" || !ev.IsLoss() {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.PnLPercent.IntPart() != -18 {
		t.Errorf("PnLPercent = %s, want -18", ev.PnLPercent)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordInconsistency(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "inconsistent_states"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	if err := db.RecordInconsistency("duplicate_order_insert", "venue-1", "insert rejected"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
