package storage

import (
	"testing"
	"time"
)

func TestParseLegacyTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2025-11-03 14:22:07+00:00", time.Date(2025, 11, 3, 14, 22, 7, 0, time.UTC), true},
		{"2025-11-03 14:22:07", time.Date(2025, 11, 3, 14, 22, 7, 0, time.UTC), true},
		{"2025-11-03T14:22:07", time.Date(2025, 11, 3, 14, 22, 7, 0, time.UTC), true},
		{"11/03/2025 14:22:07", time.Date(2025, 11, 3, 14, 22, 7, 0, time.UTC), true},
		{"three days ago", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		ts, ok := parseLegacyTimestamp(tt.raw)
		if ok != tt.ok {
			t.Errorf("parseLegacyTimestamp(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && !ts.UTC().Equal(tt.want) {
			t.Errorf("parseLegacyTimestamp(%q) = %v, want %v", tt.raw, ts.UTC(), tt.want)
		}
	}
}

func TestDeleteRowsEmptyInputIsNoop(t *testing.T) {
	db, mock := newMockDB(t)

	// No expectations: an empty id list must never touch the database
	if err := db.DeleteOrderRows(nil); err != nil {
		t.Errorf("DeleteOrderRows(nil): %v", err)
	}
	if err := db.DeleteCloseEventRows(nil); err != nil {
		t.Errorf("DeleteCloseEventRows(nil): %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database access: %v", err)
	}
}
