package storage

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REPAIR QUERIES - Duplicate scan and timestamp normalization
// ═══════════════════════════════════════════════════════════════════════════════
//
// A historical double-write defect produced rows sharing an order_id (and
// close events sharing a trigger_order_id). The unique index stops new
// duplicates at the source; these queries feed the corrective batch repair
// for pre-existing data.

// DuplicateOrderGroups returns conditional-order rows whose order_id
// appears more than once, each group ordered earliest first.
func (d *Database) DuplicateOrderGroups() ([]types.DuplicateGroup, error) {
	return d.duplicateGroups(&ConditionalOrder{}, "order_id", "")
}

// DuplicateCloseEventGroups returns closed-position rows sharing a
// trigger_order_id. Rows without a trigger order are skipped.
func (d *Database) DuplicateCloseEventGroups() ([]types.DuplicateGroup, error) {
	return d.duplicateGroups(&ClosedPosition{}, "trigger_order_id", "trigger_order_id <> ''")
}

func (d *Database) duplicateGroups(model interface{}, keyCol, filter string) ([]types.DuplicateGroup, error) {
	q := d.db.Model(model).Select(keyCol).Group(keyCol).Having("COUNT(*) > 1")
	if filter != "" {
		q = q.Where(filter)
	}

	var keys []string
	if err := q.Scan(&keys).Error; err != nil {
		return nil, err
	}

	groups := make([]types.DuplicateGroup, 0, len(keys))
	for _, key := range keys {
		var ids []uint
		err := d.db.Model(model).
			Where(keyCol+" = ?", key).
			Order("created_at ASC, id ASC").
			Pluck("id", &ids).Error
		if err != nil {
			return nil, err
		}
		groups = append(groups, types.DuplicateGroup{Key: key, RowIDs: ids})
	}
	return groups, nil
}

// DeleteOrderRows removes conditional-order rows by primary key.
func (d *Database) DeleteOrderRows(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return d.db.Delete(&ConditionalOrder{}, ids).Error
}

// DeleteCloseEventRows removes closed-position rows by primary key.
func (d *Database) DeleteCloseEventRows(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return d.db.Delete(&ClosedPosition{}, ids).Error
}

// Timestamp layouts observed in legacy rows. RFC3339 is the canonical form;
// anything else gets rewritten.
var legacyTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
}

// NormalizeTimestamps rewrites persisted instants that were stored in a
// non-canonical text format. Mixed-format timestamps across rows are an
// integrity defect; rows that parse under no known layout are recorded as
// inconsistent state and left untouched. Returns the number of rows fixed.
func (d *Database) NormalizeTimestamps() (int64, error) {
	targets := []struct {
		table string
		col   string
	}{
		{"conditional_orders", "created_at"},
		{"closed_positions", "closed_at"},
	}

	var fixed int64
	for _, t := range targets {
		type rawRow struct {
			ID  uint
			Raw string
		}
		var rows []rawRow
		err := d.db.Raw(
			"SELECT id, CAST(" + t.col + " AS TEXT) AS raw FROM " + t.table +
				" WHERE " + t.col + " IS NOT NULL",
		).Scan(&rows).Error
		if err != nil {
			return fixed, err
		}

		for _, r := range rows {
			if _, err := time.Parse(time.RFC3339, r.Raw); err == nil {
				continue // already canonical
			}

			ts, ok := parseLegacyTimestamp(r.Raw)
			if !ok {
				if recErr := d.RecordInconsistency("unparseable_timestamp", "",
					t.table+"."+t.col+" row "+r.Raw); recErr != nil {
					log.Error().Err(recErr).Msg("Failed to record timestamp inconsistency")
				}
				continue
			}

			err := d.db.Exec(
				"UPDATE "+t.table+" SET "+t.col+" = ? WHERE id = ?",
				ts.UTC(), r.ID,
			).Error
			if err != nil {
				// One bad row must not abort the batch
				log.Error().Err(err).
					Str("table", t.table).
					Uint("row", r.ID).
					Msg("Failed to normalize timestamp")
				continue
			}
			fixed++
		}
	}

	return fixed, nil
}

func parseLegacyTimestamp(raw string) (time.Time, bool) {
	for _, layout := range legacyTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
