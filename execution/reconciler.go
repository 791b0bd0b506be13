package execution

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantara/leverbot/internal/metrics"
	"github.com/quantara/leverbot/storage"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Ledger vs venue-reported order state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs on startup and periodically:
// 1. Insert ledger rows for venue legs we know about but never persisted
// 2. Backfill positionOrderId on legacy rows
// 3. Repair duplicate rows left by a historical double-write defect
//
// Every operation here is idempotent and every per-item failure is
// isolated: one bad order id must not abort the batch.
//
// ═══════════════════════════════════════════════════════════════════════════════

// VenueLookup fetches one order's venue-side state.
type VenueLookup func(orderID string) (VenueOrder, error)

// RepairStore exposes the duplicate-scan and normalization queries.
// Satisfied by *storage.Database.
type RepairStore interface {
	DuplicateOrderGroups() ([]types.DuplicateGroup, error)
	DeleteOrderRows(ids []uint) error
	DuplicateCloseEventGroups() ([]types.DuplicateGroup, error)
	DeleteCloseEventRows(ids []uint) error
	NormalizeTimestamps() (int64, error)
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Inserted   int
	Backfilled int
	Failed     int
}

// RepairReport summarizes one repair pass.
type RepairReport struct {
	DeletedCount         int
	TimestampsNormalized int64
}

// Reconciler repairs the ledger against venue state.
type Reconciler struct {
	repo  OrderRepository
	store RepairStore
}

// NewReconciler creates a reconciler.
func NewReconciler(repo OrderRepository, store RepairStore) *Reconciler {
	return &Reconciler{repo: repo, store: store}
}

// Reconcile brings the ledger in line with a position's known protective
// leg order ids. Already-present rows are backfilled with the entry order
// id when they lack one; missing rows are inserted with the venue-reported
// status. Idempotent: a second run for the same position inserts nothing.
func (r *Reconciler) Reconcile(pos *types.Position, lookup VenueLookup) ReconcileReport {
	var report ReconcileReport

	legs := []struct {
		orderID string
		legType string
		trigger types.ConditionalOrder
	}{
		{pos.StopOrderID, types.LegStopLoss, types.ConditionalOrder{TriggerPrice: pos.StopLoss}},
		{pos.TargetOrderID, types.LegTakeProfit, types.ConditionalOrder{TriggerPrice: pos.ProfitTarget}},
	}

	for _, leg := range legs {
		if leg.orderID == "" {
			continue
		}

		exists, err := r.repo.HasOrder(leg.orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", leg.orderID).Msg("Reconcile lookup failed")
			report.Failed++
			continue
		}

		if exists {
			rewritten, err := r.repo.BackfillPositionOrderID(leg.orderID, pos.EntryOrderID)
			if err != nil {
				log.Error().Err(err).Str("order_id", leg.orderID).Msg("Backfill failed")
				report.Failed++
				continue
			}
			// Rows already carrying a position order id match nothing;
			// only count backfills that rewrote a row.
			if rewritten > 0 {
				report.Backfilled++
				metrics.OrdersReconciled.WithLabelValues("backfilled").Inc()
			}
			continue
		}

		venueOrder, err := lookup(leg.orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", leg.orderID).Msg("Venue lookup failed during reconcile")
			report.Failed++
			continue
		}

		order := &types.ConditionalOrder{
			OrderID:         leg.orderID,
			PositionOrderID: pos.EntryOrderID,
			Symbol:          pos.Symbol,
			Side:            pos.Side,
			LegType:         leg.legType,
			TriggerPrice:    leg.trigger.TriggerPrice,
			Quantity:        pos.Quantity,
			Status:          mapVenueStatus(venueOrder.Status),
			CreatedAt:       time.Now().UTC(),
		}
		if err := r.repo.InsertConditionalOrder(order); err != nil {
			if errors.Is(err, storage.ErrDuplicateOrder) {
				// A concurrent writer beat us to it; already reconciled.
				continue
			}
			log.Error().Err(err).Str("order_id", leg.orderID).Msg("Reconcile insert failed")
			report.Failed++
			continue
		}

		report.Inserted++
		metrics.OrdersReconciled.WithLabelValues("inserted").Inc()
		log.Info().
			Str("symbol", pos.Symbol).
			Str("order_id", leg.orderID).
			Str("leg", leg.legType).
			Str("status", order.Status).
			Msg("📥 Reconciled protective leg")
	}

	return report
}

// ReconcileAll runs Reconcile over every given position and aggregates the
// per-position reports into one pass summary.
func (r *Reconciler) ReconcileAll(positions []*types.Position, lookup VenueLookup) ReconcileReport {
	var total ReconcileReport
	for _, pos := range positions {
		report := r.Reconcile(pos, lookup)
		total.Inserted += report.Inserted
		total.Backfilled += report.Backfilled
		total.Failed += report.Failed
	}
	return total
}

// mapVenueStatus maps venue-reported order state onto ledger status.
func mapVenueStatus(status string) string {
	switch status {
	case "open":
		return types.OrderActive
	case "finished":
		return types.OrderTriggered
	default:
		return types.OrderCancelled
	}
}

// RepairDuplicates removes rows sharing an order_id (and close events
// sharing a trigger_order_id), keeping the chronologically earliest row of
// each group. Safe to run repeatedly: a second run finds zero duplicates.
func (r *Reconciler) RepairDuplicates() (int, error) {
	deleted := 0

	orderGroups, err := r.store.DuplicateOrderGroups()
	if err != nil {
		return 0, err
	}
	for _, g := range orderGroups {
		if len(g.RowIDs) < 2 {
			continue
		}
		extras := g.RowIDs[1:]
		if err := r.store.DeleteOrderRows(extras); err != nil {
			log.Error().Err(err).Str("order_id", g.Key).Msg("Duplicate order delete failed")
			continue
		}
		deleted += len(extras)
		log.Warn().
			Str("order_id", g.Key).
			Int("removed", len(extras)).
			Msg("🧹 Duplicate conditional orders removed")
	}

	eventGroups, err := r.store.DuplicateCloseEventGroups()
	if err != nil {
		return deleted, err
	}
	for _, g := range eventGroups {
		if len(g.RowIDs) < 2 {
			continue
		}
		extras := g.RowIDs[1:]
		if err := r.store.DeleteCloseEventRows(extras); err != nil {
			log.Error().Err(err).Str("trigger_order_id", g.Key).Msg("Duplicate close event delete failed")
			continue
		}
		deleted += len(extras)
		log.Warn().
			Str("trigger_order_id", g.Key).
			Int("removed", len(extras)).
			Msg("🧹 Duplicate close events removed")
	}

	metrics.DuplicatesRemoved.Add(float64(deleted))
	return deleted, nil
}

// RepairAll runs duplicate removal plus timestamp normalization. The
// corrective batch tool for pre-existing data; new duplicates are already
// rejected at the write boundary.
func (r *Reconciler) RepairAll() (RepairReport, error) {
	deleted, err := r.RepairDuplicates()
	if err != nil {
		return RepairReport{DeletedCount: deleted}, err
	}

	normalized, err := r.store.NormalizeTimestamps()
	report := RepairReport{DeletedCount: deleted, TimestampsNormalized: normalized}
	if err != nil {
		return report, err
	}

	if deleted > 0 || normalized > 0 {
		log.Info().
			Int("duplicates_removed", deleted).
			Int64("timestamps_normalized", normalized).
			Msg("✅ Ledger repair complete")
	}
	return report, nil
}
