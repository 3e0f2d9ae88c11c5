// Package syncer drives one synchronization pass: validate the exchange
// rate, fetch and deduplicate the feed, then resolve, price, push and
// persist each row in strict sequence. It also owns the scheduled mode
// with its at-most-one-run guard.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Piaskraft/mjw-sync/internal/models"
	"github.com/Piaskraft/mjw-sync/internal/pricing"
	"github.com/Piaskraft/mjw-sync/internal/validate"
)

// FeedSource yields the supplier rows for one pass.
type FeedSource interface {
	Fetch(ctx context.Context) ([]models.FeedRow, error)
}

// RateSource yields the PLN-per-EUR rate for one pass.
type RateSource interface {
	Rate(ctx context.Context) (float64, error)
}

// CatalogService is the remote catalog rows are resolved against and
// prices/quantities pushed to.
type CatalogService interface {
	FindByEAN(ctx context.Context, ean string) (*models.CatalogProduct, error)
	FindByReference(ctx context.Context, ref string) (*models.CatalogProduct, error)
	UpdatePrice(ctx context.Context, productID int, price float64) error
	// StockAvailableID returns 0 with a nil error when no stock record
	// exists for the pair.
	StockAvailableID(ctx context.Context, productID, attributeID int) (int, error)
	UpdateQuantity(ctx context.Context, stockID, qty int) error
}

// PriceCache is the persistent last-price store backing the delta cap.
type PriceCache interface {
	Get(key string) (*models.CacheEntry, error)
	Upsert(entry models.CacheEntry) error
}

// AuditSink receives the per-run log records.
type AuditSink interface {
	BeginRun(mode string, start time.Time) error
	Record(models.SyncRecord)
	RecordError(models.ErrorRecord)
	EndRun()
}

// Orchestrator wires the collaborators of a sync pass.
type Orchestrator struct {
	Feed    FeedSource
	Rates   RateSource
	Catalog CatalogService
	Cache   PriceCache
	Audit   AuditSink
	Logger  *slog.Logger

	Bounds   validate.Bounds
	Margin   float64
	Ending   float64
	MaxDelta float64
	// ReqsPerSec paces the per-row catalog traffic; zero disables pacing.
	ReqsPerSec float64
	// Live controls whether catalog mutations actually execute. The
	// cache is updated either way so consecutive dry runs accumulate
	// consistent history for the delta cap.
	Live bool
}

// RunOnce executes a single synchronization pass. It returns an error
// only for run-level aborts (bad rate, unusable feed); row-level failures
// are logged and skipped.
func (o *Orchestrator) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync run panicked: %v", r)
		}
	}()

	start := time.Now()
	runID := uuid.NewString()
	mode := "dry"
	if o.Live {
		mode = "real"
	}
	log := o.Logger.With("run_id", runID, "mode", mode)
	log.Info("sync run starting")

	if err := o.Audit.BeginRun(mode, start); err != nil {
		return fmt.Errorf("opening audit logs: %w", err)
	}
	defer o.Audit.EndRun()

	rateValue, err := o.Rates.Rate(ctx)
	if err != nil {
		o.Audit.RecordError(o.errRecord(runID, "rate", "", "rate_unavailable", err))
		return fmt.Errorf("fetching exchange rate: %w", err)
	}
	if err := o.Bounds.CheckRate(rateValue); err != nil {
		o.Audit.RecordError(o.errRecord(runID, "rate", "", validate.Reason(err), err))
		return fmt.Errorf("exchange rate rejected: %w", err)
	}
	log.Info("exchange rate accepted", "pln_per_eur", rateValue)

	rows, err := o.Feed.Fetch(ctx)
	if err != nil {
		o.Audit.RecordError(o.errRecord(runID, "feed", "", "feed_failed", err))
		return fmt.Errorf("fetching feed: %w", err)
	}
	total := len(rows)
	rows = dedupe(rows)
	log.Info("feed fetched", "rows", total, "unique", len(rows))

	params := pricing.Params{Rate: rateValue, Margin: o.Margin, Ending: o.Ending, MaxDelta: o.MaxDelta}
	delay := pacingDelay(o.ReqsPerSec)
	for _, row := range rows {
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
		o.processRow(ctx, log, runID, mode, row, params)
	}

	log.Info("sync run finished")
	return nil
}

// processRow handles one feed row end to end. Failures here never abort
// the run: the row is recorded and the pass moves on.
func (o *Orchestrator) processRow(ctx context.Context, log *slog.Logger, runID, mode string, row models.FeedRow, params pricing.Params) {
	key := row.Key()

	if err := o.Bounds.CheckRow(row); err != nil {
		reason := validate.Reason(err)
		o.Audit.RecordError(o.errRecord(runID, "row", key, reason, err))
		log.Warn("row rejected", "key", key, "reason", reason)
		return
	}

	product, err := o.resolve(ctx, row)
	if err != nil {
		o.Audit.RecordError(o.errRecord(runID, "row", key, "catalog_lookup_failed", err))
		log.Warn("catalog lookup failed", "key", key, "err", err)
		return
	}
	if product == nil {
		// not an error: the catalog simply does not carry this product
		log.Info("no catalog match", "key", key)
		return
	}

	attrID := product.DefaultCombinationID
	if attrID < 0 {
		attrID = 0
	}

	previous := 0.0
	if cached, err := o.Cache.Get(key); err != nil {
		log.Warn("cache read failed, pricing without history", "key", key, "err", err)
	} else if cached != nil && cached.LastPriceNetEUR != nil {
		previous = *cached.LastPriceNetEUR
	}

	newPrice := pricing.Compute(row.NetPLN, 0, params)
	finalPrice := pricing.CapDelta(previous, newPrice, params.MaxDelta)
	qty := int(row.Qty)

	log.Info("row priced",
		"key", key, "product_id", product.ID,
		"old", previous, "new", newPrice, "final", finalPrice, "qty", qty)

	if o.Live {
		if err := o.Catalog.UpdatePrice(ctx, product.ID, finalPrice); err != nil {
			o.Audit.RecordError(o.errRecord(runID, "row", key, "price_update_failed", err))
			log.Error("price update failed", "key", key, "product_id", product.ID, "err", err)
			return
		}
		stockID, err := o.Catalog.StockAvailableID(ctx, product.ID, attrID)
		switch {
		case err != nil:
			o.Audit.RecordError(o.errRecord(runID, "row", key, "stock_lookup_failed", err))
			log.Warn("stock lookup failed", "key", key, "err", err)
		case stockID == 0:
			log.Warn("stock record missing", "key", key, "product_id", product.ID, "attribute_id", attrID)
		default:
			if err := o.Catalog.UpdateQuantity(ctx, stockID, qty); err != nil {
				o.Audit.RecordError(o.errRecord(runID, "row", key, "quantity_update_failed", err))
				log.Warn("quantity update failed", "key", key, "stock_id", stockID, "err", err)
			}
		}
	}

	entry := models.CacheEntry{
		Key:             key,
		ProductID:       product.ID,
		AttributeID:     attrID,
		LastPriceNetEUR: &finalPrice,
		LastQty:         &qty,
	}
	if err := o.Cache.Upsert(entry); err != nil {
		o.Audit.RecordError(o.errRecord(runID, "row", key, "cache_write_failed", err))
		log.Error("cache write failed", "key", key, "err", err)
	}

	o.Audit.Record(models.SyncRecord{
		Time:       time.Now().UTC(),
		RunID:      runID,
		Key:        key,
		ProductID:  product.ID,
		OldPrice:   previous,
		NewPrice:   newPrice,
		FinalPrice: finalPrice,
		Qty:        qty,
		Rate:       params.Rate,
		Mode:       mode,
	})
}

// resolve finds the catalog product for a row, EAN first, reference as
// the fallback. nil, nil means no match either way.
func (o *Orchestrator) resolve(ctx context.Context, row models.FeedRow) (*models.CatalogProduct, error) {
	if row.EAN != "" {
		p, err := o.Catalog.FindByEAN(ctx, row.EAN)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	if row.Reference != "" {
		return o.Catalog.FindByReference(ctx, row.Reference)
	}
	return nil, nil
}

// dedupe keeps the first occurrence of each product key. Rows without a
// key pass through for the validator to reject and record.
func dedupe(rows []models.FeedRow) []models.FeedRow {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		key := row.Key()
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, row)
	}
	return out
}

func (o *Orchestrator) errRecord(runID, typ, key, reason string, err error) models.ErrorRecord {
	rec := models.ErrorRecord{
		Time:   time.Now().UTC(),
		RunID:  runID,
		Type:   typ,
		Key:    key,
		Reason: reason,
	}
	if err != nil {
		rec.Detail = err.Error()
	}
	return rec
}

func pacingDelay(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
