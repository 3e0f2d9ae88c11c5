package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Piaskraft/mjw-sync/internal/models"
	"github.com/Piaskraft/mjw-sync/internal/validate"
)

type fakeFeed struct {
	rows []models.FeedRow
	err  error
}

func (f *fakeFeed) Fetch(ctx context.Context) ([]models.FeedRow, error) {
	return f.rows, f.err
}

type fakeRates struct {
	rate float64
	err  error
}

func (f *fakeRates) Rate(ctx context.Context) (float64, error) {
	return f.rate, f.err
}

type fakeCatalog struct {
	byEAN map[string]*models.CatalogProduct
	byRef map[string]*models.CatalogProduct

	stockID     int
	stockErr    error
	priceErr    error
	quantityErr error

	eanLookups   []string
	refLookups   []string
	priceCalls   []priceCall
	qtyCalls     []qtyCall
	stockLookups []stockLookup
}

type priceCall struct {
	productID int
	price     float64
}

type qtyCall struct {
	stockID int
	qty     int
}

type stockLookup struct {
	productID   int
	attributeID int
}

func (f *fakeCatalog) FindByEAN(ctx context.Context, ean string) (*models.CatalogProduct, error) {
	f.eanLookups = append(f.eanLookups, ean)
	return f.byEAN[ean], nil
}

func (f *fakeCatalog) FindByReference(ctx context.Context, ref string) (*models.CatalogProduct, error) {
	f.refLookups = append(f.refLookups, ref)
	return f.byRef[ref], nil
}

func (f *fakeCatalog) UpdatePrice(ctx context.Context, productID int, price float64) error {
	f.priceCalls = append(f.priceCalls, priceCall{productID, price})
	return f.priceErr
}

func (f *fakeCatalog) StockAvailableID(ctx context.Context, productID, attributeID int) (int, error) {
	f.stockLookups = append(f.stockLookups, stockLookup{productID, attributeID})
	return f.stockID, f.stockErr
}

func (f *fakeCatalog) UpdateQuantity(ctx context.Context, stockID, qty int) error {
	f.qtyCalls = append(f.qtyCalls, qtyCall{stockID, qty})
	return f.quantityErr
}

type fakeCache struct {
	entries map[string]models.CacheEntry
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]models.CacheEntry)}
}

func (f *fakeCache) Get(key string) (*models.CacheEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeCache) Upsert(entry models.CacheEntry) error {
	f.entries[entry.Key] = entry
	return nil
}

type fakeSink struct {
	began   bool
	ended   bool
	records []models.SyncRecord
	errs    []models.ErrorRecord
}

func (f *fakeSink) BeginRun(mode string, start time.Time) error { f.began = true; return nil }
func (f *fakeSink) Record(rec models.SyncRecord)                { f.records = append(f.records, rec) }
func (f *fakeSink) RecordError(rec models.ErrorRecord)          { f.errs = append(f.errs, rec) }
func (f *fakeSink) EndRun()                                     { f.ended = true }

func reasons(errs []models.ErrorRecord) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Reason)
	}
	return out
}

func newOrchestrator(feed *fakeFeed, rates *fakeRates, cat *fakeCatalog, cache *fakeCache, sink *fakeSink) *Orchestrator {
	return &Orchestrator{
		Feed:     feed,
		Rates:    rates,
		Catalog:  cat,
		Cache:    cache,
		Audit:    sink,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bounds:   validate.DefaultBounds(),
		Margin:   0.34,
		Ending:   0.99,
		MaxDelta: 0.10,
		Live:     false,
	}
}

func TestRunOnceFirstTimePricing(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111", DefaultCombinationID: 0}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 7, NetPLN: 10.00}}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}}
	cache := newFakeCache()
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)

	require.NoError(t, o.RunOnce(context.Background()))

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "111", rec.Key)
	assert.Equal(t, 0.0, rec.OldPrice)
	assert.Equal(t, 3.99, rec.NewPrice)
	assert.Equal(t, 3.99, rec.FinalPrice)
	assert.Equal(t, 7, rec.Qty)
	assert.Equal(t, "dry", rec.Mode)

	entry, ok := cache.entries["111"]
	require.True(t, ok, "cache updated even in dry mode")
	assert.Equal(t, 42, entry.ProductID)
	assert.Equal(t, 3.99, *entry.LastPriceNetEUR)
	assert.Equal(t, 7, *entry.LastQty)

	assert.Empty(t, cat.priceCalls, "dry mode must not touch the catalog")
	assert.Empty(t, cat.qtyCalls)
	assert.True(t, sink.began)
	assert.True(t, sink.ended)
}

func TestRunOnceCapsAgainstCachedPrice(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111"}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 1, NetPLN: 10.00}}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}}
	cache := newFakeCache()
	prev := 3.00
	cache.entries["111"] = models.CacheEntry{Key: "111", ProductID: 42, LastPriceNetEUR: &prev}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)

	require.NoError(t, o.RunOnce(context.Background()))

	require.Len(t, sink.records, 1)
	assert.Equal(t, 3.00, sink.records[0].OldPrice)
	assert.Equal(t, 3.99, sink.records[0].NewPrice)
	assert.Equal(t, 3.30, sink.records[0].FinalPrice, "capped to previous*1.10")
	assert.Equal(t, 3.30, *cache.entries["111"].LastPriceNetEUR)
}

func TestRunOnceLiveModePushesUpdates(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111", DefaultCombinationID: 0}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 7, NetPLN: 10.00}}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}, stockID: 77}
	cache := newFakeCache()
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)
	o.Live = true

	require.NoError(t, o.RunOnce(context.Background()))

	require.Len(t, cat.priceCalls, 1)
	assert.Equal(t, priceCall{42, 3.99}, cat.priceCalls[0])
	require.Len(t, cat.stockLookups, 1)
	assert.Equal(t, stockLookup{42, 0}, cat.stockLookups[0])
	require.Len(t, cat.qtyCalls, 1)
	assert.Equal(t, qtyCall{77, 7}, cat.qtyCalls[0])
	assert.Equal(t, "real", sink.records[0].Mode)
}

func TestRunOnceAbortsOnBadRate(t *testing.T) {
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 1, NetPLN: 10}}}
	cat := &fakeCatalog{}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 250}, cat, newFakeCache(), sink)

	err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, cat.eanLookups, "no row processed after a rate abort")
	assert.Contains(t, reasons(sink.errs), "rate_out_of_range")
	assert.Equal(t, "rate", sink.errs[0].Type)
	assert.True(t, sink.ended)
}

func TestRunOnceAbortsOnRateUnavailable(t *testing.T) {
	sink := &fakeSink{}
	o := newOrchestrator(&fakeFeed{}, &fakeRates{err: errors.New("ecb down")}, &fakeCatalog{}, newFakeCache(), sink)

	require.Error(t, o.RunOnce(context.Background()))
	assert.Contains(t, reasons(sink.errs), "rate_unavailable")
}

func TestRunOnceAbortsOnFeedFailure(t *testing.T) {
	sink := &fakeSink{}
	o := newOrchestrator(&fakeFeed{err: errors.New("boom")}, &fakeRates{rate: 4.30}, &fakeCatalog{}, newFakeCache(), sink)

	require.Error(t, o.RunOnce(context.Background()))
	assert.Contains(t, reasons(sink.errs), "feed_failed")
}

func TestRunOnceSkipsInvalidRowWithoutCatalogCall(t *testing.T) {
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: -1, NetPLN: 10}}}
	cat := &fakeCatalog{}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, newFakeCache(), sink)

	require.NoError(t, o.RunOnce(context.Background()), "invalid row is not a run failure")
	assert.Empty(t, cat.eanLookups, "no catalog call for a rejected row")
	assert.Contains(t, reasons(sink.errs), "qty_out_of_range")
	assert.Empty(t, sink.records)
}

func TestRunOnceRecordsMissingKey(t *testing.T) {
	feed := &fakeFeed{rows: []models.FeedRow{{Qty: 1, NetPLN: 10}}}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, &fakeCatalog{}, newFakeCache(), sink)

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Contains(t, reasons(sink.errs), "missing_key")
}

func TestRunOnceDeduplicatesByKey(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111"}
	feed := &fakeFeed{rows: []models.FeedRow{
		{EAN: "111", Qty: 1, NetPLN: 10.00},
		{EAN: "111", Qty: 99, NetPLN: 50.00},
	}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, newFakeCache(), sink)

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Len(t, cat.eanLookups, 1, "second occurrence dropped before processing")
	require.Len(t, sink.records, 1)
	assert.Equal(t, 1, sink.records[0].Qty, "first occurrence wins")
}

func TestRunOnceFallsBackToReferenceLookup(t *testing.T) {
	product := &models.CatalogProduct{ID: 9, Reference: "REF-1", DefaultCombinationID: 5}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Reference: "REF-1", Qty: 2, NetPLN: 10.00}}}
	cat := &fakeCatalog{byRef: map[string]*models.CatalogProduct{"REF-1": product}}
	cache := newFakeCache()
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)

	require.NoError(t, o.RunOnce(context.Background()))

	assert.Equal(t, []string{"111"}, cat.eanLookups)
	assert.Equal(t, []string{"REF-1"}, cat.refLookups)
	entry, ok := cache.entries["111"]
	require.True(t, ok, "cache keyed by the row key (ean), not the matched field")
	assert.Equal(t, 5, entry.AttributeID, "variant id taken from the resolved product")
}

func TestRunOnceSkipsUnresolvedRowQuietly(t *testing.T) {
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "999", Qty: 1, NetPLN: 10.00}}}
	cat := &fakeCatalog{}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, newFakeCache(), sink)

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Empty(t, sink.records)
	assert.Empty(t, sink.errs, "an unknown product is informational, not an error")
}

func TestRunOnceNegativeVariantCoercedToZero(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111", DefaultCombinationID: -4}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 1, NetPLN: 10.00}}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}, stockID: 77}
	cache := newFakeCache()
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)
	o.Live = true

	require.NoError(t, o.RunOnce(context.Background()))
	require.Len(t, cat.stockLookups, 1)
	assert.Equal(t, 0, cat.stockLookups[0].attributeID)
	assert.Equal(t, 0, cache.entries["111"].AttributeID)
}

func TestRunOnceLivePriceUpdateFailureSkipsRow(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111"}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 1, NetPLN: 10.00}}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}, priceErr: errors.New("api rejected")}
	cache := newFakeCache()
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)
	o.Live = true

	require.NoError(t, o.RunOnce(context.Background()), "a failed row does not fail the run")
	assert.Contains(t, reasons(sink.errs), "price_update_failed")
	assert.Empty(t, sink.records)
	_, ok := cache.entries["111"]
	assert.False(t, ok, "cache reflects pushed state only when the push succeeded")
}

func TestRunOnceLiveMissingStockIsNonFatal(t *testing.T) {
	product := &models.CatalogProduct{ID: 42, EAN13: "111"}
	feed := &fakeFeed{rows: []models.FeedRow{{EAN: "111", Qty: 3, NetPLN: 10.00}}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"111": product}, stockID: 0}
	cache := newFakeCache()
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, cache, sink)
	o.Live = true

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Empty(t, cat.qtyCalls)
	require.Len(t, sink.records, 1, "row still recorded and cached")
	_, ok := cache.entries["111"]
	assert.True(t, ok)
}

func TestRunOnceContinuesAfterBadRow(t *testing.T) {
	good := &models.CatalogProduct{ID: 1, EAN13: "222"}
	feed := &fakeFeed{rows: []models.FeedRow{
		{EAN: "111", Qty: -1, NetPLN: 10.00}, // rejected
		{EAN: "222", Qty: 2, NetPLN: 10.00},  // processed
	}}
	cat := &fakeCatalog{byEAN: map[string]*models.CatalogProduct{"222": good}}
	sink := &fakeSink{}
	o := newOrchestrator(feed, &fakeRates{rate: 4.30}, cat, newFakeCache(), sink)

	require.NoError(t, o.RunOnce(context.Background()))
	require.Len(t, sink.records, 1)
	assert.Equal(t, "222", sink.records[0].Key)
}

func TestDedupe(t *testing.T) {
	rows := dedupe([]models.FeedRow{
		{EAN: "a", NetPLN: 1},
		{Reference: "b", NetPLN: 2},
		{EAN: "a", NetPLN: 3},
		{NetPLN: 4}, // keyless rows pass through
		{Reference: "b", NetPLN: 5},
	})
	require.Len(t, rows, 3)
	assert.Equal(t, 1.0, rows[0].NetPLN)
	assert.Equal(t, 2.0, rows[1].NetPLN)
	assert.Equal(t, 4.0, rows[2].NetPLN)
}

func TestPacingDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), pacingDelay(0))
	assert.Equal(t, 200*time.Millisecond, pacingDelay(5))
	assert.Equal(t, time.Second, pacingDelay(1))
}
