package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/catalog"
	"github.com/Checker-Finance/checks-optimizer/internal/optimizer"
	"github.com/Checker-Finance/checks-optimizer/internal/store"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

type stubCatalog struct {
	lookup catalog.Lookup
	err    error
	forced []bool
}

func (s *stubCatalog) Get(_ context.Context, force bool) (catalog.Lookup, error) {
	s.forced = append(s.forced, force)
	return s.lookup, s.err
}

func unitItems(d, n int, price string, prefix string) []model.Item {
	out := make([]model.Item, n)
	for i := range out {
		out[i] = model.Item{
			ID:           fmt.Sprintf("%s%d", prefix, i),
			Class:        model.ClassUnit,
			Denomination: d,
			Price:        decimal.RequireFromString(price),
			Collection:   "0xchecks",
			Image:        "img",
		}
	}
	return out
}

func TestReport_FullResult(t *testing.T) {
	items := append(unitItems(80, 64, "1", "u"), unitItems(1, 2, "0.5", "single")...)
	items = append(items, model.Item{ID: "e1", Class: model.ClassEdition, Denomination: 80,
		Price: decimal.RequireFromString("3"), Collection: "0xeditions"})
	snap := model.NewSnapshot(items, time.Now())
	cat := &stubCatalog{lookup: catalog.Lookup{Snapshot: snap, Age: 90 * time.Second}}

	svc := New(zap.NewNop(), cat, "https://opensea.io/assets/")
	r, err := svc.Report(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, cat.forced)
	assert.Equal(t, snap.ID(), r.SnapshotID)
	assert.Equal(t, 90.0, r.SnapshotAgeSeconds)
	assert.Equal(t, 67, r.ItemCount)
	assert.False(t, r.Stale)
	assert.Empty(t, r.Warning)

	require.True(t, r.Optimization.Satisfiable)
	assert.True(t, decimal.NewFromInt(64).Equal(r.Optimization.TotalCost))
	require.Len(t, r.Optimization.Combination, 1)
	g := r.Optimization.Combination[0]
	assert.Equal(t, optimizer.UnitTier(80), g.Tier)
	assert.Len(t, g.URLs, 64)
	assert.Equal(t, "https://opensea.io/assets/0xchecks/u0", g.CheapestURL)

	assert.Equal(t, 64, r.Sweep.Units.Count)
	assert.True(t, decimal.NewFromInt(63).Equal(r.Sweep.Units.Cost), "two 0.5 singles plus 62 ones")
	assert.Equal(t, 1, r.Sweep.Editions.Count)

	require.NotNil(t, r.Cheapest)
	assert.Equal(t, "single0", r.Cheapest.TokenID)
	assert.Equal(t, 1, r.Cheapest.GridSize)
	assert.Equal(t, "https://opensea.io/assets/0xchecks/single0", r.Cheapest.URL)
	assert.GreaterOrEqual(t, r.APIDurationMs, int64(0))
}

func TestReport_StaleFallbackCarriesWarning(t *testing.T) {
	snap := model.NewSnapshot(unitItems(80, 3, "1", "u"), time.Now())
	cat := &stubCatalog{lookup: catalog.Lookup{
		Snapshot: snap,
		Stale:    true,
		Warning:  fmt.Errorf("%w: upstream 502", model.ErrSourceUnavailable),
	}}

	r, err := New(zap.NewNop(), cat, "https://m").Report(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, r.Stale)
	assert.Contains(t, r.Warning, "upstream 502")
	assert.False(t, r.Optimization.Satisfiable)
	assert.Empty(t, r.Optimization.Combination)
	assert.Nil(t, r.Cheapest)
}

func TestReport_CatalogError(t *testing.T) {
	cat := &stubCatalog{err: fmt.Errorf("%w: cold start", model.ErrSourceUnavailable)}

	r, err := New(zap.NewNop(), cat, "https://m").Report(context.Background(), false)
	assert.Nil(t, r)
	assert.True(t, errors.Is(err, model.ErrSourceUnavailable))
}

func TestReport_JSONShape(t *testing.T) {
	snap := model.NewSnapshot(unitItems(80, 64, "1", "u"), time.Now())
	r, err := New(zap.NewNop(), &stubCatalog{lookup: catalog.Lookup{Snapshot: snap}}, "https://m").
		Report(context.Background(), false)
	require.NoError(t, err)

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var shape map[string]any
	require.NoError(t, json.Unmarshal(raw, &shape))
	for _, key := range []string{"optimalCombination", "sweepPrices", "cheapestSingleCheck", "snapshotAgeSeconds", "apiDuration"} {
		assert.Contains(t, shape, key)
	}
	combo := shape["optimalCombination"].(map[string]any)["combination"].([]any)
	group := combo[0].(map[string]any)
	assert.Equal(t, "80 grid", group["tier"])
	assert.Contains(t, group, "cheapestUrl")
}

func TestSummarize(t *testing.T) {
	price := decimal.RequireFromString("0.2")
	r := &Report{
		ItemCount:    10,
		Optimization: Optimization{Satisfiable: true, TotalCost: decimal.NewFromInt(5)},
		Sweep: optimizer.SweepResult{
			Editions: optimizer.ClassSweep{Cost: decimal.NewFromInt(7)},
			Units:    optimizer.ClassSweep{Cost: decimal.NewFromInt(9)},
		},
		Cheapest: &Cheapest{Price: price},
	}
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))

	run := Summarize(r, at)
	assert.NotEqual(t, r.SnapshotID, run.RunID)
	assert.Equal(t, time.UTC, run.ComputedAt.Location())
	assert.True(t, run.TotalCost.Equal(decimal.NewFromInt(5)))
	assert.True(t, run.EditionSweepCost.Equal(decimal.NewFromInt(7)))
	assert.True(t, run.UnitSweepCost.Equal(decimal.NewFromInt(9)))
	require.NotNil(t, run.CheapestSingle)
	assert.True(t, run.CheapestSingle.Equal(price))
}

func newReportStore(t *testing.T) (*store.HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.NewHybrid(mr.Addr(), 0, "", "", store.PGPoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestLastReport_SavedAfterEachReport(t *testing.T) {
	st, mr := newReportStore(t)
	items := append(unitItems(80, 64, "2", "u"), unitItems(1, 1, "0.7", "single")...)
	snap := model.NewSnapshot(items, time.Now())
	svc := New(zap.NewNop(), &stubCatalog{lookup: catalog.Lookup{Snapshot: snap}}, "https://m",
		WithReportCache(st, time.Hour))

	_, err := svc.LastReport(context.Background())
	assert.ErrorIs(t, err, ErrNoReport)

	want, err := svc.Report(context.Background(), false)
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL(store.KeyLastReport).Seconds(), 1)

	got, err := svc.LastReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.SnapshotID, got.SnapshotID)
	assert.True(t, want.CapturedAt.Equal(got.CapturedAt))
	assert.True(t, got.Optimization.Satisfiable)
	assert.True(t, decimal.NewFromInt(128).Equal(got.Optimization.TotalCost))
	require.Len(t, got.Optimization.Combination, 1)
	assert.Equal(t, optimizer.UnitTier(80), got.Optimization.Combination[0].Tier)
	assert.Len(t, got.Optimization.Combination[0].URLs, 64)
	require.NotNil(t, got.Cheapest)
	assert.Equal(t, "single0", got.Cheapest.TokenID)
	assert.True(t, decimal.RequireFromString("0.7").Equal(got.Cheapest.Price))
}

func TestLastReport_WithoutCache(t *testing.T) {
	svc := New(zap.NewNop(), &stubCatalog{}, "https://m")
	_, err := svc.LastReport(context.Background())
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestReport_SaveFailureDoesNotFailReport(t *testing.T) {
	st, mr := newReportStore(t)
	snap := model.NewSnapshot(unitItems(80, 2, "1", "u"), time.Now())
	svc := New(zap.NewNop(), &stubCatalog{lookup: catalog.Lookup{Snapshot: snap}}, "https://m",
		WithReportCache(st, 0))

	mr.Close()
	r, err := svc.Report(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, snap.ID(), r.SnapshotID)
}
