package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	st, err := NewHybrid(mr.Addr(), 0, "", "", PGPoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func sampleSnapshot(at time.Time) *model.Snapshot {
	return model.NewSnapshot([]model.Item{
		{ID: "1", Class: model.ClassUnit, Denomination: 20, Price: decimal.RequireFromString("0.125"), Collection: "0xchecks"},
		{ID: "2", Class: model.ClassEdition, Denomination: 80, Price: decimal.RequireFromString("0.01"), Collection: "0xeditions"},
	}, at)
}

// --- Snapshot slots ---

func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	at := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)
	snap := sampleSnapshot(at)
	require.NoError(t, st.SaveSnapshot(ctx, snap))

	assert.True(t, mr.Exists(KeySnapshot))
	ts, err := mr.Get(KeySnapshotTimestamp)
	require.NoError(t, err)
	assert.Equal(t, "1769941800000", ts)
	assert.InDelta(t, DefaultRetention.Seconds(), mr.TTL(KeySnapshot).Seconds(), 1)

	loaded, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.ID(), loaded.ID())
	assert.True(t, at.Equal(loaded.CapturedAt()))
	require.Equal(t, 2, loaded.Len())

	items := loaded.Items()
	assert.True(t, decimal.RequireFromString("0.125").Equal(items[0].Price))
	assert.Equal(t, model.ClassEdition, items[1].Class)
}

func TestSnapshot_Missing(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	_, err := st.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_Corrupt(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, mr.Set(KeySnapshot, "not-json"))
	_, err := st.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_RetentionZeroKeepsForever(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	st.SetRetention(0)
	require.NoError(t, st.SaveSnapshot(ctx, sampleSnapshot(time.Now())))
	assert.Zero(t, mr.TTL(KeySnapshot))
}

func TestSnapshot_NegativeRetentionIgnored(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	st.SetRetention(time.Hour)
	st.SetRetention(-time.Minute)
	require.NoError(t, st.SaveSnapshot(ctx, sampleSnapshot(time.Now())))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL(KeySnapshotTimestamp).Seconds(), 1)
}

func TestLastUpdate(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	_, err := st.LastUpdate(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.UnixMilli(1_760_000_000_123).UTC()
	require.NoError(t, st.SetLastUpdate(ctx, at))

	got, err := st.LastUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	require.NoError(t, mr.Set(KeyLastUpdate, "yesterday"))
	_, err = st.LastUpdate(ctx)
	assert.Error(t, err)
}

// --- HealthCheck Tests ---

func TestHealthCheck_Success(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.HealthCheck(context.Background()))
}

func TestHealthCheck_RedisNil(t *testing.T) {
	st := &HybridStore{redis: nil}
	err := st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := &HybridStore{redis: rdb}

	mr.Close()

	err = st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

// --- Close Tests ---

func TestClose_NilComponents(t *testing.T) {
	st := &HybridStore{}
	require.NoError(t, st.Close())
}

// --- Run history without Postgres ---

func TestRunHistory_DisabledWithoutPG(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.EnsureSchema(ctx), "schema setup is a no-op without postgres")

	err := st.RecordRun(ctx, model.RunSummary{TotalCost: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrHistoryDisabled)

	runs, err := st.RecentRuns(ctx, 10)
	assert.Nil(t, runs)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}

// --- Run row mapping ---

// fakeRow serves fixed column values to scanRun the way pgx would.
type fakeRow struct {
	values []any
}

func (r fakeRow) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r fakeRow) Values() ([]any, error) { return r.values, nil }

func (r fakeRow) RawValues() [][]byte { return nil }

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func sampleRun() model.RunSummary {
	return model.RunSummary{
		RunID:            uuid.New(),
		SnapshotID:       uuid.New(),
		CapturedAt:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		ComputedAt:       time.Date(2026, 5, 1, 9, 0, 3, 0, time.UTC),
		ItemCount:        812,
		Satisfiable:      true,
		TotalCost:        decimal.RequireFromString("12.345678901234567891"),
		EditionSweepCost: decimal.RequireFromString("3.5"),
		UnitSweepCost:    decimal.RequireFromString("0"),
	}
}

func TestRunRow_RoundTripWithoutCheapest(t *testing.T) {
	run := sampleRun()

	args := runArgs(run)
	require.Len(t, args, 10)
	assert.Equal(t, "12.345678901234567891", args[6])
	assert.Nil(t, args[9].(*string), "missing cheapest price is written as NULL")

	got, err := scanRun(fakeRow{values: args})
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.SnapshotID, got.SnapshotID)
	assert.True(t, run.ComputedAt.Equal(got.ComputedAt))
	assert.Equal(t, 812, got.ItemCount)
	assert.True(t, got.Satisfiable)
	assert.True(t, run.TotalCost.Equal(got.TotalCost))
	assert.True(t, run.EditionSweepCost.Equal(got.EditionSweepCost))
	assert.True(t, got.UnitSweepCost.IsZero())
	assert.Nil(t, got.CheapestSingle)
}

func TestRunRow_RoundTripWithCheapest(t *testing.T) {
	run := sampleRun()
	price := decimal.RequireFromString("0.0421")
	run.CheapestSingle = &price

	got, err := scanRun(fakeRow{values: runArgs(run)})
	require.NoError(t, err)
	require.NotNil(t, got.CheapestSingle)
	assert.True(t, price.Equal(*got.CheapestSingle))
}

func TestRunRow_BadNumeric(t *testing.T) {
	args := runArgs(sampleRun())
	args[7] = "NaN-ish"

	_, err := scanRun(fakeRow{values: args})
	assert.ErrorContains(t, err, "parse numeric")
}

// --- SetJSON / GetJSON ---

func TestJSON_RoundTripAndMissing(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.SetJSON(ctx, "report:last", map[string]int{"units": 64}, time.Minute))

	var dest map[string]int
	require.NoError(t, st.GetJSON(ctx, "report:last", &dest))
	assert.Equal(t, 64, dest["units"])

	err := st.GetJSON(ctx, "nonexistent:key", &dest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetJSON_NilValue(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.SetJSON(context.Background(), "test:nil", nil, 0))
}

// --- NewHybrid ---

func TestNewHybrid_NilLogger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(mr.Addr(), 0, "", "", PGPoolConfig{}, nil)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NoError(t, st.Close())
}

func TestNewHybrid_RedisPassword(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	mr.RequireAuth("s3cret")

	_, err = NewHybrid(mr.Addr(), 0, "", "", PGPoolConfig{}, nil)
	assert.Error(t, err)

	st, err := NewHybrid(mr.Addr(), 0, "s3cret", "", PGPoolConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid("localhost:1", 0, "", "", PGPoolConfig{}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(mr.Addr(), 0, "", "not-a-valid-pg-url", PGPoolConfig{}, nil)
	assert.Error(t, err)
}
