package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// Redis slots.
const (
	KeySnapshot          = "checks_cache"
	KeySnapshotTimestamp = "checks_cache_timestamp"
	KeyLastUpdate        = "last_update_time"
	KeyLastReport        = "checks_last_report"
)

var (
	// ErrNotFound is returned when a slot has never been written.
	ErrNotFound = errors.New("not found")
	// ErrHistoryDisabled is returned by run-history calls when no database is configured.
	ErrHistoryDisabled = errors.New("run history disabled: postgres not configured")
)

// HybridStore keeps snapshot slots in Redis and optional run history in Postgres.
type HybridStore struct {
	redis     *redis.Client
	PG        *pgxpool.Pool
	logger    *zap.Logger
	retention time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultRetention is how long a persisted snapshot survives in Redis.
const DefaultRetention = 24 * time.Hour

// NewHybrid creates a Redis-backed snapshot store with optional Postgres run history.
func NewHybrid(redisAddr string, redisDB int, redisPass string, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger, retention: DefaultRetention}, nil
}

// SetRetention changes the Redis expiry applied to snapshot slots. Zero keeps them forever.
// Negative values are ignored.
func (s *HybridStore) SetRetention(d time.Duration) {
	if d < 0 {
		return
	}
	s.retention = d
}

// SaveSnapshot writes the snapshot and its capture time in one transaction.
func (s *HybridStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	ts := strconv.FormatInt(snap.CapturedAt().UnixMilli(), 10)

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, KeySnapshot, data, s.retention)
		p.Set(ctx, KeySnapshotTimestamp, ts, s.retention)
		return nil
	})
	if err != nil {
		s.logger.Error("store.redis.save_snapshot_failed", zap.Error(err))
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted snapshot, or ErrNotFound.
func (s *HybridStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.redis.Get(ctx, KeySnapshot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// SetLastUpdate records the time of the last successful refresh.
func (s *HybridStore) SetLastUpdate(ctx context.Context, t time.Time) error {
	return s.redis.Set(ctx, KeyLastUpdate, strconv.FormatInt(t.UnixMilli(), 10), 0).Err()
}

// LastUpdate returns the last successful refresh time, or ErrNotFound.
func (s *HybridStore) LastUpdate(ctx context.Context) (time.Time, error) {
	return s.millis(ctx, KeyLastUpdate)
}

func (s *HybridStore) millis(ctx context.Context, key string) (time.Time, error) {
	raw, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	} else if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS market;
	CREATE TABLE IF NOT EXISTS market.optimization_runs (
		run_id             UUID PRIMARY KEY,
		snapshot_id        UUID NOT NULL,
		captured_at        TIMESTAMPTZ NOT NULL,
		computed_at        TIMESTAMPTZ NOT NULL,
		item_count         INTEGER NOT NULL,
		satisfiable        BOOLEAN NOT NULL,
		total_cost         NUMERIC(38, 18) NOT NULL,
		edition_sweep_cost NUMERIC(38, 18) NOT NULL,
		unit_sweep_cost    NUMERIC(38, 18) NOT NULL,
		cheapest_single    NUMERIC(38, 18)
	);
	CREATE INDEX IF NOT EXISTS optimization_runs_computed_at_idx
		ON market.optimization_runs (computed_at DESC);
`

// EnsureSchema creates the run-history table when Postgres is configured.
func (s *HybridStore) EnsureSchema(ctx context.Context) error {
	if s.PG == nil {
		return nil
	}
	if _, err := s.PG.Exec(ctx, schemaDDL); err != nil {
		s.logger.Error("store.pg.ensure_schema_failed", zap.Error(err))
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordRun inserts one optimizer run into market.optimization_runs.
func (s *HybridStore) RecordRun(ctx context.Context, run model.RunSummary) error {
	if s.PG == nil {
		return ErrHistoryDisabled
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO market.optimization_runs (
			run_id, snapshot_id, captured_at, computed_at, item_count, satisfiable,
			total_cost, edition_sweep_cost, unit_sweep_cost, cheapest_single
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric)
		ON CONFLICT (run_id) DO NOTHING
	`, runArgs(run)...)
	if err != nil {
		s.logger.Error("store.pg.insert_run_failed", zap.Error(err))
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *HybridStore) RecentRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if s.PG == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.PG.Query(ctx, `
		SELECT run_id, snapshot_id, captured_at, computed_at, item_count, satisfiable,
		       total_cost::text, edition_sweep_cost::text, unit_sweep_cost::text, cheapest_single::text
		FROM market.optimization_runs
		ORDER BY computed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

// runArgs orders a run's columns for the insert. Numerics travel as text so no
// precision is lost; a missing cheapest price becomes NULL.
func runArgs(run model.RunSummary) []any {
	var cheapest *string
	if run.CheapestSingle != nil {
		v := run.CheapestSingle.String()
		cheapest = &v
	}
	return []any{
		run.RunID, run.SnapshotID, run.CapturedAt, run.ComputedAt, run.ItemCount, run.Satisfiable,
		run.TotalCost.String(), run.EditionSweepCost.String(), run.UnitSweepCost.String(), cheapest,
	}
}

func scanRun(row pgx.CollectableRow) (model.RunSummary, error) {
	var (
		r                      model.RunSummary
		total, editions, units string
		cheapest               *string
	)
	if err := row.Scan(&r.RunID, &r.SnapshotID, &r.CapturedAt, &r.ComputedAt, &r.ItemCount, &r.Satisfiable,
		&total, &editions, &units, &cheapest); err != nil {
		return r, err
	}
	var err error
	if r.TotalCost, err = parseDecimal(total); err != nil {
		return r, err
	}
	if r.EditionSweepCost, err = parseDecimal(editions); err != nil {
		return r, err
	}
	if r.UnitSweepCost, err = parseDecimal(units); err != nil {
		return r, err
	}
	if cheapest != nil {
		d, err := parseDecimal(*cheapest)
		if err != nil {
			return r, err
		}
		r.CheapestSingle = &d
	}
	return r, nil
}

// SetJSON stores value as JSON under key. A zero ttl keeps it forever.
func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the JSON stored under key into dest, or returns ErrNotFound.
func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}
