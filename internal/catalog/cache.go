package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/checks-optimizer/internal/metrics"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

const refreshKey = "catalog"

// SnapshotStore persists the current snapshot across restarts.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	SetLastUpdate(ctx context.Context, t time.Time) error
}

// Publisher receives refresh notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// Options tune freshness and the size of one refresh.
type Options struct {
	TTL        time.Duration
	StaleGrace time.Duration
	// RefreshTimeout bounds one whole refresh, all pages of all filters.
	RefreshTimeout time.Duration
	PageSize       int
	// MaxItemsPerSequence caps the listings read by one fetch sequence, i.e. one
	// class/filter pair. The unit class runs one sequence per entry in Denominations,
	// so it can hold up to len(Denominations) times this many items.
	MaxItemsPerSequence int
	// Denominations lists the unit grid filters; one fetch sequence runs per entry.
	Denominations    []int
	FetchConcurrency int
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		TTL:                 time.Hour,
		RefreshTimeout:      45 * time.Second,
		PageSize:            100,
		MaxItemsPerSequence: 1000,
		Denominations:       []int{1, 4, 5, 10, 20, 40, 80},
		FetchConcurrency:    4,
	}
}

// Lookup is what Get hands back: a snapshot plus how it was obtained.
type Lookup struct {
	Snapshot *model.Snapshot
	// Age is the snapshot's age when the lookup was served.
	Age time.Duration
	// Stale is set when the snapshot is at least TTL old.
	Stale bool
	// Refreshed is set when this lookup waited on a successful refresh.
	Refreshed bool
	// Warning carries the refresh failure when a previous snapshot was served instead.
	Warning error
}

// Option customizes a Cache.
type Option func(*Cache)

// WithStore persists snapshots and restores one on cold start.
func WithStore(s SnapshotStore) Option {
	return func(c *Cache) { c.store = s }
}

// WithPublisher announces every installed snapshot.
func WithPublisher(p Publisher) Option {
	return func(c *Cache) { c.pub = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache holds the one shared catalog snapshot.
// Readers never lock; refreshes are collapsed into a single in-flight call.
type Cache struct {
	logger *zap.Logger
	source model.ListingSource
	store  SnapshotStore
	pub    Publisher
	opts   Options
	now    func() time.Time

	current  atomic.Pointer[model.Snapshot]
	group    singleflight.Group
	restored sync.Once
	bg       sync.WaitGroup
}

// New creates a cold cache. Nothing is fetched until the first Get.
func New(logger *zap.Logger, source model.ListingSource, opts Options, options ...Option) *Cache {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = def.RefreshTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxItemsPerSequence <= 0 {
		opts.MaxItemsPerSequence = def.MaxItemsPerSequence
	}
	if len(opts.Denominations) == 0 {
		opts.Denominations = def.Denominations
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = def.FetchConcurrency
	}
	if opts.StaleGrace < 0 {
		opts.StaleGrace = 0
	}

	c := &Cache{
		logger: logger,
		source: source,
		opts:   opts,
		now:    time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Current returns the installed snapshot without triggering a refresh, or nil.
func (c *Cache) Current() *model.Snapshot {
	return c.current.Load()
}

// Get returns a snapshot, refreshing it when forced or older than TTL.
// Between TTL and TTL+StaleGrace the old snapshot is served and a refresh starts in the background.
// When a refresh fails and a snapshot exists it is returned with Warning set;
// with no snapshot the error wraps model.ErrSourceUnavailable.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (Lookup, error) {
	c.Restore(ctx)

	if snap := c.current.Load(); snap != nil && !forceRefresh {
		age := snap.Age(c.now())
		switch {
		case age < c.opts.TTL:
			metrics.IncLookup("hit")
			return Lookup{Snapshot: snap, Age: age}, nil
		case age < c.opts.TTL+c.opts.StaleGrace:
			metrics.IncLookup("stale")
			c.refreshInBackground()
			return Lookup{Snapshot: snap, Age: age, Stale: true}, nil
		}
	}

	fresh, err := c.refresh(ctx)
	if err == nil {
		metrics.IncLookup("refresh")
		return c.lookup(fresh, nil), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.IncLookup("error")
		return Lookup{}, fmt.Errorf("catalog lookup: %w", ctxErr)
	}

	if prev := c.current.Load(); prev != nil {
		metrics.IncLookup("fallback")
		c.logger.Warn("catalog.serving_stale",
			zap.String("snapshot_id", prev.ID().String()),
			zap.Duration("age", prev.Age(c.now())),
			zap.Error(err))
		return c.lookup(prev, err), nil
	}

	metrics.IncLookup("error")
	return Lookup{}, err
}

func (c *Cache) lookup(snap *model.Snapshot, warning error) Lookup {
	age := snap.Age(c.now())
	return Lookup{
		Snapshot:  snap,
		Age:       age,
		Stale:     age >= c.opts.TTL,
		Refreshed: warning == nil,
		Warning:   warning,
	}
}

// Restore installs the persisted snapshot once, if it is younger than TTL.
// It reports whether a snapshot was installed by this call.
func (c *Cache) Restore(ctx context.Context) bool {
	installed := false
	c.restored.Do(func() {
		if c.store == nil {
			return
		}
		snap, err := c.store.LoadSnapshot(ctx)
		if err != nil {
			c.logger.Debug("catalog.restore_skipped", zap.Error(err))
			return
		}
		if snap == nil || snap.Len() == 0 {
			return
		}
		age := snap.Age(c.now())
		if age < 0 || age >= c.opts.TTL {
			c.logger.Info("catalog.restore_expired",
				zap.String("snapshot_id", snap.ID().String()),
				zap.Duration("age", age))
			return
		}
		installed = c.current.CompareAndSwap(nil, snap)
		if installed {
			metrics.SetSnapshot(classCounts(snap), snap.CapturedAt())
			c.logger.Info("catalog.restored",
				zap.String("snapshot_id", snap.ID().String()),
				zap.Int("items", snap.Len()),
				zap.Duration("age", age))
		}
	})
	return installed
}

// Wait blocks until background refreshes started by stale lookups have finished.
func (c *Cache) Wait() {
	c.bg.Wait()
}

// refresh joins or starts the shared refresh. The refresh itself runs detached
// from ctx, so a caller giving up does not cancel it for the others.
func (c *Cache) refresh(ctx context.Context) (*model.Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RefreshTimeout)
		defer cancel()
		return c.load(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) refreshInBackground() {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := c.refresh(context.Background()); err != nil {
			c.logger.Warn("catalog.background_refresh_failed", zap.Error(err))
		}
	}()
}

type fetchJob struct {
	class        model.Class
	denomination int
}

func (c *Cache) jobs() []fetchJob {
	out := make([]fetchJob, 0, len(c.opts.Denominations)+1)
	for _, d := range c.opts.Denominations {
		out = append(out, fetchJob{class: model.ClassUnit, denomination: d})
	}
	return append(out, fetchJob{class: model.ClassEdition})
}

// load runs every fetch sequence and installs the result. Any failed sequence fails the refresh.
func (c *Cache) load(ctx context.Context) (*model.Snapshot, error) {
	start := time.Now()
	jobs := c.jobs()
	results := make([][]model.Item, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.FetchConcurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			items, err := c.fetchSequence(gctx, job)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.IncRefresh("error")
		c.logger.Warn("catalog.refresh_failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		if !errors.Is(err, model.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
		}
		return nil, err
	}

	items := concat(results)
	if len(items) == 0 {
		metrics.IncRefresh("empty")
		c.logger.Warn("catalog.refresh_empty", zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("%w: refresh returned no listings", model.ErrSourceUnavailable)
	}

	snap := model.NewSnapshot(items, c.now())
	c.current.Store(snap)
	elapsed := time.Since(start)

	counts := classCounts(snap)
	metrics.IncRefresh("ok")
	metrics.RefreshDuration.Observe(elapsed.Seconds())
	metrics.SetSnapshot(counts, snap.CapturedAt())
	c.logger.Info("catalog.refreshed",
		zap.String("snapshot_id", snap.ID().String()),
		zap.Int("items", snap.Len()),
		zap.Int("units", counts[string(model.ClassUnit)]),
		zap.Int("editions", counts[string(model.ClassEdition)]),
		zap.Duration("elapsed", elapsed))

	c.persist(ctx, snap)
	if c.pub != nil {
		c.pub.Publish(ctx, model.TopicSnapshotRefreshed, model.SnapshotRefreshed{
			SnapshotID:   snap.ID(),
			CapturedAt:   snap.CapturedAt(),
			ItemCount:    snap.Len(),
			UnitCount:    counts[string(model.ClassUnit)],
			EditionCount: counts[string(model.ClassEdition)],
			Duration:     elapsed,
		})
	}
	return snap, nil
}

// persist writes the snapshot and refresh time. Failures are logged, never returned.
func (c *Cache) persist(ctx context.Context, snap *model.Snapshot) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSnapshot(ctx, snap); err != nil {
		metrics.IncError("catalog", "persist_snapshot")
		c.logger.Warn("catalog.persist_failed", zap.Error(err))
	}
	if err := c.store.SetLastUpdate(ctx, snap.CapturedAt()); err != nil {
		metrics.IncError("catalog", "persist_last_update")
		c.logger.Warn("catalog.last_update_failed", zap.Error(err))
	}
}

// fetchSequence pages through one class/filter until the source runs out or the ceiling is hit.
func (c *Cache) fetchSequence(ctx context.Context, job fetchJob) ([]model.Item, error) {
	var (
		items        []model.Item
		fetched      int
		continuation string
	)
	for {
		page, err := c.source.FetchPage(ctx, model.PageQuery{
			Class:        job.class,
			Denomination: job.denomination,
			Continuation: continuation,
			Limit:        c.opts.PageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s/%d: %w", job.class, job.denomination, err)
		}

		for _, l := range page.Listings {
			if fetched >= c.opts.MaxItemsPerSequence {
				break
			}
			fetched++
			it, err := model.Normalize(l, job.class, job.denomination)
			if err != nil {
				metrics.IncError("catalog", "malformed_listing")
				c.logger.Debug("catalog.listing_dropped",
					zap.String("token_id", l.TokenID),
					zap.String("class", string(job.class)),
					zap.Int("filter", job.denomination),
					zap.Error(err))
				continue
			}
			items = append(items, it)
		}

		if page.Continuation == "" || len(page.Listings) == 0 || fetched >= c.opts.MaxItemsPerSequence {
			return items, nil
		}
		continuation = page.Continuation
	}
}

// concat joins per-job results in job order and drops repeated tokens.
func concat(results [][]model.Item) []model.Item {
	n := 0
	for _, r := range results {
		n += len(r)
	}
	out := make([]model.Item, 0, n)
	seen := make(map[string]struct{}, n)
	for _, r := range results {
		for _, it := range r {
			key := string(it.Class) + "|" + it.Collection + "|" + it.ID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

func classCounts(snap *model.Snapshot) map[string]int {
	out := make(map[string]int, 2)
	for class, n := range snap.CountByClass() {
		out[string(class)] = n
	}
	return out
}
