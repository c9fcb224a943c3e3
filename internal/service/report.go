package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/catalog"
	"github.com/Checker-Finance/checks-optimizer/internal/metrics"
	"github.com/Checker-Finance/checks-optimizer/internal/optimizer"
	"github.com/Checker-Finance/checks-optimizer/internal/store"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// ErrNoReport is returned by LastReport when nothing has been computed yet.
var ErrNoReport = errors.New("no report computed yet")

// Catalog is the snapshot provider the service reads from.
type Catalog interface {
	Get(ctx context.Context, forceRefresh bool) (catalog.Lookup, error)
}

// ReportCache keeps the most recent report outside the process.
type ReportCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
}

// Group is one optimizer tier with marketplace links attached.
type Group struct {
	optimizer.TierGroup
	CheapestURL string   `json:"cheapestUrl"`
	URLs        []string `json:"urls"`
}

// Optimization is the optimizer result as reported upward.
type Optimization struct {
	Satisfiable bool            `json:"satisfiable"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Combination []Group         `json:"combination"`
}

// Cheapest describes the cheapest single-grid item.
type Cheapest struct {
	TokenID         string          `json:"tokenId"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image"`
	URL             string          `json:"url"`
	ContractAddress string          `json:"contractAddress"`
	GridSize        int             `json:"gridSize"`
}

// Report is the full answer to one query.
type Report struct {
	SnapshotID         uuid.UUID             `json:"snapshotId"`
	CapturedAt         time.Time             `json:"capturedAt"`
	SnapshotAgeSeconds float64               `json:"snapshotAgeSeconds"`
	ItemCount          int                   `json:"itemCount"`
	Stale              bool                  `json:"stale"`
	Warning            string                `json:"warning,omitempty"`
	Optimization       Optimization          `json:"optimalCombination"`
	Sweep              optimizer.SweepResult `json:"sweepPrices"`
	Cheapest           *Cheapest             `json:"cheapestSingleCheck"`
	APIDurationMs      int64                 `json:"apiDuration"`
}

// Service answers optimization queries from the catalog cache.
type Service struct {
	logger         *zap.Logger
	catalog        Catalog
	marketplaceURL string
	now            func() time.Time

	reports   ReportCache
	reportTTL time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithReportCache saves every computed report under store.KeyLastReport for ttl (0 keeps it).
func WithReportCache(c ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.reports = c
		s.reportTTL = ttl
	}
}

func New(logger *zap.Logger, cat Catalog, marketplaceURL string, opts ...Option) *Service {
	s := &Service{
		logger:         logger,
		catalog:        cat,
		marketplaceURL: strings.TrimRight(marketplaceURL, "/"),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Report fetches a snapshot (refreshing it when forced or expired) and runs
// the optimizer, the sweep and the cheapest-item finder over it.
// Either the whole report is returned or an error; never a partial one.
func (s *Service) Report(ctx context.Context, forceRefresh bool) (*Report, error) {
	start := s.now()

	lookup, err := s.catalog.Get(ctx, forceRefresh)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	snap := lookup.Snapshot

	result := optimizer.Optimize(snap)
	sweep := optimizer.Sweep(snap)

	report := &Report{
		SnapshotID:         snap.ID(),
		CapturedAt:         snap.CapturedAt(),
		SnapshotAgeSeconds: lookup.Age.Seconds(),
		ItemCount:          snap.Len(),
		Stale:              lookup.Stale,
		Optimization:       s.optimization(result),
		Sweep:              sweep,
	}
	if lookup.Warning != nil {
		report.Warning = lookup.Warning.Error()
	}
	if it, ok := optimizer.CheapestSingle(snap); ok {
		report.Cheapest = &Cheapest{
			TokenID:         it.ID,
			Price:           it.Price,
			Image:           it.Image,
			URL:             s.itemURL(it),
			ContractAddress: it.Collection,
			GridSize:        it.Denomination,
		}
	}

	if result.Satisfiable {
		cost, _ := result.TotalCost.Float64()
		metrics.OptimalCost.Set(cost)
	} else {
		metrics.OptimalCost.Set(0)
		s.logger.Info("optimizer.unsatisfiable",
			zap.String("snapshot_id", snap.ID().String()),
			zap.Int("items", snap.Len()))
	}

	report.APIDurationMs = s.now().Sub(start).Milliseconds()

	if s.reports != nil {
		if err := s.reports.SetJSON(ctx, store.KeyLastReport, report, s.reportTTL); err != nil {
			metrics.IncError("service", "save_report")
			s.logger.Warn("service.save_report_failed", zap.Error(err))
		}
	}
	return report, nil
}

// LastReport returns the most recently saved report without touching the catalog.
func (s *Service) LastReport(ctx context.Context) (*Report, error) {
	if s.reports == nil {
		return nil, ErrNoReport
	}
	var r Report
	err := s.reports.GetJSON(ctx, store.KeyLastReport, &r)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoReport
	} else if err != nil {
		return nil, fmt.Errorf("load last report: %w", err)
	}
	return &r, nil
}

func (s *Service) optimization(r optimizer.Result) Optimization {
	out := Optimization{
		Satisfiable: r.Satisfiable,
		TotalCost:   r.TotalCost,
		Combination: make([]Group, 0, len(r.Selection)),
	}
	for _, g := range r.Selection {
		urls := make([]string, 0, len(g.Items))
		for _, it := range g.Items {
			urls = append(urls, s.itemURL(it))
		}
		out.Combination = append(out.Combination, Group{
			TierGroup:   g,
			CheapestURL: s.itemURL(g.Cheapest),
			URLs:        urls,
		})
	}
	return out
}

func (s *Service) itemURL(it model.Item) string {
	return fmt.Sprintf("%s/%s/%s", s.marketplaceURL, it.Collection, it.ID)
}

// Summarize condenses a report into a run-history row.
func Summarize(r *Report, computedAt time.Time) model.RunSummary {
	run := model.RunSummary{
		RunID:            uuid.New(),
		SnapshotID:       r.SnapshotID,
		CapturedAt:       r.CapturedAt,
		ComputedAt:       computedAt.UTC(),
		ItemCount:        r.ItemCount,
		Satisfiable:      r.Optimization.Satisfiable,
		TotalCost:        r.Optimization.TotalCost,
		EditionSweepCost: r.Sweep.Editions.Cost,
		UnitSweepCost:    r.Sweep.Units.Cost,
	}
	if r.Cheapest != nil {
		price := r.Cheapest.Price
		run.CheapestSingle = &price
	}
	return run
}
