package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicSnapshotRefreshed    = "evt.checks.snapshot.refreshed.v1"
	TopicOptimizationComputed = "evt.checks.optimization.computed.v1"
)

// SnapshotRefreshed is emitted after a new snapshot has been installed.
type SnapshotRefreshed struct {
	SnapshotID   uuid.UUID     `json:"snapshot_id"`
	CapturedAt   time.Time     `json:"captured_at"`
	ItemCount    int           `json:"item_count"`
	UnitCount    int           `json:"unit_count"`
	EditionCount int           `json:"edition_count"`
	Duration     time.Duration `json:"duration_ns"`
}

// RunSummary is the persisted outcome of one optimizer pass over a snapshot.
type RunSummary struct {
	RunID            uuid.UUID        `json:"run_id"`
	SnapshotID       uuid.UUID        `json:"snapshot_id"`
	CapturedAt       time.Time        `json:"captured_at"`
	ComputedAt       time.Time        `json:"computed_at"`
	ItemCount        int              `json:"item_count"`
	Satisfiable      bool             `json:"satisfiable"`
	TotalCost        decimal.Decimal  `json:"total_cost"`
	EditionSweepCost decimal.Decimal  `json:"edition_sweep_cost"`
	UnitSweepCost    decimal.Decimal  `json:"unit_sweep_cost"`
	CheapestSingle   *decimal.Decimal `json:"cheapest_single,omitempty"`
}
