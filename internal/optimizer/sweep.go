package optimizer

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// SweepSize is how many of the cheapest items a sweep buys from one class.
const SweepSize = model.TargetUnits

// ClassSweep is the cost of buying one class's cheapest items regardless of denomination.
// Complete is false when the class had fewer than SweepSize items; Cost then covers
// whatever was available.
type ClassSweep struct {
	Cost     decimal.Decimal `json:"cost"`
	Count    int             `json:"count"`
	Complete bool            `json:"complete"`
	Items    []model.Item    `json:"items"`
}

// SweepResult compares the single-class strategies.
type SweepResult struct {
	Editions ClassSweep `json:"editions"`
	Units    ClassSweep `json:"checks"`
}

// Sweep prices each class independently. It is an upper-bound comparison metric and
// deliberately ignores sub-unit yield.
func Sweep(snap *model.Snapshot) SweepResult {
	var editions, units []model.Item
	if snap != nil {
		snap.Each(func(it model.Item) {
			switch it.Class {
			case model.ClassEdition:
				editions = append(editions, it)
			case model.ClassUnit:
				units = append(units, it)
			}
		})
	}
	return SweepResult{
		Editions: sweepClass(editions),
		Units:    sweepClass(units),
	}
}

func sweepClass(items []model.Item) ClassSweep {
	slices.SortStableFunc(items, byPrice)
	if len(items) > SweepSize {
		items = items[:SweepSize]
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return ClassSweep{
		Cost:     total,
		Count:    len(items),
		Complete: len(items) == SweepSize,
		Items:    items,
	}
}
