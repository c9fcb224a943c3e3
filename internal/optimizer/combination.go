package optimizer

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// TierKey names one optimizer tier. Editions are kept apart from unit-80 items
// even though both yield one sub-unit.
type TierKey string

const TierEditions TierKey = "Editions"

// UnitTier returns the key for unit items of denomination d ("80 grid", "1 grid", ...).
func UnitTier(d int) TierKey {
	return TierKey(fmt.Sprintf("%d grid", d))
}

// tierSpec is one entry of the fixed visiting order.
type tierSpec struct {
	key          TierKey
	class        model.Class
	denomination int
}

// tierOrder is the canonical visiting order: editions first, then unit tiers from the
// largest denomination down. On an exact cost tie the earlier tier keeps the slot.
var tierOrder = func() []tierSpec {
	order := []tierSpec{{key: TierEditions, class: model.ClassEdition, denomination: model.MaxDenomination}}
	for _, d := range model.Denominations {
		order = append(order, tierSpec{key: UnitTier(d), class: model.ClassUnit, denomination: d})
	}
	return order
}()

// TierGroup is one tier's share of an optimal selection.
type TierGroup struct {
	Tier         TierKey      `json:"tier"`
	Denomination int          `json:"gridSize"`
	IsEdition    bool         `json:"isEdition"`
	Count        int          `json:"count"`
	Units        int          `json:"units"`
	Cheapest     model.Item   `json:"cheapest"`
	Items        []model.Item `json:"items"`
}

// Result is the optimizer's answer. When Satisfiable is false there is not enough
// supply to reach the target and TotalCost and Selection are empty.
type Result struct {
	Satisfiable bool            `json:"satisfiable"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Selection   []TierGroup     `json:"combination"`
}

// Units returns the sub-units covered by the selection.
func (r Result) Units() int {
	total := 0
	for _, g := range r.Selection {
		total += g.Units
	}
	return total
}

// Group returns the selection entry for tier, if any.
func (r Result) Group(tier TierKey) (TierGroup, bool) {
	for _, g := range r.Selection {
		if g.Tier == tier {
			return g, true
		}
	}
	return TierGroup{}, false
}

// tier is a price-sorted inventory with a cursor to its next unconsumed item.
type tier struct {
	tierSpec
	units int
	items []model.Item
	next  int
}

func (t *tier) peek() (model.Item, bool) {
	if t.next >= len(t.items) {
		return model.Item{}, false
	}
	return t.items[t.next], true
}

// Optimize fills a progress-cost table up to model.TargetUnits.
//
// For each progress value p the tiers are visited in tierOrder; a tier whose next
// cheapest item improves cost[p] (strictly) is accepted and that item is consumed for
// every later progress value. This greedy consumption is intentional and is not an
// exhaustive bounded-knapsack search.
func Optimize(snap *model.Snapshot) Result {
	tiers := partition(snap)

	const target = model.TargetUnits
	cost := make([]decimal.Decimal, target+1)
	reached := make([]bool, target+1)
	from := make([]int, target+1)
	pick := make([]model.Item, target+1)
	pickTier := make([]int, target+1)
	reached[0] = true

	for p := 1; p <= target; p++ {
		for ti, t := range tiers {
			if p < t.units || !reached[p-t.units] {
				continue
			}
			it, ok := t.peek()
			if !ok {
				continue
			}
			candidate := cost[p-t.units].Add(it.Price)
			if reached[p] && !candidate.LessThan(cost[p]) {
				continue
			}
			cost[p] = candidate
			reached[p] = true
			from[p] = p - t.units
			pick[p] = it
			pickTier[p] = ti
			t.next++
		}
	}

	if !reached[target] {
		return Result{Satisfiable: false, TotalCost: decimal.Zero}
	}

	// walk the back-pointers, then restore selection order
	var chain []int
	for p := target; p > 0; p = from[p] {
		chain = append(chain, p)
	}
	slices.Reverse(chain)

	members := make([][]model.Item, len(tiers))
	for _, p := range chain {
		members[pickTier[p]] = append(members[pickTier[p]], pick[p])
	}

	var selection []TierGroup
	for ti, items := range members {
		if len(items) == 0 {
			continue
		}
		t := tiers[ti]
		selection = append(selection, TierGroup{
			Tier:         t.key,
			Denomination: t.denomination,
			IsEdition:    t.class == model.ClassEdition,
			Count:        len(items),
			Units:        len(items) * t.units,
			Cheapest:     cheapestOf(items),
			Items:        items,
		})
	}

	return Result{Satisfiable: true, TotalCost: cost[target], Selection: selection}
}

// partition splits the snapshot into tierOrder tiers, each sorted ascending by price.
// The sort is stable so equal prices keep snapshot order.
func partition(snap *model.Snapshot) []*tier {
	tiers := make([]*tier, len(tierOrder))
	index := make(map[TierKey]int, len(tierOrder))
	for i, ts := range tierOrder {
		tiers[i] = &tier{tierSpec: ts, units: model.Units(ts.denomination)}
		index[ts.key] = i
	}
	if snap == nil {
		return tiers
	}

	snap.Each(func(it model.Item) {
		key := UnitTier(it.Denomination)
		if it.Class == model.ClassEdition {
			key = TierEditions
		}
		if i, ok := index[key]; ok {
			tiers[i].items = append(tiers[i].items, it)
		}
	})
	for _, t := range tiers {
		slices.SortStableFunc(t.items, byPrice)
	}
	return tiers
}

func byPrice(a, b model.Item) int {
	return a.Price.Cmp(b.Price)
}

func cheapestOf(items []model.Item) model.Item {
	best := items[0]
	for _, it := range items[1:] {
		if it.Price.LessThan(best.Price) {
			best = it
		}
	}
	return best
}
