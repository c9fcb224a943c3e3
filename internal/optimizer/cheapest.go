package optimizer

import "github.com/Checker-Finance/checks-optimizer/pkg/model"

// CheapestSingle returns the lowest-priced unit item of denomination 1.
// The first item encountered wins an exact tie; ok is false when there is none.
func CheapestSingle(snap *model.Snapshot) (item model.Item, ok bool) {
	if snap == nil {
		return model.Item{}, false
	}
	snap.Each(func(it model.Item) {
		if it.Class != model.ClassUnit || it.Denomination != 1 {
			return
		}
		if !ok || it.Price.LessThan(item.Price) {
			item, ok = it, true
		}
	})
	return item, ok
}
