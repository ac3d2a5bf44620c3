package sequence

import "lifeflow/internal/model"

// Assemble orders stories across days. Distances are left at zero.
//
// Each undated story joins the day of the nearest dated story after it in
// the input; with none it goes to a trailing bucket that keeps input order.
// Day ordering runs once per day over the complete membership, routed
// stories included.
func Assemble(stories []model.Story) []Entry {
	items := newItems(stories)

	groups := make(map[string][]item)
	var ungrouped []item

	// Walk backwards so the nearest later date is always at hand.
	route := make([]string, len(items))
	next := ""
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].HasDate {
			next = items[i].Date
		}
		route[i] = next
	}

	for i, it := range items {
		key := route[i]
		if key == "" {
			ungrouped = append(ungrouped, it)
			continue
		}
		groups[key] = append(groups[key], it)
	}

	ordered := make([]item, 0, len(items))
	for _, date := range sortedKeys(groups) {
		ordered = append(ordered, orderDay(groups[date])...)
	}
	ordered = append(ordered, ungrouped...)

	return toEntries(ordered)
}
