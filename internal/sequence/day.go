package sequence

import (
	"slices"
	"sort"

	"lifeflow/internal/model"
)

// item is a story paired with its derived moment and its position in the
// input of the current sequencing pass.
type item struct {
	story model.Story
	Moment
	index int
}

func newItems(stories []model.Story) []item {
	items := make([]item, len(stories))
	for i, s := range stories {
		items[i] = item{story: s, Moment: Extract(s), index: i}
	}
	return items
}

// OrderDay orders the stories of a single day. Input position is the
// tie-break and the placement key for untimed stories.
func OrderDay(stories []model.Story) []Entry {
	return toEntries(orderDay(newItems(stories)))
}

// orderDay sorts timed members by clock (then input position) and slots
// every untimed member in front of the earliest-clock timed member that
// appears after it in the input. Untimed members with no such timed
// successor go to the end, in input order.
func orderDay(members []item) []item {
	var timed, untimed []item
	for _, m := range members {
		if m.HasTime {
			timed = append(timed, m)
		} else {
			untimed = append(untimed, m)
		}
	}

	sort.SliceStable(timed, func(a, b int) bool {
		if timed[a].Minutes != timed[b].Minutes {
			return timed[a].Minutes < timed[b].Minutes
		}
		return timed[a].index < timed[b].index
	})
	sort.SliceStable(untimed, func(a, b int) bool {
		return untimed[a].index < untimed[b].index
	})

	day := make([]item, 0, len(members))
	day = append(day, timed...)

	for _, u := range untimed {
		anchor := -1
		// timed is clock-sorted, so the first later member wins.
		for _, t := range timed {
			if t.index > u.index {
				anchor = t.index
				break
			}
		}
		if anchor < 0 {
			day = append(day, u)
			continue
		}
		at := slices.IndexFunc(day, func(x item) bool { return x.HasTime && x.index == anchor })
		day = slices.Insert(day, at, u)
	}
	return day
}
