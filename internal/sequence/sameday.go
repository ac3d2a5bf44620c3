package sequence

// SameDay holds per-index rendering hints for a sequence.
type SameDay struct {
	// IsSameDay is set for every member of a day run except its first.
	IsSameDay []bool
	// Position is the 0-based rank inside the run; 0 outside any run.
	Position []int
}

// AnnotateSameDay marks day runs. A run spans from the first to the last
// entry carrying a date, so unplanned entries that landed between them
// belong to it. Runs shorter than two entries are left unmarked.
func AnnotateSameDay(entries []Entry) SameDay {
	res := SameDay{
		IsSameDay: make([]bool, len(entries)),
		Position:  make([]int, len(entries)),
	}

	type span struct{ first, last, count int }
	spans := make(map[string]*span)
	var order []string
	for i, e := range entries {
		if !e.HasDate {
			continue
		}
		sp, ok := spans[e.Date]
		if !ok {
			sp = &span{first: i}
			spans[e.Date] = sp
			order = append(order, e.Date)
		}
		sp.last = i
		sp.count++
	}

	for _, date := range order {
		sp := spans[date]
		if sp.count < 2 {
			continue
		}
		for i := sp.first; i <= sp.last; i++ {
			if i > sp.first {
				res.IsSameDay[i] = true
			}
			res.Position[i] = i - sp.first
		}
	}
	return res
}
