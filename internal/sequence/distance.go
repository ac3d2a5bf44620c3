package sequence

import "time"

const dateLayout = "2006-01-02"

// WithDistances returns a copy of ordered with DistanceFromPrevious set.
// Undated entries get 0 and do not reset the running date, so a gap is
// measured across them.
func WithDistances(ordered []Entry) []Entry {
	out := make([]Entry, len(ordered))
	copy(out, ordered)

	last := ""
	for i := range out {
		out[i].DistanceFromPrevious = 0
		if !out[i].HasDate {
			continue
		}
		if last != "" {
			out[i].DistanceFromPrevious = DaysBetween(last, out[i].Date)
		}
		last = out[i].Date
	}
	return out
}

// DaysBetween counts the whole days strictly between two YYYY-MM-DD dates,
// in either order. Same or adjacent days give 0, as does a date that is
// not a real calendar day.
func DaysBetween(a, b string) int {
	ta, err := time.Parse(dateLayout, a)
	if err != nil {
		return 0
	}
	tb, err := time.Parse(dateLayout, b)
	if err != nil {
		return 0
	}
	// Both dates parse as UTC midnight, so the seconds divide evenly.
	days := int((tb.Unix() - ta.Unix()) / 86400)
	if days < 0 {
		days = -days
	}
	return max(0, days-1)
}
