// Package sequence turns a loosely ordered list of stories into the
// chronological timeline: day groups in date order, clock order inside a
// day, unplanned stories routed next to the dated story that follows them
// in the source, and whole-day gaps between consecutive dates.
//
// Every function here is pure. Inputs are never modified and each call
// returns freshly allocated slices, so a previous result may be read
// concurrently while a new one is computed.
package sequence

import (
	"sort"

	"lifeflow/internal/model"
)

// Entry is one position of a sequenced timeline.
type Entry struct {
	Story model.Story `json:"story"`
	Moment
	// DistanceFromPrevious counts whole calendar days strictly between this
	// entry's date and the previous dated entry's date.
	DistanceFromPrevious int `json:"distance_from_previous"`
}

// Sequence is the full ordering pass: Assemble followed by WithDistances.
func Sequence(stories []model.Story) []Entry {
	return WithDistances(Assemble(stories))
}

// Stories strips the annotations, e.g. to feed a sequence back into
// Sequence for a resort.
func Stories(entries []Entry) []model.Story {
	out := make([]model.Story, len(entries))
	for i, e := range entries {
		out[i] = e.Story
	}
	return out
}

// IndexOf locates target in entries by ID, falling back to structural
// equality. It returns -1 when absent.
func IndexOf(entries []Entry, target model.Story) int {
	for i, e := range entries {
		if e.Story.SameAs(target) {
			return i
		}
	}
	return -1
}

// VisualSpacing maps a day distance to a separator size bucket for
// renderers.
func VisualSpacing(distance int) int {
	switch {
	case distance <= 0:
		return 8
	case distance <= 1:
		return 16
	case distance <= 7:
		return 24
	case distance <= 30:
		return 32
	case distance <= 365:
		return 40
	default:
		return 48
	}
}

func toEntries(items []item) []Entry {
	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = Entry{Story: it.story, Moment: it.Moment}
	}
	return out
}

// sortedKeys returns the map's date keys in ascending order. YYYY-MM-DD
// sorts lexically in calendar order.
func sortedKeys(m map[string][]item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
