package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "lifeflow/internal/log"
	"lifeflow/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the zone story times are written in. If nil,
	// time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single event's expansion. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the expanded stories and the UIDs that hit the cap.
type ExpandResult struct {
	Stories         []model.Story
	TruncatedEvents []string
}

// occurrence is one concrete instance of an event in the display zone.
type occurrence struct {
	ev    ParsedEvent
	start time.Time
	end   time.Time
}

// ExpandOccurrences expands parsed events into one story per occurrence
// within the configured window. It handles single events, RRULE
// recurrence, EXDATE exceptions, RECURRENCE-ID overrides and all-day
// semantics.
//
// Stories come back sorted by start time and then ID, so repeated loads
// feed the sequencer the same input order.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	var uids []string

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	var all []occurrence
	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			all = append(all, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Stories = make([]model.Story, 0, len(all))
	for _, o := range all {
		result.Stories = append(result.Stories, toStory(o, cfg.DisplayLocation))
	}
	sort.SliceStable(result.Stories, func(i, j int) bool {
		a, b := result.Stories[i], result.Stories[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []occurrence {
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}

	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		return []occurrence{{ev: o, start: o.Start, end: o.End}}
	}
	return []occurrence{{ev: ev, start: ev.Start, end: ev.End}}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(occTimes))
	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = day
			occEnd = day.AddDate(0, 0, max(1, int(dur.Hours()/24)))
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			out = append(out, occurrence{ev: o, start: o.Start, end: o.End})
			continue
		}
		out = append(out, occurrence{ev: ev, start: occStart, end: occEnd})
	}
	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals
// start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toStory renders an occurrence with the timeline's string formats. An
// all-day occurrence keeps its calendar date regardless of zone; its
// exclusive DTEND becomes an inclusive end date, dropped for single days.
func toStory(o occurrence, loc *time.Location) model.Story {
	s := model.Story{
		Name:        o.ev.Summary,
		Description: o.ev.Description,
		ReadOnly:    true,
	}
	if o.ev.Location != "" {
		s.Address = &model.Address{Name: o.ev.Location}
	}

	if o.ev.AllDay {
		s.StartTime = o.start.Format(dateLayout)
		if last := o.end.AddDate(0, 0, -1); last.After(o.start) {
			s.EndTime = last.Format(dateLayout)
		}
	} else {
		start := o.start.In(loc)
		s.StartTime = start.Format(dateTimeLayout)
		if end := o.end.In(loc); end.After(start) {
			s.EndTime = end.Format(dateTimeLayout)
		}
	}

	s.ID = fmt.Sprintf("%s:%s:%s", o.ev.Source.ID, o.ev.UID, o.start.UTC().Format("20060102T150405Z"))
	return s
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
