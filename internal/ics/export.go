package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"lifeflow/internal/model"
	"lifeflow/internal/sequence"
)

// ExportConfig controls Export.
type ExportConfig struct {
	CalendarName string
	// Location is the zone story times are read in. If nil, time.Local.
	Location *time.Location
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Export renders the dated entries of a sequence as an iCalendar document,
// in sequence order. Timed entries get DTSTART/DTEND; untimed ones become
// all-day events. A missing or unusable end gives one hour for timed and
// one day for all-day entries. Undated entries are skipped.
func Export(entries []sequence.Entry, cfg ExportConfig) string {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//lifeflow//timeline//EN")
	if cfg.CalendarName != "" {
		cal.SetXWRCalName(cfg.CalendarName)
	}
	cal.SetXWRTimezone(loc.String())

	for _, e := range entries {
		if !e.HasDate {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, e.Date, loc)
		if err != nil {
			continue
		}

		ev := cal.AddEvent(exportUID(e.Story))
		ev.SetDtStampTime(now)
		ev.SetSummary(e.Story.Name)
		if e.Story.Description != "" {
			ev.SetDescription(e.Story.Description)
		}
		if e.Story.Address != nil && e.Story.Address.Name != "" {
			ev.SetLocation(e.Story.Address.Name)
		}

		if e.HasTime {
			start := day.Add(time.Duration(e.Minutes) * time.Minute)
			end, ok := parseEnd(e.Story.EndTime, day, loc)
			if !ok || !end.After(start) {
				end = start.Add(time.Hour)
			}
			ev.SetStartAt(start)
			ev.SetEndAt(end)
			continue
		}

		end := day.AddDate(0, 0, 1)
		if last, ok := parseEnd(e.Story.EndTime, day, loc); ok {
			// An all-day DTEND is exclusive.
			last = time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
			if last.After(day) {
				end = last
			}
		}
		ev.SetAllDayStartAt(day)
		ev.SetAllDayEndAt(end)
	}

	return cal.Serialize()
}

// parseEnd reads an end time string. A time-only value is taken on day.
func parseEnd(v string, day time.Time, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"2006-01-02 15:04:05", dateTimeLayout, dateLayout} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), true
		}
	}
	return time.Time{}, false
}

// exportUID is the story ID when present, else a hash of the fields that
// identify the story structurally.
func exportUID(s model.Story) string {
	if s.ID != "" {
		return s.ID + "@lifeflow"
	}
	addr := ""
	if s.Address != nil {
		addr = s.Address.Name
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{s.Name, s.StartTime, s.EndTime, s.Description, addr}, "\x1f")))
	return hex.EncodeToString(sum[:12]) + "@lifeflow"
}
