package sequence

import (
	"regexp"
	"strconv"
	"strings"

	"lifeflow/internal/model"
)

var (
	datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	// Trailing clock token, either the whole string or after whitespace.
	clockSuffixRe = regexp.MustCompile(`(?:^|\s)(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
)

// Moment holds what the ordering engine derives from a story's time fields.
type Moment struct {
	// Date is the YYYY-MM-DD prefix of the start time, "" when absent.
	Date    string `json:"date,omitempty"`
	HasDate bool   `json:"has_date"`
	// Minutes is the clock time as minutes since midnight; meaningful only
	// when HasTime is set.
	Minutes int  `json:"time_minutes"`
	HasTime bool `json:"has_time"`
}

// Extract derives the date and clock time of a story. It never fails:
// malformed input simply yields an undated and/or untimed moment.
//
// Only StartTime can supply the date. The clock time comes from StartTime,
// falling back to EndTime.
func Extract(s model.Story) Moment {
	var m Moment
	if match := datePrefixRe.FindStringSubmatch(s.StartTime); match != nil {
		m.Date = match[1]
		m.HasDate = true
	}
	if mins, ok := parseClock(s.StartTime); ok {
		m.Minutes, m.HasTime = mins, true
	} else if mins, ok := parseClock(s.EndTime); ok {
		m.Minutes, m.HasTime = mins, true
	}
	return m
}

// parseClock returns hour*60+minute for a trailing H:MM or H:MM:SS token.
// Seconds are range-checked but never contribute a minute.
func parseClock(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	match := clockSuffixRe.FindStringSubmatch(v)
	if match == nil {
		return 0, false
	}
	hour, _ := strconv.Atoi(match[1])
	minute, _ := strconv.Atoi(match[2])
	second := 0
	if match[3] != "" {
		second, _ = strconv.Atoi(match[3])
	}
	if hour > 23 || minute > 59 || second > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
