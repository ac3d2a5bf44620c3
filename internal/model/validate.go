package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrStartWithoutDate  = errors.New("end time has a date but start time does not")
	ErrEndBeforeStart    = errors.New("end time must be after start time")
	ErrInvalidID         = errors.New("invalid story id")
)

var timeFormats = []struct {
	pattern *regexp.Regexp
	layout  string
}{
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`), "2006-01-02 15:04:05"},
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`), "2006-01-02 15:04"},
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
	{regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`), "15:04:05"},
	{regexp.MustCompile(`^\d{2}:\d{2}$`), "15:04"},
}

var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// ValidateID checks that id can name a file inside the vault directory:
// no path separators, and not "." or "..". Empty is valid.
func ValidateID(id string) error {
	if id == "" {
		return nil
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateTimeFormat checks that v (trimmed) is empty or one of the
// supported shapes. Only the shape is checked, not the calendar values.
func ValidateTimeFormat(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, f := range timeFormats {
		if f.pattern.MatchString(v) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidTimeFormat, v)
}

// ValidateTimeRange checks start/end consistency. Either side empty is
// valid. An unplanned start may not be paired with a dated end, and two
// full dates must be strictly ordered.
func ValidateTimeRange(start, end string) error {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" || end == "" {
		return nil
	}

	startHasDate := datePrefix.MatchString(start)
	endHasDate := datePrefix.MatchString(end)

	if !startHasDate && endHasDate {
		return ErrStartWithoutDate
	}
	if !startHasDate || !endHasDate {
		return nil
	}

	st, err := parseDated(start)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimeFormat, start)
	}
	et, err := parseDated(end)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimeFormat, end)
	}
	if !et.After(st) {
		return ErrEndBeforeStart
	}
	return nil
}

// Validate runs the format checks on both fields and then the range check.
func (s Story) Validate() error {
	if err := ValidateID(s.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if err := ValidateTimeFormat(s.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if err := ValidateTimeFormat(s.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	return ValidateTimeRange(s.StartTime, s.EndTime)
}

func parseDated(v string) (time.Time, error) {
	for _, f := range timeFormats[:3] {
		if f.pattern.MatchString(v) {
			return time.Parse(f.layout, v)
		}
	}
	return time.Time{}, ErrInvalidTimeFormat
}
