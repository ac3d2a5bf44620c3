package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeflow/internal/clock"
	"lifeflow/internal/model"
	"lifeflow/internal/sequence"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly
DTSTART:20250106T090000Z
DTEND:20250106T100000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20250113T090000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:weekly
RECURRENCE-ID:20250120T090000Z
DTSTART:20250120T110000Z
DTEND:20250120T120000Z
SUMMARY:Standup moved
END:VEVENT
BEGIN:VEVENT
UID:holiday
DTSTART;VALUE=DATE:20250101
DTEND;VALUE=DATE:20250102
SUMMARY:New Year
LOCATION:Home
END:VEVENT
BEGIN:VEVENT
UID:trip
DTSTART;VALUE=DATE:20250110
DTEND;VALUE=DATE:20250113
SUMMARY:Trip
DESCRIPTION:Mountains
END:VEVENT
BEGIN:VEVENT
SUMMARY:no uid
DTSTART:20250101T000000Z
END:VEVENT
END:VCALENDAR
`

func sampleBody() []byte {
	return []byte(strings.ReplaceAll(sampleICS, "\n", "\r\n"))
}

var january = ExpandConfig{
	DisplayLocation: time.UTC,
	RangeStart:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	RangeEnd:        time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
}

func storyNames(stories []model.Story) []string {
	out := make([]string, len(stories))
	for i, s := range stories {
		out[i] = s.Name
	}
	return out
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "feed"}, sampleBody())
	require.NoError(t, err)
	require.Len(t, events, 4, "the VEVENT without UID is skipped")

	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", events[0].RawRRule)
	require.Len(t, events[0].ExDates, 1)
	assert.True(t, events[1].IsOverride)
	assert.True(t, events[2].AllDay)
	assert.Equal(t, "Home", events[2].Location)

	_, err = ParseICS(Source{ID: "feed"}, nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{ID: "feed"}, sampleBody())
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, january)
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)
	assert.Equal(t, []string{"New Year", "Standup", "Trip", "Standup moved", "Standup"}, storyNames(res.Stories))

	newYear := res.Stories[0]
	assert.Equal(t, "2025-01-01", newYear.StartTime)
	assert.Empty(t, newYear.EndTime, "single all-day events carry no end")
	require.NotNil(t, newYear.Address)
	assert.Equal(t, "Home", newYear.Address.Name)

	assert.Equal(t, "2025-01-06 09:00", res.Stories[1].StartTime)
	assert.Equal(t, "2025-01-06 10:00", res.Stories[1].EndTime)
	assert.Equal(t, "feed:weekly:20250106T090000Z", res.Stories[1].ID)

	trip := res.Stories[2]
	assert.Equal(t, "2025-01-10", trip.StartTime)
	assert.Equal(t, "2025-01-12", trip.EndTime)
	assert.Equal(t, "Mountains", trip.Description)

	assert.Equal(t, "2025-01-20 11:00", res.Stories[3].StartTime)
	assert.Equal(t, "2025-01-27 09:00", res.Stories[4].StartTime)

	for _, s := range res.Stories {
		assert.NoError(t, s.Validate(), "story %s", s.Name)
	}
}

func TestExpandOccurrencesCapAndWindow(t *testing.T) {
	events, err := ParseICS(Source{ID: "feed"}, sampleBody())
	require.NoError(t, err)

	capped := january
	capped.MaxOccurrencesPerEvent = 2
	res, err := ExpandOccurrences(events, capped)
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly"}, res.TruncatedEvents)

	bad := january
	bad.RangeEnd = bad.RangeStart.Add(-time.Hour)
	_, err = ExpandOccurrences(events, bad)
	assert.Error(t, err)
}

func TestFetcherCaching(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(sampleBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	ctx := context.Background()
	src := Source{ID: "feed", URL: srv.URL + "/private.ics?token=secret"}

	res := f.FetchOne(ctx, src)
	require.NoError(t, res.Err)
	assert.False(t, res.FromCache)
	assert.Equal(t, sampleBody(), res.Body)

	res = f.FetchOne(ctx, src)
	require.NoError(t, res.Err)
	assert.True(t, res.FromCache, "304 reuses the cached body")
	assert.False(t, res.Stale)
	assert.Equal(t, sampleBody(), res.Body)

	status.Store(http.StatusInternalServerError)
	res = f.FetchOne(ctx, src)
	require.NoError(t, res.Err)
	assert.True(t, res.Stale, "server errors fall back to the cache")
	assert.Equal(t, sampleBody(), res.Body)

	res = f.FetchOne(ctx, Source{ID: "other", URL: srv.URL + "/other.ics"})
	assert.ErrorIs(t, res.Err, ErrUnexpectedStatus)
	assert.Nil(t, res.Body)

	results := f.FetchAll(ctx, []Source{src, {ID: "empty"}})
	require.Len(t, results, 2, "one result per source")
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrNoURL)
}

func TestFetcherCacheFollowsFeedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down.ics" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(sampleBody())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	ctx := context.Background()

	res := f.FetchOne(ctx, Source{ID: "work", URL: srv.URL + "/up.ics"})
	require.NoError(t, res.Err)

	// Same feed, new URL: the old body must not be served for it.
	res = f.FetchOne(ctx, Source{ID: "work", URL: srv.URL + "/down.ics"})
	assert.ErrorIs(t, res.Err, ErrUnexpectedStatus)
}

func TestFetcherCacheDirStaysInside(t *testing.T) {
	base := t.TempDir()
	f := NewFetcher(base)
	for _, id := range []string{"../escape", "a/b", "", "..", "日历"} {
		dir := f.cacheDirFor(Source{ID: id, URL: "https://example.com/" + id})
		assert.Equal(t, base, filepath.Dir(dir), "id %q", id)
	}
	assert.NotEqual(t,
		f.cacheDirFor(Source{ID: "a/b"}),
		f.cacheDirFor(Source{ID: "a_b"}),
		"IDs that reduce to the same slug get distinct directories")
}

func TestFeedLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty.ics":
			w.WriteHeader(http.StatusOK)
		case "/gone.ics":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write(sampleBody())
		}
	}))
	defer srv.Close()

	feed := NewFeed(NewFetcher(t.TempDir()), FeedConfig{
		Sources: []Source{
			{ID: "feed", URL: srv.URL + "/cal.ics"},
			{ID: "blank", URL: srv.URL + "/empty.ics"},
			{ID: "gone", URL: srv.URL + "/gone.ics"},
		},
		Location:     time.UTC,
		HorizonDays:  6,
		BackfillDays: 1,
		Clock:        clock.NewFixed(time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)),
	})

	stories, err := feed.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Standup", "Trip"}, storyNames(stories))
	for _, s := range stories {
		assert.True(t, s.ReadOnly, "feed stories are read-only")
	}

	report := feed.LastReport()
	assert.Equal(t, 3, report.Sources)
	assert.Equal(t, 2, report.Stories)
	assert.Equal(t, []string{"gone"}, report.FetchFailed)
	assert.Equal(t, []string{"blank"}, report.ParseFailed)
	assert.Empty(t, report.Stale)

	empty, err := NewFeed(NewFetcher(t.TempDir()), FeedConfig{}).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/u/123/basic.ics?key=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestExport(t *testing.T) {
	entries := sequence.Sequence([]model.Story{
		{ID: "dinner", Name: "Dinner", StartTime: "2025-02-01 19:00", EndTime: "2025-02-01 21:30", Address: &model.Address{Name: "Bistro"}},
		{Name: "Trip", StartTime: "2025-02-03", EndTime: "2025-02-05", Description: "Skiing"},
		{Name: "Call", StartTime: "2025-02-02 08:00"},
		{Name: "Someday"},
	})

	out := Export(entries, ExportConfig{
		CalendarName: "Life",
		Location:     time.UTC,
		Now:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, out, "X-WR-CALNAME:Life")

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 3, "undated entries are not exported")

	summary := func(ev *ical.VEvent) string { return ev.GetProperty(ical.ComponentPropertySummary).Value }
	assert.Equal(t, "Dinner", summary(events[0]))
	assert.Equal(t, "Call", summary(events[1]))
	assert.Equal(t, "Trip", summary(events[2]))

	assert.Equal(t, "dinner@lifeflow", events[0].Id())
	assert.Equal(t, "Bistro", events[0].GetProperty(ical.ComponentPropertyLocation).Value)
	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2025, 2, 1, 19, 0, 0, 0, time.UTC)))
	end, err := events[0].GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(time.Date(2025, 2, 1, 21, 30, 0, 0, time.UTC)))

	callEnd, err := events[1].GetEndAt()
	require.NoError(t, err)
	assert.True(t, callEnd.Equal(time.Date(2025, 2, 2, 9, 0, 0, 0, time.UTC)), "default duration is one hour")
	assert.True(t, strings.HasSuffix(events[1].Id(), "@lifeflow"))

	assert.Equal(t, "20250203", events[2].GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20250206", events[2].GetProperty(ical.ComponentPropertyDtEnd).Value)
}

func TestExportUIDIsStable(t *testing.T) {
	s := model.Story{Name: "Walk", StartTime: "2025-01-01"}
	assert.Equal(t, exportUID(s), exportUID(s))
	assert.NotEqual(t, exportUID(s), exportUID(model.Story{Name: "Run", StartTime: "2025-01-01"}))
	assert.Equal(t, "walk@lifeflow", exportUID(model.Story{ID: "walk"}))
}
