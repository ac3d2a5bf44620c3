package ics

import (
	"context"
	"strings"
	"sync"
	"time"

	"lifeflow/internal/clock"
	appLog "lifeflow/internal/log"
	"lifeflow/internal/model"
)

// FeedConfig configures a Feed.
type FeedConfig struct {
	Sources []Source
	// Location is the zone story times are written in.
	Location *time.Location
	// HorizonDays and BackfillDays bound expansion around today.
	HorizonDays  int
	BackfillDays int
	Clock        clock.Clock
}

// LoadReport summarizes one Feed.Load. The slices hold feed IDs.
type LoadReport struct {
	Sources     int
	Stories     int
	FetchFailed []string
	ParseFailed []string
	// Stale lists feeds served from the cache after a failed fetch.
	Stale []string
}

// Feed loads subscribed calendars as stories. It satisfies
// timeline.Source.
type Feed struct {
	fetcher *Fetcher
	cfg     FeedConfig

	mu   sync.Mutex
	last LoadReport
}

// NewFeed returns a Feed that fetches through fetcher.
func NewFeed(fetcher *Fetcher, cfg FeedConfig) *Feed {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return &Feed{fetcher: fetcher, cfg: cfg}
}

// Load fetches, parses and expands every source. A source that cannot be
// fetched or parsed is logged and left out; Load only fails when ctx is
// done or the expansion window is invalid. Stories come back read-only.
func (f *Feed) Load(ctx context.Context) ([]model.Story, error) {
	if len(f.cfg.Sources) == 0 {
		return nil, nil
	}

	results := f.fetcher.FetchAll(ctx, f.cfg.Sources)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		parsed      []ParsedEvent
		fetchFailed []string
		parseFailed []string
		stale       []string
	)
	for _, res := range results {
		if res.Err != nil {
			fetchFailed = append(fetchFailed, res.Source.ID)
			continue
		}
		if res.Stale {
			stale = append(stale, res.Source.ID)
		}
		events, err := ParseICS(res.Source, res.Body)
		if err != nil {
			parseFailed = append(parseFailed, res.Source.ID)
			continue
		}
		parsed = append(parsed, events...)
	}

	now := f.cfg.Clock.Now().In(f.cfg.Location)
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: f.cfg.Location,
		RangeStart:      now.AddDate(0, 0, -f.cfg.BackfillDays),
		RangeEnd:        now.AddDate(0, 0, f.cfg.HorizonDays),
	})
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.last = LoadReport{
		Sources:     len(f.cfg.Sources),
		Stories:     len(expanded.Stories),
		FetchFailed: fetchFailed,
		ParseFailed: parseFailed,
		Stale:       stale,
	}
	f.mu.Unlock()

	if len(fetchFailed) > 0 || len(parseFailed) > 0 {
		appLog.Warn("feed: some sources were skipped",
			"fetch_failed", strings.Join(fetchFailed, ","),
			"parse_failed", strings.Join(parseFailed, ","),
		)
	}
	appLog.Info("feed load completed",
		"sources", len(f.cfg.Sources),
		"stories", len(expanded.Stories),
		"fetch_failed", len(fetchFailed),
		"parse_failed", len(parseFailed),
		"stale", len(stale),
	)
	return expanded.Stories, nil
}

// LastReport describes the most recent Load.
func (f *Feed) LastReport() LoadReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
