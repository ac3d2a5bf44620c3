// Package timeline holds the current sequenced story list and applies the
// list edits a client can make: insert, update, delete, manual moves of
// unplanned stories, and explicit resorts.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	appLog "lifeflow/internal/log"
	"lifeflow/internal/model"
	"lifeflow/internal/sequence"
)

var (
	ErrIndexOutOfRange = errors.New("timeline: index out of range")
	ErrDatedMove       = errors.New("timeline: only unplanned stories can be moved")
	ErrNotFound        = errors.New("timeline: story not found")
	ErrReadOnly        = errors.New("timeline: story is read-only")
)

// Source supplies stories in their stored order.
type Source interface {
	Load(ctx context.Context) ([]model.Story, error)
}

// Store persists single stories. Save returns the story as stored, with
// its ID assigned.
type Store interface {
	Save(ctx context.Context, s model.Story) (model.Story, error)
	Delete(ctx context.Context, s model.Story) error
}

// MultiSource concatenates several sources in order. Undated stories are
// routed to the next dated story in this order, so read-only calendar
// sources belong ahead of the user's own stories.
type MultiSource []Source

// Load implements Source. The first failing source aborts the load.
func (m MultiSource) Load(ctx context.Context) ([]model.Story, error) {
	var all []model.Story
	for _, src := range m {
		stories, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, stories...)
	}
	return all, nil
}

// Timeline is a concurrency-safe holder of the current sequence. Every
// mutation builds a new slice and swaps it in, so snapshots handed out
// earlier are never modified.
type Timeline struct {
	src   Source
	store Store

	mu       sync.RWMutex
	entries  []sequence.Entry
	loadedAt time.Time
}

// New returns an empty Timeline. store may be nil, in which case edits
// only change the in-memory list.
func New(src Source, store Store) *Timeline {
	return &Timeline{src: src, store: store}
}

// Reload loads all stories from the source and sequences them. On error
// the previous sequence is kept.
func (t *Timeline) Reload(ctx context.Context) error {
	stories, err := t.src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load stories: %w", err)
	}
	entries := sequence.Sequence(stories)

	t.mu.Lock()
	t.entries = entries
	t.loadedAt = time.Now()
	t.mu.Unlock()

	appLog.Info("timeline reloaded", "stories", len(entries))
	return nil
}

// Snapshot returns a copy of the current sequence.
func (t *Timeline) Snapshot() []sequence.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.entries)
}

// LoadedAt is the time of the last successful Reload.
func (t *Timeline) LoadedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadedAt
}

// Resort re-runs the full ordering pass over the current order.
func (t *Timeline) Resort() []sequence.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = sequence.Sequence(sequence.Stories(t.entries))
	return slices.Clone(t.entries)
}

// Insert places s at index at (clamped to the list bounds). A story with
// any time set triggers a resort; otherwise it stays where it was put and
// only distances are recomputed. Inserted stories are always editable.
func (t *Timeline) Insert(ctx context.Context, at int, s model.Story) ([]sequence.Entry, error) {
	s.ReadOnly = false
	s, err := t.save(ctx, s)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	at = min(max(at, 0), len(t.entries))
	stories := slices.Insert(sequence.Stories(t.entries), at, s)
	t.entries = recompute(stories, s.HasSchedule())
	return slices.Clone(t.entries), nil
}

// Update replaces the story that matches target (by ID, else by
// structure). Changing either time triggers a resort. Read-only stories
// cannot be updated.
func (t *Timeline) Update(ctx context.Context, target, s model.Story) ([]sequence.Entry, error) {
	if _, err := t.editable(target); err != nil {
		return nil, err
	}

	if s.ID == "" {
		s.ID = target.ID
	}
	s.ReadOnly = false
	s, err := t.save(ctx, s)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// The list may have changed while saving.
	i := sequence.IndexOf(t.entries, target)
	if i < 0 {
		return nil, ErrNotFound
	}
	old := t.entries[i].Story
	stories := sequence.Stories(t.entries)
	stories[i] = s
	resort := old.StartTime != s.StartTime || old.EndTime != s.EndTime
	t.entries = recompute(stories, resort)
	return slices.Clone(t.entries), nil
}

// Delete removes the story that matches target. Read-only stories cannot
// be deleted.
func (t *Timeline) Delete(ctx context.Context, target model.Story) ([]sequence.Entry, error) {
	found, err := t.editable(target)
	if err != nil {
		return nil, err
	}

	if t.store != nil {
		if err := t.store.Delete(ctx, found); err != nil {
			return nil, fmt.Errorf("delete story: %w", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := sequence.IndexOf(t.entries, target)
	if i < 0 {
		return nil, ErrNotFound
	}
	stories := slices.Delete(sequence.Stories(t.entries), i, i+1)
	t.entries = recompute(stories, false)
	return slices.Clone(t.entries), nil
}

// MoveUp moves the unplanned entry at i one slot towards the front.
func (t *Timeline) MoveUp(i int) ([]sequence.Entry, error) {
	return t.move(i, sequence.MoveUp[sequence.Entry])
}

// MoveDown moves the unplanned entry at i one slot towards the back.
func (t *Timeline) MoveDown(i int) ([]sequence.Entry, error) {
	return t.move(i, sequence.MoveDown[sequence.Entry])
}

func (t *Timeline) move(i int, fn func([]sequence.Entry, int) []sequence.Entry) ([]sequence.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.entries) {
		return nil, ErrIndexOutOfRange
	}
	if t.entries[i].HasDate {
		return nil, ErrDatedMove
	}
	t.entries = sequence.WithDistances(fn(t.entries, i))
	return slices.Clone(t.entries), nil
}

// Today returns the index of the first entry dated on now's calendar day.
// Without one it picks the nearest entry on a later day, then the nearest
// on an earlier day. It returns -1 when nothing is dated.
func (t *Timeline) Today(now time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return todayIndex(t.entries, now)
}

func todayIndex(entries []sequence.Entry, now time.Time) int {
	today := now.Format("2006-01-02")
	future, past := -1, -1
	futureGap, pastGap := 0, 0

	for i, e := range entries {
		if !e.HasDate {
			continue
		}
		if e.Date == today {
			return i
		}
		gap := sequence.DaysBetween(today, e.Date)
		if e.Date > today {
			if future < 0 || gap < futureGap {
				future, futureGap = i, gap
			}
		} else if past < 0 || gap < pastGap {
			past, pastGap = i, gap
		}
	}
	if future >= 0 {
		return future
	}
	return past
}

// Search runs Match over the current sequence.
func (t *Timeline) Search(query string) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Match(t.entries, query)
}

// Match returns the indexes of entries whose name, description, address
// name or date contains query, ignoring case. An empty query matches
// everything.
func Match(entries []sequence.Entry, query string) []int {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]int, 0)
	for i, e := range entries {
		if q == "" || matches(e, q) {
			out = append(out, i)
		}
	}
	return out
}

func matches(e sequence.Entry, q string) bool {
	fields := []string{e.Story.Name, e.Story.Description, e.Date}
	if e.Story.Address != nil {
		fields = append(fields, e.Story.Address.Name)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// editable returns the story matching target, or ErrNotFound /
// ErrReadOnly.
func (t *Timeline) editable(target model.Story) (model.Story, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sequence.IndexOf(t.entries, target)
	if i < 0 {
		return model.Story{}, ErrNotFound
	}
	if t.entries[i].Story.ReadOnly {
		return model.Story{}, ErrReadOnly
	}
	return t.entries[i].Story, nil
}

func (t *Timeline) save(ctx context.Context, s model.Story) (model.Story, error) {
	if t.store == nil {
		return s, nil
	}
	saved, err := t.store.Save(ctx, s)
	if err != nil {
		return s, fmt.Errorf("save story: %w", err)
	}
	return saved, nil
}

// recompute runs the full sequencer when resort is set. Otherwise it keeps
// the given order and only refreshes derived fields and distances.
func recompute(stories []model.Story, resort bool) []sequence.Entry {
	if resort {
		return sequence.Sequence(stories)
	}
	entries := make([]sequence.Entry, len(stories))
	for i, s := range stories {
		entries[i] = sequence.Entry{Story: s, Moment: sequence.Extract(s)}
	}
	return sequence.WithDistances(entries)
}
