package sequence

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeflow/internal/model"
)

func story(name, start string) model.Story {
	return model.Story{Name: name, StartTime: start}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Story.Name
	}
	return out
}

func distances(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.DistanceFromPrevious
	}
	return out
}

func TestSequenceScenarios(t *testing.T) {
	tests := []struct {
		name      string
		in        []model.Story
		wantOrder []string
		wantDist  []int
	}{
		{
			name:      "two days reversed",
			in:        []model.Story{story("A", "2025-01-02 10:00"), story("B", "2025-01-01 09:00")},
			wantOrder: []string{"B", "A"},
			wantDist:  []int{0, 0},
		},
		{
			name: "untimed note between timed stories",
			in: []model.Story{
				story("A", "2025-01-01 09:00"),
				story("Note", ""),
				story("B", "2025-01-01 15:00"),
			},
			wantOrder: []string{"A", "Note", "B"},
			wantDist:  []int{0, 0, 0},
		},
		{
			name:      "all undated keeps input order",
			in:        []model.Story{story("x", ""), story("y", "10:00"), story("z", "soon")},
			wantOrder: []string{"x", "y", "z"},
			wantDist:  []int{0, 0, 0},
		},
		{
			name:      "undated routed to following date",
			in:        []model.Story{story("U", ""), story("D", "2025-06-15")},
			wantOrder: []string{"U", "D"},
			wantDist:  []int{0, 0},
		},
		{
			name: "one day gap",
			in: []model.Story{
				story("e1", "2025-03-01 09:00"),
				story("e2", "2025-03-01 14:00"),
				story("e3", "2025-03-03 08:00"),
			},
			wantOrder: []string{"e1", "e2", "e3"},
			wantDist:  []int{0, 0, 1},
		},
		{
			name: "trailing undated stays last",
			in: []model.Story{
				story("late", ""),
				story("d2", "2025-02-01"),
				story("d1", "2025-01-01"),
				story("tail", ""),
			},
			wantOrder: []string{"d1", "late", "d2", "tail"},
			wantDist:  []int{0, 0, 30, 0},
		},
		{
			name:      "empty",
			in:        nil,
			wantOrder: []string{},
			wantDist:  []int{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Sequence(tc.in)
			assert.Equal(t, tc.wantOrder, names(got))
			assert.Equal(t, tc.wantDist, distances(got))
		})
	}
}

func TestRoutedStoriesJoinDayOrdering(t *testing.T) {
	// "memo" is undated and routed to 2025-05-05. Ordering runs on the
	// whole group, so it lands in front of the earliest later timed story
	// rather than at the end.
	in := []model.Story{
		story("evening", "2025-05-05 20:00"),
		story("memo", ""),
		story("noon", "2025-05-05 12:00"),
		story("dinner", "2025-05-05 19:00"),
	}
	got := Sequence(in)
	assert.Equal(t, []string{"memo", "noon", "dinner", "evening"}, names(got))
	assert.False(t, got[0].HasDate)
}

func TestOrderDay(t *testing.T) {
	tests := []struct {
		name string
		in   []model.Story
		want []string
	}{
		{
			name: "clock order",
			in:   []model.Story{story("b", "2025-01-01 10:00"), story("a", "2025-01-01 08:30")},
			want: []string{"a", "b"},
		},
		{
			name: "equal clock keeps input order",
			in:   []model.Story{story("first", "2025-01-01 10:00"), story("second", "2025-01-01 10:00:30")},
			want: []string{"first", "second"},
		},
		{
			name: "untimed before earliest later timed",
			in: []model.Story{
				story("t1", "2025-01-01 18:00"),
				story("u", "2025-01-01"),
				story("t2", "2025-01-01 21:00"),
				story("t3", "2025-01-01 07:00"),
			},
			// u is anchored on t3, the earliest-clock timed story after it.
			want: []string{"u", "t3", "t1", "t2"},
		},
		{
			name: "untimed with no later timed goes last",
			in: []model.Story{
				story("t", "2025-01-01 08:00"),
				story("u1", "2025-01-01"),
				story("u2", "2025-01-01"),
			},
			want: []string{"t", "u1", "u2"},
		},
		{
			name: "end time supplies the clock",
			in: []model.Story{
				story("late", "2025-01-01 22:00"),
				{Name: "ends", StartTime: "2025-01-01", EndTime: "09:00"},
			},
			want: []string{"ends", "late"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, names(OrderDay(tc.in)))
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		start, end string
		want       Moment
	}{
		{"2025-01-02 10:30", "", Moment{Date: "2025-01-02", HasDate: true, Minutes: 630, HasTime: true}},
		{"2025-01-02 10:30:59", "", Moment{Date: "2025-01-02", HasDate: true, Minutes: 630, HasTime: true}},
		{"2025-01-02", "", Moment{Date: "2025-01-02", HasDate: true}},
		{"2025-01-02", "23:59", Moment{Date: "2025-01-02", HasDate: true, Minutes: 1439, HasTime: true}},
		{"07:05", "", Moment{Minutes: 425, HasTime: true}},
		{"", "2025-01-03 08:00", Moment{Minutes: 480, HasTime: true}},
		{"2025-01-02 24:00", "", Moment{Date: "2025-01-02", HasDate: true}},
		{"2025-01-02 10:60", "", Moment{Date: "2025-01-02", HasDate: true}},
		{"2025-01-02 10:00:60", "", Moment{Date: "2025-01-02", HasDate: true}},
		{"someday", "", Moment{}},
		{"", "", Moment{}},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%q/%q", tc.start, tc.end), func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(model.Story{StartTime: tc.start, EndTime: tc.end}))
		})
	}
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 0, DaysBetween("2025-01-01", "2025-01-01"))
	assert.Equal(t, 0, DaysBetween("2025-01-01", "2025-01-02"))
	assert.Equal(t, 1, DaysBetween("2025-03-01", "2025-03-03"))
	assert.Equal(t, 1, DaysBetween("2025-03-03", "2025-03-01"))
	assert.Equal(t, 365, DaysBetween("2024-01-01", "2025-01-01"))
	assert.Equal(t, 29, DaysBetween("2025-03-01", "2025-03-31"))
	assert.Equal(t, 0, DaysBetween("2025-02-30", "2025-03-10"))

	// Spans past the range of time.Duration.
	assert.Equal(t, 155228, DaysBetween("1600-01-01", "2025-01-01"))
	assert.Equal(t, 3652057, DaysBetween("9999-12-31", "0001-01-01"))
}

func TestWithDistancesSkipsUndated(t *testing.T) {
	entries := []Entry{
		{Moment: Moment{Date: "2025-01-01", HasDate: true}, DistanceFromPrevious: 9},
		{},
		{Moment: Moment{Date: "2025-01-05", HasDate: true}},
	}
	got := WithDistances(entries)
	assert.Equal(t, []int{0, 0, 3}, distances(got))
	assert.Equal(t, 9, entries[0].DistanceFromPrevious, "input must not be modified")
}

func TestMove(t *testing.T) {
	seq := []string{"a", "b", "c"}

	assert.Equal(t, []string{"b", "a", "c"}, MoveUp(seq, 1))
	assert.Equal(t, []string{"a", "c", "b"}, MoveDown(seq, 1))
	assert.Equal(t, seq, MoveUp(seq, 0))
	assert.Equal(t, seq, MoveDown(seq, 2))
	assert.Equal(t, seq, MoveUp(seq, 7))
	assert.Equal(t, seq, MoveDown(seq, -1))
	assert.Equal(t, []string{"a", "b", "c"}, seq, "input must not be modified")
}

func TestAnnotateSameDay(t *testing.T) {
	got := Sequence([]model.Story{
		story("solo", "2025-01-01 10:00"),
		story("a", "2025-01-03 09:00"),
		story("note", ""),
		story("b", "2025-01-03 11:00"),
		story("c", "2025-01-03"),
		story("tail", ""),
	})
	require.Equal(t, []string{"solo", "a", "note", "b", "c", "tail"}, names(got))

	sd := AnnotateSameDay(got)
	assert.Equal(t, []bool{false, false, true, true, true, false}, sd.IsSameDay)
	assert.Equal(t, []int{0, 0, 1, 2, 3, 0}, sd.Position)

	empty := AnnotateSameDay(nil)
	assert.Empty(t, empty.IsSameDay)
	assert.Empty(t, empty.Position)
}

func TestIndexOf(t *testing.T) {
	entries := Sequence([]model.Story{
		{ID: "one", Name: "One", StartTime: "2025-01-01"},
		{Name: "Two", StartTime: "2025-01-02"},
	})
	assert.Equal(t, 0, IndexOf(entries, model.Story{ID: "one", Name: "changed"}))
	assert.Equal(t, 1, IndexOf(entries, model.Story{Name: "Two", StartTime: "2025-01-02"}))
	assert.Equal(t, -1, IndexOf(entries, model.Story{Name: "Three"}))
}

func TestVisualSpacing(t *testing.T) {
	cases := map[int]int{0: 8, 1: 16, 2: 24, 7: 24, 8: 32, 30: 32, 31: 40, 365: 40, 366: 48}
	for d, want := range cases {
		assert.Equal(t, want, VisualSpacing(d), "distance %d", d)
	}
}

func randomStories(r *rand.Rand, n int) []model.Story {
	dates := []string{"2025-01-01", "2025-01-02", "2025-01-10", "2024-12-31"}
	clocks := []string{"", " 08:00", " 12:30", " 23:59", " 99:00"}
	out := make([]model.Story, n)
	for i := range out {
		s := model.Story{Name: fmt.Sprintf("s%d", i)}
		switch r.Intn(4) {
		case 0:
			// undated
			if r.Intn(2) == 0 {
				s.StartTime = "10:15"
			}
		default:
			s.StartTime = dates[r.Intn(len(dates))] + clocks[r.Intn(len(clocks))]
		}
		out[i] = s
	}
	return out
}

func TestSequenceProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		in := randomStories(r, r.Intn(12))
		snapshot := append([]model.Story(nil), in...)

		got := Sequence(in)
		require.Len(t, got, len(in))
		assert.Equal(t, snapshot, in, "input must not be modified")
		assert.Equal(t, got, Sequence(in), "sequencing must be deterministic")

		// Dates never decrease and a date never reappears after another one.
		seen := map[string]bool{}
		last := ""
		for _, e := range got {
			if !e.HasDate {
				continue
			}
			require.GreaterOrEqual(t, e.Date, last)
			if e.Date != last {
				require.False(t, seen[e.Date], "date %s is split", e.Date)
				seen[e.Date] = true
				last = e.Date
			}
		}

		// Undated stories without a later dated story come last, in input order.
		lastDated := -1
		for i, s := range in {
			if Extract(s).HasDate {
				lastDated = i
			}
		}
		trailing := in[lastDated+1:]
		require.Equal(t, Stories(got[len(got)-len(trailing):]), trailing)
	}
}
