package watermark

import (
	"context"
	"errors"
	"testing"
	"time"
)

// memoryHistory records successful windows the way the store does.
type memoryHistory struct {
	ends map[Key]time.Time
	err  error
}

func (m *memoryHistory) LatestSuccessfulEnd(ctx context.Context, key Key) (time.Time, bool, error) {
	if m.err != nil {
		return time.Time{}, false, m.err
	}
	end, ok := m.ends[key]
	return end, ok, nil
}

func (m *memoryHistory) record(key Key, w Window) {
	if m.ends == nil {
		m.ends = map[Key]time.Time{}
	}
	if prev, ok := m.ends[key]; !ok || w.End.After(prev) {
		m.ends[key] = w.End
	}
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

var key = Key{Provider: "aws", Scope: "111122223333", AttributeKey: "EventName", AttributeValue: "ConsoleLogin"}

func TestNext_FirstRunBackfills(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(&memoryHistory{}, &stepClock{now: now}, Policy{})

	w, err := tr.Next(context.Background(), key)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := now.Add(-89 * 24 * time.Hour); !w.Start.Equal(want) {
		t.Errorf("start = %v, want %v", w.Start, want)
	}
	if want := w.Start.Add(30 * 24 * time.Hour); !w.End.Equal(want) {
		t.Errorf("first window should be capped at 30 days, end = %v, want %v", w.End, want)
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	tests := []struct {
		name      string
		start     time.Time
		wantEnd   time.Time
	}{
		{"lag caps a recent start", now.Add(-2 * time.Hour), now.Add(-30 * time.Minute)},
		{"max window caps an old start", now.Add(-60 * 24 * time.Hour), now.Add(-30 * 24 * time.Hour)},
		{"start inside lag moves forward a minute", now.Add(-10 * time.Minute), now.Add(-9 * time.Minute)},
		{"start exactly at lag moves forward a minute", now.Add(-30 * time.Minute), now.Add(-29 * time.Minute)},
		{"start in the future (clock skew)", now.Add(time.Hour), now.Add(time.Hour + time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Compute(tt.start, now, p)
			if !w.Start.Equal(tt.start) {
				t.Errorf("start moved: %v", w.Start)
			}
			if !w.End.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", w.End, tt.wantEnd)
			}
			if !w.End.After(w.Start) {
				t.Errorf("empty or inverted window %v", w)
			}
		})
	}
}

func TestNext_WindowProgression(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	hist := &memoryHistory{}
	tr := NewTracker(hist, clock, Policy{})

	var windows []Window
	for i := 0; i < 8; i++ {
		w, err := tr.Next(context.Background(), key)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		windows = append(windows, w)
		hist.record(key, w)
		// Polls run hourly after the backlog is drained.
		clock.now = clock.now.Add(time.Hour)
	}

	for i := range windows {
		if !windows[i].End.After(windows[i].Start) {
			t.Errorf("window %d is empty: %v", i, windows[i])
		}
		if i > 0 && !windows[i].Start.Equal(windows[i-1].End) {
			t.Errorf("gap or overlap between window %d (%v) and %d (%v)", i-1, windows[i-1], i, windows[i])
		}
	}
}

func TestNext_KeysAreIndependent(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	hist := &memoryHistory{}
	hist.record(key, Window{End: now.Add(-time.Hour)})
	tr := NewTracker(hist, &stepClock{now: now}, Policy{})

	other := key
	other.Scope = "444455556666"
	w, err := tr.Next(context.Background(), other)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Start.Equal(now.Add(-DefaultBackfill)) {
		t.Errorf("another scope must not inherit the watermark, start = %v", w.Start)
	}
}

func TestNext_HistoryError(t *testing.T) {
	boom := errors.New("database is locked")
	tr := NewTracker(&memoryHistory{err: boom}, nil, Policy{})
	if _, err := tr.Next(context.Background(), key); !errors.Is(err, boom) {
		t.Errorf("expected wrapped history error, got %v", err)
	}
}
