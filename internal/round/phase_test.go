package round

import (
	"testing"
	"time"
)

func TestPhaseBoundaries(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(60 * time.Second)
	cases := []struct {
		at   time.Time
		want Phase
	}{
		{start.Add(-time.Millisecond), PhaseCooldown},
		{start, PhaseActive},
		{start.Add(59999 * time.Millisecond), PhaseActive},
		{start.Add(60000 * time.Millisecond), PhaseFinished},
	}
	for _, c := range cases {
		if got := PhaseAt(c.at, start, end); got != c.want {
			t.Fatalf("PhaseAt(%s) = %s, want %s", c.at.Sub(start), got, c.want)
		}
	}
}

func TestPhaseIsMonotonicInTime(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	rank := map[Phase]int{PhaseCooldown: 0, PhaseActive: 1, PhaseFinished: 2}
	prev := -1
	for at := start.Add(-30 * time.Second); at.Before(end.Add(30 * time.Second)); at = at.Add(250 * time.Millisecond) {
		r := rank[PhaseAt(at, start, end)]
		if r < prev {
			t.Fatalf("phase went backwards at %s", at.Sub(start))
		}
		prev = r
	}
}

func TestRemainingAndFormat(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	if d := Remaining(start.Add(-90*time.Second), start, end); d != 90*time.Second {
		t.Fatalf("cooldown remaining = %s", d)
	}
	if d := Remaining(start.Add(15500*time.Millisecond), start, end); d != 44500*time.Millisecond {
		t.Fatalf("active remaining = %s", d)
	}
	if d := Remaining(end.Add(time.Hour), start, end); d != 0 {
		t.Fatalf("finished remaining = %s", d)
	}
	if s := FormatRemaining(90 * time.Second); s != "01:30" {
		t.Fatalf("FormatRemaining(90s) = %q", s)
	}
	if s := FormatRemaining(44500 * time.Millisecond); s != "00:44" {
		t.Fatalf("FormatRemaining(44.5s) = %q", s)
	}
	if s := FormatRemaining(-time.Second); s != "00:00" {
		t.Fatalf("FormatRemaining(-1s) = %q", s)
	}
}
