package round

import (
	"fmt"
	"time"
)

// Phase is the locally derived stage of a round. It governs interactivity;
// the server status governs when final results are shown.
type Phase string

const (
	PhaseCooldown Phase = "cooldown"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// PhaseAt is cooldown before startAt, active in [startAt, endAt) and finished after.
func PhaseAt(now, startAt, endAt time.Time) Phase {
	switch {
	case now.Before(startAt):
		return PhaseCooldown
	case now.Before(endAt):
		return PhaseActive
	default:
		return PhaseFinished
	}
}

// Remaining is the time left in the current phase, never negative.
func Remaining(now, startAt, endAt time.Time) time.Duration {
	var d time.Duration
	switch PhaseAt(now, startAt, endAt) {
	case PhaseCooldown:
		d = startAt.Sub(now)
	case PhaseActive:
		d = endAt.Sub(now)
	default:
		return 0
	}
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders d as mm:ss, truncating to whole seconds.
func FormatRemaining(d time.Duration) string {
	s := int64(d / time.Second)
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
