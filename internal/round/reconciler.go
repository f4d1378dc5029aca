package round

import (
	"time"

	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
)

// SyncState is where a Reconciler stands relative to the server's view of the round.
type SyncState int

const (
	Uninitialized SyncState = iota
	Synced
	StalePendingResync
)

func (s SyncState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Synced:
		return "synced"
	case StalePendingResync:
		return "stale-pending-resync"
	default:
		return "unknown"
	}
}

const (
	// NotActiveError is the tap rejection that means our idea of the round is out of date.
	NotActiveError = "round not active"
	// DefaultTapError is shown when a rejected tap carries no message.
	DefaultTapError = "tap failed"
)

// Effect is what the driver of a Reconciler must do after a reaction.
type Effect int

const (
	EffectNone Effect = iota
	EffectFetch
)

// Reconciler merges one snapshot of a round with the push stream for it.
// It is not safe for concurrent use; View serializes every call.
type Reconciler struct {
	roundID  string
	state    SyncState
	round    *goosedto.Round
	inFlight bool
	tapError string

	lastSeq  uint64
	lastTime time.Time
	hasTime  bool

	logger *zap.Logger
}

func NewReconciler(roundID string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{roundID: roundID, logger: logger}
}

func (r *Reconciler) State() SyncState { return r.state }

// Round returns a copy of the held round, nil before the first snapshot.
func (r *Reconciler) Round() *goosedto.Round { return r.round.Clone() }

func (r *Reconciler) TapError() string { return r.tapError }

func (r *Reconciler) Fetching() bool { return r.inFlight }

// BeginFetch reserves the single fetch slot. It returns false when a fetch is
// already running. A synced round becomes stale until the fetch completes.
func (r *Reconciler) BeginFetch() bool {
	if r.inFlight {
		return false
	}
	r.inFlight = true
	if r.state == Synced {
		r.state = StalePendingResync
	}
	return true
}

// ApplySnapshot completes a fetch. The first snapshot is installed as is; a
// resync replaces the round wholesale and then keeps anything pushes already
// moved forward: points never go down, status never regresses, a known winner stays.
func (r *Reconciler) ApplySnapshot(snap *goosedto.Round) {
	r.inFlight = false
	if snap == nil {
		if r.state == StalePendingResync {
			r.state = Synced
		}
		return
	}
	next := snap.Clone()
	if prev := r.round; prev != nil {
		if prev.TotalPoints > next.TotalPoints {
			next.TotalPoints = prev.TotalPoints
		}
		if prev.MyPoints > next.MyPoints {
			next.MyPoints = prev.MyPoints
		}
		if prev.Status.Rank() > next.Status.Rank() {
			next.Status = prev.Status
		}
		if next.Winner == nil && prev.Winner != nil {
			w := *prev.Winner
			next.Winner = &w
		}
	}
	r.round = next
	r.state = Synced
}

// FetchFailed releases the fetch slot. A stale round goes back to synced and
// waits for the next reconnect to try again.
func (r *Reconciler) FetchFailed(err error) {
	r.inFlight = false
	if r.state == StalePendingResync {
		r.state = Synced
	}
	r.logger.Warn("round_fetch_failed", zap.String("round_id", r.roundID), zap.Error(err))
}

// ApplyRoundUpdate shallow-merges the fields present in p.
func (r *Reconciler) ApplyRoundUpdate(p goosedto.RoundUpdate) bool {
	if !r.accepts(p.ID, "round_update") {
		return false
	}
	if p.StartAt != nil {
		r.round.StartAt = *p.StartAt
	}
	if p.EndAt != nil {
		r.round.EndAt = *p.EndAt
	}
	if p.TotalPoints != nil {
		r.round.TotalPoints = *p.TotalPoints
	}
	if p.Status != nil {
		r.round.Status = *p.Status
	}
	return true
}

// ApplyRoundFinished marks the round finished regardless of the local clock.
func (r *Reconciler) ApplyRoundFinished(p goosedto.RoundFinished) bool {
	if !r.accepts(p.ID, "round_finished") {
		return false
	}
	r.round.Status = goosedto.StatusFinished
	if p.Winner != nil {
		w := *p.Winner
		r.round.Winner = &w
	}
	if p.TotalPoints != nil {
		r.round.TotalPoints = *p.TotalPoints
	}
	return true
}

// ApplyTapResult runs the ordering guard and then applies the result.
// EffectFetch means the caller must start the resync it reserved.
func (r *Reconciler) ApplyTapResult(p goosedto.TapResult) (changed bool, effect Effect) {
	if r.round == nil {
		r.logger.Debug("push_dropped", zap.String("event", "tap_result"), zap.String("reason", "no_snapshot"))
		return false, EffectNone
	}
	if !r.admit(p.Stamp) {
		r.logger.Debug("push_dropped", zap.String("event", "tap_result"), zap.String("reason", "stale"),
			zap.String("timestamp", p.Timestamp), zap.Uint64("seq", p.Seq))
		return false, EffectNone
	}

	if p.Success {
		if p.MyPoints != nil {
			r.round.MyPoints = *p.MyPoints
		}
		r.tapError = ""
		return true, EffectNone
	}
	if p.Error == NotActiveError {
		if !r.BeginFetch() {
			return false, EffectNone
		}
		r.logger.Info("round_resync", zap.String("round_id", r.roundID), zap.String("reason", "tap_rejected"))
		return true, EffectFetch
	}
	r.tapError = p.Error
	if r.tapError == "" {
		r.tapError = DefaultTapError
	}
	return true, EffectNone
}

func (r *Reconciler) accepts(id, event string) bool {
	if id != r.roundID {
		return false
	}
	if r.round == nil {
		r.logger.Debug("push_dropped", zap.String("event", event), zap.String("reason", "no_snapshot"))
		return false
	}
	return true
}

// admit compares seq when both sides carry one and the timestamp otherwise.
// Only strictly older results are refused. An unparsable timestamp is let
// through without moving the baseline.
func (r *Reconciler) admit(s goosedto.Stamp) bool {
	t, ok := s.Time()
	if s.Seq != 0 && r.lastSeq != 0 {
		if s.Seq < r.lastSeq {
			return false
		}
	} else if ok && r.hasTime && t.Before(r.lastTime) {
		return false
	}
	if s.Seq != 0 {
		r.lastSeq = s.Seq
	}
	if ok {
		r.lastTime = t
		r.hasTime = true
	}
	return true
}
