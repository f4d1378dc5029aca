package round

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/park285/goose-tap-client/internal/obslog"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
)

// finishedRecheck spaces resyncs while the clock says finished and the server has not.
const finishedRecheck = 10 * time.Second

var (
	ErrEmptyRoundID = errors.New("round id is required")
	ErrClosed       = errors.New("round view closed")
	ErrNotActive    = errors.New("round not active")
)

// Fetcher is the pull side a view needs.
type Fetcher interface {
	GetRound(ctx context.Context, id string) (*goosedto.Round, error)
}

// Channel is the push side a view needs. *pushchan.Channel satisfies it.
type Channel interface {
	JoinRoom(roundID string)
	LeaveRoom(roundID string)
	Tap(roundID string)
	RequestLeaderboard(roundID string)
	OnRoundUpdate(fn func(goosedto.RoundUpdate)) *pushchan.Subscription
	OnRoundFinished(fn func(goosedto.RoundFinished)) *pushchan.Subscription
	OnTapResult(fn func(goosedto.TapResult)) *pushchan.Subscription
	OnLeaderboard(fn func(goosedto.Leaderboard)) *pushchan.Subscription
	OnConnect(fn func()) *pushchan.Subscription
}

type Deps struct {
	Fetcher Fetcher
	Channel Channel
	Clock   clockwork.Clock
	Logger  *zap.Logger
	// OnChange is called on the view goroutine after every reaction that changed the state.
	// It must not call back into the view.
	OnChange func(State)
}

// State is an immutable picture of a view.
type State struct {
	ViewID      string
	RoundID     string
	Sync        SyncState
	Round       *goosedto.Round
	Now         time.Time
	Phase       Phase
	Remaining   time.Duration
	Leaderboard []goosedto.LeaderboardEntry
	TapError    string
	LoadError   string
	Closed      bool
}

// Loaded reports whether the first snapshot has arrived.
func (s State) Loaded() bool { return s.Round != nil }

// ShowResult is true only once the server says the round is finished,
// even if the local clock already ran out.
func (s State) ShowResult() bool {
	return s.Round != nil && s.Round.Status == goosedto.StatusFinished
}

// View keeps one round in sync for as long as it is open. Every reaction runs
// on the view's own goroutine; fetches run aside and post their result back.
type View struct {
	id      string
	roundID string
	deps    Deps
	logger  *zap.Logger

	inbox   chan func()
	done    chan struct{}
	closeMu sync.Once
	loopWG  sync.WaitGroup
	fetchWG sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	ticker clockwork.Ticker
	subs   []*pushchan.Subscription
	last   atomic.Pointer[State]

	// owned by the view goroutine
	rec       *Reconciler
	board     *Leaderboard
	now       time.Time
	loadError string

	// last resync started because the clock ran out
	finishCheck time.Time
}

// Open joins the round's room, asks for the leaderboard and starts the first fetch.
func Open(roundID string, deps Deps) (*View, error) {
	roundID = strings.TrimSpace(roundID)
	if roundID == "" {
		return nil, ErrEmptyRoundID
	}
	if deps.Fetcher == nil || deps.Channel == nil {
		return nil, errors.New("round view needs a fetcher and a channel")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = obslog.L()
	}
	v := &View{
		id:      uuid.NewString(),
		roundID: roundID,
		deps:    deps,
		inbox:   make(chan func(), 64),
		done:    make(chan struct{}),
	}
	v.logger = logger.With(zap.String("view_id", v.id), zap.String("round_id", roundID))
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.rec = NewReconciler(roundID, v.logger)
	v.board = NewLeaderboard(roundID)
	v.now = deps.Clock.Now()
	v.ticker = deps.Clock.NewTicker(time.Second)
	v.last.Store(&State{ViewID: v.id, RoundID: roundID, Now: v.now})

	ch := deps.Channel
	v.subs = []*pushchan.Subscription{
		ch.OnRoundUpdate(func(p goosedto.RoundUpdate) {
			v.post(func() { v.react(v.rec.ApplyRoundUpdate(p)) })
		}),
		ch.OnRoundFinished(func(p goosedto.RoundFinished) {
			v.post(func() { v.react(v.rec.ApplyRoundFinished(p)) })
		}),
		ch.OnTapResult(func(p goosedto.TapResult) {
			// the channel is shared; only answers to this view's taps count
			if p.RoundID != roundID {
				return
			}
			v.post(func() {
				changed, effect := v.rec.ApplyTapResult(p)
				if effect == EffectFetch {
					v.spawnFetch()
				}
				v.react(changed)
			})
		}),
		ch.OnLeaderboard(func(p goosedto.Leaderboard) {
			v.post(func() { v.react(v.board.Apply(p)) })
		}),
		ch.OnConnect(func() {
			v.post(v.rejoin)
		}),
	}

	v.loopWG.Add(1)
	go v.run()

	ch.JoinRoom(roundID)
	ch.RequestLeaderboard(roundID)
	v.post(v.fetch)
	v.logger.Debug("round_view_open")
	return v, nil
}

func (v *View) ID() string      { return v.id }
func (v *View) RoundID() string { return v.roundID }

// State returns the picture published after the latest reaction.
func (v *View) State() State { return *v.last.Load() }

// Tap sends a tap when the round is loaded and the local clock says it is active.
func (v *View) Tap() error {
	res := make(chan error, 1)
	if !v.post(func() {
		r := v.rec.round
		if r == nil || PhaseAt(v.now, r.StartAt, r.EndAt) != PhaseActive {
			res <- ErrNotActive
			return
		}
		v.deps.Channel.Tap(v.roundID)
		res <- nil
	}) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-v.done:
		return ErrClosed
	}
}

// Close leaves the room and releases every subscription and the ticker.
// Results of a fetch still in flight are dropped. Safe to call more than once.
func (v *View) Close() {
	v.closeMu.Do(func() {
		for _, s := range v.subs {
			s.Dispose()
		}
		close(v.done)
		v.loopWG.Wait()
		v.ticker.Stop()
		v.cancel()
		v.fetchWG.Wait()
		v.deps.Channel.LeaveRoom(v.roundID)

		st := *v.last.Load()
		st.Closed = true
		v.last.Store(&st)
		v.logger.Debug("round_view_closed")
	})
}

func (v *View) post(fn func()) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.inbox <- fn:
		return true
	case <-v.done:
		return false
	}
}

func (v *View) run() {
	defer v.loopWG.Done()
	for {
		select {
		case <-v.done:
			return
		case fn := <-v.inbox:
			select {
			case <-v.done:
				return
			default:
			}
			fn()
		case <-v.ticker.Chan():
			v.now = v.deps.Clock.Now()
			v.checkClockFinished()
			v.publish()
		}
	}
}

func (v *View) rejoin() {
	v.deps.Channel.JoinRoom(v.roundID)
	v.deps.Channel.RequestLeaderboard(v.roundID)
	v.logger.Info("round_resync", zap.String("reason", "reconnect"))
	v.fetch()
}

// checkClockFinished resyncs once the local clock runs out without a
// round_finished push, which may have been lost.
func (v *View) checkClockFinished() {
	r := v.rec.round
	if r == nil || r.Status == goosedto.StatusFinished || PhaseAt(v.now, r.StartAt, r.EndAt) != PhaseFinished {
		return
	}
	if !v.finishCheck.IsZero() && v.now.Sub(v.finishCheck) < finishedRecheck {
		return
	}
	v.finishCheck = v.now
	v.logger.Info("round_resync", zap.String("reason", "clock_finished"))
	v.fetch()
}

func (v *View) fetch() {
	if !v.rec.BeginFetch() {
		return
	}
	v.spawnFetch()
	v.publish()
}

// spawnFetch runs a fetch whose slot was already reserved on the reconciler.
func (v *View) spawnFetch() {
	v.fetchWG.Add(1)
	go func() {
		defer v.fetchWG.Done()
		snap, err := v.deps.Fetcher.GetRound(v.ctx, v.roundID)
		v.post(func() {
			if err != nil {
				v.rec.FetchFailed(err)
				if v.rec.round == nil {
					v.loadError = err.Error()
				}
			} else {
				v.rec.ApplySnapshot(snap)
				v.loadError = ""
			}
			v.publish()
		})
	}()
}

func (v *View) react(changed bool) {
	if changed {
		v.publish()
	}
}

func (v *View) publish() {
	st := State{
		ViewID:      v.id,
		RoundID:     v.roundID,
		Sync:        v.rec.State(),
		Round:       v.rec.Round(),
		Now:         v.now,
		Leaderboard: v.board.Entries(),
		TapError:    v.rec.TapError(),
		LoadError:   v.loadError,
	}
	if st.Round != nil {
		st.Phase = PhaseAt(v.now, st.Round.StartAt, st.Round.EndAt)
		st.Remaining = Remaining(v.now, st.Round.StartAt, st.Round.EndAt)
	}
	v.last.Store(&st)
	if v.deps.OnChange != nil {
		v.deps.OnChange(st)
	}
}
