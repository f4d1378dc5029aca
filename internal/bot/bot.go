package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/goose-tap-client/internal/history"
	"github.com/park285/goose-tap-client/internal/present"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/internal/round"
	"github.com/park285/goose-tap-client/internal/roundlist"
	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
)

// API is the pull side the bot drives.
type API interface {
	round.Fetcher
	roundlist.Fetcher
}

// Push is the push side the bot drives. *pushchan.Channel satisfies it.
type Push interface {
	round.Channel
	OnUserTap(fn func(goosedto.UserTap)) *pushchan.Subscription
}

type Config struct {
	Username     string
	CanCreate    bool
	PageSize     int
	TapInterval  time.Duration
	MaxViews     int
	RefreshEvery time.Duration
}

// Bot follows the round list, keeps a view open on every round that has not
// finished, taps while a round is active and records results once the server
// declares a round finished.
type Bot struct {
	api       API
	push      Push
	formatter *present.Formatter
	recorder  *history.Recorder
	clock     clockwork.Clock
	cfg       Config
	logger    *zap.Logger

	list *roundlist.Aggregator

	mu     sync.Mutex
	views  map[string]*entry
	wg     sync.WaitGroup
	closed bool
}

type entry struct {
	view     *round.View
	stop     context.CancelFunc
	recorded bool
	lastKey  string
}

func New(api API, push Push, f *present.Formatter, rec *history.Recorder, clock clockwork.Clock, cfg Config, logger *zap.Logger) *Bot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TapInterval <= 0 {
		cfg.TapInterval = 200 * time.Millisecond
	}
	if cfg.MaxViews <= 0 {
		cfg.MaxViews = 4
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 15 * time.Second
	}
	b := &Bot{
		api:       api,
		push:      push,
		formatter: f,
		recorder:  rec,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		views:     make(map[string]*entry),
	}
	b.list = roundlist.New(api, push,
		roundlist.WithPageSize(cfg.PageSize),
		roundlist.WithLogger(logger),
		roundlist.WithOnChange(b.onList),
	)
	return b
}

// Run blocks until ctx is done, then closes every view.
func (b *Bot) Run(ctx context.Context) error {
	tapSub := b.push.OnUserTap(func(p goosedto.UserTap) {
		b.logger.Debug("user_tap", zap.String("user_id", p.UserID), zap.Int("my_points", p.MyPoints))
	})
	defer tapSub.Dispose()
	defer b.shutdown()

	if err := b.list.LoadFirstPage(ctx); err != nil {
		b.logger.Warn("round_list_load_failed", zap.Error(err))
	}
	b.maybeCreate(ctx)

	t := b.clock.NewTicker(b.cfg.RefreshEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			if err := b.list.LoadFirstPage(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn("round_list_load_failed", zap.Error(err))
			}
			b.maybeCreate(ctx)
		}
	}
}

// Views returns the state of every open view.
func (b *Bot) Views() []round.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]round.State, 0, len(b.views))
	for _, e := range b.views {
		if e.view != nil {
			out = append(out, e.view.State())
		}
	}
	return out
}

// Recent returns recorded results, newest first.
func (b *Bot) Recent(ctx context.Context, n int) ([]history.Result, error) {
	return b.recorder.Recent(ctx, n)
}

func (b *Bot) onList(s roundlist.Snapshot) {
	b.logger.Debug("round_list", zap.Int("items", len(s.Items)), zap.Bool("has_more", s.HasMore))
	for _, it := range s.Items {
		if it.Status == goosedto.StatusFinished {
			continue
		}
		b.open(it.ID)
	}
}

// open reserves the slot under the lock and opens the view outside it, since
// opening writes to the socket.
func (b *Bot) open(roundID string) {
	b.mu.Lock()
	if b.closed || b.views[roundID] != nil || len(b.views) >= b.cfg.MaxViews {
		b.mu.Unlock()
		return
	}
	e := &entry{}
	b.views[roundID] = e
	b.mu.Unlock()

	v, err := round.Open(roundID, round.Deps{
		Fetcher:  b.api,
		Channel:  b.push,
		Clock:    b.clock,
		Logger:   b.logger,
		OnChange: func(st round.State) { b.onView(roundID, st) },
	})
	if err != nil {
		b.logger.Warn("round_view_open_failed", zap.String("round_id", roundID), zap.Error(err))
		b.mu.Lock()
		delete(b.views, roundID)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	if b.closed || b.views[roundID] != e {
		if b.views[roundID] == e {
			delete(b.views, roundID)
		}
		b.mu.Unlock()
		v.Close()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.view, e.stop = v, cancel
	ticker := b.clock.NewTicker(b.cfg.TapInterval)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.tapLoop(ctx, v, ticker)
	b.logger.Info("round_follow", zap.String("round_id", roundID), zap.String("view_id", v.ID()))
}

func (b *Bot) tapLoop(ctx context.Context, v *round.View, t clockwork.Ticker) {
	defer b.wg.Done()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if err := v.Tap(); errors.Is(err, round.ErrClosed) {
				return
			}
		}
	}
}

// onView runs on the view's goroutine, so it must not close the view itself.
func (b *Bot) onView(roundID string, st round.State) {
	b.mu.Lock()
	e := b.views[roundID]
	if e == nil || e.view == nil {
		b.mu.Unlock()
		return
	}
	key := stateKey(st)
	changed := key != e.lastKey
	e.lastKey = key
	finish := st.ShowResult() && !e.recorded
	if finish {
		e.recorded = true
	}
	b.mu.Unlock()

	if changed && b.formatter != nil {
		b.logger.Info("round_state", zap.String("round_id", roundID), zap.String("text", present.Block(b.formatter.Round(st))))
	}
	if finish {
		res := history.FromRound(st.Round, b.cfg.Username, b.clock.Now())
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := b.recorder.Record(ctx, res); err != nil {
				b.logger.Warn("round_result_record_failed", zap.String("round_id", roundID), zap.Error(err))
			}
			b.close(roundID)
		}()
	}
}

func (b *Bot) maybeCreate(ctx context.Context) {
	if !b.cfg.CanCreate {
		return
	}
	for _, it := range b.list.Snapshot().Items {
		if it.Status != goosedto.StatusFinished {
			return
		}
	}
	if _, err := b.list.CreateRound(ctx); err != nil {
		b.logger.Warn("round_create_failed", zap.Error(err))
	}
}

func (b *Bot) close(roundID string) {
	b.mu.Lock()
	e := b.views[roundID]
	if e == nil || e.view == nil {
		// a reservation is finished by open itself
		b.mu.Unlock()
		return
	}
	delete(b.views, roundID)
	b.mu.Unlock()
	e.stop()
	e.view.Close()
	b.logger.Info("round_unfollow", zap.String("round_id", roundID))
}

func (b *Bot) shutdown() {
	b.mu.Lock()
	b.closed = true
	ids := make([]string, 0, len(b.views))
	for id := range b.views {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.close(id)
	}
	b.list.Close()
	b.wg.Wait()
}

// stateKey ignores the countdown so that ticks alone do not produce a log line.
func stateKey(st round.State) string {
	if st.Round == nil {
		return "loading:" + st.LoadError
	}
	r := st.Round
	w := ""
	if r.Winner != nil {
		w = r.Winner.Username
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s|%d", st.Phase, r.Status, r.TotalPoints, r.MyPoints, w, st.TapError, len(st.Leaderboard))
}
