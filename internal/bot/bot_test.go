package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/park285/goose-tap-client/internal/history"
	"github.com/park285/goose-tap-client/internal/msgcat"
	"github.com/park285/goose-tap-client/internal/present"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/internal/round"
	"github.com/park285/goose-tap-client/pkg/goosedto"
	"github.com/redis/go-redis/v9"
)

type fakeAPI struct {
	mu      sync.Mutex
	rounds  map[string]goosedto.Round
	created int
}

func (a *fakeAPI) GetRound(ctx context.Context, id string) (*goosedto.Round, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.rounds[id]
	return &r, nil
}

func (a *fakeAPI) ListRounds(ctx context.Context, after string, limit int) (*goosedto.RoundsPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := &goosedto.RoundsPage{Config: goosedto.DefaultGameConfig()}
	if after != "" {
		return p, nil
	}
	for _, r := range a.rounds {
		p.Items = append(p.Items, goosedto.RoundListItem{ID: r.ID, StartAt: r.StartAt, EndAt: r.EndAt, Status: r.Status, TotalPoints: r.TotalPoints})
	}
	return p, nil
}

func (a *fakeAPI) CreateRound(ctx context.Context) (*goosedto.CreatedRound, error) {
	a.mu.Lock()
	a.created++
	a.mu.Unlock()
	return &goosedto.CreatedRound{}, nil
}

type fakePush struct {
	*pushchan.Bus
	mu      sync.Mutex
	actions map[string]int
}

func newFakePush() *fakePush { return &fakePush{Bus: pushchan.NewBus(nil), actions: map[string]int{}} }

func (p *fakePush) inc(k string) { p.mu.Lock(); p.actions[k]++; p.mu.Unlock() }
func (p *fakePush) count(k string) int { p.mu.Lock(); defer p.mu.Unlock(); return p.actions[k] }

func (p *fakePush) JoinRoom(id string)           { p.inc("join:" + id) }
func (p *fakePush) LeaveRoom(id string)          { p.inc("leave:" + id) }
func (p *fakePush) Tap(id string)                { p.inc("tap:" + id) }
func (p *fakePush) RequestLeaderboard(id string) { p.inc("leaderboard:" + id) }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() { return }
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBotTapsActiveRoundAndRecordsResult(t *testing.T) {
	clock := clockwork.NewFakeClock()
	now := clock.Now()
	api := &fakeAPI{rounds: map[string]goosedto.Round{
		"live": {ID: "live", StartAt: now.Add(-5 * time.Second), EndAt: now.Add(55 * time.Second), Status: goosedto.StatusActive},
		"old":  {ID: "old", StartAt: now.Add(-time.Hour), EndAt: now.Add(-59 * time.Minute), Status: goosedto.StatusFinished},
	}}
	push := newFakePush()

	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	defer mr.Close()
	store := history.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cat, err := msgcat.New("")
	if err != nil { t.Fatalf("msgcat: %v", err) }

	b := New(api, push, present.NewFormatter(cat, time.UTC), history.NewRecorder(store, nil), clock,
		Config{Username: "bot", TapInterval: 100 * time.Millisecond, MaxViews: 2, RefreshEvery: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = b.Run(ctx); close(done) }()

	eventually(t, "view on live round", func() bool { return push.count("join:live") == 1 })
	if push.count("join:old") != 0 { t.Fatalf("finished round should not be followed") }
	eventually(t, "live round loaded", func() bool {
		vs := b.Views()
		return len(vs) == 1 && vs[0].Loaded()
	})

	eventually(t, "tap sent", func() bool {
		clock.Advance(100 * time.Millisecond)
		return push.count("tap:live") > 0
	})

	_ = push.Emit(goosedto.EventRoundFinished, goosedto.RoundFinished{ID: "live", TotalPoints: ptr(12), Winner: &goosedto.Winner{Username: "bot", Points: 12}})
	eventually(t, "result recorded", func() bool {
		r, _ := store.Load(context.Background(), "live")
		return r != nil && r.Winner == "bot" && r.TotalPoints == 12
	})
	eventually(t, "view closed", func() bool { return push.count("leave:live") == 1 && len(b.Views()) == 0 })

	cancel()
	<-done
	if n := push.Listeners(goosedto.EventRoundUpdate); n != 0 { t.Fatalf("listeners left after shutdown: %d", n) }
}

func TestBotCreatesRoundWhenNothingIsRunning(t *testing.T) {
	api := &fakeAPI{rounds: map[string]goosedto.Round{}}
	push := newFakePush()
	b := New(api, push, nil, nil, clockwork.NewFakeClock(), Config{CanCreate: true, RefreshEvery: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = b.Run(ctx); close(done) }()
	eventually(t, "create", func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.created == 1
	})
	cancel()
	<-done
}

// gatedPush holds JoinRoom until the gate opens, like a socket write stuck on a slow peer.
type gatedPush struct {
	*fakePush
	entered chan struct{}
	gate    chan struct{}
}

func (p *gatedPush) JoinRoom(id string) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.gate
	p.fakePush.JoinRoom(id)
}

func TestSlowOpenDoesNotBlockOtherViews(t *testing.T) {
	clock := clockwork.NewFakeClock()
	now := clock.Now()
	api := &fakeAPI{rounds: map[string]goosedto.Round{
		"slow": {ID: "slow", StartAt: now.Add(-5 * time.Second), EndAt: now.Add(55 * time.Second), Status: goosedto.StatusActive},
	}}
	push := &gatedPush{fakePush: newFakePush(), entered: make(chan struct{}, 1), gate: make(chan struct{})}
	b := New(api, push, nil, nil, clock, Config{MaxViews: 2, RefreshEvery: time.Hour}, nil)
	defer b.shutdown()

	go b.open("slow")
	select {
	case <-push.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("open never reached the socket")
	}

	done := make(chan struct{})
	go func() {
		_ = b.Views()
		b.onView("slow", round.State{RoundID: "slow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bot lock held while a view was opening")
	}

	close(push.gate)
	eventually(t, "view opened", func() bool { return len(b.Views()) == 1 })
}

func ptr[T any](v T) *T { return &v }
