package roundlist

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/pkg/goosedto"
)

var base = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*goosedto.RoundsPage
	afters  []string
	created int
	hold    chan struct{}
}

func (f *fakeFetcher) ListRounds(ctx context.Context, after string, limit int) (*goosedto.RoundsPage, error) {
	f.mu.Lock()
	f.afters = append(f.afters, after)
	p := f.pages[after]
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if p == nil {
		return &goosedto.RoundsPage{Items: []goosedto.RoundListItem{}, Config: goosedto.DefaultGameConfig()}, nil
	}
	cp := *p
	cp.Items = append([]goosedto.RoundListItem(nil), p.Items...)
	return &cp, nil
}

func (f *fakeFetcher) CreateRound(ctx context.Context) (*goosedto.CreatedRound, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	c := &goosedto.CreatedRound{Config: goosedto.DefaultGameConfig()}
	c.Data.ID = "new"
	return c, nil
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.afters...)
}

// page builds n items whose StartAt shuffles across the window.
func page(prefix string, n int, offset time.Duration) []goosedto.RoundListItem {
	items := make([]goosedto.RoundListItem, 0, n)
	for i := 0; i < n; i++ {
		k := (i * 7) % n
		items = append(items, goosedto.RoundListItem{
			ID:      fmt.Sprintf("%s%02d", prefix, k),
			StartAt: base.Add(offset + time.Duration(k)*time.Minute),
			EndAt:   base.Add(offset + time.Duration(k)*time.Minute + time.Minute),
			Status:  goosedto.StatusFinished,
		})
	}
	return items
}

func assertSorted(t *testing.T, items []goosedto.RoundListItem) {
	t.Helper()
	seen := map[string]bool{}
	for i, it := range items {
		if seen[it.ID] { t.Fatalf("duplicate id %s", it.ID) }
		seen[it.ID] = true
		if i > 0 && it.StartAt.After(items[i-1].StartAt) { t.Fatalf("not sorted at %d: %v after %v", i, it.StartAt, items[i-1].StartAt) }
	}
}

func TestFirstPageThenPushes(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{"": {Items: page("a", 20, 0), HasMore: true, Config: goosedto.GameConfig{CooldownDuration: 10, RoundDuration: 45}}}}
	bus := pushchan.NewBus(nil)
	a := New(f, bus)
	defer a.Close()

	if err := a.LoadFirstPage(context.Background()); err != nil { t.Fatalf("LoadFirstPage: %v", err) }
	s := a.Snapshot()
	if len(s.Items) != 20 || !s.HasMore { t.Fatalf("unexpected first page: %d items hasMore=%v", len(s.Items), s.HasMore) }
	if s.Config.RoundDuration != 45 { t.Fatalf("config not kept: %+v", s.Config) }
	assertSorted(t, s.Items)

	newest := base.Add(time.Hour)
	active := goosedto.StatusActive
	_ = bus.Emit(goosedto.EventRoundUpdate, goosedto.RoundUpdate{ID: "fresh", StartAt: &newest, EndAt: ptr(newest.Add(time.Minute)), Status: &active, TotalPoints: ptr(0)})
	_ = bus.Emit(goosedto.EventRoundUpdate, goosedto.RoundUpdate{ID: "a05", TotalPoints: ptr(77)})

	s = a.Snapshot()
	if len(s.Items) != 21 { t.Fatalf("expected 21 items, got %d", len(s.Items)) }
	if s.Items[0].ID != "fresh" { t.Fatalf("new round not first: %s", s.Items[0].ID) }
	assertSorted(t, s.Items)
	for _, it := range s.Items {
		if it.ID == "a05" && (it.TotalPoints != 77 || it.Status != goosedto.StatusFinished) { t.Fatalf("patch wrong: %+v", it) }
	}

	_ = bus.Emit(goosedto.EventRoundFinished, goosedto.RoundFinished{ID: "fresh", TotalPoints: ptr(5)})
	_ = bus.Emit(goosedto.EventRoundFinished, goosedto.RoundFinished{ID: "unknown"})
	s = a.Snapshot()
	if s.Items[0].Status != goosedto.StatusFinished || s.Items[0].TotalPoints != 0 { t.Fatalf("finished should patch status only: %+v", s.Items[0]) }
	if len(s.Items) != 21 { t.Fatalf("finished for unknown id must not add items") }
}

func TestLoadMoreUsesLastIDAndDedupes(t *testing.T) {
	first := page("a", 20, time.Hour)
	second := append(page("b", 5, 0), first[3])
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{
		"": {Items: first, HasMore: true},
	}}
	a := New(f, nil)
	if err := a.LoadFirstPage(context.Background()); err != nil { t.Fatalf("LoadFirstPage: %v", err) }
	last := a.Snapshot().Items[19].ID
	f.mu.Lock()
	f.pages[last] = &goosedto.RoundsPage{Items: second, HasMore: false}
	f.mu.Unlock()

	if err := a.LoadMore(context.Background()); err != nil { t.Fatalf("LoadMore: %v", err) }
	calls := f.calls()
	if calls[len(calls)-1] != last { t.Fatalf("LoadMore cursor = %q, want %q", calls[len(calls)-1], last) }
	s := a.Snapshot()
	if len(s.Items) != 25 || s.HasMore { t.Fatalf("unexpected merge: %d items hasMore=%v", len(s.Items), s.HasMore) }
	assertSorted(t, s.Items)

	if err := a.LoadMore(context.Background()); err != nil { t.Fatalf("LoadMore: %v", err) }
	if n := len(f.calls()); n != 2 { t.Fatalf("LoadMore without more pages fetched: %d calls", n) }
}

func TestPushedRoundIsNeverTheCursor(t *testing.T) {
	first := page("a", 20, time.Hour)
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{"": {Items: first, HasMore: true}}}
	bus := pushchan.NewBus(nil)
	a := New(f, bus)
	defer a.Close()

	if err := a.LoadFirstPage(context.Background()); err != nil { t.Fatalf("LoadFirstPage: %v", err) }
	oldest := a.Snapshot().Items[19].ID
	// no startAt, so it sorts after every fetched round
	_ = bus.Emit(goosedto.EventRoundUpdate, goosedto.RoundUpdate{ID: "partial", TotalPoints: ptr(3)})
	s := a.Snapshot()
	if s.Items[len(s.Items)-1].ID != "partial" { t.Fatalf("expected pushed round last, got %s", s.Items[len(s.Items)-1].ID) }

	if err := a.LoadMore(context.Background()); err != nil { t.Fatalf("LoadMore: %v", err) }
	calls := f.calls()
	if got := calls[len(calls)-1]; got != oldest { t.Fatalf("LoadMore cursor = %q, want %q", got, oldest) }
}

func TestOnChangeNeverGoesBackwards(t *testing.T) {
	var got []uint64
	a := New(&fakeFetcher{}, nil, WithOnChange(func(s Snapshot) { got = append(got, s.Version) }))
	a.notify(Snapshot{Version: 2})
	a.notify(Snapshot{Version: 1})
	a.notify(Snapshot{Version: 3})
	if len(got) != 2 || got[0] != 2 || got[1] != 3 { t.Fatalf("delivered versions %v, want [2 3]", got) }
}

func TestPushDuringFetchSurvivesPage(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{"": {Items: page("a", 3, 0)}}, hold: gate}
	bus := pushchan.NewBus(nil)
	a := New(f, bus)
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.LoadFirstPage(context.Background()) }()
	for len(f.calls()) == 0 {
		time.Sleep(time.Millisecond)
	}
	_ = bus.Emit(goosedto.EventRoundUpdate, goosedto.RoundUpdate{ID: "a01", TotalPoints: ptr(9)})
	close(gate)
	if err := <-done; err != nil { t.Fatalf("LoadFirstPage: %v", err) }

	for _, it := range a.Snapshot().Items {
		if it.ID == "a01" && it.TotalPoints != 9 { t.Fatalf("push lost under fetched page: %+v", it) }
	}
}

func TestReconnectRefetchesFirstPage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{"": {Items: page("a", 2, 0)}}}
	bus := pushchan.NewBus(nil)
	got := make(chan Snapshot, 4)
	a := New(f, bus, WithOnChange(func(s Snapshot) { got <- s }))
	defer a.Close()

	bus.PublishConnect()
	select {
	case s := <-got:
		if len(s.Items) != 2 { t.Fatalf("expected 2 items, got %d", len(s.Items)) }
	case <-time.After(3 * time.Second):
		t.Fatalf("no refetch after connect")
	}
}

func TestCreateRoundReloadsList(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{}}
	a := New(f, nil)
	c, err := a.CreateRound(context.Background())
	if err != nil || c.Data.ID != "new" { t.Fatalf("CreateRound: %v %+v", err, c) }
	if n := len(f.calls()); n != 1 { t.Fatalf("expected list reload, got %d calls", n) }
}

func TestClosedListIgnoresPushes(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*goosedto.RoundsPage{"": {Items: page("a", 2, 0)}}}
	bus := pushchan.NewBus(nil)
	a := New(f, bus)
	_ = a.LoadFirstPage(context.Background())
	a.Close()
	_ = bus.Emit(goosedto.EventRoundUpdate, goosedto.RoundUpdate{ID: "zzz"})
	if len(a.Snapshot().Items) != 2 { t.Fatalf("closed list mutated") }
	if bus.Listeners(goosedto.EventRoundUpdate) != 0 { t.Fatalf("listener not disposed") }
	if err := a.LoadFirstPage(context.Background()); err != ErrClosed { t.Fatalf("LoadFirstPage after close = %v", err) }
}

func ptr[T any](v T) *T { return &v }
