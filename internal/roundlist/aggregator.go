package roundlist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
)

const DefaultPageSize = 20

var ErrClosed = errors.New("round list closed")

type Fetcher interface {
	ListRounds(ctx context.Context, after string, limit int) (*goosedto.RoundsPage, error)
	CreateRound(ctx context.Context) (*goosedto.CreatedRound, error)
}

// Channel is the push side the list listens to. *pushchan.Channel satisfies it.
type Channel interface {
	OnRoundUpdate(fn func(goosedto.RoundUpdate)) *pushchan.Subscription
	OnRoundFinished(fn func(goosedto.RoundFinished)) *pushchan.Subscription
	OnConnect(fn func()) *pushchan.Subscription
}

// Snapshot is a copy of the list at one point in time. A larger Version is newer.
type Snapshot struct {
	Version uint64
	Items   []goosedto.RoundListItem
	HasMore bool
	Config  goosedto.GameConfig
	Loading bool
}

type Option func(*Aggregator)

func WithPageSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithOnChange registers a callback invoked after mutations, outside the lock.
// Callbacks never see a snapshot older than one already delivered; a superseded
// snapshot is skipped. The callback must not call back into the list.
func WithOnChange(fn func(Snapshot)) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

// patch is a push remembered while a page fetch is in flight so it can be
// re-applied on top of the fetched page.
type patch struct {
	update   *goosedto.RoundUpdate
	finished *goosedto.RoundFinished
}

// Aggregator keeps the paginated round list merged with live updates.
// Items are unique by id and sorted by StartAt, newest first.
type Aggregator struct {
	fetcher  Fetcher
	pageSize int
	logger   *zap.Logger
	onChange func(Snapshot)

	mu       sync.Mutex
	items    []goosedto.RoundListItem
	cursor   string // oldest id of the last fetched page
	version  uint64
	hasMore  bool
	config   goosedto.GameConfig
	gen      uint64
	inFlight int
	moreBusy bool
	pending  []patch
	closed   bool

	subs []*pushchan.Subscription

	notifyM  sync.Mutex
	notified uint64
}

func New(f Fetcher, ch Channel, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetcher:  f,
		pageSize: DefaultPageSize,
		logger:   zap.NewNop(),
		config:   goosedto.DefaultGameConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if ch != nil {
		a.subs = []*pushchan.Subscription{
			ch.OnRoundUpdate(func(p goosedto.RoundUpdate) { a.push(patch{update: &p}) }),
			ch.OnRoundFinished(func(p goosedto.RoundFinished) { a.push(patch{finished: &p}) }),
			ch.OnConnect(func() { go a.refetch() }),
		}
	}
	return a
}

// LoadFirstPage replaces the list with the first page. A newer first-page load
// supersedes any load still running.
func (a *Aggregator) LoadFirstPage(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.gen++
	gen := a.gen
	a.inFlight++
	a.mu.Unlock()

	page, err := a.fetcher.ListRounds(ctx, "", a.pageSize)

	a.mu.Lock()
	a.inFlight--
	if err != nil || gen != a.gen || a.closed {
		a.settle()
		a.mu.Unlock()
		return err
	}
	a.items = dedupe(page.Items)
	a.cursor = oldestID(page.Items)
	a.hasMore = page.HasMore
	a.config = page.Config
	a.replay()
	a.settle()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.logger.Debug("round_list_loaded", zap.Int("items", len(snap.Items)), zap.Bool("has_more", snap.HasMore))
	a.notify(snap)
	return nil
}

// LoadMore appends the page after the last fetched item. Items that only came
// from pushes never act as the cursor. It does nothing when there is no further
// page or another LoadMore is running.
func (a *Aggregator) LoadMore(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if !a.hasMore || a.moreBusy || a.cursor == "" {
		a.mu.Unlock()
		return nil
	}
	a.moreBusy = true
	a.inFlight++
	gen := a.gen
	after := a.cursor
	a.mu.Unlock()

	page, err := a.fetcher.ListRounds(ctx, after, a.pageSize)

	a.mu.Lock()
	a.moreBusy = false
	a.inFlight--
	if err != nil || gen != a.gen || a.closed {
		a.settle()
		a.mu.Unlock()
		return err
	}
	a.items = dedupe(append(a.items, page.Items...))
	if id := oldestID(page.Items); id != "" {
		a.cursor = id
	}
	a.hasMore = page.HasMore
	a.config = page.Config
	a.replay()
	a.settle()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return nil
}

// CreateRound creates a round and then reloads the first page so it shows up.
func (a *Aggregator) CreateRound(ctx context.Context) (*goosedto.CreatedRound, error) {
	created, err := a.fetcher.CreateRound(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("round_created", zap.String("round_id", created.Data.ID), zap.Time("start_at", created.Data.StartAt))
	if err := a.LoadFirstPage(ctx); err != nil {
		return created, err
	}
	return created, nil
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, s := range subs {
		s.Dispose()
	}
}

func (a *Aggregator) refetch() {
	if err := a.LoadFirstPage(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		a.logger.Warn("round_list_refetch_failed", zap.Error(err))
	}
}

func (a *Aggregator) push(p patch) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	changed := a.apply(p)
	if a.inFlight > 0 {
		a.pending = append(a.pending, p)
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()
	if changed {
		a.notify(snap)
	}
}

func (a *Aggregator) apply(p patch) bool {
	switch {
	case p.update != nil:
		u := p.update
		if i := a.indexOf(u.ID); i >= 0 {
			mergeUpdate(&a.items[i], u)
		} else {
			item := goosedto.RoundListItem{ID: u.ID}
			mergeUpdate(&item, u)
			a.items = append([]goosedto.RoundListItem{item}, a.items...)
		}
	case p.finished != nil:
		i := a.indexOf(p.finished.ID)
		if i < 0 {
			return false
		}
		a.items[i].Status = goosedto.StatusFinished
	default:
		return false
	}
	sortItems(a.items)
	return true
}

func (a *Aggregator) replay() {
	for _, p := range a.pending {
		a.apply(p)
	}
}

// settle forgets remembered pushes once no fetch is left to race with.
func (a *Aggregator) settle() {
	if a.inFlight == 0 {
		a.pending = nil
	}
}

func (a *Aggregator) indexOf(id string) int {
	for i := range a.items {
		if a.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (a *Aggregator) snapshotLocked() Snapshot {
	items := make([]goosedto.RoundListItem, len(a.items))
	copy(items, a.items)
	a.version++
	return Snapshot{Version: a.version, Items: items, HasMore: a.hasMore, Config: a.config, Loading: a.inFlight > 0}
}

func (a *Aggregator) notify(s Snapshot) {
	if a.onChange == nil {
		return
	}
	a.notifyM.Lock()
	defer a.notifyM.Unlock()
	if s.Version <= a.notified {
		return
	}
	a.notified = s.Version
	a.onChange(s)
}

func mergeUpdate(item *goosedto.RoundListItem, u *goosedto.RoundUpdate) {
	if u.StartAt != nil {
		item.StartAt = *u.StartAt
	}
	if u.EndAt != nil {
		item.EndAt = *u.EndAt
	}
	if u.TotalPoints != nil {
		item.TotalPoints = *u.TotalPoints
	}
	if u.Status != nil {
		item.Status = *u.Status
	}
}

// dedupe keeps the last occurrence of each id, then sorts.
func dedupe(items []goosedto.RoundListItem) []goosedto.RoundListItem {
	pos := make(map[string]int, len(items))
	out := make([]goosedto.RoundListItem, 0, len(items))
	for _, it := range items {
		if i, ok := pos[it.ID]; ok {
			out[i] = it
			continue
		}
		pos[it.ID] = len(out)
		out = append(out, it)
	}
	sortItems(out)
	return out
}

// oldestID is the id a fetched page would end with once sorted.
func oldestID(items []goosedto.RoundListItem) string {
	id := ""
	var at time.Time
	for i, it := range items {
		if i == 0 || !it.StartAt.After(at) {
			id, at = it.ID, it.StartAt
		}
	}
	return id
}

func sortItems(items []goosedto.RoundListItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].StartAt.After(items[j].StartAt) })
}
