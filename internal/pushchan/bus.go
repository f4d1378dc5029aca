package pushchan

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
)

type rawHandler func(raw json.RawMessage)

// Subscription is the handle returned by every On* call.
// Dispose removes exactly this listener and is safe to call more than once.
type Subscription struct {
	once   sync.Once
	remove func()
}

func (s *Subscription) Dispose() {
	if s == nil || s.remove == nil {
		return
	}
	s.once.Do(s.remove)
}

// Bus fans inbound events out to listeners. Listeners are invoked outside the lock
// on the goroutine that publishes.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	handlers  map[goosedto.EventKind]map[uint64]rawHandler
	onConnect map[uint64]func()
	logger    *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers:  make(map[goosedto.EventKind]map[uint64]rawHandler),
		onConnect: make(map[uint64]func()),
		logger:    logger,
	}
}

func (b *Bus) subscribe(kind goosedto.EventKind, h rawHandler) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]rawHandler)
	}
	b.handlers[kind][id] = h
	b.mu.Unlock()
	return &Subscription{remove: func() {
		b.mu.Lock()
		delete(b.handlers[kind], id)
		b.mu.Unlock()
	}}
}

func subscribeTyped[T any](b *Bus, kind goosedto.EventKind, fn func(T)) *Subscription {
	return b.subscribe(kind, func(raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			b.logger.Warn("push_payload_invalid", zap.String("event", string(kind)), zap.Error(err))
			return
		}
		fn(v)
	})
}

func (b *Bus) OnRoundUpdate(fn func(goosedto.RoundUpdate)) *Subscription {
	return subscribeTyped(b, goosedto.EventRoundUpdate, fn)
}

func (b *Bus) OnRoundFinished(fn func(goosedto.RoundFinished)) *Subscription {
	return subscribeTyped(b, goosedto.EventRoundFinished, fn)
}

func (b *Bus) OnUserTap(fn func(goosedto.UserTap)) *Subscription {
	return subscribeTyped(b, goosedto.EventUserTap, fn)
}

func (b *Bus) OnTapResult(fn func(goosedto.TapResult)) *Subscription {
	return subscribeTyped(b, goosedto.EventTapResult, fn)
}

func (b *Bus) OnLeaderboard(fn func(goosedto.Leaderboard)) *Subscription {
	return subscribeTyped(b, goosedto.EventLeaderboard, fn)
}

// OnConnect fires after every successful connection, including reconnects.
func (b *Bus) OnConnect(fn func()) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.onConnect[id] = fn
	b.mu.Unlock()
	return &Subscription{remove: func() {
		b.mu.Lock()
		delete(b.onConnect, id)
		b.mu.Unlock()
	}}
}

// Publish delivers a raw payload to every listener of kind.
func (b *Bus) Publish(kind goosedto.EventKind, raw json.RawMessage) {
	b.mu.RLock()
	list := make([]rawHandler, 0, len(b.handlers[kind]))
	for _, h := range b.handlers[kind] {
		list = append(list, h)
	}
	b.mu.RUnlock()
	if len(list) == 0 {
		b.logger.Debug("push_unhandled", zap.String("event", string(kind)))
		return
	}
	for _, h := range list {
		h(raw)
	}
}

// Emit marshals v and publishes it.
func (b *Bus) Emit(kind goosedto.EventKind, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	b.Publish(kind, raw)
	return nil
}

func (b *Bus) PublishConnect() {
	b.mu.RLock()
	list := make([]func(), 0, len(b.onConnect))
	for _, fn := range b.onConnect {
		list = append(list, fn)
	}
	b.mu.RUnlock()
	for _, fn := range list {
		fn()
	}
}

// Listeners counts the live listeners for kind.
func (b *Bus) Listeners(kind goosedto.EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

func (b *Bus) ConnectListeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.onConnect)
}
