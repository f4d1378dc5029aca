package pushchan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HeaderProvider injects headers at handshake (session cookie, client id).
type HeaderProvider func() map[string]string

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Channel is the single push connection of a session. Listeners live on the
// embedded Bus and survive reconnects; actions are dropped while disconnected.
type Channel struct {
	*Bus

	wsURL string

	conn   *websocket.Conn
	state  State
	stateM sync.RWMutex

	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	backoffBase          time.Duration
	dialTimeout          time.Duration
	writeTimeout         time.Duration
	pingInterval         time.Duration
	readLimit            int64

	headerProvider HeaderProvider
	logger         *zap.Logger

	// round ids of taps written on the current connection, oldest first;
	// each tap_result answers the head
	taps  []string
	tapsM sync.Mutex

	// one run per Connect; Disconnect cancels it and waits for the supervisor
	runM      sync.Mutex
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*Channel)

func WithMaxReconnectAttempts(n int) Option {
	return func(c *Channel) { c.maxReconnectAttempts = n }
}

func WithBackoffBase(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.backoffBase = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Channel) { c.headerProvider = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(wsURL string, opts ...Option) *Channel {
	c := &Channel{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: 5,
		backoffBase:          100 * time.Millisecond,
		dialTimeout:          10 * time.Second,
		writeTimeout:         5 * time.Second,
		pingInterval:         30 * time.Second,
		readLimit:            1 << 20,
		logger:               zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Bus = NewBus(c.logger)
	return c
}

// Connect tears down any existing connection and dials a fresh one carrying credential.
// When the first dial fails the error is returned and bounded reconnection continues
// in the background.
func (c *Channel) Connect(ctx context.Context, credential string) error {
	if err := c.Disconnect(ctx); err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(context.Background())
	c.runM.Lock()
	c.runCancel = cancel
	c.runM.Unlock()

	c.setState(StateConnecting)
	conn, err := c.dial(ctx, credential)
	if err != nil {
		c.logger.Warn("push_dial_failed", zap.String("url", c.wsURL), zap.Error(err))
		if c.maxReconnectAttempts <= 0 {
			cancel()
			c.setState(StateFailed)
			return err
		}
	} else {
		c.attach(conn)
	}

	c.wg.Add(1)
	go c.supervise(rctx, conn, credential)
	return err
}

// Disconnect releases the connection and stops reconnection. Safe when already disconnected.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.runM.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	c.runM.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	c.closeConn(websocket.StatusNormalClosure, "disconnect")
	c.resetTaps()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-done:
	}
	c.closeConn(websocket.StatusNormalClosure, "disconnect")
	c.setState(StateDisconnected)
	return err
}

func (c *Channel) IsConnected() bool {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state == StateConnected && c.conn != nil
}

func (c *Channel) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

func (c *Channel) JoinRoom(roundID string)  { c.send(goosedto.ActionJoinRound, roundID) }
func (c *Channel) LeaveRoom(roundID string) { c.send(goosedto.ActionLeaveRound, roundID) }

// Tap sends a tap and remembers the round so the matching tap_result can be
// routed to it.
func (c *Channel) Tap(roundID string) {
	c.tapsM.Lock()
	defer c.tapsM.Unlock()
	if c.send(goosedto.ActionTap, roundID) {
		c.taps = append(c.taps, roundID)
	}
}

// RequestLeaderboard asks the server to push a leaderboard event for the round.
func (c *Channel) RequestLeaderboard(roundID string) { c.send(goosedto.ActionLeaderboard, roundID) }

func (c *Channel) OnStateChange(cb StateCallback) *Subscription {
	c.cbM.Lock()
	c.nextCbID++
	id := c.nextCbID
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: id, callback: cb})
	c.cbM.Unlock()
	return &Subscription{remove: func() { c.removeStateCallback(id) }}
}

func (c *Channel) removeStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

// send is fire-and-forget: no queueing, no acknowledgement. It reports whether
// the frame was written.
func (c *Channel) send(kind goosedto.EventKind, roundID string) bool {
	c.stateM.RLock()
	conn := c.conn
	live := c.state == StateConnected
	c.stateM.RUnlock()
	if conn == nil || !live {
		c.logger.Debug("push_send_skipped", zap.String("action", string(kind)), zap.String("round_id", roundID))
		return false
	}
	data, err := json.Marshal(goosedto.RoomRequest{RoundID: roundID})
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, goosedto.Frame{Event: kind, Data: data}); err != nil {
		c.logger.Warn("push_send_failed", zap.String("action", string(kind)), zap.String("round_id", roundID), zap.Error(err))
		return false
	}
	return true
}

func (c *Channel) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(credential),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(c.readLimit)
	return conn, nil
}

func (c *Channel) attach(conn *websocket.Conn) {
	c.resetTaps()
	c.stateM.Lock()
	c.conn = conn
	c.stateM.Unlock()
	c.setState(StateConnected)
	c.logger.Info("push_connected", zap.String("url", c.wsURL))
	c.PublishConnect()
}

// supervise owns one run: it serves the live connection and redials with bounded
// attempts when it drops.
func (c *Channel) supervise(rctx context.Context, conn *websocket.Conn, credential string) {
	defer c.wg.Done()
	for {
		if conn != nil {
			err := c.serve(rctx, conn)
			if rctx.Err() != nil {
				return
			}
			c.logger.Warn("push_connection_lost", zap.Error(err))
			c.closeConn(websocket.StatusGoingAway, "reconnect")
		}
		conn = c.redial(rctx, credential)
		if conn == nil {
			if rctx.Err() == nil {
				c.setState(StateFailed)
				c.logger.Error("push_reconnect_exhausted", zap.Int("attempts", c.maxReconnectAttempts))
			}
			return
		}
		c.attach(conn)
	}
}

func (c *Channel) redial(rctx context.Context, credential string) *websocket.Conn {
	if c.maxReconnectAttempts <= 0 {
		return nil
	}
	c.setState(StateReconnecting)
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		t := time.NewTimer(c.backoffDuration(attempt))
		select {
		case <-rctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		conn, err := c.dial(rctx, credential)
		if err == nil {
			if rctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
				return nil
			}
			return conn
		}
		c.logger.Debug("push_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil
}

// serve reads frames until the connection fails; two consecutive ping failures close it.
func (c *Channel) serve(rctx context.Context, conn *websocket.Conn) error {
	pctx, stopPing := context.WithCancel(rctx)
	defer stopPing()
	go c.pingLoop(pctx, conn)

	for {
		var frame goosedto.Frame
		if err := wsjson.Read(rctx, conn, &frame); err != nil {
			return err
		}
		if frame.Event == "" {
			c.logger.Warn("push_frame_invalid")
			continue
		}
		if frame.Event == goosedto.EventTapResult {
			c.routeTapResult(frame.Data)
			continue
		}
		c.Publish(frame.Event, frame.Data)
	}
}

// routeTapResult names the round a tap_result answers. A result the server
// already tagged keeps its round; the queue head is consumed either way.
func (c *Channel) routeTapResult(raw json.RawMessage) {
	var res goosedto.TapResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.Publish(goosedto.EventTapResult, raw)
		return
	}
	c.tapsM.Lock()
	head := ""
	if len(c.taps) > 0 {
		head = c.taps[0]
		c.taps = c.taps[1:]
	}
	c.tapsM.Unlock()
	if res.RoundID == "" {
		res.RoundID = head
	}
	if res.RoundID == "" {
		c.logger.Debug("push_dropped", zap.String("event", string(goosedto.EventTapResult)), zap.String("reason", "no_pending_tap"))
		return
	}
	if err := c.Emit(goosedto.EventTapResult, res); err != nil {
		c.logger.Warn("push_frame_invalid", zap.Error(err))
	}
}

// resetTaps forgets taps whose answers can no longer arrive.
func (c *Channel) resetTaps() {
	c.tapsM.Lock()
	c.taps = nil
	c.tapsM.Unlock()
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Channel) setState(state State) {
	c.stateM.Lock()
	changed := c.state != state
	c.state = state
	c.stateM.Unlock()
	if !changed {
		return
	}

	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (c *Channel) closeConn(code websocket.StatusCode, reason string) {
	c.stateM.Lock()
	conn := c.conn
	c.conn = nil
	c.stateM.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(code, reason); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("push_close", zap.String("reason", reason), zap.Error(err))
	}
}

func (c *Channel) buildHeaders(credential string) http.Header {
	hdr := http.Header{}
	if c.headerProvider != nil {
		for k, v := range c.headerProvider() {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				continue
			}
			hdr.Set(k, v)
		}
	}
	if token := strings.TrimSpace(credential); token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	return hdr
}

func (c *Channel) backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * c.backoffBase
}
