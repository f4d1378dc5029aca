package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/goose-tap-client/internal/goosefast"
	"github.com/park285/goose-tap-client/internal/obslog"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/park285/goose-tap-client/pkg/goosedto"
	"go.uber.org/zap"
)

const clientIDHeader = "X-Client-Id"

var ErrNoSession = errors.New("no active session")

type Options struct {
	BaseURL string
	WSURL   string
	// Token is sent as the push credential when the server expects one besides the cookie.
	Token                string
	HTTPTimeout          time.Duration
	MaxReconnectAttempts int
	DisableReconnect     bool
	Logger               *zap.Logger

	HTTPOptions []goosefast.Option
	PushOptions []pushchan.Option
}

// Session owns who is logged in and the push connection that belongs to them.
// Login and Hydrate bring the connection up; Logout tears it down.
type Session struct {
	clientID string
	token    string
	api      *goosefast.Client
	push     *pushchan.Channel
	logger   *zap.Logger

	mu   sync.RWMutex
	user *goosedto.User
}

func New(o Options) *Session {
	logger := o.Logger
	if logger == nil {
		logger = obslog.L()
	}
	s := &Session{
		clientID: uuid.NewString(),
		token:    strings.TrimSpace(o.Token),
		logger:   logger,
	}

	httpOpts := []goosefast.Option{
		goosefast.WithLogger(logger),
		goosefast.WithHeaderProvider(func() map[string]string {
			return map[string]string{clientIDHeader: s.clientID}
		}),
	}
	if o.HTTPTimeout > 0 {
		httpOpts = append(httpOpts, goosefast.WithTimeout(o.HTTPTimeout))
	}
	s.api = goosefast.NewClient(o.BaseURL, append(httpOpts, o.HTTPOptions...)...)

	pushOpts := []pushchan.Option{
		pushchan.WithLogger(logger),
		pushchan.WithHeaderProvider(s.pushHeaders),
	}
	switch {
	case o.DisableReconnect:
		pushOpts = append(pushOpts, pushchan.WithMaxReconnectAttempts(0))
	case o.MaxReconnectAttempts > 0:
		pushOpts = append(pushOpts, pushchan.WithMaxReconnectAttempts(o.MaxReconnectAttempts))
	}
	s.push = pushchan.New(o.WSURL, append(pushOpts, o.PushOptions...)...)
	return s
}

func (s *Session) ClientID() string        { return s.clientID }
func (s *Session) API() *goosefast.Client  { return s.api }
func (s *Session) Push() *pushchan.Channel { return s.push }

// User is the logged in user, nil when there is none.
func (s *Session) User() *goosedto.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) Login(ctx context.Context, username, password string) (*goosedto.User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("username is required")
	}
	u, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.setUser(u)
	s.logger.Info("session_login", zap.String("user_id", u.ID), zap.String("username", u.Username), zap.String("role", string(u.Role)))
	s.connect(ctx)
	return u, nil
}

// Hydrate restores the session from the server. With no session the push
// connection is released and ErrNoSession is returned.
func (s *Session) Hydrate(ctx context.Context) (*goosedto.User, error) {
	u, err := s.api.Me(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.setUser(nil)
		if derr := s.push.Disconnect(ctx); derr != nil {
			s.logger.Warn("push_disconnect_failed", zap.Error(derr))
		}
		return nil, ErrNoSession
	}
	s.setUser(u)
	s.logger.Info("session_hydrated", zap.String("user_id", u.ID), zap.String("username", u.Username))
	s.connect(ctx)
	return u, nil
}

// Logout always clears local state; the server error, if any, is returned after.
func (s *Session) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	if err != nil {
		s.api.Jar().Clear()
	}
	s.setUser(nil)
	if derr := s.push.Disconnect(ctx); derr != nil && err == nil {
		err = derr
	}
	s.logger.Info("session_logout")
	return err
}

// Close releases the push connection without touching the server session.
func (s *Session) Close(ctx context.Context) error {
	return s.push.Disconnect(ctx)
}

// connect failures are not fatal: the channel keeps redialing in the background.
func (s *Session) connect(ctx context.Context) {
	if err := s.push.Connect(ctx, s.token); err != nil {
		s.logger.Warn("push_connect_failed", zap.Error(err))
	}
}

func (s *Session) setUser(u *goosedto.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) pushHeaders() map[string]string {
	h := map[string]string{clientIDHeader: s.clientID}
	if c := s.api.Jar().Header(); c != "" {
		h["Cookie"] = c
	}
	return h
}
