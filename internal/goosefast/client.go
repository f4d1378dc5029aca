package goosefast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/goose-tap-client/pkg/goosedto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultPageLimit = 20

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Client is the pull side of the game API. It never retries; callers decide.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	jar     *Jar
	logger  *zap.Logger

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithDial replaces the TCP dialer, mostly for in-memory test listeners.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient expects baseURL to include the API prefix, e.g. http://host/api.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		jar:            NewJar(),
		logger:         zap.NewNop(),
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Jar exposes the session cookies so the push handshake can carry them.
func (c *Client) Jar() *Jar { return c.jar }

func (c *Client) Login(ctx context.Context, username, password string) (*goosedto.User, error) {
	req := goosedto.LoginRequest{Username: username, Password: password}
	var resp struct {
		User *goosedto.User `json:"user"`
	}
	if _, err := c.doJSON(ctx, fasthttp.MethodPost, "/auth/login", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, errors.New("login response without user")
	}
	return resp.User, nil
}

// Me returns nil without error when there is no session.
func (c *Client) Me(ctx context.Context) (*goosedto.User, error) {
	var resp struct {
		Data *goosedto.User `json:"data"`
	}
	found, err := c.doJSON(ctx, fasthttp.MethodGet, "/auth/me", nil, &resp, true)
	if err != nil || !found {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.doJSON(ctx, fasthttp.MethodPost, "/auth/logout", nil, nil, false); err != nil {
		return err
	}
	c.jar.Clear()
	return nil
}

// ListRounds pages by round id. A missing session yields an empty default page.
func (c *Client) ListRounds(ctx context.Context, after string, limit int) (*goosedto.RoundsPage, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	if strings.TrimSpace(after) != "" {
		args.Set("after", after)
	}
	args.SetUint("limit", limit)

	var page goosedto.RoundsPage
	found, err := c.doJSON(ctx, fasthttp.MethodGet, "/rounds?"+args.String(), nil, &page, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return &goosedto.RoundsPage{Items: []goosedto.RoundListItem{}, Config: goosedto.DefaultGameConfig()}, nil
	}
	if page.Items == nil {
		page.Items = []goosedto.RoundListItem{}
	}
	return &page, nil
}

func (c *Client) CreateRound(ctx context.Context) (*goosedto.CreatedRound, error) {
	var created goosedto.CreatedRound
	if _, err := c.doJSON(ctx, fasthttp.MethodPost, "/rounds", nil, &created, false); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) GetRound(ctx context.Context, id string) (*goosedto.Round, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("round id required")
	}
	var r goosedto.Round
	if _, err := c.doJSON(ctx, fasthttp.MethodGet, "/rounds/"+url.PathEscape(id), nil, &r, false); err != nil {
		return nil, err
	}
	return &r, nil
}

// doJSON performs one request. With optional set, a 401 returns found=false and no error.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, optional bool) (found bool, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	c.jar.apply(req)

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()
	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		c.logger.Warn("api_request_failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return false, fmt.Errorf("request failed: %w", err)
	}
	c.jar.collect(resp)

	status := resp.StatusCode()
	c.logger.Debug("api_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)),
	)
	if optional && status == fasthttp.StatusUnauthorized {
		return false, nil
	}
	if status < 200 || status >= 300 {
		msg := strings.TrimSpace(string(resp.Body()))
		if msg == "" {
			msg = fasthttp.StatusMessage(status)
		}
		return false, &goosedto.APIError{Status: status, Message: truncate(msg, 512)}
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return true, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *goosedto.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
