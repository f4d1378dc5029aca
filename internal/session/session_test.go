package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/goose-tap-client/internal/goosefast"
	"github.com/park285/goose-tap-client/internal/pushchan"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"nhooyr.io/websocket"
)

type pushServer struct {
	*httptest.Server
	mu      sync.Mutex
	cookies []string
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil { return }
		ps.mu.Lock()
		ps.cookies = append(ps.cookies, r.Header.Get("Cookie"))
		ps.mu.Unlock()
		for {
			if _, _, err := conn.Read(context.Background()); err != nil { return }
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) seen() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.cookies...)
}

func newTestSession(t *testing.T, api fasthttp.RequestHandler) (*Session, *pushServer) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: api}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	ps := newPushServer(t)
	s := New(Options{
		BaseURL:     "http://goose.test/api",
		WSURL:       "ws" + strings.TrimPrefix(ps.URL, "http"),
		HTTPTimeout: 2 * time.Second,
		HTTPOptions: []goosefast.Option{goosefast.WithDial(func(string) (net.Conn, error) { return ln.Dial() })},
		PushOptions: []pushchan.Option{pushchan.WithBackoffBase(10 * time.Millisecond)},
	})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, ps
}

func gameAPI(loggedIn *bool) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/api/auth/login":
			var ck fasthttp.Cookie
			ck.SetKey("sid")
			ck.SetValue("s1")
			ctx.Response.Header.SetCookie(&ck)
			*loggedIn = true
			ctx.SetBodyString(`{"user":{"id":"u1","username":"alice","role":"survivor"}}`)
		case "/api/auth/logout":
			*loggedIn = false
			ctx.SetBodyString(`{}`)
		case "/api/auth/me":
			if !*loggedIn || len(ctx.Request.Header.Cookie("sid")) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}
			ctx.SetBodyString(`{"data":{"id":"u1","username":"alice","role":"survivor"}}`)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func TestLoginConnectsPushWithSessionCookie(t *testing.T) {
	loggedIn := false
	s, ps := newTestSession(t, gameAPI(&loggedIn))
	ctx := context.Background()

	u, err := s.Login(ctx, "alice", "pw")
	if err != nil { t.Fatalf("Login: %v", err) }
	if u.Username != "alice" || s.User() == nil { t.Fatalf("user not kept: %+v", u) }
	if !s.Push().IsConnected() { t.Fatalf("push not connected after login") }
	cookies := ps.seen()
	if len(cookies) != 1 || cookies[0] != "sid=s1" { t.Fatalf("handshake cookies = %v", cookies) }

	if err := s.Logout(ctx); err != nil { t.Fatalf("Logout: %v", err) }
	if s.User() != nil || s.Push().IsConnected() { t.Fatalf("logout left session state behind") }
	if s.API().Jar().Len() != 0 { t.Fatalf("jar not cleared") }
}

func TestHydrateWithoutSessionDisconnects(t *testing.T) {
	loggedIn := false
	s, _ := newTestSession(t, gameAPI(&loggedIn))
	_, err := s.Hydrate(context.Background())
	if !errors.Is(err, ErrNoSession) { t.Fatalf("Hydrate = %v, want ErrNoSession", err) }
	if s.User() != nil || s.Push().IsConnected() { t.Fatalf("expected no user and no connection") }
}

func TestHydrateRestoresSession(t *testing.T) {
	loggedIn := false
	s, ps := newTestSession(t, gameAPI(&loggedIn))
	ctx := context.Background()
	if _, err := s.Login(ctx, "alice", "pw"); err != nil { t.Fatalf("Login: %v", err) }

	u, err := s.Hydrate(ctx)
	if err != nil || u == nil || u.ID != "u1" { t.Fatalf("Hydrate: %+v %v", u, err) }
	if !s.Push().IsConnected() { t.Fatalf("push not connected after hydrate") }
	if n := len(ps.seen()); n != 2 { t.Fatalf("expected a fresh connection per init, got %d", n) }
}

func TestLoginRequiresUsername(t *testing.T) {
	loggedIn := false
	s, _ := newTestSession(t, gameAPI(&loggedIn))
	if _, err := s.Login(context.Background(), "  ", "pw"); err == nil { t.Fatalf("expected error for blank username") }
}
