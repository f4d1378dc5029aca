package goosefast

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Jar keeps the cookies the API sets so the session rides along on every call.
type Jar struct {
	mu      sync.RWMutex
	cookies map[string]string
}

func NewJar() *Jar {
	return &Jar{cookies: make(map[string]string)}
}

func (j *Jar) Set(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if value == "" {
		delete(j.cookies, name)
		return
	}
	j.cookies[name] = value
}

func (j *Jar) Get(name string) string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cookies[name]
}

func (j *Jar) Clear() {
	j.mu.Lock()
	j.cookies = make(map[string]string)
	j.mu.Unlock()
}

func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// Header renders the jar as a Cookie header value, sorted by name.
func (j *Jar) Header() string {
	j.mu.RLock()
	names := make([]string, 0, len(j.cookies))
	for k := range j.cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+j.cookies[k])
	}
	j.mu.RUnlock()
	return strings.Join(parts, "; ")
}

func (j *Jar) apply(req *fasthttp.Request) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for k, v := range j.cookies {
		req.Header.SetCookie(k, v)
	}
}

func (j *Jar) collect(resp *fasthttp.Response) {
	resp.Header.VisitAllCookie(func(_, value []byte) {
		c := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(c)
		if err := c.ParseBytes(value); err != nil {
			return
		}
		name := string(c.Key())
		if name == "" {
			return
		}
		if exp := c.Expire(); !exp.IsZero() && exp.Before(time.Now()) {
			j.Set(name, "")
			return
		}
		j.Set(name, string(c.Value()))
	})
}
