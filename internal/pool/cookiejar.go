package pool

import (
	"net/http"
	"net/url"
	"sync"
)

// cookieJar is the pool-wide cookie store shared by every Slot pulled from
// the same Pool, so cookies set on one connection are visible to a request
// reusing a different connection to the same origin. It is a minimal
// host-keyed store, not an adaptation of net/http/cookiejar.Jar: no
// path scoping, no expiry sweep, no public-suffix check. Good enough for
// same-origin reuse within one Pool's lifetime; a full RFC 6265 jar is a
// candidate for a real ambient upgrade here later.
type cookieJar struct {
	mu  sync.Mutex
	jar map[string][]*http.Cookie
}

func newCookieJar() *cookieJar {
	return &cookieJar{jar: make(map[string][]*http.Cookie)}
}

// SetCookies records the cookies the server sent for u, replacing any
// earlier cookies of the same name for that host.
func (c *cookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	host := u.Hostname()
	existing := c.jar[host]
	for _, nc := range cookies {
		replaced := false
		for i, ec := range existing {
			if ec.Name == nc.Name {
				existing[i] = nc
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, nc)
		}
	}
	c.jar[host] = existing
}

// Cookies returns the cookies to send in a request for u.
func (c *cookieJar) Cookies(u *url.URL) []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := c.jar[u.Hostname()]
	out := make([]*http.Cookie, len(stored))
	copy(out, stored)
	return out
}
