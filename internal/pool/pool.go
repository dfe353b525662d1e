// Package pool implements the bounded, process-wide connection pool
// (spec.md §4.4, component C6): reusable transport sockets plus a shared
// DNS/TLS-session cache, safe for concurrent acquisition and release.
//
// Grounded on the teacher's internal/oauth.Manager cache+inflight-call
// bookkeeping (mutex-protected map plus single-flight coalescing of
// concurrent lookups for the same key) generalized from "in-flight OAuth
// token fetch" to "in-flight DNS resolution", and on the free/live-count/
// wait discipline surveyed in hexinfra-gorox's backend connection pools.
package pool

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/unkn0wn-root/httpengine/errdef"
)

// DefaultCapacity is the engine's default pool size (spec.md §4.4).
const DefaultCapacity = 100

// Slot is one reusable transport handle. It wraps a live net.Conn (which
// may be a *tls.Conn) keyed by the authority it is connected to.
type Slot struct {
	Key       string
	Conn      net.Conn
	TLS       bool
	CreatedAt time.Time
	UsedAt    time.Time
}

// Pool is the bounded, thread-safe cache of Slots plus the shared DNS and
// TLS session caches every Slot references.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int
	liveCount int
	free      map[string][]*Slot

	dns          *dnsCache
	tlsSessions  tls.ClientSessionCache
	cookieShared *cookieJar
}

// New returns a Pool with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		capacity:     capacity,
		free:         make(map[string][]*Slot),
		dns:          newDNSCache(),
		tlsSessions:  tls.NewLRUClientSessionCache(capacity),
		cookieShared: newCookieJar(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// TLSSessionCache returns the pool's shared TLS session-resumption cache.
func (p *Pool) TLSSessionCache() tls.ClientSessionCache { return p.tlsSessions }

// Cookies returns the pool's shared cookie jar.
func (p *Pool) Cookies() *cookieJar { return p.cookieShared }

// ResolveHost performs a coalesced DNS lookup for host: concurrent callers
// resolving the same host share one lookup, mirroring the teacher's
// inflight-call cache.
func (p *Pool) ResolveHost(ctx context.Context, host string) ([]net.IPAddr, error) {
	return p.dns.resolve(ctx, host)
}

// AcquireOrWaitFor returns a free Slot for key if one exists, or blocks
// until one is released, a fresh one can be created (live count below
// capacity), or timeout elapses (spec.md §4.4). A nil Slot with a nil
// error means "create a fresh connection yourself, then Release it as a
// Slot, or call Discard if creating it fails"; a nil
// Slot with a non-nil error means the wait timed out.
func (p *Pool) AcquireOrWaitFor(ctx context.Context, key string, timeout time.Duration) (*Slot, error) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if slots := p.free[key]; len(slots) > 0 {
			slot := slots[len(slots)-1]
			p.free[key] = slots[:len(slots)-1]
			slot.UsedAt = time.Now()
			return slot, nil
		}

		if p.liveCount < p.capacity {
			p.liveCount++
			return nil, nil
		}

		if timeout <= 0 {
			return nil, errdef.New(errdef.CodeOperationTimedOut, "pool exhausted (capacity %d)", p.capacity)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errdef.New(errdef.CodeOperationTimedOut, "timed out waiting for a free connection")
		}

		// Wake ourselves (via Broadcast) if nothing else does before the
		// deadline. Spurious wake-ups are handled by re-checking the loop
		// condition; a stale timer firing after we already returned is
		// harmless, it just broadcasts to a cond nobody is waiting on.
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})

		p.cond.Wait()
		timer.Stop()

		if ctx.Err() != nil {
			return nil, errdef.Wrap(errdef.CodeOperationTimedOut, ctx.Err(), "acquire cancelled")
		}
		if time.Now().After(deadline) {
			return nil, errdef.New(errdef.CodeOperationTimedOut, "timed out waiting for a free connection")
		}
	}
}

// Release returns slot to the pool for reuse, or discards it (and
// decrements the live count) when reusable is false.
func (p *Pool) Release(slot *Slot, reusable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !reusable || slot == nil {
		if slot != nil {
			_ = slot.Conn.Close()
		}
		p.liveCount--
		p.cond.Signal()
		return
	}

	slot.UsedAt = time.Now()
	p.free[slot.Key] = append(p.free[slot.Key], slot)
	p.cond.Signal()
}

// Discard reports that a Slot obtained via a nil-Slot "create fresh"
// return from AcquireOrWaitFor failed before ever being wrapped into a
// Slot, freeing its reservation of the live-count budget.
func (p *Pool) Discard() {
	p.mu.Lock()
	p.liveCount--
	p.cond.Signal()
	p.mu.Unlock()
}

// Stats reports current occupancy, for tests and diagnostics.
func (p *Pool) Stats() (live, free int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.free {
		free += len(s)
	}
	return p.liveCount, free
}
