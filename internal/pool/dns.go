package pool

import (
	"context"
	"net"
	"sync"

	"github.com/unkn0wn-root/httpengine/errdef"
)

// dnsCache resolves hostnames once per address and coalesces concurrent
// lookups for the same host into a single call to the resolver, mirroring
// the teacher's inflight-call pattern in internal/oauth.Manager.
type dnsCache struct {
	mu       sync.Mutex
	entries  map[string][]net.IPAddr
	inflight map[string]*dnsCall
	resolver *net.Resolver
}

type dnsCall struct {
	done chan struct{}
	addr []net.IPAddr
	err  error
}

func newDNSCache() *dnsCache {
	return &dnsCache{
		entries:  make(map[string][]net.IPAddr),
		inflight: make(map[string]*dnsCall),
		resolver: net.DefaultResolver,
	}
}

func (c *dnsCache) resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	c.mu.Lock()
	if addrs, ok := c.entries[host]; ok {
		c.mu.Unlock()
		return addrs, nil
	}
	if call, ok := c.inflight[host]; ok {
		c.mu.Unlock()
		<-call.done
		return call.addr, call.err
	}

	call := &dnsCall{done: make(chan struct{})}
	c.inflight[host] = call
	c.mu.Unlock()

	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		err = errdef.Wrap(errdef.CodeCouldNotResolveHost, err, "resolve %s", host)
	}

	c.mu.Lock()
	call.addr, call.err = addrs, err
	delete(c.inflight, host)
	if err == nil {
		c.entries[host] = addrs
	}
	c.mu.Unlock()

	close(call.done)
	return addrs, err
}
