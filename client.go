package httpengine

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/httpspec"
	"github.com/unkn0wn-root/httpengine/internal/conn"
	"github.com/unkn0wn-root/httpengine/internal/pool"
	"github.com/unkn0wn-root/httpengine/internal/reactor"
	"github.com/unkn0wn-root/httpengine/uri"
)

// DefaultWorkers is how many reactor workers a Client starts by default,
// one per logical CPU-bound "thread pool dispatching completion
// callbacks" the spec describes; a fixed small number is enough since
// each worker only occupies a goroutine (never an OS thread) during a
// Handle.Drive call's blocking phases.
const DefaultWorkers = 8

// Client is the C9 façade: a pooled connection cache plus a reactor,
// producing Requests bound to concrete URIs. Grounded on
// unkn0wn-root-resterm's top-level executor, generalized from "run a
// parsed restfile" to "issue arbitrary verbs against a Uri".
type Client struct {
	config  httpspec.Configuration
	pool    *pool.Pool
	reactor *reactor.Reactor

	timingsMu sync.Mutex
	timings   httpspec.ClientTimings

	tracer trace.Tracer
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithPoolCapacity overrides pool.DefaultCapacity.
func WithPoolCapacity(capacity int) Option {
	return func(c *Client) { c.pool = pool.New(capacity) }
}

// WithWorkers overrides DefaultWorkers.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			n = 1
		}
		c.reactor = reactor.New(n)
		c.reactor.RunWorkers(n)
	}
}

// WithTracer installs an OpenTelemetry tracer; when set, every Execute
// and AsyncExecute call emits one span per exchange (SPEC_FULL.md
// observability supplement, ambient stack carried regardless of the
// spec's stated non-goal of a full metrics surface).
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// NewClient returns a ready Client. cfg supplies the shared Configuration
// (TLS material, auth handlers, proxy) every Request built from this
// Client inherits unless overridden per-request.
func NewClient(cfg httpspec.Configuration, opts ...Option) *Client {
	c := &Client{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = pool.New(pool.DefaultCapacity)
	}
	if c.reactor == nil {
		c.reactor = reactor.New(DefaultWorkers)
		c.reactor.RunWorkers(DefaultWorkers)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/unkn0wn-root/httpengine")
	}
	return c
}

// Stop shuts down the Client's reactor. Requests already in flight are
// allowed to finish; new AsyncExecute dispatches after Stop are dropped
// silently by the reactor's closed context, matching Reactor.Stop.
func (c *Client) Stop() { c.reactor.Stop() }

// Timings returns a consistent snapshot of the aggregate per-phase
// statistics across every exchange this Client has completed so far
// (spec.md §4.6's timings aggregation, generalized to
// {min,max,mean,variance} per SPEC_FULL.md). spec.md §5(3) requires the
// accumulator itself to be guarded so concurrent Execute/AsyncExecute
// completions never observe a torn read.
func (c *Client) Timings() httpspec.ClientTimings {
	c.timingsMu.Lock()
	defer c.timingsMu.Unlock()
	return c.timings
}

// observeTimings folds one exchange's Timings into the aggregate under
// the same lock Timings() reads through, since Execute runs on the
// caller's goroutine while AsyncExecute completions run on reactor
// workers and can race each other here.
func (c *Client) observeTimings(t httpspec.Timings) {
	c.timingsMu.Lock()
	defer c.timingsMu.Unlock()
	c.timings.Observe(t)
}

func (c *Client) newRequest(method httpspec.Method, rawURI string) (*Request, error) {
	target, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	req := newRequest(c, method, target)
	if c.config.Header != nil {
		c.config.Header.Enumerate(func(key string, values []string) {
			for _, v := range values {
				req.header.Add(key, v)
			}
		})
	}
	requestID := uuid.NewString()
	req.header.Set("X-Request-Id", requestID)
	return req, nil
}

// Get builds a GET Request against rawURI.
func (c *Client) Get(rawURI string) (*Request, error) { return c.newRequest(httpspec.GET, rawURI) }

// Head builds a HEAD Request against rawURI.
func (c *Client) Head(rawURI string) (*Request, error) { return c.newRequest(httpspec.HEAD, rawURI) }

// Delete builds a DELETE Request against rawURI.
func (c *Client) Delete(rawURI string) (*Request, error) {
	return c.newRequest(httpspec.DELETE, rawURI)
}

// Put builds a PUT Request with a streaming body of the given size (-1
// for unknown, which drives chunked transfer encoding).
func (c *Client) Put(rawURI string, readFunc func(dst []byte) (int, error), size int64) (*Request, error) {
	req, err := c.newRequest(httpspec.PUT, rawURI)
	if err != nil {
		return nil, err
	}
	req.SetStreamingBody(readFunc, size)
	return req, nil
}

// Post builds a POST Request with a fixed body and content type.
func (c *Client) Post(rawURI, contentType string, body []byte) (*Request, error) {
	req, err := c.newRequest(httpspec.POST, rawURI)
	if err != nil {
		return nil, err
	}
	req.SetBody(body)
	req.header.Set("Content-Type", contentType)
	return req, nil
}

// PostStream builds a POST Request with a streaming body of the given
// size (-1 for unknown).
func (c *Client) PostStream(rawURI, contentType string, readFunc func(dst []byte) (int, error), size int64) (*Request, error) {
	req, err := c.newRequest(httpspec.POST, rawURI)
	if err != nil {
		return nil, err
	}
	req.SetStreamingBody(readFunc, size)
	req.header.Set("Content-Type", contentType)
	return req, nil
}

// PostForm builds a POST Request whose body is the URL-encoded form
// serialization of kv: "k1=v1&k2=v2", each side percent-escaped
// independently (spec.md §4.7).
func (c *Client) PostForm(rawURI string, kv map[string]string) (*Request, error) {
	req, err := c.newRequest(httpspec.POST, rawURI)
	if err != nil {
		return nil, err
	}
	req.SetBody([]byte(encodeForm(kv)))
	req.header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// encodeForm serializes kv as "k1=v1&k2=v2", each side percent-escaped
// independently. Go map iteration order is randomized per-process, so keys
// are sorted first: spec.md §4.6 requires the encoded body be
// deterministic across calls with the same kv, which an unsorted range
// over a map cannot guarantee.
func encodeForm(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb []byte
	for i, k := range keys {
		if i > 0 {
			sb = append(sb, '&')
		}
		sb = append(sb, URLEscape(k)...)
		sb = append(sb, '=')
		sb = append(sb, URLEscape(kv[k])...)
	}
	return string(sb)
}

// maybeAuthRetry inspects a completed exchange for a 401/407 challenge
// and, when a matching AuthHandler is configured, resolves credentials,
// attaches an Authorization/Proxy-Authorization header, and replays the
// exchange exactly once (spec.md §4.6's auth-challenge flow). It reports
// retried=true once a usable challenge and handler were found: when
// resolving credentials or building the header fails (returning that
// error), and whenever it drove a second exchange, whether or not that
// retry itself succeeded.
func (c *Client) maybeAuthRetry(r *Request, h *conn.Handle, progress ProgressHandler, dataHandler func([]byte)) (resp *httpspec.Response, retried bool, err error) {
	if h.Response.Status != httpspec.Status(401) && h.Response.Status != httpspec.Status(407) {
		return nil, false, nil
	}
	if h.Header.Has("Authorization") || h.Header.Has("Proxy-Authorization") {
		// already retried once; do not loop forever against a server
		// that keeps re-challenging the same credentials.
		return nil, false, nil
	}

	isProxy := h.Response.Status == httpspec.Status(407)
	headerName := "Authorization"
	challengeHeader := "WWW-Authenticate"
	authHandler := c.config.Authentication.ForHTTP
	if isProxy {
		headerName = "Proxy-Authorization"
		challengeHeader = "Proxy-Authenticate"
		authHandler = c.config.Authentication.ForProxy
	}
	if authHandler == nil {
		return nil, false, nil
	}

	challenges := conn.ParseChallenges(h.Response.Header.Values(challengeHeader))
	challenge, ok := conn.Strongest(challenges)
	if !ok {
		return nil, false, nil
	}

	target := r.target.String()
	if isProxy {
		target = c.config.ProxyURL
	}
	creds, err := authHandler(target)
	if err != nil {
		return nil, true, errdef.Wrap(errdef.CodeBadSetup, err, "resolve credentials for %s", headerName)
	}

	authValue, err := conn.BuildAuthorization(challenge, creds, r.method.String(), r.target.RequestTarget())
	if err != nil {
		return nil, true, err
	}
	r.header.Set(headerName, authValue)

	r.state.Store(int32(httpspec.StateReady))
	retryHandle := r.buildHandle(dataHandler)
	if progress != nil {
		retryHandle.OnProgress = progress
	}
	r.handle.Store(retryHandle)
	r.state.Store(int32(httpspec.StateActive))

	if err := retryHandle.Drive(context.Background(), c.pool); err != nil {
		return nil, true, err
	}
	c.observeTimings(retryHandle.Response.Timings)
	out := retryHandle.Response
	return &out, true, nil
}
