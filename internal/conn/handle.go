// Package conn implements the Connection handle (spec.md §4.3, component
// C5): the per-exchange transport state that drives one HTTP/1.1 request
// end to end, wired through the same five-callback contract the spec
// names (on_progress, on_write_data, on_write_header, on_read_data,
// on_finished).
//
// Grounded on the request/response driving loop in unkn0wn-root-resterm's
// HTTP execution path, generalized from "one shot request against a
// restfile entry" to "one pooled, resumable, streaming exchange", and on
// johnsiilver-http/httpguts for header-token validation ambient stack.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/header"
	"github.com/unkn0wn-root/httpengine/httpspec"
	"github.com/unkn0wn-root/httpengine/internal/nettrace"
	"github.com/unkn0wn-root/httpengine/internal/pool"
	"github.com/unkn0wn-root/httpengine/internal/stream"
	"github.com/unkn0wn-root/httpengine/internal/tlsbuild"
	"github.com/unkn0wn-root/httpengine/uri"
)

// Action is what an OnProgress callback returns to continue or abort the
// exchange (spec.md §4.3).
type Action int

const (
	ContinueOperation Action = iota
	AbortOperation
)

// Body supplies a request body either as a fixed byte slice or as a
// read-callback with a declared size, per spec.md §4.3.
type Body struct {
	Bytes    []byte
	ReadFunc func(dst []byte) (n int, err error)
	Size     int64 // -1 when unknown (drives chunked transfer encoding)
}

func (b Body) empty() bool {
	return b.ReadFunc == nil && len(b.Bytes) == 0
}

// Handle owns one HTTP/1.1 exchange: target, method, body, headers, TLS
// and auth options, and the five callbacks the reactor and Request layer
// wire into. A Handle must not be reused after OnFinished fires; doing so
// surfaces errdef.CodeHandleAbandoned.
type Handle struct {
	Method  httpspec.Method
	Target  *uri.Uri
	Body    Body
	Header  *header.Header
	Config  httpspec.Configuration

	LowSpeedLimit    int64
	LowSpeedDuration time.Duration

	OnProgress    func(httpspec.Progress) Action
	OnWriteData   func(chunk []byte) int
	OnWriteHeader func(line string) int
	OnFinished    func(err error)

	// Streaming, when set, suppresses body accumulation into
	// Response.Body: every chunk still reaches OnWriteData, but nothing
	// is retained past that call. This is what makes a Handle back a
	// StreamingRequest instead of a Request.
	Streaming bool

	Trace  *nettrace.Collector
	Mirror *stream.Mirror

	// Report is filled in once Drive finishes: the collected phase
	// timeline plus its evaluation against a budget derived from
	// Config.Timeout and LowSpeedDuration.
	Report *nettrace.Report

	paused  atomic.Bool
	resumed chan struct{}
	done    atomic.Bool

	pool *pool.Pool

	Response httpspec.Response
}

// NewHandle returns a ready Handle for one exchange.
func NewHandle(method httpspec.Method, target *uri.Uri, cfg httpspec.Configuration) *Handle {
	h := &Handle{
		Method:  method,
		Target:  target,
		Header:  header.New(),
		Config:  cfg,
		Trace:   nettrace.NewCollector(),
		Mirror:  stream.NewMirror(64),
		resumed: make(chan struct{}, 1),
	}
	return h
}

// Pause asks the handle to stop reading/writing at its next checkpoint.
func (h *Handle) Pause() { h.paused.Store(true) }

// Resume re-enables reading/writing.
func (h *Handle) Resume() {
	if h.paused.CompareAndSwap(true, false) {
		select {
		case h.resumed <- struct{}{}:
		default:
		}
	}
}

func (h *Handle) checkpoint(ctx context.Context) error {
	if h.done.Load() {
		return errdef.New(errdef.CodeHandleAbandoned, "handle has already finished")
	}
	for h.paused.Load() {
		select {
		case <-h.resumed:
		case <-ctx.Done():
			return wrapContextErr(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return wrapContextErr(err)
	}
	return nil
}

// wrapContextErr classifies a context error the way spec.md §4.6 expects:
// Configuration.Timeout expiring reports CodeOperationTimedOut, any other
// cancellation (caller-driven or pause-loop) reports CodeAbortedByCallback.
func wrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errdef.Wrap(errdef.CodeOperationTimedOut, err, "exchange exceeded configured timeout")
	}
	return errdef.Wrap(errdef.CodeAbortedByCallback, err, "exchange cancelled")
}

// lowSpeedPollInterval bounds how long a single Read on the
// underlying connection may block before checkpoint and checkLowSpeed get
// another chance to run; without this a stalled peer can hang a blocking
// syscall past both Configuration.Timeout and AbortRequestIf.
const lowSpeedPollInterval = time.Second

// pollDeadline returns the next moment a blocking conn operation should be
// interrupted at: at most lowSpeedPollInterval away, but never later than
// ctx's own deadline.
func pollDeadline(ctx context.Context) time.Time {
	next := time.Now().Add(lowSpeedPollInterval)
	if d, ok := ctx.Deadline(); ok && d.Before(next) {
		return d
	}
	return next
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Drive performs the DNS -> connect -> TLS -> write -> read phases of the
// exchange, invoking every callback in the ordering spec.md §4.5 requires
// (progress* -> (write_header* -> write_data*) -> on_finished). It
// acquires a connection Slot from p and releases it exactly once.
func (h *Handle) Drive(ctx context.Context, p *pool.Pool) (err error) {
	defer func() {
		h.done.Store(true)
		h.Trace.Complete(time.Now())
		h.fillTimings()
		h.Report = nettrace.NewReport(h.Trace.Timeline(), h.budget())
		if h.OnFinished != nil {
			h.OnFinished(err)
		}
	}()

	timeout := httpspec.ClampTimeout(h.Config.Timeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	asciiHost := toASCIIHost(h.Target.Host)
	authority := asciiHost
	if h.Target.HasPort {
		authority = asciiHost + ":" + strconv.Itoa(h.Target.Port)
	} else if port, ok := h.Target.DefaultPort(); ok {
		authority = asciiHost + ":" + strconv.Itoa(port)
	}
	isTLS := strings.EqualFold(h.Target.Scheme, "https")

	h.pool = p
	h.attachCookies()

	conn, reusable, err := h.dial(ctx, p, authority, isTLS)
	if err != nil {
		return err
	}
	slot := &pool.Slot{Key: authority, Conn: conn, TLS: isTLS, CreatedAt: time.Now()}
	success := false
	defer func() {
		p.Release(slot, success && reusable)
	}()

	if err := h.checkpoint(ctx); err != nil {
		return err
	}

	if err := h.writeRequest(ctx, conn, authority); err != nil {
		return err
	}

	if err := h.readResponse(ctx, conn); err != nil {
		return err
	}

	h.storeCookies()

	success = true
	return nil
}

// attachCookies adds a Cookie header built from the pool's shared jar for
// this request's origin, if any are stored and the caller has not already
// set one explicitly.
func (h *Handle) attachCookies() {
	target, err := neturl.Parse(h.Target.String())
	if err != nil {
		return
	}
	cookies := h.pool.Cookies().Cookies(target)
	if len(cookies) == 0 {
		return
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	h.Header.SetIfMissing("Cookie", strings.Join(parts, "; "))
}

// storeCookies records any Set-Cookie headers from the response into the
// pool's shared jar so a later request to the same origin, possibly over
// a different connection, sees them.
func (h *Handle) storeCookies() {
	setCookie := h.Response.Header.Values("Set-Cookie")
	if len(setCookie) == 0 {
		return
	}
	target, err := neturl.Parse(h.Target.String())
	if err != nil {
		return
	}
	fakeResp := &nethttp.Response{Header: make(nethttp.Header)}
	for _, v := range setCookie {
		fakeResp.Header.Add("Set-Cookie", v)
	}
	h.pool.Cookies().SetCookies(target, fakeResp.Cookies())
}

func (h *Handle) dial(ctx context.Context, p *pool.Pool, authority string, isTLS bool) (net.Conn, bool, error) {
	proxyAddr, viaProxy := h.proxyAddress(authority)
	dialAddr := authority
	if viaProxy {
		dialAddr = proxyAddr
	}

	h.Trace.Begin(nettrace.PhaseDNS, time.Now())
	host := dialAddr
	if hh, _, err := net.SplitHostPort(dialAddr); err == nil {
		host = hh
	}
	addrs, err := p.ResolveHost(ctx, host)
	h.Trace.UpdateMeta(nettrace.PhaseDNS, func(m *nettrace.PhaseMeta) {
		if len(addrs) > 0 {
			m.Addr = addrs[0].String()
		}
	})
	h.Trace.End(nettrace.PhaseDNS, time.Now(), err)
	if err != nil {
		return nil, false, err
	}

	h.Trace.Begin(nettrace.PhaseConnect, time.Now())
	slot, err := p.AcquireOrWaitFor(ctx, authority, httpspec.ClampTimeout(h.Config.Timeout))
	if err != nil {
		h.Trace.End(nettrace.PhaseConnect, time.Now(), err)
		return nil, false, err
	}
	if slot != nil {
		h.Trace.UpdateMeta(nettrace.PhaseConnect, func(m *nettrace.PhaseMeta) { m.Cached = true })
		h.Trace.End(nettrace.PhaseConnect, time.Now(), nil)
		return slot.Conn, true, nil
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		p.Discard()
		h.Trace.End(nettrace.PhaseConnect, time.Now(), err)
		return nil, false, errdef.Wrap(errdef.CodeCouldNotConnect, err, "dial %s", dialAddr)
	}
	h.Trace.End(nettrace.PhaseConnect, time.Now(), nil)

	if viaProxy && isTLS {
		if err := connectTunnel(ctx, raw, authority); err != nil {
			raw.Close()
			p.Discard()
			return nil, false, err
		}
	}

	if !isTLS {
		return raw, true, nil
	}

	h.Trace.Begin(nettrace.PhaseTLS, time.Now())
	tlsCfg, err := tlsbuild.Build(h.Config, "", p.TLSSessionCache())
	if err != nil {
		raw.Close()
		p.Discard()
		h.Trace.End(nettrace.PhaseTLS, time.Now(), err)
		return nil, false, err
	}
	tlsCfg.ServerName = h.Target.Host
	tlsConn := tls.Client(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		p.Discard()
		h.Trace.End(nettrace.PhaseTLS, time.Now(), err)
		return nil, false, errdef.Wrap(errdef.CodeSSLConnectError, err, "TLS handshake with %s", authority)
	}
	h.Trace.End(nettrace.PhaseTLS, time.Now(), nil)
	return tlsConn, true, nil
}

// proxyAddress returns the dial address of the configured proxy for
// authority, and whether it applies at all: an empty ProxyURL or a
// NoProxy match both mean "dial the origin directly" (SPEC_FULL.md's
// CONNECT-tunnel proxy supplement, grounded on libcurl's
// Curl_check_noproxy).
func (h *Handle) proxyAddress(authority string) (string, bool) {
	if h.Config.ProxyURL == "" {
		return "", false
	}
	host := authority
	if hh, _, err := net.SplitHostPort(authority); err == nil {
		host = hh
	}
	if bypassProxy(host, h.Config.NoProxy) {
		return "", false
	}
	proxyURI, err := uri.Parse(h.Config.ProxyURL)
	if err != nil {
		return "", false
	}
	addr := proxyURI.Host
	if proxyURI.HasPort {
		addr += ":" + strconv.Itoa(proxyURI.Port)
	} else if port, ok := proxyURI.DefaultPort(); ok {
		addr += ":" + strconv.Itoa(port)
	}
	return addr, true
}

// bypassProxy reports whether host matches an entry in noProxy: an exact
// name, a ".suffix" domain match, a bare CIDR, or the wildcard "*".
func bypassProxy(host string, noProxy []string) bool {
	for _, entry := range noProxy {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*":
			return true
		case strings.EqualFold(entry, host):
			return true
		case strings.HasPrefix(entry, ".") && strings.HasSuffix(strings.ToLower(host), strings.ToLower(entry)):
			return true
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			if ip := net.ParseIP(host); ip != nil && ipnet.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// connectTunnel issues an HTTP CONNECT request over raw and consumes the
// proxy's response, leaving raw ready for a TLS handshake with target.
func connectTunnel(ctx context.Context, raw net.Conn, target string) error {
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
		defer raw.SetDeadline(time.Time{})
	}
	req := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n\r\n"
	if _, err := raw.Write([]byte(req)); err != nil {
		return errdef.Wrap(errdef.CodeCouldNotConnect, err, "write CONNECT to proxy")
	}
	r := bufio.NewReader(raw)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return errdef.Wrap(errdef.CodeCouldNotConnect, err, "read CONNECT response")
	}
	status, err := parseStatusLine(statusLine)
	if err != nil {
		return err
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return errdef.Wrap(errdef.CodeCouldNotConnect, err, "read CONNECT headers")
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	if !status.IsSuccess() {
		return errdef.New(errdef.CodeCouldNotConnect, "proxy CONNECT to %s failed: %s", target, status)
	}
	return nil
}

// toASCIIHost converts an internationalized hostname to its punycode
// ("xn--...") form for the wire and for DNS lookups, per SPEC_FULL.md's
// IDNA host support. Bracketed IPv6 literals and plain IP addresses pass
// through unchanged; idna.Lookup.ToASCII rejects them, so malformed or
// non-domain hosts fall back to the original string rather than erroring
// a request that never needed conversion.
func toASCIIHost(host string) string {
	if strings.HasPrefix(host, "[") || net.ParseIP(host) != nil {
		return host
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

// fillTimings converts the collected phase timeline into the curl-style
// cumulative Timings the Response carries (spec.md §3's timings model).
func (h *Handle) fillTimings() {
	tl := h.Trace.Timeline()
	h.Response.Timings = httpspec.Timings{
		NameLookUp:    tl.CumulativeEnd(nettrace.PhaseDNS),
		Connect:       tl.CumulativeEnd(nettrace.PhaseConnect),
		AppConnect:    tl.CumulativeEnd(nettrace.PhaseTLS),
		PreTransfer:   tl.CumulativeEnd(nettrace.PhaseReqHdrs),
		StartTransfer: tl.CumulativeEnd(nettrace.PhaseTTFB),
		Total:         tl.Duration,
	}
}

// budget derives a nettrace.Budget from this exchange's own limits: the
// configured overall Timeout as the total cap, and, when LowSpeedDuration
// is positive, that duration as the transfer phase's cap. A Handle with
// neither set produces a zero Budget, so Report always carries a timeline
// even when nothing is enforced.
func (h *Handle) budget() nettrace.Budget {
	b := nettrace.Budget{Total: httpspec.ClampTimeout(h.Config.Timeout)}
	if h.LowSpeedDuration > 0 {
		b.Phases = map[nettrace.PhaseKind]time.Duration{nettrace.PhaseTransfer: h.LowSpeedDuration}
	}
	return b
}

func (h *Handle) writeRequest(ctx context.Context, conn net.Conn, hostHeader string) error {
	h.Trace.Begin(nettrace.PhaseReqHdrs, time.Now())
	defer h.Trace.End(nettrace.PhaseReqHdrs, time.Now(), nil)

	requestTarget := h.Target.RequestTarget()
	if _, viaProxy := h.proxyAddress(hostHeader); viaProxy && !strings.EqualFold(h.Target.Scheme, "https") {
		// RFC 7230 §5.3.2: a plain-HTTP request through a forward proxy
		// uses the absolute-form request-target, not origin-form.
		requestTarget = h.Target.String()
	}

	var sb strings.Builder
	sb.WriteString(h.Method.String())
	sb.WriteByte(' ')
	sb.WriteString(requestTarget)
	sb.WriteString(" HTTP/1.1\r\n")

	reqHeader := h.Header.Clone()
	reqHeader.SetIfMissing("Host", hostHeader)
	reqHeader.SetIfMissing("User-Agent", "httpengine/1.0")
	reqHeader.SetIfMissing("Accept", "*/*")

	switch {
	case h.Body.Size >= 0 && !h.Body.empty():
		reqHeader.Set("Content-Length", strconv.FormatInt(h.Body.Size, 10))
	case h.Body.ReadFunc != nil && h.Body.Size < 0:
		reqHeader.Set("Transfer-Encoding", "chunked")
	}
	reqHeader.SetIfMissing("Connection", "keep-alive")

	if err := validateHeaders(reqHeader); err != nil {
		return err
	}

	reqHeader.WriteTo(&sb)
	sb.WriteString("\r\n")

	if err := h.checkpoint(ctx); err != nil {
		return err
	}
	if _, err := io.WriteString(conn, sb.String()); err != nil {
		return errdef.Wrap(errdef.CodeCouldNotConnect, err, "write request headers")
	}

	return h.writeBody(ctx, conn, reqHeader.Get("Transfer-Encoding") == "chunked")
}

// validateHeaders rejects request headers with tokens or values RFC 7230
// framing cannot carry safely (e.g. embedded CR/LF), catching a
// programmer error before it reaches the wire rather than corrupting the
// request stream.
func validateHeaders(h *header.Header) error {
	var invalid error
	h.Enumerate(func(key string, values []string) {
		if invalid != nil {
			return
		}
		if !httpguts.ValidHeaderFieldName(key) {
			invalid = errdef.New(errdef.CodeUnsupportedOption, "invalid header field name %q", key)
			return
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				invalid = errdef.New(errdef.CodeUnsupportedOption, "invalid header value for %q", key)
				return
			}
		}
	})
	return invalid
}

func (h *Handle) writeBody(ctx context.Context, conn net.Conn, chunked bool) error {
	if h.Body.empty() {
		return nil
	}

	var lastActivity time.Time
	var lowStart time.Time
	var uploaded int64
	buf := make([]byte, 32*1024)

	writeChunk := func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		var frame []byte
		if chunked {
			frame = append(frame, []byte(strconv.FormatInt(int64(len(data)), 16))...)
			frame = append(frame, "\r\n"...)
			frame = append(frame, data...)
			frame = append(frame, "\r\n"...)
		} else {
			frame = data
		}
		if _, err := conn.Write(frame); err != nil {
			return errdef.Wrap(errdef.CodeCouldNotConnect, err, "write request body")
		}
		lastActivity = time.Now()
		uploaded += int64(len(data))
		if h.OnProgress != nil {
			action := h.OnProgress(httpspec.Progress{Upload: httpspec.Counter{Current: uploaded, Total: h.Body.Size}})
			if action == AbortOperation {
				return errdef.New(errdef.CodeAbortedByCallback, "upload aborted by progress callback")
			}
		}
		return nil
	}

	if len(h.Body.Bytes) > 0 {
		if err := writeChunk(h.Body.Bytes); err != nil {
			return err
		}
	} else {
		for {
			if err := h.checkpoint(ctx); err != nil {
				return err
			}
			if err := h.checkLowSpeed(&lowStart, lastActivity); err != nil {
				return err
			}
			n, rerr := h.Body.ReadFunc(buf)
			if n > 0 {
				if err := writeChunk(buf[:n]); err != nil {
					return err
				}
			}
			if rerr == io.EOF || n == 0 {
				break
			}
			if rerr != nil {
				return errdef.Wrap(errdef.CodeInternal, rerr, "read request body")
			}
		}
	}

	if chunked {
		if _, err := io.WriteString(conn, "0\r\n\r\n"); err != nil {
			return errdef.Wrap(errdef.CodeCouldNotConnect, err, "write chunked trailer")
		}
	}
	return nil
}

func (h *Handle) checkLowSpeed(lowStart *time.Time, lastActivity time.Time) error {
	if h.LowSpeedLimit <= 0 {
		return nil
	}
	if lastActivity.IsZero() {
		return nil
	}
	if time.Since(lastActivity) < time.Second {
		*lowStart = time.Time{}
		return nil
	}
	if lowStart.IsZero() {
		*lowStart = time.Now()
		return nil
	}
	if time.Since(*lowStart) >= h.LowSpeedDuration {
		return errdef.New(errdef.CodeOperationTimedOut, "throughput below %d bytes/s for %s", h.LowSpeedLimit, h.LowSpeedDuration)
	}
	return nil
}

// readLineLowSpeed reads one line from r, polling checkpoint and
// checkLowSpeed every lowSpeedPollInterval instead of blocking on the
// socket indefinitely. bufio.Reader.ReadString returns the partial line it
// managed to buffer before an error, so a spurious poll timeout is
// accumulated rather than discarded.
func (h *Handle) readLineLowSpeed(ctx context.Context, conn net.Conn, r *bufio.Reader, lastActivity *time.Time, lowStart *time.Time, opDesc string) (string, error) {
	var line strings.Builder
	for {
		if err := h.checkpoint(ctx); err != nil {
			return line.String(), err
		}
		if err := h.checkLowSpeed(lowStart, *lastActivity); err != nil {
			return line.String(), err
		}
		conn.SetReadDeadline(pollDeadline(ctx))
		part, err := r.ReadString('\n')
		if len(part) > 0 {
			line.WriteString(part)
			*lastActivity = time.Now()
		}
		if err == nil {
			return line.String(), nil
		}
		if isTimeoutErr(err) {
			continue
		}
		return line.String(), errdef.Wrap(errdef.CodeCouldNotConnect, err, "%s", opDesc)
	}
}

// readFullLowSpeed fills buf completely, the same low-speed-aware way
// readLineLowSpeed reads a line: a spurious poll timeout resumes the fill
// from where it left off instead of restarting it.
func (h *Handle) readFullLowSpeed(ctx context.Context, conn net.Conn, r *bufio.Reader, buf []byte, lastActivity *time.Time, lowStart *time.Time, opDesc string) error {
	total := 0
	for total < len(buf) {
		if err := h.checkpoint(ctx); err != nil {
			return err
		}
		if err := h.checkLowSpeed(lowStart, *lastActivity); err != nil {
			return err
		}
		conn.SetReadDeadline(pollDeadline(ctx))
		n, err := r.Read(buf[total:])
		if n > 0 {
			total += n
			*lastActivity = time.Now()
		}
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			return errdef.Wrap(errdef.CodeCouldNotConnect, err, "%s", opDesc)
		}
	}
	return nil
}

// readOnceLowSpeed performs one logical Read, retrying past spurious poll
// timeouts, and reports genuine EOF as io.EOF unwrapped so callers can tell
// it apart from a real transport failure.
func (h *Handle) readOnceLowSpeed(ctx context.Context, conn net.Conn, r *bufio.Reader, buf []byte, lastActivity *time.Time, lowStart *time.Time, opDesc string) (int, error) {
	for {
		if err := h.checkpoint(ctx); err != nil {
			return 0, err
		}
		if err := h.checkLowSpeed(lowStart, *lastActivity); err != nil {
			return 0, err
		}
		conn.SetReadDeadline(pollDeadline(ctx))
		n, err := r.Read(buf)
		if n > 0 {
			*lastActivity = time.Now()
			return n, nil
		}
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, errdef.Wrap(errdef.CodeCouldNotConnect, err, "%s", opDesc)
		}
	}
}

func (h *Handle) readResponse(ctx context.Context, conn net.Conn) error {
	// clear the polling deadline before the conn can be pooled and reused;
	// otherwise a slot released back to the pool would carry a deadline
	// already in the past.
	defer conn.SetReadDeadline(time.Time{})

	h.Trace.Begin(nettrace.PhaseTTFB, time.Now())
	r := bufio.NewReader(conn)

	var lastActivity, lowStart time.Time
	statusLine, err := h.readLineLowSpeed(ctx, conn, r, &lastActivity, &lowStart, "read status line")
	if err != nil {
		h.Trace.End(nettrace.PhaseTTFB, time.Now(), err)
		return err
	}
	h.Trace.End(nettrace.PhaseTTFB, time.Now(), nil)

	status, err := parseStatusLine(statusLine)
	if err != nil {
		return err
	}
	h.Response.Status = status
	h.Response.Header = header.New()

	respHeader, contentLength, chunkedResp, err := h.readHeaders(ctx, conn, r, &lastActivity, &lowStart)
	if err != nil {
		return err
	}
	h.Response.Header = respHeader

	h.Trace.Begin(nettrace.PhaseTransfer, time.Now())
	body, err := h.readBody(ctx, conn, r, contentLength, chunkedResp, &lastActivity, &lowStart)
	h.Trace.End(nettrace.PhaseTransfer, time.Now(), err)
	if err != nil {
		return err
	}
	h.Response.Body = body
	return nil
}

func parseStatusLine(line string) (httpspec.Status, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, errdef.New(errdef.CodeHTTP, "malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeHTTP, err, "malformed status code in %q", line)
	}
	return httpspec.Status(code), nil
}

func (h *Handle) readHeaders(ctx context.Context, conn net.Conn, r *bufio.Reader, lastActivity, lowStart *time.Time) (*header.Header, int64, bool, error) {
	hdr := header.New()
	contentLength := int64(-1)
	chunked := false

	for {
		line, err := h.readLineLowSpeed(ctx, conn, r, lastActivity, lowStart, "read response header")
		if err != nil {
			return nil, 0, false, err
		}
		if h.OnWriteHeader != nil {
			h.OnWriteHeader(line)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		key, value, ok := header.ParseLine(trimmed)
		if !ok {
			continue
		}
		hdr.Add(key, value)
		switch header.Canonical(key) {
		case "Content-Length":
			if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				contentLength = n
			}
		case "Transfer-Encoding":
			if strings.Contains(strings.ToLower(value), "chunked") {
				chunked = true
			}
		}
	}
	return hdr, contentLength, chunked, nil
}

// readBody reads the response body via r, applying the same low-speed
// polling discipline writeBody applies to the upload path: every branch
// bounds each underlying Read behind lowSpeedPollInterval so a stalled or
// silent peer surfaces through checkpoint/checkLowSpeed instead of
// blocking the caller forever (spec.md §4.6's abort_request_if).
func (h *Handle) readBody(ctx context.Context, conn net.Conn, r *bufio.Reader, contentLength int64, chunked bool, lastActivity, lowStart *time.Time) ([]byte, error) {
	var body []byte
	var downloaded int64
	deliver := func(chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		h.Mirror.Observe(chunk, time.Now())
		if h.OnWriteData != nil {
			h.OnWriteData(chunk)
		}
		downloaded += int64(len(chunk))
		if h.OnProgress != nil {
			action := h.OnProgress(httpspec.Progress{Download: httpspec.Counter{Current: downloaded, Total: contentLength}})
			if action == AbortOperation {
				return errdef.New(errdef.CodeAbortedByCallback, "download aborted by progress callback")
			}
		}
		return nil
	}

	switch {
	case chunked:
		for {
			sizeLine, err := h.readLineLowSpeed(ctx, conn, r, lastActivity, lowStart, "read chunk size")
			if err != nil {
				return nil, err
			}
			sizeLine = strings.TrimRight(strings.SplitN(sizeLine, ";", 2)[0], "\r\n")
			size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
			if err != nil {
				return nil, errdef.Wrap(errdef.CodeHTTP, err, "malformed chunk size %q", sizeLine)
			}
			if size == 0 {
				// consume the final CRLF; trailer fields are not
				// supported and are not skipped
				if err := h.readFullLowSpeed(ctx, conn, r, make([]byte, 2), lastActivity, lowStart, "read chunk trailer"); err != nil {
					return nil, err
				}
				break
			}
			chunk := make([]byte, size)
			if err := h.readFullLowSpeed(ctx, conn, r, chunk, lastActivity, lowStart, "read chunk body"); err != nil {
				return nil, err
			}
			if err := h.readFullLowSpeed(ctx, conn, r, make([]byte, 2), lastActivity, lowStart, "read chunk delimiter"); err != nil {
				return nil, err
			}
			if err := deliver(chunk); err != nil {
				return nil, err
			}
			if !h.Streaming {
				body = append(body, chunk...)
			}
		}
	case contentLength >= 0:
		remaining := contentLength
		buf := make([]byte, 32*1024)
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			read, err := h.readOnceLowSpeed(ctx, conn, r, buf[:n], lastActivity, lowStart, "read response body")
			if read > 0 {
				if derr := deliver(buf[:read]); derr != nil {
					return nil, derr
				}
				if !h.Streaming {
					body = append(body, buf[:read]...)
				}
				remaining -= int64(read)
			}
			if err != nil {
				if err == io.EOF && remaining == 0 {
					break
				}
				return nil, err
			}
		}
	default:
		buf := make([]byte, 32*1024)
		for {
			n, err := h.readOnceLowSpeed(ctx, conn, r, buf, lastActivity, lowStart, "read response body")
			if n > 0 {
				if derr := deliver(buf[:n]); derr != nil {
					return nil, derr
				}
				if !h.Streaming {
					body = append(body, buf[:n]...)
				}
			}
			if err != nil {
				// an unknown-length body ends when the connection closes;
				// only a genuine abort/timeout from checkpoint or
				// checkLowSpeed should propagate as a failure here.
				if errdef.Is(err, errdef.CodeAbortedByCallback) ||
					errdef.Is(err, errdef.CodeOperationTimedOut) ||
					errdef.Is(err, errdef.CodeHandleAbandoned) {
					return nil, err
				}
				break
			}
		}
	}
	return body, nil
}
