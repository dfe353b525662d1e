// Package httpengine is the public façade of a client-side, non-blocking
// HTTP/1.1 request engine (spec.md, component C8/C9): a Client that owns
// a pooled Reactor, Request/StreamingRequest state machines wired through
// the internal Connection-handle callback contract, and a small set of
// standalone codecs.
//
// Grounded on unkn0wn-root-resterm's execution entry points, generalized
// from "run one restfile entry" to "drive one pooled, resumable HTTP
// exchange with a public ready -> active -> done state machine".
package httpengine

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/header"
	"github.com/unkn0wn-root/httpengine/httpspec"
	"github.com/unkn0wn-root/httpengine/internal/conn"
	"github.com/unkn0wn-root/httpengine/internal/nettrace"
	"github.com/unkn0wn-root/httpengine/internal/stream"
	"github.com/unkn0wn-root/httpengine/uri"
)

// ProgressHandler receives progress updates during an exchange and
// decides whether it should continue (spec.md §4.6).
type ProgressHandler func(httpspec.Progress) conn.Action

// AsyncHandler receives the terminal outcome of an async_execute call.
type AsyncHandler interface {
	OnResponse(resp *httpspec.Response)
	OnError(err error)
}

// AsyncHandlerFuncs adapts two plain functions to AsyncHandler.
type AsyncHandlerFuncs struct {
	Response func(resp *httpspec.Response)
	Error    func(err error)
}

func (f AsyncHandlerFuncs) OnResponse(resp *httpspec.Response) {
	if f.Response != nil {
		f.Response(resp)
	}
}

func (f AsyncHandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Request is one C8 request/response exchange bound to a target, method,
// and body. It carries the ready -> active -> done state machine spec.md
// §4.6 requires: re-entering Execute/AsyncExecute on a non-ready Request
// fails with errdef.CodeAlreadyActive.
type Request struct {
	client *Client
	method httpspec.Method
	target *uri.Uri
	body   conn.Body
	header *header.Header

	state atomic.Int32 // httpspec.State

	handle atomic.Pointer[conn.Handle]

	lowSpeedLimit    int64
	lowSpeedDuration time.Duration
}

func newRequest(c *Client, method httpspec.Method, target *uri.Uri) *Request {
	return &Request{client: c, method: method, target: target, header: header.New()}
}

// Header returns the request's mutable header set, wired verbatim into
// the Connection handle at Execute/AsyncExecute time.
func (r *Request) Header() *header.Header { return r.header }

// SetBody installs a fixed-size body.
func (r *Request) SetBody(data []byte) {
	r.body = conn.Body{Bytes: data, Size: int64(len(data))}
}

// SetStreamingBody installs a read-callback body of declared size (-1 for
// unknown, which drives chunked transfer encoding per spec.md §6).
func (r *Request) SetStreamingBody(readFunc func(dst []byte) (int, error), size int64) {
	r.body = conn.Body{ReadFunc: readFunc, Size: size}
}

// AbortRequestIf sets the transport's inactivity threshold: the exchange
// ends with errdef.CodeOperationTimedOut once no body bytes have moved for
// at least one second and that stall has lasted duration. A non-zero
// limitBytesPerSec only switches the check on; the transfer rate itself is
// not measured, so a slow but steady trickle below the limit is not
// aborted.
func (r *Request) AbortRequestIf(limitBytesPerSec int64, duration time.Duration) {
	r.lowSpeedLimit = limitBytesPerSec
	r.lowSpeedDuration = duration
}

// State reports the request's current lifecycle position.
func (r *Request) State() httpspec.State {
	return httpspec.State(r.state.Load())
}

// Report returns the phase timeline and budget evaluation collected for
// the most recently driven exchange (budgeted against Configuration.Timeout
// and the low-speed duration, which is Configuration.SpeedDuration unless
// AbortRequestIf overrode it), or nil before any exchange has completed.
func (r *Request) Report() *nettrace.Report {
	if h := r.handle.Load(); h != nil {
		return h.Report
	}
	return nil
}

// MirrorSnapshot returns the most recent body chunks delivered to a
// StreamingRequest's data handler, oldest first.
func (r *Request) MirrorSnapshot() []stream.Chunk {
	if h := r.handle.Load(); h != nil {
		return h.Mirror.Snapshot()
	}
	return nil
}

// MirrorStats reports the total chunk and byte counts a StreamingRequest
// has delivered so far, including chunks already evicted from the
// retained window.
func (r *Request) MirrorStats() (chunks int, bytes int64) {
	if h := r.handle.Load(); h != nil {
		return h.Mirror.Stats()
	}
	return 0, 0
}

func (r *Request) transitionToActive() error {
	if !r.state.CompareAndSwap(int32(httpspec.StateReady), int32(httpspec.StateActive)) {
		return errdef.New(errdef.CodeAlreadyActive, "request is not ready (state=%s)", r.State())
	}
	return nil
}

func (r *Request) transitionToDone() {
	r.state.Store(int32(httpspec.StateDone))
}

// startSpan opens the OpenTelemetry span covering one exchange, per
// SPEC_FULL.md's observability supplement: every Execute/AsyncExecute
// call is one span, tagged with method and target.
func (r *Request) startSpan(ctx context.Context) (context.Context, trace.Span) {
	return r.client.tracer.Start(ctx, "httpengine."+r.method.String(),
		trace.WithAttributes(
			attribute.String("http.method", r.method.String()),
			attribute.String("http.url", r.target.String()),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func endSpan(span trace.Span, resp *httpspec.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.Status.Code()))
	}
	span.End()
}

// Pause asks the in-flight exchange to stop reading/writing; marshalled
// onto the client's reactor per spec.md §4.6.
func (r *Request) Pause() {
	r.client.reactor.Dispatch(func() {
		if h := r.handle.Load(); h != nil {
			h.Pause()
		}
	})
}

// Resume re-enables reading/writing on a paused exchange.
func (r *Request) Resume() {
	r.client.reactor.Dispatch(func() {
		if h := r.handle.Load(); h != nil {
			h.Resume()
		}
	})
}

func (r *Request) buildHandle(dataHandler func([]byte)) *conn.Handle {
	h := conn.NewHandle(r.method, r.target, r.client.config)
	h.Header = r.header
	h.Body = r.body

	h.LowSpeedLimit = r.client.config.SpeedLimit
	h.LowSpeedDuration = r.client.config.SpeedDuration
	if r.lowSpeedLimit != 0 {
		h.LowSpeedLimit = r.lowSpeedLimit
		h.LowSpeedDuration = r.lowSpeedDuration
	}

	h.Streaming = dataHandler != nil
	if dataHandler != nil {
		h.OnWriteData = func(chunk []byte) int {
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			dataHandler(cp)
			return len(chunk)
		}
	}
	h.OnWriteHeader = func(line string) int { return len(line) }
	h.OnFinished = func(err error) { r.transitionToDone() }
	return h
}

// Execute drives the exchange synchronously on the calling goroutine
// (spec.md §4.6's "execute"). It replays the request once with an
// Authorization header when the server (or proxy) challenges with 401/407
// and a matching authentication handler is configured.
func (r *Request) Execute(progress ProgressHandler) (*httpspec.Response, error) {
	if err := r.transitionToActive(); err != nil {
		return nil, err
	}

	h := r.buildHandle(nil)
	if progress != nil {
		h.OnProgress = progress
	}
	r.handle.Store(h)

	ctx, span := r.startSpan(context.Background())
	err := h.Drive(ctx, r.client.pool)
	if err != nil {
		endSpan(span, nil, err)
		return nil, err
	}
	r.client.observeTimings(h.Response.Timings)

	if resp, retried, rerr := r.client.maybeAuthRetry(r, h, progress, nil); retried {
		endSpan(span, resp, rerr)
		return resp, rerr
	}

	resp := h.Response
	endSpan(span, &resp, nil)
	return &resp, nil
}

// AsyncExecute drives the exchange on the client's reactor (spec.md
// §4.6's "async_execute"); it never blocks the calling goroutine. handler
// receives the terminal outcome; dataHandler, if non-nil, makes this a
// StreamingRequest: every body chunk is delivered as it arrives instead
// of being accumulated into the Response.
func (r *Request) AsyncExecute(handler AsyncHandler, dataHandler func([]byte)) {
	if err := r.transitionToActive(); err != nil {
		if handler != nil {
			handler.OnError(err)
		}
		return
	}

	h := r.buildHandle(dataHandler)
	r.handle.Store(h)

	r.client.reactor.AddHandle(func() {
		ctx, span := r.startSpan(context.Background())
		err := h.Drive(ctx, r.client.pool)
		r.client.observeTimings(h.Response.Timings)

		if resp, retried, rerr := r.client.maybeAuthRetry(r, h, nil, dataHandler); retried {
			endSpan(span, resp, rerr)
			if rerr != nil {
				handler.OnError(rerr)
			} else {
				handler.OnResponse(resp)
			}
			return
		}

		if err != nil {
			endSpan(span, nil, err)
			handler.OnError(err)
			return
		}
		resp := h.Response
		endSpan(span, &resp, nil)
		handler.OnResponse(&resp)
	})
}
