package conn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/httpspec"
	"github.com/unkn0wn-root/httpengine/internal/pool"
	"github.com/unkn0wn-root/httpengine/uri"
)

// serveOnce accepts one connection on ln, reads the request line and
// headers, and writes back a fixed-length 200 response with body.
func serveOnce(t *testing.T, ln net.Listener, body string) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
		c.Write([]byte(resp))
	}()
}

func newTestTarget(t *testing.T, ln net.Listener, path string) *uri.Uri {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	target, err := uri.Parse(fmt.Sprintf("http://%s:%d%s", addr.IP.String(), addr.Port, path))
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	return target
}

func TestHandleDriveGetDeliversBodyInOrder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serveOnce(t, ln, `{"ok":true}`)

	target := newTestTarget(t, ln, "/get")
	p := pool.New(4)
	h := NewHandle(httpspec.GET, target, httpspec.DefaultConfiguration())

	var received []byte
	h.OnWriteData = func(chunk []byte) int {
		received = append(received, chunk...)
		return len(chunk)
	}

	finished := make(chan error, 1)
	h.OnFinished = func(err error) { finished <- err }

	if err := h.Drive(context.Background(), p); err != nil {
		t.Fatalf("Drive returned error: %v", err)
	}
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("OnFinished got error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnFinished never called")
	}

	if h.Response.Status.Code() != 200 {
		t.Fatalf("expected 200, got %v", h.Response.Status)
	}
	if string(received) != `{"ok":true}` {
		t.Fatalf("unexpected streamed body: %q", received)
	}
	if string(h.Response.Body) != `{"ok":true}` {
		t.Fatalf("unexpected accumulated body: %q", h.Response.Body)
	}
}

func TestHandlePauseBlocksUntilResume(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serveOnce(t, ln, "hello")

	target := newTestTarget(t, ln, "/paused")
	p := pool.New(4)
	h := NewHandle(httpspec.GET, target, httpspec.DefaultConfiguration())
	h.Pause()

	done := make(chan error, 1)
	go func() { done <- h.Drive(context.Background(), p) }()

	select {
	case <-done:
		t.Fatal("Drive completed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	h.Resume()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drive never completed after resume")
	}
}

func TestHandleDriveAbortedByProgressCallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serveOnce(t, ln, "this body should never be fully read")

	target := newTestTarget(t, ln, "/abort")
	p := pool.New(4)
	h := NewHandle(httpspec.GET, target, httpspec.DefaultConfiguration())
	h.OnProgress = func(httpspec.Progress) Action { return AbortOperation }

	err = h.Drive(context.Background(), p)
	if err == nil {
		t.Fatal("expected an error from the aborted request")
	}
}

// serveStalledBody accepts one connection, sends response headers
// declaring a body larger than it ever writes, then blocks without
// closing the connection, simulating a peer that goes silent mid-transfer.
func serveStalledBody(t *testing.T, ln net.Listener, wait chan struct{}) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 1000000\r\n\r\n"))
		<-wait
	}()
}

func TestHandleDriveAbortsOnStalledDownload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	wait := make(chan struct{})
	defer close(wait)
	serveStalledBody(t, ln, wait)

	target := newTestTarget(t, ln, "/slow")
	p := pool.New(4)
	h := NewHandle(httpspec.GET, target, httpspec.DefaultConfiguration())
	h.LowSpeedLimit = 1
	h.LowSpeedDuration = 500 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- h.Drive(context.Background(), p) }()

	select {
	case err := <-done:
		if !errdef.Is(err, errdef.CodeOperationTimedOut) {
			t.Fatalf("expected CodeOperationTimedOut, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Drive never aborted a stalled download")
	}
}

func TestHandleDriveTimesOutOnStalledDownload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	wait := make(chan struct{})
	defer close(wait)
	serveStalledBody(t, ln, wait)

	target := newTestTarget(t, ln, "/slow")
	p := pool.New(4)
	cfg := httpspec.DefaultConfiguration()
	cfg.Timeout = 300 * time.Millisecond
	h := NewHandle(httpspec.GET, target, cfg)

	done := make(chan error, 1)
	go func() { done <- h.Drive(context.Background(), p) }()

	select {
	case err := <-done:
		if !errdef.Is(err, errdef.CodeOperationTimedOut) {
			t.Fatalf("expected CodeOperationTimedOut, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Drive never honored Configuration.Timeout on a stalled download")
	}
}

// serveProxy accepts one connection on ln and forwards a plain-HTTP
// request to a fixed 200 response, asserting the request line carries
// the absolute-form request-target RFC 7230 requires through a forward
// proxy.
func serveProxy(t *testing.T, ln net.Listener, wantRequestLinePrefix, body string) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		requestLine, _ := r.ReadString('\n')
		if !strings.HasPrefix(requestLine, wantRequestLinePrefix) {
			t.Errorf("request line %q does not have prefix %q", requestLine, wantRequestLinePrefix)
		}
		for {
			line, err := r.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
		c.Write([]byte(resp))
	}()
}

func TestHandleDriveViaProxyUsesAbsoluteForm(t *testing.T) {
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer proxyLn.Close()

	target, err := uri.Parse("http://origin.example/resource")
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	serveProxy(t, proxyLn, "GET http://origin.example/resource", "proxied")

	cfg := httpspec.DefaultConfiguration()
	proxyAddr := proxyLn.Addr().(*net.TCPAddr)
	cfg.ProxyURL = fmt.Sprintf("http://%s:%d", proxyAddr.IP.String(), proxyAddr.Port)

	p := pool.New(4)
	h := NewHandle(httpspec.GET, target, cfg)

	if err := h.Drive(context.Background(), p); err != nil {
		t.Fatalf("Drive returned error: %v", err)
	}
	if string(h.Response.Body) != "proxied" {
		t.Fatalf("unexpected body: %q", h.Response.Body)
	}
}

func TestBypassProxyMatchesExactAndSuffixAndWildcard(t *testing.T) {
	cases := []struct {
		host    string
		noProxy []string
		want    bool
	}{
		{"internal.example", []string{"internal.example"}, true},
		{"api.internal.example", []string{".internal.example"}, true},
		{"other.example", []string{".internal.example"}, false},
		{"anything", []string{"*"}, true},
		{"10.0.0.5", []string{"10.0.0.0/8"}, true},
		{"8.8.8.8", []string{"10.0.0.0/8"}, false},
	}
	for _, tc := range cases {
		if got := bypassProxy(tc.host, tc.noProxy); got != tc.want {
			t.Errorf("bypassProxy(%q, %v) = %v, want %v", tc.host, tc.noProxy, got, tc.want)
		}
	}
}
