package httpengine

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/httpengine/header"
	"github.com/unkn0wn-root/httpengine/httpspec"
)

// serveJSON accepts one connection on ln, drains the request, and writes
// back a fixed 200 response carrying body.
func serveJSON(t *testing.T, ln net.Listener, body string) {
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

// captureRequest accepts one connection, records the full request text
// (request line, headers, and body up to Content-Length), and replies 200.
func captureRequest(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	captured := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		var sb strings.Builder
		contentLength := 0
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				break
			}
			sb.WriteString(line)
			if strings.HasPrefix(strings.ToLower(line), "content-length:") {
				fmt.Sscanf(strings.TrimSpace(line[len("Content-Length:"):]), "%d", &contentLength)
			}
			if strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
		if contentLength > 0 {
			buf := make([]byte, contentLength)
			r.Read(buf)
			sb.Write(buf)
		}
		captured <- sb.String()
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"))
	}()
	return captured
}

func listenLoopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return ln, fmt.Sprintf("http://%s:%d", addr.IP.String(), addr.Port)
}

func TestClientGetSynchronous(t *testing.T) {
	ln, base := listenLoopback(t)
	defer ln.Close()
	serveJSON(t, ln, `{"ok":true}`)

	client := NewClient(httpspec.DefaultConfiguration())
	defer client.Stop()

	req, err := client.Get(base + "/get")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp, err := req.Execute(nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status.Code() != 200 {
		t.Fatalf("expected 200, got %d", resp.Status.Code())
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
	if req.State() != httpspec.StateDone {
		t.Fatalf("expected state done, got %v", req.State())
	}
}

func TestClientReExecuteFailsAlreadyActive(t *testing.T) {
	ln, base := listenLoopback(t)
	defer ln.Close()
	serveJSON(t, ln, "hi")

	client := NewClient(httpspec.DefaultConfiguration())
	defer client.Stop()

	req, err := client.Get(base + "/get")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := req.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := req.Execute(nil); err == nil {
		t.Fatal("expected re-Execute on a done request to fail")
	}
}

func TestClientPostFormSerializesExactly(t *testing.T) {
	ln, base := listenLoopback(t)
	defer ln.Close()
	captured := captureRequest(t, ln)

	client := NewClient(httpspec.DefaultConfiguration())
	defer client.Stop()

	req, err := client.PostForm(base+"/post", map[string]string{"test": "test"})
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	if _, err := req.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case raw := <-captured:
		if !strings.HasSuffix(raw, "\r\n\r\ntest=test") {
			t.Fatalf("expected body to be exactly %q, got %q", "test=test", raw)
		}
		if !strings.Contains(raw, "Content-Type: application/x-www-form-urlencoded") {
			t.Fatalf("expected form content type, got %q", raw)
		}
	case <-time.After(time.Second):
		t.Fatal("server never captured a request")
	}
}

func TestClientNewRequestSeedsConfiguredHeaders(t *testing.T) {
	ln, base := listenLoopback(t)
	defer ln.Close()
	captured := captureRequest(t, ln)

	cfg := httpspec.DefaultConfiguration()
	cfg.Header = header.New()
	cfg.Header.Set("User-Agent", "httpengine-test/1.0")
	cfg.Header.Set("Accept", "application/json")

	client := NewClient(cfg)
	defer client.Stop()

	req, err := client.Get(base + "/get")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := req.Execute(nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case raw := <-captured:
		if !strings.Contains(raw, "User-Agent: httpengine-test/1.0") {
			t.Fatalf("expected configured User-Agent header, got %q", raw)
		}
		if !strings.Contains(raw, "Accept: application/json") {
			t.Fatalf("expected configured Accept header, got %q", raw)
		}
	case <-time.After(time.Second):
		t.Fatal("server never captured a request")
	}
}

func TestClientAsyncExecuteDeliversResponse(t *testing.T) {
	ln, base := listenLoopback(t)
	defer ln.Close()
	serveJSON(t, ln, "async-body")

	client := NewClient(httpspec.DefaultConfiguration())
	defer client.Stop()

	req, err := client.Get(base + "/get")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var gotBody string
	req.AsyncExecute(AsyncHandlerFuncs{
		Response: func(resp *httpspec.Response) {
			gotBody = string(resp.Body)
			wg.Done()
		},
		Error: func(err error) {
			t.Errorf("unexpected async error: %v", err)
			wg.Done()
		},
	}, nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async_execute never completed")
	}
	if gotBody != "async-body" {
		t.Fatalf("unexpected async body: %q", gotBody)
	}
}
