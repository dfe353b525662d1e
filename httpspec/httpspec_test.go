package httpspec

import (
	"testing"

	"github.com/unkn0wn-root/httpengine/errdef"
)

func TestParseMethodKnown(t *testing.T) {
	for _, tt := range []struct {
		token string
		want  Method
	}{
		{"GET", GET}, {"HEAD", HEAD}, {"POST", POST}, {"PUT", PUT}, {"DELETE", DELETE},
	} {
		got, err := ParseMethod(tt.token)
		if err != nil {
			t.Fatalf("ParseMethod(%q): %v", tt.token, err)
		}
		if got != tt.want {
			t.Fatalf("ParseMethod(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestParseMethodUnsupported(t *testing.T) {
	_, err := ParseMethod("PATCH")
	if !errdef.Is(err, errdef.CodeMethodNotSupported) {
		t.Fatalf("expected CodeMethodNotSupported, got %v", err)
	}
}

func TestStatusDisplay(t *testing.T) {
	if got, want := Status(200).String(), "OK(200)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := Status(299).String(), "299"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStatusRanges(t *testing.T) {
	if !Status(204).IsSuccess() {
		t.Fatalf("204 should be success")
	}
	if !Status(401).IsClientError() {
		t.Fatalf("401 should be client error")
	}
	if !Status(503).IsServerError() {
		t.Fatalf("503 should be server error")
	}
}
