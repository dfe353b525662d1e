package httpspec

import (
	"time"

	"github.com/unkn0wn-root/httpengine/header"
)

// Credentials is what an AuthHandler produces in response to a 401/407
// challenge.
type Credentials struct {
	Username string
	Password string
}

// AuthHandler resolves credentials for the given target URI (the origin
// for HTTP auth, the proxy URL for proxy auth).
type AuthHandler func(target string) (Credentials, error)

// AuthenticationHandlers groups the two credential callbacks named in
// spec.md §3 (authentication_handler.for_http / .for_proxy).
type AuthenticationHandlers struct {
	ForHTTP  AuthHandler
	ForProxy AuthHandler
}

// Configuration is the recognized option set for one Connection handle
// (spec.md §3, "Request::Configuration"). Only these fields are honored;
// setting anything else on the underlying transport is a programming
// error (errdef.CodeUnsupportedOption).
type Configuration struct {
	URI    string
	Header *header.Header

	SSLVerifyPeer bool
	SSLVerifyHost bool

	// TLS material, ambient stack grounded on the teacher's tlsconfig
	// package: custom root CAs, client cert/key, replace-vs-append mode.
	RootCAs        []string
	RootCAAppend   bool
	ClientCertPath string
	ClientKeyPath  string

	Authentication AuthenticationHandlers

	SpeedLimit    int64 // non-zero enables the low-speed stall check; 0 disables it
	SpeedDuration time.Duration

	// Timeout is the overall exchange deadline. A value that would
	// overflow the platform's duration clamps to "wait forever"
	// (spec.md §9, Open Question a).
	Timeout time.Duration

	// ProxyURL and NoProxy are the SPEC_FULL supplement grounded on
	// libcurl's Curl_check_noproxy: an HTTP/HTTPS proxy plus a
	// bypass list with one hostname, ".suffix", CIDR or "*" per entry.
	ProxyURL string
	NoProxy  []string
}

// DefaultConfiguration returns the engine's documented defaults.
func DefaultConfiguration() Configuration {
	return Configuration{
		SSLVerifyPeer: true,
		SSLVerifyHost: true,
		SpeedLimit:    1,
		SpeedDuration: 30 * time.Second,
	}
}

const maxDuration = time.Duration(1<<63 - 1)

// ClampTimeout implements spec.md §9 Open Question (a): a timeout value
// that would overflow the platform's duration type clamps to "wait
// forever" rather than wrapping or truncating silently.
func ClampTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return maxDuration
	}
	return d
}
