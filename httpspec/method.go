// Package httpspec holds the small enumerations shared across the engine:
// Method, Status, and ContentType (spec.md §3, component C3).
package httpspec

import "github.com/unkn0wn-root/httpengine/errdef"

// Method is one of the five verbs the engine can issue.
type Method int

const (
	GET Method = iota
	HEAD
	POST
	PUT
	DELETE
)

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case HEAD:
		return "HEAD"
	case POST:
		return "POST"
	case PUT:
		return "PUT"
	case DELETE:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod maps a request-line token to a Method. Unrecognized tokens
// fail with errdef.CodeMethodNotSupported: the transport cannot implement
// a verb this engine does not know how to drive through its state
// machine.
func ParseMethod(token string) (Method, error) {
	switch token {
	case "GET":
		return GET, nil
	case "HEAD":
		return HEAD, nil
	case "POST":
		return POST, nil
	case "PUT":
		return PUT, nil
	case "DELETE":
		return DELETE, nil
	default:
		return GET, errdef.New(errdef.CodeMethodNotSupported, "method %q is not supported", token)
	}
}
