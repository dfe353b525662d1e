package httpspec

import "fmt"

// Status is one of the RFC 7231 status codes the engine recognizes by
// name; unrecognized-but-valid codes still round-trip through Code and
// String, they just report Name() == "".
type Status int

var statusNames = map[int]string{
	100: "Continue", 101: "SwitchingProtocols",
	200: "OK", 201: "Created", 202: "Accepted", 203: "NonAuthoritativeInformation",
	204: "NoContent", 205: "ResetContent", 206: "PartialContent",
	300: "MultipleChoices", 301: "MovedPermanently", 302: "Found", 303: "SeeOther",
	304: "NotModified", 305: "UseProxy", 307: "TemporaryRedirect", 308: "PermanentRedirect",
	400: "BadRequest", 401: "Unauthorized", 402: "PaymentRequired", 403: "Forbidden",
	404: "NotFound", 405: "MethodNotAllowed", 406: "NotAcceptable",
	407: "ProxyAuthenticationRequired", 408: "RequestTimeout", 409: "Conflict",
	410: "Gone", 411: "LengthRequired", 412: "PreconditionFailed",
	413: "PayloadTooLarge", 414: "URITooLong", 415: "UnsupportedMediaType",
	416: "RangeNotSatisfiable", 417: "ExpectationFailed", 426: "UpgradeRequired",
	428: "PreconditionRequired", 429: "TooManyRequests", 431: "RequestHeaderFieldsTooLarge",
	500: "InternalServerError", 501: "NotImplemented", 502: "BadGateway",
	503: "ServiceUnavailable", 504: "GatewayTimeout", 505: "HTTPVersionNotSupported",
}

// Code returns the numeric status code.
func (s Status) Code() int { return int(s) }

// Name returns the RFC 7231 reason phrase in PascalCase, or "" if s is
// not one of the named codes in the 100–505 table above.
func (s Status) Name() string { return statusNames[int(s)] }

// String renders "name(code)" per spec.md §3, falling back to just the
// numeric code when the name is unknown.
func (s Status) String() string {
	if name := s.Name(); name != "" {
		return fmt.Sprintf("%s(%d)", name, int(s))
	}
	return fmt.Sprintf("%d", int(s))
}

// IsSuccess reports whether s is in the 2xx range.
func (s Status) IsSuccess() bool { return s >= 200 && s < 300 }

// IsRedirect reports whether s is in the 3xx range.
func (s Status) IsRedirect() bool { return s >= 300 && s < 400 }

// IsClientError reports whether s is in the 4xx range.
func (s Status) IsClientError() bool { return s >= 400 && s < 500 }

// IsServerError reports whether s is in the 5xx range.
func (s Status) IsServerError() bool { return s >= 500 && s < 600 }
