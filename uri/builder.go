package uri

import "strings"

// Build constructs a Uri from a base ("scheme://host[:port]" or a bare
// host), an ordered list of decoded path components, and ordered decoded
// query pairs. It is the constructor named in spec.md §4.1: "a
// constructor from parts (host, path components, ordered query key/value
// pairs) builds a Uri directly" — base additionally accepts a leading
// scheme, matching every call site in this codebase and in
// spec.md §8 scenario S8.
func Build(base string, pathParts []string, query []Param) *Uri {
	u := &Uri{}
	rest := base
	if idx := strings.Index(rest, "://"); idx >= 0 {
		u.Scheme = rest[:idx]
		rest = rest[idx+3:]
	}
	if colon := strings.LastIndexByte(rest, ':'); colon >= 0 && !strings.Contains(rest[colon:], "]") {
		if port, ok := parsePortLiteral(rest[colon+1:]); ok {
			u.Host = rest[:colon]
			u.HasPort = true
			u.Port = port
			rest = ""
		}
	}
	if rest != "" {
		u.Host = rest
	}
	u.PathParts = append([]string(nil), pathParts...)
	if query != nil {
		u.Query = append([]Param(nil), query...)
		u.HasQuery = true
	}
	return u
}

func parsePortLiteral(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	if n > 65535 {
		return 0, false
	}
	return n, true
}
