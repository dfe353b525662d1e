package uri

import (
	"strconv"
	"strings"

	"github.com/unkn0wn-root/httpengine/errdef"
)

// Parse splits s into RFC 3986 URI reference components. An unterminated
// IP-literal, an invalid port, or a malformed authority suffix returns an
// error carrying errdef.CodeMalformedURI; the characters of the scheme's
// remainder, userinfo, host, path, query and fragment are not otherwise
// checked against the RFC 3986 grammar.
func Parse(s string) (*Uri, error) {
	p := &parser{s: s}
	u, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, errdef.New(errdef.CodeMalformedURI, "trailing input at byte %d in %q", p.pos, s)
	}
	return u, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) rest() string { return p.s[p.pos:] }

func (p *parser) parse() (*Uri, error) {
	u := &Uri{}

	if scheme, ok := p.tryScheme(); ok {
		u.Scheme = scheme
	}

	if strings.HasPrefix(p.rest(), "//") {
		p.pos += 2
		if err := p.parseAuthority(u); err != nil {
			return nil, err
		}
	}

	if err := p.parsePath(u); err != nil {
		return nil, err
	}

	if strings.HasPrefix(p.rest(), "?") {
		p.pos++
		end := indexAny(p.rest(), "#")
		var raw string
		if end < 0 {
			raw = p.rest()
			p.pos = len(p.s)
		} else {
			raw = p.rest()[:end]
			p.pos += end
		}
		u.HasQuery = true
		u.Query = parseQuery(raw)
	}

	if strings.HasPrefix(p.rest(), "#") {
		p.pos++
		u.HasFragment = true
		u.Fragment = PercentDecode(p.rest())
		p.pos = len(p.s)
	}

	return u, nil
}

// tryScheme consumes "scheme:" if the input starts with a valid scheme
// token followed immediately by a colon and the remainder does not look
// like a path-only reference (a bare "a:b" without "//" is still a valid
// scheme per RFC 3986, so no lookahead beyond the grammar is needed).
func (p *parser) tryScheme() (string, bool) {
	s := p.rest()
	if len(s) == 0 || !isAlpha(s[0]) {
		return "", false
	}
	i := 1
	for i < len(s) && isSchemeChar(s[i]) {
		i++
	}
	if i >= len(s) || s[i] != ':' {
		return "", false
	}
	scheme := s[:i]
	p.pos += i + 1
	return scheme, true
}

func isAlpha(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}

func isSchemeChar(b byte) bool {
	return isAlpha(b) || b >= '0' && b <= '9' || b == '+' || b == '.' || b == '-'
}

func (p *parser) parseAuthority(u *Uri) error {
	rest := p.rest()
	end := len(rest)
	for i, c := range []byte(rest) {
		if c == '/' || c == '?' || c == '#' {
			end = i
			break
		}
	}
	authority := rest[:end]
	p.pos += end

	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		u.Userinfo = authority[:at]
		authority = authority[at+1:]
	}

	if strings.HasPrefix(authority, "[") {
		closeIdx := strings.IndexByte(authority, ']')
		if closeIdx < 0 {
			return errdef.New(errdef.CodeMalformedURI, "unterminated IPv6 literal in authority %q", rest[:end])
		}
		u.Host = authority[:closeIdx+1]
		remainder := authority[closeIdx+1:]
		return p.parsePort(u, remainder)
	}

	if colon := strings.LastIndexByte(authority, ':'); colon >= 0 {
		u.Host = authority[:colon]
		return p.parsePort(u, authority[colon:])
	}

	u.Host = authority
	return nil
}

func (p *parser) parsePort(u *Uri, remainder string) error {
	if remainder == "" {
		return nil
	}
	if remainder[0] != ':' {
		return errdef.New(errdef.CodeMalformedURI, "malformed authority suffix %q", remainder)
	}
	portStr := remainder[1:]
	if portStr == "" {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return errdef.New(errdef.CodeMalformedURI, "invalid port %q", portStr)
	}
	u.HasPort = true
	u.Port = port
	return nil
}

func (p *parser) parsePath(u *Uri) error {
	rest := p.rest()
	end := len(rest)
	for i, c := range []byte(rest) {
		if c == '?' || c == '#' {
			end = i
			break
		}
	}
	pathStr := rest[:end]
	p.pos += end

	if pathStr == "" {
		return nil
	}
	trimmed := strings.TrimPrefix(pathStr, "/")
	if trimmed == "" {
		return nil
	}
	for _, part := range strings.Split(trimmed, "/") {
		u.PathParts = append(u.PathParts, PercentDecode(part))
	}
	return nil
}

func parseQuery(raw string) []Param {
	if raw == "" {
		return nil
	}
	pairs := strings.Split(raw, "&")
	out := make([]Param, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			out = append(out, Param{Key: PercentDecode(pair[:eq]), Value: PercentDecode(pair[eq+1:])})
		} else {
			out = append(out, Param{Key: PercentDecode(pair), Value: ""})
		}
	}
	return out
}

func indexAny(s, chars string) int {
	return strings.IndexAny(s, chars)
}
