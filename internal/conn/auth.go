package conn

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/httpspec"
)

// Challenge is one parsed WWW-Authenticate / Proxy-Authenticate scheme
// offer (spec.md §6: "replay the request with the strongest advertised
// scheme"). No third-party HTTP-auth library appeared anywhere in the
// retrieved corpus (go-resty wires SetDigestAuth into a transport but
// ships no reusable challenge parser), so this is hand-rolled against
// RFC 7616 directly; DESIGN.md records that gap.
type Challenge struct {
	Scheme string
	Params map[string]string
}

// ParseChallenges turns each WWW-Authenticate value (as accumulated by
// header.Header, which keeps repeated header lines as multiple Values)
// into one Challenge. A single value that lists several schemes is not
// split: it yields one Challenge for its first scheme.
func ParseChallenges(values []string) []Challenge {
	var out []Challenge
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		sp := strings.IndexByte(v, ' ')
		if sp < 0 {
			out = append(out, Challenge{Scheme: strings.ToLower(v), Params: map[string]string{}})
			continue
		}
		scheme := strings.ToLower(v[:sp])
		out = append(out, Challenge{Scheme: scheme, Params: parseAuthParams(v[sp+1:])})
	}
	return out
}

func parseAuthParams(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitAuthParams(s) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		out[key] = value
	}
	return out
}

// splitAuthParams splits on top-level commas, ignoring commas inside a
// quoted value (RFC 7616's auth-param grammar allows commas in qop-lists
// and other quoted strings).
func splitAuthParams(s string) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// Strongest picks Digest over Basic when both are offered, per spec.md
// §6 ("replay ... with the strongest advertised scheme").
func Strongest(challenges []Challenge) (Challenge, bool) {
	var basic *Challenge
	for i := range challenges {
		switch challenges[i].Scheme {
		case "digest":
			return challenges[i], true
		case "basic":
			basic = &challenges[i]
		}
	}
	if basic != nil {
		return *basic, true
	}
	return Challenge{}, false
}

// BuildAuthorization renders the Authorization (or Proxy-Authorization)
// header value for challenge, given creds and the request's method and
// target path.
func BuildAuthorization(challenge Challenge, creds httpspec.Credentials, method, requestTarget string) (string, error) {
	switch challenge.Scheme {
	case "basic":
		return basicAuth(creds), nil
	case "digest":
		return digestAuth(challenge, creds, method, requestTarget)
	default:
		return "", errdef.New(errdef.CodeUnsupportedOption, "unsupported authentication scheme %q", challenge.Scheme)
	}
}

func basicAuth(creds httpspec.Credentials) string {
	token := creds.Username + ":" + creds.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

// digestAuth implements RFC 7616 for the auth/auth-int-less qop case,
// selecting MD5 or SHA-256 off the challenge's algorithm param (default
// MD5 per RFC 7616 §3.3), using a single client nonce count per challenge
// (nc=00000001). The "-sess" algorithm variants are not implemented: no
// example in the retrieved corpus exercises them, and RFC 7616 treats them
// as an optional refinement of the same digest, not a distinct scheme.
func digestAuth(challenge Challenge, creds httpspec.Credentials, method, requestTarget string) (string, error) {
	realm := challenge.Params["realm"]
	nonce := challenge.Params["nonce"]
	if nonce == "" {
		return "", errdef.New(errdef.CodeBadSetup, "digest challenge is missing a nonce")
	}
	opaque := challenge.Params["opaque"]
	qop := pickQop(challenge.Params["qop"])
	algorithm, newHash := pickDigestHash(challenge.Params["algorithm"])

	ha1 := digestHex(newHash, creds.Username+":"+realm+":"+creds.Password)
	ha2 := digestHex(newHash, method+":"+requestTarget)

	cnonce := randomHex(8)
	nc := "00000001"

	var response string
	if qop == "" {
		response = digestHex(newHash, ha1+":"+nonce+":"+ha2)
	} else {
		response = digestHex(newHash, strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=%s`,
		creds.Username, realm, nonce, requestTarget, response, algorithm)
	if qop != "" {
		fmt.Fprintf(&sb, `, qop=%s, nc=%s, cnonce="%s"`, qop, nc, cnonce)
	}
	if opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, opaque)
	}
	return sb.String(), nil
}

// pickDigestHash resolves the challenge's algorithm param to a hash
// constructor, defaulting to MD5 when the param is absent or unrecognized.
func pickDigestHash(algorithm string) (string, func() hash.Hash) {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "SHA-256":
		return "SHA-256", sha256.New
	default:
		return "MD5", md5.New
	}
}

func pickQop(offered string) string {
	for _, q := range strings.Split(offered, ",") {
		if strings.TrimSpace(q) == "auth" {
			return "auth"
		}
	}
	return ""
}

func digestHex(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the platform's entropy source
		// is broken; fall back to a fixed value rather than panic, the
		// digest exchange will still function (just with a predictable
		// cnonce for this one request).
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	return hex.EncodeToString(buf)
}

