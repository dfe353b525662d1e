package httpengine

import (
	"encoding/base64"
	"strings"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/uri"
)

// URLEscape percent-encodes every byte of s outside RFC 3986's unreserved
// set, hex uppercase (spec.md §4.7). It shares its byte classification
// with uri.PercentEncode so both codecs and URI serialization agree on
// what counts as "safe".
func URLEscape(s string) string { return uri.PercentEncode(s) }

// URLUnescape reverses URLEscape: URLUnescape(URLEscape(s)) == s for any
// s (spec.md §8 invariant 2). Every well-formed "%HH" in its input is
// decoded, whether or not URLEscape produced it.
func URLUnescape(s string) string { return uri.PercentDecode(s) }

// Base64Encode encodes s with the standard alphabet and "=" padding,
// empty input mapping to empty output (spec.md §4.7).
func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Base64Decode accepts both padded and unpadded standard-alphabet input.
// Non-alphabet characters fail with errdef.CodeBadContentEncoding.
func Base64Decode(s string) (string, error) {
	enc := base64.StdEncoding
	if !strings.HasSuffix(s, "=") {
		enc = base64.RawStdEncoding
	}
	out, err := enc.DecodeString(s)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeBadContentEncoding, err, "base64 decode")
	}
	return string(out), nil
}
