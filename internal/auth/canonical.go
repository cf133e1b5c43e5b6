package auth

import (
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// StringToSign builds the canonical message an HMAC signature covers. Which
// parts of the request participate is up to the application.
type StringToSign func(rq *Request) (string, error)

// MethodAndPath signs the request method and the decoded path, separated by
// a newline.
func MethodAndPath(rq *Request) (string, error) {
	return rq.Method + "\n" + rq.Path, nil
}

// CanonicalRequest returns a StringToSign covering the method, the encoded
// path, the sorted query string and the named headers. The header list is
// lowercased and emitted in the given order; "host" reads the request host.
func CanonicalRequest(signedHeaders ...string) StringToSign {
	names := make([]string, 0, len(signedHeaders))
	for _, h := range signedHeaders {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "" {
			continue
		}
		names = append(names, name)
	}

	return func(rq *Request) (string, error) {
		var hdrBuilder strings.Builder
		for _, name := range names {
			var value string
			if name == "host" {
				value = rq.Host
			} else {
				value = rq.Header.Get(name)
			}
			hdrBuilder.WriteString(name)
			hdrBuilder.WriteString(":")
			hdrBuilder.WriteString(canonicalHeaderValue(value))
			hdrBuilder.WriteString("\n")
		}

		var b strings.Builder
		b.WriteString(rq.Method)
		b.WriteString("\n")
		b.WriteString(uriEncode(rq.URLPath(), false))
		b.WriteString("\n")
		b.WriteString(canonicalQueryString(rq.RawQuery))
		b.WriteString("\n")
		b.WriteString(hdrBuilder.String())
		b.WriteString("\n")
		b.WriteString(strings.Join(names, ";"))

		return b.String(), nil
	}
}

// uriEncode percent-encodes everything outside the RFC 3986 unreserved set.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		// Keep existing escapes instead of double encoding them.
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(s[i+1 : i+3]))
			i += 2
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func canonicalQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return uriEncode(rawQuery, true)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, uriEncode(k, true)+"="+uriEncode(v, true))
		}
	}

	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
