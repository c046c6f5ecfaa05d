package isapi

import (
	"crypto/md5" //nolint:gosec // RFC 2617 mandates MD5
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBadChallenge is returned for a WWW-Authenticate header that is not a
// usable Digest challenge.
var ErrBadChallenge = errors.New("isapi: unusable digest challenge")

// Challenge holds the parameters of a WWW-Authenticate: Digest header.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string // "MD5" or "MD5-sess"; empty means MD5
	QOP       string // "auth" or empty for RFC 2069 servers
	Stale     bool
}

// FindDigestChallenge picks the Digest challenge out of the
// WWW-Authenticate header values of a 401 response. ok is false when the
// device only offered other schemes.
func FindDigestChallenge(values []string) (ch Challenge, ok bool, err error) {
	for _, v := range values {
		if scheme, _, _ := strings.Cut(strings.TrimSpace(v), " "); strings.EqualFold(scheme, "Digest") {
			ch, err = ParseChallenge(v)
			return ch, err == nil, err
		}
	}
	return Challenge{}, false, nil
}

// ParseChallenge parses `Digest realm="X", nonce="Y", qop="auth"`.
// Quoted values may contain commas and escaped quotes.
func ParseChallenge(header string) (Challenge, error) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	if !strings.EqualFold(scheme, "Digest") {
		return Challenge{}, fmt.Errorf("%w: scheme %q", ErrBadChallenge, scheme)
	}

	params, err := parseAuthParams(rest)
	if err != nil {
		return Challenge{}, err
	}

	ch := Challenge{
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		Opaque:    params["opaque"],
		Algorithm: params["algorithm"],
		Stale:     strings.EqualFold(params["stale"], "true"),
	}
	if ch.Nonce == "" {
		return Challenge{}, fmt.Errorf("%w: missing nonce", ErrBadChallenge)
	}
	if ch.Algorithm != "" && !strings.EqualFold(ch.Algorithm, "MD5") && !strings.EqualFold(ch.Algorithm, "MD5-sess") {
		return Challenge{}, fmt.Errorf("%w: algorithm %q", ErrBadChallenge, ch.Algorithm)
	}

	if qop, ok := params["qop"]; ok {
		for _, q := range strings.Split(qop, ",") {
			if strings.TrimSpace(q) == "auth" {
				ch.QOP = "auth"
			}
		}
		// auth-int alone would need the request body hashed; no controller does this.
		if ch.QOP == "" {
			return Challenge{}, fmt.Errorf("%w: qop %q", ErrBadChallenge, qop)
		}
	}
	return ch, nil
}

// parseAuthParams splits a comma-separated list of key=value pairs where
// values may be quoted strings.
func parseAuthParams(s string) (map[string]string, error) {
	params := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == ',' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: parameter without value near %q", ErrBadChallenge, s[i:])
		}
		key := strings.ToLower(strings.TrimSpace(s[i : i+eq]))
		i += eq + 1
		for i < len(s) && s[i] == ' ' {
			i++
		}

		var val strings.Builder
		if i < len(s) && s[i] == '"' {
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					val.WriteByte(s[i+1])
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				val.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quoted value for %s", ErrBadChallenge, key)
			}
		} else {
			for i < len(s) && s[i] != ',' {
				val.WriteByte(s[i])
				i++
			}
		}
		params[key] = strings.TrimSpace(val.String())
	}
	return params, nil
}

// DigestAuthorization computes the Authorization header value for one
// request per RFC 2617. It has no side effects; nc and cnonce are chosen
// by the caller.
func DigestAuthorization(method, uri, username, password string, ch Challenge, nc uint32, cnonce string) string {
	ha1 := md5hex(username + ":" + ch.Realm + ":" + password)
	if strings.EqualFold(ch.Algorithm, "MD5-sess") {
		ha1 = md5hex(ha1 + ":" + ch.Nonce + ":" + cnonce)
	}
	ha2 := md5hex(method + ":" + uri)

	ncValue := fmt.Sprintf("%08x", nc)
	var response string
	if ch.QOP == "" {
		response = md5hex(ha1 + ":" + ch.Nonce + ":" + ha2)
	} else {
		response = md5hex(ha1 + ":" + ch.Nonce + ":" + ncValue + ":" + cnonce + ":" + ch.QOP + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s"`,
		quoteEscape(username), quoteEscape(ch.Realm), quoteEscape(ch.Nonce), quoteEscape(uri))
	if ch.Algorithm != "" {
		fmt.Fprintf(&b, ", algorithm=%s", ch.Algorithm)
	}
	if ch.QOP != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, ch.QOP, ncValue, quoteEscape(cnonce))
	}
	fmt.Fprintf(&b, `, response="%s"`, response)
	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, quoteEscape(ch.Opaque))
	}
	return b.String()
}

// NewCnonce returns a random client nonce.
func NewCnonce() string {
	b := make([]byte, 8)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // RFC 2617
	return hex.EncodeToString(sum[:])
}

func quoteEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
