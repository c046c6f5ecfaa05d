package isapi

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Transport is an HTTP client bound to one controller address and scheme.
// It carries no credentials; a Client layers authentication on top.
type Transport struct {
	BaseURL *url.URL
	Scheme  Scheme
	Port    int
	HTTP    *http.Client
}

// NewTransport builds a Transport for ep over scheme on port. HTTPS skips
// certificate verification because controllers ship self-signed
// certificates. A zero timeout means DefaultTimeout.
func NewTransport(ep Endpoint, scheme Scheme, port int, timeout time.Duration) (*Transport, error) {
	op := "build transport"
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		return nil, &TransportError{Op: op, Reason: ReasonInvalidAddress,
			Err: fmt.Errorf("unsupported scheme %q", scheme)}
	}
	host, err := validateHost(ep.Host)
	if err != nil {
		return nil, &TransportError{Op: op, Reason: ReasonInvalidAddress, Err: err}
	}
	if port < 1 || port > 65535 {
		return nil, &TransportError{Op: op, Reason: ReasonInvalidAddress,
			Err: fmt.Errorf("port %d out of range", port)}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := &url.URL{
		Scheme: string(scheme),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}

	rt := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if scheme == SchemeHTTPS {
		rt.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // controllers use self-signed certificates
			MinVersion:         tls.VersionTLS12,
		}
	}

	return &Transport{
		BaseURL: base,
		Scheme:  scheme,
		Port:    port,
		HTTP: &http.Client{
			Transport: rt,
			Timeout:   timeout,
			// Redirects would carry credentials to another host.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// URL resolves an ISAPI path (which may include a query) against the base.
func (t *Transport) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return t.BaseURL.String() + path
	}
	return t.BaseURL.ResolveReference(ref).String()
}

// Close drops idle connections.
func (t *Transport) Close() {
	t.HTTP.CloseIdleConnections()
}

// ValidateHost reports whether host can address a controller.
func ValidateHost(host string) error {
	_, err := validateHost(host)
	return err
}

// validateHost accepts IP literals (IPv6 optionally bracketed) and DNS
// names, returning the host without brackets. Dotted numeric strings must
// be valid IPv4 addresses so "10.0.0.300" is rejected rather than sent to
// the resolver.
func validateHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if ip := net.ParseIP(h); ip != nil {
		return h, nil
	}
	if strings.ContainsAny(h, ":/?#@%[] \t") {
		return "", fmt.Errorf("malformed host %q", host)
	}
	if strings.Trim(h, "0123456789.") == "" {
		return "", fmt.Errorf("malformed IP address %q", host)
	}
	if len(h) > 253 { //nolint:mnd // RFC 1035 name length
		return "", fmt.Errorf("host name too long")
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' { //nolint:mnd // RFC 1035 label length
			return "", fmt.Errorf("malformed host %q", host)
		}
		for _, r := range label {
			if r != '-' && r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
				return "", fmt.Errorf("malformed host %q", host)
			}
		}
	}
	return h, nil
}
