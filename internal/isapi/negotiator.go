package isapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Logger defines the logging interface used by the negotiator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NegotiatorConfig tunes authentication.
type NegotiatorConfig struct {
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// AutoHTTPSUpgrade enables HTTPS on controllers that were reached over
	// plain HTTP but report HTTPS support.
	AutoHTTPSUpgrade bool
}

// Negotiator turns an Endpoint into an authenticated Client by probing
// scheme and credential mode.
type Negotiator struct {
	cfg    NegotiatorConfig
	logger Logger
}

// NewNegotiator creates a Negotiator.
func NewNegotiator(cfg NegotiatorConfig) *Negotiator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Negotiator{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for negotiation diagnostics.
func (n *Negotiator) SetLogger(logger Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// Timeout returns the per-request timeout.
func (n *Negotiator) Timeout() time.Duration { return n.cfg.Timeout }

type probeResult struct {
	client *Client
	caps   *Capabilities
	err    error
}

// Authenticate probes the controller and returns a working client plus its
// capabilities.
//
// With PreferHTTPS the HTTPS probe runs first and is kept when the device
// reports HTTPS support. Credentials only go over plain HTTP when that probe
// fails or the device says HTTPS is unsupported. A working HTTPS client
// without the flag is kept only if HTTP then fails. Failures return
// *AuthError: Unauthorized if any probe was rejected for credentials,
// Unreachable otherwise.
func (n *Negotiator) Authenticate(ctx context.Context, ep Endpoint) (*Client, *Capabilities, error) {
	var httpsRes *probeResult
	if ep.PreferHTTPS {
		c, caps, err := n.probe(ctx, ep, SchemeHTTPS)
		if err == nil && caps.SupportHTTPS {
			return n.finish(ctx, c, caps)
		}
		if err != nil {
			n.logger.Debug("https probe failed", "controller_id", ep.ID, "error", err)
		}
		httpsRes = &probeResult{c, caps, err}
	}

	c, caps, err := n.probe(ctx, ep, SchemeHTTP)
	if err == nil {
		if httpsRes != nil && httpsRes.client != nil {
			httpsRes.client.Close()
		}
		if n.cfg.AutoHTTPSUpgrade && caps.SupportHTTPS {
			up, upCaps, upErr := n.UpgradeToHTTPS(ctx, c)
			if upErr == nil {
				c.Close()
				return up, upCaps, nil
			}
			n.logger.Warn("https upgrade failed, staying on http", "controller_id", ep.ID, "error", upErr)
		}
		return n.finish(ctx, c, caps)
	}

	if httpsRes != nil && httpsRes.err == nil {
		return n.finish(ctx, httpsRes.client, httpsRes.caps)
	}

	return nil, nil, authFailure(httpsRes, probeResult{err: err})
}

func authFailure(httpsRes *probeResult, httpRes probeResult) *AuthError {
	errs := []error{httpRes.err}
	if httpsRes != nil {
		errs = append(errs, httpsRes.err)
	}
	for _, err := range errs {
		if isCredentialRejection(err) {
			return &AuthError{Kind: AuthUnauthorized, Err: err}
		}
	}
	return &AuthError{Kind: AuthUnreachable, Err: httpRes.err}
}

func isCredentialRejection(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Unauthorized()
}

// probe fetches the capability document over one scheme, first with Basic
// credentials and, on a Digest challenge, once more with Digest.
func (n *Negotiator) probe(ctx context.Context, ep Endpoint, scheme Scheme) (*Client, *Capabilities, error) {
	t, err := NewTransport(ep, scheme, ep.PortFor(scheme), n.cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}

	c := newClient(t, ep, AuthBasic, Challenge{})
	resp, err := c.send(ctx, http.MethodGet, PathCapabilities, nil, c.authorizer())
	if err != nil {
		t.Close()
		return nil, nil, err
	}

	if resp.status == http.StatusUnauthorized {
		ch, ok, perr := FindDigestChallenge(resp.header.Values("WWW-Authenticate"))
		if perr != nil {
			n.logger.Warn("unusable digest challenge", "controller_id", ep.ID, "error", perr)
		}
		if ok {
			c = newClient(t, ep, AuthDigest, ch)
			resp, err = c.send(ctx, http.MethodGet, PathCapabilities, nil, c.authorizer())
			if err != nil {
				t.Close()
				return nil, nil, err
			}
		}
	}

	if resp.status < 200 || resp.status > 299 {
		t.Close()
		return nil, nil, newDeviceError(http.MethodGet, PathCapabilities, resp.status, resp.body)
	}

	caps, err := ParseCapabilities(resp.body)
	if err != nil {
		// Older firmware answers in XML; the session still works.
		n.logger.Debug("capabilities not JSON", "controller_id", ep.ID, "error", err)
		caps = &Capabilities{Raw: resp.body}
	}

	n.logger.Debug("probe succeeded",
		"controller_id", ep.ID, "scheme", scheme, "auth_mode", c.mode)
	return c, caps, nil
}

// finish logs in for a session token when the device issues them. A failed
// token login keeps the already working Basic/Digest mode.
func (n *Negotiator) finish(ctx context.Context, c *Client, caps *Capabilities) (*Client, *Capabilities, error) {
	if caps.SupportToken {
		if err := n.login(ctx, c); err != nil {
			n.logger.Warn("token login failed, using "+string(c.mode)+" auth",
				"controller_id", c.endpoint.ID, "error", err)
		}
	}
	return c, caps, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (n *Negotiator) login(ctx context.Context, c *Client) error {
	var resp tokenResponse
	err := c.Do(ctx, http.MethodPost, PathToken, map[string]string{
		"username": c.endpoint.Username,
		"password": c.endpoint.Password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("token login: empty token in response")
	}
	c.setToken(resp.Token)
	return nil
}

// RenewToken extends the session token. The device may rotate it.
func (n *Negotiator) RenewToken(ctx context.Context, c *Client) error {
	tok := c.Token()
	if tok == "" {
		return nil
	}
	var resp tokenResponse
	if err := c.Do(ctx, http.MethodPost, PathTokenRenew, map[string]string{"token": tok}, &resp); err != nil {
		return fmt.Errorf("renewing token: %w", err)
	}
	if resp.Token != "" {
		c.setToken(resp.Token)
	}
	return nil
}

// UpgradeToHTTPS asks a controller reached over HTTP to enable HTTPS and
// returns a new client negotiated over HTTPS. The old client is left open
// for the caller to close.
func (n *Negotiator) UpgradeToHTTPS(ctx context.Context, c *Client) (*Client, *Capabilities, error) {
	if c.Scheme() == SchemeHTTPS {
		return nil, nil, fmt.Errorf("controller %s already uses https", c.endpoint.ID)
	}
	if err := c.Do(ctx, http.MethodPut, PathSecurity, map[string]bool{"httpsEnabled": true}, nil); err != nil {
		return nil, nil, fmt.Errorf("enabling https: %w", err)
	}

	up, caps, err := n.probe(ctx, c.endpoint, SchemeHTTPS)
	if err != nil {
		return nil, nil, fmt.Errorf("reconnecting over https: %w", err)
	}
	n.logger.Info("controller upgraded to https", "controller_id", c.endpoint.ID)
	return n.finish(ctx, up, caps)
}
