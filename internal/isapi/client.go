package isapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// maxResponseSize caps how much of a device response is read.
const maxResponseSize = 4 << 20

// Client is an authenticated connection to one controller. Scheme, port
// and auth mode are fixed for its lifetime; re-authentication produces a
// new Client. Safe for concurrent use.
type Client struct {
	transport *Transport
	endpoint  Endpoint
	mode      AuthMode

	mu        sync.Mutex
	challenge Challenge
	nc        uint32
	token     string
}

func newClient(t *Transport, ep Endpoint, mode AuthMode, ch Challenge) *Client {
	return &Client{transport: t, endpoint: ep, mode: mode, challenge: ch}
}

// Scheme returns the negotiated scheme.
func (c *Client) Scheme() Scheme { return c.transport.Scheme }

// Port returns the negotiated port.
func (c *Client) Port() int { return c.transport.Port }

// AuthMode returns the negotiated credential scheme.
func (c *Client) AuthMode() AuthMode { return c.mode }

// BaseURL returns scheme://host:port.
func (c *Client) BaseURL() string { return c.transport.BaseURL.String() }

// Endpoint returns the endpoint this client was negotiated for.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Token returns the session token, or "" when the device does not issue one.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Close releases idle connections.
func (c *Client) Close() {
	c.transport.Close()
}

// Do sends a JSON request and decodes a JSON response into out (when
// non-nil). Non-2xx responses return *DeviceError; failures below HTTP
// return *TransportError. A 401 carrying a fresh Digest nonce is retried
// once with the new challenge.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
	}

	resp, err := c.send(ctx, method, path, payload, c.authorizer())
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized && c.mode == AuthDigest && c.Token() == "" {
		ch, ok, _ := FindDigestChallenge(resp.header.Values("WWW-Authenticate"))
		if ok {
			c.mu.Lock()
			renewed := ch.Nonce != c.challenge.Nonce
			if renewed {
				c.challenge = ch
				c.nc = 0
			}
			c.mu.Unlock()
			if renewed || ch.Stale {
				resp, err = c.send(ctx, method, path, payload, c.authorizer())
				if err != nil {
					return err
				}
			}
		}
	}

	if resp.status < 200 || resp.status > 299 {
		return newDeviceError(method, path, resp.status, resp.body)
	}
	if out != nil && len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// authorizeFunc sets the Authorization header on a prepared request.
type authorizeFunc func(req *http.Request)

func (c *Client) authorizer() authorizeFunc {
	return func(req *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
			return
		}
		switch c.mode {
		case AuthDigest:
			c.nc++
			req.Header.Set("Authorization", DigestAuthorization(
				req.Method, req.URL.RequestURI(),
				c.endpoint.Username, c.endpoint.Password,
				c.challenge, c.nc, NewCnonce()))
		default:
			req.SetBasicAuth(c.endpoint.Username, c.endpoint.Password)
		}
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// send performs one round trip. HTTP status is never turned into an error
// here; only transport failures are.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, authorize authorizeFunc) (*response, error) {
	op := method + " " + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.transport.URL(path), reader)
	if err != nil {
		return nil, &TransportError{Op: op, Reason: ReasonInvalidAddress, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize != nil {
		authorize(req)
	}

	resp, err := c.transport.HTTP.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}
