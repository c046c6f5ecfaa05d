// Package isapi talks to access controllers over their HTTP(S) device API.
//
// A Negotiator probes a controller's Endpoint and returns a Client that has
// settled on scheme (HTTP or HTTPS), port and credential mode (Basic,
// Digest, optionally a session token). The Client sends JSON requests and
// reports failures as typed errors:
//
//   - *TransportError for DNS, connect, TLS and timeout failures
//   - *DeviceError for non-2xx responses
//   - *AuthError when negotiation fails, split into Unauthorized and Unreachable
//
// Package isapitest provides a fake controller for tests.
package isapi
