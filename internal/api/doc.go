// Package api implements the HTTP REST API and WebSocket stream of the
// gateway.
//
// Operators log in with the configured admin account and call, under
// /api/v1:
//   - controller CRUD and credential validation
//   - session open, close, state and HTTPS upgrade
//   - device status
//   - event monitoring start and stop
//   - door control and door status
//
// Device failures map to HTTP status codes: no session is 409, rejected
// controller credentials are 401 with code device_unauthorised, and
// unreachable or failing controllers are 502. Messages come from
// isapi.Describe so they can be shown to operators as-is.
//
// The WebSocket hub streams controller events and session state changes.
// Connections authenticate with single-use tickets so access tokens never
// appear in URLs.
package api
