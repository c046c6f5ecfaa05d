// Package session keeps one authenticated session per access controller.
//
// Registry.Open negotiates a client through an Authenticator and starts a
// heartbeat goroutine that polls device status, renews session tokens and
// re-authenticates when the device starts rejecting requests. Sessions move
// through Connecting, Online, ReAuthenticating and Offline; Offline is
// terminal until the next Open.
package session
