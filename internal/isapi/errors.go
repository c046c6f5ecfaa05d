package isapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// Sentinels matched through the typed errors below with errors.Is.
var (
	// ErrUnauthorized means the controller rejected the credentials.
	ErrUnauthorized = errors.New("isapi: unauthorized")

	// ErrUnreachable means no usable response came back from the controller.
	ErrUnreachable = errors.New("isapi: controller unreachable")

	// ErrNoSession means the operation needs an Online session that does not exist.
	ErrNoSession = errors.New("isapi: no online session")

	// ErrInvalidEndpoint is returned when host or port cannot form a base address.
	ErrInvalidEndpoint = errors.New("isapi: invalid endpoint")
)

// TransportReason narrows a transport failure.
type TransportReason string

// Transport failure reasons.
const (
	ReasonTimeout            TransportReason = "timeout"
	ReasonConnectionRefused  TransportReason = "connection_refused"
	ReasonDNS                TransportReason = "dns"
	ReasonHostUnreachable    TransportReason = "host_unreachable"
	ReasonNetworkUnreachable TransportReason = "network_unreachable"
	ReasonCanceled           TransportReason = "canceled"
	ReasonInvalidAddress     TransportReason = "invalid_address"
	ReasonNetwork            TransportReason = "network"
)

// TransportError is a DNS, connect, TLS or timeout failure below HTTP.
type TransportError struct {
	Op     string
	Reason TransportReason
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("isapi: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("isapi: %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports a transport failure as ErrUnreachable, and a bad address as
// ErrInvalidEndpoint.
func (e *TransportError) Is(target error) bool {
	if e.Reason == ReasonInvalidAddress {
		return target == ErrInvalidEndpoint
	}
	return target == ErrUnreachable
}

// Retryable is false only for addresses that can never work.
func (e *TransportError) Retryable() bool {
	return e.Reason != ReasonInvalidAddress && e.Reason != ReasonCanceled
}

// classifyTransportError maps an error returned by http.Client.Do to a
// TransportError.
func classifyTransportError(op string, err error) *TransportError {
	if err == nil {
		return nil
	}
	reason := ReasonNetwork

	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.Canceled):
		reason = ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded), os.IsTimeout(err), isTimeout(err):
		reason = ReasonTimeout
	case errors.As(err, &dnsErr):
		reason = ReasonDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		reason = ReasonConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH):
		reason = ReasonHostUnreachable
	case errors.Is(err, syscall.ENETUNREACH):
		reason = ReasonNetworkUnreachable
	case errors.As(err, &opErr):
		reason = ReasonNetwork
	}

	// Strip the *url.Error wrapper; Op already names the request.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return &TransportError{Op: op, Reason: reason, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// AuthErrorKind distinguishes wrong credentials from an absent device.
type AuthErrorKind int

// Auth failure kinds.
const (
	AuthUnauthorized AuthErrorKind = iota + 1
	AuthUnreachable
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthUnauthorized:
		return "unauthorized"
	case AuthUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("AuthErrorKind(%d)", int(k))
	}
}

// AuthError is the outcome of a failed negotiation.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "isapi: authentication failed: " + e.Kind.String()
	}
	return fmt.Sprintf("isapi: authentication failed: %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == AuthUnauthorized
	case ErrUnreachable:
		return e.Kind == AuthUnreachable
	}
	return false
}

// DeviceError is a non-2xx response. The device's own status fields are
// filled in when the body is an ISAPI ResponseStatus document.
type DeviceError struct {
	Method        string
	Path          string
	StatusCode    int
	Body          []byte
	StatusString  string
	SubStatusCode string
	ErrorMsg      string
}

func newDeviceError(method, path string, status int, body []byte) *DeviceError {
	e := &DeviceError{Method: method, Path: path, StatusCode: status, Body: body}
	var rs struct {
		StatusString  string `json:"statusString"`
		SubStatusCode string `json:"subStatusCode"`
		ErrorMsg      string `json:"errorMsg"`
	}
	if json.Unmarshal(body, &rs) == nil {
		e.StatusString = rs.StatusString
		e.SubStatusCode = rs.SubStatusCode
		e.ErrorMsg = rs.ErrorMsg
	}
	return e
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("isapi: %s %s: device returned %d", e.Method, e.Path, e.StatusCode)
	if detail := e.Message(); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Message is the device-reported reason, if any.
func (e *DeviceError) Message() string {
	switch {
	case e.ErrorMsg != "":
		return e.ErrorMsg
	case e.SubStatusCode != "" && e.StatusString != "":
		return e.StatusString + " (" + e.SubStatusCode + ")"
	default:
		return e.StatusString
	}
}

// Unauthorized reports whether the device rejected the credentials.
func (e *DeviceError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// NoSessionError is returned when a controller has no Online session.
type NoSessionError struct {
	ControllerID string
	State        string
}

func (e *NoSessionError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("isapi: no session for controller %q", e.ControllerID)
	}
	return fmt.Sprintf("isapi: session for controller %q is %s", e.ControllerID, e.State)
}

func (e *NoSessionError) Is(target error) bool { return target == ErrNoSession }

// Describe turns an error into a short operator-facing message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var (
		devErr  *DeviceError
		trErr   *TransportError
		noSess  *NoSessionError
		authErr *AuthError
	)
	switch {
	case errors.As(err, &noSess):
		return "controller is not connected"
	case errors.As(err, &authErr) && authErr.Kind == AuthUnauthorized:
		return "invalid credentials"
	case errors.As(err, &devErr):
		switch devErr.StatusCode {
		case 401, 403:
			return "invalid credentials"
		case 404:
			return "endpoint not supported by the controller"
		case 500:
			return "controller internal error"
		}
		if m := devErr.Message(); m != "" {
			return m
		}
		return fmt.Sprintf("controller returned status %d", devErr.StatusCode)
	case errors.As(err, &trErr):
		switch trErr.Reason {
		case ReasonConnectionRefused:
			return "connection refused by the controller"
		case ReasonTimeout:
			return "connection to the controller timed out"
		case ReasonDNS:
			return "controller hostname could not be resolved"
		case ReasonInvalidAddress:
			return "controller address is invalid"
		}
		return "controller is unreachable"
	case errors.Is(err, ErrUnreachable):
		return "controller is unreachable"
	}
	return "unexpected error"
}
