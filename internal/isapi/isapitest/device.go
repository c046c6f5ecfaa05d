// Package isapitest provides an in-process fake access controller that
// speaks enough of the ISAPI surface to exercise sessions, event polling
// and door commands in tests.
package isapitest

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// Config controls the fake controller's behaviour.
type Config struct {
	Username string
	Password string

	// Digest makes the device require Digest auth and challenge Basic.
	Digest bool
	Realm  string

	// TLS serves HTTPS with a self-signed certificate.
	TLS bool

	// Capabilities flags reported on the capability probe.
	SupportHTTPS      bool
	SupportToken      bool
	SupportEncryption bool

	// Doors known to the device; defaults to "1" and "2".
	Doors []string

	// SubscribeDelay holds each subscribe response back.
	SubscribeDelay time.Duration
}

// Device is a running fake controller.
type Device struct {
	cfg    Config
	server *httptest.Server

	mu          sync.Mutex
	password    string
	nonce       int
	token       string
	tokenSeq    int
	subSeq      int
	subs        map[string][]string
	subscribes  []SubscribeRequest
	queued      []map[string]any
	failPolls   int
	failStatus  int
	doors       map[string]string
	lastCommand DoorCommand
	calls       map[string]int
	httpsSet    bool
}

// SubscribeRequest is a recorded POST /ISAPI/Event/Subscribe body.
type SubscribeRequest struct {
	EventTypes []string       `json:"eventTypes"`
	Metadata   map[string]any `json:"metadata"`
}

// DoorCommand is a recorded door control body.
type DoorCommand struct {
	DoorID   string
	Cmd      string
	Operator string
}

// New starts a fake controller. Call Close when done.
func New(cfg Config) *Device {
	if cfg.Realm == "" {
		cfg.Realm = "IP Camera(FAKE01)"
	}
	if len(cfg.Doors) == 0 {
		cfg.Doors = []string{"1", "2"}
	}
	d := &Device{
		cfg:      cfg,
		password: cfg.Password,
		subs:     make(map[string][]string),
		doors:    make(map[string]string),
		calls:    make(map[string]int),
	}
	for _, id := range cfg.Doors {
		d.doors[id] = "locked"
	}
	if cfg.TLS {
		d.server = httptest.NewTLSServer(http.HandlerFunc(d.serve))
	} else {
		d.server = httptest.NewServer(http.HandlerFunc(d.serve))
	}
	return d
}

// Close shuts the device down; later requests are refused.
func (d *Device) Close() {
	d.server.Close()
}

// Endpoint returns an endpoint addressing this device with its credentials.
func (d *Device) Endpoint(id string) isapi.Endpoint {
	host, portStr, _ := net.SplitHostPort(d.server.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ep := isapi.Endpoint{
		ID:       id,
		Host:     host,
		Username: d.cfg.Username,
		Password: d.cfg.Password,
	}
	if d.cfg.TLS {
		ep.HTTPSPort = port
		ep.PreferHTTPS = true
		// Nothing listens on port 1; the plain HTTP probe is refused.
		ep.Port = 1
	} else {
		ep.Port = port
	}
	return ep
}

// SetPassword changes the accepted password and revokes any token.
func (d *Device) SetPassword(p string) {
	d.mu.Lock()
	d.password = p
	d.token = ""
	d.mu.Unlock()
}

// RevokeToken forgets the issued session token; bearer requests get 401.
func (d *Device) RevokeToken() {
	d.mu.Lock()
	d.token = ""
	d.mu.Unlock()
}

// RotateNonce invalidates the current Digest nonce.
func (d *Device) RotateNonce() {
	d.mu.Lock()
	d.nonce++
	d.mu.Unlock()
}

// QueueEvents makes the next successful poll return events.
func (d *Device) QueueEvents(events ...map[string]any) {
	d.mu.Lock()
	d.queued = append(d.queued, events...)
	d.mu.Unlock()
}

// FailNextPolls makes the next n polls answer 500 and forget the subscription.
func (d *Device) FailNextPolls(n int) {
	d.mu.Lock()
	d.failPolls = n
	d.mu.Unlock()
}

// FailNextStatus makes the next n status requests answer 503.
func (d *Device) FailNextStatus(n int) {
	d.mu.Lock()
	d.failStatus = n
	d.mu.Unlock()
}

// Calls returns how many requests hit method and path (query excluded).
func (d *Device) Calls(method, path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method+" "+path]
}

// Subscribes returns every subscribe request received, in order.
func (d *Device) Subscribes() []SubscribeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SubscribeRequest(nil), d.subscribes...)
}

// DoorState returns the device-side state of a door.
func (d *Device) DoorState(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doors[id]
}

// LastDoorCommand returns the most recent door control request.
func (d *Device) LastDoorCommand() DoorCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCommand
}

// HTTPSEnabled reports whether an HTTPS upgrade was requested.
func (d *Device) HTTPSEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.httpsSet
}

func (d *Device) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.calls[r.Method+" "+r.URL.Path]++
	d.mu.Unlock()

	if !d.authorized(w, r) {
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/ISAPI/System/capabilities":
		writeJSON(w, http.StatusOK, map[string]any{
			"isSupportHTTPS":        d.cfg.SupportHTTPS,
			"isSupportToken":        d.cfg.SupportToken,
			"isSupportEncryption":   d.cfg.SupportEncryption,
			"isSupportEventMonitor": true,
		})
	case r.Method == http.MethodGet && path == "/ISAPI/System/status":
		d.handleStatus(w)
	case r.Method == http.MethodPut && path == "/ISAPI/System/security":
		d.mu.Lock()
		d.httpsSet = true
		d.mu.Unlock()
		writeOK(w)
	case r.Method == http.MethodPost && path == "/ISAPI/Security/token":
		d.handleToken(w)
	case r.Method == http.MethodPost && path == "/ISAPI/Security/token/renew":
		d.mu.Lock()
		tok := d.token
		d.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"token": tok})
	case r.Method == http.MethodPost && path == "/ISAPI/Event/Subscribe":
		d.handleSubscribe(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/ISAPI/Event/Poll/"):
		d.handlePoll(w, strings.TrimPrefix(path, "/ISAPI/Event/Poll/"))
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/ISAPI/Event/Heartbeat/"):
		d.mu.Lock()
		_, ok := d.subs[strings.TrimPrefix(path, "/ISAPI/Event/Heartbeat/")]
		d.mu.Unlock()
		if !ok {
			writeStatus(w, http.StatusNotFound, "Invalid Operation", "notExist")
			return
		}
		writeOK(w)
	case r.Method == http.MethodPut && strings.HasPrefix(path, "/ISAPI/AccessControl/DoorControl/"):
		d.handleDoorControl(w, r, strings.TrimPrefix(path, "/ISAPI/AccessControl/DoorControl/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/ISAPI/AccessControl/DoorStatus/"):
		d.handleDoorStatus(w, strings.TrimPrefix(path, "/ISAPI/AccessControl/DoorStatus/"))
	default:
		writeStatus(w, http.StatusNotFound, "Invalid Operation", "notSupport")
	}
}

func (d *Device) authorized(w http.ResponseWriter, r *http.Request) bool {
	d.mu.Lock()
	password := d.password
	token := d.token
	nonce := d.currentNonce()
	d.mu.Unlock()

	auth := r.Header.Get("Authorization")
	if token != "" && auth == "Bearer "+token {
		return true
	}

	if !d.cfg.Digest {
		user, pass, ok := r.BasicAuth()
		if ok && user == d.cfg.Username && subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1 {
			return true
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, d.cfg.Realm))
		writeStatus(w, http.StatusUnauthorized, "Unauthorized", "badAuthorization")
		return false
	}

	stale := false
	if params, ok := parseDigestHeader(auth); ok {
		ch := isapi.Challenge{Realm: d.cfg.Realm, Nonce: params["nonce"], QOP: params["qop"]}
		nc, _ := strconv.ParseUint(params["nc"], 16, 32)
		want := isapi.DigestAuthorization(r.Method, params["uri"], d.cfg.Username, password, ch, uint32(nc), params["cnonce"])
		wantParams, _ := parseDigestHeader(want)
		if params["username"] == d.cfg.Username && params["uri"] == r.URL.RequestURI() &&
			params["response"] == wantParams["response"] {
			if params["nonce"] == nonce {
				return true
			}
			stale = true
		}
	}

	challenge := fmt.Sprintf(`Digest realm="%s", nonce="%s", qop="auth"`, d.cfg.Realm, nonce)
	if stale {
		challenge += ", stale=true"
	}
	w.Header().Add("WWW-Authenticate", challenge)
	writeStatus(w, http.StatusUnauthorized, "Unauthorized", "badAuthorization")
	return false
}

func (d *Device) currentNonce() string {
	return fmt.Sprintf("nonce-%04d", d.nonce)
}

func parseDigestHeader(h string) (map[string]string, bool) {
	scheme, rest, ok := strings.Cut(h, " ")
	if !ok || scheme != "Digest" {
		return nil, false
	}
	params := make(map[string]string)
	for _, part := range strings.Split(rest, ", ") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		params[k] = strings.Trim(v, `"`)
	}
	return params, true
}

func (d *Device) handleStatus(w http.ResponseWriter) {
	d.mu.Lock()
	fail := d.failStatus > 0
	if fail {
		d.failStatus--
	}
	d.mu.Unlock()
	if fail {
		writeStatus(w, http.StatusServiceUnavailable, "Device Busy", "deviceBusy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"CPUUsage":    12,
		"MemoryUsage": "41.5",
		"DeviceTime":  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
	})
}

func (d *Device) handleToken(w http.ResponseWriter) {
	if !d.cfg.SupportToken {
		writeStatus(w, http.StatusNotFound, "Invalid Operation", "notSupport")
		return
	}
	d.mu.Lock()
	d.tokenSeq++
	d.token = fmt.Sprintf("tok-%d", d.tokenSeq)
	tok := d.token
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (d *Device) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if d.cfg.SubscribeDelay > 0 {
		time.Sleep(d.cfg.SubscribeDelay)
	}
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.EventTypes) == 0 {
		writeStatus(w, http.StatusBadRequest, "Invalid Content", "badJsonContent")
		return
	}
	d.mu.Lock()
	d.subSeq++
	id := fmt.Sprintf("sub-%d", d.subSeq)
	d.subs[id] = req.EventTypes
	d.subscribes = append(d.subscribes, req)
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"subscriptionId": id})
}

func (d *Device) handlePoll(w http.ResponseWriter, id string) {
	d.mu.Lock()
	if d.failPolls > 0 {
		d.failPolls--
		delete(d.subs, id)
		d.mu.Unlock()
		writeStatus(w, http.StatusInternalServerError, "Device Error", "pollFailed")
		return
	}
	types, ok := d.subs[id]
	if !ok {
		d.mu.Unlock()
		writeStatus(w, http.StatusNotFound, "Invalid Operation", "notExist")
		return
	}
	var out, keep []map[string]any
	for _, ev := range d.queued {
		if matches(types, ev["type"]) {
			out = append(out, ev)
		} else {
			keep = append(keep, ev)
		}
	}
	d.queued = keep
	d.mu.Unlock()

	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func matches(types []string, t any) bool {
	s, _ := t.(string)
	for _, want := range types {
		if want == s || want == "all" {
			return true
		}
	}
	return false
}

var doorStates = map[string]string{
	"lock":        "locked",
	"unlock":      "unlocked",
	"alwaysOpen":  "alwaysOpen",
	"alwaysClose": "alwaysClose",
}

func (d *Device) handleDoorControl(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		DoorControl struct {
			Cmd      string `json:"cmd"`
			Operator string `json:"operator"`
		} `json:"doorControl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid Content", "badJsonContent")
		return
	}
	state, ok := doorStates[body.DoorControl.Cmd]
	if !ok {
		writeStatus(w, http.StatusBadRequest, "Invalid Content", "badParameters")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.doors[id]; !known {
		writeStatus(w, http.StatusNotFound, "Invalid Operation", "doorNotExist")
		return
	}
	d.doors[id] = state
	d.lastCommand = DoorCommand{DoorID: id, Cmd: body.DoorControl.Cmd, Operator: body.DoorControl.Operator}
	writeOK(w)
}

func (d *Device) handleDoorStatus(w http.ResponseWriter, id string) {
	d.mu.Lock()
	state, ok := d.doors[id]
	d.mu.Unlock()
	if !ok {
		writeStatus(w, http.StatusNotFound, "Invalid Operation", "doorNotExist")
		return
	}
	magnetic := "closed"
	if state == "unlocked" || state == "alwaysOpen" {
		magnetic = "open"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doorStatus": map[string]any{
			"doorID":         id,
			"doorState":      state,
			"magneticStatus": magnetic,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"statusCode": 1, "statusString": "OK", "subStatusCode": "ok"})
}

func writeStatus(w http.ResponseWriter, status int, statusString, sub string) {
	writeJSON(w, status, map[string]any{
		"statusCode":    4,
		"statusString":  statusString,
		"subStatusCode": sub,
	})
}
