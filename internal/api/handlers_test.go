package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/controller"
	"github.com/nerrad567/acs-gateway/internal/door"
	"github.com/nerrad567/acs-gateway/internal/events"
	"github.com/nerrad567/acs-gateway/internal/isapi/isapitest"
	"github.com/nerrad567/acs-gateway/internal/session"
)

// controllerBody renders a create request addressing dev with password.
func controllerBody(t *testing.T, dev *isapitest.Device, password string) string {
	t.Helper()
	ep := dev.Endpoint("")
	return fmt.Sprintf(`{"name":"Lobby","host":%q,"port":%d,"username":%q,"password":%q,"prefer_https":false}`,
		ep.Host, ep.Port, ep.Username, password)
}

func newDevice(t *testing.T) *isapitest.Device {
	t.Helper()
	dev := isapitest.New(isapitest.Config{Username: "admin", Password: "secret"})
	t.Cleanup(dev.Close)
	return dev
}

// registerController creates a controller for dev and returns its ID.
func (e *testEnv) registerController(t *testing.T, dev *isapitest.Device, password string) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/v1/controllers", controllerBody(t, dev, password))
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want 201; body: %s", status, body)
	}
	return decode[controller.Controller](t, body).ID
}

// connect registers dev and opens a session to it.
func (e *testEnv) connect(t *testing.T, dev *isapitest.Device) string {
	t.Helper()
	id := e.registerController(t, dev, "secret")
	status, body := e.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusOK {
		t.Fatalf("open session status = %d, want 200; body: %s", status, body)
	}
	return id
}

// ─── Controllers ───────────────────────────────────────────────────

func TestControllers_CRUD(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/controllers", "")
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if got := decode[map[string]any](t, body); got["count"] != float64(0) {
		t.Errorf("empty list count = %v, want 0", got["count"])
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/controllers",
		`{"name":"Front door","host":"192.168.1.20","username":"admin","password":"Passw0rd!"}`)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want 201; body: %s", status, body)
	}
	created := decode[map[string]any](t, body)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("created controller has no id")
	}
	if _, leaked := created["password"]; leaked {
		t.Error("password returned in response")
	}
	if created["port"] != float64(80) || created["https_port"] != float64(443) || created["status"] != "offline" {
		t.Errorf("defaults not applied: %v", created)
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/controllers/"+id, "")
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if got := decode[controller.Controller](t, body); got.Name != "Front door" {
		t.Errorf("Name = %q", got.Name)
	}

	status, body = env.do(t, http.MethodPut, "/api/v1/controllers/"+id, `{"name":"Back door","port":8080}`)
	if status != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", status, body)
	}
	stored, err := env.repo.GetByID(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "Back door" || stored.Port != 8080 || stored.Password != "Passw0rd!" {
		t.Errorf("stored after update = %+v", stored)
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/controllers/"+id, "")
	if status != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", status)
	}
	status, _ = env.do(t, http.MethodGet, "/api/v1/controllers/"+id, "")
	if status != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", status)
	}
}

func TestControllers_CreateErrors(t *testing.T) {
	env := newTestEnv(t)
	valid := `{"host":"10.0.0.5","username":"admin","password":"x"}`
	if status, _ := env.do(t, http.MethodPost, "/api/v1/controllers", valid); status != http.StatusCreated {
		t.Fatalf("seed create status = %d", status)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"invalid JSON", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"duplicate host and port", valid, http.StatusConflict, ErrCodeConflict},
		{"bad host", `{"host":"10.0.0.300","username":"admin","password":"x"}`, http.StatusBadRequest, ErrCodeValidation},
		{"missing password", `{"host":"10.0.0.6","username":"admin"}`, http.StatusBadRequest, ErrCodeValidation},
		{"port out of range", `{"host":"10.0.0.7","port":70000,"username":"admin","password":"x"}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/v1/controllers", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", status, tt.wantStatus, body)
			}
			if got := decode[Error](t, body); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestControllers_NotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		body := ""
		if method == http.MethodPut {
			body = `{"name":"x"}`
		}
		if status, _ := env.do(t, method, "/api/v1/controllers/missing", body); status != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", method, status)
		}
	}
	if status, _ := env.do(t, http.MethodPost, "/api/v1/controllers/missing/session", ""); status != http.StatusNotFound {
		t.Errorf("open session status = %d, want 404", status)
	}
}

func TestControllers_Validate(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)

	unused, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedPort := unused.Addr().(*net.TCPAddr).Port
	unused.Close()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"good credentials", controllerBody(t, dev, "secret"), true},
		{"wrong password", controllerBody(t, dev, "nope"), false},
		{"nothing listening", `{"host":"127.0.0.1","port":` + strconv.Itoa(closedPort) + `,"https_port":` + strconv.Itoa(closedPort) + `,"username":"admin","password":"x"}`, false},
		{"malformed host", `{"host":"bad host","username":"admin","password":"x"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/v1/controllers/validate", tt.body)
			if status != http.StatusOK {
				t.Fatalf("status = %d, want 200; body: %s", status, body)
			}
			if got := decode[map[string]bool](t, body); got["success"] != tt.want {
				t.Errorf("success = %v, want %v", got["success"], tt.want)
			}
		})
	}

	// Validation stores nothing.
	list, err := env.repo.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("validate stored %d controllers", len(list))
	}
}

// ─── Sessions ──────────────────────────────────────────────────────

func TestSession_OpenGetClose(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.registerController(t, dev, "secret")

	status, _ := env.do(t, http.MethodGet, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusNotFound {
		t.Errorf("session before open status = %d, want 404", status)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusOK {
		t.Fatalf("open status = %d; body: %s", status, body)
	}
	info := decode[session.Info](t, body)
	if info.ControllerID != id || info.State != session.StateOnline || info.Scheme != "http" || info.AuthMode != "basic" {
		t.Errorf("session = %+v", info)
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/sessions", "")
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if got := decode[map[string]any](t, body); got["count"] != float64(1) {
		t.Errorf("session count = %v, want 1", got["count"])
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusNoContent {
		t.Fatalf("close status = %d, want 204", status)
	}
	if _, err := env.sessions.Get(id); err == nil {
		t.Error("session still registered after close")
	}

	// Closing again is a no-op.
	if status, _ := env.do(t, http.MethodDelete, "/api/v1/controllers/"+id+"/session", ""); status != http.StatusNoContent {
		t.Errorf("second close status = %d, want 204", status)
	}
}

func TestSession_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.registerController(t, dev, "wrong")

	status, body := env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body: %s", status, body)
	}
	if got := decode[Error](t, body); got.Code != ErrCodeDeviceUnauthorized {
		t.Errorf("code = %q, want %q", got.Code, ErrCodeDeviceUnauthorized)
	}
}

func TestSession_Unreachable(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.registerController(t, dev, "secret")
	dev.Close()

	status, body := env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body: %s", status, body)
	}
	if got := decode[Error](t, body); got.Code != ErrCodeUnreachable {
		t.Errorf("code = %q, want %q", got.Code, ErrCodeUnreachable)
	}
}

func TestNoSession(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.registerController(t, dev, "secret")
	base := "/api/v1/controllers/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"device status", http.MethodGet, base + "/status", ""},
		{"start monitoring", http.MethodPost, base + "/monitoring", ""},
		{"set door", http.MethodPut, base + "/doors/1", `{"command":"unlock"}`},
		{"get door", http.MethodGet, base + "/doors/1", ""},
		{"https upgrade", http.MethodPost, base + "/session/https-upgrade", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, tt.method, tt.path, tt.body)
			if status != http.StatusConflict {
				t.Fatalf("status = %d, want 409; body: %s", status, body)
			}
			if got := decode[Error](t, body); got.Code != ErrCodeNoSession {
				t.Errorf("code = %q, want %q", got.Code, ErrCodeNoSession)
			}
		})
	}
	if n := dev.Calls(http.MethodPut, "/ISAPI/AccessControl/DoorControl/1"); n != 0 {
		t.Errorf("door command reached the device %d times without a session", n)
	}
}

func TestDeviceStatus(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.connect(t, dev)

	status, body := env.do(t, http.MethodGet, "/api/v1/controllers/"+id+"/status", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d; body: %s", status, body)
	}
	type statusResponse struct {
		ControllerID string `json:"controller_id"`
		Status       struct {
			CPUUsage    float64 `json:"cpuUsage"`
			MemoryUsage float64 `json:"memoryUsage"`
		} `json:"status"`
	}
	resp := decode[statusResponse](t, body)
	if resp.ControllerID != id || resp.Status.CPUUsage != 12 || resp.Status.MemoryUsage != 41.5 {
		t.Errorf("device status = %+v", resp)
	}

	dev.FailNextStatus(1)
	status, body = env.do(t, http.MethodGet, "/api/v1/controllers/"+id+"/status", "")
	if status != http.StatusBadGateway {
		t.Fatalf("failing status = %d, want 502; body: %s", status, body)
	}
	if got := decode[Error](t, body); got.Code != ErrCodeDeviceError {
		t.Errorf("code = %q, want %q", got.Code, ErrCodeDeviceError)
	}
}

func TestHTTPSUpgrade_AlreadyHTTPS(t *testing.T) {
	env := newTestEnv(t)
	dev := isapitest.New(isapitest.Config{Username: "admin", Password: "secret", TLS: true, SupportHTTPS: true})
	t.Cleanup(dev.Close)

	ep := dev.Endpoint("")
	body := fmt.Sprintf(`{"host":%q,"port":%d,"https_port":%d,"username":"admin","password":"secret","prefer_https":true}`,
		ep.Host, ep.Port, ep.HTTPSPort)
	status, resp := env.do(t, http.MethodPost, "/api/v1/controllers", body)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", status, resp)
	}
	id := decode[controller.Controller](t, resp).ID

	status, resp = env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/session", "")
	if status != http.StatusOK {
		t.Fatalf("open status = %d; body: %s", status, resp)
	}
	if info := decode[session.Info](t, resp); info.Scheme != "https" {
		t.Fatalf("scheme = %q, want https", info.Scheme)
	}

	status, _ = env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/session/https-upgrade", "")
	if status < 400 {
		t.Errorf("upgrade of an https session status = %d, want an error", status)
	}
}

// ─── Monitoring ────────────────────────────────────────────────────

func TestMonitoring_StartListStop(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.connect(t, dev)

	received := make(chan events.Event, 4)
	env.monitor.AddSink(events.SinkFunc(func(ev events.Event) error {
		received <- ev
		return nil
	}))

	status, body := env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/monitoring",
		`{"event_types":["AccessControllerEvent"]}`)
	if status != http.StatusOK {
		t.Fatalf("start status = %d; body: %s", status, body)
	}
	sub := decode[events.SubscriptionInfo](t, body)
	if sub.ControllerID != id || sub.SubscriptionID == "" {
		t.Errorf("subscription = %+v", sub)
	}

	dev.QueueEvents(map[string]any{"type": "AccessControllerEvent", "id": "e1"})
	select {
	case ev := <-received:
		if ev.ControllerID != id || ev.Type != "AccessControllerEvent" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/controllers/"+id+"/monitoring", "")
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if got := decode[map[string]any](t, body); got["count"] != float64(1) {
		t.Errorf("subscription count = %v, want 1", got["count"])
	}

	status, _ = env.do(t, http.MethodDelete, "/api/v1/controllers/"+id+"/monitoring", "")
	if status != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", status)
	}
	if subs := env.monitor.Subscriptions(id); len(subs) != 0 {
		t.Errorf("subscriptions after stop = %v", subs)
	}
}

func TestMonitoring_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/api/v1/controllers/c1/monitoring", `{"event_types":`)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestDeleteController_StopsMonitoring(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.connect(t, dev)

	if status, body := env.do(t, http.MethodPost, "/api/v1/controllers/"+id+"/monitoring", ""); status != http.StatusOK {
		t.Fatalf("start status = %d; body: %s", status, body)
	}

	if status, _ := env.do(t, http.MethodDelete, "/api/v1/controllers/"+id, ""); status != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", status)
	}
	if subs := env.monitor.Subscriptions(id); len(subs) != 0 {
		t.Errorf("subscriptions after delete = %v", subs)
	}
	if _, err := env.sessions.Get(id); err == nil {
		t.Error("session survived controller delete")
	}
}

// ─── Doors ─────────────────────────────────────────────────────────

func TestDoors_SetAndGet(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.connect(t, dev)
	base := "/api/v1/controllers/" + id + "/doors/1"

	status, body := env.do(t, http.MethodPut, base, `{"command":"unlock"}`)
	if status != http.StatusOK {
		t.Fatalf("set status = %d; body: %s", status, body)
	}
	resp := decode[map[string]any](t, body)
	if resp["success"] != true || resp["command"] != "unlock" || resp["door_id"] != "1" {
		t.Errorf("set response = %v", resp)
	}
	if cmd := dev.LastDoorCommand(); cmd.Cmd != "unlock" || cmd.Operator != "admin" {
		t.Errorf("device saw %+v", cmd)
	}

	status, body = env.do(t, http.MethodGet, base, "")
	if status != http.StatusOK {
		t.Fatalf("get status = %d; body: %s", status, body)
	}
	if st := decode[door.Status](t, body); st.State != "unlocked" || st.MagneticStatus != "open" {
		t.Errorf("door status = %+v", st)
	}
}

func TestDoors_Errors(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.connect(t, dev)
	base := "/api/v1/controllers/" + id + "/doors/"

	tests := []struct {
		name       string
		door       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"invalid JSON", "1", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown command", "1", `{"command":"explode"}`, http.StatusBadRequest, ErrCodeValidation},
		{"empty command", "1", `{}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown door", "9", `{"command":"lock"}`, http.StatusBadGateway, ErrCodeDeviceError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPut, base+tt.door, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", status, tt.wantStatus, body)
			}
			if got := decode[Error](t, body); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
	if got := dev.DoorState("1"); got != "locked" {
		t.Errorf("door 1 state = %q, want locked", got)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

// auditPage polls the audit endpoint until at least want entries match.
func (e *testEnv) auditPage(t *testing.T, query string, want int) audit.ListResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, body := e.do(t, http.MethodGet, "/api/v1/audit"+query, "")
		if status != http.StatusOK {
			t.Fatalf("audit status = %d; body: %s", status, body)
		}
		page := decode[audit.ListResult](t, body)
		if page.Total >= want || time.Now().After(deadline) {
			return page
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAudit_RecordsOperatorActions(t *testing.T) {
	env := newTestEnv(t)
	dev := newDevice(t)
	id := env.connect(t, dev)

	if status, body := env.do(t, http.MethodPut, "/api/v1/controllers/"+id+"/doors/1", `{"command":"unlock"}`); status != http.StatusOK {
		t.Fatalf("set door status = %d; body: %s", status, body)
	}
	if status, _ := env.do(t, http.MethodPut, "/api/v1/controllers/"+id+"/doors/9", `{"command":"lock"}`); status != http.StatusBadGateway {
		t.Fatalf("set missing door status = %d, want 502", status)
	}

	page := env.auditPage(t, "?controller_id="+id, 4)
	if page.Total != 4 {
		t.Fatalf("audit total = %d, want 4: %+v", page.Total, page.Entries)
	}
	want := []struct{ action, outcome, door string }{
		{audit.ActionDoorCommand, audit.OutcomeFailed, "9"},
		{audit.ActionDoorCommand, audit.OutcomeSucceeded, "1"},
		{audit.ActionSessionOpen, audit.OutcomeSucceeded, ""},
		{audit.ActionControllerCreate, audit.OutcomeSucceeded, ""},
	}
	for i, w := range want {
		got := page.Entries[i]
		if got.Action != w.action || got.Outcome != w.outcome || got.DoorID != w.door {
			t.Errorf("entry %d = %s/%s door %q, want %s/%s door %q",
				i, got.Action, got.Outcome, got.DoorID, w.action, w.outcome, w.door)
		}
		if got.Actor != testAdminUser || got.Source != audit.SourceAPI {
			t.Errorf("entry %d actor/source = %q/%q", i, got.Actor, got.Source)
		}
	}
	if cmd := page.Entries[1].Details["command"]; cmd != "unlock" {
		t.Errorf("door command detail = %v, want unlock", cmd)
	}

	doors := env.auditPage(t, "?action="+audit.ActionDoorCommand+"&limit=1", 2)
	if doors.Total != 2 || len(doors.Entries) != 1 || doors.Limit != 1 {
		t.Errorf("filtered page = total %d, %d entries, limit %d", doors.Total, len(doors.Entries), doors.Limit)
	}
}

func TestAudit_Login(t *testing.T) {
	env := newTestEnv(t)

	env.doWithToken(t, "", http.MethodPost, "/api/v1/auth/login",
		`{"username":"admin","password":"wrong"}`)

	page := env.auditPage(t, "?action="+audit.ActionLogin, 1)
	if page.Total != 1 {
		t.Fatalf("login entries = %d, want 1", page.Total)
	}
	if got := page.Entries[0]; got.Outcome != audit.OutcomeFailed || got.Actor != "admin" {
		t.Errorf("login entry = %+v", got)
	}
}

func TestAudit_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	if status, _ := env.doWithToken(t, "", http.MethodGet, "/api/v1/audit", ""); status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
}
