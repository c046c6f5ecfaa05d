package isapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Default ports and timeout used when an Endpoint leaves them unset.
const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
	DefaultTimeout   = 5 * time.Second
)

// Scheme is the protocol a session talks to a controller over.
type Scheme string

// Supported schemes.
const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// AuthMode is the credential scheme negotiated with a controller.
type AuthMode string

// Supported auth modes.
const (
	AuthBasic  AuthMode = "basic"
	AuthDigest AuthMode = "digest"
)

// Endpoint is the immutable description of one controller supplied by the
// caller when opening a session.
type Endpoint struct {
	ID          string
	Host        string
	Port        int // plain HTTP port, DefaultHTTPPort when zero
	HTTPSPort   int // DefaultHTTPSPort when zero
	Username    string
	Password    string
	PreferHTTPS bool
}

// PortFor returns the port to dial for scheme.
func (e Endpoint) PortFor(s Scheme) int {
	if s == SchemeHTTPS {
		if e.HTTPSPort == 0 {
			return DefaultHTTPSPort
		}
		return e.HTTPSPort
	}
	if e.Port == 0 {
		return DefaultHTTPPort
	}
	return e.Port
}

// LogValue keeps the password out of structured logs.
func (e Endpoint) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", e.ID),
		slog.String("addr", net.JoinHostPort(e.Host, strconv.Itoa(e.PortFor(SchemeHTTP)))),
		slog.String("username", e.Username),
		slog.Bool("prefer_https", e.PreferHTTPS),
	)
}

// Capabilities is the device capability snapshot captured at negotiation.
// Raw keeps the full payload; the flags the gateway acts on are decoded.
type Capabilities struct {
	Raw                 json.RawMessage `json:"-"`
	SupportHTTPS        bool            `json:"isSupportHTTPS"`
	SupportToken        bool            `json:"isSupportToken"`
	SupportEncryption   bool            `json:"isSupportEncryption"`
	SupportEventMonitor bool            `json:"isSupportEventMonitor"`
}

// ParseCapabilities decodes a capability payload. Flags may be nested one
// level down (e.g. {"DeviceCap": {...}}) depending on firmware.
func ParseCapabilities(body []byte) (*Capabilities, error) {
	caps := &Capabilities{Raw: append(json.RawMessage(nil), body...)}
	if len(body) == 0 {
		return caps, nil
	}
	if err := json.Unmarshal(body, caps); err != nil {
		return nil, err
	}
	if !caps.SupportHTTPS && !caps.SupportToken {
		var wrapped map[string]json.RawMessage
		if json.Unmarshal(body, &wrapped) == nil {
			for _, inner := range wrapped {
				var c Capabilities
				if json.Unmarshal(inner, &c) == nil {
					caps.SupportHTTPS = caps.SupportHTTPS || c.SupportHTTPS
					caps.SupportToken = caps.SupportToken || c.SupportToken
					caps.SupportEncryption = caps.SupportEncryption || c.SupportEncryption
					caps.SupportEventMonitor = caps.SupportEventMonitor || c.SupportEventMonitor
				}
			}
		}
	}
	return caps, nil
}

// DeviceStatus is the subset of /ISAPI/System/status the gateway reports.
type DeviceStatus struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	DeviceTime  string  `json:"deviceTime"`
}

// UnmarshalJSON accepts the device's capitalised field names and both
// numeric and string-encoded percentages.
func (s *DeviceStatus) UnmarshalJSON(data []byte) error {
	var raw struct {
		CPUUsage    json.RawMessage `json:"CPUUsage"`
		MemoryUsage json.RawMessage `json:"MemoryUsage"`
		DeviceTime  string          `json:"DeviceTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.CPUUsage = flexFloat(raw.CPUUsage)
	s.MemoryUsage = flexFloat(raw.MemoryUsage)
	s.DeviceTime = raw.DeviceTime
	return nil
}

func flexFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}
