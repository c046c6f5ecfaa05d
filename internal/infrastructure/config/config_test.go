package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
  qos: 1
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
  secret_key: "controller-secret-key-32-chars-long!"
isapi:
  heartbeat_interval: "10s"
  poll_interval: "500ms"
  auto_https_upgrade: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.ISAPI.HeartbeatInterval != 10*time.Second {
		t.Errorf("ISAPI.HeartbeatInterval = %v, want 10s", cfg.ISAPI.HeartbeatInterval)
	}
	if cfg.ISAPI.PollInterval != 500*time.Millisecond {
		t.Errorf("ISAPI.PollInterval = %v, want 500ms", cfg.ISAPI.PollInterval)
	}
	if !cfg.ISAPI.AutoHTTPSUpgrade {
		t.Error("ISAPI.AutoHTTPSUpgrade = false, want true")
	}
	// Untouched values keep their defaults.
	if cfg.ISAPI.RequestTimeout != 5*time.Second {
		t.Errorf("ISAPI.RequestTimeout = %v, want 5s", cfg.ISAPI.RequestTimeout)
	}
	if cfg.ISAPI.OfflineAfterFailures != 3 {
		t.Errorf("ISAPI.OfflineAfterFailures = %d, want 3", cfg.ISAPI.OfflineAfterFailures)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// All problems are reported at once.
	for _, want := range []string{"site.id", "security.jwt.secret", "security.secret_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = testSecret
	cfg.Security.SecretKey = testSecret
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "secret key too short", mutate: func(c *Config) { c.Security.SecretKey = "short" }, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "zero request timeout", mutate: func(c *Config) { c.ISAPI.RequestTimeout = 0 }, wantErr: true},
		{name: "zero offline threshold", mutate: func(c *Config) { c.ISAPI.OfflineAfterFailures = 0 }, wantErr: true},
		{
			name: "backoff cap below poll interval",
			mutate: func(c *Config) {
				c.ISAPI.PollInterval = 5 * time.Second
				c.ISAPI.ResubscribeMaxBackoff = time.Second
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ACSGATEWAY_DATABASE_PATH", "/custom/path.db")
	t.Setenv("ACSGATEWAY_MQTT_HOST", "mqtt.example.com")
	t.Setenv("ACSGATEWAY_MQTT_USERNAME", "testuser")
	t.Setenv("ACSGATEWAY_MQTT_PASSWORD", "testpass")
	t.Setenv("ACSGATEWAY_API_HOST", "192.168.1.1")
	t.Setenv("ACSGATEWAY_API_PORT", "9090")
	t.Setenv("ACSGATEWAY_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ACSGATEWAY_JWT_SECRET", "jwt-secret")
	t.Setenv("ACSGATEWAY_ADMIN_PASSWORD_HASH", "$argon2id$hash")
	t.Setenv("ACSGATEWAY_SECRET_KEY", "box-key")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"Security.Admin.PasswordHash", cfg.Security.Admin.PasswordHash, "$argon2id$hash"},
		{"Security.SecretKey", cfg.Security.SecretKey, "box-key"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("ACSGATEWAY_API_PORT", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.ISAPI.HeartbeatInterval != 30*time.Second {
		t.Errorf("ISAPI.HeartbeatInterval = %v, want 30s", cfg.ISAPI.HeartbeatInterval)
	}
	if cfg.ISAPI.TokenRenewInterval != 20*time.Minute {
		t.Errorf("ISAPI.TokenRenewInterval = %v, want 20m", cfg.ISAPI.TokenRenewInterval)
	}
	if cfg.ISAPI.PollInterval != time.Second {
		t.Errorf("ISAPI.PollInterval = %v, want 1s", cfg.ISAPI.PollInterval)
	}
	if cfg.ISAPI.EventHeartbeatInterval != 25*time.Second {
		t.Errorf("ISAPI.EventHeartbeatInterval = %v, want 25s", cfg.ISAPI.EventHeartbeatInterval)
	}
}
