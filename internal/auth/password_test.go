package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/acs-gateway/internal/infrastructure/config"
)

const configSecret = "0123456789abcdef0123456789abcdef"

// loadOperatorConfig writes a gateway config whose admin account uses
// passwordHash and loads it the way the daemon does.
func loadOperatorConfig(t *testing.T, passwordHash string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
site:
  id: test-site
database:
  path: "` + filepath.Join(t.TempDir(), "gw.db") + `"
mqtt:
  enabled: false
influxdb:
  enabled: false
security:
  jwt:
    secret: "` + configSecret + `"
  admin:
    username: operator
    password_hash: '` + passwordHash + `'
  secret_key: "` + configSecret + `"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func operatorFrom(cfg *config.Config) *Authenticator {
	return NewAuthenticator(Config{
		Username:     cfg.Security.Admin.Username,
		PasswordHash: cfg.Security.Admin.PasswordHash,
		Secret:       cfg.Security.JWT.Secret,
		TTLMinutes:   5,
	})
}

func TestOperatorHash_FromConfigFile(t *testing.T) {
	hash, err := HashPassword("front-door-2026")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	a := operatorFrom(loadOperatorConfig(t, hash))

	if _, _, err := a.Login("operator", "front-door-2026"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, _, err := a.Login("operator", "front-door-2025"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() with old password error = %v, want ErrInvalidCredentials", err)
	}
}

func TestOperatorHash_EnvOverride(t *testing.T) {
	fileHash, err := HashPassword("from-file")
	if err != nil {
		t.Fatal(err)
	}
	envHash, err := HashPassword("from-env")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvPrefix+"ADMIN_PASSWORD_HASH", envHash)

	a := operatorFrom(loadOperatorConfig(t, fileHash))

	if _, _, err := a.Login("operator", "from-env"); err != nil {
		t.Errorf("Login() with env password error = %v", err)
	}
	if _, _, err := a.Login("operator", "from-file"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() with file password error = %v, want ErrInvalidCredentials", err)
	}
}

func TestHashPassword_Format(t *testing.T) {
	first, err := HashPassword("gate-7")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	second, err := HashPassword("gate-7")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if first == second {
		t.Error("same password hashed twice should get different salts")
	}

	parts := strings.Split(first, "$")
	if len(parts) != 6 {
		t.Fatalf("hash %q has %d parts, want 6", first, len(parts))
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" || parts[3] != "m=65536,t=3,p=1" {
		t.Errorf("hash header = %q", strings.Join(parts[:4], "$"))
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("gate-7")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	// Same salt, digest of a different password.
	other, err := HashPassword("gate-8")
	if err != nil {
		t.Fatal(err)
	}
	parts, otherParts := strings.Split(hash, "$"), strings.Split(other, "$")
	swapped := strings.Join(append(parts[:5:5], otherParts[5]), "$")

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  bool
	}{
		{"match", "gate-7", hash, true, false},
		{"wrong password", "gate-8", hash, false, false},
		{"tampered digest", "gate-7", swapped, false, false},
		{"empty hash", "gate-7", "", false, true},
		{"plaintext hash", "gate-7", "gate-7", false, true},
		{"bcrypt hash", "gate-7", "$2a$10$abcdefghijklmnopqrstuu", false, true},
		{"missing digest", "gate-7", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifyPassword(tt.password, tt.hash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifyPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", ok, tt.want)
			}
		})
	}
}
