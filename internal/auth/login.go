package auth

import (
	"crypto/subtle"
	"time"
)

// Config describes the operator account and token signing.
type Config struct {
	Username     string
	PasswordHash string // Argon2id PHC string
	Secret       string
	TTLMinutes   int
}

// Authenticator checks operator logins and issues access tokens.
type Authenticator struct {
	cfg Config
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg Config) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Login verifies the operator credentials and returns a signed access token
// with its expiry. Unknown users and wrong passwords both return
// ErrInvalidCredentials.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	if a.cfg.Username == "" || a.cfg.PasswordHash == "" {
		return "", time.Time{}, ErrNotConfigured
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1
	passOK, err := VerifyPassword(password, a.cfg.PasswordHash)
	if err != nil {
		return "", time.Time{}, err
	}
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return GenerateAccessToken(a.cfg.Username, RoleAdmin, a.cfg.Secret, a.cfg.TTLMinutes)
}

// Verify parses an access token issued by Login.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	return ParseToken(token, a.cfg.Secret)
}
