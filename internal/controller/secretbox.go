package controller

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Key derivation parameters. Changing them makes stored secrets unreadable.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32

	sealedPrefix = "v1:"
)

var kdfSalt = []byte("acs-gateway/controller-secrets/v1")

// SecretBox encrypts controller passwords at rest with AES-256-GCM under a
// key derived from the configured secret with argon2id.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the encryption key from secret.
func NewSecretBox(secret string) (*SecretBox, error) {
	if len(secret) < 32 {
		return nil, errors.New("controller: secret key must be at least 32 characters")
	}
	key := argon2.IDKey([]byte(secret), kdfSalt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext into a printable token.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (b *SecretBox) Open(token string) (string, error) {
	enc, ok := strings.CutPrefix(token, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrDecrypt)
	}
	raw, err := base64.RawStdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: too short", ErrDecrypt)
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
