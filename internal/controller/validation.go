package controller

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/acs-gateway/internal/isapi"
)

const (
	maxNameLength     = 100
	maxUsernameLength = 64
)

// Normalize fills defaults: a generated ID, default ports and a name.
func Normalize(c *Controller) {
	c.Name = strings.TrimSpace(c.Name)
	c.Host = strings.TrimSpace(c.Host)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Port == 0 {
		c.Port = isapi.DefaultHTTPPort
	}
	if c.HTTPSPort == 0 {
		c.HTTPSPort = isapi.DefaultHTTPSPort
	}
	if c.Name == "" {
		c.Name = c.Host
	}
	if c.Status == "" {
		c.Status = StatusOffline
	}
}

// Validate checks a normalized controller.
func Validate(c *Controller) error {
	if c == nil {
		return ErrInvalidController
	}
	if c.Name == "" || len(c.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidController, maxNameLength)
	}
	if err := isapi.ValidateHost(c.Host); err != nil {
		return fmt.Errorf("%w: host: %v", ErrInvalidController, err)
	}
	for _, p := range []struct {
		name string
		v    int
	}{{"port", c.Port}, {"https_port", c.HTTPSPort}} {
		if p.v < 1 || p.v > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidController, p.name, p.v)
		}
	}
	if c.Username == "" || len(c.Username) > maxUsernameLength {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidController, maxUsernameLength)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidController)
	}
	switch c.Status {
	case StatusOffline, StatusConnecting, StatusOnline, StatusReAuthenticating:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidController, c.Status)
	}
	return nil
}
