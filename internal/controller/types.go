package controller

import (
	"time"

	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// Status mirrors the session state last seen for a controller.
type Status string

// Controller statuses.
const (
	StatusOffline          Status = "offline"
	StatusConnecting       Status = "connecting"
	StatusOnline           Status = "online"
	StatusReAuthenticating Status = "reauthenticating"
)

// Controller is a registered access controller.
type Controller struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	HTTPSPort   int        `json:"https_port"`
	Username    string     `json:"username"`
	Password    string     `json:"-"`
	PreferHTTPS bool       `json:"prefer_https"`
	AutoConnect bool       `json:"auto_connect"`
	Status      Status     `json:"status"`
	LastOnline  *time.Time `json:"last_online,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Endpoint returns the address and credentials used to open a session.
func (c *Controller) Endpoint() isapi.Endpoint {
	return isapi.Endpoint{
		ID:          c.ID,
		Host:        c.Host,
		Port:        c.Port,
		HTTPSPort:   c.HTTPSPort,
		Username:    c.Username,
		Password:    c.Password,
		PreferHTTPS: c.PreferHTTPS,
	}
}
