package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/acs-gateway/internal/isapi"
)

// runHeartbeat keeps one session alive until its context is cancelled or
// the session goes Offline.
func (r *Registry) runHeartbeat(ctx context.Context, s *Session) {
	defer r.heartbeats.Add(-1)
	defer close(s.done)

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	renew := time.NewTicker(r.cfg.TokenRenewInterval)
	defer renew.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.beat(ctx, s) {
				return
			}
		case <-renew.C:
			if !r.renewToken(ctx, s) {
				return
			}
		}
	}
}

// beat issues one status request and reports whether the loop continues.
func (r *Registry) beat(ctx context.Context, s *Session) bool {
	var status isapi.DeviceStatus
	err := s.Client().Do(ctx, http.MethodGet, isapi.PathStatus, nil, &status)
	switch {
	case err == nil:
		s.markAlive()
		r.setState(s, StateOnline)
		r.fireStatus(s.Endpoint.ID, status)
		return true
	case ctx.Err() != nil:
		return false
	case credentialsRejected(err):
		r.logger.Info("heartbeat rejected, re-authenticating", "controller_id", s.Endpoint.ID)
		return r.reauthenticate(ctx, s)
	default:
		return r.recordFailure(s, err)
	}
}

// renewToken extends the session token, re-authenticating when the device
// refuses.
func (r *Registry) renewToken(ctx context.Context, s *Session) bool {
	c := s.Client()
	if c.Token() == "" {
		return true
	}
	if err := r.auth.RenewToken(ctx, c); err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Warn("token renewal failed, re-authenticating", "controller_id", s.Endpoint.ID, "error", err)
		return r.reauthenticate(ctx, s)
	}
	s.markAlive()
	r.logger.Debug("token renewed", "controller_id", s.Endpoint.ID)
	return true
}

// reauthenticate re-runs negotiation for the session's endpoint and swaps
// the client in place. The session ID does not change.
func (r *Registry) reauthenticate(ctx context.Context, s *Session) bool {
	r.setState(s, StateReAuthenticating)

	c, caps, err := r.auth.Authenticate(ctx, s.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, isapi.ErrUnauthorized) {
			r.logger.Warn("re-authentication rejected, session offline",
				"controller_id", s.Endpoint.ID, "error", err)
			r.setState(s, StateOffline)
			return false
		}
		return r.recordFailure(s, err)
	}

	if old := s.swapClient(c, caps); old != nil {
		old.Close()
	}
	r.logger.Info("session re-authenticated", "controller_id", s.Endpoint.ID, "session_id", s.ID)
	r.setState(s, StateOnline)
	return true
}

// recordFailure counts an unreachable heartbeat and reports whether the
// loop continues.
func (r *Registry) recordFailure(s *Session, err error) bool {
	n := s.addFailure()
	if n >= r.cfg.OfflineAfterFailures {
		r.logger.Warn("controller unreachable, session offline",
			"controller_id", s.Endpoint.ID, "failures", n, "error", err)
		r.setState(s, StateOffline)
		return false
	}
	r.logger.Debug("heartbeat failed", "controller_id", s.Endpoint.ID, "failures", n, "error", err)
	return true
}

func credentialsRejected(err error) bool {
	var devErr *isapi.DeviceError
	return errors.As(err, &devErr) && devErr.StatusCode == http.StatusUnauthorized
}
