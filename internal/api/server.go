package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/auth"
	"github.com/nerrad567/acs-gateway/internal/controller"
	"github.com/nerrad567/acs-gateway/internal/door"
	"github.com/nerrad567/acs-gateway/internal/events"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/config"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/database"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/acs-gateway/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Auth        *auth.Authenticator
	Controllers controller.Repository
	Sessions    *session.Registry
	Monitor     *events.Monitor
	Doors       *door.Service
	MQTT        *mqtt.Client    // optional, reported by /health and /metrics
	DB          *database.DB    // optional, reported by /metrics
	Hub         *Hub            // if set, the server uses this hub instead of creating its own
	Audit       *audit.Recorder // optional, records operator actions
	Version     string
}

// Server is the HTTP API server for the gateway.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	auth        *auth.Authenticator
	controllers controller.Repository
	sessions    *session.Registry
	monitor     *events.Monitor
	doors       *door.Service
	mqtt        *mqtt.Client
	db          *database.DB
	version     string
	startTime   time.Time
	tickets     *ticketStore
	server      *http.Server
	hub         *Hub
	audit       *audit.Recorder
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Auth == nil:
		return nil, fmt.Errorf("authenticator is required")
	case deps.Controllers == nil:
		return nil, fmt.Errorf("controller repository is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session registry is required")
	case deps.Monitor == nil:
		return nil, fmt.Errorf("event monitor is required")
	case deps.Doors == nil:
		return nil, fmt.Errorf("door service is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		auth:        deps.Auth,
		controllers: deps.Controllers,
		sessions:    deps.Sessions,
		monitor:     deps.Monitor,
		doors:       deps.Doors,
		mqtt:        deps.MQTT,
		db:          deps.DB,
		version:     deps.Version,
		startTime:   time.Now(),
		tickets:     newTicketStore(),
		audit:       deps.Audit,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Start sets up the router and starts the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close waits up to 10 seconds for in-flight requests, then closes the
// remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
