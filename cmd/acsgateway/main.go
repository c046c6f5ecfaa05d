// ACS Gateway - access controller session and event manager.
//
// The gateway keeps authenticated ISAPI sessions open to door controllers,
// watches them with heartbeats, streams their access events to WebSocket
// clients, MQTT and InfluxDB, and exposes door control over REST and MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nerrad567/acs-gateway/internal/api"
	"github.com/nerrad567/acs-gateway/internal/audit"
	"github.com/nerrad567/acs-gateway/internal/auth"
	"github.com/nerrad567/acs-gateway/internal/controller"
	"github.com/nerrad567/acs-gateway/internal/door"
	"github.com/nerrad567/acs-gateway/internal/events"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/config"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/database"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/acs-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/acs-gateway/internal/isapi"
	"github.com/nerrad567/acs-gateway/internal/session"
	"github.com/nerrad567/acs-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ACS gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// The recorder outlives ctx so entries queued during shutdown are still
	// written before the database closes.
	auditRec := audit.NewRecorder(audit.NewSQLiteRepository(db.DB))
	auditRec.SetLogger(log)
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	go auditRec.Run(auditCtx)
	defer func() {
		stopAudit()
		<-auditRec.Done()
	}()

	topics := mqtt.Topics{Site: cfg.Site.ID}
	// #nosec G115 -- QoS validated to 0..2 by config.Validate
	qos := byte(cfg.MQTT.QoS)

	// MQTT is optional; the gateway keeps serving REST and WebSocket
	// clients without a broker.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, topics)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	box, err := controller.NewSecretBox(cfg.Security.SecretKey)
	if err != nil {
		return fmt.Errorf("initialising secret box: %w", err)
	}
	controllers := controller.NewSQLiteRepository(db.DB, box)

	negotiator := isapi.NewNegotiator(isapi.NegotiatorConfig{
		Timeout:          cfg.ISAPI.RequestTimeout,
		AutoHTTPSUpgrade: cfg.ISAPI.AutoHTTPSUpgrade,
	})
	negotiator.SetLogger(log)

	sessions := session.NewRegistry(negotiator, session.Config{
		HeartbeatInterval:    cfg.ISAPI.HeartbeatInterval,
		TokenRenewInterval:   cfg.ISAPI.TokenRenewInterval,
		OfflineAfterFailures: cfg.ISAPI.OfflineAfterFailures,
	})
	sessions.SetLogger(log)
	defer func() {
		log.Info("closing device sessions")
		sessions.CloseAll()
	}()

	tracker := controller.NewStatusTracker(controllers)
	tracker.SetLogger(log)
	sessions.OnStateChange(tracker.OnStateChange)
	sessions.OnClose(tracker.OnClose)

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	sessions.OnStateChange(hub.OnStateChange)

	if mqttClient != nil {
		statePub := session.NewStatePublisher(mqttClient, topics, qos)
		statePub.SetLogger(log)
		statePub.Attach(sessions)
	}
	if influxClient != nil {
		session.NewMetricsRecorder(influxClient).Attach(sessions)
	}

	handlers := events.NewHandlerRegistry()
	handlers.SetLogger(log)
	monitor := events.NewMonitor(sessions, handlers, events.MonitorConfig{
		PollInterval:      cfg.ISAPI.PollInterval,
		HeartbeatInterval: cfg.ISAPI.EventHeartbeatInterval,
		MaxBackoff:        cfg.ISAPI.ResubscribeMaxBackoff,
	})
	monitor.SetLogger(log)
	monitor.AddSink(hub)
	if mqttClient != nil {
		monitor.AddSink(events.NewMQTTSink(mqttClient, topics, qos))
	}
	if influxClient != nil {
		monitor.AddSink(events.NewMetricsSink(influxClient))
	}
	sessions.OnClose(monitor.StopMonitoring)
	// Runs before sessions.CloseAll so pollers stop ahead of their sessions.
	defer func() {
		log.Info("stopping event monitoring")
		monitor.StopAll()
	}()

	doors := door.NewService(sessions)
	if mqttClient != nil {
		cmdHandler := door.NewCommandHandler(ctx, doors, mqttClient, topics, qos)
		cmdHandler.SetLogger(log)
		cmdHandler.SetAuditRecorder(auditRec)
		if subErr := mqttClient.Subscribe(topics.AllDoorCommands(), qos, cmdHandler.HandleMessage); subErr != nil {
			return fmt.Errorf("subscribing to door commands: %w", subErr)
		}
		log.Info("door commands subscribed", "topic", topics.AllDoorCommands())
	}

	authenticator := auth.NewAuthenticator(auth.Config{
		Username:     cfg.Security.Admin.Username,
		PasswordHash: cfg.Security.Admin.PasswordHash,
		Secret:       cfg.Security.JWT.Secret,
		TTLMinutes:   cfg.Security.JWT.AccessTokenTTL,
	})

	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Auth:        authenticator,
		Controllers: controllers,
		Sessions:    sessions,
		Monitor:     monitor,
		Doors:       doors,
		MQTT:        mqttClient,
		DB:          db,
		Hub:         hub,
		Audit:       auditRec,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var wg sync.WaitGroup
	if err := connectAutoControllers(ctx, &wg, controllers, sessions, log); err != nil {
		log.Error("loading auto-connect controllers", "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	wg.Wait()

	// Deferred calls run in reverse order: API server, event monitoring,
	// device sessions, InfluxDB, MQTT, audit writer, database.

	log.Info("ACS gateway stopped")
	return nil
}

// getConfigPath returns ACSGATEWAY_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// sessionOpener is the part of the session registry used at startup.
type sessionOpener interface {
	Open(ctx context.Context, ep isapi.Endpoint) (*session.Session, error)
}

// connectAutoControllers opens a session for every controller flagged
// auto_connect. Each controller is opened on its own goroutine; failures are
// logged and leave the controller offline until an operator reconnects it.
func connectAutoControllers(ctx context.Context, wg *sync.WaitGroup, repo controller.Repository, sessions sessionOpener, log *logging.Logger) error {
	list, err := repo.List(ctx)
	if err != nil {
		return err
	}

	for i := range list {
		c := list[i]
		if !c.AutoConnect {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, openErr := sessions.Open(ctx, c.Endpoint()); openErr != nil {
				log.Warn("auto-connect failed",
					"controller_id", c.ID,
					"host", c.Host,
					"error", isapi.Describe(openErr),
				)
				return
			}
			log.Info("auto-connect session opened", "controller_id", c.ID)
		}()
	}
	return nil
}
