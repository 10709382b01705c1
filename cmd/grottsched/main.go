// Grott Scheduler
//
// grottsched fires timed register commands at a Growatt inverter through
// a Grott proxy, gates them on live register conditions, retries failed
// writes and keeps an execution log. A REST API and WebSocket feed serve
// the web UI; MQTT and InfluxDB are optional side channels.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // site timezones resolve without a system zoneinfo

	_ "github.com/nerrad567/grott-scheduler/migrations"

	"github.com/nerrad567/grott-scheduler/internal/api"
	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/automation"
	"github.com/nerrad567/grott-scheduler/internal/command"
	"github.com/nerrad567/grott-scheduler/internal/gateway"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/database"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/influxdb"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/logging"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/mqtt"
	"github.com/nerrad567/grott-scheduler/internal/notify"
	"github.com/nerrad567/grott-scheduler/internal/register"
	"github.com/nerrad567/grott-scheduler/internal/settings"
	"github.com/nerrad567/grott-scheduler/internal/trigger"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the wait for in-flight schedule runs.
	shutdownTimeout = 2 * time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear wiring of every component
	log := logging.Default()
	log.Info("starting Grott Scheduler",
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

	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	health := map[string]api.HealthChecker{"database": db}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetConnectionHandler(func(up bool, err error) {
			if up {
				log.Info("MQTT reconnected")
				return
			}
			log.Warn("MQTT disconnected", "error", err)
		})
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Stores
	scheduleRepo := automation.NewSQLiteRepository(db.DB)
	registerRepo := register.NewSQLiteRepository(db.DB)
	templateRepo := command.NewTemplateRepository(db.DB)

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.With("component", "audit"))

	resolver := settings.NewResolver(settings.NewSQLiteRepository(db.DB), cfg.Gateway, cfg.Notifications.Pushover)
	resolver.SetLogger(log.With("component", "settings"))

	// Device access
	gw := gateway.New(gateway.Config{RateLimit: cfg.Gateway.RateLimit, Burst: cfg.Gateway.Burst})
	gw.SetLogger(log.With("component", "gateway"))
	device := automation.NewDevice(gw, resolver, seconds(cfg.Gateway.ReadTimeout))

	syncer := register.NewSyncer(registerRepo, device)
	syncer.SetLogger(log.With("component", "register"))

	builder := command.NewBuilder(templateRepo, registerRepo)
	builder.SetLogger(log.With("component", "command"))

	conditions := automation.NewConditionEvaluator(device)
	conditions.SetLogger(log.With("component", "condition"))

	dispatcher := automation.NewDispatcher(gw, dispatchTimeouts(cfg.Gateway))
	dispatcher.SetLogger(log.With("component", "dispatcher"))

	// Interface values stay nil when the optional clients are off.
	var alertPub notify.Publisher
	if mqttClient != nil {
		alertPub = mqttClient
	}

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)

	execCfg := automation.ExecutorConfig{
		Schedules:            scheduleRepo,
		Logs:                 scheduleRepo,
		Builder:              builder,
		Conditions:           conditions,
		Dispatcher:           dispatcher,
		Cache:                registerRepo,
		Settings:             resolver,
		Notifier:             buildNotifier(cfg.Notifications, resolver, alertPub, log),
		Hub:                  hub,
		SerializePerInverter: cfg.Gateway.SerializePerInverter,
		Logger:               log.With("component", "executor"),
	}
	if mqttClient != nil {
		execCfg.MQTT = mqttClient
	}
	if influxClient != nil {
		execCfg.Metrics = influxClient
	}
	executor := automation.NewExecutor(execCfg)

	registry := automation.NewRegistry(scheduleRepo)
	registry.SetLogger(log.With("component", "registry"))

	engine := trigger.New(trigger.Config{
		Runner:   executor,
		Store:    scheduleRepo,
		Location: cfg.Location(),
		Logger:   log.With("component", "trigger"),
	})
	registry.SetTrigger(engine)
	if startErr := engine.Start(ctx, registry); startErr != nil {
		return fmt.Errorf("starting trigger engine: %w", startErr)
	}
	log.Info("trigger engine started", "armed", len(engine.Entries()), "timezone", cfg.Site.Timezone)

	listener := newCommandListener(ctx, executor, recorder, log.With("component", "mqtt-commands"))
	if mqttClient != nil {
		if subErr := mqttClient.Subscribe(mqtt.Topics{}.AllExecuteCommands(), byte(cfg.MQTT.QoS), listener.handle); subErr != nil {
			return fmt.Errorf("subscribing to execute commands: %w", subErr)
		}
		log.Info("listening for MQTT execute commands", "topic", mqtt.Topics{}.AllExecuteCommands())
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log.With("component", "api"),
		Schedules:   registry,
		Executor:    executor,
		Logs:        scheduleRepo,
		Registers:   registerRepo,
		Syncer:      syncer,
		Device:      device,
		Templates:   templateRepo,
		Settings:    resolver,
		Triggers:    engine,
		Audit:       recorder,
		Health:      health,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := engine.Stop(stopCtx); stopErr != nil {
		log.Warn("trigger engine stopped with runs still in flight", "error", stopErr)
	}
	listener.wait(stopCtx)

	// Deferred Close() calls run in reverse order: InfluxDB, MQTT, database.
	log.Info("Grott Scheduler stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GROTTSCHED_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("GROTTSCHED_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every configured connection once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// dispatchTimeouts maps the gateway section onto per-kind attempt timeouts.
// Custom requests share the read timeout.
func dispatchTimeouts(gw config.GatewayConfig) automation.Timeouts {
	return automation.Timeouts{
		Read:       seconds(gw.ReadTimeout),
		Write:      seconds(gw.WriteTimeout),
		BlockWrite: seconds(gw.BlockWriteTimeout),
		Custom:     seconds(gw.ReadTimeout),
	}
}

// buildNotifier returns the configured alert channels, or nil when none is on.
func buildNotifier(cfg config.NotificationsConfig, creds notify.CredentialSource, pub notify.Publisher, log *logging.Logger) automation.Notifier {
	var channels notify.Multi
	if cfg.Pushover.Enabled {
		po := notify.NewPushover(creds, cfg.Pushover)
		po.SetLogger(log.With("component", "pushover"))
		channels = append(channels, po)
	}
	if cfg.MQTT.Enabled && pub != nil {
		channels = append(channels, notify.NewMQTT(pub))
	}
	if len(channels) == 0 {
		log.Info("failure notifications disabled")
		return nil
	}
	return channels
}

// scheduleRunner runs a schedule chain. *automation.Executor satisfies it.
type scheduleRunner interface {
	Run(ctx context.Context, scheduleID int64)
}

// commandListener turns grottsched/command/execute/{id} messages into runs.
// Runs go to their own goroutine so a slow dispatch never blocks the
// MQTT client's message router.
type commandListener struct {
	ctx    context.Context
	runner scheduleRunner
	audit  *audit.Recorder
	log    *logging.Logger
	wg     sync.WaitGroup
}

func newCommandListener(ctx context.Context, runner scheduleRunner, rec *audit.Recorder, log *logging.Logger) *commandListener {
	return &commandListener{ctx: ctx, runner: runner, audit: rec, log: log}
}

// handle is an mqtt.MessageHandler. Missing and disabled schedules are
// logged by the runner and otherwise ignored.
func (l *commandListener) handle(topic string, _ []byte) error {
	id, err := mqtt.ScheduleIDFromTopic(topic)
	if err != nil {
		return fmt.Errorf("ignoring execute command: %w", err)
	}
	if l.ctx.Err() != nil {
		l.log.Warn("ignoring execute command during shutdown", "schedule_id", id)
		return nil
	}

	l.log.Info("execute command received", "schedule_id", id)
	l.audit.Record(l.ctx, audit.ActionExecute, audit.EntitySchedule, strconv.FormatInt(id, 10), audit.SourceMQTT, nil)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.runner.Run(context.WithoutCancel(l.ctx), id)
	}()
	return nil
}

// wait blocks until every run started by handle finishes or ctx ends.
func (l *commandListener) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.log.Warn("MQTT-triggered runs still in flight at shutdown")
	}
}
