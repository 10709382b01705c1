package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/automation"
	"github.com/nerrad567/grott-scheduler/internal/command"
	"github.com/nerrad567/grott-scheduler/internal/gateway"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/config"
	"github.com/nerrad567/grott-scheduler/internal/infrastructure/logging"
	"github.com/nerrad567/grott-scheduler/internal/register"
	"github.com/nerrad567/grott-scheduler/internal/trigger"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ScheduleExecutor runs a schedule on demand. *automation.Executor satisfies it.
type ScheduleExecutor interface {
	ExecuteNow(ctx context.Context, scheduleID int64) (*automation.RunSummary, error)
}

// RegisterReader reads live registers. *automation.Device satisfies it.
type RegisterReader interface {
	ReadRegister(ctx context.Context, serial string, number int) (gateway.ReadResult, error)
}

// RegisterSyncer refreshes the value cache. *register.Syncer satisfies it.
type RegisterSyncer interface {
	Sync(ctx context.Context, serial string, numbers []int) register.SyncResult
}

// TemplateService stores templates. *command.TemplateRepository satisfies it.
type TemplateService interface {
	ListTemplates(ctx context.Context) ([]command.Template, error)
	GetTemplate(ctx context.Context, name string) (*command.Template, error)
	CreateTemplate(ctx context.Context, t *command.Template) error
	DeleteTemplate(ctx context.Context, name string) error
}

// SettingsService reads and edits runtime settings. *settings.Resolver satisfies it.
type SettingsService interface {
	Effective(ctx context.Context) (map[string]string, error)
	Update(ctx context.Context, values map[string]string) error
}

// TriggerStatus lists armed triggers. *trigger.Engine satisfies it.
type TriggerStatus interface {
	Entries() []trigger.Entry
}

// HealthChecker is any component that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Schedules *automation.Registry
	Executor  ScheduleExecutor
	Logs      automation.LogStore
	Registers register.Repository
	Syncer    RegisterSyncer
	Device    RegisterReader
	Templates TemplateService
	Settings  SettingsService
	Triggers  TriggerStatus // optional
	Audit     *audit.Recorder // optional; nil records nothing

	// Health lists components reported by /health, keyed by name.
	Health map[string]HealthChecker

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the scheduler.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	schedules *automation.Registry
	executor  ScheduleExecutor
	logs      automation.LogStore
	registers register.Repository
	syncer    RegisterSyncer
	device    RegisterReader
	templates TemplateService
	settings  SettingsService
	triggers  TriggerStatus
	audit     *audit.Recorder
	health    map[string]HealthChecker
	version   string

	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Schedules == nil || deps.Executor == nil || deps.Logs == nil {
		return nil, fmt.Errorf("schedule registry, executor and log store are required")
	}
	if deps.Registers == nil || deps.Templates == nil || deps.Settings == nil {
		return nil, fmt.Errorf("register, template and settings stores are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		schedules: deps.Schedules,
		executor:  deps.Executor,
		logs:      deps.Logs,
		registers: deps.Registers,
		syncer:    deps.Syncer,
		device:    deps.Device,
		templates: deps.Templates,
		settings:  deps.Settings,
		triggers:  deps.Triggers,
		audit:     deps.Audit,
		health:    deps.Health,
		version:   deps.Version,
	}

	// The executor broadcasts through the same hub, so main creates it first.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// HealthCheck verifies the API server is running.
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
