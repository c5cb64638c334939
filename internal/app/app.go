package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/internal/api"
	"github.com/tablestakes/game-session/internal/config"
	"github.com/tablestakes/game-session/internal/logging"
	"github.com/tablestakes/game-session/pkg/connection"
	"github.com/tablestakes/game-session/pkg/metrics"
	"github.com/tablestakes/game-session/pkg/session"
)

// Application owns the session and its local control surface
type Application struct {
	config    *config.Config
	session   *session.Session
	server    *api.Server
	alerts    *metrics.AlertManager
	collector *metrics.Collector
	logger    *zap.Logger
}

// Params are the components the application is assembled from
type Params struct {
	fx.In

	Config    *config.Config
	Session   *session.Session
	Server    *api.Server
	Alerts    *metrics.AlertManager
	Collector *metrics.Collector
	Logger    *zap.Logger
}

// NewApplication creates a new application instance
func NewApplication(p Params) *Application {
	return &Application{
		config:    p.Config,
		session:   p.Session,
		server:    p.Server,
		alerts:    p.Alerts,
		collector: p.Collector,
		logger:    p.Logger,
	}
}

// Start connects the session and starts the API server. A gateway URL
// rejected by the transport policy does not abort startup: the session sits
// in Failed and the API stays up to report it.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting game session client",
		zap.String("gateway", a.config.Gateway.URL),
		zap.String("api", fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)),
	)

	if err := a.session.Start(ctx); err != nil {
		if !errors.Is(err, connection.ErrInsecureEndpoint) && !errors.Is(err, connection.ErrInvalidEndpoint) {
			return fmt.Errorf("failed to start session: %w", err)
		}
		a.logger.Error("gateway endpoint rejected", zap.Error(err))
	}

	if a.config.Monitoring.Enabled && a.config.Monitoring.Alerts.Enabled {
		// Background loops must outlive the fx start context
		if err := a.alerts.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start alert manager: %w", err)
		}
	}

	if err := a.server.Start(context.Background()); err != nil {
		a.session.Close()
		return fmt.Errorf("failed to start api server: %w", err)
	}

	a.logger.Info("game session client started", zap.String("session_id", a.session.ID()))
	return nil
}

// Stop stops the API server first so no new intents arrive, then closes the session
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("stopping game session client")

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.config.Monitoring.Enabled && a.config.Monitoring.Alerts.Enabled {
		if err := a.alerts.Stop(); err != nil {
			a.logger.Debug("alert manager stop", zap.Error(err))
		}
	}
	if err := a.session.Close(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("game session client stopped")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Session exposes the running session
func (a *Application) Session() *session.Session {
	return a.session
}

// NewLogger builds the process logger from the logging section
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging)
}

// NewRegistry creates the Prometheus registry served on /metrics
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// NewCollector creates the session metrics collector
func NewCollector(cfg *config.Config, registry *prometheus.Registry) *metrics.Collector {
	return metrics.NewCollectorWithRegistry(cfg.CollectorConfig(), registry)
}

// NewDialer creates the websocket dialer for the gateway
func NewDialer(cfg *config.Config, logger *zap.Logger) *connection.WebSocketDialer {
	return connection.NewWebSocketDialer(cfg.WebSocketConfig(), logger)
}

// NewSession creates the game session
func NewSession(cfg *config.Config, dialer *connection.WebSocketDialer, collector *metrics.Collector, logger *zap.Logger) *session.Session {
	return session.New(cfg.SessionConfig(), dialer, logger, session.WithMetrics(collector))
}

// NewAlertManager creates the alert manager with the default rule set
func NewAlertManager(cfg *config.Config, sess *session.Session, collector *metrics.Collector, logger *zap.Logger) (*metrics.AlertManager, error) {
	am := metrics.NewAlertManager(cfg.AlertManagerConfig(), sess, collector, logger)
	for _, rule := range metrics.DefaultAlertRules(cfg.AlertThresholds()) {
		if err := am.RegisterAlertRule(rule); err != nil {
			return nil, err
		}
	}
	return am, nil
}

// NewServer creates the control API. /metrics is only served when monitoring is enabled.
func NewServer(cfg *config.Config, sess *session.Session, collector *metrics.Collector, alerts *metrics.AlertManager, registry *prometheus.Registry, logger *zap.Logger) *api.Server {
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.Enabled {
		gatherer = registry
	}
	return api.NewServer(cfg, sess, collector, alerts, gatherer, logger)
}

// Module provides the fx module for dependency injection
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewRegistry,
		NewCollector,
		NewDialer,
		NewSession,
		NewAlertManager,
		NewServer,
		NewApplication,
	),
	fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	}),
	fx.Invoke(func(lifecycle fx.Lifecycle, app *Application) {
		lifecycle.Append(fx.Hook{
			OnStart: app.Start,
			OnStop:  app.Stop,
		})
	}),
)
