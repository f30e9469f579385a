package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"switchboard/internal/config"
	"switchboard/internal/logger"
	"switchboard/internal/observability"
	"switchboard/internal/tracing"
	"switchboard/pkg/advisory"
	"switchboard/pkg/bridge"
	"switchboard/pkg/catalog"
	"switchboard/pkg/commandqueue"
	"switchboard/pkg/compactor"
	"switchboard/pkg/cron"
	"switchboard/pkg/executor"
	"switchboard/pkg/gateway"
	"switchboard/pkg/isolator"
	"switchboard/pkg/jobs"
	"switchboard/pkg/orchestrator"
	"switchboard/pkg/plugin"
	"switchboard/pkg/session"
	"switchboard/pkg/summarizer"
)

// Daemon owns the lifecycle of every switchboard service: the model
// catalog, the session stores, the orchestrator, the gateway, and the
// maintenance scheduler.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	registry     *plugin.Registry
	catalog      *catalog.Catalog
	bridge       *bridge.Bridge
	sessions     *session.Store
	isolator     *isolator.Isolator
	queue        *commandqueue.Queue
	jobs         *jobs.Manager
	orchestrator *orchestrator.Service
	advisor      *advisory.Service
	gateway      *gateway.Server
	maintenance  *cron.Service

	startTime time.Time
	running   bool
}

// Status reports the daemon lifecycle state.
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
}

// New builds the full service graph from configuration. Nothing is
// listening or scheduled until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := observability.InitAuditLogger(cfg.AuditLogPath()); err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}
	if err := tracing.InitOpenTelemetry("switchboard"); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	zl := log.GetZerolog()

	registry, err := plugin.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build agent registry: %w", err)
	}

	cat, err := catalog.New(cfg.CatalogPath, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to load model catalog: %w", err)
	}

	br, err := bridge.New(cfg.BridgePath(), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to open session bridge: %w", err)
	}

	sessions, err := session.NewStore(cfg.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	iso := isolator.New(cfg.IsolationDir(), zl)

	exe := executor.New(executor.Config{
		DefaultTimeout: time.Duration(cfg.Agents.TimeoutSeconds) * time.Second,
		MaxOutputBytes: cfg.Agents.MaxOutputBytes,
		Logger:         zl,
	})

	sum, err := summarizer.New(summarizer.Config{
		Provider:    cfg.Summarizer.Provider,
		Model:       cfg.Summarizer.Model,
		APIKey:      cfg.Summarizer.APIKey,
		TargetChars: cfg.Summarizer.TargetChars,
		Logger:      zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build summarizer: %w", err)
	}

	comp := compactor.New(sum, zl)
	queue := commandqueue.New(cfg.Agents.MaxConcurrent)

	orch := orchestrator.New(
		cat,
		registry,
		iso,
		br,
		sessions,
		comp,
		sum,
		exe,
		queue,
		orchestrator.Config{
			AgentTimeout:       time.Duration(cfg.Agents.TimeoutSeconds) * time.Second,
			ContextTokenBudget: cfg.Agents.ContextTokenBudget,
			ResponseMaxChars:   cfg.Agents.ResponseMaxChars,
			AllowExtraArgs:     cfg.Agents.AllowExtraArgs,
		},
		zl,
	)

	advisor := advisory.New(cat, sessions, advisory.Config{
		AnthropicAPIKey: cfg.Advisory.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.Advisory.OpenAIAPIKey,
		MaxTokens:       cfg.Advisory.MaxTokens,
	}, zl)

	jobManager, err := jobs.New(cfg.JobsRegistryPath(), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to open job registry: %w", err)
	}

	gw, err := gateway.NewServer(gateway.Config{
		Host:               cfg.Gateway.Host,
		Port:               cfg.Gateway.Port,
		SharedSecret:       cfg.Gateway.SharedSecret,
		RateLimitPerMinute: cfg.Gateway.RateLimitPerMinute,
		RequestTimeout:     time.Duration(cfg.Gateway.RequestTimeoutSeconds) * time.Second,
		SyncBudget:         time.Duration(cfg.Agents.SyncBudgetSeconds) * time.Second,
		Orchestrator:       orch,
		Advisor:            advisor,
		Jobs:               jobManager,
		Models:             cat,
		Registry:           registry,
		Logger:             zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway server: %w", err)
	}

	maintenance, err := cron.New(cron.Config{
		Schedule:         cfg.Maintenance.SweepSchedule,
		MappingTTL:       time.Duration(cfg.Maintenance.MappingTTLDays) * 24 * time.Hour,
		SessionRetention: time.Duration(cfg.Maintenance.SessionRetentionDays) * 24 * time.Hour,
		Bridge:           br,
		Sessions:         sessions,
		Isolator:         iso,
		Jobs:             jobManager,
		Logger:           zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build maintenance service: %w", err)
	}

	return &Daemon{
		config:       cfg,
		logger:       log,
		registry:     registry,
		catalog:      cat,
		bridge:       br,
		sessions:     sessions,
		isolator:     iso,
		queue:        queue,
		jobs:         jobManager,
		orchestrator: orch,
		advisor:      advisor,
		gateway:      gw,
		maintenance:  maintenance,
	}, nil
}

// Start brings up the catalog watcher, the gateway listener, and the
// maintenance scheduler.
func (d *Daemon) Start() error {
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	zl := d.logger.GetZerolog()

	if err := d.catalog.StartWatching(); err != nil {
		zl.Warn().Err(err).Msg("catalog hot reload disabled")
	} else {
		zl.Info().Str("path", d.config.CatalogPath).Msg("Model catalog watcher started")
	}

	if err := d.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	zl.Info().
		Str("host", d.config.Gateway.Host).
		Int("port", d.config.Gateway.Port).
		Msg("Gateway server started")

	d.maintenance.Start()
	zl.Info().
		Str("schedule", d.config.Maintenance.SweepSchedule).
		Msg("Maintenance scheduler started")

	d.startTime = time.Now()
	d.running = true

	zl.Info().
		Strs("agents", d.registry.Names()).
		Int("models", len(d.catalog.List())).
		Msg("Switchboard daemon started")
	return nil
}

// Stop shuts services down in reverse startup order: stop accepting work,
// drain running work, then close the stores.
func (d *Daemon) Stop() error {
	if !d.running {
		return nil
	}

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Stopping switchboard daemon")

	d.maintenance.Stop()

	if err := d.gateway.Stop(); err != nil {
		zl.Warn().Err(err).Msg("gateway shutdown error")
	}

	if !d.queue.Drain(30 * time.Second) {
		zl.Warn().Msg("command queue drain timed out")
	}
	if err := d.queue.Close(); err != nil {
		zl.Warn().Err(err).Msg("command queue close error")
	}

	if err := d.jobs.Close(); err != nil {
		zl.Warn().Err(err).Msg("job registry close error")
	}

	d.catalog.StopWatching()

	if err := d.bridge.Close(); err != nil {
		zl.Warn().Err(err).Msg("session bridge close error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("tracing shutdown error")
	}

	d.running = false
	zl.Info().Dur("uptime", time.Since(d.startTime)).Msg("Switchboard daemon stopped")
	return nil
}

// Status returns the current lifecycle state.
func (d *Daemon) Status() Status {
	st := Status{
		Running:   d.running,
		StartTime: d.startTime,
	}
	if d.running {
		st.Uptime = time.Since(d.startTime)
	}
	return st
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	zl := d.logger.GetZerolog()
	zl.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	return d.Stop()
}
