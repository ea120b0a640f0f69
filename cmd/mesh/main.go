package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/joho/godotenv"
	"github.com/nidhogg/mesh/internal/a2a"
	"github.com/nidhogg/mesh/internal/acp"
	"github.com/nidhogg/mesh/internal/api"
	"github.com/nidhogg/mesh/internal/command"
	"github.com/nidhogg/mesh/internal/config"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/events"
	"github.com/nidhogg/mesh/internal/mcp"
	"github.com/nidhogg/mesh/internal/metrics"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/skill"
	"github.com/nidhogg/mesh/internal/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mesh.json"
	}
	cfg, err := config.Load(cfgPath)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil {
		if !missing {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	if missing {
		logger.Warn("config file not found, using defaults", zap.String("path", cfgPath))
	} else {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	ctx := context.Background()

	// Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Event bus
	var bus events.Publisher = events.Nop{}
	var redisBus *events.RedisBus
	if cfg.Database.Redis.URL != "" {
		rb, rErr := events.NewRedisBus(ctx, cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(rErr))
		} else {
			rb.UseStream(cfg.Database.Redis.Stream)
			redisBus, bus = rb, rb
		}
	}

	// Agent directory
	var source registry.Source = registry.NewStaticSource(registry.DefaultCatalog()...)
	var pgSource *registry.PostgresSource
	if cfg.Discovery.Source == "postgres" {
		ps, pgErr := registry.NewPostgresSource(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Fatal("PostgreSQL unavailable", zap.Error(pgErr))
		}
		if mErr := ps.Migrate(ctx); mErr != nil {
			logger.Fatal("migration failed", zap.Error(mErr))
		}
		if sErr := seedCatalog(ctx, ps); sErr != nil {
			logger.Warn("failed to seed agent catalog", zap.Error(sErr))
		}
		source, pgSource = ps, ps
	}

	var prober registry.Prober = registry.SimulatedProber{}
	if cfg.Discovery.Probe == "http" {
		prober = registry.NewHTTPProber(cfg.Discovery.ProbeTimeout.Std())
	}

	reg := registry.New(source, prober, logger,
		registry.WithPublisher(bus),
		registry.WithMetrics(m),
	)

	publicURL := strings.TrimRight(cfg.Server.PublicURL, "/")
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if err := reg.Register(registry.Agent{
		Name:         cfg.Agent.Name,
		Version:      cfg.Agent.Version,
		Description:  cfg.Agent.Description,
		Endpoint:     publicURL + "/api",
		Capabilities: cfg.Agent.Capabilities,
		Protocols:    []string{"A2A", "MCP", "ACP"},
		Status:       registry.StatusOnline,
	}); err != nil {
		logger.Fatal("failed to register local agent", zap.Error(err))
	}
	if cfg.Discovery.Enabled {
		if _, err := reg.Discover(ctx, registry.Filter{MaxResults: cfg.Discovery.MaxResults}); err != nil {
			logger.Warn("initial discovery failed", zap.Error(err))
		}
	}

	// Skills and content
	content, err := skill.LoadContent(cfg.ContentDir)
	if err != nil {
		logger.Fatal("failed to load content", zap.String("dir", cfg.ContentDir), zap.Error(err))
	}
	skills := skill.NewRegistry(cfg.Delegation.StrictSkills, logger)
	skill.RegisterBuiltins(skills, content)

	// Delegation and workflows
	dl := delegation.New(reg, skills, logger,
		delegation.WithPublisher(bus),
		delegation.WithMetrics(m),
		delegation.WithDefaultTimeout(cfg.Delegation.DefaultTimeout.Std()),
	)
	engine := workflow.NewEngine(dl, skills, logger,
		workflow.WithPublisher(bus),
		workflow.WithMetrics(m),
		workflow.WithLocalAgent(cfg.Workflow.LocalAgent),
		workflow.WithStepTimeout(cfg.Delegation.DefaultTimeout.Std()),
	)

	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, reg, dl, engine)

	mcpSrv := mcp.New(mcp.Deps{
		Agents:    reg,
		Delegator: dl,
		Workflows: engine,
		Content:   content,
		Commands:  cmds,
	}, logger)

	if *stdio {
		if err := mcpSrv.ServeStdio(); err != nil {
			logger.Fatal("stdio server error", zap.Error(err))
		}
		dl.Wait()
		return
	}

	// Periodic jobs
	monitorCfg := registry.MonitorConfig{SweepInterval: time.Minute}
	if cfg.Discovery.Enabled {
		monitorCfg.DiscoveryInterval = cfg.Discovery.Interval.Std()
		monitorCfg.HeartbeatInterval = cfg.Discovery.HeartbeatInterval.Std()
	}
	monitor := registry.NewMonitor(reg, monitorCfg, logger)
	monitor.AddPruner("delegations", dl, cfg.Delegation.Retention.Std())
	monitor.AddPruner("workflows", engine, cfg.Workflow.Retention.Std())

	deps := api.Deps{
		Registry:  reg,
		Delegator: dl,
		Workflows: engine,
		Commands:  cmds,
		MCPPath:   cfg.MCP.Path,
		Metrics:   m,
	}
	if cfg.MCP.Enabled {
		deps.MCP = mcpSrv.HTTPHandler()
	}
	if cfg.A2A.Enabled {
		var store a2asrv.TaskStore
		if pgSource != nil {
			s, sErr := a2a.NewStore(ctx, pgSource.Pool())
			if sErr != nil {
				logger.Warn("A2A task store unavailable, keeping tasks in memory", zap.Error(sErr))
			} else {
				store = s
			}
		}
		card := a2a.DefaultCardConfig(publicURL + "/a2a")
		card.Version = cfg.Agent.Version
		deps.A2A = a2a.NewServer(a2a.Deps{
			Agents:    reg,
			Delegator: dl,
			Workflows: engine,
			Commands:  cmds,
			Content:   content,
			Skills:    skills.Skills(),
		}, card, store, logger)
	}
	if cfg.ACP.Enabled {
		acpSrv := acp.New(reg, dl, logger, acp.WithLocalAgent(cfg.Agent.Name))
		monitor.AddPruner("acp_tasks", acpSrv, cfg.Delegation.Retention.Std())
		deps.ACP = acpSrv
	}

	if err := monitor.Start(); err != nil {
		logger.Fatal("monitor start failed", zap.Error(err))
	}

	subCtx, stopSub := context.WithCancel(ctx)
	if redisBus != nil {
		go logEvents(subCtx, redisBus, cfg.Database.Redis.Replay, logger)
	}

	handler := api.NewHandler(deps, logger)
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("MESH listening",
			zap.String("port", port),
			zap.Bool("mcp", cfg.MCP.Enabled),
			zap.Bool("a2a", cfg.A2A.Enabled),
			zap.Bool("acp", cfg.ACP.Enabled))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down MESH...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	monitor.Stop(shutdownCtx)
	dl.Wait()
	stopSub()
	if redisBus != nil {
		redisBus.Close()
	}
	if pgSource != nil {
		pgSource.Close()
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	if cfg.Server.Env == "production" {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.Server.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// seedCatalog fills an empty agent table with the built-in catalog.
func seedCatalog(ctx context.Context, ps *registry.PostgresSource) error {
	existing, err := ps.Query(ctx, registry.Filter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, a := range registry.DefaultCatalog() {
		if err := ps.Upsert(ctx, a); err != nil {
			return fmt.Errorf("seed %s: %w", a.Name, err)
		}
	}
	return nil
}

func logEvents(ctx context.Context, bus *events.RedisBus, replay bool, logger *zap.Logger) {
	stream := bus.Subscribe
	if replay {
		stream = bus.Replay
	}
	for e := range stream(ctx) {
		logger.Debug("event",
			zap.String("type", e.Type),
			zap.String("subject", e.Subject))
	}
}
