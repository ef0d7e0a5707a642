package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/fwingest/internal/agent"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/config"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/health"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/logging"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/metrics"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/server"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tailer"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tracing"
)

// Exit codes
const (
	exitOK        = 0
	exitBootstrap = 1
	exitFatal     = 2
)

var (
	configFile = flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	version    = "1.0.0"
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadOrDefault(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return exitBootstrap
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().Str("version", version).Msg("Starting fwingest")

	mgr := shutdown.New(shutdown.Config{Timeout: 10 * time.Second, Logger: logger})
	stopListening := mgr.Listen()
	defer stopListening()

	a, err := bootstrap(mgr, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Bootstrap failed")
		mgr.Shutdown()
		return exitBootstrap
	}

	runErr := a.Run(mgr.Context())
	mgr.Shutdown()

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Stopped on fatal error")
		return exitFatal
	}
	return exitOK
}

// bootstrap builds the agent and the auxiliary components. Each component
// registers its own cleanup with mgr.
func bootstrap(mgr *shutdown.Manager, cfg *config.Config, logger *logging.Logger) (*agent.Agent, error) {
	collector := metrics.NewCollector()

	tcfg := tracing.Config{}
	if cfg.Tracing != nil {
		tcfg = tracing.Config{
			Enabled:    cfg.Tracing.Enabled,
			Endpoint:   cfg.Tracing.Endpoint,
			SampleRate: cfg.Tracing.SampleRate,
		}
	}
	provider, err := tracing.NewProvider(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	mgr.RegisterFunc("tracing", provider.Shutdown)

	a, err := agent.New(agent.Options{
		Config:    cfg,
		Logger:    logger,
		Collector: collector,
		Tracer:    provider.Tracer(),
	})
	if err != nil {
		return nil, err
	}
	mgr.RegisterFunc("agent", func(context.Context) error {
		return a.Close()
	})

	srvCfg := server.Config{
		MetricsAddress:  cfg.Metrics.Address,
		MetricsPath:     cfg.Metrics.Path,
		MetricsRegistry: collector.Registry(),
		Logger:          logger,
	}
	if cfg.Health != nil && cfg.Health.Enabled {
		checker := health.NewChecker(5 * time.Second)
		checker.Register("checkpoint", health.Freshness(a.LastFlush, cfg.Health.StaleAfter, nil))
		checker.Register("loop", health.Freshness(a.LastIteration, cfg.Health.StaleAfter, nil))
		checker.Register("active_file", activeFileCheck(cfg.Input.ActivePath()))

		srvCfg.HealthAddress = cfg.Health.Address
		srvCfg.LivenessPath = cfg.Health.LivenessPath
		srvCfg.ReadinessPath = cfg.Health.ReadinessPath
		srvCfg.HealthChecker = checker
	}

	if srv := server.New(srvCfg); srv != nil {
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("failed to start HTTP server: %w", err)
		}
		mgr.RegisterFunc("server", srv.Stop)
	}

	return a, nil
}

// activeFileCheck degrades while the active file is absent
func activeFileCheck(path string) health.HealthCheck {
	return health.CheckWithMetadata(func() (health.Status, string, map[string]interface{}) {
		info, err := tailer.Stat(path)
		if err != nil {
			return health.StatusDegraded, err.Error(), map[string]interface{}{"path": path}
		}
		return health.StatusHealthy, "", map[string]interface{}{
			"path":  path,
			"inode": info.Inode,
			"size":  info.Size,
		}
	})
}
