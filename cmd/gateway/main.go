// =============================================================================
// Inference gateway main entry point
// =============================================================================
// Usage:
//
//	gateway serve                       # start the gateway
//	gateway serve --config gateway.yaml # specify a config file
//	gateway version                     # print version info
//	gateway health                      # probe a running gateway
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rudironsoni/inference-gateway/gateway/circuitbreaker"
	"github.com/rudironsoni/inference-gateway/gateway/frontend"
	"github.com/rudironsoni/inference-gateway/gateway/gwconfig"
	"github.com/rudironsoni/inference-gateway/gateway/gwmetrics"
	"github.com/rudironsoni/inference-gateway/gateway/health"
	"github.com/rudironsoni/inference-gateway/gateway/httpapi"
	"github.com/rudironsoni/inference-gateway/gateway/orchestrator"
	"github.com/rudironsoni/inference-gateway/gateway/providers/openaicompat"
	"github.com/rudironsoni/inference-gateway/gateway/quota"
	"github.com/rudironsoni/inference-gateway/gateway/resilience"
	"github.com/rudironsoni/inference-gateway/gateway/router"
	gatewaydriver "github.com/rudironsoni/inference-gateway/gateway/driver"
	"github.com/rudironsoni/inference-gateway/gateway/telemetry"
	"github.com/rudironsoni/inference-gateway/gateway/tokenest"
	"github.com/rudironsoni/inference-gateway/internal/server"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	loader := gwconfig.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting inference gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx := context.Background()
	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer otelProviders.Shutdown(ctx)

	cat := gwconfig.BuildCatalog(cfg)

	healthStore, quotaTracker := buildSharedState(cfg, logger)

	if *configPath != "" {
		watcher := gwconfig.NewWatcher(*configPath, "GATEWAY", logger)
		watcher.OnReload(func(reloaded *gwconfig.Config) error {
			gwconfig.ReloadCatalog(cat, reloaded)
			return nil
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("failed to start config watcher, hot reload disabled", zap.Error(err))
		}
	}

	drivers := buildDrivers(cfg, logger)

	latencyEstimates := make(map[string]time.Duration, len(cfg.Routing.LatencyEstimatesMS))
	for id, ms := range cfg.Routing.LatencyEstimatesMS {
		latencyEstimates[id] = time.Duration(ms) * time.Millisecond
	}
	r := router.New(router.Config{
		WeightCost:        cfg.Routing.WeightCost,
		WeightLatency:     cfg.Routing.WeightLatency,
		WeightReliability: cfg.Routing.WeightReliability,
		LatencyEstimates:  latencyEstimates,
	}, cat, healthStore, quotaTracker)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		Threshold:    cfg.Resilience.BreakerThreshold,
		ResetTimeout: cfg.Resilience.BreakerResetTimeout,
	}, logger)

	pipeline := resilience.New(resilience.Config{
		CallTimeout:            cfg.Resilience.CallTimeout,
		StreamFirstByteTimeout: cfg.Resilience.StreamFirstByteTimeout,
	}, quotaTracker, healthStore, breakers, logger)

	metrics := gwmetrics.NewCollector("gateway", logger)

	orch := orchestrator.New(r, drivers, pipeline, cat, metrics, logger)
	fe := frontend.New(cat, orch, tokenest.New(), logger)

	apiServer := httpapi.NewServer(fe, cat, metrics, logger)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Router())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	httpServer := server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	httpServer.WaitForShutdown()
	logger.Info("inference gateway stopped")
}

// buildSharedState wires in-process or Redis-backed HealthStore/QuotaTracker
// depending on whether a Redis address was configured.
func buildSharedState(cfg *gwconfig.Config, logger *zap.Logger) (health.Store, quota.Tracker) {
	if cfg.Redis.Addr == "" {
		healthStore := health.NewInProcessStore()
		return healthStore, quota.NewInProcessTracker(healthStore)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	healthStore := health.NewRedisStore(client, logger)
	return healthStore, quota.NewRedisTracker(client, healthStore, logger)
}

// buildDrivers constructs one openai-compatible ProviderDriver per enabled
// provider, whatever its kind; the reference build ships no other driver,
// so every enabled provider is spoken to over the OpenAI wire format.
func buildDrivers(cfg *gwconfig.Config, logger *zap.Logger) *gatewaydriver.Registry {
	registry := gatewaydriver.NewRegistry()
	for id, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		apiKey := os.Getenv(p.CredentialRef)
		registry.Register(id, openaicompat.New(openaicompat.Config{
			ProviderID: id,
			BaseURL:    p.Endpoint,
			APIKey:     apiKey,
		}, logger))
	}
	return registry
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "gateway address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("inference-gateway %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`inference-gateway

Usage:
  gateway serve [--config path]   start the gateway
  gateway version                 print version info
  gateway health [--addr url]     probe a running gateway
  gateway help                    show this message`)
}

func initLogger(cfg gwconfig.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.DisableCaller = !cfg.EnableCaller
	zapCfg.DisableStacktrace = !cfg.EnableStacktrace
	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
