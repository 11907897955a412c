package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/imagery-composer/internal/app"
	"github.com/mohammed-shakir/imagery-composer/internal/cache/redisstore"
	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	"github.com/mohammed-shakir/imagery-composer/internal/core/health"
	"github.com/mohammed-shakir/imagery-composer/internal/core/httpclient"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	"github.com/mohammed-shakir/imagery-composer/internal/core/server"
	"github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/metrics"
	"github.com/mohammed-shakir/imagery-composer/internal/session"
	"github.com/mohammed-shakir/imagery-composer/internal/store/bus"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()
	if cfg.Addr == ":8090" {
		cfg.Addr = ":8091"
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Store:     "kafka",
		Component: "store-worker",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	mp := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.SetStore("worker")
	observability.ExposeBuildInfo(Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithDB(cfg.RedisDB))
	if err != nil {
		appLog.Error("redis setup failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	sessions := session.NewRedis(rc, cfg.SessionTTL, cfg.CacheOpTimeout)
	defer func() { _ = sessions.Close() }()

	opts, err := config.LoadOptions(cfg.Form.OptionsFile)
	if err != nil {
		appLog.Error("options setup failed", "err", err)
		return 1
	}

	reg, err := app.NewRegistry(ctx, cfg, opts, sessions, rc, httpclient.NewOutbound(), appLog)
	if err != nil {
		appLog.Error("store setup failed", "err", err)
		return 1
	}

	runner := bus.NewRunner(bus.RunnerConfigFrom(cfg), reg, bus.Options{
		Logger:   appLog,
		Register: mp.Registerer(),
	})
	if err := runner.Start(ctx); err != nil {
		appLog.Error("runner start failed", "err", err)
		return 1
	}
	defer runner.Stop()

	appLog.Info("starting store-worker",
		"addr", cfg.Addr,
		"version", Version,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.GroupID)

	if err := server.Run(ctx, cfg, appLog, server.Options{
		Ready:   runner,
		Checks:  map[string]health.Check{"redis": rc.Ping},
		Metrics: mp.Handler(),
	}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("worker stopped")
	return 0
}
