package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/imagery-composer/internal/app"
	"github.com/mohammed-shakir/imagery-composer/internal/backends/tiles"
	"github.com/mohammed-shakir/imagery-composer/internal/cache/redisstore"
	"github.com/mohammed-shakir/imagery-composer/internal/capture"
	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	"github.com/mohammed-shakir/imagery-composer/internal/core/health"
	"github.com/mohammed-shakir/imagery-composer/internal/core/httpclient"
	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
	"github.com/mohammed-shakir/imagery-composer/internal/core/router"
	"github.com/mohammed-shakir/imagery-composer/internal/core/server"
	"github.com/mohammed-shakir/imagery-composer/internal/logger"
	"github.com/mohammed-shakir/imagery-composer/internal/metrics"
	"github.com/mohammed-shakir/imagery-composer/internal/session"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
	"github.com/mohammed-shakir/imagery-composer/internal/store/bus"
	"github.com/mohammed-shakir/imagery-composer/internal/store/mainstore"
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
	storeFlag := flag.String("store", "", "store driver: local|kafka")
	flag.Parse()

	cfg := config.FromEnv()
	if *storeFlag != "" {
		cfg.StoreDriver = strings.ToLower(strings.TrimSpace(*storeFlag))
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Store:     cfg.StoreDriver,
		Component: "composer-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	mp := metrics.Init(metrics.Config{
		Enabled: os.Getenv("METRICS_ENABLED") == "true",
		Addr:    os.Getenv("METRICS_ADDR"),
		Path:    os.Getenv("METRICS_PATH"),
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.SetStore(cfg.StoreDriver)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting composer-server",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.StoreDriver,
		"sessions", cfg.SessionDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]health.Check{}

	var rc *redisstore.Client
	if cfg.SessionDriver == "redis" || cfg.StoreDriver == "kafka" {
		var err error
		rc, err = redisstore.New(ctx, cfg.RedisAddr, redisstore.WithDB(cfg.RedisDB))
		if err != nil {
			appLog.Error("redis setup failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		checks["redis"] = rc.Ping
	}

	var sessions session.Store
	if rc != nil {
		sessions = session.NewRedis(rc, cfg.SessionTTL, cfg.CacheOpTimeout)
	} else {
		sessions = session.NewMemory(cfg.SessionEntries, cfg.SessionTTL)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			appLog.Warn("session store close", "err", err)
		}
	}()

	opts, err := config.LoadOptions(cfg.Form.OptionsFile)
	if err != nil {
		appLog.Error("options setup failed", "err", err)
		return 1
	}

	hc := httpclient.NewOutbound()

	fetcher, err := tiles.NewFetcher(
		tiles.WithOverrides(tiles.DefaultProviders(), cfg.Form.TileURLOverrides),
		cfg.Form.TileCacheSize, hc)
	if err != nil {
		appLog.Error("tile fetcher setup failed", "err", err)
		return 1
	}
	objects, err := capture.NewMinio(ctx, cfg.Minio)
	if err != nil {
		appLog.Error("object storage setup failed", "endpoint", cfg.Minio.Endpoint, "err", err)
		return 1
	}
	capt := capture.New(sessions, fetcher, objects, capture.Config{
		Width:    cfg.Form.ViewportWidth,
		Height:   cfg.Form.ViewportHeight,
		MaxZoom:  cfg.Form.TileMaxZoom,
		MaxTiles: cfg.Form.TileMaxCount,
		Workers:  cfg.Form.TileFetchWorkers,
		SRID:     cfg.Form.ExtentSRID,
	}, appLog)

	var stores store.Resolver
	switch cfg.StoreDriver {
	case "kafka":
		pub, err := bus.NewPublisher(config.SplitList(cfg.Kafka.Brokers), cfg.Kafka.Topic, envInt("KAFKA_QUEUE", 1024), appLog)
		if err != nil {
			appLog.Error("kafka publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("kafka publisher close", "err", err)
			}
		}()
		stores = pub
	case "local", "":
		var cache mainstore.ResultCache
		if rc != nil {
			cache = rc
		}
		reg, err := app.NewRegistry(ctx, cfg, opts, sessions, cache, hc, appLog)
		if err != nil {
			appLog.Error("store setup failed", "err", err)
			return 1
		}
		stores = reg
	default:
		appLog.Error("unknown store driver", "store", cfg.StoreDriver)
		return 1
	}

	mp.Serve(ctx, appLog)

	api := router.New(router.Deps{
		Sessions: sessions,
		Stores:   stores,
		Capture:  capt,
		Options:  opts,
		Form:     cfg.Form,
		Log:      appLog,
	})
	if err := server.Run(ctx, cfg, appLog, server.Options{
		API:     api,
		Checks:  checks,
		Metrics: mp.Handler(),
	}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
