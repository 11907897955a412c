// Package app wires the configured backends into an in-process store
// registry. Both the composer server (local mode) and the store worker use it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/imagery-composer/internal/backends/detection"
	"github.com/mohammed-shakir/imagery-composer/internal/backends/sentinel"
	"github.com/mohammed-shakir/imagery-composer/internal/backends/stac"
	"github.com/mohammed-shakir/imagery-composer/internal/core/config"
	h3mapper "github.com/mohammed-shakir/imagery-composer/internal/mapper/h3"
	"github.com/mohammed-shakir/imagery-composer/internal/store/mainstore"
)

// Backends builds the upstream clients. A backend without configuration is
// left out and the store reports its commands as unsupported.
func Backends(ctx context.Context, cfg config.Config, hc *http.Client, log *slog.Logger) (mainstore.Deps, error) {
	var deps mainstore.Deps

	if cfg.STACURL != "" {
		c, err := stac.New(cfg.STACURL, cfg.STACCollection, cfg.STACLimit, hc)
		if err != nil {
			return deps, fmt.Errorf("stac: %w", err)
		}
		deps.Catalog = c
	}

	s := cfg.Sentinel
	if s.URL != "" && (s.ClientID != "" || s.Token != "") {
		c, err := sentinel.New(ctx, s.URL, sentinel.Auth{
			TokenURL:     s.TokenURL,
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			Token:        s.Token,
		}, hc)
		if err != nil {
			return deps, fmt.Errorf("sentinel: %w", err)
		}
		deps.Processor = c
	} else {
		log.Info("sentinel processing disabled: no credentials")
	}

	if cfg.DetectionURL != "" {
		c, err := detection.New(cfg.DetectionURL, hc)
		if err != nil {
			return deps, fmt.Errorf("detection: %w", err)
		}
		deps.Detector = c
	}
	return deps, nil
}

func Settings(cfg config.Config) mainstore.Settings {
	return mainstore.Settings{
		SRID:                 cfg.Form.ExtentSRID,
		CellRes:              cfg.Form.ResultCellRes,
		CacheTTL:             cfg.Form.ResultCacheTTL,
		Width:                cfg.Form.ViewportWidth,
		Height:               cfg.Form.ViewportHeight,
		DefaultDataSource:    cfg.Form.DefaultDataSource,
		DefaultMapSource:     cfg.Form.DefaultMapSource,
		DefaultDetectionType: cfg.Form.DefaultDetection,
	}
}

// NewRegistry builds the per-session store registry. A nil cache falls back
// to an in-memory one.
func NewRegistry(ctx context.Context, cfg config.Config, opts config.Options, sink mainstore.Sink, cache mainstore.ResultCache, hc *http.Client, log *slog.Logger) (*mainstore.Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	deps, err := Backends(ctx, cfg, hc, log)
	if err != nil {
		return nil, err
	}
	deps.Sink = sink
	deps.Options = opts
	deps.Mapper = h3mapper.NewWithLimit(cfg.Form.ResultMaxCells)
	deps.Log = log
	deps.Cache = cache
	if deps.Cache == nil {
		deps.Cache = mainstore.NewMemoryCache(cfg.Form.ResultCacheEntries, cfg.Form.ResultCacheTTL)
	}
	return mainstore.NewRegistry(deps, Settings(cfg), cfg.StoreEntries)
}
