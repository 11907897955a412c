package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

type KafkaCfg struct {
	Brokers string
	Topic   string
	GroupID string
}

type SentinelCfg struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Token        string
}

type MinioCfg struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

type FormCfg struct {
	DateFrom           string
	DateTo             string
	CloudCoverage      int
	EnforceDateOrder   bool
	DefaultDataSource  string
	DefaultMapSource   string
	DefaultDetection   string
	ScreenshotRegion   model.Region
	ScreenshotTarget   string
	OptionsFile        string
	ExtentSRID         string
	ViewportWidth      int
	ViewportHeight     int
	TileMaxZoom        int
	TileMaxCount       int
	TileFetchWorkers   int
	TileCacheSize      int
	TileURLOverrides   map[string]string
	ResultCellRes      int
	ResultMaxCells     int
	ResultCacheTTL     time.Duration
	ResultCacheEntries int
}

type Config struct {
	Addr           string
	LogLevel       string
	StoreDriver    string
	SessionDriver  string
	SessionTTL     time.Duration
	SessionEntries int
	RedisAddr      string
	RedisDB        int
	CacheOpTimeout time.Duration
	STACURL        string
	STACCollection string
	STACLimit      int
	DetectionURL   string
	Sentinel       SentinelCfg
	Kafka          KafkaCfg
	Minio          MinioCfg
	Form           FormCfg
	StoreEntries   int
	DedupeEntries  int
}

func FromEnv() Config {
	region, err := ParseRegion(getenv("CAPTURE_REGION", "32,30,420,420"))
	if err != nil {
		region = model.Region{X: 32, Y: 30, Width: 420, Height: 420}
	}
	vw, vh, err := ParseSize(getenv("VIEWPORT_SIZE", "512x512"))
	if err != nil {
		vw, vh = 512, 512
	}

	cellRes := getint("RESULT_CELL_RES", 6)
	if cellRes < 0 || cellRes > 15 {
		cellRes = 6
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		StoreDriver:    strings.ToLower(getenv("STORE_DRIVER", "local")),
		SessionDriver:  strings.ToLower(getenv("SESSION_DRIVER", "memory")),
		SessionTTL:     getduration("SESSION_TTL", 24*time.Hour),
		SessionEntries: getint("SESSION_ENTRIES", 4096),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisDB:        getint("REDIS_DB", 0),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		STACURL:        getenv("STAC_URL", "https://earth-search.aws.element84.com/v1"),
		STACCollection: getenv("STAC_COLLECTION", "sentinel-2-l2a"),
		STACLimit:      getint("STAC_LIMIT", 10),
		DetectionURL:   getenv("DETECTION_URL", "http://localhost:5000"),
		Sentinel: SentinelCfg{
			URL:          getenv("SENTINEL_URL", "https://services.sentinel-hub.com"),
			TokenURL:     getenv("SENTINEL_TOKEN_URL", "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"),
			ClientID:     os.Getenv("SENTINEL_CLIENT_ID"),
			ClientSecret: os.Getenv("SENTINEL_CLIENT_SECRET"),
			Token:        os.Getenv("SENTINEL_TOKEN"),
		},
		Kafka: KafkaCfg{
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "imagery-commands"),
			GroupID: getenv("KAFKA_GROUP_ID", "imagery-store"),
		},
		Minio: MinioCfg{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getenv("MINIO_BUCKET", "screenshots"),
			UseSSL:    getbool("MINIO_USE_SSL", false),
			URLExpiry: getduration("MINIO_URL_EXPIRY", 15*time.Minute),
		},
		Form: FormCfg{
			DateFrom:           getenv("FORM_DATE_FROM", "2023-06-01"),
			DateTo:             getenv("FORM_DATE_TO", "2023-07-01"),
			CloudCoverage:      getint("FORM_CLOUD_COVERAGE", 22),
			EnforceDateOrder:   getbool("FORM_ENFORCE_DATE_ORDER", false),
			DefaultDataSource:  getenv("DEFAULT_DATA_SOURCE", model.DataSourceSTAC),
			DefaultMapSource:   getenv("DEFAULT_MAP_SOURCE", model.MapSourceOSM),
			DefaultDetection:   getenv("DEFAULT_DETECTION_TYPE", "trees"),
			ScreenshotRegion:   region,
			ScreenshotTarget:   getenv("CAPTURE_TARGET", "map"),
			OptionsFile:        os.Getenv("OPTIONS_FILE"),
			ExtentSRID:         strings.ToUpper(getenv("MAP_SRID", model.SRID4326)),
			ViewportWidth:      vw,
			ViewportHeight:     vh,
			TileMaxZoom:        getint("TILE_MAX_ZOOM", 19),
			TileMaxCount:       getint("TILE_MAX_COUNT", 64),
			TileFetchWorkers:   getint("TILE_FETCH_WORKERS", 8),
			TileCacheSize:      getint("TILE_CACHE_SIZE", 512),
			TileURLOverrides:   parseStringMap(getenv("TILE_URL_OVERRIDES", "")),
			ResultCellRes:      cellRes,
			ResultMaxCells:     getint("RESULT_MAX_CELLS", 4096),
			ResultCacheTTL:     getduration("RESULT_CACHE_TTL", 10*time.Minute),
			ResultCacheEntries: getint("RESULT_CACHE_ENTRIES", 1024),
		},
		StoreEntries:  getint("STORE_ENTRIES", 4096),
		DedupeEntries: getint("DEDUPE_ENTRIES", 8192),
	}
}

// ParseRegion parses "x,y,width,height".
func ParseRegion(s string) (model.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.Region{}, fmt.Errorf("expected 4 comma-separated values: x,y,width,height")
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return model.Region{}, fmt.Errorf("region value %d: %w", i, err)
		}
		v[i] = n
	}
	r := model.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if r.X < 0 || r.Y < 0 || r.Empty() {
		return model.Region{}, fmt.Errorf("region must have x,y >= 0 and positive size")
	}
	return r, nil
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("expected WIDTHxHEIGHT, got %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("width: %w", err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("height: %w", err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size must be positive")
	}
	return w, h, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "BING=https://...,OSM=https://..." into map
func parseStringMap(s string) map[string]string {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// SplitList splits a comma separated list dropping blanks.
func SplitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
