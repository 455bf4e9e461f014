// Package config resolves connection settings for the trading client and
// server through an ordered chain of sources: process environment, user env
// file, project env file, infrastructure defaults file, build-time injected
// values, and finally hardcoded fallbacks. The first tier holding a non-empty
// value for a key wins.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfigMissing is returned when a required key is absent from every tier.
var ErrConfigMissing = errors.New("required configuration key missing")

// Tier identifies the source that supplied a configuration value.
type Tier string

const (
	TierEnv         Tier = "environment"
	TierUserFile    Tier = "user_file"
	TierProjectFile Tier = "project_file"
	TierInfraFile   Tier = "infra_file"
	TierBuild       Tier = "build"
	TierFallback    Tier = "fallback"
)

// Recognized configuration keys.
const (
	KeyEndpoint     = "API_GATEWAY_ENDPOINT"
	KeyTimeout      = "TRADING_TIMEOUT"
	KeyDebug        = "TRADING_DEBUG"
	KeyMaxRetries   = "TRADING_MAX_RETRIES"
	KeyBackoff      = "TRADING_BACKOFF"
	KeyEnv          = "TRADING_ENV"
	KeyWebsocketURL = "WEBSOCKET_URL"
	KeyLobbyTimeout = "LOBBY_CONNECTION_TIMEOUT"
	KeyLobbyRetries = "LOBBY_MAX_RETRIES"
	KeyListenAddr   = "LISTEN_ADDR"
	KeyStoreBackend = "TRADING_STORE_BACKEND"
	KeyRedisAddr    = "REDIS_ADDR"
	KeyDatabaseURL  = "DATABASE_URL"
)

// Build-time injected values, set with -ldflags "-X ...".
var (
	BuildEndpoint     string
	BuildWebsocketURL string
	BuildEnv          string
)

// Config holds the resolved, immutable configuration for the process. It is
// constructed once at startup and never mutated afterward.
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	Debug      bool
	MaxRetries int
	Backoff    string // "fixed" or "exponential"
	Production bool

	WebsocketURL    string
	LobbyTimeout    time.Duration
	LobbyMaxRetries int

	ListenAddr   string
	StoreBackend string
	RedisAddr    string
	DatabaseURL  string

	// Sources records which tier supplied each key's final value.
	Sources map[string]Tier
}

type lookup struct {
	tier Tier
	get  func(key string) (string, bool)
}

// Resolver consults its tiers in priority order until a non-empty value is
// found for each key.
type Resolver struct {
	tiers  []lookup
	logger *slog.Logger
}

// Options overrides file locations, mainly for tests.
type Options struct {
	UserFile    string
	ProjectFile string
	InfraFile   string
	Logger      *slog.Logger
}

// NewResolver builds a resolver with the standard tier ordering.
func NewResolver(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UserFile == "" {
		home, _ := os.UserHomeDir()
		opts.UserFile = filepath.Join(home, ".tradepost", "user.env")
	}
	if opts.ProjectFile == "" {
		opts.ProjectFile = "tradepost.env"
	}
	if opts.InfraFile == "" {
		opts.InfraFile = filepath.Join("infra", "trading.env")
	}

	buildValues := map[string]string{
		KeyEndpoint:     BuildEndpoint,
		KeyWebsocketURL: BuildWebsocketURL,
		KeyEnv:          BuildEnv,
	}

	return &Resolver{
		logger: opts.Logger,
		tiers: []lookup{
			{TierEnv, func(key string) (string, bool) {
				v, ok := os.LookupEnv(key)
				return v, ok && v != ""
			}},
			{TierUserFile, fileLookup(opts.UserFile)},
			{TierProjectFile, fileLookup(opts.ProjectFile)},
			{TierInfraFile, fileLookup(opts.InfraFile)},
			{TierBuild, func(key string) (string, bool) {
				v := buildValues[key]
				return v, v != ""
			}},
		},
	}
}

// fileLookup reads a KEY=VALUE file once, lazily. Blank lines and # comments
// are ignored and surrounding quotes on values are stripped, which is exactly
// godotenv's parse behavior. A missing or unreadable file is an empty tier.
func fileLookup(path string) func(key string) (string, bool) {
	var values map[string]string
	var loaded bool
	return func(key string) (string, bool) {
		if !loaded {
			values, _ = godotenv.Read(path)
			loaded = true
		}
		v, ok := values[key]
		return v, ok && v != ""
	}
}

// Resolve returns the value for key and the tier that supplied it, falling
// back to the given default at the lowest tier. ok is false when no tier and
// no fallback had a value.
func (r *Resolver) Resolve(key, fallback string) (string, Tier, bool) {
	for _, t := range r.tiers {
		if v, ok := t.get(key); ok {
			return v, t.tier, true
		}
	}
	if fallback != "" {
		return fallback, TierFallback, true
	}
	return "", TierFallback, false
}

// Load resolves every recognized key into an immutable Config.
// API_GATEWAY_ENDPOINT has no safe hardcoded fallback in production mode, so
// its absence there is fatal.
func (r *Resolver) Load() (*Config, error) {
	cfg := &Config{Sources: make(map[string]Tier)}

	envName := r.resolveInto(cfg, KeyEnv, "development")
	cfg.Production = envName == "production"

	endpointFallback := "http://localhost:8080"
	if cfg.Production {
		endpointFallback = ""
	}
	cfg.Endpoint = r.resolveInto(cfg, KeyEndpoint, endpointFallback)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, KeyEndpoint)
	}

	timeoutSecs, err := r.resolveIntInto(cfg, KeyTimeout, 15)
	if err != nil {
		return nil, err
	}
	cfg.Timeout = time.Duration(timeoutSecs) * time.Second

	debugDefault := "true"
	if cfg.Production {
		debugDefault = "false"
	}
	debugRaw := r.resolveInto(cfg, KeyDebug, debugDefault)
	cfg.Debug, err = strconv.ParseBool(debugRaw)
	if err != nil {
		return nil, fmt.Errorf("parse %s=%q: %w", KeyDebug, debugRaw, err)
	}

	cfg.MaxRetries, err = r.resolveIntInto(cfg, KeyMaxRetries, 3)
	if err != nil {
		return nil, err
	}

	cfg.Backoff = r.resolveInto(cfg, KeyBackoff, "exponential")
	if cfg.Backoff != "fixed" && cfg.Backoff != "exponential" {
		return nil, fmt.Errorf("parse %s=%q: must be fixed or exponential", KeyBackoff, cfg.Backoff)
	}

	cfg.WebsocketURL = r.resolveInto(cfg, KeyWebsocketURL, "")
	lobbySecs, err := r.resolveIntInto(cfg, KeyLobbyTimeout, 10)
	if err != nil {
		return nil, err
	}
	cfg.LobbyTimeout = time.Duration(lobbySecs) * time.Second
	cfg.LobbyMaxRetries, err = r.resolveIntInto(cfg, KeyLobbyRetries, 3)
	if err != nil {
		return nil, err
	}

	cfg.ListenAddr = r.resolveInto(cfg, KeyListenAddr, ":8080")
	cfg.StoreBackend = r.resolveInto(cfg, KeyStoreBackend, "memory")
	cfg.RedisAddr = r.resolveInto(cfg, KeyRedisAddr, "localhost:6379")
	cfg.DatabaseURL = r.resolveInto(cfg, KeyDatabaseURL, "")

	return cfg, nil
}

func (r *Resolver) resolveInto(cfg *Config, key, fallback string) string {
	v, tier, ok := r.Resolve(key, fallback)
	cfg.Sources[key] = tier
	if ok {
		r.logger.Info("config resolved", "key", key, "value", v, "tier", tier)
	} else {
		r.logger.Debug("config unset", "key", key)
	}
	return v
}

func (r *Resolver) resolveIntInto(cfg *Config, key string, fallback int) (int, error) {
	raw := r.resolveInto(cfg, key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return n, nil
}
