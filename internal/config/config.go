package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Origin   OriginConfig
	Cache    CacheConfig
	Classify ClassifyConfig
	Sync     SyncConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port       int
	AdminToken string
}

type OriginConfig struct {
	BaseURL string
}

type CacheConfig struct {
	Prefix            string
	Version           string
	MaxImageEntries   int
	MaxDynamicEntries int
	SweepInterval     string
	OfflinePath       string
	PlaceholderPath   string
	PrecacheAssets    []string
}

type ClassifyConfig struct {
	ImageHosts  []string
	APIPrefixes []string
}

type SyncConfig struct {
	PeriodicInterval string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8100,
		},
		Origin: OriginConfig{
			BaseURL: "http://127.0.0.1:3000",
		},
		Cache: CacheConfig{
			Prefix:            "mufc",
			Version:           "2.1",
			MaxImageEntries:   50,
			MaxDynamicEntries: 100,
			SweepInterval:     "1m",
			OfflinePath:       "/offline",
			PlaceholderPath:   "/placeholder.svg",
			PrecacheAssets: []string{
				"/",
				"/catalog",
				"/about",
				"/contact",
				"/bulk-order",
				"/offline",
				"/manifest.json",
				"/icon-192x192.png",
				"/icon-512x512.png",
				"/_next/static/css/app/layout.css",
				"/_next/static/chunks/webpack.js",
				"/_next/static/chunks/main.js",
			},
		},
		Classify: ClassifyConfig{
			ImageHosts:  []string{"pinimg.com", "blob.v0.dev"},
			APIPrefixes: []string{"/api/products", "/api/categories", "/api/reviews"},
		},
		Sync: SyncConfig{
			PeriodicInterval: "24h",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in three layers: compiled defaults, the JSON
// config file at $XDG_CONFIG_HOME/matchday/config.json, and MATCHDAY_*
// environment variables. Later layers override earlier ones.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if u, err := url.Parse(cfg.Origin.BaseURL); err != nil || u.Host == "" {
		return Config{}, fmt.Errorf("invalid origin.base_url %q", cfg.Origin.BaseURL)
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "matchday-data"
		}
	}
	return filepath.Join(dir, "matchday")
}
