package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	// kList is a comma-separated string list.
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MATCHDAY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.admin_token", typ: kString, env: "MATCHDAY_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "origin.base_url", typ: kString, env: "MATCHDAY_ORIGIN_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Origin.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Origin.BaseURL },
	},
	{
		key: "cache.prefix", typ: kString, env: "MATCHDAY_CACHE_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Cache.Prefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Prefix },
	},
	{
		key: "cache.version", typ: kString, env: "MATCHDAY_CACHE_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Cache.Version = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Version },
	},
	{
		key: "cache.max_image_entries", typ: kInt, env: "MATCHDAY_CACHE_MAX_IMAGE_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxImageEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxImageEntries },
	},
	{
		key: "cache.max_dynamic_entries", typ: kInt, env: "MATCHDAY_CACHE_MAX_DYNAMIC_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxDynamicEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxDynamicEntries },
	},
	{
		key: "cache.sweep_interval", typ: kString, env: "MATCHDAY_CACHE_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Cache.SweepInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.SweepInterval },
	},
	{
		key: "cache.offline_path", typ: kString, env: "MATCHDAY_CACHE_OFFLINE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Cache.OfflinePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.OfflinePath },
	},
	{
		key: "cache.placeholder_path", typ: kString, env: "MATCHDAY_CACHE_PLACEHOLDER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Cache.PlaceholderPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.PlaceholderPath },
	},
	{
		key: "cache.precache_assets", typ: kList, env: "MATCHDAY_CACHE_PRECACHE_ASSETS",
		apply:   func(cfg *Config, v any) { cfg.Cache.PrecacheAssets = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Cache.PrecacheAssets, ",") },
	},
	{
		key: "classify.image_hosts", typ: kList, env: "MATCHDAY_CLASSIFY_IMAGE_HOSTS",
		apply:   func(cfg *Config, v any) { cfg.Classify.ImageHosts = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Classify.ImageHosts, ",") },
	},
	{
		key: "classify.api_prefixes", typ: kList, env: "MATCHDAY_CLASSIFY_API_PREFIXES",
		apply:   func(cfg *Config, v any) { cfg.Classify.APIPrefixes = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Classify.APIPrefixes, ",") },
	},
	{
		key: "sync.periodic_interval", typ: kString, env: "MATCHDAY_SYNC_PERIODIC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.PeriodicInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.PeriodicInterval },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MATCHDAY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MATCHDAY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				s.apply(cfg, splitList(v))
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kList:
			s.apply(cfg, splitList(raw))
		}
	}
}
