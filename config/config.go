// Package config loads the bootstrap configuration a taskmesh process needs
// before it can call broker.New or scheduler.New: worker identity, whether
// this process is the origin worker, pool size, broker/meta addresses, and
// the debug logging flag (spec.md §6 "Launcher interface" fields).
//
// Values come from three layers, lowest priority first: the Default
// returned by DefaultConfig, a JSON file loaded with LoadFile, and
// environment variable overrides applied by ApplyEnv — the same layering
// TheEntropyCollective-noisefs/pkg/infrastructure/config uses for its own
// Config (DefaultConfig -> LoadConfig -> applyEnvironmentOverrides). The
// cmd/ entrypoints parse flags with the standard library's flag package,
// mirroring TheEntropyCollective-noisefs/cmd/noisefs-config/main.go; no
// repo in this project's lineage imports cobra or viper directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the bootstrap configuration for a taskmesh worker or broker
// process.
type Config struct {
	// Identity is this process's worker/broker identity string, used as
	// the DEALER identity on the wire (spec.md §3 FutureId.worker).
	Identity string `json:"identity"`

	// Origin marks this worker as the one a top-level Submit call runs
	// against (spec.md §3 FutureId.RootParent origin).
	Origin bool `json:"origin"`

	// PoolSize sizes the worker's local FutureQueue high-water mark
	// (scheduler.Config.HighWaterMark). The turn token that enforces
	// single-active-task-body semantics always has capacity 1 regardless
	// of this value (spec.md §4.1).
	PoolSize int `json:"pool_size"`

	// TaskAddr is the broker's ROUTER-equivalent address (host:port with no
	// scheme, dialed as ws://host:port/taskmesh, carrying
	// INIT/REQUEST/TASK/REPLY/SHUTDOWN traffic).
	TaskAddr string `json:"task_addr"`

	// MetaAddr is the broker's PUB-equivalent address (VARIABLE/TASKEND/
	// SHUTDOWN broadcast traffic).
	MetaAddr string `json:"meta_addr"`

	// ClusterPeers lists other brokers this broker should federate with on
	// startup (spec.md §9 "cluster of brokers").
	ClusterPeers []string `json:"cluster_peers"`

	// RedisAddr, when non-empty, mirrors shared-variable updates through
	// Redis Pub/Sub (broker.WithRedisMirror). Empty disables mirroring.
	RedisAddr string `json:"redis_addr"`

	// Debug enables development-mode structured logging (logging.Init).
	Debug bool `json:"debug"`
}

// DefaultConfig returns the configuration a process starts from before any
// file or environment overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Identity: "",
		Origin:   false,
		PoolSize: 64,
		TaskAddr: "localhost:5555",
		MetaAddr: "localhost:5555",
		Debug:    false,
	}
}

// LoadFile reads a JSON config file and merges it over cfg. A missing file
// is not an error — processes are expected to run from flags/environment
// alone when no file is given.
func LoadFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg fields from TASKMESH_* environment variables,
// mirroring TheEntropyCollective-noisefs's applyEnvironmentOverrides.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("TASKMESH_IDENTITY"); v != "" {
		cfg.Identity = v
	}
	if v := os.Getenv("TASKMESH_ORIGIN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Origin = b
		}
	}
	if v := os.Getenv("TASKMESH_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("TASKMESH_TASK_ADDR"); v != "" {
		cfg.TaskAddr = v
	}
	if v := os.Getenv("TASKMESH_META_ADDR"); v != "" {
		cfg.MetaAddr = v
	}
	if v := os.Getenv("TASKMESH_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("TASKMESH_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Load builds a Config from defaults, an optional JSON file, and then
// environment overrides, in that priority order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadFile(cfg, path); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// SaveFile writes cfg to path as indented JSON, for a process's --init
// flag (mirroring noisefs-config's -init).
func SaveFile(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
