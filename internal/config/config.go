package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines the collaboration core server's configuration (spec §9
// composition root). It follows the teacher's optional-YAML-file-plus-
// environment-variable-override shape, renamed from TRELLIS_* to
// COLLABCORE_* and expanded with the four logical database paths and the
// scheduler's job intervals.
type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Log    LogConfig    `yaml:"log"`
	Sync   SyncConfig   `yaml:"sync"`
}

// ServerConfig is the mesh-sync HTTP listener (spec §4.3).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DBConfig names the four logical SQLite databases spec §9's dependency
// order opens: chat memory, the permission/team database, the sync
// operation log, and workflows.
type DBConfig struct {
	ChatMemoryPath string `yaml:"chat_memory_path"`
	CorePath       string `yaml:"core_path"`
	SyncPath       string `yaml:"sync_path"`
	WorkflowPath   string `yaml:"workflow_path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// SyncConfig configures the peer mesh and the scheduler's sync-related
// job cadence.
type SyncConfig struct {
	// ExchangeSchedule is the cron expression for the peer-exchange round
	// (spec §4.3's background Sync Coordinator).
	ExchangeSchedule string `yaml:"exchange_schedule"`
	// PruneSchedule is the cron expression for pruning already-synced
	// operations (SPEC_FULL §3 maintenance supplement).
	PruneSchedule string `yaml:"prune_schedule"`
	// PromotionSweepSchedule is the cron expression for applying due
	// delayed promotions (spec §4.4).
	PromotionSweepSchedule string     `yaml:"promotion_sweep_schedule"`
	Peers                  []PeerAddr `yaml:"peers"`
}

// PeerAddr is one statically-configured mesh peer (spec §4.3 non-goal:
// peer discovery mechanics are out of scope, so peers are configured).
type PeerAddr struct {
	PeerID string `yaml:"peer_id"`
	IP     string `yaml:"ip"`
	Port   int    `yaml:"port"`
}

// Load reads configuration from an optional YAML file and environment
// variables, in that precedence order (env wins).
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 7420},
		DB: DBConfig{
			ChatMemoryPath: "chat_memory.db",
			CorePath:       "core.db",
			SyncPath:       "core_sync.db",
			WorkflowPath:   "workflows.db",
		},
		Log: LogConfig{Level: "info"},
		Sync: SyncConfig{
			ExchangeSchedule:       "*/1 * * * *",
			PruneSchedule:          "0 * * * *",
			PromotionSweepSchedule: "*/1 * * * *",
		},
	}

	if path := os.Getenv("COLLABCORE_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("COLLABCORE_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("COLLABCORE_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid COLLABCORE_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if p := os.Getenv("COLLABCORE_CHAT_MEMORY_DB_PATH"); p != "" {
		cfg.DB.ChatMemoryPath = p
	}
	if p := os.Getenv("COLLABCORE_CORE_DB_PATH"); p != "" {
		cfg.DB.CorePath = p
	}
	if p := os.Getenv("COLLABCORE_SYNC_DB_PATH"); p != "" {
		cfg.DB.SyncPath = p
	}
	if p := os.Getenv("COLLABCORE_WORKFLOW_DB_PATH"); p != "" {
		cfg.DB.WorkflowPath = p
	}
	if level := os.Getenv("COLLABCORE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
