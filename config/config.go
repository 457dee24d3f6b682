package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// HubConfig configures the remote memory hub connection.
type HubConfig struct {
	URL             string `yaml:"url,omitempty"`              // empty = offline mode, everything queues
	Token           string `yaml:"token,omitempty"`            // bearer token for hub auth
	TimeoutSeconds  int    `yaml:"timeout_seconds,omitempty"`  // per-request timeout (default: 10)
	PreferForRecall bool   `yaml:"prefer_for_recall,omitempty"` // try the hub first on recall, fall back local
}

// SyncConfig configures the background queue drain.
type SyncConfig struct {
	Schedule string `yaml:"schedule,omitempty"` // cron expression or Go duration, e.g. "5m"
}

// VocabularyConfig overrides the capture keyword sets. Empty lists keep the
// built-in defaults.
type VocabularyConfig struct {
	High     []string `yaml:"high,omitempty"`
	Moderate []string `yaml:"moderate,omitempty"`
	Positive []string `yaml:"positive,omitempty"`
	Negative []string `yaml:"negative,omitempty"`
}

// CaptureConfig configures automatic transcript capture.
type CaptureConfig struct {
	MinImportance float64          `yaml:"min_importance,omitempty"` // 0.0-1.0 segment score threshold
	Vocabulary    VocabularyConfig `yaml:"vocabulary,omitempty"`
}

// HydrateConfig configures default context hydration bounds.
type HydrateConfig struct {
	MemoryLimit    int `yaml:"memory_limit,omitempty"`
	ReferenceLimit int `yaml:"reference_limit,omitempty"`
	MaxChars       int `yaml:"max_chars,omitempty"`
}

// Config is the full bridge daemon configuration.
type Config struct {
	DBPath  string `yaml:"db_path,omitempty"`
	AgentID string `yaml:"agent_id,omitempty"` // default owner for remembered engrams

	Hub     HubConfig     `yaml:"hub,omitempty"`
	Sync    SyncConfig    `yaml:"sync,omitempty"`
	Capture CaptureConfig `yaml:"capture,omitempty"`
	Hydrate HydrateConfig `yaml:"hydrate,omitempty"`

	// Constellation maps friendly agent names to hub agent ids for proxy
	// storage on behalf of agents that cannot reach the hub themselves.
	Constellation map[string]string `yaml:"constellation,omitempty"`
}

// GetConfigPath returns the default config file path.
// Can be overridden via BRIDGE_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("BRIDGE_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.bridge/config.yaml"
	}
	return filepath.Join(homeDir, ".bridge", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DBPath:  "bridge_local.db",
		AgentID: "claude",
		Hub: HubConfig{
			TimeoutSeconds: 10,
		},
		Sync: SyncConfig{
			Schedule: "5m",
		},
		Capture: CaptureConfig{
			MinImportance: 0.6,
		},
		Hydrate: HydrateConfig{
			MemoryLimit:    10,
			ReferenceLimit: 3,
			MaxChars:       4000,
		},
		Constellation: map[string]string{},
	}
}

// Load reads the config file at path and merges it onto the defaults.
// A missing file returns the defaults.
func Load(path string) (*Config, error) {
	defaults := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(configYAML, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(&defaults, loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	if defaults.Constellation == nil {
		defaults.Constellation = map[string]string{}
	}
	return &defaults, nil
}

// Save writes the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
