// Package config provides configuration loading, validation, and management
// for the conductor.
//
// A single global Config instance is maintained in memory, protected by a
// mutex. GetConfig() returns the config BY VALUE so callers cannot mutate
// shared state; all changes go through the Update* functions, which validate
// and persist atomically. Config lives in <projectDir>/.conductor/config.json
// next to the run database, gate cache, and event journal it describes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"conductor/pkg/logx"
)

// Project config constants.
const (
	ProjectConfigFilename = "config.json"
	ProjectConfigDir      = ".conductor"
	SchemaVersion         = "1.0"
)

// Defaults applied to missing config sections. Paths are relative to the
// .conductor directory unless absolute.
const (
	DefaultCacheDir              = "cache/gates"
	DefaultCacheTTLHours         = 24
	DefaultDatabaseFile          = "conductor.db"
	DefaultEventLogDir           = "events"
	DefaultEventLogRotationHours = 24
	DefaultLogsDir               = "logs"
	DefaultLogRotationHours      = 24
)

// Global config instance with mutex protection. projectDir is set once
// during LoadConfig and never changes.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	logger     *logx.Logger
	mu         sync.RWMutex
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
// This is exposed for other packages (like main) to use consistent logging.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// Config represents the project configuration stored in .conductor/config.json.
type Config struct {
	SchemaVersion string `json:"schema_version"` // MUST increment for breaking changes

	Project  *ProjectInfo    `json:"project"`  // Project metadata and default workflow
	Cache    *CacheConfig    `json:"cache"`    // Gate result cache settings
	Database *DatabaseConfig `json:"database"` // Run database settings
	EventLog *EventLogConfig `json:"eventlog"` // Event journal settings
	Metrics  *MetricsConfig  `json:"metrics"`  // Metrics recording and query settings
	Gates    *GatesConfig    `json:"gates"`    // Gate name to command mapping
	Agents   *AgentsConfig   `json:"agents"`   // Agent name to command mapping
	Logs     *LogsConfig     `json:"logs"`     // Log file management settings
}

// ProjectInfo contains basic project metadata.
type ProjectInfo struct {
	Name            string `json:"name"`
	DefaultWorkflow string `json:"default_workflow,omitempty"` // Workflow definition used when -workflow is omitted
}

// CacheConfig controls the content-addressed gate result cache.
type CacheConfig struct {
	Dir      string `json:"dir"`       // Cache directory
	TTLHours int    `json:"ttl_hours"` // Entry lifetime; 0 uses the built-in default
	Disabled bool   `json:"disabled"`  // Bypass the cache entirely, every gate runs fresh
}

// DatabaseConfig locates the SQLite run database.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// EventLogConfig controls the JSONL event journal.
type EventLogConfig struct {
	Dir           string `json:"dir"`
	RotationHours int    `json:"rotation_hours"`
}

// MetricsConfig controls metrics recording and the optional Prometheus
// query endpoint used for status reporting.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	PrometheusURL string `json:"prometheus_url,omitempty"`
}

// GatesConfig maps gate names (as referenced by workflow stages) to the
// shell commands that evaluate them.
type GatesConfig struct {
	Commands map[string]string `json:"commands"`
}

// AgentsConfig maps agent names (as referenced by workflow stages) to the
// shell commands that run them. Secrets lists secret names exported into
// every agent's environment, resolved via the encrypted secrets file or
// environment at startup.
type AgentsConfig struct {
	Commands map[string]string `json:"commands"`
	Secrets  []string          `json:"secrets,omitempty"`
}

// LogsConfig controls conductor's own log files.
type LogsConfig struct {
	Dir           string `json:"dir"`
	RotationHours int    `json:"rotation_hours"`
}

// GetProjectConductorDir returns the path to the .conductor directory
// containing all conductor files. Must call LoadConfig first.
func GetProjectConductorDir() (string, error) {
	mu.RLock()
	defer mu.RUnlock()
	if projectDir == "" {
		return "", fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return filepath.Join(projectDir, ProjectConfigDir), nil
}

// GetProjectDir returns the current project directory.
// Must call LoadConfig first to initialize projectDir.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// GetConfig returns the current global config BY VALUE (copy, not reference).
// This prevents external mutation - all updates must go through Update* functions.
// Must call LoadConfig first to initialize the global config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting sets the global config for testing purposes.
// Pass nil to reset. This bypasses normal initialization and should only be used in tests.
func SetConfigForTesting(cfg *Config, dir string) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	projectDir = dir
	if cfg == nil {
		projectDir = ""
	}
}

// LoadConfig loads the configuration from <projectDir>/.conductor/config.json
// into the global singleton.
//
// Behavior:
// - Missing file: Creates new config with defaults and saves it
// - Existing file: Loads and validates, applying defaults for missing fields
// - Unparseable file: Returns error to avoid overwriting user changes
//
// This should typically be called once at application startup.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		getLogger().Info("📝 Config file not found, creating new config at %s", configPath)
		config = createDefaultConfig(projectDir)

		if err := validateConfig(config); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := saveConfigLocked(); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		getLogger().Info("✅ New config file created and validated")
		return nil
	}

	getLogger().Info("📝 Loading config from %s", configPath)
	loadedConfig, err := loadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	applyDefaults(loadedConfig, projectDir)
	if err := validateConfig(loadedConfig); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = loadedConfig

	// Save config back to disk with applied defaults so old configs pick up
	// new sections.
	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}

	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &cfg, nil
}

// UpdateProject atomically updates project metadata and persists the config.
func UpdateProject(project *ProjectInfo) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	if project == nil || project.Name == "" {
		return fmt.Errorf("project name is required")
	}

	config.Project = project
	return saveConfigLocked()
}

// UpdateGates atomically updates the gate command mapping and persists the config.
func UpdateGates(gates *GatesConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	if err := validateCommandMap("gate", gates.Commands); err != nil {
		return err
	}

	config.Gates = gates
	return saveConfigLocked()
}

// UpdateAgents atomically updates the agent command mapping and persists the config.
func UpdateAgents(agents *AgentsConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	if err := validateCommandMap("agent", agents.Commands); err != nil {
		return err
	}

	config.Agents = agents
	return saveConfigLocked()
}

// UpdateCache atomically updates cache settings and persists the config.
func UpdateCache(cache *CacheConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	if cache.TTLHours < 0 {
		return fmt.Errorf("cache ttl_hours cannot be negative")
	}

	config.Cache = cache
	return saveConfigLocked()
}

// saveConfigLocked persists the config. Caller must hold mu.
func saveConfigLocked() error {
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func createDefaultConfig(dir string) *Config {
	cfg := &Config{SchemaVersion: SchemaVersion}
	applyDefaults(cfg, dir)
	return cfg
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(cfg *Config, dir string) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Project == nil {
		cfg.Project = &ProjectInfo{}
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(dir)
	}
	if cfg.Cache == nil {
		cfg.Cache = &CacheConfig{}
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir
	}
	if cfg.Cache.TTLHours == 0 {
		cfg.Cache.TTLHours = DefaultCacheTTLHours
	}
	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabaseFile
	}
	if cfg.EventLog == nil {
		cfg.EventLog = &EventLogConfig{}
	}
	if cfg.EventLog.Dir == "" {
		cfg.EventLog.Dir = DefaultEventLogDir
	}
	if cfg.EventLog.RotationHours == 0 {
		cfg.EventLog.RotationHours = DefaultEventLogRotationHours
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Gates == nil {
		cfg.Gates = &GatesConfig{}
	}
	if cfg.Gates.Commands == nil {
		cfg.Gates.Commands = map[string]string{}
	}
	if cfg.Agents == nil {
		cfg.Agents = &AgentsConfig{}
	}
	if cfg.Agents.Commands == nil {
		cfg.Agents.Commands = map[string]string{}
	}
	if cfg.Logs == nil {
		cfg.Logs = &LogsConfig{}
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = DefaultLogsDir
	}
	if cfg.Logs.RotationHours == 0 {
		cfg.Logs.RotationHours = DefaultLogRotationHours
	}
}

func validateConfig(cfg *Config) error {
	if cfg.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	if cfg.Cache != nil && cfg.Cache.TTLHours < 0 {
		return fmt.Errorf("cache ttl_hours cannot be negative")
	}
	if cfg.EventLog != nil && cfg.EventLog.RotationHours < 0 {
		return fmt.Errorf("eventlog rotation_hours cannot be negative")
	}
	if cfg.Logs != nil && cfg.Logs.RotationHours < 0 {
		return fmt.Errorf("logs rotation_hours cannot be negative")
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.PrometheusURL != "" {
		if err := validateURL(cfg.Metrics.PrometheusURL); err != nil {
			return fmt.Errorf("metrics prometheus_url: %w", err)
		}
	}
	if cfg.Gates != nil {
		if err := validateCommandMap("gate", cfg.Gates.Commands); err != nil {
			return err
		}
	}
	if cfg.Agents != nil {
		if err := validateCommandMap("agent", cfg.Agents.Commands); err != nil {
			return err
		}
	}
	return nil
}

func validateCommandMap(kind string, commands map[string]string) error {
	for name, command := range commands {
		if name == "" {
			return fmt.Errorf("%s name cannot be empty", kind)
		}
		if command == "" {
			return fmt.Errorf("%s %s has an empty command", kind, name)
		}
	}
	return nil
}

func validateURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("must start with http:// or https://")
	}
	return nil
}

// resolveConductorPath resolves a config path against the .conductor
// directory unless it is already absolute.
func resolveConductorPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	base, err := GetProjectConductorDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p), nil
}

// CacheDir returns the resolved gate cache directory.
func CacheDir() (string, error) {
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	return resolveConductorPath(cfg.Cache.Dir)
}

// DatabasePath returns the resolved run database path.
func DatabasePath() (string, error) {
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	return resolveConductorPath(cfg.Database.Path)
}

// EventLogDir returns the resolved event journal directory.
func EventLogDir() (string, error) {
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	return resolveConductorPath(cfg.EventLog.Dir)
}

// LogsDir returns the resolved conductor log directory.
func LogsDir() (string, error) {
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	return resolveConductorPath(cfg.Logs.Dir)
}
