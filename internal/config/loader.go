// Package config loads the JSON configuration file, applies deploy-time
// environment overrides and builds the process logger.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"quartermaster/internal/domain"
)

// DefaultPath is the config file used when QUARTERMASTER_CONFIG is unset.
const DefaultPath = "quartermaster.json"

// Environment variables read by Path and ApplyEnv.
const (
	EnvConfigPath  = "QUARTERMASTER_CONFIG"
	EnvDatabaseURL = "QUARTERMASTER_DATABASE_URL"
	EnvLogLevel    = "QUARTERMASTER_LOG_LEVEL"
	EnvScannerURL  = "QUARTERMASTER_SCANNER_URL"
	EnvPort        = "QUARTERMASTER_PORT"
)

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
	lookupEnv     = os.LookupEnv
)

// Default returns the configuration written by WriteDefault.
func Default() *domain.Config {
	return &domain.Config{
		Gateway: domain.GatewayConfig{
			Enabled: true,
			Port:    8080,
			Auth:    domain.AuthConfig{Mode: "none"},
		},
		Agent: domain.AgentConfig{
			Provider:        "gemini",
			Model:           "gemini-2.0-flash",
			MaxIterations:   5,
			ToolTimeoutMs:   30000,
			ToolConcurrency: 1,
		},
		History: domain.HistoryConfig{
			Dir:           "history",
			MaxMessages:   10,
			MaxAgeMinutes: 30,
			MaxTokens:     4000,
			Encoding:      "cl100k_base",
		},
		Database: domain.DatabaseConfig{URL: "file:quartermaster.db"},
		Discord:  domain.DiscordConfig{Enabled: true},
		Scanner: domain.ScannerConfig{
			URL:                    "http://localhost:8001",
			TimeoutMs:              60000,
			ChannelCacheTTLSeconds: 300,
			MaxImageEdge:           4096,
			Faction:                "all",
		},
		Reminders: domain.ReminderConfig{Enabled: true, Cron: "0 * * * *", WarnHours: 6},
		Infra:     domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
		Retry: domain.RetryConfig{
			MaxRetries:     0,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
	}
}

// Path returns the config file path from QUARTERMASTER_CONFIG or DefaultPath.
func Path() string {
	if p, ok := lookupEnv(EnvConfigPath); ok && p != "" {
		return p
	}
	return DefaultPath
}

// WriteDefault writes Default() to path. Parent directories are not created.
func WriteDefault(path string) error {
	data, err := marshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path on top of Default(), so omitted keys keep their defaults,
// then applies environment overrides and cleans path fields.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if err := ApplyEnv(c); err != nil {
		return nil, err
	}
	CleanPaths(c)
	return c, nil
}

// ApplyEnv overrides deploy-time fields from the environment.
func ApplyEnv(cfg *domain.Config) error {
	if v, ok := lookupEnv(EnvDatabaseURL); ok && v != "" {
		cfg.Database.URL = v
	}
	if v, ok := lookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Infra.LogLevel = v
	}
	if v, ok := lookupEnv(EnvScannerURL); ok && v != "" {
		cfg.Scanner.URL = v
	}
	if v, ok := lookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: invalid %s %q", EnvPort, v)
		}
		cfg.Gateway.Port = port
	}
	return nil
}

// CleanPaths applies filepath.Clean to all path fields in cfg to prevent path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.History.Dir != "" {
		cfg.History.Dir = filepath.Clean(cfg.History.Dir)
	}
	if cfg.Prompts.OverridePath != "" {
		cfg.Prompts.OverridePath = filepath.Clean(cfg.Prompts.OverridePath)
	}
}

// Validate reports configuration values the daemon cannot run with.
func Validate(cfg *domain.Config) []string {
	var problems []string
	if cfg.Agent.MaxIterations < 1 {
		problems = append(problems, "agent.maxIterations must be >= 1")
	}
	if cfg.Agent.ToolTimeoutMs < 1 {
		problems = append(problems, "agent.toolTimeoutMs must be >= 1")
	}
	if cfg.Agent.ToolConcurrency < 1 {
		problems = append(problems, "agent.toolConcurrency must be >= 1")
	}
	switch cfg.Agent.Provider {
	case "", "gemini", "local":
	default:
		problems = append(problems, fmt.Sprintf("agent.provider %q is not supported (gemini, local)", cfg.Agent.Provider))
	}
	if cfg.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}
	if cfg.Gateway.Enabled && (cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535) {
		problems = append(problems, "gateway.port must be between 1 and 65535")
	}
	if cfg.Reminders.Enabled {
		if strings.TrimSpace(cfg.Reminders.Cron) == "" {
			problems = append(problems, "reminders.cron is required when reminders are enabled")
		}
		if cfg.Reminders.WarnHours < 1 {
			problems = append(problems, "reminders.warnHours must be >= 1")
		}
	}
	if _, err := ParseLogLevel(cfg.Infra.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	switch cfg.Infra.LogFormat {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("infra.logFormat %q is not supported (text, json)", cfg.Infra.LogFormat))
	}
	return problems
}

// Save writes cfg to path as JSON, creating the parent directory.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
