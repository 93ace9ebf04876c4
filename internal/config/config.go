// Package config loads the broker's on-disk configuration: the agent
// descriptor table and the daemon/web settings alongside it, both YAML, in
// the same style project.go reads a project's registration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ccbroker/broker/internal/agent"
)

// rootEnvVar overrides the default "~/.ccbroker" root, the way CATHERDD_ROOT
// overrides the teacher's default data root.
const rootEnvVar = "CCBROKER_ROOT"

// AgentEntry is one row of agents.yaml: the on-disk shape of agent.Descriptor
// plus the bits only configuration (not the core) needs to know.
type AgentEntry struct {
	Name             string   `yaml:"name"`
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	WorkingDir       string   `yaml:"working_dir"`
	ReadyPattern     string   `yaml:"ready_pattern"`
	ErrorPatterns    []string `yaml:"error_patterns"`
	SentinelTemplate string   `yaml:"sentinel_template"`
	SentinelRegex    string   `yaml:"sentinel_regex"`
	DoneTemplate     string   `yaml:"done_template"`
	DoneRegex        string   `yaml:"done_regex"`
	SupportsCWD      bool     `yaml:"supports_cwd"`
	LogProvider      string   `yaml:"log_provider"`
	LogPathPattern   string   `yaml:"log_path_pattern"`
}

// Descriptor converts the on-disk entry into the core's agent.Descriptor.
func (e AgentEntry) Descriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:             e.Name,
		Command:          e.Command,
		Args:             e.Args,
		WorkingDir:       e.WorkingDir,
		ReadyPattern:     e.ReadyPattern,
		ErrorPatterns:    e.ErrorPatterns,
		SentinelTemplate: e.SentinelTemplate,
		SentinelRegex:    e.SentinelRegex,
		DoneTemplate:     e.DoneTemplate,
		DoneRegex:        e.DoneRegex,
		SupportsCWD:      e.SupportsCWD,
		LogProviderKind:  e.LogProvider,
	}
}

// TimeoutConfig mirrors the original's TimeoutConfig, values in seconds (and
// one in milliseconds) the way the source YAML spells them; Resolve converts
// to time.Duration for session.Timeouts.
type TimeoutConfig struct {
	DefaultSeconds       uint64 `yaml:"default"`
	StartupSeconds       uint64 `yaml:"startup"`
	ReadyCheckSeconds    uint64 `yaml:"ready_check"`
	QueueWaitSeconds     uint64 `yaml:"queue_wait"`
	MaxStuckSeconds      uint64 `yaml:"max_stuck_duration"`
	MaxStartRetries      uint32 `yaml:"max_start_retries"`
	StartRetryDelayMilli uint64 `yaml:"start_retry_delay_ms"`
}

// DefaultTimeoutConfig mirrors the Rust original's Default impl exactly.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		DefaultSeconds:       600,
		StartupSeconds:       30,
		ReadyCheckSeconds:    30,
		QueueWaitSeconds:     60,
		MaxStuckSeconds:      300,
		MaxStartRetries:      3,
		StartRetryDelayMilli: 1000,
	}
}

// WebConfig controls the HTTP/WebSocket surface (§4.8, §6).
type WebConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	AuthToken        string `yaml:"auth_token"`
	InputEnabled     bool   `yaml:"input_enabled"`
	OutputBufferSize int    `yaml:"output_buffer_size"`
}

// DefaultWebConfig mirrors the original's WebConfig::default().
func DefaultWebConfig() WebConfig {
	return WebConfig{
		Host:             "127.0.0.1",
		Port:             8765,
		InputEnabled:     false,
		OutputBufferSize: 10 << 20,
	}
}

// Config is the broker's full parsed configuration.
type Config struct {
	Agents   []AgentEntry  `yaml:"agents"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Web      WebConfig     `yaml:"web"`
}

// Default returns the stock three-agent configuration the original ships
// (codex, gemini, opencode, each driven by its matching log provider).
func Default() Config {
	return Config{
		Agents: []AgentEntry{
			{Name: "codex", Command: "codex", LogProvider: "codex"},
			{Name: "gemini", Command: "gemini", LogProvider: "gemini"},
			{Name: "opencode", Command: "opencode", LogProvider: "opencode"},
		},
		Timeouts: DefaultTimeoutConfig(),
		Web:      DefaultWebConfig(),
	}
}

// Root returns the broker's data root: CCBROKER_ROOT if set, else
// ~/.ccbroker.
func Root() (string, error) {
	if root := os.Getenv(rootEnvVar); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ccbroker"), nil
}

// Load reads agents.yaml and broker.yaml from root, falling back to Default
// for any file that does not exist.
func Load(root string) (Config, error) {
	cfg := Default()

	agentsPath := filepath.Join(root, "agents.yaml")
	if data, err := os.ReadFile(agentsPath); err == nil {
		var parsed struct {
			Agents []AgentEntry `yaml:"agents"`
		}
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", agentsPath, err)
		}
		if len(parsed.Agents) > 0 {
			cfg.Agents = parsed.Agents
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", agentsPath, err)
	}

	brokerPath := filepath.Join(root, "broker.yaml")
	if data, err := os.ReadFile(brokerPath); err == nil {
		var parsed struct {
			Timeouts TimeoutConfig `yaml:"timeouts"`
			Web      WebConfig     `yaml:"web"`
		}
		parsed.Timeouts = cfg.Timeouts
		parsed.Web = cfg.Web
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", brokerPath, err)
		}
		cfg.Timeouts = parsed.Timeouts
		cfg.Web = parsed.Web
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", brokerPath, err)
	}

	return cfg, nil
}

// Resolve converts TimeoutConfig's on-disk seconds/milliseconds into the
// time.Duration values session.Timeouts needs.
func (t TimeoutConfig) Resolve() (def, startup, queueWait, maxStuck time.Duration, maxRetries int, retryDelay time.Duration) {
	return time.Duration(t.DefaultSeconds) * time.Second,
		time.Duration(t.StartupSeconds) * time.Second,
		time.Duration(t.QueueWaitSeconds) * time.Second,
		time.Duration(t.MaxStuckSeconds) * time.Second,
		int(t.MaxStartRetries),
		time.Duration(t.StartRetryDelayMilli) * time.Millisecond
}
