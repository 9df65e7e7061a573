// ABOUTME: Configuration loading and parsing for familiar
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete familiar configuration
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Agent     AgentConfig     `yaml:"agent"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TelegramConfig holds the chat frontend configuration
type TelegramConfig struct {
	Token string `yaml:"token"`
	// AllowedChatIDs limits which chats the bot answers. Empty means all.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`

	PollTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollTimeoutRaw string `yaml:"poll_timeout"`
}

// AgentConfig holds the agent subprocess configuration
type AgentConfig struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model"`
	WorkDir  string   `yaml:"workdir"`

	// SessionTTL ≤ 0 disables session reuse (fresh session per call).
	SessionTTL time.Duration `yaml:"-"`
	// CallTimeout ≤ 0 leaves chat calls unsupervised by a deadline.
	CallTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionTTLRaw  string `yaml:"session_ttl"`
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// HeartbeatConfig holds the periodic maintenance prompt configuration
type HeartbeatConfig struct {
	Prompt string `yaml:"prompt"`

	// Interval ≤ 0 disables the heartbeat scheduler.
	Interval time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
	TimeoutRaw  string `yaml:"timeout"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default durations applied when the config file leaves them unset. An
// explicit "0s" or negative value is honored as written.
const (
	defaultPollTimeout      = 50 * time.Second
	defaultSessionTTL       = 30 * time.Minute
	defaultCallTimeout      = 5 * time.Minute
	defaultHeartbeatTimeout = 5 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills durations and logging settings the file left unset.
func (c *Config) applyDefaults() {
	if c.Telegram.PollTimeoutRaw == "" {
		c.Telegram.PollTimeout = defaultPollTimeout
	}
	if c.Agent.SessionTTLRaw == "" {
		c.Agent.SessionTTL = defaultSessionTTL
	}
	if c.Agent.CallTimeoutRaw == "" {
		c.Agent.CallTimeout = defaultCallTimeout
	}
	if c.Heartbeat.TimeoutRaw == "" {
		c.Heartbeat.Timeout = defaultHeartbeatTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}

	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}

	// A server address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Telegram.PollTimeoutRaw != "" {
		cfg.Telegram.PollTimeout, err = time.ParseDuration(cfg.Telegram.PollTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing telegram.poll_timeout %q: %w", cfg.Telegram.PollTimeoutRaw, err)
		}
	}

	if cfg.Agent.SessionTTLRaw != "" {
		cfg.Agent.SessionTTL, err = time.ParseDuration(cfg.Agent.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.session_ttl %q: %w", cfg.Agent.SessionTTLRaw, err)
		}
	}

	if cfg.Agent.CallTimeoutRaw != "" {
		cfg.Agent.CallTimeout, err = time.ParseDuration(cfg.Agent.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.call_timeout %q: %w", cfg.Agent.CallTimeoutRaw, err)
		}
	}

	if cfg.Heartbeat.IntervalRaw != "" {
		cfg.Heartbeat.Interval, err = time.ParseDuration(cfg.Heartbeat.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat.interval %q: %w", cfg.Heartbeat.IntervalRaw, err)
		}
	}

	if cfg.Heartbeat.TimeoutRaw != "" {
		cfg.Heartbeat.Timeout, err = time.ParseDuration(cfg.Heartbeat.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat.timeout %q: %w", cfg.Heartbeat.TimeoutRaw, err)
		}
	}

	return nil
}
