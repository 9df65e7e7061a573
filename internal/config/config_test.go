// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to a temp config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "familiar.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const validConfig = `
telegram:
  token: "123456:test-token"
  allowed_chat_ids:
    - 1111
    - 2222
  poll_timeout: "30s"

agent:
  command: "/usr/local/bin/familiar-agent"
  args: ["--verbose"]
  provider: "anthropic"
  model: "claude-sonnet-4-5"
  workdir: "/var/lib/familiar/work"
  session_ttl: "5m"
  call_timeout: "10m"

heartbeat:
  interval: "30m"
  timeout: "3m"
  prompt: "Check in on the workspace."

server:
  http_addr: "127.0.0.1:8787"

database:
  path: "./familiar.db"

logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Telegram.Token != "123456:test-token" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowedChatIDs) != 2 || cfg.Telegram.AllowedChatIDs[0] != 1111 {
		t.Errorf("Telegram.AllowedChatIDs = %v", cfg.Telegram.AllowedChatIDs)
	}
	if cfg.Telegram.PollTimeout != 30*time.Second {
		t.Errorf("Telegram.PollTimeout = %v, want 30s", cfg.Telegram.PollTimeout)
	}
	if cfg.Agent.Command != "/usr/local/bin/familiar-agent" {
		t.Errorf("Agent.Command = %q", cfg.Agent.Command)
	}
	if len(cfg.Agent.Args) != 1 || cfg.Agent.Args[0] != "--verbose" {
		t.Errorf("Agent.Args = %v", cfg.Agent.Args)
	}
	if cfg.Agent.SessionTTL != 5*time.Minute {
		t.Errorf("Agent.SessionTTL = %v, want 5m", cfg.Agent.SessionTTL)
	}
	if cfg.Agent.CallTimeout != 10*time.Minute {
		t.Errorf("Agent.CallTimeout = %v, want 10m", cfg.Agent.CallTimeout)
	}
	if cfg.Heartbeat.Interval != 30*time.Minute {
		t.Errorf("Heartbeat.Interval = %v, want 30m", cfg.Heartbeat.Interval)
	}
	if cfg.Heartbeat.Prompt != "Check in on the workspace." {
		t.Errorf("Heartbeat.Prompt = %q", cfg.Heartbeat.Prompt)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:8787" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./familiar.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "123456:token-from-env")
	t.Setenv("TEST_JWT_SECRET", "secret-from-env")

	cfg, err := Load(writeConfig(t, `
telegram:
  token: "${TEST_BOT_TOKEN}"

agent:
  command: "familiar-agent"

auth:
  jwt_secret: "${TEST_JWT_SECRET}"

server:
  http_addr: "127.0.0.1:8787"

database:
  path: "./familiar.db"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Telegram.Token != "123456:token-from-env" {
		t.Errorf("Telegram.Token = %q, want value from env", cfg.Telegram.Token)
	}
	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want value from env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "123456:test-token"

agent:
  command: "familiar-agent"

server:
  http_addr: "127.0.0.1:8787"

database:
  path: "./familiar.db"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Telegram.PollTimeout != defaultPollTimeout {
		t.Errorf("PollTimeout = %v, want default %v", cfg.Telegram.PollTimeout, defaultPollTimeout)
	}
	if cfg.Agent.SessionTTL != defaultSessionTTL {
		t.Errorf("SessionTTL = %v, want default %v", cfg.Agent.SessionTTL, defaultSessionTTL)
	}
	if cfg.Agent.CallTimeout != defaultCallTimeout {
		t.Errorf("CallTimeout = %v, want default %v", cfg.Agent.CallTimeout, defaultCallTimeout)
	}
	if cfg.Heartbeat.Interval != 0 {
		t.Errorf("Heartbeat.Interval = %v, want 0 (disabled) when unset", cfg.Heartbeat.Interval)
	}
	if cfg.Heartbeat.Timeout != defaultHeartbeatTimeout {
		t.Errorf("Heartbeat.Timeout = %v, want default %v", cfg.Heartbeat.Timeout, defaultHeartbeatTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoad_ExplicitZeroTTLDisablesReuse(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "123456:test-token"

agent:
  command: "familiar-agent"
  session_ttl: "0s"

server:
  http_addr: "127.0.0.1:8787"

database:
  path: "./familiar.db"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// An explicit zero must not be replaced by the default.
	if cfg.Agent.SessionTTL != 0 {
		t.Errorf("SessionTTL = %v, want 0 for explicit zero", cfg.Agent.SessionTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/familiar.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "telegram: [not: valid"))
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
telegram:
  token: "123456:test-token"

agent:
  command: "familiar-agent"
  session_ttl: "not-a-duration"

server:
  http_addr: "127.0.0.1:8787"

database:
  path: "./familiar.db"
`))
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "session_ttl") {
		t.Errorf("error = %v, want session_ttl parse error", err)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing telegram token",
			content: `
agent:
  command: "familiar-agent"
server:
  http_addr: "127.0.0.1:8787"
database:
  path: "./familiar.db"
`,
			wantErr: "telegram.token",
		},
		{
			name: "missing agent command",
			content: `
telegram:
  token: "123456:test-token"
server:
  http_addr: "127.0.0.1:8787"
database:
  path: "./familiar.db"
`,
			wantErr: "agent.command",
		},
		{
			name: "missing http addr without tailscale",
			content: `
telegram:
  token: "123456:test-token"
agent:
  command: "familiar-agent"
database:
  path: "./familiar.db"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale enabled without hostname",
			content: `
telegram:
  token: "123456:test-token"
agent:
  command: "familiar-agent"
tailscale:
  enabled: true
database:
  path: "./familiar.db"
`,
			wantErr: "tailscale.hostname",
		},
		{
			name: "missing database path",
			content: `
telegram:
  token: "123456:test-token"
agent:
  command: "familiar-agent"
server:
  http_addr: "127.0.0.1:8787"
`,
			wantErr: "database.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_TailscaleReplacesHTTPAddr(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "123456:test-token"

agent:
  command: "familiar-agent"

tailscale:
  enabled: true
  hostname: "familiar"
  ephemeral: true

database:
  path: "./familiar.db"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "familiar" {
		t.Errorf("Tailscale = %+v", cfg.Tailscale)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
