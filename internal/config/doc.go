// Package config handles configuration loading for familiar.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FAMILIAR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/familiar/familiar.yaml
//  3. ~/.config/familiar/familiar.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	telegram:
//	  token: "${TELEGRAM_BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  session_ttl: "30m"
//	  call_timeout: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Telegram:
//
//	telegram:
//	  token: "${TELEGRAM_BOT_TOKEN}"  # Required
//	  allowed_chat_ids: [123456789]   # Empty list allows all chats
//	  poll_timeout: "50s"
//
// Agent subprocess:
//
//	agent:
//	  command: "familiar-agent"       # Required
//	  args: ["--verbose"]
//	  provider: "anthropic"
//	  model: "claude-sonnet-4-5"
//	  workdir: "/var/lib/familiar/work"
//	  session_ttl: "30m"              # "0s" starts a fresh session per call
//	  call_timeout: "5m"              # "0s" disables the watchdog kill
//
// Heartbeat:
//
//	heartbeat:
//	  interval: "30m"                 # Omit or "0s" to disable
//	  timeout: "5m"
//	  prompt: "Check in on the workspace."
//
// Server:
//
//	server:
//	  http_addr: "127.0.0.1:8787"     # Dashboard API
//
// Database:
//
//	database:
//	  path: "/var/lib/familiar/familiar.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${FAMILIAR_JWT_SECRET}"  # Omit to leave the API open
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "familiar"
//	  auth_key: "${TS_AUTHKEY}"
//	  ephemeral: false
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Telegram token presence
//   - Agent command presence
//   - HTTP listen address (unless Tailscale serves the API)
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/familiar/familiar.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
