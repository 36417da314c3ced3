// Package config handles configuration loading for notegate.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the file name ends
// in .toml) with environment variable expansion. Keys missing from the file
// keep the defaults from Default(), so an empty file is a valid config.
//
// # Configuration File
//
// Location:
//
//  1. Path from the NOTEGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/notegate/gateway.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	upstream:
//	  stop_timeout: "3s"
//	  restart_delay: "5s"
//	session:
//	  max_age: "1h"
//	shutdown:
//	  timeout: "10s"
//	gate:
//	  login_window: "15m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8100"
//
//	upstream:
//	  command: "node"
//	  args: ["server.js"]
//	  dir: "/srv/notes"
//	  port: 3000
//	  port_env: ["PORT", "NOTEPAD_PORT"]
//	  restart: false
//
//	storage:
//	  dir: "/var/lib/notegate"
//	  key_file: "encryption.secret.key"
//	  master_file: "master_auth_config.enc"
//	  users_file: "user_credentials.enc"
//
//	session:
//	  signed: false
//
//	gate:
//	  static_prefixes: ["/css/", "/js/", "/uploads/"]
//	  login_attempts: 10   # failed logins per client per window, 0 disables
//
//	audit:
//	  disabled: false
//	  path: "audit.db"   # relative to storage.dir
//
//	tailscale:
//	  enabled: false
//	  hostname: "notegate"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	ui:
//	  title: "Team Notes"
//	  login_notice: "**Heads up:** maintenance on Friday."
//
// # Validation
//
// Load() rejects a missing listener, an out-of-range upstream port,
// non-positive durations, a child stop timeout longer than the shutdown
// bound, and unknown logging values.
package config
