// ABOUTME: Configuration loading and parsing for notegate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "NOTEGATE_CONFIG"

// Config represents the complete notegate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Upstream  UpstreamConfig  `yaml:"upstream" toml:"upstream"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Gate      GateConfig      `yaml:"gate" toml:"gate"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`
	Shutdown  ShutdownConfig  `yaml:"shutdown" toml:"shutdown"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	UI        UIConfig        `yaml:"ui" toml:"ui"`
}

// ServerConfig holds the public listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve TLS on :443 with a tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose publicly via Funnel (implies HTTPS)
}

// UpstreamConfig describes the supervised note application
type UpstreamConfig struct {
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	Dir     string   `yaml:"dir" toml:"dir"`
	Env     []string `yaml:"env" toml:"env"`
	Host    string   `yaml:"host" toml:"host"`
	Port    int      `yaml:"port" toml:"port"`
	PortEnv []string `yaml:"port_env" toml:"port_env"`
	Restart bool     `yaml:"restart" toml:"restart"`

	StopTimeout  time.Duration `yaml:"-" toml:"-"`
	RestartDelay time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	StopTimeoutRaw  string `yaml:"stop_timeout" toml:"stop_timeout"`
	RestartDelayRaw string `yaml:"restart_delay" toml:"restart_delay"`
}

// StorageConfig locates the key file and credential files
type StorageConfig struct {
	Dir        string `yaml:"dir" toml:"dir"`
	KeyFile    string `yaml:"key_file" toml:"key_file"`
	MasterFile string `yaml:"master_file" toml:"master_file"`
	UsersFile  string `yaml:"users_file" toml:"users_file"`
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	MaxAge time.Duration `yaml:"-" toml:"-"`
	// Signed adds an HS256 session token alongside the cookie pair.
	Signed bool `yaml:"signed" toml:"signed"`

	MaxAgeRaw string `yaml:"max_age" toml:"max_age"`
}

// GateConfig holds request gate configuration
type GateConfig struct {
	// StaticPrefixes are proxied without a session check.
	StaticPrefixes []string `yaml:"static_prefixes" toml:"static_prefixes"`

	// LoginAttempts is how many failed logins a client gets per
	// LoginWindow. Zero disables the limit.
	LoginAttempts int           `yaml:"login_attempts" toml:"login_attempts"`
	LoginWindow   time.Duration `yaml:"-" toml:"-"`

	LoginWindowRaw string `yaml:"login_window" toml:"login_window"`
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	Disabled bool   `yaml:"disabled" toml:"disabled"`
	Path     string `yaml:"path" toml:"path"`
}

// ShutdownConfig bounds the whole graceful shutdown
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// UIConfig holds page customization
type UIConfig struct {
	Title           string `yaml:"title" toml:"title"`
	LoginNotice     string `yaml:"login_notice" toml:"login_notice"`           // markdown
	LoginNoticeFile string `yaml:"login_notice_file" toml:"login_notice_file"` // markdown file, read at load
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8100"},
		Tailscale: TailscaleConfig{
			Hostname: "notegate",
		},
		Upstream: UpstreamConfig{
			Command:         "node",
			Args:            []string{"server.js"},
			Host:            "127.0.0.1",
			Port:            3000,
			PortEnv:         []string{"PORT", "NOTEPAD_PORT"},
			StopTimeoutRaw:  "3s",
			RestartDelayRaw: "5s",
		},
		Storage: StorageConfig{
			Dir:        ".",
			KeyFile:    "encryption.secret.key",
			MasterFile: "master_auth_config.enc",
			UsersFile:  "user_credentials.enc",
		},
		Session: SessionConfig{MaxAgeRaw: "1h"},
		Gate: GateConfig{
			StaticPrefixes: []string{"/css/", "/js/", "/uploads/"},
			LoginAttempts:  10,
			LoginWindowRaw: "15m",
		},
		Shutdown: ShutdownConfig{TimeoutRaw: "10s"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns the config path: $NOTEGATE_CONFIG if set, else
// gateway.yaml under the user's config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "notegate", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML. Keys absent
// from the file keep their defaults. Environment variables in the format
// ${VAR_NAME} are expanded. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Finalize(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize parses durations, resolves relative file references against
// baseDir, and validates. Load calls it; callers building a Config by hand
// (such as Default) call it themselves.
func (c *Config) Finalize(baseDir string) error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	if c.UI.LoginNoticeFile != "" && c.UI.LoginNotice == "" {
		path := c.UI.LoginNoticeFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		notice, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading ui.login_notice_file: %w", err)
		}
		c.UI.LoginNotice = string(notice)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The TCP listener is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Upstream.Command == "" {
		return fmt.Errorf("upstream.command is required")
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port must be between 1 and 65535, got %d", c.Upstream.Port)
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	for name, v := range map[string]string{
		"storage.key_file":    c.Storage.KeyFile,
		"storage.master_file": c.Storage.MasterFile,
		"storage.users_file":  c.Storage.UsersFile,
	} {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive")
	}
	if c.Upstream.StopTimeout <= 0 {
		return fmt.Errorf("upstream.stop_timeout must be positive")
	}
	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	if c.Upstream.StopTimeout > c.Shutdown.Timeout {
		return fmt.Errorf("upstream.stop_timeout (%s) must not exceed shutdown.timeout (%s)",
			c.Upstream.StopTimeout, c.Shutdown.Timeout)
	}

	if c.Gate.LoginAttempts < 0 {
		return fmt.Errorf("gate.login_attempts must not be negative")
	}
	if c.Gate.LoginAttempts > 0 && c.Gate.LoginWindow <= 0 {
		return fmt.Errorf("gate.login_window must be positive when gate.login_attempts is set")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a logging.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"upstream.stop_timeout", cfg.Upstream.StopTimeoutRaw, &cfg.Upstream.StopTimeout},
		{"upstream.restart_delay", cfg.Upstream.RestartDelayRaw, &cfg.Upstream.RestartDelay},
		{"session.max_age", cfg.Session.MaxAgeRaw, &cfg.Session.MaxAge},
		{"shutdown.timeout", cfg.Shutdown.TimeoutRaw, &cfg.Shutdown.Timeout},
		{"gate.login_window", cfg.Gate.LoginWindowRaw, &cfg.Gate.LoginWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// resolve joins name onto the storage directory unless it is absolute.
func (s StorageConfig) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.Dir, name)
}

// KeyPath returns the secret key file path.
func (s StorageConfig) KeyPath() string { return s.resolve(s.KeyFile) }

// MasterPath returns the master credential file path.
func (s StorageConfig) MasterPath() string { return s.resolve(s.MasterFile) }

// UsersPath returns the user credentials file path.
func (s StorageConfig) UsersPath() string { return s.resolve(s.UsersFile) }

// AuditPath returns the audit database path, defaulting to audit.db in the
// storage directory.
func (c *Config) AuditPath() string {
	if c.Audit.Path != "" {
		return c.Storage.resolve(c.Audit.Path)
	}
	return c.Storage.resolve("audit.db")
}

// TailscaleStateDir returns the tsnet state directory, defaulting to
// tsnet/ in the storage directory.
func (c *Config) TailscaleStateDir() string {
	if c.Tailscale.StateDir != "" {
		return c.Tailscale.StateDir
	}
	return c.Storage.resolve("tsnet")
}
