// Package config provides YAML-based configuration loading for OQQWall.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level OQQWall configuration, loaded from oqqwall.yaml.
type Config struct {
	DB        DBConfig        `yaml:"db"`
	Paths     PathsConfig     `yaml:"paths"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Transport TransportConfig `yaml:"transport"`
	Renewal   CommandConfig   `yaml:"renewal"`
	Notify    CommandConfig   `yaml:"notify"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Control   ControlConfig   `yaml:"control"`
	Logging   LoggingConfig   `yaml:"logging"`
	Groups    []GroupConfig   `yaml:"groups"`
}

// DBConfig selects the staging store backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PathsConfig holds on-disk locations shared with the upstream pipeline.
type PathsConfig struct {
	CacheDir  string `yaml:"cache_dir"`  // media sets live in <cache_dir>/<tag>/
	CookieDir string `yaml:"cookie_dir"` // credential blobs: cookies-<uin>.json
	CrashLog  string `yaml:"crash_log"`
}

// DispatchConfig tunes the flush retry loop.
type DispatchConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AtUnprivSender bool          `yaml:"at_unpriv_sender"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	RenewTimeout   time.Duration `yaml:"renew_timeout"`
}

// TransportConfig selects how payloads reach the Sender Service.
type TransportConfig struct {
	Mode   string `yaml:"mode"`   // "socket" (default) or "command"
	Helper string `yaml:"helper"` // command template, e.g. "nc -U {endpoint}"
}

// CommandConfig is a shell command template for an external collaborator.
type CommandConfig struct {
	Command string `yaml:"command"`
}

// AlertsConfig configures operator alert sinks.
type AlertsConfig struct {
	RatePerMinute int          `yaml:"rate_per_minute"`
	Slack         ChannelAlert `yaml:"slack"`
	Discord       ChannelAlert `yaml:"discord"`
}

// ChannelAlert is a bot token plus the channel alerts are posted to.
type ChannelAlert struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelAlert) Enabled() bool {
	return c.Token != "" && c.Channel != ""
}

// ControlConfig configures the long-running control listener.
type ControlConfig struct {
	Socket   string `yaml:"socket"`
	HTTPPort int    `yaml:"http_port"`
}

// LoggingConfig mirrors logx.Config.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`
}

// Identity is one account of a group and the endpoint its sender listens on.
type Identity struct {
	UIN      string `yaml:"uin"`
	Endpoint string `yaml:"endpoint"`
}

// GroupConfig describes one account group.
type GroupConfig struct {
	Name             string     `yaml:"name"`
	Main             Identity   `yaml:"main"`
	Minors           []Identity `yaml:"minors"`
	MaxPostStack     int        `yaml:"max_post_stack"`
	MaxImagesPerPost int        `yaml:"max_images_per_post"`
	AtUnprivSender   *bool      `yaml:"at_unpriv_sender"`
	FlushSchedule    string     `yaml:"flush_schedule"`
}

// AccountGroupConfig is the read-only per-group value handed to the
// dispatch engine.
type AccountGroupConfig struct {
	Name             string
	Main             Identity
	Minors           []Identity
	MaxPostStack     int
	MaxImagesPerPost int
	AtUnprivSender   bool
	MaxAttempts      int
}

// Identity resolves uin to one of the group's identities, falling back to
// the main account when uin is empty or unknown.
func (g AccountGroupConfig) Identity(uin string) Identity {
	if uin == "" || uin == g.Main.UIN {
		return g.Main
	}
	for _, m := range g.Minors {
		if m.UIN == uin {
			return m
		}
	}
	return g.Main
}

var groupNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded first so OQQWALL_*
// variables can override file values.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Group returns the per-group config for name.
func (c *Config) Group(name string) (AccountGroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name != name {
			continue
		}
		at := c.Dispatch.AtUnprivSender
		if g.AtUnprivSender != nil {
			at = *g.AtUnprivSender
		}
		return AccountGroupConfig{
			Name:             g.Name,
			Main:             g.Main,
			Minors:           append([]Identity(nil), g.Minors...),
			MaxPostStack:     g.MaxPostStack,
			MaxImagesPerPost: g.MaxImagesPerPost,
			AtUnprivSender:   at,
			MaxAttempts:      c.Dispatch.MaxAttempts,
		}, true
	}
	return AccountGroupConfig{}, false
}

// GroupNames returns the configured group names in file order.
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		names = append(names, g.Name)
	}
	return names
}

// applyEnv overlays OQQWALL_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("OQQWALL_DB_DRIVER"); v != "" {
		c.DB.Driver = v
	}
	if v := os.Getenv("OQQWALL_DB_PATH"); v != "" {
		c.DB.Path = v
	}
	if v := os.Getenv("OQQWALL_DB_HOST"); v != "" {
		c.DB.Host = v
	}
	if v := os.Getenv("OQQWALL_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.DB.Port = p
		}
	}
	if v := os.Getenv("OQQWALL_DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("OQQWALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OQQWALL_SLACK_TOKEN"); v != "" {
		c.Alerts.Slack.Token = v
	}
	if v := os.Getenv("OQQWALL_DISCORD_TOKEN"); v != "" {
		c.Alerts.Discord.Token = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "./cache/OQQWall.db"
	}
	if c.DB.Driver == "mysql" {
		if c.DB.Host == "" {
			c.DB.Host = "127.0.0.1"
		}
		if c.DB.Port == 0 {
			c.DB.Port = 3306
		}
		if c.DB.User == "" {
			c.DB.User = "root"
		}
		if c.DB.Database == "" {
			c.DB.Database = "oqqwall"
		}
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = "./cache/picture"
	}
	if c.Paths.CookieDir == "" {
		c.Paths.CookieDir = "./cache/cookies"
	}
	if c.Paths.CrashLog == "" {
		c.Paths.CrashLog = "./cache/crash_report.log"
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Dispatch.LockTimeout == 0 {
		c.Dispatch.LockTimeout = 90 * time.Second
	}
	if c.Dispatch.RenewTimeout == 0 {
		c.Dispatch.RenewTimeout = 120 * time.Second
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = "socket"
	}
	if c.Alerts.RatePerMinute == 0 {
		c.Alerts.RatePerMinute = 6
	}
	if c.Control.Socket == "" {
		c.Control.Socket = "./cache/control.sock"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.Groups {
		if c.Groups[i].MaxPostStack == 0 {
			c.Groups[i].MaxPostStack = 1
		}
		if c.Groups[i].MaxImagesPerPost == 0 {
			c.Groups[i].MaxImagesPerPost = 30
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q must be sqlite or mysql", c.DB.Driver))
	}
	switch c.Transport.Mode {
	case "socket":
	case "command":
		if !strings.Contains(c.Transport.Helper, "{endpoint}") {
			errs = append(errs, "transport.helper must contain {endpoint} when mode is command")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.mode %q must be socket or command", c.Transport.Mode))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch.max_attempts must be >= 1")
	}
	if len(c.Groups) == 0 {
		errs = append(errs, "at least one group is required")
	}
	seen := make(map[string]bool)
	for i, g := range c.Groups {
		if g.Name == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].name is required", i))
		} else if !groupNameRE.MatchString(g.Name) {
			errs = append(errs, fmt.Sprintf("groups[%d].name %q may only contain letters, digits and underscore", i, g.Name))
		} else if seen[g.Name] {
			errs = append(errs, fmt.Sprintf("groups[%d].name %q is duplicated", i, g.Name))
		}
		seen[g.Name] = true
		if g.Main.UIN == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].main.uin is required", i))
		}
		if g.Main.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].main.endpoint is required", i))
		}
		for j, m := range g.Minors {
			if m.UIN == "" || m.Endpoint == "" {
				errs = append(errs, fmt.Sprintf("groups[%d].minors[%d] needs uin and endpoint", i, j))
			}
		}
		if g.MaxPostStack < 1 {
			errs = append(errs, fmt.Sprintf("groups[%d].max_post_stack must be >= 1", i))
		}
		if g.MaxImagesPerPost < 1 {
			errs = append(errs, fmt.Sprintf("groups[%d].max_images_per_post must be >= 1", i))
		}
		if g.FlushSchedule != "" {
			if _, err := ParseSchedule(g.FlushSchedule); err != nil {
				errs = append(errs, fmt.Sprintf("groups[%d].flush_schedule: %v", i, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
