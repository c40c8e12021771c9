package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// LocalConfigName is the project-local config file searched for upwards from the working directory
	LocalConfigName = "bundle-orch.toml"

	// PortEnv overrides the test server port
	PortEnv = "NODE_PORT"

	// DefaultPort is the test server port when neither the file nor PortEnv set one
	DefaultPort = 21113
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general" yaml:"general"`
	Bundler       BundlerConfig       `toml:"bundler" yaml:"bundler"`
	Server        ServerConfig        `toml:"server" yaml:"server"`
	Tests         TestsConfig         `toml:"tests" yaml:"tests"`
	Notifications NotificationsConfig `toml:"notifications" yaml:"notifications"`
	History       HistoryConfig       `toml:"history" yaml:"history"`
	Schedules     []ScheduleConfig    `toml:"schedule" yaml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot string `toml:"project_root" yaml:"project_root"`
}

// BundlerConfig describes how to invoke the external bundler
type BundlerConfig struct {
	Command         string         `toml:"command" yaml:"command"`
	ConfigFile      string         `toml:"config_file" yaml:"config_file"`
	Args            []string       `toml:"args" yaml:"args"`
	WatchIntervalMs int            `toml:"watch_interval_ms" yaml:"watch_interval_ms"`
	MainBundle      string         `toml:"main_bundle" yaml:"main_bundle"`
	TestBundle      string         `toml:"test_bundle" yaml:"test_bundle"`
	OutputPaths     []string       `toml:"output_paths" yaml:"output_paths"`
	Bundles         []BundleConfig `toml:"bundle" yaml:"bundle"`
}

// BundleConfig is one named entry of the bundler's multi-config
type BundleConfig struct {
	Name       string   `toml:"name" yaml:"name"`
	WatchPaths []string `toml:"watch_paths" yaml:"watch_paths"`
}

// ServerConfig holds test server settings
type ServerConfig struct {
	Port int    `toml:"port" yaml:"port"`
	Host string `toml:"host" yaml:"host"`
	Root string `toml:"root" yaml:"root"`
}

// TestsConfig describes how to invoke the headless test runner
type TestsConfig struct {
	Runner      string   `toml:"runner" yaml:"runner"`
	Reporter    string   `toml:"reporter" yaml:"reporter"`
	Page        string   `toml:"page" yaml:"page"`
	Args        []string `toml:"args" yaml:"args"`
	TimeoutSecs int      `toml:"timeout_secs" yaml:"timeout_secs"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop" yaml:"desktop"`
	SlackWebhook string `toml:"slack_webhook" yaml:"slack_webhook"`
	GoodIcon     string `toml:"good_icon" yaml:"good_icon"`
	BadIcon      string `toml:"bad_icon" yaml:"bad_icon"`
}

// HistoryConfig holds run history settings
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	DatabasePath string `toml:"database_path" yaml:"database_path"`
}

// ScheduleConfig is a cron-triggered task
type ScheduleConfig struct {
	Name string `toml:"name" yaml:"name"`
	Cron string `toml:"cron" yaml:"cron"`
	Task string `toml:"task" yaml:"task"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Bundler: BundlerConfig{
			Command:         nodeBin("webpack"),
			ConfigFile:      "webpack.config.js",
			WatchIntervalMs: 200,
			MainBundle:      "main",
			TestBundle:      "test",
			OutputPaths:     []string{"dist", "build"},
			Bundles: []BundleConfig{
				{Name: "main", WatchPaths: []string{"src"}},
				{Name: "test", WatchPaths: []string{"src", filepath.Join("test", "spec")}},
			},
		},
		Server: ServerConfig{
			Port: DefaultPort,
			Host: "localhost",
			Root: "test",
		},
		Tests: TestsConfig{
			Runner:   nodeBin("mocha-phantomjs"),
			Reporter: "spec",
			Page:     "index.html",
		},
		Notifications: NotificationsConfig{
			Desktop:  true,
			GoodIcon: filepath.Join("test", "notifications", "good.png"),
			BadIcon:  filepath.Join("test", "notifications", "bad.png"),
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".bundle-orch", "history.db"),
		},
	}
}

// nodeBin returns the path of a locally installed node tool
func nodeBin(name string) string {
	if runtime.GOOS == "windows" {
		name += ".cmd"
	}
	return filepath.Join("node_modules", ".bin", name)
}

// Load reads configuration from a TOML or YAML file, falling back to defaults.
// The PortEnv environment variable overrides the configured port. When a file
// is read, the project root defaults to its directory and a relative
// project_root is taken relative to it.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	loaded := err == nil
	if loaded {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = toml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)
	if loaded {
		base := filepath.Dir(path)
		switch {
		case cfg.General.ProjectRoot == "":
			cfg.General.ProjectRoot = base
		case !filepath.IsAbs(cfg.General.ProjectRoot):
			cfg.General.ProjectRoot = filepath.Join(base, cfg.General.ProjectRoot)
		}
	}
	if cfg.General.ProjectRoot != "" {
		abs, err := filepath.Abs(cfg.General.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("resolving project root: %w", err)
		}
		cfg.General.ProjectRoot = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path if given, otherwise the
// nearest LocalConfigName, otherwise defaults.
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(LocalConfigName)
}

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (c *Config) applyEnv() error {
	port, err := envInt(PortEnv, c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port
	return nil
}

func envInt(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

// Validate checks the config is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Bundler.Command == "" {
		return fmt.Errorf("bundler command is required")
	}
	if c.Tests.Runner == "" {
		return fmt.Errorf("test runner is required")
	}
	if c.Bundler.WatchIntervalMs < 0 {
		return fmt.Errorf("watch_interval_ms must not be negative")
	}

	seen := make(map[string]bool)
	for _, b := range c.Bundler.Bundles {
		if b.Name == "" {
			return fmt.Errorf("bundle name is required")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bundle %q", b.Name)
		}
		seen[b.Name] = true
	}
	for _, name := range []string{c.Bundler.MainBundle, c.Bundler.TestBundle} {
		if !seen[name] {
			return fmt.Errorf("bundle %q is not configured", name)
		}
	}
	return nil
}

// Bundle returns the named bundle config
func (c *Config) Bundle(name string) (BundleConfig, bool) {
	for _, b := range c.Bundler.Bundles {
		if b.Name == name {
			return b, true
		}
	}
	return BundleConfig{}, false
}

// WatchInterval returns the watch debounce as a duration
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Bundler.WatchIntervalMs) * time.Millisecond
}

// TestURL returns the page the headless runner loads
func (c *Config) TestURL() string {
	return fmt.Sprintf("http://%s:%d/%s", c.Server.Host, c.Server.Port, strings.TrimPrefix(c.Tests.Page, "/"))
}

// Resolve returns path relative to the project root unless it is absolute
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.General.ProjectRoot == "" {
		return path
	}
	return filepath.Join(c.General.ProjectRoot, path)
}

// ResolveCommand resolves a command like Resolve, leaving bare names such as
// "webpack" to be looked up in PATH
func (c *Config) ResolveCommand(cmd string) string {
	if !strings.ContainsAny(cmd, `/\`) {
		return cmd
	}
	return c.Resolve(cmd)
}

// Save writes the config as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal encodes the config as TOML
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
