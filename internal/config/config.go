package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the daemon HTTP listener configuration.
type API struct {
	Bind           string   `toml:"bind"`
	Token          string   `toml:"token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Remote describes the external system the automation driver talks to.
type Remote struct {
	Mode                  string `toml:"mode"`
	BaseURL               string `toml:"base_url"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	ReadyTimeoutSeconds   int    `toml:"ready_timeout_seconds"`
	LoginPath             string `toml:"login_path"`
	ReadyPath             string `toml:"ready_path"`
	IndividualPath        string `toml:"individual_path"`
	GroupModePath         string `toml:"group_mode_path"`
	GroupMemberPath       string `toml:"group_member_path"`
	GroupSubmitPath       string `toml:"group_submit_path"`
	LogoutPath            string `toml:"logout_path"`
	// DryRunReject lists student numbers the dry-run driver refuses.
	DryRunReject []string `toml:"dry_run_reject"`
}

// Transfer contains batch execution limits.
type Transfer struct {
	ItemTimeoutSeconds   int `toml:"item_timeout_seconds"`
	MaxConcurrentBatches int `toml:"max_concurrent_batches"`
	JobRetentionMinutes  int `toml:"job_retention_minutes"`
}

// Events configures progress event fan-out.
type Events struct {
	HubCapacity  int    `toml:"hub_capacity"`
	RedisURL     string `toml:"redis_url"`
	RedisChannel string `toml:"redis_channel"`
	RedisBuffer  int    `toml:"redis_buffer"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BatchCompleted bool   `toml:"batch_completed"`
	BatchErrors    bool   `toml:"batch_errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for ferry.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - API: daemon listener, bearer token, CORS origins
//   - Remote: automation driver mode, endpoint, credentials, timeouts
//   - Transfer: per-item timeout, concurrent batch cap, job retention
//   - Events: in-memory hub size and optional Redis pub/sub
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Remote        Remote        `toml:"remote"`
	Transfer      Transfer      `toml:"transfer"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ferry/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ferry.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite records database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "ferry.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ferry.lock")
}

// PIDPath returns the file the daemon writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "ferry.pid")
}

// LogPath returns the daemon log file inside the log directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "ferry.log")
}

// ItemTimeout returns the per-item deadline; zero disables it.
func (c *Config) ItemTimeout() time.Duration {
	return time.Duration(c.Transfer.ItemTimeoutSeconds) * time.Second
}

// JobRetention returns how long finished jobs stay visible to pollers.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.Transfer.JobRetentionMinutes) * time.Minute
}

// RemoteRequestTimeout returns the HTTP timeout for remote calls.
func (c *Config) RemoteRequestTimeout() time.Duration {
	return time.Duration(c.Remote.RequestTimeoutSeconds) * time.Second
}

// RemoteReadyTimeout bounds driver initialization plus readiness.
func (c *Config) RemoteReadyTimeout() time.Duration {
	return time.Duration(c.Remote.ReadyTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
