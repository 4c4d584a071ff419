package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Mode {
	case RemoteModeDryRun:
		return nil
	case RemoteModeHTTP:
	default:
		return fmt.Errorf("remote.mode must be %q or %q, got %q", RemoteModeHTTP, RemoteModeDryRun, c.Remote.Mode)
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url must be set when remote.mode is http")
	}
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url %q is not an absolute URL", c.Remote.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("remote.base_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if c.Remote.Username == "" {
		return errors.New("remote.username must be set when remote.mode is http")
	}
	if c.Remote.Password == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/ferry/config.toml"
		}
		return fmt.Errorf("remote.password is required. Set FERRY_REMOTE_PASSWORD env var or edit %s (create with 'ferry config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.Transfer.MaxConcurrentBatches < 0 {
		return errors.New("transfer.max_concurrent_batches must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.RedisURL == "" {
		return nil
	}
	if !strings.HasPrefix(c.Events.RedisURL, "redis://") && !strings.HasPrefix(c.Events.RedisURL, "rediss://") {
		return fmt.Errorf("events.redis_url must start with redis:// or rediss://, got %q", c.Events.RedisURL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
}
