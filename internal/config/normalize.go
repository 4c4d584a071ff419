package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeRemote()
	c.normalizeTransfer()
	c.normalizeEvents()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("FERRY_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	origins := c.API.AllowedOrigins[:0]
	for _, origin := range c.API.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.API.AllowedOrigins = origins
}

func (c *Config) normalizeRemote() {
	c.Remote.Mode = strings.ToLower(strings.TrimSpace(c.Remote.Mode))
	if c.Remote.Mode == "" {
		c.Remote.Mode = defaultRemoteMode
	}
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	c.Remote.Username = strings.TrimSpace(c.Remote.Username)
	if c.Remote.Password == "" {
		if value, ok := os.LookupEnv("FERRY_REMOTE_PASSWORD"); ok {
			c.Remote.Password = value
		}
	}
	if c.Remote.RequestTimeoutSeconds <= 0 {
		c.Remote.RequestTimeoutSeconds = defaultRemoteRequestTimeout
	}
	if c.Remote.ReadyTimeoutSeconds <= 0 {
		c.Remote.ReadyTimeoutSeconds = defaultRemoteReadyTimeout
	}
	c.Remote.LoginPath = endpointOrDefault(c.Remote.LoginPath, defaultRemoteLoginPath)
	c.Remote.ReadyPath = endpointOrDefault(c.Remote.ReadyPath, defaultRemoteReadyPath)
	c.Remote.IndividualPath = endpointOrDefault(c.Remote.IndividualPath, defaultRemoteIndividualPath)
	c.Remote.GroupModePath = endpointOrDefault(c.Remote.GroupModePath, defaultRemoteGroupModePath)
	c.Remote.GroupMemberPath = endpointOrDefault(c.Remote.GroupMemberPath, defaultRemoteGroupMemberPath)
	c.Remote.GroupSubmitPath = endpointOrDefault(c.Remote.GroupSubmitPath, defaultRemoteGroupSubmitPath)
	c.Remote.LogoutPath = endpointOrDefault(c.Remote.LogoutPath, defaultRemoteLogoutPath)
	reject := c.Remote.DryRunReject[:0]
	for _, number := range c.Remote.DryRunReject {
		if trimmed := strings.TrimSpace(number); trimmed != "" {
			reject = append(reject, trimmed)
		}
	}
	c.Remote.DryRunReject = reject
}

func endpointOrDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}

func (c *Config) normalizeTransfer() {
	if c.Transfer.ItemTimeoutSeconds < 0 {
		c.Transfer.ItemTimeoutSeconds = 0
	}
	if c.Transfer.MaxConcurrentBatches == 0 {
		c.Transfer.MaxConcurrentBatches = defaultMaxConcurrentBatches
	}
	if c.Transfer.JobRetentionMinutes <= 0 {
		c.Transfer.JobRetentionMinutes = defaultJobRetentionMinutes
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.HubCapacity <= 0 {
		c.Events.HubCapacity = defaultHubCapacity
	}
	c.Events.RedisURL = strings.TrimSpace(c.Events.RedisURL)
	if c.Events.RedisURL == "" {
		if value, ok := os.LookupEnv("FERRY_REDIS_URL"); ok {
			c.Events.RedisURL = strings.TrimSpace(value)
		}
	}
	c.Events.RedisChannel = strings.TrimSpace(c.Events.RedisChannel)
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = defaultRedisChannel
	}
	if c.Events.RedisBuffer <= 0 {
		c.Events.RedisBuffer = defaultRedisBuffer
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
