package testsupport

import (
	"path/filepath"
	"testing"

	"ferry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The remote defaults to dry-run mode so no network access is required.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Remote.Mode = config.RemoteModeDryRun

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRemoteHTTP points the config at an HTTP remote such as an httptest server.
func WithRemoteHTTP(baseURL, username, password string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.Mode = config.RemoteModeHTTP
		b.cfg.Remote.BaseURL = baseURL
		b.cfg.Remote.Username = username
		b.cfg.Remote.Password = password
	}
}

// WithDryRunReject makes the dry-run driver refuse the given student numbers.
func WithDryRunReject(numbers ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.DryRunReject = append([]string(nil), numbers...)
	}
}

// WithAPIToken sets the bearer token required by the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
