package preflight

import (
	"context"

	"ferry/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data and log directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	// Remote form system (dry-run has nothing to reach)
	if cfg.Remote.Mode == config.RemoteModeHTTP {
		results = append(results, CheckRemote(ctx, cfg.Remote.BaseURL))
	}

	// Redis event fan-out
	if cfg.Events.RedisURL != "" {
		results = append(results, CheckRedis(ctx, cfg.Events.RedisURL))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
