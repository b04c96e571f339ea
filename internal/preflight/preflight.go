package preflight

import (
	"context"

	"audiorelay/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State directory (always checked; holds the lock and cache index)
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.Cache.Enabled {
		results = append(results, CheckDirectoryAccess("Cache directory", cfg.Cache.Dir))
	}

	if cfg.Extractor.Enabled {
		results = append(results, CheckExtractor(cfg))
	}

	if cfg.StreamCache.Enabled && cfg.StreamCache.RedisAddr != "" {
		results = append(results, CheckRedis(ctx, cfg.StreamCache))
	}

	for _, svc := range cfg.Remote.Services {
		if !svc.Enabled {
			continue
		}
		results = append(results, CheckRemoteService(ctx, svc))
	}

	return results
}

// Failed returns the subset of results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
