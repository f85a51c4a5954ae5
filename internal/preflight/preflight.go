// Package preflight provides readiness checks for the paths, disk
// space, binaries, and remote services the daemon depends on. The
// daemon runs them at startup; the CLI surfaces them in status output.
package preflight

import (
	"context"

	"subforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable checks for the given config. Checks
// for unconfigured features are skipped.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckFreeSpace("Work directory space", cfg.Paths.WorkDir),
	}

	if cfg.Translation.APIKey != "" {
		results = append(results, CheckTranslationAPI(ctx, cfg.Translation))
	}

	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
