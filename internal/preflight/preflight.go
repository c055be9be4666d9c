package preflight

import (
	"context"
	"slices"

	"ytauto/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options selects the optional network probes.
type Options struct {
	// HealthCheck issues one ping request per LLM provider in use and runs
	// each command provider's probe_args.
	HealthCheck bool
}

// RunAll executes all applicable preflight checks for the given config.
// Provider checks cover only providers that some line chain references; in
// dry-run mode every chain is the simulator, so only directories are checked.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Orchestrator.DryRun {
		return results
	}

	for _, p := range ProvidersInUse(cfg) {
		switch p.Kind {
		case config.ProviderCommand:
			results = append(results, CheckCommand(ctx, p, opts.HealthCheck))
		case config.ProviderLLM:
			results = append(results, CheckLLM(ctx, p, opts.HealthCheck))
		}
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

// ProvidersInUse lists the providers referenced by any line chain, in
// declaration order.
func ProvidersInUse(cfg *config.Config) []config.Provider {
	var used []string
	for _, line := range cfg.Lines {
		for _, stage := range line.Stages {
			for _, name := range line.Providers[stage] {
				if !slices.Contains(used, name) {
					used = append(used, name)
				}
			}
		}
	}
	var out []config.Provider
	for _, p := range cfg.Providers {
		if slices.Contains(used, p.Name) {
			out = append(out, p)
		}
	}
	return out
}
