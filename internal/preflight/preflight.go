package preflight

import (
	"context"

	"reelflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if !cfg.Drivers.DryRun {
		results = append(results,
			CheckEndpoint(ctx, "Renderer", cfg.Drivers.Renderer),
			CheckEndpoint(ctx, "Captioner", cfg.Drivers.Captioner),
			CheckEndpoint(ctx, "Publisher", cfg.Drivers.Publisher),
		)
	}

	if cfg.Webhooks.RequireSignature {
		results = append(results, CheckWebhookSecrets(cfg.Webhooks))
	}

	if cfg.Lock.Backend == config.LockBackendNATS {
		results = append(results, CheckNATS(ctx, cfg.Lock.NATSURL))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
