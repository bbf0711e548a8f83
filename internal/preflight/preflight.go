package preflight

import (
	"context"
	"fmt"
	"strings"

	"keyredeem/internal/config"
	"keyredeem/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Optional bool
}

// RunAll executes all applicable preflight checks for the given config.
// Remote checks are skipped when remote is false.
func RunAll(ctx context.Context, cfg *config.Config, remote bool) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Ledger directory", cfg.Paths.LedgerDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
	}
	if cfg.Paths.FriendRulesFile != "" {
		r := CheckReadable("Friend rules file", cfg.Paths.FriendRulesFile)
		r.Optional = true
		results = append(results, r)
	}
	results = append(results, CheckCredentials(cfg))

	if !remote {
		return results
	}
	results = append(results, CheckEndpoint(ctx, "Storefront", cfg.Humble.BaseURL))
	if cfg.Humble.BrowserDebugURL != "" {
		results = append(results, CheckEndpoint(ctx, "Browser debug endpoint", browserVersionURL(cfg.Humble.BrowserDebugURL)))
	}
	results = append(results, CheckEndpoint(ctx, "Registrar", cfg.Steam.BaseURL))
	return results
}

// Failed returns an ErrConfiguration error naming every failed required
// check, or nil.
func Failed(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "", strings.Join(failed, "; "), nil)
}

func browserVersionURL(debugURL string) string {
	base := strings.TrimRight(strings.TrimSpace(debugURL), "/")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)
	if i := strings.Index(base, "/devtools/"); i >= 0 {
		base = base[:i]
	}
	return base + "/json/version"
}
