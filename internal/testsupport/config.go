package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"keyredeem/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Credentials are filled with placeholders so credential checks pass.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LedgerDir = filepath.Join(base, "ledger")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.FriendRulesFile = ""
	cfgVal.Paths.MetricsTextfile = ""
	cfgVal.Humble.SessionCookie = "test-session"
	cfgVal.Humble.BrowserDebugURL = ""
	cfgVal.Steam.LoginSecure = "test-login"
	cfgVal.Steam.SessionID = "test-sessionid"
	cfgVal.Steam.APIKey = ""
	cfgVal.Notifications.NtfyTopic = ""

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

// WithHumbleURL points the storefront client at a test server.
func WithHumbleURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Humble.BaseURL = url
	}
}

// WithSteamURL points the registrar client at a test server for both the
// store and the web API.
func WithSteamURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Steam.BaseURL = url
		b.cfg.Steam.APIBaseURL = url
	}
}

// WithNtfyTopic enables notifications against the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithMetricsTextfile writes run metrics inside the temp dir.
func WithMetricsTextfile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.MetricsTextfile = filepath.Join(b.baseDir, name)
	}
}

// WithFriendRules writes a rules file with the given lines and points the
// config at it.
func WithFriendRules(lines ...string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "friend_rules.txt")
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
			b.t.Fatalf("write friend rules: %v", err)
		}
		b.cfg.Paths.FriendRulesFile = path
	}
}

// WithSession sets the recovery threshold and budget.
func WithSession(threshold, budget int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Session.FailureThreshold = threshold
		b.cfg.Session.RecoveryBudget = budget
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LedgerDir)
}
