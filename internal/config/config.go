package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains on-disk locations used by a run.
type Paths struct {
	LedgerDir       string `toml:"ledger_dir"`
	CacheDir        string `toml:"cache_dir"`
	LogDir          string `toml:"log_dir"`
	FriendRulesFile string `toml:"friend_rules_file"`
	MetricsTextfile string `toml:"metrics_textfile"`
}

// Humble contains storefront session settings.
type Humble struct {
	BaseURL              string `toml:"base_url"`
	SessionCookie        string `toml:"session_cookie"`
	BrowserDebugURL      string `toml:"browser_debug_url"`
	RequestTimeout       int    `toml:"request_timeout_seconds"`
	InventoryTimeout     int    `toml:"inventory_timeout_seconds"`
	InventoryConcurrency int    `toml:"inventory_concurrency"`
	OrderCacheMaxAge     int    `toml:"order_cache_max_age_hours"`
}

// Steam contains registrar account settings.
type Steam struct {
	BaseURL            string `toml:"base_url"`
	APIBaseURL         string `toml:"api_base_url"`
	LoginSecure        string `toml:"login_secure"`
	SessionID          string `toml:"session_id"`
	APIKey             string `toml:"api_key"`
	OwnedCacheMaxAge   int    `toml:"owned_cache_max_age_minutes"`
	MinRequestInterval int    `toml:"min_request_interval_ms"`
	RequestTimeout     int    `toml:"request_timeout_seconds"`
}

// Redemption contains pacing for reveal, redeem, and rate-limit handling.
type Redemption struct {
	RateLimitCheck   int `toml:"rate_limit_check_seconds"`
	RateLimitRetry   int `toml:"rate_limit_retry_seconds"`
	KeepAlive        int `toml:"keep_alive_seconds"`
	SessionKeepAlive int `toml:"session_keep_alive_minutes"`
	RevealAttempts   int `toml:"reveal_attempts"`
	RevealBackoff    int `toml:"reveal_backoff_seconds"`
}

// Session bounds remote session recovery.
type Session struct {
	FailureThreshold int `toml:"failure_threshold"`
	RecoveryBudget   int `toml:"recovery_budget"`
}

// FriendKeys configures friend/co-op key detection. The rule lists extend
// the built-in tiers.
type FriendKeys struct {
	Enabled        bool     `toml:"enabled"`
	HighConfidence float64  `toml:"high_confidence"`
	LowConfidence  float64  `toml:"low_confidence"`
	High           []string `toml:"high"`
	Medium         []string `toml:"medium"`
	Low            []string `toml:"low"`
	Exact          []string `toml:"exact"`
}

// Ownership configures fuzzy owned-title matching.
type Ownership struct {
	MatchThreshold    int `toml:"match_threshold"`
	BroadThreshold    int `toml:"broad_threshold"`
	VersionSimilarity int `toml:"version_similarity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for keyredeem.
//
// Configuration sections by subsystem:
//   - Paths: ledger, cache, and log locations
//   - Humble: storefront session and inventory fetch
//   - Steam: registrar credentials and owned-app cache
//   - Redemption: rate-limit polling and reveal retries
//   - Session: recovery threshold and run-wide budget
//   - FriendKeys: friend/co-op detection rules
//   - Ownership: fuzzy owned-title thresholds
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Humble        Humble        `toml:"humble"`
	Steam         Steam         `toml:"steam"`
	Redemption    Redemption    `toml:"redemption"`
	Session       Session       `toml:"session"`
	FriendKeys    FriendKeys    `toml:"friend_keys"`
	Ownership     Ownership     `toml:"ownership"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("keyredeem.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the ledger, cache, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LedgerDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RateLimitCheckInterval is the sleep between rate-limit polls.
func (c *Config) RateLimitCheckInterval() time.Duration {
	return time.Duration(c.Redemption.RateLimitCheck) * time.Second
}

// RateLimitRetryInterval is how often a rate-limited redeem is re-attempted.
func (c *Config) RateLimitRetryInterval() time.Duration {
	return time.Duration(c.Redemption.RateLimitRetry) * time.Second
}

// KeepAliveInterval is the keep-alive cadence while waiting out a rate limit.
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.Redemption.KeepAlive) * time.Second
}

// SessionKeepAliveInterval is the keep-alive cadence between keys.
func (c *Config) SessionKeepAliveInterval() time.Duration {
	return time.Duration(c.Redemption.SessionKeepAlive) * time.Minute
}

// RevealBackoff is the base delay of the linear reveal backoff.
func (c *Config) RevealBackoff() time.Duration {
	return time.Duration(c.Redemption.RevealBackoff) * time.Second
}

// InventoryTimeout bounds the background inventory fetch.
func (c *Config) InventoryTimeout() time.Duration {
	return time.Duration(c.Humble.InventoryTimeout) * time.Second
}

// OrderCacheMaxAge bounds reuse of cached order details.
func (c *Config) OrderCacheMaxAge() time.Duration {
	return time.Duration(c.Humble.OrderCacheMaxAge) * time.Hour
}

// OwnedCacheMaxAge bounds reuse of the cached owned-app catalog.
func (c *Config) OwnedCacheMaxAge() time.Duration {
	return time.Duration(c.Steam.OwnedCacheMaxAge) * time.Minute
}

// LedgerFile returns the path of a file stored next to the ledger buckets.
func (c *Config) LedgerFile(name string) string {
	return filepath.Join(c.Paths.LedgerDir, name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "keyredeem")
	}
	return "~/.cache/keyredeem"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
