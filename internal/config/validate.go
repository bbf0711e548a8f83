package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateRedemption(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateFriendKeys(); err != nil {
		return err
	}
	if err := c.validateOwnership(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateCredentials reports missing account credentials. It is separate from
// Validate so ledger maintenance commands work without a login.
func (c *Config) ValidateCredentials() error {
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	if c.Humble.SessionCookie == "" && c.Humble.BrowserDebugURL == "" {
		return fmt.Errorf("humble.session_cookie or humble.browser_debug_url is required. Set HUMBLE_SESSION env var or edit %s (create with 'keyredeem config init')", defaultPath)
	}
	if c.Steam.LoginSecure == "" || c.Steam.SessionID == "" {
		return fmt.Errorf("steam.login_secure and steam.session_id are required. Set STEAM_LOGIN_SECURE and STEAM_SESSION_ID or edit %s", defaultPath)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.LedgerDir) == "" {
		return errors.New("paths.ledger_dir must be set")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for name, raw := range map[string]string{
		"humble.base_url":          c.Humble.BaseURL,
		"steam.base_url":           c.Steam.BaseURL,
		"steam.api_base_url":       c.Steam.APIBaseURL,
		"humble.browser_debug_url": c.Humble.BrowserDebugURL,
	} {
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Humble.BrowserDebugURL != "" && !strings.HasPrefix(c.Humble.BrowserDebugURL, "ws") {
		return errors.New("humble.browser_debug_url must use ws:// or wss://")
	}
	return nil
}

func (c *Config) validateRedemption() error {
	if c.Redemption.RateLimitCheck <= 0 {
		return errors.New("redemption.rate_limit_check_seconds must be positive")
	}
	if c.Redemption.RateLimitRetry <= 0 {
		return errors.New("redemption.rate_limit_retry_seconds must be positive")
	}
	if c.Redemption.RateLimitRetry%c.Redemption.RateLimitCheck != 0 {
		return errors.New("redemption.rate_limit_retry_seconds must be a multiple of rate_limit_check_seconds")
	}
	if c.Redemption.KeepAlive <= 0 {
		return errors.New("redemption.keep_alive_seconds must be positive")
	}
	if c.Redemption.KeepAlive%c.Redemption.RateLimitCheck != 0 {
		return errors.New("redemption.keep_alive_seconds must be a multiple of rate_limit_check_seconds")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.FailureThreshold <= 0 {
		return errors.New("session.failure_threshold must be positive")
	}
	if c.Session.RecoveryBudget < 0 {
		return errors.New("session.recovery_budget must be zero or positive")
	}
	return nil
}

func (c *Config) validateFriendKeys() error {
	high, low := c.FriendKeys.HighConfidence, c.FriendKeys.LowConfidence
	if high <= 0 || high > 1 {
		return errors.New("friend_keys.high_confidence must be in (0, 1]")
	}
	if low <= 0 || low > 1 {
		return errors.New("friend_keys.low_confidence must be in (0, 1]")
	}
	if low > high {
		return errors.New("friend_keys.low_confidence must not exceed high_confidence")
	}
	return nil
}

func (c *Config) validateOwnership() error {
	for name, value := range map[string]int{
		"ownership.match_threshold":    c.Ownership.MatchThreshold,
		"ownership.broad_threshold":    c.Ownership.BroadThreshold,
		"ownership.version_similarity": c.Ownership.VersionSimilarity,
	} {
		if value < 0 || value > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if c.Ownership.BroadThreshold > c.Ownership.MatchThreshold {
		return errors.New("ownership.broad_threshold must not exceed match_threshold")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}
