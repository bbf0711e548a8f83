package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeHumble()
	c.normalizeSteam()
	c.normalizeRedemption()
	c.normalizeFriendKeys()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LedgerDir) == "" {
		c.Paths.LedgerDir = defaultLedgerDir
	}
	if c.Paths.LedgerDir, err = expandPath(c.Paths.LedgerDir); err != nil {
		return fmt.Errorf("paths.ledger_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.FriendRulesFile, err = expandPath(strings.TrimSpace(c.Paths.FriendRulesFile)); err != nil {
		return fmt.Errorf("paths.friend_rules_file: %w", err)
	}
	if c.Paths.MetricsTextfile, err = expandPath(strings.TrimSpace(c.Paths.MetricsTextfile)); err != nil {
		return fmt.Errorf("paths.metrics_textfile: %w", err)
	}
	return nil
}

func (c *Config) normalizeHumble() {
	c.Humble.BaseURL = strings.TrimRight(strings.TrimSpace(c.Humble.BaseURL), "/")
	if c.Humble.BaseURL == "" {
		c.Humble.BaseURL = defaultHumbleBaseURL
	}
	c.Humble.SessionCookie = strings.TrimSpace(c.Humble.SessionCookie)
	if c.Humble.SessionCookie == "" {
		if value, ok := os.LookupEnv("HUMBLE_SESSION"); ok {
			c.Humble.SessionCookie = strings.TrimSpace(value)
		}
	}
	c.Humble.BrowserDebugURL = strings.TrimSpace(c.Humble.BrowserDebugURL)
	if c.Humble.RequestTimeout <= 0 {
		c.Humble.RequestTimeout = defaultRequestTimeout
	}
	if c.Humble.InventoryTimeout <= 0 {
		c.Humble.InventoryTimeout = defaultInventoryTimeout
	}
	if c.Humble.InventoryConcurrency <= 0 {
		c.Humble.InventoryConcurrency = defaultInventoryConcurrency
	}
	if c.Humble.OrderCacheMaxAge < 0 {
		c.Humble.OrderCacheMaxAge = 0
	}
}

func (c *Config) normalizeSteam() {
	c.Steam.BaseURL = strings.TrimRight(strings.TrimSpace(c.Steam.BaseURL), "/")
	if c.Steam.BaseURL == "" {
		c.Steam.BaseURL = defaultSteamBaseURL
	}
	c.Steam.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Steam.APIBaseURL), "/")
	if c.Steam.APIBaseURL == "" {
		c.Steam.APIBaseURL = defaultSteamAPIBaseURL
	}
	c.Steam.LoginSecure = strings.TrimSpace(c.Steam.LoginSecure)
	if c.Steam.LoginSecure == "" {
		if value, ok := os.LookupEnv("STEAM_LOGIN_SECURE"); ok {
			c.Steam.LoginSecure = strings.TrimSpace(value)
		}
	}
	c.Steam.SessionID = strings.TrimSpace(c.Steam.SessionID)
	if c.Steam.SessionID == "" {
		if value, ok := os.LookupEnv("STEAM_SESSION_ID"); ok {
			c.Steam.SessionID = strings.TrimSpace(value)
		}
	}
	c.Steam.APIKey = strings.TrimSpace(c.Steam.APIKey)
	if c.Steam.APIKey == "" {
		if value, ok := os.LookupEnv("STEAM_API_KEY"); ok {
			c.Steam.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Steam.RequestTimeout <= 0 {
		c.Steam.RequestTimeout = defaultRequestTimeout
	}
	if c.Steam.MinRequestInterval < 0 {
		c.Steam.MinRequestInterval = 0
	}
}

func (c *Config) normalizeRedemption() {
	if c.Redemption.RevealAttempts <= 0 {
		c.Redemption.RevealAttempts = defaultRevealAttempts
	}
	if c.Redemption.RevealBackoff < 0 {
		c.Redemption.RevealBackoff = 0
	}
	if c.Redemption.SessionKeepAlive <= 0 {
		c.Redemption.SessionKeepAlive = defaultSessionKeepAlive
	}
}

func (c *Config) normalizeFriendKeys() {
	c.FriendKeys.High = cleanRules(c.FriendKeys.High)
	c.FriendKeys.Medium = cleanRules(c.FriendKeys.Medium)
	c.FriendKeys.Low = cleanRules(c.FriendKeys.Low)
	c.FriendKeys.Exact = cleanRules(c.FriendKeys.Exact)
}

func cleanRules(rules []string) []string {
	if len(rules) == 0 {
		return nil
	}
	out := make([]string, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		normalized := strings.ToLower(strings.TrimSpace(rule))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("KEYREDEEM_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
