package config

const (
	defaultConfigPath              = "~/.config/keyredeem/config.toml"
	defaultLedgerDir               = "~/.local/share/keyredeem"
	defaultLogDir                  = "~/.local/share/keyredeem/logs"
	defaultHumbleBaseURL           = "https://www.humblebundle.com"
	defaultSteamBaseURL            = "https://store.steampowered.com"
	defaultSteamAPIBaseURL         = "https://api.steampowered.com"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultRequestTimeout          = 30
	defaultInventoryTimeout        = 300
	defaultInventoryConcurrency    = 4
	defaultOrderCacheMaxAge        = 24
	defaultOwnedCacheMaxAge        = 60
	defaultMinRequestInterval      = 1500
	defaultRateLimitCheck          = 10
	defaultRateLimitRetry          = 300
	defaultKeepAlive               = 60
	defaultSessionKeepAlive        = 5
	defaultRevealAttempts          = 3
	defaultRevealBackoff           = 2
	defaultFailureThreshold        = 3
	defaultRecoveryBudget          = 10
	defaultFriendHighConfidence    = 0.8
	defaultFriendLowConfidence     = 0.5
	defaultOwnershipMatch          = 90
	defaultOwnershipBroad          = 70
	defaultOwnershipVersionSimilar = 85
	defaultNotifyRequestTimeout    = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LedgerDir: defaultLedgerDir,
			CacheDir:  defaultCacheDir(),
			LogDir:    defaultLogDir,
		},
		Humble: Humble{
			BaseURL:              defaultHumbleBaseURL,
			RequestTimeout:       defaultRequestTimeout,
			InventoryTimeout:     defaultInventoryTimeout,
			InventoryConcurrency: defaultInventoryConcurrency,
			OrderCacheMaxAge:     defaultOrderCacheMaxAge,
		},
		Steam: Steam{
			BaseURL:            defaultSteamBaseURL,
			APIBaseURL:         defaultSteamAPIBaseURL,
			OwnedCacheMaxAge:   defaultOwnedCacheMaxAge,
			MinRequestInterval: defaultMinRequestInterval,
			RequestTimeout:     defaultRequestTimeout,
		},
		Redemption: Redemption{
			RateLimitCheck:   defaultRateLimitCheck,
			RateLimitRetry:   defaultRateLimitRetry,
			KeepAlive:        defaultKeepAlive,
			SessionKeepAlive: defaultSessionKeepAlive,
			RevealAttempts:   defaultRevealAttempts,
			RevealBackoff:    defaultRevealBackoff,
		},
		Session: Session{
			FailureThreshold: defaultFailureThreshold,
			RecoveryBudget:   defaultRecoveryBudget,
		},
		FriendKeys: FriendKeys{
			Enabled:        true,
			HighConfidence: defaultFriendHighConfidence,
			LowConfidence:  defaultFriendLowConfidence,
		},
		Ownership: Ownership{
			MatchThreshold:    defaultOwnershipMatch,
			BroadThreshold:    defaultOwnershipBroad,
			VersionSimilarity: defaultOwnershipVersionSimilar,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
	}
}
