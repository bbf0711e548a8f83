// Package config loads, normalizes, and validates keyredeem configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HUMBLE_SESSION and STEAM_LOGIN_SECURE. The Config type centralizes every
// knob the CLI needs: ledger location, storefront and registrar endpoints,
// rate-limit pacing, session recovery budgets, and matching thresholds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
