// Package notifications delivers run events to ntfy.
//
// The topic comes from config.toml. When no topic is configured NewService
// returns a no-op implementation, so callers never check for nil. Run code
// depends only on the Service interface.
package notifications
