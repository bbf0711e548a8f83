// Package services defines shared utilities consumed by the redemption
// components and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs and the key in flight for logging.
//   - Structured error markers plus the Wrap helper; ExitCode is the single
//     mapping from a run error to a process exit status.
//   - StatusError for rejected HTTP replies, and the retry primitives
//     (SleepWithContext, IsRetriable) shared by the storefront and
//     registrar clients.
//
// Use these helpers when wiring new client logic so error handling and
// retries stay uniform across the run.
package services
