// Package runner wires one redemption run: preflight, inventory, owned
// catalog, classification, the redemption pass, reconciliation, completion
// tracking, metrics, and notifications.
//
// Runner is the only place that turns collaborator failures into the error
// kinds the CLI maps to exit codes. A process-wide file lock in the ledger
// directory keeps two runs from working the same inventory at once.
package runner
