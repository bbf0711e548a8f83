// Package classify turns fetched entitlements into the ordered work queue
// for a redemption pass.
//
// Each record is checked, in order, against the ledger (prior outcomes),
// completed choice months, the friend/co-op detector, and the owned
// catalog. Records that survive become work items in inventory order.
// Friend keys detected with high confidence and keys the storefront reports
// expired are written to the ledger here; everything else is left to the
// orchestrator.
package classify
