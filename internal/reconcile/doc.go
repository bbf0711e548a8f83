// Package reconcile retries keys left in the errored bucket.
//
// Only entries that already carry a well-formed revealed value are
// resubmitted, and only through the redeem step: reconciliation never
// reveals. Duplicate rows for one identity are collapsed first, preferring
// a row with a usable value. Successful retries leave the errored bucket
// through the ledger's purge-on-success rule.
package reconcile
