// Package completion remembers which choice months are fully processed.
//
// The tracker is a cache over the ledger: a month is complete once it has no
// choices left and every key it granted sits in a success bucket. Completion
// is monotonic, and a file with an unknown schema version is ignored and
// rebuilt from the ledger on the next Recompute.
package completion
