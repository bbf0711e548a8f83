// Package ledger persists terminal key outcomes in one CSV file per bucket.
//
// The Ledger is the only durable state of a run and the only resource shared
// between processes. Every check-then-append holds an exclusive advisory lock
// on the bucket (a sidecar .lock file managed with gofrs/flock) and fsyncs
// before releasing it. An in-process cache, guarded by a single mutex, answers
// duplicate lookups; it is reloaded whenever a lock-protected stat shows the
// file changed underneath it. Writing a success outcome purges the same
// identity from the errored bucket, so a key is never counted as both.
//
// Files are UTF-8 with a leading byte-order mark and the header
// gamekey,human_name,redeemed_key_val so ledgers written by earlier tools
// load unchanged.
package ledger
