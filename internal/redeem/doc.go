// Package redeem drives classified work items through reveal, format
// validation and registrar activation, writing every terminal outcome to
// the ledger.
//
// Keys are processed one at a time in inventory order. A key that matches
// one already activated earlier in the same run, by identity, catalog id or
// value, is settled as already owned without a registrar call. Reveal
// failures are retried with linear backoff; repeated session failures hand
// over to the session guardian, and when its budget runs out every key not
// yet settled is written to the errored bucket and the run stops with
// services.ErrRecoveryExhausted.
package redeem
