// Package ratelimit waits out the registrar's activation rate limit.
//
// The registrar answers code 53 once too many activations were attempted in
// its window (roughly fifty keys or ten failures an hour). Controller polls
// on a short check interval, re-submits the key quietly on every retry
// interval, and pings the storefront session on every keep-alive interval so
// it does not expire during the wait. The wait has no upper bound other
// than the caller's context.
package ratelimit
