// Package friendkeys recognises bonus entitlements that are meant to be
// given away (friend passes, guest copies, co-op invites) so they are not
// redeemed onto the account holder's own library.
//
// Detection walks fixed tiers in order and stops at the first hit. Each
// tier carries a confidence; callers compare it to a high and a low
// threshold to decide between filing the key, asking about it, or
// redeeming it. User rules extend the built-in tiers and are read from a
// plain text file with optional HIGH:, MEDIUM:, LOW: or EXACT: prefixes.
package friendkeys
