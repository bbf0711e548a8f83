// Package keys holds the redemption domain model: key records and their
// identity, statuses, registrar result codes, choice months, and the typed
// RawOrder tree returned by the storefront together with lazy traversals over it.
package keys
