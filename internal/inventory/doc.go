// Package inventory fetches the storefront order list in a background
// worker and keeps a versioned on-disk copy so repeated runs within the
// cache window skip the slow per-order detail calls.
//
// The worker is bounded by a timeout and by the caller's context. While it
// runs, the caller polls it and logs liveness so long fetches remain visible.
package inventory
