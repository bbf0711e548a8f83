// Package preflight provides readiness checks for the paths and remote
// endpoints a run depends on.
//
// The runner calls RunAll before fetching the inventory and refuses to start
// when a required check fails, so a run never reveals keys it cannot record.
// The CLI "config validate" command prints the same results.
package preflight
