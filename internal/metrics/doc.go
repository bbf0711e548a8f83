// Package metrics collects run counters in a private Prometheus registry and
// writes them in the node-exporter textfile format when a run ends.
//
// Run implements redeem.Observer, so the orchestrator reports into it
// directly.
package metrics
