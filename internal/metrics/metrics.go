package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"keyredeem/internal/keys"
	"keyredeem/internal/ratelimit"
)

const namespace = "keyredeem"

// Run holds the metrics of one process.
type Run struct {
	registry *prometheus.Registry

	KeysProcessed    *prometheus.CounterVec
	RevealAttempts   prometheus.Counter
	SessionRecovers  prometheus.Counter
	RateLimitWaits   prometheus.Counter
	RateLimitSeconds prometheus.Counter
	ReconcileTotal   *prometheus.CounterVec
	LastRunSuccess   prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// New registers every metric in a fresh registry.
func New() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		registry: reg,
		KeysProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_processed_total",
			Help:      "Keys settled in a terminal status, by outcome.",
		}, []string{"outcome"}),
		RevealAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_attempts_total",
			Help:      "Reveal calls made to the storefront.",
		}),
		SessionRecovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_recoveries_total",
			Help:      "Successful storefront session reinitializations.",
		}),
		RateLimitWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Registrar rate-limit episodes waited out.",
		}),
		RateLimitSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Seconds spent waiting for the registrar rate limit to clear.",
		}),
		ReconcileTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_keys_total",
			Help:      "Errored keys resubmitted by reconciliation, by outcome.",
		}, []string{"outcome"}),
		LastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 when the last run finished without a fatal error.",
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Run) KeySettled(status keys.Status) {
	r.KeysProcessed.WithLabelValues(string(status)).Inc()
}

func (r *Run) RevealAttempted() {
	r.RevealAttempts.Inc()
}

func (r *Run) SessionRecovered() {
	r.SessionRecovers.Inc()
}

func (r *Run) RateLimitWaited(rep ratelimit.Report) {
	r.RateLimitWaits.Inc()
	r.RateLimitSeconds.Add(rep.Waited.Seconds())
}

// Reconciled records reconciliation outcomes.
func (r *Run) Reconciled(outcomes map[keys.Status]int) {
	for status, n := range outcomes {
		r.ReconcileTotal.WithLabelValues(string(status)).Add(float64(n))
	}
}

// Finish stamps the run result.
func (r *Run) Finish(success bool, unixSeconds float64) {
	if success {
		r.LastRunSuccess.Set(1)
	} else {
		r.LastRunSuccess.Set(0)
	}
	r.LastRunTimestamp.Set(unixSeconds)
}

// WriteTextfile writes every metric to path. An empty path is a no-op.
func (r *Run) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
