package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"keyredeem/internal/logging"
	"keyredeem/internal/services"
)

// ConnectFunc builds and authenticates a fresh session.
type ConnectFunc[S Remote] func(ctx context.Context) (S, error)

// GuardianStats reports recovery counters.
type GuardianStats struct {
	ConsecutiveFailures int
	Recoveries          int
	Budget              int
}

// Guardian tracks session health for one run and rebuilds dead sessions.
type Guardian[S Remote] struct {
	connect   ConnectFunc[S]
	threshold int
	budget    int
	logger    *slog.Logger

	mu          sync.Mutex
	consecutive int
	recoveries  int
}

// NewGuardian returns a guardian that reinitializes after threshold
// consecutive failures and allows at most budget reinitializations per run.
func NewGuardian[S Remote](connect ConnectFunc[S], threshold, budget int, logger *slog.Logger) *Guardian[S] {
	if threshold < 1 {
		threshold = 1
	}
	return &Guardian[S]{
		connect:   connect,
		threshold: threshold,
		budget:    budget,
		logger:    logging.NewComponentLogger(logger, "session"),
	}
}

// Validate checks that the session is still logged in.
func (g *Guardian[S]) Validate(ctx context.Context, s S) bool {
	return s.Alive(ctx)
}

// RecordFailure counts a session-related failure and reports whether the
// threshold for reinitialization has been reached.
func (g *Guardian[S]) RecordFailure() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive++
	return g.consecutive >= g.threshold
}

// RecordSuccess clears the consecutive failure count.
func (g *Guardian[S]) RecordSuccess() {
	g.mu.Lock()
	g.consecutive = 0
	g.mu.Unlock()
}

// Stats returns the current counters.
func (g *Guardian[S]) Stats() GuardianStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardianStats{ConsecutiveFailures: g.consecutive, Recoveries: g.recoveries, Budget: g.budget}
}

// Reinitialize closes old, connects a new session, and validates it. Every
// call spends one unit of the run's budget; once the budget is spent it
// returns ErrRecoveryExhausted without connecting. A successful
// reinitialization resets the consecutive failure count only.
func (g *Guardian[S]) Reinitialize(ctx context.Context, old S) (S, error) {
	var zero S
	logger := logging.WithContext(ctx, g.logger)

	g.mu.Lock()
	if g.recoveries >= g.budget {
		spent := g.recoveries
		g.mu.Unlock()
		logging.ErrorWithContext(logger, "session recovery budget exhausted", "session_recovery_exhausted",
			logging.Int("recoveries", spent),
			logging.Int("budget", g.budget),
			logging.String(logging.FieldErrorHint, "log in again and refresh the session cookie"))
		return zero, services.Wrap(services.ErrRecoveryExhausted, "session", "reinitialize",
			fmt.Sprintf("%d of %d recoveries used", spent, g.budget), nil)
	}
	g.recoveries++
	attempt := g.recoveries
	g.mu.Unlock()

	logger.Info("reinitializing storefront session",
		logging.String(logging.FieldEventType, "session_reinitialize"),
		logging.Int("attempt", attempt),
		logging.Int("budget", g.budget))

	if err := old.Close(); err != nil {
		logger.Debug("closing dead session failed", logging.Error(err))
	}
	fresh, err := g.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, services.Wrap(services.ErrSessionInvalid, "session", "reinitialize", "connect", err)
	}
	if !fresh.Alive(ctx) {
		_ = fresh.Close()
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, services.Wrap(services.ErrSessionInvalid, "session", "reinitialize", "new session failed validation", nil)
	}

	g.mu.Lock()
	g.consecutive = 0
	g.mu.Unlock()
	logger.Info("storefront session recovered", logging.Int("attempt", attempt))
	return fresh, nil
}
