package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
	"keyredeem/internal/ratelimit"
	"keyredeem/internal/services"
	"keyredeem/internal/session"
)

// Storefront is the session-bound collaborator that reveals keys.
type Storefront interface {
	session.Remote
	Reveal(ctx context.Context, rec *keys.Record) (string, error)
	KeepAlive(ctx context.Context) error
}

// Registrar activates revealed values.
type Registrar interface {
	Redeem(ctx context.Context, value string, quiet bool) (keys.ResultCode, error)
}

// Ledger is the subset of the ledger the orchestrator writes to.
type Ledger interface {
	Write(ctx context.Context, b ledger.Bucket, entry ledger.Entry) (ledger.WriteResult, error)
}

// Observer receives progress events, typically for metrics.
type Observer interface {
	KeySettled(status keys.Status)
	RevealAttempted()
	SessionRecovered()
	RateLimitWaited(rep ratelimit.Report)
}

type nopObserver struct{}

func (nopObserver) KeySettled(keys.Status)           {}
func (nopObserver) RevealAttempted()                 {}
func (nopObserver) SessionRecovered()                {}
func (nopObserver) RateLimitWaited(ratelimit.Report) {}

// Options configures an Orchestrator.
type Options struct {
	Ledger    Ledger
	Registrar Registrar
	Guardian  *session.Guardian[Storefront]

	RateLimitCheck     time.Duration
	RateLimitRetry     time.Duration
	RateLimitKeepAlive time.Duration

	RevealAttempts int
	RevealBackoff  time.Duration
	// SessionKeepAlive is the storefront keep-alive cadence between keys.
	SessionKeepAlive time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// Summary reports one pass.
type Summary struct {
	Outcomes  map[keys.Status]int
	Attempts  []keys.Attempt
	RateLimit ratelimit.Stats
	Session   session.GuardianStats
	// Unsettled counts keys written to Errored because the run stopped.
	Unsettled int
}

// Orchestrator runs the per-key state machine. It is not safe for
// concurrent use; one orchestrator serves one run.
type Orchestrator struct {
	ledger    Ledger
	registrar Registrar
	guardian  *session.Guardian[Storefront]
	limiter   *ratelimit.Controller
	observer  Observer
	logger    *slog.Logger

	revealAttempts   int
	revealBackoff    time.Duration
	sessionKeepAlive time.Duration

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	store         Storefront
	lastKeepAlive time.Time
	succeeded     map[keys.Identity]struct{}
	succeededApps map[int64]struct{}
	succeededVals map[string]struct{}
	attempts      []keys.Attempt
	outcomes      map[keys.Status]int
}

// New validates opts and builds an orchestrator bound to store.
func New(store Storefront, opts Options) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("redeem: storefront is required")
	}
	if opts.Ledger == nil || opts.Registrar == nil || opts.Guardian == nil {
		return nil, errors.New("redeem: ledger, registrar and guardian are required")
	}
	o := &Orchestrator{
		ledger:           opts.Ledger,
		registrar:        opts.Registrar,
		guardian:         opts.Guardian,
		observer:         opts.Observer,
		logger:           logging.NewComponentLogger(opts.Logger, "redeem"),
		revealAttempts:   max(opts.RevealAttempts, 1),
		revealBackoff:    opts.RevealBackoff,
		sessionKeepAlive: opts.SessionKeepAlive,
		Sleep:            services.SleepWithContext,
		Now:              time.Now,
		store:            store,
		succeeded:        make(map[keys.Identity]struct{}),
		succeededApps:    make(map[int64]struct{}),
		succeededVals:    make(map[string]struct{}),
		outcomes:         make(map[keys.Status]int),
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	limiter, err := ratelimit.NewController(opts.RateLimitCheck, opts.RateLimitRetry, opts.RateLimitKeepAlive, o.keepAlive, opts.Logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "redeem", "rate limit", "", err)
	}
	o.limiter = limiter
	return o, nil
}

// RateLimiter exposes the rate-limit controller.
func (o *Orchestrator) RateLimiter() *ratelimit.Controller {
	return o.limiter
}

// Storefront returns the current session, which changes after a recovery.
func (o *Orchestrator) Storefront() Storefront {
	return o.store
}

// Summary returns the totals accumulated by every pass so far.
func (o *Orchestrator) Summary() Summary {
	outcomes := make(map[keys.Status]int, len(o.outcomes))
	for k, v := range o.outcomes {
		outcomes[k] = v
	}
	return Summary{
		Outcomes:  outcomes,
		Attempts:  append([]keys.Attempt(nil), o.attempts...),
		RateLimit: o.limiter.Stats(),
		Session:   o.guardian.Stats(),
	}
}

// Run processes work in order. It returns ctx.Err() when cancelled and an
// ErrRecoveryExhausted error when the session could not be kept alive; in
// the latter case every key not yet settled has been written to Errored.
func (o *Orchestrator) Run(ctx context.Context, work []*keys.Record) (Summary, error) {
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("redemption pass starting", logging.Int("keys", len(work)))
	o.lastKeepAlive = o.Now()

	for i, rec := range work {
		if err := ctx.Err(); err != nil {
			return o.Summary(), err
		}
		remaining := len(work) - i - 1
		err := o.process(services.WithKey(ctx, rec.Gamekey, rec.HumanName), rec, remaining)
		if err == nil {
			o.maybeKeepAlive(ctx)
			continue
		}
		if errors.Is(err, services.ErrRecoveryExhausted) {
			unsettled, werr := o.abandon(ctx, work[i:])
			summary := o.Summary()
			summary.Unsettled = unsettled
			if werr != nil {
				return summary, errors.Join(err, werr)
			}
			return summary, err
		}
		return o.Summary(), err
	}

	summary := o.Summary()
	logger.Info("redemption pass complete",
		logging.Int("redeemed", summary.Outcomes[keys.StatusRedeemed]),
		logging.Int("already_owned", summary.Outcomes[keys.StatusAlreadyOwned]),
		logging.Int("expired", summary.Outcomes[keys.StatusExpired]),
		logging.Int("errored", summary.Outcomes[keys.StatusErrored]))
	return summary, nil
}

// abandon writes every unsettled record to Errored.
func (o *Orchestrator) abandon(ctx context.Context, rest []*keys.Record) (int, error) {
	logger := logging.WithContext(ctx, o.logger)
	count := 0
	var errs []error
	for _, rec := range rest {
		if rec.Status.Terminal() {
			continue
		}
		if err := o.settle(ctx, rec, keys.StatusErrored); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	logging.ErrorWithContext(logger, "run halted after session recovery was exhausted", "run_halted",
		logging.Int("unsettled", count),
		logging.String(logging.FieldErrorHint, "log in to the storefront again and rerun"),
		logging.String(logging.FieldImpact, "unsettled keys were recorded as errored and will be retried"))
	return count, errors.Join(errs...)
}

// settle records rec's terminal status. Ledger writes ignore cancellation so
// an outcome the registrar already applied is never lost.
func (o *Orchestrator) settle(ctx context.Context, rec *keys.Record, status keys.Status) error {
	rec.Status = status
	b := ledger.ForStatus(status)
	if _, err := o.ledger.Write(context.WithoutCancel(ctx), b, ledger.EntryFor(rec)); err != nil {
		return fmt.Errorf("record %s as %s: %w", rec.HumanName, b, err)
	}
	o.outcomes[status]++
	o.observer.KeySettled(status)
	if b.Success() {
		o.remember(rec)
	}
	return nil
}

func (o *Orchestrator) remember(rec *keys.Record) {
	o.succeeded[rec.Identity()] = struct{}{}
	if rec.SteamAppID > 0 {
		o.succeededApps[rec.SteamAppID] = struct{}{}
	}
	if keys.ValidFormat(rec.RevealedValue) {
		o.succeededVals[normalizeValue(rec.RevealedValue)] = struct{}{}
	}
}

func (o *Orchestrator) seen(rec *keys.Record) (string, bool) {
	if _, ok := o.succeeded[rec.Identity()]; ok {
		return "identity", true
	}
	if rec.SteamAppID > 0 {
		if _, ok := o.succeededApps[rec.SteamAppID]; ok {
			return "app_id", true
		}
	}
	if keys.ValidFormat(rec.RevealedValue) {
		if _, ok := o.succeededVals[normalizeValue(rec.RevealedValue)]; ok {
			return "value", true
		}
	}
	return "", false
}

func (o *Orchestrator) keepAlive(ctx context.Context) error {
	o.lastKeepAlive = o.Now()
	return o.store.KeepAlive(ctx)
}

func (o *Orchestrator) maybeKeepAlive(ctx context.Context) {
	if o.sessionKeepAlive <= 0 || o.Now().Sub(o.lastKeepAlive) < o.sessionKeepAlive {
		return
	}
	if err := o.keepAlive(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "storefront keep-alive failed", "session_keepalive_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next reveal will check the session"),
			logging.String(logging.FieldImpact, "the session may need recovery"))
	}
}
