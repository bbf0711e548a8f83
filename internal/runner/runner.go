package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"keyredeem/internal/classify"
	"keyredeem/internal/completion"
	"keyredeem/internal/config"
	"keyredeem/internal/friendkeys"
	"keyredeem/internal/inventory"
	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
	"keyredeem/internal/metrics"
	"keyredeem/internal/notifications"
	"keyredeem/internal/ownership"
	"keyredeem/internal/preflight"
	"keyredeem/internal/reconcile"
	"keyredeem/internal/redeem"
	"keyredeem/internal/services"
	"keyredeem/internal/session"
)

// OwnedCacheFileName is the sqlite owned-catalog cache inside the cache dir.
const OwnedCacheFileName = "owned.db"

// Options select run behaviour.
type Options struct {
	// Auto disables every interactive prompt.
	Auto bool
	// SkipFriendKeys detects friend keys and files them instead of redeeming.
	SkipFriendKeys bool
	NoReconcile    bool
	// Refresh bypasses the order and owned-catalog caches.
	Refresh bool
	// Confirmer answers borderline decisions when Auto is false.
	Confirmer classify.Confirmer
}

// Report describes a finished run.
type Report struct {
	RunID      string
	Records    int
	Known      int
	Friends    []classify.FriendKey
	Uncertain  []classify.FriendKey
	Owned      []classify.OwnedKey
	Redemption redeem.Summary
	// Reconcile is nil when reconciliation did not run.
	Reconcile       *reconcile.Summary
	CompletedMonths []string
	Duration        time.Duration
}

// Notification converts the report into a run summary notification.
func (r Report) Notification() notifications.RunReport {
	out := notifications.RunReport{
		Redeemed:     r.Redemption.Outcomes[keys.StatusRedeemed],
		AlreadyOwned: r.Redemption.Outcomes[keys.StatusAlreadyOwned],
		Expired:      r.Redemption.Outcomes[keys.StatusExpired],
		Errored:      r.Redemption.Outcomes[keys.StatusErrored],
		FriendKeys:   len(r.Friends),
		Skipped:      len(r.Owned) + len(r.Uncertain),
		Duration:     r.Duration,
	}
	if r.Reconcile != nil {
		out.Reconciled = r.Reconcile.Outcomes[keys.StatusRedeemed] + r.Reconcile.Outcomes[keys.StatusAlreadyOwned]
	}
	return out
}

// Runner executes redemption runs against one configuration.
type Runner struct {
	Config   *config.Config
	Deps     Deps
	Notifier notifications.Service
	Logger   *slog.Logger
	Now      func() time.Time
}

// New returns a runner. A nil notifier is built from cfg.
func New(cfg *config.Config, deps Deps, notifier notifications.Service, logger *slog.Logger) *Runner {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Runner{Config: cfg, Deps: deps, Notifier: notifier, Logger: logger, Now: time.Now}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run performs one full pass over the account inventory.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	started := r.now()
	ctx, logger, rep := r.begin(ctx)
	run := metrics.New()

	err := r.run(ctx, opts, logger, run, &rep)
	rep.Duration = r.now().Sub(started)
	r.finish(ctx, logger, run, rep, err)
	return rep, err
}

func (r *Runner) begin(ctx context.Context) (context.Context, *slog.Logger, Report) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.NewComponentLogger(r.Logger, "runner").With(logging.String(logging.FieldRunID, runID))
	return ctx, logger, Report{RunID: runID}
}

func (r *Runner) run(ctx context.Context, opts Options, logger *slog.Logger, run *metrics.Run, rep *Report) error {
	cfg := r.Config
	if err := cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "runner", "directories", "", err)
	}
	unlock, err := acquireRunLock(cfg.Paths.LedgerDir)
	if err != nil {
		return err
	}
	defer unlock()

	if err := preflight.Failed(preflight.RunAll(ctx, cfg, false)); err != nil {
		return err
	}

	led, err := ledger.Open(cfg.Paths.LedgerDir, r.Logger)
	if err != nil {
		return err
	}
	defer led.Close()
	tracker := completion.NewTracker(cfg.LedgerFile(completion.FileName), r.Logger)

	store, err := r.connect(ctx)
	if err != nil {
		return err
	}
	var orch *redeem.Orchestrator
	defer func() {
		current := redeem.Storefront(store)
		if orch != nil {
			current = orch.Storefront()
		}
		if cerr := current.Close(); cerr != nil {
			logger.Debug("closing storefront session failed", logging.Error(cerr))
		}
	}()

	fetcher := &inventory.Fetcher{
		Source:  store,
		Cache:   inventory.NewCache(cfg.Paths.CacheDir, cfg.OrderCacheMaxAge()),
		Timeout: cfg.InventoryTimeout(),
		Logger:  r.Logger,
	}
	orders, err := fetcher.Fetch(ctx, opts.Refresh)
	if err != nil {
		return err
	}
	records, months := keys.Records(orders)
	tracker.Apply(months)
	rep.Records = len(records)
	logger.Info("inventory loaded",
		logging.String(logging.FieldEventType, "inventory_loaded"),
		logging.Int("orders", len(orders)),
		logging.Int("keys", len(records)),
		logging.Int("choice_months", len(months)))

	classifier := &classify.Classifier{
		Ledger:    led,
		Completed: tracker.IsComplete,
		Logger:    r.Logger,
	}
	if !opts.Auto {
		classifier.Confirmer = opts.Confirmer
	}
	index, err := r.loadOwned(ctx, opts.Refresh, logger)
	if err != nil {
		return err
	}
	if index != nil {
		classifier.Owned = index
	}
	if opts.SkipFriendKeys {
		detector, err := r.friendDetector()
		if err != nil {
			return err
		}
		classifier.Detector = detector
	}
	res, err := classifier.Classify(ctx, records)
	if err != nil {
		return err
	}
	rep.Known = res.Known
	rep.Friends, rep.Uncertain, rep.Owned = res.Friends, res.Uncertain, res.Owned
	if err := writeSkipped(cfg.LedgerFile(SkippedFileName), res.Owned); err != nil {
		logging.WarnWithContext(logger, "skipped report not written", "skipped_report_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "owned keys are not listed on disk"))
	}

	if err := r.Notifier.NotifyRunStarted(ctx, len(res.Work)); err != nil {
		logger.Debug("start notification failed", logging.Error(err))
	}

	orch, err = r.orchestrator(store, led, run)
	if err != nil {
		return err
	}
	summary, runErr := orch.Run(ctx, res.Work)
	rep.Redemption = summary

	if runErr == nil && !opts.NoReconcile {
		rec := &reconcile.Reconciler{Ledger: led, Redeemer: orch, Logger: r.Logger}
		rsum, err := rec.Reconcile(ctx)
		if err != nil {
			runErr = err
		} else {
			rep.Reconcile = &rsum
			run.Reconciled(rsum.Outcomes)
		}
	}

	if ctx.Err() == nil {
		newly, err := tracker.Recompute(ctx, months, records, led)
		if err != nil {
			logging.WarnWithContext(logger, "choice month completion not updated", "completion_update_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "completed months are re-checked next run"))
		}
		rep.CompletedMonths = newly
	}
	return runErr
}

// Reconcile re-submits errored keys without touching the storefront.
func (r *Runner) Reconcile(ctx context.Context) (reconcile.Summary, error) {
	ctx, logger, _ := r.begin(ctx)
	cfg := r.Config
	if err := cfg.EnsureDirectories(); err != nil {
		return reconcile.Summary{}, services.Wrap(services.ErrConfiguration, "runner", "directories", "", err)
	}
	unlock, err := acquireRunLock(cfg.Paths.LedgerDir)
	if err != nil {
		return reconcile.Summary{}, err
	}
	defer unlock()

	led, err := ledger.Open(cfg.Paths.LedgerDir, r.Logger)
	if err != nil {
		return reconcile.Summary{}, err
	}
	defer led.Close()

	run := metrics.New()
	orch, err := r.orchestrator(detachedStorefront{}, led, run)
	if err != nil {
		return reconcile.Summary{}, err
	}
	rec := &reconcile.Reconciler{Ledger: led, Redeemer: orch, Logger: r.Logger}
	summary, err := rec.Reconcile(ctx)
	run.Reconciled(summary.Outcomes)
	run.Finish(err == nil, float64(r.now().Unix()))
	if werr := run.WriteTextfile(cfg.Paths.MetricsTextfile); werr != nil {
		logger.Debug("metrics textfile not written", logging.Error(werr))
	}
	return summary, err
}

func (r *Runner) connect(ctx context.Context) (Storefront, error) {
	if r.Deps.Connect == nil || r.Deps.Registrar == nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "connect", "remote collaborators not configured", nil)
	}
	store, err := r.Deps.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrStaleCredentials, "runner", "connect", "open storefront session", err)
	}
	if !store.Alive(ctx) {
		_ = store.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrStaleCredentials, "runner", "connect",
			"storefront session is not logged in; refresh the session cookie", nil)
	}
	return store, nil
}

func (r *Runner) orchestrator(store redeem.Storefront, led *ledger.Ledger, run *metrics.Run) (*redeem.Orchestrator, error) {
	cfg := r.Config
	connect := func(ctx context.Context) (redeem.Storefront, error) {
		if _, detached := store.(detachedStorefront); detached || r.Deps.Connect == nil {
			return nil, services.Wrap(services.ErrConfiguration, "runner", "reconnect", "no storefront session in this mode", nil)
		}
		s, err := r.Deps.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return redeem.New(store, redeem.Options{
		Ledger:             led,
		Registrar:          r.Deps.Registrar,
		Guardian:           session.NewGuardian(connect, cfg.Session.FailureThreshold, cfg.Session.RecoveryBudget, r.Logger),
		RateLimitCheck:     cfg.RateLimitCheckInterval(),
		RateLimitRetry:     cfg.RateLimitRetryInterval(),
		RateLimitKeepAlive: cfg.KeepAliveInterval(),
		RevealAttempts:     cfg.Redemption.RevealAttempts,
		RevealBackoff:      cfg.RevealBackoff(),
		SessionKeepAlive:   cfg.SessionKeepAliveInterval(),
		Observer:           run,
		Logger:             r.Logger,
	})
}

// loadOwned returns the owned-title index, or nil when the catalog is
// unavailable. Only stale registrar credentials stop the run.
func (r *Runner) loadOwned(ctx context.Context, refresh bool, logger *slog.Logger) (*ownership.Index, error) {
	cfg := r.Config
	store, err := ownership.OpenCatalogStore(ctx, filepath.Join(cfg.Paths.CacheDir, OwnedCacheFileName))
	if err != nil {
		logging.WarnWithContext(logger, "owned catalog cache unavailable", "owned_cache_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "owned catalog is fetched live"))
		store = nil
	} else {
		defer store.Close()
	}
	loader := &ownership.Loader{
		Store:  store,
		Source: r.Deps.Registrar,
		MaxAge: cfg.OwnedCacheMaxAge(),
		Logger: r.Logger,
		Now:    r.Now,
	}
	catalog, err := loader.Load(ctx, refresh)
	if err != nil {
		if errors.Is(err, services.ErrStaleCredentials) || ctx.Err() != nil {
			return nil, err
		}
		logging.WarnWithContext(logger, "owned catalog unavailable", "owned_catalog_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check steam.api_key and the registrar cookies"),
			logging.String(logging.FieldImpact, "ownership pre-check is skipped"))
		return nil, nil
	}
	matcher := ownership.NewMatcher(cfg.Ownership.MatchThreshold, cfg.Ownership.BroadThreshold, cfg.Ownership.VersionSimilarity)
	return ownership.NewIndex(catalog, matcher), nil
}

func (r *Runner) friendDetector() (*friendkeys.Detector, error) {
	cfg := r.Config
	fromFile, err := friendkeys.LoadRulesFile(cfg.Paths.FriendRulesFile)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "friend rules", cfg.Paths.FriendRulesFile, err)
	}
	rules := friendkeys.DefaultRules().Extend(fromFile).Extend(friendkeys.Rules{
		High:   cfg.FriendKeys.High,
		Medium: cfg.FriendKeys.Medium,
		Low:    cfg.FriendKeys.Low,
		Exact:  cfg.FriendKeys.Exact,
	})
	return friendkeys.NewDetector(rules, cfg.FriendKeys.HighConfidence, cfg.FriendKeys.LowConfidence), nil
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, run *metrics.Run, rep Report, err error) {
	cfg := r.Config
	notifyCtx := context.WithoutCancel(ctx)

	run.Finish(err == nil, float64(r.now().Unix()))
	if werr := run.WriteTextfile(cfg.Paths.MetricsTextfile); werr != nil {
		logging.WarnWithContext(logger, "metrics textfile not written", "metrics_write_failed",
			logging.Error(werr),
			logging.String(logging.FieldImpact, "node exporter shows the previous run"))
	}

	var nerr error
	switch {
	case err == nil:
		logger.Info("run complete",
			logging.String(logging.FieldEventType, "run_complete"),
			logging.Int("records", rep.Records),
			logging.Int("redeemed", rep.Redemption.Outcomes[keys.StatusRedeemed]),
			logging.Int("errored", rep.Redemption.Outcomes[keys.StatusErrored]),
			logging.Duration("duration", rep.Duration))
		nerr = r.Notifier.NotifyRunCompleted(notifyCtx, rep.Notification())
	case errors.Is(err, context.Canceled):
		logger.Info("run interrupted", logging.String(logging.FieldEventType, "run_interrupted"))
	case errors.Is(err, services.ErrStaleCredentials), errors.Is(err, services.ErrRecoveryExhausted):
		logging.ErrorWithContext(logger, "run stopped; re-authentication required", "run_reauth_required",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "log in again and update the session cookies"))
		nerr = r.Notifier.NotifyReauthRequired(notifyCtx, err)
	default:
		logging.ErrorWithContext(logger, "run failed", "run_failed", logging.Error(err))
		nerr = r.Notifier.NotifyError(notifyCtx, err, "run")
	}
	if nerr != nil {
		logger.Debug("notification failed", logging.Error(fmt.Errorf("notify: %w", nerr)))
	}
}
