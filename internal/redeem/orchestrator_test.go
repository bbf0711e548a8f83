package redeem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"keyredeem/internal/classify"
	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
	"keyredeem/internal/redeem"
	"keyredeem/internal/services"
	"keyredeem/internal/session"
)

type fakeStore struct {
	values     map[string]string
	errs       []error
	alive      bool
	closed     bool
	reveals    int
	keepAlives int
}

func newStore(values map[string]string) *fakeStore {
	return &fakeStore{values: values, alive: true}
}

func (s *fakeStore) Reveal(_ context.Context, rec *keys.Record) (string, error) {
	s.reveals++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return s.values[rec.HumanName], nil
}

func (s *fakeStore) KeepAlive(context.Context) error { s.keepAlives++; return nil }
func (s *fakeStore) Alive(context.Context) bool      { return s.alive && !s.closed }
func (s *fakeStore) Close() error                    { s.closed = true; return nil }

type fakeRegistrar struct {
	script map[string][]keys.ResultCode
	calls  int
	// markLimited returns RateLimited codes with an ErrRateLimited error,
	// the way the registrar client reports throttling.
	markLimited bool
}

func (r *fakeRegistrar) Redeem(_ context.Context, value string, _ bool) (keys.ResultCode, error) {
	r.calls++
	codes := r.script[value]
	if len(codes) == 0 {
		return keys.CodeSuccess, nil
	}
	code := codes[0]
	if len(codes) > 1 {
		r.script[value] = codes[1:]
	}
	if r.markLimited && code == keys.CodeRateLimited {
		return code, services.Wrap(services.ErrRateLimited, "registrar", "redeem", "", nil)
	}
	return code, nil
}

type harness struct {
	ledger    *ledger.Ledger
	store     *fakeStore
	registrar *fakeRegistrar
	orch      *redeem.Orchestrator
	sleeps    []time.Duration
}

func newHarness(t *testing.T, store *fakeStore, connect session.ConnectFunc[redeem.Storefront], threshold, budget int) *harness {
	t.Helper()
	l, err := ledger.Open(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	if connect == nil {
		connect = func(context.Context) (redeem.Storefront, error) { return nil, errors.New("no reconnect") }
	}
	h := &harness{ledger: l, store: store, registrar: &fakeRegistrar{script: map[string][]keys.ResultCode{}}}
	orch, err := redeem.New(store, redeem.Options{
		Ledger:             l,
		Registrar:          h.registrar,
		Guardian:           session.NewGuardian(connect, threshold, budget, logging.NewNop()),
		RateLimitCheck:     10 * time.Second,
		RateLimitRetry:     300 * time.Second,
		RateLimitKeepAlive: 60 * time.Second,
		RevealAttempts:     3,
		RevealBackoff:      2 * time.Second,
		Logger:             logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	orch.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	orch.RateLimiter().Sleep = func(context.Context, time.Duration) error { return nil }
	h.orch = orch
	return h
}

func (h *harness) count(t *testing.T, b ledger.Bucket) int {
	t.Helper()
	entries, err := h.ledger.Entries(context.Background(), b)
	if err != nil {
		t.Fatalf("entries %s: %v", b, err)
	}
	return len(entries)
}

func unrevealed(gamekey, name string) *keys.Record {
	return &keys.Record{Gamekey: gamekey, HumanName: name, MachineName: name, Status: keys.StatusUnrevealed}
}

func TestAlreadyRedeemedSharedGamekeyNeverHitsRegistrar(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newStore(nil), nil, 3, 10)
	if _, err := h.ledger.Write(ctx, ledger.Redeemed, ledger.Entry{Gamekey: "abc", HumanName: "Game A", RevealedValue: "WWWWW-WWWWW-WWWWW"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	records := []*keys.Record{
		{Gamekey: "abc", HumanName: "Game A", RevealedValue: "WWWWW-WWWWW-WWWWW", Status: keys.StatusRevealed},
		{Gamekey: "abc", HumanName: "GAME A", RevealedValue: "WWWWW-WWWWW-WWWWW", Status: keys.StatusRevealed},
	}
	res, err := (&classify.Classifier{Ledger: h.ledger, Logger: logging.NewNop()}).Classify(ctx, records)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, err := h.orch.Run(ctx, res.Work); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.registrar.calls != 0 {
		t.Fatalf("registrar calls = %d, want 0", h.registrar.calls)
	}
	for _, rec := range records {
		if rec.Status != keys.StatusAlreadyOwned {
			t.Fatalf("%s status = %s", rec.HumanName, rec.Status)
		}
	}
}

func TestDuplicateWithinRunShortCircuits(t *testing.T) {
	store := newStore(map[string]string{"Game B": "AAAAA-BBBBB-CCCCC", "Other": "DDDDD-EEEEE-FFFFF"})
	h := newHarness(t, store, nil, 3, 10)
	work := []*keys.Record{
		unrevealed("m1", "Game B"),
		unrevealed("m1", "game b"),
		{Gamekey: "m2", HumanName: "Other", SteamAppID: 42, Status: keys.StatusUnrevealed},
		{Gamekey: "m3", HumanName: "Other Deluxe", SteamAppID: 42, Status: keys.StatusUnrevealed},
	}
	summary, err := h.orch.Run(context.Background(), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.registrar.calls != 2 {
		t.Fatalf("registrar calls = %d, want 2", h.registrar.calls)
	}
	if store.reveals != 2 {
		t.Fatalf("reveals = %d, want 2", store.reveals)
	}
	if summary.Outcomes[keys.StatusRedeemed] != 2 || summary.Outcomes[keys.StatusAlreadyOwned] != 2 {
		t.Fatalf("outcomes = %v", summary.Outcomes)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	inventory := func() []*keys.Record {
		return []*keys.Record{
			{Gamekey: "g1", HumanName: "One", RevealedValue: "AAAAA-AAAAA-AAAAA", Status: keys.StatusRevealed},
			{Gamekey: "g1", HumanName: "Two", RevealedValue: "BBBBB-BBBBB-BBBBB", Status: keys.StatusRevealed},
			{Gamekey: "g2", HumanName: "Three", RevealedValue: "CCCCC-CCCCC-CCCCC", Status: keys.StatusRevealed},
		}
	}
	h := newHarness(t, newStore(nil), nil, 3, 10)
	h.registrar.script["BBBBB-BBBBB-BBBBB"] = []keys.ResultCode{keys.CodeAlreadyOwned}
	h.registrar.script["CCCCC-CCCCC-CCCCC"] = []keys.ResultCode{keys.CodeInvalidKey}

	classifier := &classify.Classifier{Ledger: h.ledger, Logger: logging.NewNop()}
	run := func() {
		res, err := classifier.Classify(ctx, inventory())
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if _, err := h.orch.Run(ctx, res.Work); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	run()
	before := map[ledger.Bucket]int{}
	for _, b := range ledger.Buckets {
		before[b] = h.count(t, b)
	}
	if before[ledger.Redeemed] != 1 || before[ledger.AlreadyOwned] != 1 || before[ledger.Errored] != 1 {
		t.Fatalf("after first run = %v", before)
	}
	callsAfterFirst := h.registrar.calls

	run()
	for _, b := range ledger.Buckets {
		if got := h.count(t, b); got != before[b] {
			t.Fatalf("bucket %s changed from %d to %d", b, before[b], got)
		}
	}
	// Only the errored key is retried.
	if h.registrar.calls != callsAfterFirst+1 {
		t.Fatalf("second run registrar calls = %d", h.registrar.calls-callsAfterFirst)
	}
}

func TestRateLimitedRedeemWaitsThenSettles(t *testing.T) {
	h := newHarness(t, newStore(nil), nil, 3, 10)
	h.registrar.script["AAAAA-BBBBB-CCCCC"] = []keys.ResultCode{keys.CodeRateLimited, keys.CodeRateLimited, keys.CodeSuccess}
	rec := &keys.Record{Gamekey: "g", HumanName: "Limited", RevealedValue: "AAAAA-BBBBB-CCCCC", Status: keys.StatusRevealed}

	summary, err := h.orch.Run(context.Background(), []*keys.Record{rec})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != keys.StatusRedeemed {
		t.Fatalf("status = %s", rec.Status)
	}
	if h.registrar.calls != 3 {
		t.Fatalf("registrar calls = %d, want 3", h.registrar.calls)
	}
	if len(summary.Attempts) != 3 || summary.Attempts[2].Number != 3 || summary.Attempts[2].Code != keys.CodeSuccess {
		t.Fatalf("attempts = %+v", summary.Attempts)
	}
	if summary.RateLimit.Episodes != 1 {
		t.Fatalf("rate limit stats = %+v", summary.RateLimit)
	}
	if h.store.keepAlives == 0 {
		t.Fatalf("expected keep-alives during the wait")
	}
}

func TestRateLimitedErrorWaitsInsteadOfErroring(t *testing.T) {
	h := newHarness(t, newStore(nil), nil, 3, 10)
	h.registrar.markLimited = true
	h.registrar.script["AAAAA-BBBBB-CCCCC"] = []keys.ResultCode{keys.CodeRateLimited, keys.CodeRateLimited, keys.CodeAlreadyOwned}
	rec := &keys.Record{Gamekey: "g", HumanName: "Throttled", RevealedValue: "AAAAA-BBBBB-CCCCC", Status: keys.StatusRevealed}

	if _, err := h.orch.Run(context.Background(), []*keys.Record{rec}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != keys.StatusAlreadyOwned {
		t.Fatalf("status = %s, want already owned", rec.Status)
	}
	if h.registrar.calls != 3 {
		t.Fatalf("registrar calls = %d, want 3", h.registrar.calls)
	}
	if found, err := h.ledger.Lookup(context.Background(), ledger.Errored, "g", "throttled"); err != nil || found {
		t.Fatalf("errored lookup = %v, %v; rate-limited key must not be errored", found, err)
	}
}

func TestRevealOutcomes(t *testing.T) {
	store := newStore(map[string]string{"Old": keys.ExpiredMarker, "Odd": "not-a-key"})
	store.errs = []error{
		nil, // Old
		nil, // Odd
		services.Wrap(services.ErrDomainTerminal, "humble", "reveal", "Not eligible", nil),
	}
	h := newHarness(t, store, nil, 3, 10)
	old, odd, refused := unrevealed("g", "Old"), unrevealed("g", "Odd"), unrevealed("g", "Refused")
	if _, err := h.orch.Run(context.Background(), []*keys.Record{old, odd, refused}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if old.Status != keys.StatusExpired || odd.Status != keys.StatusErrored || refused.Status != keys.StatusErrored {
		t.Fatalf("statuses = %s %s %s", old.Status, odd.Status, refused.Status)
	}
	if store.reveals != 3 {
		t.Fatalf("terminal refusal was retried: reveals = %d", store.reveals)
	}
	if h.registrar.calls != 0 {
		t.Fatalf("registrar calls = %d", h.registrar.calls)
	}
	if h.count(t, ledger.Expired) != 1 || h.count(t, ledger.Errored) != 2 {
		t.Fatalf("ledger expired=%d errored=%d", h.count(t, ledger.Expired), h.count(t, ledger.Errored))
	}
}

func TestRevealRetriesTransientWithLinearBackoff(t *testing.T) {
	store := newStore(map[string]string{"Flaky": "AAAAA-BBBBB-CCCCC"})
	transient := services.Wrap(services.ErrTransient, "humble", "reveal", "status 503", nil)
	store.errs = []error{transient, transient}
	h := newHarness(t, store, nil, 3, 10)
	rec := unrevealed("g", "Flaky")
	if _, err := h.orch.Run(context.Background(), []*keys.Record{rec}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != keys.StatusRedeemed {
		t.Fatalf("status = %s", rec.Status)
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != 2*time.Second || h.sleeps[1] != 4*time.Second {
		t.Fatalf("backoff = %v", h.sleeps)
	}
}

func TestSessionRecoveryRetriesKeyOnNewSession(t *testing.T) {
	dead := newStore(nil)
	invalid := services.Wrap(services.ErrSessionInvalid, "humble", "reveal", "status 401", nil)
	dead.errs = []error{invalid}
	fresh := newStore(map[string]string{"Game": "AAAAA-BBBBB-CCCCC"})
	connect := func(context.Context) (redeem.Storefront, error) { return fresh, nil }

	h := newHarness(t, dead, connect, 1, 10)
	rec := unrevealed("g", "Game")
	summary, err := h.orch.Run(context.Background(), []*keys.Record{rec})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != keys.StatusRedeemed {
		t.Fatalf("status = %s", rec.Status)
	}
	if !dead.closed {
		t.Fatalf("dead session was not closed")
	}
	if h.orch.Storefront() != redeem.Storefront(fresh) {
		t.Fatalf("orchestrator still holds the dead session")
	}
	if summary.Session.Recoveries != 1 || summary.Session.ConsecutiveFailures != 0 {
		t.Fatalf("session stats = %+v", summary.Session)
	}
}

func TestRecoveryExhaustedErrorsEveryUnsettledKey(t *testing.T) {
	invalid := services.Wrap(services.ErrSessionInvalid, "humble", "reveal", "status 401", nil)
	alwaysDead := func() *fakeStore {
		s := newStore(nil)
		s.errs = []error{invalid, invalid, invalid, invalid, invalid}
		return s
	}
	connect := func(context.Context) (redeem.Storefront, error) { return alwaysDead(), nil }
	h := newHarness(t, alwaysDead(), connect, 1, 2)

	work := []*keys.Record{unrevealed("g", "A"), unrevealed("g", "B"), unrevealed("g", "C")}
	summary, err := h.orch.Run(context.Background(), work)
	if !errors.Is(err, services.ErrRecoveryExhausted) {
		t.Fatalf("err = %v, want ErrRecoveryExhausted", err)
	}
	if services.ExitCode(err) != services.ExitReauth {
		t.Fatalf("exit code = %d", services.ExitCode(err))
	}
	for _, rec := range work {
		if rec.Status != keys.StatusErrored {
			t.Fatalf("%s status = %s", rec.HumanName, rec.Status)
		}
	}
	if h.count(t, ledger.Errored) != 3 {
		t.Fatalf("errored entries = %d", h.count(t, ledger.Errored))
	}
	if summary.Session.Recoveries != 2 {
		t.Fatalf("recoveries = %d, want 2", summary.Session.Recoveries)
	}
	if h.registrar.calls != 0 {
		t.Fatalf("registrar calls = %d", h.registrar.calls)
	}
}

func TestCancelStopsBeforeNextKey(t *testing.T) {
	h := newHarness(t, newStore(nil), nil, 3, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Run(ctx, []*keys.Record{{Gamekey: "g", HumanName: "A", RevealedValue: "AAAAA-BBBBB-CCCCC", Status: keys.StatusRevealed}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if services.ExitCode(err) != services.ExitInterrupted {
		t.Fatalf("exit code = %d", services.ExitCode(err))
	}
	if h.registrar.calls != 0 {
		t.Fatalf("registrar calls = %d", h.registrar.calls)
	}
}
