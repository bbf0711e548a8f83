package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
	"keyredeem/internal/notifications"
	"keyredeem/internal/ownership"
	"keyredeem/internal/runner"
	"keyredeem/internal/services"
	"keyredeem/internal/testsupport"
)

type fakeStore struct {
	orders  []keys.RawOrder
	values  map[string]string
	alive   bool
	closed  bool
	reveals int
}

func (s *fakeStore) FetchInventory(context.Context) ([]keys.RawOrder, error) {
	return s.orders, nil
}

func (s *fakeStore) Reveal(_ context.Context, rec *keys.Record) (string, error) {
	s.reveals++
	return s.values[rec.HumanName], nil
}

func (s *fakeStore) KeepAlive(context.Context) error { return nil }
func (s *fakeStore) Alive(context.Context) bool      { return s.alive && !s.closed }
func (s *fakeStore) Close() error                    { s.closed = true; return nil }

type fakeRegistrar struct {
	mu      sync.Mutex
	owned   ownership.Catalog
	ownErr  error
	redeems []string
}

func (r *fakeRegistrar) Redeem(_ context.Context, value string, _ bool) (keys.ResultCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redeems = append(r.redeems, value)
	return keys.CodeSuccess, nil
}

func (r *fakeRegistrar) OwnedApps(context.Context) (ownership.Catalog, error) {
	return r.owned, r.ownErr
}

type recordingNotifier struct {
	started   int
	completed []notifications.RunReport
	reauth    int
	failed    int
}

func (n *recordingNotifier) NotifyRunStarted(context.Context, int) error { n.started++; return nil }
func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, r notifications.RunReport) error {
	n.completed = append(n.completed, r)
	return nil
}
func (n *recordingNotifier) NotifyReauthRequired(context.Context, error) error {
	n.reauth++
	return nil
}
func (n *recordingNotifier) NotifyError(context.Context, error, string) error {
	n.failed++
	return nil
}
func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func newRunner(t *testing.T, store *fakeStore, registrar *fakeRegistrar, notifier *recordingNotifier) (*runner.Runner, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMetricsTextfile("keyredeem.prom"))
	deps := runner.Deps{
		Connect: func(context.Context) (runner.Storefront, error) {
			store.closed = false
			return store, nil
		},
		Registrar: registrar,
	}
	return runner.New(cfg, deps, notifier, logging.NewNop()), cfg.Paths.LedgerDir
}

func inventory() []keys.RawOrder {
	return []keys.RawOrder{
		testsupport.Order("bundle1", "Bundle One",
			testsupport.SteamKey("Game A", 10, "AAAAA-BBBBB-CCCCC"),
			testsupport.SteamKey("Game B", 20, ""),
			testsupport.SteamKey("Owned Game", 30, "DDDDD-EEEEE-FFFFF"),
			testsupport.SteamKey("Portal 2 - Friend Pass", 40, ""),
		),
	}
}

func TestRunRedeemsClassifiesAndIsIdempotent(t *testing.T) {
	store := &fakeStore{
		orders: inventory(),
		values: map[string]string{"Game B": "GGGGG-HHHHH-IIIII"},
		alive:  true,
	}
	registrar := &fakeRegistrar{owned: ownership.Catalog{30: "Owned Game"}}
	notifier := &recordingNotifier{}
	r, ledgerDir := newRunner(t, store, registrar, notifier)

	rep, err := r.Run(context.Background(), runner.Options{Auto: true, SkipFriendKeys: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.RunID == "" || rep.Records != 4 {
		t.Fatalf("report = %+v", rep)
	}
	if len(registrar.redeems) != 2 {
		t.Fatalf("redeems = %v, want Game A and Game B", registrar.redeems)
	}
	if rep.Redemption.Outcomes[keys.StatusRedeemed] != 2 {
		t.Fatalf("outcomes = %+v", rep.Redemption.Outcomes)
	}
	if len(rep.Owned) != 1 || len(rep.Friends) != 1 {
		t.Fatalf("owned = %d friends = %d", len(rep.Owned), len(rep.Friends))
	}
	if store.reveals != 1 {
		t.Fatalf("reveals = %d, want 1", store.reveals)
	}
	if !store.closed {
		t.Fatalf("storefront session left open")
	}

	skipped, err := os.ReadFile(filepath.Join(ledgerDir, runner.SkippedFileName))
	if err != nil {
		t.Fatalf("read skipped report: %v", err)
	}
	if strings.TrimSpace(string(skipped)) != "Owned Game" {
		t.Fatalf("skipped report = %q", skipped)
	}
	if len(notifier.completed) != 1 || notifier.completed[0].Redeemed != 2 || notifier.completed[0].FriendKeys != 1 {
		t.Fatalf("completed notifications = %+v", notifier.completed)
	}
	if _, err := os.Stat(filepath.Join(testsupport.BaseDir(r.Config), "keyredeem.prom")); err != nil {
		t.Fatalf("metrics textfile missing: %v", err)
	}

	rep, err = r.Run(context.Background(), runner.Options{Auto: true, SkipFriendKeys: true})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(registrar.redeems) != 2 {
		t.Fatalf("second run redeemed again: %v", registrar.redeems)
	}
	if rep.Known != 3 {
		t.Fatalf("known = %d, want 3", rep.Known)
	}
}

func TestRunWithoutFriendDetectionRedeemsFriendPass(t *testing.T) {
	store := &fakeStore{
		orders: []keys.RawOrder{testsupport.Order("b", "B", testsupport.SteamKey("Portal 2 - Friend Pass", 40, "AAAAA-BBBBB-CCCCC"))},
		alive:  true,
	}
	registrar := &fakeRegistrar{}
	r, _ := newRunner(t, store, registrar, &recordingNotifier{})

	if _, err := r.Run(context.Background(), runner.Options{Auto: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(registrar.redeems) != 1 {
		t.Fatalf("redeems = %v", registrar.redeems)
	}
}

func TestRunStaleSessionNeedsReauth(t *testing.T) {
	store := &fakeStore{orders: inventory()}
	registrar := &fakeRegistrar{}
	notifier := &recordingNotifier{}
	r, _ := newRunner(t, store, registrar, notifier)

	_, err := r.Run(context.Background(), runner.Options{Auto: true})
	if !errors.Is(err, services.ErrStaleCredentials) {
		t.Fatalf("err = %v, want stale credentials", err)
	}
	if services.ExitCode(err) != services.ExitReauth {
		t.Fatalf("exit = %d", services.ExitCode(err))
	}
	if notifier.reauth != 1 || notifier.started != 0 {
		t.Fatalf("notifier = %+v", notifier)
	}
}

func TestRunOwnedCatalogFailureContinues(t *testing.T) {
	store := &fakeStore{
		orders: []keys.RawOrder{testsupport.Order("b", "B", testsupport.SteamKey("Owned Game", 30, "AAAAA-BBBBB-CCCCC"))},
		alive:  true,
	}
	registrar := &fakeRegistrar{ownErr: errors.New("catalog offline")}
	r, _ := newRunner(t, store, registrar, &recordingNotifier{})

	if _, err := r.Run(context.Background(), runner.Options{Auto: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(registrar.redeems) != 1 {
		t.Fatalf("redeems = %v", registrar.redeems)
	}
}

func TestRunOwnedCatalogStaleCredentialsStops(t *testing.T) {
	store := &fakeStore{orders: inventory(), alive: true}
	registrar := &fakeRegistrar{ownErr: services.Wrap(services.ErrStaleCredentials, "steam", "owned", "", nil)}
	r, _ := newRunner(t, store, registrar, &recordingNotifier{})

	_, err := r.Run(context.Background(), runner.Options{Auto: true})
	if !errors.Is(err, services.ErrStaleCredentials) {
		t.Fatalf("err = %v", err)
	}
	if len(registrar.redeems) != 0 {
		t.Fatalf("redeems = %v", registrar.redeems)
	}
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	store := &fakeStore{orders: inventory(), alive: true}
	r, ledgerDir := newRunner(t, store, &fakeRegistrar{}, &recordingNotifier{})

	held := flock.New(filepath.Join(ledgerDir, "keyredeem.lock"))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer held.Unlock()

	_, err = r.Run(context.Background(), runner.Options{Auto: true})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestRunReconcilesErroredKeys(t *testing.T) {
	store := &fakeStore{alive: true}
	registrar := &fakeRegistrar{}
	r, _ := newRunner(t, store, registrar, &recordingNotifier{})
	l := testsupport.MustOpenLedger(t, r.Config)
	testsupport.Seed(t, l, ledger.Errored,
		ledger.Entry{Gamekey: "old", HumanName: "Retry Me", RevealedValue: "JJJJJ-KKKKK-LLLLL"},
		ledger.Entry{Gamekey: "old", HumanName: "No Value"},
	)

	rep, err := r.Run(context.Background(), runner.Options{Auto: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Reconcile == nil || rep.Reconcile.Attempted != 1 {
		t.Fatalf("reconcile = %+v", rep.Reconcile)
	}
	if got := testsupport.BucketNames(t, l, ledger.Errored); len(got) != 1 || got[0] != "No Value" {
		t.Fatalf("errored = %v", got)
	}
}

func TestReconcileNeverTouchesStorefront(t *testing.T) {
	store := &fakeStore{alive: true}
	registrar := &fakeRegistrar{}
	r, _ := newRunner(t, store, registrar, &recordingNotifier{})
	r.Deps.Connect = func(context.Context) (runner.Storefront, error) {
		t.Fatalf("reconcile opened a storefront session")
		return nil, nil
	}
	l := testsupport.MustOpenLedger(t, r.Config)
	testsupport.Seed(t, l, ledger.Errored,
		ledger.Entry{Gamekey: "g", HumanName: "Retry Me", RevealedValue: "JJJJJ-KKKKK-LLLLL"})

	summary, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if summary.Outcomes[keys.StatusRedeemed] != 1 || len(registrar.redeems) != 1 {
		t.Fatalf("summary = %+v redeems = %v", summary, registrar.redeems)
	}
	if hit, _ := l.Lookup(context.Background(), ledger.Redeemed, "g", "retry me"); !hit {
		t.Fatalf("reconciled key missing from redeemed bucket")
	}
}
