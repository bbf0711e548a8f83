package classify_test

import (
	"context"
	"testing"

	"keyredeem/internal/classify"
	"keyredeem/internal/friendkeys"
	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
	"keyredeem/internal/ownership"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newClassifier(l *ledger.Ledger, owned ownership.Catalog) *classify.Classifier {
	return &classify.Classifier{
		Ledger:   l,
		Detector: friendkeys.NewDetector(friendkeys.DefaultRules(), 0.8, 0.5),
		Owned:    ownership.NewIndex(owned, ownership.NewMatcher(90, 70, 85)),
		Logger:   logging.NewNop(),
	}
}

type scriptedConfirmer struct {
	friend, owned bool
	friendAsked   int
	ownedAsked    int
}

func (s *scriptedConfirmer) ConfirmFriend(context.Context, *keys.Record, friendkeys.Verdict) (bool, error) {
	s.friendAsked++
	return s.friend, nil
}

func (s *scriptedConfirmer) ConfirmOwned(context.Context, *keys.Record, ownership.Match) (bool, error) {
	s.ownedAsked++
	return s.owned, nil
}

func TestClassifyResolvesRedeemedCaseVariants(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	if _, err := l.Write(ctx, ledger.Redeemed, ledger.Entry{Gamekey: "abc", HumanName: "Game A", RevealedValue: "WWWWW-WWWWW-WWWWW"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	records := []*keys.Record{
		{Gamekey: "abc", HumanName: "Game A", RevealedValue: "WWWWW-WWWWW-WWWWW", Status: keys.StatusRevealed},
		{Gamekey: "abc", HumanName: "game a", RevealedValue: "WWWWW-WWWWW-WWWWW", Status: keys.StatusRevealed},
	}
	res, err := newClassifier(l, nil).Classify(ctx, records)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(res.Work) != 0 || res.Known != 2 {
		t.Fatalf("expected no work and 2 known, got work=%d known=%d", len(res.Work), res.Known)
	}
	for _, rec := range records {
		if rec.Status != keys.StatusAlreadyOwned {
			t.Fatalf("status of %q = %s", rec.HumanName, rec.Status)
		}
	}
}

func TestClassifyMatchesRedeemedValueUnderOtherIdentity(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	if _, err := l.Write(ctx, ledger.AlreadyOwned, ledger.Entry{Gamekey: "jan", HumanName: "Game B", RevealedValue: "AAAAA-BBBBB-CCCCC"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := &keys.Record{Gamekey: "feb", HumanName: "Game B", RevealedValue: "AAAAA-BBBBB-CCCCC", Status: keys.StatusRevealed}
	if _, err := newClassifier(l, nil).Classify(ctx, []*keys.Record{rec}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rec.Status != keys.StatusAlreadyOwned {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestClassifyRoutesAndPreservesOrder(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	month := &keys.ChoiceMonth{Gamekey: "done-month"}
	month.MarkCompleted()
	records := []*keys.Record{
		{Gamekey: "g1", HumanName: "Zeta", Status: keys.StatusUnrevealed},
		{Gamekey: "g1", HumanName: "Shooter Guest Pass", Status: keys.StatusUnrevealed},
		{Gamekey: "g2", HumanName: "Old Game", RevealedValue: keys.ExpiredMarker, Status: keys.StatusExpired},
		{Gamekey: "g2", HumanName: "Balatro (Steam)", RevealedValue: "BBBBB-BBBBB-BBBBB", Status: keys.StatusRevealed},
		{Gamekey: "g3", HumanName: "Bonus Level Pack", Status: keys.StatusUnrevealed},
		{Gamekey: "g3", HumanName: "Owned By Id", SteamAppID: 77, RevealedValue: "CCCCC-CCCCC-CCCCC", Status: keys.StatusRevealed},
		{Gamekey: "done-month", HumanName: "Chosen", Status: keys.StatusUnrevealed, Month: month},
		{Gamekey: "g4", HumanName: "Alpha", RevealedValue: "DDDDD-DDDDD-DDDDD", Status: keys.StatusRevealed},
	}
	res, err := newClassifier(l, ownership.Catalog{1: "Balatro", 77: "Something"}).Classify(ctx, records)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	var work []string
	for _, rec := range res.Work {
		work = append(work, rec.HumanName)
	}
	if len(work) != 2 || work[0] != "Zeta" || work[1] != "Alpha" {
		t.Fatalf("work = %v", work)
	}
	if len(res.Friends) != 1 || res.Friends[0].Record.Status != keys.StatusFriendKey {
		t.Fatalf("friends = %+v", res.Friends)
	}
	if len(res.Uncertain) != 1 || res.Uncertain[0].Record.Status != keys.StatusSkipped {
		t.Fatalf("uncertain = %+v", res.Uncertain)
	}
	if len(res.Owned) != 2 {
		t.Fatalf("owned = %+v", res.Owned)
	}
	if records[6].Status != keys.StatusAlreadyOwned {
		t.Fatalf("completed month key status = %s", records[6].Status)
	}

	if ok, _ := l.Lookup(ctx, ledger.FriendKeys, "g1", "shooter guest pass"); !ok {
		t.Fatal("expected friend key in ledger")
	}
	if ok, _ := l.Lookup(ctx, ledger.Expired, "g2", "old game"); !ok {
		t.Fatal("expected expired key in ledger")
	}
	if ok, _ := l.Lookup(ctx, ledger.FriendKeys, "g3", "bonus level pack"); ok {
		t.Fatal("uncertain key must not be filed without confirmation")
	}

	again := []*keys.Record{{Gamekey: "g1", HumanName: "Shooter Guest Pass", Status: keys.StatusUnrevealed}}
	res, err = newClassifier(l, nil).Classify(ctx, again)
	if err != nil {
		t.Fatalf("Classify again: %v", err)
	}
	if res.Known != 1 || again[0].Status != keys.StatusFriendKey {
		t.Fatalf("expected friend key resolved from ledger, got %s", again[0].Status)
	}
}

func TestClassifyAsksConfirmer(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	c := newClassifier(l, ownership.Catalog{9: "Hades II Soundtrack Edition"})
	confirm := &scriptedConfirmer{friend: true, owned: true}
	c.Confirmer = confirm

	records := []*keys.Record{
		{Gamekey: "g", HumanName: "Bonus Level Pack", Status: keys.StatusUnrevealed},
		{Gamekey: "g", HumanName: "Hades", RevealedValue: "EEEEE-EEEEE-EEEEE", Status: keys.StatusRevealed},
	}
	res, err := c.Classify(ctx, records)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if confirm.friendAsked != 1 || confirm.ownedAsked != 1 {
		t.Fatalf("asked friend=%d owned=%d", confirm.friendAsked, confirm.ownedAsked)
	}
	if len(res.Friends) != 1 || len(res.Owned) != 1 || len(res.Work) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ok, _ := l.Lookup(ctx, ledger.FriendKeys, "g", "bonus level pack"); !ok {
		t.Fatal("confirmed friend key should be filed")
	}
}
