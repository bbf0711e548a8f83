package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
)

func openLedger(t *testing.T, dir string) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(dir, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestWriteIsIdempotentAndWritesHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openLedger(t, dir)

	entry := ledger.Entry{Gamekey: "abc", HumanName: "Game, A", RevealedValue: "AAAAA-BBBBB-CCCCC"}
	result, err := l.Write(ctx, ledger.Redeemed, entry)
	if err != nil || result != ledger.Appended {
		t.Fatalf("first write = %v, %v", result, err)
	}
	variant := entry
	variant.HumanName = "GAME, a"
	result, err = l.Write(ctx, ledger.Redeemed, variant)
	if err != nil || result != ledger.AlreadyPresent {
		t.Fatalf("duplicate write = %v, %v", result, err)
	}

	content := readFile(t, filepath.Join(dir, "redeemed.csv"))
	if !strings.HasPrefix(content, "\ufeffgamekey,human_name,redeemed_key_val\n") {
		t.Fatalf("expected BOM and header, got %q", content)
	}
	if strings.Count(content, "abc,") != 1 {
		t.Fatalf("expected one data row, got %q", content)
	}
	if !strings.Contains(content, `"Game, A"`) {
		t.Fatalf("expected delimiter in name to be quoted, got %q", content)
	}

	found, err := l.Lookup(ctx, ledger.Redeemed, "abc", "game, a")
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v", found, err)
	}
	hasValue, err := l.HasValue(ctx, ledger.Redeemed, "AAAAA-BBBBB-CCCCC")
	if err != nil || !hasValue {
		t.Fatalf("HasValue = %v, %v", hasValue, err)
	}
}

func TestUnrevealedEntryOmitsValueField(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openLedger(t, dir)

	if _, err := l.Write(ctx, ledger.Errored, ledger.Entry{Gamekey: "g1", HumanName: "Hidden"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	content := readFile(t, filepath.Join(dir, "errored.csv"))
	if !strings.HasSuffix(content, "\ng1,Hidden\n") {
		t.Fatalf("expected two-field row, got %q", content)
	}
	entries, err := l.Entries(ctx, ledger.Errored)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Revealed() {
		t.Fatalf("expected one unrevealed entry, got %+v", entries)
	}
}

func TestSuccessWritePurgesErrored(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openLedger(t, dir)

	if _, err := l.Write(ctx, ledger.Errored, ledger.Entry{Gamekey: "g1", HumanName: "Game One", RevealedValue: "AAAAA-BBBBB-CCCCC"}); err != nil {
		t.Fatalf("errored write: %v", err)
	}
	if _, err := l.Write(ctx, ledger.Errored, ledger.Entry{Gamekey: "g2", HumanName: "Game Two"}); err != nil {
		t.Fatalf("errored write: %v", err)
	}
	if _, err := l.Write(ctx, ledger.AlreadyOwned, ledger.Entry{Gamekey: "g1", HumanName: "game one", RevealedValue: "AAAAA-BBBBB-CCCCC"}); err != nil {
		t.Fatalf("success write: %v", err)
	}

	if found, _ := l.Lookup(ctx, ledger.Errored, "g1", "game one"); found {
		t.Fatal("expected success to purge errored entry")
	}
	if found, _ := l.Lookup(ctx, ledger.Errored, "g2", "game two"); !found {
		t.Fatal("unrelated errored entry must survive")
	}
	content := readFile(t, filepath.Join(dir, "errored.csv"))
	if strings.Contains(content, "g1") || !strings.HasPrefix(content, "\ufeffgamekey") {
		t.Fatalf("unexpected errored file after purge: %q", content)
	}
}

func TestExpiredWriteLeavesErrored(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, t.TempDir())

	if _, err := l.Write(ctx, ledger.Errored, ledger.Entry{Gamekey: "g1", HumanName: "Old Game"}); err != nil {
		t.Fatalf("errored write: %v", err)
	}
	if _, err := l.Write(ctx, ledger.Expired, ledger.Entry{Gamekey: "g1", HumanName: "Old Game", RevealedValue: "EXPIRED"}); err != nil {
		t.Fatalf("expired write: %v", err)
	}
	if found, _ := l.Lookup(ctx, ledger.Errored, "g1", "old game"); !found {
		t.Fatal("only success buckets purge errored entries")
	}
}

func TestDuplicateSuccessStillPurgesErrored(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openLedger(t, dir)

	entry := ledger.Entry{Gamekey: "g1", HumanName: "Game"}
	if _, err := l.Write(ctx, ledger.Redeemed, entry); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// A second process recorded an error for the same key afterwards.
	other := openLedger(t, dir)
	if _, err := other.Write(ctx, ledger.Errored, entry); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := l.Write(ctx, ledger.Redeemed, entry)
	if err != nil || result != ledger.AlreadyPresent {
		t.Fatalf("Write = %v, %v", result, err)
	}
	if found, _ := l.Lookup(ctx, ledger.Errored, "g1", "game"); found {
		t.Fatal("expected errored entry to be purged by duplicate success write")
	}
}

func TestCacheRefreshesAfterWriteFromAnotherInstance(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := openLedger(t, dir)
	second := openLedger(t, dir)

	if found, _ := first.Lookup(ctx, ledger.Redeemed, "g", "title"); found {
		t.Fatal("empty ledger reported a hit")
	}
	if _, err := second.Write(ctx, ledger.Redeemed, ledger.Entry{Gamekey: "g", HumanName: "Title"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	found, err := first.Lookup(ctx, ledger.Redeemed, "g", "title")
	if err != nil || !found {
		t.Fatalf("expected first instance to see second's write, got %v %v", found, err)
	}
	result, err := first.Write(ctx, ledger.Redeemed, ledger.Entry{Gamekey: "g", HumanName: "Title"})
	if err != nil || result != ledger.AlreadyPresent {
		t.Fatalf("expected duplicate detection across instances, got %v %v", result, err)
	}
}

func TestConcurrentWritersProduceOneRow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledgers := []*ledger.Ledger{openLedger(t, dir), openLedger(t, dir), openLedger(t, dir)}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(l *ledger.Ledger) {
			defer wg.Done()
			if _, err := l.Write(ctx, ledger.Expired, ledger.Entry{Gamekey: "g", HumanName: "Race", RevealedValue: "EXPIRED"}); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(ledgers[i%len(ledgers)])
	}
	wg.Wait()

	entries, err := ledgers[0].Entries(ctx, ledger.Expired)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(entries))
	}
}

func TestFriendKeysRoundTripAndLegacyColumnOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacy := "\ufeffhuman_name,key_type,redeemed_key_val,gamekey,steam_app_id,reason,confidence%\n" +
		"Portal 2,Steam,NOT_REVEALED,gk1,620,known co-op title,85\n"
	if err := os.WriteFile(filepath.Join(dir, "friend_keys.csv"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	l := openLedger(t, dir)

	found, err := l.Lookup(ctx, ledger.FriendKeys, "gk1", "portal 2")
	if err != nil || !found {
		t.Fatalf("expected legacy friend entry, got %v %v", found, err)
	}
	if _, err := l.Write(ctx, ledger.FriendKeys, ledger.Entry{
		Gamekey:   "gk2",
		HumanName: "Game - Friend Pass",
		Friend:    &ledger.FriendDetail{KeyType: "Steam", SteamAppID: 42, Reason: "friend pass", Confidence: 1},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := l.Entries(ctx, ledger.FriendKeys)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 friend entries, got %d", len(entries))
	}
	if entries[0].Friend == nil || entries[0].Friend.Confidence != 0.85 || entries[0].Friend.SteamAppID != 620 {
		t.Fatalf("legacy detail not parsed: %+v", entries[0].Friend)
	}
	if entries[1].Friend == nil || entries[1].Friend.Reason != "friend pass" {
		t.Fatalf("new detail not parsed: %+v", entries[1].Friend)
	}
}

func TestCompactPrefersRedeemableValues(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rows := "\ufeffgamekey,human_name,redeemed_key_val\n" +
		"g1,Game,\n" +
		"g1,game,AAAAA-BBBBB-CCCCC\n" +
		"g2,Other,bad\n" +
		"g2,Other,\n"
	path := filepath.Join(dir, "errored.csv")
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatalf("write errored: %v", err)
	}
	l := openLedger(t, dir)

	report, err := l.Compact(ctx, ledger.Errored)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if report.Before != 4 || report.After != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if readFile(t, report.BackupPath) != rows {
		t.Fatal("backup must hold the original rows")
	}
	entries, err := l.Entries(ctx, ledger.Errored)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if entries[0].RevealedValue != "AAAAA-BBBBB-CCCCC" {
		t.Fatalf("expected redeemable value to win, got %+v", entries[0])
	}
	if entries[1].RevealedValue != "bad" {
		t.Fatalf("expected first row kept when none is redeemable, got %+v", entries[1])
	}
}

func TestRemoveAndCounts(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, t.TempDir())
	for _, name := range []string{"A", "B"} {
		if _, err := l.Write(ctx, ledger.Errored, ledger.Entry{Gamekey: "g", HumanName: name}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	removed, err := l.Remove(ctx, ledger.Errored, "g", "a")
	if err != nil || removed != 1 {
		t.Fatalf("Remove = %d, %v", removed, err)
	}
	if removed, _ := l.Remove(ctx, ledger.Errored, "g", "missing"); removed != 0 {
		t.Fatalf("expected no-op remove, got %d", removed)
	}
	counts, err := l.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[ledger.Errored] != 1 || counts[ledger.Redeemed] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	l := openLedger(t, t.TempDir())
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := l.Write(context.Background(), ledger.Redeemed, ledger.Entry{Gamekey: "g", HumanName: "n"})
	if !errors.Is(err, ledger.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestParseBucket(t *testing.T) {
	for input, want := range map[string]ledger.Bucket{
		"redeemed":        ledger.Redeemed,
		"already-owned":   ledger.AlreadyOwned,
		"friend_keys.csv": ledger.FriendKeys,
		" Errored ":       ledger.Errored,
	} {
		got, err := ledger.ParseBucket(input)
		if err != nil || got != want {
			t.Errorf("ParseBucket(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ledger.ParseBucket("skipped"); err == nil {
		t.Fatal("expected error for unknown bucket")
	}
}
