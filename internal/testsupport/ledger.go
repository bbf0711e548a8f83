package testsupport

import (
	"context"
	"testing"

	"keyredeem/internal/config"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
)

// MustOpenLedger opens the ledger in cfg's ledger dir and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Ledger {
	t.Helper()

	l, err := ledger.Open(cfg.Paths.LedgerDir, logging.NewNop())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

// Seed writes entries into bucket b.
func Seed(t testing.TB, l *ledger.Ledger, b ledger.Bucket, entries ...ledger.Entry) {
	t.Helper()

	for _, e := range entries {
		if _, err := l.Write(context.Background(), b, e); err != nil {
			t.Fatalf("seed %s: %v", b, err)
		}
	}
}

// BucketNames returns the human names stored in bucket b, in file order.
func BucketNames(t testing.TB, l *ledger.Ledger, b ledger.Bucket) []string {
	t.Helper()

	entries, err := l.Entries(context.Background(), b)
	if err != nil {
		t.Fatalf("entries %s: %v", b, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.HumanName)
	}
	return names
}
