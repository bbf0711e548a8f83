package runner

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"keyredeem/internal/services"
)

const lockFileName = "keyredeem.lock"

// acquireRunLock takes the per-ledger run lock without blocking.
func acquireRunLock(ledgerDir string) (func(), error) {
	path := filepath.Join(ledgerDir, lockFileName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "lock",
			fmt.Sprintf("another run holds %s", path), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}
