package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"keyredeem/internal/fileutil"
	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
)

const lockRetryDelay = 50 * time.Millisecond

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("ledger closed")

// WriteResult reports what a Write did.
type WriteResult int

const (
	// Appended means the entry was durably added.
	Appended WriteResult = iota
	// AlreadyPresent means the bucket already held the identity; nothing was written.
	AlreadyPresent
)

func (r WriteResult) String() string {
	if r == AlreadyPresent {
		return "already_present"
	}
	return "appended"
}

type bucketState struct {
	loaded bool
	stamp  fileStamp
	ids    map[keys.Identity]struct{}
	values map[string]struct{}
	count  int
}

// Ledger is the bucketed outcome store rooted at one directory.
type Ledger struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[Bucket]*bucketState

	inflight sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool
}

// Open prepares a ledger in dir, creating the directory if needed. Bucket
// files are read lazily on first use.
func Open(dir string, logger *slog.Logger) (*Ledger, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("ledger directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{
		dir:     dir,
		logger:  logging.NewComponentLogger(logger, "ledger"),
		buckets: make(map[Bucket]*bucketState, len(Buckets)),
	}, nil
}

// Dir returns the directory holding the bucket files.
func (l *Ledger) Dir() string {
	return l.dir
}

// Path returns the backing file of a bucket.
func (l *Ledger) Path(b Bucket) string {
	return filepath.Join(l.dir, b.FileName())
}

func (l *Ledger) lockPath(b Bucket) string {
	return l.Path(b) + ".lock"
}

// Lookup reports whether the bucket holds the identity.
func (l *Ledger) Lookup(ctx context.Context, b Bucket, gamekey, nameLower string) (bool, error) {
	state, err := l.current(ctx, b)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := state.ids[keys.NewIdentity(gamekey, nameLower)]
	return ok, nil
}

// HasValue reports whether the bucket holds an entry with the revealed value.
func (l *Ledger) HasValue(ctx context.Context, b Bucket, value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	state, err := l.current(ctx, b)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := state.values[value]
	return ok, nil
}

// Write appends entry to the bucket unless the identity is already there.
// Success writes also purge the identity from Errored, even when the entry
// itself was already present.
func (l *Ledger) Write(ctx context.Context, b Bucket, entry Entry) (WriteResult, error) {
	if err := l.begin(); err != nil {
		return AlreadyPresent, err
	}
	defer l.inflight.Done()

	if strings.TrimSpace(entry.Gamekey) == "" && strings.TrimSpace(entry.HumanName) == "" {
		return AlreadyPresent, errors.New("ledger entry needs a gamekey or name")
	}

	result, err := l.appendLocked(ctx, b, entry)
	if err != nil {
		return result, err
	}
	if b.Success() {
		id := entry.Identity()
		if _, err := l.remove(ctx, Errored, id); err != nil {
			return result, fmt.Errorf("purge errored entry: %w", err)
		}
	}
	return result, nil
}

func (l *Ledger) appendLocked(ctx context.Context, b Bucket, entry Entry) (WriteResult, error) {
	unlock, err := l.lock(ctx, b, true)
	if err != nil {
		return AlreadyPresent, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.refreshLocked(b)
	if err != nil {
		return AlreadyPresent, err
	}
	id := entry.Identity()
	if _, dup := state.ids[id]; dup {
		return AlreadyPresent, nil
	}

	path := l.Path(b)
	if err := appendEntry(path, b, entry); err != nil {
		return AlreadyPresent, err
	}
	stamp, err := statFile(path)
	if err != nil {
		return Appended, err
	}
	state.ids[id] = struct{}{}
	if entry.Revealed() {
		state.values[strings.TrimSpace(entry.RevealedValue)] = struct{}{}
	}
	state.count++
	state.stamp = stamp

	l.logger.Debug("ledger entry appended",
		logging.String(logging.FieldBucket, string(b)),
		logging.String(logging.FieldGamekey, entry.Gamekey),
		logging.String(logging.FieldKeyName, entry.HumanName))
	return Appended, nil
}

// Remove deletes every entry with the identity from the bucket and returns
// how many rows were dropped.
func (l *Ledger) Remove(ctx context.Context, b Bucket, gamekey, nameLower string) (int, error) {
	if err := l.begin(); err != nil {
		return 0, err
	}
	defer l.inflight.Done()
	return l.remove(ctx, b, keys.NewIdentity(gamekey, nameLower))
}

func (l *Ledger) remove(ctx context.Context, b Bucket, id keys.Identity) (int, error) {
	l.mu.Lock()
	state := l.buckets[b]
	if state != nil && state.loaded {
		if _, present := state.ids[id]; !present {
			stamp, err := statFile(l.Path(b))
			if err == nil && stamp == state.stamp {
				l.mu.Unlock()
				return 0, nil
			}
		}
	}
	l.mu.Unlock()

	unlock, err := l.lock(ctx, b, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.Path(b)
	entries, err := readEntries(path)
	if err != nil {
		return 0, err
	}
	kept := entries[:0]
	removed := 0
	for _, e := range entries {
		if e.Identity() == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed > 0 {
		if err := rewriteEntries(path, b, kept); err != nil {
			return 0, err
		}
		l.logger.Info("removed entry from bucket",
			logging.String(logging.FieldBucket, string(b)),
			logging.String(logging.FieldGamekey, id.Gamekey),
			logging.String(logging.FieldKeyName, id.NameLower),
			logging.Int("rows", removed))
	}
	stamp, err := statFile(path)
	if err != nil {
		return removed, err
	}
	l.buckets[b] = newState(kept, stamp)
	return removed, nil
}

// Entries returns a snapshot of the bucket read under a shared lock.
func (l *Ledger) Entries(ctx context.Context, b Bucket) ([]Entry, error) {
	unlock, err := l.lock(ctx, b, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path := l.Path(b)
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	stamp, err := statFile(path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.buckets[b] = newState(entries, stamp)
	l.mu.Unlock()
	return entries, nil
}

// Counts returns the number of rows per bucket.
func (l *Ledger) Counts(ctx context.Context) (map[Bucket]int, error) {
	out := make(map[Bucket]int, len(Buckets))
	for _, b := range Buckets {
		state, err := l.current(ctx, b)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		out[b] = state.count
		l.mu.Unlock()
	}
	return out, nil
}

// CompactReport summarises a Compact call.
type CompactReport struct {
	Before     int
	After      int
	Discarded  int
	BackupPath string
}

// Compact rewrites the bucket with one row per identity, preferring rows
// that carry a redeemable value. The original file is copied to
// <bucket>.csv.backup first. A bucket without duplicates is left untouched.
func (l *Ledger) Compact(ctx context.Context, b Bucket) (CompactReport, error) {
	if err := l.begin(); err != nil {
		return CompactReport{}, err
	}
	defer l.inflight.Done()

	unlock, err := l.lock(ctx, b, true)
	if err != nil {
		return CompactReport{}, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.Path(b)
	entries, err := readEntries(path)
	if err != nil {
		return CompactReport{}, err
	}
	deduped := Dedupe(entries)
	report := CompactReport{Before: len(entries), After: len(deduped), Discarded: len(entries) - len(deduped)}
	if report.Discarded == 0 {
		return report, nil
	}
	report.BackupPath = path + ".backup"
	if err := fileutil.CopyFileVerified(path, report.BackupPath); err != nil {
		return CompactReport{}, fmt.Errorf("backup %s: %w", path, err)
	}
	if err := rewriteEntries(path, b, deduped); err != nil {
		return CompactReport{}, err
	}
	stamp, err := statFile(path)
	if err != nil {
		return report, err
	}
	l.buckets[b] = newState(deduped, stamp)
	l.logger.Info("compacted bucket",
		logging.String(logging.FieldBucket, string(b)),
		logging.Int("before", report.Before),
		logging.Int("after", report.After),
		logging.String("backup", report.BackupPath))
	return report, nil
}

// Close rejects further writes and waits for in-flight ones. Every write is
// flushed and synced before its lock is released, so nothing is buffered.
func (l *Ledger) Close() error {
	l.closeMu.Lock()
	l.closed = true
	l.closeMu.Unlock()
	l.inflight.Wait()
	return nil
}

func (l *Ledger) begin() error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	l.inflight.Add(1)
	return nil
}

// current returns the cached state, loading it under a shared lock when it
// is missing or the file changed since it was read.
func (l *Ledger) current(ctx context.Context, b Bucket) (*bucketState, error) {
	stamp, err := statFile(l.Path(b))
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	state := l.buckets[b]
	if state != nil && state.loaded && state.stamp == stamp {
		l.mu.Unlock()
		return state, nil
	}
	l.mu.Unlock()

	unlock, err := l.lock(ctx, b, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshLocked(b)
}

// refreshLocked re-reads the bucket when its file no longer matches the
// cached stamp. Callers hold the bucket file lock and l.mu.
func (l *Ledger) refreshLocked(b Bucket) (*bucketState, error) {
	path := l.Path(b)
	stamp, err := statFile(path)
	if err != nil {
		return nil, err
	}
	if state := l.buckets[b]; state != nil && state.loaded && state.stamp == stamp {
		return state, nil
	}
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	if prev := l.buckets[b]; prev != nil && prev.loaded {
		l.logger.Debug("bucket changed on disk, cache refreshed",
			logging.String(logging.FieldBucket, string(b)),
			logging.Int("entries", len(entries)))
	}
	state := newState(entries, stamp)
	l.buckets[b] = state
	return state, nil
}

func newState(entries []Entry, stamp fileStamp) *bucketState {
	state := &bucketState{
		loaded: true,
		stamp:  stamp,
		ids:    make(map[keys.Identity]struct{}, len(entries)),
		values: make(map[string]struct{}, len(entries)),
		count:  len(entries),
	}
	for _, e := range entries {
		state.ids[e.Identity()] = struct{}{}
		if e.Revealed() {
			state.values[strings.TrimSpace(e.RevealedValue)] = struct{}{}
		}
	}
	return state
}

// lock takes the bucket's advisory file lock. Each call uses its own flock
// handle so goroutines of this process exclude each other as well.
func (l *Ledger) lock(ctx context.Context, b Bucket, exclusive bool) (func(), error) {
	fl := flock.New(l.lockPath(b))
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", b.FileName(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", b.FileName())
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			logging.WarnWithContext(l.logger, "failed to release bucket lock", "ledger_unlock_failed",
				logging.String(logging.FieldBucket, string(b)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the stale .lock file if no other run is active"))
		}
	}, nil
}
