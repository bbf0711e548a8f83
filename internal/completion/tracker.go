package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"keyredeem/internal/fileutil"
	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
)

// FileName is the tracker file kept next to the ledger buckets.
const FileName = "choice_completed.json"

// SchemaVersion is the only file version the tracker accepts.
const SchemaVersion = 1

type fileFormat struct {
	CompletedMonths []string  `json:"completed_months"`
	LastUpdated     time.Time `json:"last_updated"`
	Version         int       `json:"version"`
}

// SuccessLookup answers whether a key identity sits in a bucket.
type SuccessLookup interface {
	Lookup(ctx context.Context, b ledger.Bucket, gamekey, nameLower string) (bool, error)
}

// Tracker persists the set of completed choice months.
type Tracker struct {
	path      string
	logger    *slog.Logger
	mu        sync.RWMutex
	completed map[string]struct{}
	now       func() time.Time
}

// NewTracker loads the tracker at path. A missing, unreadable, or
// version-mismatched file yields an empty tracker.
func NewTracker(path string, logger *slog.Logger) *Tracker {
	logger = logging.NewComponentLogger(logger, "completion")
	t := &Tracker{
		path:      path,
		logger:    logger,
		completed: make(map[string]struct{}),
		now:       time.Now,
	}
	if path == "" {
		return t
	}
	if err := t.load(); err != nil {
		logging.WarnWithContext(logger, "failed to load choice completion cache", "completion_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will be rebuilt from the ledger"),
			logging.String(logging.FieldImpact, "completed months are re-checked this run"))
	}
	return t
}

// IsComplete reports whether the month was marked complete.
func (t *Tracker) IsComplete(gamekey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.completed[gamekey]
	return ok
}

// Completed returns the completed month gamekeys in sorted order.
func (t *Tracker) Completed() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.completed))
	for gk := range t.completed {
		out = append(out, gk)
	}
	slices.Sort(out)
	return out
}

// Apply marks every loaded month that the tracker knows is complete.
func (t *Tracker) Apply(months map[string]*keys.ChoiceMonth) {
	for gk, month := range months {
		if t.IsComplete(gk) {
			month.MarkCompleted()
		}
	}
}

// MarkComplete records a month as complete and persists the tracker.
func (t *Tracker) MarkComplete(gamekey string) error {
	if gamekey == "" {
		return errors.New("gamekey cannot be empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.completed[gamekey]; ok {
		return nil
	}
	t.completed[gamekey] = struct{}{}
	return t.save()
}

// Recompute checks each not-yet-complete month against the ledger and marks
// the ones whose keys are all redeemed or already owned. It returns the
// gamekeys newly marked.
func (t *Tracker) Recompute(ctx context.Context, months map[string]*keys.ChoiceMonth, records []*keys.Record, lookup SuccessLookup) ([]string, error) {
	byMonth := make(map[string][]*keys.Record)
	for _, rec := range records {
		if rec.Month != nil {
			byMonth[rec.Month.Gamekey] = append(byMonth[rec.Month.Gamekey], rec)
		}
	}

	var newly []string
	for gk, month := range months {
		if t.IsComplete(gk) {
			month.MarkCompleted()
			continue
		}
		if month.ChoicesRemaining > 0 {
			continue
		}
		monthKeys := byMonth[gk]
		if len(monthKeys) == 0 {
			continue
		}
		done, err := allSucceeded(ctx, monthKeys, lookup)
		if err != nil {
			return newly, err
		}
		if !done {
			continue
		}
		month.MarkCompleted()
		newly = append(newly, gk)
	}
	if len(newly) == 0 {
		return nil, nil
	}
	slices.Sort(newly)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, gk := range newly {
		t.completed[gk] = struct{}{}
	}
	if err := t.save(); err != nil {
		return newly, fmt.Errorf("persist completion cache: %w", err)
	}
	t.logger.Info("choice months completed", logging.Int("count", len(newly)))
	return newly, nil
}

func allSucceeded(ctx context.Context, records []*keys.Record, lookup SuccessLookup) (bool, error) {
	for _, rec := range records {
		id := rec.Identity()
		ok := false
		for _, b := range []ledger.Bucket{ledger.Redeemed, ledger.AlreadyOwned} {
			found, err := lookup.Lookup(ctx, b, id.Gamekey, id.NameLower)
			if err != nil {
				return false, err
			}
			if found {
				ok = true
				break
			}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read completion file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var parsed fileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		var legacy []string
		if json.Unmarshal(data, &legacy) == nil {
			t.logger.Info("ignoring unversioned choice completion file", logging.String("path", t.path))
			return nil
		}
		return fmt.Errorf("parse completion file: %w", err)
	}
	if parsed.Version != SchemaVersion {
		t.logger.Info("choice completion schema changed, starting empty",
			logging.Int("file_version", parsed.Version),
			logging.Int("want_version", SchemaVersion))
		return nil
	}
	for _, gk := range parsed.CompletedMonths {
		if gk != "" {
			t.completed[gk] = struct{}{}
		}
	}
	t.logger.Debug("loaded choice completion cache", logging.Int("months", len(t.completed)))
	return nil
}

// save writes the tracker atomically. Callers hold t.mu.
func (t *Tracker) save() error {
	if t.path == "" {
		return nil
	}
	months := make([]string, 0, len(t.completed))
	for gk := range t.completed {
		months = append(months, gk)
	}
	slices.Sort(months)
	data, err := json.MarshalIndent(fileFormat{
		CompletedMonths: months,
		LastUpdated:     t.now().UTC(),
		Version:         SchemaVersion,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal completion cache: %w", err)
	}
	if err := fileutil.WriteAtomic(t.path, data, 0o644); err != nil {
		return fmt.Errorf("write completion cache: %w", err)
	}
	return nil
}
