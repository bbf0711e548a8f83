package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
)

// Source reads ledger buckets.
type Source interface {
	Entries(ctx context.Context, b ledger.Bucket) ([]ledger.Entry, error)
}

// Redeemer submits a revealed record and records its outcome.
type Redeemer interface {
	Redeem(ctx context.Context, rec *keys.Record, remaining int) (keys.ResultCode, error)
}

// Summary reports one reconciliation pass.
type Summary struct {
	Read      int
	Unique    int
	Discarded int
	Attempted int
	Outcomes  map[keys.Status]int
}

// Reconciler runs errored-key reconciliation.
type Reconciler struct {
	Ledger   Source
	Redeemer Redeemer
	Logger   *slog.Logger
}

// Candidates returns the errored entries worth resubmitting, in file order.
func (r *Reconciler) Candidates(ctx context.Context) ([]ledger.Entry, Summary, error) {
	summary := Summary{Outcomes: make(map[keys.Status]int)}
	entries, err := r.Ledger.Entries(ctx, ledger.Errored)
	if err != nil {
		return nil, summary, fmt.Errorf("read errored bucket: %w", err)
	}
	unique := ledger.Dedupe(entries)
	summary.Read = len(entries)
	summary.Unique = len(unique)

	out := make([]ledger.Entry, 0, len(unique))
	for _, e := range unique {
		if !e.Redeemable() {
			summary.Discarded++
			continue
		}
		out = append(out, e)
	}
	return out, summary, nil
}

// Reconcile resubmits every candidate. It stops at the first error the
// redeemer returns, which is only cancellation or a ledger failure.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(r.Logger, "reconcile"))
	candidates, summary, err := r.Candidates(ctx)
	if err != nil {
		return summary, err
	}
	logger.Info("reconciling errored keys",
		logging.Int("rows", summary.Read),
		logging.Int("unique", summary.Unique),
		logging.Int("candidates", len(candidates)),
		logging.Int("without_value", summary.Discarded))

	for i, e := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec := &keys.Record{
			Gamekey:       e.Gamekey,
			HumanName:     e.HumanName,
			RevealedValue: e.RevealedValue,
			Status:        keys.StatusRevealed,
		}
		summary.Attempted++
		if _, err := r.Redeemer.Redeem(ctx, rec, len(candidates)-i-1); err != nil {
			return summary, err
		}
		summary.Outcomes[rec.Status]++
	}

	logger.Info("reconciliation complete",
		logging.Int("attempted", summary.Attempted),
		logging.Int("redeemed", summary.Outcomes[keys.StatusRedeemed]),
		logging.Int("already_owned", summary.Outcomes[keys.StatusAlreadyOwned]),
		logging.Int("still_errored", summary.Outcomes[keys.StatusErrored]))
	return summary, nil
}
