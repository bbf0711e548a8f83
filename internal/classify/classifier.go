package classify

import (
	"context"
	"fmt"
	"log/slog"

	"keyredeem/internal/friendkeys"
	"keyredeem/internal/keys"
	"keyredeem/internal/ledger"
	"keyredeem/internal/logging"
	"keyredeem/internal/ownership"
)

// Ledger is the subset of the outcome store the classifier consults.
type Ledger interface {
	Lookup(ctx context.Context, b ledger.Bucket, gamekey, nameLower string) (bool, error)
	HasValue(ctx context.Context, b ledger.Bucket, value string) (bool, error)
	Write(ctx context.Context, b ledger.Bucket, entry ledger.Entry) (ledger.WriteResult, error)
}

// Owned answers ownership questions for revealed keys.
type Owned interface {
	Owns(appID int64) bool
	LookupOwned(name string) (ownership.Match, bool)
	Best(name string) (ownership.Match, bool)
}

// Confirmer asks the operator about borderline decisions. A nil Confirmer
// means the run is unattended.
type Confirmer interface {
	ConfirmFriend(ctx context.Context, rec *keys.Record, v friendkeys.Verdict) (bool, error)
	ConfirmOwned(ctx context.Context, rec *keys.Record, m ownership.Match) (bool, error)
}

// FriendKey is a record flagged by the detector.
type FriendKey struct {
	Record  *keys.Record
	Verdict friendkeys.Verdict
}

// OwnedKey is a record skipped because the account already owns its title.
type OwnedKey struct {
	Record *keys.Record
	// Match is zero when the app id matched directly.
	Match ownership.Match
}

// Result is the outcome of classification.
type Result struct {
	// Records holds every input record with its classified status.
	Records []*keys.Record
	// Work is the ordered queue for the orchestrator.
	Work      []*keys.Record
	Friends   []FriendKey
	Uncertain []FriendKey
	Owned     []OwnedKey
	// Known counts records resolved from earlier ledger outcomes.
	Known int
}

// Classifier sorts records into work and skip lists.
type Classifier struct {
	Ledger    Ledger
	Detector  *friendkeys.Detector
	Owned     Owned
	Confirmer Confirmer
	// Completed reports choice months already fully processed.
	Completed func(gamekey string) bool
	Logger    *slog.Logger
}

// Classify assigns an initial status to each record. Records are mutated
// in place and returned in their original order.
func (c *Classifier) Classify(ctx context.Context, records []*keys.Record) (Result, error) {
	logger := logging.NewComponentLogger(c.Logger, "classify")
	res := Result{Records: records}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		done, err := c.resolveFromLedger(ctx, rec)
		if err != nil {
			return res, err
		}
		if done {
			res.Known++
			continue
		}
		if rec.Status == keys.StatusExpired {
			if _, err := c.Ledger.Write(ctx, ledger.Expired, ledger.EntryFor(rec)); err != nil {
				return res, fmt.Errorf("record expired key %s: %w", rec.HumanName, err)
			}
			continue
		}

		if c.Detector != nil {
			verdict := c.Detector.Detect(friendkeys.Fields{
				HumanName:   rec.HumanName,
				MachineName: rec.MachineName,
				KeyType:     rec.KeyType,
			})
			switch c.Detector.Decide(verdict) {
			case friendkeys.Friend:
				if err := c.fileFriend(ctx, rec, verdict); err != nil {
					return res, err
				}
				res.Friends = append(res.Friends, FriendKey{Record: rec, Verdict: verdict})
				continue
			case friendkeys.Uncertain:
				if c.Confirmer == nil {
					rec.Status = keys.StatusSkipped
					res.Uncertain = append(res.Uncertain, FriendKey{Record: rec, Verdict: verdict})
					continue
				}
				yes, err := c.Confirmer.ConfirmFriend(ctx, rec, verdict)
				if err != nil {
					return res, fmt.Errorf("confirm friend key %s: %w", rec.HumanName, err)
				}
				if yes {
					if err := c.fileFriend(ctx, rec, verdict); err != nil {
						return res, err
					}
					res.Friends = append(res.Friends, FriendKey{Record: rec, Verdict: verdict})
					continue
				}
			}
		}

		owned, match, err := c.checkOwned(ctx, rec)
		if err != nil {
			return res, err
		}
		if owned {
			rec.Status = keys.StatusSkipped
			res.Owned = append(res.Owned, OwnedKey{Record: rec, Match: match})
			continue
		}
		res.Work = append(res.Work, rec)
	}

	logger.Info("classification complete",
		logging.Int("records", len(records)),
		logging.Int("work", len(res.Work)),
		logging.Int("known", res.Known),
		logging.Int("friend_keys", len(res.Friends)),
		logging.Int("uncertain_friend_keys", len(res.Uncertain)),
		logging.Int("owned", len(res.Owned)))
	return res, nil
}

// resolveFromLedger applies an earlier terminal outcome to rec.
func (c *Classifier) resolveFromLedger(ctx context.Context, rec *keys.Record) (bool, error) {
	if rec.Month != nil && (rec.Month.Completed() || (c.Completed != nil && c.Completed(rec.Month.Gamekey))) {
		rec.Status = keys.StatusAlreadyOwned
		return true, nil
	}
	id := rec.Identity()
	for _, b := range []ledger.Bucket{ledger.Redeemed, ledger.AlreadyOwned} {
		hit, err := c.Ledger.Lookup(ctx, b, id.Gamekey, id.NameLower)
		if err != nil {
			return false, err
		}
		if !hit && rec.Revealed() && keys.ValidFormat(rec.RevealedValue) {
			if hit, err = c.Ledger.HasValue(ctx, b, rec.RevealedValue); err != nil {
				return false, err
			}
		}
		if hit {
			rec.Status = keys.StatusAlreadyOwned
			return true, nil
		}
	}
	for _, b := range []ledger.Bucket{ledger.Expired, ledger.FriendKeys} {
		hit, err := c.Ledger.Lookup(ctx, b, id.Gamekey, id.NameLower)
		if err != nil {
			return false, err
		}
		if hit {
			rec.Status = b.Status()
			return true, nil
		}
	}
	return false, nil
}

func (c *Classifier) fileFriend(ctx context.Context, rec *keys.Record, v friendkeys.Verdict) error {
	entry := ledger.EntryFor(rec)
	entry.Friend = &ledger.FriendDetail{
		KeyType:    rec.KeyType,
		SteamAppID: rec.SteamAppID,
		Reason:     v.Reason,
		Confidence: v.Confidence,
	}
	if _, err := c.Ledger.Write(ctx, ledger.FriendKeys, entry); err != nil {
		return fmt.Errorf("record friend key %s: %w", rec.HumanName, err)
	}
	rec.Status = keys.StatusFriendKey
	return nil
}

func (c *Classifier) checkOwned(ctx context.Context, rec *keys.Record) (bool, ownership.Match, error) {
	if c.Owned == nil || !rec.Revealed() {
		return false, ownership.Match{}, nil
	}
	if c.Owned.Owns(rec.SteamAppID) {
		return true, ownership.Match{AppID: rec.SteamAppID, Score: 100}, nil
	}
	if m, ok := c.Owned.LookupOwned(rec.HumanName); ok {
		return true, m, nil
	}
	if c.Confirmer == nil {
		return false, ownership.Match{}, nil
	}
	best, ok := c.Owned.Best(rec.HumanName)
	if !ok {
		return false, ownership.Match{}, nil
	}
	yes, err := c.Confirmer.ConfirmOwned(ctx, rec, best)
	if err != nil {
		return false, ownership.Match{}, fmt.Errorf("confirm ownership of %s: %w", rec.HumanName, err)
	}
	return yes, best, nil
}
