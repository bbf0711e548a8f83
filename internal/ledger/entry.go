package ledger

import (
	"strings"

	"keyredeem/internal/keys"
)

// Entry is one persisted ledger row.
type Entry struct {
	Gamekey       string
	HumanName     string
	RevealedValue string
	// Friend carries the extra columns of the friend_keys bucket.
	Friend *FriendDetail
}

// FriendDetail explains why a key was set aside as a friend/co-op key.
type FriendDetail struct {
	KeyType    string
	SteamAppID int64
	Reason     string
	Confidence float64
}

// EntryFor builds the ledger row for a record.
func EntryFor(rec *keys.Record) Entry {
	return Entry{Gamekey: rec.Gamekey, HumanName: rec.HumanName, RevealedValue: rec.RevealedValue}
}

// Identity returns the entry's duplicate-detection key.
func (e Entry) Identity() keys.Identity {
	return keys.NewIdentity(e.Gamekey, e.HumanName)
}

// Revealed reports whether the entry carries a value.
func (e Entry) Revealed() bool {
	return strings.TrimSpace(e.RevealedValue) != ""
}

// Redeemable reports whether the value can be submitted to the registrar.
func (e Entry) Redeemable() bool {
	return keys.ValidFormat(e.RevealedValue)
}

// Dedupe collapses entries sharing an identity, keeping the first entry with
// a redeemable value, or the first entry when none has one. Output order
// follows the first appearance of each identity.
func Dedupe(entries []Entry) []Entry {
	index := make(map[keys.Identity]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		id := entry.Identity()
		pos, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, entry)
			continue
		}
		if !out[pos].Redeemable() && entry.Redeemable() {
			out[pos] = entry
		}
	}
	return out
}
