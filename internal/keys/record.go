package keys

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a key within a run.
type Status string

const (
	StatusUnrevealed   Status = "unrevealed"
	StatusRevealed     Status = "revealed"
	StatusExpired      Status = "expired"
	StatusRedeemed     Status = "redeemed"
	StatusAlreadyOwned Status = "already_owned"
	StatusErrored      Status = "errored"
	StatusFriendKey    Status = "friend_key"
	StatusSkipped      Status = "skipped"
)

// Terminal reports whether no further transitions happen in this run.
func (s Status) Terminal() bool {
	switch s {
	case StatusExpired, StatusRedeemed, StatusAlreadyOwned, StatusErrored, StatusFriendKey, StatusSkipped:
		return true
	default:
		return false
	}
}

// Identity is the duplicate-detection key: gamekey plus the lower-cased name.
type Identity struct {
	Gamekey   string
	NameLower string
}

// NewIdentity normalizes gamekey and name into an Identity.
func NewIdentity(gamekey, name string) Identity {
	return Identity{
		Gamekey:   strings.TrimSpace(gamekey),
		NameLower: strings.ToLower(strings.TrimSpace(name)),
	}
}

func (id Identity) String() string {
	return id.Gamekey + "/" + id.NameLower
}

// Record is one redeemable entitlement.
type Record struct {
	Gamekey     string
	HumanName   string
	MachineName string
	KeyType     string
	KeyIndex    int
	// SteamAppID is zero when the storefront did not report one.
	SteamAppID    int64
	RevealedValue string
	Status        Status
	Month         *ChoiceMonth
}

// Identity returns the record's duplicate-detection key.
func (r *Record) Identity() Identity {
	return NewIdentity(r.Gamekey, r.HumanName)
}

// Revealed reports whether the record carries a revealed value.
func (r *Record) Revealed() bool {
	return strings.TrimSpace(r.RevealedValue) != ""
}

// ChoiceMonth is a subscription period whose titles are picked by the user.
type ChoiceMonth struct {
	Gamekey          string
	Name             string
	ChoicesRemaining int
	completed        bool
}

// Completed reports whether the month has been marked complete.
func (m *ChoiceMonth) Completed() bool {
	return m != nil && m.completed
}

// MarkCompleted sets the month complete. There is no way back.
func (m *ChoiceMonth) MarkCompleted() {
	if m != nil {
		m.completed = true
	}
}

// Attempt records one redeem call during a pass. It is never persisted.
type Attempt struct {
	Key    Identity
	Number int
	Code   ResultCode
	At     time.Time
}
