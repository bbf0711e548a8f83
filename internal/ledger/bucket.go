package ledger

import (
	"fmt"
	"strings"

	"keyredeem/internal/keys"
)

// Bucket is one terminal-outcome partition of the ledger.
type Bucket string

const (
	Redeemed     Bucket = "redeemed"
	AlreadyOwned Bucket = "already_owned"
	Expired      Bucket = "expired"
	Errored      Bucket = "errored"
	FriendKeys   Bucket = "friend_keys"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{Redeemed, AlreadyOwned, Expired, Errored, FriendKeys}

// ParseBucket accepts a bucket name, with or without the .csv suffix.
func ParseBucket(name string) (Bucket, error) {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".csv")
	name = strings.ReplaceAll(name, "-", "_")
	for _, b := range Buckets {
		if string(b) == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown ledger bucket %q", name)
}

// FileName is the bucket's backing file name.
func (b Bucket) FileName() string {
	return string(b) + ".csv"
}

// Success reports whether the bucket holds keys attached to the account.
func (b Bucket) Success() bool {
	return b == Redeemed || b == AlreadyOwned
}

// ForCode maps a registrar result code to the bucket that records it.
func ForCode(code keys.ResultCode) Bucket {
	return ForStatus(code.Status())
}

// ForStatus maps a terminal status to its bucket. Skipped keys have no
// bucket and map to the empty string.
func ForStatus(status keys.Status) Bucket {
	switch status {
	case keys.StatusRedeemed:
		return Redeemed
	case keys.StatusAlreadyOwned:
		return AlreadyOwned
	case keys.StatusExpired:
		return Expired
	case keys.StatusErrored:
		return Errored
	case keys.StatusFriendKey:
		return FriendKeys
	default:
		return ""
	}
}

// Status is the key status an entry in b represents.
func (b Bucket) Status() keys.Status {
	switch b {
	case Redeemed:
		return keys.StatusRedeemed
	case AlreadyOwned:
		return keys.StatusAlreadyOwned
	case Expired:
		return keys.StatusExpired
	case FriendKeys:
		return keys.StatusFriendKey
	default:
		return keys.StatusErrored
	}
}
