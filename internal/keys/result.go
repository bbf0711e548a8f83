package keys

import (
	"fmt"
	"strings"
)

// ResultCode is the registrar's verdict on a redeem call.
type ResultCode int

const (
	CodeSuccess      ResultCode = 0
	CodeAlreadyOwned ResultCode = 9
	CodeInvalidKey   ResultCode = 14
	CodeDuplicate    ResultCode = 15
	CodeRateLimited  ResultCode = 53
	CodeExpired      ResultCode = -1
	CodeUnknown      ResultCode = -2
	// CodeGeneric is written for keys that never reached the registrar.
	CodeGeneric ResultCode = 1
)

// ExpiredMarker is the revealed value stored for keys the storefront reports expired.
const ExpiredMarker = "EXPIRED"

var codeDescriptions = map[ResultCode]string{
	CodeSuccess:      "success",
	CodeGeneric:      "failed",
	CodeAlreadyOwned: "already owned",
	13:               "not available in this region",
	CodeInvalidKey:   "invalid key",
	CodeDuplicate:    "key already redeemed by another account",
	24:               "requires ownership of another product",
	36:               "requires a console purchase",
	50:               "wallet code, redeem in the wallet page",
	CodeRateLimited:  "rate limited",
	CodeExpired:      "expired",
	CodeUnknown:      "unrecognised response",
}

// IsSuccess reports whether the key is now attached to the account.
func (c ResultCode) IsSuccess() bool {
	return c == CodeSuccess || c == CodeAlreadyOwned || c == CodeDuplicate
}

func (c ResultCode) String() string {
	if desc, ok := codeDescriptions[c]; ok {
		return fmt.Sprintf("%d (%s)", int(c), desc)
	}
	return fmt.Sprintf("%d", int(c))
}

// Status maps a result code to the terminal status it produces.
func (c ResultCode) Status() Status {
	switch c {
	case CodeSuccess:
		return StatusRedeemed
	case CodeAlreadyOwned, CodeDuplicate:
		return StatusAlreadyOwned
	case CodeExpired:
		return StatusExpired
	default:
		return StatusErrored
	}
}

// ValidFormat reports whether value looks like a registrar key:
// three dash-separated groups of five characters.
func ValidFormat(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) != 17 {
		return false
	}
	parts := strings.Split(value, "-")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if len(part) != 5 {
			return false
		}
	}
	return true
}
