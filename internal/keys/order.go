package keys

import (
	"iter"
	"strings"
)

// RawOrder is one storefront order as returned by the order details API.
type RawOrder struct {
	Gamekey          string      `json:"gamekey"`
	Product          Product     `json:"product"`
	Entitlements     EntitleDict `json:"tpkd_dict"`
	ChoicesRemaining *int        `json:"choices_remaining,omitempty"`
}

// Product describes the purchased bundle or subscription period.
type Product struct {
	HumanName   string `json:"human_name"`
	MachineName string `json:"machine_name"`
	Category    string `json:"category"`
	ChoiceURL   string `json:"choice_url,omitempty"`
}

// EntitleDict wraps the entitlement list the way the API nests it.
type EntitleDict struct {
	All []RawEntitlement `json:"all_tpks"`
}

// RawEntitlement is one third-party key inside an order.
type RawEntitlement struct {
	Gamekey          string `json:"gamekey"`
	MachineName      string `json:"machine_name"`
	HumanName        string `json:"human_name"`
	KeyType          string `json:"key_type"`
	KeyTypeHumanName string `json:"key_type_human_name"`
	KeyIndex         int    `json:"keyindex"`
	SteamAppID       *int64 `json:"steam_app_id"`
	RedeemedKeyVal   string `json:"redeemed_key_val,omitempty"`
	IsExpired        bool   `json:"is_expired,omitempty"`
}

const (
	keyTypeSteam         = "steam"
	categorySubscription = "subscriptioncontent"
)

// IsChoiceMonth reports whether the order is a subscription period.
func (o *RawOrder) IsChoiceMonth() bool {
	return o.Product.Category == categorySubscription || o.Product.ChoiceURL != ""
}

// IsSteam reports whether the entitlement is redeemable on the registrar.
func (e *RawEntitlement) IsSteam() bool {
	return strings.EqualFold(e.KeyType, keyTypeSteam)
}

// Find walks every entitlement of every order in inventory order and yields
// those accepted by match together with their owning order. The returned
// sequence is lazy and may be ranged over any number of times.
func Find(orders []RawOrder, match func(*RawOrder, *RawEntitlement) bool) iter.Seq2[*RawOrder, *RawEntitlement] {
	return func(yield func(*RawOrder, *RawEntitlement) bool) {
		for i := range orders {
			order := &orders[i]
			for j := range order.Entitlements.All {
				ent := &order.Entitlements.All[j]
				if match != nil && !match(order, ent) {
					continue
				}
				if !yield(order, ent) {
					return
				}
			}
		}
	}
}

// SteamEntitlements yields the registrar-redeemable entitlements.
func SteamEntitlements(orders []RawOrder) iter.Seq2[*RawOrder, *RawEntitlement] {
	return Find(orders, func(_ *RawOrder, e *RawEntitlement) bool { return e.IsSteam() })
}

// ChoiceMonths builds one ChoiceMonth per subscription order, keyed by gamekey.
func ChoiceMonths(orders []RawOrder) map[string]*ChoiceMonth {
	months := make(map[string]*ChoiceMonth)
	for i := range orders {
		order := &orders[i]
		if !order.IsChoiceMonth() {
			continue
		}
		month := &ChoiceMonth{Gamekey: order.Gamekey, Name: order.Product.HumanName}
		if order.ChoicesRemaining != nil {
			month.ChoicesRemaining = *order.ChoicesRemaining
		}
		months[order.Gamekey] = month
	}
	return months
}

// Records converts every registrar-redeemable entitlement into a Record with
// its initial status, preserving inventory order. Records from a subscription
// order share that order's ChoiceMonth.
func Records(orders []RawOrder) ([]*Record, map[string]*ChoiceMonth) {
	months := ChoiceMonths(orders)
	var out []*Record
	for order, ent := range SteamEntitlements(orders) {
		gamekey := ent.Gamekey
		if gamekey == "" {
			gamekey = order.Gamekey
		}
		rec := &Record{
			Gamekey:       gamekey,
			HumanName:     strings.TrimSpace(ent.HumanName),
			MachineName:   ent.MachineName,
			KeyType:       ent.KeyTypeHumanName,
			KeyIndex:      ent.KeyIndex,
			RevealedValue: strings.TrimSpace(ent.RedeemedKeyVal),
			Month:         months[order.Gamekey],
		}
		if ent.SteamAppID != nil {
			rec.SteamAppID = *ent.SteamAppID
		}
		switch {
		case ent.IsExpired:
			rec.Status = StatusExpired
			rec.RevealedValue = ExpiredMarker
		case rec.Revealed():
			rec.Status = StatusRevealed
		default:
			rec.Status = StatusUnrevealed
		}
		out = append(out, rec)
	}
	return out, months
}
