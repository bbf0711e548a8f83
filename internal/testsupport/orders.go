package testsupport

import "keyredeem/internal/keys"

// Order builds a bundle order holding the given Steam entitlements.
func Order(gamekey, name string, ents ...keys.RawEntitlement) keys.RawOrder {
	for i := range ents {
		if ents[i].Gamekey == "" {
			ents[i].Gamekey = gamekey
		}
	}
	return keys.RawOrder{
		Gamekey:      gamekey,
		Product:      keys.Product{HumanName: name, MachineName: gamekey},
		Entitlements: keys.EntitleDict{All: ents},
	}
}

// SteamKey builds a Steam entitlement. An empty value leaves it unrevealed.
func SteamKey(name string, appID int64, value string) keys.RawEntitlement {
	ent := keys.RawEntitlement{
		HumanName:        name,
		MachineName:      machineName(name),
		KeyType:          "steam",
		KeyTypeHumanName: "Steam",
		RedeemedKeyVal:   value,
	}
	if appID != 0 {
		ent.SteamAppID = &appID
	}
	return ent
}

func machineName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
