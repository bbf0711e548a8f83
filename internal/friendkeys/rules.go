package friendkeys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
)

// Rules holds the pattern lists for every tier. Patterns are lower case.
type Rules struct {
	High        []string
	Suffix      []string
	KnownTitles []string
	Medium      []string
	NonGame     []string
	Low         []string
	Exact       []string
}

// DefaultRules returns the built-in pattern lists.
func DefaultRules() Rules {
	return Rules{
		High: []string{
			"friend pass", "friends pass", "friend's pass",
			"guest pass", "guest key", "guest access",
			"extra copy", "bonus copy",
			"co-op pass", "coop pass", "co op pass",
		},
		Suffix: []string{
			" - extra", " (extra)", "[extra]",
			" - friend", " (friend)", "[friend]",
			" - guest", " (guest)", "[guest]",
			" - gift", " (gift)", "[gift]",
		},
		KnownTitles: []string{
			"minion masters",
			"dont starve together", "don't starve together",
			"portal 2",
			"serious sam",
			"dead island",
			"killing floor",
			"castle crashers",
			"battleblock theater",
			"counter-strike",
			"half-life 2",
			"dead by daylight - stranger things",
			"insurgency",
			"arma",
		},
		Medium: []string{
			"friend key", "friends key", "friend's key",
			"multiplayer pass", "multi-player pass",
			"companion pass",
			"invite key", "invitation key", "invite pass",
			"additional copy", "additional key",
			"2-pack", "3-pack", "4-pack",
			"2 pack", "3 pack", "4 pack",
			"gift copy", "giftable copy", "gift key",
			"buddy pass", "buddy key",
			"spare copy", "spare key",
		},
		NonGame: []string{
			"soundtrack", "ost", "original soundtrack",
			"artbook", "art book",
			"digital comic", "comic book",
			"wallpaper", "avatar", "badge",
		},
		Low:   []string{"extra", "bonus", "additional"},
		Exact: []string{"extra", "bonus"},
	}
}

// Extend returns r with the patterns of other appended, skipping duplicates.
func (r Rules) Extend(other Rules) Rules {
	return Rules{
		High:        merge(r.High, other.High),
		Suffix:      merge(r.Suffix, other.Suffix),
		KnownTitles: merge(r.KnownTitles, other.KnownTitles),
		Medium:      merge(r.Medium, other.Medium),
		NonGame:     merge(r.NonGame, other.NonGame),
		Low:         merge(r.Low, other.Low),
		Exact:       merge(r.Exact, other.Exact),
	}
}

func merge(base, extra []string) []string {
	out := slices.Clone(base)
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// ParseRules reads one pattern per line. Blank lines and lines starting with
// '#' are ignored. A HIGH:, MEDIUM:, LOW: or EXACT: prefix selects the tier;
// anything else, including an unknown prefix, lands in the medium tier.
func ParseRules(r io.Reader) (Rules, error) {
	var rules Rules
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefix, pattern, ok := strings.Cut(line, ":")
		if !ok {
			rules.Medium = append(rules.Medium, strings.ToLower(line))
			continue
		}
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(prefix)) {
		case "HIGH":
			rules.High = append(rules.High, pattern)
		case "MEDIUM":
			rules.Medium = append(rules.Medium, pattern)
		case "LOW":
			rules.Low = append(rules.Low, pattern)
		case "EXACT":
			rules.Exact = append(rules.Exact, pattern)
		default:
			rules.Medium = append(rules.Medium, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return Rules{}, fmt.Errorf("read friend rules: %w", err)
	}
	return rules, nil
}

// LoadRulesFile parses the rules file at path. A missing file yields empty
// rules.
func LoadRulesFile(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Rules{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Rules{}, nil
		}
		return Rules{}, fmt.Errorf("open friend rules %s: %w", path, err)
	}
	defer f.Close()
	return ParseRules(f)
}
