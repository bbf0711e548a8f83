package friendkeys

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tier is a detection rule set, listed in evaluation order.
type Tier int

const (
	TierNone Tier = iota
	TierHigh
	TierSuffix
	TierKnownTitle
	TierMedium
	TierNonGame
	TierLow
	TierExact
)

var tierNames = map[Tier]string{
	TierNone:       "none",
	TierHigh:       "high",
	TierSuffix:     "suffix",
	TierKnownTitle: "known title",
	TierMedium:     "medium",
	TierNonGame:    "non-game",
	TierLow:        "low",
	TierExact:      "exact",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Label is the title-cased tier name for reports.
func (t Tier) Label() string {
	return cases.Title(language.English).String(t.String())
}

// Confidence is the score a hit in this tier carries.
func (t Tier) Confidence() float64 {
	switch t {
	case TierHigh, TierSuffix:
		return 1.0
	case TierKnownTitle:
		return 0.85
	case TierMedium:
		return 0.75
	case TierNonGame:
		return 0.7
	case TierExact:
		return 0.6
	case TierLow:
		return 0.5
	default:
		return 0
	}
}

// Fields are the entitlement attributes inspected by the detector.
type Fields struct {
	HumanName   string
	MachineName string
	KeyType     string
}

// Verdict is the outcome of one detection.
type Verdict struct {
	Tier       Tier
	Reason     string
	Confidence float64
}

// Flagged reports whether any tier matched.
func (v Verdict) Flagged() bool {
	return v.Tier != TierNone
}

// Decision is what the caller should do with a verdict.
type Decision int

const (
	// NotFriend keys are redeemed normally.
	NotFriend Decision = iota
	// Uncertain keys need confirmation before being filed.
	Uncertain
	// Friend keys are filed without redemption.
	Friend
)

type matchMode int

const (
	matchContains matchMode = iota
	matchSuffix
	matchWord
)

type field struct {
	name  string
	value string
}

type pattern struct {
	text string
	word *regexp.Regexp
}

type tierMatcher struct {
	tier     Tier
	mode     matchMode
	keyType  bool
	patterns []pattern
}

// Detector evaluates entitlements against compiled rules.
type Detector struct {
	tiers []tierMatcher
	high  float64
	low   float64
}

// NewDetector compiles rules. Keys scoring at least high are friend keys;
// keys scoring at least low but below high are uncertain.
func NewDetector(rules Rules, high, low float64) *Detector {
	d := &Detector{high: high, low: low}
	add := func(t Tier, mode matchMode, keyType bool, list []string) {
		m := tierMatcher{tier: t, mode: mode, keyType: keyType}
		for _, p := range list {
			if p == "" {
				continue
			}
			cp := pattern{text: p}
			if mode == matchWord {
				cp.word = regexp.MustCompile(`\b` + regexp.QuoteMeta(p) + `\b`)
			}
			m.patterns = append(m.patterns, cp)
		}
		d.tiers = append(d.tiers, m)
	}
	add(TierHigh, matchContains, true, rules.High)
	add(TierSuffix, matchSuffix, false, rules.Suffix)
	add(TierKnownTitle, matchWord, false, rules.KnownTitles)
	add(TierMedium, matchContains, true, rules.Medium)
	add(TierNonGame, matchWord, false, rules.NonGame)
	add(TierLow, matchWord, true, rules.Low)
	add(TierExact, matchWord, true, rules.Exact)
	return d
}

// Detect returns the first matching tier for f.
func (d *Detector) Detect(f Fields) Verdict {
	all := []field{
		{"human_name", strings.ToLower(f.HumanName)},
		{"machine_name", strings.ToLower(f.MachineName)},
		{"key_type", strings.ToLower(f.KeyType)},
	}
	for _, m := range d.tiers {
		fields := all
		if !m.keyType {
			fields = all[:2]
		}
		for _, p := range m.patterns {
			for _, fv := range fields {
				if fv.value == "" || !m.matches(p, fv.value) {
					continue
				}
				return Verdict{
					Tier:       m.tier,
					Reason:     m.reason(fv.name, p.text),
					Confidence: m.tier.Confidence(),
				}
			}
		}
	}
	return Verdict{Tier: TierNone}
}

// Decide maps a verdict onto the configured thresholds.
func (d *Detector) Decide(v Verdict) Decision {
	switch {
	case !v.Flagged():
		return NotFriend
	case v.Confidence >= d.high:
		return Friend
	case v.Confidence >= d.low:
		return Uncertain
	default:
		return NotFriend
	}
}

func (m tierMatcher) matches(p pattern, value string) bool {
	switch m.mode {
	case matchSuffix:
		return strings.HasSuffix(value, p.text)
	case matchWord:
		return p.word.MatchString(strings.ReplaceAll(value, "_", " "))
	default:
		return strings.Contains(value, p.text)
	}
}

func (m tierMatcher) reason(fieldName, text string) string {
	switch m.tier {
	case TierSuffix:
		return fmt.Sprintf("%s ends with '%s'", fieldName, text)
	case TierKnownTitle:
		return fmt.Sprintf("known friend game: '%s'", text)
	case TierNonGame:
		return fmt.Sprintf("non-game content: '%s'", text)
	case TierLow:
		return fmt.Sprintf("%s contains '%s' (low confidence)", fieldName, text)
	case TierExact:
		return fmt.Sprintf("%s exactly matches '%s'", fieldName, text)
	default:
		return fmt.Sprintf("%s contains '%s'", fieldName, text)
	}
}
