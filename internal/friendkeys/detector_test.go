package friendkeys_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"keyredeem/internal/friendkeys"
)

func newDetector(extra friendkeys.Rules) *friendkeys.Detector {
	return friendkeys.NewDetector(friendkeys.DefaultRules().Extend(extra), 0.8, 0.5)
}

func TestDetectTiers(t *testing.T) {
	d := newDetector(friendkeys.Rules{})
	tests := []struct {
		name   string
		fields friendkeys.Fields
		tier   friendkeys.Tier
		want   friendkeys.Decision
	}{
		{"guest pass in name", friendkeys.Fields{HumanName: "Shooter Guest Pass"}, friendkeys.TierHigh, friendkeys.Friend},
		{"co-op pass in key type", friendkeys.Fields{HumanName: "Puzzle", KeyType: "Co-op Pass"}, friendkeys.TierHigh, friendkeys.Friend},
		{"suffix", friendkeys.Fields{HumanName: "Racer (Gift)"}, friendkeys.TierSuffix, friendkeys.Friend},
		{"known title", friendkeys.Fields{HumanName: "Killing Floor 2"}, friendkeys.TierKnownTitle, friendkeys.Friend},
		{"medium", friendkeys.Fields{HumanName: "Tactics 4-Pack"}, friendkeys.TierMedium, friendkeys.Uncertain},
		{"non-game", friendkeys.Fields{MachineName: "adventure_soundtrack"}, friendkeys.TierNonGame, friendkeys.Uncertain},
		{"low", friendkeys.Fields{HumanName: "Bonus Level Pack"}, friendkeys.TierLow, friendkeys.Uncertain},
		{"plain game", friendkeys.Fields{HumanName: "Balatro", MachineName: "balatro_steam"}, friendkeys.TierNone, friendkeys.NotFriend},
		{"ost inside a word", friendkeys.Fields{HumanName: "Ghost Runner"}, friendkeys.TierNone, friendkeys.NotFriend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Detect(tt.fields)
			if v.Tier != tt.tier {
				t.Fatalf("tier = %v (%s), want %v", v.Tier, v.Reason, tt.tier)
			}
			if v.Confidence != tt.tier.Confidence() {
				t.Fatalf("confidence = %v, want %v", v.Confidence, tt.tier.Confidence())
			}
			if got := d.Decide(v); got != tt.want {
				t.Fatalf("decision = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStricterThresholdsReclassify(t *testing.T) {
	d := friendkeys.NewDetector(friendkeys.DefaultRules(), 0.9, 0.8)
	v := d.Detect(friendkeys.Fields{HumanName: "Killing Floor 2"})
	if got := d.Decide(v); got != friendkeys.Uncertain {
		t.Fatalf("decision = %v, want Uncertain at 0.9 threshold", got)
	}
	v = d.Detect(friendkeys.Fields{HumanName: "Tactics 4-Pack"})
	if got := d.Decide(v); got != friendkeys.NotFriend {
		t.Fatalf("decision = %v, want NotFriend below 0.8", got)
	}
}

func TestReasonNamesFieldAndPattern(t *testing.T) {
	v := newDetector(friendkeys.Rules{}).Detect(friendkeys.Fields{HumanName: "Arena", KeyType: "Guest Key"})
	if v.Reason != "key_type contains 'guest key'" {
		t.Fatalf("reason = %q", v.Reason)
	}
	if friendkeys.TierKnownTitle.Label() != "Known Title" {
		t.Fatalf("label = %q", friendkeys.TierKnownTitle.Label())
	}
}

func TestParseRulesPrefixes(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"",
		"HIGH: Party Invite",
		"medium:crew seat",
		"LOW: spare",
		"EXACT: dup",
		"OTHER: odd prefix",
		"plain entry",
	}, "\n")
	rules, err := friendkeys.ParseRules(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules.High) != 1 || rules.High[0] != "party invite" {
		t.Fatalf("high = %v", rules.High)
	}
	if want := []string{"crew seat", "odd prefix", "plain entry"}; strings.Join(rules.Medium, "|") != strings.Join(want, "|") {
		t.Fatalf("medium = %v, want %v", rules.Medium, want)
	}
	if len(rules.Low) != 1 || len(rules.Exact) != 1 {
		t.Fatalf("low = %v exact = %v", rules.Low, rules.Exact)
	}

	d := newDetector(rules)
	if v := d.Detect(friendkeys.Fields{HumanName: "Raid Party Invite"}); v.Tier != friendkeys.TierHigh {
		t.Fatalf("user high rule not applied: %+v", v)
	}
	if v := d.Detect(friendkeys.Fields{HumanName: "Dup"}); v.Tier != friendkeys.TierExact {
		t.Fatalf("user exact rule not applied: %+v", v)
	}
}

func TestLoadRulesFileMissing(t *testing.T) {
	rules, err := friendkeys.LoadRulesFile(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("LoadRulesFile: %v", err)
	}
	if len(rules.Medium) != 0 {
		t.Fatalf("expected empty rules, got %+v", rules)
	}

	path := filepath.Join(t.TempDir(), "rules.txt")
	if err := os.WriteFile(path, []byte("HIGH:vip seat\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rules, err = friendkeys.LoadRulesFile(path)
	if err != nil || len(rules.High) != 1 {
		t.Fatalf("LoadRulesFile = %+v, %v", rules, err)
	}
}
