package ownership

import (
	"cmp"
	"slices"

	"keyredeem/internal/textutil"
)

// Catalog maps owned app ids to their titles.
type Catalog map[int64]string

// Match is one scored catalog candidate.
type Match struct {
	AppID int64
	Name  string
	Score int
}

// Matcher scores titles against a catalog.
type Matcher struct {
	threshold         int
	broadThreshold    int
	versionSimilarity int
}

// NewMatcher returns a matcher. threshold is the minimum automatic match
// score, broadThreshold the token-set pre-filter, and versionSimilarity the
// base-name score at which differing sequel markers veto a match.
func NewMatcher(threshold, broadThreshold, versionSimilarity int) *Matcher {
	return &Matcher{
		threshold:         threshold,
		broadThreshold:    broadThreshold,
		versionSimilarity: versionSimilarity,
	}
}

// Candidates returns every catalog title passing the broad filter, scored
// with token-sort similarity and ordered best first.
func (m *Matcher) Candidates(title string, catalog Catalog) []Match {
	clean := textutil.StripPlatformSuffix(title)
	var out []Match
	for id, name := range catalog {
		owned := textutil.StripPlatformSuffix(name)
		if textutil.TokenSetRatio(owned, clean) <= m.broadThreshold {
			continue
		}
		out = append(out, Match{AppID: id, Name: name, Score: textutil.TokenSortRatio(owned, clean)})
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.AppID, b.AppID)
	})
	return out
}

// Best returns the best candidate for title after the sequel-marker check,
// without applying the automatic threshold. ok is false when nothing
// survives.
func (m *Matcher) Best(title string, catalog Catalog) (Match, bool) {
	candidates := m.Candidates(title, catalog)
	if len(candidates) == 0 {
		return Match{}, false
	}
	best := candidates[0]
	if best.Score < 100 && m.differentVersion(title, best.Name) {
		return Match{}, false
	}
	return best, true
}

// Match returns the owned title that title automatically matches.
func (m *Matcher) Match(title string, catalog Catalog) (Match, bool) {
	best, ok := m.Best(title, catalog)
	if !ok || best.Score < m.threshold {
		return Match{}, false
	}
	return best, true
}

func (m *Matcher) differentVersion(title, owned string) bool {
	title = textutil.StripPlatformSuffix(title)
	owned = textutil.StripPlatformSuffix(owned)
	versions := textutil.Versions(title)
	if len(versions) == 0 {
		return false
	}
	if textutil.TokenSortRatio(textutil.BaseTitle(title), textutil.BaseTitle(owned)) < m.versionSimilarity {
		return false
	}
	return !slices.Equal(versions, textutil.Versions(owned))
}
