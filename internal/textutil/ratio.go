package textutil

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// Ratio returns the Indel similarity of the folded inputs.
func Ratio(a, b string) int {
	return rawRatio(Fold(a), Fold(b))
}

// TokenSortRatio compares the inputs after sorting their words.
func TokenSortRatio(a, b string) int {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	slices.Sort(ta)
	slices.Sort(tb)
	return rawRatio(strings.Join(ta, " "), strings.Join(tb, " "))
}

// TokenSetRatio compares the shared words of the inputs against each side's
// leftovers. A title that is a word subset of the other scores 100.
func TokenSetRatio(a, b string) int {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var shared, onlyA, onlyB []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared = append(shared, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	slices.Sort(shared)
	slices.Sort(onlyA)
	slices.Sort(onlyB)

	sect := strings.Join(shared, " ")
	left := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	right := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	return max(rawRatio(sect, left), rawRatio(sect, right), rawRatio(left, right))
}

func tokenSet(text string) map[string]struct{} {
	tokens := Tokens(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func rawRatio(a, b string) int {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 0
	}
	if a == b {
		return 100
	}
	lcs := edlib.LCS(a, b)
	return int(math.Round(200 * float64(lcs) / float64(total)))
}
