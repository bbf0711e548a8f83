package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	platformSuffix = regexp.MustCompile(`(?i)\s*\(steam\)\s*$`)
	versionToken   = regexp.MustCompile(`\b([ivx]+|\d+)\b`)
	romanNumeral   = regexp.MustCompile(`^[ivx]+$`)
)

// Fold case-folds text, strips diacritics, and collapses non-alphanumeric
// runs into single spaces.
func Fold(text string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), text)
	if err != nil {
		stripped = text
	}
	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range cases.Fold().String(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Tokens returns the folded words of text.
func Tokens(text string) []string {
	return strings.Fields(Fold(text))
}

// StripPlatformSuffix removes a trailing "(Steam)" storefront tag.
func StripPlatformSuffix(title string) string {
	return strings.TrimSpace(platformSuffix.ReplaceAllString(title, ""))
}

// Versions returns the sequel markers in a title: Roman numerals and
// numbers that are not years. Single-digit numbers below 2 are ignored.
func Versions(title string) []string {
	var out []string
	for _, tok := range versionToken.FindAllString(Fold(title), -1) {
		if isVersion(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// BaseTitle returns the folded title with its version markers removed.
func BaseTitle(title string) string {
	fields := strings.Fields(Fold(title))
	kept := fields[:0]
	for _, f := range fields {
		if !isVersion(f) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func isVersion(tok string) bool {
	if romanNumeral.MatchString(tok) {
		return true
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return false
	}
	if n >= 1900 && n <= 2100 {
		return false
	}
	return n >= 2 || len(tok) >= 2
}
