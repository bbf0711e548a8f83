package ownership

// Index answers ownership questions against one loaded catalog.
type Index struct {
	catalog Catalog
	matcher *Matcher
}

// NewIndex wraps catalog with matcher.
func NewIndex(catalog Catalog, matcher *Matcher) *Index {
	if catalog == nil {
		catalog = Catalog{}
	}
	return &Index{catalog: catalog, matcher: matcher}
}

// Len is the number of owned apps.
func (i *Index) Len() int {
	return len(i.catalog)
}

// Owns reports whether the app id is in the catalog.
func (i *Index) Owns(appID int64) bool {
	if appID <= 0 {
		return false
	}
	_, ok := i.catalog[appID]
	return ok
}

// LookupOwned returns the automatic fuzzy match for name.
func (i *Index) LookupOwned(name string) (Match, bool) {
	return i.matcher.Match(name, i.catalog)
}

// Best returns the strongest version-compatible candidate regardless of
// threshold, for interactive confirmation.
func (i *Index) Best(name string) (Match, bool) {
	return i.matcher.Best(name, i.catalog)
}

// Candidates lists every catalog title passing the broad filter.
func (i *Index) Candidates(name string) []Match {
	return i.matcher.Candidates(name, i.catalog)
}
