// Package ownership decides whether a key's title is already in the
// account's library.
//
// An exact catalog id hit wins outright. Otherwise Matcher runs two fuzzy
// passes over the owned catalog: a permissive token-set filter, then a
// token-sort score for the survivors. Titles whose names agree but whose
// sequel markers differ ("II" against "III") never match unless the score
// is perfect.
//
// CatalogStore caches the owned catalog in SQLite so repeated runs do not
// refetch it from the registrar.
package ownership
