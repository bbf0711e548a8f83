// Package textutil provides the fuzzy string scores used to compare game
// titles across storefronts.
//
// Scores are integers from 0 to 100. Inputs are folded first: diacritics are
// stripped, letters are lowercased, and every run of non-alphanumeric
// characters becomes a single space. Ratio is the Indel similarity of two
// folded strings; TokenSortRatio and TokenSetRatio compare word sets so that
// word order and extra words weigh less.
//
// Versions and BaseTitle split a title into its sequel markers (Roman
// numerals and non-year numbers) and the name that remains.
package textutil
