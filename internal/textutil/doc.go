// Package textutil compares short texts by token overlap.
//
// Fingerprints are term-frequency vectors over lowercase alphanumeric tokens
// of at least three characters, with a small set of English stop words
// removed. Script gates use Nearest to reject titles that repeat what a line
// published recently.
package textutil
