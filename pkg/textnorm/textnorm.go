// Package textnorm implements the deterministic text normalization shared by
// query preprocessing and the stored label_norm columns of the authority
// tables.
//
// Normalize applies, in order: whitespace trimming and collapsing, lowercasing,
// and accent folding (Unicode decomposition with removal of combining marks
// plus an explicit fold table for letters that do not decompose, such as ß and
// æ). The fold table must stay in lockstep with the SQL function that derives
// label_norm, otherwise exact-match detection in the trigram channel breaks.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxTrigramRunes is the upper bound on query length used for trigram
// matching. Longer mentions are truncated for the lexical channel but the
// full text is still sent to the embedding model.
const MaxTrigramRunes = 512

// ligatures maps letters that survive NFD decomposition to their ASCII
// folding. Mirrors the database-side fold function.
var ligatures = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"ø", "o",
	"đ", "d",
	"þ", "th",
	"œ", "oe",
	"ł", "l",
)

// foldTransformer strips combining marks after NFD decomposition, so that
// "é" becomes "e" and "å" becomes "a".
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize returns the canonical form of s: trimmed, internal whitespace
// collapsed to single spaces, lowercased, accent-folded. It is total and
// deterministic; the empty string normalizes to itself.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	if folded, _, err := transform.String(foldTransformer, s); err == nil {
		s = folded
	}
	return ligatures.Replace(s)
}

// TruncateForTrigram bounds s to MaxTrigramRunes runes. Inputs at or below
// the bound are returned unchanged.
func TruncateForTrigram(s string) string {
	r := []rune(s)
	if len(r) <= MaxTrigramRunes {
		return s
	}
	return string(r[:MaxTrigramRunes])
}
