// Package services – verification challenge codes.
//
// Challenge codes are embedded by users in a free-text profile field on the
// external platform, which is known to strip punctuation and mangle digits.
// Codes therefore use letters only (minus the easily-confused I and O) behind
// a fixed recognizable prefix, drawn from a cryptographically strong source.
package services

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
)

const (
	// codePrefix makes codes easy to spot in free-form profile text.
	codePrefix = "VERIFY"

	// codeAlphabet avoids digits and the letters I and O, which the external
	// platform's text filter is known to strip or users misread.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

	// codeRandomLen random characters after the prefix. 24^8 ≈ 1.1e11
	// combinations, negligible collision probability at expected volume.
	codeRandomLen = 8
)

// GenerateCode produces a fresh challenge code such as "VERIFYKXQMRWPT".
// Each call draws from crypto/rand; codes are effectively unique per call.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(len(codePrefix) + codeRandomLen)
	b.WriteString(codePrefix)

	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeRandomLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// normalizeForMatch upper-cases s and strips every non-alphanumeric rune.
// Both the fetched profile text and the stored code are normalized before the
// containment test, tolerating the external platform's habit of mutating
// whitespace and punctuation in free text.
func normalizeForMatch(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// codeMatches reports whether the normalized challenge code appears in the
// normalized profile text.
func codeMatches(profileText, code string) bool {
	nc := normalizeForMatch(code)
	if nc == "" {
		return false
	}
	return strings.Contains(normalizeForMatch(profileText), nc)
}
