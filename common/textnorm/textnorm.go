// Package textnorm holds the text normalization shared by scrapers, the
// extraction worker and the deduplication hash.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

var replacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u200b", "",
	"\u2013", "-",
	"\u2014", "-",
	"\u2015", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
)

// CleanText replaces typographic variants and collapses every run of
// whitespace into one space.
func CleanText(s string) string {
	s = replacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Fold is CleanText plus lower-casing and removal of spaces around
// punctuation, so "MBC , Riyadh" and "mbc, riyadh" fold identically.
func Fold(s string) string {
	s = strings.ToLower(CleanText(s))
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		if r == ' ' {
			prev, next := rune(0), rune(0)
			if i > 0 {
				prev = rune(s[i-1])
			}
			if i+1 < len(s) {
				next = rune(s[i+1])
			}
			if isSeparator(prev) || isSeparator(next) {
				continue
			}
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), " .,;:-")
}

func isSeparator(r rune) bool {
	switch r {
	case ',', '.', ';', ':', '-', '/', '|', '(', ')':
		return true
	}
	return false
}

// TitleCase upper-cases the first letter of every word and lower-cases the
// rest. Short upper-case words like "MBC" or "UAE" are kept as acronyms,
// unless the whole input is shouted in upper case.
func TitleCase(s string) string {
	words := strings.Fields(CleanText(s))
	shouted := len(words) > 1 && strings.ToUpper(s) == s
	for i, w := range words {
		if !shouted && isAcronym(w) {
			continue
		}
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func isAcronym(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2 && letters <= 4
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	upperNext := true
	for i, r := range runes {
		if upperNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			upperNext = false
			continue
		}
		if r == '-' || r == '\'' || r == '/' {
			upperNext = r != '\''
		}
	}
	return string(runes)
}

// Fingerprint is a stable hex digest of the folded text.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(Fold(s)))
	return hex.EncodeToString(sum[:])
}
