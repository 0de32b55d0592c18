// Package textkit holds the lexical helpers shared across pipeline stages:
// normalization, title canonicalization, shingle fingerprints, Jaccard
// similarity, and keyword-based relevance checks.
package textkit

import (
	"regexp"
	"strings"
)

var adultBan = regexp.MustCompile(`(?i)\b(pregnan\w*|lactat\w*|maternal|fetus)\b`)

var stopwords = map[string]bool{
	"and": true, "or": true, "the": true, "a": true, "an": true, "to": true,
	"of": true, "for": true, "in": true, "on": true, "with": true, "by": true,
	"as": true, "from": true, "into": true, "using": true, "use": true,
	"vs": true, "vs.": true,
}

// ASCIIFold drops non-ASCII runes so downstream token matching is stable
// regardless of typographic quotes or accents in source text.
func ASCIIFold(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize lowercases, folds to ASCII, and collapses every non-alphanumeric
// run into a single space.
func Normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(ASCIIFold(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var (
	paedSuffix  = regexp.MustCompile(`\bfor\s+p(?:a)?ediatr(?:ic)?[^)]*$`)
	paedInfix   = regexp.MustCompile(`\b(in\s+children|in\s+p(?:a)?ediatrics|p(?:a)?ediatric)\b`)
	multiSpace  = regexp.MustCompile(`\s+`)
	trailingDot = regexp.MustCompile(`[.…]+$`)
)

// CanonTitle reduces a subtopic title to a canonical comparison key by
// stripping audience qualifiers that vary between drafts of the same title.
func CanonTitle(t string) string {
	s := strings.ToLower(ASCIIFold(t))
	s = paedSuffix.ReplaceAllString(s, "")
	s = paedInfix.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// StripEllipsis removes trailing dots so truncated model output never leaks
// into stored titles.
func StripEllipsis(s string) string {
	return trailingDot.ReplaceAllString(strings.TrimSpace(s), "")
}

// HasAdultContext reports whether text drifts into pregnancy/adult-only
// territory, which is banned unless the subtopic title itself licenses it.
func HasAdultContext(s string) bool {
	return adultBan.MatchString(s)
}

// DedupeTitles drops blanks, adult-context titles, and canonical duplicates
// while preserving first-seen order.
func DedupeTitles(titles []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t == "" || adultBan.MatchString(t) {
			continue
		}
		k := CanonTitle(t)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// Keywords returns the normalized tokens of length >= 3 with stopwords removed.
func Keywords(s string) []string {
	var out []string
	for _, tok := range strings.Fields(Normalize(s)) {
		if len(tok) >= 3 && !stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// HasMinHits checks lexical relevance: at least minHits distinct title
// keywords must appear in text. The requirement is capped at the number of
// available keywords so short titles still pass.
func HasMinHits(text, title string, minHits int) bool {
	needles := make(map[string]bool)
	for _, k := range Keywords(title) {
		needles[k] = true
	}
	if len(needles) == 0 {
		return true
	}
	if minHits > len(needles) {
		minHits = len(needles)
	}
	if minHits < 1 {
		minHits = 1
	}
	haystack := " " + Normalize(text) + " "
	hits := 0
	for n := range needles {
		if strings.Contains(haystack, " "+n+" ") {
			hits++
		}
	}
	return hits >= minHits
}

// Shingles returns the set of n-gram word shingles of text.
func Shingles(text string, n int) map[string]bool {
	toks := strings.Fields(Normalize(text))
	out := make(map[string]bool)
	if len(toks) < n {
		return out
	}
	for i := 0; i+n <= len(toks); i++ {
		out[strings.Join(toks[i:i+n], " ")] = true
	}
	return out
}

// Jaccard computes set similarity; empty sets compare as 0.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TitleJaccard compares two titles on their keyword sets.
func TitleJaccard(a, b string) float64 {
	sa, sb := make(map[string]bool), make(map[string]bool)
	for _, k := range Keywords(a) {
		sa[k] = true
	}
	for _, k := range Keywords(b) {
		sb[k] = true
	}
	return Jaccard(sa, sb)
}

var wordRE = regexp.MustCompile(`\b\w+\b`)

// WordCount counts word tokens the same way the vignette length checks do.
func WordCount(s string) int {
	return len(wordRE.FindAllString(s, -1))
}

// WordOverlap reports whether the two strings share at least one token.
func WordOverlap(a, b string) bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(Normalize(a)) {
		set[t] = true
	}
	for _, t := range strings.Fields(Normalize(b)) {
		if set[t] {
			return true
		}
	}
	return false
}

var sentenceSplit = regexp.MustCompile(`(?:[.!?])\s+`)

// Sentences performs a naive sentence split, keeping terminal punctuation.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	rest := text
	for {
		loc := sentenceSplit.FindStringIndex(rest)
		if loc == nil {
			break
		}
		part := strings.TrimSpace(rest[:loc[0]+1])
		if part != "" {
			out = append(out, part)
		}
		rest = rest[loc[1]:]
	}
	if r := strings.TrimSpace(rest); r != "" {
		out = append(out, r)
	}
	return out
}

// SentenceSignature normalizes a sentence for cross-subtopic frequency
// counting during boilerplate removal.
func SentenceSignature(s string) string {
	return Normalize(s)
}

// LooksClipped flags paragraphs that appear truncated: too short, missing
// terminal punctuation, or unbalanced parentheses.
func LooksClipped(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 400 {
		return true
	}
	last := t[len(t)-1]
	if last != '.' && last != '!' && last != '?' {
		return true
	}
	if strings.Count(t, "(") != strings.Count(t, ")") {
		return true
	}
	return false
}
