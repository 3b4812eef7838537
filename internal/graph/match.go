package graph

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minSubstringRunes is the shortest string allowed to take part in a
// substring match. Shorter names ("Al", "NY") only match exactly.
const minSubstringRunes = 3

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeName lowercases, trims and collapses internal whitespace.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespace.ReplaceAllString(s, " ")
}

// Names returns the entity value followed by its aliases.
func (e Entity) Names() []string {
	names := make([]string, 0, len(e.Aliases)+1)
	names = append(names, e.Value)
	names = append(names, e.Aliases...)
	return names
}

// MatchesExactly reports whether name equals the value or an alias, ignoring case.
func (e Entity) MatchesExactly(name string) bool {
	n := NormalizeName(name)
	if n == "" {
		return false
	}
	for _, candidate := range e.Names() {
		if NormalizeName(candidate) == n {
			return true
		}
	}
	return false
}

// Matches reports whether any of names refers to the same thing as e: an exact
// case-insensitive match, or one containing the other when both are long enough.
func (e Entity) Matches(names ...string) bool {
	for _, name := range names {
		n := NormalizeName(name)
		if n == "" {
			continue
		}
		for _, candidate := range e.Names() {
			if namesMatch(n, NormalizeName(candidate)) {
				return true
			}
		}
	}
	return false
}

func namesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if utf8.RuneCountInString(a) < minSubstringRunes || utf8.RuneCountInString(b) < minSubstringRunes {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// MergeAliases appends names not already present (case-insensitive) as
// aliases, skipping anything equal to value. Order is preserved.
func MergeAliases(value string, existing []string, names ...string) []string {
	seen := map[string]bool{NormalizeName(value): true}
	out := make([]string, 0, len(existing)+len(names))
	for _, a := range existing {
		n := NormalizeName(a)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, strings.TrimSpace(a))
	}
	for _, a := range names {
		n := NormalizeName(a)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, strings.TrimSpace(a))
	}
	return out
}

func excerpt(s string, n int) string {
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
