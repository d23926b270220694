// Package semver orders package version strings.
//
// Well-formed versions (1.2, 1.2.3, 2.0.0-beta.1) are ordered with
// hashicorp/go-version, which pads missing components with zero. Anything
// go-version rejects falls back to a lenient component-wise comparison that
// understands the usual release suffixes (dev, alpha, beta, RC, pl).
package semver

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Suffix priorities (lower = earlier in release cycle)
var suffixPriority = map[string]int{
	"dev":   -5,
	"alpha": -4,
	"a":     -4,
	"beta":  -3,
	"b":     -3,
	"pre":   -2,
	"rc":    -1,
	"":      0, // release version
	"p":     1, // patch
	"pl":    1,
	"patch": 1,
}

// unknownPriority ranks words with no known meaning below every known suffix.
const unknownPriority = -6

// Compare compares two version strings.
// Returns: -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func Compare(v1, v2 string) int {
	v1 = strings.TrimSpace(v1)
	v2 = strings.TrimSpace(v2)

	a, errA := goversion.NewVersion(v1)
	b, errB := goversion.NewVersion(v2)
	if errA == nil && errB == nil {
		return a.Compare(b)
	}

	return compareLenient(v1, v2)
}

// GreaterThan reports whether candidate is strictly newer than current.
func GreaterThan(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// Valid reports whether v has at least one leading numeric component.
func Valid(v string) bool {
	parts := tokenize(strings.TrimSpace(v))
	return len(parts) > 0 && parts[0].numeric
}

// part is one component of a tokenized version string
type part struct {
	numeric bool
	// digits holds a numeric component without leading zeros, "" for zero
	digits string
	word   string
}

// tokenize breaks a version into numeric and word components.
// Separators are '.', '-', '_' and '+'; a switch between digits and
// letters also starts a new component (1.0rc1 -> 1, 0, rc, 1).
func tokenize(v string) []part {
	v = strings.TrimPrefix(strings.ToLower(v), "v")

	var parts []part
	var cur strings.Builder
	curDigit := false

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		s := cur.String()
		cur.Reset()
		if curDigit {
			parts = append(parts, part{numeric: true, digits: strings.TrimLeft(s, "0")})
			return
		}
		parts = append(parts, part{word: s})
	}

	for _, r := range v {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '+':
			flush()
		case r >= '0' && r <= '9':
			if cur.Len() > 0 && !curDigit {
				flush()
			}
			curDigit = true
			cur.WriteRune(r)
		default:
			if cur.Len() > 0 && curDigit {
				flush()
			}
			curDigit = false
			cur.WriteRune(r)
		}
	}
	flush()

	return parts
}

func wordPriority(w string) int {
	if p, ok := suffixPriority[w]; ok {
		return p
	}
	return unknownPriority
}

// compareParts compares two components; a nil side means "missing".
func compareParts(a, b *part) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -compareParts(b, nil)
	}

	if b == nil {
		if a.numeric {
			return compareDigits(a.digits, "")
		}
		return compareInts(wordPriority(a.word), 0)
	}

	switch {
	case a.numeric && b.numeric:
		return compareDigits(a.digits, b.digits)
	case a.numeric:
		return compareInts(0, wordPriority(b.word))
	case b.numeric:
		return compareInts(wordPriority(a.word), 0)
	default:
		return compareInts(wordPriority(a.word), wordPriority(b.word))
	}
}

// compareDigits orders digit strings of any length numerically.
func compareDigits(a, b string) int {
	if len(a) != len(b) {
		return compareInts(len(a), len(b))
	}
	return strings.Compare(a, b)
}

func compareInts(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareLenient(v1, v2 string) int {
	p1 := tokenize(v1)
	p2 := tokenize(v2)

	maxLen := len(p1)
	if len(p2) > maxLen {
		maxLen = len(p2)
	}

	for i := 0; i < maxLen; i++ {
		var a, b *part
		if i < len(p1) {
			a = &p1[i]
		}
		if i < len(p2) {
			b = &p2[i]
		}
		if cmp := compareParts(a, b); cmp != 0 {
			return cmp
		}
	}
	return 0
}
