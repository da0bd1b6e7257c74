// Package fs implements the in-memory dentry tree: allocation, path
// resolution, refcount-safe disposal and platform-safe name assignment.
package fs

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxNameLength bounds one path component, matching the NameTooLong check
// in path_lookup.
const MaxNameLength = 255

// reservedDevicePrefixes are Windows reserved device names that must never
// appear as a platform-safe name component.
var reservedDevicePrefixes = []string{"CON", "PRN", "AUX", "CLOCK$", "NUL"}

func isReservedDeviceName(name string) bool {
	upper := strings.ToUpper(name)
	for _, p := range reservedDevicePrefixes {
		if upper == p {
			return true
		}
	}
	if len(upper) >= 4 && (strings.HasPrefix(upper, "COM") || strings.HasPrefix(upper, "LPT")) {
		suffix := upper[3:]
		if len(suffix) == 1 && suffix[0] >= '1' && suffix[0] <= '9' {
			return true
		}
	}
	return false
}

var forbiddenChars = map[rune]bool{
	'\\': true, ':': true, '*': true, '?': true, '"': true, '<': true, '>': true, '|': true,
}

// CanonicalName normalizes name to NFC, the form the spec requires for the
// canonical LTFS name.
func CanonicalName(name string) string {
	return norm.NFC.String(name)
}

// caseFolder performs the caseless-match primitive used to compare and to
// key platform-safe names on case-insensitive hosts.
var caseFolder = cases.Fold()

// FoldKey returns the child-map hash key for a platform-safe name: the
// case-folded form on case-insensitive hosts, or the name unchanged on
// case-sensitive hosts.
func FoldKey(platformSafeName string, caseInsensitive bool) string {
	if !caseInsensitive {
		return platformSafeName
	}
	return caseFolder.String(platformSafeName)
}

// CaselessEqual reports whether a and b match under the caseless-match
// relation (Property 8).
func CaselessEqual(a, b string) bool {
	return caseFolder.String(a) == caseFolder.String(b)
}

// PlatformSafeName derives the platform-safe name for canonical on a host
// with the given case-sensitivity, resolving collisions against the set of
// platform-safe names already present in a parent's child map (siblings,
// under the caseless-match relation when caseInsensitive).
//
// On a case-sensitive host the platform-safe name always equals the
// canonical name (per §4.1.1): callers must still check for an exact
// collision, since two distinct canonical names can never collide there.
func PlatformSafeName(canonical string, caseInsensitive bool, siblings func(candidate string) bool) string {
	if !caseInsensitive {
		return canonical
	}

	safe := substituteForbidden(canonical)
	if !collides(safe, siblings) {
		return safe
	}

	ext := ""
	base := safe
	if idx := strings.LastIndexByte(safe, '.'); idx > 0 {
		base, ext = safe[:idx], safe[idx:]
	}

	for n := 1; ; n++ {
		suffix := "~" + itoa(n)
		candidate := truncateUTF8(base, MaxNameLength-len(suffix)-len(ext)) + suffix + ext
		if !collides(candidate, siblings) {
			return candidate
		}
	}
}

func collides(candidate string, siblings func(string) bool) bool {
	if siblings == nil {
		return false
	}
	return siblings(candidate)
}

func substituteForbidden(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) || forbiddenChars[r] {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	result := b.String()
	if isReservedDeviceName(result) {
		result = result + "_"
	}
	return truncateUTF8(result, MaxNameLength)
}

// truncateUTF8 trims s to at most n bytes without splitting a multi-byte
// rune.
func truncateUTF8(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	b := s[:n]
	for len(b) > 0 && !validUTF8Tail(b) {
		b = b[:len(b)-1]
	}
	return b
}

// validUTF8Tail reports whether b does not end mid-rune.
func validUTF8Tail(b string) bool {
	for i := len(b) - 1; i >= 0 && i >= len(b)-4; i-- {
		c := b[i]
		if c&0xC0 != 0x80 { // not a UTF-8 continuation byte: start of the last rune
			return strings_RuneLen(b[i:]) == len(b)-i
		}
	}
	return true
}

func strings_RuneLen(s string) int {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return len(string(r[0]))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
