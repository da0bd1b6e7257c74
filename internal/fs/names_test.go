package fs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalNameNormalizesToNFC(t *testing.T) {
	// "e" + combining acute accent decomposes; NFC should fold it to the
	// single precomposed code point.
	decomposed := "é"
	got := CanonicalName(decomposed)
	assert.Equal(t, "é", got)
}

func TestPlatformSafeNameCaseSensitiveHostIsIdentity(t *testing.T) {
	got := PlatformSafeName("Report:Final", false, nil)
	assert.Equal(t, "Report:Final", got, "case-sensitive hosts never substitute or suffix")
}

func TestPlatformSafeNameSubstitutesForbiddenChars(t *testing.T) {
	got := PlatformSafeName(`a:b*c?d`, true, func(string) bool { return false })
	assert.Equal(t, "a_b_c_d", got)
}

func TestPlatformSafeNameReservedDeviceName(t *testing.T) {
	got := PlatformSafeName("CON", true, func(string) bool { return false })
	assert.Equal(t, "CON_", got)
}

func TestPlatformSafeNameCollisionSuffix(t *testing.T) {
	existing := map[string]bool{"report": true, "report~1": true}
	got := PlatformSafeName("Report", true, func(candidate string) bool {
		return existing[FoldKey(candidate, true)]
	})
	assert.Equal(t, "Report~2", got)
}

func TestPlatformSafeNameTruncatesOverlongName(t *testing.T) {
	base := strings.Repeat("x", MaxNameLength+50)
	got := PlatformSafeName(base+".txt", true, func(string) bool { return false })
	assert.LessOrEqual(t, len(got), MaxNameLength)
}

func TestFoldKeyCaseInsensitive(t *testing.T) {
	assert.Equal(t, FoldKey("Report", true), FoldKey("REPORT", true))
	assert.Equal(t, "Report", FoldKey("Report", false), "case-sensitive hosts fold to the identity")
}

func TestCaselessEqual(t *testing.T) {
	assert.True(t, CaselessEqual("Report", "report"))
	assert.False(t, CaselessEqual("Report", "reports"))
}
