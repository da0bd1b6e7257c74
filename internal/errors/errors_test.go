package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindThroughWrapChain(t *testing.T) {
	inner := New("tape.read", KindDevice, "scsi error")
	outer := Wrap("volume.mount", KindIndexInvalid, inner)

	assert.True(t, Is(outer, KindIndexInvalid))
	assert.True(t, Is(outer, KindDevice), "Is must walk the wrapped Cause chain")
	assert.False(t, Is(outer, KindNoDentry))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boring"), KindDevice))
}

func TestUnwrapInteroperatesWithStdlibErrorsIs(t *testing.T) {
	cause := errors.New("backend busy")
	wrapped := Wrap("tape.Seek", KindDeviceUnready, cause)

	assert.True(t, errors.Is(wrapped, cause))
}

func TestNeedsRevalidation(t *testing.T) {
	assert.True(t, NeedsRevalidation(New("op", KindDeviceUnready, "")))
	assert.True(t, NeedsRevalidation(New("op", KindDeviceFenced, "")))
	assert.False(t, NeedsRevalidation(New("op", KindNoDentry, "")))
	assert.False(t, NeedsRevalidation(nil))
}

func TestStickyOnlyRevalFailed(t *testing.T) {
	assert.True(t, Sticky(KindRevalFailed))
	assert.False(t, Sticky(KindWriteProtect))
}

func TestFsckExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{New("op", KindInterrupted, ""), 32},
		{New("op", KindBarcodeInvalid, ""), 16},
		{New("op", KindEodMissing, ""), 4},
		{New("op", KindDeviceFenced, ""), 8},
		{errors.New("not our error type"), 8},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FsckExitCode(c.err))
	}
}

func TestDeviceErrorCarriesErrno(t *testing.T) {
	err := Device("tape.Write", 5, errors.New("sense key"))
	assert.Equal(t, KindDevice, err.Kind)
	assert.Equal(t, 5, err.Errno)
}

func TestErrorMessageFormatting(t *testing.T) {
	plain := New("fs.Lookup", KindNoDentry, "")
	assert.Contains(t, plain.Error(), "fs.Lookup")
	assert.Contains(t, plain.Error(), "no such dentry")

	withMsg := New("fs.Lookup", KindNoDentry, "/missing")
	assert.Contains(t, withMsg.Error(), "/missing")
}
