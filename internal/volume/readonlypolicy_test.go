package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/xmlcodec"
)

func newTestVolume(t *testing.T) *Volume {
	t.Helper()
	fb, err := tape.NewFileBackend(t.TempDir(), tape.Options{})
	require.NoError(t, err)
	dev := tape.NewDevice(fb)
	return New(dev, xmlcodec.NewDefaultCodec())
}

func TestEffectiveReadOnlyDefaultsToReadWrite(t *testing.T) {
	v := newTestVolume(t)
	assert.Equal(t, ReadWrite, v.EffectiveReadOnly())
	assert.True(t, v.IsWritable())
}

func TestEffectiveReadOnlyWritePermStatusIsWriteError(t *testing.T) {
	v := newTestVolume(t)
	v.lockStatus = tape.LockWritePermBoth
	assert.Equal(t, WriteErrorState, v.EffectiveReadOnly())
	assert.False(t, v.IsWritable())
}

func TestEffectiveReadOnlyLockedStatusIsWriteProtect(t *testing.T) {
	v := newTestVolume(t)
	v.lockStatus = tape.LockLocked
	assert.Equal(t, WriteProtectState, v.EffectiveReadOnly())
}

func TestEffectiveReadOnlyPermLockedStatusIsWriteProtect(t *testing.T) {
	v := newTestVolume(t)
	v.lockStatus = tape.LockPermLocked
	assert.Equal(t, WriteProtectState, v.EffectiveReadOnly())
}

func TestEffectiveReadOnlyForceReadOnlyLatchesWriteProtect(t *testing.T) {
	v := newTestVolume(t)
	v.device.SetForceReadOnly()
	assert.Equal(t, WriteProtectState, v.EffectiveReadOnly())
	assert.False(t, v.IsWritable())
}
