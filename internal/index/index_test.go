package index

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	dirtyCalls   int
	writtenCalls int
}

func (l *recordingListener) OnIndexDirty(atimeOnly bool) { l.dirtyCalls++ }
func (l *recordingListener) OnIndexWritten()              { l.writtenCalls++ }

func TestNewIndexStartsClean(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	assert.False(t, ix.IsDirty())
	assert.Equal(t, uint64(0), ix.Generation())
	assert.Equal(t, int64(0), ix.FileCount())
	require.NotNil(t, ix.Root)
}

func TestSetDirtyNotifiesOnlyOnCleanToDirtyTransition(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	l := &recordingListener{}
	ix.SetListener(l)

	ix.SetDirty(false)
	assert.Equal(t, 1, l.dirtyCalls)
	assert.True(t, ix.IsDirty())

	ix.SetDirty(false) // already dirty: no further notification
	assert.Equal(t, 1, l.dirtyCalls)
}

func TestSetDirtyUpgradesSchemaVersion(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	ix.SchemaVersion = 0
	ix.SetDirty(false)
	assert.Equal(t, CurrentSchemaVersion, ix.SchemaVersion)
}

func TestAtimeOnlyDirtyRequiresUseAtime(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	ix.UseAtime = false
	ix.SetDirty(true)
	assert.True(t, ix.IsDirty(), "without UseAtime the full dirty flag is set instead")
}

func TestBeginWriteIncrementsGenerationAndCommitWriteClears(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	ix.SetDirty(false)

	snap := ix.BeginWrite(time.Now())
	assert.Equal(t, uint64(0), snap.Generation, "snapshot captures the pre-write generation")
	assert.Equal(t, uint64(1), ix.Generation())

	ix.CommitWrite()
	assert.False(t, ix.IsDirty())
}

func TestRestoreRollsBackFailedWrite(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	ix.SetDirty(false)

	snap := ix.BeginWrite(time.Now())
	ix.Restore(snap)

	assert.Equal(t, uint64(0), ix.Generation(), "generation must roll back on a failed write")
}

func TestAdjustFileCountAndValidBlocks(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	ix.AdjustFileCount(1)
	ix.AdjustFileCount(1)
	ix.AdjustFileCount(-1)
	assert.Equal(t, int64(1), ix.FileCount())

	ix.AdjustValidBlocks(10)
	ix.AdjustValidBlocks(-20)
	assert.Equal(t, uint64(0), ix.ValidBlocks(), "a negative delta larger than the count floors at zero")
}

func TestNextUIDMonotonicAndExhaustion(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	first, err := ix.NextUID()
	require.NoError(t, err)
	second, err := ix.NextUID()
	require.NoError(t, err)
	assert.Less(t, first, second)
	assert.False(t, ix.UIDCounterExhausted())
}

func TestRetainReleaseRefcount(t *testing.T) {
	ix := New(uuid.New(), "go-ltfs")
	ix.Retain()
	assert.False(t, ix.Release(), "refcount 2 -> 1 is not yet zero")
	assert.True(t, ix.Release(), "refcount 1 -> 0 reports freeable")
}
