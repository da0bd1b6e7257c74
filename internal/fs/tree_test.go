package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
)

// countingSink is a minimal FileCountSink recording net adjustments, for
// tests that don't want a full *index.Index.
type countingSink struct {
	count int64
}

func (s *countingSink) AdjustFileCount(delta int64) { s.count += delta }

func TestTreeAllocateIncrementsFileCountForNonDirectory(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)
	sink := &countingSink{}

	dir, err := tree.Allocate(nil, "a", true, false, uids, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sink.count, "directories do not count as files")

	_, err = tree.Allocate(dir, "b.txt", false, false, uids, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sink.count)
}

func TestDisposeDentryContentsDecrementsFileCount(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)
	sink := &countingSink{}

	dir, err := tree.Allocate(nil, "a", true, false, uids, sink)
	require.NoError(t, err)
	file, err := tree.Allocate(dir, "b.txt", false, false, uids, sink)
	require.NoError(t, err)
	require.Equal(t, int64(1), sink.count)

	DisposeDentryContents(file, false, sink)
	assert.Equal(t, int64(0), sink.count)
}

func TestTreeAllocateLinksIntoParent(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	dir, err := tree.Allocate(nil, "a", true, false, uids, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), tree.Root.LinkCount, "root gains 2 for the new subdirectory")

	file, err := tree.Allocate(dir, "b.txt", false, false, uids, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), dir.LinkCount, "empty dir starts at 2, +1 for the new file")
	assert.Equal(t, dir, file.Parent)
}

func TestTreeAllocateDuplicateNameFails(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	_, err := tree.Allocate(nil, "dup", false, false, uids, nil)
	require.NoError(t, err)

	_, err = tree.Allocate(nil, "dup", false, false, uids, nil)
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.KindDentryExists))
}

func TestTreeAllocateUIDExhaustionPropagates(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(0) // counter starts at -1, the next draw is 0 (reserved)

	_, err := tree.Allocate(nil, "x", false, false, uids, nil)
	require.Error(t, err)
}

func TestPathLookupWalksComponents(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	dir, err := tree.Allocate(nil, "a", true, false, uids, nil)
	require.NoError(t, err)
	file, err := tree.Allocate(dir, "b.txt", false, false, uids, nil)
	require.NoError(t, err)

	found, parent, err := tree.PathLookup("/a/b.txt", LockFlags{})
	require.NoError(t, err)
	assert.Equal(t, file.UID, found.UID)
	assert.Equal(t, dir.UID, parent.UID)
}

func TestPathLookupMissingComponent(t *testing.T) {
	tree := NewTree(false)
	_, _, err := tree.PathLookup("/nope", LockFlags{})
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.KindNoDentry))
}

func TestPathLookupNameTooLong(t *testing.T) {
	tree := NewTree(false)
	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, _, err := tree.PathLookup("/"+string(long), LockFlags{})
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.KindNameTooLong))
}

func TestReleaseDentryDisposesAtZeroHandles(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	file, err := tree.Allocate(nil, "f", false, false, uids, nil)
	require.NoError(t, err)

	ReleaseDentry(file, false, nil)

	_, ok := tree.Root.ChildMap[FoldKey("f", false)]
	assert.False(t, ok, "disposed dentry must be removed from its parent's child map")
	assert.Equal(t, uint32(2), tree.Root.LinkCount, "root's link count returns to the empty-directory baseline")
}

func TestReleaseDentrySkipsDisposalWhileHandlesRemain(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	file, err := tree.Allocate(nil, "f", false, false, uids, nil)
	require.NoError(t, err)
	file.MetaLock()
	file.NumHandles++ // simulate a second outstanding handle
	file.MetaUnlock()

	ReleaseDentry(file, false, nil)

	_, ok := tree.Root.ChildMap[FoldKey("f", false)]
	assert.True(t, ok, "a dentry with a remaining handle must not be disposed")
}

func TestIsPredecessor(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	dir, err := tree.Allocate(nil, "a", true, false, uids, nil)
	require.NoError(t, err)
	file, err := tree.Allocate(dir, "b", false, false, uids, nil)
	require.NoError(t, err)

	assert.True(t, IsPredecessor(tree.Root, file))
	assert.True(t, IsPredecessor(dir, file))
	assert.False(t, IsPredecessor(file, dir))
}

func TestDentryLookupReconstructsPath(t *testing.T) {
	tree := NewTree(false)
	uids := NewAtomicUIDSource(2)

	dir, err := tree.Allocate(nil, "a", true, false, uids, nil)
	require.NoError(t, err)
	file, err := tree.Allocate(dir, "b.txt", false, false, uids, nil)
	require.NoError(t, err)

	assert.Equal(t, "/a/b.txt", DentryLookup(file))
}
