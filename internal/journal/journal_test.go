package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ltfs/internal/types"
)

func TestNewJournalIsEmpty(t *testing.T) {
	j := New()
	assert.Equal(t, 0, j.Len())
	assert.Empty(t, j.Sorted())
	assert.False(t, j.Err())
}

func TestCreateRecordsEntry(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Create("/", d, "/a.txt")

	require.Equal(t, 1, j.Len())
	entries := j.Sorted()
	assert.Equal(t, ReasonCreate, entries[0].Reason)
	assert.Equal(t, "/a.txt", entries[0].Key.FullPath)
}

func TestCreateUnderCreatedAncestorIsSkipped(t *testing.T) {
	j := New()
	dir := types.NewDentry(types.UID(1), "a", "a", true)
	j.Create("/", dir, "/a")

	file := types.NewDentry(types.UID(2), "b.txt", "b.txt", false)
	j.Create("/a", file, "/a/b.txt")

	assert.Equal(t, 1, j.Len(), "a file created under a directory created this session needs no entry of its own")
}

func TestModifySkippedWhenCreateEntryExists(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Create("/", d, "/a.txt")
	j.Modify(d, "/a.txt")

	entries := j.Sorted()
	require.Len(t, entries, 1)
	assert.Equal(t, ReasonCreate, entries[0].Reason, "create entry subsumes a later modify")
}

func TestModifyRecordsEntryWhenNoneExists(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Modify(d, "/a.txt")

	entries := j.Sorted()
	require.Len(t, entries, 1)
	assert.Equal(t, ReasonModify, entries[0].Reason)
}

func TestModifySkippedUnderCreatedAncestor(t *testing.T) {
	j := New()
	dir := types.NewDentry(types.UID(1), "a", "a", true)
	j.Create("/", dir, "/a")

	file := types.NewDentry(types.UID(2), "b.txt", "b.txt", false)
	j.Modify(file, "/a/b.txt")

	assert.Equal(t, 1, j.Len())
}

func TestRemoveFileCancelsPendingCreate(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Create("/", d, "/a.txt")
	j.RemoveFile(d, "/a.txt", "a.txt")

	assert.Equal(t, 0, j.Len(), "created then deleted within one session cancels out")
}

func TestRemoveFileUpgradesModifyToDelete(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Modify(d, "/a.txt")
	j.RemoveFile(d, "/a.txt", "a.txt")

	entries := j.Sorted()
	require.Len(t, entries, 1)
	assert.Equal(t, ReasonDeleteFile, entries[0].Reason)
	assert.Nil(t, entries[0].Dentry)
	assert.Equal(t, "a.txt", entries[0].Name)
}

func TestRemoveFileWithNoPriorEntryRecordsDelete(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.RemoveFile(d, "/a.txt", "a.txt")

	entries := j.Sorted()
	require.Len(t, entries, 1)
	assert.Equal(t, ReasonDeleteFile, entries[0].Reason)
}

func TestRemoveFileSkippedUnderCreatedAncestor(t *testing.T) {
	j := New()
	dir := types.NewDentry(types.UID(1), "a", "a", true)
	j.Create("/", dir, "/a")

	file := types.NewDentry(types.UID(2), "b.txt", "b.txt", false)
	j.RemoveFile(file, "/a/b.txt", "b.txt")

	assert.Equal(t, 1, j.Len(), "the ancestor create entry already subsumes the delete")
}

func TestRemoveDirectoryCreatedThisSessionForgetsIt(t *testing.T) {
	j := New()
	dir := types.NewDentry(types.UID(1), "a", "a", true)
	j.Create("/", dir, "/a")

	file := types.NewDentry(types.UID(2), "b.txt", "b.txt", false)
	j.Create("/a", file, "/a/b.txt")

	j.RemoveDirectory(dir, "/a", "a")

	assert.Equal(t, 0, j.Len(), "directory and its descendants created-then-removed in one session leave no entries")
	assert.Empty(t, j.CreatedDirs())
}

func TestRemoveDirectoryNotCreatedThisSessionDropsDescendantsAndRecordsDelete(t *testing.T) {
	j := New()
	other := types.NewDentry(types.UID(3), "other.txt", "other.txt", false)
	j.Modify(other, "/a/other.txt")

	dir := types.NewDentry(types.UID(1), "a", "a", true)
	j.RemoveDirectory(dir, "/a", "a")

	entries := j.Sorted()
	require.Len(t, entries, 1, "the descendant modify entry is dropped, replaced by a single delete-directory entry")
	assert.Equal(t, ReasonDeleteDirectory, entries[0].Reason)
	assert.Equal(t, "/a", entries[0].Key.FullPath)
}

func TestClearEmptiesJournal(t *testing.T) {
	j := New()
	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Create("/", d, "/a.txt")
	j.Clear()

	assert.Equal(t, 0, j.Len())
	assert.Empty(t, j.CreatedDirs())
}

func TestMarkPathErrorLatchesUntilCleared(t *testing.T) {
	j := New()
	j.MarkPathError()
	assert.True(t, j.Err())

	d := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Create("/", d, "/a.txt")
	assert.Equal(t, 0, j.Len(), "every call is a no-op while the error latch is set")

	j.ClearErr()
	assert.False(t, j.Err())
	j.Create("/", d, "/a.txt")
	assert.Equal(t, 1, j.Len())
}

func TestSortedOrdersByPathThenUID(t *testing.T) {
	j := New()
	d1 := types.NewDentry(types.UID(2), "b.txt", "b.txt", false)
	d2 := types.NewDentry(types.UID(1), "a.txt", "a.txt", false)
	j.Create("/", d1, "/b.txt")
	j.Create("/", d2, "/a.txt")

	entries := j.Sorted()
	require.Len(t, entries, 2)
	assert.Equal(t, "/a.txt", entries[0].Key.FullPath)
	assert.Equal(t, "/b.txt", entries[1].Key.FullPath)
}
