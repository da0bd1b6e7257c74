package tape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, fb.Write(ctx, []byte("hello"), WriteOptions{}))
	require.NoError(t, fb.Locate(ctx, Position{Partition: PartitionIP, Block: 0}))

	data, err := fb.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileBackendReadMissingRecordFails(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)
	require.NoError(t, fb.Locate(ctx, Position{Partition: PartitionIP, Block: 9}))

	_, err = fb.Read(ctx, 0)
	assert.Error(t, err)
}

func TestFileBackendWriteFileMarkThenSpaceForwardLandsPastIt(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, fb.Write(ctx, []byte("data"), WriteOptions{})) // occupies block 0
	require.NoError(t, fb.WriteFileMark(ctx, 1, false))               // occupies block 1

	require.NoError(t, fb.Locate(ctx, Position{Partition: PartitionIP, Block: 0}))
	require.NoError(t, fb.Space(ctx, 1))

	pos, err := fb.ReadPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pos.Block)
}

func TestFileBackendSeekEODReturnsHighestWrittenBlock(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, fb.Write(ctx, []byte("a"), WriteOptions{}))
	require.NoError(t, fb.Write(ctx, []byte("b"), WriteOptions{}))

	pos, err := fb.SeekEOD(ctx, PartitionIP)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pos.Block)
}

func TestFileBackendRemainingCapacityReflectsUsedBlocks(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)
	require.NoError(t, fb.Write(ctx, []byte("a"), WriteOptions{}))

	info, err := fb.RemainingCapacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.UsedBlocks[PartitionIP])
	assert.Greater(t, info.MaxBlocks[PartitionIP], uint64(0))
}

func TestFileBackendEODMarkerWriteAndRemove(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, fb.WriteEODMarker(PartitionIP, 0))
	status, err := fb.GetEODStatus(ctx, PartitionIP)
	require.NoError(t, err)
	assert.Equal(t, EODValid, status)

	require.NoError(t, fb.RemoveEODMarker(PartitionIP))
	status, err = fb.GetEODStatus(ctx, PartitionIP)
	require.NoError(t, err)
	assert.Equal(t, EODMissing, status)
}

func TestFileBackendReserveUnitFencesDoubleReserve(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, fb.ReserveUnit(ctx))
	assert.Error(t, fb.ReserveUnit(ctx))

	require.NoError(t, fb.ReleaseUnit(ctx))
	assert.NoError(t, fb.ReserveUnit(ctx))
}

func TestFileBackendReadWriteAttributeRoundTrip(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	require.NoError(t, fb.WriteAttribute(ctx, PartitionIP, AttrCoherency, []byte{1, 2, 3}))
	got, err := fb.ReadAttribute(ctx, PartitionIP, AttrCoherency)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestFileBackendReadAttributeMissingFails(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	_, err = fb.ReadAttribute(ctx, PartitionIP, AttrCoherency)
	assert.Error(t, err)
}

func TestFileBackendSetCapacityRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{})
	require.NoError(t, err)

	assert.Error(t, fb.SetCapacity(ctx, 0))
	assert.Error(t, fb.SetCapacity(ctx, 101))
	assert.NoError(t, fb.SetCapacity(ctx, 50))
}

func TestFileBackendWORMForbidsMidTapeOverwrite(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir(), Options{WORM: true})
	require.NoError(t, err)

	require.NoError(t, fb.Write(ctx, []byte("first"), WriteOptions{}))
	require.NoError(t, fb.Write(ctx, []byte("second"), WriteOptions{}))

	require.NoError(t, fb.Locate(ctx, Position{Partition: PartitionIP, Block: 0}))
	err = fb.Write(ctx, []byte("overwrite"), WriteOptions{})
	assert.Error(t, err)
}
