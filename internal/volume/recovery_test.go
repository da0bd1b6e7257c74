package volume

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

func TestCheckEODStatusDelegatesToBackend(t *testing.T) {
	ctx := context.Background()
	v := newTestVolume(t)

	status, err := v.CheckEODStatus(ctx, tape.PartitionIP)
	require.NoError(t, err)
	assert.Equal(t, tape.EODMissing, status)

	require.NoError(t, v.device.Backend().(interface {
		WriteEODMarker(part tape.Partition, block uint64) error
	}).WriteEODMarker(tape.PartitionIP, 0))

	status, err = v.CheckEODStatus(ctx, tape.PartitionIP)
	require.NoError(t, err)
	assert.Equal(t, tape.EODValid, status)
}

func TestRecoverEODReturnsNilWhenStatusIsNotMissing(t *testing.T) {
	ctx := context.Background()
	v := newTestVolume(t)

	require.NoError(t, v.device.Backend().(interface {
		WriteEODMarker(part tape.Partition, block uint64) error
	}).WriteEODMarker(tape.PartitionIP, 0))

	assert.NoError(t, v.RecoverEOD(ctx, tape.PartitionIP))
}

func TestRecoverEODFailsWhenBothPartitionsMissingEOD(t *testing.T) {
	ctx := context.Background()
	v := newTestVolume(t)

	err := v.RecoverEOD(ctx, tape.PartitionIP)
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.KindBothEodMissing))
}
