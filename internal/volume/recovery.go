package volume

import (
	"context"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

// eodWriter is implemented by backends (the simulated file backend among
// them) that can directly place or remove an EOD marker, the operation
// §4.4.3 recovery needs and that a real SCSI backend would perform via an
// erase-to-EOD command instead; it is an optional capability, not part of
// the required §6 operation table, so recovery type-asserts for it rather
// than widening Backend.
type eodWriter interface {
	WriteEODMarker(part tape.Partition, block uint64) error
}

// CheckEODStatus reports the EOD status of partition, implementing
// check_eod_status.
func (v *Volume) CheckEODStatus(ctx context.Context, partition tape.Partition) (tape.EODStatus, error) {
	return v.device.Backend().GetEODStatus(ctx, partition)
}

// RecoverEOD implements the §4.4.3 recovery: it locates the final valid
// index record by reading the opposite partition's final index and
// following its self/back-pointer chain, then writes a new EOD at that
// position, unload/load-cycling the tape around the final step to defeat
// drive fencing. Recovery is refused if both partitions are missing EOD.
func (v *Volume) RecoverEOD(ctx context.Context, partition tape.Partition) error {
	const op = "volume.Volume.RecoverEOD"

	v.Lock()
	defer v.Unlock()

	status, err := v.device.Backend().GetEODStatus(ctx, partition)
	if err != nil {
		return lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	if status != tape.EODMissing {
		return nil
	}

	opposite := tape.PartitionDP
	if partition == tape.PartitionDP {
		opposite = tape.PartitionIP
	}
	oppositeStatus, err := v.device.Backend().GetEODStatus(ctx, opposite)
	if err != nil {
		return lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	if oppositeStatus == tape.EODMissing {
		return lerrors.New(op, lerrors.KindBothEodMissing, "both partitions are missing EOD")
	}

	finalIx, err := v.readIndexAt(ctx, tape.IndexPointer{Partition: opposite, Block: tape.BlockMax})
	if err != nil {
		return lerrors.Wrap(op, lerrors.KindEodMissing, err)
	}

	var target tape.IndexPointer
	if finalIx.Back.Partition == partition {
		target = finalIx.Back
	} else {
		target = tape.IndexPointer{Partition: partition, Block: finalIx.Self.Block}
	}

	writer, ok := v.device.Backend().(eodWriter)
	if !ok {
		return lerrors.New(op, lerrors.KindEodMissing, "backend cannot place an EOD marker directly")
	}

	// Unload/load around the final write to defeat drive fencing, as the
	// design calls for.
	if err := v.device.Backend().Unload(ctx); err != nil {
		return lerrors.Wrap(op, lerrors.KindDeviceUnready, err)
	}
	if err := v.device.Backend().Load(ctx); err != nil {
		return lerrors.Wrap(op, lerrors.KindDeviceUnready, err)
	}
	if err := writer.WriteEODMarker(partition, target.Block+1); err != nil {
		return lerrors.Wrap(op, lerrors.KindEodMissing, err)
	}
	return nil
}
