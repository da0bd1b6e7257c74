package volume

import (
	"context"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

// checkMedium runs the full consistency scan (check_medium, step 6 of
// §4.4.1): it reads the final index record of both partitions and returns
// whichever generation is highest and internally consistent. The two
// reads are necessarily sequential — a tape device has one read/write
// head, so there is no position to parallelize over; the only per-mount
// concurrency safe to introduce lives above the device, in collapsing
// redundant revalidation triggers (see volume.go's use of singleflight).
func (v *Volume) checkMedium(ctx context.Context, forceFull bool) (tape.Partition, tape.IndexPointer, error) {
	const op = "volume.Volume.checkMedium"

	var best tape.IndexPointer
	var bestPartition tape.Partition
	var bestGen uint64
	found := false

	for _, part := range []tape.Partition{tape.PartitionIP, tape.PartitionDP} {
		pos := tape.IndexPointer{Partition: part, Block: tape.BlockMax}
		ix, err := v.readIndexAt(ctx, pos)
		if err != nil {
			continue
		}
		if !found || ix.Generation() > bestGen {
			found = true
			bestGen = ix.Generation()
			bestPartition = part
			best = ix.Self
		}
	}
	if !found {
		return 0, tape.IndexPointer{}, lerrors.New(op, lerrors.KindInconsistent, "no valid index found on either partition")
	}
	return bestPartition, best, nil
}
