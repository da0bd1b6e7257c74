package volume

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/fs"
	"github.com/deploymenttheory/go-ltfs/internal/index"
	"github.com/deploymenttheory/go-ltfs/internal/process"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

// Mount implements the §4.4.1 mount state machine:
// Unmounted -> LabelsRead -> CoherencyChecked -> IndexLoaded -> Mounted.
// On any error the volume falls back to Unmounted with its index freed.
func (v *Volume) Mount(ctx context.Context, opts MountOptions) (err error) {
	const op = "volume.Volume.Mount"

	v.Lock()
	defer v.Unlock()

	defer func() {
		if err != nil {
			v.state = StateUnmounted
			v.swapIndex(nil)
		}
	}()

	// Step 1: load, seek to the start, verify the medium is partitioned.
	if loadErr := v.device.Backend().Load(ctx); loadErr != nil {
		return lerrors.Wrap(op, lerrors.KindDeviceUnready, loadErr)
	}
	if seekErr := v.device.Seek(ctx, tape.Position{Partition: tape.PartitionIP, Block: 0}); seekErr != nil {
		return lerrors.Wrap(op, lerrors.KindBadLocate, seekErr)
	}
	cap, capErr := v.device.Backend().RemainingCapacity(ctx)
	if capErr != nil {
		return lerrors.Wrap(op, lerrors.KindDevice, capErr)
	}
	if cap.MaxBlocks[tape.PartitionIP] == 0 || cap.MaxBlocks[tape.PartitionDP] == 0 {
		return lerrors.New(op, lerrors.KindNotPartitioned, "medium is not partitioned")
	}
	v.capacity = cap

	// Step 2: read and compare labels from both partitions.
	ipLabel, ipErr := v.readLabel(ctx, tape.PartitionIP)
	if ipErr != nil {
		return lerrors.Wrap(op, lerrors.KindLabelInvalid, ipErr)
	}
	dpLabel, dpErr := v.readLabel(ctx, tape.PartitionDP)
	if dpErr != nil {
		return lerrors.Wrap(op, lerrors.KindLabelInvalid, dpErr)
	}
	if ipLabel.VolumeUUID != dpLabel.VolumeUUID {
		return lerrors.New(op, lerrors.KindLabelMismatch, "IP/DP label UUID mismatch")
	}
	v.label = ipLabel
	v.state = StateLabelsRead

	// Step 3: read MAM coherency for both partitions and the VCR.
	ipCoh, ipUUID, ipCohErr := v.readCoherency(ctx, tape.PartitionIP)
	dpCoh, dpUUID, dpCohErr := v.readCoherency(ctx, tape.PartitionDP)
	coherencyUsable := ipCohErr == nil && dpCohErr == nil &&
		ipUUID == ipLabel.VolumeUUID && dpUUID == ipLabel.VolumeUUID
	if !coherencyUsable {
		v.coherency[tape.PartitionIP] = tape.Coherency{}
		v.coherency[tape.PartitionDP] = tape.Coherency{}
		opts.ForceFull = true
	} else {
		v.coherency[tape.PartitionIP] = ipCoh
		v.coherency[tape.PartitionDP] = dpCoh
	}
	v.state = StateCoherencyChecked

	// Steps 4-6: pick which partition holds the newest index.
	var chosen tape.Partition
	var chosenSelf tape.IndexPointer
	switch {
	case !opts.ForceFull && coherencyUsable && ipCoh.VolumeChangeRef == dpCoh.VolumeChangeRef:
		chosen = tape.PartitionDP
		if ipCoh.Count > dpCoh.Count {
			chosen = tape.PartitionIP
		}
		chosenSelf = tape.IndexPointer{Partition: chosen, Block: tape.BlockMax}
		if readErr := v.device.Seek(ctx, chosenSelf); readErr != nil {
			chosen, chosenSelf, err = v.checkMedium(ctx, true)
			if err != nil {
				return lerrors.Wrap(op, lerrors.KindInconsistent, err)
			}
		}
	case v.writePermed():
		chosen = tape.PartitionDP
		if ipCoh.Count > dpCoh.Count {
			chosen = tape.PartitionIP
		}
		chosenSelf = tape.IndexPointer{Partition: chosen, Block: tape.BlockMax}
	default:
		chosen, chosenSelf, err = v.checkMedium(ctx, true)
		if err != nil {
			return lerrors.Wrap(op, lerrors.KindInconsistent, err)
		}
	}

	newIx, readErr := v.readIndexAt(ctx, chosenSelf)
	if readErr != nil {
		return lerrors.Wrap(op, lerrors.KindIndexInvalid, readErr)
	}
	_ = chosen

	// Step 7: rollback-mount to a specific generation.
	if opts.TargetGen != 0 {
		target, rollbackErr := v.locateGeneration(ctx, newIx, opts.TargetGen, v.traversalMode, opts.DeepRecovery)
		if rollbackErr != nil {
			return lerrors.Wrap(op, lerrors.KindGenerationMismatch, rollbackErr)
		}
		newIx = target
		v.device.SetForceReadOnly()
		v.rollbackMount = true
	}

	old, _ := v.swapIndex(newIx)
	_ = old
	v.tree = &fs.Tree{Root: newIx.Root, CaseInsensitive: false}
	v.state = StateIndexLoaded

	// Step 8: back IP's append position up one block from the loaded
	// index's self-pointer so the next IP write overwrites it.
	if newIx.Self.Partition == tape.PartitionIP && newIx.Self.Block > 0 {
		v.device.SetAppendPosition(tape.PartitionIP, newIx.Self.Block-1)
	}

	// Step 9: warn (never fail) if the UID counter is exhausted.
	if newIx.UIDCounterExhausted() {
		process.Log().Warn("uid counter exhausted at mount", zap.String("volume", newIx.VolumeUUID.String()))
	}

	// Step 10: clear commit message and mark both index-file-end flags.
	// MAM attributes are not cached here; only the volume-lock attribute
	// is read, in step 11.
	newIx.CommitMessage = ""
	v.indexFileEnd[tape.PartitionIP] = true
	v.indexFileEnd[tape.PartitionDP] = true

	// Step 11: reconcile lock status, MAM wins on a write-perm state.
	lockAttr, lockErr := v.device.Backend().ReadAttribute(ctx, tape.PartitionIP, tape.AttrVolumeLocked)
	if lockErr == nil && len(lockAttr) > 0 {
		mamStatus := tape.VolumeLockStatus(lockAttr[0])
		if isWritePermStatus(mamStatus) {
			v.lockStatus = mamStatus
		} else if newIx.VolumeLocked {
			v.lockStatus = tape.LockLocked
		} else {
			v.lockStatus = mamStatus
		}
	} else if newIx.VolumeLocked {
		v.lockStatus = tape.LockLocked
	}

	v.state = StateMounted
	return nil
}

func isWritePermStatus(s tape.VolumeLockStatus) bool {
	switch s {
	case tape.LockWritePerm, tape.LockWritePermDP, tape.LockWritePermIP, tape.LockWritePermBoth:
		return true
	default:
		return false
	}
}

// writePermed reports whether the device's write-error (write-perm) latch
// is set, the condition mount step 5 checks before falling back to a
// full medium scan.
func (v *Volume) writePermed() bool {
	wp := v.device.WriteProtect()
	return wp.WriteError
}

// readLabel reads and decodes the XML label from partition (block 2, per
// the §6 on-tape layout).
func (v *Volume) readLabel(ctx context.Context, partition tape.Partition) (Label, error) {
	if err := v.device.Seek(ctx, tape.Position{Partition: partition, Block: 2}); err != nil {
		return Label{}, err
	}
	data, err := v.device.Read(ctx, 64*1024)
	if err != nil {
		return Label{}, err
	}
	doc, err := v.codec.XMLToLabel(data)
	if err != nil {
		return Label{}, err
	}
	return labelFromDocument(doc)
}

// readCoherency reads the MAM coherency attribute for partition.
func (v *Volume) readCoherency(ctx context.Context, partition tape.Partition) (tape.Coherency, uuid.UUID, error) {
	data, err := v.device.Backend().ReadAttribute(ctx, partition, tape.AttrCoherency)
	if err != nil {
		return tape.Coherency{}, uuid.Nil, err
	}
	c, vol, err := tape.DecodeCoherency(data)
	if err != nil {
		return tape.Coherency{}, uuid.Nil, err
	}
	return c, vol, nil
}

// readIndexAt seeks to pos and reads+parses the index record found there.
// A BlockMax pointer reads the partition's final index record: the record
// just before the single filemark that WriteIndex leaves at EOD.
func (v *Volume) readIndexAt(ctx context.Context, pos tape.IndexPointer) (*index.Index, error) {
	if pos.Block == tape.BlockMax {
		if err := v.device.Seek(ctx, pos); err != nil {
			return nil, err
		}
		eod := v.device.Position().Block
		if eod < 2 {
			return nil, lerrors.New("volume.Volume.readIndexAt", lerrors.KindNoIndex, "no index record before EOD")
		}
		pos.Block = eod - 2
	}
	if err := v.device.Seek(ctx, pos); err != nil {
		return nil, err
	}
	data, err := v.device.Read(ctx, 4*1024*1024)
	if err != nil {
		return nil, err
	}
	doc, err := v.codec.XMLToIndex(data)
	if err != nil {
		return nil, err
	}
	return indexFromDocument(doc)
}

// locateGeneration walks the index chain (forward or backward, following
// Self/Back pointers) from start until it finds targetGen.
func (v *Volume) locateGeneration(ctx context.Context, start *index.Index, targetGen uint64, mode TraversalMode, deepRecovery bool) (*index.Index, error) {
	const op = "volume.Volume.locateGeneration"

	cur := start
	for {
		if process.Interrupted() {
			return nil, lerrors.New(op, lerrors.KindInterrupted, "rollback traversal interrupted")
		}
		if cur.Generation() == targetGen {
			return cur, nil
		}
		var next tape.IndexPointer
		if mode == TraversalBackward {
			next = cur.Back
		} else {
			next = cur.Self
			next.Block++
		}
		if next.Block == 0 && next.Partition == 0 {
			return nil, lerrors.New(op, lerrors.KindGenerationMismatch, "requested generation not found")
		}
		nextIx, err := v.readIndexAt(ctx, next)
		if err != nil {
			if deepRecovery {
				return nil, lerrors.Wrap(op, lerrors.KindGenerationMismatch, err)
			}
			return nil, lerrors.Wrap(op, lerrors.KindGenerationMismatch, err)
		}
		cur = nextIx
	}
}
