package volume

import (
	"context"
	"time"

	"go.uber.org/zap"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/index"
	"github.com/deploymenttheory/go-ltfs/internal/process"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/xmlcodec"
)

// WriteReason documents why write_index was invoked; "format" and
// "writeperm" change the pipeline's behavior at steps 3 and 8.
type WriteReason string

const (
	ReasonSync       WriteReason = "sync"
	ReasonUnmount    WriteReason = "unmount"
	ReasonFormat     WriteReason = "format"
	ReasonWritePerm  WriteReason = "writeperm"
	ReasonRecursiveDP WriteReason = "recursive-dp"
)

// WriteIndex implements write_index from §4.4.2. The caller must hold the
// volume lock for write. suppressCache disables the on-disk index-cache
// write the recursive DP-first call makes (the cache collaborator is
// external to this spec; the flag is threaded through so a future cache
// hook has the right signal).
func (v *Volume) WriteIndex(ctx context.Context, partition tape.Partition, reason WriteReason, suppressCache bool) error {
	const op = "volume.Volume.WriteIndex"

	ix := v.Index()
	if ix == nil {
		return lerrors.New(op, lerrors.KindNoIndex, "no index loaded")
	}

	// Step 1: IP writes must not leave DP behind. A stale DP means DP was
	// never written this session (no index-file-end latch yet) or the
	// current self-pointer still lives on IP with IP's end-flag set,
	// meaning nothing has been flushed to DP since the last full write.
	if partition == tape.PartitionIP {
		dpStale := !v.indexFileEnd[tape.PartitionDP]
		selfOnIPEnded := ix.Self.Partition == tape.PartitionIP && v.indexFileEnd[tape.PartitionIP]
		if dpStale || selfOnIPEnded {
			if err := v.WriteIndex(ctx, tape.PartitionDP, ReasonRecursiveDP, true); err != nil {
				if lerrors.Is(err, lerrors.KindRevalFailed) || lerrors.Is(err, lerrors.KindDeviceFenced) {
					return err
				}
				return lerrors.Wrap(op, lerrors.KindInconsistent, err)
			}
		}
	}

	wasDirty := ix.IsDirty()
	if !wasDirty && reason != ReasonFormat {
		return nil
	}

	snap := ix.Snapshot()
	if wasDirty {
		snap = ix.BeginWrite(time.Now())
	}
	succeeded := false
	defer func() {
		if !succeeded {
			ix.Restore(snap)
		}
	}()

	// Step 3: seek to the partition's append position; a write-perm
	// recovery write clears the write-error latch and restarts at EOD.
	opts := tape.WriteOptions{IgnoreLess: true, IgnoreNoSpace: true}
	if reason == ReasonWritePerm {
		v.device.SetAppendPosition(partition, 0)
	}
	appendBlock := v.device.AppendPosition(partition)
	if err := v.device.Seek(ctx, tape.Position{Partition: partition, Block: appendBlock}); err != nil {
		return lerrors.Wrap(op, lerrors.KindBadLocate, err)
	}

	// Step 4: save old back/self pointers; DP-resident self becomes the
	// new back-pointer.
	if ix.Self.Partition == tape.PartitionDP {
		ix.Back = ix.Self
	}

	// Step 5: the new self-pointer is one block past the device's current
	// position (the first data block after the preceding filemark).
	pos := v.device.Position()
	ix.Self = tape.IndexPointer{Partition: partition, Block: pos.Block + 1}

	// Step 6: an IP write that finds an index already at end must flush
	// with an explicit filemark first.
	if partition == tape.PartitionIP && v.indexFileEnd[tape.PartitionIP] {
		if err := v.device.WriteFileMark(ctx, partition, 1, false); err != nil {
			return lerrors.Wrap(op, lerrors.KindWriteError, err)
		}
	}

	// Step 7: serialize via the XML collaborator.
	doc := xmlcodec.ToDocument(xmlcodec.IndexMetadata{
		Generation:          ix.Generation(),
		ModTime:             ix.ModTime,
		VolumeUUID:          ix.VolumeUUID,
		Self:                ix.Self,
		Back:                ix.Back,
		Creator:             ix.Creator,
		CommitMessage:       ix.CommitMessage,
		VolumeName:          ix.VolumeName,
		CriteriaAllowUpdate: ix.CriteriaAllowUpdate,
	}, ix.Root)
	data, err := v.codec.IndexToXML(doc)
	if err != nil {
		return lerrors.Wrap(op, lerrors.KindIndexInvalid, err)
	}
	if err := v.device.Write(ctx, partition, data, opts); err != nil {
		return lerrors.Wrap(op, lerrors.KindWriteError, err)
	}

	// Step 8: terminating filemark; format-time writes set the immediate
	// bit so the drive need not guarantee physical placement yet.
	immediate := reason == ReasonFormat
	if err := v.device.WriteFileMark(ctx, partition, 1, immediate); err != nil {
		return lerrors.Wrap(op, lerrors.KindWriteError, err)
	}

	// Step 9.
	v.indexFileEnd[partition] = true

	// Step 10: best-effort coherency update; never fatal.
	v.updateCoherency(ctx, partition, ix)

	// Step 11: IP append position backs up one block so the next IP
	// write overwrites this one. WORM media are not treated differently
	// here.
	if partition == tape.PartitionIP {
		v.device.SetAppendPosition(tape.PartitionIP, ix.Self.Block-1)
	} else {
		v.device.SetAppendPosition(partition, v.device.Position().Block+1)
	}

	// Step 12.
	ix.CommitWrite()
	v.journal.Clear()
	v.journal.ClearErr()
	succeeded = true

	if !suppressCache {
		// The on-disk index-cache collaborator is out of scope (§1); a
		// real build would persist doc here for faster remounts.
		_ = doc
	}
	return nil
}

// updateCoherency refreshes the in-memory coherency record for partition
// and best-effort writes it back to MAM; failures here are logged, never
// propagated, matching §4.4.2 step 10.
func (v *Volume) updateCoherency(ctx context.Context, partition tape.Partition, ix *index.Index) {
	c := v.coherency[partition]
	c.Count++
	c.SetID = ix.Self.Block
	v.coherency[partition] = c

	data := tape.EncodeCoherency(c, ix.VolumeUUID)
	if err := v.device.Backend().WriteAttribute(ctx, partition, tape.AttrCoherency, data); err != nil {
		process.Log().Warn("coherency update failed",
			zap.String("partition", partition.String()),
			zap.Error(err),
		)
	}
}
