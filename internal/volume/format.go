package volume

import (
	"context"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/fs"
	"github.com/deploymenttheory/go-ltfs/internal/index"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
)

// FormatOptions parameterizes FormatTape per §4.4.5 and §6's partition-map
// requirements.
type FormatOptions struct {
	BlockSize   uint32
	Compression bool
	Barcode     string
	DPLogicalID rune
	IPLogicalID rune
	DPNum       int
	IPNum       int
	Creator     string
	WORM        bool
}

// FormatTape implements format_tape: requires both partitions' self
// pointers to be (0,0), refuses WORM media that already carry data,
// generates a fresh volume UUID/format time, writes labels to both
// partitions, then writes an initial empty index to DP then IP.
func (v *Volume) FormatTape(ctx context.Context, opts FormatOptions) error {
	const op = "volume.Volume.FormatTape"

	v.Lock()
	defer v.Unlock()

	if err := ValidateBarcode(opts.Barcode); opts.Barcode != "" && err != nil {
		return err
	}
	pm, err := NewPartitionMap(opts.DPNum, opts.DPLogicalID, opts.IPNum, opts.IPLogicalID)
	if err != nil {
		return err
	}

	wp := v.device.WriteProtect()
	if wp.Physical || wp.Logical || wp.ForceReadOnly {
		return lerrors.New(op, lerrors.KindWriteProtect, "cannot format a write-protected partition")
	}

	for _, part := range []tape.Partition{tape.PartitionIP, tape.PartitionDP} {
		pos, posErr := v.device.SeekEOD(ctx, part)
		if posErr != nil {
			return lerrors.Wrap(op, lerrors.KindDevice, posErr)
		}
		hasData := pos.Block > 0
		if opts.WORM && hasData {
			return lerrors.New(op, lerrors.KindRulesWorm, "WORM medium already has data")
		}
	}

	volUUID := uuid.New()
	formatTime := time.Now()

	v.label = Label{
		VolumeUUID:  volUUID,
		Creator:     opts.Creator,
		FormatTime:  formatTime,
		BlockSize:   opts.BlockSize,
		Compression: opts.Compression,
		Barcode:     opts.Barcode,
		Partitions:  pm,
	}
	v.creator = opts.Creator

	for _, part := range []tape.Partition{tape.PartitionIP, tape.PartitionDP} {
		if err := v.writeLabel(ctx, part, v.label); err != nil {
			return lerrors.Wrap(op, lerrors.KindLabelInvalid, err)
		}
	}

	newIx := index.New(volUUID, opts.Creator)
	v.swapIndex(newIx)
	v.tree = fs.NewTree(false)
	newIx.Root = v.tree.Root
	newIx.SetDirty(false)

	if err := v.WriteIndex(ctx, tape.PartitionDP, ReasonFormat, false); err != nil {
		return lerrors.Wrap(op, lerrors.KindIndexInvalid, err)
	}
	if err := v.WriteIndex(ctx, tape.PartitionIP, ReasonFormat, false); err != nil {
		return lerrors.Wrap(op, lerrors.KindIndexInvalid, err)
	}

	if err := v.device.Backend().SetCapacity(ctx, 100); err != nil {
		// Resetting the capacity proportion is an optimization, not a
		// correctness requirement; an error from a backend that does not
		// support it is ignored.
		_ = err
	}

	v.state = StateMounted
	return nil
}

// writeLabel encodes and writes the ANSI header plus XML label to block 0
// (ANSI) / block 2 (XML) of partition, matching the §6 on-tape layout.
func (v *Volume) writeLabel(ctx context.Context, part tape.Partition, l Label) error {
	if err := v.device.Seek(ctx, tape.Position{Partition: part, Block: 0}); err != nil {
		return err
	}
	ansi := EncodeANSIHeader(l)
	opts := tape.WriteOptions{IgnoreLess: true, IgnoreNoSpace: true}
	if err := v.device.Write(ctx, part, ansi, opts); err != nil {
		return err
	}
	if err := v.device.WriteFileMark(ctx, part, 1, true); err != nil {
		return err
	}

	doc := l.ToXMLDocument()
	xmlBytes, err := v.codec.LabelToXML(doc)
	if err != nil {
		return err
	}
	if err := v.device.Write(ctx, part, xmlBytes, opts); err != nil {
		return err
	}
	return v.device.WriteFileMark(ctx, part, 1, true)
}
