package volume

import (
	"github.com/google/uuid"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/fs"
	"github.com/deploymenttheory/go-ltfs/internal/index"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/types"
	"github.com/deploymenttheory/go-ltfs/internal/xmlcodec"
)

// indexFromDocument rebuilds an in-memory *index.Index (and its dentry
// tree) from a parsed IndexDocument, the inverse of xmlcodec.ToDocument.
func indexFromDocument(doc xmlcodec.IndexDocument) (*index.Index, error) {
	const op = "volume.indexFromDocument"

	vol, err := uuid.Parse(doc.VolumeUUID)
	if err != nil {
		return nil, lerrors.Wrap(op, lerrors.KindIndexInvalid, err)
	}

	root, err := dentryFromXML(doc.Directory, nil, true)
	if err != nil {
		return nil, err
	}
	root.UID = types.UIDRoot

	ix := index.New(vol, doc.CreatorString)
	ix.Root = root
	ix.ModTime = doc.UpdateTime
	ix.Self = pointerFromXML(doc.Location)
	ix.Back = pointerFromXML(doc.PreviousGen)
	ix.CommitMessage = doc.CommitMessage
	ix.VolumeName = doc.VolumeName
	ix.CriteriaAllowUpdate = doc.AllowPolicyUpdate
	restoreGeneration(ix, doc.Generation)

	var highestUID types.UID = types.UIDRoot
	var fileCount int64
	walkUIDs(root, &highestUID, &fileCount)
	ix.AdjustFileCount(fileCount)
	bumpUIDCounter(ix, highestUID)

	return ix, nil
}

// restoreGeneration sets ix's generation counter to gen by round-tripping
// through Snapshot/Restore, since Index deliberately exposes no direct
// setter (generation otherwise only ever advances through write_index).
func restoreGeneration(ix *index.Index, gen uint64) {
	snap := ix.Snapshot()
	snap.Generation = gen
	ix.Restore(snap)
}

// bumpUIDCounter advances ix's uid counter past the highest UID found in
// the parsed tree, so subsequent allocations never collide with a
// restored dentry.
func bumpUIDCounter(ix *index.Index, highest types.UID) {
	for {
		next, err := ix.NextUID()
		if err != nil || next > highest {
			return
		}
	}
}

func walkUIDs(d *types.Dentry, highest *types.UID, fileCount *int64) {
	if d.UID > *highest {
		*highest = d.UID
	}
	if !d.Flags.IsDirectory {
		*fileCount++
		return
	}
	for _, c := range d.ChildMap {
		walkUIDs(c.Dentry, highest, fileCount)
	}
}

func pointerFromXML(p xmlcodec.PointerXML) tape.IndexPointer {
	part := tape.PartitionDP
	if p.Partition == "a" {
		part = tape.PartitionIP
	}
	return tape.IndexPointer{Partition: part, Block: p.StartBlock}
}

func extentPartition(letter string) rune {
	if letter == "" {
		return 0
	}
	return []rune(letter)[0]
}

// dentryFromXML rebuilds one subtree from its flattened XML shape,
// recreating canonical/platform-safe names, extents, and extended
// attributes. parent is nil only for the root; isDirectory is supplied by
// the caller since the document distinguishes directories from files by
// which container (Dirs vs Files) holds the element, not by a field on
// the element itself.
func dentryFromXML(x xmlcodec.DirentXML, parent *types.Dentry, isDirectory bool) (*types.Dentry, error) {
	canonical := xmlcodec.PercentDecodeName(x.Name)

	d := types.NewDentry(types.UID(x.UID), canonical, canonical, isDirectory)
	d.Flags.IsReadOnly = x.ReadOnly
	d.Times.CreateTime = x.CreateTime
	d.Times.ChangeTime = x.ChangeTime
	d.Times.ModifyTime = x.ModifyTime
	d.Times.AccessTime = x.AccessTime
	d.LinkCount = x.LinkCount
	d.SymlinkTarget = x.Symlink
	d.Parent = parent

	for _, e := range x.Extents {
		d.Extents = append(d.Extents, types.Extent{
			Partition:  extentPartition(e.Partition),
			StartBlock: e.StartBlock,
			ByteOffset: e.ByteOffset,
			ByteCount:  e.ByteCount,
			FileOffset: e.FileOffset,
		})
	}
	for _, a := range x.XAttrs {
		value := a.Value
		if a.PercentEncoded {
			value = xmlcodec.PercentDecodeName(value)
		}
		d.XAttrs = append(d.XAttrs, types.XAttr{Name: a.Name, Value: []byte(value), PercentEncoded: a.PercentEncoded})
	}

	if isDirectory {
		if d.ChildMap == nil {
			d.ChildMap = make(map[string]*types.ChildNode)
		}
		for _, dirXML := range x.Dirs {
			child, err := dentryFromXML(dirXML, d, true)
			if err != nil {
				return nil, err
			}
			d.ChildMap[fs.FoldKey(child.PlatformSafeName, false)] = &types.ChildNode{Dentry: child}
		}
		for _, fileXML := range x.Files {
			child, err := dentryFromXML(fileXML, d, false)
			if err != nil {
				return nil, err
			}
			d.ChildMap[fs.FoldKey(child.PlatformSafeName, false)] = &types.ChildNode{Dentry: child}
		}
	}
	return d, nil
}
