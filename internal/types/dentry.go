// Package types holds the plain data structures shared across the LTFS
// core: the in-memory dentry tree nodes, extents, extended attributes, and
// the small value types (UID, timestamps) that flow between the fs, index,
// volume and journal packages.
package types

import (
	"sync"
	"time"
)

// UID is the 64-bit LTFS-internal dentry identifier. It is distinct from
// any OS inode number and is unique only within one volume.
type UID uint64

// Reserved UID values.
const (
	UIDReserved UID = 0 // sentinel: allocation failure / "no uid"
	UIDRoot     UID = 1
)

// Extent identifies where one contiguous run of file data lives on
// tape.
type Extent struct {
	Partition  rune   // logical partition id, 'a'..'z'
	StartBlock uint64 // first tape block of the run
	ByteOffset uint32 // byte offset within StartBlock where data begins
	ByteCount  uint64 // number of bytes in the run
	FileOffset uint64 // logical offset within the file this run covers
}

// End returns the logical file offset one past this extent.
func (e Extent) End() uint64 { return e.FileOffset + e.ByteCount }

// XAttr is one extended attribute entry on a dentry.
type XAttr struct {
	Name           string
	Value          []byte
	PercentEncoded bool // true if Value was percent-decoded from the index XML
}

// DentryFlags bundles the boolean state bits carried by a dentry.
type DentryFlags struct {
	IsDirectory  bool
	IsReadOnly   bool
	IsDeleted    bool
	IsDirty      bool
	IsOutOfSync  bool
}

// Timestamps holds the four required dentry times plus backup time.
type Timestamps struct {
	CreateTime time.Time
	ChangeTime time.Time
	ModifyTime time.Time
	AccessTime time.Time
	BackupTime time.Time
}

// ChildNode is one entry in a directory's child map: the platform-safe-name
// key maps to a node pointing at the child dentry.
type ChildNode struct {
	Dentry *Dentry
}

// Dentry is one file or directory node in the in-memory tree. Every mutable
// field is guarded by one of the two dentry-level locks documented on the
// struct; callers must take contents_lock before meta_lock when both are
// needed (see the lock-ordering note in DESIGN.md).
type Dentry struct {
	// Immutable once created.
	UID UID

	// contentsLock guards ChildMap only.
	contentsLock sync.RWMutex
	ChildMap     map[string]*ChildNode // keyed by case-folded platform-safe name

	// metaLock guards every field below except ChildMap.
	metaLock sync.RWMutex

	Name             string // canonical name, UTF-8 NFC
	PlatformSafeName string

	Flags DentryFlags
	Times Timestamps

	Parent *Dentry // non-owning; nil only for the root

	Extents []Extent
	XAttrs  []XAttr

	NumHandles int64
	LinkCount  uint32

	SymlinkTarget string

	UsedBlocks uint64

	// UnknownTags preserves XML elements from schema versions this build
	// does not understand, so a round-trip write does not silently drop
	// them.
	UnknownTags []byte

	// ioschedLock guards IoSchedHandle, matching the dentry's dedicated
	// scheduler-handle mutex from the design.
	ioschedLock   sync.Mutex
	IoSchedHandle any

	Volume any // set to the owning volume on attach; typed any to avoid an import cycle with package volume
}

// NewDentry builds a detached dentry with NumHandles == 1, as produced by
// allocate_dentry before it is linked into a parent's child map.
func NewDentry(uid UID, name, platformSafeName string, isDirectory bool) *Dentry {
	d := &Dentry{
		UID:              uid,
		Name:             name,
		PlatformSafeName: platformSafeName,
		NumHandles:       1,
	}
	d.Flags.IsDirectory = isDirectory
	if isDirectory {
		d.ChildMap = make(map[string]*ChildNode)
		d.LinkCount = 2
	}
	return d
}

// ContentsRLock / ContentsRUnlock / ContentsLock / ContentsUnlock expose the
// child-map lock to package fs, which must acquire parent-then-child in
// that order during descent.
func (d *Dentry) ContentsRLock()   { d.contentsLock.RLock() }
func (d *Dentry) ContentsRUnlock() { d.contentsLock.RUnlock() }
func (d *Dentry) ContentsLock()    { d.contentsLock.Lock() }
func (d *Dentry) ContentsUnlock()  { d.contentsLock.Unlock() }

// MetaRLock / MetaRUnlock / MetaLock / MetaUnlock expose the metadata lock.
func (d *Dentry) MetaRLock()   { d.metaLock.RLock() }
func (d *Dentry) MetaRUnlock() { d.metaLock.RUnlock() }
func (d *Dentry) MetaLock()    { d.metaLock.Lock() }
func (d *Dentry) MetaUnlock()  { d.metaLock.Unlock() }

// IoSchedLock / IoSchedUnlock expose the scheduler-handle mutex.
func (d *Dentry) IoSchedLock()   { d.ioschedLock.Lock() }
func (d *Dentry) IoSchedUnlock() { d.ioschedLock.Unlock() }

// UsedBlocksFor returns ceil((offset+count)/blockSize) for one extent,
// the unit fs_get_used_blocks sums over a dentry's extent list.
func UsedBlocksFor(e Extent, blockSize uint32) uint64 {
	total := uint64(e.ByteOffset) + e.ByteCount
	bs := uint64(blockSize)
	if bs == 0 {
		return 0
	}
	return (total + bs - 1) / bs
}
