package fs

import (
	"sort"
	"strings"
	"sync/atomic"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/types"
)

// SortedChildren returns d's children ordered by ascending UID, the
// deterministic iteration order the child map must support for
// serialization. Callers must not hold d's contents lock already.
func SortedChildren(d *types.Dentry) []*types.Dentry {
	d.ContentsRLock()
	out := make([]*types.Dentry, 0, len(d.ChildMap))
	for _, c := range d.ChildMap {
		out = append(out, c.Dentry)
	}
	d.ContentsRUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// UIDSource draws the next UID from the owning index. Implemented by
// *index.Index; modeled as an interface here so package fs does not import
// package index (which in turn references dentries).
type UIDSource interface {
	NextUID() (types.UID, error)
}

// FileCountSink receives the owning index's file-count adjustment on
// non-directory allocation/disposal. Implemented by *index.Index; modeled as
// an interface for the same reason as UIDSource. A nil sink is valid and
// simply means no counter is tracked (tests, or a tree with no bound index).
type FileCountSink interface {
	AdjustFileCount(delta int64)
}

// LockFlags requests which locks allocate_dentry's callers, and
// path_lookup, should leave held on return; the caller releases them.
type LockFlags struct {
	ParentContentsWrite bool
	ParentMetaWrite     bool
	DentryContentsWrite bool
	DentryMetaWrite     bool
}

// Tree owns the root dentry and the case-sensitivity policy that governs
// platform-safe name generation for every dentry in it.
type Tree struct {
	Root            *types.Dentry
	CaseInsensitive bool
}

// NewTree builds a tree with a fresh root dentry (UID 1, numhandles 1).
func NewTree(caseInsensitive bool) *Tree {
	root := types.NewDentry(types.UIDRoot, "", "", true)
	return &Tree{Root: root, CaseInsensitive: caseInsensitive}
}

// Allocate implements allocate_dentry from §4.1.2, bound to the tree so it
// can apply the tree's case-sensitivity policy. The new dentry is linked
// into parent's child map under its platform-safe name (parent defaults to
// the tree root when nil); parent's link count is updated, volume is
// inherited from parent, and counter (if non-nil) is incremented for a
// non-directory allocation.
func (t *Tree) Allocate(parent *types.Dentry, name string, isDirectory, readOnly bool, uids UIDSource, counter FileCountSink) (*types.Dentry, error) {
	const op = "fs.Tree.Allocate"
	if parent == nil {
		parent = t.Root
	}

	canonical := CanonicalName(name)

	uid, err := uids.NextUID()
	if err != nil {
		return nil, err
	}
	if uid == types.UIDReserved {
		return nil, lerrors.New(op, lerrors.KindNoMemory, "uid counter exhausted")
	}

	d := types.NewDentry(uid, canonical, "", isDirectory)
	d.Flags.IsReadOnly = readOnly

	parent.ContentsLock()
	parent.MetaLock()

	platformSafe := PlatformSafeName(canonical, t.CaseInsensitive, func(candidate string) bool {
		_, ok := parent.ChildMap[FoldKey(candidate, t.CaseInsensitive)]
		return ok
	})
	key := FoldKey(platformSafe, t.CaseInsensitive)
	if _, exists := parent.ChildMap[key]; exists {
		parent.MetaUnlock()
		parent.ContentsUnlock()
		return nil, lerrors.New(op, lerrors.KindDentryExists, platformSafe)
	}

	d.PlatformSafeName = platformSafe
	d.Parent = parent
	d.Volume = parent.Volume

	parent.ChildMap[key] = &types.ChildNode{Dentry: d}
	parent.LinkCount++
	if isDirectory {
		parent.LinkCount++
	}
	parent.MetaUnlock()
	parent.ContentsUnlock()

	if !isDirectory && counter != nil {
		counter.AdjustFileCount(1)
	}

	return d, nil
}

// PathLookup implements path_lookup from §4.1.3: it walks the /-separated
// components of path from t.Root, validating length, locating each
// component under contents_lock for read, and bumping numhandles on the
// final target while releasing the transient bump on intermediate parents.
// flags controls which locks remain held on the returned dentry (and its
// immediate parent) when PathLookup returns successfully; the caller must
// release whatever it requested.
func (t *Tree) PathLookup(path string, flags LockFlags) (dentry, parent *types.Dentry, err error) {
	const op = "fs.Tree.PathLookup"

	comps := splitPath(path)
	cur := t.Root
	var curParent *types.Dentry

	cur.MetaLock()
	cur.NumHandles++
	cur.MetaUnlock()

	for _, comp := range comps {
		if len(comp) > MaxNameLength {
			releaseTransient(cur)
			return nil, nil, lerrors.New(op, lerrors.KindNameTooLong, comp)
		}

		cur.ContentsRLock()
		child, ok := cur.ChildMap[FoldKey(comp, t.CaseInsensitive)]
		cur.ContentsRUnlock()
		if !ok {
			releaseTransient(cur)
			return nil, nil, lerrors.New(op, lerrors.KindNoDentry, path)
		}

		child.Dentry.MetaLock()
		child.Dentry.NumHandles++
		child.Dentry.MetaUnlock()

		releaseTransient(cur)
		curParent = cur
		cur = child.Dentry
	}

	applyLockFlags(cur, curParent, flags)
	return cur, curParent, nil
}

// releaseTransient decrements numhandles on a dentry path_lookup passed
// through but is not returning, mirroring the C implementation's handling
// of intermediate parents.
func releaseTransient(d *types.Dentry) {
	d.MetaLock()
	d.NumHandles--
	d.MetaUnlock()
}

func applyLockFlags(d, parent *types.Dentry, flags LockFlags) {
	if parent != nil {
		if flags.ParentContentsWrite {
			parent.ContentsLock()
		}
		if flags.ParentMetaWrite {
			parent.MetaLock()
		}
	}
	if flags.DentryContentsWrite {
		d.ContentsLock()
	}
	if flags.DentryMetaWrite {
		d.MetaLock()
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ReleaseDentry implements release_dentry: decrement numhandles and, if it
// reaches zero while is_out_of_sync is false, dispose the subtree.
func ReleaseDentry(d *types.Dentry, caseInsensitive bool, counter FileCountSink) {
	d.MetaLock()
	d.NumHandles--
	shouldDispose := d.NumHandles == 0 && !d.Flags.IsOutOfSync
	d.MetaUnlock()
	if shouldDispose {
		DisposeDentryContents(d, caseInsensitive, counter)
	}
}

// DisposeDentryContents implements dispose_dentry_contents: recursively
// dispose children (a child that still has handles is skipped and left
// attached; no warning is logged), free extents/xattrs/unknown-tags,
// detach from the parent's
// child map, and drop the node. counter (if non-nil) is decremented for
// every non-directory node actually disposed, the mirror image of
// Allocate's increment.
func DisposeDentryContents(d *types.Dentry, caseInsensitive bool, counter FileCountSink) {
	if d.Flags.IsDirectory {
		d.ContentsLock()
		children := make([]*types.Dentry, 0, len(d.ChildMap))
		for _, c := range d.ChildMap {
			children = append(children, c.Dentry)
		}
		d.ContentsUnlock()

		for _, c := range children {
			c.MetaLock()
			handles := c.NumHandles
			c.MetaUnlock()
			if handles > 0 {
				// A live external handle still references this child;
				// skip it silently rather than tearing it out from
				// under the holder.
				continue
			}
			DisposeDentryContents(c, caseInsensitive, counter)
		}
	}

	d.MetaLock()
	d.Extents = nil
	d.XAttrs = nil
	d.UnknownTags = nil
	parent := d.Parent
	platformSafe := d.PlatformSafeName
	isDir := d.Flags.IsDirectory
	d.MetaUnlock()

	if !isDir && counter != nil {
		counter.AdjustFileCount(-1)
	}

	if parent != nil {
		parent.ContentsLock()
		key := FoldKey(platformSafe, caseInsensitive)
		delete(parent.ChildMap, key)
		parent.ContentsUnlock()

		parent.MetaLock()
		parent.LinkCount--
		if isDir {
			parent.LinkCount--
		}
		parent.MetaUnlock()
	}
}

// GCDentry performs the same traversal as DisposeDentryContents without
// decrementing handles first, for tearing down a subtree whose external
// handles are already known invalid (e.g. after an unmount).
func GCDentry(d *types.Dentry, caseInsensitive bool, counter FileCountSink) {
	DisposeDentryContents(d, caseInsensitive, counter)
}

// DentryLookup reconstructs the absolute path to d by walking parent
// references, holding each parent's contents_lock for read while copying
// the name.
func DentryLookup(d *types.Dentry) string {
	var parts []string
	cur := d
	for cur != nil && cur.Parent != nil {
		parent := cur.Parent
		parent.ContentsRLock()
		name := cur.PlatformSafeName
		parent.ContentsRUnlock()
		parts = append([]string{name}, parts...)
		cur = parent
	}
	return "/" + strings.Join(parts, "/")
}

// IsPredecessor reports whether a lies on the parent chain of b
// (fs_is_predecessor).
func IsPredecessor(a, b *types.Dentry) bool {
	cur := b.Parent
	for cur != nil {
		if cur == a {
			return true
		}
		cur = cur.Parent
	}
	return false
}

// UsedBlocks sums ceil((offset+count)/blockSize) over d's extents
// (fs_get_used_blocks).
func UsedBlocks(d *types.Dentry, blockSize uint32) uint64 {
	d.MetaRLock()
	defer d.MetaRUnlock()
	var total uint64
	for _, e := range d.Extents {
		total += types.UsedBlocksFor(e, blockSize)
	}
	return total
}

// AtomicUIDSource is a minimal UIDSource used by tests that need UID
// allocation without a full Index.
type AtomicUIDSource struct {
	counter int64
}

func NewAtomicUIDSource(start types.UID) *AtomicUIDSource {
	return &AtomicUIDSource{counter: int64(start) - 1}
}

func (s *AtomicUIDSource) NextUID() (types.UID, error) {
	v := atomic.AddInt64(&s.counter, 1)
	if v <= 0 {
		return types.UIDReserved, lerrors.New("fs.AtomicUIDSource.NextUID", lerrors.KindNoMemory, "uid counter exhausted")
	}
	return types.UID(v), nil
}
