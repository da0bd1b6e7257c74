package volume

import (
	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/fs"
	"github.com/deploymenttheory/go-ltfs/internal/types"
)

// CreateDentry implements the volume-level half of allocate_dentry (§4.1.2):
// it allocates a dentry under parent through the tree (link count and file
// count both update as a side effect), then records the mutation in the
// session journal so the next write_index emits it incrementally. parent
// defaults to the tree root when nil.
func (v *Volume) CreateDentry(parent *types.Dentry, name string, isDirectory, readOnly bool) (*types.Dentry, error) {
	const op = "volume.Volume.CreateDentry"

	ix := v.Index()
	if ix == nil {
		return nil, lerrors.New(op, lerrors.KindNoIndex, "no index loaded")
	}

	d, err := v.tree.Allocate(parent, name, isDirectory, readOnly, ix, ix)
	if err != nil {
		return nil, err
	}

	parentPath := "/"
	if d.Parent != nil {
		parentPath = fs.DentryLookup(d.Parent)
	}
	v.journal.Create(parentPath, d, fs.DentryLookup(d))
	ix.SetDirty(false)
	return d, nil
}

// ModifyDentry records a metadata, extent, or xattr change against an
// already-allocated dentry in the session journal, implementing
// journal_modify (§4.5). Callers invoke this after mutating d in place.
func (v *Volume) ModifyDentry(d *types.Dentry) error {
	const op = "volume.Volume.ModifyDentry"

	ix := v.Index()
	if ix == nil {
		return lerrors.New(op, lerrors.KindNoIndex, "no index loaded")
	}
	v.journal.Modify(d, fs.DentryLookup(d))
	ix.SetDirty(false)
	return nil
}

// RemoveDentry implements the volume-level half of release_dentry /
// dispose_dentry_contents for a single file or empty directory: it releases
// d's handle (disposing it and updating link/file count once the handle
// count reaches zero) and records the deletion in the session journal.
func (v *Volume) RemoveDentry(d *types.Dentry) error {
	const op = "volume.Volume.RemoveDentry"

	ix := v.Index()
	if ix == nil {
		return lerrors.New(op, lerrors.KindNoIndex, "no index loaded")
	}

	fullPath := fs.DentryLookup(d)
	name := d.PlatformSafeName
	isDir := d.Flags.IsDirectory

	fs.ReleaseDentry(d, v.tree.CaseInsensitive, ix)

	if isDir {
		v.journal.RemoveDirectory(d, fullPath, name)
	} else {
		v.journal.RemoveFile(d, fullPath, name)
	}
	ix.SetDirty(false)
	return nil
}
