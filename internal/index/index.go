// Package index models the in-memory root of a volume's metadata: the
// Index structure, generation/coherency bookkeeping, dirty tracking and
// file/block counters.
package index

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/types"
)

// CurrentSchemaVersion is the schema version set_index_dirty upgrades an
// index to on a clean-to-dirty transition.
const CurrentSchemaVersion = 2

// PlacementCriteria is an opaque data-placement policy blob; its grammar is
// an external collaborator (the rules-file parser), so the index only
// stores and compares it.
type PlacementCriteria struct {
	Rules string
}

// DirtyListener is notified of dirty-flag transitions and of successful
// writes, matching the "notify the dentry-cache plugin" step in
// set_index_dirty and write_index.
type DirtyListener interface {
	OnIndexDirty(atimeOnly bool)
	OnIndexWritten()
}

// Index is the in-memory root of a volume's metadata.
type Index struct {
	VolumeUUID uuid.UUID

	Root *types.Dentry

	ModTime time.Time

	Self tape.IndexPointer
	Back tape.IndexPointer

	CommitMessage string
	Creator       string
	VolumeName    string
	VolumeLocked  bool

	SchemaVersion int

	OriginalCriteria  PlacementCriteria
	EffectiveCriteria PlacementCriteria
	CriteriaAllowUpdate bool

	UseAtime bool

	// dirtyLock guards Generation, FileCount, ValidBlocks, Dirty and
	// AtimeDirty; it is never held across tape I/O.
	dirtyLock sync.Mutex
	generation uint64
	fileCount  int64
	validBlocks uint64
	dirty      bool
	atimeDirty bool

	// refcount keeps the old index alive via Retain/Release while a
	// mount attempts to load its replacement (§4.4.1); the dedicated
	// swap mutex guarding which *Index is "current" lives on Volume,
	// not here, since that is what the design note's swap cell guards.
	refcount int32

	uidCounter int64

	listener DirtyListener
}

// New creates an index for a freshly formatted volume: generation 0,
// file count 0, an empty root directory, refcount 1.
func New(volumeUUID uuid.UUID, creator string) *Index {
	root := types.NewDentry(types.UIDRoot, "", "", true)
	return &Index{
		VolumeUUID:    volumeUUID,
		Root:          root,
		Creator:       creator,
		SchemaVersion: CurrentSchemaVersion,
		uidCounter:    int64(types.UIDRoot),
		refcount:      1,
	}
}

// SetListener installs the dentry-cache notification target; nil is valid
// and simply suppresses notification (used by tests and by the recursive
// DP-first write in write_index, which suppresses on-disk caching).
func (ix *Index) SetListener(l DirtyListener) { ix.listener = l }

// NextUID draws the next UID atomically, implementing the fs.UIDSource
// contract. UID 0 is returned (as types.UIDReserved) once the counter is
// exhausted so allocation can propagate the failure per Invariant 3.
func (ix *Index) NextUID() (types.UID, error) {
	v := atomic.AddInt64(&ix.uidCounter, 1)
	if v <= 0 || v > int64(^types.UID(0)>>1) {
		return types.UIDReserved, lerrors.New("index.Index.NextUID", lerrors.KindNoMemory, "uid counter exhausted")
	}
	return types.UID(v), nil
}

// UIDCounterExhausted reports whether the counter has wrapped out of the
// positive UID range (NextUID's exhaustion condition), the condition
// mount step 9 warns about.
func (ix *Index) UIDCounterExhausted() bool {
	return atomic.LoadInt64(&ix.uidCounter) <= 0
}

// SetDirty implements set_index_dirty: atomically sets Dirty (or
// AtimeDirty when atimeOnly && UseAtime) and upgrades SchemaVersion to
// CurrentSchemaVersion. On a clean->dirty transition it notifies the
// listener.
func (ix *Index) SetDirty(atimeOnly bool) {
	ix.dirtyLock.Lock()
	wasClean := !ix.dirty && !ix.atimeDirty
	if atimeOnly && ix.UseAtime {
		ix.atimeDirty = true
	} else {
		ix.dirty = true
	}
	if ix.SchemaVersion < CurrentSchemaVersion {
		ix.SchemaVersion = CurrentSchemaVersion
	}
	ix.dirtyLock.Unlock()

	if wasClean && ix.listener != nil {
		ix.listener.OnIndexDirty(atimeOnly)
	}
}

// UnsetDirty implements unset_index_dirty, used after a successful index
// write. updateVersion is accepted for parity with the design's signature
// but SchemaVersion is only ever raised, never lowered, by a write.
func (ix *Index) UnsetDirty(updateVersion bool) {
	ix.dirtyLock.Lock()
	ix.dirty = false
	ix.atimeDirty = false
	ix.dirtyLock.Unlock()
}

// IsDirty reports the combined dirty/atime-dirty state.
func (ix *Index) IsDirty() bool {
	ix.dirtyLock.Lock()
	defer ix.dirtyLock.Unlock()
	return ix.dirty || ix.atimeDirty
}

// Generation returns the current generation counter.
func (ix *Index) Generation() uint64 {
	ix.dirtyLock.Lock()
	defer ix.dirtyLock.Unlock()
	return ix.generation
}

// FileCount / ValidBlocks return the maintained counters.
func (ix *Index) FileCount() int64 {
	ix.dirtyLock.Lock()
	defer ix.dirtyLock.Unlock()
	return ix.fileCount
}

func (ix *Index) ValidBlocks() uint64 {
	ix.dirtyLock.Lock()
	defer ix.dirtyLock.Unlock()
	return ix.validBlocks
}

// AdjustFileCount increments/decrements the file count on non-directory
// create/delete; delta is +1 or -1.
func (ix *Index) AdjustFileCount(delta int64) {
	ix.dirtyLock.Lock()
	ix.fileCount += delta
	ix.dirtyLock.Unlock()
}

// AdjustValidBlocks applies a signed delta on every extent add/remove.
func (ix *Index) AdjustValidBlocks(delta int64) {
	ix.dirtyLock.Lock()
	if delta < 0 && uint64(-delta) > ix.validBlocks {
		ix.validBlocks = 0
	} else {
		ix.validBlocks = uint64(int64(ix.validBlocks) + delta)
	}
	ix.dirtyLock.Unlock()
}

// GenerationSnapshot captures generation + mod time + self/back pointers
// so a failed write_index can roll them back (§4.4.2 steps 2 and the undo
// block for 3-9).
type GenerationSnapshot struct {
	Generation uint64
	ModTime    time.Time
	Self       tape.IndexPointer
	Back       tape.IndexPointer
}

// Snapshot captures the fields write_index must be able to restore on
// failure.
func (ix *Index) Snapshot() GenerationSnapshot {
	ix.dirtyLock.Lock()
	defer ix.dirtyLock.Unlock()
	return GenerationSnapshot{
		Generation: ix.generation,
		ModTime:    ix.ModTime,
		Self:       ix.Self,
		Back:       ix.Back,
	}
}

// Restore undoes a failed write by putting generation/mod-time/pointers
// back to a prior snapshot.
func (ix *Index) Restore(s GenerationSnapshot) {
	ix.dirtyLock.Lock()
	ix.generation = s.Generation
	ix.ModTime = s.ModTime
	ix.dirtyLock.Unlock()
	ix.Self = s.Self
	ix.Back = s.Back
}

// BeginWrite bumps mod_time to now and the generation by one, as step 2 of
// write_index; it must only be called while the index is dirty. It returns
// the snapshot the caller must restore on failure.
func (ix *Index) BeginWrite(now time.Time) GenerationSnapshot {
	snap := ix.Snapshot()
	ix.dirtyLock.Lock()
	ix.ModTime = now
	ix.generation++
	ix.dirtyLock.Unlock()
	return snap
}

// CommitWrite finalizes a successful write: clears dirty/atime-dirty and
// notifies the listener.
func (ix *Index) CommitWrite() {
	ix.UnsetDirty(true)
	if ix.listener != nil {
		ix.listener.OnIndexWritten()
	}
}

// Retain/Release implement the mount-time refcounted swap: the old index
// is kept alive via Retain while a replacement is attempted, and is freed
// (by the caller, once Release reports zero) only when the new one is
// durably in place.
func (ix *Index) Retain() {
	atomic.AddInt32(&ix.refcount, 1)
}

// Release decrements the refcount and reports whether it reached zero,
// meaning the caller may now discard ix.
func (ix *Index) Release() bool {
	return atomic.AddInt32(&ix.refcount, -1) == 0
}
