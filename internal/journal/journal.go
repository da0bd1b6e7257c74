// Package journal implements the incremental-index journal: a per-session
// record of dentry creates/modifies/deletes used to emit an incremental
// index between full index writes.
package journal

import (
	"sort"
	"strings"
	"sync"

	"github.com/deploymenttheory/go-ltfs/internal/types"
)

// Reason is the mutation kind a journal entry records.
type Reason int

const (
	ReasonCreate Reason = iota
	ReasonModify
	ReasonDeleteFile
	ReasonDeleteDirectory
)

// Key identifies one journal entry: the full path plus the dentry UID, so
// a delete-then-recreate at the same path within a session is not
// confused with the original entry.
type Key struct {
	FullPath string
	UID      types.UID
}

// Entry is one journal record.
type Entry struct {
	Key    Key
	Reason Reason
	Dentry *types.Dentry // nil for deletes, where the dentry is gone
	Name   string        // retained for deletes
}

// Journal captures per-path mutations within one mount session. Every
// method serializes on the journal's own mutex; it does not take or
// require the index's dirty_lock.
type Journal struct {
	mu          sync.Mutex // guards entries, createdDirs and err
	entries     map[Key]*Entry
	createdDirs []string // full paths of directories created this session, in creation order

	err bool
}

// New creates an empty journal for a new mount session.
func New() *Journal {
	return &Journal{entries: make(map[Key]*Entry)}
}

// Err reports whether a prior journal call latched the journal error
// (memory failure, path construction failure); while set, every journal
// call becomes a no-op.
func (j *Journal) Err() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// ClearErr clears the latch; the next full index write does this after
// successfully emitting an index (so the incremental journal can resume
// tracking mutations for the following session segment).
func (j *Journal) ClearErr() {
	j.mu.Lock()
	j.err = false
	j.mu.Unlock()
}

// MarkPathError latches the journal error after a path-construction
// failure upstream (e.g. a PathChain that could not be rendered); every
// subsequent journal call becomes a no-op until ClearErr.
func (j *Journal) MarkPathError() {
	j.mu.Lock()
	j.err = true
	j.mu.Unlock()
}

// ancestorCreated reports whether some entry in createdDirs is an ancestor
// of path (path itself does not count).
func (j *Journal) ancestorCreated(path string) bool {
	for _, dir := range j.createdDirs {
		if isAncestor(dir, path) {
			return true
		}
	}
	return false
}

func isAncestor(dir, path string) bool {
	if dir == path {
		return false
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	return strings.HasPrefix(path, prefix)
}

// Create implements journal_create: skip if an already-created ancestor
// directory subsumes this path; otherwise record a Create entry and, if d
// is a directory, push its path onto createdDirs.
func (j *Journal) Create(parentPath string, d *types.Dentry, fullPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err {
		return
	}
	if j.ancestorCreated(fullPath) {
		return
	}

	key := Key{FullPath: fullPath, UID: d.UID}
	j.entries[key] = &Entry{Key: key, Reason: ReasonCreate, Dentry: d}
	if d.Flags.IsDirectory {
		j.createdDirs = append(j.createdDirs, fullPath)
	}
}

// Modify implements journal_modify: skip if an entry already exists for
// this key (a Create entry already subsumes a Modify) or if an ancestor
// directory was created this session. The lookup key must be fully
// populated before use — an uninitialized-key fast path was a documented
// latent bug in the original implementation (§9 Open Questions) and is
// deliberately not reproduced here.
func (j *Journal) Modify(d *types.Dentry, fullPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err {
		return
	}
	if j.ancestorCreated(fullPath) {
		return
	}
	key := Key{FullPath: fullPath, UID: d.UID}
	if _, exists := j.entries[key]; exists {
		return
	}
	j.entries[key] = &Entry{Key: key, Reason: ReasonModify, Dentry: d}
}

// RemoveFile implements journal_rmfile: a Create entry for the same key is
// deleted outright (created-then-deleted in one session is a no-op); a
// Modify entry is upgraded to DeleteFile and its dentry pointer is
// dropped. If an ancestor directory was created this session, the call is
// a no-op (the ancestor's create entry already subsumes the delete).
func (j *Journal) RemoveFile(d *types.Dentry, fullPath, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err {
		return
	}
	if j.ancestorCreated(fullPath) {
		return
	}
	key := Key{FullPath: fullPath, UID: d.UID}
	if existing, ok := j.entries[key]; ok {
		switch existing.Reason {
		case ReasonCreate:
			delete(j.entries, key)
			return
		case ReasonModify:
			existing.Reason = ReasonDeleteFile
			existing.Dentry = nil
			existing.Name = name
			return
		}
	}
	j.entries[key] = &Entry{Key: key, Reason: ReasonDeleteFile, Name: name}
}

// RemoveDirectory implements journal_rmdir: if the directory was created
// this session, forget it (remove its createdDirs entry and every journal
// entry whose path is a descendant); otherwise drop all descendant entries
// and add a DeleteDirectory entry.
func (j *Journal) RemoveDirectory(d *types.Dentry, fullPath, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err {
		return
	}

	createdThisSession := false
	for i, dir := range j.createdDirs {
		if dir == fullPath {
			createdThisSession = true
			j.createdDirs = append(j.createdDirs[:i], j.createdDirs[i+1:]...)
			break
		}
	}

	for k := range j.entries {
		if isAncestor(fullPath, k.FullPath) || k.FullPath == fullPath {
			if k.FullPath != fullPath {
				delete(j.entries, k)
			}
		}
	}
	// Drop the directory's own prior entry (if any) before deciding
	// whether to re-add a DeleteDirectory record.
	key := Key{FullPath: fullPath, UID: d.UID}
	delete(j.entries, key)

	if createdThisSession {
		return
	}
	j.entries[key] = &Entry{Key: key, Reason: ReasonDeleteDirectory, Name: name}
}

// Clear empties the journal, done after a full index write.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.entries = make(map[Key]*Entry)
	j.createdDirs = nil
	j.mu.Unlock()
}

// Sorted returns every entry ordered lexicographically by full path,
// tie-broken by ascending UID — the order emission requires.
func (j *Journal) Sorted() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, kk int) bool {
		if out[i].Key.FullPath != out[kk].Key.FullPath {
			return out[i].Key.FullPath < out[kk].Key.FullPath
		}
		return out[i].Key.UID < out[kk].Key.UID
	})
	return out
}

// Len reports the number of outstanding journal entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// CreatedDirs returns a copy of the created-directories list, for tests.
func (j *Journal) CreatedDirs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.createdDirs))
	copy(out, j.createdDirs)
	return out
}
