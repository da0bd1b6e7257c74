package volume

import "github.com/deploymenttheory/go-ltfs/internal/tape"

// ReadOnlyState is the effective read-only classification the volume
// reports to write-path callers, derived from the union of per-partition
// write-perm latches, physical/force WP bits, and the MAM-sourced
// volume-lock status (§4.4.4).
type ReadOnlyState int

const (
	ReadWrite ReadOnlyState = iota
	WriteProtectState
	WriteErrorState
)

// EffectiveReadOnly derives the volume's current read-only state. Any
// write-perm lock status collapses to WriteErrorState; Locked/PermLocked
// collapse to WriteProtectState; a latched physical/force WP bit on
// either partition also forces WriteProtectState.
func (v *Volume) EffectiveReadOnly() ReadOnlyState {
	v.lock.RLock()
	defer v.lock.RUnlock()

	switch v.lockStatus {
	case tape.LockWritePerm, tape.LockWritePermDP, tape.LockWritePermIP, tape.LockWritePermBoth:
		return WriteErrorState
	case tape.LockLocked, tape.LockPermLocked:
		return WriteProtectState
	}

	wp := v.device.WriteProtect()
	if wp.Physical || wp.Logical || wp.ForceReadOnly {
		return WriteProtectState
	}
	if wp.WriteError {
		return WriteErrorState
	}
	return ReadWrite
}

// IsWritable is a convenience wrapper for write-path preconditions.
func (v *Volume) IsWritable() bool {
	return v.EffectiveReadOnly() == ReadWrite
}
