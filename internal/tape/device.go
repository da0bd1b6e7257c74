// Package tape models the pluggable tape-drive backend: position and space
// accounting, the read-only/write-protect state machine, MAM attribute
// access, reservation/fencing, and revalidation support. The SCSI command
// encoding itself is an external collaborator (§6); this package only
// specifies and exercises the operation table a real backend must expose.
package tape

import (
	"context"
	"sync"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
)

// Partition identifies one of the two physical tape partitions.
type Partition int

const (
	PartitionIP Partition = iota // index partition
	PartitionDP                  // data partition
)

func (p Partition) String() string {
	if p == PartitionIP {
		return "IP"
	}
	return "DP"
}

// BlockMax is the sentinel block value meaning "position at EOD", per the
// seek() position semantics.
const BlockMax uint64 = ^uint64(0)

// Position is a tape head location: partition and block.
type Position struct {
	Partition Partition
	Block     uint64
}

// SelfPointer / BackPointer share the Position shape; the index package
// imports this type to describe where an index record is or was written.
type IndexPointer = Position

// WriteProtectBits records the independent latches that compose the
// write-protected bitmask: physical WP, logical WP, force-read-only, and a
// sticky write-error latch.
type WriteProtectBits struct {
	Physical      bool
	Logical       bool
	ForceReadOnly bool
	WriteError    bool
}

// Any reports whether any write-protect bit is set.
func (w WriteProtectBits) Any() bool {
	return w.Physical || w.Logical || w.ForceReadOnly || w.WriteError
}

// PartitionSpaceState is the per-partition space/write latch state.
type PartitionSpaceState int

const (
	SpaceWritable PartitionSpaceState = iota
	SpaceLessSpace                    // PEW latched
	SpaceNoSpace                      // EW latched
)

// WriteOptions modifies how Backend.Write enforces the space/write-protect
// model; the volume sets IgnoreLess/IgnoreNoSpace when writing an index so
// an index write can proceed into the early-warning zone.
type WriteOptions struct {
	IgnoreLess   bool
	IgnoreNoSpace bool
}

// Coherency is the per-partition CM/MAM coherency record (attribute
// 0x080C) used to select the newest index generation at mount time.
type Coherency struct {
	VolumeChangeRef uint64
	Count           uint64
	SetID           uint64
	AppSpecific     [43]byte // magic "LTFS" + uuid + version, see §6
	VolumeUUID      [37]byte // textual UUID, NUL-padded
	Version         uint8
}

// VolumeLockStatus is the MAM-sourced volume-lock attribute (0x1623).
type VolumeLockStatus int

const (
	LockUnlocked VolumeLockStatus = iota
	LockLocked
	LockPermLocked
	LockWritePerm
	LockWritePermDP
	LockWritePermIP
	LockWritePermBoth
)

// CapacityInfo reports per-partition capacity in the device's native
// blocks, used to compute space state and to verify the medium is
// partitioned during mount step 1.
type CapacityInfo struct {
	MaxBlocks   [2]uint64 // indexed by Partition
	UsedBlocks  [2]uint64
	PartitionPct float64
}

// TapeAlert captures latched drive health flags surfaced through
// get_tape_alert; the volume caches these for reporting and clears them via
// clear_tape_alert.
type TapeAlert struct {
	Flags map[string]bool
}

// Backend is the operation table a pluggable tape driver must implement,
// per §6. Positioning, read/write, reservation, MAM access and device
// introspection are all modeled as blocking calls: any of them may stall
// indefinitely on mechanical motion, so every method takes a context the
// caller may cancel (e.g. on process interruption).
type Backend interface {
	Open(ctx context.Context, devname string) error
	Reopen(ctx context.Context) error
	Close(ctx context.Context) error

	Inquiry(ctx context.Context) (vendor, product string, err error)
	TestUnitReady(ctx context.Context) error

	Read(ctx context.Context, n int) ([]byte, error)
	Write(ctx context.Context, buf []byte, opts WriteOptions) error
	WriteFileMark(ctx context.Context, count int, immediate bool) error

	Rewind(ctx context.Context) error
	Locate(ctx context.Context, pos Position) error
	Space(ctx context.Context, count int) error // filemarks, signed

	Erase(ctx context.Context, longErase bool) error
	Load(ctx context.Context) error
	Unload(ctx context.Context) error

	ReadPosition(ctx context.Context) (Position, error)
	SeekEOD(ctx context.Context, part Partition) (Position, error)

	SetCapacity(ctx context.Context, proportionPercent int) error
	RemainingCapacity(ctx context.Context) (CapacityInfo, error)
	GetEODStatus(ctx context.Context, part Partition) (EODStatus, error)

	LogSense(ctx context.Context, page int) ([]byte, error)
	ModeSense(ctx context.Context, page int) ([]byte, error)
	ModeSelect(ctx context.Context, page int, data []byte) error

	ReserveUnit(ctx context.Context) error
	ReleaseUnit(ctx context.Context) error
	PreventMediumRemoval(ctx context.Context) error
	AllowMediumRemoval(ctx context.Context) error

	ReadAttribute(ctx context.Context, part Partition, id uint16) ([]byte, error)
	WriteAttribute(ctx context.Context, part Partition, id uint16, data []byte) error

	AllowOverwrite(ctx context.Context, pos Position) error
	SetCompression(ctx context.Context, enabled bool) error
	SetDefault(ctx context.Context) error

	GetCartridgeHealth(ctx context.Context) (map[string]int64, error)
	GetTapeAlert(ctx context.Context) (TapeAlert, error)
	ClearTapeAlert(ctx context.Context, flags TapeAlert) error

	GetXAttr(ctx context.Context, name string) ([]byte, error)
	SetXAttr(ctx context.Context, name string, value []byte) error

	GetParameters(ctx context.Context) (BackendParameters, error)
	GetDeviceList(ctx context.Context) ([]string, error)
	ParseOpts(ctx context.Context, opts map[string]string) error
	DefaultDeviceName(ctx context.Context) string

	SetKey(ctx context.Context, keyAlias string, key []byte) error
	GetKeyAlias(ctx context.Context) (string, error)

	TakeDumpDrive(ctx context.Context) error
	IsMountable(ctx context.Context) (bool, error)
	GetWORMStatus(ctx context.Context) (bool, error)
	GetSerialNumber(ctx context.Context) (string, error)
	GetInfo(ctx context.Context) (DeviceInfo, error)
	SetProfiler(ctx context.Context, path string, enable bool) error
	GetBlockInBuffer(ctx context.Context) (int, error)
	IsReadOnly(ctx context.Context) (bool, error)
}

// EODStatus describes whether a partition's end-of-data marker was found.
type EODStatus int

const (
	EODValid EODStatus = iota
	EODMissing
	EODUnknown
)

// BackendParameters and DeviceInfo are opaque introspection bundles a
// backend fills in; the volume engine only reads a handful of fields
// (block size bounds, WORM, write-protect) from them.
type BackendParameters struct {
	MinBlockSize uint32
	MaxBlockSize uint32
	WORM         bool
}

type DeviceInfo struct {
	VendorID     string
	ProductID    string
	ProductRevision string
}

// Device wraps a Backend with the position cache, append-position tracking,
// write-protect/space state, reservation fencing and revalidation fencing
// the volume engine depends on. It mirrors the lock hierarchy from the
// design: backendMutex serializes backend calls; appendPosMutex and
// readOnlyMutex are leaf locks taken only around their own fields.
type Device struct {
	backend Backend

	backendMutex sync.Mutex

	appendPosMutex sync.Mutex
	appendPos      [2]uint64 // indexed by Partition

	readOnlyMutex sync.Mutex
	spaceState    [2]PartitionSpaceState
	wpBits        WriteProtectBits

	fenceMutex sync.Mutex
	fenced     bool

	position Position
}

// NewDevice wraps backend with the position/space/fencing bookkeeping.
func NewDevice(backend Backend) *Device {
	return &Device{backend: backend}
}

// Fence makes every subsequent acquisition fail with DeviceFenced until
// Unfence is called, giving a revalidation pass exclusive use of the
// device.
func (d *Device) Fence() {
	d.fenceMutex.Lock()
	d.fenced = true
	d.fenceMutex.Unlock()
}

func (d *Device) Unfence() {
	d.fenceMutex.Lock()
	d.fenced = false
	d.fenceMutex.Unlock()
}

func (d *Device) checkFence(op string) error {
	d.fenceMutex.Lock()
	fenced := d.fenced
	d.fenceMutex.Unlock()
	if fenced {
		return lerrors.New(op, lerrors.KindDeviceFenced, "device fenced pending revalidation")
	}
	return nil
}

// lock acquires backendMutex after checking the fence; it is the single
// entry point every Device method funnels through.
func (d *Device) lock(op string) error {
	if err := d.checkFence(op); err != nil {
		return err
	}
	d.backendMutex.Lock()
	return nil
}

func (d *Device) unlock() { d.backendMutex.Unlock() }

// Position returns the cached device position without talking to the
// backend.
func (d *Device) Position() Position { return d.position }

// AppendPosition returns the cached next-append block for a partition.
func (d *Device) AppendPosition(part Partition) uint64 {
	d.appendPosMutex.Lock()
	defer d.appendPosMutex.Unlock()
	return d.appendPos[part]
}

// SetAppendPosition overwrites the cached append position; used by the
// volume's write-index pipeline (step 11) and by mount step 8, which backs
// the IP append position up one block so the next IP write overwrites the
// current index.
func (d *Device) SetAppendPosition(part Partition, block uint64) {
	d.appendPosMutex.Lock()
	d.appendPos[part] = block
	d.appendPosMutex.Unlock()
}

// SpaceState returns the cached write/space latch for a partition.
func (d *Device) SpaceState(part Partition) PartitionSpaceState {
	d.readOnlyMutex.Lock()
	defer d.readOnlyMutex.Unlock()
	return d.spaceState[part]
}

func (d *Device) setSpaceState(part Partition, s PartitionSpaceState) {
	d.readOnlyMutex.Lock()
	d.spaceState[part] = s
	d.readOnlyMutex.Unlock()
}

// WriteProtect returns a copy of the cached write-protect bitmask.
func (d *Device) WriteProtect() WriteProtectBits {
	d.readOnlyMutex.Lock()
	defer d.readOnlyMutex.Unlock()
	return d.wpBits
}

// SetForceReadOnly latches the sticky force-read-only bit, used after
// rollback mounts and mixed-key detection; it is never cleared except by
// unmount.
func (d *Device) SetForceReadOnly() {
	d.readOnlyMutex.Lock()
	d.wpBits.ForceReadOnly = true
	d.readOnlyMutex.Unlock()
}

func (d *Device) setWriteError(v bool) {
	d.readOnlyMutex.Lock()
	d.wpBits.WriteError = v
	d.readOnlyMutex.Unlock()
}

// Seek positions the device at pos. If pos.Block is BlockMax the device
// lands at EOD of pos.Partition and the cached append position for that
// partition is updated.
func (d *Device) Seek(ctx context.Context, pos Position) error {
	const op = "tape.Seek"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()

	if pos.Block == BlockMax {
		reached, err := d.backend.SeekEOD(ctx, pos.Partition)
		if err != nil {
			return lerrors.Wrap(op, lerrors.KindBadLocate, err)
		}
		d.position = reached
		d.appendPosMutex.Lock()
		d.appendPos[pos.Partition] = reached.Block
		d.appendPosMutex.Unlock()
		return nil
	}
	if err := d.backend.Locate(ctx, pos); err != nil {
		return lerrors.Wrap(op, lerrors.KindBadLocate, err)
	}
	d.position = pos
	return nil
}

// SeekEOD positions at EOD of part and records the reached block as the
// partition's append position.
func (d *Device) SeekEOD(ctx context.Context, part Partition) (Position, error) {
	const op = "tape.SeekEOD"
	if err := d.lock(op); err != nil {
		return Position{}, err
	}
	defer d.unlock()

	pos, err := d.backend.SeekEOD(ctx, part)
	if err != nil {
		return Position{}, lerrors.Wrap(op, lerrors.KindBadLocate, err)
	}
	d.position = pos
	d.appendPosMutex.Lock()
	d.appendPos[part] = pos.Block
	d.appendPosMutex.Unlock()
	return pos, nil
}

// SpaceFileMarks moves n filemarks forward (n>0) or backward (n<0). A
// forward space lands immediately after the n-th filemark; a backward
// space lands immediately before it.
func (d *Device) SpaceFileMarks(ctx context.Context, n int) error {
	const op = "tape.SpaceFileMarks"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()
	if err := d.backend.Space(ctx, n); err != nil {
		return lerrors.Wrap(op, lerrors.KindBadLocate, err)
	}
	pos, err := d.backend.ReadPosition(ctx)
	if err == nil {
		d.position = pos
	}
	return nil
}

// Write advances the cached block position by one record and enforces the
// space/write-protect model. A caller that needs to bypass the
// less-space/no-space checks for an index write sets opts accordingly.
func (d *Device) Write(ctx context.Context, part Partition, buf []byte, opts WriteOptions) error {
	const op = "tape.Write"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()

	wp := d.WriteProtect()
	if wp.Physical || wp.Logical || wp.ForceReadOnly {
		return lerrors.New(op, lerrors.KindWriteProtect, "partition is write protected")
	}
	if wp.WriteError {
		return lerrors.New(op, lerrors.KindWriteError, "write-error latch set")
	}

	switch d.SpaceState(part) {
	case SpaceNoSpace:
		if !opts.IgnoreNoSpace {
			return lerrors.New(op, lerrors.KindNoSpace, "partition out of space")
		}
	case SpaceLessSpace:
		if !opts.IgnoreLess {
			return lerrors.New(op, lerrors.KindLessSpace, "partition near end of tape")
		}
	}

	if err := d.backend.Write(ctx, buf, opts); err != nil {
		if lerrors.NeedsRevalidation(err) {
			d.setWriteError(true)
		}
		return lerrors.Wrap(op, lerrors.KindWriteError, err)
	}

	d.position.Partition = part
	d.position.Block++
	d.appendPosMutex.Lock()
	d.appendPos[part] = d.position.Block
	d.appendPosMutex.Unlock()
	return nil
}

// WriteFileMark writes count filemarks (immediate controls whether the
// drive may defer the physical write, used at format time per §4.4.2).
func (d *Device) WriteFileMark(ctx context.Context, part Partition, count int, immediate bool) error {
	const op = "tape.WriteFileMark"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()
	if err := d.backend.WriteFileMark(ctx, count, immediate); err != nil {
		return lerrors.Wrap(op, lerrors.KindWriteError, err)
	}
	d.position.Partition = part
	d.position.Block += uint64(count)
	return nil
}

// Read reads the next block's worth of data (n is the backend's block
// size).
func (d *Device) Read(ctx context.Context, n int) ([]byte, error) {
	const op = "tape.Read"
	if err := d.lock(op); err != nil {
		return nil, err
	}
	defer d.unlock()
	buf, err := d.backend.Read(ctx, n)
	if err != nil {
		return nil, lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	d.position.Block++
	return buf, nil
}

// RefreshSpaceState queries the backend for remaining capacity and latches
// LessSpace/NoSpace per partition, and surfaces early_warning/PEW as the
// respective space states. Write does not call it; callers that want the
// space state refreshed call it explicitly.
func (d *Device) RefreshSpaceState(ctx context.Context) error {
	const op = "tape.RefreshSpaceState"
	if err := d.lock(op); err != nil {
		return err
	}
	cap, err := d.backend.RemainingCapacity(ctx)
	d.unlock()
	if err != nil {
		return lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	for _, part := range []Partition{PartitionIP, PartitionDP} {
		used := cap.UsedBlocks[part]
		max := cap.MaxBlocks[part]
		if max == 0 {
			continue
		}
		ratio := float64(used) / float64(max)
		switch {
		case ratio >= 1.0:
			d.setSpaceState(part, SpaceNoSpace)
		case ratio >= 0.98:
			d.setSpaceState(part, SpaceLessSpace)
		default:
			d.setSpaceState(part, SpaceWritable)
		}
	}
	return nil
}

// ReserveUnit / ReleaseUnit / PreventMediumRemoval / AllowMediumRemoval
// forward to the backend under the fence check; they are issued at
// open/close and load/unload respectively.
func (d *Device) ReserveUnit(ctx context.Context) error {
	const op = "tape.ReserveUnit"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()
	return d.backend.ReserveUnit(ctx)
}

func (d *Device) ReleaseUnit(ctx context.Context) error {
	const op = "tape.ReleaseUnit"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()
	return d.backend.ReleaseUnit(ctx)
}

func (d *Device) PreventMediumRemoval(ctx context.Context) error {
	const op = "tape.PreventMediumRemoval"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()
	return d.backend.PreventMediumRemoval(ctx)
}

func (d *Device) AllowMediumRemoval(ctx context.Context) error {
	const op = "tape.AllowMediumRemoval"
	if err := d.lock(op); err != nil {
		return err
	}
	defer d.unlock()
	return d.backend.AllowMediumRemoval(ctx)
}

// Backend exposes the wrapped backend for operations (MAM access, capacity,
// load/unload) that the volume package drives directly.
func (d *Device) Backend() Backend { return d.backend }
