package tape

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
)

// FileBackend is the file-backed simulated tape backend used by tests and
// by the reference CLI's "simulate" device path. It represents each tape
// record as one file under its base directory, named
// "{partition}_{block}_{suffix}" per §6: R for a data block, F for a
// filemark, E for an EOD marker.
type FileBackend struct {
	baseDir string
	opts    Options

	mu        sync.Mutex
	pos       Position
	eodBlock  [2]uint64 // highest written block + 1, per partition
	capacity  [2]uint64 // max blocks, per partition
	compression bool
	attrs     map[attrKey][]byte
	wormUsed  [2]bool
	reserved  bool
}

type attrKey struct {
	part Partition
	id   uint16
}

// Options mirrors the simulated-backend configuration surface from the
// design notes: capacity, emulated read-only/early-warning behavior, and
// I/O delay modeling. It is populated from the config package's
// viper-loaded BackendOptions (ToTapeOptions) or by direct construction
// in tests.
type Options struct {
	CapacityBytes    [2]uint64
	EmulateReadOnly  bool
	DummyIO          bool
	DelayMode        DelayMode
	Wraps            int
	CartType         string
	DensityCode      int
	StrictDrive      bool
	DisableAutoDump  bool
	CRCChecking      bool
	WORM             bool
}

// DelayMode models change_direction_us / change_track_us / threading_sec /
// eot_to_bot_sec style timing emulation without actually sleeping in the
// fast path; None disables it entirely.
type DelayMode int

const (
	DelayNone DelayMode = iota
	DelayCalculate
	DelayEmulate
)

const defaultBlockSize = 512 * 1024

// NewFileBackend creates a simulated backend rooted at baseDir. The
// directory is created if absent; block/filemark/EOD record files are
// written directly under it.
func NewFileBackend(baseDir string, opts Options) (*FileBackend, error) {
	const op = "tape.NewFileBackend"
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	fb := &FileBackend{
		baseDir: baseDir,
		opts:    opts,
		attrs:   make(map[attrKey][]byte),
	}
	if opts.CapacityBytes[PartitionIP] == 0 {
		opts.CapacityBytes[PartitionIP] = 256 * 1024 * 1024
	}
	if opts.CapacityBytes[PartitionDP] == 0 {
		opts.CapacityBytes[PartitionDP] = 16 * 1024 * 1024 * 1024
	}
	fb.opts = opts
	fb.capacity[PartitionIP] = opts.CapacityBytes[PartitionIP] / defaultBlockSize
	fb.capacity[PartitionDP] = opts.CapacityBytes[PartitionDP] / defaultBlockSize
	fb.compression = true
	return fb, nil
}

func (fb *FileBackend) recordPath(part Partition, block uint64, suffix string) string {
	return filepath.Join(fb.baseDir, fmt.Sprintf("%d_%d_%s", int(part), block, suffix))
}

func (fb *FileBackend) Open(ctx context.Context, devname string) error  { return nil }
func (fb *FileBackend) Reopen(ctx context.Context) error                { return nil }
func (fb *FileBackend) Close(ctx context.Context) error                 { return nil }

func (fb *FileBackend) Inquiry(ctx context.Context) (string, string, error) {
	return "LTFSGO", "SIMTAPE", nil
}

func (fb *FileBackend) TestUnitReady(ctx context.Context) error { return nil }

func (fb *FileBackend) Read(ctx context.Context, n int) ([]byte, error) {
	const op = "tape.FileBackend.Read"
	fb.mu.Lock()
	defer fb.mu.Unlock()

	path := fb.recordPath(fb.pos.Partition, fb.pos.Block, "R")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, lerrors.New(op, lerrors.KindDevice, "no record at current position")
	}
	if err != nil {
		return nil, lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	fb.pos.Block++
	return data, nil
}

func (fb *FileBackend) Write(ctx context.Context, buf []byte, opts WriteOptions) error {
	const op = "tape.FileBackend.Write"
	fb.mu.Lock()
	defer fb.mu.Unlock()

	part := fb.pos.Partition
	if fb.opts.WORM && fb.wormUsed[part] && fb.pos.Block < fb.eodBlock[part] {
		return lerrors.New(op, lerrors.KindWriteProtect, "WORM forbids overwrite mid-tape")
	}
	path := fb.recordPath(part, fb.pos.Block, "R")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return lerrors.Wrap(op, lerrors.KindDevice, err)
	}
	fb.wormUsed[part] = true
	fb.pos.Block++
	if fb.pos.Block > fb.eodBlock[part] {
		fb.eodBlock[part] = fb.pos.Block
	}
	return nil
}

func (fb *FileBackend) WriteFileMark(ctx context.Context, count int, immediate bool) error {
	const op = "tape.FileBackend.WriteFileMark"
	fb.mu.Lock()
	defer fb.mu.Unlock()
	part := fb.pos.Partition
	for i := 0; i < count; i++ {
		path := fb.recordPath(part, fb.pos.Block, "F")
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return lerrors.Wrap(op, lerrors.KindDevice, err)
		}
		fb.pos.Block++
	}
	if fb.pos.Block > fb.eodBlock[part] {
		fb.eodBlock[part] = fb.pos.Block
	}
	return nil
}

func (fb *FileBackend) Rewind(ctx context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.pos = Position{}
	return nil
}

func (fb *FileBackend) Locate(ctx context.Context, pos Position) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.pos = pos
	return nil
}

func (fb *FileBackend) Space(ctx context.Context, count int) error {
	const op = "tape.FileBackend.Space"
	fb.mu.Lock()
	defer fb.mu.Unlock()

	part := fb.pos.Partition
	step := 1
	if count < 0 {
		step = -1
		count = -count
	}
	remaining := count
	block := fb.pos.Block
	for remaining > 0 {
		next := int64(block) + int64(step)
		if next < 0 {
			return lerrors.New(op, lerrors.KindBadLocate, "space before BOT")
		}
		block = uint64(next)
		if _, err := os.Stat(fb.recordPath(part, block, "F")); err == nil {
			remaining--
			if remaining == 0 {
				if step > 0 {
					block++
				}
			}
		}
		if block > fb.eodBlock[part]+1 {
			return lerrors.New(op, lerrors.KindBadLocate, "space past EOD")
		}
	}
	fb.pos.Block = block
	return nil
}

func (fb *FileBackend) Erase(ctx context.Context, longErase bool) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	part := fb.pos.Partition
	fb.eodBlock[part] = fb.pos.Block
	return nil
}

func (fb *FileBackend) Load(ctx context.Context) error   { return nil }
func (fb *FileBackend) Unload(ctx context.Context) error { return nil }

func (fb *FileBackend) ReadPosition(ctx context.Context) (Position, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.pos, nil
}

func (fb *FileBackend) SeekEOD(ctx context.Context, part Partition) (Position, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.pos = Position{Partition: part, Block: fb.eodBlock[part]}
	return fb.pos, nil
}

func (fb *FileBackend) SetCapacity(ctx context.Context, proportionPercent int) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if proportionPercent <= 0 || proportionPercent > 100 {
		return lerrors.New("tape.FileBackend.SetCapacity", lerrors.KindBadArg, "capacity proportion out of range")
	}
	for p := 0; p < 2; p++ {
		fb.capacity[p] = fb.opts.CapacityBytes[p] / defaultBlockSize * uint64(proportionPercent) / 100
	}
	return nil
}

func (fb *FileBackend) RemainingCapacity(ctx context.Context) (CapacityInfo, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var info CapacityInfo
	for p := 0; p < 2; p++ {
		info.MaxBlocks[p] = fb.capacity[p]
		info.UsedBlocks[p] = fb.eodBlock[p]
	}
	return info, nil
}

func (fb *FileBackend) GetEODStatus(ctx context.Context, part Partition) (EODStatus, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if _, err := os.Stat(fb.recordPath(part, fb.eodBlock[part], "E")); err == nil {
		return EODValid, nil
	}
	return EODMissing, nil
}

// WriteEODMarker is the simulated-backend counterpart of a real drive's
// internal EOD record; recovery explicitly (re)writes it after locating
// the correct block.
func (fb *FileBackend) WriteEODMarker(part Partition, block uint64) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	path := fb.recordPath(part, block, "E")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return lerrors.Wrap("tape.FileBackend.WriteEODMarker", lerrors.KindDevice, err)
	}
	fb.eodBlock[part] = block
	return nil
}

// RemoveEODMarker deletes the EOD marker file, simulating the
// missing-EOD-after-power-loss scenario (S4).
func (fb *FileBackend) RemoveEODMarker(part Partition) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return os.Remove(fb.recordPath(part, fb.eodBlock[part], "E"))
}

func (fb *FileBackend) LogSense(ctx context.Context, page int) ([]byte, error)  { return nil, nil }
func (fb *FileBackend) ModeSense(ctx context.Context, page int) ([]byte, error) { return nil, nil }
func (fb *FileBackend) ModeSelect(ctx context.Context, page int, data []byte) error {
	return nil
}

func (fb *FileBackend) ReserveUnit(ctx context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.reserved {
		return lerrors.New("tape.FileBackend.ReserveUnit", lerrors.KindDeviceFenced, "unit already reserved")
	}
	fb.reserved = true
	return nil
}

func (fb *FileBackend) ReleaseUnit(ctx context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.reserved = false
	return nil
}

func (fb *FileBackend) PreventMediumRemoval(ctx context.Context) error { return nil }
func (fb *FileBackend) AllowMediumRemoval(ctx context.Context) error   { return nil }

func (fb *FileBackend) ReadAttribute(ctx context.Context, part Partition, id uint16) ([]byte, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	v, ok := fb.attrs[attrKey{part, id}]
	if !ok {
		return nil, lerrors.New("tape.FileBackend.ReadAttribute", lerrors.KindMamCacheInvalid, "attribute not set")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (fb *FileBackend) WriteAttribute(ctx context.Context, part Partition, id uint16, data []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	fb.attrs[attrKey{part, id}] = cp
	return nil
}

func (fb *FileBackend) AllowOverwrite(ctx context.Context, pos Position) error { return nil }

func (fb *FileBackend) SetCompression(ctx context.Context, enabled bool) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.compression = enabled
	return nil
}

func (fb *FileBackend) SetDefault(ctx context.Context) error { return nil }

func (fb *FileBackend) GetCartridgeHealth(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"write_errors": 0, "read_errors": 0}, nil
}

func (fb *FileBackend) GetTapeAlert(ctx context.Context) (TapeAlert, error) {
	return TapeAlert{Flags: map[string]bool{}}, nil
}

func (fb *FileBackend) ClearTapeAlert(ctx context.Context, flags TapeAlert) error { return nil }

func (fb *FileBackend) GetXAttr(ctx context.Context, name string) ([]byte, error) { return nil, nil }
func (fb *FileBackend) SetXAttr(ctx context.Context, name string, value []byte) error {
	return nil
}

func (fb *FileBackend) GetParameters(ctx context.Context) (BackendParameters, error) {
	return BackendParameters{MinBlockSize: 4096, MaxBlockSize: 1 << 20, WORM: fb.opts.WORM}, nil
}

func (fb *FileBackend) GetDeviceList(ctx context.Context) ([]string, error) {
	return []string{fb.baseDir}, nil
}

func (fb *FileBackend) ParseOpts(ctx context.Context, opts map[string]string) error { return nil }
func (fb *FileBackend) DefaultDeviceName(ctx context.Context) string               { return fb.baseDir }

func (fb *FileBackend) SetKey(ctx context.Context, keyAlias string, key []byte) error { return nil }
func (fb *FileBackend) GetKeyAlias(ctx context.Context) (string, error)               { return "", nil }

func (fb *FileBackend) TakeDumpDrive(ctx context.Context) error       { return nil }
func (fb *FileBackend) IsMountable(ctx context.Context) (bool, error) { return true, nil }
func (fb *FileBackend) GetWORMStatus(ctx context.Context) (bool, error) {
	return fb.opts.WORM, nil
}
func (fb *FileBackend) GetSerialNumber(ctx context.Context) (string, error) { return "SIM0001", nil }
func (fb *FileBackend) GetInfo(ctx context.Context) (DeviceInfo, error) {
	return DeviceInfo{VendorID: "LTFSGO", ProductID: "SIMTAPE", ProductRevision: "1.0"}, nil
}
func (fb *FileBackend) SetProfiler(ctx context.Context, path string, enable bool) error { return nil }
func (fb *FileBackend) GetBlockInBuffer(ctx context.Context) (int, error)              { return 0, nil }
func (fb *FileBackend) IsReadOnly(ctx context.Context) (bool, error) {
	return fb.opts.EmulateReadOnly, nil
}

var _ Backend = (*FileBackend)(nil)
