package tape

import (
	"encoding/binary"

	"github.com/google/uuid"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
)

// MAM attribute identifiers from §6.
const (
	AttrVolumeChangeReference uint16 = 0x0009
	AttrCoherency             uint16 = 0x080C
	AttrVolumeLocked          uint16 = 0x1623
	AttrAppVendor             uint16 = 0x0800
	AttrAppName               uint16 = 0x0801
	AttrAppVersion            uint16 = 0x0802
	AttrMediumLabel           uint16 = 0x080B // last of the 0x0800..0x080B application range
)

// AttrFormat is the one-byte MAM attribute format tag.
type AttrFormat byte

const (
	AttrFormatBinary AttrFormat = 0
	AttrFormatASCII  AttrFormat = 1
	AttrFormatText   AttrFormat = 2
)

// EncodeAttributeHeader builds the 5-byte MAM attribute header: 2-byte
// big-endian id, 1-byte format, 2-byte big-endian length.
func EncodeAttributeHeader(id uint16, format AttrFormat, length uint16) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint16(buf[0:2], id)
	buf[2] = byte(format)
	binary.BigEndian.PutUint16(buf[3:5], length)
	return buf
}

// DecodeAttributeHeader parses the 5-byte MAM attribute header.
func DecodeAttributeHeader(buf []byte) (id uint16, format AttrFormat, length uint16, err error) {
	const op = "tape.DecodeAttributeHeader"
	if len(buf) < 5 {
		return 0, 0, 0, lerrors.New(op, lerrors.KindBadArg, "attribute header too short")
	}
	id = binary.BigEndian.Uint16(buf[0:2])
	format = AttrFormat(buf[2])
	length = binary.BigEndian.Uint16(buf[3:5])
	return id, format, length, nil
}

// coherencyAppMagic is the required 4-byte magic stamped into the
// application-client-specific portion of the coherency record.
var coherencyAppMagic = [4]byte{'L', 'T', 'F', 'S'}

// EncodeCoherency serializes a Coherency record into the 70-byte MAM
// attribute 0x080C payload: 1-byte VCR-size (8), 8-byte VCR, 8-byte count,
// 8-byte set id, 2-byte app-specific length (42 or 43), magic "LTFS",
// 37-byte UUID, 1-byte version.
func EncodeCoherency(c Coherency, vol uuid.UUID) []byte {
	buf := make([]byte, 70)
	buf[0] = 8
	binary.BigEndian.PutUint64(buf[1:9], c.VolumeChangeRef)
	binary.BigEndian.PutUint64(buf[9:17], c.Count)
	binary.BigEndian.PutUint64(buf[17:25], c.SetID)

	appLen := uint16(42 + len(vol.String())-36) // 42 baseline, +1 if a 37th byte is present
	binary.BigEndian.PutUint16(buf[25:27], appLen)
	copy(buf[27:31], coherencyAppMagic[:])

	uuidStr := vol.String()
	var uuidField [37]byte
	copy(uuidField[:], uuidStr)
	copy(buf[31:68], uuidField[:])

	buf[68] = c.Version
	// buf[69] reserved/padding to reach the documented 70-byte length.
	return buf
}

// DecodeCoherency parses a 70-byte MAM attribute 0x080C payload back into a
// Coherency record plus the embedded volume UUID.
func DecodeCoherency(buf []byte) (Coherency, uuid.UUID, error) {
	const op = "tape.DecodeCoherency"
	if len(buf) < 69 {
		return Coherency{}, uuid.Nil, lerrors.New(op, lerrors.KindMamCacheInvalid, "coherency record truncated")
	}
	var c Coherency
	if buf[0] != 8 {
		return Coherency{}, uuid.Nil, lerrors.New(op, lerrors.KindMamCacheInvalid, "unexpected VCR size field")
	}
	c.VolumeChangeRef = binary.BigEndian.Uint64(buf[1:9])
	c.Count = binary.BigEndian.Uint64(buf[9:17])
	c.SetID = binary.BigEndian.Uint64(buf[17:25])

	magic := buf[27:31]
	if string(magic) != "LTFS" {
		return Coherency{}, uuid.Nil, lerrors.New(op, lerrors.KindMamCacheInvalid, "missing LTFS magic")
	}

	uuidBytes := buf[31:68]
	end := len(uuidBytes)
	for end > 0 && uuidBytes[end-1] == 0 {
		end--
	}
	parsed, err := uuid.Parse(string(uuidBytes[:end]))
	if err != nil {
		return Coherency{}, uuid.Nil, lerrors.Wrap(op, lerrors.KindMamCacheInvalid, err)
	}
	c.Version = buf[68]
	return c, parsed, nil
}
