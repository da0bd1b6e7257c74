// Package volume implements the mount/unmount state machine, the index
// write pipeline, recovery, and the read-only policy that together make up
// the volume engine (§4.4).
package volume

import (
	"encoding/binary"
	"regexp"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/xmlcodec"
)

// PartitionMap maps each physical partition number (0/1) to its logical id
// character ('a'-'z'); IP and DP ids must differ. It is kept explicit
// rather than as two generic maps because every consumer needs exactly
// "which physical number and id backs IP" and "...backs DP" — the two
// facts the §3 data model actually describes.
type PartitionMap struct {
	DPNum, IPNum int
	DPID, IPID   rune
}

// NewPartitionMap validates and builds a PartitionMap from the
// (dpNum, dpID, ipNum, ipID) tuple the §6 format and format_tape use.
func NewPartitionMap(dpNum int, dpID rune, ipNum int, ipID rune) (PartitionMap, error) {
	const op = "volume.NewPartitionMap"
	if dpID == ipID {
		return PartitionMap{}, lerrors.New(op, lerrors.KindBadPartnum, "DP and IP logical ids must differ")
	}
	if dpNum != 0 && dpNum != 1 {
		return PartitionMap{}, lerrors.New(op, lerrors.KindBadPartnum, "dpNum must be 0 or 1")
	}
	if ipNum != 0 && ipNum != 1 {
		return PartitionMap{}, lerrors.New(op, lerrors.KindBadPartnum, "ipNum must be 0 or 1")
	}
	if dpNum == ipNum {
		return PartitionMap{}, lerrors.New(op, lerrors.KindBadPartnum, "DP and IP must occupy different physical partitions")
	}
	return PartitionMap{DPNum: dpNum, IPNum: ipNum, DPID: dpID, IPID: ipID}, nil
}

// PhysicalNum returns the physical partition number for a tape.Partition.
func (pm PartitionMap) PhysicalNum(part tape.Partition) int {
	if part == tape.PartitionIP {
		return pm.IPNum
	}
	return pm.DPNum
}

// LogicalID returns the logical id character for a tape.Partition.
func (pm PartitionMap) LogicalID(part tape.Partition) rune {
	if part == tape.PartitionIP {
		return pm.IPID
	}
	return pm.DPID
}

var barcodePattern = regexp.MustCompile(`^[0-9A-Z]{6}$|^ {6}$`)

// ValidateBarcode enforces the §6 barcode grammar: exactly six
// alphanumeric uppercase characters, or six spaces meaning "no barcode".
func ValidateBarcode(barcode string) error {
	const op = "volume.ValidateBarcode"
	if len(barcode) != 6 {
		return lerrors.New(op, lerrors.KindBarcodeLength, barcode)
	}
	if !barcodePattern.MatchString(barcode) {
		return lerrors.New(op, lerrors.KindBarcodeInvalid, barcode)
	}
	return nil
}

// Label is the volume label: the ANSI header plus the XML-carried fields.
type Label struct {
	VolumeUUID  uuid.UUID
	Creator     string
	FormatTime  time.Time
	BlockSize   uint32
	Compression bool
	Barcode     string
	Partitions  PartitionMap
}

// ansiLabelSize is the fixed 80-byte ANSI-tape-label header size (VOL1 +
// fields + CRC) from §6.
const ansiLabelSize = 80

// EncodeANSIHeader builds the 80-byte ANSI VOL1 label header.
func EncodeANSIHeader(l Label) []byte {
	buf := make([]byte, ansiLabelSize)
	copy(buf[0:4], []byte("VOL1"))
	copy(buf[4:10], []byte(l.Barcode))
	binary.BigEndian.PutUint32(buf[76:80], crc32Simple(buf[0:76]))
	return buf
}

// DecodeANSIHeader parses the 80-byte ANSI header and validates its CRC.
func DecodeANSIHeader(buf []byte) (vol1 string, barcode string, err error) {
	const op = "volume.DecodeANSIHeader"
	if len(buf) != ansiLabelSize {
		return "", "", lerrors.New(op, lerrors.KindLabelInvalid, "wrong ANSI header length")
	}
	if string(buf[0:4]) != "VOL1" {
		return "", "", lerrors.New(op, lerrors.KindLabelInvalid, "missing VOL1 marker")
	}
	want := crc32Simple(buf[0:76])
	got := binary.BigEndian.Uint32(buf[76:80])
	if want != got {
		return "", "", lerrors.New(op, lerrors.KindLabelInvalid, "ANSI header CRC mismatch")
	}
	return "VOL1", string(buf[4:10]), nil
}

// crc32Simple is a tiny, dependency-free CRC used only to detect
// corruption of the 80-byte ANSI header; it is not a wire-format
// requirement from any external standard, so no library is pulled in for
// it.
func crc32Simple(data []byte) uint32 {
	var crc uint32 = 0xFFFFFFFF
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xEDB88320
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}

// ToXMLDocument converts Label into the codec's LabelDocument shape.
func (l Label) ToXMLDocument() xmlcodec.LabelDocument {
	return xmlcodec.LabelDocument{
		VolumeUUID:  l.VolumeUUID.String(),
		Creator:     l.Creator,
		FormatTime:  l.FormatTime,
		BlockSize:   l.BlockSize,
		Compression: l.Compression,
		Barcode:     l.Barcode,
		Partitions: xmlcodec.PartitionsXML{
			Index: xmlPartition(l.Partitions, tape.PartitionIP),
			Data:  xmlPartition(l.Partitions, tape.PartitionDP),
		},
	}
}

func xmlPartition(pm PartitionMap, part tape.Partition) xmlcodec.PartitionXML {
	return xmlcodec.PartitionXML{ID: string(pm.LogicalID(part)), PhysicalNum: pm.PhysicalNum(part)}
}

// labelFromDocument parses a codec LabelDocument back into a Label,
// the inverse of ToXMLDocument.
func labelFromDocument(doc xmlcodec.LabelDocument) (Label, error) {
	const op = "volume.labelFromDocument"
	vol, err := uuid.Parse(doc.VolumeUUID)
	if err != nil {
		return Label{}, lerrors.Wrap(op, lerrors.KindLabelInvalid, err)
	}
	if err := ValidateBarcode(doc.Barcode); doc.Barcode != "" && err != nil {
		return Label{}, err
	}
	ipID := []rune(doc.Partitions.Index.ID)
	dpID := []rune(doc.Partitions.Data.ID)
	if len(ipID) != 1 || len(dpID) != 1 {
		return Label{}, lerrors.New(op, lerrors.KindLabelInvalid, "malformed partition id")
	}
	pm, err := NewPartitionMap(doc.Partitions.Data.PhysicalNum, dpID[0], doc.Partitions.Index.PhysicalNum, ipID[0])
	if err != nil {
		return Label{}, err
	}
	return Label{
		VolumeUUID:  vol,
		Creator:     doc.Creator,
		FormatTime:  doc.FormatTime,
		BlockSize:   doc.BlockSize,
		Compression: doc.Compression,
		Barcode:     doc.Barcode,
		Partitions:  pm,
	}, nil
}
