package volume

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/xmlcodec"
)

func TestNewPartitionMapRejectsSameLogicalID(t *testing.T) {
	_, err := NewPartitionMap(1, 'a', 0, 'a')
	assert.Error(t, err)
}

func TestNewPartitionMapRejectsOutOfRangeNum(t *testing.T) {
	_, err := NewPartitionMap(2, 'b', 0, 'a')
	assert.Error(t, err)
}

func TestNewPartitionMapRejectsSamePhysicalNum(t *testing.T) {
	_, err := NewPartitionMap(0, 'b', 0, 'a')
	assert.Error(t, err)
}

func TestNewPartitionMapAccepts(t *testing.T) {
	pm, err := NewPartitionMap(1, 'b', 0, 'a')
	require.NoError(t, err)
	assert.Equal(t, 0, pm.PhysicalNum(tape.PartitionIP))
	assert.Equal(t, 'a', pm.LogicalID(tape.PartitionIP))
	assert.Equal(t, 1, pm.PhysicalNum(tape.PartitionDP))
	assert.Equal(t, 'b', pm.LogicalID(tape.PartitionDP))
}

func TestValidateBarcodeAccepts(t *testing.T) {
	assert.NoError(t, ValidateBarcode("ABC123"))
	assert.NoError(t, ValidateBarcode("      "))
}

func TestValidateBarcodeRejectsWrongLength(t *testing.T) {
	assert.Error(t, ValidateBarcode("ABC12"))
}

func TestValidateBarcodeRejectsInvalidChars(t *testing.T) {
	assert.Error(t, ValidateBarcode("abc-12"))
}

func TestEncodeDecodeANSIHeaderRoundTrip(t *testing.T) {
	l := Label{Barcode: "ABC123"}
	buf := EncodeANSIHeader(l)
	require.Len(t, buf, ansiLabelSize)

	vol1, barcode, err := DecodeANSIHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, "VOL1", vol1)
	assert.Equal(t, "ABC123", barcode)
}

func TestDecodeANSIHeaderRejectsWrongLength(t *testing.T) {
	_, _, err := DecodeANSIHeader(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodeANSIHeaderRejectsCorruptedCRC(t *testing.T) {
	l := Label{Barcode: "ABC123"}
	buf := EncodeANSIHeader(l)
	buf[5] = 'X'

	_, _, err := DecodeANSIHeader(buf)
	assert.Error(t, err)
}

func TestDecodeANSIHeaderRejectsMissingMarker(t *testing.T) {
	l := Label{Barcode: "ABC123"}
	buf := EncodeANSIHeader(l)
	buf[0] = 'Z'

	_, _, err := DecodeANSIHeader(buf)
	assert.Error(t, err)
}

func TestLabelToXMLDocumentAndBackRoundTrip(t *testing.T) {
	pm, err := NewPartitionMap(1, 'b', 0, 'a')
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second).UTC()
	l := Label{
		VolumeUUID:  uuid.New(),
		Creator:     "go-ltfs",
		FormatTime:  now,
		BlockSize:   512 * 1024,
		Compression: true,
		Barcode:     "ABC123",
		Partitions:  pm,
	}

	doc := l.ToXMLDocument()
	got, err := labelFromDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, l.VolumeUUID, got.VolumeUUID)
	assert.Equal(t, l.Creator, got.Creator)
	assert.True(t, l.FormatTime.Equal(got.FormatTime))
	assert.Equal(t, l.BlockSize, got.BlockSize)
	assert.Equal(t, l.Compression, got.Compression)
	assert.Equal(t, l.Barcode, got.Barcode)
	assert.Equal(t, l.Partitions, got.Partitions)
}

func TestLabelFromDocumentRejectsBadUUID(t *testing.T) {
	doc := xmlcodec.LabelDocument{
		VolumeUUID: "not-a-uuid",
		Partitions: xmlcodec.PartitionsXML{
			Index: xmlcodec.PartitionXML{ID: "a", PhysicalNum: 0},
			Data:  xmlcodec.PartitionXML{ID: "b", PhysicalNum: 1},
		},
	}
	_, err := labelFromDocument(doc)
	assert.Error(t, err)
}

func TestLabelFromDocumentRejectsMalformedPartitionID(t *testing.T) {
	doc := xmlcodec.LabelDocument{
		VolumeUUID: uuid.New().String(),
		Partitions: xmlcodec.PartitionsXML{
			Index: xmlcodec.PartitionXML{ID: "aa", PhysicalNum: 0},
			Data:  xmlcodec.PartitionXML{ID: "b", PhysicalNum: 1},
		},
	}
	_, err := labelFromDocument(doc)
	assert.Error(t, err)
}
