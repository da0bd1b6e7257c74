package xmlcodec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/types"
)

func TestPercentEncodeNameLeavesPlainNamesUntouched(t *testing.T) {
	got, changed := PercentEncodeName("report.txt")
	assert.False(t, changed)
	assert.Equal(t, "report.txt", got)
}

func TestPercentEncodeNameEncodesColon(t *testing.T) {
	got, changed := PercentEncodeName("a:b")
	assert.True(t, changed)
	assert.Equal(t, "a%3Ab", got)
}

func TestPercentEncodeNameEncodesControlCharsButNotTabNewline(t *testing.T) {
	got, changed := PercentEncodeName("a\tb\nc\x01d")
	assert.True(t, changed)
	assert.Equal(t, "a\tb\nc%01d", got)
}

func TestPercentEncodeDecodeRoundTrip(t *testing.T) {
	original := "weird:name\x07here"
	encoded, changed := PercentEncodeName(original)
	require.True(t, changed)
	assert.Equal(t, original, PercentDecodeName(encoded))
}

func TestPercentDecodeNamePlainStringUnchanged(t *testing.T) {
	assert.Equal(t, "plain", PercentDecodeName("plain"))
}

func TestIndexXMLRoundTrip(t *testing.T) {
	codec := NewDefaultCodec()
	root := types.NewDentry(types.UIDRoot, "", "", true)

	meta := IndexMetadata{
		Generation: 3,
		ModTime:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		VolumeUUID: uuid.New(),
		Self:       tape.IndexPointer{Partition: tape.PartitionIP, Block: 10},
		Back:       tape.IndexPointer{Partition: tape.PartitionDP, Block: 20},
		Creator:    "go-ltfs",
	}
	doc := ToDocument(meta, root)

	data, err := codec.IndexToXML(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<ltfsindex>")

	parsed, err := codec.XMLToIndex(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), parsed.Generation)
	assert.Equal(t, meta.VolumeUUID.String(), parsed.VolumeUUID)
	assert.Equal(t, "a", parsed.Location.Partition)
	assert.Equal(t, uint64(10), parsed.Location.StartBlock)
	assert.Equal(t, "b", parsed.PreviousGen.Partition)
}

func TestXMLToIndexRejectsMalformedData(t *testing.T) {
	codec := NewDefaultCodec()
	_, err := codec.XMLToIndex([]byte("<not-xml"))
	assert.Error(t, err)
}

func TestLabelXMLRoundTrip(t *testing.T) {
	codec := NewDefaultCodec()
	doc := LabelDocument{
		VolumeUUID:  uuid.New().String(),
		Creator:     "go-ltfs",
		FormatTime:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		BlockSize:   524288,
		Compression: true,
		Barcode:     "VOL001",
		Partitions: PartitionsXML{
			Index: PartitionXML{ID: "a", PhysicalNum: 0},
			Data:  PartitionXML{ID: "b", PhysicalNum: 1},
		},
	}

	data, err := codec.LabelToXML(doc)
	require.NoError(t, err)

	parsed, err := codec.XMLToLabel(data)
	require.NoError(t, err)
	assert.Equal(t, doc.VolumeUUID, parsed.VolumeUUID)
	assert.Equal(t, "VOL001", parsed.Barcode)
	assert.Equal(t, "a", parsed.Partitions.Index.ID)
	assert.Equal(t, 1, parsed.Partitions.Data.PhysicalNum)
}

func TestXMLToLabelRejectsMalformedData(t *testing.T) {
	codec := NewDefaultCodec()
	_, err := codec.XMLToLabel([]byte("{not xml}"))
	assert.Error(t, err)
}

func TestToDocumentFlattensChildrenSortedByUID(t *testing.T) {
	root := types.NewDentry(types.UIDRoot, "", "", true)
	uids := []types.UID{30, 10, 20}
	for i, u := range uids {
		name := "f" + string(rune('a'+i))
		child := types.NewDentry(u, name, name, false)
		root.ContentsLock()
		if root.ChildMap == nil {
			root.ChildMap = make(map[string]*types.ChildNode)
		}
		root.ChildMap[name] = &types.ChildNode{Dentry: child}
		root.ContentsUnlock()
	}

	doc := ToDocument(IndexMetadata{VolumeUUID: uuid.New()}, root)
	require.Len(t, doc.Directory.Files, 3)
	assert.Equal(t, uint64(10), doc.Directory.Files[0].UID)
	assert.Equal(t, uint64(20), doc.Directory.Files[1].UID)
	assert.Equal(t, uint64(30), doc.Directory.Files[2].UID)
}
