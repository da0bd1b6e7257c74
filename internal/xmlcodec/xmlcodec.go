// Package xmlcodec implements the default XML schema serializer/parser
// collaborator described in §6: it turns an in-memory index or label into
// the on-tape XML document and back. The spec treats the XML schema
// itself as an external collaborator; this package is the concrete
// implementation the volume package drives through the Schema interface so
// the rest of the engine has something real to exercise.
package xmlcodec

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/types"
)

// Schema is the collaborator interface the volume package depends on
// (xml.schema_to_tape / the inverse parse). Keeping it as an interface
// lets tests substitute a recording fake without dragging in encoding/xml.
type Schema interface {
	IndexToXML(doc IndexDocument) ([]byte, error)
	XMLToIndex(data []byte) (IndexDocument, error)
	LabelToXML(doc LabelDocument) ([]byte, error)
	XMLToLabel(data []byte) (LabelDocument, error)
}

// IndexDocument is the flattened, marshalable shape of an index: the tree
// is represented as nested directory/file elements exactly as the on-tape
// format requires, built from / flattened back into the live dentry tree
// by the volume package.
type IndexDocument struct {
	XMLName xml.Name `xml:"ltfsindex"`

	Generation    uint64    `xml:"generationnumber"`
	UpdateTime    time.Time `xml:"updatetime"`
	VolumeUUID    string    `xml:"volumeuuid"`
	Location      PointerXML `xml:"location"`
	PreviousGen   PointerXML `xml:"previousgenerationlocation"`
	CreatorString string    `xml:"creator"`
	CommitMessage string    `xml:"comment,omitempty"`
	VolumeName    string    `xml:"volumename,omitempty"`
	AllowPolicyUpdate bool  `xml:"allowpolicyupdate"`
	Criteria      string    `xml:"index_criteria,omitempty"`

	Directory DirentXML `xml:"directory"`
}

// PointerXML is an on-tape (partition, block) self/back pointer; exported
// so the volume package can convert it to/from tape.IndexPointer without
// this package importing tape's Position type back.
type PointerXML struct {
	Partition string `xml:"partition"`
	StartBlock uint64 `xml:"startblock"`
}

// DirentXML is the flattened shape of one dentry (file or directory) in
// the on-tape tree, exported so the volume package can walk and rebuild
// the live dentry tree from a parsed document.
type DirentXML struct {
	Name       string      `xml:"name"`
	UID        uint64      `xml:"uid"`
	LinkCount  uint32      `xml:"linkcount"`
	CreateTime time.Time   `xml:"creationtime"`
	ChangeTime time.Time   `xml:"changetime"`
	ModifyTime time.Time   `xml:"modifytime"`
	AccessTime time.Time   `xml:"accesstime"`
	ReadOnly   bool        `xml:"readonly"`
	Symlink    string      `xml:"symlink,omitempty"`
	Extents    []ExtentXML `xml:"extentinfo>extent,omitempty"`
	XAttrs     []XAttrXML  `xml:"extendedattributes>xattr,omitempty"`
	Dirs       []DirentXML `xml:"contents>directory,omitempty"`
	Files      []DirentXML `xml:"contents>file,omitempty"`
}

// ExtentXML is one on-tape extent record.
type ExtentXML struct {
	Partition  string `xml:"partition"`
	StartBlock uint64 `xml:"startblock"`
	ByteOffset uint32 `xml:"byteoffset"`
	ByteCount  uint64 `xml:"bytecount"`
	FileOffset uint64 `xml:"fileoffset"`
}

// XAttrXML is one on-tape extended-attribute record.
type XAttrXML struct {
	Name           string `xml:"key"`
	Value          string `xml:"value"`
	PercentEncoded bool   `xml:"percentencoded,attr,omitempty"`
}

// LabelDocument is the XML-carried portion of the label (the ANSI header
// is handled separately by package volume, which prepends/strips it).
type LabelDocument struct {
	XMLName     xml.Name `xml:"ltfslabel"`
	VolumeUUID  string   `xml:"volumeuuid"`
	Creator     string   `xml:"creator"`
	FormatTime  time.Time `xml:"formattime"`
	BlockSize   uint32   `xml:"blocksize"`
	Compression bool     `xml:"compression"`
	Barcode     string   `xml:"barcode,omitempty"`
	Partitions  PartitionsXML `xml:"partitions"`
}

// PartitionXML is one logical-id/physical-number pair. Exported so callers
// outside this package (the volume package's Label conversion) can build
// entries directly.
type PartitionXML struct {
	ID          string `xml:"id"`
	PhysicalNum int    `xml:"physicalnum"`
}

// PartitionsXML names which logical/physical partition pair plays the
// index-partition role and which plays the data-partition role, mirroring
// the real on-tape label's <partitions><index>/<data> elements rather than
// an unordered list (an unordered list loses which entry is which on
// parse).
type PartitionsXML struct {
	Index PartitionXML `xml:"index"`
	Data  PartitionXML `xml:"data"`
}

// DefaultCodec is the stdlib-encoding/xml-backed implementation of Schema.
type DefaultCodec struct{}

func NewDefaultCodec() *DefaultCodec { return &DefaultCodec{} }

func (DefaultCodec) IndexToXML(doc IndexDocument) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, lerrors.Wrap("xmlcodec.IndexToXML", lerrors.KindIndexInvalid, err)
	}
	return buf.Bytes(), nil
}

func (DefaultCodec) XMLToIndex(data []byte) (IndexDocument, error) {
	var doc IndexDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return IndexDocument{}, lerrors.Wrap("xmlcodec.XMLToIndex", lerrors.KindIndexInvalid, err)
	}
	return doc, nil
}

func (DefaultCodec) LabelToXML(doc LabelDocument) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, lerrors.Wrap("xmlcodec.LabelToXML", lerrors.KindLabelInvalid, err)
	}
	return buf.Bytes(), nil
}

func (DefaultCodec) XMLToLabel(data []byte) (LabelDocument, error) {
	var doc LabelDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return LabelDocument{}, lerrors.Wrap("xmlcodec.XMLToLabel", lerrors.KindLabelInvalid, err)
	}
	return doc, nil
}

var _ Schema = DefaultCodec{}

// PercentEncodeName percent-encodes a name containing ':' or an ASCII
// control character other than TAB/LF/CR, per §6.
func PercentEncodeName(name string) (string, bool) {
	needsEncoding := false
	for _, r := range name {
		if r == ':' || (r < 0x20 && r != '\t' && r != '\n' && r != '\r') {
			needsEncoding = true
			break
		}
	}
	if !needsEncoding {
		return name, false
	}
	var b strings.Builder
	for _, r := range name {
		if r == ':' || (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == '%' {
			b.WriteString("%")
			b.WriteString(hexByte(byte(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String(), true
}

func hexByte(b byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xF]})
}

// PercentDecodeName reverses PercentEncodeName.
func PercentDecodeName(name string) string {
	if !strings.Contains(name, "%") {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			hi := hexVal(name[i+1])
			lo := hexVal(name[i+2])
			if hi >= 0 && lo >= 0 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}

// ToDocument flattens a live dentry tree into an IndexDocument for
// encoding.
func ToDocument(ix IndexMetadata, root *types.Dentry) IndexDocument {
	doc := IndexDocument{
		Generation:    ix.Generation,
		UpdateTime:    ix.ModTime,
		VolumeUUID:    ix.VolumeUUID.String(),
		CreatorString: ix.Creator,
		CommitMessage: ix.CommitMessage,
		VolumeName:    ix.VolumeName,
		AllowPolicyUpdate: ix.CriteriaAllowUpdate,
		Criteria:      ix.Criteria,
	}
	doc.Location = PointerXML{Partition: partitionLetter(ix.Self.Partition), StartBlock: ix.Self.Block}
	doc.PreviousGen = PointerXML{Partition: partitionLetter(ix.Back.Partition), StartBlock: ix.Back.Block}
	doc.Directory = dentryToXML(root)
	return doc
}

// IndexMetadata carries just the scalar index fields ToDocument needs,
// avoiding an import cycle between xmlcodec and index.
type IndexMetadata struct {
	Generation        uint64
	ModTime           time.Time
	VolumeUUID        uuid.UUID
	Self              tape.IndexPointer
	Back              tape.IndexPointer
	Creator           string
	CommitMessage     string
	VolumeName        string
	CriteriaAllowUpdate bool
	Criteria          string
}

func partitionLetter(p tape.Partition) string {
	if p == tape.PartitionIP {
		return "a"
	}
	return "b"
}

func dentryToXML(d *types.Dentry) DirentXML {
	d.MetaRLock()
	name, _ := PercentEncodeName(d.Name)
	out := DirentXML{
		Name:       name,
		UID:        uint64(d.UID),
		LinkCount:  d.LinkCount,
		CreateTime: d.Times.CreateTime,
		ChangeTime: d.Times.ChangeTime,
		ModifyTime: d.Times.ModifyTime,
		AccessTime: d.Times.AccessTime,
		ReadOnly:   d.Flags.IsReadOnly,
		Symlink:    d.SymlinkTarget,
	}
	for _, e := range d.Extents {
		out.Extents = append(out.Extents, ExtentXML{
			Partition:  string(e.Partition),
			StartBlock: e.StartBlock,
			ByteOffset: e.ByteOffset,
			ByteCount:  e.ByteCount,
			FileOffset: e.FileOffset,
		})
	}
	for _, x := range d.XAttrs {
		out.XAttrs = append(out.XAttrs, XAttrXML{Name: x.Name, Value: string(x.Value), PercentEncoded: x.PercentEncoded})
	}
	d.MetaRUnlock()

	if d.Flags.IsDirectory {
		d.ContentsRLock()
		children := make([]*types.Dentry, 0, len(d.ChildMap))
		for _, c := range d.ChildMap {
			children = append(children, c.Dentry)
		}
		d.ContentsRUnlock()
		sort.Slice(children, func(i, j int) bool { return children[i].UID < children[j].UID })
		for _, c := range children {
			child := dentryToXML(c)
			c.MetaRLock()
			isDir := c.Flags.IsDirectory
			c.MetaRUnlock()
			if isDir {
				out.Dirs = append(out.Dirs, child)
			} else {
				out.Files = append(out.Files, child)
			}
		}
	}
	return out
}
