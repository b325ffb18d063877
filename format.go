package ptex

import (
	"encoding/binary"
)

// CurrentVersion is the only file format version this package writes or
// accepts on read (spec.md section 4.3/7, "UnsupportedVersion").
const CurrentVersion uint32 = 1

// magic is the four-byte file signature, 'P','t','e','x'.
var magic = [4]byte{'P', 't', 'e', 'x'}

// Tuning constants carried over from the original implementation
// (PtexIO.h, PtexWriter.h): the minimum face-dimension log2 below which a
// mipmap level is no longer generated, and the target uncompressed size
// above which a face's pixels are tiled rather than stored as one block.
const (
	MinReductionLog2 = 2
	TileSize         = 65536
	BlockSize        = 16384
)

// Encoding is the storage form of one face-data block within a level.
type Encoding uint32

const (
	EncConstant Encoding = iota
	EncZipped
	EncDiffZipped
	EncTiled
)

// FaceDataHeader packs a block size (bits 0..29) and an Encoding (bits
// 30..31) into one uint32, matching PtexIO.h's FaceDataHeader bitfield.
type FaceDataHeader uint32

// MakeFaceDataHeader builds a FaceDataHeader from a block size and encoding.
func MakeFaceDataHeader(blocksize uint32, enc Encoding) FaceDataHeader {
	return FaceDataHeader((blocksize & 0x3fffffff) | (uint32(enc)&0x3)<<30)
}

// BlockSizeField returns the block-size portion of the header.
func (h FaceDataHeader) BlockSizeField() uint32 { return uint32(h) & 0x3fffffff }

// EncodingField returns the encoding portion of the header.
func (h FaceDataHeader) EncodingField() Encoding { return Encoding((uint32(h) >> 30) & 0x3) }

// EditType distinguishes the two kinds of appended edit record.
type EditType uint8

const (
	EditFaceData EditType = iota
	EditMetaData
)

// Header is the fixed 52-byte leading record of a ptex file. Field order
// and the left-to-right "sub-section sizes computed from end-of-header"
// rule follow spec.md section 3/4.3 and the original PtexIO.h; the exact
// byte width is this module's own layout (see DESIGN.md: byte-exact
// compatibility with the original C++ Ptex binary format is not a goal,
// self-consistent round-trip within this module is).
type Header struct {
	Magic           [4]byte
	Version         uint32
	MeshType        MeshType
	DataType        DataType
	AlphaChan       int32
	NChannels       uint16
	NLevels         uint16
	NFaces          uint32
	ExtHeaderSize   uint32
	FaceInfoSize    uint32
	ConstDataSize   uint32
	LevelInfoSize   uint32
	LevelDataSize   uint32
	MetaDataZipSize uint32
}

// HeaderSize is the on-disk size of Header.
const HeaderSize = 4 + 4 + 4 + 4 + 4 + 2 + 2 + 4 + 4 + 4 + 4 + 4 + 4 + 4

// PixelSize returns the per-pixel byte size implied by DataType and NChannels.
func (h Header) PixelSize() int { return h.DataType.Size() * int(h.NChannels) }

// HasAlpha reports whether AlphaChan names a valid channel.
func (h Header) HasAlpha() bool { return h.AlphaChan >= 0 && int(h.AlphaChan) < int(h.NChannels) }

func (h Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.MeshType))
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.DataType))
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.AlphaChan))
	binary.LittleEndian.PutUint16(b[20:22], h.NChannels)
	binary.LittleEndian.PutUint16(b[22:24], h.NLevels)
	binary.LittleEndian.PutUint32(b[24:28], h.NFaces)
	binary.LittleEndian.PutUint32(b[28:32], h.ExtHeaderSize)
	binary.LittleEndian.PutUint32(b[32:36], h.FaceInfoSize)
	binary.LittleEndian.PutUint32(b[36:40], h.ConstDataSize)
	binary.LittleEndian.PutUint32(b[40:44], h.LevelInfoSize)
	binary.LittleEndian.PutUint32(b[44:48], h.LevelDataSize)
	binary.LittleEndian.PutUint32(b[48:52], h.MetaDataZipSize)
	return b
}

func unmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, newError(KindTruncatedOrCorrupt, "", "short header read")
	}
	var h Header
	copy(h.Magic[:], b[0:4])
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	h.MeshType = MeshType(binary.LittleEndian.Uint32(b[8:12]))
	h.DataType = DataType(binary.LittleEndian.Uint32(b[12:16]))
	h.AlphaChan = int32(binary.LittleEndian.Uint32(b[16:20]))
	h.NChannels = binary.LittleEndian.Uint16(b[20:22])
	h.NLevels = binary.LittleEndian.Uint16(b[22:24])
	h.NFaces = binary.LittleEndian.Uint32(b[24:28])
	h.ExtHeaderSize = binary.LittleEndian.Uint32(b[28:32])
	h.FaceInfoSize = binary.LittleEndian.Uint32(b[32:36])
	h.ConstDataSize = binary.LittleEndian.Uint32(b[36:40])
	h.LevelInfoSize = binary.LittleEndian.Uint32(b[40:44])
	h.LevelDataSize = binary.LittleEndian.Uint32(b[44:48])
	h.MetaDataZipSize = binary.LittleEndian.Uint32(b[48:52])
	return h, nil
}

// ExtHeader is an optional, variable-length extension record following
// Header. Older files may omit it entirely (ExtHeaderSize == 0).
type ExtHeader struct {
	UBorderMode       BorderMode
	VBorderMode       BorderMode
	LMDHeaderZipSize  uint32
	LargeMetaDataSize uint64
	EditDataPos       uint64 // absolute file offset of the edit region, 0 if unrecorded
}

// ExtHeaderSize is the on-disk size of ExtHeader.
const ExtHeaderSize = 4 + 4 + 4 + 8 + 8

func (e ExtHeader) marshal() []byte {
	b := make([]byte, ExtHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.UBorderMode))
	binary.LittleEndian.PutUint32(b[4:8], uint32(e.VBorderMode))
	binary.LittleEndian.PutUint32(b[8:12], e.LMDHeaderZipSize)
	binary.LittleEndian.PutUint64(b[12:20], e.LargeMetaDataSize)
	binary.LittleEndian.PutUint64(b[20:28], e.EditDataPos)
	return b
}

func unmarshalExtHeader(b []byte) (ExtHeader, error) {
	if len(b) < ExtHeaderSize {
		return ExtHeader{}, newError(KindTruncatedOrCorrupt, "", "short ext-header read")
	}
	var e ExtHeader
	e.UBorderMode = BorderMode(binary.LittleEndian.Uint32(b[0:4]))
	e.VBorderMode = BorderMode(binary.LittleEndian.Uint32(b[4:8]))
	e.LMDHeaderZipSize = binary.LittleEndian.Uint32(b[8:12])
	e.LargeMetaDataSize = binary.LittleEndian.Uint64(b[12:20])
	e.EditDataPos = binary.LittleEndian.Uint64(b[20:28])
	return e, nil
}

// LevelInfo describes one mipmap level's face-data section.
type LevelInfo struct {
	LevelDataSize   uint64
	LevelHeaderSize uint32
	NFaces          uint32
}

// LevelInfoSize is the on-disk size of LevelInfo.
const LevelInfoSize = 8 + 4 + 4

func (l LevelInfo) marshal() []byte {
	b := make([]byte, LevelInfoSize)
	binary.LittleEndian.PutUint64(b[0:8], l.LevelDataSize)
	binary.LittleEndian.PutUint32(b[8:12], l.LevelHeaderSize)
	binary.LittleEndian.PutUint32(b[12:16], l.NFaces)
	return b
}

func unmarshalLevelInfo(b []byte) (LevelInfo, error) {
	if len(b) < LevelInfoSize {
		return LevelInfo{}, newError(KindTruncatedOrCorrupt, "", "short level-info read")
	}
	var l LevelInfo
	l.LevelDataSize = binary.LittleEndian.Uint64(b[0:8])
	l.LevelHeaderSize = binary.LittleEndian.Uint32(b[8:12])
	l.NFaces = binary.LittleEndian.Uint32(b[12:16])
	return l, nil
}

// faceInfoSize is the on-disk size of one FaceInfo record: Res(2) +
// AdjEdges(1) + Flags(1) + 4*AdjFaces(4) = 20 bytes.
const faceInfoSize = 2 + 1 + 1 + 4*4

func marshalFaceInfo(f FaceInfo) []byte {
	b := make([]byte, faceInfoSize)
	binary.LittleEndian.PutUint16(b[0:2], f.Res.Val())
	b[2] = f.AdjEdges
	b[3] = f.Flags
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(b[4+4*i:8+4*i], uint32(f.AdjFaces[i]))
	}
	return b
}

func unmarshalFaceInfo(b []byte) (FaceInfo, error) {
	if len(b) < faceInfoSize {
		return FaceInfo{}, newError(KindTruncatedOrCorrupt, "", "short face-info read")
	}
	var f FaceInfo
	f.Res = ResFromVal(binary.LittleEndian.Uint16(b[0:2]))
	f.AdjEdges = b[2]
	f.Flags = b[3]
	for i := 0; i < 4; i++ {
		f.AdjFaces[i] = int32(binary.LittleEndian.Uint32(b[4+4*i : 8+4*i]))
	}
	return f, nil
}

// faceDataHeaderSize is the on-disk size of one FaceDataHeader.
const faceDataHeaderSize = 4

func marshalFaceDataHeader(h FaceDataHeader) []byte {
	b := make([]byte, faceDataHeaderSize)
	binary.LittleEndian.PutUint32(b, uint32(h))
	return b
}

func unmarshalFaceDataHeader(b []byte) (FaceDataHeader, error) {
	if len(b) < faceDataHeaderSize {
		return 0, newError(KindTruncatedOrCorrupt, "", "short face-data header read")
	}
	return FaceDataHeader(binary.LittleEndian.Uint32(b)), nil
}
