package ptex

// MeshType distinguishes triangle-mesh from quad-mesh ptex files. Encoded
// as a uint32 in the file Header.
type MeshType uint32

const (
	MeshTriangle MeshType = iota
	MeshQuad
)

func (m MeshType) String() string {
	if m == MeshTriangle {
		return "triangle"
	}
	return "quad"
}

// DataType is the per-channel pixel storage type. Encoded as a uint32 in
// the file Header.
type DataType uint32

const (
	DataUInt8 DataType = iota
	DataUInt16
	DataHalf
	DataFloat
)

func (d DataType) String() string {
	switch d {
	case DataUInt8:
		return "uint8"
	case DataUInt16:
		return "uint16"
	case DataHalf:
		return "half"
	case DataFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Size returns the storage size in bytes of one channel of this type.
func (d DataType) Size() int {
	switch d {
	case DataUInt8:
		return 1
	case DataUInt16, DataHalf:
		return 2
	case DataFloat:
		return 4
	default:
		return 0
	}
}

// oneValue is the numeric value that represents full-scale (1.0) for each
// data type, used to normalize accumulated filter results back to [0,1].
var oneValue = [4]float64{255.0, 65535.0, 1.0, 1.0}

// oneValueInv is the reciprocal of oneValue, used on the encode path.
var oneValueInv = [4]float64{1.0 / 255.0, 1.0 / 65535.0, 1.0, 1.0}

// OneValue returns the full-scale value for dt (e.g. 255 for uint8).
func (d DataType) OneValue() float64 { return oneValue[d] }

// OneValueInv returns 1/OneValue(dt).
func (d DataType) OneValueInv() float64 { return oneValueInv[d] }

// EdgeId identifies one of the four edges of a quad face, or (for triangle
// meshes) one of the three edges, numbered the same way. Order matches the
// original Ptex convention so that adjacency data from an external mesh
// loader can be used as-is.
type EdgeId int

const (
	EdgeBottom EdgeId = iota
	EdgeRight
	EdgeTop
	EdgeLeft
)

func (e EdgeId) String() string {
	switch e {
	case EdgeBottom:
		return "bottom"
	case EdgeRight:
		return "right"
	case EdgeTop:
		return "top"
	case EdgeLeft:
		return "left"
	default:
		return "invalid"
	}
}

// next returns the edge id reached by rotating n quarter turns
// counter-clockwise (n may be negative).
func (e EdgeId) next(n int) EdgeId {
	return EdgeId((((int(e) + n) % 4) + 4) % 4)
}

// BorderMode controls what a filter kernel does when it overflows an edge
// that has no adjacent face. This is not modeled in spec.md's invariants
// directly (which describe only the default clamp/fold-back behavior) but
// is part of the writer/reader API surface (setBorderModes) and the
// original implementation's ExtHeader. The value is only stored in the
// ExtHeader: the filter engine does not read it and always folds overflow
// back onto the edge texel, whatever mode the file records.
type BorderMode uint32

const (
	// BorderClamp folds overflowing kernel weight back onto the edge texel (the default).
	BorderClamp BorderMode = iota
	// BorderBlack treats texels beyond the edge as zero, discarding overflow weight.
	BorderBlack
	// BorderPeriodic wraps around to the opposite edge of the same face.
	BorderPeriodic
)

// MetaDataType tags the element type of a metadata value.
type MetaDataType int

const (
	MetaString MetaDataType = iota
	MetaInt8
	MetaInt16
	MetaInt32
	MetaFloat
	MetaDouble
)

// Res is a face's resolution expressed as log2 exponents, per spec.md
// section 3: a pair (ulog2, vlog2) of signed 8-bit exponents. Negative
// values are reserved for sub-pixel blended-reduction bookkeeping and are
// rejected by Reader.getData (see DESIGN.md).
type Res struct {
	ULog2 int8
	VLog2 int8
}

// U returns 1<<ULog2, the pixel width, for a non-negative ULog2.
func (r Res) U() int {
	if r.ULog2 < 0 {
		return 0
	}
	return 1 << uint(r.ULog2)
}

// V returns 1<<VLog2, the pixel height, for a non-negative VLog2.
func (r Res) V() int {
	if r.VLog2 < 0 {
		return 0
	}
	return 1 << uint(r.VLog2)
}

// Size returns U()*V(), the pixel count of a face at this resolution.
func (r Res) Size() int { return r.U() * r.V() }

// Val packs the resolution into the 16-bit on-disk representation: ULog2
// in the low byte, VLog2 in the high byte, matching the original's
// reinterpret-cast-through-uint16 layout.
func (r Res) Val() uint16 {
	return uint16(uint8(r.ULog2)) | uint16(uint8(r.VLog2))<<8
}

// ResFromVal unpacks the 16-bit on-disk representation produced by Val.
func ResFromVal(v uint16) Res {
	return Res{ULog2: int8(uint8(v & 0xff)), VLog2: int8(uint8(v >> 8))}
}

// SwappedUV returns the resolution with u and v exponents exchanged.
func (r Res) SwappedUV() Res { return Res{ULog2: r.VLog2, VLog2: r.ULog2} }

// Clamp returns r with each axis clamped down to not exceed the
// corresponding axis of max.
func (r Res) Clamp(max Res) Res {
	out := r
	if out.ULog2 > max.ULog2 {
		out.ULog2 = max.ULog2
	}
	if out.VLog2 > max.VLog2 {
		out.VLog2 = max.VLog2
	}
	return out
}

// GreaterEq reports whether r is component-wise >= other, i.e. r is at
// least as high-resolution on both axes.
func (r Res) GreaterEq(other Res) bool {
	return r.ULog2 >= other.ULog2 && r.VLog2 >= other.VLog2
}

// NTilesU returns the number of tiles of resolution tileRes that tile this
// resolution along u. tileRes.ULog2 must not exceed r.ULog2.
func (r Res) NTilesU(tileRes Res) int { return 1 << uint(r.ULog2-tileRes.ULog2) }

// NTilesV returns the number of tiles of resolution tileRes that tile this
// resolution along v.
func (r Res) NTilesV(tileRes Res) int { return 1 << uint(r.VLog2-tileRes.VLog2) }

// NTiles returns the total tile count for tileRes.
func (r Res) NTiles(tileRes Res) int { return r.NTilesU(tileRes) * r.NTilesV(tileRes) }

// faceInfoFlags bit layout for FaceInfo.Flags, matching Ptexture.h.
const (
	flagConstant    uint8 = 1 << 0
	flagHasEdits    uint8 = 1 << 1
	flagNbConstant  uint8 = 1 << 2
	flagSubface     uint8 = 1 << 3
)

// FaceInfo describes one face of the mesh: its resolution, its adjacency
// to up to four neighbouring faces (edge-to-edge, with rotation), and a
// small set of status flags. See spec.md section 3.
type FaceInfo struct {
	Res      Res
	AdjEdges uint8    // 2 bits per edge: the edge id on the neighbour across edge i
	Flags    uint8
	AdjFaces [4]int32 // -1 == boundary (no neighbour)
}

// NewFaceInfo constructs a FaceInfo with no adjacency (all edges are
// boundaries) at the given resolution.
func NewFaceInfo(res Res) FaceInfo {
	return FaceInfo{Res: res, AdjFaces: [4]int32{-1, -1, -1, -1}}
}

// AdjEdge returns the edge id on the neighbouring face that borders this
// face's edge eid.
func (f FaceInfo) AdjEdge(eid EdgeId) EdgeId {
	return EdgeId((f.AdjEdges >> (2 * uint(eid))) & 3)
}

// AdjFace returns the face id of the neighbour across edge eid, or -1 if
// that edge is a boundary.
func (f FaceInfo) AdjFace(eid EdgeId) int32 { return f.AdjFaces[eid] }

// SetAdjFaces sets all four adjacent face ids at once.
func (f *FaceInfo) SetAdjFaces(f0, f1, f2, f3 int32) {
	f.AdjFaces = [4]int32{f0, f1, f2, f3}
}

// SetAdjEdges packs four per-edge neighbour-edge ids into AdjEdges.
func (f *FaceInfo) SetAdjEdges(e0, e1, e2, e3 EdgeId) {
	f.AdjEdges = uint8(e0&3) | uint8(e1&3)<<2 | uint8(e2&3)<<4 | uint8(e3&3)<<6
}

// IsConstant reports whether the face's stored pixels are a single
// replicated value.
func (f FaceInfo) IsConstant() bool { return f.Flags&flagConstant != 0 }

// IsNeighborhoodConstant reports whether this face and every face
// reachable by a filter kernel within range share the same constant
// pixel, enabling the filter engine's short-circuit in spec.md 4.8 step 1.
func (f FaceInfo) IsNeighborhoodConstant() bool { return f.Flags&flagNbConstant != 0 }

// HasEdits reports whether edit records exist for this face.
func (f FaceInfo) HasEdits() bool { return f.Flags&flagHasEdits != 0 }

// IsSubface reports whether this face's primary-side neighbour is at a
// different subdivision level, requiring coordinate-range adjustment when
// a filter kernel crosses into or out of it.
func (f FaceInfo) IsSubface() bool { return f.Flags&flagSubface != 0 }

func (f *FaceInfo) setConstant(v bool)   { f.setFlag(flagConstant, v) }
func (f *FaceInfo) setHasEdits(v bool)   { f.setFlag(flagHasEdits, v) }
func (f *FaceInfo) setNbConstant(v bool) { f.setFlag(flagNbConstant, v) }
func (f *FaceInfo) setSubface(v bool)    { f.setFlag(flagSubface, v) }

func (f *FaceInfo) setFlag(bit uint8, v bool) {
	if v {
		f.Flags |= bit
	} else {
		f.Flags &^= bit
	}
}
