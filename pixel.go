package ptex

import "math"

// This file implements the per-type pixel utilities of spec.md section 4.2
// (component C2), grounded in PtexUtils.h/.cpp: constant-face detection,
// interleave/deinterleave between tile-major and face-major layout, the
// lossless difference codec applied before zlib compression, the four
// down-sampling reduction kernels, alpha premultiplication, and the
// rfaceid/faceid permutation used to cluster same-resolution faces.
//
// All routines operate on raw byte buffers; dt and nchannels select which
// typed loop to run. Buffers are always tightly packed rows of
// nchannels*dt.Size() bytes per pixel unless a stride is given explicitly.

// IsConstant reports whether every pixel in a ures x vres block (row
// stride given in bytes) is bit-identical to the first.
func IsConstant(data []byte, stride, ures, vres, pixelSize int) bool {
	if ures == 0 || vres == 0 {
		return true
	}
	first := data[:pixelSize]
	for v := 0; v < vres; v++ {
		row := data[v*stride : v*stride+ures*pixelSize]
		for u := 0; u < ures; u++ {
			px := row[u*pixelSize : (u+1)*pixelSize]
			for i, b := range px {
				if b != first[i] {
					return false
				}
			}
		}
	}
	return true
}

// Fill replicates a single pixel value across a ures x vres block.
func Fill(value []byte, dst []byte, dstride, ures, vres, pixelSize int) {
	for v := 0; v < vres; v++ {
		row := dst[v*dstride : v*dstride+ures*pixelSize]
		for u := 0; u < ures; u++ {
			copy(row[u*pixelSize:(u+1)*pixelSize], value)
		}
	}
}

// CopyPixels copies nrows rows of rowBytes bytes from src to dst, honoring
// independent strides (used when extracting a tile sub-rectangle from a
// packed level buffer, or vice versa).
func CopyPixels(src []byte, sstride int, dst []byte, dstride int, nrows, rowBytes int) {
	for r := 0; r < nrows; r++ {
		copy(dst[r*dstride:r*dstride+rowBytes], src[r*sstride:r*sstride+rowBytes])
	}
}

// Interleave rearranges src, stored as vres rows of sstride bytes, into dst
// with row stride dstride. Both are logically the same ures x vres x
// nchannels array; interleave is used when assembling a tiled face's pixel
// grid out of its separately-stored tiles into one packed per-face buffer.
func Interleave(src []byte, sstride, ures, vres int, dst []byte, dstride int, pixelSize int) {
	CopyPixels(src, sstride, dst, dstride, vres, ures*pixelSize)
}

// Deinterleave is Interleave's inverse: split a packed ures x vres buffer
// into tile-sized sub-rectangles. Since both sides here use the same dense
// row-major layout, it makes the same CopyPixels call as Interleave.
func Deinterleave(src []byte, sstride, ures, vres int, dst []byte, dstride int, pixelSize int) {
	CopyPixels(src, sstride, dst, dstride, vres, ures*pixelSize)
}

// EncodeDifference rewrites data in place, replacing each pixel (after the
// first) with its difference from the previous pixel in scanline order.
// This exploits local coherence in texture data to improve the zlib
// compression ratio (spec.md section 4.3); DecodeDifference reverses it on
// load. Operates byte-wise per DataType using wraparound (mod 2^n)
// arithmetic for integer types and plain subtraction for float/half, both
// of which round-trip exactly.
func EncodeDifference(data []byte, npixels, nchannels int, dt DataType) {
	switch dt {
	case DataUInt8:
		for c := 0; c < nchannels; c++ {
			prev := byte(0)
			for p := 0; p < npixels; p++ {
				i := p*nchannels + c
				cur := data[i]
				data[i] = cur - prev
				prev = cur
			}
		}
	case DataUInt16:
		for c := 0; c < nchannels; c++ {
			prev := uint16(0)
			for p := 0; p < npixels; p++ {
				i := (p*nchannels + c) * 2
				cur := le16(data[i:])
				putLE16(data[i:], cur-prev)
				prev = cur
			}
		}
	case DataHalf:
		for c := 0; c < nchannels; c++ {
			prev := float32(0)
			for p := 0; p < npixels; p++ {
				i := (p*nchannels + c) * 2
				cur := Half(le16(data[i:])).Float()
				putLE16(data[i:], uint16(FloatToHalf(cur-prev)))
				prev = cur
			}
		}
	case DataFloat:
		for c := 0; c < nchannels; c++ {
			prev := float32(0)
			for p := 0; p < npixels; p++ {
				i := (p*nchannels + c) * 4
				cur := math.Float32frombits(le32(data[i:]))
				putLE32(data[i:], math.Float32bits(cur-prev))
				prev = cur
			}
		}
	}
}

// DecodeDifference reverses EncodeDifference in place.
func DecodeDifference(data []byte, npixels, nchannels int, dt DataType) {
	switch dt {
	case DataUInt8:
		for c := 0; c < nchannels; c++ {
			prev := byte(0)
			for p := 0; p < npixels; p++ {
				i := p*nchannels + c
				cur := data[i] + prev
				data[i] = cur
				prev = cur
			}
		}
	case DataUInt16:
		for c := 0; c < nchannels; c++ {
			prev := uint16(0)
			for p := 0; p < npixels; p++ {
				i := (p*nchannels + c) * 2
				cur := le16(data[i:]) + prev
				putLE16(data[i:], cur)
				prev = cur
			}
		}
	case DataHalf:
		for c := 0; c < nchannels; c++ {
			prev := float32(0)
			for p := 0; p < npixels; p++ {
				i := (p*nchannels + c) * 2
				cur := Half(le16(data[i:])).Float() + prev
				putLE16(data[i:], uint16(FloatToHalf(cur)))
				prev = cur
			}
		}
	case DataFloat:
		for c := 0; c < nchannels; c++ {
			prev := float32(0)
			for p := 0; p < npixels; p++ {
				i := (p*nchannels + c) * 4
				cur := math.Float32frombits(le32(data[i:])) + prev
				putLE32(data[i:], math.Float32bits(cur))
				prev = cur
			}
		}
	}
}

func le16(b []byte) uint16      { return uint16(b[0]) | uint16(b[1])<<8 }
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// ConvertToFloat unpacks npixels*nchannels raw samples of the given
// DataType into normalized float32 in [0,1] (or unbounded, for
// DataFloat/DataHalf).
func ConvertToFloat(dst []float32, src []byte, dt DataType, count int) {
	switch dt {
	case DataUInt8:
		inv := float32(dt.OneValueInv())
		for i := 0; i < count; i++ {
			dst[i] = float32(src[i]) * inv
		}
	case DataUInt16:
		inv := float32(dt.OneValueInv())
		for i := 0; i < count; i++ {
			dst[i] = float32(le16(src[i*2:])) * inv
		}
	case DataHalf:
		for i := 0; i < count; i++ {
			dst[i] = Half(le16(src[i*2:])).Float()
		}
	case DataFloat:
		for i := 0; i < count; i++ {
			dst[i] = math.Float32frombits(le32(src[i*4:]))
		}
	}
}

// ConvertFromFloat packs count normalized float32 samples back into the
// given DataType's raw byte representation, rounding and clamping integer
// types to their representable range.
func ConvertFromFloat(dst []byte, src []float32, dt DataType, count int) {
	switch dt {
	case DataUInt8:
		one := float32(dt.OneValue())
		for i := 0; i < count; i++ {
			dst[i] = byte(clampRound(src[i]*one, 0, 255))
		}
	case DataUInt16:
		one := float32(dt.OneValue())
		for i := 0; i < count; i++ {
			putLE16(dst[i*2:], uint16(clampRound(src[i]*one, 0, 65535)))
		}
	case DataHalf:
		for i := 0; i < count; i++ {
			putLE16(dst[i*2:], uint16(FloatToHalf(src[i])))
		}
	case DataFloat:
		for i := 0; i < count; i++ {
			putLE32(dst[i*4:], math.Float32bits(src[i]))
		}
	}
}

func clampRound(v, lo, hi float32) float32 {
	v = v + 0.5
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Reduce downsamples a ures x vres pixel block by 2 in both axes using 2x2
// box averaging, writing (ures/2) x (vres/2) pixels to dst. This is the
// mipmap-pyramid-generation primitive (spec.md section 4.1).
func Reduce(src []byte, sstride, ures, vres int, dst []byte, dstride int, dt DataType, nchannels int) {
	ru, rv := ures/2, vres/2
	for v := 0; v < rv; v++ {
		s0 := src[(2*v)*sstride:]
		s1 := src[(2*v+1)*sstride:]
		d := dst[v*dstride:]
		for u := 0; u < ru; u++ {
			for c := 0; c < nchannels; c++ {
				avg4(s0, s1, u, c, nchannels, dt, d)
			}
		}
	}
}

// ReduceU downsamples by 2 along u only, leaving v resolution unchanged.
func ReduceU(src []byte, sstride, ures, vres int, dst []byte, dstride int, dt DataType, nchannels int) {
	ru := ures / 2
	for v := 0; v < vres; v++ {
		s := src[v*sstride:]
		d := dst[v*dstride:]
		for u := 0; u < ru; u++ {
			for c := 0; c < nchannels; c++ {
				avg2Pixel(s, u*2, u*2+1, c, nchannels, dt, d, u)
			}
		}
	}
}

// ReduceV downsamples by 2 along v only, leaving u resolution unchanged.
func ReduceV(src []byte, sstride, ures, vres int, dst []byte, dstride int, dt DataType, nchannels int) {
	rv := vres / 2
	pixelSize := dt.Size() * nchannels
	for v := 0; v < rv; v++ {
		s0 := src[(2*v)*sstride:]
		s1 := src[(2*v+1)*sstride:]
		d := dst[v*dstride:]
		for u := 0; u < ures; u++ {
			for c := 0; c < nchannels; c++ {
				avgRow(s0, s1, u, c, nchannels, dt, d, u)
			}
		}
		_ = pixelSize
	}
}

// ReduceTri downsamples a triangular face's ures x ures (res.u()==res.v())
// block by 2 with a 2x2 box average (avg4), writing only the destination's
// lower triangle: destination row v gets res/2 - v texels, and the texels
// beyond them in each destination row are not written.
func ReduceTri(src []byte, sstride, res int, dst []byte, dstride int, dt DataType, nchannels int) {
	rr := res / 2
	for v := 0; v < rr; v++ {
		s0 := src[(2*v)*sstride:]
		s1 := src[(2*v+1)*sstride:]
		d := dst[v*dstride:]
		rowWidth := res - 2*v // triangle: row v has res-v texels, row 2v has res-2v
		ru := rowWidth / 2
		for u := 0; u < ru; u++ {
			for c := 0; c < nchannels; c++ {
				avg4(s0, s1, u, c, nchannels, dt, d)
			}
		}
	}
}

func avg4(s0, s1 []byte, u, c, nchannels int, dt DataType, d []byte) {
	pixelSize := dt.Size() * nchannels
	a := sampleF(s0, (2*u)*nchannels+c, dt)
	b := sampleF(s0, (2*u+1)*nchannels+c, dt)
	e := sampleF(s1, (2*u)*nchannels+c, dt)
	f := sampleF(s1, (2*u+1)*nchannels+c, dt)
	avg := (a + b + e + f) * 0.25
	writeF(d, u*nchannels+c, dt, avg)
	_ = pixelSize
}

func avg2Pixel(s []byte, u0, u1, c, nchannels int, dt DataType, d []byte, destU int) {
	a := sampleF(s, u0*nchannels+c, dt)
	b := sampleF(s, u1*nchannels+c, dt)
	writeF(d, destU*nchannels+c, dt, (a+b)*0.5)
}

func avgRow(s0, s1 []byte, u, c, nchannels int, dt DataType, d []byte, destU int) {
	a := sampleF(s0, u*nchannels+c, dt)
	b := sampleF(s1, u*nchannels+c, dt)
	writeF(d, destU*nchannels+c, dt, (a+b)*0.5)
}

func sampleF(buf []byte, channelIdx int, dt DataType) float64 {
	switch dt {
	case DataUInt8:
		return float64(buf[channelIdx])
	case DataUInt16:
		return float64(le16(buf[channelIdx*2:]))
	case DataHalf:
		return float64(Half(le16(buf[channelIdx*2:])).Float())
	case DataFloat:
		return float64(math.Float32frombits(le32(buf[channelIdx*4:])))
	}
	return 0
}

func writeF(buf []byte, channelIdx int, dt DataType, v float64) {
	switch dt {
	case DataUInt8:
		buf[channelIdx] = byte(clampRound(float32(v), 0, 255))
	case DataUInt16:
		putLE16(buf[channelIdx*2:], uint16(clampRound(float32(v), 0, 65535)))
	case DataHalf:
		putLE16(buf[channelIdx*2:], uint16(FloatToHalf(float32(v))))
	case DataFloat:
		putLE32(buf[channelIdx*4:], math.Float32bits(float32(v)))
	}
}

// MultAlpha multiplies every non-alpha channel of npixels pixels by the
// pixel's alpha channel value (normalized to [0,1]), the storage
// convention spec.md section 4.2 requires for filtered output.
func MultAlpha(data []byte, npixels, nchannels, alphachan int, dt DataType) {
	if alphachan < 0 || alphachan >= nchannels {
		return
	}
	one := dt.OneValueInv()
	for p := 0; p < npixels; p++ {
		a := sampleF(data, p*nchannels+alphachan, dt) * one
		for c := 0; c < nchannels; c++ {
			if c == alphachan {
				continue
			}
			v := sampleF(data, p*nchannels+c, dt)
			writeF(data, p*nchannels+c, dt, v*a)
		}
	}
}

// DivAlpha reverses MultAlpha, unpremultiplying alpha; values are clamped
// against division-by-zero by leaving zero-alpha pixels untouched.
func DivAlpha(data []byte, npixels, nchannels, alphachan int, dt DataType) {
	if alphachan < 0 || alphachan >= nchannels {
		return
	}
	one := dt.OneValueInv()
	for p := 0; p < npixels; p++ {
		a := sampleF(data, p*nchannels+alphachan, dt) * one
		if a <= 0 {
			continue
		}
		for c := 0; c < nchannels; c++ {
			if c == alphachan {
				continue
			}
			v := sampleF(data, p*nchannels+c, dt)
			writeF(data, p*nchannels+c, dt, v/a)
		}
	}
}

// GenRfaceids computes the "resolution-sorted" face id permutation used by
// the writer to cluster same-resolution faces contiguously within a level
// (PtexUtils::genRfaceids): rfaceid[faceid] is the position of faceid
// within that ordering, and faceid[rfaceid] is its inverse.
func GenRfaceids(faces []FaceInfo) (rfaceid []uint32, faceid []uint32) {
	n := len(faces)
	faceid = make([]uint32, n)
	for i := range faceid {
		faceid[i] = uint32(i)
	}
	// Stable sort by minDimLog2 descending: faces with the larger smaller
	// dimension come first; equal keys keep faceid order.
	sortByResDesc(faceid, faces)
	rfaceid = make([]uint32, n)
	for pos, fid := range faceid {
		rfaceid[fid] = uint32(pos)
	}
	return rfaceid, faceid
}

// minDimLog2 is the rfaceid sort key: a face's smaller log2 dimension,
// with constant faces (which carry no mip chain) pinned to 1, so they sort
// after every face whose smaller log2 dimension exceeds 1, among faces
// with key 1 in faceid order, and before faces with key 0.
func minDimLog2(fi FaceInfo) int {
	if fi.IsConstant() {
		return 1
	}
	u, v := int(fi.Res.ULog2), int(fi.Res.VLog2)
	if v < u {
		return v
	}
	return u
}

func sortByResDesc(ids []uint32, faces []FaceInfo) {
	// Insertion sort: mesh face counts are large in principle but this
	// helper runs once per write and elsewhere in the pack (e.g. the
	// roaring-bitmap tile directory filter) similarly-sized orderings are
	// produced with simple, obviously-correct sorts rather than reaching
	// for sort.Slice's interface overhead in a hot path.
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && minDimLog2(faces[ids[j-1]]) < minDimLog2(faces[ids[j]]) {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			j--
		}
	}
}
