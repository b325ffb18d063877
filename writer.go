package ptex

import (
	"bytes"
	"compress/zlib"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Writer builds a new ptex file (the main writer, spec.md section 4.5/6,
// component C6) or appends edit records to an existing one (the
// incremental writer). Both modes acquire the lock file next to the
// output path before doing anything else, matching PtexWriter.cpp.
type Writer struct {
	path        string
	meshType    MeshType
	dataType    DataType
	nchannels   int
	alphaChan   int32
	nfaces      int
	genMipmaps  bool
	uBorder     BorderMode
	vBorder     BorderMode
	incremental bool

	lock *lockFile

	faces     []FaceInfo
	written   []bool
	constData []byte
	level0    []faceBlock
	meta      *MetaData

	// incremental-mode state: edits are appended directly to the target
	// file rather than spooled and reassembled.
	editFile *os.File
	extPos   int64 // file offset of ExtHeader.EditDataPos, 0 if the file predates ExtHeader

	err    error
	closed bool
}

// faceBlock is one face's encoded level-0 body, held in memory until
// Close assembles the final file. Mip reductions are generated from this
// same in-memory pixel data rather than a temp-file round trip, since a
// single-process writer has no need to spill level-0 data to disk before
// it's read back.
type faceBlock struct {
	faceid int32
	fi     FaceInfo
	pixels []byte // decoded, full-resolution pixels in this face's native Res
}

// OpenWriter begins a new file, or a full rewrite of path, per spec.md's
// Writer.open(path, meshType, dataType, nchan, alphaChan, nfaces,
// genMipmaps). The lock file is acquired immediately and held until
// Close or Discard. Named OpenWriter (not Open) to stay distinct from the
// reader-side package function Open.
func OpenWriter(path string, meshType MeshType, dataType DataType, nchannels int, alphaChan int32, nfaces int, genMipmaps bool) (*Writer, error) {
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	w := &Writer{
		path:       path,
		meshType:   meshType,
		dataType:   dataType,
		nchannels:  nchannels,
		alphaChan:  alphaChan,
		nfaces:     nfaces,
		genMipmaps: genMipmaps,
		lock:       lock,
		faces:      make([]FaceInfo, nfaces),
		written:    make([]bool, nfaces),
		constData:  make([]byte, nfaces*dataType.Size()*nchannels),
		meta:       newMetaData(),
	}
	return w, nil
}

// EditWriter opens path for incremental editing: et_editfacedata/
// et_editmetadata records are appended without rewriting the existing
// level data, per spec.md's Writer.edit(path, incremental, ...). Only
// incremental=true is supported by this writer; a non-incremental edit is
// a full rewrite and should go through OpenWriter against a freshly
// read-back FaceInfo set instead.
func EditWriter(path string, incremental bool) (*Writer, error) {
	if !incremental {
		return nil, newError(KindWriterIO, path, "non-incremental edit requires OpenWriter + full rewrite")
	}
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		lock.release()
		return nil, wrapError(KindWriterIO, path, err, "open file for incremental edit")
	}
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		f.Close()
		lock.release()
		return nil, wrapError(KindTruncatedOrCorrupt, path, err, "read header")
	}
	hdr, err := unmarshalHeader(hdrBuf)
	if err != nil {
		f.Close()
		lock.release()
		return nil, err
	}
	var ext ExtHeader
	extPos := int64(0)
	if hdr.ExtHeaderSize > 0 {
		extBuf := make([]byte, ExtHeaderSize)
		if _, err := io.ReadFull(f, extBuf); err != nil {
			f.Close()
			lock.release()
			return nil, wrapError(KindTruncatedOrCorrupt, path, err, "read ext header")
		}
		ext, err = unmarshalExtHeader(extBuf)
		if err != nil {
			f.Close()
			lock.release()
			return nil, err
		}
		extPos = int64(HeaderSize)
	}
	if ext.EditDataPos != 0 {
		extPos = 0 // EditDataPos already points at the first edit record; keep it
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		lock.release()
		return nil, wrapError(KindWriterIO, path, err, "seek to file end")
	}
	return &Writer{
		path:        path,
		meshType:    hdr.MeshType,
		dataType:    hdr.DataType,
		nchannels:   int(hdr.NChannels),
		alphaChan:   hdr.AlphaChan,
		nfaces:      int(hdr.NFaces),
		incremental: true,
		lock:        lock,
		editFile:    f,
		extPos:      extPos,
		meta:        newMetaData(),
	}, nil
}

// SetBorderModes configures the u/v border handling recorded in the
// output ExtHeader (REDESIGN FLAGS #1: exposed as an explicit BorderMode
// enum rather than implied by mesh topology).
func (w *Writer) SetBorderModes(u, v BorderMode) {
	w.uBorder, w.vBorder = u, v
}

// WriteMeta adds one metadata key/value pair to the file or edit batch.
func (w *Writer) WriteMeta(key string, typ MetaDataType, count int, value []byte) {
	w.meta.SetValue(key, typ, count, value)
}

func (w *Writer) pixelSize() int { return w.dataType.Size() * w.nchannels }

// WriteConstantFace records a face whose entire surface is a single pixel
// value; it is stored only in the per-face const-data array, never in a
// level (spec.md section 4.5, "if the pixels are constant, store the
// value in the per-face const-data array").
func (w *Writer) WriteConstantFace(id int, info FaceInfo, value []byte) error {
	if w.incremental {
		return w.writeEditFace(id, info, value, true)
	}
	if id < 0 || id >= w.nfaces {
		return newError(KindOutOfRange, w.path, "face id out of range")
	}
	ps := w.pixelSize()
	if len(value) < ps {
		return newError(KindOutOfRange, w.path, "constant face value too short")
	}
	info.setConstant(true)
	w.faces[id] = info
	w.written[id] = true
	copy(w.constData[id*ps:(id+1)*ps], value[:ps])
	return nil
}

// WriteFace records face id's full-resolution pixel data, stride bytes
// per row. A face whose pixels all turn out to be constant is
// automatically demoted to the const-data array, matching the original's
// own constant-detection on write.
func (w *Writer) WriteFace(id int, info FaceInfo, data []byte, stride int) error {
	if w.incremental {
		return w.writeEditFace(id, info, data, false)
	}
	if id < 0 || id >= w.nfaces {
		return newError(KindOutOfRange, w.path, "face id out of range")
	}
	ps := w.pixelSize()
	ures, vres := info.Res.U(), info.Res.V()
	if stride == 0 {
		stride = ures * ps
	}
	packed := make([]byte, ures*vres*ps)
	CopyPixels(data, stride, packed, ures*ps, vres, ures*ps)

	if IsConstant(packed, ures*ps, ures, vres, ps) {
		return w.WriteConstantFace(id, info, packed[:ps])
	}

	info.setConstant(false)
	w.faces[id] = info
	w.written[id] = true
	copy(w.constData[id*ps:(id+1)*ps], packed[:ps]) // representative sample for neighborhood-constant checks
	w.level0 = append(w.level0, faceBlock{faceid: int32(id), fi: info, pixels: packed})
	return nil
}

// writeEditFace appends one et_editfacedata record to the incremental
// writer's target file: faceid + FaceInfo + FaceDataHeader + block. Edit
// blocks are zlib-compressed the same way main-writer level blocks are
// (REDESIGN: the original leaves incremental edits undeflated since they
// are expected to be consolidated soon by a main-writer pass; this
// rendition compresses them anyway so Reader.applyEditFaceData, which
// already unconditionally inflates any non-constant block, needs no
// separate uncompressed code path — see DESIGN.md).
func (w *Writer) writeEditFace(id int, info FaceInfo, data []byte, constant bool) error {
	if w.err != nil {
		return w.err
	}
	ps := w.pixelSize()
	var fdh FaceDataHeader
	var block []byte
	if constant {
		fdh = MakeFaceDataHeader(uint32(ps), EncConstant)
		block = data[:ps]
	} else {
		data = append([]byte(nil), data[:info.Res.Size()*ps]...) // leave the caller's buffer untouched
		EncodeDifference(data, info.Res.Size(), w.nchannels, w.dataType)
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			w.err = wrapError(KindWriterIO, w.path, err, "deflate edit face block")
			return w.err
		}
		if err := zw.Close(); err != nil {
			w.err = wrapError(KindWriterIO, w.path, err, "deflate edit face block")
			return w.err
		}
		fdh = MakeFaceDataHeader(uint32(buf.Len()), EncDiffZipped)
		block = buf.Bytes()
	}
	info.setConstant(constant)
	info.setHasEdits(true)

	rec := make([]byte, 0, 4+faceInfoSize+faceDataHeaderSize+len(block))
	idBuf := make([]byte, 4)
	putLE32(idBuf, uint32(id))
	rec = append(rec, idBuf...)
	rec = append(rec, marshalFaceInfo(info)...)
	rec = append(rec, marshalFaceDataHeader(fdh)...)
	rec = append(rec, block...)
	return w.appendEditRecord(EditFaceData, rec)
}

// appendEditRecord writes [type u8][size u32][body] at the writer's
// current edit-append position (the end of the file), and, if the file
// had no ExtHeader.EditDataPos recorded yet, patches it on the first edit
// of this session to point at that record.
func (w *Writer) appendEditRecord(typ EditType, body []byte) error {
	pos, err := w.editFile.Seek(0, io.SeekCurrent)
	if err != nil {
		w.err = wrapError(KindWriterIO, w.path, err, "seek edit file")
		return w.err
	}
	head := make([]byte, 5)
	head[0] = byte(typ)
	putLE32(head[1:], uint32(len(body)))
	if _, err := w.editFile.Write(head); err != nil {
		w.err = wrapError(KindWriterIO, w.path, err, "write edit record header")
		return w.err
	}
	if _, err := w.editFile.Write(body); err != nil {
		w.err = wrapError(KindWriterIO, w.path, err, "write edit record body")
		return w.err
	}
	if w.extPos != 0 {
		if err := w.patchEditDataPos(pos); err != nil {
			w.err = err
			return w.err
		}
		w.extPos = 0 // only patch once per session; ExtHeader.EditDataPos already points at the run's first record
	}
	return nil
}

func (w *Writer) patchEditDataPos(pos int64) error {
	buf := make([]byte, 8)
	off := w.extPos + 8 /* UBorderMode+VBorderMode */ + 4 /* LMDHeaderZipSize */ + 8 /* LargeMetaDataSize */
	putLE64(buf, uint64(pos))
	if _, err := w.editFile.WriteAt(buf, off); err != nil {
		return wrapError(KindWriterIO, w.path, err, "patch edit data position")
	}
	return nil
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// Close finalizes the write. For the main writer this assembles the
// complete file (header, face info, const data, level data, metadata)
// into "<path>.new" and renames it over path; for the incremental writer
// it flushes any pending metadata edit record and closes the target file
// in place. The lock file is always released, even on error.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	defer w.lock.release()

	if w.incremental {
		defer w.editFile.Close()
		if w.meta.NumKeys() > 0 {
			if err := w.appendEditRecord(EditMetaData, encodeMetaEntries(w.meta, false)); err != nil {
				return err
			}
		}
		return w.err
	}

	for i, ok := range w.written {
		if !ok {
			return newError(KindWriterIO, w.path, "face "+itoa(i)+" was never written")
		}
	}

	levels, err := w.buildLevels()
	if err != nil {
		return err
	}

	tmpPath := w.path + ".new"
	f, err := os.Create(tmpPath)
	if err != nil {
		return wrapError(KindWriterIO, w.path, err, "create output file")
	}
	if err := w.assemble(f, levels); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapError(KindWriterIO, w.path, err, "close output file")
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return wrapError(KindWriterIO, w.path, err, "rename output file into place")
	}
	return nil
}

// Discard releases the writer's lock without producing output, for a
// caller that abandons a write in progress (e.g. after WriteFace errors).
func (w *Writer) Discard() {
	if w.closed {
		return
	}
	w.closed = true
	if w.incremental {
		w.editFile.Close()
	}
	w.lock.release()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// buildLevels generates the full mip pyramid: level 0 holds every
// non-constant face at native resolution; each subsequent level halves
// every still-eligible face's resolution by 2x box filtering, stopping a
// face once its smaller log2 dimension would drop below MinReductionLog2
// (spec.md section 4.5), matching Reader.facesPresentAtLevel's read-side
// rule. Triangle meshes use the isotropic ReduceTri kernel; quad meshes
// halve both axes together via Reduce.
func (w *Writer) buildLevels() ([][]faceBlock, error) {
	_, faceid := GenRfaceids(w.faces)
	ordered := make([]*faceBlock, 0, len(w.level0))
	byFace := make(map[int32]*faceBlock, len(w.level0))
	for i := range w.level0 {
		byFace[w.level0[i].faceid] = &w.level0[i]
	}
	for _, fid := range faceid {
		if fb, ok := byFace[int32(fid)]; ok {
			ordered = append(ordered, fb)
		}
	}

	levels := [][]faceBlock{cloneBlocks(ordered)}
	cur := ordered
	level := 0
	for {
		if !w.genMipmaps {
			break
		}
		var next []*faceBlock
		for _, fb := range cur {
			minLog2 := int(fb.fi.Res.ULog2)
			if int(fb.fi.Res.VLog2) < minLog2 {
				minLog2 = int(fb.fi.Res.VLog2)
			}
			if minLog2 <= MinReductionLog2 {
				continue
			}
			reduced, err := w.reduceFace(fb)
			if err != nil {
				return nil, err
			}
			next = append(next, reduced)
		}
		if len(next) == 0 {
			break
		}
		levels = append(levels, cloneBlocks(next))
		cur = next
		level++
	}
	return levels, nil
}

func cloneBlocks(src []*faceBlock) []faceBlock {
	out := make([]faceBlock, len(src))
	for i, fb := range src {
		out[i] = *fb
	}
	return out
}

// reduceFace halves fb's pixel buffer by one 2:1 step, returning a new
// faceBlock at the reduced Res (the source faceBlock's own pixels and Res
// are left untouched so level N can still be derived from level N-1's
// in-memory state).
func (w *Writer) reduceFace(fb *faceBlock) (*faceBlock, error) {
	ps := w.pixelSize()
	ures, vres := fb.fi.Res.U(), fb.fi.Res.V()
	res := fb.fi.Res
	res.ULog2--
	res.VLog2--
	if w.meshType == MeshTriangle {
		if ures != vres {
			return nil, newError(KindOutOfRange, w.path, "triangle face must be square to reduce")
		}
		dst := make([]byte, (ures/2)*(vres/2)*ps)
		ReduceTri(fb.pixels, ures*ps, ures, dst, (ures/2)*ps, w.dataType, w.nchannels)
		nfi := fb.fi
		nfi.Res = res
		return &faceBlock{faceid: fb.faceid, fi: nfi, pixels: dst}, nil
	}
	dst := make([]byte, res.U()*res.V()*ps)
	Reduce(fb.pixels, ures*ps, ures, vres, dst, res.U()*ps, w.dataType, w.nchannels)
	nfi := fb.fi
	nfi.Res = res
	return &faceBlock{faceid: fb.faceid, fi: nfi, pixels: dst}, nil
}

// assemble writes the complete file body to f: Header, ExtHeader,
// FaceInfo[], zipped const data, LevelInfo[], each level's FaceDataHeader
// array + blocks, then zipped small/large metadata. Level bodies for
// separate levels are encoded concurrently (each level's faces are
// independent once buildLevels has produced their pixel buffers).
func (w *Writer) assemble(f *os.File, levels [][]faceBlock) error {
	ps := w.pixelSize()

	var g errgroup.Group
	encoded := make([][]byte, len(levels))
	headers := make([][]byte, len(levels))
	for li, lvl := range levels {
		li, lvl := li, lvl
		g.Go(func() error {
			body, hdrs, err := w.encodeLevel(lvl, ps)
			if err != nil {
				return err
			}
			encoded[li] = body
			headers[li] = hdrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	faceInfoZip, err := zipBytes(marshalAllFaceInfo(w.faces))
	if err != nil {
		return wrapError(KindWriterIO, w.path, err, "deflate face info")
	}
	constZip, err := zipBytes(w.constData)
	if err != nil {
		return wrapError(KindWriterIO, w.path, err, "deflate const data")
	}
	metaZip, lmdHeaderZip, largeBlob, err := w.buildMetaSections()
	if err != nil {
		return err
	}

	levelInfos := make([]LevelInfo, len(levels))
	levelDataSize := uint64(0)
	for i := range levels {
		levelInfos[i] = LevelInfo{
			LevelDataSize:   uint64(len(headers[i]) + len(encoded[i])),
			LevelHeaderSize: uint32(len(headers[i])),
			NFaces:          uint32(len(levels[i])),
		}
		levelDataSize += levelInfos[i].LevelDataSize
	}

	hdr := Header{
		Magic:           magic,
		Version:         CurrentVersion,
		MeshType:        w.meshType,
		DataType:        w.dataType,
		AlphaChan:       w.alphaChan,
		NChannels:       uint16(w.nchannels),
		NLevels:         uint16(len(levels)),
		NFaces:          uint32(w.nfaces),
		ExtHeaderSize:   ExtHeaderSize,
		FaceInfoSize:    uint32(len(faceInfoZip)),
		ConstDataSize:   uint32(len(constZip)),
		LevelInfoSize:   uint32(len(levelInfos) * LevelInfoSize),
		LevelDataSize:   uint32(levelDataSize),
		MetaDataZipSize: uint32(len(metaZip)),
	}
	ext := ExtHeader{
		UBorderMode:       w.uBorder,
		VBorderMode:       w.vBorder,
		LMDHeaderZipSize:  uint32(len(lmdHeaderZip)),
		LargeMetaDataSize: uint64(len(largeBlob)),
	}

	writers := []func() error{
		func() error { return writeAll(f, hdr.marshal()) },
		func() error { return writeAll(f, ext.marshal()) },
		func() error { return writeAll(f, faceInfoZip) },
		func() error { return writeAll(f, constZip) },
	}
	for _, wr := range writers {
		if err := wr(); err != nil {
			return wrapError(KindWriterIO, w.path, err, "write header sections")
		}
	}
	for _, li := range levelInfos {
		if err := writeAll(f, li.marshal()); err != nil {
			return wrapError(KindWriterIO, w.path, err, "write level info")
		}
	}
	for i := range levels {
		if err := writeAll(f, headers[i]); err != nil {
			return wrapError(KindWriterIO, w.path, err, "write level headers")
		}
		if err := writeAll(f, encoded[i]); err != nil {
			return wrapError(KindWriterIO, w.path, err, "write level data")
		}
	}
	if err := writeAll(f, metaZip); err != nil {
		return wrapError(KindWriterIO, w.path, err, "write metadata")
	}
	if err := writeAll(f, lmdHeaderZip); err != nil {
		return wrapError(KindWriterIO, w.path, err, "write large metadata header")
	}
	if err := writeAll(f, largeBlob); err != nil {
		return wrapError(KindWriterIO, w.path, err, "write large metadata values")
	}
	return nil
}

// buildMetaSections splits w.meta's entries into the small (inline) and
// large sections per spec.md section 4.4: a value longer than
// smallMetaDataLimit is promoted out of the zlib-compressed small section
// into a raw (uncompressed) blob addressed by offset/size pairs recorded
// in their own small zlib-compressed header, mirroring Reader.readMetaData
// and GetLargeMetaValue.
func (w *Writer) buildMetaSections() (smallZip, lmdHeaderZip, largeBlob []byte, err error) {
	small := newMetaData()
	large := newMetaData()
	for _, key := range w.meta.order {
		e := w.meta.entries[key]
		if len(e.value) > smallMetaDataLimit {
			offset := uint64(len(largeBlob))
			largeBlob = append(largeBlob, e.value...)
			large.set(key, e.typ, e.count, nil, true, offset, uint32(len(e.value)))
			continue
		}
		small.set(key, e.typ, e.count, append([]byte(nil), e.value...), false, 0, 0)
	}
	smallZip, err = zipBytes(encodeMetaEntries(small, false))
	if err != nil {
		return nil, nil, nil, wrapError(KindWriterIO, w.path, err, "deflate metadata")
	}
	if large.NumKeys() == 0 {
		return smallZip, nil, nil, nil
	}
	lmdHeaderZip, err = zipBytes(encodeMetaEntries(large, true))
	if err != nil {
		return nil, nil, nil, wrapError(KindWriterIO, w.path, err, "deflate large metadata header")
	}
	return smallZip, lmdHeaderZip, largeBlob, nil
}

// encodeLevel produces one level's FaceDataHeader array and concatenated
// blocks: on a quad mesh a face is tiled if its uncompressed size exceeds
// TileSize; every other face is difference-coded then zlib-deflated.
func (w *Writer) encodeLevel(lvl []faceBlock, ps int) (body []byte, hdrs []byte, err error) {
	hdrs = make([]byte, 0, len(lvl)*faceDataHeaderSize)
	for _, fb := range lvl {
		block, enc, err := w.encodeFace(fb, ps)
		if err != nil {
			return nil, nil, err
		}
		hdrs = append(hdrs, marshalFaceDataHeader(MakeFaceDataHeader(uint32(len(block)), enc))...)
		body = append(body, block...)
	}
	return body, hdrs, nil
}

// encodeFace encodes one face's full pixel buffer per spec.md section 4.1:
// tiled if it is a quad-mesh face larger than TileSize uncompressed,
// otherwise (including every triangle-mesh face) a single
// difference-coded zlib block.
func (w *Writer) encodeFace(fb faceBlock, ps int) ([]byte, Encoding, error) {
	ures, vres := fb.fi.Res.U(), fb.fi.Res.V()
	uncompressed := ures * vres * ps
	if w.meshType == MeshQuad && uncompressed > TileSize {
		return w.encodeTiledFace(fb, ps)
	}
	data := append([]byte(nil), fb.pixels...)
	EncodeDifference(data, ures*vres, w.nchannels, w.dataType)
	zipped, err := zipBytes(data)
	if err != nil {
		return nil, 0, wrapError(KindWriterIO, w.path, err, "deflate face block")
	}
	return zipped, EncDiffZipped, nil
}

// encodeTiledFace splits a large face into a grid of tiles no larger than
// BlockSize uncompressed each, independently difference-coded and
// deflated, prefixed by the tile Res (spec.md section 4.1 "tiled"
// encoding; mirrors Reader.decodeTiledBlock's layout).
func (w *Writer) encodeTiledFace(fb faceBlock, ps int) ([]byte, Encoding, error) {
	ures, vres := fb.fi.Res.U(), fb.fi.Res.V()
	tileRes := chooseTileRes(fb.fi.Res, ps)
	tu, tv := tileRes.U(), tileRes.V()
	ntilesU, ntilesV := ures/tu, vres/tv

	out := []byte{byte(uint8(tileRes.ULog2)), byte(uint8(tileRes.VLog2))}
	for ty := 0; ty < ntilesV; ty++ {
		for tx := 0; tx < ntilesU; tx++ {
			tile := make([]byte, tu*tv*ps)
			for row := 0; row < tv; row++ {
				srcOff := ((ty*tv+row)*ures + tx*tu) * ps
				dstOff := row * tu * ps
				copy(tile[dstOff:dstOff+tu*ps], fb.pixels[srcOff:srcOff+tu*ps])
			}
			EncodeDifference(tile, tu*tv, w.nchannels, w.dataType)
			zipped, err := zipBytes(tile)
			if err != nil {
				return nil, 0, wrapError(KindWriterIO, w.path, err, "deflate tile")
			}
			out = append(out, marshalFaceDataHeader(MakeFaceDataHeader(uint32(len(zipped)), EncDiffZipped))...)
			out = append(out, zipped...)
		}
	}
	return out, EncTiled, nil
}

// chooseTileRes picks the largest power-of-two tile resolution no bigger
// than BlockSize uncompressed bytes that evenly divides res on both axes.
func chooseTileRes(res Res, ps int) Res {
	tile := res
	for tile.U()*tile.V()*ps > BlockSize && (tile.ULog2 > 0 || tile.VLog2 > 0) {
		if tile.ULog2 >= tile.VLog2 && tile.ULog2 > 0 {
			tile.ULog2--
		} else if tile.VLog2 > 0 {
			tile.VLog2--
		} else {
			break
		}
	}
	return tile
}

func marshalAllFaceInfo(faces []FaceInfo) []byte {
	out := make([]byte, 0, len(faces)*faceInfoSize)
	for _, fi := range faces {
		out = append(out, marshalFaceInfo(fi)...)
	}
	return out
}

func zipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAll(f *os.File, b []byte) error {
	_, err := f.Write(b)
	return errors.WithStack(err)
}
