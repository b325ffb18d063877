package ptex

import (
	"bytes"
	"compress/zlib"
	"io"
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// Reader is an open ptex file (spec.md section 3/5, component C5): the
// public Texture handle returned by Cache.Get or Open. It lazily loads
// each mipmap level's face-data section on first access and caches
// dynamically-computed reductions per spec.md section 4.6.
type Reader struct {
	cacheItem // embedded: reference counting and LRU membership (no-op if cache == nil)

	path   string
	cache  *Cache
	handle InputHandle
	hio    InputHandler

	mu sync.Mutex // serializes lazy loads and reopen against concurrent readers

	header    Header
	ext       ExtHeader
	hasExt    bool
	faces     []FaceInfo
	constData []byte // NFaces * pixelSize, always resident (small, loaded eagerly)
	meta      *MetaData

	levels       []*levelData // levels[0] is full resolution; lazily populated
	metaSecStart int64        // file offset of the metadata section
	largeMDStart int64        // file offset of the large-metadata section
	levelStarts  []int64      // file offset of each level's data section

	reductions         sync.Map // reductionKey -> []byte, per-reader cache (OPEN QUESTION DECISIONS)
	overrideReductions sync.Map // reductionKey -> []byte, reductions derived from an edit override

	rfaceid []uint32 // rfaceid[faceid] -> resolution-sorted position (PtexUtils::genRfaceids)
	faceid  []uint32 // inverse of rfaceid

	editOverrides map[int]*faceOverride // faceid -> replacement data from an et_editfacedata record
	editBytes     int64                 // total bytes consumed by edit records, for NeedsConsolidation

	ok     bool
	errMsg string
}

// faceOverride is a full-resolution replacement for a face installed by
// an edit record (spec.md section 3/4.5: "Edit record"). Only full-res
// overrides are supported; GetData at any other resolution for an edited
// face is served by re-deriving reductions from the override (see
// getOverrideData), never from the file's stored mip levels.
type faceOverride struct {
	info      FaceInfo
	pixels    []byte // decoded, full resolution
	constant  bool
}

// levelData is one lazily-loaded mipmap level.
type levelData struct {
	info    LevelInfo
	loaded  bool
	offsets []int64         // byte offset, within the level section, of each present face's block
	headers []FaceDataHeader // one per present face, same order as offsets
	faceIdx []int32          // faceIdx[i] = the global faceid stored at slot i
	raw     []byte           // the level's full decoded-but-still-compressed-per-block byte range, held resident while loaded
}

// reductionKey identifies a dynamically-computed (non-mipmap) reduction:
// a face reduced to an arbitrary resolution not equal to any stored
// level, per spec.md section 4.6.
type reductionKey struct {
	FaceID int32
	Res    Res
}

// Open opens path directly, with no cache: the returned Reader owns its
// own file handle and all loaded data for its lifetime, released on
// Release. Matches spec.md's PtexTexture::open when used without a Cache.
func Open(path string) (*Reader, error) {
	return openWithHandler(path, nil, NewDefaultInputHandler())
}

// openReader is Cache.Get's entry point: same as Open, but the resulting
// Reader is owned by c's file LRU list.
func openReader(path string, c *Cache) (*Reader, error) {
	return openWithHandler(path, c, c.io)
}

func openWithHandler(path string, c *Cache, hio InputHandler) (*Reader, error) {
	r := &Reader{path: path, cache: c, hio: hio}
	if err := r.load(); err != nil {
		return nil, err
	}
	if c != nil {
		r.cacheItem.initItem(c.files, 0, r.destroy)
	} else {
		r.cacheItem.initStandalone(r.destroy)
	}
	runtime.SetFinalizer(r, (*Reader).finalize)
	return r, nil
}

func (r *Reader) finalize() {
	if r.handle != nil {
		r.hio.Close(r.handle)
	}
}

// Release drops the caller's reference, per spec.md's Texture.release().
func (r *Reader) Release() { r.unref() }

func (r *Reader) destroy() {
	if r.handle != nil {
		r.hio.Close(r.handle)
		r.handle = nil
	}
	if r.cache != nil {
		r.cache.noteFileClosed()
	}
	runtime.SetFinalizer(r, nil)
}

// load opens the file and reads the header, face-info array, constant
// data, level-info table and metadata header — everything needed before
// any getData call, but none of a level's actual pixel blocks.
func (r *Reader) load() error {
	h, err := r.hio.Open(r.path)
	if err != nil {
		return wrapError(KindFileNotFound, r.path, err, "open")
	}
	r.handle = h

	hdrBuf := make([]byte, HeaderSize)
	if err := r.readAt(0, hdrBuf); err != nil {
		return wrapError(KindTruncatedOrCorrupt, r.path, err, "read header")
	}
	hdr, err := unmarshalHeader(hdrBuf)
	if err != nil {
		return err
	}
	if hdr.Magic != magic {
		return newError(KindBadMagic, r.path, "magic mismatch")
	}
	if hdr.Version != CurrentVersion {
		return newError(KindUnsupportedVersion, r.path, "unsupported version")
	}
	r.header = hdr

	off := int64(HeaderSize)
	if hdr.ExtHeaderSize > 0 {
		extBuf := make([]byte, ExtHeaderSize)
		if err := r.readAt(off, extBuf); err != nil {
			return wrapError(KindTruncatedOrCorrupt, r.path, err, "read ext header")
		}
		ext, err := unmarshalExtHeader(extBuf)
		if err != nil {
			return err
		}
		r.ext = ext
		r.hasExt = true
		off += int64(hdr.ExtHeaderSize)
	}

	faces, err := r.readFaceInfos(off, int(hdr.NFaces))
	if err != nil {
		return err
	}
	r.faces = faces
	off += int64(hdr.FaceInfoSize)
	r.rfaceid, r.faceid = GenRfaceids(r.faces)

	constData, err := r.readZippedSection(off, int64(hdr.ConstDataSize), int(hdr.NFaces)*hdr.PixelSize())
	if err != nil {
		return wrapError(KindTruncatedOrCorrupt, r.path, err, "read const data")
	}
	r.constData = constData
	off += int64(hdr.ConstDataSize)

	levelInfos, err := r.readLevelInfos(off, int(hdr.NLevels))
	if err != nil {
		return err
	}
	off += int64(hdr.LevelInfoSize)

	r.levels = make([]*levelData, len(levelInfos))
	r.levelStarts = make([]int64, len(levelInfos))
	for i, li := range levelInfos {
		r.levels[i] = &levelData{info: li}
		r.levelStarts[i] = off
		off += int64(li.LevelDataSize)
	}

	r.metaSecStart = off
	off += int64(hdr.MetaDataZipSize)
	r.largeMDStart = off

	meta, err := r.readMetaData()
	if err != nil {
		return err
	}
	r.meta = meta

	editStart := r.largeMDStart + int64(r.ext.LMDHeaderZipSize) + int64(r.ext.LargeMetaDataSize)
	if r.hasExt && r.ext.EditDataPos != 0 {
		editStart = int64(r.ext.EditDataPos)
	}
	if err := r.scanEdits(editStart); err != nil {
		return err
	}

	r.ok = true
	return nil
}

// scanEdits replays every et_editfacedata/et_editmetadata record found
// starting at off, per spec.md section 4.4/6: "Readers replay edits at
// open time." Scanning stops at the first short read, which is the
// ordinary way this reader recognizes end-of-file since InputHandler
// exposes no separate Size() call.
func (r *Reader) scanEdits(off int64) error {
	r.editOverrides = make(map[int]*faceOverride)
	const recHeaderSize = 1 + 4
	for {
		head := make([]byte, recHeaderSize)
		if err := r.readAt(off, head); err != nil {
			return nil // short/absent read: no more edit records, not an error
		}
		typ := EditType(head[0])
		size := int64(le32(head[1:]))
		off += recHeaderSize
		body := make([]byte, size)
		if size > 0 {
			if err := r.readAt(off, body); err != nil {
				return nil // truncated trailing record: stop, keep what we have
			}
		}
		off += size
		r.editBytes += recHeaderSize + size

		switch typ {
		case EditFaceData:
			if err := r.applyEditFaceData(body); err != nil {
				return err
			}
		case EditMetaData:
			if err := decodeMetaEntries(r.meta, body, false); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) applyEditFaceData(body []byte) error {
	if len(body) < 4+faceInfoSize+faceDataHeaderSize {
		return newError(KindTruncatedOrCorrupt, r.path, "short edit-face-data record")
	}
	faceid := int(le32(body))
	info, err := unmarshalFaceInfo(body[4:])
	if err != nil {
		return err
	}
	fdh, err := unmarshalFaceDataHeader(body[4+faceInfoSize:])
	if err != nil {
		return err
	}
	block := body[4+faceInfoSize+faceDataHeaderSize:]
	ps := r.pixelSize()
	ov := &faceOverride{info: info}
	switch fdh.EncodingField() {
	case EncConstant:
		ov.constant = true
		ov.pixels = append([]byte(nil), block[:ps]...)
	default:
		pixels, err := inflateExact(block, info.Res.Size()*ps)
		if err != nil {
			return wrapError(KindTruncatedOrCorrupt, r.path, err, "inflate edit face block")
		}
		if fdh.EncodingField() == EncDiffZipped {
			DecodeDifference(pixels, info.Res.Size(), int(r.header.NChannels), r.header.DataType)
		}
		ov.pixels = pixels
	}
	if faceid >= 0 && faceid < len(r.faces) {
		info.setHasEdits(true)
		r.faces[faceid] = info
	}
	r.editOverrides[faceid] = ov
	return nil
}

// NeedsConsolidation reports whether the accumulated edit-record bytes
// are large relative to the file's main level data, the heuristic named
// in SPEC_FULL.md's SUPPLEMENTED FEATURES #3: callers use this to decide
// when to run a full-rewrite pass instead of continuing to append edits.
func (r *Reader) NeedsConsolidation() bool {
	if r.header.LevelDataSize == 0 {
		return r.editBytes > 0
	}
	return r.editBytes*4 > int64(r.header.LevelDataSize)
}

func (r *Reader) readAt(off int64, buf []byte) error {
	if err := r.hio.Seek(r.handle, off); err != nil {
		return err
	}
	n, err := r.hio.Read(r.handle, buf)
	if r.cache != nil {
		r.cache.noteBlockRead(int64(n))
	}
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return err
}

func (r *Reader) readFaceInfos(off int64, n int) ([]FaceInfo, error) {
	buf, err := r.readZippedSection(off, int64(r.header.FaceInfoSize), n*faceInfoSize)
	if err != nil {
		return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "read face infos")
	}
	out := make([]FaceInfo, n)
	for i := 0; i < n; i++ {
		fi, err := unmarshalFaceInfo(buf[i*faceInfoSize:])
		if err != nil {
			return nil, err
		}
		out[i] = fi
	}
	return out, nil
}

func (r *Reader) readLevelInfos(off int64, n int) ([]LevelInfo, error) {
	buf := make([]byte, n*LevelInfoSize)
	if err := r.readAt(off, buf); err != nil {
		return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "read level infos")
	}
	out := make([]LevelInfo, n)
	for i := 0; i < n; i++ {
		li, err := unmarshalLevelInfo(buf[i*LevelInfoSize:])
		if err != nil {
			return nil, err
		}
		out[i] = li
	}
	return out, nil
}

// readZippedSection reads a zlib-compressed section of zipSize compressed
// bytes at off and inflates it to exactly wantSize decoded bytes.
func (r *Reader) readZippedSection(off int64, zipSize int64, wantSize int) ([]byte, error) {
	if zipSize == 0 {
		return make([]byte, wantSize), nil
	}
	comp := make([]byte, zipSize)
	if err := r.readAt(off, comp); err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(comp))
	if err != nil {
		return nil, errors.Wrap(err, "zlib open")
	}
	defer zr.Close()
	out := make([]byte, wantSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, errors.Wrap(err, "zlib inflate")
	}
	return out, nil
}

func (r *Reader) readMetaData() (*MetaData, error) {
	m := newMetaData()
	if r.header.MetaDataZipSize == 0 {
		return m, nil
	}
	raw, err := r.readZippedSectionUnsized(r.metaSecStart, int64(r.header.MetaDataZipSize))
	if err != nil {
		return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "read metadata")
	}
	if err := decodeMetaEntries(m, raw, false); err != nil {
		return nil, err
	}
	if r.hasExt && r.ext.LargeMetaDataSize > 0 && r.ext.LMDHeaderZipSize > 0 {
		lmdHdr, err := r.readZippedSectionUnsized(r.largeMDStart, int64(r.ext.LMDHeaderZipSize))
		if err != nil {
			return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "read large metadata header")
		}
		if err := decodeMetaEntries(m, lmdHdr, true); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// readZippedSectionUnsized inflates a zlib section of known compressed
// size whose decoded size is determined by the stream itself (used for
// metadata, where the element count is embedded in the stream rather than
// carried in the Header).
func (r *Reader) readZippedSectionUnsized(off int64, zipSize int64) ([]byte, error) {
	if zipSize == 0 {
		return nil, nil
	}
	comp := make([]byte, zipSize)
	if err := r.readAt(off, comp); err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(comp))
	if err != nil {
		return nil, errors.Wrap(err, "zlib open")
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Ok reports whether the reader is in a usable state. A reader can
// transition to !ok if a lazy load later hits an I/O error; LastError then
// holds that error's message. Later calls are not refused: each still
// attempts its own work and returns its own error.
func (r *Reader) Ok() bool { return r.ok }

// LastError returns the sticky error recorded on the reader, if any.
func (r *Reader) LastError() string { return r.errMsg }

func (r *Reader) fail(err error) error {
	r.mu.Lock()
	r.ok = false
	r.errMsg = err.Error()
	r.mu.Unlock()
	return err
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string { return r.path }

// MeshType returns the file's mesh type.
func (r *Reader) MeshType() MeshType { return r.header.MeshType }

// DataType returns the file's per-channel storage type.
func (r *Reader) DataType() DataType { return r.header.DataType }

// AlphaChannel returns the file's designated alpha channel index, or -1.
func (r *Reader) AlphaChannel() int { return int(r.header.AlphaChan) }

// NumChannels returns the per-pixel channel count.
func (r *Reader) NumChannels() int { return int(r.header.NChannels) }

// NumFaces returns the mesh face count.
func (r *Reader) NumFaces() int { return int(r.header.NFaces) }

// HasEdits reports whether the file carries any edit records.
func (r *Reader) HasEdits() bool { return r.editBytes > 0 }

// GetFaceInfo returns the FaceInfo for faceid.
func (r *Reader) GetFaceInfo(faceid int) (FaceInfo, error) {
	if faceid < 0 || faceid >= len(r.faces) {
		return FaceInfo{}, newError(KindOutOfRange, r.path, "faceid out of range")
	}
	return r.faces[faceid], nil
}

// GetMetaData returns the reader's metadata store. Large entries are
// fetched lazily via MetaData.GetValue's fetch callback, wired here to
// this reader's file handle.
func (r *Reader) GetMetaData() *MetaData { return r.meta }

// MetaValue returns the decoded bytes and type for a metadata key,
// transparently fetching large entries from the file if needed.
func (r *Reader) MetaValue(key string) ([]byte, MetaDataType, error) {
	_, typ, ok := func() (string, MetaDataType, bool) {
		for i := 0; i < r.meta.NumKeys(); i++ {
			if k, t, ok := r.meta.GetKey(i); ok && k == key {
				return k, t, true
			}
		}
		return "", 0, false
	}()
	if !ok {
		return nil, 0, newError(KindOutOfRange, r.path, "no such metadata key")
	}
	v, err := r.meta.GetValue(key, r.GetLargeMetaValue)
	return v, typ, err
}

// GetLargeMetaValue fetches a large-metadata entry's bytes by its
// recorded offset/size within the large-metadata section.
func (r *Reader) GetLargeMetaValue(offset uint64, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	if err := r.readAt(r.largeMDStart+int64(r.ext.LMDHeaderZipSize)+int64(offset), buf); err != nil {
		return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "read large metadata value")
	}
	return buf, nil
}

// pixelSize is the per-pixel byte size implied by the file's DataType and
// channel count.
func (r *Reader) pixelSize() int { return r.header.PixelSize() }

// GetData returns the decoded pixel buffer for faceid at exactly res (no
// scaling): if res matches a stored mipmap level, that level's data is
// returned (loaded lazily); otherwise a dynamic reduction is computed and
// cached per-reader (spec.md section 4.6). A constant face (stored, or
// installed by an edit) is returned as its single pixel value whatever res
// is asked for. Negative-exponent resolutions
// are rejected, matching the original's "reductions below 1 pixel not
// supported" behavior (see DESIGN.md / SPEC_FULL.md Open Question
// Decisions).
func (r *Reader) GetData(faceid int, res Res) ([]byte, error) {
	fi, err := r.GetFaceInfo(faceid)
	if err != nil {
		return nil, err
	}
	if res.ULog2 < 0 || res.VLog2 < 0 {
		return nil, newError(KindOutOfRange, r.path, "reductions below 1 pixel not supported")
	}
	if ov, edited := r.editOverrides[faceid]; edited {
		return r.getOverrideData(faceid, ov, res)
	}
	if fi.IsConstant() {
		return r.constFacePixel(faceid), nil
	}
	if res == fi.Res {
		return r.getFullResData(faceid, fi)
	}
	if res.ULog2 > fi.Res.ULog2 || res.VLog2 > fi.Res.VLog2 {
		return nil, newError(KindOutOfRange, r.path, "enlargement not supported")
	}
	// A stored mipmap level matches exactly when the reduction is uniform
	// across axes (level L holds ulog2-L, vlog2-L for every face) and that
	// face's smaller dimension hasn't already dropped below
	// MinReductionLog2 at that level, per facesPresentAtLevel's rule.
	if du, dv := int(fi.Res.ULog2-res.ULog2), int(fi.Res.VLog2-res.VLog2); du == dv && du < len(r.levels) && r.faceStoredAtLevel(fi, du) {
		return r.getLevelData(faceid, du)
	}
	return r.getReduction(faceid, fi, res)
}

func (r *Reader) constFacePixel(faceid int) []byte {
	ps := r.pixelSize()
	return r.constData[faceid*ps : (faceid+1)*ps]
}

func (r *Reader) getFullResData(faceid int, fi FaceInfo) ([]byte, error) {
	return r.getLevelData(faceid, 0)
}

// getLevelData returns faceid's decoded pixel buffer from mipmap level
// levelIdx, loading that level's face-data section on first access.
func (r *Reader) getLevelData(faceid int, levelIdx int) ([]byte, error) {
	if levelIdx < 0 || levelIdx >= len(r.levels) {
		return nil, newError(KindOutOfRange, r.path, "level index out of range")
	}
	lvl := r.levels[levelIdx]
	r.mu.Lock()
	if !lvl.loaded {
		if err := r.loadLevel(levelIdx); err != nil {
			r.mu.Unlock()
			return nil, r.fail(err)
		}
	}
	r.mu.Unlock()

	slot := -1
	for i, fid := range lvl.faceIdx {
		if int(fid) == faceid {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, newError(KindOutOfRange, r.path, "face absent at this level")
	}
	return r.decodeFaceBlock(lvl, slot, faceid)
}

// loadLevel reads the whole level-data section (FaceDataHeader array plus
// every face's raw, still-compressed block) into memory once; individual
// faces are decompressed on demand by decodeFaceBlock. Caller holds r.mu.
func (r *Reader) loadLevel(levelIdx int) error {
	lvl := r.levels[levelIdx]
	present := r.facesPresentAtLevel(levelIdx)
	n := len(present)
	hdrBytes := make([]byte, n*faceDataHeaderSize)
	if err := r.readAt(r.levelStarts[levelIdx], hdrBytes); err != nil {
		return errors.Wrap(err, "read level face headers")
	}
	headers := make([]FaceDataHeader, n)
	offsets := make([]int64, n)
	cursor := int64(len(hdrBytes))
	for i := 0; i < n; i++ {
		fdh, err := unmarshalFaceDataHeader(hdrBytes[i*faceDataHeaderSize:])
		if err != nil {
			return err
		}
		headers[i] = fdh
		offsets[i] = cursor
		cursor += int64(fdh.BlockSizeField())
	}
	raw := make([]byte, cursor)
	copy(raw, hdrBytes)
	if err := r.readAt(r.levelStarts[levelIdx]+int64(len(hdrBytes)), raw[len(hdrBytes):]); err != nil {
		return errors.Wrap(err, "read level face blocks")
	}
	lvl.headers = headers
	lvl.offsets = offsets
	lvl.faceIdx = present
	lvl.raw = raw
	lvl.loaded = true
	if r.cache != nil {
		r.cache.noteDataAlloc(int64(len(raw)))
	}
	return nil
}

// faceStoredAtLevel reports whether fi's face has a block in mipmap level
// levelIdx — the same deterministic rule Writer.Close uses to decide
// which faces get a reduction at that level, so no separate presence
// table needs to be stored on disk. Level 0 always holds it (the
// full-resolution copy); level L>=1 holds it only while its smaller
// log2 dimension is still at least MinReductionLog2 after L halvings, matching
// the generation cutoff in Writer.Close (faces smaller than that are
// served by on-the-fly reduction instead of a stored mip entry).
func (r *Reader) faceStoredAtLevel(fi FaceInfo, levelIdx int) bool {
	if levelIdx == 0 {
		return true
	}
	minLog2 := int(fi.Res.ULog2)
	if int(fi.Res.VLog2) < minLog2 {
		minLog2 = int(fi.Res.VLog2)
	}
	return minLog2-levelIdx >= MinReductionLog2
}

// facesPresentAtLevel returns, in rfaceid order, every non-constant face
// with an entry at mip level levelIdx, per faceStoredAtLevel.
func (r *Reader) facesPresentAtLevel(levelIdx int) []int32 {
	var out []int32
	for _, fid := range r.faceid { // rfaceid-sorted order, matching the writer's on-disk order
		fi := r.faces[fid]
		if fi.IsConstant() {
			continue
		}
		if r.faceStoredAtLevel(fi, levelIdx) {
			out = append(out, int32(fid))
		}
	}
	return out
}

// decodeFaceBlock decodes the slot'th present face's block within an
// already-loaded level into a flat pixel buffer.
func (r *Reader) decodeFaceBlock(lvl *levelData, slot int, faceid int) ([]byte, error) {
	fdh := lvl.headers[slot]
	block := lvl.raw[lvl.offsets[slot] : lvl.offsets[slot]+int64(fdh.BlockSizeField())]
	fi := r.faces[faceid]
	return r.decodeBlock(block, fdh.EncodingField(), fi, lvl)
}

// levelShiftFor recovers which mip level lvl is, by pointer identity
// against r.levels (small linear scan; nlevels is always small, <=~16).
func levelShiftFor(lvl *levelData, r *Reader) int {
	for i, l := range r.levels {
		if l == lvl {
			return i
		}
	}
	return 0
}

func (r *Reader) decodeBlock(block []byte, enc Encoding, fi FaceInfo, lvl *levelData) ([]byte, error) {
	shift := levelShiftFor(lvl, r)
	ures, vres := fi.Res.U()>>uint(shift), fi.Res.V()>>uint(shift)
	ps := r.pixelSize()
	switch enc {
	case EncConstant:
		out := make([]byte, ures*vres*ps)
		Fill(block[:ps], out, ures*ps, ures, vres, ps)
		return out, nil
	case EncZipped, EncDiffZipped:
		out, err := inflateExact(block, ures*vres*ps)
		if err != nil {
			return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "inflate face block")
		}
		if enc == EncDiffZipped {
			DecodeDifference(out, ures*vres, int(r.header.NChannels), r.header.DataType)
		}
		return out, nil
	case EncTiled:
		return r.decodeTiledBlock(block, fi, ures, vres, ps)
	default:
		return nil, newError(KindTruncatedOrCorrupt, r.path, "unknown face encoding")
	}
}

func inflateExact(block []byte, want int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(block))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out := make([]byte, want)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeTiledBlock decodes a face stored as a grid of independently
// compressed tiles (spec.md section 4.1 "tiled" encoding): a tileRes
// prefix followed by one FaceDataHeader+block per tile in row-major
// order, copied row by row into one packed per-face buffer.
func (r *Reader) decodeTiledBlock(block []byte, fi FaceInfo, ures, vres, ps int) ([]byte, error) {
	if len(block) < 2 {
		return nil, newError(KindTruncatedOrCorrupt, r.path, "short tiled face block")
	}
	tileRes := Res{ULog2: int8(block[0]), VLog2: int8(block[1])}
	cursor := 2
	tu, tv := tileRes.U(), tileRes.V()
	ntilesU, ntilesV := ures/tu, vres/tv
	out := make([]byte, ures*vres*ps)
	for ty := 0; ty < ntilesV; ty++ {
		for tx := 0; tx < ntilesU; tx++ {
			if cursor+faceDataHeaderSize > len(block) {
				return nil, newError(KindTruncatedOrCorrupt, r.path, "short tile header")
			}
			fdh, err := unmarshalFaceDataHeader(block[cursor:])
			if err != nil {
				return nil, err
			}
			cursor += faceDataHeaderSize
			bs := int(fdh.BlockSizeField())
			if cursor+bs > len(block) {
				return nil, newError(KindTruncatedOrCorrupt, r.path, "short tile block")
			}
			tileBlock := block[cursor : cursor+bs]
			cursor += bs

			var tilePixels []byte
			switch fdh.EncodingField() {
			case EncConstant:
				tilePixels = make([]byte, tu*tv*ps)
				Fill(tileBlock[:ps], tilePixels, tu*ps, tu, tv, ps)
			default:
				tilePixels, err = inflateExact(tileBlock, tu*tv*ps)
				if err != nil {
					return nil, wrapError(KindTruncatedOrCorrupt, r.path, err, "inflate tile")
				}
				if fdh.EncodingField() == EncDiffZipped {
					DecodeDifference(tilePixels, tu*tv, int(r.header.NChannels), r.header.DataType)
				}
			}
			// place this tile into out at (tx*tu, ty*tv)
			for row := 0; row < tv; row++ {
				dstOff := ((ty*tv+row)*ures + tx*tu) * ps
				srcOff := row * tu * ps
				copy(out[dstOff:dstOff+tu*ps], tilePixels[srcOff:srcOff+tu*ps])
			}
		}
	}
	return out, nil
}

// getReduction computes and caches an arbitrary (non-mipmap-aligned)
// reduction of faceid down to res, by successively halving the face's
// full-resolution data along whichever axis still needs reducing,
// following PtexReader.cpp's getData dynamic-reduction logic: quad faces
// alternate axis on symmetric reductions and otherwise reduce the axis
// with the larger remaining delta; triangle faces require an isotropic
// (equal-delta) reduction and use reduceTri.
func (r *Reader) getReduction(faceid int, fi FaceInfo, res Res) ([]byte, error) {
	key := reductionKey{FaceID: int32(faceid), Res: res}
	if v, ok := r.reductions.Load(key); ok {
		return v.([]byte), nil
	}

	redu, redv := int(fi.Res.ULog2-res.ULog2), int(fi.Res.VLog2-res.VLog2)
	if redu < 0 || redv < 0 {
		return nil, newError(KindOutOfRange, r.path, "enlargement not supported")
	}
	if r.header.MeshType == MeshTriangle && redu != redv {
		return nil, newError(KindOutOfRange, r.path, "anisotropic triangle reduction not supported")
	}

	// Start from the full-resolution data; stored mip levels and other
	// cached reductions are not used as intermediate starting points.
	srcRes := fi.Res
	src, err := r.GetData(faceid, srcRes)
	if err != nil {
		return nil, err
	}
	ps := r.pixelSize()
	curRes := srcRes
	cur := src
	for curRes != res {
		ures, vres := curRes.U(), curRes.V()
		var nres Res
		var reduceFn func(src []byte, sstride, ures, vres int, dst []byte, dstride int)
		switch {
		case r.header.MeshType == MeshTriangle:
			nres = Res{ULog2: curRes.ULog2 - 1, VLog2: curRes.VLog2 - 1}
			reduceFn = func(s []byte, ss, u, v int, d []byte, ds int) {
				ReduceTri(s, ss, u, d, ds, r.header.DataType, int(r.header.NChannels))
			}
		case curRes.ULog2 == res.ULog2:
			nres = Res{ULog2: curRes.ULog2, VLog2: curRes.VLog2 - 1}
			reduceFn = func(s []byte, ss, u, v int, d []byte, ds int) {
				ReduceV(s, ss, u, v, d, ds, r.header.DataType, int(r.header.NChannels))
			}
		case curRes.VLog2 == res.VLog2:
			nres = Res{ULog2: curRes.ULog2 - 1, VLog2: curRes.VLog2}
			reduceFn = func(s []byte, ss, u, v int, d []byte, ds int) {
				ReduceU(s, ss, u, v, d, ds, r.header.DataType, int(r.header.NChannels))
			}
		default:
			du, dv := int(curRes.ULog2-res.ULog2), int(curRes.VLog2-res.VLog2)
			alternate := du == dv && int(curRes.ULog2)&1 == 0
			if alternate || du <= dv {
				nres = Res{ULog2: curRes.ULog2, VLog2: curRes.VLog2 - 1}
				reduceFn = func(s []byte, ss, u, v int, d []byte, ds int) {
					ReduceV(s, ss, u, v, d, ds, r.header.DataType, int(r.header.NChannels))
				}
			} else {
				nres = Res{ULog2: curRes.ULog2 - 1, VLog2: curRes.VLog2}
				reduceFn = func(s []byte, ss, u, v int, d []byte, ds int) {
					ReduceU(s, ss, u, v, d, ds, r.header.DataType, int(r.header.NChannels))
				}
			}
		}
		dst := make([]byte, nres.Size()*ps)
		reduceFn(cur, ures*ps, ures, vres, dst, nres.U()*ps)
		cur = dst
		curRes = nres
	}

	actual, _ := r.reductions.LoadOrStore(key, cur)
	return actual.([]byte), nil
}

// getOverrideData serves GetData for a face carrying an edit override,
// reducing from the override's full-resolution pixels on demand (ReduceTri
// on triangle meshes, which must reduce both axes equally; on quad meshes
// Reduce while both axes still need halving, then ReduceU or ReduceV),
// cached under a distinct key so it never collides with the pre-edit
// reduction cache.
func (r *Reader) getOverrideData(faceid int, ov *faceOverride, res Res) ([]byte, error) {
	ps := r.pixelSize()
	if ov.constant {
		return ov.pixels, nil
	}
	if res == ov.info.Res {
		return ov.pixels, nil
	}
	if res.ULog2 > ov.info.Res.ULog2 || res.VLog2 > ov.info.Res.VLog2 {
		return nil, newError(KindOutOfRange, r.path, "enlargement not supported")
	}
	if r.header.MeshType == MeshTriangle && ov.info.Res.ULog2-res.ULog2 != ov.info.Res.VLog2-res.VLog2 {
		return nil, newError(KindOutOfRange, r.path, "anisotropic triangle reduction not supported")
	}
	key := reductionKey{FaceID: int32(faceid), Res: res}
	if v, ok := r.overrideReductions.Load(key); ok {
		return v.([]byte), nil
	}
	cur := ov.pixels
	curRes := ov.info.Res
	for curRes != res {
		ures, vres := curRes.U(), curRes.V()
		var nres Res
		switch {
		case r.header.MeshType == MeshTriangle:
			nres = Res{ULog2: curRes.ULog2 - 1, VLog2: curRes.VLog2 - 1}
			dst := make([]byte, nres.Size()*ps)
			ReduceTri(cur, ures*ps, ures, dst, nres.U()*ps, r.header.DataType, int(r.header.NChannels))
			cur = dst
		case curRes.ULog2 == res.ULog2:
			nres = Res{ULog2: curRes.ULog2, VLog2: curRes.VLog2 - 1}
			dst := make([]byte, nres.Size()*ps)
			ReduceV(cur, ures*ps, ures, vres, dst, nres.U()*ps, r.header.DataType, int(r.header.NChannels))
			cur = dst
		case curRes.VLog2 == res.VLog2:
			nres = Res{ULog2: curRes.ULog2 - 1, VLog2: curRes.VLog2}
			dst := make([]byte, nres.Size()*ps)
			ReduceU(cur, ures*ps, ures, vres, dst, nres.U()*ps, r.header.DataType, int(r.header.NChannels))
			cur = dst
		default:
			nres = Res{ULog2: curRes.ULog2 - 1, VLog2: curRes.VLog2 - 1}
			dst := make([]byte, nres.Size()*ps)
			Reduce(cur, ures*ps, ures, vres, dst, nres.U()*ps, r.header.DataType, int(r.header.NChannels))
			cur = dst
		}
		curRes = nres
	}
	actual, _ := r.overrideReductions.LoadOrStore(key, cur)
	return actual.([]byte), nil
}

// GetPixel returns one pixel (as normalized float32 per channel) from
// faceid at resolution res, at integer coordinates (u, v).
func (r *Reader) GetPixel(faceid int, res Res, u, v int) ([]float32, error) {
	data, err := r.GetData(faceid, res)
	if err != nil {
		return nil, err
	}
	nc := int(r.header.NChannels)
	ps := r.pixelSize()
	off := (v*res.U() + u) * ps
	if len(data) == ps { // constant face: its one pixel stands for every (u, v)
		off = 0
	}
	out := make([]float32, nc)
	ConvertToFloat(out, data[off:off+ps], r.header.DataType, nc)
	return out, nil
}
