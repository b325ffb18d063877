package ptex

import (
	"path/filepath"
	"testing"
)

func TestWriterReaderRoundTripConstantFace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "const.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 3, VLog2: 3})
	if err := w.WriteConstantFace(0, fi, []byte{77}); err != nil {
		t.Fatalf("WriteConstantFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Release()

	if r.NumFaces() != 1 {
		t.Fatalf("NumFaces: got %d want 1", r.NumFaces())
	}
	got, err := r.GetFaceInfo(0)
	if err != nil {
		t.Fatalf("GetFaceInfo: %v", err)
	}
	if !got.IsConstant() {
		t.Errorf("expected face 0 to be marked constant")
	}
	data, err := r.GetData(0, got.Res)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	for i, b := range data {
		if b != 77 {
			t.Fatalf("pixel %d: got %d want 77", i, b)
		}
	}
}

func TestWriterReaderRoundTripGradientFace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gradient.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	res := Res{ULog2: 4, VLog2: 4} // 16x16
	ures, vres := res.U(), res.V()
	pixels := make([]byte, ures*vres)
	for v := 0; v < vres; v++ {
		for u := 0; u < ures; u++ {
			pixels[v*ures+u] = byte((u*16 + v) % 256)
		}
	}
	fi := NewFaceInfo(res)
	if err := w.WriteFace(0, fi, pixels, 0); err != nil {
		t.Fatalf("WriteFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Release()

	got, err := r.GetFaceInfo(0)
	if err != nil {
		t.Fatalf("GetFaceInfo: %v", err)
	}
	if got.IsConstant() {
		t.Fatalf("gradient face incorrectly marked constant")
	}
	data, err := r.GetData(0, res)
	if err != nil {
		t.Fatalf("GetData full res: %v", err)
	}
	for i, b := range data {
		if b != pixels[i] {
			t.Fatalf("pixel %d: got %d want %d", i, b, pixels[i])
		}
	}

	// mip level 1 should hold a 2x box-averaged 8x8 reduction
	reduced, err := r.GetData(0, Res{ULog2: 3, VLog2: 3})
	if err != nil {
		t.Fatalf("GetData reduced: %v", err)
	}
	if len(reduced) != 8*8 {
		t.Fatalf("reduced level size: got %d want 64", len(reduced))
	}
}

func TestWriterReaderMetaDataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	w.WriteMeta("artist", MetaString, 5, []byte("alice"))
	w.WriteMeta("version", MetaInt32, 1, []byte{3, 0, 0, 0})
	fi := NewFaceInfo(Res{ULog2: 1, VLog2: 1})
	if err := w.WriteConstantFace(0, fi, []byte{9}); err != nil {
		t.Fatalf("WriteConstantFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Release()

	v, typ, err := r.MetaValue("artist")
	if err != nil {
		t.Fatalf("MetaValue artist: %v", err)
	}
	if typ != MetaString || string(v) != "alice" {
		t.Errorf("artist metadata: got %q type %v", v, typ)
	}
	v2, _, err := r.MetaValue("version")
	if err != nil {
		t.Fatalf("MetaValue version: %v", err)
	}
	if len(v2) != 4 || v2[0] != 3 {
		t.Errorf("version metadata: got %v", v2)
	}
}

func TestWriterAdjacentFaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adjacent.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 2, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	res := Res{ULog2: 2, VLog2: 2} // 4x4
	fi0 := NewFaceInfo(res)
	fi0.SetAdjFaces(-1, 1, -1, -1)
	fi0.SetAdjEdges(EdgeBottom, EdgeLeft, EdgeTop, EdgeLeft)
	fi1 := NewFaceInfo(res)
	fi1.SetAdjFaces(-1, -1, -1, 0)
	fi1.SetAdjEdges(EdgeBottom, EdgeRight, EdgeTop, EdgeRight)

	px0 := make([]byte, 16)
	px1 := make([]byte, 16)
	for i := range px0 {
		px0[i] = byte(10 + i)
		px1[i] = byte(100 + i)
	}
	if err := w.WriteFace(0, fi0, px0, 0); err != nil {
		t.Fatalf("WriteFace 0: %v", err)
	}
	if err := w.WriteFace(1, fi1, px1, 0); err != nil {
		t.Fatalf("WriteFace 1: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Release()

	got0, _ := r.GetFaceInfo(0)
	if got0.AdjFace(EdgeRight) != 1 {
		t.Errorf("face 0's right neighbour should be face 1, got %d", got0.AdjFace(EdgeRight))
	}
	got1, _ := r.GetFaceInfo(1)
	if got1.AdjFace(EdgeLeft) != 0 {
		t.Errorf("face 1's left neighbour should be face 0, got %d", got1.AdjFace(EdgeLeft))
	}
}

func TestIncrementalEditRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edit.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 2, VLog2: 2})
	orig := make([]byte, 16)
	for i := range orig {
		orig[i] = byte(i)
	}
	if err := w.WriteFace(0, fi, orig, 0); err != nil {
		t.Fatalf("WriteFace: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ew, err := EditWriter(path, true)
	if err != nil {
		t.Fatalf("EditWriter: %v", err)
	}
	edited := make([]byte, 16)
	for i := range edited {
		edited[i] = byte(200 + i)
	}
	if err := ew.WriteFace(0, fi, edited, 0); err != nil {
		t.Fatalf("edit WriteFace: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("edit Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after edit: %v", err)
	}
	defer r.Release()
	if !r.HasEdits() {
		t.Errorf("expected HasEdits to report true after an incremental edit")
	}
	data, err := r.GetData(0, fi.Res)
	if err != nil {
		t.Fatalf("GetData after edit: %v", err)
	}
	for i, b := range data {
		if b != edited[i] {
			t.Fatalf("edited pixel %d: got %d want %d", i, b, edited[i])
		}
	}
}

func TestEditWriterNonIncrementalRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.ptx")
	if _, err := EditWriter(path, false); err == nil {
		t.Errorf("expected EditWriter(incremental=false) to fail")
	}
}

func TestWriterMultiLevelMipPresenceMatchesReader(t *testing.T) {
	// A mesh with a large face (keeps >=3 levels alive) alongside a
	// mid-size face whose native min dimension is 4: the reader expects
	// that face present through level 2 (4-2=2 >= MinReductionLog2), so
	// the writer must not drop it a level early.
	path := filepath.Join(t.TempDir(), "multilevel.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 2, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	bigRes := Res{ULog2: 9, VLog2: 8}
	midRes := Res{ULog2: 4, VLog2: 5}

	bigPixels := make([]byte, bigRes.U()*bigRes.V())
	for i := range bigPixels {
		bigPixels[i] = byte(i)
	}
	midPixels := make([]byte, midRes.U()*midRes.V())
	for i := range midPixels {
		midPixels[i] = byte(200 + i)
	}

	if err := w.WriteFace(0, NewFaceInfo(bigRes), bigPixels, 0); err != nil {
		t.Fatalf("WriteFace 0: %v", err)
	}
	if err := w.WriteFace(1, NewFaceInfo(midRes), midPixels, 0); err != nil {
		t.Fatalf("WriteFace 1: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Release()

	// Level 2 for face 1 is ulog2-2=2, vlog2-2=3.
	data, err := r.GetData(1, Res{ULog2: 2, VLog2: 3})
	if err != nil {
		t.Fatalf("GetData face 1 at level 2: %v", err)
	}
	if len(data) != 4*8 {
		t.Fatalf("level-2 reduction size: got %d want 32", len(data))
	}

	// Face 0 must also still decode correctly at every level up to 2,
	// confirming the level-2 section isn't misaligned by a missing block.
	for lvl, want := range map[int]Res{
		0: bigRes,
		1: {ULog2: 8, VLog2: 7},
		2: {ULog2: 7, VLog2: 6},
	} {
		d, err := r.GetData(0, want)
		if err != nil {
			t.Fatalf("GetData face 0 at level %d: %v", lvl, err)
		}
		if len(d) != want.U()*want.V() {
			t.Fatalf("face 0 level %d size: got %d want %d", lvl, len(d), want.U()*want.V())
		}
	}
}

func TestGetDataFallsBackToReductionWhenLevelAbsentForFace(t *testing.T) {
	// A small face whose mip chain stops early, sharing a file with a
	// large face that keeps many more levels alive: a uniform-delta query
	// for the small face at a level index where *other* faces still have
	// data, but this face does not, must synthesize a reduction instead
	// of erroring "face absent at this level".
	path := filepath.Join(t.TempDir(), "fallback.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 2, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	bigRes := Res{ULog2: 9, VLog2: 9}
	smallRes := Res{ULog2: 4, VLog2: 5}

	bigPixels := make([]byte, bigRes.U()*bigRes.V())
	for i := range bigPixels {
		bigPixels[i] = byte(i)
	}
	smallPixels := make([]byte, smallRes.U()*smallRes.V())
	for i := range smallPixels {
		smallPixels[i] = byte(50 + i)
	}

	if err := w.WriteFace(0, NewFaceInfo(bigRes), bigPixels, 0); err != nil {
		t.Fatalf("WriteFace 0: %v", err)
	}
	if err := w.WriteFace(1, NewFaceInfo(smallRes), smallPixels, 0); err != nil {
		t.Fatalf("WriteFace 1: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Release()

	// smallRes's mip chain stops once min(ulog2,vlog2)-L < 2, i.e. after
	// level 2; level index 3 is uniform (du=dv=3) but not stored for this
	// face, even though the file has more than 3 levels overall because
	// of the large face sharing it.
	data, err := r.GetData(1, Res{ULog2: 1, VLog2: 2})
	if err != nil {
		t.Fatalf("GetData should fall back to a synthesized reduction, got error: %v", err)
	}
	if len(data) != 2*4 {
		t.Fatalf("reduced size: got %d want 8", len(data))
	}
}

func TestWriterRejectsUnwrittenFace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incomplete.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 2, false)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 1, VLog2: 1})
	if err := w.WriteConstantFace(0, fi, []byte{1}); err != nil {
		t.Fatalf("WriteConstantFace: %v", err)
	}
	if err := w.Close(); err == nil {
		t.Errorf("expected Close to fail when face 1 was never written")
	}
}
