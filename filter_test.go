package ptex

import (
	"math"
	"path/filepath"
	"testing"
)

func writeSingleFaceFile(t *testing.T, path string, res Res, pixels []byte) *Reader {
	t.Helper()
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
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
	return r
}

func TestFilterConstantFacePreservesValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "const.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 1, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	fi := NewFaceInfo(Res{ULog2: 4, VLog2: 4})
	if err := w.WriteConstantFace(0, fi, []byte{150}); err != nil {
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

	filt := NewMitchellFilter(1.0)
	result := make([]float64, 1)
	for _, uv := range [][2]float64{{0, 0}, {0.5, 0.5}, {1, 1}, {0.125, 0.875}} {
		if err := filt.Eval(r, result, 0, 1, 0, uv[0], uv[1], 0.25, 0.25); err != nil {
			t.Fatalf("Eval at %v: %v", uv, err)
		}
		want := 150.0 / 255.0
		if math.Abs(result[0]-want) > 0.02 {
			t.Errorf("Eval at %v: got %v want ~%v", uv, result[0], want)
		}
	}
}

func TestFilterSimpleMitchellNonNaNInRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gradient.ptx")
	res := Res{ULog2: 4, VLog2: 4}
	ures, vres := res.U(), res.V()
	pixels := make([]byte, ures*vres)
	for v := 0; v < vres; v++ {
		for u := 0; u < ures; u++ {
			pixels[v*ures+u] = byte((u * 255) / (ures - 1))
		}
	}
	r := writeSingleFaceFile(t, path, res, pixels)
	defer r.Release()

	filt := NewMitchellFilter(1.0)
	result := make([]float64, 1)
	prev := -1.0
	for _, u := range []float64{0, 0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875, 1.0} {
		if err := filt.Eval(r, result, 0, 1, 0, u, 0.5, 1.0, 1.0); err != nil {
			t.Fatalf("Eval at u=%v: %v", u, err)
		}
		v := result[0]
		if math.IsNaN(v) {
			t.Fatalf("Eval at u=%v produced NaN", u)
		}
		if v < -1e-6 || v > 1+1e-6 {
			t.Fatalf("Eval at u=%v out of [0,1]: got %v", u, v)
		}
		if v < prev-1e-6 {
			t.Errorf("Eval at u=%v: expected non-decreasing gradient, got %v after %v", u, v, prev)
		}
		prev = v
	}
}

func TestFilterBoxMatchesUniformAverage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.ptx")
	res := Res{ULog2: 3, VLog2: 3} // 8x8
	ures, vres := res.U(), res.V()
	pixels := make([]byte, ures*vres)
	for i := range pixels {
		if i%2 == 0 {
			pixels[i] = 0
		} else {
			pixels[i] = 255
		}
	}
	r := writeSingleFaceFile(t, path, res, pixels)
	defer r.Release()

	filt := NewBoxFilter()
	result := make([]float64, 1)
	if err := filt.Eval(r, result, 0, 1, 0, 0.5, 0.5, 1.0, 1.0); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if math.Abs(result[0]-0.5) > 0.15 {
		t.Errorf("box filter over whole checkerboard face: got %v want ~0.5", result[0])
	}
}

func TestFilterTriangleNonNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tri.ptx")
	w, err := OpenWriter(path, MeshTriangle, DataUInt8, 1, -1, 1, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	res := Res{ULog2: 3, VLog2: 3}
	ures, vres := res.U(), res.V()
	pixels := make([]byte, ures*vres)
	for i := range pixels {
		pixels[i] = byte(i % 256)
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

	filt := NewTriangleFilter()
	result := make([]float64, 1)
	if err := filt.Eval(r, result, 0, 1, 0, 0.5, 0.5, 0.2, 0.2); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if math.IsNaN(result[0]) {
		t.Fatalf("triangle filter produced NaN")
	}
}

func TestFilterTrilinearMatchesMitchellAtExactMipWidth(t *testing.T) {
	// When w lands exactly on a power-of-two width (frac == 0), the
	// trilinear blend must reduce to the single-level Mitchell evaluation
	// at that width, not the one a level away.
	path := filepath.Join(t.TempDir(), "trilinear-exact.ptx")
	res := Res{ULog2: 5, VLog2: 5}
	ures, vres := res.U(), res.V()
	pixels := make([]byte, ures*vres)
	for v := 0; v < vres; v++ {
		for u := 0; u < ures; u++ {
			pixels[v*ures+u] = byte((u + v) % 256)
		}
	}
	r := writeSingleFaceFile(t, path, res, pixels)
	defer r.Release()

	w := 0.25 // = 2^-2, an exact mip width
	tri := make([]float64, 1)
	if err := NewTrilinearFilter().Eval(r, tri, 0, 1, 0, 0.5, 0.5, w, w); err != nil {
		t.Fatalf("trilinear Eval: %v", err)
	}
	mono := make([]float64, 1)
	if err := NewMitchellFilter(1.0).Eval(r, mono, 0, 1, 0, 0.5, 0.5, w, w); err != nil {
		t.Fatalf("mitchell Eval: %v", err)
	}
	if math.Abs(tri[0]-mono[0]) > 1e-6 {
		t.Errorf("at an exact mip width the trilinear blend should match the single-level evaluation: got %v want %v", tri[0], mono[0])
	}
}

func TestFilterTrilinearNonNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trilinear.ptx")
	res := Res{ULog2: 5, VLog2: 5}
	ures, vres := res.U(), res.V()
	pixels := make([]byte, ures*vres)
	for v := 0; v < vres; v++ {
		for u := 0; u < ures; u++ {
			pixels[v*ures+u] = byte((u + v) % 256)
		}
	}
	r := writeSingleFaceFile(t, path, res, pixels)
	defer r.Release()

	filt := NewTrilinearFilter()
	result := make([]float64, 1)
	for _, w := range []float64{0.01, 0.05, 0.2, 0.5} {
		if err := filt.Eval(r, result, 0, 1, 0, 0.5, 0.5, w, w); err != nil {
			t.Fatalf("Eval at w=%v: %v", w, err)
		}
		if math.IsNaN(result[0]) {
			t.Fatalf("trilinear filter produced NaN at w=%v", w)
		}
	}
}

func TestFilterSeamContinuityAcrossSharedEdge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seam.ptx")
	w, err := OpenWriter(path, MeshQuad, DataUInt8, 1, -1, 2, true)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	res := Res{ULog2: 3, VLog2: 3} // 8x8
	ures, vres := res.U(), res.V()

	// Two faces sharing an edge (face 0's right == face 1's left), both
	// filled with the same value near the shared boundary so a filter
	// footprint straddling u=1 on face 0 / u=0 on face 1 should read a
	// near-constant value, not a discontinuity.
	px0 := make([]byte, ures*vres)
	px1 := make([]byte, ures*vres)
	for i := range px0 {
		px0[i] = 128
		px1[i] = 128
	}
	fi0 := NewFaceInfo(res)
	fi0.SetAdjFaces(-1, 1, -1, -1)
	fi0.SetAdjEdges(EdgeBottom, EdgeLeft, EdgeTop, EdgeLeft)
	fi1 := NewFaceInfo(res)
	fi1.SetAdjFaces(-1, -1, -1, 0)
	fi1.SetAdjEdges(EdgeBottom, EdgeRight, EdgeTop, EdgeRight)

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

	filt := NewMitchellFilter(1.0)
	result := make([]float64, 1)
	// A footprint near the right edge of face 0 overruns into face 1.
	if err := filt.Eval(r, result, 0, 1, 0, 0.97, 0.5, 0.25, 0.25); err != nil {
		t.Fatalf("Eval near seam: %v", err)
	}
	want := 128.0 / 255.0
	if math.Abs(result[0]-want) > 0.05 {
		t.Errorf("seam-crossing filter: got %v want ~%v", result[0], want)
	}
}
