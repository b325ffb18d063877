package ptex

import (
	"math"
	"testing"
)

func TestNewTriangleKernelWeight(t *testing.T) {
	k := NewTriangleKernel(0.5, 0.5, 0.1, 0, 0, 0.1)
	if k.Weight() <= 0 {
		t.Errorf("expected positive total weight, got %v", k.Weight())
	}
	if k.Uw <= 0 || k.Vw <= 0 {
		t.Errorf("expected non-empty bounding box, got Uw=%d Vw=%d", k.Uw, k.Vw)
	}
	if len(k.W) != k.Uw*k.Vw {
		t.Errorf("weight grid size mismatch: len(W)=%d want %d", len(k.W), k.Uw*k.Vw)
	}
}

func TestTriangleKernelApplyUniform(t *testing.T) {
	k := NewTriangleKernel(0.5, 0.5, 0.1, 0, 0, 0.1)
	res := k.Res
	ps := 1
	data := make([]byte, res.U()*res.V()*ps)
	for i := range data {
		data[i] = 100
	}
	dst := make([]float64, 1)
	k.Apply(dst, data, res, DataUInt8, 1)
	want := k.Weight() * 100
	if math.Abs(dst[0]-want) > 1e-6 {
		t.Errorf("Apply over uniform data: got %v want %v", dst[0], want)
	}
}

func TestTriangleKernelApplyConst(t *testing.T) {
	k := NewTriangleKernel(0.3, 0.7, 0.2, 0, 0, 0.2)
	dst := make([]float64, 1)
	value := []byte{42}
	k.ApplyConst(dst, value, DataUInt8, 1)
	want := k.Weight() * 42
	if math.Abs(dst[0]-want) > 1e-6 {
		t.Errorf("ApplyConst wrong: got %v want %v", dst[0], want)
	}
}

func TestTriangleKernelDegenerateFootprintDoesNotPanic(t *testing.T) {
	// Zero-length edge vectors exercise the f<=0 guard.
	k := NewTriangleKernel(0.5, 0.5, 0, 0, 0, 0)
	if k.Weight() <= 0 {
		t.Errorf("expected a fallback positive weight even for a degenerate footprint")
	}
}
