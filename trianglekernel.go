package ptex

import "math"

// TriangleKernel is the Gaussian-weighted elliptical footprint used for
// the "triangle" filter named in spec.md section 4.7: unlike
// SeparableKernel its weight at (u,v) is not a product of independent
// per-axis terms, so it stores a dense weight grid over its bounding box
// instead of two weight vectors.
type TriangleKernel struct {
	Res    Res
	U, V   int // bounding-box origin, texel units
	Uw, Vw int
	W      []float64 // Uw*Vw row-major weights
	total  float64
}

// NewTriangleKernel builds the elliptical Gaussian footprint for a query
// centred at normalized (u,v) with normalized derivatives (du1,dv1) and
// (du2,dv2) describing the ellipse's axes (spec.md section 4.7's A/B/C
// ellipse coefficients and weight(Q) = exp(-2Q) falloff).
func NewTriangleKernel(u, v, du1, dv1, du2, dv2 float64) *TriangleKernel {
	// Ellipse coefficients from the Jacobian of the two edge vectors,
	// following the classic EWA derivation: A = dv1^2+dv2^2,
	// B = -2(du1*dv1+du2*dv2), C = du1^2+du2^2, F = (A*C-B^2/4) normalized
	// so that the ellipse boundary sits at Q=1.
	a := dv1*dv1 + dv2*dv2
	b := -2 * (du1*dv1 + du2*dv2)
	c := du1*du1 + du2*du2
	f := a*c - b*b/4
	if f <= 0 {
		f = 1e-8
	}
	a, b, c = a/f, b/f, c/f

	uw := math.Sqrt(c) * 2
	vw := math.Sqrt(a) * 2
	uw = clampFilterWidth(uw, 0.25)
	vw = clampFilterWidth(vw, 0.25)

	res := Res{ULog2: chooseRes(uw), VLog2: chooseRes(vw)}
	ut := u * float64(res.U())
	vt := v * float64(res.V())
	utw := math.Max(1, uw*float64(res.U()))
	vtw := math.Max(1, vw*float64(res.V()))

	u0 := int(math.Floor(ut - utw/2))
	v0 := int(math.Floor(vt - vtw/2))
	uW := int(math.Ceil(utw)) + 1
	vW := int(math.Ceil(vtw)) + 1

	weights := make([]float64, uW*vW)
	total := 0.0
	// Rescale A/B/C from normalized-derivative space into this kernel's
	// chosen texel resolution so Q is evaluated in texel units.
	su := float64(res.U())
	sv := float64(res.V())
	ka := a / (sv * sv)
	kb := b / (su * sv)
	kc := c / (su * su)
	for j := 0; j < vW; j++ {
		dv := float64(v0+j) - vt
		for i := 0; i < uW; i++ {
			du := float64(u0+i) - ut
			q := ka*dv*dv + kb*du*dv + kc*du*du
			w := 0.0
			if q < 1 {
				w = math.Exp(-2 * q)
			}
			weights[j*uW+i] = w
			total += w
		}
	}
	if total <= 0 {
		total = 1
		weights[len(weights)/2] = 1
	}

	return &TriangleKernel{Res: res, U: u0, V: v0, Uw: uW, Vw: vW, W: weights, total: total}
}

// Weight returns the kernel's total integrated weight.
func (k *TriangleKernel) Weight() float64 { return k.total }

// Apply accumulates the kernel's weighted sum of texels from a packed
// pixel buffer into dst, folding out-of-range footprint texels back onto
// the nearest edge texel (same local fallback as SeparableKernel.Apply;
// spec.md does not require the triangle filter to walk adjacent faces).
func (k *TriangleKernel) Apply(dst []float64, data []byte, dataRes Res, dt DataType, nchannels int) {
	ures, vres := dataRes.U(), dataRes.V()
	stride := ures * nchannels * dt.Size()
	for j := 0; j < k.Vw; j++ {
		vt := clampTexel(k.V+j, vres)
		row := data[vt*stride:]
		for i := 0; i < k.Uw; i++ {
			w := k.W[j*k.Uw+i]
			if w == 0 {
				continue
			}
			ut := clampTexel(k.U+i, ures)
			for c := 0; c < nchannels; c++ {
				dst[c] += w * sampleF(row, ut*nchannels+c, dt)
			}
		}
	}
}

// ApplyConst accumulates the kernel's total weight times a constant
// face's single pixel value.
func (k *TriangleKernel) ApplyConst(dst []float64, value []byte, dt DataType, nchannels int) {
	w := k.Weight()
	for c := 0; c < nchannels; c++ {
		dst[c] += w * sampleF(value, c, dt)
	}
}
