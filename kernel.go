package ptex

import "math"

// SeparableKernel is a per-axis-factored convolution kernel (spec.md
// section 4.7, component C8): the weight at texel (u,v) within the
// footprint is ku[u-U]*kv[v-V]. Used for the Mitchell and box filters on
// quad meshes. Footprint coordinates are texel offsets at Res.
type SeparableKernel struct {
	Res  Res
	U, V int // footprint origin, texel units, may run negative or beyond Res
	Uw   int // footprint width (len(Ku))
	Vw   int // footprint height (len(Kv))
	Ku   []float64
	Kv   []float64

	// totalWeight starts as sum(Ku)*sum(Kv) and is debited by the weight
	// of each piece split away by SplitL/SplitR/SplitB/SplitT, which the
	// peer kernel carries instead; irregular corners are folded locally
	// and debit nothing.
	totalWeight float64
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func newSeparableKernel(res Res, u, v int, ku, kv []float64) *SeparableKernel {
	return &SeparableKernel{
		Res: res, U: u, V: v, Uw: len(ku), Vw: len(kv), Ku: ku, Kv: kv,
		totalWeight: sum(ku) * sum(kv),
	}
}

// Weight returns the kernel's current total weight (spec.md's weight()),
// net of any corner debits from split-away pieces.
func (k *SeparableKernel) Weight() float64 { return k.totalWeight }

// mitchellWeights1D evaluates the Mitchell-Netravali cubic at texel
// centres across a footprint of width w (texels) centred at 0, following
// PtexSeparableFilter.cpp: B = 1-sharpness, C = (1-B)/2, the standard
// piecewise cubic with a unit-radius central band and a second-unit wing.
func mitchellWeights1D(filterWidth float64, sharpness float64) []float64 {
	b := 1 - sharpness
	c := (1 - b) / 2

	// clamp filter width to at least 1 texel; no upper bound is applied
	// here (callers clamp the normalized width before calling in, this
	// function only ever sees texel units).
	if filterWidth < 1 {
		filterWidth = 1
	}
	radius := filterWidth // the cubic's support is [-2,2] in "texel/filterWidth" units; scale by filterWidth
	n := int(math.Ceil(radius*4)) + 1
	if n < 2 {
		n = 2
	}
	if n > 10 {
		n = 10
	}
	weights := make([]float64, n)
	start := -float64(n-1) / 2
	scale := 2.0 / filterWidth // map texel offset to the cubic's [-2,2] domain scaled by 1 filter-width == 1 "unit"
	total := 0.0
	for i := range weights {
		x := math.Abs((start + float64(i)) * scale)
		weights[i] = mitchellCubic(x, b, c)
		total += weights[i]
	}
	if total > 0 {
		for i := range weights {
			weights[i] /= total
		}
	}
	return weights
}

// mitchellCubic evaluates the classic two-piece Mitchell-Netravali
// reconstruction filter at |x|, x in "filter units" (support is [0,2]).
func mitchellCubic(x float64, b, c float64) float64 {
	x2 := x * x
	x3 := x2 * x
	switch {
	case x < 1:
		return ((12-9*b-6*c)*x3 + (-18+12*b+6*c)*x2 + (6 - 2*b)) / 6
	case x < 2:
		return ((-b-6*c)*x3 + (6*b+30*c)*x2 + (-12*b-48*c)*x + (8*b + 24*c)) / 6
	default:
		return 0
	}
}

// boxWeights1D builds a box-filter weight vector: a fractional coverage
// weight at each end texel and unity weight for any texels fully covered
// in between (spec.md section 4.7 "Box kernel").
func boxWeights1D(lo, hi float64) []float64 {
	if hi <= lo {
		hi = lo + 1e-6
	}
	first := int(math.Floor(lo))
	last := int(math.Ceil(hi)) - 1
	if last < first {
		last = first
	}
	n := last - first + 1
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		texLo := float64(first + i)
		texHi := texLo + 1
		covLo := math.Max(texLo, lo)
		covHi := math.Min(texHi, hi)
		if covHi > covLo {
			weights[i] = covHi - covLo
		}
	}
	return weights
}

// clampFilterWidth clamps a normalized filter width to [0, maxFrac]; both
// callers pass maxFrac = 0.25, a quarter of the face.
func clampFilterWidth(w, maxFrac float64) float64 {
	if w < 0 {
		w = 0
	}
	if w > maxFrac {
		w = maxFrac
	}
	return w
}

// chooseRes picks the mip level whose texel spacing best matches a
// footprint of width w (normalized [0,1] units): res = ceil(log2(1/w)).
func chooseRes(w float64) int8 {
	if w <= 0 {
		return 16
	}
	r := math.Ceil(math.Log2(1 / w))
	if r < 0 {
		r = 0
	}
	if r > 16 {
		r = 16
	}
	return int8(r)
}

// NewMitchellKernel builds a separable Mitchell kernel for a query at
// normalized coordinates (u,v) with normalized footprint half-widths
// (uw,vw), following spec.md section 4.7: resolution is chosen from the
// footprint width, then the footprint and weights are computed in that
// resolution's texel frame.
func NewMitchellKernel(u, v, uw, vw, sharpness float64) *SeparableKernel {
	uw = clampFilterWidth(uw, 0.25)
	vw = clampFilterWidth(vw, 0.25)
	res := Res{ULog2: chooseRes(uw), VLog2: chooseRes(vw)}

	ut := u * float64(res.U())
	vt := v * float64(res.V())
	utw := uw * float64(res.U())
	vtw := vw * float64(res.V())
	if utw < 1 {
		utw = 1
	}
	if vtw < 1 {
		vtw = 1
	}

	ku := mitchellWeights1D(utw, sharpness)
	kv := mitchellWeights1D(vtw, sharpness)
	u0 := int(math.Floor(ut)) - len(ku)/2
	v0 := int(math.Floor(vt)) - len(kv)/2
	return newSeparableKernel(res, u0, v0, ku, kv)
}

// NewBoxKernel builds a separable box kernel, the cheaper alternative
// filter named in spec.md section 4.7.
func NewBoxKernel(u, v, uw, vw float64) *SeparableKernel {
	uw = clampFilterWidth(uw, 0.25)
	vw = clampFilterWidth(vw, 0.25)
	res := Res{ULog2: chooseRes(uw), VLog2: chooseRes(vw)}

	ut := u * float64(res.U())
	vt := v * float64(res.V())
	utw := uw * float64(res.U())
	vtw := vw * float64(res.V())

	ku := boxWeights1D(ut-utw/2, ut+utw/2)
	kv := boxWeights1D(vt-vtw/2, vt+vtw/2)
	u0 := int(math.Floor(ut - utw/2))
	v0 := int(math.Floor(vt - vtw/2))
	return newSeparableKernel(res, u0, v0, ku, kv)
}

// Apply accumulates the kernel's weighted sum of texels from a packed
// pixel buffer of the given Res into dst (length nchannels), folding any
// footprint texels that fall outside [0,Res.U())x[0,Res.V()) back onto
// the nearest edge texel -- the local, no-neighbour fallback named in
// spec.md section 4.8 step 3 ("if absent, fold the overflow back into the
// nearest texel").
func (k *SeparableKernel) Apply(dst []float64, data []byte, dataRes Res, dt DataType, nchannels int) {
	ures, vres := dataRes.U(), dataRes.V()
	stride := ures * nchannels * dt.Size()
	for vi := 0; vi < k.Vw; vi++ {
		vt := clampTexel(k.V+vi, vres)
		row := data[vt*stride:]
		wv := k.Kv[vi]
		if wv == 0 {
			continue
		}
		for ui := 0; ui < k.Uw; ui++ {
			wu := k.Ku[ui]
			if wu == 0 {
				continue
			}
			ut := clampTexel(k.U+ui, ures)
			w := wu * wv
			for c := 0; c < nchannels; c++ {
				dst[c] += w * sampleF(row, ut*nchannels+c, dt)
			}
		}
	}
}

// ApplyConst accumulates the kernel's total weight times a constant
// face's single pixel value (spec.md section 4.8 step 6, "constant ->
// applyConst"): no per-texel gather is needed since every texel is the
// same value.
func (k *SeparableKernel) ApplyConst(dst []float64, value []byte, dt DataType, nchannels int) {
	w := k.Weight()
	for c := 0; c < nchannels; c++ {
		dst[c] += w * sampleF(value, c, dt)
	}
}

func clampTexel(t, res int) int {
	if res <= 0 {
		return 0
	}
	if t < 0 {
		return 0
	}
	if t >= res {
		return res - 1
	}
	return t
}

// splitAxis peels the portion of ids/weights beyond the [0,res) band into
// a second (id,weight) pair set, returning the retained and peeled
// slices along with the peeled weight's footprint origin. used by
// SplitL/R/B/T below for both axes identically.
func splitAxis(origin int, weights []float64, res, edge int, keepLow bool) (keptOrigin int, kept []float64, peelOrigin int, peeled []float64) {
	if keepLow {
		// keep texels < edge, peel texels >= edge
		cut := edge - origin
		if cut < 0 {
			cut = 0
		}
		if cut > len(weights) {
			cut = len(weights)
		}
		return origin, weights[:cut], origin + cut, weights[cut:]
	}
	// keep texels >= edge, peel texels < edge
	cut := edge - origin
	if cut < 0 {
		cut = 0
	}
	if cut > len(weights) {
		cut = len(weights)
	}
	return origin + cut, weights[cut:], origin, weights[:cut]
}

// SplitL peels the part of the kernel with u < 0 into other, which
// receives it positioned relative to the neighbouring face across the
// left edge (caller repositions other.U after Rotate). Own footprint and
// weight are updated to reflect the retained piece.
func (k *SeparableKernel) SplitL(other *SeparableKernel) {
	k.splitU(other, 0, false)
}

// SplitR peels the part of the kernel with u >= Res.U() into other.
func (k *SeparableKernel) SplitR(other *SeparableKernel) {
	k.splitU(other, k.Res.U(), true)
}

// SplitB peels the part of the kernel with v < 0 into other.
func (k *SeparableKernel) SplitB(other *SeparableKernel) {
	k.splitV(other, 0, false)
}

// SplitT peels the part of the kernel with v >= Res.V() into other.
func (k *SeparableKernel) SplitT(other *SeparableKernel) {
	k.splitV(other, k.Res.V(), true)
}

func (k *SeparableKernel) splitU(other *SeparableKernel, edge int, keepBelow bool) {
	keptOrigin, kept, peelOrigin, peeled := splitAxis(k.U, k.Ku, k.Res.U(), edge, keepBelow)
	if len(peeled) == 0 {
		return
	}
	peeledWeight := sum(peeled) * sum(k.Kv)
	other.Res = k.Res
	other.U, other.Ku, other.Uw = peelOrigin, peeled, len(peeled)
	other.V, other.Kv, other.Vw = k.V, k.Kv, k.Vw
	other.totalWeight = peeledWeight
	k.U, k.Ku, k.Uw = keptOrigin, kept, len(kept)
	k.totalWeight -= peeledWeight
}

func (k *SeparableKernel) splitV(other *SeparableKernel, edge int, keepBelow bool) {
	keptOrigin, kept, peelOrigin, peeled := splitAxis(k.V, k.Kv, k.Res.V(), edge, keepBelow)
	if len(peeled) == 0 {
		return
	}
	peeledWeight := sum(k.Ku) * sum(peeled)
	other.Res = k.Res
	other.V, other.Kv, other.Vw = peelOrigin, peeled, len(peeled)
	other.U, other.Ku, other.Uw = k.U, k.Ku, k.Uw
	other.totalWeight = peeledWeight
	k.V, k.Kv, k.Vw = keptOrigin, kept, len(kept)
	k.totalWeight -= peeledWeight
}

// Rotate turns the kernel n quarter-turns counter-clockwise so its u-axis
// realigns with a neighbour's u-axis after crossing a non-aligned
// adjacency (spec.md section 4.8 step 5).
func (k *SeparableKernel) Rotate(n int) {
	n = ((n % 4) + 4) % 4
	for i := 0; i < n; i++ {
		k.Res = k.Res.SwappedUV()
		k.U, k.V = k.V, flipOrigin(k.U, len(k.Ku))
		k.Ku, k.Kv = k.Kv, reverseWeights(k.Ku)
		k.Uw, k.Vw = k.Vw, k.Uw
	}
}

func flipOrigin(origin, width int) int { return -(origin + width) }

func reverseWeights(w []float64) []float64 {
	out := make([]float64, len(w))
	for i, v := range w {
		out[len(w)-1-i] = v
	}
	return out
}

// DownresU halves the kernel's u resolution in place, combining adjacent
// weight pairs so the integrated area (and hence Weight()) is preserved
// (spec.md section 4.7 "downresU/V()").
func (k *SeparableKernel) DownresU() {
	k.Ku = downres1D(k.Ku)
	k.Uw = len(k.Ku)
	k.U /= 2
	k.Res.ULog2--
}

// DownresV halves the kernel's v resolution in place.
func (k *SeparableKernel) DownresV() {
	k.Kv = downres1D(k.Kv)
	k.Vw = len(k.Kv)
	k.V /= 2
	k.Res.VLog2--
}

func downres1D(w []float64) []float64 {
	n := (len(w) + 1) / 2
	out := make([]float64, n)
	for i := 0; i < len(w); i++ {
		out[i/2] += w[i]
	}
	return out
}
