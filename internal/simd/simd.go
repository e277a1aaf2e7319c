package simd

// The kernels below operate on equal-length slices; callers guarantee
// len(src) >= len(dst). They are unrolled by four so the compiler keeps
// the accumulators in registers when the reducers sweep a row of columns.

// VecAdd performs dst += src
func VecAdd(dst, src []float64) {
	src = src[:len(dst)]
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddSquares performs dst += src * src
func VecAddSquares(dst, src []float64) {
	src = src[:len(dst)]
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * src[i]
		dst[i+1] += src[i+1] * src[i+1]
		dst[i+2] += src[i+2] * src[i+2]
		dst[i+3] += src[i+3] * src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * src[i]
	}
}

// VecScaleTo writes dst = src * scale
func VecScaleTo(dst, src []float64, scale float64) {
	src = src[:len(dst)]
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] = src[i] * scale
		dst[i+1] = src[i+1] * scale
		dst[i+2] = src[i+2] * scale
		dst[i+3] = src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] = src[i] * scale
	}
}

// VecMin performs dst = min(dst, src) element-wise.
// NaN in src is ignored, matching a plain `<` comparison.
func VecMin(dst, src []float64) {
	src = src[:len(dst)]
	for i, v := range src {
		if v < dst[i] {
			dst[i] = v
		}
	}
}

// VecMax performs dst = max(dst, src) element-wise.
func VecMax(dst, src []float64) {
	src = src[:len(dst)]
	for i, v := range src {
		if v > dst[i] {
			dst[i] = v
		}
	}
}

// WelfordUpdate folds one observation per lane into running means and
// centered sums of squares. invN is 1/n where n counts the new observation.
//
//	delta = x - mean
//	mean += delta * invN
//	m2   += delta * (x - mean)
func WelfordUpdate(mean, m2, x []float64, invN float64) {
	m2 = m2[:len(mean)]
	x = x[:len(mean)]
	i := 0
	for ; i <= len(mean)-4; i += 4 {
		d0 := x[i] - mean[i]
		d1 := x[i+1] - mean[i+1]
		d2 := x[i+2] - mean[i+2]
		d3 := x[i+3] - mean[i+3]
		mean[i] += d0 * invN
		mean[i+1] += d1 * invN
		mean[i+2] += d2 * invN
		mean[i+3] += d3 * invN
		m2[i] += d0 * (x[i] - mean[i])
		m2[i+1] += d1 * (x[i+1] - mean[i+1])
		m2[i+2] += d2 * (x[i+2] - mean[i+2])
		m2[i+3] += d3 * (x[i+3] - mean[i+3])
	}
	for ; i < len(mean); i++ {
		d := x[i] - mean[i]
		mean[i] += d * invN
		m2[i] += d * (x[i] - mean[i])
	}
}

// Fill sets every element of dst to v.
func Fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
