package emath

import(
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Some functions that only operate on basic types, that are useful

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// `f` is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055 * math.Pow(f, 1.0/2.4) - 0.055
}

// MADToSigma scales a median absolute deviation into a stddev, for
// gaussian noise
const MADToSigma = 1.4826

// MedianSigma returns the median of vals, and a robust estimate of
// their stddev (from the median absolute deviation). Stars in the
// sample barely move either value. vals is reordered.
func MedianSigma(vals []float64) (median, sigma float64) {
	if len(vals) == 0 {
		return 0, 0
	}

	sort.Float64s(vals)
	median = stat.Quantile(0.5, stat.LinInterp, vals, nil)

	for i := range vals {
		vals[i] = math.Abs(vals[i] - median)
	}
	sort.Float64s(vals)
	mad := stat.Quantile(0.5, stat.LinInterp, vals, nil)

	return median, mad * MADToSigma
}

// Percentile of vals, which are reordered
func Percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	if p < 0 { p = 0 }
	if p > 1 { p = 1 }
	sort.Float64s(vals)
	return stat.Quantile(p, stat.LinInterp, vals, nil)
}

func Hypot(dx, dy float64) float64 { return math.Sqrt(dx*dx + dy*dy) }
