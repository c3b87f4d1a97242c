package careduce

import(
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"      // replace by "image/draw" at some point

	"github.com/abworrall/careduce/pkg/emath"
)

// Kernel names the interpolation used when resampling
type Kernel string

const(
	Nearest    Kernel = "nearest"
	Bilinear   Kernel = "bilinear"
	CatmullRom Kernel = "catmullrom"  // bicubic
	Lanczos3   Kernel = "lanczos3"
)

var Kernels = []Kernel{Nearest, Bilinear, CatmullRom, Lanczos3}

func ParseKernel(s string) (Kernel, error) {
	if s == "" {
		return CatmullRom, nil
	}
	for _, k := range Kernels {
		if strings.ToLower(s) == string(k) {
			return k, nil
		}
	}
	return "", errors.Errorf("interpolationKernel '%s': want one of %v", s, Kernels)
}

// The x/image/draw package doesn't ship a Lanczos kernel, but it lets
// you define one.
var lanczos3 = &draw.Kernel{Support: 3, At: func(t float64) float64 {
	if t < 0 { t = -t }
	if t == 0 {
		return 1
	} else if t >= 3 || t == math.Trunc(t) {
		return 0 // sinc is zero at the integers
	}
	pt := math.Pi * t
	return 3 * math.Sin(pt) * math.Sin(pt/3) / (pt * pt)
}}

// drawKernel is the weight function; nil means nearest neighbour
func (k Kernel)drawKernel() *draw.Kernel {
	switch k {
	case Bilinear:   return draw.BiLinear
	case Lanczos3:   return lanczos3
	case Nearest:    return nil
	default:         return draw.CatmullRom
	}
}

// Resample warps src onto the reference pixel grid: each output pixel
// is mapped back through the inverse of t into src, and interpolated
// there. Output pixels that map outside src get FillValue; kernel taps
// that fall off the edge of src reuse the edge pixel. The output is
// always width x height.
func Resample(src emath.FloatGrid, t Transform, width, height int, cfg ResampleConfig) (emath.FloatGrid, error) {
	inv, err := t.Inverse()
	if err != nil {
		return emath.FloatGrid{}, err
	}
	if width < 0 || height < 0 {
		return emath.FloatGrid{}, errors.Wrapf(ErrDimensionMismatch, "resample to %dx%d", width, height)
	}

	kernel := cfg.Kernel.drawKernel()
	nWorkers := cfg.Workers
	if nWorkers <= 0 { nWorkers = runtime.GOMAXPROCS(0) }

	dst := emath.NewFloatGrid(width, height)

	var wg sync.WaitGroup
	rowsChan := make(chan int, height)

	// Kick off worker pool; each row is owned by exactly one worker
	for i:=0; i<nWorkers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			for y := range rowsChan {
				row := dst.Row(y)
				for x := range row {
					sx, sy, ok := inv.ApplyPoint(float64(x), float64(y))
					if !ok {
						row[x] = cfg.FillValue
						continue
					}
					row[x] = sample(&src, sx, sy, kernel, cfg.FillValue)
				}
			}
		}()
	}

	for y:=0; y<height; y++ {
		rowsChan<- y
	}
	close(rowsChan)
	wg.Wait()

	return dst, nil
}

// sample interpolates src at (sx,sy). A nil kernel picks the nearest pixel.
func sample(src *emath.FloatGrid, sx, sy float64, k *draw.Kernel, fill float64) float64 {
	w, h := src.Dx(), src.Dy()
	if w == 0 || h == 0 || math.IsNaN(sx) || math.IsNaN(sy) {
		return fill
	}
	if sx < 0 || sy < 0 || sx > float64(w-1) || sy > float64(h-1) {
		return fill
	}

	if k == nil {
		return src.Get(int(math.Round(sx)), int(math.Round(sy)))
	}

	// Separable: a row of x weights, a column of y weights
	support := int(math.Ceil(k.Support))
	x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))

	var xw, yw [8]float64 // support is never more than 3, so at most 2*3+1 taps
	nTaps := 2*support
	for i:=0; i<nTaps; i++ {
		xw[i] = tapWeight(k, sx - float64(x0 - support + 1 + i))
		yw[i] = tapWeight(k, sy - float64(y0 - support + 1 + i))
	}

	sum, sumW := 0.0, 0.0
	for j:=0; j<nTaps; j++ {
		if yw[j] == 0 { continue }
		py := y0 - support + 1 + j
		for i:=0; i<nTaps; i++ {
			if xw[i] == 0 { continue }
			px := x0 - support + 1 + i
			wt := xw[i] * yw[j]
			sum  += wt * src.GetClamped(px, py)
			sumW += wt
		}
	}

	if sumW == 0 {
		return fill
	}
	return sum / sumW
}

func tapWeight(k *draw.Kernel, d float64) float64 {
	if d < 0 { d = -d }
	if d >= k.Support {
		return 0
	}
	return k.At(d)
}
