package emath

import(
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a grid of floats, with some operations. It holds a
// single channel of an image; the values are not assumed to be
// normalized.
type FloatGrid struct {
	stride int
	height int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	if w < 0 { w = 0 }
	if h < 0 { h = 0 }
	return FloatGrid{
		stride: w,
		height: h,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFrom wraps the row-major values (not copied)
func NewFloatGridFrom(w, h int, values []float64) (FloatGrid, error) {
	if w < 0 || h < 0 || len(values) != w*h {
		return FloatGrid{}, fmt.Errorf("grid %dx%d needs %d values, got %d", w, h, w*h, len(values))
	}
	return FloatGrid{stride: w, height: h, values: values}, nil
}

func (g1 *FloatGrid)NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid)Set(x, y int, v float64) { fg.values[fg.stride*y + x] = v }
func (fg *FloatGrid)Get(x, y int) float64    { return fg.values[fg.stride*y + x] }
func (fg *FloatGrid)Dx() int                 { return fg.stride }
func (fg *FloatGrid)Dy() int                 { return fg.height }
func (fg *FloatGrid)Bounds() image.Rectangle { return image.Rect(0, 0, fg.Dx(), fg.Dy()) }
func (fg *FloatGrid)Empty() bool             { return len(fg.values) == 0 }

// Row exposes a row of values, so a worker can fill it in without
// touching other rows.
func (fg *FloatGrid)Row(y int) []float64     { return fg.values[fg.stride*y : fg.stride*(y+1)] }

// GetClamped treats out of bounds coords as the nearest edge pixel
func (fg *FloatGrid)GetClamped(x, y int) float64 {
	if x < 0 { x = 0 } else if x >= fg.stride { x = fg.stride-1 }
	if y < 0 { y = 0 } else if y >= fg.height { y = fg.height-1 }
	return fg.values[fg.stride*y + x]
}

func (g1 *FloatGrid)SameSize(g2 FloatGrid) bool {
	return g1.Dx() == g2.Dx() && g1.Dy() == g2.Dy()
}

func (g1 *FloatGrid)Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, height: g1.height, values:make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// Sub returns g1-g2, per pixel. They must be the same size.
func (g1 *FloatGrid)Sub(g2 FloatGrid) FloatGrid {
	out := g1.NewFromThis()
	for i := range g1.values {
		out.values[i] = g1.values[i] - g2.values[i]
	}
	return out
}

// Max returns the largest value, and how many pixels hold it
func (fg *FloatGrid)Max() (float64, int) {
	max, n := math.Inf(-1), 0
	for _, v := range fg.values {
		if v > max {
			max, n = v, 1
		} else if v == max {
			n++
		}
	}
	return max, n
}

func (g1 FloatGrid)GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()
	if width < 2 || height < 2 {
		copy(g2.values, g1.values)
		return g2
	}

	T  := g1.NewFromThis()

	//--- X blur, build up in T
	for y:=0; y<height; y++ {
		for x:=1; x<width-1; x++ {
			t := 2.0*g1.Get(x,y)
			t += g1.Get(x-1,y)
			t += g1.Get(x+1,y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y,       (3.0*g1.Get(0,      y) + g1.Get(1,      y)) / 4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1,y) + g1.Get(width-2,y)) / 4.0)
	}

	//--- Y blur, read from T and generate output
	for x:=0; x<width; x++ {
		for y:=1; y<height-1; y++ {
			t := 2.0*T.Get(x,y)
			t += T.Get(x,y-1)
			t += T.Get(x,y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0,        (3.0*T.Get(x,       0) + T.Get(x,       1)) / 4.0)
		g2.Set(x, height-1, (3.0*T.Get(x,height-1) + T.Get(x,height-2)) / 4.0)
	}

	return g2
}

// GaussianBlurNoiseFactor is how much GaussianBlur shrinks the stddev
// of white noise: the 1-2-1 kernel's weights, squared and summed, in
// each dimension, then square-rooted (sqrt(6/16)^2).
const GaussianBlurNoiseFactor = 0.375

// FindMinMaxAtPercentile skips zero values, which are usually fill
func (I *FloatGrid)FindMinMaxAtPercentile(minPrct, maxPrct float64) (float64, float64) {
	vI := []float64{}

	for i:=0 ; i<len(I.values) ; i++ {
		if val := I.values[i]; val != 0.0 {
			vI = append(vI, val)
		}
	}
	if len(vI) == 0 {
		return 0, 0
	}

	sort.Float64s(vI)

	iMin := int(minPrct * float64(len(vI)))
	iMax := int(maxPrct * float64(len(vI)))
	if iMin < 0        { iMin = 0 }
	if iMax >= len(vI) { iMax = len(vI)-1 }

	return vI[iMin], vI[iMax]
}

func (fg *FloatGrid)Stats() string {
	min := math.MaxFloat64
	max := -1.0  * min

	for i:=0 ; i<len(fg.values) ; i++ {
		if fg.values[i] > max { max = fg.values[i] }
		if fg.values[i] < min { min = fg.values[i] }
	}
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToGray renders a grayscale, stretched between the 0.5% and 99.5%
// percentiles, and gamma scaling the gray to look normal for human
// vision (star fields are mostly background, so a min/max stretch
// would be black)
func (fg *FloatGrid)ToGray() *image.RGBA64 {
	min, max := fg.FindMinMaxAtPercentile(0.005, 0.995)
	if max <= min { max = min + 1 }

	img := image.NewRGBA64(image.Rectangle{Max:image.Point{fg.Dx(), fg.Dy()}})
	for x:=0; x<fg.Dx(); x++ {
		for y:=0; y<fg.Dy(); y++ {
			lum := (fg.Get(x,y) - min) / (max - min)
			if lum < 0 { lum = 0 }
			if lum > 1 { lum = 1 }
			gray := uint16(GammaExpand_F64(lum) * 65535.0)
			img.Set(x, y, color.RGBA64{gray, gray, gray, 0xFFFF})
		}
	}
	return img
}

// ToImg saves the grayscale, with a title
func (fg *FloatGrid)ToImg(title, filename string) error {
	dc := gg.NewContextForImage(fg.ToGray())
	dc.SetRGB(1,1,1)
	dc.DrawString(title, 50, 50)
	return dc.SavePNG(filename)
}
