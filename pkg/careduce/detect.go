package careduce

import(
	"fmt"
	"math"
	"sort"

	"github.com/abworrall/careduce/pkg/emath"
)

// A Detection is a point source (a star), found in a single channel.
// X,Y are in pixel coords, where integer values are pixel centers.
type Detection struct {
	X, Y   float64
	Flux   float64  // sum of the background-subtracted signal
	Radius float64  // rms spread of the signal, about the centroid
	Peak   float64  // brightest background-subtracted pixel
	SNR    float64  // Peak, in units of the local noise
}

func (d Detection)String() string {
	return fmt.Sprintf("star(%8.3f,%8.3f) flux:%9.3f r:%5.2f snr:%6.1f", d.X, d.Y, d.Flux, d.Radius, d.SNR)
}

func (d Detection)DistanceTo(d2 Detection) float64 { return emath.Hypot(d.X-d2.X, d.Y-d2.Y) }

// Background is a smooth model of the sky, and of its noise.
type Background struct {
	Level emath.FloatGrid
	Sigma emath.FloatGrid
}

// EstimateBackground chops the image into window-sized blocks, takes
// the median and robust sigma of each, and interpolates bilinearly
// between the block centers. Stars are a small fraction of any block,
// so they don't pull the median.
func EstimateBackground(g emath.FloatGrid, window int) Background {
	w, h := g.Dx(), g.Dy()
	bg := Background{Level: emath.NewFloatGrid(w, h), Sigma: emath.NewFloatGrid(w, h)}
	if w == 0 || h == 0 {
		return bg
	}
	if window < 1 { window = 1 }

	nbx := (w + window - 1) / window
	nby := (h + window - 1) / window
	levels := emath.NewFloatGrid(nbx, nby)
	sigmas := emath.NewFloatGrid(nbx, nby)

	vals := make([]float64, 0, window*window)
	for by:=0; by<nby; by++ {
		for bx:=0; bx<nbx; bx++ {
			vals = vals[:0]
			for y:=by*window; y<(by+1)*window && y<h; y++ {
				for x:=bx*window; x<(bx+1)*window && x<w; x++ {
					vals = append(vals, g.Get(x,y))
				}
			}
			med, sigma := emath.MedianSigma(vals)
			levels.Set(bx, by, med)
			sigmas.Set(bx, by, sigma)
		}
	}

	xIdx, xFrac := blockInterpolants(w, window, nbx)
	yIdx, yFrac := blockInterpolants(h, window, nby)

	for y:=0; y<h; y++ {
		y0, fy := yIdx[y], yFrac[y]
		y1 := y0 + 1
		if y1 >= nby { y1 = nby-1 }
		for x:=0; x<w; x++ {
			x0, fx := xIdx[x], xFrac[x]
			x1 := x0 + 1
			if x1 >= nbx { x1 = nbx-1 }

			lerp := func(fg *emath.FloatGrid) float64 {
				top := fg.Get(x0,y0)*(1-fx) + fg.Get(x1,y0)*fx
				bot := fg.Get(x0,y1)*(1-fx) + fg.Get(x1,y1)*fx
				return top*(1-fy) + bot*fy
			}
			bg.Level.Set(x, y, lerp(&levels))
			bg.Sigma.Set(x, y, lerp(&sigmas))
		}
	}

	return bg
}

// blockInterpolants works out, for each pixel along an axis, which pair
// of block centers it sits between, and how far along.
func blockInterpolants(n, window, nblocks int) ([]int, []float64) {
	centers := make([]float64, nblocks)
	for i := range centers {
		end := (i+1)*window
		if end > n { end = n }
		centers[i] = float64(i*window + end - 1) / 2.0
	}

	idx := make([]int, n)
	frac := make([]float64, n)
	b := 0
	for p:=0; p<n; p++ {
		for b < nblocks-2 && float64(p) >= centers[b+1] {
			b++
		}
		idx[p] = b
		if nblocks == 1 || float64(p) <= centers[b] {
			continue // before the first center; flat
		}
		f := (float64(p) - centers[b]) / (centers[b+1] - centers[b])
		if f > 1 { f = 1 }
		frac[p] = f
	}
	return idx, frac
}

// Detect finds the point sources in a single channel. It is a pure
// function of the grid and config: the same inputs always give the
// same detections, in the same order (descending flux). Every
// detection has SNR >= MinSNR.
func Detect(g emath.FloatGrid, cfg DetectConfig) []Detection {
	cfg = cfg.withDefaults()
	w, h := g.Dx(), g.Dy()
	r := cfg.CentroidRadius
	if w < 2*r+1 || h < 2*r+1 {
		return []Detection{}
	}

	bg := EstimateBackground(g, cfg.BackgroundWindow)
	residual := g.Sub(bg.Level)
	smoothed := residual.GaussianBlur()

	satLevel := cfg.SaturationLevel
	imgMax, nImgMax := g.Max()

	candidates := []Detection{}
	for y:=r; y<h-r; y++ {
		for x:=r; x<w-r; x++ {
			sigma := noiseFloor(bg.Sigma.Get(x,y), bg.Level.Get(x,y))
			v := smoothed.Get(x,y)
			if v <= cfg.MinSNR * sigma * emath.GaussianBlurNoiseFactor {
				continue
			}
			if !isLocalMax(&smoothed, x, y) {
				continue
			}

			// The smoothed gate only nominates; the star itself has to
			// clear MinSNR.
			d, ok := centroid(&g, &residual, sigma, x, y, r)
			if !ok || d.SNR < cfg.MinSNR {
				continue
			}

			if satLevel > 0 && windowMax(&g, d, r) >= satLevel {
				continue
			} else if satLevel == 0 && nImgMax > 1 && isClippedPlateau(&g, d, r, imgMax) {
				continue
			}

			candidates = append(candidates, d)
		}
	}

	sortDetections(candidates)

	// Drop the fainter of any two peaks that are within a centroid
	// radius of each other; they are the same star.
	dets := []Detection{}
	for _, c := range candidates {
		dup := false
		for _, d := range dets {
			if c.DistanceTo(d) < float64(r) {
				dup = true
				break
			}
		}
		if !dup {
			dets = append(dets, c)
		}
		if len(dets) >= cfg.MaxDetections {
			break
		}
	}

	return dets
}

func (dc DetectConfig)withDefaults() DetectConfig {
	def := DefaultDetectConfig()
	if dc.MinSNR <= 0           { dc.MinSNR = def.MinSNR }
	if dc.MaxDetections <= 0    { dc.MaxDetections = def.MaxDetections }
	if dc.BackgroundWindow <= 0 { dc.BackgroundWindow = def.BackgroundWindow }
	if dc.CentroidRadius <= 0   { dc.CentroidRadius = def.CentroidRadius }
	return dc
}

// A noise-free image has sigma==0, which would make every ripple a star
func noiseFloor(sigma, level float64) float64 {
	floor := 1e-9 * (1 + math.Abs(level))
	if sigma < floor {
		return floor
	}
	return sigma
}

// isLocalMax breaks ties on flat tops by scan order, so a plateau yields
// exactly one peak.
func isLocalMax(g *emath.FloatGrid, x, y int) bool {
	v := g.Get(x,y)
	for dy:=-1; dy<=1; dy++ {
		for dx:=-1; dx<=1; dx++ {
			if dx==0 && dy==0 { continue }
			n := g.Get(x+dx, y+dy)
			if n > v {
				return false
			} else if n == v && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}

// centroid iterates a flux-weighted center over a (2r+1)^2 window,
// re-centering the window each pass. Weights are the signal more than
// one sigma above the background, which keeps noise out of the
// estimate. If the window would leave the image, there is no
// detection.
func centroid(raw, residual *emath.FloatGrid, sigma float64, px, py, r int) (Detection, bool) {
	cx, cy := float64(px), float64(py)

	var sumW, sumWX, sumWY float64
	for iter:=0; iter<3; iter++ {
		ix, iy := int(math.Round(cx)), int(math.Round(cy))
		if ix-r < 0 || iy-r < 0 || ix+r >= residual.Dx() || iy+r >= residual.Dy() {
			return Detection{}, false
		}

		sumW, sumWX, sumWY = 0, 0, 0
		for y:=iy-r; y<=iy+r; y++ {
			for x:=ix-r; x<=ix+r; x++ {
				wt := residual.Get(x,y) - sigma
				if wt <= 0 { continue }
				sumW  += wt
				sumWX += wt * float64(x)
				sumWY += wt * float64(y)
			}
		}
		if sumW <= 0 {
			return Detection{}, false
		}

		nx, ny := sumWX/sumW, sumWY/sumW
		moved := emath.Hypot(nx-cx, ny-cy)
		cx, cy = nx, ny
		if moved < 0.001 {
			break
		}
	}

	ix, iy := int(math.Round(cx)), int(math.Round(cy))
	if ix-r < 0 || iy-r < 0 || ix+r >= residual.Dx() || iy+r >= residual.Dy() {
		return Detection{}, false
	}

	d := Detection{X: cx, Y: cy}
	var sumW2, sumR2 float64
	for y:=iy-r; y<=iy+r; y++ {
		for x:=ix-r; x<=ix+r; x++ {
			v := residual.Get(x,y)
			if v > 0           { d.Flux += v }
			if v > d.Peak      { d.Peak = v }
			if wt := v - sigma; wt > 0 {
				dx, dy := float64(x)-cx, float64(y)-cy
				sumW2 += wt
				sumR2 += wt * (dx*dx + dy*dy)
			}
		}
	}
	if sumW2 > 0 {
		d.Radius = math.Sqrt(sumR2 / sumW2 / 2.0) // per-axis spread
	}
	d.SNR = d.Peak / sigma

	return d, true
}

func windowMax(g *emath.FloatGrid, d Detection, r int) float64 {
	ix, iy := int(math.Round(d.X)), int(math.Round(d.Y))
	max := math.Inf(-1)
	for y:=iy-r; y<=iy+r; y++ {
		for x:=ix-r; x<=ix+r; x++ {
			if v := g.Get(x,y); v > max { max = v }
		}
	}
	return max
}

// isClippedPlateau spots a saturated star without being told the
// saturation level: its brightest pixel is the brightest value in the
// whole image, and a neighbor has clipped to the same value.
func isClippedPlateau(g *emath.FloatGrid, d Detection, r int, imgMax float64) bool {
	ix, iy := int(math.Round(d.X)), int(math.Round(d.Y))
	for y:=iy-r; y<=iy+r; y++ {
		for x:=ix-r; x<=ix+r; x++ {
			if g.Get(x,y) != imgMax { continue }
			for dy:=-1; dy<=1; dy++ {
				for dx:=-1; dx<=1; dx++ {
					nx, ny := x+dx, y+dy
					if (dx==0 && dy==0) || nx < 0 || ny < 0 || nx >= g.Dx() || ny >= g.Dy() { continue }
					if g.Get(nx, ny) == imgMax {
						return true
					}
				}
			}
		}
	}
	return false
}

// sortDetections orders by descending flux, then ascending y, then x
func sortDetections(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		if dets[i].Flux != dets[j].Flux { return dets[i].Flux > dets[j].Flux }
		if dets[i].Y != dets[j].Y       { return dets[i].Y < dets[j].Y }
		return dets[i].X < dets[j].X
	})
}
