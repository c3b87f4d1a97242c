package careduce

import(
	"math"
	"math/rand"

	"github.com/abworrall/careduce/pkg/emath"
)

// Synthetic star fields: gaussian stars on a flat sky, plus gaussian
// noise. All seeded, so every run sees the same pixels.

const(
	fieldBackground = 0.1
	fieldNoise      = 0.005
	fieldPSFSigma   = 1.2
)

type synthStar struct {
	X, Y, Amp float64
}

// makeStars scatters n stars, at least minSep apart and margin in from
// the edges.
func makeStars(n, w, h int, margin, minSep float64, seed int64) []synthStar {
	rng := rand.New(rand.NewSource(seed))
	stars := []synthStar{}
	for tries:=0; len(stars) < n && tries < 100000; tries++ {
		s := synthStar{
			X:   margin + rng.Float64() * (float64(w) - 2*margin),
			Y:   margin + rng.Float64() * (float64(h) - 2*margin),
			Amp: 0.15 + 0.6*rng.Float64(),
		}
		ok := true
		for _, s2 := range stars {
			if emath.Hypot(s.X-s2.X, s.Y-s2.Y) < minSep {
				ok = false
				break
			}
		}
		if ok {
			stars = append(stars, s)
		}
	}
	return stars
}

// renderField draws the stars, with each star position passed through
// move first (nil means leave them where they are).
func renderField(w, h int, stars []synthStar, move func(x, y float64) (float64, float64), noiseSeed int64) emath.FloatGrid {
	g := emath.NewFloatGrid(w, h)
	rng := rand.New(rand.NewSource(noiseSeed))
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			g.Set(x, y, fieldBackground + rng.NormFloat64()*fieldNoise)
		}
	}

	for _, s := range stars {
		cx, cy := s.X, s.Y
		if move != nil {
			cx, cy = move(s.X, s.Y)
		}
		addStar(&g, cx, cy, s.Amp)
	}
	return g
}

func addStar(g *emath.FloatGrid, cx, cy, amp float64) {
	for y:=int(cy)-8; y<=int(cy)+8; y++ {
		for x:=int(cx)-8; x<=int(cx)+8; x++ {
			if x < 0 || y < 0 || x >= g.Dx() || y >= g.Dy() { continue }
			dx, dy := float64(x)-cx, float64(y)-cy
			v := amp * math.Exp(-(dx*dx + dy*dy) / (2 * fieldPSFSigma * fieldPSFSigma))
			g.Set(x, y, g.Get(x,y) + v)
		}
	}
}

func shiftBy(dx, dy float64) func(x, y float64) (float64, float64) {
	return func(x, y float64) (float64, float64) { return x+dx, y+dy }
}

// detsFromStars turns stars straight into detections, skipping the detector
func detsFromStars(stars []synthStar, move func(x, y float64) (float64, float64)) []Detection {
	dets := []Detection{}
	for _, s := range stars {
		x, y := s.X, s.Y
		if move != nil {
			x, y = move(s.X, s.Y)
		}
		dets = append(dets, Detection{X: x, Y: y, Flux: s.Amp * 2 * math.Pi * fieldPSFSigma * fieldPSFSigma, Peak: s.Amp})
	}
	return dets
}

// nearestStar is how far the detection is from the closest true star
func nearestStar(d Detection, stars []synthStar) float64 {
	best := math.Inf(1)
	for _, s := range stars {
		if dist := emath.Hypot(d.X - s.X, d.Y - s.Y); dist < best {
			best = dist
		}
	}
	return best
}
