package careduce

import(
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/careduce/pkg/emath"
)

// Above this, the design matrix is as good as singular (e.g. all the
// stars lie on a line), and the params it yields are noise.
const MaxConditionNumber = 1e10

const maxRefineRounds = 10

// A Fit is the outcome of robustly estimating a transform from a set
// of pairs. Residuals line up with the input pairs; Inliers says which
// of them were used in the final least-squares fit.
type Fit struct {
	Transform    Transform
	InlierCount  int
	OutlierCount int
	RMSResidual  float64     // over the inliers, in pixels
	Residuals    []float64
	Inliers      []bool
}

// Estimate fits a transform of the configured class that maps the
// target side of each pair onto its reference side. Outliers are
// weeded out with a deterministic RANSAC (the seed is in the config),
// then the inlier set is refit by least squares until it settles.
func Estimate(ctx context.Context, pairs []Pair, cfg FitConfig) (Fit, error) {
	cfg = cfg.withDefaults()
	class := cfg.Class
	n, k := len(pairs), class.MinPairs()

	if k == 0 {
		return Fit{}, errors.Errorf("transformClass '%s' unknown", class)
	} else if n < k {
		return Fit{}, errors.Wrapf(ErrDegenerateFit, "%s needs %d pairs, have %d", class, k, n)
	}

	all := make([]int, n)
	for i := range all { all[i] = i }

	// Seed the search with the plain least squares fit over everything;
	// on clean data it's already the answer.
	best := []int{}
	bestSS := math.Inf(1)
	if t, err := fitLeastSquares(pairs, all, class); err == nil {
		best, bestSS = inliersOf(t, pairs, cfg.RobustThreshold)
	}

	if n > k && len(best) < n {
		rng := rand.New(rand.NewSource(cfg.Seed))
		for iter:=0; iter<cfg.Iterations; iter++ {
			if err := ctx.Err(); err != nil {
				return Fit{}, err
			}

			sample := rng.Perm(n)[:k]
			t, err := fitLeastSquares(pairs, sample, class)
			if err != nil {
				continue // degenerate sample
			}

			inl, ss := inliersOf(t, pairs, cfg.RobustThreshold)
			if len(inl) > len(best) || (len(inl) == len(best) && ss < bestSS) {
				best, bestSS = inl, ss
			}
			if len(best) == n {
				break
			}
		}
	}

	if len(best) < k {
		return Fit{}, errors.Wrapf(ErrDegenerateFit, "%s: only %d of %d pairs within %.2fpx of any fit", class, len(best), n, cfg.RobustThreshold)
	}

	// inl is always the set that final was fitted to
	var final Transform
	inl := best
	for round:=1; ; round++ {
		if err := ctx.Err(); err != nil {
			return Fit{}, err
		}

		t, err := fitLeastSquares(pairs, inl, class)
		if err != nil {
			return Fit{}, err
		}
		final = t
		if round >= maxRefineRounds {
			break
		}

		next, _ := inliersOf(t, pairs, cfg.RobustThreshold)
		if len(next) < k || sameIndices(next, inl) {
			break
		}
		inl = next
	}

	fit := newFit(final, pairs, inl)
	if fit.RMSResidual > cfg.ResidualCeiling {
		return fit, errors.Wrapf(ErrExcessiveResidual, "rms %.3fpx over ceiling %.3fpx", fit.RMSResidual, cfg.ResidualCeiling)
	}
	return fit, nil
}

func (fc FitConfig)withDefaults() FitConfig {
	def := DefaultFitConfig()
	if fc.Class == ""          { fc.Class = def.Class }
	if fc.RobustThreshold <= 0 { fc.RobustThreshold = def.RobustThreshold }
	if fc.Iterations <= 0      { fc.Iterations = def.Iterations }
	if fc.ResidualCeiling <= 0 { fc.ResidualCeiling = def.ResidualCeiling }
	return fc
}

func newFit(t Transform, pairs []Pair, inl []int) Fit {
	fit := Fit{
		Transform:    t,
		InlierCount:  len(inl),
		OutlierCount: len(pairs) - len(inl),
		Residuals:    make([]float64, len(pairs)),
		Inliers:      make([]bool, len(pairs)),
	}

	for i, p := range pairs {
		fit.Residuals[i] = residual(t, p)
	}

	ss := 0.0
	for _, i := range inl {
		fit.Inliers[i] = true
		ss += fit.Residuals[i] * fit.Residuals[i]
	}
	if len(inl) > 0 {
		fit.RMSResidual = math.Sqrt(ss / float64(len(inl)))
	}

	return fit
}

// residual is how far the transformed target lands from the reference
func residual(t Transform, p Pair) float64 {
	x, y := t.Apply(p.Target.X, p.Target.Y)
	return emath.Hypot(x - p.Ref.X, y - p.Ref.Y)
}

// inliersOf returns the indices of the pairs within thresh, and their
// summed squared residuals.
func inliersOf(t Transform, pairs []Pair, thresh float64) ([]int, float64) {
	inl := []int{}
	ss := 0.0
	for i, p := range pairs {
		if r := residual(t, p); r <= thresh {
			inl = append(inl, i)
			ss += r*r
		}
	}
	return inl, ss
}

func sameIndices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] { return false }
	}
	return true
}

// fitLeastSquares solves for the params over the pairs picked out by
// idx. Both point sets are shifted to their centroids and scaled by a
// common factor first, so the design matrix is well conditioned; the
// result is mapped back into pixel coords.
func fitLeastSquares(pairs []Pair, idx []int, class TransformClass) (Transform, error) {
	n, k := len(idx), class.MinPairs()
	if n < k {
		return Transform{}, errors.Wrapf(ErrDegenerateFit, "%s needs %d pairs, have %d", class, k, n)
	}

	var cpx, cpy, cqx, cqy float64
	for _, i := range idx {
		cpx += pairs[i].Target.X
		cpy += pairs[i].Target.Y
		cqx += pairs[i].Ref.X
		cqy += pairs[i].Ref.Y
	}
	cpx, cpy, cqx, cqy = cpx/float64(n), cpy/float64(n), cqx/float64(n), cqy/float64(n)

	spread := 0.0
	for _, i := range idx {
		spread += emath.Hypot(pairs[i].Target.X - cpx, pairs[i].Target.Y - cpy)
		spread += emath.Hypot(pairs[i].Ref.X - cqx, pairs[i].Ref.Y - cqy)
	}
	spread /= float64(2*n)
	s := 1.0
	if spread > 0 {
		s = math.Sqrt2 / spread
	}

	nParams := class.NumParams()
	A := mat.NewDense(2*n, nParams, nil)
	b := mat.NewVecDense(2*n, nil)

	for row, i := range idx {
		x, y := s*(pairs[i].Target.X - cpx), s*(pairs[i].Target.Y - cpy)
		u, v := s*(pairs[i].Ref.X - cqx),    s*(pairs[i].Ref.Y - cqy)
		r0, r1 := 2*row, 2*row+1

		switch class {
		case Translation:
			A.Set(r0, 0, 1)
			A.Set(r1, 1, 1)
			b.SetVec(r0, u - x)
			b.SetVec(r1, v - y)

		case Similarity:
			A.SetRow(r0, []float64{x, -y, 1, 0})
			A.SetRow(r1, []float64{y,  x, 0, 1})
			b.SetVec(r0, u)
			b.SetVec(r1, v)

		case Affine:
			A.SetRow(r0, []float64{x, y, 1, 0, 0, 0})
			A.SetRow(r1, []float64{0, 0, 0, x, y, 1})
			b.SetVec(r0, u)
			b.SetVec(r1, v)

		case Projective:
			A.SetRow(r0, []float64{x, y, 1, 0, 0, 0, -u*x, -u*y})
			A.SetRow(r1, []float64{0, 0, 0, x, y, 1, -v*x, -v*y})
			b.SetVec(r0, u)
			b.SetVec(r1, v)
		}
	}

	if cond := mat.Cond(A, 2); cond > MaxConditionNumber || math.IsNaN(cond) {
		return Transform{}, errors.Wrapf(ErrDegenerateFit, "%s over %d pairs: condition number %.3g", class, n, cond)
	}

	var solution mat.VecDense
	if err := solution.SolveVec(A, b); err != nil {
		return Transform{}, errors.Wrapf(ErrDegenerateFit, "%s over %d pairs: %v", class, n, err)
	}

	params := make([]float64, nParams)
	for i := range params {
		params[i] = solution.AtVec(i)
	}
	normalized, err := NewTransform(class, params)
	if err != nil {
		return Transform{}, err
	}

	normTarget := emath.Identity().Scale(s).Translate(-cpx, -cpy)
	denormRef  := emath.Identity().Translate(cqx, cqy).Scale(1/s)
	m := denormRef.ToMat3().Mult(normalized.Matrix).Mult(normTarget.ToMat3())

	return TransformFromMatrix(class, m)
}
