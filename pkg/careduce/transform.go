package careduce

import(
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/abworrall/careduce/pkg/emath"
)

// TransformClass is the family of geometric transforms we fit.
type TransformClass string

const(
	Translation TransformClass = "translation"  // tx,ty
	Similarity  TransformClass = "similarity"   // a,b,tx,ty : x' = ax - by + tx, y' = bx + ay + ty
	Affine      TransformClass = "affine"       // a,b,c,d,e,f : x' = ax + by + c, y' = dx + ey + f
	Projective  TransformClass = "projective"   // h00..h21, with h22 fixed at 1
)

var TransformClasses = []TransformClass{Translation, Similarity, Affine, Projective}

func ParseTransformClass(s string) (TransformClass, error) {
	if s == "" {
		return Affine, nil
	}
	for _, c := range TransformClasses {
		if strings.ToLower(s) == string(c) {
			return c, nil
		}
	}
	return "", errors.Errorf("transformClass '%s': want one of %v", s, TransformClasses)
}

func (c TransformClass)NumParams() int {
	switch c {
	case Translation: return 2
	case Similarity:  return 4
	case Affine:      return 6
	case Projective:  return 8
	}
	return 0
}

// MinPairs is how many correspondences it takes to pin down the params
func (c TransformClass)MinPairs() int { return (c.NumParams() + 1) / 2 }

// A Transform maps a pixel location in a target channel to the
// location of the same point in the reference channel.
type Transform struct {
	Class  TransformClass
	Params []float64
	Matrix emath.Mat3   // homogeneous form of Params
}

func IdentityTransform(class TransformClass) Transform {
	t, _ := TransformFromMatrix(class, emath.IdentityMat3())
	return t
}

func NewTransform(class TransformClass, params []float64) (Transform, error) {
	if len(params) != class.NumParams() || class.NumParams() == 0 {
		return Transform{}, errors.Errorf("transform '%s': want %d params, got %d", class, class.NumParams(), len(params))
	}

	p := params
	m := emath.IdentityMat3()
	switch class {
	case Translation:
		m[2], m[5] = p[0], p[1]
	case Similarity:
		m = emath.Mat3{p[0], -p[1], p[2],   p[1], p[0], p[3],   0, 0, 1}
	case Affine:
		m = emath.Mat3{p[0], p[1], p[2],   p[3], p[4], p[5],   0, 0, 1}
	case Projective:
		m = emath.Mat3{p[0], p[1], p[2],   p[3], p[4], p[5],   p[6], p[7], 1}
	}

	return Transform{Class: class, Params: append([]float64{}, params...), Matrix: m}, nil
}

// TransformFromMatrix reads the params back out of a matrix. The matrix
// must already be of the class's form; any other terms are dropped.
func TransformFromMatrix(class TransformClass, m emath.Mat3) (Transform, error) {
	m = m.Normalized()
	var p []float64
	switch class {
	case Translation: p = []float64{m[2], m[5]}
	case Similarity:  p = []float64{(m[0]+m[4])/2, (m[3]-m[1])/2, m[2], m[5]}
	case Affine:      p = []float64{m[0], m[1], m[2], m[3], m[4], m[5]}
	case Projective:  p = []float64{m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7]}
	}
	return NewTransform(class, p)
}

// Apply maps a target location into the reference frame
func (t Transform)Apply(x, y float64) (float64, float64) {
	xx, yy, ok := t.Matrix.ApplyPoint(x, y)
	if !ok {
		return math.Inf(1), math.Inf(1)
	}
	return xx, yy
}

func (t Transform)Inverse() (emath.Mat3, error) {
	inv, ok := t.Matrix.Invert()
	if !ok {
		return emath.Mat3{}, errors.Wrapf(ErrDegenerateFit, "transform %s not invertible", t)
	}
	return inv, nil
}

// IsIdentity is true if no point in a w x h image moves by more than tol pixels
func (t Transform)IsIdentity(w, h int, tol float64) bool {
	for _, pt := range [][2]float64{{0,0}, {float64(w-1),0}, {0,float64(h-1)}, {float64(w-1),float64(h-1)}} {
		x, y := t.Apply(pt[0], pt[1])
		if emath.Hypot(x-pt[0], y-pt[1]) > tol {
			return false
		}
	}
	return true
}

// Shift is how far the center of a w x h image moves
func (t Transform)Shift(w, h int) (float64, float64) {
	cx, cy := float64(w-1)/2, float64(h-1)/2
	x, y := t.Apply(cx, cy)
	return x-cx, y-cy
}

func (t Transform)String() string {
	str := fmt.Sprintf("%s[", t.Class)
	for i, p := range t.Params {
		if i > 0 { str += ", " }
		str += fmt.Sprintf("%.6g", p)
	}
	return str + "]"
}
