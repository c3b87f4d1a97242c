package emath

// Affine and projective matrices, used to map points between channel pixel grids

import(
	"fmt"
	"math"
	"golang.org/x/image/math/f64"  // Will be "image/math/f64" at some point, hopefully make this file redundant
)

// Use a local type so we can hang methods off it
type Aff3 f64.Aff3

// Cut-n-pasted from image@0.7.0/draw/scale:matMul
func (p Aff3)Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

// Remember they compose back to front - rightmost operations performed first
func Identity() Aff3 {
	return Aff3{1, 0, 0,   0, 1, 0}
}

func (m1 Aff3)Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx,   0, 1, ty})
}

func (m1 Aff3)Scale(s float64) Aff3 {
	return m1.Mult(Aff3{s, 0, 0,   0, s, 0})
}

// ToMat3 lifts the affine into homogeneous coords
func (m Aff3)ToMat3() Mat3 {
	return Mat3{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
		   0,    0,    1,
	}
}

// Actual 3x3 matrixes; used for homogeneous (projective) transforms
type Vec3 f64.Vec3
type Mat3 f64.Mat3

func IdentityMat3() Mat3 {
	return Mat3{1, 0, 0,   0, 1, 0,   0, 0, 1}
}

func (a Mat3)Mult(b Mat3) Mat3 {
	return Mat3{
		a[3*0+0]*b[3*0+0] + a[3*0+1]*b[3*1+0] + a[3*0+2]*b[3*2+0],
		a[3*0+0]*b[3*0+1] + a[3*0+1]*b[3*1+1] + a[3*0+2]*b[3*2+1],
		a[3*0+0]*b[3*0+2] + a[3*0+1]*b[3*1+2] + a[3*0+2]*b[3*2+2],

		a[3*1+0]*b[3*0+0] + a[3*1+1]*b[3*1+0] + a[3*1+2]*b[3*2+0],
		a[3*1+0]*b[3*0+1] + a[3*1+1]*b[3*1+1] + a[3*1+2]*b[3*2+1],
		a[3*1+0]*b[3*0+2] + a[3*1+1]*b[3*1+2] + a[3*1+2]*b[3*2+2],

		a[3*2+0]*b[3*0+0] + a[3*2+1]*b[3*1+0] + a[3*2+2]*b[3*2+0],
		a[3*2+0]*b[3*0+1] + a[3*2+1]*b[3*1+1] + a[3*2+2]*b[3*2+1],
		a[3*2+0]*b[3*0+2] + a[3*2+1]*b[3*1+2] + a[3*2+2]*b[3*2+2],
	}
}

func (m Mat3)Apply(v Vec3) Vec3 {
	return Vec3{
		(m[3*0+0]*v[0] + m[3*0+1]*v[1] + m[3*0+2]*v[2]),
		(m[3*1+0]*v[0] + m[3*1+1]*v[1] + m[3*1+2]*v[2]),
		(m[3*2+0]*v[0] + m[3*2+1]*v[1] + m[3*2+2]*v[2]),
	}
}

// ApplyPoint maps the point (x,y), dividing through by w. If the point
// maps to infinity (w==0, only possible with a projective matrix),
// ok is false.
func (m Mat3)ApplyPoint(x, y float64) (xx, yy float64, ok bool) {
	v := m.Apply(Vec3{x, y, 1})
	if v[2] == 0 {
		return 0, 0, false
	}
	return v[0]/v[2], v[1]/v[2], true
}

func (m Mat3)Det() float64 {
	return m[0]*(m[4]*m[8] - m[5]*m[7]) -
		m[1]*(m[3]*m[8] - m[5]*m[6]) +
		m[2]*(m[3]*m[7] - m[4]*m[6])
}

// Invert returns the inverse via the adjugate; ok is false if the
// matrix is singular.
func (m Mat3)Invert() (Mat3, bool) {
	det := m.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Mat3{}, false
	}
	inv := Mat3{
		(m[4]*m[8] - m[5]*m[7]), -(m[1]*m[8] - m[2]*m[7]),  (m[1]*m[5] - m[2]*m[4]),
		-(m[3]*m[8] - m[5]*m[6]),  (m[0]*m[8] - m[2]*m[6]), -(m[0]*m[5] - m[2]*m[3]),
		(m[3]*m[7] - m[4]*m[6]), -(m[0]*m[7] - m[1]*m[6]),  (m[0]*m[4] - m[1]*m[3]),
	}
	for i := range inv {
		inv[i] /= det
	}
	return inv, true
}

// Normalized rescales so that m[8] == 1 (the usual form for a homography)
func (m Mat3)Normalized() Mat3 {
	if m[8] == 0 || m[8] == 1 {
		return m
	}
	for i := range m {
		m[i] /= m[8]
	}
	return m
}

func (m Mat3)String() string {
	str := fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*0+0], m[3*0+1], m[3*0+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*1+0], m[3*1+1], m[3*1+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*2+0], m[3*2+1], m[3*2+2])
	return str
}
