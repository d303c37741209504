// Package mathx provides the scalar vector/quaternion primitives the
// constraint kernels and the sub-stepping integrator build on. Every
// function here operates on one lane's worth of data; the AOSOA bundle
// loops in constraint/body/substep call these once per active lane, the
// same way bundle/ops.go implements its "SIMD" ops as a plain Go loop over
// lanes (this package has no hardware backend to dispatch to — there is no
// archsimd here, just the scalar math a lane's worth of rigid-body state
// needs).
package mathx

import "math"

// MaxFloat is the largest finite float32, used as the stand-in bound for
// unclamped impulse DOFs.
const MaxFloat = float32(math.MaxFloat32)

// Vec3 is a 3-component vector or point.
type Vec3 struct {
	X, Y, Z float32
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float32) Vec3 {
	return Vec3{a.X * s, a.Y * s, a.Z * s}
}
func (a Vec3) Neg() Vec3 { return Vec3{-a.X, -a.Y, -a.Z} }

func (a Vec3) Dot(b Vec3) float32 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) LengthSquared() float32 {
	return a.Dot(a)
}

func (a Vec3) Length() float32 {
	return float32(math.Sqrt(float64(a.LengthSquared())))
}

// Normalize returns a unit vector in the direction of a, or the zero vector
// if a is (numerically) zero-length.
func (a Vec3) Normalize() Vec3 {
	l := a.Length()
	if l < 1e-12 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

// Sym3x3 is a symmetric 3x3 matrix stored by its six distinct entries, the
// shape a local or world inverse inertia tensor takes.
type Sym3x3 struct {
	XX, YY, ZZ float32
	XY, XZ, YZ float32
}

// Apply computes M*v for symmetric M.
func (m Sym3x3) Apply(v Vec3) Vec3 {
	return Vec3{
		m.XX*v.X + m.XY*v.Y + m.XZ*v.Z,
		m.XY*v.X + m.YY*v.Y + m.YZ*v.Z,
		m.XZ*v.X + m.YZ*v.Y + m.ZZ*v.Z,
	}
}

// Rotate conjugates a local symmetric tensor into world space given the
// rotation matrix columns derived from a unit quaternion: world = R*local*R^T.
// Used once per sub-step per body to recompute the world inverse inertia
// tensor from local inverse inertia and the new orientation.
func (m Sym3x3) Rotate(q Quat) Sym3x3 {
	r := q.ToMat3()
	// local as full 3x3
	l := [3][3]float32{
		{m.XX, m.XY, m.XZ},
		{m.XY, m.YY, m.YZ},
		{m.XZ, m.YZ, m.ZZ},
	}
	var t [3][3]float32 // t = R*l
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += r[i][k] * l[k][j]
			}
			t[i][j] = s
		}
	}
	var w [3][3]float32 // w = t*R^T
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += t[i][k] * r[j][k]
			}
			w[i][j] = s
		}
	}
	return Sym3x3{
		XX: w[0][0], YY: w[1][1], ZZ: w[2][2],
		XY: (w[0][1] + w[1][0]) / 2,
		XZ: (w[0][2] + w[2][0]) / 2,
		YZ: (w[1][2] + w[2][1]) / 2,
	}
}

// Add returns the entrywise sum of two symmetric matrices.
func (m Sym3x3) Add(o Sym3x3) Sym3x3 {
	return Sym3x3{
		XX: m.XX + o.XX, YY: m.YY + o.YY, ZZ: m.ZZ + o.ZZ,
		XY: m.XY + o.XY, XZ: m.XZ + o.XZ, YZ: m.YZ + o.YZ,
	}
}

// AddDiag adds s to the diagonal. Used to fold a summed inverse mass into an
// effective-mass matrix built from inertia terms.
func (m Sym3x3) AddDiag(s float32) Sym3x3 {
	m.XX += s
	m.YY += s
	m.ZZ += s
	return m
}

// Scale returns the entrywise product m*s.
func (m Sym3x3) Scale(s float32) Sym3x3 {
	return Sym3x3{
		XX: m.XX * s, YY: m.YY * s, ZZ: m.ZZ * s,
		XY: m.XY * s, XZ: m.XZ * s, YZ: m.YZ * s,
	}
}

// Inverse inverts a symmetric 3x3 matrix by adjugate over determinant,
// returning the zero matrix for a (numerically) singular input.
func (m Sym3x3) Inverse() Sym3x3 {
	det := m.XX*(m.YY*m.ZZ-m.YZ*m.YZ) - m.XY*(m.XY*m.ZZ-m.YZ*m.XZ) + m.XZ*(m.XY*m.YZ-m.YY*m.XZ)
	if det > -1e-12 && det < 1e-12 {
		return Sym3x3{}
	}
	invDet := 1 / det
	return Sym3x3{
		XX: (m.YY*m.ZZ - m.YZ*m.YZ) * invDet,
		YY: (m.XX*m.ZZ - m.XZ*m.XZ) * invDet,
		ZZ: (m.XX*m.YY - m.XY*m.XY) * invDet,
		XY: (m.XZ*m.YZ - m.XY*m.ZZ) * invDet,
		XZ: (m.XY*m.YZ - m.XZ*m.YY) * invDet,
		YZ: (m.XY*m.XZ - m.YZ*m.XX) * invDet,
	}
}

// OffsetInertia computes skew(r) * m * skew(r)^T, the angular contribution
// a lever arm r makes to the linear effective-mass matrix of a point
// constraint anchored r away from the body's center.
func OffsetInertia(m Sym3x3, r Vec3) Sym3x3 {
	sk := [3][3]float32{
		{0, -r.Z, r.Y},
		{r.Z, 0, -r.X},
		{-r.Y, r.X, 0},
	}
	full := [3][3]float32{
		{m.XX, m.XY, m.XZ},
		{m.XY, m.YY, m.YZ},
		{m.XZ, m.YZ, m.ZZ},
	}
	var t [3][3]float32 // t = skew(r)*m
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += sk[i][k] * full[k][j]
			}
			t[i][j] = s
		}
	}
	var w [3][3]float32 // w = t*skew(r)^T
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += t[i][k] * sk[j][k]
			}
			w[i][j] = s
		}
	}
	return Sym3x3{
		XX: w[0][0], YY: w[1][1], ZZ: w[2][2],
		XY: (w[0][1] + w[1][0]) / 2,
		XZ: (w[0][2] + w[2][0]) / 2,
		YZ: (w[1][2] + w[2][1]) / 2,
	}
}

// Quat is a unit quaternion (X,Y,Z,W) representing orientation, stored in
// the bundle layout's [x,y,z,w] lane-plane order.
type Quat struct {
	X, Y, Z, W float32
}

// Identity is the no-rotation quaternion.
var Identity = Quat{W: 1}

func (q Quat) LengthSquared() float32 {
	return q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W
}

func (q Quat) Normalize() Quat {
	ls := q.LengthSquared()
	if ls < 1e-20 {
		return Identity
	}
	inv := float32(1 / math.Sqrt(float64(ls)))
	return Quat{q.X * inv, q.Y * inv, q.Z * inv, q.W * inv}
}

// Mul computes the Hamilton product a*b (applies b first, then a).
func (a Quat) Mul(b Quat) Quat {
	return Quat{
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
	}
}

func (q Quat) Conjugate() Quat {
	return Quat{-q.X, -q.Y, -q.Z, q.W}
}

// RotateVec rotates v by q.
func (q Quat) RotateVec(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	uv := u.Cross(v)
	uuv := u.Cross(uv)
	return v.Add(uv.Scale(2 * q.W)).Add(uuv.Scale(2))
}

// ToMat3 returns the 3x3 rotation matrix (row-major) equivalent to q.
func (q Quat) ToMat3() [3][3]float32 {
	x, y, z, w := q.X, q.Y, q.Z, q.W
	x2, y2, z2 := x+x, y+y, z+z
	xx, xy, xz := x*x2, x*y2, x*z2
	yy, yz, zz := y*y2, y*z2, z*z2
	wx, wy, wz := w*x2, w*y2, w*z2
	return [3][3]float32{
		{1 - (yy + zz), xy - wz, xz + wy},
		{xy + wz, 1 - (xx + zz), yz - wx},
		{xz - wy, yz + wx, 1 - (xx + yy)},
	}
}

// IntegrateOrientation advances q by the half-step quaternion of angular
// velocity omega over dt (non-conserving mode: q' = normalize(q + 0.5*dt*omega*q)).
// This is the "nonconserving"
// angular mode; ConserveMomentum and ConserveMomentumWithGyroscopicTorque
// modes are applied to the velocity before this call (see substep package).
func IntegrateOrientation(q Quat, omega Vec3, dt float32) Quat {
	delta := Quat{omega.X, omega.Y, omega.Z, 0}.Mul(q).Scale(0.5 * dt)
	return Quat{q.X + delta.X, q.Y + delta.Y, q.Z + delta.Z, q.W + delta.W}.Normalize()
}

func (q Quat) Scale(s float32) Quat {
	return Quat{q.X * s, q.Y * s, q.Z * s, q.W * s}
}
