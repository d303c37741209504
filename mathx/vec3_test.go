package mathx

import (
	"math"
	"testing"
)

func approx(t *testing.T, got, want, tol float32, what string) {
	t.Helper()
	if diff := float64(got - want); math.Abs(diff) > float64(tol) {
		t.Fatalf("%s = %v, want %v (tol %v)", what, got, want, tol)
	}
}

func TestVec3CrossIsOrthogonal(t *testing.T) {
	tests := []struct{ a, b Vec3 }{
		{Vec3{X: 1}, Vec3{Y: 1}},
		{Vec3{X: 1, Y: 2, Z: 3}, Vec3{X: -4, Y: 5, Z: 0.5}},
		{Vec3{X: 0.3, Y: -0.7, Z: 2}, Vec3{X: 1, Y: 1, Z: 1}},
	}
	for _, tt := range tests {
		c := tt.a.Cross(tt.b)
		approx(t, c.Dot(tt.a), 0, 1e-5, "cross·a")
		approx(t, c.Dot(tt.b), 0, 1e-5, "cross·b")
	}
	c := Vec3{X: 1}.Cross(Vec3{Y: 1})
	if c != (Vec3{Z: 1}) {
		t.Fatalf("x cross y = %v, want +z", c)
	}
}

func TestNormalizeZeroVectorIsZero(t *testing.T) {
	if got := (Vec3{}).Normalize(); got != (Vec3{}) {
		t.Fatalf("normalize(0) = %v, want zero", got)
	}
	n := Vec3{X: 3, Y: 4}.Normalize()
	approx(t, n.Length(), 1, 1e-6, "unit length")
	approx(t, n.X, 0.6, 1e-6, "normalized x")
}

func TestQuatRotateVecMatchesMatrix(t *testing.T) {
	// 90 degrees about Z maps +x onto +y.
	h := float32(math.Sqrt2 / 2)
	q := Quat{Z: h, W: h}
	v := q.RotateVec(Vec3{X: 1})
	approx(t, v.X, 0, 1e-6, "rotated x")
	approx(t, v.Y, 1, 1e-6, "rotated y")

	// RotateVec must agree with the explicit matrix form for an arbitrary
	// rotation.
	q2 := Quat{X: 0.1, Y: -0.2, Z: 0.3, W: 0.9}.Normalize()
	in := Vec3{X: 0.5, Y: -1.5, Z: 2}
	m := q2.ToMat3()
	want := Vec3{
		X: m[0][0]*in.X + m[0][1]*in.Y + m[0][2]*in.Z,
		Y: m[1][0]*in.X + m[1][1]*in.Y + m[1][2]*in.Z,
		Z: m[2][0]*in.X + m[2][1]*in.Y + m[2][2]*in.Z,
	}
	got := q2.RotateVec(in)
	approx(t, got.X, want.X, 1e-5, "matrix-vs-quat x")
	approx(t, got.Y, want.Y, 1e-5, "matrix-vs-quat y")
	approx(t, got.Z, want.Z, 1e-5, "matrix-vs-quat z")
}

func TestIntegrateOrientationSmallStep(t *testing.T) {
	// Spinning about Y at 1 rad/s for a full second in many small steps
	// should come out close to the closed-form rotation.
	q := Identity
	const steps = 1000
	for i := 0; i < steps; i++ {
		q = IntegrateOrientation(q, Vec3{Y: 1}, 1.0/steps)
	}
	h := float32(math.Sin(0.5))
	w := float32(math.Cos(0.5))
	approx(t, q.Y, h, 1e-3, "integrated quat y")
	approx(t, q.W, w, 1e-3, "integrated quat w")
	approx(t, q.LengthSquared(), 1, 1e-6, "unit norm maintained")
}

func TestSym3x3InverseRoundTrip(t *testing.T) {
	m := Sym3x3{XX: 2, YY: 3, ZZ: 4, XY: 0.5, XZ: -0.25, YZ: 1}
	inv := m.Inverse()
	// m * inv applied to a few probes must reproduce them.
	for _, v := range []Vec3{{X: 1}, {Y: 1}, {Z: 1}, {X: 0.3, Y: -2, Z: 0.7}} {
		back := m.Apply(inv.Apply(v))
		approx(t, back.X, v.X, 1e-5, "round trip x")
		approx(t, back.Y, v.Y, 1e-5, "round trip y")
		approx(t, back.Z, v.Z, 1e-5, "round trip z")
	}
	if got := (Sym3x3{}).Inverse(); got != (Sym3x3{}) {
		t.Fatalf("inverse of singular matrix = %+v, want zero", got)
	}
}

func TestRotateConjugationPreservesEigenstructure(t *testing.T) {
	// A diagonal tensor rotated 90 degrees about Z swaps its XX and YY
	// entries.
	local := Sym3x3{XX: 1, YY: 2, ZZ: 3}
	h := float32(math.Sqrt2 / 2)
	world := local.Rotate(Quat{Z: h, W: h})
	approx(t, world.XX, 2, 1e-5, "world XX")
	approx(t, world.YY, 1, 1e-5, "world YY")
	approx(t, world.ZZ, 3, 1e-5, "world ZZ")

	// Rotating by the identity must be a no-op.
	same := local.Rotate(Identity)
	approx(t, same.XX, local.XX, 1e-6, "identity XX")
	approx(t, same.YZ, local.YZ, 1e-6, "identity YZ")
}

func TestOffsetInertiaMatchesSkewExpansion(t *testing.T) {
	// For m = identity and r = +x, skew(r)*I*skew(r)^T has YY = ZZ = 1 and
	// XX = 0: a lever arm along x resists displacement along y and z only.
	got := OffsetInertia(Sym3x3{XX: 1, YY: 1, ZZ: 1}, Vec3{X: 1})
	approx(t, got.XX, 0, 1e-6, "offset XX")
	approx(t, got.YY, 1, 1e-6, "offset YY")
	approx(t, got.ZZ, 1, 1e-6, "offset ZZ")
}
