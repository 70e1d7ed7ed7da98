package mathx

import (
	"math"
	"testing"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestQuatRotate_YawQuarterTurn(t *testing.T) {
	q := QuatFromAxisAngle(XYZ(0, 1, 0), math.Pi/2)
	got := q.Rotate(XYZ(0, 0, 1))
	if !approx(got[0], 1) || !approx(got[1], 0) || !approx(got[2], 0) {
		t.Fatalf("rotate forward by +90 yaw: got %v want (1,0,0)", got)
	}
	back := q.Conjugate().Rotate(got)
	if !approx(back[2], 1) {
		t.Fatalf("conjugate should undo rotation: got %v", back)
	}
}

func TestQuatNormalize_Zero(t *testing.T) {
	if got := (Quat{}).Normalize(); got != QuatIdent() {
		t.Fatalf("zero quaternion normalize: got %+v", got)
	}
	q := QuatXYZW(0, 0, 0, 2).Normalize()
	if !approx(q.W, 1) {
		t.Fatalf("normalize: got %+v", q)
	}
}

func TestFinite(t *testing.T) {
	if !XYZ(1, 2, 3).Finite() {
		t.Fatalf("expected finite")
	}
	if XYZ(float32(math.NaN()), 0, 0).Finite() {
		t.Fatalf("NaN should not be finite")
	}
	if QuatXYZW(0, float32(math.Inf(1)), 0, 1).Finite() {
		t.Fatalf("Inf should not be finite")
	}
}
