package mathx

import "math"

// Quat is a rotation quaternion; V holds x,y,z and W the scalar part.
type Quat struct {
	V Vec3
	W float32
}

// QuatIdent returns the identity rotation.
func QuatIdent() Quat {
	return Quat{W: 1}
}

// QuatXYZW builds a quaternion from its components in wire order.
func QuatXYZW(x, y, z, w float32) Quat {
	return Quat{V: Vec3{x, y, z}, W: w}
}

// QuatFromAxisAngle builds a rotation of angle radians around axis.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	sin := float32(math.Sin(float64(angle * 0.5)))
	cos := float32(math.Cos(float64(angle * 0.5)))
	return Quat{V: axis.Mul(sin), W: cos}
}

// XYZW returns the components in wire order.
func (q Quat) XYZW() [4]float32 {
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	cross := q.V.Cross(v)
	// v + 2q_w * (q_v x v) + 2q_v x (q_v x v)
	return v.Add(cross.Mul(2 * q.W)).Add(q.V.Mul(2).Cross(cross))
}

// Mul composes two rotations. Not commutative.
func (q Quat) Mul(q2 Quat) Quat {
	return Quat{
		V: q.V.Cross(q2.V).Add(q2.V.Mul(q.W)).Add(q.V.Mul(q2.W)),
		W: q.W*q2.W - q.V.Dot(q2.V),
	}
}

// Conjugate is the inverse rotation for unit quaternions.
func (q Quat) Conjugate() Quat {
	return Quat{V: q.V.Mul(-1), W: q.W}
}

func (q Quat) Len() float32 {
	return float32(math.Sqrt(float64(q.W*q.W + q.V.Dot(q.V))))
}

// Normalize returns the unit quaternion; a zero quaternion becomes the identity.
func (q Quat) Normalize() Quat {
	length := q.Len()
	if length == 0 {
		return QuatIdent()
	}
	if d := 1 - length; d < floatCmpEpsilon && d > -floatCmpEpsilon {
		return q
	}
	return Quat{V: q.V.Mul(1 / length), W: q.W / length}
}

func (q Quat) Finite() bool {
	return q.V.Finite() && IsFinite(float64(q.W))
}
