package types

import "math"

// Unit quaternion used for camera orientation.
type Quat struct {
	V Vec3
	W float32
}

// Create identity quaternion.
func QuatIdent() Quat {
	return Quat{W: 1.0}
}

// Create a quaternion from an axis vector and an angle in radians.
func QuatFromAxisAngle(axis Vec3, angle float32) Quat {
	sin, cos := math.Sincos(float64(angle * 0.5))
	return Quat{
		V: axis.Normalize().Mul(float32(sin)),
		W: float32(cos),
	}
}

// Create an orientation from a yaw around the world Y axis followed by a
// pitch around the local X axis. Angles are in radians.
func QuatFromYawPitch(yaw, pitch float32) Quat {
	qYaw := QuatFromAxisAngle(Vec3{0, 1, 0}, yaw)
	qPitch := QuatFromAxisAngle(Vec3{1, 0, 0}, pitch)
	return qYaw.Mul(qPitch).Normalize()
}

// Rotate a vector by the rotation this quaternion represents.
func (q Quat) Rotate(v Vec3) Vec3 {
	cross := q.V.Cross(v)
	// v + 2q_w * (q_v x v) + 2q_v x (q_v x v)
	return v.Add(cross.Mul(2 * q.W)).Add(q.V.Mul(2).Cross(cross))
}

// Multiply two quaternions. Multiplication is not commutative.
func (q Quat) Mul(q2 Quat) Quat {
	return Quat{
		q.V.Cross(q2.V).Add(q2.V.Mul(q.W)).Add(q.V.Mul(q2.W)),
		q.W*q2.W - q.V.Dot(q2.V),
	}
}

// Quaternion norm.
func (q Quat) Len() float32 {
	return float32(math.Sqrt(float64(q.W*q.W + q.V.Dot(q.V))))
}

// Normalize the quaternion returning its versor.
func (q Quat) Normalize() Quat {
	length := q.Len()
	if length == 0 {
		return QuatIdent()
	}
	if math.Abs(float64(1-length)) < floatCmpEpsilon {
		return q
	}
	return Quat{q.V.Mul(1 / length), q.W / length}
}

// Return the homogeneous rotation matrix corresponding to the quaternion.
func (q Quat) Mat4() Mat4 {
	w, x, y, z := q.W, q.V[0], q.V[1], q.V[2]
	return Mat4{
		1 - 2*y*y - 2*z*z, 2*x*y + 2*w*z, 2*x*z - 2*w*y, 0,
		2*x*y - 2*w*z, 1 - 2*x*x - 2*z*z, 2*y*z + 2*w*x, 0,
		2*x*z + 2*w*y, 2*y*z - 2*w*x, 1 - 2*x*x - 2*y*y, 0,
		0, 0, 0, 1,
	}
}
