package types

import "github.com/go-gl/mathgl/mgl32"

// Column-major 4x4 matrix.
type Mat4 mgl32.Mat4

// Column-major 3x3 matrix.
type Mat3 mgl32.Mat3

// Affine is a row-major 3x4 affine transform: the upper three rows of a 4x4
// matrix stored row after row. This is the layout expected by top-level
// acceleration structure instance records.
type Affine [12]float32

// Create identity matrix.
func Ident4() Mat4 {
	return Mat4(mgl32.Ident4())
}

// Create a translation matrix.
func Translate4(v Vec3) Mat4 {
	return Mat4(mgl32.Translate3D(v[0], v[1], v[2]))
}

// Create a non-uniform scale matrix.
func Scale4(v Vec3) Mat4 {
	return Mat4(mgl32.Scale3D(v[0], v[1], v[2]))
}

// Create a rotation matrix from an angle (in radians) around the given axis.
func Rotate4(angle float32, axis Vec3) Mat4 {
	return Mat4(mgl32.HomogRotate3D(angle, mgl32.Vec3(axis).Normalize()))
}

// Get element at the given row and column.
func (m Mat4) At(row, col int) float32 {
	return mgl32.Mat4(m).At(row, col)
}

// Multiply two matrices.
func (m Mat4) Mul4(m2 Mat4) Mat4 {
	return Mat4(mgl32.Mat4(m).Mul4(mgl32.Mat4(m2)))
}

// Invert matrix. A singular matrix inverts to the zero matrix.
func (m Mat4) Inv() Mat4 {
	return Mat4(mgl32.Mat4(m).Inv())
}

// Transpose matrix.
func (m Mat4) Transpose() Mat4 {
	return Mat4(mgl32.Mat4(m).Transpose())
}

// Extract the top-left 3x3 matrix from a 4x4 matrix.
func (m Mat4) Mat3() Mat3 {
	return Mat3(mgl32.Mat4(m).Mat3())
}

// Transform a point and divide by the resulting w component.
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	v := mgl32.Mat4(m).Mul4x1(mgl32.Vec4{p[0], p[1], p[2], 1})
	if v[3] != 0 && v[3] != 1 {
		v = v.Mul(1 / v[3])
	}
	return Vec3{v[0], v[1], v[2]}
}

// Transform a direction ignoring translation.
func (m Mat4) TransformDir(d Vec3) Vec3 {
	v := mgl32.Mat4(m).Mul4x1(mgl32.Vec4{d[0], d[1], d[2], 0})
	return Vec3{v[0], v[1], v[2]}
}

// Transform a normal by the inverse transpose of the upper 3x3 part.
func (m Mat4) TransformNormal(n Vec3) Vec3 {
	nm := mgl32.Mat4(m).Mat3().Inv().Transpose()
	v := nm.Mul3x1(mgl32.Vec3(n))
	return Vec3(v).Normalize()
}

// Convert to a row-major 3x4 affine transform. The bottom row is dropped.
func (m Mat4) Affine() Affine {
	var a Affine
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			a[row*4+col] = m.At(row, col)
		}
	}
	return a
}

// Create identity affine transform.
func AffineIdent() Affine {
	return Affine{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

// Expand to a column-major 4x4 matrix.
func (a Affine) Mat4() Mat4 {
	var m mgl32.Mat4
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			m.Set(row, col, a[row*4+col])
		}
	}
	m.Set(3, 3, 1)
	return Mat4(m)
}

// Transform a point.
func (a Affine) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		a[0]*p[0] + a[1]*p[1] + a[2]*p[2] + a[3],
		a[4]*p[0] + a[5]*p[1] + a[6]*p[2] + a[7],
		a[8]*p[0] + a[9]*p[1] + a[10]*p[2] + a[11],
	}
}

// Transform a direction ignoring translation.
func (a Affine) TransformDir(d Vec3) Vec3 {
	return Vec3{
		a[0]*d[0] + a[1]*d[1] + a[2]*d[2],
		a[4]*d[0] + a[5]*d[1] + a[6]*d[2],
		a[8]*d[0] + a[9]*d[1] + a[10]*d[2],
	}
}

// Invert the affine transform.
func (a Affine) Inv() Affine {
	return a.Mat4().Inv().Affine()
}
