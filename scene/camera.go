package scene

import (
	"math"

	"github.com/achilleasa/prism/types"
)

const (
	defaultSensorWidth = 0.036
	defaultFocalLength = 0.03
	maxPitch           = 89
)

// World-space axes of an unrotated camera. The camera looks down -W.
var (
	cameraBack  = types.XYZ(0, 0, 1)
	cameraRight = types.XYZ(1, 0, 0)
	cameraUp    = types.XYZ(0, 1, 0)
)

// UniformBlock is the camera record read by the path tracer. Every vec3 is
// padded to 16 bytes.
type UniformBlock struct {
	Pos         types.Vec3
	_           float32
	U           types.Vec3
	_           float32
	V           types.Vec3
	_           float32
	W           types.Vec3
	_           float32
	SensorSize  types.Vec2
	FocalLength float32
	Exposure    float32
}

// Size of an encoded UniformBlock in bytes.
const UniformBlockSize = 80

// Compare every camera field, exposure included. Fields are compared by
// bit pattern so a block holding NaN still equals itself.
func (b UniformBlock) Equal(other UniformBlock) bool {
	return b.bits() == other.bits()
}

func (b UniformBlock) bits() [16]uint32 {
	fields := [16]float32{
		b.Pos[0], b.Pos[1], b.Pos[2],
		b.U[0], b.U[1], b.U[2],
		b.V[0], b.V[1], b.V[2],
		b.W[0], b.W[1], b.W[2],
		b.SensorSize[0], b.SensorSize[1],
		b.FocalLength, b.Exposure,
	}
	var out [16]uint32
	for i, f := range fields {
		out[i] = math.Float32bits(f)
	}
	return out
}

// The camera type controls the scene camera. Orientation is a yaw around
// the world up axis followed by a pitch around the camera right axis.
type Camera struct {
	Position types.Vec3

	// Angles in degrees.
	Pitch float32
	Yaw   float32

	// Physical sensor size and focal length in meters.
	SensorSize  types.Vec2
	FocalLength float32

	MouseSensitivity float32

	orientation types.Quat
	u, v, w     types.Vec3
}

// Create a camera at (0, 0, 10) looking down -Z.
func NewCamera(aspect float32) *Camera {
	c := &Camera{
		Position:         types.XYZ(0, 0, 10),
		FocalLength:      defaultFocalLength,
		MouseSensitivity: 0.25,
	}
	c.SetAspect(aspect)
	c.Update()
	return c
}

// Set the sensor height from the sensor width and the frame aspect ratio.
func (c *Camera) SetAspect(aspect float32) {
	width := c.SensorSize[0]
	if width == 0 {
		width = defaultSensorWidth
	}
	if aspect <= 0 {
		aspect = 1
	}
	c.SensorSize = types.XY(width, width/aspect)
}

// Recalculate the camera basis.
func (c *Camera) Update() {
	if c.Pitch > maxPitch {
		c.Pitch = maxPitch
	} else if c.Pitch < -maxPitch {
		c.Pitch = -maxPitch
	}

	c.orientation = types.QuatFromYawPitch(radians(c.Yaw), radians(c.Pitch))
	c.w = c.orientation.Rotate(cameraBack).Normalize()
	c.u = c.orientation.Rotate(cameraRight).Normalize()
	c.v = c.orientation.Rotate(cameraUp).Normalize()
}

// Orient the camera towards a target point. Targets at the camera position
// or non-finite targets leave the orientation unchanged and return false.
func (c *Camera) LookAt(target types.Vec3) bool {
	dir := target.Sub(c.Position).Normalize()
	if dir.IsZero() || !finite(dir) {
		return false
	}
	c.Pitch = degrees(float32(math.Asin(float64(clampUnit(dir[1])))))
	c.Yaw = degrees(float32(math.Atan2(float64(-dir[0]), float64(-dir[2]))))
	c.Update()
	return true
}

func finite(v types.Vec3) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

// Move along the viewing direction.
func (c *Camera) MoveFront(amount float32) {
	c.Position = c.Position.Sub(c.w.Mul(amount))
}

// Strafe along the camera right axis.
func (c *Camera) MoveRight(amount float32) {
	c.Position = c.Position.Add(c.u.Mul(amount))
}

// Move along the world up axis.
func (c *Camera) MoveUp(amount float32) {
	c.Position = c.Position.Add(cameraUp.Mul(amount))
}

// Apply a relative mouse motion.
func (c *Camera) OnMouseMove(dx, dy float32) {
	c.Yaw -= dx * c.MouseSensitivity
	c.Pitch -= dy * c.MouseSensitivity
	c.Update()
}

// Apply the camera placement of a scene description.
func (c *Camera) Apply(desc *CameraDescription) {
	if desc == nil {
		return
	}
	c.Position = types.Vec3(desc.Pos)
	if desc.SensorWidth != nil && *desc.SensorWidth > 0 {
		aspect := c.SensorSize[0] / c.SensorSize[1]
		c.SensorSize = types.XY(*desc.SensorWidth, *desc.SensorWidth/aspect)
	}
	if desc.FocalLength != nil && *desc.FocalLength > 0 {
		c.FocalLength = *desc.FocalLength
	}
	if desc.LookAt != nil && c.LookAt(types.Vec3(*desc.LookAt)) {
		return
	}
	c.Update()
}

// Camera basis vectors.
func (c *Camera) Basis() (u, v, w types.Vec3) {
	return c.u, c.v, c.w
}

// Build the uniform block for the current camera state.
func (c *Camera) Data(exposure float32) UniformBlock {
	return UniformBlock{
		Pos:         c.Position,
		U:           c.u,
		V:           c.v,
		W:           c.w,
		SensorSize:  c.SensorSize,
		FocalLength: c.FocalLength,
		Exposure:    exposure,
	}
}

func radians(deg float32) float32 {
	return deg * math.Pi / 180
}

func degrees(rad float32) float32 {
	return rad * 180 / math.Pi
}

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	} else if v < -1 {
		return -1
	}
	return v
}
