package scene

import (
	"math"
	"testing"

	"github.com/achilleasa/prism/types"
)

func TestCameraDefaults(t *testing.T) {
	c := NewCamera(2)

	if c.Position != types.XYZ(0, 0, 10) {
		t.Fatalf("expected camera at (0, 0, 10); got %v", c.Position)
	}
	if exp := types.XY(0.036, 0.018); c.SensorSize != exp {
		t.Fatalf("expected sensor size %v; got %v", exp, c.SensorSize)
	}

	u, v, w := c.Basis()
	if !approxEqual(u, types.XYZ(1, 0, 0)) || !approxEqual(v, types.XYZ(0, 1, 0)) || !approxEqual(w, types.XYZ(0, 0, 1)) {
		t.Fatalf("expected an axis-aligned basis; got u=%v v=%v w=%v", u, v, w)
	}
}

func TestCameraLookAt(t *testing.T) {
	specs := []struct {
		pos    types.Vec3
		target types.Vec3
	}{
		{types.XYZ(0, 0, 10), types.XYZ(0, 0, 0)},
		{types.XYZ(0, 0, 0), types.XYZ(10, 0, 0)},
		{types.XYZ(3, 4, 5), types.XYZ(-1, 0, 2)},
		{types.XYZ(0, 2, 0), types.XYZ(0, 0, -2)},
	}

	for specIndex, spec := range specs {
		c := NewCamera(1)
		c.Position = spec.pos
		c.LookAt(spec.target)

		_, v, w := c.Basis()
		exp := spec.pos.Sub(spec.target).Normalize()
		if !approxEqual(w, exp) {
			t.Errorf("[spec %d] expected w axis %v; got %v", specIndex, exp, w)
		}
		if v[1] <= 0 {
			t.Errorf("[spec %d] expected v axis to point upwards; got %v", specIndex, v)
		}
	}
}

func TestCameraPitchClamp(t *testing.T) {
	c := NewCamera(1)
	c.OnMouseMove(0, -1000)
	if c.Pitch != maxPitch {
		t.Fatalf("expected pitch to be clamped to %d; got %f", maxPitch, c.Pitch)
	}
	c.OnMouseMove(0, 2000)
	if c.Pitch != -maxPitch {
		t.Fatalf("expected pitch to be clamped to %d; got %f", -maxPitch, c.Pitch)
	}
}

func TestCameraMovement(t *testing.T) {
	c := NewCamera(1)
	c.MoveFront(2)
	if !approxEqual(c.Position, types.XYZ(0, 0, 8)) {
		t.Fatalf("expected camera at (0, 0, 8); got %v", c.Position)
	}
	c.MoveRight(1)
	c.MoveUp(-1)
	if !approxEqual(c.Position, types.XYZ(1, -1, 8)) {
		t.Fatalf("expected camera at (1, -1, 8); got %v", c.Position)
	}
}

func TestCameraApply(t *testing.T) {
	width, focal := float32(0.024), float32(0.05)
	c := NewCamera(2)
	c.Apply(&CameraDescription{
		Pos:         [3]float32{0, 0, -5},
		LookAt:      &[3]float32{0, 0, 0},
		SensorWidth: &width,
		FocalLength: &focal,
	})

	if c.SensorSize != types.XY(0.024, 0.012) || c.FocalLength != focal {
		t.Fatalf("expected sensor %v with focal length %f; got %v and %f", types.XY(0.024, 0.012), focal, c.SensorSize, c.FocalLength)
	}
	if _, _, w := c.Basis(); !approxEqual(w, types.XYZ(0, 0, -1)) {
		t.Fatalf("expected camera to look down +Z; got w=%v", w)
	}
}

func TestUniformBlockEquality(t *testing.T) {
	c := NewCamera(1)
	a, b := c.Data(1), c.Data(1)
	if !a.Equal(b) {
		t.Fatal("expected identical camera state to compare equal")
	}

	if a.Equal(c.Data(2)) {
		t.Fatal("expected exposure change to be detected")
	}

	c.OnMouseMove(1, 0)
	if a.Equal(c.Data(1)) {
		t.Fatal("expected orientation change to be detected")
	}
}

func TestCameraApplyDegenerateLookAt(t *testing.T) {
	c := NewCamera(1)
	c.Apply(&CameraDescription{
		Pos:    [3]float32{1, 2, 3},
		LookAt: &[3]float32{1, 2, 3},
	})

	if c.Position != types.XYZ(1, 2, 3) {
		t.Fatalf("expected camera at (1, 2, 3); got %v", c.Position)
	}
	u, v, w := c.Basis()
	if !approxEqual(u, types.XYZ(1, 0, 0)) || !approxEqual(v, types.XYZ(0, 1, 0)) || !approxEqual(w, types.XYZ(0, 0, 1)) {
		t.Fatalf("expected default orientation to be kept; got u=%v v=%v w=%v", u, v, w)
	}
	if data := c.Data(1); !data.Equal(c.Data(1)) {
		t.Fatal("expected camera state to compare equal to itself")
	}

	nan := float32(math.NaN())
	if c.LookAt(types.XYZ(nan, 0, 0)) {
		t.Fatal("expected a non-finite target to be ignored")
	}
}

func TestUniformBlockEqualityWithNaN(t *testing.T) {
	block := NewCamera(1).Data(1)
	block.FocalLength = float32(math.NaN())
	if !block.Equal(block) {
		t.Fatal("expected a block holding NaN to compare equal to itself")
	}
	other := block
	other.Exposure = 2
	if block.Equal(other) {
		t.Fatal("expected exposure change to be detected")
	}
}
