package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/achilleasa/prism/types"
)

// Description is the on-disk scene document.
type Description struct {
	ModelFiles   []ModelFile        `json:"model_files"`
	CustomModels []CustomModel      `json:"custom_models"`
	Lights       []LightDescription `json:"lights"`
	Camera       *CameraDescription `json:"camera"`
}

// A reference to an external glTF/GLB asset and the transform baked into
// its geometry.
type ModelFile struct {
	Name        string               `json:"name"`
	File        string               `json:"file"`
	Scale       *Scale               `json:"scale"`
	Rotation    *[4]float32          `json:"rotation"`
	Translation *[3]float32          `json:"translation"`
	Material    *MaterialDescription `json:"material"`
}

// Scale accepts either a uniform number or a 3-vector.
type Scale types.Vec3

func (s *Scale) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var v [3]float32
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("scale: %w", err)
		}
		*s = Scale(v)
		return nil
	}

	var uniform float32
	if err := json.Unmarshal(data, &uniform); err != nil {
		return fmt.Errorf("scale: expected a number or a 3-vector: %w", err)
	}
	*s = Scale{uniform, uniform, uniform}
	return nil
}

// The model matrix of an entry: translation * scale * rotation. Rotation is
// given as [degrees, axis x, axis y, axis z].
func (mf *ModelFile) Transform() types.Mat4 {
	out := types.Ident4()
	if mf.Translation != nil {
		out = types.Translate4(types.Vec3(*mf.Translation))
	}
	if mf.Scale != nil {
		out = out.Mul4(types.Scale4(types.Vec3(*mf.Scale)))
	}
	if mf.Rotation != nil {
		rot := *mf.Rotation
		angle := rot[0] * math.Pi / 180
		out = out.Mul4(types.Rotate4(angle, types.XYZ(rot[1], rot[2], rot[3])))
	}
	return out
}

// Material definition inside a scene document. Unset fields keep the
// default material values.
type MaterialDescription struct {
	BaseColor             *[4]float32 `json:"base_color"`
	Emission              *[4]float32 `json:"emission"`
	EmissionStrength      *float32    `json:"emission_strength"`
	Metallic              *float32    `json:"metallic"`
	Roughness             *float32    `json:"roughness"`
	Transmission          *float32    `json:"transmission"`
	BaseTexture           string      `json:"base_texture"`
	SellmeierCoefficients *Sellmeier  `json:"sellmeier_coefficients"`
}

type Sellmeier struct {
	B [3]float32 `json:"B"`
	C [3]float32 `json:"C"`
}

// Geometry defined inline in the scene document.
type CustomModel struct {
	Name     string               `json:"name"`
	Vertices []VertexDescription  `json:"vertices"`
	Indices  []uint32             `json:"indices"`
	Material *MaterialDescription `json:"material"`
}

type VertexDescription struct {
	Pos    [3]float32  `json:"pos"`
	Normal [3]float32  `json:"normal"`
	Color  *[4]float32 `json:"color"`
	Tex    *[2]float32 `json:"tex"`
}

// A punctual light. Cone angles are in radians; leaving both unset defines
// a point light.
type LightDescription struct {
	Pos            [3]float32  `json:"pos"`
	Dir            [3]float32  `json:"dir"`
	Color          *[3]float32 `json:"color"`
	Intensity      float32     `json:"intensity"`
	InnerConeAngle *float32    `json:"inner_cone_angle"`
	OuterConeAngle *float32    `json:"outer_cone_angle"`
}

// Initial camera placement.
type CameraDescription struct {
	Pos         [3]float32  `json:"pos"`
	LookAt      *[3]float32 `json:"look_at"`
	FocalLength *float32    `json:"focal_length"`
	SensorWidth *float32    `json:"sensor_width"`
	Exposure    *float32    `json:"exposure"`
}

// Parse a scene document.
func ParseDescription(data []byte) (*Description, error) {
	desc := &Description{}
	if err := json.Unmarshal(data, desc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}

	for i, mf := range desc.ModelFiles {
		if mf.File == "" {
			return nil, fmt.Errorf("%w: model_files[%d] does not specify a file", ErrInvalidDescription, i)
		}
	}
	for i, cm := range desc.CustomModels {
		if len(cm.Indices)%3 != 0 {
			return nil, fmt.Errorf("%w: custom_models[%d] index count %d is not a multiple of 3", ErrInvalidDescription, i, len(cm.Indices))
		}
		for _, index := range cm.Indices {
			if index >= uint32(len(cm.Vertices)) {
				return nil, fmt.Errorf("%w: custom_models[%d] index %d out of range", ErrInvalidDescription, i, index)
			}
		}
	}
	return desc, nil
}

// Convert a light definition into its device layout.
func (ld *LightDescription) light() Light {
	l := Light{
		Pos:            types.Vec3(ld.Pos),
		Dir:            types.Vec3(ld.Dir).Normalize(),
		Color:          types.XYZ(1, 1, 1),
		Intensity:      ld.Intensity,
		InnerConeAngle: -1,
		OuterConeAngle: -1,
	}
	if ld.Color != nil {
		l.Color = types.Vec3(*ld.Color)
	}
	if ld.OuterConeAngle != nil {
		l.OuterConeAngle = cosf(*ld.OuterConeAngle)
		l.InnerConeAngle = 1
		if ld.InnerConeAngle != nil {
			l.InnerConeAngle = cosf(*ld.InnerConeAngle)
		}
	}
	return l
}

func cosf(rad float32) float32 {
	return float32(math.Cos(float64(rad)))
}
