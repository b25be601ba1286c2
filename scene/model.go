package scene

import "github.com/achilleasa/prism/types"

// Material index used by meshes without a material. The path tracer shades
// them with a grey default.
const NoMaterial int32 = -1

// Texture index used by materials without a texture.
const NoTexture int32 = -1

// Vertex layout shared with the path tracer.
type Vertex struct {
	Pos    types.Vec3
	Normal types.Vec3
	Color  types.Vec4
	Tex    types.Vec2
}

// Size of an encoded Vertex in bytes.
const VertexStride = 48

// Sellmeier coefficients of BK7 glass.
var (
	bk7B = types.XYZ(1.03961212, 0.231792344, 1.01046945)
	bk7C = types.XYZ(0.00600069867, 0.0200179144, 103.560653)
)

// Material layout shared with the path tracer. B and C are the Sellmeier
// dispersion coefficients of refractive materials.
type Material struct {
	BaseColor        types.Vec4
	Emission         types.Vec4
	Metallic         float32
	Roughness        float32
	EmissionStrength float32
	Transmission     float32
	BaseTexture      int32
	EmissiveTexture  int32
	_                [2]float32
	B                types.Vec3
	_                float32
	C                types.Vec3
	_                float32
}

// Create a white, non-emissive dielectric material.
func DefaultMaterial() Material {
	return Material{
		BaseColor:       types.XYZW(1, 1, 1, 1),
		BaseTexture:     NoTexture,
		EmissiveTexture: NoTexture,
		B:               bk7B,
		C:               bk7C,
	}
}

// A material emits light when it has a non-black emission color and a
// positive emission strength.
func (m *Material) IsEmissive() bool {
	return m.Emission.Vec3().Len() > 0 && m.EmissionStrength > 0
}

// Punctual light layout shared with the path tracer. Cone angles are stored
// as cosines; a cosine of -1 disables the cone.
type Light struct {
	Dir            types.Vec3
	Intensity      float32
	Pos            types.Vec3
	InnerConeAngle float32
	Color          types.Vec3
	OuterConeAngle float32
}

// A contiguous range of the scene index buffer drawn with one material.
type Mesh struct {
	MaterialIndex int32
	IndexOffset   uint32
	IndexCount    uint32
	Name          string
}

// Model is the normalized result of loading one scene entry. Indices and
// material references are already expressed in scene-wide numbering.
type Model struct {
	Name      string
	Vertices  []Vertex
	Indices   []uint32
	Materials []Material
	Lights    []Light
	Meshes    []Mesh

	// Image handles of the textures created for this model.
	Textures []uint32
}

// Bake a transformation into the model vertices and lights.
func (m *Model) ApplyTransformation(transform types.Mat4) {
	for i := range m.Vertices {
		m.Vertices[i].Pos = transform.TransformPoint(m.Vertices[i].Pos)
		m.Vertices[i].Normal = transform.TransformNormal(m.Vertices[i].Normal)
	}
	for i := range m.Lights {
		m.Lights[i].Pos = transform.TransformPoint(m.Lights[i].Pos)
		m.Lights[i].Dir = transform.TransformDir(m.Lights[i].Dir).Normalize()
	}
}

// Per-mesh record used by the path tracer to resolve hit attributes.
type MeshRenderData struct {
	MatIdx     int32
	IndicesIdx uint32
	IdxCount   uint32
}

// Host-side bookkeeping for a model while a scene is being loaded.
type modelInfo struct {
	name              string
	meshIndexOffsets  []uint32
	meshIndexCounts   []uint32
	indexBufferIdx    uint32
	numIndices        uint32
	blasIdx           uint32
	instanceIdx       uint32
	meshRenderDataIdx uint32
}
