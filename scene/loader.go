package scene

import (
	"fmt"

	"github.com/achilleasa/prism/asset"
	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/types"
)

// loadSession tracks the running totals of a single scene load. Models are
// loaded one after the other and every index they produce is offset by the
// data already loaded in front of them.
type loadSession struct {
	logger  log.Logger
	storage gpu.Storage
	relTo   *asset.Resource

	vertexCount   uint32
	indexCount    uint32
	materialCount uint32
	textureCount  uint32

	// Images created so far; released if the load fails.
	textures []uint32
}

func newLoadSession(logger log.Logger, storage gpu.Storage, relTo *asset.Resource) *loadSession {
	return &loadSession{
		logger:  logger,
		storage: storage,
		relTo:   relTo,
	}
}

// Account for a loaded model.
func (sess *loadSession) commit(model *Model) {
	sess.vertexCount += uint32(len(model.Vertices))
	sess.indexCount += uint32(len(model.Indices))
}

// Reserve the next scene-wide material index.
func (sess *loadSession) nextMaterial() int32 {
	idx := int32(sess.materialCount)
	sess.materialCount++
	return idx
}

// Decode and upload a texture, returning its scene-wide index.
func (sess *loadSession) addTexture(model *Model, data []byte, origin string) (int32, error) {
	img, err := decodeTexture(data)
	if err != nil {
		return NoTexture, fmt.Errorf("%s: %w", origin, err)
	}
	handle, err := uploadTexture(sess.storage, sess.textureCount, img)
	if err != nil {
		return NoTexture, err
	}
	idx := int32(sess.textureCount)
	sess.textureCount++
	sess.textures = append(sess.textures, handle)
	model.Textures = append(model.Textures, handle)
	sess.logger.Debugf("loaded texture %d (%dx%d) from %s", idx, img.Rect.Dx(), img.Rect.Dy(), origin)
	return idx, nil
}

// Build a material from its scene document definition and append it to the
// model. Returns the scene-wide material index.
func (sess *loadSession) addDescribedMaterial(model *Model, desc *MaterialDescription) (int32, error) {
	mat := DefaultMaterial()
	if desc.BaseColor != nil {
		mat.BaseColor = types.Vec4(*desc.BaseColor)
	}
	if desc.Emission != nil {
		mat.Emission = types.Vec4(*desc.Emission)
	}
	if desc.EmissionStrength != nil {
		mat.EmissionStrength = *desc.EmissionStrength
	}
	if desc.Metallic != nil {
		mat.Metallic = *desc.Metallic
	}
	if desc.Roughness != nil {
		mat.Roughness = *desc.Roughness
	}
	if desc.Transmission != nil {
		mat.Transmission = *desc.Transmission
	}
	if desc.SellmeierCoefficients != nil {
		mat.B = types.Vec3(desc.SellmeierCoefficients.B)
		mat.C = types.Vec3(desc.SellmeierCoefficients.C)
	}
	if desc.BaseTexture != "" {
		res, err := asset.NewResource(desc.BaseTexture, sess.relTo)
		if err != nil {
			return NoMaterial, err
		}
		data, err := res.ReadAll()
		if err != nil {
			return NoMaterial, err
		}
		if mat.BaseTexture, err = sess.addTexture(model, data, res.Path()); err != nil {
			return NoMaterial, err
		}
	}

	model.Materials = append(model.Materials, mat)
	return sess.nextMaterial(), nil
}

// A scene entry that produces a Model. The set of implementations is
// closed: external assets and inline geometry.
type modelSource interface {
	load(sess *loadSession) (*Model, error)
	describe() string
}

// A model loaded from a glTF or GLB file.
type externalAsset struct {
	entry ModelFile
}

func (src externalAsset) describe() string {
	return src.entry.File
}

func (src externalAsset) load(sess *loadSession) (*Model, error) {
	res, err := asset.NewResource(src.entry.File, sess.relTo)
	if err != nil {
		return nil, err
	}

	model, err := loadGLTF(sess, res, src.entry.Material)
	if err != nil {
		return nil, err
	}
	model.Name = src.entry.Name
	if model.Name == "" {
		model.Name = res.Name()
	}
	model.ApplyTransformation(src.entry.Transform())
	return model, nil
}

// A model whose geometry is defined inside the scene document.
type inlineGeometry struct {
	entry CustomModel
}

func (src inlineGeometry) describe() string {
	if src.entry.Name != "" {
		return src.entry.Name
	}
	return "custom_model"
}

func (src inlineGeometry) load(sess *loadSession) (*Model, error) {
	model := &Model{
		Name:     src.describe(),
		Vertices: make([]Vertex, len(src.entry.Vertices)),
		Indices:  make([]uint32, len(src.entry.Indices)),
	}

	for i, vd := range src.entry.Vertices {
		v := Vertex{
			Pos:    types.Vec3(vd.Pos),
			Normal: types.Vec3(vd.Normal).Normalize(),
			Color:  types.XYZW(1, 1, 1, 1),
			Tex:    types.XY(-1, -1),
		}
		if vd.Color != nil {
			v.Color = types.Vec4(*vd.Color)
		}
		if vd.Tex != nil {
			v.Tex = types.Vec2(*vd.Tex)
		}
		model.Vertices[i] = v
	}
	for i, index := range src.entry.Indices {
		model.Indices[i] = index + sess.vertexCount
	}

	matIdx := NoMaterial
	if src.entry.Material != nil {
		var err error
		if matIdx, err = sess.addDescribedMaterial(model, src.entry.Material); err != nil {
			return nil, err
		}
	}
	model.Meshes = []Mesh{{
		MaterialIndex: matIdx,
		IndexOffset:   sess.indexCount,
		IndexCount:    uint32(len(model.Indices)),
		Name:          model.Name,
	}}
	return model, nil
}

// Collect the model sources of a description in load order: model files
// first, then custom models.
func modelSources(desc *Description) []modelSource {
	sources := make([]modelSource, 0, len(desc.ModelFiles)+len(desc.CustomModels))
	for _, mf := range desc.ModelFiles {
		sources = append(sources, externalAsset{entry: mf})
	}
	for _, cm := range desc.CustomModels {
		sources = append(sources, inlineGeometry{entry: cm})
	}
	return sources
}
