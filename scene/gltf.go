package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/achilleasa/prism/asset"
	"github.com/achilleasa/prism/types"
)

const (
	extLightsPunctual   = "KHR_lights_punctual"
	extEmissiveStrength = "KHR_materials_emissive_strength"
	extTransmission     = "KHR_materials_transmission"

	// Punctual light intensities are scaled into the radiance range of the
	// path tracer.
	lightIntensityScale = 20

	maxNodeDepth = 128
)

// glTF documents index their arrays with either int or uint32 depending on
// the decoder version.
type gltfIndex interface {
	~int | ~uint32
}

func deref[T gltfIndex](p *T) (int, bool) {
	if p == nil {
		return 0, false
	}
	return int(*p), true
}

// Extension payloads are kept as raw JSON unless a typed decoder has been
// registered for them; decode both forms into out.
func decodeLoose(value interface{}, out interface{}) error {
	var data []byte
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, out)
}

func decodeExtension(exts gltf.Extensions, name string, out interface{}) (bool, error) {
	value, found := exts[name]
	if !found {
		return false, nil
	}
	if err := decodeLoose(value, out); err != nil {
		return true, fmt.Errorf("extension %s: %w", name, err)
	}
	return true, nil
}

type punctualLight struct {
	Type      string      `json:"type"`
	Color     *[3]float32 `json:"color"`
	Intensity *float32    `json:"intensity"`
	Spot      *struct {
		InnerConeAngle *float32 `json:"innerConeAngle"`
		OuterConeAngle *float32 `json:"outerConeAngle"`
	} `json:"spot"`
}

type gltfLoader struct {
	sess  *loadSession
	res   *asset.Resource
	doc   *gltf.Document
	model *Model

	// Maps document material and texture indices to scene-wide indices.
	materials map[int]int32
	textures  map[int]int32

	override    int32
	hasOverride bool

	lights []punctualLight
}

// Load a glTF/GLB asset. When override is set, every mesh of the asset uses
// that material instead of the materials defined by the asset.
func loadGLTF(sess *loadSession, res *asset.Resource, override *MaterialDescription) (*Model, error) {
	data, err := res.ReadAll()
	if err != nil {
		return nil, err
	}

	doc := new(gltf.Document)
	if err = gltf.NewDecoderFS(bytes.NewReader(data), asset.NewFS(res)).Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedAsset, res.Path(), err)
	}

	l := &gltfLoader{
		sess:      sess,
		res:       res,
		doc:       doc,
		model:     &Model{},
		materials: make(map[int]int32),
		textures:  make(map[int]int32),
		override:  NoMaterial,
	}

	if override != nil {
		if l.override, err = sess.addDescribedMaterial(l.model, override); err != nil {
			return nil, err
		}
		l.hasOverride = true
	}

	var lightList struct {
		Lights []punctualLight `json:"lights"`
	}
	if _, err = decodeExtension(doc.Extensions, extLightsPunctual, &lightList); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedAsset, res.Path(), err)
	}
	l.lights = lightList.Lights

	for _, root := range l.rootNodes() {
		if err = l.processNode(root, types.Ident4(), 0); err != nil {
			return nil, fmt.Errorf("%s: %w", res.Path(), err)
		}
	}

	sess.logger.Debugf("loaded %s: %d vertices, %d meshes, %d materials, %d lights, %d textures",
		res.Path(), len(l.model.Vertices), len(l.model.Meshes), len(l.model.Materials), len(l.model.Lights), len(l.model.Textures))
	return l.model, nil
}

// Nodes of the default scene, or every parentless node if the document
// defines no scenes.
func (l *gltfLoader) rootNodes() []int {
	var roots []int
	if len(l.doc.Scenes) > 0 {
		sceneIdx, ok := deref(l.doc.Scene)
		if !ok || sceneIdx >= len(l.doc.Scenes) {
			sceneIdx = 0
		}
		for _, n := range l.doc.Scenes[sceneIdx].Nodes {
			roots = append(roots, int(n))
		}
		return roots
	}

	isChild := make(map[int]bool)
	for _, node := range l.doc.Nodes {
		for _, child := range node.Children {
			isChild[int(child)] = true
		}
	}
	for i := range l.doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

// Local transform of a node: T * R * S * M.
func nodeMatrix(node *gltf.Node) types.Mat4 {
	tr := node.TranslationOrDefault()
	rot := node.RotationOrDefault()
	sc := node.ScaleOrDefault()
	mat := node.MatrixOrDefault()

	var raw types.Mat4
	for i := range mat {
		raw[i] = float32(mat[i])
	}

	q := types.Quat{V: types.XYZ(float32(rot[0]), float32(rot[1]), float32(rot[2])), W: float32(rot[3])}
	return types.Translate4(types.XYZ(float32(tr[0]), float32(tr[1]), float32(tr[2]))).
		Mul4(q.Normalize().Mat4()).
		Mul4(types.Scale4(types.XYZ(float32(sc[0]), float32(sc[1]), float32(sc[2])))).
		Mul4(raw)
}

func (l *gltfLoader) processNode(idx int, parent types.Mat4, depth int) error {
	if idx < 0 || idx >= len(l.doc.Nodes) {
		return fmt.Errorf("%w: node index %d out of range", ErrUnsupportedAsset, idx)
	}
	if depth > maxNodeDepth {
		return fmt.Errorf("%w: node hierarchy deeper than %d levels", ErrUnsupportedAsset, maxNodeDepth)
	}

	node := l.doc.Nodes[idx]
	matrix := parent.Mul4(nodeMatrix(node))

	for _, child := range node.Children {
		if err := l.processNode(int(child), matrix, depth+1); err != nil {
			return err
		}
	}

	if meshIdx, ok := deref(node.Mesh); ok {
		if err := l.processMesh(meshIdx, matrix); err != nil {
			return err
		}
	}

	var lightRef struct {
		Light *int `json:"light"`
	}
	found, err := decodeExtension(node.Extensions, extLightsPunctual, &lightRef)
	if err != nil {
		return fmt.Errorf("%w: node %d: %v", ErrUnsupportedAsset, idx, err)
	}
	if found && lightRef.Light != nil {
		return l.addLight(*lightRef.Light, matrix)
	}
	return nil
}

func (l *gltfLoader) processMesh(meshIdx int, matrix types.Mat4) error {
	if meshIdx >= len(l.doc.Meshes) {
		return fmt.Errorf("%w: mesh index %d out of range", ErrUnsupportedAsset, meshIdx)
	}
	mesh := l.doc.Meshes[meshIdx]

	for primIdx, prim := range mesh.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			l.sess.logger.Warningf("skipping non-triangle primitive %d of mesh %q", primIdx, mesh.Name)
			continue
		}

		posIdx, hasPos := prim.Attributes["POSITION"]
		if !hasPos {
			return fmt.Errorf("%w: mesh %q primitive %d has no positions", ErrUnsupportedAsset, mesh.Name, primIdx)
		}
		normalIdx, hasNormals := prim.Attributes["NORMAL"]
		if !hasNormals {
			return fmt.Errorf("%w: mesh %q primitive %d has no normals", ErrUnsupportedAsset, mesh.Name, primIdx)
		}

		posAcc, err := l.accessor(int(posIdx))
		if err != nil {
			return fmt.Errorf("mesh %q: positions: %w", mesh.Name, err)
		}
		normalAcc, err := l.accessor(int(normalIdx))
		if err != nil {
			return fmt.Errorf("mesh %q: normals: %w", mesh.Name, err)
		}

		positions, err := modeler.ReadPosition(l.doc, posAcc, nil)
		if err != nil {
			return fmt.Errorf("mesh %q: positions: %w", mesh.Name, err)
		}
		normals, err := modeler.ReadNormal(l.doc, normalAcc, nil)
		if err != nil {
			return fmt.Errorf("mesh %q: normals: %w", mesh.Name, err)
		}
		if len(normals) != len(positions) {
			return fmt.Errorf("%w: mesh %q has %d positions and %d normals", ErrUnsupportedAsset, mesh.Name, len(positions), len(normals))
		}

		var texCoords [][2]float32
		if texIdx, found := prim.Attributes["TEXCOORD_0"]; found {
			acc, err := l.accessor(int(texIdx))
			if err != nil {
				return fmt.Errorf("mesh %q: texture coordinates: %w", mesh.Name, err)
			}
			if texCoords, err = modeler.ReadTextureCoord(l.doc, acc, nil); err != nil {
				return fmt.Errorf("mesh %q: texture coordinates: %w", mesh.Name, err)
			}
		}
		var colors [][4]uint8
		if colorIdx, found := prim.Attributes["COLOR_0"]; found {
			acc, err := l.accessor(int(colorIdx))
			if err != nil {
				return fmt.Errorf("mesh %q: colors: %w", mesh.Name, err)
			}
			if colors, err = modeler.ReadColor(l.doc, acc, nil); err != nil {
				return fmt.Errorf("mesh %q: colors: %w", mesh.Name, err)
			}
		}

		baseVertex := l.sess.vertexCount + uint32(len(l.model.Vertices))
		for i, p := range positions {
			v := Vertex{
				Pos:    matrix.TransformPoint(types.Vec3(p)),
				Normal: matrix.TransformNormal(types.Vec3(normals[i])),
				Color:  types.XYZW(1, 1, 1, 1),
				Tex:    types.XY(-1, -1),
			}
			if i < len(texCoords) {
				v.Tex = types.Vec2(texCoords[i])
			}
			if i < len(colors) {
				c := colors[i]
				v.Color = types.XYZW(float32(c[0])/255, float32(c[1])/255, float32(c[2])/255, float32(c[3])/255)
			}
			l.model.Vertices = append(l.model.Vertices, v)
		}

		var indices []uint32
		if accIdx, found := deref(prim.Indices); found {
			acc, err := l.accessor(accIdx)
			if err != nil {
				return fmt.Errorf("mesh %q: indices: %w", mesh.Name, err)
			}
			if indices, err = modeler.ReadIndices(l.doc, acc, nil); err != nil {
				return fmt.Errorf("mesh %q: indices: %w", mesh.Name, err)
			}
		} else {
			indices = make([]uint32, len(positions))
			for i := range indices {
				indices[i] = uint32(i)
			}
		}

		meshOffset := l.sess.indexCount + uint32(len(l.model.Indices))
		for _, index := range indices {
			if index >= uint32(len(positions)) {
				return fmt.Errorf("%w: mesh %q references vertex %d of %d", ErrUnsupportedAsset, mesh.Name, index, len(positions))
			}
			l.model.Indices = append(l.model.Indices, index+baseVertex)
		}

		matIdx := NoMaterial
		if l.hasOverride {
			matIdx = l.override
		} else if docMat, found := deref(prim.Material); found {
			if matIdx, err = l.material(docMat); err != nil {
				return err
			}
		}

		l.model.Meshes = append(l.model.Meshes, Mesh{
			MaterialIndex: matIdx,
			IndexOffset:   meshOffset,
			IndexCount:    uint32(len(indices)),
			Name:          mesh.Name,
		})
	}
	return nil
}

// Resolve a document material to a scene-wide material index, loading it on
// first use.
func (l *gltfLoader) material(docIdx int) (int32, error) {
	if idx, loaded := l.materials[docIdx]; loaded {
		return idx, nil
	}
	if docIdx >= len(l.doc.Materials) {
		return NoMaterial, fmt.Errorf("%w: material index %d out of range", ErrUnsupportedAsset, docIdx)
	}
	src := l.doc.Materials[docIdx]

	mat := DefaultMaterial()
	if pbr := src.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			c := *pbr.BaseColorFactor
			mat.BaseColor = types.XYZW(float32(c[0]), float32(c[1]), float32(c[2]), float32(c[3]))
		}
		if pbr.MetallicFactor != nil {
			mat.Metallic = float32(*pbr.MetallicFactor)
		}
		if pbr.RoughnessFactor != nil {
			mat.Roughness = float32(*pbr.RoughnessFactor)
		}
		if pbr.BaseColorTexture != nil {
			var err error
			if mat.BaseTexture, err = l.texture(int(pbr.BaseColorTexture.Index)); err != nil {
				return NoMaterial, err
			}
		}
	}

	e := src.EmissiveFactor
	if e[0] != 0 || e[1] != 0 || e[2] != 0 {
		mat.Emission = types.XYZW(float32(e[0]), float32(e[1]), float32(e[2]), 1)
		mat.EmissionStrength = 1
	}

	var strength struct {
		EmissiveStrength *float32 `json:"emissiveStrength"`
	}
	if _, err := decodeExtension(src.Extensions, extEmissiveStrength, &strength); err != nil {
		return NoMaterial, fmt.Errorf("%w: material %q: %v", ErrUnsupportedAsset, src.Name, err)
	}
	if strength.EmissiveStrength != nil {
		mat.EmissionStrength = *strength.EmissiveStrength
	}

	var transmission struct {
		TransmissionFactor *float32 `json:"transmissionFactor"`
	}
	if _, err := decodeExtension(src.Extensions, extTransmission, &transmission); err != nil {
		return NoMaterial, fmt.Errorf("%w: material %q: %v", ErrUnsupportedAsset, src.Name, err)
	}
	if transmission.TransmissionFactor != nil {
		mat.Transmission = *transmission.TransmissionFactor
	}

	if src.Extras != nil {
		var extras struct {
			Sellmeier *Sellmeier `json:"sellmeier_coefficients"`
		}
		if err := decodeLoose(src.Extras, &extras); err == nil && extras.Sellmeier != nil {
			mat.B = types.Vec3(extras.Sellmeier.B)
			mat.C = types.Vec3(extras.Sellmeier.C)
		}
	}

	l.model.Materials = append(l.model.Materials, mat)
	idx := l.sess.nextMaterial()
	l.materials[docIdx] = idx
	return idx, nil
}

// Resolve a document texture to a scene-wide texture index, decoding and
// uploading its image on first use.
func (l *gltfLoader) texture(docIdx int) (int32, error) {
	if idx, loaded := l.textures[docIdx]; loaded {
		return idx, nil
	}
	if docIdx >= len(l.doc.Textures) {
		return NoTexture, fmt.Errorf("%w: texture index %d out of range", ErrUnsupportedAsset, docIdx)
	}
	srcIdx, found := deref(l.doc.Textures[docIdx].Source)
	if !found || srcIdx >= len(l.doc.Images) {
		return NoTexture, nil
	}
	img := l.doc.Images[srcIdx]

	var (
		data   []byte
		origin = fmt.Sprintf("%s image %d", l.res.Path(), srcIdx)
		err    error
	)
	if viewIdx, inBuffer := deref(img.BufferView); inBuffer {
		if data, err = l.bufferViewData(viewIdx); err != nil {
			return NoTexture, err
		}
	} else if img.IsEmbeddedResource() {
		if data, err = img.MarshalData(); err != nil {
			return NoTexture, fmt.Errorf("%s: %w", origin, err)
		}
	} else {
		res, err := asset.NewResource(img.URI, l.res)
		if err != nil {
			return NoTexture, err
		}
		origin = res.Path()
		if data, err = res.ReadAll(); err != nil {
			return NoTexture, err
		}
	}

	idx, err := l.sess.addTexture(l.model, data, origin)
	if err != nil {
		return NoTexture, err
	}
	l.textures[docIdx] = idx
	return idx, nil
}

// Look up an accessor and check that it is backed by a buffer view that
// holds its first element.
func (l *gltfLoader) accessor(idx int) (*gltf.Accessor, error) {
	if idx < 0 || idx >= len(l.doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrUnsupportedAsset, idx)
	}
	acc := l.doc.Accessors[idx]
	if acc == nil {
		return nil, fmt.Errorf("%w: accessor %d is empty", ErrUnsupportedAsset, idx)
	}
	if acc.Sparse != nil {
		return nil, fmt.Errorf("%w: sparse accessor %d", ErrUnsupportedAsset, idx)
	}
	viewIdx, found := deref(acc.BufferView)
	if !found {
		return nil, fmt.Errorf("%w: accessor %d has no buffer view", ErrUnsupportedAsset, idx)
	}
	data, err := l.bufferViewData(viewIdx)
	if err != nil {
		return nil, err
	}
	if int(acc.ByteOffset) > len(data) {
		return nil, fmt.Errorf("%w: accessor %d starts beyond buffer view %d", ErrUnsupportedAsset, idx, viewIdx)
	}
	return acc, nil
}

func (l *gltfLoader) bufferViewData(viewIdx int) ([]byte, error) {
	if viewIdx < 0 || viewIdx >= len(l.doc.BufferViews) {
		return nil, fmt.Errorf("%w: buffer view %d out of range", ErrUnsupportedAsset, viewIdx)
	}
	view := l.doc.BufferViews[viewIdx]
	bufIdx := int(view.Buffer)
	if bufIdx >= len(l.doc.Buffers) {
		return nil, fmt.Errorf("%w: buffer %d out of range", ErrUnsupportedAsset, bufIdx)
	}
	data := l.doc.Buffers[bufIdx].Data
	start, end := int(view.ByteOffset), int(view.ByteOffset)+int(view.ByteLength)
	if end > len(data) {
		return nil, fmt.Errorf("%w: buffer view %d exceeds buffer %d", ErrUnsupportedAsset, viewIdx, bufIdx)
	}
	return data[start:end], nil
}

func (l *gltfLoader) addLight(idx int, matrix types.Mat4) error {
	if idx < 0 || idx >= len(l.lights) {
		return fmt.Errorf("%w: light index %d out of range", ErrUnsupportedAsset, idx)
	}
	src := l.lights[idx]

	light := Light{
		Dir:            matrix.TransformDir(types.XYZ(0, 0, -1)).Normalize(),
		Pos:            matrix.TransformPoint(types.Vec3{}),
		Color:          types.XYZ(1, 1, 1),
		Intensity:      lightIntensityScale,
		InnerConeAngle: -1,
		OuterConeAngle: -1,
	}
	if src.Color != nil {
		light.Color = types.Vec3(*src.Color)
	}
	if src.Intensity != nil {
		light.Intensity = *src.Intensity * lightIntensityScale
	}
	if src.Type == "spot" {
		inner, outer := float32(0), float32(math.Pi/4)
		if src.Spot != nil && src.Spot.InnerConeAngle != nil {
			inner = *src.Spot.InnerConeAngle
		}
		if src.Spot != nil && src.Spot.OuterConeAngle != nil {
			outer = *src.Spot.OuterConeAngle
		}
		light.InnerConeAngle = cosf(inner)
		light.OuterConeAngle = cosf(outer)
	}

	l.model.Lights = append(l.model.Lights, light)
	return nil
}
