// Package scene assembles scene descriptions into flat device buffers and a
// two-level acceleration structure.
package scene

import (
	"fmt"
	"image"
	"image/color"
	"time"
	"unsafe"

	"github.com/achilleasa/prism/accel"
	"github.com/achilleasa/prism/asset"
	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/types"
)

// Names of the scene buffers shared with the path tracer.
const (
	VertexBufferName              = "vertices"
	IndexBufferName               = "indices"
	MaterialBufferName            = "materials"
	LightBufferName               = "lights"
	MeshRenderDataBufferName      = "mesh_render_data"
	ModelMRDIndicesBufferName     = "model_mrd_indices"
	EmissiveMeshIndicesBufferName = "emissive_mesh_indices"
)

var sceneQueues = []gpu.QueueClass{gpu.Transfer, gpu.Graphics, gpu.Compute}

// Scene owns the device resources of a loaded scene.
type Scene struct {
	logger  log.Logger
	dev     gpu.Device
	builder *accel.Builder

	loaded      bool
	constructed bool

	vertexBuffer              uint32
	indexBuffer               uint32
	materialBuffer            uint32
	lightBuffer               uint32
	meshRenderDataBuffer      uint32
	modelMRDIndicesBuffer     uint32
	emissiveMeshIndicesBuffer uint32
	textureImages             []uint32

	camera *CameraDescription
	stats  Stats
}

// Create an empty scene that allocates its resources on dev.
func New(dev gpu.Device) *Scene {
	return &Scene{
		logger:  log.New("scene"),
		dev:     dev,
		builder: accel.NewBuilder(dev),
	}
}

// Load a scene description file. Relative asset paths are resolved against
// the location of the scene file.
func (s *Scene) Load(path string) error {
	if s.loaded {
		return ErrAlreadyLoaded
	}

	res, err := asset.NewResource(path, nil)
	if err != nil {
		return fmt.Errorf("scene: could not open %s: %w", path, err)
	}
	data, err := res.ReadAll()
	if err != nil {
		return err
	}
	desc, err := ParseDescription(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return s.LoadDescription(desc, res)
}

// Load a parsed scene description. The models are concatenated into scene
// wide buffers and one bottom-level structure is built per model.
func (s *Scene) LoadDescription(desc *Description, relTo *asset.Resource) (err error) {
	if s.loaded {
		return ErrAlreadyLoaded
	}

	start := time.Now()
	storage := s.dev.Storage()
	sess := newLoadSession(s.logger, storage, relTo)
	defer func() {
		if err != nil {
			s.textureImages = sess.textures
			s.release()
		}
	}()

	var (
		vertices  []Vertex
		indices   []uint32
		materials []Material
		lights    []Light
		mrd       []MeshRenderData
		infos     []modelInfo
	)

	for _, src := range modelSources(desc) {
		model, err := src.load(sess)
		if err != nil {
			return fmt.Errorf("scene: could not load model %s: %w", src.describe(), err)
		}
		if err = checkMeshRanges(model); err != nil {
			return err
		}

		info := modelInfo{
			name:              model.Name,
			indexBufferIdx:    uint32(len(indices)),
			numIndices:        uint32(len(model.Indices)),
			meshRenderDataIdx: uint32(len(mrd)),
		}
		vertices = append(vertices, model.Vertices...)
		indices = append(indices, model.Indices...)
		materials = append(materials, model.Materials...)
		lights = append(lights, model.Lights...)
		for _, mesh := range model.Meshes {
			mrd = append(mrd, MeshRenderData{
				MatIdx:     mesh.MaterialIndex,
				IndicesIdx: mesh.IndexOffset,
				IdxCount:   mesh.IndexCount,
			})
			info.meshIndexOffsets = append(info.meshIndexOffsets, mesh.IndexOffset)
			info.meshIndexCounts = append(info.meshIndexCounts, mesh.IndexCount)
		}
		infos = append(infos, info)
		sess.commit(model)

		s.logger.Debugf("model %d (%s): %d vertices, %d indices, %d meshes", len(infos)-1, model.Name, len(model.Vertices), len(model.Indices), len(model.Meshes))
	}
	for i := range desc.Lights {
		lights = append(lights, desc.Lights[i].light())
	}

	geometryUsage := gpu.UsageVertex | gpu.UsageIndex | gpu.UsageStorage | gpu.UsageDeviceAddress | gpu.UsageAccelerationInput
	if s.vertexBuffer, err = addSliceBuffer(storage, VertexBufferName, vertices, geometryUsage, true); err != nil {
		return err
	}
	if s.indexBuffer, err = addSliceBuffer(storage, IndexBufferName, indices, geometryUsage, true); err != nil {
		return err
	}

	// Geometry is uploaded; the builds read it by device address.
	if err = s.buildBottomLevels(infos); err != nil {
		return err
	}

	if len(materials) == 0 {
		s.logger.Warning("scene defines no materials; adding a default material")
		materials = append(materials, DefaultMaterial())
	}
	if len(lights) == 0 {
		s.logger.Warning("scene defines no lights; adding a zero-intensity default light")
		lights = append(lights, Light{Dir: types.XYZ(0, -1, 0), Color: types.XYZ(1, 1, 1), InnerConeAngle: -1, OuterConeAngle: -1})
	}

	emissive := emissiveMeshes(mrd, materials)
	if len(emissive) == 0 {
		s.logger.Warning("scene contains no emissive meshes")
	}

	modelMRD := make([]uint32, len(infos))
	for i, info := range infos {
		modelMRD[i] = info.meshRenderDataIdx
	}

	if s.materialBuffer, err = addSliceBuffer(storage, MaterialBufferName, materials, gpu.UsageStorage, true); err != nil {
		return err
	}
	if s.lightBuffer, err = addSliceBuffer(storage, LightBufferName, lights, gpu.UsageStorage, false); err != nil {
		return err
	}
	if s.meshRenderDataBuffer, err = addSliceBuffer(storage, MeshRenderDataBufferName, mrd, gpu.UsageStorage, true); err != nil {
		return err
	}
	if s.modelMRDIndicesBuffer, err = addSliceBuffer(storage, ModelMRDIndicesBufferName, modelMRD, gpu.UsageStorage, true); err != nil {
		return err
	}
	if s.emissiveMeshIndicesBuffer, err = addSliceBuffer(storage, EmissiveMeshIndicesBufferName, emissive, gpu.UsageStorage, true); err != nil {
		return err
	}

	// Trailing texture so that the texture array binding is never empty.
	white := image.NewRGBA(image.Rect(0, 0, 1, 1))
	white.Set(0, 0, color.White)
	dummy, err := uploadTexture(storage, sess.textureCount, white)
	if err != nil {
		return err
	}
	sess.textures = append(sess.textures, dummy)
	s.textureImages = sess.textures

	s.camera = desc.Camera
	s.stats = Stats{
		Models:         len(infos),
		Meshes:         len(mrd),
		Vertices:       len(vertices),
		Indices:        len(indices),
		Materials:      len(materials),
		Lights:         len(lights),
		Textures:       len(s.textureImages),
		EmissiveMeshes: len(emissive),
		BottomLevels:   s.builder.BottomLevelCount(),
		Instances:      s.builder.InstanceCount(),
	}
	s.loaded = true

	s.logger.Noticef("loaded scene with %d models and %d meshes in %d ms", len(infos), len(mrd), time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Record one bottom-level structure per model and instance it with an
// identity transform. The custom index of each instance is the model index.
func (s *Scene) buildBottomLevels(infos []modelInfo) error {
	start := time.Now()
	ctx := s.dev.CommandContext()
	cb, err := ctx.BeginOneTime(gpu.Compute)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}

	for i := range infos {
		info := &infos[i]
		if len(info.meshIndexOffsets) == 0 {
			s.logger.Warningf("model %d (%s) has no meshes; skipping acceleration structure", i, info.name)
			continue
		}
		if info.blasIdx, err = s.builder.AddBottomLevel(cb, s.vertexBuffer, s.indexBuffer, info.meshIndexOffsets, info.meshIndexCounts, VertexStride); err != nil {
			return fmt.Errorf("scene: model %d (%s): %w", i, info.name, err)
		}
		if info.instanceIdx, err = s.builder.AddInstance(info.blasIdx, types.Ident4(), uint32(i)); err != nil {
			return fmt.Errorf("scene: model %d (%s): %w", i, info.name, err)
		}
	}

	if err = ctx.Submit(cb, true); err != nil {
		return fmt.Errorf("scene: bottom-level build failed: %w", err)
	}
	s.logger.Infof("built %d bottom-level structures in %d ms", s.builder.BottomLevelCount(), time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Build the top-level structure. Must be called after Load.
func (s *Scene) Construct() error {
	if !s.loaded {
		return ErrNotLoaded
	}

	start := time.Now()
	ctx := s.dev.CommandContext()
	cb, err := ctx.BeginOneTime(gpu.Compute)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	if err = s.builder.CreateTopLevel(cb); err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	if err = ctx.Submit(cb, true); err != nil {
		return fmt.Errorf("scene: top-level build failed: %w", err)
	}
	s.constructed = true

	s.logger.Noticef("constructed top-level structure over %d instances in %d ms", s.builder.InstanceCount(), time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Release every device resource of the scene so another one can be loaded.
func (s *Scene) Destruct() {
	if !s.loaded {
		return
	}
	s.release()
	s.logger.Info("scene destructed")
}

func (s *Scene) release() {
	storage := s.dev.Storage()
	s.builder.Destruct()
	for _, handle := range []*uint32{
		&s.emissiveMeshIndicesBuffer,
		&s.modelMRDIndicesBuffer,
		&s.meshRenderDataBuffer,
		&s.lightBuffer,
		&s.materialBuffer,
		&s.indexBuffer,
		&s.vertexBuffer,
	} {
		if *handle != 0 {
			storage.DestroyBuffer(*handle)
			*handle = 0
		}
	}
	for _, img := range s.textureImages {
		storage.DestroyImage(img)
	}
	s.textureImages = nil
	s.camera = nil
	s.stats = Stats{}
	s.loaded = false
	s.constructed = false
}

// True if a scene is loaded.
func (s *Scene) Loaded() bool {
	return s.loaded
}

// True if the top-level structure is built.
func (s *Scene) Constructed() bool {
	return s.constructed
}

// Number of texture images including the trailing placeholder.
func (s *Scene) TextureCount() uint32 {
	return uint32(len(s.textureImages))
}

// Handle of the top-level structure.
func (s *Scene) TopLevel() (gpu.AccelHandle, error) {
	if !s.constructed {
		return 0, ErrNotLoaded
	}
	return s.builder.TopLevel()
}

// Camera placement requested by the scene description, if any.
func (s *Scene) Camera() *CameraDescription {
	return s.camera
}

// Element counts and buffer sizes of the loaded scene.
func (s *Scene) Stats() Stats {
	stats := s.stats
	if s.loaded {
		stats.Buffers = s.bufferSizes()
	}
	return stats
}

func (s *Scene) bufferSizes() []BufferSize {
	storage := s.dev.Storage()
	names := []string{VertexBufferName, IndexBufferName, MaterialBufferName, LightBufferName, MeshRenderDataBufferName, ModelMRDIndicesBufferName, EmissiveMeshIndicesBufferName, accel.TopLevelBufferName}
	sizes := make([]BufferSize, 0, len(names))
	for _, name := range names {
		buf, err := storage.BufferByName(name)
		if err != nil {
			continue
		}
		sizes = append(sizes, BufferSize{Name: name, Elements: buf.ElementCount(), Bytes: buf.Size()})
	}
	return sizes
}

// Mesh render data entries whose material emits light.
func emissiveMeshes(mrd []MeshRenderData, materials []Material) []uint32 {
	var out []uint32
	for i, m := range mrd {
		if m.MatIdx < 0 || int(m.MatIdx) >= len(materials) {
			continue
		}
		if materials[m.MatIdx].IsEmissive() {
			out = append(out, uint32(i))
		}
	}
	return out
}

// The meshes of a model must cover its index list exactly.
func checkMeshRanges(model *Model) error {
	var total uint32
	for _, mesh := range model.Meshes {
		total += mesh.IndexCount
	}
	if total != uint32(len(model.Indices)) {
		return fmt.Errorf("scene: model %s meshes cover %d of %d indices", model.Name, total, len(model.Indices))
	}
	return nil
}

// Upload a slice into a named buffer. Empty slices still allocate room for
// one element so that bindings stay valid; the element count stays zero.
func addSliceBuffer[T any](storage gpu.Storage, name string, data []T, usage gpu.BufferUsage, hostVisible bool) (uint32, error) {
	var (
		handle uint32
		err    error
	)
	if len(data) == 0 {
		var zero T
		handle, err = storage.AddNamedBuffer(name, int(unsafe.Sizeof(zero)), usage, hostVisible, sceneQueues...)
	} else {
		handle, err = storage.AddNamedBuffer(name, data, usage, hostVisible, sceneQueues...)
	}
	if err != nil {
		return 0, fmt.Errorf("scene: could not allocate %s buffer: %w", name, err)
	}
	return handle, nil
}
