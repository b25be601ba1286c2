package tracer

import (
	"fmt"
	"time"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/scene"
	"github.com/achilleasa/prism/types"
)

// The scene resources a path tracer binds to.
type SceneResources interface {
	TextureCount() uint32
	TopLevel() (gpu.AccelHandle, error)
}

// Per-frame path tracing parameters.
type State struct {
	SampleCount uint32
	View        DebugView
}

// PathTracer owns the two alternating output images and accumulation
// buffers and records one path tracing dispatch per outer frame.
type PathTracer struct {
	logger log.Logger
	dev    gpu.Device

	extent       gpu.Extent
	images       [FramesInFlight]uint32
	accumulation [FramesInFlight]uint32

	textureCount uint32
	emissive     int
	layout       gpu.BindingLayout
	sets         [FramesInFlight]gpu.BindingSet
	program      gpu.Program
}

// Create a path tracer for a device.
func NewPathTracer(dev gpu.Device) *PathTracer {
	return &PathTracer{
		logger: log.New("path tracer"),
		dev:    dev,
	}
}

// Name of output image i.
func ImageName(i int) string {
	return fmt.Sprintf("path_trace_image_%d", i)
}

// Name of accumulation buffer i.
func AccumulationName(i int) string {
	return fmt.Sprintf("path_trace_buffer_%d", i)
}

// Allocate the output images and accumulation buffers for the render
// extent.
func (pt *PathTracer) SetupStorage(extent gpu.Extent) error {
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("tracer: invalid render extent %dx%d", extent.Width, extent.Height)
	}
	pt.releaseStorage()

	storage := pt.dev.Storage()
	acc := make([]types.Vec4, int(extent.Width)*int(extent.Height))
	for i := 0; i < FramesInFlight; i++ {
		img, err := storage.AddNamedImage(ImageName(i), extent, gpu.FormatRGBA8, nil,
			gpu.ImageStorage|gpu.ImageSampled|gpu.ImageTransferSrc,
			gpu.Graphics, gpu.Compute, gpu.Transfer,
		)
		if err != nil {
			pt.releaseStorage()
			return fmt.Errorf("tracer: %w", err)
		}
		pt.images[i] = img

		buf, err := storage.AddNamedBuffer(AccumulationName(i), acc, gpu.UsageStorage, true, gpu.Transfer, gpu.Compute)
		if err != nil {
			pt.releaseStorage()
			return fmt.Errorf("tracer: %w", err)
		}
		pt.accumulation[i] = buf
	}
	pt.extent = extent
	pt.logger.Infof("allocated %dx%d output images", extent.Width, extent.Height)
	return nil
}

// Move the output images into the general layout used by the kernels.
func (pt *PathTracer) Construct() error {
	if pt.images[0] == 0 {
		return ErrNoStorage
	}
	cmds := pt.dev.CommandContext()
	cb, err := cmds.BeginOneTime(gpu.Compute)
	if err != nil {
		return err
	}
	for _, img := range pt.images {
		cb.ImageBarrier(img, gpu.LayoutUndefined, gpu.LayoutGeneral)
	}
	return cmds.Submit(cb, true)
}

// Bind the buffers of a newly loaded scene. Unless this is the first
// scene, the bindings and program of the previous scene are released
// first.
func (pt *PathTracer) SetScene(res SceneResources, first bool) error {
	if pt.images[0] == 0 {
		return ErrNoStorage
	}
	if !first {
		pt.releaseBindings()
		pt.releaseProgram()
	}

	tlas, err := res.TopLevel()
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	emissive, err := pt.dev.Storage().BufferByName(scene.EmissiveMeshIndicesBufferName)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	pt.textureCount = res.TextureCount()
	pt.emissive = emissive.ElementCount()

	if err = pt.createBindings(tlas); err != nil {
		return err
	}
	if err = pt.createProgram(); err != nil {
		pt.releaseBindings()
		return err
	}
	pt.logger.Debugf("bound scene with %d textures and %d emissive meshes", pt.textureCount, pt.emissive)
	return nil
}

// Rebuild the compute program while keeping the bindings.
func (pt *PathTracer) ReloadShaders() error {
	if pt.layout == nil {
		return ErrNoScene
	}
	start := time.Now()
	pt.releaseProgram()
	if err := pt.createProgram(); err != nil {
		return err
	}
	pt.logger.Noticef("reloaded %s program in %d ms", PathTraceProgram, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Record a path tracing dispatch that reads the resolved frame at readOnly
// and writes the other image. A debug view resets the sample count every
// frame.
func (pt *PathTracer) Compute(cb gpu.CommandBuffer, state *State, readOnly uint32) error {
	if pt.program == nil {
		return ErrNoScene
	}
	if readOnly >= FramesInFlight {
		return ErrInvalidIndex
	}
	if state.View != ViewOff {
		state.SampleCount = 0
	}

	cb.BindProgram(pt.program)
	cb.BindSet(pt.sets[readOnly])
	cb.PushConstants(NewPushConstants(state.SampleCount, state.View).Bytes())
	cb.Dispatch(DispatchGrid(pt.extent))
	return nil
}

// Render extent.
func (pt *PathTracer) Extent() gpu.Extent {
	return pt.extent
}

// Handle of output image i.
func (pt *PathTracer) Image(i uint32) uint32 {
	return pt.images[i%FramesInFlight]
}

// Release all images, buffers, bindings and the program.
func (pt *PathTracer) Destruct() {
	pt.releaseProgram()
	pt.releaseBindings()
	pt.releaseStorage()
}

func (pt *PathTracer) bindingLayout() gpu.BindingLayout {
	return gpu.BindingLayout{
		{Index: UniformBinding, Type: gpu.UniformBuffer},
		{Index: TopLevelBinding, Type: gpu.AccelerationStructure},
		{Index: ReadImageBinding, Type: gpu.StorageImage},
		{Index: WriteImageBinding, Type: gpu.StorageImage},
		{Index: ReadAccumulationBinding, Type: gpu.StorageBuffer},
		{Index: WriteAccumulationBinding, Type: gpu.StorageBuffer},
		{Index: VertexBinding, Type: gpu.StorageBuffer},
		{Index: IndexBinding, Type: gpu.StorageBuffer},
		{Index: MaterialBinding, Type: gpu.StorageBuffer},
		{Index: MeshRenderDataBinding, Type: gpu.StorageBuffer},
		{Index: ModelMRDIndicesBinding, Type: gpu.StorageBuffer},
		{Index: EmissiveMeshBinding, Type: gpu.StorageBuffer},
		{Index: TextureBinding, Type: gpu.SampledImage, Count: uint32(pt.textureCount)},
		{Index: LightBinding, Type: gpu.StorageBuffer},
	}
}

func (pt *PathTracer) createBindings(tlas gpu.AccelHandle) error {
	storage := pt.dev.Storage()

	named := []struct {
		binding uint32
		name    string
	}{
		{UniformBinding, UniformBufferName},
		{VertexBinding, scene.VertexBufferName},
		{IndexBinding, scene.IndexBufferName},
		{MaterialBinding, scene.MaterialBufferName},
		{MeshRenderDataBinding, scene.MeshRenderDataBufferName},
		{ModelMRDIndicesBinding, scene.ModelMRDIndicesBufferName},
		{EmissiveMeshBinding, scene.EmissiveMeshIndicesBufferName},
		{LightBinding, scene.LightBufferName},
	}
	shared := make([]gpu.Descriptor, 0, len(named)+2)
	for _, entry := range named {
		buf, err := storage.BufferByName(entry.name)
		if err != nil {
			return fmt.Errorf("tracer: binding %d: %w", entry.binding, err)
		}
		shared = append(shared, gpu.BufferDescriptor(entry.binding, buf.Handle()))
	}

	textures := make([]uint32, pt.textureCount)
	for i := range textures {
		img, err := storage.ImageByName(scene.TextureName(i))
		if err != nil {
			return fmt.Errorf("tracer: binding %d: %w", TextureBinding, err)
		}
		textures[i] = img.Handle()
	}
	shared = append(shared,
		gpu.ImageDescriptor(TextureBinding, textures...),
		gpu.AccelDescriptor(TopLevelBinding, tlas),
	)

	pt.layout = pt.bindingLayout()
	for i := 0; i < FramesInFlight; i++ {
		other := 1 - i
		descriptors := append([]gpu.Descriptor{
			gpu.ImageDescriptor(ReadImageBinding, pt.images[i]),
			gpu.ImageDescriptor(WriteImageBinding, pt.images[other]),
			gpu.BufferDescriptor(ReadAccumulationBinding, pt.accumulation[i]),
			gpu.BufferDescriptor(WriteAccumulationBinding, pt.accumulation[other]),
		}, shared...)

		set, err := pt.dev.CreateBindingSet(pt.layout, descriptors)
		if err != nil {
			pt.releaseBindings()
			return fmt.Errorf("tracer: %w", err)
		}
		pt.sets[i] = set
	}
	return nil
}

func (pt *PathTracer) createProgram() error {
	program, err := pt.dev.CreateComputeProgram(gpu.ProgramInfo{
		Name:             PathTraceProgram,
		Specialization:   []uint32{uint32(pt.textureCount), uint32(pt.emissive)},
		PushConstantSize: PushConstantSize,
		Layout:           pt.layout,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	pt.program = program
	return nil
}

func (pt *PathTracer) releaseProgram() {
	if pt.program != nil {
		pt.program.Destroy()
		pt.program = nil
	}
}

func (pt *PathTracer) releaseBindings() {
	for i, set := range pt.sets {
		if set != nil {
			set.Destroy()
			pt.sets[i] = nil
		}
	}
	pt.layout = nil
}

func (pt *PathTracer) releaseStorage() {
	storage := pt.dev.Storage()
	for i := range pt.images {
		if pt.images[i] != 0 {
			storage.DestroyImage(pt.images[i])
			pt.images[i] = 0
		}
		if pt.accumulation[i] != 0 {
			storage.DestroyBuffer(pt.accumulation[i])
			pt.accumulation[i] = 0
		}
	}
	pt.extent = gpu.Extent{}
}
