// Package accel builds the two-level ray tracing acceleration structures of
// a scene: one bottom-level structure per model and a single top-level
// structure with one instance per model.
package accel

import (
	"fmt"
	"time"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/types"
)

// Name of the top-level structure backing buffer.
const TopLevelBufferName = "tlas"

// Visibility mask assigned to every instance.
const defaultMask = 0xff

// An acceleration structure together with the buffers backing it.
type structure struct {
	handle  gpu.AccelHandle
	address uint64
	storage uint32
	scratch uint32
	sizes   gpu.BuildSizes
}

// Builder incrementally builds the bottom-level structures of a scene and a
// top-level structure over their instances. BLAS ids and instance ids are
// dense and zero-based.
type Builder struct {
	logger log.Logger
	dev    gpu.Device

	bottom      []structure
	instances   []gpu.InstanceRecord
	customIndex map[uint32]uint32

	top            *structure
	instanceBuffer uint32
}

// Create a builder that allocates structures on the given device.
func NewBuilder(dev gpu.Device) *Builder {
	return &Builder{
		logger:      log.New("spatial index"),
		dev:         dev,
		customIndex: make(map[uint32]uint32),
	}
}

// Record the build of a bottom-level structure with one triangle geometry
// per index range. All ranges share the vertex buffer. Offsets and counts
// are expressed in indices. The vertex and index buffers must be uploaded
// before calling this method since the build reads them by device address.
func (b *Builder) AddBottomLevel(cb gpu.CommandBuffer, vertexBuffer, indexBuffer uint32, offsets, counts []uint32, vertexStride uint64) (uint32, error) {
	if len(offsets) != len(counts) {
		return 0, ErrMismatchedRanges
	}
	if len(offsets) == 0 {
		return 0, ErrEmptyGeometry
	}

	storage := b.dev.Storage()
	vb, err := storage.Buffer(vertexBuffer)
	if err != nil {
		return 0, fmt.Errorf("accel: vertex buffer: %w", err)
	}
	ib, err := storage.Buffer(indexBuffer)
	if err != nil {
		return 0, fmt.Errorf("accel: index buffer: %w", err)
	}
	if vertexStride == 0 {
		return 0, fmt.Errorf("accel: zero vertex stride for buffer %q", vb.Name())
	}
	vertexCount := vb.Size() / int(vertexStride)
	if vertexCount == 0 {
		return 0, fmt.Errorf("accel: vertex buffer %q is empty", vb.Name())
	}

	info := gpu.BuildInfo{
		Kind:      gpu.BottomLevel,
		Triangles: make([]gpu.TriangleGeometry, len(offsets)),
	}
	for i := range offsets {
		info.Triangles[i] = gpu.TriangleGeometry{
			VertexAddress:   vb.DeviceAddress(),
			VertexStride:    vertexStride,
			MaxVertex:       uint32(vertexCount - 1),
			IndexAddress:    ib.DeviceAddress(),
			PrimitiveOffset: uint64(offsets[i]) * 4,
			PrimitiveCount:  counts[i] / 3,
		}
	}

	st, err := b.allocate(&info, "")
	if err != nil {
		return 0, err
	}
	cb.BuildAccelerationStructure(info)

	id := uint32(len(b.bottom))
	b.bottom = append(b.bottom, *st)
	b.logger.Debugf("recorded bottom-level structure %d with %d geometries (%d bytes)", id, len(offsets), st.sizes.StorageSize)
	return id, nil
}

// Query the build sizes, allocate storage and scratch buffers of exactly
// those sizes and create the structure. On success the destination and
// scratch address of info are filled in.
func (b *Builder) allocate(info *gpu.BuildInfo, storageName string) (*structure, error) {
	storage := b.dev.Storage()

	sizes, err := b.dev.AccelerationBuildSizes(info)
	if err != nil {
		return nil, fmt.Errorf("accel: could not query %s build sizes: %w", info.Kind, err)
	}

	st := &structure{sizes: sizes}
	usage := gpu.UsageAccelerationStorage | gpu.UsageDeviceAddress
	if storageName != "" {
		st.storage, err = storage.AddNamedBuffer(storageName, int(sizes.StorageSize), usage, false, gpu.Compute)
	} else {
		st.storage, err = storage.AddBuffer(int(sizes.StorageSize), usage, false, gpu.Compute)
	}
	if err != nil {
		return nil, fmt.Errorf("accel: could not allocate %s storage: %w", info.Kind, err)
	}

	if st.scratch, err = storage.AddBuffer(int(sizes.ScratchSize), gpu.UsageScratch|gpu.UsageDeviceAddress, false, gpu.Compute); err != nil {
		storage.DestroyBuffer(st.storage)
		return nil, fmt.Errorf("accel: could not allocate %s scratch space: %w", info.Kind, err)
	}
	scratch, err := storage.Buffer(st.scratch)
	if err != nil {
		b.release(st)
		return nil, err
	}

	if st.handle, err = b.dev.CreateAccelerationStructure(info.Kind, st.storage, sizes.StorageSize); err != nil {
		b.release(st)
		return nil, fmt.Errorf("accel: could not create %s structure: %w", info.Kind, err)
	}
	st.address = b.dev.AccelerationStructureAddress(st.handle)

	info.Destination = st.handle
	info.ScratchAddress = scratch.DeviceAddress()
	return st, nil
}

func (b *Builder) release(st *structure) {
	if st.handle != 0 {
		b.dev.DestroyAccelerationStructure(st.handle)
	}
	b.dev.Storage().DestroyBuffer(st.storage)
	b.dev.Storage().DestroyBuffer(st.scratch)
}

// Append an instance of a bottom-level structure. The top-level structure is
// not rebuilt. The custom index must be unique; it is reported back by ray
// queries to identify the model that was hit.
func (b *Builder) AddInstance(blasID uint32, transform types.Mat4, customIndex uint32) (uint32, error) {
	if blasID >= uint32(len(b.bottom)) {
		return 0, fmt.Errorf("accel: blas %d: %w", blasID, ErrUnknownBottomLevel)
	}
	if owner, taken := b.customIndex[customIndex]; taken {
		return 0, fmt.Errorf("accel: custom index %d used by instance %d: %w", customIndex, owner, ErrDuplicateCustomIndex)
	}

	id := uint32(len(b.instances))
	b.instances = append(b.instances, gpu.NewInstanceRecord(
		transform.Affine(),
		customIndex,
		defaultMask,
		gpu.InstanceTriangleCullDisable,
		b.bottom[blasID].address,
	))
	b.customIndex[customIndex] = id
	return id, nil
}

// Overwrite the transform of an instance in host memory. The change becomes
// visible the next time the top-level structure is built.
func (b *Builder) UpdateInstance(instanceID uint32, transform types.Mat4) error {
	if instanceID >= uint32(len(b.instances)) {
		return fmt.Errorf("accel: instance %d: %w", instanceID, ErrUnknownInstance)
	}
	b.instances[instanceID].Transform = transform.Affine()
	return nil
}

// Upload the instance array and record the top-level build. Can only be
// called once until Destruct.
func (b *Builder) CreateTopLevel(cb gpu.CommandBuffer) error {
	if b.top != nil {
		return ErrTopLevelExists
	}

	start := time.Now()
	storage := b.dev.Storage()
	info := gpu.BuildInfo{Kind: gpu.TopLevel}

	if len(b.instances) > 0 {
		handle, err := storage.AddBuffer(len(b.instances)*gpu.InstanceRecordSize, gpu.UsageAccelerationInput|gpu.UsageDeviceAddress, true, gpu.Compute)
		if err != nil {
			return fmt.Errorf("accel: could not allocate instance buffer: %w", err)
		}
		buf, err := storage.Buffer(handle)
		if err == nil {
			err = buf.UpdateData(b.instances)
		}
		if err != nil {
			storage.DestroyBuffer(handle)
			return fmt.Errorf("accel: could not upload instances: %w", err)
		}
		b.instanceBuffer = handle
		info.Instances = gpu.InstanceGeometry{Address: buf.DeviceAddress(), Count: uint32(len(b.instances))}
	}

	st, err := b.allocate(&info, TopLevelBufferName)
	if err != nil {
		storage.DestroyBuffer(b.instanceBuffer)
		b.instanceBuffer = 0
		return err
	}
	cb.BuildAccelerationStructure(info)
	b.top = st

	b.logger.Infof("recorded top-level structure over %d instances (%d bytes) in %d ms", len(b.instances), st.sizes.StorageSize, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Handle of the top-level structure.
func (b *Builder) TopLevel() (gpu.AccelHandle, error) {
	if b.top == nil {
		return 0, ErrNoTopLevel
	}
	return b.top.handle, nil
}

// Number of bottom-level structures.
func (b *Builder) BottomLevelCount() int {
	return len(b.bottom)
}

// Number of instances.
func (b *Builder) InstanceCount() int {
	return len(b.instances)
}

// Get the device record of an instance.
func (b *Builder) Instance(instanceID uint32) (gpu.InstanceRecord, error) {
	if instanceID >= uint32(len(b.instances)) {
		return gpu.InstanceRecord{}, fmt.Errorf("accel: instance %d: %w", instanceID, ErrUnknownInstance)
	}
	return b.instances[instanceID], nil
}

// Free every structure and backing buffer and clear the instance and
// bottom-level lists so the builder can be reused for another scene.
func (b *Builder) Destruct() {
	for i := range b.bottom {
		b.release(&b.bottom[i])
	}
	if b.top != nil {
		b.release(b.top)
		b.top = nil
	}
	if b.instanceBuffer != 0 {
		b.dev.Storage().DestroyBuffer(b.instanceBuffer)
		b.instanceBuffer = 0
	}

	b.bottom = nil
	b.instances = nil
	b.customIndex = make(map[uint32]uint32)
}
