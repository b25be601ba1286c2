package gpu

type BindingType uint8

const (
	UniformBuffer BindingType = iota
	StorageBuffer
	StorageImage
	SampledImage
	AccelerationStructure
)

// A binding slot of a compute program. Count > 1 declares an array binding.
type Binding struct {
	Index uint32
	Type  BindingType
	Count uint32
}

type BindingLayout []Binding

// Resources attached to one binding slot.
type Descriptor struct {
	Binding uint32
	Buffers []uint32
	Images  []uint32
	Accel   AccelHandle
}

// Buffer descriptor helper.
func BufferDescriptor(binding uint32, buffers ...uint32) Descriptor {
	return Descriptor{Binding: binding, Buffers: buffers}
}

// Image descriptor helper.
func ImageDescriptor(binding uint32, images ...uint32) Descriptor {
	return Descriptor{Binding: binding, Images: images}
}

// Acceleration structure descriptor helper.
func AccelDescriptor(binding uint32, handle AccelHandle) Descriptor {
	return Descriptor{Binding: binding, Accel: handle}
}

// ProgramInfo describes a compute program to compile.
type ProgramInfo struct {
	Name string

	// Specialization constants in declaration order.
	Specialization []uint32

	PushConstantSize int
	Layout           BindingLayout
}

// A compiled compute program.
type Program interface {
	Name() string
	Destroy()
}

// A set of resources bound to a program layout.
type BindingSet interface {
	Destroy()
}
