package gpu

import "github.com/achilleasa/prism/types"

type AccelerationKind uint8

const (
	BottomLevel AccelerationKind = iota
	TopLevel
)

func (k AccelerationKind) String() string {
	if k == TopLevel {
		return "top-level"
	}
	return "bottom-level"
}

// Opaque acceleration structure handle.
type AccelHandle uint64

// Triangle geometry read through device addresses. Indices are uint32 and
// PrimitiveOffset is a byte offset from IndexAddress.
type TriangleGeometry struct {
	VertexAddress   uint64
	VertexStride    uint64
	MaxVertex       uint32
	IndexAddress    uint64
	PrimitiveOffset uint64
	PrimitiveCount  uint32
}

// Instance geometry read through a device address. Each instance is a
// 64 byte record; see InstanceRecord.
type InstanceGeometry struct {
	Address uint64
	Count   uint32
}

// Describes an acceleration structure build. Destination and ScratchAddress
// are ignored when querying build sizes.
type BuildInfo struct {
	Kind AccelerationKind

	// One entry per geometry of a bottom-level structure.
	Triangles []TriangleGeometry

	// Instances making up a top-level structure.
	Instances InstanceGeometry

	Destination    AccelHandle
	ScratchAddress uint64
}

// Primitive count covered by the build.
func (info *BuildInfo) PrimitiveCount() uint32 {
	if info.Kind == TopLevel {
		return info.Instances.Count
	}
	var count uint32
	for _, tri := range info.Triangles {
		count += tri.PrimitiveCount
	}
	return count
}

// Storage requirements reported for a build.
type BuildSizes struct {
	StorageSize uint64
	ScratchSize uint64
}

// Size of an encoded InstanceRecord in bytes.
const InstanceRecordSize = 64

// Instance flags.
const (
	InstanceTriangleCullDisable uint8 = 1 << iota
	InstanceTriangleFrontCCW
	InstanceForceOpaque
	InstanceForceNoOpaque
)

// InstanceRecord is the device layout of a top-level instance: a row-major
// 3x4 transform, a 24 bit custom index with an 8 bit visibility mask, a
// 24 bit binding table offset with 8 bits of flags and the device address
// of the referenced bottom-level structure.
type InstanceRecord struct {
	Transform                      types.Affine
	CustomIndexAndMask             uint32
	SBTOffsetAndFlags              uint32
	AccelerationStructureReference uint64
}

// Create an instance record. The custom index is truncated to 24 bits.
func NewInstanceRecord(transform types.Affine, customIndex uint32, mask uint8, flags uint8, blasAddress uint64) InstanceRecord {
	return InstanceRecord{
		Transform:                      transform,
		CustomIndexAndMask:             customIndex&0xffffff | uint32(mask)<<24,
		SBTOffsetAndFlags:              uint32(flags) << 24,
		AccelerationStructureReference: blasAddress,
	}
}

func (r *InstanceRecord) CustomIndex() uint32 {
	return r.CustomIndexAndMask & 0xffffff
}

func (r *InstanceRecord) Mask() uint8 {
	return uint8(r.CustomIndexAndMask >> 24)
}

func (r *InstanceRecord) Flags() uint8 {
	return uint8(r.SBTOffsetAndFlags >> 24)
}
