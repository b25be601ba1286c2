// Package tracer records the compute work of a frame: the progressive path
// tracing pass over the scene and the histogram of its resolved output.
package tracer

import (
	"encoding/binary"

	"github.com/achilleasa/prism/gpu"
)

// Program names resolved by the device.
const (
	PathTraceProgram = "path_trace"
	HistogramProgram = "histogram"
)

// Number of frame slots that may be in flight. The path tracer keeps one
// binding set per slot.
const FramesInFlight = 2

// Workgroup extent of the tracing kernels.
const localSize = 32

// Name of the camera uniform buffer. The buffer is owned by the frame loop.
const UniformBufferName = "uniform_buffer"

// Path tracer bindings.
const (
	UniformBinding           uint32 = 0
	TopLevelBinding          uint32 = 1
	ReadImageBinding         uint32 = 2
	WriteImageBinding        uint32 = 3
	ReadAccumulationBinding  uint32 = 4
	WriteAccumulationBinding uint32 = 5
	VertexBinding            uint32 = 10
	IndexBinding             uint32 = 11
	MaterialBinding          uint32 = 12
	MeshRenderDataBinding    uint32 = 13
	ModelMRDIndicesBinding   uint32 = 14
	EmissiveMeshBinding      uint32 = 15
	TextureBinding           uint32 = 16
	LightBinding             uint32 = 17
)

// Histogram bindings.
const (
	HistogramImageBinding uint32 = 0
	HistogramBinsBinding  uint32 = 1
)

// Specialization constants of the path tracing program.
const (
	TextureCountConstant = iota
	EmissiveMeshCountConstant
)

// A debug view replaces the shading estimate with a single surface
// attribute.
type DebugView uint8

const (
	ViewOff DebugView = iota
	ViewAttenuation
	ViewEmission
	ViewNormal
	ViewTexCoord
)

func (v DebugView) String() string {
	switch v {
	case ViewAttenuation:
		return "attenuation"
	case ViewEmission:
		return "emission"
	case ViewNormal:
		return "normal"
	case ViewTexCoord:
		return "tex"
	}
	return "off"
}

// PushConstants are sent with every path tracing dispatch. At most one of
// the view flags is set.
type PushConstants struct {
	SampleCount     uint32
	AttenuationView uint32
	EmissionView    uint32
	NormalView      uint32
	TexView         uint32
}

// Size of encoded push constants in bytes.
const PushConstantSize = 20

// Build the push constants for a sample count and debug view.
func NewPushConstants(sampleCount uint32, view DebugView) PushConstants {
	pc := PushConstants{SampleCount: sampleCount}
	switch view {
	case ViewAttenuation:
		pc.AttenuationView = 1
	case ViewEmission:
		pc.EmissionView = 1
	case ViewNormal:
		pc.NormalView = 1
	case ViewTexCoord:
		pc.TexView = 1
	}
	return pc
}

// Active debug view.
func (pc PushConstants) View() DebugView {
	switch {
	case pc.AttenuationView != 0:
		return ViewAttenuation
	case pc.EmissionView != 0:
		return ViewEmission
	case pc.NormalView != 0:
		return ViewNormal
	case pc.TexView != 0:
		return ViewTexCoord
	}
	return ViewOff
}

// Little-endian encoding.
func (pc PushConstants) Bytes() []byte {
	out := make([]byte, PushConstantSize)
	for i, v := range []uint32{pc.SampleCount, pc.AttenuationView, pc.EmissionView, pc.NormalView, pc.TexView} {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

// Decode push constants. Missing trailing fields are left zeroed.
func DecodePushConstants(data []byte) PushConstants {
	var fields [5]uint32
	for i := range fields {
		if len(data) < 4*(i+1) {
			break
		}
		fields[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return PushConstants{fields[0], fields[1], fields[2], fields[3], fields[4]}
}

// Workgroup counts covering an extent with 32x32 tiles.
func DispatchGrid(extent gpu.Extent) (x, y, z uint32) {
	return (extent.Width + localSize - 1) / localSize, (extent.Height + localSize - 1) / localSize, 1
}
