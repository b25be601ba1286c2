// Package gpu defines the device capabilities the renderer depends on:
// handle-based resource storage, queues with fence and semaphore
// synchronization, acceleration structures, compute programs and a
// presentable swapchain.
package gpu

import "time"

// A queue class to which command buffers can be submitted.
type QueueClass uint8

const (
	Graphics QueueClass = iota
	Compute
	Transfer
	NumQueueClasses
)

func (q QueueClass) String() string {
	switch q {
	case Graphics:
		return "graphics"
	case Compute:
		return "compute"
	case Transfer:
		return "transfer"
	}
	return "unknown"
}

// A 2D extent in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// Fences let the host wait for submitted work to complete.
type Fence interface {
	// Block until the fence is signaled. An error indicates that the device
	// stopped responding.
	Wait() error

	// Move the fence back to the unsignaled state.
	Reset()

	Signaled() bool
}

// Semaphores order work between queues and presentation.
type Semaphore interface {
	Destroy()
}

// A batch of command buffers submitted to a queue.
type SubmitInfo struct {
	Wait    []Semaphore
	Buffers []CommandBuffer
	Signal  []Semaphore
}

// Timestamp query pool.
type QueryPool interface {
	// Read count results starting at first. Results that were not written
	// since the last reset are reported as unavailable.
	Results(first, count uint32) (values []uint64, available []bool)

	Destroy()
}

// A surface receives presented swapchain images.
type Surface interface {
	Extent() Extent

	// Present an RGBA8 image with the given extent.
	Present(pixels []byte, extent Extent) error
}

// A swapchain of presentable images.
type Swapchain interface {
	// Acquire the next presentable image. The semaphore is signaled once the
	// image may be rendered into. Returns ErrOutOfDate if the surface no
	// longer matches the swapchain.
	AcquireNextImage(signal Semaphore) (uint32, error)

	// Present image index after the wait semaphore is signaled.
	Present(index uint32, wait Semaphore) error

	Extent() Extent
	ImageCount() int

	// Storage image handle of a swapchain image.
	Image(index uint32) uint32

	Destroy()
}

// Device capabilities consumed by the renderer.
type Device interface {
	Name() string

	Storage() Storage
	CommandContext() CommandContext

	// Allocate a command buffer for repeated per-frame recording.
	NewCommandBuffer(queue QueueClass) CommandBuffer

	Submit(queue QueueClass, info SubmitInfo, fence Fence) error
	WaitIdle() error

	CreateFence(signaled bool) Fence
	CreateSemaphore() Semaphore
	CreateQueryPool(count uint32) QueryPool

	// Duration of one timestamp tick.
	TimestampPeriod() time.Duration

	CreateSwapchain(surface Surface, vsync bool) (Swapchain, error)

	AccelerationBuildSizes(info *BuildInfo) (BuildSizes, error)
	CreateAccelerationStructure(kind AccelerationKind, buffer uint32, size uint64) (AccelHandle, error)
	AccelerationStructureAddress(handle AccelHandle) uint64
	DestroyAccelerationStructure(handle AccelHandle)

	CreateComputeProgram(info ProgramInfo) (Program, error)
	CreateBindingSet(layout BindingLayout, descriptors []Descriptor) (BindingSet, error)

	Close()
}
