package gpu

type BufferUsage uint32

const (
	UsageVertex BufferUsage = 1 << iota
	UsageIndex
	UsageStorage
	UsageUniform
	UsageDeviceAddress
	UsageAccelerationInput
	UsageAccelerationStorage
	UsageScratch
	UsageTransferSrc
	UsageTransferDst
)

type ImageUsage uint32

const (
	ImageSampled ImageUsage = 1 << iota
	ImageStorage
	ImageTransferSrc
	ImageTransferDst
	ImageColorAttachment
)

type Format uint8

const (
	FormatRGBA8 Format = iota
	FormatRGBA32F
)

// Bytes per pixel.
func (f Format) PixelSize() int {
	if f == FormatRGBA32F {
		return 16
	}
	return 4
}

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutTransferSrc
	LayoutTransferDst
	LayoutShaderRead
	LayoutPresent
)

// A device buffer view.
type Buffer interface {
	Handle() uint32
	Name() string
	Size() int

	// Number of elements of the slice used to create or last update the buffer.
	// Zero for buffers allocated by size until their first update.
	ElementCount() int

	DeviceAddress() uint64

	// Overwrite the buffer contents starting at byte 0. Data must be a
	// non-empty slice of fixed-size values that fits the buffer.
	UpdateData(data interface{}) error

	// Copy the buffer contents into the supplied slice.
	ReadData(dst interface{}) error
}

// A device image view.
type Image interface {
	Handle() uint32
	Name() string
	Extent() Extent
	Format() Format
	Layout() ImageLayout

	// Copy out the raw pixel data.
	ReadPixels() ([]byte, error)
}

// Storage keeps track of device buffers and images. Resources are referred to
// by opaque handles and optionally by name for cross-component wiring.
type Storage interface {
	AddBuffer(size int, usage BufferUsage, hostVisible bool, queues ...QueueClass) (uint32, error)
	AddNamedBuffer(name string, data interface{}, usage BufferUsage, hostVisible bool, queues ...QueueClass) (uint32, error)
	Buffer(handle uint32) (Buffer, error)
	BufferByName(name string) (Buffer, error)
	DestroyBuffer(handle uint32)

	// Add an image. A nil data slice leaves the image zeroed.
	AddImage(extent Extent, format Format, data []byte, usage ImageUsage, queues ...QueueClass) (uint32, error)
	AddNamedImage(name string, extent Extent, format Format, data []byte, usage ImageUsage, queues ...QueueClass) (uint32, error)
	Image(handle uint32) (Image, error)
	ImageByName(name string) (Image, error)
	DestroyImage(handle uint32)
}
