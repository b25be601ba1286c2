package soft

import (
	"fmt"
	"sort"
	"sync"

	"github.com/achilleasa/prism/gpu"
)

const (
	addressBase      = 0x10000
	addressAlignment = 256
)

type buffer struct {
	handle      uint32
	name        string
	usage       gpu.BufferUsage
	hostVisible bool
	address     uint64
	elemCount   int
	data        []byte
}

func (b *buffer) Handle() uint32 {
	return b.handle
}

func (b *buffer) Name() string {
	return b.name
}

func (b *buffer) Size() int {
	return len(b.data)
}

func (b *buffer) ElementCount() int {
	return b.elemCount
}

func (b *buffer) DeviceAddress() uint64 {
	return b.address
}

func (b *buffer) UpdateData(data interface{}) error {
	src, count, err := gpu.SliceBytes(data)
	if err != nil {
		return err
	}
	if len(src) > len(b.data) {
		return fmt.Errorf("soft device: insufficient buffer space (%d) in %s for copying data of length %d", len(b.data), b.name, len(src))
	}
	copy(b.data, src)
	b.elemCount = count
	return nil
}

func (b *buffer) ReadData(dst interface{}) error {
	out, _, err := gpu.SliceBytes(dst)
	if err != nil {
		return err
	}
	copy(out, b.data)
	return nil
}

type image struct {
	handle uint32
	name   string
	usage  gpu.ImageUsage
	view   ImageView
	layout gpu.ImageLayout
}

func (img *image) Handle() uint32 {
	return img.handle
}

func (img *image) Name() string {
	return img.name
}

func (img *image) Extent() gpu.Extent {
	return img.view.Extent
}

func (img *image) Format() gpu.Format {
	return img.view.Format
}

func (img *image) Layout() gpu.ImageLayout {
	return img.layout
}

func (img *image) ReadPixels() ([]byte, error) {
	out := make([]byte, len(img.view.Pix))
	copy(out, img.view.Pix)
	return out, nil
}

// storage is an arena of buffers and images. Handles are arena indices
// offset by one so the zero handle is never valid.
type storage struct {
	mu sync.RWMutex

	buffers     []*buffer
	freeBuffers []int
	bufferNames map[string]uint32

	images     []*image
	freeImages []int
	imageNames map[string]uint32

	// Live buffers sorted by device address.
	byAddress   []*buffer
	nextAddress uint64
}

func newStorage() *storage {
	return &storage{
		bufferNames: make(map[string]uint32),
		imageNames:  make(map[string]uint32),
		nextAddress: addressBase,
	}
}

func (s *storage) AddBuffer(size int, usage gpu.BufferUsage, hostVisible bool, queues ...gpu.QueueClass) (uint32, error) {
	return s.addBuffer("", size, nil, usage, hostVisible)
}

func (s *storage) AddNamedBuffer(name string, data interface{}, usage gpu.BufferUsage, hostVisible bool, queues ...gpu.QueueClass) (uint32, error) {
	if size, isSize := data.(int); isSize {
		return s.addBuffer(name, size, nil, usage, hostVisible)
	}

	src, count, err := gpu.SliceBytes(data)
	if err != nil {
		return 0, fmt.Errorf("soft device: could not allocate buffer %s: %w", name, err)
	}
	handle, err := s.addBuffer(name, len(src), src, usage, hostVisible)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.buffers[handle-1].elemCount = count
	s.mu.Unlock()
	return handle, nil
}

func (s *storage) addBuffer(name string, size int, src []byte, usage gpu.BufferUsage, hostVisible bool) (uint32, error) {
	if size <= 0 {
		return 0, fmt.Errorf("soft device: could not allocate buffer %s of size %d", name, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if _, exists := s.bufferNames[name]; exists {
			return 0, fmt.Errorf("soft device: buffer name %q already in use", name)
		}
	}

	buf := &buffer{
		name:        name,
		usage:       usage,
		hostVisible: hostVisible,
		address:     s.nextAddress,
		data:        make([]byte, size),
	}
	copy(buf.data, src)
	s.nextAddress += (uint64(size) + addressAlignment - 1) / addressAlignment * addressAlignment
	s.byAddress = append(s.byAddress, buf)

	var index int
	if n := len(s.freeBuffers); n > 0 {
		index = s.freeBuffers[n-1]
		s.freeBuffers = s.freeBuffers[:n-1]
		s.buffers[index] = buf
	} else {
		index = len(s.buffers)
		s.buffers = append(s.buffers, buf)
	}

	handle := uint32(index + 1)
	buf.handle = handle
	if name != "" {
		s.bufferNames[name] = handle
	}
	return handle, nil
}

func (s *storage) Buffer(handle uint32) (gpu.Buffer, error) {
	buf, err := s.buffer(handle)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *storage) buffer(handle uint32) (*buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if handle == 0 || int(handle) > len(s.buffers) || s.buffers[handle-1] == nil {
		return nil, fmt.Errorf("soft device: buffer %d: %w", handle, gpu.ErrUnknownHandle)
	}
	return s.buffers[handle-1], nil
}

func (s *storage) BufferByName(name string) (gpu.Buffer, error) {
	s.mu.RLock()
	handle, found := s.bufferNames[name]
	s.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("soft device: buffer %q: %w", name, gpu.ErrUnknownName)
	}
	return s.Buffer(handle)
}

func (s *storage) DestroyBuffer(handle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle == 0 || int(handle) > len(s.buffers) || s.buffers[handle-1] == nil {
		return
	}

	buf := s.buffers[handle-1]
	if buf.name != "" {
		delete(s.bufferNames, buf.name)
	}
	for i, candidate := range s.byAddress {
		if candidate == buf {
			s.byAddress = append(s.byAddress[:i], s.byAddress[i+1:]...)
			break
		}
	}
	s.buffers[handle-1] = nil
	s.freeBuffers = append(s.freeBuffers, int(handle-1))
}

// Resolve a device address to the buffer containing it and the byte offset
// of the address within that buffer.
func (s *storage) resolve(address uint64) (*buffer, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := sort.Search(len(s.byAddress), func(i int) bool {
		return s.byAddress[i].address > address
	}) - 1
	if index < 0 {
		return nil, 0, fmt.Errorf("soft device: address 0x%x does not belong to any buffer", address)
	}
	buf := s.byAddress[index]
	offset := int(address - buf.address)
	if offset >= len(buf.data) {
		return nil, 0, fmt.Errorf("soft device: address 0x%x does not belong to any buffer", address)
	}
	return buf, offset, nil
}

// Resolve a device address range.
func (s *storage) resolveRange(address uint64, size int) ([]byte, error) {
	buf, offset, err := s.resolve(address)
	if err != nil {
		return nil, err
	}
	if offset+size > len(buf.data) {
		return nil, fmt.Errorf("soft device: range [0x%x, 0x%x) exceeds buffer %q", address, address+uint64(size), buf.name)
	}
	return buf.data[offset : offset+size], nil
}

func (s *storage) AddImage(extent gpu.Extent, format gpu.Format, data []byte, usage gpu.ImageUsage, queues ...gpu.QueueClass) (uint32, error) {
	return s.AddNamedImage("", extent, format, data, usage, queues...)
}

func (s *storage) AddNamedImage(name string, extent gpu.Extent, format gpu.Format, data []byte, usage gpu.ImageUsage, queues ...gpu.QueueClass) (uint32, error) {
	size := int(extent.Width) * int(extent.Height) * format.PixelSize()
	if size == 0 {
		return 0, fmt.Errorf("soft device: could not allocate image %s with extent %dx%d", name, extent.Width, extent.Height)
	}
	if data != nil && len(data) != size {
		return 0, fmt.Errorf("soft device: image %s expects %d bytes of pixel data; got %d", name, size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if name != "" {
		if _, exists := s.imageNames[name]; exists {
			return 0, fmt.Errorf("soft device: image name %q already in use", name)
		}
	}

	img := &image{
		name:  name,
		usage: usage,
		view: ImageView{
			Extent: extent,
			Format: format,
			Pix:    make([]byte, size),
		},
	}
	copy(img.view.Pix, data)

	var index int
	if n := len(s.freeImages); n > 0 {
		index = s.freeImages[n-1]
		s.freeImages = s.freeImages[:n-1]
		s.images[index] = img
	} else {
		index = len(s.images)
		s.images = append(s.images, img)
	}

	handle := uint32(index + 1)
	img.handle = handle
	if name != "" {
		s.imageNames[name] = handle
	}
	return handle, nil
}

func (s *storage) Image(handle uint32) (gpu.Image, error) {
	img, err := s.image(handle)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *storage) image(handle uint32) (*image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if handle == 0 || int(handle) > len(s.images) || s.images[handle-1] == nil {
		return nil, fmt.Errorf("soft device: image %d: %w", handle, gpu.ErrUnknownHandle)
	}
	return s.images[handle-1], nil
}

func (s *storage) ImageByName(name string) (gpu.Image, error) {
	s.mu.RLock()
	handle, found := s.imageNames[name]
	s.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("soft device: image %q: %w", name, gpu.ErrUnknownName)
	}
	return s.Image(handle)
}

func (s *storage) DestroyImage(handle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle == 0 || int(handle) > len(s.images) || s.images[handle-1] == nil {
		return
	}
	if name := s.images[handle-1].name; name != "" {
		delete(s.imageNames, name)
	}
	s.images[handle-1] = nil
	s.freeImages = append(s.freeImages, int(handle-1))
}

// Number of live buffers and images.
func (s *storage) liveCount() (buffers, images int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers) - len(s.freeBuffers), len(s.images) - len(s.freeImages)
}
