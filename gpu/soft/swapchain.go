package soft

import (
	"fmt"
	"sync"

	"github.com/achilleasa/prism/gpu"
)

type swapchain struct {
	dev     *Device
	surface gpu.Surface
	extent  gpu.Extent
	images  []uint32
	next    uint32
}

func (d *Device) CreateSwapchain(surface gpu.Surface, vsync bool) (gpu.Swapchain, error) {
	extent := surface.Extent()
	count := 2
	if vsync {
		count = 3
	}

	sc := &swapchain{dev: d, surface: surface, extent: extent}
	for i := 0; i < count; i++ {
		handle, err := d.storage.AddImage(extent, gpu.FormatRGBA8, nil, gpu.ImageColorAttachment|gpu.ImageTransferSrc)
		if err != nil {
			sc.Destroy()
			return nil, fmt.Errorf("soft device: could not create swapchain image: %w", err)
		}
		sc.images = append(sc.images, handle)
	}
	return sc, nil
}

func (sc *swapchain) AcquireNextImage(signal gpu.Semaphore) (uint32, error) {
	if sc.surface.Extent() != sc.extent {
		return 0, gpu.ErrOutOfDate
	}
	sem, ok := signal.(*semaphore)
	if !ok {
		return 0, fmt.Errorf("soft device: foreign semaphore %T", signal)
	}

	index := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	sem.signal()
	return index, nil
}

func (sc *swapchain) Present(index uint32, wait gpu.Semaphore) error {
	sem, ok := wait.(*semaphore)
	if !ok {
		return fmt.Errorf("soft device: foreign semaphore %T", wait)
	}
	if index >= uint32(len(sc.images)) {
		return fmt.Errorf("soft device: swapchain image %d out of range", index)
	}
	sem.wait()

	img, err := sc.dev.storage.image(sc.images[index])
	if err != nil {
		return err
	}
	if sc.surface.Extent() != sc.extent {
		return gpu.ErrOutOfDate
	}
	pixels, _ := img.ReadPixels()
	return sc.surface.Present(pixels, sc.extent)
}

func (sc *swapchain) Extent() gpu.Extent {
	return sc.extent
}

func (sc *swapchain) ImageCount() int {
	return len(sc.images)
}

func (sc *swapchain) Image(index uint32) uint32 {
	return sc.images[index]
}

func (sc *swapchain) Destroy() {
	for _, handle := range sc.images {
		sc.dev.storage.DestroyImage(handle)
	}
	sc.images = nil
}

// HeadlessSurface is a presentation target that keeps the last presented
// frame in memory.
type HeadlessSurface struct {
	mu        sync.Mutex
	extent    gpu.Extent
	last      []byte
	presented int
}

func NewHeadlessSurface(extent gpu.Extent) *HeadlessSurface {
	return &HeadlessSurface{extent: extent}
}

func (s *HeadlessSurface) Extent() gpu.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

// Change the surface extent. Swapchains created for the previous extent
// report gpu.ErrOutOfDate from then on.
func (s *HeadlessSurface) Resize(extent gpu.Extent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = extent
}

func (s *HeadlessSurface) Present(pixels []byte, extent gpu.Extent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = pixels
	s.presented++
	return nil
}

// Last presented frame and the number of presented frames.
func (s *HeadlessSurface) LastFrame() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.presented
}
