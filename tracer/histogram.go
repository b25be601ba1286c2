package tracer

import (
	"fmt"
	"time"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
)

// Name of the histogram bin buffer.
const HistogramBufferName = "histogram_buffer"

// Histogram bins every colour channel of the resolved output image. Bin
// counters for the red, green and blue channels are stored back to back.
type Histogram struct {
	logger log.Logger
	dev    gpu.Device

	binCount uint32
	extent   gpu.Extent
	buffer   uint32
	layout   gpu.BindingLayout
	sets     [FramesInFlight]gpu.BindingSet
	program  gpu.Program
}

// Create a histogram stage for a device.
func NewHistogram(dev gpu.Device) *Histogram {
	return &Histogram{
		logger: log.New("histogram"),
		dev:    dev,
	}
}

// Allocate a zeroed bin buffer for binCount bins per channel.
func (h *Histogram) SetupStorage(binCount uint32) error {
	if binCount == 0 {
		return ErrInvalidBins
	}
	h.releaseStorage()

	handle, err := h.dev.Storage().AddNamedBuffer(HistogramBufferName, make([]uint32, 3*binCount), gpu.UsageStorage, true, gpu.Transfer, gpu.Compute)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	h.buffer = handle
	h.binCount = binCount
	return nil
}

// Bind the path tracer output images and create the program. Must be called
// after the path tracer storage has been set up.
func (h *Histogram) Construct() error {
	if h.buffer == 0 {
		return ErrNoStorage
	}
	h.releaseBindings()
	h.releaseProgram()

	storage := h.dev.Storage()
	h.layout = gpu.BindingLayout{
		{Index: HistogramImageBinding, Type: gpu.StorageImage},
		{Index: HistogramBinsBinding, Type: gpu.StorageBuffer},
	}
	for i := 0; i < FramesInFlight; i++ {
		img, err := storage.ImageByName(ImageName(i))
		if err != nil {
			h.releaseBindings()
			return fmt.Errorf("tracer: %w", err)
		}
		h.extent = img.Extent()

		set, err := h.dev.CreateBindingSet(h.layout, []gpu.Descriptor{
			gpu.ImageDescriptor(HistogramImageBinding, img.Handle()),
			gpu.BufferDescriptor(HistogramBinsBinding, h.buffer),
		})
		if err != nil {
			h.releaseBindings()
			return fmt.Errorf("tracer: %w", err)
		}
		h.sets[i] = set
	}
	return h.createProgram()
}

// Reallocate storage for a new bin count and rebuild bindings and program.
func (h *Histogram) Rebuild(binCount uint32) error {
	if err := h.SetupStorage(binCount); err != nil {
		return err
	}
	if err := h.Construct(); err != nil {
		return err
	}
	h.logger.Infof("rebuilt with %d bins per channel", binCount)
	return nil
}

// Rebuild the compute program.
func (h *Histogram) ReloadShaders() error {
	if h.layout == nil {
		return ErrNoStorage
	}
	start := time.Now()
	h.releaseProgram()
	if err := h.createProgram(); err != nil {
		return err
	}
	h.logger.Noticef("reloaded %s program in %d ms", HistogramProgram, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Copy the bins of the previous dispatch into out, zero the bin buffer and
// record a dispatch over the image at readOnly. The previous dispatch must
// have completed.
func (h *Histogram) Compute(cb gpu.CommandBuffer, readOnly uint32, out []uint32) error {
	if h.program == nil {
		return ErrNoStorage
	}
	if readOnly >= FramesInFlight {
		return ErrInvalidIndex
	}

	buf, err := h.dev.Storage().Buffer(h.buffer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	if len(out) > 0 {
		if err = buf.ReadData(out); err != nil {
			return fmt.Errorf("tracer: %w", err)
		}
	}
	if err = buf.UpdateData(make([]uint32, 3*h.binCount)); err != nil {
		return fmt.Errorf("tracer: %w", err)
	}

	cb.BindProgram(h.program)
	cb.BindSet(h.sets[readOnly])
	cb.Dispatch(DispatchGrid(h.extent))
	return nil
}

// Bins per channel.
func (h *Histogram) BinCount() uint32 {
	return h.binCount
}

// Release the bin buffer, bindings and program.
func (h *Histogram) Destruct() {
	h.releaseProgram()
	h.releaseBindings()
	h.releaseStorage()
}

func (h *Histogram) createProgram() error {
	program, err := h.dev.CreateComputeProgram(gpu.ProgramInfo{
		Name:           HistogramProgram,
		Specialization: []uint32{h.binCount},
		Layout:         h.layout,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	h.program = program
	return nil
}

func (h *Histogram) releaseProgram() {
	if h.program != nil {
		h.program.Destroy()
		h.program = nil
	}
}

func (h *Histogram) releaseBindings() {
	for i, set := range h.sets {
		if set != nil {
			set.Destroy()
			h.sets[i] = nil
		}
	}
	h.layout = nil
}

func (h *Histogram) releaseStorage() {
	if h.buffer != 0 {
		h.dev.Storage().DestroyBuffer(h.buffer)
		h.buffer = 0
	}
	h.binCount = 0
}
