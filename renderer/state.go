package renderer

import (
	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/scene"
	"github.com/achilleasa/prism/tracer"
)

// FrameState is the per-frame record shared between the orchestrator, the
// path tracer and the UI. It is only accessed from the thread that draws
// frames.
type FrameState struct {
	tracer.State

	// Slot within the current outer cycle and the number of frames drawn
	// since the orchestrator was created.
	CurrentFrame uint32
	TotalFrames  uint64

	Accumulate      bool
	ForceAccumulate bool

	// Histogram cadence and the bins copied back by the last histogram
	// pass, laid out as binCount entries per channel.
	HistogramUpdateRate uint32
	Histogram           []uint32

	// Device timings in milliseconds; -1 when a result is not available.
	DeviceTimings [TimerCount]float64

	SaveScreenshot bool
	ScreenshotPath string

	ShowUI bool

	Camera   *scene.Camera
	Exposure float32

	WindowExtent gpu.Extent

	binCount        uint32
	binCountChanged bool
}

func newFrameState(opts Options) *FrameState {
	aspect := float32(opts.RenderExtent.Width) / float32(opts.RenderExtent.Height)
	st := &FrameState{
		Accumulate:          opts.Accumulate,
		ForceAccumulate:     opts.ForceAccumulate,
		HistogramUpdateRate: opts.HistogramUpdateRate,
		Histogram:           make([]uint32, 3*opts.BinCount),
		ScreenshotPath:      opts.ScreenshotPath,
		ShowUI:              opts.ShowUI,
		Camera:              scene.NewCamera(aspect),
		Exposure:            opts.Exposure,
		binCount:            opts.BinCount,
	}
	for i := range st.DeviceTimings {
		st.DeviceTimings[i] = -1
	}
	return st
}

// Index of the path tracer image that holds the last fully resolved
// frame. It flips once per outer cycle.
func (st *FrameState) ReadOnlyImage() uint32 {
	return uint32((st.TotalFrames / FramesInFlight) % FramesInFlight)
}

// Histogram bins per channel.
func (st *FrameState) BinCount() uint32 {
	return st.binCount
}

// Request a new bin count. The histogram is rebuilt before its next pass.
func (st *FrameState) SetBinCount(binCount uint32) {
	if binCount == 0 || binCount == st.binCount {
		return
	}
	st.binCount = binCount
	st.binCountChanged = true
}

// Whether the sample counter restarts when a new outer cycle begins.
func (st *FrameState) shouldResetSamples(cameraChanged bool) bool {
	return (cameraChanged && !st.ForceAccumulate) || !st.Accumulate
}
