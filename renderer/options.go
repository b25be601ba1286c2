package renderer

import "github.com/achilleasa/prism/gpu"

var (
	DefaultHeadlessExtent    = gpu.Extent{Width: 5120, Height: 2880}
	DefaultInteractiveExtent = gpu.Extent{Width: 1920, Height: 1080}
)

const (
	DefaultBinCount            = 128
	DefaultHistogramUpdateRate = 50
)

type Options struct {
	// Extent of the path traced image.
	RenderExtent gpu.Extent

	// Extent of the interactive window. Ignored by headless renders.
	WindowExtent gpu.Extent

	VSync bool

	// Accumulate samples across frames. Unless ForceAccumulate is set, a
	// camera change restarts accumulation.
	Accumulate      bool
	ForceAccumulate bool

	// Histogram bins per channel and the sample cadence of histogram
	// updates. An update rate of 0 disables the histogram pass.
	BinCount            uint32
	HistogramUpdateRate uint32

	// Samples per pixel for headless renders.
	Samples uint32

	// Exposure for tonemapping. Overridden by the scene camera if it
	// defines one.
	Exposure float32

	ScreenshotPath string
	ShowUI         bool
}

// Options for a headless render with the default extent and histogram
// settings.
func DefaultOptions() Options {
	return Options{
		RenderExtent:        DefaultHeadlessExtent,
		WindowExtent:        DefaultInteractiveExtent,
		Accumulate:          true,
		BinCount:            DefaultBinCount,
		HistogramUpdateRate: DefaultHistogramUpdateRate,
		Samples:             1,
		Exposure:            1,
		ScreenshotPath:      "frame.png",
	}
}

