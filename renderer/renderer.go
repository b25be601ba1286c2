package renderer

import (
	"time"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
)

type Renderer interface {
	// Render frames until the renderer is done.
	Render() error

	// Shut down the renderer and release its device resources.
	Close()

	// Get render statistics.
	Stats() FrameStats
}

// A surface that discards presented frames.
type offscreenSurface struct {
	extent gpu.Extent
}

func (s offscreenSurface) Extent() gpu.Extent {
	return s.extent
}

func (s offscreenSurface) Present([]byte, gpu.Extent) error {
	return nil
}

// Renders a fixed number of samples without a window and saves the
// result to opts.ScreenshotPath.
type headlessRenderer struct {
	logger  log.Logger
	orch    *Orchestrator
	samples uint32
}

// Create a headless renderer for a scene file.
func NewHeadless(dev gpu.Device, sceneFile string, opts Options) (Renderer, error) {
	orch, err := New(dev, offscreenSurface{extent: opts.RenderExtent}, opts)
	if err != nil {
		return nil, err
	}
	if err = orch.LoadScene(sceneFile); err != nil {
		orch.Close()
		return nil, err
	}
	return &headlessRenderer{
		logger:  log.New("headless renderer"),
		orch:    orch,
		samples: opts.Samples,
	}, nil
}

func (r *headlessRenderer) Render() error {
	start := time.Now()
	lastPercent := -1
	err := r.orch.RenderSamples(r.samples, func(done, total uint32) {
		percent := int(100 * done / total)
		if percent/10 != lastPercent/10 {
			r.logger.Infof("rendered %d/%d samples (%d%%)", done, total, percent)
			lastPercent = percent
		}
	})
	if err != nil {
		return err
	}
	r.logger.Noticef("rendered %d samples in %d ms", r.samples, time.Since(start).Nanoseconds()/1e6)
	return nil
}

func (r *headlessRenderer) Close() {
	r.orch.Close()
}

func (r *headlessRenderer) Stats() FrameStats {
	return r.orch.Stats()
}
