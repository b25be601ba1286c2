package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/scene"
	"github.com/achilleasa/prism/tracer"
)

const FramesInFlight = tracer.FramesInFlight

// An Overlay draws diagnostics into the render pass of a frame after the
// path traced image was composited.
type Overlay interface {
	Draw(cb gpu.CommandBuffer, state *FrameState)
}

type frameSync struct {
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	renderFence    gpu.Fence
}

// Orchestrator drives the per-frame state machine: it advances the path
// tracer once per outer cycle and composites and presents the last
// resolved image once per frame slot.
type Orchestrator struct {
	logger  log.Logger
	dev     gpu.Device
	surface gpu.Surface
	opts    Options

	state     *FrameState
	swapchain gpu.Swapchain

	scene      *scene.Scene
	pathTracer *tracer.PathTracer
	histogram  *tracer.Histogram
	compositor *compositor
	overlay    Overlay

	uniformBuffer uint32
	prevCamera    scene.UniformBlock

	syncs        [FramesInFlight]frameSync
	timers       [FramesInFlight]*DeviceTimer
	computeFence gpu.Fence
	computeCB    gpu.CommandBuffer
	graphicsCBs  [FramesInFlight]gpu.CommandBuffer

	averages   TimingAverages
	renderTime time.Duration
}

// Create an orchestrator that renders at opts.RenderExtent and presents to
// surface.
func New(dev gpu.Device, surface gpu.Surface, opts Options) (*Orchestrator, error) {
	if opts.RenderExtent.Width == 0 || opts.RenderExtent.Height == 0 {
		return nil, ErrInvalidExtent
	}
	if opts.BinCount == 0 {
		opts.BinCount = DefaultBinCount
	}

	o := &Orchestrator{
		logger:     log.New("renderer"),
		dev:        dev,
		surface:    surface,
		opts:       opts,
		state:      newFrameState(opts),
		pathTracer: tracer.NewPathTracer(dev),
		histogram:  tracer.NewHistogram(dev),
		compositor: newCompositor(dev),
	}
	if err := o.construct(); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) construct() error {
	var err error
	if err = o.pathTracer.SetupStorage(o.opts.RenderExtent); err != nil {
		return err
	}
	if err = o.histogram.SetupStorage(o.opts.BinCount); err != nil {
		return err
	}
	if err = o.compositor.setupStorage(o.opts.RenderExtent); err != nil {
		return err
	}

	o.uniformBuffer, err = o.dev.Storage().AddNamedBuffer(
		tracer.UniformBufferName,
		[]scene.UniformBlock{o.state.Camera.Data(o.state.Exposure)},
		gpu.UsageUniform, true, gpu.Compute,
	)
	if err != nil {
		return fmt.Errorf("renderer: %w", err)
	}

	if o.swapchain, err = o.dev.CreateSwapchain(o.surface, o.opts.VSync); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	o.state.WindowExtent = o.swapchain.Extent()

	for i := range o.syncs {
		o.syncs[i] = frameSync{
			imageAvailable: o.dev.CreateSemaphore(),
			renderFinished: o.dev.CreateSemaphore(),
			renderFence:    o.dev.CreateFence(true),
		}
		o.timers[i] = NewDeviceTimer(o.dev)
		o.graphicsCBs[i] = o.dev.NewCommandBuffer(gpu.Graphics)
	}
	o.computeFence = o.dev.CreateFence(true)
	o.computeCB = o.dev.NewCommandBuffer(gpu.Compute)

	if err = o.pathTracer.Construct(); err != nil {
		return err
	}
	if err = o.histogram.Construct(); err != nil {
		return err
	}
	if err = o.compositor.construct(); err != nil {
		return err
	}

	o.logger.Infof("render extent %dx%d, swapchain extent %dx%d with %d images",
		o.opts.RenderExtent.Width, o.opts.RenderExtent.Height,
		o.state.WindowExtent.Width, o.state.WindowExtent.Height, o.swapchain.ImageCount(),
	)
	return nil
}

// Frame state shared with the UI.
func (o *Orchestrator) State() *FrameState {
	return o.state
}

// Attach an overlay that is drawn while state.ShowUI is set.
func (o *Orchestrator) SetOverlay(overlay Overlay) {
	o.overlay = overlay
}

// Load a new scene, replacing the current one. The sample counter restarts.
func (o *Orchestrator) LoadScene(path string) error {
	start := time.Now()
	if err := o.dev.WaitIdle(); err != nil {
		return err
	}

	first := o.scene == nil
	if first {
		o.scene = scene.New(o.dev)
	} else {
		o.scene.Destruct()
	}

	if err := o.scene.Load(path); err != nil {
		return err
	}
	if err := o.scene.Construct(); err != nil {
		o.scene.Destruct()
		return err
	}
	if err := o.pathTracer.SetScene(o.scene, first); err != nil {
		o.scene.Destruct()
		return err
	}

	if camDesc := o.scene.Camera(); camDesc != nil {
		o.state.Camera.Apply(camDesc)
		if camDesc.Exposure != nil {
			o.state.Exposure = *camDesc.Exposure
		}
	}
	o.state.SampleCount = 0
	o.logger.Noticef("loaded scene %q in %d ms", path, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Loaded scene or nil.
func (o *Orchestrator) Scene() *scene.Scene {
	return o.scene
}

// Rebuild the compute programs after the device went idle.
func (o *Orchestrator) ReloadShaders() error {
	if err := o.dev.WaitIdle(); err != nil {
		return err
	}
	if err := o.pathTracer.ReloadShaders(); err != nil {
		return err
	}
	return o.histogram.ReloadShaders()
}

// Replace the swapchain with one matching the current surface extent.
func (o *Orchestrator) RecreateSwapchain() error {
	if err := o.dev.WaitIdle(); err != nil {
		return err
	}
	if o.swapchain != nil {
		o.swapchain.Destroy()
		o.swapchain = nil
	}

	var err error
	if o.swapchain, err = o.dev.CreateSwapchain(o.surface, o.opts.VSync); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	o.state.WindowExtent = o.swapchain.Extent()
	o.logger.Infof("recreated swapchain with extent %dx%d", o.state.WindowExtent.Width, o.state.WindowExtent.Height)
	return nil
}

// Draw the next frame slot. Returns ErrSwapchainOutOfDate if the surface
// changed; the caller should recreate the swapchain and try again.
func (o *Orchestrator) DrawFrame() error {
	if o.scene == nil || !o.scene.Constructed() {
		return ErrNoScene
	}
	start := time.Now()
	defer func() { o.renderTime += time.Since(start) }()

	st := o.state
	slot := st.CurrentFrame
	sync := &o.syncs[slot]

	imageIndex, err := o.swapchain.AcquireNextImage(sync.imageAvailable)
	if errors.Is(err, gpu.ErrOutOfDate) {
		o.logger.Warning("swapchain out of date while acquiring image")
		return ErrSwapchainOutOfDate
	} else if err != nil {
		return fmt.Errorf("renderer: could not acquire swapchain image: %w", err)
	}

	if err = sync.renderFence.Wait(); err != nil {
		return err
	}
	sync.renderFence.Reset()

	if slot == 0 {
		if err = o.beginOuterCycle(); err != nil {
			return err
		}
	}

	st.DeviceTimings = o.timers[slot].Results()
	o.averages.Update(st.DeviceTimings)

	readOnly := st.ReadOnlyImage()
	if st.SaveScreenshot {
		if err = o.saveScreenshot(readOnly); err != nil {
			o.logger.Errorf("could not save screenshot: %v", err)
		}
		st.SaveScreenshot = false
	}

	if slot == 0 {
		if err = o.recordCompute(readOnly); err != nil {
			return err
		}
	}
	if err = o.recordGraphics(slot, imageIndex, readOnly); err != nil {
		return err
	}

	if slot == 0 {
		if err = o.dev.Submit(gpu.Compute, gpu.SubmitInfo{Buffers: []gpu.CommandBuffer{o.computeCB}}, o.computeFence); err != nil {
			return fmt.Errorf("renderer: compute submission failed: %w", err)
		}
	}
	err = o.dev.Submit(gpu.Graphics, gpu.SubmitInfo{
		Wait:    []gpu.Semaphore{sync.imageAvailable},
		Buffers: []gpu.CommandBuffer{o.graphicsCBs[slot]},
		Signal:  []gpu.Semaphore{sync.renderFinished},
	}, sync.renderFence)
	if err != nil {
		return fmt.Errorf("renderer: graphics submission failed: %w", err)
	}

	st.CurrentFrame = (slot + 1) % FramesInFlight
	st.TotalFrames++

	err = o.swapchain.Present(imageIndex, sync.renderFinished)
	if errors.Is(err, gpu.ErrOutOfDate) {
		o.logger.Warning("swapchain out of date while presenting")
		return ErrSwapchainOutOfDate
	}
	return err
}

// Synchronize with the previous outer cycle and upload the camera.
func (o *Orchestrator) beginOuterCycle() error {
	st := o.state

	if err := o.computeFence.Wait(); err != nil {
		return err
	}
	o.computeFence.Reset()

	// The last slot of the previous cycle still reads the image the next
	// dispatch writes.
	if err := o.syncs[FramesInFlight-1].renderFence.Wait(); err != nil {
		return err
	}

	cam := st.Camera.Data(st.Exposure)
	if st.shouldResetSamples(!cam.Equal(o.prevCamera)) {
		st.SampleCount = 0
	}
	o.prevCamera = cam

	buf, err := o.dev.Storage().Buffer(o.uniformBuffer)
	if err != nil {
		return err
	}
	return buf.UpdateData([]scene.UniformBlock{cam})
}

func (o *Orchestrator) recordCompute(readOnly uint32) error {
	st := o.state
	cb := o.computeCB
	timer := o.timers[0]
	if err := cb.Begin(); err != nil {
		return err
	}

	timer.Reset(cb, PathTraceTimer, HistogramTimer)
	timer.Start(cb, PathTraceTimer)
	if err := o.pathTracer.Compute(cb, &st.State, readOnly); err != nil {
		return err
	}
	timer.Stop(cb, PathTraceTimer)

	if st.binCountChanged {
		if err := o.histogram.Rebuild(st.binCount); err != nil {
			return err
		}
		st.Histogram = make([]uint32, 3*st.binCount)
		st.binCountChanged = false
	}
	if st.HistogramUpdateRate != 0 && st.SampleCount%st.HistogramUpdateRate == 0 {
		timer.Start(cb, HistogramTimer)
		if err := o.histogram.Compute(cb, readOnly, st.Histogram); err != nil {
			return err
		}
		timer.Stop(cb, HistogramTimer)
	}
	st.SampleCount++

	return cb.End()
}

func (o *Orchestrator) recordGraphics(slot, imageIndex, readOnly uint32) error {
	cb := o.graphicsCBs[slot]
	timer := o.timers[slot]
	if err := cb.Begin(); err != nil {
		return err
	}

	timer.Reset(cb, RenderingAllTimer)
	timer.Start(cb, RenderingAllTimer)
	o.compositor.render(cb, slot, o.pathTracer.Image(readOnly), o.swapchain.Image(imageIndex))
	if o.state.ShowUI && o.overlay != nil {
		o.overlay.Draw(cb, o.state)
	}
	cb.EndRenderPass()
	timer.Stop(cb, RenderingAllTimer)

	return cb.End()
}

func (o *Orchestrator) saveScreenshot(readOnly uint32) error {
	start := time.Now()
	if err := saveImage(o.dev.Storage(), o.pathTracer.Image(readOnly), o.state.ScreenshotPath); err != nil {
		return err
	}
	o.logger.Noticef("saved screenshot %q in %d ms", o.state.ScreenshotPath, time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Draw samples outer cycles, then save the resolved image. The optional
// progress callback receives the number of completed cycles.
func (o *Orchestrator) RenderSamples(samples uint32, progress func(done, total uint32)) error {
	for o.state.CurrentFrame != 0 {
		if err := o.drawRetry(); err != nil {
			return err
		}
	}
	for done := uint32(0); done < samples; {
		if err := o.drawRetry(); err != nil {
			return err
		}
		if o.state.CurrentFrame == 0 {
			done++
			if progress != nil {
				progress(done, samples)
			}
		}
	}

	// The first slot of the next cycle reads the image written by the last
	// sample.
	o.state.SaveScreenshot = true
	for o.state.SaveScreenshot {
		if err := o.drawRetry(); err != nil {
			return err
		}
	}
	return o.dev.WaitIdle()
}

func (o *Orchestrator) drawRetry() error {
	err := o.DrawFrame()
	if errors.Is(err, ErrSwapchainOutOfDate) {
		return o.RecreateSwapchain()
	}
	return err
}

// Accumulated frame statistics.
func (o *Orchestrator) Stats() FrameStats {
	stats := FrameStats{
		SampleCount: o.state.SampleCount,
		TotalFrames: o.state.TotalFrames,
		RenderTime:  o.renderTime,
	}
	for id := TimerID(0); id < TimerCount; id++ {
		stats.Timings[id] = o.averages.Average(id)
	}
	return stats
}

// Release every device resource owned by the orchestrator and its scene.
func (o *Orchestrator) Close() {
	if err := o.dev.WaitIdle(); err != nil {
		o.logger.Warningf("device reported an error while shutting down: %v", err)
	}

	for i := range o.syncs {
		if o.syncs[i].imageAvailable != nil {
			o.syncs[i].imageAvailable.Destroy()
			o.syncs[i].renderFinished.Destroy()
		}
		if o.timers[i] != nil {
			o.timers[i].Destroy()
			o.timers[i] = nil
		}
	}
	if o.swapchain != nil {
		o.swapchain.Destroy()
		o.swapchain = nil
	}
	if o.scene != nil {
		o.scene.Destruct()
	}
	if o.uniformBuffer != 0 {
		o.dev.Storage().DestroyBuffer(o.uniformBuffer)
		o.uniformBuffer = 0
	}
	o.histogram.Destruct()
	o.pathTracer.Destruct()
	o.compositor.destruct()
}
