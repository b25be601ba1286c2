// Package opengl presents frames of the renderer in a glfw window and
// draws the diagnostics overlay with immediate mode GL.
package opengl

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/renderer"
	"github.com/achilleasa/prism/tracer"
	"github.com/achilleasa/prism/types"
	"github.com/go-gl/gl/v2.1/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
)

const (
	// Camera movement per key press in world units.
	cameraMoveSpeed float32 = 0.1

	// Exposure multiplier per key press.
	exposureStep float32 = 1.25

	// Height in pixels of the timing series and histogram widgets.
	stackedSeriesHeight uint32 = 40
	histogramHeight     uint32 = 100
	histogramWidth      uint32 = 256
)

const (
	leftMouseButton  = 0
	rightMouseButton = 1
)

var seriesColors = [renderer.TimerCount]types.Vec3{
	types.XYZ(0.9, 0.9, 0.2),
	types.XYZ(0.2, 0.6, 1.0),
	types.XYZ(1.0, 0.4, 0.3),
}

// An interactive renderer that presents through an opengl window.
type interactiveGLRenderer struct {
	logger log.Logger
	orch   *renderer.Orchestrator

	sceneFiles []string
	sceneIndex int

	window  *glfw.Window
	surface *glSurface

	lastCursorPos types.Vec2
	mousePressed  [2]bool
}

// Create an interactive renderer that opens a window and renders the first
// of sceneFiles. The N key cycles through the remaining scenes.
func NewInteractive(dev gpu.Device, sceneFiles []string, opts renderer.Options) (renderer.Renderer, error) {
	if len(sceneFiles) == 0 {
		return nil, renderer.ErrNoScene
	}

	r := &interactiveGLRenderer{
		logger:     log.New("interactive renderer"),
		sceneFiles: sceneFiles,
	}
	if err := r.initGL(opts); err != nil {
		r.Close()
		return nil, err
	}

	orch, err := renderer.New(dev, r.surface, opts)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.orch = orch
	orch.SetOverlay(r.surface.overlay)

	if err = orch.LoadScene(sceneFiles[0]); err != nil {
		r.Close()
		return nil, err
	}
	r.updateTitle()
	return r, nil
}

func (r *interactiveGLRenderer) initGL(opts renderer.Options) error {
	var err error
	if err = glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %s", err.Error())
	}

	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ContextVersionMajor, 2)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	r.window, err = glfw.CreateWindow(int(opts.WindowExtent.Width), int(opts.WindowExtent.Height), "prism", nil, nil)
	if err != nil {
		return fmt.Errorf("could not create opengl window: %s", err.Error())
	}
	r.window.MakeContextCurrent()
	if opts.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	if err = gl.Init(); err != nil {
		return fmt.Errorf("could not init opengl: %s", err.Error())
	}

	fbW, fbH := r.window.GetFramebufferSize()
	r.surface = newGLSurface(r.window, gpu.Extent{Width: uint32(fbW), Height: uint32(fbH)})

	// Bind event callbacks
	r.window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
	r.window.SetFramebufferSizeCallback(r.onFramebufferSizeEvent)
	r.window.SetKeyCallback(r.onKeyEvent)
	r.window.SetMouseButtonCallback(r.onMouseEvent)
	r.window.SetCursorPosCallback(r.onCursorPosEvent)
	return nil
}

func (r *interactiveGLRenderer) Close() {
	if r.orch != nil {
		r.orch.Close()
		r.orch = nil
	}
	if r.surface != nil {
		r.surface.destroy()
		r.surface = nil
	}
	if r.window != nil {
		r.window.Destroy()
		r.window = nil
	}
	glfw.Terminate()
}

func (r *interactiveGLRenderer) Stats() renderer.FrameStats {
	return r.orch.Stats()
}

func (r *interactiveGLRenderer) Render() error {
	for !r.window.ShouldClose() {
		// Nothing to present while minimized
		if ext := r.surface.Extent(); ext.Width == 0 || ext.Height == 0 {
			glfw.WaitEvents()
			continue
		}
		glfw.PollEvents()

		err := r.orch.DrawFrame()
		if errors.Is(err, renderer.ErrSwapchainOutOfDate) {
			if err = r.orch.RecreateSwapchain(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *interactiveGLRenderer) updateTitle() {
	st := r.orch.State()
	accumulate := "off"
	if st.Accumulate {
		accumulate = "on"
		if st.ForceAccumulate {
			accumulate = "forced"
		}
	}
	r.window.SetTitle(fmt.Sprintf("prism - %s - view: %s - accumulation: %s",
		filepath.Base(r.sceneFiles[r.sceneIndex]), st.View, accumulate,
	))
}

func (r *interactiveGLRenderer) onFramebufferSizeEvent(w *glfw.Window, width, height int) {
	r.surface.resize(gpu.Extent{Width: uint32(width), Height: uint32(height)})
}

func (r *interactiveGLRenderer) onKeyEvent(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action != glfw.Press && action != glfw.Repeat {
		return
	}

	st := r.orch.State()
	cam := st.Camera

	// Double speed if shift is pressed
	speed := cameraMoveSpeed
	shift := (mods & glfw.ModShift) == glfw.ModShift
	if shift {
		speed *= 2
	}

	switch key {
	case glfw.KeyEscape:
		r.window.SetShouldClose(true)
	case glfw.KeyW:
		cam.MoveFront(speed)
	case glfw.KeyS:
		cam.MoveFront(-speed)
	case glfw.KeyD:
		cam.MoveRight(speed)
	case glfw.KeyA:
		cam.MoveRight(-speed)
	case glfw.KeyE:
		cam.MoveUp(speed)
	case glfw.KeyQ:
		cam.MoveUp(-speed)
	case glfw.Key0:
		st.View = tracer.ViewOff
	case glfw.Key1:
		st.View = tracer.ViewAttenuation
	case glfw.Key2:
		st.View = tracer.ViewEmission
	case glfw.Key3:
		st.View = tracer.ViewNormal
	case glfw.Key4:
		st.View = tracer.ViewTexCoord
	case glfw.KeyF1:
		st.Accumulate = !st.Accumulate
	case glfw.KeyF2:
		st.ForceAccumulate = !st.ForceAccumulate
	case glfw.KeyEqual:
		st.Exposure *= exposureStep
	case glfw.KeyMinus:
		st.Exposure /= exposureStep
	case glfw.KeyH:
		if shift {
			st.SetBinCount(st.BinCount() / 2)
		} else {
			st.SetBinCount(st.BinCount() * 2)
		}
	case glfw.KeyTab:
		st.ShowUI = !st.ShowUI
		if st.ShowUI {
			r.surface.overlay.clear()
		}
	case glfw.KeyF12:
		st.SaveScreenshot = true
	case glfw.KeyR:
		if err := r.orch.ReloadShaders(); err != nil {
			r.logger.Errorf("could not reload shaders: %v", err)
		}
	case glfw.KeyN:
		r.nextScene()
	default:
		return
	}
	r.updateTitle()
}

func (r *interactiveGLRenderer) nextScene() {
	if len(r.sceneFiles) < 2 {
		return
	}
	r.sceneIndex = (r.sceneIndex + 1) % len(r.sceneFiles)
	if err := r.orch.LoadScene(r.sceneFiles[r.sceneIndex]); err != nil {
		r.logger.Errorf("could not load scene: %v", err)
	}
}

func (r *interactiveGLRenderer) onMouseEvent(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mod glfw.ModifierKey) {
	if button != glfw.MouseButtonLeft && button != glfw.MouseButtonRight {
		return
	}

	r.mousePressed[leftMouseButton] = false
	r.mousePressed[rightMouseButton] = false

	if action == glfw.Press {
		xPos, yPos := w.GetCursorPos()
		r.lastCursorPos[0], r.lastCursorPos[1] = float32(xPos), float32(yPos)

		buttonIndex := leftMouseButton
		if button == glfw.MouseButtonRight {
			buttonIndex = rightMouseButton
		}

		r.mousePressed[buttonIndex] = true
	}
}

func (r *interactiveGLRenderer) onCursorPosEvent(w *glfw.Window, xPos, yPos float64) {
	if !r.mousePressed[leftMouseButton] && !r.mousePressed[rightMouseButton] {
		return
	}

	newPos := types.Vec2{float32(xPos), float32(yPos)}
	delta := newPos.Sub(r.lastCursorPos)
	r.lastCursorPos = newPos

	// Either button rotates the camera around its position
	r.orch.State().Camera.OnMouseMove(delta[0], delta[1])
}

// glSurface receives swapchain images, uploads them to a texture and blits
// them into the default framebuffer. The overlay is drawn on top before
// the buffers are swapped.
type glSurface struct {
	window  *glfw.Window
	extent  gpu.Extent
	overlay *glOverlay

	texture   uint32
	texFbo    uint32
	texExtent gpu.Extent
}

func newGLSurface(window *glfw.Window, extent gpu.Extent) *glSurface {
	s := &glSurface{
		window:  window,
		extent:  extent,
		overlay: newGLOverlay(),
	}

	gl.GenTextures(1, &s.texture)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, s.texture)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)

	gl.GenFramebuffers(1, &s.texFbo)
	return s
}

func (s *glSurface) Extent() gpu.Extent {
	return s.extent
}

func (s *glSurface) resize(extent gpu.Extent) {
	s.extent = extent
}

func (s *glSurface) Present(pixels []byte, extent gpu.Extent) error {
	if len(pixels) < 4*int(extent.Width)*int(extent.Height) {
		return fmt.Errorf("renderer: short frame of %d bytes for extent %dx%d", len(pixels), extent.Width, extent.Height)
	}
	w, h := int32(extent.Width), int32(extent.Height)

	// Upload frame; the texture is reallocated when the extent changes
	gl.BindTexture(gl.TEXTURE_2D, s.texture)
	if s.texExtent != extent {
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, w, h, 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(&pixels[0]))
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, s.texFbo)
		gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, s.texture, 0)
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
		s.texExtent = extent
	} else {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, w, h, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(&pixels[0]))
	}

	// Row 0 of the frame is the top row so flip while blitting
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, s.texFbo)
	gl.BlitFramebuffer(0, 0, w, h, 0, h, w, 0, gl.COLOR_BUFFER_BIT, gl.NEAREST)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)

	s.overlay.render(extent)
	s.window.SwapBuffers()
	return nil
}

func (s *glSurface) destroy() {
	gl.DeleteFramebuffers(1, &s.texFbo)
	gl.DeleteTextures(1, &s.texture)
}

// glOverlay captures diagnostics while frames are recorded and draws them
// with immediate mode GL when the frame is presented.
type glOverlay struct {
	visible   bool
	timings   *stackedSeries
	histogram []uint32
	binCount  uint32
}

func newGLOverlay() *glOverlay {
	return &glOverlay{
		timings: makeStackedSeries(int(renderer.TimerCount), 512),
	}
}

// Draw implements renderer.Overlay. Nothing is recorded on the device; the state is
// captured for the next present.
func (ov *glOverlay) Draw(cb gpu.CommandBuffer, state *renderer.FrameState) {
	ov.visible = true
	for id, ms := range state.DeviceTimings {
		if ms < 0 {
			ms = 0
		}
		ov.timings.Append(id, float32(ms))
	}
	ov.histogram = append(ov.histogram[:0], state.Histogram...)
	ov.binCount = uint32(len(state.Histogram) / 3)
}

func (ov *glOverlay) clear() {
	ov.timings.Clear()
}

func (ov *glOverlay) render(extent gpu.Extent) {
	if !ov.visible {
		return
	}
	ov.visible = false
	if extent.Height < stackedSeriesHeight+histogramHeight+4 {
		return
	}

	// Setup ortho projection for UI bits
	gl.Disable(gl.DEPTH_TEST)
	gl.Viewport(0, 0, int32(extent.Width), int32(extent.Height))
	gl.MatrixMode(gl.PROJECTION)
	gl.LoadIdentity()
	gl.Ortho(0, float64(extent.Width), float64(extent.Height), 0, -1, 1)
	gl.MatrixMode(gl.MODELVIEW)
	gl.LoadIdentity()

	ov.timings.Render(extent.Height-stackedSeriesHeight, stackedSeriesHeight)
	ov.renderHistogram(extent.Height - stackedSeriesHeight - histogramHeight - 4)
}

func (ov *glOverlay) renderHistogram(rY uint32) {
	if ov.binCount == 0 {
		return
	}

	var maxCount uint32 = 1
	for _, count := range ov.histogram {
		if count > maxCount {
			maxCount = count
		}
	}

	step := float32(histogramWidth) / float32(ov.binCount)
	scale := float32(histogramHeight) / float32(maxCount)
	baseY := float32(rY + histogramHeight)
	gl.LineWidth(1.0)
	for ch := uint32(0); ch < 3; ch++ {
		var color types.Vec3
		color[ch] = 1
		gl.Color3fv(&color[0])
		gl.Begin(gl.LINE_STRIP)
		for bin := uint32(0); bin < ov.binCount; bin++ {
			gl.Vertex2f(float32(bin)*step, baseY-float32(ov.histogram[ch*ov.binCount+bin])*scale)
		}
		gl.End()
	}
}

type stackedSeries struct {
	series [][]float32
	colors []types.Vec3
}

func makeStackedSeries(numSeries, histCount int) *stackedSeries {
	s := &stackedSeries{
		series: make([][]float32, numSeries),
		colors: make([]types.Vec3, numSeries),
	}

	for sIndex := 0; sIndex < numSeries; sIndex++ {
		s.series[sIndex] = make([]float32, histCount)
		s.colors[sIndex] = seriesColors[sIndex%len(seriesColors)]
	}

	return s
}

// Clear series
func (s *stackedSeries) Clear() {
	histCount := len(s.series[0])
	for sIndex := 0; sIndex < len(s.series); sIndex++ {
		s.series[sIndex] = make([]float32, histCount)
	}
}

// Shift series values and append new value at the end.
func (s *stackedSeries) Append(seriesIndex int, val float32) {
	s.series[seriesIndex] = append(s.series[seriesIndex][1:], val)
}

func (s *stackedSeries) Render(rY, rHeight uint32) {
	var maxSum float32
	for x := 0; x < len(s.series[0]); x++ {
		var sum float32
		for seriesIndex := 0; seriesIndex < len(s.series); seriesIndex++ {
			sum += s.series[seriesIndex][x]
		}
		if sum > maxSum {
			maxSum = sum
		}
	}
	var scale float32 = 1.0
	if maxSum > 0.0 {
		scale = float32(rHeight) / maxSum
	}

	gl.LineWidth(1.0)
	gl.Begin(gl.LINES)
	for x := 0; x < len(s.series[0]); x++ {
		y := float32(rY + rHeight)
		for seriesIndex := 0; seriesIndex < len(s.series); seriesIndex++ {
			sH := s.series[seriesIndex][x] * scale
			gl.Color3fv(&s.colors[seriesIndex][0])
			gl.Vertex2f(float32(x), y)
			gl.Vertex2f(float32(x), y-sH)
			y -= sH
		}
	}
	gl.End()
}
