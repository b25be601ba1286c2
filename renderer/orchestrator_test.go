package renderer

import (
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/gpu/soft"
	_ "github.com/achilleasa/prism/gpu/soft/shader"
	"github.com/achilleasa/prism/tracer"
)

const panelScene = `{
	"custom_models": [{
		"name": "panel",
		"vertices": [
			{"pos": [-1, -1, 0], "normal": [0, 0, 1]},
			{"pos": [ 1, -1, 0], "normal": [0, 0, 1]},
			{"pos": [ 1,  1, 0], "normal": [0, 0, 1]},
			{"pos": [-1,  1, 0], "normal": [0, 0, 1]}
		],
		"indices": [0, 1, 2, 0, 2, 3],
		"material": {"base_color": [1, 1, 1, 1], "emission": [1, 1, 1, 1], "emission_strength": 1}
	}],
	"camera": {"pos": [0, 0, 3], "look_at": [0, 0, 0], "focal_length": 0.036}
}`

var testExtent = gpu.Extent{Width: 32, Height: 24}

type fixture struct {
	dev     *soft.Device
	surface *soft.HeadlessSurface
	orch    *Orchestrator
	dir     string
}

func testOptions(dir string) Options {
	opts := DefaultOptions()
	opts.RenderExtent = testExtent
	opts.BinCount = 16
	opts.HistogramUpdateRate = 1
	opts.ScreenshotPath = filepath.Join(dir, "frame.png")
	return opts
}

func writeScene(t *testing.T, dir, name string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(panelScene), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	dir := t.TempDir()
	opts := testOptions(dir)
	if mutate != nil {
		mutate(&opts)
	}

	dev := soft.New(soft.Options{})
	surface := soft.NewHeadlessSurface(gpu.Extent{Width: 16, Height: 16})
	orch, err := New(dev, surface, opts)
	if err != nil {
		dev.Close()
		t.Fatal(err)
	}
	f := &fixture{dev: dev, surface: surface, orch: orch, dir: dir}
	t.Cleanup(func() {
		f.orch.Close()
		f.dev.Close()
	})

	if err = orch.LoadScene(writeScene(t, dir, "scene.json")); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) draw(t *testing.T, frames int) {
	for i := 0; i < frames; i++ {
		if err := f.orch.DrawFrame(); err != nil {
			t.Fatalf("frame %d: %v", f.orch.State().TotalFrames, err)
		}
	}
}

func TestNewPreparesRenderTextures(t *testing.T) {
	dev := soft.New(soft.Options{})
	defer dev.Close()
	orch, err := New(dev, soft.NewHeadlessSurface(testExtent), testOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer orch.Close()

	for i := 0; i < FramesInFlight; i++ {
		img, err := dev.Storage().ImageByName(RenderTextureName(i))
		if err != nil {
			t.Fatal(err)
		}
		if img.Layout() != gpu.LayoutShaderRead {
			t.Fatalf("expected render texture %d in layout %d; got %d", i, gpu.LayoutShaderRead, img.Layout())
		}
	}
}

func TestDrawFrameWithoutScene(t *testing.T) {
	dev := soft.New(soft.Options{})
	defer dev.Close()
	orch, err := New(dev, soft.NewHeadlessSurface(testExtent), testOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer orch.Close()

	if err = orch.DrawFrame(); !errors.Is(err, ErrNoScene) {
		t.Fatalf("expected ErrNoScene; got %v", err)
	}
}

func TestInvalidRenderExtent(t *testing.T) {
	dev := soft.New(soft.Options{})
	defer dev.Close()
	opts := testOptions(t.TempDir())
	opts.RenderExtent = gpu.Extent{Width: 0, Height: 10}
	if _, err := New(dev, soft.NewHeadlessSurface(testExtent), opts); !errors.Is(err, ErrInvalidExtent) {
		t.Fatalf("expected ErrInvalidExtent; got %v", err)
	}
}

func TestSampleCounting(t *testing.T) {
	f := newFixture(t, nil)
	st := f.orch.State()

	// One sample per outer cycle
	f.draw(t, 3*FramesInFlight)
	if st.SampleCount != 3 {
		t.Fatalf("expected 3 samples after 3 outer cycles; got %d", st.SampleCount)
	}
	if st.TotalFrames != 3*FramesInFlight {
		t.Fatalf("expected %d frames; got %d", 3*FramesInFlight, st.TotalFrames)
	}
	if _, presented := f.surface.LastFrame(); presented != 3*FramesInFlight {
		t.Fatalf("expected every frame to be presented; got %d presents", presented)
	}

	// A camera change restarts accumulation at the next outer cycle
	st.Camera.MoveFront(0.5)
	f.draw(t, 1)
	if st.SampleCount != 1 {
		t.Fatalf("expected sample count to restart after camera change; got %d", st.SampleCount)
	}
	f.draw(t, 1)
	if st.SampleCount != 1 {
		t.Fatalf("expected the second slot to leave the sample count untouched; got %d", st.SampleCount)
	}

	// Force accumulate keeps counting through camera changes
	st.ForceAccumulate = true
	st.Camera.MoveFront(0.5)
	f.draw(t, FramesInFlight)
	if st.SampleCount != 2 {
		t.Fatalf("expected forced accumulation to keep counting; got %d", st.SampleCount)
	}

	// Without accumulation every outer cycle starts over
	st.Accumulate = false
	f.draw(t, 2*FramesInFlight)
	if st.SampleCount != 1 {
		t.Fatalf("expected sample count 1 with accumulation disabled; got %d", st.SampleCount)
	}
}

func TestExposureChangeRestartsAccumulation(t *testing.T) {
	f := newFixture(t, nil)
	st := f.orch.State()

	f.draw(t, 2*FramesInFlight)
	st.Exposure *= 2
	f.draw(t, FramesInFlight)
	if st.SampleCount != 1 {
		t.Fatalf("expected an exposure change to restart accumulation; got %d samples", st.SampleCount)
	}
}

func TestDebugViewDoesNotAccumulate(t *testing.T) {
	f := newFixture(t, nil)
	st := f.orch.State()
	st.View = tracer.ViewNormal

	for cycle := 0; cycle < 3; cycle++ {
		f.draw(t, FramesInFlight)
		if st.SampleCount != 1 {
			t.Fatalf("cycle %d: expected sample count 1 in a debug view; got %d", cycle, st.SampleCount)
		}
	}
}

func TestShouldResetSamples(t *testing.T) {
	specs := []struct {
		accumulate, force, changed bool
		exp                        bool
	}{
		{true, false, false, false},
		{true, false, true, true},
		{true, true, true, false},
		{true, true, false, false},
		{false, false, false, true},
		{false, true, true, true},
		{false, true, false, true},
	}

	for index, spec := range specs {
		st := &FrameState{Accumulate: spec.accumulate, ForceAccumulate: spec.force}
		if got := st.shouldResetSamples(spec.changed); got != spec.exp {
			t.Errorf("[spec %d] expected reset to be %t; got %t", index, spec.exp, got)
		}
	}
}

func TestReadOnlyImageAlternation(t *testing.T) {
	st := &FrameState{}
	var prev uint32
	for frame := uint64(0); frame < 8*FramesInFlight; frame++ {
		st.TotalFrames = frame
		got := st.ReadOnlyImage()
		exp := uint32((frame / FramesInFlight) % 2)
		if got != exp {
			t.Fatalf("frame %d: expected read-only image %d; got %d", frame, exp, got)
		}
		if frame > 0 && frame%FramesInFlight == 0 && got == prev {
			t.Fatalf("frame %d: expected read-only image to flip at the start of an outer cycle", frame)
		}
		prev = got
	}
}

func TestPingPongOutput(t *testing.T) {
	f := newFixture(t, nil)
	storage := f.dev.Storage()

	// The first cycle writes image 1 and leaves image 0 untouched
	f.draw(t, FramesInFlight)
	if err := f.dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	img0, err := storage.ImageByName(tracer.ImageName(0))
	if err != nil {
		t.Fatal(err)
	}
	img1, err := storage.ImageByName(tracer.ImageName(1))
	if err != nil {
		t.Fatal(err)
	}
	center := 4 * (int(testExtent.Height/2)*int(testExtent.Width) + int(testExtent.Width/2))

	pix0, _ := img0.ReadPixels()
	pix1, _ := img1.ReadPixels()
	if pix0[center] != 0 {
		t.Fatalf("expected image 0 to be untouched by the first cycle; got %d", pix0[center])
	}
	if pix1[center] == 0 {
		t.Fatal("expected image 1 to hold the first sample")
	}

	// The second cycle reads image 1 and writes image 0
	f.draw(t, FramesInFlight)
	if err = f.dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	pix0, _ = img0.ReadPixels()
	if pix0[center] == 0 {
		t.Fatal("expected image 0 to hold the second sample")
	}

	// The presented frame shows the panel
	last, _ := f.surface.LastFrame()
	ext := f.surface.Extent()
	mid := 4 * (int(ext.Height/2)*int(ext.Width) + int(ext.Width/2))
	if last[mid] == 0 {
		t.Fatal("expected the composited frame to show the panel")
	}
}

func TestSwapchainRecreation(t *testing.T) {
	f := newFixture(t, nil)
	f.draw(t, 1)

	resized := gpu.Extent{Width: 20, Height: 10}
	f.surface.Resize(resized)
	frames := f.orch.State().TotalFrames
	if err := f.orch.DrawFrame(); !errors.Is(err, ErrSwapchainOutOfDate) {
		t.Fatalf("expected ErrSwapchainOutOfDate; got %v", err)
	}
	if got := f.orch.State().TotalFrames; got != frames {
		t.Fatalf("expected a skipped frame to leave the frame count at %d; got %d", frames, got)
	}

	if err := f.orch.RecreateSwapchain(); err != nil {
		t.Fatal(err)
	}
	if got := f.orch.State().WindowExtent; got != resized {
		t.Fatalf("expected window extent %v; got %v", resized, got)
	}
	f.draw(t, 2*FramesInFlight)

	last, _ := f.surface.LastFrame()
	if exp := 4 * int(resized.Width*resized.Height); len(last) != exp {
		t.Fatalf("expected a presented frame of %d bytes; got %d", exp, len(last))
	}
}

func TestHistogramCadence(t *testing.T) {
	f := newFixture(t, nil)
	st := f.orch.State()
	pixels := testExtent.Width * testExtent.Height

	// The bins of the first pass are copied back by the second one
	f.draw(t, 2*FramesInFlight)
	if len(st.Histogram) != 3*16 {
		t.Fatalf("expected %d bins; got %d", 3*16, len(st.Histogram))
	}
	for ch := 0; ch < 3; ch++ {
		var sum uint32
		for _, count := range st.Histogram[ch*16 : (ch+1)*16] {
			sum += count
		}
		if sum != pixels {
			t.Fatalf("channel %d: expected %d binned pixels; got %d", ch, pixels, sum)
		}
	}

	// A new bin count rebuilds the histogram before its next pass
	st.SetBinCount(8)
	f.draw(t, 2*FramesInFlight)
	if len(st.Histogram) != 3*8 {
		t.Fatalf("expected %d bins after rebuild; got %d", 3*8, len(st.Histogram))
	}
	var sum uint32
	for _, count := range st.Histogram[:8] {
		sum += count
	}
	if sum != pixels {
		t.Fatalf("expected %d binned pixels after rebuild; got %d", pixels, sum)
	}
}

func TestHistogramDisabled(t *testing.T) {
	f := newFixture(t, func(opts *Options) { opts.HistogramUpdateRate = 0 })
	f.draw(t, 3*FramesInFlight)
	for i, count := range f.orch.State().Histogram {
		if count != 0 {
			t.Fatalf("expected no histogram passes; bin %d holds %d", i, count)
		}
	}
}

func TestDeviceTimings(t *testing.T) {
	f := newFixture(t, nil)
	f.draw(t, 3*FramesInFlight)

	st := f.orch.State()
	if st.DeviceTimings[RenderingAllTimer] < 0 {
		t.Fatalf("expected a rendering timing; got %f", st.DeviceTimings[RenderingAllTimer])
	}

	stats := f.orch.Stats()
	for _, id := range []TimerID{RenderingAllTimer, PathTraceTimer, HistogramTimer} {
		if stats.Timings[id] < 0 {
			t.Fatalf("expected an average for the %s timer; got %f", id, stats.Timings[id])
		}
	}
	if stats.TotalFrames != 3*FramesInFlight || stats.SampleCount != 3 {
		t.Fatalf("expected 3 samples over %d frames; got %d over %d", 3*FramesInFlight, stats.SampleCount, stats.TotalFrames)
	}
}

func TestScreenshot(t *testing.T) {
	f := newFixture(t, nil)
	st := f.orch.State()

	f.draw(t, FramesInFlight)
	st.SaveScreenshot = true
	f.draw(t, 1)
	if st.SaveScreenshot {
		t.Fatal("expected the screenshot request to be cleared")
	}

	file, err := os.Open(st.ScreenshotPath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != int(testExtent.Width) || b.Dy() != int(testExtent.Height) {
		t.Fatalf("expected a %dx%d screenshot; got %dx%d", testExtent.Width, testExtent.Height, b.Dx(), b.Dy())
	}
	r, _, _, a := img.At(int(testExtent.Width/2), int(testExtent.Height/2)).RGBA()
	if r == 0 || a != 0xffff {
		t.Fatalf("expected the screenshot to show the panel; got r=%d a=%d", r, a)
	}
}

func TestRenderSamples(t *testing.T) {
	f := newFixture(t, nil)

	var calls []uint32
	if err := f.orch.RenderSamples(4, func(done, total uint32) {
		if total != 4 {
			t.Errorf("expected total 4; got %d", total)
		}
		calls = append(calls, done)
	}); err != nil {
		t.Fatal(err)
	}

	if len(calls) != 4 || calls[3] != 4 {
		t.Fatalf("expected progress for 4 cycles; got %v", calls)
	}
	if _, err := os.Stat(f.orch.State().ScreenshotPath); err != nil {
		t.Fatalf("expected the final frame to be saved: %v", err)
	}
}

func TestSceneSwitching(t *testing.T) {
	f := newFixture(t, nil)
	st := f.orch.State()
	f.draw(t, 2*FramesInFlight)

	if err := f.orch.LoadScene(writeScene(t, f.dir, "other.json")); err != nil {
		t.Fatal(err)
	}
	if st.SampleCount != 0 {
		t.Fatalf("expected a scene switch to reset the sample count; got %d", st.SampleCount)
	}
	f.draw(t, FramesInFlight)

	// A failed load leaves no scene to draw
	if err := f.orch.LoadScene(filepath.Join(f.dir, "missing.json")); err == nil {
		t.Fatal("expected loading a missing scene to fail")
	}
	if err := f.orch.DrawFrame(); !errors.Is(err, ErrNoScene) {
		t.Fatalf("expected ErrNoScene after a failed load; got %v", err)
	}

	if err := f.orch.LoadScene(writeScene(t, f.dir, "again.json")); err != nil {
		t.Fatal(err)
	}
	f.draw(t, FramesInFlight)
}

func TestReloadShaders(t *testing.T) {
	f := newFixture(t, nil)
	f.draw(t, FramesInFlight)
	if err := f.orch.ReloadShaders(); err != nil {
		t.Fatal(err)
	}
	f.draw(t, FramesInFlight)
	if got := f.orch.State().SampleCount; got != 2 {
		t.Fatalf("expected reloading shaders to keep accumulating; got %d samples", got)
	}
}

func TestOverlayDraw(t *testing.T) {
	f := newFixture(t, func(opts *Options) { opts.ShowUI = true })
	ov := &countingOverlay{}
	f.orch.SetOverlay(ov)

	f.draw(t, FramesInFlight)
	f.orch.State().ShowUI = false
	f.draw(t, FramesInFlight)
	if ov.calls != FramesInFlight {
		t.Fatalf("expected the overlay to be drawn %d times; got %d", FramesInFlight, ov.calls)
	}
}

type countingOverlay struct {
	calls int
}

func (ov *countingOverlay) Draw(cb gpu.CommandBuffer, state *FrameState) {
	ov.calls++
}
