package tracer_test

import (
	"errors"
	"testing"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/gpu/soft"
	_ "github.com/achilleasa/prism/gpu/soft/shader"
	"github.com/achilleasa/prism/scene"
	"github.com/achilleasa/prism/tracer"
)

const triangleScene = `{"custom_models": [{"vertices": [
	{"pos": [0, 0, 0], "normal": [0, 0, 1]},
	{"pos": [1, 0, 0], "normal": [0, 0, 1]},
	{"pos": [0, 1, 0], "normal": [0, 0, 1]}
], "indices": [0, 1, 2]}]}`

func loadScene(t *testing.T, dev gpu.Device) *scene.Scene {
	desc, err := scene.ParseDescription([]byte(triangleScene))
	if err != nil {
		t.Fatal(err)
	}
	sc := scene.New(dev)
	if err = sc.LoadDescription(desc, nil); err != nil {
		t.Fatal(err)
	}
	if err = sc.Construct(); err != nil {
		t.Fatal(err)
	}
	return sc
}

func addUniformBuffer(t *testing.T, dev gpu.Device) {
	cam := scene.NewCamera(1)
	if _, err := dev.Storage().AddNamedBuffer(tracer.UniformBufferName, []scene.UniformBlock{cam.Data(1)}, gpu.UsageUniform, true, gpu.Compute); err != nil {
		t.Fatal(err)
	}
}

func TestPushConstants(t *testing.T) {
	specs := []struct {
		view  tracer.DebugView
		flags [4]uint32
	}{
		{tracer.ViewOff, [4]uint32{}},
		{tracer.ViewAttenuation, [4]uint32{1, 0, 0, 0}},
		{tracer.ViewEmission, [4]uint32{0, 1, 0, 0}},
		{tracer.ViewNormal, [4]uint32{0, 0, 1, 0}},
		{tracer.ViewTexCoord, [4]uint32{0, 0, 0, 1}},
	}

	for _, spec := range specs {
		pc := tracer.NewPushConstants(99, spec.view)
		got := [4]uint32{pc.AttenuationView, pc.EmissionView, pc.NormalView, pc.TexView}
		if got != spec.flags {
			t.Errorf("[%s] expected flags %v; got %v", spec.view, spec.flags, got)
		}

		data := pc.Bytes()
		if len(data) != tracer.PushConstantSize {
			t.Fatalf("[%s] expected %d bytes; got %d", spec.view, tracer.PushConstantSize, len(data))
		}
		if data[0] != 99 || data[1] != 0 {
			t.Errorf("[%s] expected little-endian sample count at offset 0; got %v", spec.view, data[:4])
		}

		decoded := tracer.DecodePushConstants(data)
		if decoded != pc || decoded.View() != spec.view {
			t.Errorf("[%s] expected decoded constants %+v; got %+v", spec.view, pc, decoded)
		}
	}
}

func TestDispatchGrid(t *testing.T) {
	specs := []struct {
		extent gpu.Extent
		x, y   uint32
	}{
		{gpu.Extent{Width: 1, Height: 1}, 1, 1},
		{gpu.Extent{Width: 32, Height: 32}, 1, 1},
		{gpu.Extent{Width: 33, Height: 64}, 2, 2},
		{gpu.Extent{Width: 1920, Height: 1080}, 60, 34},
		{gpu.Extent{Width: 5120, Height: 2880}, 160, 90},
	}

	for _, spec := range specs {
		x, y, z := tracer.DispatchGrid(spec.extent)
		if x != spec.x || y != spec.y || z != 1 {
			t.Errorf("expected grid %dx%dx1 for %dx%d; got %dx%dx%d", spec.x, spec.y, spec.extent.Width, spec.extent.Height, x, y, z)
		}
	}
}

func TestPathTracerLifecycle(t *testing.T) {
	dev := soft.New(soft.Options{})
	defer dev.Close()

	pt := tracer.NewPathTracer(dev)
	sc := loadScene(t, dev)
	addUniformBuffer(t, dev)

	if err := pt.SetScene(sc, true); !errors.Is(err, tracer.ErrNoStorage) {
		t.Fatalf("expected ErrNoStorage; got %v", err)
	}
	if err := pt.SetupStorage(gpu.Extent{}); err == nil {
		t.Fatal("expected an empty extent to be rejected")
	}
	if err := pt.SetupStorage(gpu.Extent{Width: 8, Height: 4}); err != nil {
		t.Fatal(err)
	}
	if err := pt.Construct(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < tracer.FramesInFlight; i++ {
		img, err := dev.Storage().ImageByName(tracer.ImageName(i))
		if err != nil {
			t.Fatal(err)
		}
		if img.Layout() != gpu.LayoutGeneral {
			t.Fatalf("expected image %d in the general layout; got %d", i, img.Layout())
		}
		buf, err := dev.Storage().BufferByName(tracer.AccumulationName(i))
		if err != nil {
			t.Fatal(err)
		}
		if buf.ElementCount() != 32 {
			t.Fatalf("expected accumulation buffer %d to hold 32 pixels; got %d", i, buf.ElementCount())
		}
	}

	cmds := dev.CommandContext()
	cb, _ := cmds.BeginOneTime(gpu.Compute)
	if err := pt.Compute(cb, &tracer.State{}, 0); !errors.Is(err, tracer.ErrNoScene) {
		t.Fatalf("expected ErrNoScene; got %v", err)
	}
	if err := pt.ReloadShaders(); !errors.Is(err, tracer.ErrNoScene) {
		t.Fatalf("expected ErrNoScene; got %v", err)
	}

	if err := pt.SetScene(sc, true); err != nil {
		t.Fatal(err)
	}
	if err := pt.ReloadShaders(); err != nil {
		t.Fatal(err)
	}
	if err := pt.Compute(cb, &tracer.State{}, 2); !errors.Is(err, tracer.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex; got %v", err)
	}
	if err := pt.Compute(cb, &tracer.State{SampleCount: 1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := cmds.Submit(cb, true); err != nil {
		t.Fatal(err)
	}

	// Switch to a new scene.
	sc.Destruct()
	sc = loadScene(t, dev)
	defer sc.Destruct()
	if err := pt.SetScene(sc, false); err != nil {
		t.Fatal(err)
	}
	cb, _ = cmds.BeginOneTime(gpu.Compute)
	if err := pt.Compute(cb, &tracer.State{}, 0); err != nil {
		t.Fatal(err)
	}
	if err := cmds.Submit(cb, true); err != nil {
		t.Fatal(err)
	}

	pt.Destruct()
	if _, err := dev.Storage().ImageByName(tracer.ImageName(0)); err == nil {
		t.Fatal("expected output images to be released")
	}
}

func TestHistogramRebuild(t *testing.T) {
	dev := soft.New(soft.Options{})
	defer dev.Close()

	pt := tracer.NewPathTracer(dev)
	defer pt.Destruct()
	if err := pt.SetupStorage(gpu.Extent{Width: 4, Height: 4}); err != nil {
		t.Fatal(err)
	}

	h := tracer.NewHistogram(dev)
	defer h.Destruct()
	if err := h.SetupStorage(0); !errors.Is(err, tracer.ErrInvalidBins) {
		t.Fatalf("expected ErrInvalidBins; got %v", err)
	}
	if err := h.Construct(); !errors.Is(err, tracer.ErrNoStorage) {
		t.Fatalf("expected ErrNoStorage; got %v", err)
	}

	for _, bins := range []uint32{128, 64, 256} {
		if err := h.Rebuild(bins); err != nil {
			t.Fatal(err)
		}
		buf, err := dev.Storage().BufferByName(tracer.HistogramBufferName)
		if err != nil {
			t.Fatal(err)
		}
		if buf.ElementCount() != int(3*bins) || h.BinCount() != bins {
			t.Fatalf("expected %d bin counters; got %d", 3*bins, buf.ElementCount())
		}
	}

	cmds := dev.CommandContext()
	cb, _ := cmds.BeginOneTime(gpu.Compute)
	if err := h.Compute(cb, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := cmds.Submit(cb, true); err != nil {
		t.Fatal(err)
	}
	out := make([]uint32, 3*256)
	cb, _ = cmds.BeginOneTime(gpu.Compute)
	if err := h.Compute(cb, 0, out); err != nil {
		t.Fatal(err)
	}
	if err := cmds.Submit(cb, true); err != nil {
		t.Fatal(err)
	}
	// A black image puts every pixel in the first bin of each channel.
	if out[0] != 16 || out[256] != 16 || out[512] != 16 {
		t.Fatalf("expected 16 pixels in the first bin of each channel; got %d, %d, %d", out[0], out[256], out[512])
	}
	if err := h.ReloadShaders(); err != nil {
		t.Fatal(err)
	}
}
