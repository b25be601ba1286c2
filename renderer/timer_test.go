package renderer

import (
	"bytes"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/gpu/soft"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

type queryReset struct {
	first, count uint32
}

// Records query resets; every other command is unused by the timer.
type resetRecorder struct {
	gpu.CommandBuffer
	resets []queryReset
}

func (r *resetRecorder) ResetQueries(pool gpu.QueryPool, first, count uint32) {
	r.resets = append(r.resets, queryReset{first, count})
}

func TestDeviceTimerResetRanges(t *testing.T) {
	specs := []struct {
		ids []TimerID
		exp []queryReset
	}{
		{nil, nil},
		{[]TimerID{RenderingAllTimer}, []queryReset{{0, 2}}},
		{[]TimerID{HistogramTimer, PathTraceTimer}, []queryReset{{2, 4}}},
		{[]TimerID{HistogramTimer, RenderingAllTimer, PathTraceTimer}, []queryReset{{0, 6}}},
		{[]TimerID{RenderingAllTimer, HistogramTimer}, []queryReset{{0, 2}, {4, 2}}},
		{[]TimerID{PathTraceTimer, PathTraceTimer}, []queryReset{{2, 2}}},
	}

	dev := soft.New(soft.Options{})
	defer dev.Close()
	timer := NewDeviceTimer(dev)
	defer timer.Destroy()

	for index, spec := range specs {
		rec := &resetRecorder{}
		timer.Reset(rec, spec.ids...)
		if len(rec.resets) != len(spec.exp) {
			t.Errorf("[spec %d] expected resets %v; got %v", index, spec.exp, rec.resets)
			continue
		}
		for i := range spec.exp {
			if rec.resets[i] != spec.exp[i] {
				t.Errorf("[spec %d] expected resets %v; got %v", index, spec.exp, rec.resets)
				break
			}
		}
	}
}

func TestDeviceTimerResults(t *testing.T) {
	dev := soft.New(soft.Options{})
	defer dev.Close()
	timer := NewDeviceTimer(dev)
	defer timer.Destroy()

	for id := TimerID(0); id < TimerCount; id++ {
		if got := timer.Result(id); got != -1 {
			t.Fatalf("expected unwritten timer %s to report -1; got %f", id, got)
		}
	}

	cmds := dev.CommandContext()
	cb, err := cmds.BeginOneTime(gpu.Graphics)
	if err != nil {
		t.Fatal(err)
	}
	timer.Reset(cb, PathTraceTimer)
	timer.Start(cb, PathTraceTimer)
	timer.Stop(cb, PathTraceTimer)
	timer.Start(cb, HistogramTimer)
	if err = cmds.Submit(cb, true); err != nil {
		t.Fatal(err)
	}

	results := timer.Results()
	if results[PathTraceTimer] < 0 {
		t.Fatalf("expected a path trace timing; got %f", results[PathTraceTimer])
	}
	if results[HistogramTimer] != -1 {
		t.Fatalf("expected a timer without a stop timestamp to report -1; got %f", results[HistogramTimer])
	}
	if results[RenderingAllTimer] != -1 {
		t.Fatalf("expected an unwritten timer to report -1; got %f", results[RenderingAllTimer])
	}
}

func TestTimingAverages(t *testing.T) {
	var avg TimingAverages
	if got := avg.Average(PathTraceTimer); got != -1 {
		t.Fatalf("expected -1 before any update; got %f", got)
	}

	avg.Update([TimerCount]float64{10, -1, 4})
	avg.Update([TimerCount]float64{20, -1, -1})
	avg.Update([TimerCount]float64{-1, 8, -1})

	specs := []struct {
		id  TimerID
		exp float64
	}{
		{RenderingAllTimer, 0.1*20 + 0.9*10},
		{PathTraceTimer, 8},
		{HistogramTimer, 4},
	}
	for _, spec := range specs {
		if got := avg.Average(spec.id); math.Abs(got-spec.exp) > 1e-9 {
			t.Errorf("[%s] expected average %f; got %f", spec.id, spec.exp, got)
		}
	}
}

func TestFrameStatsTable(t *testing.T) {
	stats := FrameStats{SampleCount: 3, TotalFrames: 6}
	stats.Timings = [TimerCount]float64{1.5, -1, 0.25}

	table := stats.Table()
	for _, exp := range []string{"rendering all", "1.500 ms", "n/a", "0.250 ms", "3 samples / 6 frames"} {
		if !strings.Contains(table, exp) {
			t.Errorf("expected table to contain %q; got\n%s", exp, table)
		}
	}
}

func TestEncodeImage(t *testing.T) {
	extent := gpu.Extent{Width: 3, Height: 2}
	pixels := make([]byte, 4*extent.Width*extent.Height)
	for i := range pixels {
		pixels[i] = 255
	}
	pixels[0] = 10

	specs := []struct {
		path   string
		decode func(*bytes.Buffer) (int, int, uint32, error)
	}{
		{"out.png", func(buf *bytes.Buffer) (int, int, uint32, error) {
			img, err := png.Decode(buf)
			if err != nil {
				return 0, 0, 0, err
			}
			r, _, _, _ := img.At(0, 0).RGBA()
			return img.Bounds().Dx(), img.Bounds().Dy(), r >> 8, nil
		}},
		{"out.BMP", func(buf *bytes.Buffer) (int, int, uint32, error) {
			img, err := bmp.Decode(buf)
			if err != nil {
				return 0, 0, 0, err
			}
			r, _, _, _ := img.At(0, 0).RGBA()
			return img.Bounds().Dx(), img.Bounds().Dy(), r >> 8, nil
		}},
		{"out.tiff", func(buf *bytes.Buffer) (int, int, uint32, error) {
			img, err := tiff.Decode(buf)
			if err != nil {
				return 0, 0, 0, err
			}
			r, _, _, _ := img.At(0, 0).RGBA()
			return img.Bounds().Dx(), img.Bounds().Dy(), r >> 8, nil
		}},
	}

	for _, spec := range specs {
		var buf bytes.Buffer
		if err := encodeImage(&buf, spec.path, pixels, extent); err != nil {
			t.Fatalf("[%s] %v", spec.path, err)
		}
		w, h, r, err := spec.decode(&buf)
		if err != nil {
			t.Fatalf("[%s] %v", spec.path, err)
		}
		if w != 3 || h != 2 || r != 10 {
			t.Errorf("[%s] expected a 3x2 image with red 10 at the origin; got %dx%d with red %d", spec.path, w, h, r)
		}
	}
}
