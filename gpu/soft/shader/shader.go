// Package shader provides the compute kernels executed by the software
// device. Importing the package registers them.
package shader

import (
	"github.com/achilleasa/prism/gpu/soft"
	"github.com/achilleasa/prism/tracer"
)

func init() {
	soft.RegisterKernel(tracer.PathTraceProgram, pathTrace)
	soft.RegisterKernel(tracer.HistogramProgram, histogram)
}

// Invoke fn for every pixel of a workgroup that falls inside the extent.
func forEachPixel(groupX, groupY, width, height uint32, fn func(x, y uint32)) {
	x0, y0 := groupX*soft.LocalSize, groupY*soft.LocalSize
	for y := y0; y < y0+soft.LocalSize && y < height; y++ {
		for x := x0; x < x0+soft.LocalSize && x < width; x++ {
			fn(x, y)
		}
	}
}

// PCG hash based generator. Every invocation seeds its own state from the
// pixel and sample index.
type rng struct {
	state uint32
}

func newRNG(pixel, sample uint32) *rng {
	return &rng{state: pcg(pixel ^ pcg(sample+0x9e3779b9))}
}

func pcg(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

func (r *rng) uint32() uint32 {
	r.state = pcg(r.state)
	return r.state
}

// Uniform float in [0, 1).
func (r *rng) float32() float32 {
	return float32(r.uint32()>>8) / (1 << 24)
}
