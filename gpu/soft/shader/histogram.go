package shader

import (
	"sync/atomic"

	"github.com/achilleasa/prism/gpu/soft"
	"github.com/achilleasa/prism/tracer"
)

func histogram(ctx *soft.KernelContext, groupX, groupY, _ uint32) {
	img := ctx.Image(tracer.HistogramImageBinding)
	bins := soft.View[uint32](ctx.Buffer(tracer.HistogramBinsBinding))
	if img == nil || len(ctx.Specialization) == 0 {
		return
	}
	binCount := ctx.Specialization[0]
	if binCount == 0 || len(bins) < int(3*binCount) {
		return
	}

	forEachPixel(groupX, groupY, img.Extent.Width, img.Extent.Height, func(x, y uint32) {
		c := img.At(x, y)
		for ch := uint32(0); ch < 3; ch++ {
			bin := uint32(c[ch] * float32(binCount))
			if bin >= binCount {
				bin = binCount - 1
			}
			atomic.AddUint32(&bins[ch*binCount+bin], 1)
		}
	})
}
