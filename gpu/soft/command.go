package soft

import (
	"fmt"
	"time"

	"github.com/achilleasa/prism/gpu"
)

// A recorded command. Commands run on the worker of the queue the command
// buffer was submitted to.
type command func(ex *execState) error

// Per-submission execution state.
type execState struct {
	dev     *Device
	program *program
	set     *bindingSet
	push    []byte
	target  *image
}

type commandBuffer struct {
	dev       *Device
	queue     gpu.QueueClass
	recording bool
	cmds      []command
	err       error
}

func (cb *commandBuffer) Queue() gpu.QueueClass {
	return cb.queue
}

func (cb *commandBuffer) Begin() error {
	cb.cmds = cb.cmds[:0]
	cb.err = nil
	cb.recording = true
	return nil
}

func (cb *commandBuffer) End() error {
	if !cb.recording {
		return gpu.ErrNotRecording
	}
	cb.recording = false
	return cb.err
}

func (cb *commandBuffer) record(cmd command) {
	if !cb.recording {
		cb.fail(gpu.ErrNotRecording)
		return
	}
	cb.cmds = append(cb.cmds, cmd)
}

// Keep the first recording error.
func (cb *commandBuffer) fail(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

func (cb *commandBuffer) BuildAccelerationStructure(info gpu.BuildInfo) {
	info.Triangles = append([]gpu.TriangleGeometry(nil), info.Triangles...)
	cb.record(func(ex *execState) error {
		return ex.dev.buildAccelerationStructure(&info)
	})
}

func (cb *commandBuffer) BindProgram(p gpu.Program) {
	prog, ok := p.(*program)
	if !ok {
		cb.fail(fmt.Errorf("soft device: foreign program %T", p))
		return
	}
	cb.record(func(ex *execState) error {
		if prog.destroyed {
			return fmt.Errorf("soft device: program %q used after destroy", prog.name)
		}
		ex.program = prog
		return nil
	})
}

func (cb *commandBuffer) BindSet(s gpu.BindingSet) {
	set, ok := s.(*bindingSet)
	if !ok {
		cb.fail(fmt.Errorf("soft device: foreign binding set %T", s))
		return
	}
	cb.record(func(ex *execState) error {
		if set.destroyed {
			return fmt.Errorf("soft device: binding set used after destroy")
		}
		ex.set = set
		return nil
	})
}

func (cb *commandBuffer) PushConstants(data []byte) {
	push := append([]byte(nil), data...)
	cb.record(func(ex *execState) error {
		ex.push = push
		return nil
	})
}

func (cb *commandBuffer) Dispatch(x, y, z uint32) {
	cb.record(func(ex *execState) error {
		return ex.dev.dispatch(ex, [3]uint32{x, y, z})
	})
}

func (cb *commandBuffer) ImageBarrier(handle uint32, from, to gpu.ImageLayout) {
	cb.record(func(ex *execState) error {
		img, err := ex.dev.storage.image(handle)
		if err != nil {
			return err
		}
		if from != gpu.LayoutUndefined && img.layout != from {
			return fmt.Errorf("soft device: image %q barrier expects layout %d; image is in layout %d", img.name, from, img.layout)
		}
		img.layout = to
		return nil
	})
}

func (cb *commandBuffer) CopyImage(src, dst uint32, extent gpu.Extent) {
	cb.record(func(ex *execState) error {
		srcImg, err := ex.dev.storage.image(src)
		if err != nil {
			return err
		}
		dstImg, err := ex.dev.storage.image(dst)
		if err != nil {
			return err
		}
		if srcImg.layout != gpu.LayoutTransferSrc || dstImg.layout != gpu.LayoutTransferDst {
			return fmt.Errorf("soft device: copy from %q to %q requires transfer layouts", srcImg.name, dstImg.name)
		}
		if srcImg.view.Format != dstImg.view.Format {
			return fmt.Errorf("soft device: copy from %q to %q with mismatched formats", srcImg.name, dstImg.name)
		}

		pixSize := srcImg.view.Format.PixelSize()
		w := minUint32(extent.Width, minUint32(srcImg.view.Extent.Width, dstImg.view.Extent.Width))
		h := minUint32(extent.Height, minUint32(srcImg.view.Extent.Height, dstImg.view.Extent.Height))
		rowBytes := int(w) * pixSize
		for y := 0; y < int(h); y++ {
			srcOff := y * int(srcImg.view.Extent.Width) * pixSize
			dstOff := y * int(dstImg.view.Extent.Width) * pixSize
			copy(dstImg.view.Pix[dstOff:dstOff+rowBytes], srcImg.view.Pix[srcOff:srcOff+rowBytes])
		}
		return nil
	})
}

func (cb *commandBuffer) ResetQueries(pool gpu.QueryPool, first, count uint32) {
	qp, ok := pool.(*queryPool)
	if !ok {
		cb.fail(fmt.Errorf("soft device: foreign query pool %T", pool))
		return
	}
	cb.record(func(ex *execState) error {
		qp.reset(first, count)
		return nil
	})
}

func (cb *commandBuffer) WriteTimestamp(pool gpu.QueryPool, index uint32) {
	qp, ok := pool.(*queryPool)
	if !ok {
		cb.fail(fmt.Errorf("soft device: foreign query pool %T", pool))
		return
	}
	cb.record(func(ex *execState) error {
		return qp.write(index, uint64(time.Since(ex.dev.epoch).Nanoseconds()))
	})
}

func (cb *commandBuffer) BeginRenderPass(target uint32) {
	cb.record(func(ex *execState) error {
		img, err := ex.dev.storage.image(target)
		if err != nil {
			return err
		}
		for i := range img.view.Pix {
			img.view.Pix[i] = 0
		}
		ex.target = img
		return nil
	})
}

// Nearest-neighbour blit of the texture over the whole render target.
func (cb *commandBuffer) DrawFullscreen(texture uint32) {
	cb.record(func(ex *execState) error {
		if ex.target == nil {
			return fmt.Errorf("soft device: draw outside of a render pass")
		}
		tex, err := ex.dev.storage.image(texture)
		if err != nil {
			return err
		}
		if tex.layout != gpu.LayoutShaderRead {
			return fmt.Errorf("soft device: sampled image %q is not in shader read layout", tex.name)
		}

		dst := &ex.target.view
		src := &tex.view
		for y := uint32(0); y < dst.Extent.Height; y++ {
			sy := y * src.Extent.Height / dst.Extent.Height
			for x := uint32(0); x < dst.Extent.Width; x++ {
				sx := x * src.Extent.Width / dst.Extent.Width
				dst.Set(x, y, src.At(sx, sy))
			}
		}
		return nil
	})
}

func (cb *commandBuffer) EndRenderPass() {
	cb.record(func(ex *execState) error {
		if ex.target == nil {
			return fmt.Errorf("soft device: end of render pass without begin")
		}
		ex.target = nil
		return nil
	})
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

type commandContext struct {
	dev *Device
}

func (c commandContext) BeginOneTime(queue gpu.QueueClass) (gpu.CommandBuffer, error) {
	cb := c.dev.NewCommandBuffer(queue)
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	return cb, nil
}

func (c commandContext) Submit(cb gpu.CommandBuffer, waitIdle bool) error {
	if err := cb.End(); err != nil {
		return err
	}

	var f *fence
	if waitIdle {
		f = newFence(false, c.dev.opts.FenceTimeout)
	}
	info := gpu.SubmitInfo{Buffers: []gpu.CommandBuffer{cb}}
	if f == nil {
		return c.dev.Submit(cb.Queue(), info, nil)
	}
	if err := c.dev.Submit(cb.Queue(), info, f); err != nil {
		return err
	}
	return f.Wait()
}
