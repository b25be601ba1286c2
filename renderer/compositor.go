package renderer

import (
	"fmt"

	"github.com/achilleasa/prism/gpu"
)

// Name of the render texture used by frame slot i.
func RenderTextureName(i int) string {
	return fmt.Sprintf("render_texture_%d", i)
}

// The compositor copies the resolved path tracer image into a per-slot
// render texture and draws it over the swapchain image with a full-screen
// triangle.
type compositor struct {
	dev      gpu.Device
	extent   gpu.Extent
	textures [FramesInFlight]uint32
}

func newCompositor(dev gpu.Device) *compositor {
	return &compositor{dev: dev}
}

func (c *compositor) setupStorage(extent gpu.Extent) error {
	c.destruct()
	storage := c.dev.Storage()
	for i := range c.textures {
		handle, err := storage.AddNamedImage(RenderTextureName(i), extent, gpu.FormatRGBA8, nil,
			gpu.ImageSampled|gpu.ImageTransferDst|gpu.ImageTransferSrc,
			gpu.Graphics,
		)
		if err != nil {
			c.destruct()
			return fmt.Errorf("renderer: %w", err)
		}
		c.textures[i] = handle
	}
	c.extent = extent
	return nil
}

// Move the render textures into the layout expected by render.
func (c *compositor) construct() error {
	cmds := c.dev.CommandContext()
	cb, err := cmds.BeginOneTime(gpu.Graphics)
	if err != nil {
		return err
	}
	for _, tex := range c.textures {
		cb.ImageBarrier(tex, gpu.LayoutUndefined, gpu.LayoutShaderRead)
	}
	return cmds.Submit(cb, true)
}

// Record the copy of src into the render texture of slot and begin a
// render pass on target with the texture drawn over it. The caller ends
// the render pass after drawing any overlay.
func (c *compositor) render(cb gpu.CommandBuffer, slot uint32, src, target uint32) {
	tex := c.textures[slot%FramesInFlight]

	cb.ImageBarrier(tex, gpu.LayoutShaderRead, gpu.LayoutTransferDst)
	cb.ImageBarrier(src, gpu.LayoutGeneral, gpu.LayoutTransferSrc)
	cb.CopyImage(src, tex, c.extent)
	cb.ImageBarrier(src, gpu.LayoutTransferSrc, gpu.LayoutGeneral)
	cb.ImageBarrier(tex, gpu.LayoutTransferDst, gpu.LayoutShaderRead)

	cb.BeginRenderPass(target)
	cb.DrawFullscreen(tex)
}

func (c *compositor) destruct() {
	storage := c.dev.Storage()
	for i, tex := range c.textures {
		if tex != 0 {
			storage.DestroyImage(tex)
			c.textures[i] = 0
		}
	}
}
