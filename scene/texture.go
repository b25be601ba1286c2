package scene

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/achilleasa/prism/gpu"
)

// Textures larger than this along either axis are downscaled on load.
const MaxTextureExtent = 8192

// Decode an encoded image into RGBA8 texels.
func decodeTexture(data []byte) (*image.RGBA, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("texture: could not decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("texture: %s image has zero extent", format)
	}

	if w > MaxTextureExtent || h > MaxTextureExtent {
		scale := float64(MaxTextureExtent) / float64(maxInt(w, h))
		dst := image.NewRGBA(image.Rect(0, 0, maxInt(1, int(float64(w)*scale)), maxInt(1, int(float64(h)*scale))))
		draw.BiLinear.Scale(dst, dst.Rect, src, bounds, draw.Src, nil)
		return dst, nil
	}

	if rgba, isRGBA := src.(*image.RGBA); isRGBA && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*w {
		return rgba, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Rect, src, bounds.Min, draw.Src)
	return dst, nil
}

// Name of the image backing the texture at index.
func TextureName(index int) string {
	return fmt.Sprintf("texture_%d", index)
}

// Upload RGBA8 texels as a sampled image.
func uploadTexture(storage gpu.Storage, index uint32, img *image.RGBA) (uint32, error) {
	extent := gpu.Extent{Width: uint32(img.Rect.Dx()), Height: uint32(img.Rect.Dy())}
	handle, err := storage.AddNamedImage(TextureName(int(index)), extent, gpu.FormatRGBA8, img.Pix, gpu.ImageSampled|gpu.ImageTransferDst, gpu.Graphics, gpu.Compute, gpu.Transfer)
	if err != nil {
		return 0, fmt.Errorf("texture: could not upload %s: %w", TextureName(int(index)), err)
	}
	return handle, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
