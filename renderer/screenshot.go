package renderer

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/achilleasa/prism/gpu"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Encode an RGBA8 pixel buffer to w using the format implied by the file
// extension of path. Unknown extensions are encoded as PNG.
func encodeImage(w io.Writer, path string, pixels []byte, extent gpu.Extent) error {
	img := &image.NRGBA{
		Pix:    pixels,
		Stride: 4 * int(extent.Width),
		Rect:   image.Rect(0, 0, int(extent.Width), int(extent.Height)),
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return png.Encode(w, img)
	}
}

// Write the contents of a device image to path.
func saveImage(storage gpu.Storage, handle uint32, path string) error {
	img, err := storage.Image(handle)
	if err != nil {
		return err
	}
	if img.Format() != gpu.FormatRGBA8 {
		return fmt.Errorf("renderer: screenshot of image %q requires an RGBA8 image", img.Name())
	}
	pixels, err := img.ReadPixels()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("renderer: could not create screenshot file: %w", err)
	}
	defer f.Close()

	if err = encodeImage(f, path, pixels, img.Extent()); err != nil {
		return fmt.Errorf("renderer: could not encode screenshot: %w", err)
	}
	return f.Close()
}
