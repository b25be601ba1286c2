package soft

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/types"
)

// View reinterprets a byte slice as a slice of fixed-size values. Trailing
// bytes that do not form a whole element are ignored.
func View[T any](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(data) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/size)
}

// ImageView gives kernels pixel level access to an image.
type ImageView struct {
	Extent gpu.Extent
	Format gpu.Format
	Pix    []byte
}

// Read a pixel as normalized RGBA.
func (v *ImageView) At(x, y uint32) types.Vec4 {
	offset := (int(y)*int(v.Extent.Width) + int(x)) * v.Format.PixelSize()
	if v.Format == gpu.FormatRGBA32F {
		var out types.Vec4
		for c := 0; c < 4; c++ {
			out[c] = math.Float32frombits(binary.LittleEndian.Uint32(v.Pix[offset+4*c:]))
		}
		return out
	}
	return types.Vec4{
		float32(v.Pix[offset]) / 255,
		float32(v.Pix[offset+1]) / 255,
		float32(v.Pix[offset+2]) / 255,
		float32(v.Pix[offset+3]) / 255,
	}
}

// Write a pixel. RGBA8 images clamp each channel to [0, 1].
func (v *ImageView) Set(x, y uint32, c types.Vec4) {
	offset := (int(y)*int(v.Extent.Width) + int(x)) * v.Format.PixelSize()
	if v.Format == gpu.FormatRGBA32F {
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(v.Pix[offset+4*i:], math.Float32bits(c[i]))
		}
		return
	}
	for i := 0; i < 4; i++ {
		v.Pix[offset+i] = toUnorm8(c[i])
	}
}

// Sample the image with nearest filtering and repeat addressing.
func (v *ImageView) Sample(uv types.Vec2) types.Vec4 {
	u := uv[0] - float32(math.Floor(float64(uv[0])))
	w := uv[1] - float32(math.Floor(float64(uv[1])))
	x := uint32(u * float32(v.Extent.Width))
	y := uint32(w * float32(v.Extent.Height))
	if x >= v.Extent.Width {
		x = v.Extent.Width - 1
	}
	if y >= v.Extent.Height {
		y = v.Extent.Height - 1
	}
	return v.At(x, y)
}

func toUnorm8(f float32) uint8 {
	if !(f > 0) {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(f*255 + 0.5)
}
