package soft

import (
	"errors"
	"testing"

	"github.com/achilleasa/prism/gpu"
)

func TestStorageHandles(t *testing.T) {
	s := newStorage()

	h1, err := s.AddNamedBuffer("vertices", []float32{1, 2, 3, 4}, gpu.UsageStorage, false)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.AddBuffer(64, gpu.UsageStorage, true)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == 0 || h2 == 0 || h1 == h2 {
		t.Fatalf("expected distinct non-zero handles; got %d and %d", h1, h2)
	}

	buf, err := s.BufferByName("vertices")
	if err != nil {
		t.Fatal(err)
	}
	if buf.ElementCount() != 4 || buf.Size() != 16 {
		t.Fatalf("expected 4 elements in 16 bytes; got %d elements in %d bytes", buf.ElementCount(), buf.Size())
	}

	var out [4]float32
	if err = buf.ReadData(out[:]); err != nil {
		t.Fatal(err)
	}
	if out != [4]float32{1, 2, 3, 4} {
		t.Fatalf("expected to read back the uploaded data; got %v", out)
	}

	s.DestroyBuffer(h1)
	if _, err = s.Buffer(h1); !errors.Is(err, gpu.ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle for destroyed buffer; got %v", err)
	}
	if _, err = s.BufferByName("vertices"); !errors.Is(err, gpu.ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName for destroyed buffer; got %v", err)
	}

	// Freed slots are reused
	h3, err := s.AddNamedBuffer("vertices", 32, gpu.UsageStorage, false)
	if err != nil {
		t.Fatal(err)
	}
	if h3 != h1 {
		t.Fatalf("expected freed handle %d to be reused; got %d", h1, h3)
	}
}

func TestStorageUpdateData(t *testing.T) {
	s := newStorage()
	h, _ := s.AddBuffer(8, gpu.UsageUniform, true)
	buf, _ := s.Buffer(h)

	if err := buf.UpdateData([]uint32{7, 9}); err != nil {
		t.Fatal(err)
	}
	if buf.ElementCount() != 2 {
		t.Fatalf("expected element count to follow the update; got %d", buf.ElementCount())
	}
	if err := buf.UpdateData([]uint32{1, 2, 3}); err == nil {
		t.Fatal("expected an error when updating with data larger than the buffer")
	}
}

func TestSizedBufferElementCount(t *testing.T) {
	s := newStorage()

	// Placeholder allocations hold no elements
	h1, err := s.AddNamedBuffer("padded", 4, gpu.UsageStorage, false)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.AddBuffer(16, gpu.UsageStorage, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range []uint32{h1, h2} {
		buf, _ := s.Buffer(h)
		if buf.ElementCount() != 0 || buf.Size() == 0 {
			t.Fatalf("expected an empty buffer with backing storage; got %d elements in %d bytes", buf.ElementCount(), buf.Size())
		}
	}

	buf, _ := s.Buffer(h2)
	if err = buf.UpdateData([]uint32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if buf.ElementCount() != 2 || buf.Size() != 16 {
		t.Fatalf("expected 2 elements in 16 bytes; got %d elements in %d bytes", buf.ElementCount(), buf.Size())
	}
}

func TestStorageAddressResolution(t *testing.T) {
	s := newStorage()
	h1, _ := s.AddBuffer(100, gpu.UsageDeviceAddress, false)
	h2, _ := s.AddBuffer(300, gpu.UsageDeviceAddress, false)
	b1, _ := s.Buffer(h1)
	b2, _ := s.Buffer(h2)

	if b1.DeviceAddress()%addressAlignment != 0 || b2.DeviceAddress()%addressAlignment != 0 {
		t.Fatalf("expected aligned device addresses; got 0x%x and 0x%x", b1.DeviceAddress(), b2.DeviceAddress())
	}
	if b2.DeviceAddress() < b1.DeviceAddress()+100 {
		t.Fatalf("expected non-overlapping address ranges")
	}

	buf, offset, err := s.resolve(b2.DeviceAddress() + 40)
	if err != nil {
		t.Fatal(err)
	}
	if buf.DeviceAddress() != b2.DeviceAddress() || offset != 40 {
		t.Fatalf("expected to resolve buffer 2 at offset 40; got buffer at 0x%x offset %d", buf.DeviceAddress(), offset)
	}

	if _, err = s.resolveRange(b1.DeviceAddress()+90, 20); err == nil {
		t.Fatal("expected an error for a range exceeding the buffer")
	}
	if _, _, err = s.resolve(b1.DeviceAddress() + 150); err == nil {
		t.Fatal("expected an error for an address in the alignment gap")
	}

	s.DestroyBuffer(h2)
	if _, _, err = s.resolve(b2.DeviceAddress()); err == nil {
		t.Fatal("expected an error resolving the address of a destroyed buffer")
	}
}

func TestStorageImages(t *testing.T) {
	s := newStorage()
	extent := gpu.Extent{Width: 2, Height: 2}

	if _, err := s.AddImage(extent, gpu.FormatRGBA8, make([]byte, 3), gpu.ImageSampled); err == nil {
		t.Fatal("expected an error for mismatched pixel data")
	}

	h, err := s.AddNamedImage("texture_0", extent, gpu.FormatRGBA32F, nil, gpu.ImageStorage)
	if err != nil {
		t.Fatal(err)
	}
	img, err := s.ImageByName("texture_0")
	if err != nil {
		t.Fatal(err)
	}
	if img.Extent() != extent || img.Format() != gpu.FormatRGBA32F {
		t.Fatalf("unexpected image properties %v %v", img.Extent(), img.Format())
	}
	if _, err = s.AddNamedImage("texture_0", extent, gpu.FormatRGBA8, nil, gpu.ImageStorage); err == nil {
		t.Fatal("expected an error for a duplicate image name")
	}

	s.DestroyImage(h)
	if _, err = s.Image(h); !errors.Is(err, gpu.ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle; got %v", err)
	}
}
