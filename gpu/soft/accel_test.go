package soft

import (
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/prism/bvh"
	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/types"
)

type testVertex struct {
	Pos    types.Vec3
	Normal types.Vec3
}

// Build a unit quad in the z=0 plane and return a top-level structure with
// one instance per transform.
func buildQuadScene(t *testing.T, dev *Device, transforms ...types.Affine) gpu.AccelHandle {
	st := dev.Storage()
	vertices := []testVertex{
		{Pos: types.XYZ(-1, -1, 0)},
		{Pos: types.XYZ(1, -1, 0)},
		{Pos: types.XYZ(1, 1, 0)},
		{Pos: types.XYZ(-1, 1, 0)},
	}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	vh, _ := st.AddNamedBuffer("test_vertices", vertices, gpu.UsageDeviceAddress, false)
	ih, _ := st.AddNamedBuffer("test_indices", indices, gpu.UsageDeviceAddress, false)
	vb, _ := st.Buffer(vh)
	ib, _ := st.Buffer(ih)

	blasInfo := gpu.BuildInfo{
		Kind: gpu.BottomLevel,
		Triangles: []gpu.TriangleGeometry{
			{VertexAddress: vb.DeviceAddress(), VertexStride: 24, MaxVertex: 3, IndexAddress: ib.DeviceAddress(), PrimitiveOffset: 0, PrimitiveCount: 1},
			{VertexAddress: vb.DeviceAddress(), VertexStride: 24, MaxVertex: 3, IndexAddress: ib.DeviceAddress(), PrimitiveOffset: 12, PrimitiveCount: 1},
		},
	}
	blas := buildStructure(t, dev, &blasInfo)

	records := make([]gpu.InstanceRecord, len(transforms))
	for i, tr := range transforms {
		records[i] = gpu.NewInstanceRecord(tr, uint32(10+i), 0xff, 0, dev.AccelerationStructureAddress(blas))
	}
	rh, _ := st.AddNamedBuffer("test_instances", records, gpu.UsageDeviceAddress, false)
	rb, _ := st.Buffer(rh)

	tlasInfo := gpu.BuildInfo{
		Kind:      gpu.TopLevel,
		Instances: gpu.InstanceGeometry{Address: rb.DeviceAddress(), Count: uint32(len(records))},
	}
	return buildStructure(t, dev, &tlasInfo)
}

func buildStructure(t *testing.T, dev *Device, info *gpu.BuildInfo) gpu.AccelHandle {
	sizes, err := dev.AccelerationBuildSizes(info)
	if err != nil {
		t.Fatal(err)
	}
	storageHandle, _ := dev.Storage().AddBuffer(int(sizes.StorageSize), gpu.UsageAccelerationStorage, false)
	scratchHandle, _ := dev.Storage().AddBuffer(int(sizes.ScratchSize), gpu.UsageScratch, false)
	scratch, _ := dev.Storage().Buffer(scratchHandle)

	handle, err := dev.CreateAccelerationStructure(info.Kind, storageHandle, sizes.StorageSize)
	if err != nil {
		t.Fatal(err)
	}
	info.Destination = handle
	info.ScratchAddress = scratch.DeviceAddress()

	cb, _ := dev.CommandContext().BeginOneTime(gpu.Compute)
	cb.BuildAccelerationStructure(*info)
	if err = dev.CommandContext().Submit(cb, true); err != nil {
		t.Fatal(err)
	}
	return handle
}

func TestTraceTopLevel(t *testing.T) {
	dev := New(Options{})
	defer dev.Close()

	shifted := types.Translate4(types.XYZ(5, 0, -2)).Affine()
	tlasHandle := buildQuadScene(t, dev, types.AffineIdent(), shifted)
	as, err := dev.accel(tlasHandle)
	if err != nil {
		t.Fatal(err)
	}
	tl := TopLevel{as: as}

	specs := []struct {
		origin      types.Vec3
		dir         types.Vec3
		hit         bool
		t           float32
		customIndex uint32
		geometry    uint32
	}{
		// lower-right triangle of the first instance
		{types.XYZ(0.5, -0.5, 3), types.XYZ(0, 0, -1), true, 3, 10, 0},
		// upper-left triangle of the first instance
		{types.XYZ(-0.5, 0.5, 3), types.XYZ(0, 0, -1), true, 3, 10, 1},
		// translated instance
		{types.XYZ(5.5, 0.8, 3), types.XYZ(0, 0, -1), true, 5, 11, 1},
		// miss
		{types.XYZ(3, 0, 3), types.XYZ(0, 0, -1), false, 0, 0, 0},
	}

	for specIndex, spec := range specs {
		hit, found := tl.Trace(spec.origin, spec.dir, 0, 100)
		if found != spec.hit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", specIndex, spec.hit, found)
		}
		if !found {
			continue
		}
		if diff := hit.T - spec.t; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("[spec %d] expected t = %f; got %f", specIndex, spec.t, hit.T)
		}
		if hit.CustomIndex != spec.customIndex {
			t.Fatalf("[spec %d] expected custom index %d; got %d", specIndex, spec.customIndex, hit.CustomIndex)
		}
		if hit.GeometryIndex != spec.geometry || hit.PrimitiveIndex != 0 {
			t.Fatalf("[spec %d] expected geometry %d primitive 0; got %d/%d", specIndex, spec.geometry, hit.GeometryIndex, hit.PrimitiveIndex)
		}
	}

	if !tl.Occluded(types.XYZ(0, 0, 3), types.XYZ(0, 0, -1), 0, 10) {
		t.Fatal("expected segment through the quad to be occluded")
	}
	if tl.Occluded(types.XYZ(0, 0, 3), types.XYZ(0, 0, -1), 0, 2) {
		t.Fatal("expected segment ending before the quad to be unoccluded")
	}
}

func TestEmptyTopLevel(t *testing.T) {
	dev := New(Options{})
	defer dev.Close()

	info := gpu.BuildInfo{Kind: gpu.TopLevel}
	handle := buildStructure(t, dev, &info)
	as, _ := dev.accel(handle)
	if _, found := (TopLevel{as: as}).Trace(types.XYZ(0, 0, 0), types.XYZ(0, 0, -1), 0, 100); found {
		t.Fatal("expected no hits in an empty structure")
	}
}

func TestBuildRejectsSmallStorage(t *testing.T) {
	dev := New(Options{})
	defer dev.Close()

	info := gpu.BuildInfo{Kind: gpu.TopLevel, Instances: gpu.InstanceGeometry{Count: 4}}
	sizes, _ := dev.AccelerationBuildSizes(&info)

	small, _ := dev.Storage().AddBuffer(int(sizes.StorageSize)-1, gpu.UsageAccelerationStorage, false)
	if _, err := dev.CreateAccelerationStructure(gpu.TopLevel, small, sizes.StorageSize); !errors.Is(err, gpu.ErrInsufficientStorage) {
		t.Fatalf("expected ErrInsufficientStorage; got %v", err)
	}

	if _, err := dev.AccelerationBuildSizes(&gpu.BuildInfo{Kind: gpu.BottomLevel}); err == nil {
		t.Fatal("expected bottom-level size query without geometry to fail")
	}
}

func TestTraverseDeepTree(t *testing.T) {
	const depth = 100
	bbox := [2]types.Vec3{{-1, -1, -1}, {1, 1, 1}}

	// Each level holds an interior node followed by an empty leaf; the
	// only triangle sits in the leaf at the bottom of the chain.
	nodes := make([]bvh.Node, 2*depth+1)
	for level := 0; level < depth; level++ {
		idx := 2 * level
		nodes[idx].SetBBox(bbox)
		nodes[idx].SetChildNodes(uint32(idx+2), uint32(idx+1))
		nodes[idx+1].SetBBox(bbox)
		nodes[idx+1].SetItems(0, 0)
	}
	nodes[2*depth].SetBBox(bbox)
	nodes[2*depth].SetItems(0, 1)

	as := &accelStructure{
		kind:  gpu.BottomLevel,
		built: true,
		nodes: nodes,
		triangles: []triangle{
			{v0: types.XYZ(-1, -1, 0), v1: types.XYZ(1, -1, 0), v2: types.XYZ(0, 1, 0), primitive: 7},
		},
	}

	hit, ok := as.intersect(types.XYZ(0, 0, 5), types.XYZ(0, 0, -1), 0, 100, false)
	if !ok {
		t.Fatalf("expected a hit in the leaf at depth %d", depth)
	}
	if hit.PrimitiveIndex != 7 || math.Abs(float64(hit.T-5)) > 1e-5 {
		t.Fatalf("expected primitive 7 at t=5; got %+v", hit)
	}
}
