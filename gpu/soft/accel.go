package soft

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/achilleasa/prism/bvh"
	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/types"
)

const (
	accelHeaderSize   = 16
	triangleRefSize   = 8
	trianglePosSize   = 36
	scratchItemSize   = 32
	blasMinLeafItems  = 2
	tlasMinLeafItems  = 1
	triangleEpsilon   = 1e-7
	blasMagic         = 0x53414c42 // BLAS
	tlasMagic         = 0x53414c54 // TLAS
	positionComponent = 12
)

type triangle struct {
	v0, v1, v2 types.Vec3

	geometry  uint32
	primitive uint32
}

func (t *triangle) BBox() [2]types.Vec3 {
	return [2]types.Vec3{
		types.MinVec3(t.v0, types.MinVec3(t.v1, t.v2)),
		types.MaxVec3(t.v0, types.MaxVec3(t.v1, t.v2)),
	}
}

func (t *triangle) Center() types.Vec3 {
	return t.v0.Add(t.v1).Add(t.v2).Mul(1.0 / 3.0)
}

type instance struct {
	index       uint32
	transform   types.Affine
	inverse     types.Affine
	customIndex uint32
	mask        uint8
	blas        *accelStructure
	bbox        [2]types.Vec3
}

func (in *instance) BBox() [2]types.Vec3 {
	return in.bbox
}

func (in *instance) Center() types.Vec3 {
	return in.bbox[0].Add(in.bbox[1]).Mul(0.5)
}

type accelStructure struct {
	handle  gpu.AccelHandle
	kind    gpu.AccelerationKind
	buffer  uint32
	size    uint64
	address uint64
	built   bool

	nodes     []bvh.Node
	triangles []triangle
	instances []instance
}

// Ray query result.
type Hit struct {
	T    float32
	Bary types.Vec2

	InstanceIndex  uint32
	CustomIndex    uint32
	GeometryIndex  uint32
	PrimitiveIndex uint32
}

// Storage requirements derived from the primitive count.
func buildSizes(kind gpu.AccelerationKind, primitives uint32) gpu.BuildSizes {
	n := uint64(primitives)
	nodes := uint64(bvh.MaxNodes(int(primitives)))
	sizes := gpu.BuildSizes{
		StorageSize: accelHeaderSize + nodes*bvh.NodeSize,
		ScratchSize: scratchItemSize * n,
	}
	if n == 0 {
		sizes.ScratchSize = scratchItemSize
	}
	if kind == gpu.TopLevel {
		sizes.StorageSize += n * gpu.InstanceRecordSize
	} else {
		sizes.StorageSize += n * (triangleRefSize + trianglePosSize)
	}
	return sizes
}

func (d *Device) AccelerationBuildSizes(info *gpu.BuildInfo) (gpu.BuildSizes, error) {
	if info.Kind == gpu.BottomLevel && len(info.Triangles) == 0 {
		return gpu.BuildSizes{}, fmt.Errorf("soft device: bottom-level build without geometry")
	}
	for i, tri := range info.Triangles {
		if tri.VertexStride < positionComponent {
			return gpu.BuildSizes{}, fmt.Errorf("soft device: geometry %d vertex stride %d is smaller than a position", i, tri.VertexStride)
		}
	}
	return buildSizes(info.Kind, info.PrimitiveCount()), nil
}

func (d *Device) CreateAccelerationStructure(kind gpu.AccelerationKind, bufferHandle uint32, size uint64) (gpu.AccelHandle, error) {
	buf, err := d.storage.buffer(bufferHandle)
	if err != nil {
		return 0, err
	}
	if uint64(buf.Size()) < size {
		return 0, fmt.Errorf("soft device: %s structure of size %d does not fit buffer of size %d: %w", kind, size, buf.Size(), gpu.ErrInsufficientStorage)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextAccel++
	as := &accelStructure{
		handle:  d.nextAccel,
		kind:    kind,
		buffer:  bufferHandle,
		size:    size,
		address: buf.DeviceAddress(),
	}
	d.accels[as.handle] = as
	d.accelByAddr[as.address] = as
	return as.handle, nil
}

func (d *Device) AccelerationStructureAddress(handle gpu.AccelHandle) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if as, found := d.accels[handle]; found {
		return as.address
	}
	return 0
}

func (d *Device) DestroyAccelerationStructure(handle gpu.AccelHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if as, found := d.accels[handle]; found {
		delete(d.accelByAddr, as.address)
		delete(d.accels, handle)
	}
}

func (d *Device) accel(handle gpu.AccelHandle) (*accelStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	as, found := d.accels[handle]
	if !found {
		return nil, fmt.Errorf("soft device: acceleration structure %d: %w", handle, gpu.ErrUnknownHandle)
	}
	return as, nil
}

func (d *Device) accelAt(address uint64) (*accelStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	as, found := d.accelByAddr[address]
	if !found {
		return nil, fmt.Errorf("soft device: no acceleration structure at address 0x%x", address)
	}
	return as, nil
}

// Execute an acceleration structure build.
func (d *Device) buildAccelerationStructure(info *gpu.BuildInfo) error {
	start := time.Now()

	as, err := d.accel(info.Destination)
	if err != nil {
		return err
	}
	if as.kind != info.Kind {
		return fmt.Errorf("soft device: %s build into %s structure", info.Kind, as.kind)
	}

	sizes := buildSizes(info.Kind, info.PrimitiveCount())
	if as.size < sizes.StorageSize {
		return fmt.Errorf("soft device: %s structure needs %d bytes; has %d: %w", as.kind, sizes.StorageSize, as.size, gpu.ErrInsufficientStorage)
	}
	if _, err = d.storage.resolveRange(info.ScratchAddress, int(sizes.ScratchSize)); err != nil {
		return fmt.Errorf("soft device: scratch space: %w", gpu.ErrInsufficientStorage)
	}

	if info.Kind == gpu.BottomLevel {
		err = d.buildBottomLevel(as, info)
	} else {
		err = d.buildTopLevel(as, info)
	}
	if err != nil {
		return err
	}

	if err = d.serialize(as); err != nil {
		return err
	}
	as.built = true

	d.logger.Debugf("built %s structure %d with %d nodes in %d ms", as.kind, as.handle, len(as.nodes), time.Since(start).Nanoseconds()/1e6)
	return nil
}

func (d *Device) buildBottomLevel(as *accelStructure, info *gpu.BuildInfo) error {
	workList := make([]bvh.BoundedVolume, 0, info.PrimitiveCount())
	for geomIndex, geom := range info.Triangles {
		if geom.PrimitiveCount == 0 {
			continue
		}
		indexData, err := d.storage.resolveRange(geom.IndexAddress+geom.PrimitiveOffset, int(geom.PrimitiveCount)*12)
		if err != nil {
			return fmt.Errorf("soft device: geometry %d indices: %w", geomIndex, err)
		}
		vertexData, err := d.storage.resolveRange(geom.VertexAddress, int(uint64(geom.MaxVertex+1)*geom.VertexStride))
		if err != nil {
			return fmt.Errorf("soft device: geometry %d vertices: %w", geomIndex, err)
		}

		indices := View[uint32](indexData)
		for prim := uint32(0); prim < geom.PrimitiveCount; prim++ {
			tri := &triangle{geometry: uint32(geomIndex), primitive: prim}
			for corner := 0; corner < 3; corner++ {
				index := indices[3*prim+uint32(corner)]
				if index > geom.MaxVertex {
					return fmt.Errorf("soft device: geometry %d primitive %d references vertex %d beyond %d", geomIndex, prim, index, geom.MaxVertex)
				}
				pos := View[types.Vec3](vertexData[uint64(index)*geom.VertexStride:])[0]
				switch corner {
				case 0:
					tri.v0 = pos
				case 1:
					tri.v1 = pos
				default:
					tri.v2 = pos
				}
			}
			workList = append(workList, tri)
		}
	}

	as.triangles = make([]triangle, 0, len(workList))
	as.nodes, _ = bvh.Build(workList, blasMinLeafItems, func(leaf *bvh.Node, items []bvh.BoundedVolume) {
		leaf.SetItems(uint32(len(as.triangles)), uint32(len(items)))
		for _, item := range items {
			as.triangles = append(as.triangles, *item.(*triangle))
		}
	}, bvh.SurfaceAreaHeuristic)
	return nil
}

func (d *Device) buildTopLevel(as *accelStructure, info *gpu.BuildInfo) error {
	var records []gpu.InstanceRecord
	if info.Instances.Count > 0 {
		data, err := d.storage.resolveRange(info.Instances.Address, int(info.Instances.Count)*gpu.InstanceRecordSize)
		if err != nil {
			return fmt.Errorf("soft device: instances: %w", err)
		}
		records = View[gpu.InstanceRecord](data)
	}

	workList := make([]bvh.BoundedVolume, 0, len(records))
	instances := make([]*instance, 0, len(records))
	for index, record := range records {
		blas, err := d.accelAt(record.AccelerationStructureReference)
		if err != nil {
			return fmt.Errorf("soft device: instance %d: %w", index, err)
		}
		if !blas.built || blas.kind != gpu.BottomLevel {
			return fmt.Errorf("soft device: instance %d references an unbuilt bottom-level structure", index)
		}

		in := &instance{
			index:       uint32(index),
			transform:   record.Transform,
			inverse:     record.Transform.Inv(),
			customIndex: record.CustomIndex(),
			mask:        record.Mask(),
			blas:        blas,
			bbox:        bvh.EmptyBBox(),
		}
		root := blas.nodes[0]
		if root.Min[0] <= root.Max[0] {
			for corner := 0; corner < 8; corner++ {
				p := types.Vec3{root.Min[0], root.Min[1], root.Min[2]}
				if corner&1 != 0 {
					p[0] = root.Max[0]
				}
				if corner&2 != 0 {
					p[1] = root.Max[1]
				}
				if corner&4 != 0 {
					p[2] = root.Max[2]
				}
				wp := in.transform.TransformPoint(p)
				in.bbox[0] = types.MinVec3(in.bbox[0], wp)
				in.bbox[1] = types.MaxVec3(in.bbox[1], wp)
			}
		}
		instances = append(instances, in)
		workList = append(workList, in)
	}

	as.instances = make([]instance, 0, len(instances))
	as.nodes, _ = bvh.Build(workList, tlasMinLeafItems, func(leaf *bvh.Node, items []bvh.BoundedVolume) {
		leaf.SetItems(uint32(len(as.instances)), uint32(len(items)))
		for _, item := range items {
			as.instances = append(as.instances, *item.(*instance))
		}
	}, bvh.SurfaceAreaHeuristic)
	return nil
}

// Write the built structure into its backing buffer.
func (d *Device) serialize(as *accelStructure) error {
	buf, err := d.storage.buffer(as.buffer)
	if err != nil {
		return err
	}

	out := buf.data[:as.size]
	magic, items := uint32(blasMagic), len(as.triangles)
	if as.kind == gpu.TopLevel {
		magic, items = tlasMagic, len(as.instances)
	}
	binary.LittleEndian.PutUint32(out[0:], magic)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(as.nodes)))
	binary.LittleEndian.PutUint32(out[8:], uint32(items))
	binary.LittleEndian.PutUint32(out[12:], 0)

	offset := accelHeaderSize
	for _, node := range as.nodes {
		for i := 0; i < 3; i++ {
			binary.LittleEndian.PutUint32(out[offset+4*i:], math.Float32bits(node.Min[i]))
			binary.LittleEndian.PutUint32(out[offset+16+4*i:], math.Float32bits(node.Max[i]))
		}
		binary.LittleEndian.PutUint32(out[offset+12:], uint32(node.LData))
		binary.LittleEndian.PutUint32(out[offset+28:], uint32(node.RData))
		offset += bvh.NodeSize
	}

	if as.kind == gpu.BottomLevel {
		for _, tri := range as.triangles {
			binary.LittleEndian.PutUint32(out[offset:], tri.geometry)
			binary.LittleEndian.PutUint32(out[offset+4:], tri.primitive)
			offset += triangleRefSize
			for i, v := range [3]types.Vec3{tri.v0, tri.v1, tri.v2} {
				for c := 0; c < 3; c++ {
					binary.LittleEndian.PutUint32(out[offset+12*i+4*c:], math.Float32bits(v[c]))
				}
			}
			offset += trianglePosSize
		}
		return nil
	}

	for _, in := range as.instances {
		for i, f := range in.transform {
			binary.LittleEndian.PutUint32(out[offset+4*i:], math.Float32bits(f))
		}
		binary.LittleEndian.PutUint32(out[offset+48:], in.customIndex|uint32(in.mask)<<24)
		binary.LittleEndian.PutUint64(out[offset+56:], in.blas.address)
		offset += gpu.InstanceRecordSize
	}
	return nil
}

// Find the closest intersection along the ray within [tMin, tMax]. Only
// instances whose mask shares a bit with cullMask are considered.
func (as *accelStructure) trace(origin, dir types.Vec3, tMin, tMax float32, cullMask uint8, anyHit bool) (Hit, bool) {
	var best Hit
	found := false
	if !as.built || as.kind != gpu.TopLevel {
		return best, false
	}

	as.traverse(origin, dir, tMin, tMax, func(first, count uint32, tMax float32) float32 {
		for i := first; i < first+count; i++ {
			in := &as.instances[i]
			if in.mask&cullMask == 0 {
				continue
			}
			objOrigin := in.inverse.TransformPoint(origin)
			objDir := in.inverse.TransformDir(dir)
			hit, ok := in.blas.intersect(objOrigin, objDir, tMin, tMax, anyHit)
			if !ok {
				continue
			}
			hit.InstanceIndex = in.index
			hit.CustomIndex = in.customIndex
			best = hit
			found = true
			tMax = hit.T
			if anyHit {
				return -1
			}
		}
		return tMax
	})
	return best, found
}

// Closest triangle hit in object space.
func (as *accelStructure) intersect(origin, dir types.Vec3, tMin, tMax float32, anyHit bool) (Hit, bool) {
	var best Hit
	found := false
	as.traverse(origin, dir, tMin, tMax, func(first, count uint32, tMax float32) float32 {
		for i := first; i < first+count; i++ {
			tri := &as.triangles[i]
			t, u, v, ok := intersectTriangle(origin, dir, tri)
			if !ok || t < tMin || t > tMax {
				continue
			}
			best = Hit{T: t, Bary: types.Vec2{u, v}, GeometryIndex: tri.geometry, PrimitiveIndex: tri.primitive}
			found = true
			tMax = t
			if anyHit {
				return -1
			}
		}
		return tMax
	})
	return best, found
}

// Stack based traversal. The leaf visitor returns the updated tMax; a
// negative value stops the traversal.
func (as *accelStructure) traverse(origin, dir types.Vec3, tMin, tMax float32, visitLeaf func(first, count uint32, tMax float32) float32) {
	if len(as.nodes) == 0 {
		return
	}
	invDir := types.Vec3{1 / dir[0], 1 / dir[1], 1 / dir[2]}

	// Grows past the initial capacity for degenerate trees
	stack := make([]uint32, 1, 64)
	for len(stack) > 0 {
		nodeIndex := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &as.nodes[nodeIndex]
		if _, hit := node.IntersectRay(origin, invDir, tMin, tMax); !hit {
			continue
		}
		if node.IsLeaf() {
			first, count := node.Items()
			if count == 0 {
				continue
			}
			if tMax = visitLeaf(first, count, tMax); tMax < 0 {
				return
			}
			continue
		}
		left, right := node.ChildNodes()
		stack = append(stack, right, left)
	}
}

// Moller-Trumbore ray/triangle intersection.
func intersectTriangle(origin, dir types.Vec3, tri *triangle) (t, u, v float32, ok bool) {
	e1 := tri.v1.Sub(tri.v0)
	e2 := tri.v2.Sub(tri.v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -triangleEpsilon && det < triangleEpsilon {
		return 0, 0, 0, false
	}
	invDet := 1 / det
	s := origin.Sub(tri.v0)
	u = s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(e1)
	v = dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	t = e2.Dot(q) * invDet
	return t, u, v, true
}

// TopLevel provides ray queries against a built top-level structure.
type TopLevel struct {
	as *accelStructure
}

// Closest hit along the ray.
func (tl TopLevel) Trace(origin, dir types.Vec3, tMin, tMax float32) (Hit, bool) {
	return tl.as.trace(origin, dir, tMin, tMax, 0xff, false)
}

// Check whether anything blocks the ray segment.
func (tl TopLevel) Occluded(origin, dir types.Vec3, tMin, tMax float32) bool {
	_, hit := tl.as.trace(origin, dir, tMin, tMax, 0xff, true)
	return hit
}

// Get host-side ray queries for a built top-level structure.
func (d *Device) TopLevel(handle gpu.AccelHandle) (TopLevel, error) {
	as, err := d.accel(handle)
	if err != nil {
		return TopLevel{}, err
	}
	if as.kind != gpu.TopLevel || !as.built {
		return TopLevel{}, fmt.Errorf("soft device: structure %d is not a built top-level structure", handle)
	}
	return TopLevel{as: as}, nil
}
