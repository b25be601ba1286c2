package bvh

import (
	"math"

	"github.com/achilleasa/prism/types"
)

// Size of an encoded node in bytes.
const NodeSize = 32

// Bvh nodes are comprised of two Vec3 and two multipurpose int32 parameters
// whose value depends on the node type:
//
// - For interior nodes they are both >0 and point to the L/R child nodes
// - For leafs:
//   - left W is <= 0 and points to the first item index
//   - right W contains the count of leaf items
type Node struct {
	Min   types.Vec3
	LData int32

	Max   types.Vec3
	RData int32
}

// Set bounding box.
func (n *Node) SetBBox(bbox [2]types.Vec3) {
	n.Min = bbox[0]
	n.Max = bbox[1]
}

// Set left and right child node indices.
func (n *Node) SetChildNodes(left, right uint32) {
	n.LData = int32(left)
	n.RData = int32(right)
}

// Get left and right child node indices.
func (n *Node) ChildNodes() (left, right uint32) {
	return uint32(n.LData), uint32(n.RData)
}

// Set first item index and count.
func (n *Node) SetItems(first, count uint32) {
	n.LData = -int32(first)
	n.RData = int32(count)
}

// Get first item index and count.
func (n *Node) Items() (first, count uint32) {
	return uint32(-n.LData), uint32(n.RData)
}

// Check whether this is a leaf node.
func (n *Node) IsLeaf() bool {
	return n.LData <= 0
}

// Add offset to indices of child nodes.
func (n *Node) OffsetChildNodes(offset int32) {
	if n.IsLeaf() {
		return
	}

	n.LData += offset
	n.RData += offset
}

// Intersect the node bounding box with a ray using the slab test. The ray
// direction is passed in inverted form. Returns the entry distance.
func (n *Node) IntersectRay(origin, invDir types.Vec3, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		t0 := (n.Min[axis] - origin[axis]) * invDir[axis]
		t1 := (n.Max[axis] - origin[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		// NaN from 0*inf compares false; keep the current interval.
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// Create an empty (inverted) bounding box.
func EmptyBBox() [2]types.Vec3 {
	return [2]types.Vec3{
		{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}
