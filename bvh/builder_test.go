package bvh

import (
	"testing"

	"github.com/achilleasa/prism/types"
)

type testVolume struct {
	bbox [2]types.Vec3
}

func (v *testVolume) BBox() [2]types.Vec3 {
	return v.bbox
}

func (v *testVolume) Center() types.Vec3 {
	return v.bbox[0].Add(v.bbox[1]).Mul(0.5)
}

func testVolumes() []BoundedVolume {
	specs := [][2]types.Vec3{
		{{-2, 0, -2}, {-1, 1, -1}},
		{{1, 0, -2}, {2, 1, -1}},
		{{-2, 0, 1}, {-1, 1, 2}},
		{{1, 0, 1}, {2, 1, 2}},
	}

	itemList := make([]BoundedVolume, len(specs))
	for idx, bbox := range specs {
		itemList[idx] = &testVolume{bbox: bbox}
	}
	return itemList
}

func TestLeafCallback(t *testing.T) {
	itemList := testVolumes()

	var cbCount = 0
	var expItemListCount = 0
	cb := func(leaf *Node, itemList []BoundedVolume) {
		cbCount++
		if len(itemList) != expItemListCount {
			t.Fatalf("expected leaf callback to be called with %d items; got %d", expItemListCount, len(itemList))
		}
	}

	// Partition each item in a single leaf
	expItemListCount = 1
	treeNodes, stats := Build(itemList, 1, cb, SurfaceAreaHeuristic)

	if cbCount != 4 {
		t.Fatalf("expected leaf callback to be called 4 times; called %d", cbCount)
	}
	if len(treeNodes) != 7 {
		t.Fatalf("expected bvh tree to have 7 nodes; got %d", len(treeNodes))
	}
	if stats.Leafs != 4 || stats.Nodes != 7 {
		t.Fatalf("expected stats to report 4 leafs and 7 nodes; got %+v", stats)
	}

	// Partition two items in a single leaf
	cbCount = 0
	expItemListCount = 2
	treeNodes, _ = Build(itemList, 2, cb, SurfaceAreaHeuristic)

	if cbCount != 2 {
		t.Fatalf("expected leaf callback to be called 2 times; called %d", cbCount)
	}
	if len(treeNodes) != 3 {
		t.Fatalf("expected bvh tree to have 3 nodes; got %d", len(treeNodes))
	}
}

func TestTreeBounds(t *testing.T) {
	var itemList []BoundedVolume
	for i := 0; i < 50; i++ {
		x := float32(i%10) * 1.5
		z := float32(i/10) * 3
		itemList = append(itemList, &testVolume{bbox: [2]types.Vec3{{x, 0, z}, {x + 1, 1, z + 1}}})
	}

	seen := make(map[BoundedVolume]bool)
	treeNodes, stats := Build(itemList, 1, func(leaf *Node, items []BoundedVolume) {
		for _, item := range items {
			if seen[item] {
				t.Fatal("expected every item to be assigned to a single leaf")
			}
			seen[item] = true

			bbox := item.BBox()
			for axis := 0; axis < 3; axis++ {
				if bbox[0][axis] < leaf.Min[axis] || bbox[1][axis] > leaf.Max[axis] {
					t.Fatalf("expected leaf bounds %v-%v to enclose item %v", leaf.Min, leaf.Max, bbox)
				}
			}
		}
	}, SurfaceAreaHeuristic)

	if len(seen) != len(itemList) {
		t.Fatalf("expected %d items in leafs; got %d", len(itemList), len(seen))
	}
	if len(treeNodes) > MaxNodes(len(itemList)) {
		t.Fatalf("expected at most %d nodes; got %d", MaxNodes(len(itemList)), len(treeNodes))
	}
	if stats.Leafs != len(itemList) {
		t.Fatalf("expected one leaf per item; got %d leafs", stats.Leafs)
	}
}

func TestEmptyWorkList(t *testing.T) {
	treeNodes, _ := Build(nil, 1, nil, SurfaceAreaHeuristic)
	if len(treeNodes) != 1 {
		t.Fatalf("expected a single root node; got %d", len(treeNodes))
	}
	if !treeNodes[0].IsLeaf() {
		t.Fatal("expected root node to be a leaf")
	}
	if _, count := treeNodes[0].Items(); count != 0 {
		t.Fatalf("expected empty leaf; got %d items", count)
	}
}

func TestNodeIntersectRay(t *testing.T) {
	node := Node{Min: types.XYZ(-1, -1, -1), Max: types.XYZ(1, 1, 1)}

	specs := []struct {
		origin types.Vec3
		dir    types.Vec3
		hit    bool
		tEntry float32
	}{
		{types.XYZ(0, 0, 5), types.XYZ(0, 0, -1), true, 4},
		{types.XYZ(0, 3, 5), types.XYZ(0, 0, -1), false, 0},
		{types.XYZ(0, 0, 0), types.XYZ(1, 0, 0), true, 0},
		{types.XYZ(0, 0, 5), types.XYZ(0, 0, 1), false, 0},
	}

	for specIndex, spec := range specs {
		invDir := types.XYZ(1/spec.dir[0], 1/spec.dir[1], 1/spec.dir[2])
		tEntry, hit := node.IntersectRay(spec.origin, invDir, 0, 1e30)
		if hit != spec.hit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", specIndex, spec.hit, hit)
		}
		if hit && tEntry != spec.tEntry {
			t.Fatalf("[spec %d] expected entry distance %f; got %f", specIndex, spec.tEntry, tEntry)
		}
	}
}
