// Package bvh builds bounding volume hierarchies over arbitrary bounded
// items using a binned surface area heuristic.
package bvh

import (
	"math"
	"time"

	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/types"
)

type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis
	numAxes
)

const (
	// Centroids are bucketed into this many bins per axis; split
	// candidates lie on the bin boundaries.
	splitBins = 16

	// Axes whose centroid extent is below this threshold are not split.
	minCentroidExtent float32 = 1e-6
)

var (
	// A split scoring strategy that uses the surface area heuristic (SAH).
	SurfaceAreaHeuristic = surfaceAreaHeuristic{}

	logger = log.New("bvh builder")
)

// The BoundedVolume interface is implemented by all items that can be
// partitioned by the bvh builder.
type BoundedVolume interface {
	BBox() [2]types.Vec3
	Center() types.Vec3
}

// A callback that is called whenever the BVH builder creates a new leaf.
// Leafs are reported in depth-first order.
type LeafCallback func(leaf *Node, itemList []BoundedVolume)

// A split scoring strategy. Lower scores are better.
type ScoreStrategy interface {
	// Score splitting a node into two non-empty halves.
	ScoreSplit(left [2]types.Vec3, leftCount int, right [2]types.Vec3, rightCount int) float32

	// Score keeping count items with the given bounds in a single leaf.
	ScorePartition(bbox [2]types.Vec3, count int) float32
}

// Best split found along an axis. A bin of -1 means no split.
type axisSplit struct {
	axis  Axis
	bin   int
	score float32
}

// Build statistics.
type Stats struct {
	Items    int
	Nodes    int
	Leafs    int
	MaxDepth int
}

type builder struct {
	nodes         []Node
	leafCb        LeafCallback
	minLeafItems  int
	scoreStrategy ScoreStrategy
	splitChan     chan axisSplit
	stats         Stats
}

// Construct a BVH from a set of bounded volumes.
//
// Nodes holding minLeafItems items or fewer become leafs. The work list is
// reordered in place so that the items of every leaf are contiguous. The
// root node is always stored at index 0 and the tree never holds more than
// MaxNodes(len(workList)) nodes. An empty work list yields a single empty
// leaf.
func Build(workList []BoundedVolume, minLeafItems int, leafCb LeafCallback, scoreStrategy ScoreStrategy) ([]Node, Stats) {
	if minLeafItems < 1 {
		minLeafItems = 1
	}
	b := &builder{
		nodes:         make([]Node, 0, MaxNodes(len(workList))),
		leafCb:        leafCb,
		minLeafItems:  minLeafItems,
		scoreStrategy: scoreStrategy,
		splitChan:     make(chan axisSplit, numAxes),
		stats:         Stats{Items: len(workList)},
	}

	start := time.Now()
	b.partition(workList, 0)
	b.stats.Nodes = len(b.nodes)
	logger.Debugf(
		"built tree over %d items in %d ms: nodes %d, leafs %d, max depth %d",
		b.stats.Items, time.Since(start).Nanoseconds()/1e6,
		b.stats.Nodes, b.stats.Leafs, b.stats.MaxDepth,
	)
	return b.nodes, b.stats
}

// MaxNodes returns the worst case node count for a tree over the given
// number of items.
func MaxNodes(items int) int {
	if items <= 1 {
		return 1
	}
	return 2*items - 1
}

func (b *builder) partition(workList []BoundedVolume, depth int) uint32 {
	if depth > b.stats.MaxDepth {
		b.stats.MaxDepth = depth
	}

	bbox, centroids := EmptyBBox(), EmptyBBox()
	for _, item := range workList {
		itemBBox := item.BBox()
		bbox[0] = types.MinVec3(bbox[0], itemBBox[0])
		bbox[1] = types.MaxVec3(bbox[1], itemBBox[1])
		center := item.Center()
		centroids[0] = types.MinVec3(centroids[0], center)
		centroids[1] = types.MaxVec3(centroids[1], center)
	}

	var node Node
	node.SetBBox(bbox)
	if len(workList) <= b.minLeafItems {
		return b.createLeaf(&node, workList)
	}

	// Score every axis concurrently and keep the best candidate
	for axis := XAxis; axis < numAxes; axis++ {
		go func(axis Axis) {
			b.splitChan <- b.bestAxisSplit(workList, centroids, axis)
		}(axis)
	}
	best := axisSplit{bin: -1, score: b.scoreStrategy.ScorePartition(bbox, len(workList))}
	for pending := int(numAxes); pending > 0; pending-- {
		candidate := <-b.splitChan
		if candidate.bin < 0 {
			continue
		}
		if candidate.score < best.score || (candidate.score == best.score && best.bin >= 0 && candidate.axis < best.axis) {
			best = candidate
		}
	}
	if best.bin < 0 {
		return b.createLeaf(&node, workList)
	}

	// Move items left of the split to the front of the work list
	mid := 0
	for i, item := range workList {
		if binIndex(item.Center(), centroids, best.axis) <= best.bin {
			workList[i], workList[mid] = workList[mid], workList[i]
			mid++
		}
	}

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, node)
	left := b.partition(workList[:mid], depth+1)
	right := b.partition(workList[mid:], depth+1)
	b.nodes[nodeIndex].SetChildNodes(left, right)
	return uint32(nodeIndex)
}

// Bucket the item centroids along axis and score the split after every
// bin boundary. Only splits with items on both sides are considered.
func (b *builder) bestAxisSplit(workList []BoundedVolume, centroids [2]types.Vec3, axis Axis) axisSplit {
	best := axisSplit{axis: axis, bin: -1, score: math.MaxFloat32}
	if centroids[1][axis]-centroids[0][axis] < minCentroidExtent {
		return best
	}

	var (
		counts [splitBins]int
		boxes  [splitBins][2]types.Vec3
	)
	for i := range boxes {
		boxes[i] = EmptyBBox()
	}
	for _, item := range workList {
		bin := binIndex(item.Center(), centroids, axis)
		itemBBox := item.BBox()
		counts[bin]++
		boxes[bin][0] = types.MinVec3(boxes[bin][0], itemBBox[0])
		boxes[bin][1] = types.MaxVec3(boxes[bin][1], itemBBox[1])
	}

	// Sweep from the right to get the bounds of every right half
	var (
		rightCounts [splitBins]int
		rightBoxes  [splitBins][2]types.Vec3
	)
	acc, accCount := EmptyBBox(), 0
	for bin := splitBins - 1; bin > 0; bin-- {
		acc = unionBBox(acc, boxes[bin])
		accCount += counts[bin]
		rightBoxes[bin], rightCounts[bin] = acc, accCount
	}

	acc, accCount = EmptyBBox(), 0
	for bin := 0; bin < splitBins-1; bin++ {
		acc = unionBBox(acc, boxes[bin])
		accCount += counts[bin]
		if accCount == 0 || rightCounts[bin+1] == 0 {
			continue
		}
		score := b.scoreStrategy.ScoreSplit(acc, accCount, rightBoxes[bin+1], rightCounts[bin+1])
		if score < best.score {
			best.bin, best.score = bin, score
		}
	}
	return best
}

func (b *builder) createLeaf(node *Node, workList []BoundedVolume) uint32 {
	if b.leafCb != nil {
		b.leafCb(node, workList)
	}
	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, *node)
	b.stats.Leafs++
	return uint32(nodeIndex)
}

func binIndex(center types.Vec3, centroids [2]types.Vec3, axis Axis) int {
	extent := centroids[1][axis] - centroids[0][axis]
	bin := int(splitBins * (center[axis] - centroids[0][axis]) / extent)
	if bin >= splitBins {
		bin = splitBins - 1
	} else if bin < 0 {
		bin = 0
	}
	return bin
}

func unionBBox(a, b [2]types.Vec3) [2]types.Vec3 {
	return [2]types.Vec3{types.MinVec3(a[0], b[0]), types.MaxVec3(a[1], b[1])}
}

// Scores splits with the surface area heuristic:
//
// left count * left area + right count * right area
//
// A leaf costs count * area, so a split is only taken when it lowers the
// expected number of intersection tests.
type surfaceAreaHeuristic struct{}

func (h surfaceAreaHeuristic) ScoreSplit(left [2]types.Vec3, leftCount int, right [2]types.Vec3, rightCount int) float32 {
	return float32(leftCount)*halfArea(left) + float32(rightCount)*halfArea(right)
}

func (h surfaceAreaHeuristic) ScorePartition(bbox [2]types.Vec3, count int) float32 {
	if count == 0 {
		return math.MaxFloat32
	}
	return float32(count) * halfArea(bbox)
}

func halfArea(box [2]types.Vec3) float32 {
	side := box[1].Sub(box[0])
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}
