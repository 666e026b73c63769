package index

import (
	"container/heap"
	"sort"
)

// kdTree is an exact k-nearest-neighbor structure over fixed-dimension
// points. Positions refer to the order points were handed to buildTree.
type kdTree struct {
	root *kdNode
	dim  int
}

type kdNode struct {
	point    []float32
	position int
	axis     int
	left     *kdNode
	right    *kdNode
}

type Neighbor struct {
	// Position of the point in the corpus list used to build the tree.
	Position int
	// SquaredDistance is the squared Euclidean distance to the query.
	SquaredDistance float64
}

func buildTree(points [][]float32) *kdTree {
	if len(points) == 0 {
		return &kdTree{}
	}
	positions := make([]int, len(points))
	for i := range positions {
		positions[i] = i
	}
	return &kdTree{
		root: buildNode(points, positions, 0),
		dim:  len(points[0]),
	}
}

func buildNode(points [][]float32, positions []int, depth int) *kdNode {
	if len(positions) == 0 {
		return nil
	}
	axis := depth % len(points[positions[0]])
	sort.Slice(positions, func(i, j int) bool {
		return points[positions[i]][axis] < points[positions[j]][axis]
	})
	median := len(positions) / 2
	return &kdNode{
		point:    points[positions[median]],
		position: positions[median],
		axis:     axis,
		left:     buildNode(points, positions[:median], depth+1),
		right:    buildNode(points, positions[median+1:], depth+1),
	}
}

// search returns up to k nearest neighbors ordered by ascending distance.
// A nil or empty tree yields no neighbors.
func (t *kdTree) search(query []float32, k int) []Neighbor {
	if t == nil || t.root == nil || k <= 0 || len(query) != t.dim {
		return nil
	}
	best := &neighborHeap{}
	t.root.search(query, k, best)

	result := make([]Neighbor, best.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(best).(Neighbor)
	}
	return result
}

func (n *kdNode) search(query []float32, k int, best *neighborHeap) {
	if n == nil {
		return
	}

	dist := squaredDistance(query, n.point)
	if best.Len() < k {
		heap.Push(best, Neighbor{Position: n.position, SquaredDistance: dist})
	} else if dist < (*best)[0].SquaredDistance {
		(*best)[0] = Neighbor{Position: n.position, SquaredDistance: dist}
		heap.Fix(best, 0)
	}

	diff := float64(query[n.axis]) - float64(n.point[n.axis])
	near, far := n.left, n.right
	if diff > 0 {
		near, far = n.right, n.left
	}
	near.search(query, k, best)
	if best.Len() < k || diff*diff < (*best)[0].SquaredDistance {
		far.search(query, k, best)
	}
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// neighborHeap is a max-heap on distance so the current worst candidate
// sits at the root.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return h[i].SquaredDistance > h[j].SquaredDistance }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)         { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}
