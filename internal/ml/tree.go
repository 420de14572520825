package ml

import (
	"math/rand/v2"
	"sort"
)

const leafFeature = -1

// node is one split or leaf of a tree. Cover is the in-bag sample weight that
// reached the node during training; the attribution engine depends on
// Cover(parent) == Cover(left) + Cover(right).
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Cover     float64 `json:"c"`
	Fraud     float64 `json:"p"`
	Value     float64 `json:"v"`
}

func (n *node) leaf() bool {
	return n.Feature == leafFeature
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// leafFor walks x down to its leaf. Values equal to a threshold go left.
func (t *tree) leafFor(x []float64) *node {
	n := &t.Nodes[0]
	for !n.leaf() {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n
}

func (t *tree) predict(x []float64) float64 {
	return t.leafFor(x).Value
}

// expectation is the cover-weighted mean leaf value, i.e. the tree's average
// output over its training distribution.
func (t *tree) expectation() float64 {
	var walk func(i int) float64
	walk = func(i int) float64 {
		n := &t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		l, r := &t.Nodes[n.Left], &t.Nodes[n.Right]
		return (l.Cover*walk(n.Left) + r.Cover*walk(n.Right)) / n.Cover
	}
	return walk(0)
}

func (t *tree) depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.leaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// vote turns a leaf's weighted fraud share into a tree vote. Ties go to fraud.
func vote(fraudShare float64) float64 {
	if fraudShare >= 0.5 {
		return 1
	}
	return 0
}

// grower builds one CART tree with Gini impurity on a weighted sample.
type grower struct {
	x              [][]float64
	y              []int
	w              []float64
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
	rng            *rand.Rand
	nodes          []node
}

type split struct {
	feature   int
	threshold float64
	score     float64
}

func (g *grower) build(idx []int) tree {
	g.grow(idx, 0)
	return tree{Nodes: g.nodes}
}

func (g *grower) grow(idx []int, depth int) int {
	var cover, fraud float64
	for _, i := range idx {
		cover += g.w[i]
		if g.y[i] == 1 {
			fraud += g.w[i]
		}
	}

	id := len(g.nodes)
	share := fraud / cover
	g.nodes = append(g.nodes, node{
		Feature: leafFeature,
		Left:    -1,
		Right:   -1,
		Cover:   cover,
		Fraud:   share,
		Value:   vote(share),
	})

	if fraud == 0 || fraud == cover {
		return id
	}
	if g.maxDepth > 0 && depth >= g.maxDepth {
		return id
	}
	if len(idx) < 2*g.minSamplesLeaf {
		return id
	}

	s, ok := g.bestSplit(idx)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if g.x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)

	n := &g.nodes[id]
	n.Feature = s.feature
	n.Threshold = s.threshold
	n.Left = l
	n.Right = r
	return id
}

// bestSplit draws features in random order and evaluates the first
// maxFeatures of them that are not constant within the node.
func (g *grower) bestSplit(idx []int) (split, bool) {
	nFeatures := len(g.x[idx[0]])
	sorted := make([]int, len(idx))

	best := split{feature: -1}
	found := false
	evaluated := 0

	for _, f := range g.rng.Perm(nFeatures) {
		if evaluated >= g.maxFeatures {
			break
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool {
			return g.x[sorted[a]][f] < g.x[sorted[b]][f]
		})
		lo, hi := g.x[sorted[0]][f], g.x[sorted[len(sorted)-1]][f]
		if lo == hi {
			continue
		}
		evaluated++

		if s, ok := g.sweep(sorted, f); ok && (!found || s.score > best.score) {
			best = s
			found = true
		}
	}

	return best, found
}

// sweep scans the sorted sample for the threshold maximizing the weighted Gini
// proxy sum over children of (fraud^2 + legit^2) / weight.
func (g *grower) sweep(sorted []int, f int) (split, bool) {
	var total, totalFraud float64
	for _, i := range sorted {
		total += g.w[i]
		if g.y[i] == 1 {
			totalFraud += g.w[i]
		}
	}

	best := split{feature: f}
	found := false
	var lw, lf float64

	for pos := 0; pos < len(sorted)-1; pos++ {
		i := sorted[pos]
		lw += g.w[i]
		if g.y[i] == 1 {
			lf += g.w[i]
		}

		a, b := g.x[i][f], g.x[sorted[pos+1]][f]
		if a == b {
			continue
		}
		if pos+1 < g.minSamplesLeaf || len(sorted)-pos-1 < g.minSamplesLeaf {
			continue
		}

		rw, rf := total-lw, totalFraud-lf
		ll, rl := lw-lf, rw-rf
		score := (lf*lf+ll*ll)/lw + (rf*rf+rl*rl)/rw
		if !found || score > best.score {
			threshold := a + (b-a)/2
			if threshold >= b {
				threshold = a
			}
			best.threshold = threshold
			best.score = score
			found = true
		}
	}

	return best, found
}
