package xgboost

import (
	"math"
	"sort"
)

// kRtEps is the smallest loss reduction worth a split before pruning.
const kRtEps = 1e-6

type node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Weight    float64 `json:"weight"`
	Gain      float64 `json:"gain"`
}

// tree is a regression tree stored as a flat node slice with the root at 0.
// Rows with x[Feature] < Threshold go left; NaN goes right.
type tree struct {
	Nodes []node `json:"nodes"`
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Weight
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *tree) leaves() int {
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].Leaf {
			count++
		}
	}
	return count
}

// builder grows one tree with the exact greedy algorithm on first and second
// order gradients, then prunes splits whose gain is below gamma.
type builder struct {
	samples  [][]float64
	grad     []float64
	hess     []float64
	opts     TrainOptions
	features int
	nodes    []node
}

func (b *builder) build(rows []int) tree {
	b.nodes = b.nodes[:0]
	b.grow(rows, 0)
	b.prune(0)
	return tree{Nodes: b.compact()}
}

func (b *builder) grow(rows []int, depth int) int {
	g, h := b.sums(rows)
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{
		Leaf:   true,
		Weight: b.opts.LearningRate * leafWeight(g, h, b.opts.Lambda),
	})
	if depth >= b.opts.MaxDepth || len(rows) < 2 {
		return idx
	}

	split, ok := b.bestSplit(rows, g, h)
	if !ok {
		return idx
	}

	left := make([]int, 0, split.leftCount)
	right := make([]int, 0, len(rows)-split.leftCount)
	for _, r := range rows {
		if b.samples[r][split.feature] < split.threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	n := &b.nodes[idx]
	n.Leaf = false
	n.Feature = split.feature
	n.Threshold = split.threshold
	n.Left = l
	n.Right = r
	n.Gain = split.gain
	return idx
}

type candidate struct {
	feature   int
	threshold float64
	gain      float64
	leftCount int
}

func (b *builder) bestSplit(rows []int, g, h float64) (candidate, bool) {
	lambda := b.opts.Lambda
	parent := g * g / (h + lambda)
	best := candidate{gain: kRtEps}
	found := false

	order := make([]int, len(rows))
	for f := 0; f < b.features; f++ {
		copy(order, rows)
		sort.SliceStable(order, func(i, j int) bool {
			return b.samples[order[i]][f] < b.samples[order[j]][f]
		})

		var gl, hl float64
		for i := 0; i < len(order)-1; i++ {
			gl += b.grad[order[i]]
			hl += b.hess[order[i]]
			cur := b.samples[order[i]][f]
			next := b.samples[order[i+1]][f]
			if cur == next {
				continue
			}
			gr := g - gl
			hr := h - hl
			if hl < b.opts.MinChildWeight || hr < b.opts.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > best.gain {
				threshold := cur + (next-cur)/2
				if !(threshold > cur) {
					threshold = next
				}
				best = candidate{
					feature:   f,
					threshold: threshold,
					gain:      gain,
					leftCount: i + 1,
				}
				found = true
			}
		}
	}
	return best, found
}

// prune collapses bottom-up every split whose children are both leaves and
// whose loss reduction does not exceed gamma.
func (b *builder) prune(i int) {
	n := &b.nodes[i]
	if n.Leaf {
		return
	}
	b.prune(n.Left)
	b.prune(n.Right)
	n = &b.nodes[i]
	if b.nodes[n.Left].Leaf && b.nodes[n.Right].Leaf && n.Gain < b.opts.Gamma {
		n.Leaf = true
		n.Left, n.Right, n.Feature, n.Threshold, n.Gain = 0, 0, 0, 0, 0
	}
}

// compact drops nodes orphaned by pruning and renumbers the survivors.
func (b *builder) compact() []node {
	out := make([]node, 0, len(b.nodes))
	var walk func(i int) int
	walk = func(i int) int {
		n := b.nodes[i]
		idx := len(out)
		out = append(out, n)
		if !n.Leaf {
			l := walk(n.Left)
			r := walk(n.Right)
			out[idx].Left = l
			out[idx].Right = r
		}
		return idx
	}
	walk(0)
	return out
}

func (b *builder) sums(rows []int) (float64, float64) {
	var g, h float64
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}
	return g, h
}

func leafWeight(g, h, lambda float64) float64 {
	den := h + lambda
	if den == 0 {
		return 0
	}
	w := -g / den
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0
	}
	return w
}
