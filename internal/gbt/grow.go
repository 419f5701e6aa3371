package gbt

import (
	"math"
	"math/rand/v2"
)

// grower holds the per-fit scratch state shared by all trees.
type grower struct {
	params Params
	X      [][]float64
	order  [][]int32

	resid []float64
	hess  []float64
	inBag []bool

	// nodeOf maps a row to the node it currently sits in, -1 when out of bag.
	nodeOf []int32
}

type frontierNode struct {
	id    int
	count int
	sum   float64
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

// sample draws the rows the next tree is fitted on.
func (g *grower) sample(rng *rand.Rand) {
	n := len(g.inBag)
	if g.params.Subsample >= 1 {
		for i := range g.inBag {
			g.inBag[i] = true
		}
		return
	}
	for i := range g.inBag {
		g.inBag[i] = false
	}
	k := max(1, int(math.Round(g.params.Subsample*float64(n))))
	for _, i := range rng.Perm(n)[:k] {
		g.inBag[i] = true
	}
}

// grow fits one regression tree to the current residuals and returns it with
// the unnormalised impurity decrease per feature, divided by the root size.
func (g *grower) grow() (tree, []float64) {
	d := len(g.order)
	nodes := []node{{Feature: -1}}
	dec := make([]float64, d)

	root := frontierNode{id: 0}
	for i := range g.nodeOf {
		if g.inBag[i] {
			g.nodeOf[i] = 0
			root.count++
			root.sum += g.resid[i]
		} else {
			g.nodeOf[i] = -1
		}
	}
	frontier := []frontierNode{root}

	for depth := 0; depth < g.params.MaxDepth && len(frontier) > 0; depth++ {
		best := g.bestSplits(frontier, len(nodes))

		start := len(nodes)
		var next []frontierNode
		for s, fn := range frontier {
			b := best[s]
			if b.feature < 0 {
				continue
			}
			l := len(nodes)
			nodes = append(nodes, node{Feature: -1}, node{Feature: -1})
			nodes[fn.id].Feature = b.feature
			nodes[fn.id].Threshold = b.threshold
			nodes[fn.id].Left = l
			nodes[fn.id].Right = l + 1
			dec[b.feature] += b.gain
			next = append(next, frontierNode{id: l}, frontierNode{id: l + 1})
		}
		if len(next) == 0 {
			break
		}

		for i, nid := range g.nodeOf {
			if nid < 0 {
				continue
			}
			nd := &nodes[nid]
			if nd.Feature < 0 {
				continue
			}
			child := nd.Right
			if g.X[i][nd.Feature] <= nd.Threshold {
				child = nd.Left
			}
			g.nodeOf[i] = int32(child)
			next[child-start].count++
			next[child-start].sum += g.resid[i]
		}
		frontier = next
	}

	num := make([]float64, len(nodes))
	den := make([]float64, len(nodes))
	for i, nid := range g.nodeOf {
		if nid >= 0 {
			num[nid] += g.resid[i]
			den[nid] += g.hess[i]
		}
	}
	for id := range nodes {
		if nodes[id].Feature < 0 && den[id] > 1e-150 {
			nodes[id].Value = num[id] / den[id]
		}
	}

	if root.count > 0 {
		for f := range dec {
			dec[f] /= float64(root.count)
		}
	}
	return tree{Nodes: nodes}, dec
}

// bestSplits scans every feature once in sorted order and returns the best
// split of each frontier node. Nodes that cannot be split get feature -1.
func (g *grower) bestSplits(frontier []frontierNode, nodeCount int) []split {
	msl := g.params.MinSamplesLeaf
	k := len(frontier)

	best := make([]split, k)
	slotOf := make([]int32, nodeCount)
	for i := range slotOf {
		slotOf[i] = -1
	}
	for s, fn := range frontier {
		best[s] = split{feature: -1}
		if fn.count >= g.params.MinSamplesSplit && fn.count >= 2*msl {
			slotOf[fn.id] = int32(s)
		}
	}

	leftCnt := make([]int, k)
	leftSum := make([]float64, k)
	last := make([]float64, k)
	seen := make([]bool, k)

	for f, order := range g.order {
		clear(leftCnt)
		clear(leftSum)
		clear(seen)
		for _, i32 := range order {
			nid := g.nodeOf[i32]
			if nid < 0 {
				continue
			}
			s := slotOf[nid]
			if s < 0 {
				continue
			}
			x := g.X[i32][f]
			if seen[s] && x > last[s] {
				nl := leftCnt[s]
				nr := frontier[s].count - nl
				if nl >= msl && nr >= msl {
					sl := leftSum[s]
					sr := frontier[s].sum - sl
					diff := sl/float64(nl) - sr/float64(nr)
					gain := float64(nl) * float64(nr) / float64(nl+nr) * diff * diff
					if gain > minGain && gain > best[s].gain {
						thr := (last[s] + x) / 2
						if thr >= x {
							thr = last[s]
						}
						best[s] = split{feature: f, threshold: thr, gain: gain}
					}
				}
			}
			leftCnt[s]++
			leftSum[s] += g.resid[i32]
			last[s] = x
			seen[s] = true
		}
	}
	return best
}
