package model

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// GBTParams configures least-squares gradient boosting over regression trees.
type GBTParams struct {
	NumTrees       int     `json:"num_trees"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
}

// DefaultGBTParams mirrors the usual scikit-learn defaults.
func DefaultGBTParams() GBTParams {
	return GBTParams{
		NumTrees:       100,
		LearningRate:   0.1,
		MaxDepth:       3,
		MinSamplesLeaf: 5,
	}
}

func (p GBTParams) validate() error {
	if p.NumTrees <= 0 || p.LearningRate <= 0 || p.MaxDepth <= 0 || p.MinSamplesLeaf <= 0 {
		return fmt.Errorf("model: invalid gbt params %+v", p)
	}
	return nil
}

// node is a flattened tree node. Feature < 0 marks a leaf.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

type regressionTree struct {
	Nodes []node `json:"nodes"`
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type gbtModel struct {
	Base         float64          `json:"base"`
	LearningRate float64          `json:"learning_rate"`
	NumFeatures  int              `json:"num_features"`
	Trees        []regressionTree `json:"trees"`
}

func (m *gbtModel) Predict(x []float64) float64 {
	out := m.Base
	for i := range m.Trees {
		out += m.LearningRate * m.Trees[i].predict(x)
	}
	return out
}

func (m *gbtModel) validate() error {
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("model: gbt tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature < 0 {
				continue
			}
			if n.Feature >= m.NumFeatures ||
				n.Left <= ni || n.Left >= len(t.Nodes) ||
				n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("model: gbt tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return nil
}

func trainGBT(ctx context.Context, p GBTParams, X [][]float64, y []float64) (*gbtModel, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	n := len(y)
	m := &gbtModel{
		Base:         mean(y),
		LearningRate: p.LearningRate,
		NumFeatures:  len(X[0]),
		Trees:        make([]regressionTree, 0, p.NumTrees),
	}

	pred := make([]float64, n)
	resid := make([]float64, n)
	for i := range pred {
		pred[i] = m.Base
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	for t := 0; t < p.NumTrees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}
		g := &treeGrower{X: X, target: resid, params: p}
		g.grow(rows, 0)
		tree := regressionTree{Nodes: g.nodes}
		for i := range pred {
			pred[i] += p.LearningRate * tree.predict(X[i])
		}
		m.Trees = append(m.Trees, tree)
	}
	return m, nil
}

type treeGrower struct {
	X      [][]float64
	target []float64
	params GBTParams
	nodes  []node
}

func (g *treeGrower) grow(rows []int, depth int) int {
	var sum float64
	for _, r := range rows {
		sum += g.target[r]
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, node{Feature: -1, Value: sum / float64(len(rows))})

	if depth >= g.params.MaxDepth || len(rows) < 2*g.params.MinSamplesLeaf {
		return id
	}
	feature, threshold, ok := g.bestSplit(rows, sum)
	if !ok {
		return id
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if g.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[id] = node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return id
}

// bestSplit scans every feature for the threshold with the largest reduction
// in squared error subject to the minimum leaf size.
func (g *treeGrower) bestSplit(rows []int, total float64) (int, float64, bool) {
	n := len(rows)
	minLeaf := g.params.MinSamplesLeaf
	base := total * total / float64(n)

	bestGain := 1e-12
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for f := range g.X[rows[0]] {
		copy(sorted, rows)
		slices.SortFunc(sorted, func(a, b int) int {
			if c := cmp.Compare(g.X[a][f], g.X[b][f]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += g.target[sorted[k-1]]
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			lo, hi := g.X[sorted[k-1]][f], g.X[sorted[k]][f]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k) - base
			if gain > bestGain {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				bestGain, bestFeature, bestThreshold, found = gain, f, threshold, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
