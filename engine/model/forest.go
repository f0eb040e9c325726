package model

import (
	"context"
	"fmt"
)

// leafMarker is scikit-learn's TREE_LEAF child index.
const leafMarker = -1

// Tree is one fitted decision tree in scikit-learn's array layout
// (estimator.tree_). Value holds one row of class weights per node.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

func (t *Tree) check(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("%w: empty tree", ErrInvalidBundle)
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("%w: tree arrays differ in length", ErrInvalidBundle)
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == leafMarker {
			if len(t.Value[i]) != nClasses {
				return fmt.Errorf("%w: leaf %d has %d class weights, want %d", ErrInvalidBundle, i, len(t.Value[i]), nClasses)
			}
			continue
		}
		// Children always come after their parent in scikit-learn trees,
		// which also rules out cycles.
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("%w: node %d has children %d/%d out of range", ErrInvalidBundle, i, l, r)
		}
		if f := t.Feature[i]; f < 0 || f >= nFeatures {
			return fmt.Errorf("%w: node %d splits on feature %d of %d", ErrInvalidBundle, i, f, nFeatures)
		}
	}
	return nil
}

// leaf walks x to a leaf and returns its index.
func (t *Tree) leaf(x []float64) int {
	node := 0
	for t.ChildrenLeft[node] != leafMarker {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}

// Forest averages normalised leaf distributions across trees, matching
// RandomForestClassifier.predict_proba.
type Forest struct {
	Trees    []Tree
	nClasses int
}

// NewForest validates the trees against the input width and class count.
func NewForest(trees []Tree, nFeatures, nClasses int) (*Forest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: forest has no trees", ErrInvalidBundle)
	}
	for i := range trees {
		if err := trees[i].check(nFeatures, nClasses); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &Forest{Trees: trees, nClasses: nClasses}, nil
}

// PredictProba implements Classifier.
func (f *Forest) PredictProba(_ context.Context, x []float64) ([]float64, error) {
	out := make([]float64, f.nClasses)
	for i := range f.Trees {
		t := &f.Trees[i]
		w := t.Value[t.leaf(x)]
		var total float64
		for _, v := range w {
			total += v
		}
		if total <= 0 {
			return nil, fmt.Errorf("tree %d: leaf has no weight", i)
		}
		for c, v := range w {
			out[c] += v / total
		}
	}
	n := float64(len(f.Trees))
	for c := range out {
		out[c] /= n
	}
	return out, nil
}

// Close implements Classifier.
func (f *Forest) Close() error { return nil }
