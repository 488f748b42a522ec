package model

import (
	"errors"
	"fmt"
	"math"
)

// tree is one regression tree in array form. Node 0 is the root; a node
// whose left child is -1 is a leaf and its split condition is the leaf value.
type tree struct {
	left        []int32
	right       []int32
	feature     []int32
	threshold   []float64
	defaultLeft []bool
}

func buildTree(td treeDoc, numFeature int) (tree, error) {
	n := len(td.LeftChildren)
	if n == 0 {
		return tree{}, errors.New("no nodes")
	}
	if len(td.RightChildren) != n || len(td.SplitIndices) != n || len(td.SplitConditions) != n {
		return tree{}, errors.New("node arrays differ in length")
	}
	if len(td.DefaultLeft) != n {
		return tree{}, errors.New("default_left length mismatch")
	}

	t := tree{
		left:        make([]int32, n),
		right:       make([]int32, n),
		feature:     make([]int32, n),
		threshold:   make([]float64, n),
		defaultLeft: make([]bool, n),
	}

	for i := 0; i < n; i++ {
		if len(td.SplitType) > i && td.SplitType[i] != 0 {
			return tree{}, fmt.Errorf("node %d: categorical splits are not supported", i)
		}
		l, r := td.LeftChildren[i], td.RightChildren[i]
		if l == -1 {
			if math.IsNaN(td.SplitConditions[i]) || math.IsInf(td.SplitConditions[i], 0) {
				return tree{}, fmt.Errorf("node %d: non-finite leaf value", i)
			}
		} else {
			// Children always follow their parent, which rules out cycles.
			if l <= i || l >= n || r <= i || r >= n {
				return tree{}, fmt.Errorf("node %d: child index out of range", i)
			}
			if f := td.SplitIndices[i]; f < 0 || f >= numFeature {
				return tree{}, fmt.Errorf("node %d: split feature %d out of range", i, f)
			}
		}
		t.left[i] = int32(l)
		t.right[i] = int32(r)
		t.feature[i] = int32(td.SplitIndices[i])
		t.threshold[i] = td.SplitConditions[i]
		t.defaultLeft[i] = td.DefaultLeft[i]
	}
	return t, nil
}

// predict walks from the root to a leaf. Values below the split condition go
// left; a missing (NaN) value follows the node's default direction.
func (t *tree) predict(x []float64) float64 {
	node := int32(0)
	for t.left[node] != -1 {
		v := x[t.feature[node]]
		switch {
		case math.IsNaN(v):
			if t.defaultLeft[node] {
				node = t.left[node]
			} else {
				node = t.right[node]
			}
		case v < t.threshold[node]:
			node = t.left[node]
		default:
			node = t.right[node]
		}
	}
	return t.threshold[node]
}
