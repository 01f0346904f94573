// Package model implements the gradient-boosted tree ensemble used to score
// transactions, and exact path-dependent TreeSHAP attribution over it.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
)

// ObjectiveBinaryLogistic is the only supported objective: leaf values are
// log-odds and the probability is the logistic of their sum.
const ObjectiveBinaryLogistic = "binary:logistic"

// coverTolerance is the relative slack allowed when checking that child
// covers add up to their parent's.
const coverTolerance = 1e-6

// Node is one node of a regression tree. A node is a leaf iff Left < 0.
// Internal nodes send x[Feature] < Threshold left, NaN to Missing and
// everything else right.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Missing   int     `json:"missing"`
	Value     float64 `json:"value"`
	Cover     float64 `json:"cover"`
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool { return n.Left < 0 }

// Tree is a single regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Ensemble is a binary gradient-boosted tree classifier.
type Ensemble struct {
	Version     string  `json:"version"`
	Objective   string  `json:"objective"`
	BaseMargin  float64 `json:"base_margin"`
	NumFeatures int     `json:"num_features"`
	Trees       []Tree  `json:"trees"`

	expected float64
}

// Parse decodes and validates an ensemble.
func Parse(data []byte) (*Ensemble, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var e Ensemble
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the structural invariants every scoring and attribution
// routine relies on. It also caches the expected value of the ensemble.
func (e *Ensemble) Validate() error {
	if e.Objective != ObjectiveBinaryLogistic {
		return fmt.Errorf("unsupported objective %q", e.Objective)
	}
	if e.NumFeatures <= 0 {
		return errors.New("num_features must be positive")
	}
	if len(e.Trees) == 0 {
		return errors.New("model has no trees")
	}
	if !isFinite(e.BaseMargin) {
		return errors.New("base_margin must be finite")
	}

	expected := e.BaseMargin
	for ti := range e.Trees {
		if err := e.Trees[ti].validate(e.NumFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", ti, err)
		}
		expected += e.Trees[ti].expectedValue(0)
	}
	e.expected = expected
	return nil
}

func (t *Tree) validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}

	parents := make([]int, len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if !(n.Cover > 0) || math.IsInf(n.Cover, 0) {
			return fmt.Errorf("node %d: cover must be positive, got %v", i, n.Cover)
		}
		if n.IsLeaf() {
			if !isFinite(n.Value) {
				return fmt.Errorf("node %d: leaf value must be finite", i)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature index %d out of range [0,%d)", i, n.Feature, numFeatures)
		}
		if !isFinite(n.Threshold) {
			return fmt.Errorf("node %d: threshold must be finite", i)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(t.Nodes) {
				return fmt.Errorf("node %d: child index %d must be in (%d,%d)", i, child, i, len(t.Nodes))
			}
			parents[child]++
		}
		if n.Left == n.Right {
			return fmt.Errorf("node %d: left and right children are the same node", i)
		}
		if n.Missing != n.Left && n.Missing != n.Right {
			return fmt.Errorf("node %d: missing branch %d is neither child", i, n.Missing)
		}
		sum := t.Nodes[n.Left].Cover + t.Nodes[n.Right].Cover
		if math.Abs(sum-n.Cover) > coverTolerance*math.Max(1, n.Cover) {
			return fmt.Errorf("node %d: children cover %v does not match cover %v", i, sum, n.Cover)
		}
	}
	for i := 1; i < len(parents); i++ {
		if parents[i] != 1 {
			return fmt.Errorf("node %d: referenced by %d parents", i, parents[i])
		}
	}
	return nil
}

// expectedValue is the cover-weighted mean leaf value below node idx.
func (t *Tree) expectedValue(idx int) float64 {
	n := &t.Nodes[idx]
	if n.IsLeaf() {
		return n.Value
	}
	l, r := &t.Nodes[n.Left], &t.Nodes[n.Right]
	return (l.Cover*t.expectedValue(n.Left) + r.Cover*t.expectedValue(n.Right)) / n.Cover
}

// leaf returns the index of the leaf x falls into.
func (t *Tree) leaf(x []float64) int {
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.IsLeaf() {
			return idx
		}
		idx = n.next(x[n.Feature])
	}
}

func (n *Node) next(v float64) int {
	switch {
	case math.IsNaN(v):
		return n.Missing
	case v < n.Threshold:
		return n.Left
	default:
		return n.Right
	}
}

// TreeCount returns the number of trees.
func (e *Ensemble) TreeCount() int { return len(e.Trees) }

// ExpectedValue is the model's mean margin over the training distribution,
// the baseline attributions are measured against.
func (e *Ensemble) ExpectedValue() float64 { return e.expected }

// Margin returns the raw log-odds for x.
func (e *Ensemble) Margin(x []float64) (float64, error) {
	if err := e.checkDim(x); err != nil {
		return 0, err
	}
	m := e.BaseMargin
	for ti := range e.Trees {
		t := &e.Trees[ti]
		m += t.Nodes[t.leaf(x)].Value
	}
	if !isFinite(m) {
		return 0, &domain.InternalScoringError{Reason: fmt.Sprintf("non-finite margin %v", m)}
	}
	return m, nil
}

// PredictProba returns the fraud probability for x.
func (e *Ensemble) PredictProba(x []float64) (float64, error) {
	m, err := e.Margin(x)
	if err != nil {
		return 0, err
	}
	return Sigmoid(m), nil
}

func (e *Ensemble) checkDim(x []float64) error {
	if len(x) != e.NumFeatures {
		return &domain.InternalScoringError{
			Reason: fmt.Sprintf("dimension mismatch: vector has %d features, model expects %d", len(x), e.NumFeatures),
		}
	}
	return nil
}

// Sigmoid is the logistic function.
func Sigmoid(m float64) float64 {
	if m >= 0 {
		return 1 / (1 + math.Exp(-m))
	}
	z := math.Exp(m)
	return z / (1 + z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
