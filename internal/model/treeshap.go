package model

// Path-dependent TreeSHAP (Lundberg et al., "Consistent Individualized
// Feature Attribution for Tree Ensembles", Algorithm 2). The result is the
// exact Shapley value of each feature for the conditional expectation
// E[f(x) | x_S] estimated from node covers, in margin (log-odds) space.

// pathElement tracks one feature on the current root-to-node path.
// zero is the fraction of "feature absent" flow, one is 1 if x follows
// this branch and weight is the permutation weight.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

// Attribute returns one contribution per feature and the expected margin.
// The contributions sum to Margin(x) - expected.
func (e *Ensemble) Attribute(x []float64) ([]float64, float64, error) {
	if err := e.checkDim(x); err != nil {
		return nil, 0, err
	}
	phi := make([]float64, e.NumFeatures)
	for ti := range e.Trees {
		e.Trees[ti].shap(x, phi)
	}
	return phi, e.expected, nil
}

func (t *Tree) shap(x, phi []float64) {
	t.recurse(0, x, phi, nil, 1, 1, -1)
}

func (t *Tree) recurse(idx int, x, phi []float64, parent []pathElement, zero, one float64, feature int) {
	depth := len(parent)
	path := make([]pathElement, depth+1)
	copy(path, parent)
	extendPath(path, depth, zero, one, feature)

	n := &t.Nodes[idx]
	if n.IsLeaf() {
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * n.Value
		}
		return
	}

	hot := n.next(x[n.Feature])
	cold := n.Left
	if hot == n.Left {
		cold = n.Right
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover

	// A feature already split on higher up is removed and re-entered so it
	// appears on the path once.
	incomingZero, incomingOne := 1.0, 1.0
	for k := 1; k <= depth; k++ {
		if path[k].feature == n.Feature {
			incomingZero, incomingOne = path[k].zero, path[k].one
			unwindPath(path, depth, k)
			path = path[:depth]
			break
		}
	}

	t.recurse(hot, x, phi, path, hotZero*incomingZero, incomingOne, n.Feature)
	t.recurse(cold, x, phi, path, coldZero*incomingZero, 0, n.Feature)
}

func extendPath(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / d
		path[i].weight = zero * path[i].weight * float64(depth-i) / d
	}
}

func unwindPath(path []pathElement, depth, k int) {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	d := float64(depth + 1)

	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}
	for i := k; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundPathSum is the total weight of the path with element k removed,
// without modifying path.
func unwoundPathSum(path []pathElement, depth, k int) float64 {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	d := float64(depth + 1)
	total := 0.0

	if one != 0 {
		for i := depth - 1; i >= 0; i-- {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		}
	} else {
		for i := depth - 1; i >= 0; i-- {
			total += path[i].weight * d / (zero * float64(depth-i))
		}
	}
	return total
}
