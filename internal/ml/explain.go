package ml

import (
	"fraudscore/internal/features"
)

// Contribution is one feature's share of a prediction.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"contribution"`
}

// Attribution explains one prediction of the fraud-class probability:
// Baseline + sum(Contributions) == Prediction.
type Attribution struct {
	Baseline      float64        `json:"baseline"`
	Prediction    float64        `json:"prediction"`
	Contributions []Contribution `json:"contributions"`
}

// Sum adds up the contributions.
func (a Attribution) Sum() float64 {
	var s float64
	for _, c := range a.Contributions {
		s += c.Value
	}
	return s
}

// Values returns the contributions in feature order.
func (a Attribution) Values() []float64 {
	out := make([]float64, len(a.Contributions))
	for i, c := range a.Contributions {
		out[i] = c.Value
	}
	return out
}

// Explain computes exact path-dependent TreeSHAP values of the fraud-class
// probability for v. The model is only read, so concurrent calls are safe.
func Explain(model *Classifier, v features.Vector) (Attribution, error) {
	if err := model.checkVector(v); err != nil {
		return Attribution{}, err
	}

	phi := make([]float64, len(model.featureNames))
	var prediction float64
	for i := range model.trees {
		t := &model.trees[i]
		treeShap(t, v.Values, phi, 0, nil, 0, 1, 1, leafFeature)
		prediction += t.predict(v.Values)
	}

	scale := 1 / float64(len(model.trees))
	out := Attribution{
		Baseline:      model.baseline,
		Prediction:    prediction * scale,
		Contributions: make([]Contribution, len(phi)),
	}
	for i, name := range model.featureNames {
		out.Contributions[i] = Contribution{Feature: name, Value: phi[i] * scale}
	}
	return out, nil
}

// Explain is a convenience wrapper around the package-level Explain.
func (c *Classifier) Explain(v features.Vector) (Attribution, error) {
	return Explain(c, v)
}

// pathElement tracks one feature along the unique-feature path from the root:
// the fraction of "zero" paths (feature absent, weighted by cover), whether the
// path is consistent with x ("one"), and the permutation weight.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

// treeShap follows Lundberg et al., "Consistent Individualized Feature
// Attribution for Tree Ensembles", Algorithm 2.
func treeShap(t *tree, x, phi []float64, nodeIndex int, parent []pathElement, depth int, zero, one float64, feature int) {
	path := make([]pathElement, depth+1)
	copy(path, parent[:depth])
	extendPath(path, depth, zero, one, feature)

	n := &t.Nodes[nodeIndex]
	if n.leaf() {
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * n.Value
		}
		return
	}

	hot, cold := n.Left, n.Right
	if x[n.Feature] > n.Threshold {
		hot, cold = cold, hot
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover
	inZero, inOne := 1.0, 1.0

	// A feature already on the path is unwound and re-extended at this node.
	k := 1
	for ; k <= depth; k++ {
		if path[k].feature == n.Feature {
			break
		}
	}
	if k <= depth {
		inZero = path[k].zero
		inOne = path[k].one
		unwindPath(path, depth, k)
		depth--
	}

	treeShap(t, x, phi, hot, path, depth+1, hotZero*inZero, inOne, n.Feature)
	treeShap(t, x, phi, cold, path, depth+1, coldZero*inZero, 0, n.Feature)
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

// unwoundPathSum is the total permutation weight of the path with element k
// removed, without modifying the path.
func unwoundPathSum(path []pathElement, depth, k int) float64 {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	var total float64

	if one != 0 {
		for i := depth - 1; i >= 0; i-- {
			tmp := next / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)
		}
	} else {
		for i := depth - 1; i >= 0; i-- {
			total += path[i].weight / (zero * float64(depth-i))
		}
	}
	return total * float64(depth+1)
}
