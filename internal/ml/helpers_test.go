package ml

import (
	"math/rand/v2"
	"testing"

	"fraudscore/internal/features"

	"github.com/stretchr/testify/require"
)

var toySchema = features.Schema{
	{Name: "amount", Kind: features.Numeric},
	{Name: "distance", Kind: features.Numeric},
	{Name: "channel", Kind: features.Categorical},
	{Name: "constant", Kind: features.Numeric},
}

// toyData returns n records where fraud is driven by a high amount combined
// with a long distance or the "web" channel.
func toyData(n int, seed uint64) ([]features.Record, []int) {
	rng := rand.New(rand.NewPCG(seed, 7))
	channels := []string{"app", "store", "web"}

	records := make([]features.Record, n)
	labels := make([]int, n)
	for i := range records {
		r := features.NewRecord()
		amount := rng.Float64() * 100
		distance := rng.Float64() * 50
		channel := channels[rng.IntN(len(channels))]
		r.Numeric["amount"] = amount
		r.Numeric["distance"] = distance
		r.Numeric["constant"] = 1
		r.Categorical["channel"] = channel

		if amount > 70 && (distance > 25 || channel == "web") {
			labels[i] = Fraud
		}
		records[i] = r
	}
	return records, labels
}

func toyVectors(t *testing.T, n int, seed uint64) (*features.Codec, []features.Vector, []int) {
	t.Helper()
	records, labels := toyData(n, seed)
	codec := features.NewCodec(toySchema)
	require.NoError(t, codec.Fit(records))

	vectors := make([]features.Vector, n)
	for i, r := range records {
		v, err := codec.Transform(r)
		require.NoError(t, err)
		vectors[i] = v
	}
	return codec, vectors, labels
}

// stumpClassifier is a hand-built one-split model over two features:
// feature 0 <= 0.5 goes to a legitimate leaf, otherwise to a fraud leaf,
// each side holding half of the training cover.
func stumpClassifier() *Classifier {
	return &Classifier{
		cfg:          DefaultConfig().withDefaults(),
		codecID:      "stump",
		featureNames: []string{"a", "b"},
		trees: []tree{{Nodes: []node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Cover: 2, Fraud: 0.5},
			{Feature: leafFeature, Left: -1, Right: -1, Cover: 1, Fraud: 0, Value: 0},
			{Feature: leafFeature, Left: -1, Right: -1, Cover: 1, Fraud: 1, Value: 1},
		}}},
		baseline: 0.5,
	}
}

func stumpVector(a, b float64) features.Vector {
	return features.Vector{CodecID: "stump", Names: []string{"a", "b"}, Values: []float64{a, b}}
}
