package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"fraudscore/internal/features"
)

type weighted struct {
	value  string
	weight float64
}

func pick(rng *rand.Rand, choices []weighted) string {
	var total float64
	for _, c := range choices {
		total += c.weight
	}
	x := rng.Float64() * total
	for _, c := range choices {
		if x < c.weight {
			return c.value
		}
		x -= c.weight
	}
	return choices[len(choices)-1].value
}

type profile struct {
	amountMu, amountSigma float64
	distanceScale        float64
	distanceMissing      float64
	deviceMissing        float64
	products             []weighted
	networks             []weighted
	devices              []weighted
}

var (
	legitimateProfile = profile{
		amountMu:        3.8,
		amountSigma:     0.8,
		distanceScale:   15,
		distanceMissing: 0.5,
		deviceMissing:   0.6,
		products:        []weighted{{"W", 0.70}, {"C", 0.10}, {"R", 0.08}, {"H", 0.07}, {"S", 0.05}},
		networks:        []weighted{{"visa", 0.62}, {"mastercard", 0.30}, {"amex", 0.05}, {"discover", 0.03}},
		devices:         []weighted{{"desktop", 0.65}, {"mobile", 0.35}},
	}
	fraudProfile = profile{
		amountMu:        5.2,
		amountSigma:     0.9,
		distanceScale:   250,
		distanceMissing: 0.3,
		deviceMissing:   0.2,
		products:        []weighted{{"C", 0.50}, {"W", 0.25}, {"H", 0.10}, {"R", 0.08}, {"S", 0.07}},
		networks:        []weighted{{"visa", 0.45}, {"mastercard", 0.25}, {"discover", 0.20}, {"amex", 0.10}},
		devices:         []weighted{{"mobile", 0.75}, {"desktop", 0.25}},
	}
)

// Synthetic returns n labeled records of which round(n*fraudRate) are fraud.
// Fraud rows skew towards larger amounts, longer distances, product C and
// mobile devices. The output depends only on its arguments.
func Synthetic(n int, fraudRate float64, seed uint64) ([]features.Record, error) {
	if n <= 0 {
		return nil, fmt.Errorf("synthetic: record count must be positive, got %d", n)
	}
	if fraudRate < 0 || fraudRate > 1 || math.IsNaN(fraudRate) {
		return nil, fmt.Errorf("synthetic: fraud rate must be in [0, 1], got %f", fraudRate)
	}

	rng := rand.New(rand.NewPCG(seed, 0xf4a0d))

	fraudCount := int(math.Round(float64(n) * fraudRate))
	order := rng.Perm(n)
	isFraud := make([]bool, n)
	for _, i := range order[:fraudCount] {
		isFraud[i] = true
	}

	records := make([]features.Record, n)
	for i := range records {
		p, label := legitimateProfile, 0
		if isFraud[i] {
			p, label = fraudProfile, 1
		}
		records[i] = p.sample(rng).WithLabel(label)
	}
	return records, nil
}

func (p profile) sample(rng *rand.Rand) features.Record {
	r := features.NewRecord()

	amount := math.Exp(p.amountMu + p.amountSigma*rng.NormFloat64())
	r.Numeric[features.FieldTransactionAmt] = math.Round(amount*100) / 100
	r.Numeric[features.FieldCard1] = float64(1000 + rng.IntN(17000))
	r.Numeric[features.FieldAddr1] = float64(100 + rng.IntN(440))
	if rng.Float64() >= p.distanceMissing {
		r.Numeric[features.FieldDist1] = math.Round(rng.ExpFloat64() * p.distanceScale)
	}

	r.Categorical[features.FieldProductCD] = pick(rng, p.products)
	r.Categorical[features.FieldCard4] = pick(rng, p.networks)
	if rng.Float64() >= p.deviceMissing {
		r.Categorical[features.FieldDeviceType] = pick(rng, p.devices)
	}
	return r
}
