package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// TopKSample draws a token id from a probability row, restricted to the
// k most probable entries and reweighted by temperature. k <= 0 keeps
// the whole distribution; temperature <= 0 degenerates to argmax.
func TopKSample(probs []float64, k int, temperature float64, rng *rand.Rand) int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	if k <= 0 || k > len(idx) {
		k = len(idx)
	}
	if temperature <= 0 {
		return idx[0]
	}

	weights := make([]float64, k)
	var sum float64
	for i := 0; i < k; i++ {
		w := math.Pow(probs[idx[i]], 1/temperature)
		weights[i] = w
		sum += w
	}
	if sum == 0 {
		return idx[0]
	}

	r := rng.Float64() * sum
	var acc float64
	for i := 0; i < k; i++ {
		acc += weights[i]
		if r < acc {
			return idx[i]
		}
	}
	return idx[k-1]
}

// Generate extends a prompt with up to maxNew sampled tokens, stopping
// early at eosID. The prompt is consumed once; each later step feeds
// only the freshly sampled id with the carried state.
func Generate(m LanguageModel, prompt []int, maxNew, k int, temperature float64, eosID int, rng *rand.Rand) ([]int, error) {
	if len(prompt) == 0 {
		return nil, fmt.Errorf("model: empty prompt")
	}

	probs, st, err := m.Predict([][]int{prompt}, nil)
	if err != nil {
		return nil, err
	}

	out := append([]int(nil), prompt...)
	for i := 0; i < maxNew; i++ {
		id := TopKSample(probs.RawRowView(0), k, temperature, rng)
		out = append(out, id)
		if id == eosID {
			break
		}
		probs, st, err = m.Predict([][]int{{id}}, st)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
