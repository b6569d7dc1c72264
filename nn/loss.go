package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// CrossEntropyStep computes the summed cross-entropy of one time step's
// logits (batch × vocab) against integer targets, skipping rows whose
// target equals padID. Padded positions contribute neither loss nor
// gradient: their dLogits rows stay zero.
//
// Returns the loss sum, the number of counted (non-pad) rows, and the
// unnormalized gradient softmax(logits) - onehot(target) per counted
// row. The caller divides both by the total token count.
func CrossEntropyStep(logits *mat.Dense, targets []int, padID int) (float64, int, *mat.Dense) {
	b, v := logits.Dims()
	dLogits := mat.NewDense(b, v, nil)

	var lossSum float64
	n := 0
	for r := 0; r < b; r++ {
		if targets[r] == padID {
			continue
		}
		row := logits.RawRowView(r)
		dRow := dLogits.RawRowView(r)

		// Numerically stable log-softmax.
		maxVal := math.Inf(-1)
		for _, x := range row {
			if x > maxVal {
				maxVal = x
			}
		}
		var sumExp float64
		for j, x := range row {
			dRow[j] = math.Exp(x - maxVal)
			sumExp += dRow[j]
		}
		for j := range dRow {
			dRow[j] /= sumExp
		}

		p := dRow[targets[r]]
		if p < 1e-12 {
			p = 1e-12
		}
		lossSum -= math.Log(p)
		dRow[targets[r]] -= 1
		n++
	}
	return lossSum, n, dLogits
}

// SoftmaxRows normalizes each row of logits into a probability
// distribution over the vocabulary axis.
func SoftmaxRows(logits *mat.Dense) *mat.Dense {
	b, v := logits.Dims()
	out := mat.NewDense(b, v, nil)
	for r := 0; r < b; r++ {
		row := logits.RawRowView(r)
		oRow := out.RawRowView(r)
		maxVal := math.Inf(-1)
		for _, x := range row {
			if x > maxVal {
				maxVal = x
			}
		}
		var sum float64
		for j, x := range row {
			oRow[j] = math.Exp(x - maxVal)
			sum += oRow[j]
		}
		for j := range oRow {
			oRow[j] /= sum
		}
	}
	return out
}
