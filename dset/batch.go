package dset

import (
	"github.com/shangrex/language-model-playground/tokenizer"
)

// Batch is one training step's batch-major id matrices: Next is Cur
// shifted left by one position.
type Batch struct {
	Cur  [][]int
	Next [][]int
}

// EncodeAll turns text samples into fixed-length id rows: encode with
// begin/end markers, then pad or truncate to maxSeqLen.
func EncodeAll(tk tokenizer.Tokenizer, samples []string, maxSeqLen int) [][]int {
	ids := make([][]int, len(samples))
	for i, s := range samples {
		ids[i] = tokenizer.PadToMax(maxSeqLen, tk.Encode(s))
	}
	return ids
}

// MakeBatches groups encoded rows into batches of at most batchSize,
// visiting rows in the given index order. Each row of length L yields a
// (cur, next) pair of length L-1.
func MakeBatches(ids [][]int, order []int, batchSize int) []Batch {
	var batches []Batch
	for lo := 0; lo < len(order); lo += batchSize {
		hi := lo + batchSize
		if hi > len(order) {
			hi = len(order)
		}
		b := Batch{
			Cur:  make([][]int, 0, hi-lo),
			Next: make([][]int, 0, hi-lo),
		}
		for _, idx := range order[lo:hi] {
			row := ids[idx]
			b.Cur = append(b.Cur, row[:len(row)-1])
			b.Next = append(b.Next, row[1:])
		}
		batches = append(batches, b)
	}
	return batches
}
