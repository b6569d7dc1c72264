package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Embedding is a token id -> vector lookup table. The padding row is
// zero-initialized so padded positions start as null vectors; the loss
// mask keeps them from ever receiving gradient through targets.
type Embedding struct {
	Weight    *Param // vocabSize × embedDim
	VocabSize int
	EmbedDim  int
}

// NewEmbedding creates an embedding with uniform init in ±bound and a
// zeroed padding row.
func NewEmbedding(vocabSize, embedDim, padID int, bound float64, src rand.Source) (*Embedding, error) {
	if vocabSize < 1 || embedDim < 1 {
		return nil, fmt.Errorf("embedding: vocabSize %d and embedDim %d must be >= 1", vocabSize, embedDim)
	}
	if padID < 0 || padID >= vocabSize {
		return nil, fmt.Errorf("embedding: padID %d out of range [0, %d)", padID, vocabSize)
	}

	w := NewParam("weight", vocabSize, embedDim, -bound, bound, src)
	for d := 0; d < embedDim; d++ {
		w.Val.Set(padID, d, 0)
	}
	return &Embedding{Weight: w, VocabSize: vocabSize, EmbedDim: embedDim}, nil
}

// Lookup gathers rows for one time step: ids has one entry per batch
// element, output is batch × embedDim.
func (e *Embedding) Lookup(ids []int) (*mat.Dense, error) {
	out := mat.NewDense(len(ids), e.EmbedDim, nil)
	for b, id := range ids {
		if id < 0 || id >= e.VocabSize {
			return nil, fmt.Errorf("embedding: id %d at batch %d out of range [0, %d)", id, b, e.VocabSize)
		}
		out.SetRow(b, e.Weight.Val.RawRowView(id))
	}
	return out, nil
}

// Scatter accumulates the gradient of one time step's lookup back into
// the weight rows addressed by ids.
func (e *Embedding) Scatter(ids []int, dx *mat.Dense) {
	for b, id := range ids {
		for d := 0; d < e.EmbedDim; d++ {
			e.Weight.Grad.Set(id, d, e.Weight.Grad.At(id, d)+dx.At(b, d))
		}
	}
}

// Params returns the trainable parameters.
func (e *Embedding) Params() []*Param { return []*Param{e.Weight} }
