package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// SelfAttention is single-head causal scaled dot-product attention over
// a full sequence of hidden states. It operates per sample: the input is
// one sequence's seqLen × dim matrix.
type SelfAttention struct {
	Wq  *Param // dim × dim
	Wk  *Param // dim × dim
	Wv  *Param // dim × dim
	Dim int
}

// AttnCache holds one sample's forward intermediates.
type AttnCache struct {
	X       *mat.Dense // seqLen × dim input
	Q, K, V *mat.Dense
	A       *mat.Dense // seqLen × seqLen attention weights (causal)
}

// NewSelfAttention creates the query/key/value projections with uniform
// init in ±bound.
func NewSelfAttention(dim int, bound float64, src rand.Source) *SelfAttention {
	return &SelfAttention{
		Wq:  NewParam("wq", dim, dim, -bound, bound, src),
		Wk:  NewParam("wk", dim, dim, -bound, bound, src),
		Wv:  NewParam("wv", dim, dim, -bound, bound, src),
		Dim: dim,
	}
}

// Forward computes causal attention for one sample.
//
//	A = softmax(Q·K^T / sqrt(dim)) with j > i masked out
//	out = A·V
func (a *SelfAttention) Forward(x *mat.Dense) (*mat.Dense, *AttnCache, error) {
	s, c := x.Dims()
	if c != a.Dim {
		return nil, nil, fmt.Errorf("attention: input features %d, want %d", c, a.Dim)
	}

	q := mat.NewDense(s, a.Dim, nil)
	k := mat.NewDense(s, a.Dim, nil)
	v := mat.NewDense(s, a.Dim, nil)
	q.Mul(x, a.Wq.Val)
	k.Mul(x, a.Wk.Val)
	v.Mul(x, a.Wv.Val)

	scale := 1 / math.Sqrt(float64(a.Dim))
	attn := mat.NewDense(s, s, nil)
	for i := 0; i < s; i++ {
		qRow := q.RawRowView(i)
		// Scores over the causal prefix, max-shifted softmax.
		maxScore := math.Inf(-1)
		scores := make([]float64, i+1)
		for j := 0; j <= i; j++ {
			kRow := k.RawRowView(j)
			var dot float64
			for d := 0; d < a.Dim; d++ {
				dot += qRow[d] * kRow[d]
			}
			scores[j] = dot * scale
			if scores[j] > maxScore {
				maxScore = scores[j]
			}
		}
		var sum float64
		for j := 0; j <= i; j++ {
			scores[j] = math.Exp(scores[j] - maxScore)
			sum += scores[j]
		}
		for j := 0; j <= i; j++ {
			attn.Set(i, j, scores[j]/sum)
		}
	}

	out := mat.NewDense(s, a.Dim, nil)
	out.Mul(attn, v)
	return out, &AttnCache{X: x, Q: q, K: k, V: v, A: attn}, nil
}

// Backward backpropagates one sample, accumulating Wq/Wk/Wv grads and
// returning the gradient w.r.t. the input sequence.
func (a *SelfAttention) Backward(cc *AttnCache, dOut *mat.Dense) *mat.Dense {
	s, _ := dOut.Dims()
	scale := 1 / math.Sqrt(float64(a.Dim))

	// dV = A^T · dOut, dA = dOut · V^T
	var dV, dA mat.Dense
	dV.Mul(cc.A.T(), dOut)
	dA.Mul(dOut, cc.V.T())

	// Softmax backward per row, causal support only:
	// dScore_ij = A_ij * (dA_ij - sum_j' dA_ij' * A_ij')
	dScore := mat.NewDense(s, s, nil)
	for i := 0; i < s; i++ {
		var dot float64
		for j := 0; j <= i; j++ {
			dot += dA.At(i, j) * cc.A.At(i, j)
		}
		for j := 0; j <= i; j++ {
			dScore.Set(i, j, cc.A.At(i, j)*(dA.At(i, j)-dot))
		}
	}

	// Score_ij = scale * Q_i · K_j
	var dQ, dK mat.Dense
	dQ.Mul(dScore, cc.K)
	dQ.Scale(scale, &dQ)
	dK.Mul(dScore.T(), cc.Q)
	dK.Scale(scale, &dK)

	var dWq, dWk, dWv mat.Dense
	dWq.Mul(cc.X.T(), &dQ)
	dWk.Mul(cc.X.T(), &dK)
	dWv.Mul(cc.X.T(), &dV)
	a.Wq.Grad.Add(a.Wq.Grad, &dWq)
	a.Wk.Grad.Add(a.Wk.Grad, &dWk)
	a.Wv.Grad.Add(a.Wv.Grad, &dWv)

	dx := mat.NewDense(s, a.Dim, nil)
	var t1, t2, t3 mat.Dense
	t1.Mul(&dQ, a.Wq.Val.T())
	t2.Mul(&dK, a.Wk.Val.T())
	t3.Mul(&dV, a.Wv.Val.T())
	dx.Add(&t1, &t2)
	dx.Add(dx, &t3)
	return dx
}

// Params returns the trainable parameters.
func (a *SelfAttention) Params() []*Param {
	return []*Param{a.Wq, a.Wk, a.Wv}
}
