package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Linear computes y = x·W + b with W of shape inF × outF.
type Linear struct {
	Weight *Param // inF × outF
	Bias   *Param // 1 × outF, nil when bias is disabled
	InF    int
	OutF   int
}

// NewLinear creates a linear layer with uniform init in ±bound.
func NewLinear(inF, outF int, bias bool, bound float64, src rand.Source) (*Linear, error) {
	if inF < 1 || outF < 1 {
		return nil, fmt.Errorf("linear: inF %d and outF %d must be >= 1", inF, outF)
	}
	l := &Linear{
		Weight: NewParam("weight", inF, outF, -bound, bound, src),
		InF:    inF,
		OutF:   outF,
	}
	if bias {
		l.Bias = NewParam("bias", 1, outF, -bound, bound, src)
	}
	return l, nil
}

// Forward computes y = x·W + b. x is batch × inF.
func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	b, c := x.Dims()
	if c != l.InF {
		return nil, fmt.Errorf("linear: input features %d, want %d", c, l.InF)
	}
	out := mat.NewDense(b, l.OutF, nil)
	out.Mul(x, l.Weight.Val)
	if l.Bias != nil {
		bias := l.Bias.Val.RawRowView(0)
		for r := 0; r < b; r++ {
			row := out.RawRowView(r)
			for j := range row {
				row[j] += bias[j]
			}
		}
	}
	return out, nil
}

// Backward accumulates dW = xᵀ·dOut and db = colsum(dOut), and returns
// dx = dOut·Wᵀ. x must be the forward input.
func (l *Linear) Backward(x, dOut *mat.Dense) *mat.Dense {
	var dW mat.Dense
	dW.Mul(x.T(), dOut)
	l.Weight.Grad.Add(l.Weight.Grad, &dW)

	if l.Bias != nil {
		b, _ := dOut.Dims()
		db := l.Bias.Grad.RawRowView(0)
		for r := 0; r < b; r++ {
			row := dOut.RawRowView(r)
			for j := range row {
				db[j] += row[j]
			}
		}
	}

	rb, _ := dOut.Dims()
	dx := mat.NewDense(rb, l.InF, nil)
	dx.Mul(dOut, l.Weight.Val.T())
	return dx
}

// Params returns the trainable parameters.
func (l *Linear) Params() []*Param {
	if l.Bias != nil {
		return []*Param{l.Weight, l.Bias}
	}
	return []*Param{l.Weight}
}
