package nn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Dropout zeroes entries with probability P and scales survivors by
// 1/(1-P) (inverted dropout), so evaluation needs no rescaling. A nil
// RNG disables dropout, which is how Predict runs the same path.
type Dropout struct {
	P float64
}

// Apply returns the dropped-out activation and the mask needed by the
// backward pass. mask is nil when dropout is inactive.
func (d Dropout) Apply(x *mat.Dense, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	if d.P <= 0 || rng == nil {
		return x, nil
	}
	r, c := x.Dims()
	keep := 1 - d.P
	mask := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() < keep {
				m := 1 / keep
				mask.Set(i, j, m)
				out.Set(i, j, x.At(i, j)*m)
			}
		}
	}
	return out, mask
}

// Backward routes the upstream gradient through the mask recorded by
// Apply.
func (d Dropout) Backward(dOut, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return dOut
	}
	r, c := dOut.Dims()
	dx := mat.NewDense(r, c, nil)
	dx.MulElem(dOut, mask)
	return dx
}
