package nn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Param is one learnable tensor: a value matrix and its gradient
// accumulator of the same shape. Names are unique within a model and key
// checkpoint entries.
type Param struct {
	Name string
	Val  *mat.Dense
	Grad *mat.Dense
}

// NewParam creates an r×c parameter with entries drawn uniformly from
// [lo, hi). The asymmetric gate-bias initializations use one-sided ranges
// here; everything else is symmetric around zero.
func NewParam(name string, r, c int, lo, hi float64, src rand.Source) *Param {
	u := distuv.Uniform{Min: lo, Max: hi, Src: src}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = u.Rand()
	}
	return &Param{
		Name: name,
		Val:  mat.NewDense(r, c, data),
		Grad: mat.NewDense(r, c, nil),
	}
}

// FillUniform overwrites a slice of a parameter's backing data with
// uniform draws from [lo, hi). The gate-bias initializations use this to
// give the forget bias a non-negative range and the input/output biases
// non-positive ranges.
func FillUniform(data []float64, lo, hi float64, src rand.Source) {
	u := distuv.Uniform{Min: lo, Max: hi, Src: src}
	for i := range data {
		data[i] = u.Rand()
	}
}

// NewZeroParam creates an r×c parameter initialized to zero.
func NewZeroParam(name string, r, c int) *Param {
	return &Param{
		Name: name,
		Val:  mat.NewDense(r, c, nil),
		Grad: mat.NewDense(r, c, nil),
	}
}

// ZeroGrad clears the gradient accumulator.
func (p *Param) ZeroGrad() {
	d := p.Grad.RawMatrix().Data
	for i := range d {
		d[i] = 0
	}
}

// NumElements returns the number of scalar entries.
func (p *Param) NumElements() int {
	r, c := p.Val.Dims()
	return r * c
}

// PrefixParams rewrites parameter names as "<prefix>.<name>" so a model
// built from repeated layers keeps checkpoint keys unique.
func PrefixParams(prefix string, params []*Param) []*Param {
	for _, p := range params {
		p.Name = prefix + "." + p.Name
	}
	return params
}
