package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ElmanCell is the simplest recurrent unit:
//
//	h_t = tanh(x_t·Wx + h_{t-1}·Wh + b)
//
// No cell state, no gating.
type ElmanCell struct {
	Wx *Param // inDim × hidDim
	Wh *Param // hidDim × hidDim
	B  *Param // 1 × hidDim
	H0 *Param // 1 × hidDim, learned initial hidden state

	inDim  int
	hidDim int
}

// NewElmanCell creates an Elman cell with all weights uniform in ±bound.
func NewElmanCell(inDim, hidDim int, bound float64, src rand.Source) *ElmanCell {
	return &ElmanCell{
		Wx:     NewParam("wx", inDim, hidDim, -bound, bound, src),
		Wh:     NewParam("wh", hidDim, hidDim, -bound, bound, src),
		B:      NewParam("b", 1, hidDim, -bound, bound, src),
		H0:     NewParam("h0", 1, hidDim, -bound, bound, src),
		inDim:  inDim,
		hidDim: hidDim,
	}
}

func (c *ElmanCell) InDim() int  { return c.inDim }
func (c *ElmanCell) HidDim() int { return c.hidDim }

// InitState broadcasts the learned h0 across the batch.
func (c *ElmanCell) InitState(batch int) State {
	return State{H: broadcastRow(c.H0, batch)}
}

// Step advances one time step.
func (c *ElmanCell) Step(x *mat.Dense, st State) (State, *StepCache, error) {
	b, err := checkStepShapes("elman", x, st, c.inDim, c.hidDim, 0)
	if err != nil {
		return State{}, nil, err
	}

	h := mat.NewDense(b, c.hidDim, nil)
	h.Mul(x, c.Wx.Val)
	var hh mat.Dense
	hh.Mul(st.H, c.Wh.Val)
	h.Add(h, &hh)

	bias := c.B.Val.RawRowView(0)
	for r := 0; r < b; r++ {
		row := h.RawRowView(r)
		for j := range row {
			row[j] = math.Tanh(row[j] + bias[j])
		}
	}

	return State{H: h}, &StepCache{X: x, HPrev: st.H, H: h}, nil
}

// StepBackward backpropagates one step. dC is ignored (no cell state).
func (c *ElmanCell) StepBackward(cc *StepCache, dH, dC *mat.Dense) (dx, dHPrev, dCPrev *mat.Dense) {
	b, _ := dH.Dims()

	// dPre = dH * (1 - h^2)
	dPre := mat.NewDense(b, c.hidDim, nil)
	for r := 0; r < b; r++ {
		hRow := cc.H.RawRowView(r)
		dRow := dH.RawRowView(r)
		out := dPre.RawRowView(r)
		for j := range out {
			out[j] = dRow[j] * (1 - hRow[j]*hRow[j])
		}
	}

	var dWx, dWh mat.Dense
	dWx.Mul(cc.X.T(), dPre)
	dWh.Mul(cc.HPrev.T(), dPre)
	c.Wx.Grad.Add(c.Wx.Grad, &dWx)
	c.Wh.Grad.Add(c.Wh.Grad, &dWh)
	accumRowGrad(c.B, dPre)

	dxM := mat.NewDense(b, c.inDim, nil)
	dxM.Mul(dPre, c.Wx.Val.T())
	dhPrev := mat.NewDense(b, c.hidDim, nil)
	dhPrev.Mul(dPre, c.Wh.Val.T())
	return dxM, dhPrev, nil
}

// InitStateBackward folds the sequence-start gradient into h0.
func (c *ElmanCell) InitStateBackward(dH, dC *mat.Dense) {
	accumRowGrad(c.H0, dH)
}

// Params returns the trainable parameters.
func (c *ElmanCell) Params() []*Param {
	return []*Param{c.Wx, c.Wh, c.B, c.H0}
}
