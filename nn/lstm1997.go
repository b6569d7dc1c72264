package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// LSTM1997Cell is the original long short-term memory unit (Hochreiter &
// Schmidhuber, 1997): nBlk memory blocks of width dBlk, one scalar input
// gate and one scalar output gate per block, no forget gate, no
// peepholes. Per block k:
//
//	i_k = sigmoid(pre_i[k])
//	o_k = sigmoid(pre_o[k])
//	g_k = tanh(pre_g[k])             (dBlk wide)
//	c_k = c_prev_k + i_k * g_k
//	h_k = o_k * tanh(c_k)
//
// Gate pre-activations come from one fused input projection plus one
// fused hidden projection, sliced by GateRanges.
type LSTM1997Cell struct {
	Wx *Param // inDim × width
	Wh *Param // hidDim × width
	B  *Param // 1 × width
	H0 *Param // 1 × hidDim
	C0 *Param // 1 × hidDim

	Ranges GateRanges

	inDim int
	nBlk  int
	dBlk  int
}

// NewLSTM1997Cell creates a cell with weights uniform in ±bound. Gate
// biases are initialized non-positive so the network is cautious about
// writing and exposing memory early in training.
func NewLSTM1997Cell(inDim, nBlk, dBlk int, bound float64, src rand.Source) *LSTM1997Cell {
	rg := NewGateRanges1997(nBlk, dBlk)
	hid := nBlk * dBlk

	b := NewZeroParam("b", 1, rg.Width())
	raw := b.Val.RawRowView(0)
	FillUniform(raw[rg.Ig[0]:rg.Ig[1]], -bound, 0, src)
	FillUniform(raw[rg.Og[0]:rg.Og[1]], -bound, 0, src)
	FillUniform(raw[rg.Cand[0]:rg.Cand[1]], -bound, bound, src)

	return &LSTM1997Cell{
		Wx:     NewParam("wx", inDim, rg.Width(), -bound, bound, src),
		Wh:     NewParam("wh", hid, rg.Width(), -bound, bound, src),
		B:      b,
		H0:     NewParam("h0", 1, hid, -bound, bound, src),
		C0:     NewParam("c0", 1, hid, -bound, bound, src),
		Ranges: rg,
		inDim:  inDim,
		nBlk:   nBlk,
		dBlk:   dBlk,
	}
}

func (c *LSTM1997Cell) InDim() int  { return c.inDim }
func (c *LSTM1997Cell) HidDim() int { return c.nBlk * c.dBlk }

// InitState broadcasts the learned h0/c0 across the batch.
func (c *LSTM1997Cell) InitState(batch int) State {
	return State{H: broadcastRow(c.H0, batch), C: broadcastRow(c.C0, batch)}
}

// fusedPre computes S = x·Wx + hPrev·Wh + b for any LSTM variant.
func fusedPre(x, hPrev *mat.Dense, wx, wh, bias *Param, batch, width int) *mat.Dense {
	s := mat.NewDense(batch, width, nil)
	s.Mul(x, wx.Val)
	var sh mat.Dense
	sh.Mul(hPrev, wh.Val)
	s.Add(s, &sh)
	b := bias.Val.RawRowView(0)
	for r := 0; r < batch; r++ {
		row := s.RawRowView(r)
		for j := range row {
			row[j] += b[j]
		}
	}
	return s
}

// Step advances one time step.
func (c *LSTM1997Cell) Step(x *mat.Dense, st State) (State, *StepCache, error) {
	hid := c.nBlk * c.dBlk
	batch, err := checkStepShapes("lstm-1997", x, st, c.inDim, hid, hid)
	if err != nil {
		return State{}, nil, err
	}

	s := fusedPre(x, st.H, c.Wx, c.Wh, c.B, batch, c.Ranges.Width())

	iG := mat.NewDense(batch, c.nBlk, nil)
	oG := mat.NewDense(batch, c.nBlk, nil)
	g := mat.NewDense(batch, hid, nil)
	cNew := mat.NewDense(batch, hid, nil)
	tanhC := mat.NewDense(batch, hid, nil)
	h := mat.NewDense(batch, hid, nil)

	for r := 0; r < batch; r++ {
		sRow := s.RawRowView(r)
		cPrevRow := st.C.RawRowView(r)
		for k := 0; k < c.nBlk; k++ {
			iv := sigmoid(sRow[c.Ranges.Ig[0]+k])
			ov := sigmoid(sRow[c.Ranges.Og[0]+k])
			iG.Set(r, k, iv)
			oG.Set(r, k, ov)
			for d := 0; d < c.dBlk; d++ {
				j := k*c.dBlk + d
				gv := math.Tanh(sRow[c.Ranges.Cand[0]+j])
				cv := cPrevRow[j] + iv*gv
				tc := math.Tanh(cv)
				g.Set(r, j, gv)
				cNew.Set(r, j, cv)
				tanhC.Set(r, j, tc)
				h.Set(r, j, ov*tc)
			}
		}
	}

	cc := &StepCache{X: x, HPrev: st.H, CPrev: st.C, I: iG, O: oG, G: g, C: cNew, TanhC: tanhC, H: h}
	return State{H: h, C: cNew}, cc, nil
}

// StepBackward backpropagates one step, accumulating parameter grads.
func (c *LSTM1997Cell) StepBackward(cc *StepCache, dH, dC *mat.Dense) (dx, dHPrev, dCPrev *mat.Dense) {
	batch, _ := dH.Dims()
	hid := c.nBlk * c.dBlk

	dS := mat.NewDense(batch, c.Ranges.Width(), nil)
	dCPrevM := mat.NewDense(batch, hid, nil)

	for r := 0; r < batch; r++ {
		dhRow := dH.RawRowView(r)
		dsRow := dS.RawRowView(r)
		for k := 0; k < c.nBlk; k++ {
			iv := cc.I.At(r, k)
			ov := cc.O.At(r, k)
			var do, dcSum float64
			for d := 0; d < c.dBlk; d++ {
				j := k*c.dBlk + d
				tc := cc.TanhC.At(r, j)
				do += dhRow[j] * tc

				// Gradient into the cell: through h plus carry-in.
				dc := dhRow[j] * ov * (1 - tc*tc)
				if dC != nil {
					dc += dC.At(r, j)
				}
				gv := cc.G.At(r, j)
				dsRow[c.Ranges.Cand[0]+j] = dc * iv * (1 - gv*gv)
				dCPrevM.Set(r, j, dc)
				dcSum += dc * gv
			}
			dsRow[c.Ranges.Ig[0]+k] = dcSum * iv * (1 - iv)
			dsRow[c.Ranges.Og[0]+k] = do * ov * (1 - ov)
		}
	}

	dxM, dHPrevM := c.projBackward(cc, dS, batch)
	return dxM, dHPrevM, dCPrevM
}

// projBackward routes dS through the fused projections. Returns dx and
// dHPrev; the caller pairs them with its own dCPrev.
func (c *LSTM1997Cell) projBackward(cc *StepCache, dS *mat.Dense, batch int) (*mat.Dense, *mat.Dense) {
	var dWx, dWh mat.Dense
	dWx.Mul(cc.X.T(), dS)
	dWh.Mul(cc.HPrev.T(), dS)
	c.Wx.Grad.Add(c.Wx.Grad, &dWx)
	c.Wh.Grad.Add(c.Wh.Grad, &dWh)
	accumRowGrad(c.B, dS)

	dx := mat.NewDense(batch, c.inDim, nil)
	dx.Mul(dS, c.Wx.Val.T())
	dHPrev := mat.NewDense(batch, c.nBlk*c.dBlk, nil)
	dHPrev.Mul(dS, c.Wh.Val.T())
	return dx, dHPrev
}

// InitStateBackward folds the sequence-start gradients into h0/c0.
func (c *LSTM1997Cell) InitStateBackward(dH, dC *mat.Dense) {
	accumRowGrad(c.H0, dH)
	accumRowGrad(c.C0, dC)
}

// Params returns the trainable parameters.
func (c *LSTM1997Cell) Params() []*Param {
	return []*Param{c.Wx, c.Wh, c.B, c.H0, c.C0}
}
