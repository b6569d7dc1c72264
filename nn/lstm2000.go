package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// LSTM2000Cell extends the 1997 design with a forget gate (Gers,
// Schmidhuber & Cummins, 2000). Per block k:
//
//	f_k = sigmoid(pre_f[k])
//	i_k = sigmoid(pre_i[k])
//	o_k = sigmoid(pre_o[k])
//	g_k = tanh(pre_g[k])
//	c_k = f_k * c_prev_k + i_k * g_k
//	h_k = o_k * tanh(c_k)
type LSTM2000Cell struct {
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

// NewLSTM2000Cell creates a cell with weights uniform in ±bound. The
// forget-gate bias starts non-negative (retain memory early in
// training); input/output gate biases start non-positive.
func NewLSTM2000Cell(inDim, nBlk, dBlk int, bound float64, src rand.Source) *LSTM2000Cell {
	rg := NewGateRanges2000(nBlk, dBlk)
	hid := nBlk * dBlk

	b := NewZeroParam("b", 1, rg.Width())
	raw := b.Val.RawRowView(0)
	FillUniform(raw[rg.Fg[0]:rg.Fg[1]], 0, bound, src)
	FillUniform(raw[rg.Ig[0]:rg.Ig[1]], -bound, 0, src)
	FillUniform(raw[rg.Og[0]:rg.Og[1]], -bound, 0, src)
	FillUniform(raw[rg.Cand[0]:rg.Cand[1]], -bound, bound, src)

	return &LSTM2000Cell{
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

func (c *LSTM2000Cell) InDim() int  { return c.inDim }
func (c *LSTM2000Cell) HidDim() int { return c.nBlk * c.dBlk }

// InitState broadcasts the learned h0/c0 across the batch.
func (c *LSTM2000Cell) InitState(batch int) State {
	return State{H: broadcastRow(c.H0, batch), C: broadcastRow(c.C0, batch)}
}

// Step advances one time step.
func (c *LSTM2000Cell) Step(x *mat.Dense, st State) (State, *StepCache, error) {
	hid := c.nBlk * c.dBlk
	batch, err := checkStepShapes("lstm-2000", x, st, c.inDim, hid, hid)
	if err != nil {
		return State{}, nil, err
	}

	s := fusedPre(x, st.H, c.Wx, c.Wh, c.B, batch, c.Ranges.Width())

	fG := mat.NewDense(batch, c.nBlk, nil)
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
			fv := sigmoid(sRow[c.Ranges.Fg[0]+k])
			iv := sigmoid(sRow[c.Ranges.Ig[0]+k])
			ov := sigmoid(sRow[c.Ranges.Og[0]+k])
			fG.Set(r, k, fv)
			iG.Set(r, k, iv)
			oG.Set(r, k, ov)
			for d := 0; d < c.dBlk; d++ {
				j := k*c.dBlk + d
				gv := math.Tanh(sRow[c.Ranges.Cand[0]+j])
				cv := fv*cPrevRow[j] + iv*gv
				tc := math.Tanh(cv)
				g.Set(r, j, gv)
				cNew.Set(r, j, cv)
				tanhC.Set(r, j, tc)
				h.Set(r, j, ov*tc)
			}
		}
	}

	cc := &StepCache{X: x, HPrev: st.H, CPrev: st.C, F: fG, I: iG, O: oG, G: g, C: cNew, TanhC: tanhC, H: h}
	return State{H: h, C: cNew}, cc, nil
}

// StepBackward backpropagates one step, accumulating parameter grads.
func (c *LSTM2000Cell) StepBackward(cc *StepCache, dH, dC *mat.Dense) (dx, dHPrev, dCPrev *mat.Dense) {
	batch, _ := dH.Dims()
	hid := c.nBlk * c.dBlk

	dS := mat.NewDense(batch, c.Ranges.Width(), nil)
	dCPrevM := mat.NewDense(batch, hid, nil)

	for r := 0; r < batch; r++ {
		dhRow := dH.RawRowView(r)
		dsRow := dS.RawRowView(r)
		cPrevRow := cc.CPrev.RawRowView(r)
		for k := 0; k < c.nBlk; k++ {
			fv := cc.F.At(r, k)
			iv := cc.I.At(r, k)
			ov := cc.O.At(r, k)
			var do, df, di float64
			for d := 0; d < c.dBlk; d++ {
				j := k*c.dBlk + d
				tc := cc.TanhC.At(r, j)
				do += dhRow[j] * tc

				dc := dhRow[j] * ov * (1 - tc*tc)
				if dC != nil {
					dc += dC.At(r, j)
				}
				gv := cc.G.At(r, j)
				dsRow[c.Ranges.Cand[0]+j] = dc * iv * (1 - gv*gv)
				dCPrevM.Set(r, j, dc*fv)
				df += dc * cPrevRow[j]
				di += dc * gv
			}
			dsRow[c.Ranges.Fg[0]+k] = df * fv * (1 - fv)
			dsRow[c.Ranges.Ig[0]+k] = di * iv * (1 - iv)
			dsRow[c.Ranges.Og[0]+k] = do * ov * (1 - ov)
		}
	}

	var dWx, dWh mat.Dense
	dWx.Mul(cc.X.T(), dS)
	dWh.Mul(cc.HPrev.T(), dS)
	c.Wx.Grad.Add(c.Wx.Grad, &dWx)
	c.Wh.Grad.Add(c.Wh.Grad, &dWh)
	accumRowGrad(c.B, dS)

	dxM := mat.NewDense(batch, c.inDim, nil)
	dxM.Mul(dS, c.Wx.Val.T())
	dHPrevM := mat.NewDense(batch, hid, nil)
	dHPrevM.Mul(dS, c.Wh.Val.T())
	return dxM, dHPrevM, dCPrevM
}

// InitStateBackward folds the sequence-start gradients into h0/c0.
func (c *LSTM2000Cell) InitStateBackward(dH, dC *mat.Dense) {
	accumRowGrad(c.H0, dH)
	accumRowGrad(c.C0, dC)
}

// Params returns the trainable parameters.
func (c *LSTM2000Cell) Params() []*Param {
	return []*Param{c.Wx, c.Wh, c.B, c.H0, c.C0}
}
