package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// LSTM2002Cell extends the 2000 design with peephole connections (Gers,
// Schraudolph & Schmidhuber, 2002): the forget, input and output gates
// additionally read the previous cell state through per-block diagonal
// weights before their nonlinearity. Per block k:
//
//	f_k = sigmoid(pre_f[k] + pf_k · c_prev_k)
//	i_k = sigmoid(pre_i[k] + pi_k · c_prev_k)
//	o_k = sigmoid(pre_o[k] + po_k · c_prev_k)
//	g_k = tanh(pre_g[k])
//	c_k = f_k * c_prev_k + i_k * g_k
//	h_k = o_k * tanh(c_k)
//
// The fused projection layout is identical to LSTM-2000:
// [forget | input | output | candidate], width nBlk*(3+dBlk).
type LSTM2002Cell struct {
	Wx *Param // inDim × width
	Wh *Param // hidDim × width
	B  *Param // 1 × width
	Pf *Param // nBlk × dBlk, forget peephole
	Pi *Param // nBlk × dBlk, input peephole
	Po *Param // nBlk × dBlk, output peephole
	H0 *Param // 1 × hidDim
	C0 *Param // 1 × hidDim

	Ranges GateRanges

	inDim int
	nBlk  int
	dBlk  int
}

// NewLSTM2002Cell creates a cell with weights uniform in ±bound. Bias
// asymmetry matches LSTM-2000: forget non-negative, input/output
// non-positive.
func NewLSTM2002Cell(inDim, nBlk, dBlk int, bound float64, src rand.Source) *LSTM2002Cell {
	rg := NewGateRanges2000(nBlk, dBlk)
	hid := nBlk * dBlk

	b := NewZeroParam("b", 1, rg.Width())
	raw := b.Val.RawRowView(0)
	FillUniform(raw[rg.Fg[0]:rg.Fg[1]], 0, bound, src)
	FillUniform(raw[rg.Ig[0]:rg.Ig[1]], -bound, 0, src)
	FillUniform(raw[rg.Og[0]:rg.Og[1]], -bound, 0, src)
	FillUniform(raw[rg.Cand[0]:rg.Cand[1]], -bound, bound, src)

	return &LSTM2002Cell{
		Wx:     NewParam("wx", inDim, rg.Width(), -bound, bound, src),
		Wh:     NewParam("wh", hid, rg.Width(), -bound, bound, src),
		B:      b,
		Pf:     NewParam("pf", nBlk, dBlk, -bound, bound, src),
		Pi:     NewParam("pi", nBlk, dBlk, -bound, bound, src),
		Po:     NewParam("po", nBlk, dBlk, -bound, bound, src),
		H0:     NewParam("h0", 1, hid, -bound, bound, src),
		C0:     NewParam("c0", 1, hid, -bound, bound, src),
		Ranges: rg,
		inDim:  inDim,
		nBlk:   nBlk,
		dBlk:   dBlk,
	}
}

func (c *LSTM2002Cell) InDim() int  { return c.inDim }
func (c *LSTM2002Cell) HidDim() int { return c.nBlk * c.dBlk }

// InitState broadcasts the learned h0/c0 across the batch.
func (c *LSTM2002Cell) InitState(batch int) State {
	return State{H: broadcastRow(c.H0, batch), C: broadcastRow(c.C0, batch)}
}

// Step advances one time step.
func (c *LSTM2002Cell) Step(x *mat.Dense, st State) (State, *StepCache, error) {
	hid := c.nBlk * c.dBlk
	batch, err := checkStepShapes("lstm-2002", x, st, c.inDim, hid, hid)
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
			pfRow := c.Pf.Val.RawRowView(k)
			piRow := c.Pi.Val.RawRowView(k)
			poRow := c.Po.Val.RawRowView(k)

			var peepF, peepI, peepO float64
			for d := 0; d < c.dBlk; d++ {
				cp := cPrevRow[k*c.dBlk+d]
				peepF += pfRow[d] * cp
				peepI += piRow[d] * cp
				peepO += poRow[d] * cp
			}

			fv := sigmoid(sRow[c.Ranges.Fg[0]+k] + peepF)
			iv := sigmoid(sRow[c.Ranges.Ig[0]+k] + peepI)
			ov := sigmoid(sRow[c.Ranges.Og[0]+k] + peepO)
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

// StepBackward backpropagates one step, accumulating parameter grads
// including the peephole weights.
func (c *LSTM2002Cell) StepBackward(cc *StepCache, dH, dC *mat.Dense) (dx, dHPrev, dCPrev *mat.Dense) {
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

			dfPre := df * fv * (1 - fv)
			diPre := di * iv * (1 - iv)
			doPre := do * ov * (1 - ov)
			dsRow[c.Ranges.Fg[0]+k] = dfPre
			dsRow[c.Ranges.Ig[0]+k] = diPre
			dsRow[c.Ranges.Og[0]+k] = doPre

			// Peephole terms: each gate pre-activation also depends on
			// the previous cell state.
			pfRow := c.Pf.Val.RawRowView(k)
			piRow := c.Pi.Val.RawRowView(k)
			poRow := c.Po.Val.RawRowView(k)
			dpfRow := c.Pf.Grad.RawRowView(k)
			dpiRow := c.Pi.Grad.RawRowView(k)
			dpoRow := c.Po.Grad.RawRowView(k)
			for d := 0; d < c.dBlk; d++ {
				j := k*c.dBlk + d
				cp := cPrevRow[j]
				dpfRow[d] += dfPre * cp
				dpiRow[d] += diPre * cp
				dpoRow[d] += doPre * cp
				dCPrevM.Set(r, j, dCPrevM.At(r, j)+dfPre*pfRow[d]+diPre*piRow[d]+doPre*poRow[d])
			}
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
func (c *LSTM2002Cell) InitStateBackward(dH, dC *mat.Dense) {
	accumRowGrad(c.H0, dH)
	accumRowGrad(c.C0, dC)
}

// Params returns the trainable parameters.
func (c *LSTM2002Cell) Params() []*Param {
	return []*Param{c.Wx, c.Wh, c.B, c.Pf, c.Pi, c.Po, c.H0, c.C0}
}
