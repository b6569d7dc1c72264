package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// State is the carried recurrent state: one hidden matrix and, for LSTM
// variants, one cell matrix, both batch-major. States are values: Step
// returns a fresh State and never mutates its input, so callers can
// resume or replay sequences deterministically.
type State struct {
	H *mat.Dense // batch × hidDim
	C *mat.Dense // batch × (nBlk*dBlk), nil for Elman
}

// Cell is one recurrent state-transition function. Implementations train
// by manual backprop-through-time: Step records a cache, StepBackward
// consumes it in reverse order and accumulates parameter gradients.
type Cell interface {
	InDim() int
	HidDim() int

	// InitState broadcasts the learned initial state across the batch.
	InitState(batch int) State

	// Step advances one time step: x is batch × inDim.
	Step(x *mat.Dense, st State) (State, *StepCache, error)

	// StepBackward backpropagates one step. dH and dC are the gradients
	// flowing into this step's outputs (dC may be nil); the returns are
	// the gradients w.r.t. the step input and the previous state.
	StepBackward(cc *StepCache, dH, dC *mat.Dense) (dx, dHPrev, dCPrev *mat.Dense)

	// InitStateBackward folds the gradient reaching the sequence start
	// into the learned initial-state parameters.
	InitStateBackward(dH, dC *mat.Dense)

	Params() []*Param
}

// StepCache holds the forward intermediates one backward step needs.
// Cells populate the fields they use.
type StepCache struct {
	X     *mat.Dense // step input
	HPrev *mat.Dense
	CPrev *mat.Dense
	F     *mat.Dense // forget gate, batch × nBlk
	I     *mat.Dense // input gate, batch × nBlk
	O     *mat.Dense // output gate, batch × nBlk
	G     *mat.Dense // candidate memory, batch × nBlk*dBlk
	C     *mat.Dense // new cell state
	TanhC *mat.Dense // tanh of new cell state
	H     *mat.Dense // new hidden state
}

// GateRanges fixes where each gate lives inside the fused projection
// output. Ranges are half-open [Lo, Hi), assigned at construction and
// pairwise non-overlapping; the candidate range always follows the
// scalar gate ranges.
type GateRanges struct {
	Fg   [2]int // forget gate, absent (zero width) for LSTM-1997
	Ig   [2]int // input gate
	Og   [2]int // output gate
	Cand [2]int // candidate memory
}

// NewGateRanges1997 lays out [input | output | candidate]:
// total nBlk*(2+dBlk).
func NewGateRanges1997(nBlk, dBlk int) GateRanges {
	return GateRanges{
		Ig:   [2]int{0, nBlk},
		Og:   [2]int{nBlk, 2 * nBlk},
		Cand: [2]int{2 * nBlk, 2*nBlk + nBlk*dBlk},
	}
}

// NewGateRanges2000 lays out [forget | input | output | candidate]:
// total nBlk*(3+dBlk). LSTM-2002 shares this layout.
func NewGateRanges2000(nBlk, dBlk int) GateRanges {
	return GateRanges{
		Fg:   [2]int{0, nBlk},
		Ig:   [2]int{nBlk, 2 * nBlk},
		Og:   [2]int{2 * nBlk, 3 * nBlk},
		Cand: [2]int{3 * nBlk, 3*nBlk + nBlk*dBlk},
	}
}

// Width returns the fused projection width the ranges span.
func (g GateRanges) Width() int { return g.Cand[1] }

// InitBound is the uniform initialization half-range 1/sqrt(max(dEmb, dHid)).
func InitBound(dEmb, dHid int) float64 {
	return 1 / math.Sqrt(float64(max(dEmb, dHid)))
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// checkStepShapes validates input and state dimensions before any
// numeric op runs. No silent broadcasting across mismatched batch or
// feature dimensions.
func checkStepShapes(name string, x *mat.Dense, st State, inDim, hidDim, cellDim int) (int, error) {
	b, c := x.Dims()
	if c != inDim {
		return 0, fmt.Errorf("%s: input features %d, want %d", name, c, inDim)
	}
	hb, hc := st.H.Dims()
	if hc != hidDim {
		return 0, fmt.Errorf("%s: hidden features %d, want %d", name, hc, hidDim)
	}
	if hb != b {
		return 0, fmt.Errorf("%s: hidden batch %d, input batch %d", name, hb, b)
	}
	if cellDim > 0 {
		if st.C == nil {
			return 0, fmt.Errorf("%s: missing cell state", name)
		}
		cb, cc := st.C.Dims()
		if cc != cellDim {
			return 0, fmt.Errorf("%s: cell features %d, want %d", name, cc, cellDim)
		}
		if cb != b {
			return 0, fmt.Errorf("%s: cell batch %d, input batch %d", name, cb, b)
		}
	}
	return b, nil
}

// broadcastRow tiles a 1×n parameter row across batch rows.
func broadcastRow(p *Param, batch int) *mat.Dense {
	_, n := p.Val.Dims()
	out := mat.NewDense(batch, n, nil)
	for b := 0; b < batch; b++ {
		out.SetRow(b, p.Val.RawRowView(0))
	}
	return out
}

// accumRowGrad folds a batch × n gradient into a 1×n parameter by
// summing over the batch.
func accumRowGrad(p *Param, d *mat.Dense) {
	if d == nil {
		return
	}
	b, n := d.Dims()
	g := p.Grad.RawRowView(0)
	for r := 0; r < b; r++ {
		row := d.RawRowView(r)
		for j := 0; j < n; j++ {
			g[j] += row[j]
		}
	}
}
