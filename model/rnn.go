package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/shangrex/language-model-playground/nn"
)

type options struct {
	inputProj bool // fc_e2h projection before the cell stack
	residual  bool // out = in + cell(in) per layer
	attention bool // causal self-attention over top hidden states
}

// rnnLM is the shared recurrent language model: tied-embedding input and
// output around a configurable cell stack. All variants are instances of
// this struct with different cells and options.
type rnnLM struct {
	cfg  Config
	opts options

	emb   *nn.Embedding
	fcE2H *nn.Linear // nil unless opts.inputProj
	cells []nn.Cell
	attn  *nn.SelfAttention // nil unless opts.attention
	fcH2E *nn.Linear

	embDrop nn.Dropout
	hidDrop nn.Dropout

	params []*nn.Param
}

func assemble(cfg Config, cells []nn.Cell, bound float64, src rand.Source, opts options) (LanguageModel, error) {
	hid := cfg.HiddenDim()

	emb, err := nn.NewEmbedding(cfg.VocabSize, cfg.DEmb, cfg.PadID, bound, src)
	if err != nil {
		return nil, err
	}
	fcH2E, err := nn.NewLinear(hid, cfg.DEmb, true, bound, src)
	if err != nil {
		return nil, err
	}

	m := &rnnLM{
		cfg:     cfg,
		opts:    opts,
		emb:     emb,
		cells:   cells,
		fcH2E:   fcH2E,
		embDrop: nn.Dropout{P: cfg.PEmb},
		hidDrop: nn.Dropout{P: cfg.PHid},
	}
	m.params = append(m.params, nn.PrefixParams("emb", emb.Params())...)

	if opts.inputProj {
		m.fcE2H, err = nn.NewLinear(cfg.DEmb, hid, true, bound, src)
		if err != nil {
			return nil, err
		}
		m.params = append(m.params, nn.PrefixParams("fc_e2h", m.fcE2H.Params())...)
	}
	for l, c := range cells {
		m.params = append(m.params, nn.PrefixParams(fmt.Sprintf("rnn.%d", l), c.Params())...)
	}
	if opts.attention {
		m.attn = nn.NewSelfAttention(hid, bound, src)
		m.params = append(m.params, nn.PrefixParams("attn", m.attn.Params())...)
	}
	m.params = append(m.params, nn.PrefixParams("fc_h2e", fcH2E.Params())...)
	return m, nil
}

func (m *rnnLM) Name() string       { return m.cfg.Variant }
func (m *rnnLM) Params() []*nn.Param { return m.params }

// InitState broadcasts each cell's learned initial state across the batch.
func (m *rnnLM) InitState(batch int) *State {
	st := &State{Layers: make([]nn.State, len(m.cells))}
	for l, c := range m.cells {
		st.Layers[l] = c.InitState(batch)
	}
	if m.opts.attention {
		st.Hist = make([]*mat.Dense, batch)
	}
	return st
}

// stepRec caches one time step's forward intermediates for BPTT.
type stepRec struct {
	ids      []int
	eMask    *mat.Dense
	eDrop    *mat.Dense // layer-0 or projection input
	projTanh *mat.Dense
	projMask *mat.Dense
	cellCCs  []*nn.StepCache
	hMasks   []*mat.Dense
	hTop     *mat.Dense // stack output after dropout
}

// headRec caches the output head intermediates for one time step.
type headRec struct {
	xIn    *mat.Dense // head input (stack output or attention output)
	zt     *mat.Dense
	zMask  *mat.Dense
	ztDrop *mat.Dense
	logits *mat.Dense
}

type runOut struct {
	recs    []stepRec
	heads   []headRec
	attnCCs []*nn.AttnCache // per batch element
	histLen int
	next    *State
}

// run executes the forward pass over the whole batch-major id matrix,
// caching what the backward pass needs. A nil rng disables dropout.
func (m *rnnLM) run(cur [][]int, prev *State, rng *rand.Rand) (*runOut, error) {
	batch := len(cur)
	if batch == 0 {
		return nil, fmt.Errorf("model: empty batch")
	}
	seqLen := len(cur[0])
	if seqLen == 0 {
		return nil, fmt.Errorf("model: empty sequence")
	}
	for b, row := range cur {
		if len(row) != seqLen {
			return nil, fmt.Errorf("model: ragged batch: row %d has %d ids, want %d", b, len(row), seqLen)
		}
	}

	if prev == nil {
		prev = m.InitState(batch)
	}
	if len(prev.Layers) != len(m.cells) {
		return nil, fmt.Errorf("model: state has %d layers, want %d", len(prev.Layers), len(m.cells))
	}
	states := make([]nn.State, len(m.cells))
	copy(states, prev.Layers)

	out := &runOut{
		recs:  make([]stepRec, seqLen),
		heads: make([]headRec, seqLen),
	}

	hid := m.cfg.HiddenDim()
	for t := 0; t < seqLen; t++ {
		rec := &out.recs[t]
		rec.ids = make([]int, batch)
		for b := range cur {
			rec.ids[b] = cur[b][t]
		}

		e, err := m.emb.Lookup(rec.ids)
		if err != nil {
			return nil, err
		}
		x, eMask := m.embDrop.Apply(e, rng)
		rec.eMask = eMask
		rec.eDrop = x

		if m.fcE2H != nil {
			z, err := m.fcE2H.Forward(x)
			if err != nil {
				return nil, err
			}
			z.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, z)
			rec.projTanh = z
			x, rec.projMask = m.hidDrop.Apply(z, rng)
		}

		rec.cellCCs = make([]*nn.StepCache, len(m.cells))
		rec.hMasks = make([]*mat.Dense, len(m.cells))
		for l, c := range m.cells {
			st, cc, err := c.Step(x, states[l])
			if err != nil {
				return nil, err
			}
			states[l] = st
			rec.cellCCs[l] = cc

			y := st.H
			if m.opts.residual {
				sum := mat.NewDense(batch, hid, nil)
				sum.Add(x, st.H)
				y = sum
			}
			x, rec.hMasks[l] = m.hidDrop.Apply(y, rng)
		}
		rec.hTop = x
	}

	// The self-attention variant reads the whole sequence of top hidden
	// states (prefixed by the carried history) before the output head.
	headIn := make([]*mat.Dense, seqLen)
	var newHist []*mat.Dense
	if m.attn != nil {
		prevHist := prev.Hist
		if prevHist == nil {
			prevHist = make([]*mat.Dense, batch)
		}
		out.attnCCs = make([]*nn.AttnCache, batch)
		newHist = make([]*mat.Dense, batch)
		for t := range headIn {
			headIn[t] = mat.NewDense(batch, hid, nil)
		}
		for b := 0; b < batch; b++ {
			histLen := 0
			if prevHist[b] != nil {
				histLen, _ = prevHist[b].Dims()
			}
			out.histLen = histLen

			seq := mat.NewDense(histLen+seqLen, hid, nil)
			for r := 0; r < histLen; r++ {
				seq.SetRow(r, prevHist[b].RawRowView(r))
			}
			for t := 0; t < seqLen; t++ {
				seq.SetRow(histLen+t, out.recs[t].hTop.RawRowView(b))
			}
			newHist[b] = seq

			aOut, cc, err := m.attn.Forward(seq)
			if err != nil {
				return nil, err
			}
			out.attnCCs[b] = cc
			for t := 0; t < seqLen; t++ {
				headIn[t].SetRow(b, aOut.RawRowView(histLen+t))
			}
		}
	} else {
		for t := range headIn {
			headIn[t] = out.recs[t].hTop
		}
	}

	for t := 0; t < seqLen; t++ {
		head := &out.heads[t]
		head.xIn = headIn[t]
		z, err := m.fcH2E.Forward(headIn[t])
		if err != nil {
			return nil, err
		}
		z.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, z)
		head.zt = z
		head.ztDrop, head.zMask = m.hidDrop.Apply(z, rng)

		// Tied output projection: logits = z · emb^T.
		logits := mat.NewDense(batch, m.cfg.VocabSize, nil)
		logits.Mul(head.ztDrop, m.emb.Weight.Val.T())
		head.logits = logits
	}

	out.next = &State{Layers: states, Hist: newHist}
	return out, nil
}

// Forward computes the masked mean cross-entropy and, when rng is
// non-nil, accumulates parameter gradients by backprop through time. A
// batch whose targets are all padding yields zero loss and no gradient.
func (m *rnnLM) Forward(cur, next [][]int, prev *State, rng *rand.Rand) (float64, *State, error) {
	if len(next) != len(cur) {
		return 0, nil, fmt.Errorf("model: cur batch %d, next batch %d", len(cur), len(next))
	}
	for b := range cur {
		if len(next[b]) != len(cur[b]) {
			return 0, nil, fmt.Errorf("model: row %d: cur length %d, next length %d", b, len(cur[b]), len(next[b]))
		}
	}
	learnedInit := prev == nil

	out, err := m.run(cur, prev, rng)
	if err != nil {
		return 0, nil, err
	}

	batch := len(cur)
	seqLen := len(cur[0])
	var lossSum float64
	total := 0
	dLogits := make([]*mat.Dense, seqLen)
	for t := 0; t < seqLen; t++ {
		targets := make([]int, batch)
		for b := range next {
			targets[b] = next[b][t]
		}
		sum, n, d := nn.CrossEntropyStep(out.heads[t].logits, targets, m.cfg.PadID)
		lossSum += sum
		total += n
		dLogits[t] = d
	}
	if total == 0 {
		return 0, out.next, nil
	}
	loss := lossSum / float64(total)

	if rng == nil {
		return loss, out.next, nil
	}

	scale := 1 / float64(total)
	for t := range dLogits {
		dLogits[t].Scale(scale, dLogits[t])
	}
	m.backward(out, dLogits, learnedInit)
	return loss, out.next, nil
}

// backward runs BPTT over the cached run, accumulating gradients into
// every parameter.
func (m *rnnLM) backward(out *runOut, dLogits []*mat.Dense, learnedInit bool) {
	seqLen := len(out.recs)
	batch := len(out.recs[0].ids)
	hid := m.cfg.HiddenDim()

	// Output head backward per step: gradient w.r.t. the head input.
	dHeadIn := make([]*mat.Dense, seqLen)
	for t := 0; t < seqLen; t++ {
		head := &out.heads[t]

		// logits = ztDrop · emb^T
		var dEmbW mat.Dense
		dEmbW.Mul(dLogits[t].T(), head.ztDrop)
		m.emb.Weight.Grad.Add(m.emb.Weight.Grad, &dEmbW)

		dZtDrop := mat.NewDense(batch, m.cfg.DEmb, nil)
		dZtDrop.Mul(dLogits[t], m.emb.Weight.Val)

		dZt := m.hidDrop.Backward(dZtDrop, head.zMask)
		dZ := mat.NewDense(batch, m.cfg.DEmb, nil)
		for r := 0; r < batch; r++ {
			ztRow := head.zt.RawRowView(r)
			dZtRow := dZt.RawRowView(r)
			dZRow := dZ.RawRowView(r)
			for j := range dZRow {
				dZRow[j] = dZtRow[j] * (1 - ztRow[j]*ztRow[j])
			}
		}
		dHeadIn[t] = m.fcH2E.Backward(head.xIn, dZ)
	}

	// Attention backward folds the head gradients into per-step top
	// hidden gradients. History rows from earlier calls get no gradient.
	dHTop := dHeadIn
	if m.attn != nil {
		dHTop = make([]*mat.Dense, seqLen)
		for t := range dHTop {
			dHTop[t] = mat.NewDense(batch, hid, nil)
		}
		for b := 0; b < batch; b++ {
			rows, _ := out.attnCCs[b].A.Dims()
			dOut := mat.NewDense(rows, hid, nil)
			for t := 0; t < seqLen; t++ {
				dOut.SetRow(out.histLen+t, dHeadIn[t].RawRowView(b))
			}
			dSeq := m.attn.Backward(out.attnCCs[b], dOut)
			for t := 0; t < seqLen; t++ {
				dHTop[t].SetRow(b, dSeq.RawRowView(out.histLen+t))
			}
		}
	}

	dHCarry := make([]*mat.Dense, len(m.cells))
	dCCarry := make([]*mat.Dense, len(m.cells))
	for t := seqLen - 1; t >= 0; t-- {
		rec := &out.recs[t]
		dUpper := dHTop[t]

		for l := len(m.cells) - 1; l >= 0; l-- {
			dY := m.hidDrop.Backward(dUpper, rec.hMasks[l])

			dH := dY
			if dHCarry[l] != nil {
				sum := mat.NewDense(batch, hid, nil)
				sum.Add(dY, dHCarry[l])
				dH = sum
			}
			dx, dHPrev, dCPrev := m.cells[l].StepBackward(rec.cellCCs[l], dH, dCCarry[l])
			dHCarry[l] = dHPrev
			dCCarry[l] = dCPrev

			if m.opts.residual {
				// The skip connection routes dY past the cell.
				sum := mat.NewDense(batch, hid, nil)
				sum.Add(dx, dY)
				dx = sum
			}
			dUpper = dx
		}

		dE := dUpper
		if m.fcE2H != nil {
			dProjTanh := m.hidDrop.Backward(dUpper, rec.projMask)
			dProj := mat.NewDense(batch, hid, nil)
			for r := 0; r < batch; r++ {
				ztRow := rec.projTanh.RawRowView(r)
				dtRow := dProjTanh.RawRowView(r)
				dpRow := dProj.RawRowView(r)
				for j := range dpRow {
					dpRow[j] = dtRow[j] * (1 - ztRow[j]*ztRow[j])
				}
			}
			dE = m.fcE2H.Backward(rec.eDrop, dProj)
		}
		dE = m.embDrop.Backward(dE, rec.eMask)
		m.emb.Scatter(rec.ids, dE)
	}

	if learnedInit {
		for l, c := range m.cells {
			c.InitStateBackward(dHCarry[l], dCCarry[l])
		}
	}
}

// Predict consumes cur and returns the next-token distribution at the
// final position, one row per batch element. Dropout is inactive.
func (m *rnnLM) Predict(cur [][]int, prev *State) (*mat.Dense, *State, error) {
	out, err := m.run(cur, prev, nil)
	if err != nil {
		return nil, nil, err
	}
	probs := nn.SoftmaxRows(out.heads[len(out.heads)-1].logits)
	return probs, out.next, nil
}
