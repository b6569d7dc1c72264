package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/shangrex/language-model-playground/tokenizer"
)

func testCfg(variant string) Config {
	return Config{
		Variant:   variant,
		VocabSize: 12,
		PadID:     tokenizer.PadID,
		DEmb:      6,
		DHid:      8,
		NBlk:      2,
		DBlk:      4,
		NLyr:      2,
		PEmb:      0,
		PHid:      0,
	}
}

func testBatch() (cur, next [][]int) {
	cur = [][]int{
		{0, 4, 5, 6},
		{0, 7, 8, tokenizer.PadID},
	}
	next = [][]int{
		{4, 5, 6, 1},
		{7, 8, 1, tokenizer.PadID},
	}
	return cur, next
}

func TestVariantsBuildAndForward(t *testing.T) {
	cur, next := testBatch()
	for _, variant := range Variants() {
		m, err := New(testCfg(variant), rand.NewPCG(1, 1))
		if err != nil {
			t.Fatalf("%s: New: %v", variant, err)
		}
		loss, st, err := m.Forward(cur, next, nil, nil)
		if err != nil {
			t.Fatalf("%s: Forward: %v", variant, err)
		}
		if loss <= 0 || math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Errorf("%s: loss = %g, want finite positive", variant, loss)
		}
		if st == nil || len(st.Layers) != 2 {
			t.Errorf("%s: returned state has wrong shape", variant)
		}

		probs, _, err := m.Predict(cur, nil)
		if err != nil {
			t.Fatalf("%s: Predict: %v", variant, err)
		}
		for b := 0; b < 2; b++ {
			var sum float64
			for _, p := range probs.RawRowView(b) {
				sum += p
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("%s: Predict row %d sums to %g", variant, b, sum)
			}
		}
	}
}

func TestUnknownVariant(t *testing.T) {
	cfg := testCfg("gru")
	if _, err := New(cfg, rand.NewPCG(1, 1)); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestAllPadBatchIsInert(t *testing.T) {
	m, err := New(testCfg(VariantLSTM2000), rand.NewPCG(2, 2))
	if err != nil {
		t.Fatal(err)
	}
	cur := [][]int{{4, 5}, {6, 7}}
	next := [][]int{{tokenizer.PadID, tokenizer.PadID}, {tokenizer.PadID, tokenizer.PadID}}

	rng := rand.New(rand.NewPCG(3, 3))
	loss, _, err := m.Forward(cur, next, nil, rng)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 {
		t.Errorf("all-pad loss = %g, want 0", loss)
	}
	for _, p := range m.Params() {
		for _, g := range p.Grad.RawMatrix().Data {
			if g != 0 {
				t.Fatalf("all-pad batch put gradient on %s", p.Name)
			}
		}
	}
}

func TestParamNamesUnique(t *testing.T) {
	for _, variant := range Variants() {
		m, err := New(testCfg(variant), rand.NewPCG(4, 4))
		if err != nil {
			t.Fatal(err)
		}
		seen := map[string]bool{}
		for _, p := range m.Params() {
			if seen[p.Name] {
				t.Errorf("%s: duplicate parameter name %q", variant, p.Name)
			}
			seen[p.Name] = true
		}
	}
}

func TestStateThreadingMatchesFullSequence(t *testing.T) {
	for _, variant := range []string{VariantElman, VariantLSTM2002, VariantAttnLSTM} {
		m, err := New(testCfg(variant), rand.NewPCG(5, 5))
		if err != nil {
			t.Fatal(err)
		}
		full := [][]int{{0, 4, 5, 6, 7}}

		wantProbs, _, err := m.Predict(full, nil)
		if err != nil {
			t.Fatal(err)
		}

		_, st, err := m.Predict([][]int{{0, 4, 5}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		gotProbs, _, err := m.Predict([][]int{{6, 7}}, st)
		if err != nil {
			t.Fatal(err)
		}

		for j := 0; j < 12; j++ {
			if math.Abs(wantProbs.At(0, j)-gotProbs.At(0, j)) > 1e-12 {
				t.Errorf("%s: split-sequence probs differ at %d: %g vs %g",
					variant, j, wantProbs.At(0, j), gotProbs.At(0, j))
			}
		}
	}
}

// gradCheckModel verifies the full BPTT path (tied head, cells, skip and
// attention wiring) against central finite differences.
func gradCheckModel(t *testing.T, variant string) {
	t.Helper()
	m, err := New(testCfg(variant), rand.NewPCG(6, 6))
	if err != nil {
		t.Fatal(err)
	}
	cur, next := testBatch()

	loss := func() float64 {
		l, _, err := m.Forward(cur, next, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		return l
	}

	// Dropout rates are zero, so the training pass computes the same
	// loss while accumulating gradients.
	rng := rand.New(rand.NewPCG(7, 7))
	if _, _, err := m.Forward(cur, next, nil, rng); err != nil {
		t.Fatal(err)
	}

	for _, p := range m.Params() {
		val := p.Val.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		stride := len(val)/4 + 1
		for i := 0; i < len(val); i += stride {
			orig := val[i]
			eps := 1e-5
			val[i] = orig + eps
			lp := loss()
			val[i] = orig - eps
			lm := loss()
			val[i] = orig

			num := (lp - lm) / (2 * eps)
			diff := math.Abs(num - grad[i])
			scale := math.Max(1, math.Max(math.Abs(num), math.Abs(grad[i])))
			if diff/scale > 1e-4 {
				t.Errorf("%s: %s[%d]: analytic %g vs numeric %g", variant, p.Name, i, grad[i], num)
			}
		}
	}
}

func TestElmanNetGradCheck(t *testing.T)    { gradCheckModel(t, VariantElman) }
func TestLSTM2000ModelGradCheck(t *testing.T) { gradCheckModel(t, VariantLSTM2000) }
func TestResLSTMGradCheck(t *testing.T)     { gradCheckModel(t, VariantResLSTM) }
func TestAttnLSTMGradCheck(t *testing.T)    { gradCheckModel(t, VariantAttnLSTM) }

func TestTrainingReducesLoss(t *testing.T) {
	m, err := New(testCfg(VariantLSTM2000), rand.NewPCG(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	cur, next := testBatch()
	rng := rand.New(rand.NewPCG(9, 9))

	first, _, err := m.Forward(cur, next, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 80; i++ {
		for _, p := range m.Params() {
			p.ZeroGrad()
		}
		if _, _, err := m.Forward(cur, next, nil, rng); err != nil {
			t.Fatal(err)
		}
		for _, p := range m.Params() {
			val := p.Val.RawMatrix().Data
			grad := p.Grad.RawMatrix().Data
			for j := range val {
				val[j] -= 0.1 * grad[j]
			}
		}
	}
	last, _, err := m.Forward(cur, next, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if last >= first {
		t.Errorf("loss did not improve: %g -> %g", first, last)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg(VariantLSTM1997)
	src, err := New(cfg, rand.NewPCG(10, 10))
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveCheckpoint(dir, 5, src); err != nil {
		t.Fatal(err)
	}
	if err := SaveCheckpoint(dir, 40, src); err != nil {
		t.Fatal(err)
	}

	step, err := LatestStep(dir)
	if err != nil {
		t.Fatal(err)
	}
	if step != 40 {
		t.Errorf("LatestStep = %d, want 40", step)
	}

	dst, err := New(cfg, rand.NewPCG(11, 11))
	if err != nil {
		t.Fatal(err)
	}
	if err := LoadCheckpoint(CheckpointPath(dir, 40), dst); err != nil {
		t.Fatal(err)
	}
	srcPs, dstPs := src.Params(), dst.Params()
	for i := range srcPs {
		a := srcPs[i].Val.RawMatrix().Data
		b := dstPs[i].Val.RawMatrix().Data
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("parameter %s differs after load", srcPs[i].Name)
			}
		}
	}

	// Mismatched architecture is rejected.
	other := cfg
	other.DBlk = 2
	small, err := New(other, rand.NewPCG(12, 12))
	if err != nil {
		t.Fatal(err)
	}
	if err := LoadCheckpoint(CheckpointPath(dir, 40), small); err == nil {
		t.Error("expected error loading into a smaller model")
	}
}

func TestTopKSample(t *testing.T) {
	probs := []float64{0.05, 0.5, 0.1, 0.3, 0.05}
	rng := rand.New(rand.NewPCG(13, 13))

	if got := TopKSample(probs, 3, 0, rng); got != 1 {
		t.Errorf("argmax sample = %d, want 1", got)
	}
	for i := 0; i < 200; i++ {
		got := TopKSample(probs, 2, 1, rng)
		if got != 1 && got != 3 {
			t.Fatalf("top-2 sample drew %d, outside {1, 3}", got)
		}
	}
	if got := TopKSample(probs, 1, 1, rng); got != 1 {
		t.Errorf("k=1 sample = %d, want 1", got)
	}
}

func TestGenerateStopsAtEOS(t *testing.T) {
	m, err := New(testCfg(VariantLSTM2000), rand.NewPCG(14, 14))
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(15, 15))
	out, err := Generate(m, []int{tokenizer.BosID, 4}, 20, 5, 1.0, tokenizer.EosID, rng)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) < 3 || len(out) > 22 {
		t.Fatalf("generated length %d out of bounds", len(out))
	}
	for i, id := range out {
		if id == tokenizer.EosID && i != len(out)-1 {
			t.Errorf("generation continued past eos at %d", i)
		}
	}
}
