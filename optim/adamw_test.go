package optim

import (
	"math"
	"testing"

	"github.com/shangrex/language-model-playground/nn"
)

func quadParam(vals []float64) *nn.Param {
	p := nn.NewZeroParam("w", 1, len(vals))
	copy(p.Val.RawMatrix().Data, vals)
	return p
}

func TestAdamWReducesQuadratic(t *testing.T) {
	// Minimize f(w) = sum(w^2)/2; gradient is w itself.
	p := quadParam([]float64{3, -2, 1.5})
	opt := NewAdamW([]*nn.Param{p}, 0.1, 0.9, 0.999, 1e-8, 0, 0)

	lossOf := func() float64 {
		var sum float64
		for _, v := range p.Val.RawMatrix().Data {
			sum += v * v
		}
		return sum / 2
	}

	before := lossOf()
	for i := 0; i < 200; i++ {
		opt.ZeroGrad()
		p.Grad.Copy(p.Val)
		opt.Step()
	}
	after := lossOf()
	if after >= before/10 {
		t.Errorf("loss went %g -> %g, expected large decrease", before, after)
	}
}

func TestClipGradNorm(t *testing.T) {
	p := quadParam([]float64{0, 0, 0, 0})
	opt := NewAdamW([]*nn.Param{p}, 0.1, 0.9, 0.999, 1e-8, 0, 1.0)

	copy(p.Grad.RawMatrix().Data, []float64{3, 4, 0, 0}) // norm 5
	opt.clipGradNorm()
	if got := opt.GradNorm(); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("clipped norm = %g, want 1", got)
	}
	// Direction preserved.
	g := p.Grad.RawMatrix().Data
	if math.Abs(g[0]/g[1]-3.0/4.0) > 1e-12 {
		t.Errorf("clipping changed gradient direction: %v", g)
	}

	// Below the threshold, gradients are untouched.
	copy(g, []float64{0.3, 0.4, 0, 0})
	opt.clipGradNorm()
	if g[0] != 0.3 || g[1] != 0.4 {
		t.Errorf("small gradient was scaled: %v", g)
	}
}

func TestWeightDecayDecoupled(t *testing.T) {
	// With zero gradient, AdamW still shrinks weights by lr*wd each step.
	p := quadParam([]float64{1})
	opt := NewAdamW([]*nn.Param{p}, 0.5, 0.9, 0.999, 1e-8, 0.1, 0)
	opt.Step()
	if got, want := p.Val.At(0, 0), 1-0.5*0.1; math.Abs(got-want) > 1e-12 {
		t.Errorf("weight after decay-only step = %g, want %g", got, want)
	}
}

func TestCosineScheduleWarmup(t *testing.T) {
	maxLR, minLR := 1e-3, 1e-5
	warm, total := 100, 1000

	// Linear ramp during warmup.
	for _, step := range []int{0, 25, 50, 99} {
		got := CosineSchedule(step, warm, total, maxLR, minLR)
		want := maxLR * float64(step) / float64(warm)
		if math.Abs(got-want) > 1e-15 {
			t.Errorf("step %d: lr = %g, want %g", step, got, want)
		}
	}

	// Peak at the end of warmup, then monotone decay to minLR.
	if got := CosineSchedule(warm, warm, total, maxLR, minLR); math.Abs(got-maxLR) > 1e-15 {
		t.Errorf("lr at warmup end = %g, want %g", got, maxLR)
	}
	prev := maxLR
	for step := warm + 1; step <= total; step += 50 {
		got := CosineSchedule(step, warm, total, maxLR, minLR)
		if got > prev {
			t.Fatalf("lr increased during decay at step %d: %g > %g", step, got, prev)
		}
		prev = got
	}
	if got := CosineSchedule(total, warm, total, maxLR, minLR); math.Abs(got-minLR) > 1e-12 {
		t.Errorf("lr at final step = %g, want %g", got, minLR)
	}
	// Past the horizon it stays pinned.
	if got := CosineSchedule(total+500, warm, total, maxLR, minLR); math.Abs(got-minLR) > 1e-12 {
		t.Errorf("lr past horizon = %g, want %g", got, minLR)
	}
}
