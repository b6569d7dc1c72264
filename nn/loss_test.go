package nn

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const padID = 2

func TestCrossEntropyUniform(t *testing.T) {
	// Uniform logits over V classes: loss per row is log(V).
	logits := mat.NewDense(2, 4, nil)
	sum, n, _ := CrossEntropyStep(logits, []int{0, 3}, padID)
	if n != 2 {
		t.Fatalf("counted %d rows, want 2", n)
	}
	if want := 2 * math.Log(4); math.Abs(sum-want) > 1e-12 {
		t.Errorf("loss sum = %g, want %g", sum, want)
	}
}

func TestCrossEntropyPadMask(t *testing.T) {
	logits := mat.NewDense(3, 4, []float64{
		1, 2, 3, 4,
		4, 3, 2, 1,
		0.5, 0.5, 0.5, 0.5,
	})
	sum, n, dLogits := CrossEntropyStep(logits, []int{padID, 1, padID}, padID)
	if n != 1 {
		t.Errorf("counted %d rows, want 1", n)
	}
	if sum <= 0 {
		t.Errorf("loss sum = %g, want positive", sum)
	}
	for _, r := range []int{0, 2} {
		for j := 0; j < 4; j++ {
			if dLogits.At(r, j) != 0 {
				t.Errorf("pad row %d has gradient %g at %d", r, dLogits.At(r, j), j)
			}
		}
	}
}

func TestCrossEntropyAllPad(t *testing.T) {
	logits := mat.NewDense(2, 4, []float64{1, 2, 3, 4, 4, 3, 2, 1})
	sum, n, dLogits := CrossEntropyStep(logits, []int{padID, padID}, padID)
	if sum != 0 || n != 0 {
		t.Errorf("all-pad batch: loss %g count %d, want 0 and 0", sum, n)
	}
	for _, v := range dLogits.RawMatrix().Data {
		if v != 0 {
			t.Fatal("all-pad batch produced nonzero gradient")
		}
	}
}

func TestCrossEntropyGradientSumsToZero(t *testing.T) {
	// softmax - onehot sums to zero along the vocab axis.
	logits := mat.NewDense(1, 5, []float64{0.3, -1, 2, 0.7, 0})
	_, _, dLogits := CrossEntropyStep(logits, []int{3}, padID)
	var sum float64
	for _, v := range dLogits.RawMatrix().Data {
		sum += v
	}
	if math.Abs(sum) > 1e-12 {
		t.Errorf("gradient row sums to %g, want 0", sum)
	}
}

func TestSoftmaxRows(t *testing.T) {
	p := SoftmaxRows(mat.NewDense(2, 3, []float64{1, 1, 1, 100, 0, -100}))
	for r := 0; r < 2; r++ {
		var sum float64
		for j := 0; j < 3; j++ {
			v := p.At(r, j)
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Fatalf("probability out of range: %g", v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %g", r, sum)
		}
	}
	if p.At(1, 0) < 0.999 {
		t.Errorf("dominant logit got probability %g", p.At(1, 0))
	}
}

func TestSelfAttentionCausal(t *testing.T) {
	a := NewSelfAttention(4, 0.5, testSrc())
	x := randomDense(3, 4, testSrc())
	_, cc, err := a.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := 0; i < 3; i++ {
		var sum float64
		for j := 0; j < 3; j++ {
			if j > i && cc.A.At(i, j) != 0 {
				t.Errorf("future position attended: A[%d,%d] = %g", i, j, cc.A.At(i, j))
			}
			sum += cc.A.At(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("attention row %d sums to %g", i, sum)
		}
	}
}

func TestSelfAttentionGradCheck(t *testing.T) {
	a := NewSelfAttention(3, 0.5, testSrc())
	x := randomDense(4, 3, testSrc())

	loss := func() float64 {
		out, _, err := a.Forward(x)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		var sum float64
		for _, v := range out.RawMatrix().Data {
			sum += v * v
		}
		return sum / 2
	}

	out, cc, _ := a.Forward(x)
	a.Backward(cc, mat.DenseCopyOf(out))

	for _, p := range a.Params() {
		val := p.Val.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		for i := 0; i < len(val); i += 3 {
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
				t.Errorf("%s[%d]: analytic %g vs numeric %g", p.Name, i, grad[i], num)
			}
		}
	}
}
