package optim

import (
	"math"

	"github.com/shangrex/language-model-playground/nn"
)

// AdamW implements the AdamW optimizer (decoupled weight decay).
type AdamW struct {
	Params      []*nn.Param
	LR          float64 // learning rate
	Beta1       float64 // first moment decay
	Beta2       float64 // second moment decay
	Eps         float64 // numerical stability
	WeightDecay float64 // decoupled L2 penalty
	MaxGradNorm float64 // gradient clipping (0 = disabled)

	// State
	m    [][]float64 // first moment (mean of gradients)
	v    [][]float64 // second moment (mean of squared gradients)
	step int
}

// NewAdamW creates an optimizer over the given parameters.
func NewAdamW(params []*nn.Param, lr, beta1, beta2, eps, weightDecay, maxGradNorm float64) *AdamW {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		n := p.NumElements()
		m[i] = make([]float64, n)
		v[i] = make([]float64, n)
	}

	return &AdamW{
		Params:      params,
		LR:          lr,
		Beta1:       beta1,
		Beta2:       beta2,
		Eps:         eps,
		WeightDecay: weightDecay,
		MaxGradNorm: maxGradNorm,
		m:           m,
		v:           v,
	}
}

// Step performs one optimization step.
// Gradients must be set on each parameter before calling.
func (opt *AdamW) Step() {
	opt.step++

	// Gradient clipping (global norm)
	if opt.MaxGradNorm > 0 {
		opt.clipGradNorm()
	}

	// Bias correction factors
	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.step))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.step))

	lr := opt.LR

	for i, param := range opt.Params {
		pData := param.Val.RawMatrix().Data
		gData := param.Grad.RawMatrix().Data
		m := opt.m[i]
		v := opt.v[i]

		for j := 0; j < len(pData); j++ {
			g := gData[j]

			// Update moments
			m[j] = opt.Beta1*m[j] + (1-opt.Beta1)*g
			v[j] = opt.Beta2*v[j] + (1-opt.Beta2)*g*g

			// Bias-corrected moments
			mHat := m[j] / bc1
			vHat := v[j] / bc2

			// Adam update
			update := mHat / (math.Sqrt(vHat) + opt.Eps)

			// Decoupled weight decay (AdamW)
			pData[j] -= lr * (update + opt.WeightDecay*pData[j])
		}
	}
}

// ZeroGrad clears all gradients.
func (opt *AdamW) ZeroGrad() {
	for _, p := range opt.Params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm of all gradients.
func (opt *AdamW) GradNorm() float64 {
	totalNorm := 0.0
	for _, p := range opt.Params {
		for _, g := range p.Grad.RawMatrix().Data {
			totalNorm += g * g
		}
	}
	return math.Sqrt(totalNorm)
}

// clipGradNorm clips gradients by global L2 norm.
func (opt *AdamW) clipGradNorm() {
	totalNorm := opt.GradNorm()
	if totalNorm <= opt.MaxGradNorm {
		return
	}

	scale := opt.MaxGradNorm / totalNorm
	for _, p := range opt.Params {
		gData := p.Grad.RawMatrix().Data
		for i := range gData {
			gData[i] *= scale
		}
	}
}

// GetLR returns the current learning rate.
func (opt *AdamW) GetLR() float64 {
	return opt.LR
}

// SetLR updates the learning rate (for scheduling).
func (opt *AdamW) SetLR(lr float64) {
	opt.LR = lr
}

// CosineSchedule computes the learning rate at a step: linear warmup to
// maxLR over warmupSteps, then cosine decay toward minLR.
func CosineSchedule(step, warmupSteps, totalSteps int, maxLR, minLR float64) float64 {
	if warmupSteps > 0 && step < warmupSteps {
		return maxLR * float64(step) / float64(warmupSteps)
	}

	if totalSteps <= warmupSteps {
		return maxLR
	}
	progress := float64(step-warmupSteps) / float64(totalSteps-warmupSteps)
	if progress > 1.0 {
		progress = 1.0
	}
	return minLR + 0.5*(maxLR-minLR)*(1.0+math.Cos(math.Pi*progress))
}
