// Package train drives the optimization loops: the single-process
// trainer, its distributed data-parallel variant and evaluation.
package train

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shangrex/language-model-playground/dist"
	"github.com/shangrex/language-model-playground/dset"
	"github.com/shangrex/language-model-playground/model"
	"github.com/shangrex/language-model-playground/optim"
	"github.com/shangrex/language-model-playground/pkg/config"
	"github.com/shangrex/language-model-playground/tokenizer"
)

// minLRFactor scales the peak learning rate into the decay floor.
const minLRFactor = 0.1

// Trainer runs the plain single-process loop: epochs over shuffled
// batches, manual backward, clipped AdamW steps under a warmup
// schedule, periodic checkpoints and scalar logs.
type Trainer struct {
	Cfg    config.Train
	Model  model.LanguageModel
	Opt    *optim.AdamW
	ExpDir string

	ids [][]int
	rng *rand.Rand
}

// NewTrainer encodes the dataset once and wires the optimizer.
func NewTrainer(cfg config.Train, m model.LanguageModel, tk tokenizer.Tokenizer, ds *dset.Dataset, expDir string) *Trainer {
	return &Trainer{
		Cfg:    cfg,
		Model:  m,
		Opt:    optim.NewAdamW(m.Params(), cfg.LR, cfg.Beta1, cfg.Beta2, cfg.Eps, cfg.WD, cfg.MaxNorm),
		ExpDir: expDir,
		ids:    dset.EncodeAll(tk, ds.Samples, cfg.MaxSeqLen),
		rng:    rand.New(rand.NewPCG(cfg.Seed, 0)),
	}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Run executes the full training schedule and leaves a final
// checkpoint regardless of ckpt_step alignment.
func (t *Trainer) Run() error {
	cfg := t.Cfg
	scalars, err := NewScalarWriter(t.ExpDir)
	if err != nil {
		return err
	}
	defer scalars.Close()

	n := len(t.ids)
	totalSteps := cfg.NEpoch * ceilDiv(n, cfg.BatchSize)

	fmt.Printf("Training %s on %s/%s: %d samples, %d steps\n",
		t.Model.Name(), cfg.DsetName, cfg.Ver, n, totalSteps)

	start := time.Now()
	step := 0
	smooth := 0.0
	for epoch := 0; epoch < cfg.NEpoch; epoch++ {
		order := dist.Indices(n, 0, 1, cfg.Seed, epoch)
		for _, b := range dset.MakeBatches(t.ids, order, cfg.BatchSize) {
			step++
			lr := optim.CosineSchedule(step, cfg.WarmupStep, totalSteps, cfg.LR, cfg.LR*minLRFactor)
			t.Opt.SetLR(lr)
			t.Opt.ZeroGrad()

			loss, _, err := t.Model.Forward(b.Cur, b.Next, nil, t.rng)
			if err != nil {
				return fmt.Errorf("train: step %d: %w", step, err)
			}
			t.Opt.Step()

			if smooth == 0 {
				smooth = loss
			} else {
				smooth = 0.95*smooth + 0.05*loss
			}

			if step%cfg.LogStep == 0 {
				fmt.Printf("step %4d | loss %.4f (smooth %.4f) | lr %.2e | %v\n",
					step, loss, smooth, lr, time.Since(start).Round(time.Millisecond))
				scalars.Add(step, "loss", loss)
				scalars.Add(step, "lr", lr)
			}
			if step%cfg.CkptStep == 0 {
				if err := model.SaveCheckpoint(t.ExpDir, step, t.Model); err != nil {
					return err
				}
			}
		}
	}

	if step%cfg.CkptStep != 0 {
		if err := model.SaveCheckpoint(t.ExpDir, step, t.Model); err != nil {
			return err
		}
	}
	fmt.Printf("Training complete in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// Perplexity computes exp of the token-weighted mean cross-entropy
// over a dataset version. Padded targets are excluded from the count.
func Perplexity(m model.LanguageModel, tk tokenizer.Tokenizer, ds *dset.Dataset, batchSize, maxSeqLen int) (float64, error) {
	ids := dset.EncodeAll(tk, ds.Samples, maxSeqLen)
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}

	var lossSum float64
	total := 0
	for _, b := range dset.MakeBatches(ids, order, batchSize) {
		loss, _, err := m.Forward(b.Cur, b.Next, nil, nil)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, row := range b.Next {
			for _, id := range row {
				if id != tokenizer.PadID {
					n++
				}
			}
		}
		lossSum += loss * float64(n)
		total += n
	}
	if total == 0 {
		return 0, fmt.Errorf("train: dataset %s/%s has no scoreable tokens", ds.Name, ds.Ver)
	}
	return math.Exp(lossSum / float64(total)), nil
}
