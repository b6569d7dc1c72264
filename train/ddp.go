package train

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shangrex/language-model-playground/dist"
	"github.com/shangrex/language-model-playground/dset"
	"github.com/shangrex/language-model-playground/model"
	"github.com/shangrex/language-model-playground/nn"
	"github.com/shangrex/language-model-playground/optim"
	"github.com/shangrex/language-model-playground/pkg/config"
	"github.com/shangrex/language-model-playground/tokenizer"
)

// DDPTrainer runs distributed data-parallel training: every rank keeps
// a full model replica, works its own sampler partition, and averages
// gradients through the store-backed communicator each step. Only rank
// 0 writes checkpoints and scalar logs.
type DDPTrainer struct {
	Cfg    config.Train
	Model  model.LanguageModel
	Opt    *optim.AdamW
	Comm   *dist.Communicator
	ExpDir string

	ids   [][]int
	rng   *rand.Rand
	rank  int
	world int
}

// NewDDPTrainer wires one rank's replica. The training RNG is seeded
// with base seed plus rank so dropout decorrelates across ranks.
func NewDDPTrainer(cfg config.Train, m model.LanguageModel, tk tokenizer.Tokenizer, ds *dset.Dataset, expDir string, comm *dist.Communicator, rank, world int) *DDPTrainer {
	return &DDPTrainer{
		Cfg:    cfg,
		Model:  m,
		Opt:    optim.NewAdamW(m.Params(), cfg.LR, cfg.Beta1, cfg.Beta2, cfg.Eps, cfg.WD, cfg.MaxNorm),
		Comm:   comm,
		ExpDir: expDir,
		ids:    dset.EncodeAll(tk, ds.Samples, cfg.MaxSeqLen),
		rng:    rand.New(rand.NewPCG(dist.RankSeed(cfg.Seed, rank), 0)),
		rank:   rank,
		world:  world,
	}
}

// Run executes the distributed schedule. Partition sizes can differ by
// one sample, so per-epoch batch counts can differ by one round: each
// round the ranks all-reduce an active flag, and ranks that ran out of
// batches keep contributing zero gradients (and still apply the
// averaged update) until every rank is done. Parameters therefore stay
// bitwise identical across ranks after every step.
func (t *DDPTrainer) Run() error {
	cfg := t.Cfg

	// Rank 0's initial weights win, whatever each rank seeded locally.
	flat := flattenVals(t.Model.Params())
	if err := t.Comm.Broadcast(flat, 0); err != nil {
		return err
	}
	unflattenVals(t.Model.Params(), flat)

	var scalars *ScalarWriter
	if t.rank == 0 {
		var err error
		if scalars, err = NewScalarWriter(t.ExpDir); err != nil {
			return err
		}
		defer scalars.Close()
	}

	n := len(t.ids)
	// Every rank sees the same horizon: the largest partition's rounds.
	roundsPerEpoch := ceilDiv(ceilDiv(n, t.world), cfg.BatchSize)
	totalSteps := cfg.NEpoch * roundsPerEpoch

	if t.rank == 0 {
		fmt.Printf("DDP training %s on %s/%s: %d samples, world %d, %d steps\n",
			t.Model.Name(), cfg.DsetName, cfg.Ver, n, t.world, totalSteps)
	}

	start := time.Now()
	step := 0
	smooth := 0.0
	for epoch := 0; epoch < cfg.NEpoch; epoch++ {
		order := dist.Indices(n, t.rank, t.world, cfg.Seed, epoch)
		batches := dset.MakeBatches(t.ids, order, cfg.BatchSize)

		for round := 0; ; round++ {
			flag := []float64{0}
			if round < len(batches) {
				flag[0] = 1
			}
			if err := t.Comm.AllReduceSum(flag); err != nil {
				return err
			}
			if flag[0] == 0 {
				break
			}

			step++
			t.Opt.ZeroGrad()

			loss := 0.0
			if round < len(batches) {
				b := batches[round]
				var err error
				if loss, _, err = t.Model.Forward(b.Cur, b.Next, nil, t.rng); err != nil {
					return fmt.Errorf("train: rank %d step %d: %w", t.rank, step, err)
				}
			}

			grads := flattenGrads(t.Model.Params())
			if err := t.Comm.AllReduceSum(grads); err != nil {
				return err
			}
			scale := 1 / float64(t.world)
			for i := range grads {
				grads[i] *= scale
			}
			unflattenGrads(t.Model.Params(), grads)

			lr := optim.CosineSchedule(step, cfg.WarmupStep, totalSteps, cfg.LR, cfg.LR*minLRFactor)
			t.Opt.SetLR(lr)
			t.Opt.Step()

			if t.rank != 0 {
				continue
			}
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

	if t.rank == 0 && step%cfg.CkptStep != 0 {
		if err := model.SaveCheckpoint(t.ExpDir, step, t.Model); err != nil {
			return err
		}
	}
	return t.Comm.Barrier()
}

func flattenVals(params []*nn.Param) []float64 {
	var out []float64
	for _, p := range params {
		out = append(out, p.Val.RawMatrix().Data...)
	}
	return out
}

func unflattenVals(params []*nn.Param, vec []float64) {
	off := 0
	for _, p := range params {
		data := p.Val.RawMatrix().Data
		copy(data, vec[off:off+len(data)])
		off += len(data)
	}
}

func flattenGrads(params []*nn.Param) []float64 {
	var out []float64
	for _, p := range params {
		out = append(out, p.Grad.RawMatrix().Data...)
	}
	return out
}

func unflattenGrads(params []*nn.Param, vec []float64) {
	off := 0
	for _, p := range params {
		data := p.Grad.RawMatrix().Data
		copy(data, vec[off:off+len(data)])
		off += len(data)
	}
}
