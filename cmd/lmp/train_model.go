package main

import (
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/shangrex/language-model-playground/dset"
	"github.com/shangrex/language-model-playground/pkg/config"
	"github.com/shangrex/language-model-playground/tokenizer"
	"github.com/shangrex/language-model-playground/train"
)

// addTrainFlags binds the hyperparameter flags shared by train-model
// and ddp-train-model.
func addTrainFlags(cmd *cobra.Command, cfg *config.Train) {
	fs := cmd.Flags()
	fs.StringVar(&cfg.ExpName, "exp_name", "", "Experiment name")
	fs.StringVar(&cfg.TknzrExpName, "tknzr_exp_name", "", "Tokenizer experiment name")
	fs.StringVar(&cfg.DsetName, "dset_name", cfg.DsetName, "Dataset name")
	fs.StringVar(&cfg.Ver, "ver", cfg.Ver, "Dataset version")
	fs.IntVar(&cfg.DEmb, "d_emb", cfg.DEmb, "Embedding dimension")
	fs.IntVar(&cfg.DHid, "d_hid", cfg.DHid, "Hidden dimension (elman-net)")
	fs.IntVar(&cfg.NBlk, "n_blk", cfg.NBlk, "Number of memory blocks")
	fs.IntVar(&cfg.DBlk, "d_blk", cfg.DBlk, "Cells per memory block")
	fs.IntVar(&cfg.NLyr, "n_lyr", cfg.NLyr, "Recurrent layers")
	fs.Float64Var(&cfg.PEmb, "p_emb", cfg.PEmb, "Embedding dropout rate")
	fs.Float64Var(&cfg.PHid, "p_hid", cfg.PHid, "Hidden dropout rate")
	fs.IntVar(&cfg.MaxSeqLen, "max_seq_len", cfg.MaxSeqLen, "Sequence length after padding")
	fs.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "Batch size")
	fs.IntVar(&cfg.NEpoch, "n_epoch", cfg.NEpoch, "Training epochs")
	fs.Float64Var(&cfg.LR, "lr", cfg.LR, "Peak learning rate")
	fs.Float64Var(&cfg.Beta1, "beta1", cfg.Beta1, "AdamW beta1")
	fs.Float64Var(&cfg.Beta2, "beta2", cfg.Beta2, "AdamW beta2")
	fs.Float64Var(&cfg.Eps, "eps", cfg.Eps, "AdamW epsilon")
	fs.Float64Var(&cfg.WD, "wd", cfg.WD, "Weight decay")
	fs.Float64Var(&cfg.MaxNorm, "max_norm", cfg.MaxNorm, "Gradient clipping norm (0 disables)")
	fs.IntVar(&cfg.WarmupStep, "warmup_step", cfg.WarmupStep, "Warmup steps")
	fs.IntVar(&cfg.CkptStep, "ckpt_step", cfg.CkptStep, "Checkpoint interval")
	fs.IntVar(&cfg.LogStep, "log_step", cfg.LogStep, "Log interval")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Base RNG seed")
}

// prepareRun loads the tokenizer and dataset a validated config names.
func prepareRun(cfg config.Train) (tokenizer.Tokenizer, *dset.Dataset, error) {
	tk, err := tokenizer.Load(expRoot, cfg.TknzrExpName)
	if err != nil {
		return nil, nil, err
	}
	ds, err := dset.Load(dataDir, cfg.DsetName, cfg.Ver)
	if err != nil {
		return nil, nil, err
	}
	return tk, ds, nil
}

func newTrainModelCmd() *cobra.Command {
	cfg := config.DefaultTrain()

	cmd := &cobra.Command{
		Use:       "train-model <variant>",
		Short:     "Train a language model on one process",
		Args:      cobra.ExactArgs(1),
		ValidArgs: modelVariants(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Variant = args[0]
			if err := cfg.Validate(); err != nil {
				return err
			}

			tk, ds, err := prepareRun(cfg)
			if err != nil {
				return err
			}
			m, err := buildModel(cfg, tk.Vocab().Size(), rand.NewPCG(cfg.Seed, 1))
			if err != nil {
				return err
			}

			dir := expDir(cfg.ExpName)
			if err := cfg.Save(dir); err != nil {
				return err
			}
			return train.NewTrainer(cfg, m, tk, ds, dir).Run()
		},
	}
	addTrainFlags(cmd, &cfg)
	return cmd
}
