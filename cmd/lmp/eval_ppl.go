package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shangrex/language-model-playground/dset"
	"github.com/shangrex/language-model-playground/pkg/validate"
	"github.com/shangrex/language-model-playground/train"
)

func newEvalPPLCmd() *cobra.Command {
	var (
		exp       string
		ver       string
		batchSize int
		ckpt      int
	)

	cmd := &cobra.Command{
		Use:   "eval-ppl",
		Short: "Evaluate perplexity on a dataset version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if exp == "" {
				return fmt.Errorf("--exp_name must not be empty")
			}
			if err := validate.Ordered(
				[]float64{1, float64(batchSize)}, []string{"1", "batch_size"}); err != nil {
				return err
			}

			cfg, tk, m, err := loadExperiment(exp, ckpt)
			if err != nil {
				return err
			}
			ds, err := dset.Load(dataDir, cfg.DsetName, ver)
			if err != nil {
				return err
			}

			ppl, err := train.Perplexity(m, tk, ds, batchSize, cfg.MaxSeqLen)
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s ppl %.4f\n", cfg.DsetName, ver, ppl)
			return nil
		},
	}

	cmd.Flags().StringVar(&exp, "exp_name", "", "Experiment name")
	cmd.Flags().StringVar(&ver, "ver", dset.VerValid, "Dataset version")
	cmd.Flags().IntVar(&batchSize, "batch_size", 32, "Evaluation batch size")
	cmd.Flags().IntVar(&ckpt, "ckpt", -1, "Checkpoint step (-1 for latest)")
	return cmd
}
