package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/shangrex/language-model-playground/model"
	"github.com/shangrex/language-model-playground/pkg/validate"
	"github.com/shangrex/language-model-playground/tokenizer"
)

func newGenTxtCmd() *cobra.Command {
	var (
		exp         string
		txt         string
		maxNew      int
		topK        int
		temperature float64
		seed        uint64
		ckpt        int
	)

	cmd := &cobra.Command{
		Use:   "gen-txt",
		Short: "Generate text from a trained model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if exp == "" {
				return fmt.Errorf("--exp_name must not be empty")
			}
			if err := validate.Ordered(
				[]float64{1, float64(maxNew)}, []string{"1", "max_new"}); err != nil {
				return err
			}
			if err := validate.Ordered(
				[]float64{0, temperature}, []string{"0", "temperature"}); err != nil {
				return err
			}

			_, tk, m, err := loadExperiment(exp, ckpt)
			if err != nil {
				return err
			}

			// Keep the begin marker, drop the end marker the encoder
			// appends: the model continues the prompt instead.
			prompt := tk.Encode(txt)
			prompt = prompt[:len(prompt)-1]

			rng := rand.New(rand.NewPCG(seed, 0))
			ids, err := model.Generate(m, prompt, maxNew, topK, temperature, tokenizer.EosID, rng)
			if err != nil {
				return err
			}
			fmt.Println(tk.Decode(ids))
			return nil
		},
	}

	cmd.Flags().StringVar(&exp, "exp_name", "", "Experiment name")
	cmd.Flags().StringVar(&txt, "txt", "", "Prompt text")
	cmd.Flags().IntVar(&maxNew, "max_new", 32, "Maximum generated tokens")
	cmd.Flags().IntVar(&topK, "top_k", 40, "Top-k sampling cutoff (0 keeps all)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.8, "Sampling temperature (0 for greedy)")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Sampling RNG seed")
	cmd.Flags().IntVar(&ckpt, "ckpt", -1, "Checkpoint step (-1 for latest)")
	return cmd
}
