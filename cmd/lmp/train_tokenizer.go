package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shangrex/language-model-playground/dset"
	"github.com/shangrex/language-model-playground/pkg/validate"
	"github.com/shangrex/language-model-playground/tokenizer"
)

func newTrainTokenizerCmd() *cobra.Command {
	var (
		dsetName  string
		ver       string
		exp       string
		maxVocab  int
		minCount  int
		isUncased bool
	)

	cmd := &cobra.Command{
		Use:   "train-tokenizer <whitespace|character>",
		Short: "Build a tokenizer vocabulary from a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if exp == "" {
				return fmt.Errorf("--exp_name must not be empty")
			}
			if err := validate.Ordered(
				[]float64{1, float64(minCount)}, []string{"1", "min_count"}); err != nil {
				return err
			}
			if maxVocab != -1 {
				if err := validate.Ordered(
					[]float64{1, float64(maxVocab)}, []string{"1", "max_vocab"}); err != nil {
					return err
				}
			}

			tk, err := tokenizer.New(args[0], isUncased, maxVocab, minCount)
			if err != nil {
				return err
			}
			ds, err := dset.Load(dataDir, dsetName, ver)
			if err != nil {
				return err
			}

			tk.TrainVocab(ds.Samples)
			if err := tokenizer.Save(tk, expRoot, exp); err != nil {
				return err
			}
			fmt.Printf("Trained %s tokenizer on %s/%s: vocab %d\n",
				tk.Name(), dsetName, ver, tk.Vocab().Size())
			return nil
		},
	}

	cmd.Flags().StringVar(&dsetName, "dset_name", "demo", "Dataset name")
	cmd.Flags().StringVar(&ver, "ver", dset.VerTrain, "Dataset version")
	cmd.Flags().StringVar(&exp, "exp_name", "", "Tokenizer experiment name")
	cmd.Flags().IntVar(&maxVocab, "max_vocab", -1, "Vocabulary size cap (-1 for unlimited)")
	cmd.Flags().IntVar(&minCount, "min_count", 1, "Minimum token frequency")
	cmd.Flags().BoolVar(&isUncased, "is_uncased", false, "Lowercase during normalization")
	return cmd
}
