// Command lmp trains, evaluates and samples recurrent language models.
package main

import (
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shangrex/language-model-playground/model"
	"github.com/shangrex/language-model-playground/pkg/config"
	"github.com/shangrex/language-model-playground/tokenizer"
)

// Shared directory roots, settable on every subcommand.
var (
	expRoot string
	dataDir string
)

func main() {
	root := &cobra.Command{
		Use:           "lmp",
		Short:         "Language model playground",
		Long:          "Train tokenizers and recurrent language models, evaluate perplexity and generate text.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&expRoot, "exp_root", "exp", "Experiment directory root")
	root.PersistentFlags().StringVar(&dataDir, "data_dir", "data", "Dataset directory root")

	root.AddCommand(
		newTrainTokenizerCmd(),
		newTrainModelCmd(),
		newDDPTrainModelCmd(),
		newEvalPPLCmd(),
		newGenTxtCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func expDir(name string) string {
	return filepath.Join(expRoot, name)
}

func modelVariants() []string {
	return model.Variants()
}

// buildModel constructs the architecture a train config describes.
func buildModel(cfg config.Train, vocabSize int, src rand.Source) (model.LanguageModel, error) {
	return model.New(model.Config{
		Variant:   cfg.Variant,
		VocabSize: vocabSize,
		PadID:     tokenizer.PadID,
		DEmb:      cfg.DEmb,
		DHid:      cfg.DHid,
		NBlk:      cfg.NBlk,
		DBlk:      cfg.DBlk,
		NLyr:      cfg.NLyr,
		PEmb:      cfg.PEmb,
		PHid:      cfg.PHid,
	}, src)
}

// loadExperiment rebuilds a trained model and its tokenizer from an
// experiment directory, restoring the requested checkpoint (step < 0
// means latest).
func loadExperiment(name string, step int) (config.Train, tokenizer.Tokenizer, model.LanguageModel, error) {
	dir := expDir(name)
	cfg, err := config.Load(dir)
	if err != nil {
		return config.Train{}, nil, nil, err
	}
	tk, err := tokenizer.Load(expRoot, cfg.TknzrExpName)
	if err != nil {
		return config.Train{}, nil, nil, err
	}
	m, err := buildModel(cfg, tk.Vocab().Size(), rand.NewPCG(cfg.Seed, 1))
	if err != nil {
		return config.Train{}, nil, nil, err
	}
	if step < 0 {
		if step, err = model.LatestStep(dir); err != nil {
			return config.Train{}, nil, nil, err
		}
	}
	if err := model.LoadCheckpoint(model.CheckpointPath(dir, step), m); err != nil {
		return config.Train{}, nil, nil, err
	}
	return cfg, tk, m, nil
}
