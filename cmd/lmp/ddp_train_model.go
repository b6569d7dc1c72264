package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/shangrex/language-model-playground/dist"
	"github.com/shangrex/language-model-playground/pkg/config"
	"github.com/shangrex/language-model-playground/train"
)

func newDDPTrainModelCmd() *cobra.Command {
	cfg := config.DefaultTrain()

	cmd := &cobra.Command{
		Use:       "ddp-train-model <variant>",
		Short:     "Train a language model across multiple processes",
		Args:      cobra.ExactArgs(1),
		ValidArgs: modelVariants(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Variant = args[0]
			if err := cfg.Validate(); err != nil {
				return err
			}

			addr := fmt.Sprintf("%s:%d", cfg.HostName, cfg.HostPort)
			store, err := dist.NewStore(addr, cfg.Rank, cfg.WorldSize, dist.DefaultTimeout)
			if err != nil {
				return err
			}
			defer store.Close()

			// Rank 0's hyperparameters win on every rank; identity
			// fields stay local. Re-validate what arrived.
			if err := dist.SyncConfig(store, cfg.SyncFields()); err != nil {
				return err
			}
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
			if cfg.Rank == 0 {
				if err := cfg.Save(dir); err != nil {
					return err
				}
			}
			comm := dist.NewCommunicator(store)
			return train.NewDDPTrainer(cfg, m, tk, ds, dir, comm, cfg.Rank, cfg.WorldSize).Run()
		},
	}
	addTrainFlags(cmd, &cfg)
	cmd.Flags().StringVar(&cfg.HostName, "host_name", "127.0.0.1", "Rendezvous host")
	cmd.Flags().IntVar(&cfg.HostPort, "host_port", 30678, "Rendezvous port")
	cmd.Flags().IntVar(&cfg.LocalRank, "local_rank", 0, "Process index on this host")
	cmd.Flags().IntVar(&cfg.Rank, "rank", 0, "Global rank")
	cmd.Flags().IntVar(&cfg.WorldSize, "world_size", 1, "Total number of ranks")
	return cmd
}
