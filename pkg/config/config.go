// Package config holds the training configuration and its on-disk
// round trip: every run writes config.yaml into its experiment
// directory so evaluation and generation can rebuild the same model.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shangrex/language-model-playground/dist"
	"github.com/shangrex/language-model-playground/pkg/validate"
)

// FileName is the config snapshot inside an experiment directory.
const FileName = "config.yaml"

// Train is one training run's full configuration. Field names mirror
// the CLI flags.
type Train struct {
	// Experiment wiring.
	ExpName      string `yaml:"exp_name"`
	TknzrExpName string `yaml:"tknzr_exp_name"`
	DsetName     string `yaml:"dset_name"`
	Ver          string `yaml:"ver"`
	Variant      string `yaml:"variant"`

	// Model architecture.
	DEmb      int     `yaml:"d_emb"`
	DHid      int     `yaml:"d_hid"`
	NBlk      int     `yaml:"n_blk"`
	DBlk      int     `yaml:"d_blk"`
	NLyr      int     `yaml:"n_lyr"`
	PEmb      float64 `yaml:"p_emb"`
	PHid      float64 `yaml:"p_hid"`
	MaxSeqLen int     `yaml:"max_seq_len"`

	// Optimization.
	BatchSize  int     `yaml:"batch_size"`
	NEpoch     int     `yaml:"n_epoch"`
	LR         float64 `yaml:"lr"`
	Beta1      float64 `yaml:"beta1"`
	Beta2      float64 `yaml:"beta2"`
	Eps        float64 `yaml:"eps"`
	WD         float64 `yaml:"wd"`
	MaxNorm    float64 `yaml:"max_norm"`
	WarmupStep int     `yaml:"warmup_step"`
	CkptStep   int     `yaml:"ckpt_step"`
	LogStep    int     `yaml:"log_step"`
	Seed       uint64  `yaml:"seed"`

	// Distributed identity. Local to each rank, never synchronized and
	// never restored from a snapshot.
	HostName  string `yaml:"-"`
	HostPort  int    `yaml:"-"`
	LocalRank int    `yaml:"-"`
	Rank      int    `yaml:"-"`
	WorldSize int    `yaml:"-"`
}

// DefaultTrain returns the baseline hyperparameters.
func DefaultTrain() Train {
	return Train{
		DsetName:   "demo",
		Ver:        "train",
		DEmb:       64,
		DHid:       128,
		NBlk:       8,
		DBlk:       16,
		NLyr:       1,
		PEmb:       0.1,
		PHid:       0.1,
		MaxSeqLen:  32,
		BatchSize:  32,
		NEpoch:     10,
		LR:         1e-3,
		Beta1:      0.9,
		Beta2:      0.999,
		Eps:        1e-8,
		WD:         1e-2,
		MaxNorm:    1.0,
		WarmupStep: 100,
		CkptStep:   500,
		LogStep:    100,
		Seed:       42,
		WorldSize:  1,
	}
}

// Validate rejects out-of-range hyperparameters before any model or
// store is constructed.
func (c *Train) Validate() error {
	checks := []struct {
		vals  []float64
		names []string
	}{
		{[]float64{1, float64(c.BatchSize)}, []string{"1", "batch_size"}},
		{[]float64{1, float64(c.NEpoch)}, []string{"1", "n_epoch"}},
		{[]float64{1, float64(c.CkptStep)}, []string{"1", "ckpt_step"}},
		{[]float64{1, float64(c.LogStep)}, []string{"1", "log_step"}},
		{[]float64{2, float64(c.MaxSeqLen)}, []string{"2", "max_seq_len"}},
		{[]float64{0, float64(c.WarmupStep)}, []string{"0", "warmup_step"}},
		{[]float64{0, c.MaxNorm}, []string{"0", "max_norm"}},
		{[]float64{0, c.LR}, []string{"0", "lr"}},
		{[]float64{0, c.Beta1, 1}, []string{"0", "beta1", "1"}},
		{[]float64{0, c.Beta2, 1}, []string{"0", "beta2", "1"}},
		{[]float64{0, c.Eps}, []string{"0", "eps"}},
		{[]float64{0, c.WD}, []string{"0", "wd"}},
		{[]float64{0, float64(c.LocalRank)}, []string{"0", "local_rank"}},
		{[]float64{1, float64(c.WorldSize)}, []string{"1", "world_size"}},
		{[]float64{0, float64(c.Rank), float64(c.WorldSize - 1)}, []string{"0", "rank", "world_size-1"}},
	}
	for _, ck := range checks {
		if err := validate.Ordered(ck.vals, ck.names); err != nil {
			return err
		}
	}
	if c.ExpName == "" {
		return fmt.Errorf("config: exp_name must not be empty")
	}
	return nil
}

// SyncFields lists every field shared across ranks during distributed
// training. The identity fields stay off the list.
func (c *Train) SyncFields() []dist.Field {
	return []dist.Field{
		{Name: "exp_name", Ptr: &c.ExpName},
		{Name: "tknzr_exp_name", Ptr: &c.TknzrExpName},
		{Name: "dset_name", Ptr: &c.DsetName},
		{Name: "ver", Ptr: &c.Ver},
		{Name: "variant", Ptr: &c.Variant},
		{Name: "d_emb", Ptr: &c.DEmb},
		{Name: "d_hid", Ptr: &c.DHid},
		{Name: "n_blk", Ptr: &c.NBlk},
		{Name: "d_blk", Ptr: &c.DBlk},
		{Name: "n_lyr", Ptr: &c.NLyr},
		{Name: "p_emb", Ptr: &c.PEmb},
		{Name: "p_hid", Ptr: &c.PHid},
		{Name: "max_seq_len", Ptr: &c.MaxSeqLen},
		{Name: "batch_size", Ptr: &c.BatchSize},
		{Name: "n_epoch", Ptr: &c.NEpoch},
		{Name: "lr", Ptr: &c.LR},
		{Name: "beta1", Ptr: &c.Beta1},
		{Name: "beta2", Ptr: &c.Beta2},
		{Name: "eps", Ptr: &c.Eps},
		{Name: "wd", Ptr: &c.WD},
		{Name: "max_norm", Ptr: &c.MaxNorm},
		{Name: "warmup_step", Ptr: &c.WarmupStep},
		{Name: "ckpt_step", Ptr: &c.CkptStep},
		{Name: "log_step", Ptr: &c.LogStep},
		{Name: "seed", Ptr: &c.Seed},
	}
}

// Save writes the config snapshot into the experiment directory.
func (c *Train) Save(expDir string) error {
	if err := os.MkdirAll(expDir, 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(filepath.Join(expDir, FileName), raw, 0o644)
}

// Load reads a previously saved config snapshot.
func Load(expDir string) (Train, error) {
	raw, err := os.ReadFile(filepath.Join(expDir, FileName))
	if err != nil {
		return Train{}, fmt.Errorf("config: %w", err)
	}
	var c Train
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Train{}, fmt.Errorf("config: parse: %w", err)
	}
	c.WorldSize = 1
	return c, nil
}
