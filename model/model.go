// Package model assembles recurrent language models from the nn layers:
// tied-embedding input/output, a stack of recurrent cells, and optional
// residual or self-attention wiring. Training is manual backprop through
// time driven by Forward.
package model

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/shangrex/language-model-playground/nn"
)

// State is the carried decoding state: one nn.State per recurrent layer
// and, for the self-attention variant, the per-sample history of top
// hidden states the attention layer reads. States are immutable values:
// Forward and Predict return fresh states and never mutate their inputs.
type State struct {
	Layers []nn.State
	Hist   []*mat.Dense // per batch element, seqSoFar × dHid; nil without attention
}

// LanguageModel is one trainable next-token model.
type LanguageModel interface {
	// Name returns the registry name of the variant.
	Name() string

	// InitState builds the learned initial state for a batch.
	InitState(batch int) *State

	// Forward computes the mean cross-entropy of next given cur, masking
	// padded targets. cur and next are batch-major id matrices of equal
	// shape. A nil prev starts from the learned initial state. When rng
	// is non-nil the model runs in training mode: dropout is active and
	// parameter gradients are accumulated.
	Forward(cur, next [][]int, prev *State, rng *rand.Rand) (float64, *State, error)

	// Predict returns the next-token distribution after consuming cur,
	// one row per batch element, along with the advanced state.
	Predict(cur [][]int, prev *State) (*mat.Dense, *State, error)

	// Params returns every trainable parameter with a unique name.
	Params() []*nn.Param
}

// Config fixes a model's architecture. DHid is the hidden width for
// elman-net; the block variants derive theirs as NBlk*DBlk.
type Config struct {
	Variant   string
	VocabSize int
	PadID     int
	DEmb      int
	DHid      int
	NBlk      int
	DBlk      int
	NLyr      int
	PEmb      float64
	PHid      float64
}

// HiddenDim returns the hidden width the variant will use.
func (c Config) HiddenDim() int {
	if c.Variant == VariantElman {
		return c.DHid
	}
	return c.NBlk * c.DBlk
}

// Registry names.
const (
	VariantElman    = "elman-net"
	VariantLSTM1997 = "lstm-1997"
	VariantLSTM2000 = "lstm-2000"
	VariantLSTM2002 = "lstm-2002"
	VariantResLSTM  = "res-lstm"
	VariantAttnLSTM = "self-attn-lstm"
)

type builder func(Config, rand.Source) (LanguageModel, error)

var registry = map[string]builder{
	VariantElman:    newElmanNet,
	VariantLSTM1997: newLSTM1997,
	VariantLSTM2000: newLSTM2000,
	VariantLSTM2002: newLSTM2002,
	VariantResLSTM:  newResLSTM,
	VariantAttnLSTM: newAttnLSTM,
}

// Variants lists the registered model names, sorted.
func Variants() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the model the config names.
func New(cfg Config, src rand.Source) (LanguageModel, error) {
	build, ok := registry[cfg.Variant]
	if !ok {
		return nil, fmt.Errorf("model: unknown variant %q (have %v)", cfg.Variant, Variants())
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return build(cfg, src)
}

func validate(cfg Config) error {
	if cfg.VocabSize < 1 {
		return fmt.Errorf("model: vocab size %d must be >= 1", cfg.VocabSize)
	}
	if cfg.DEmb < 1 {
		return fmt.Errorf("model: d_emb %d must be >= 1", cfg.DEmb)
	}
	if cfg.NLyr < 1 {
		return fmt.Errorf("model: n_lyr %d must be >= 1", cfg.NLyr)
	}
	if cfg.PEmb < 0 || cfg.PEmb >= 1 || cfg.PHid < 0 || cfg.PHid >= 1 {
		return fmt.Errorf("model: dropout rates p_emb=%g p_hid=%g must be in [0, 1)", cfg.PEmb, cfg.PHid)
	}
	if cfg.Variant == VariantElman {
		if cfg.DHid < 1 {
			return fmt.Errorf("model: d_hid %d must be >= 1", cfg.DHid)
		}
		return nil
	}
	if cfg.NBlk < 1 || cfg.DBlk < 1 {
		return fmt.Errorf("model: n_blk %d and d_blk %d must be >= 1", cfg.NBlk, cfg.DBlk)
	}
	return nil
}

func newElmanNet(cfg Config, src rand.Source) (LanguageModel, error) {
	bound := nn.InitBound(cfg.DEmb, cfg.DHid)
	cells := make([]nn.Cell, cfg.NLyr)
	in := cfg.DEmb
	for l := range cells {
		cells[l] = nn.NewElmanCell(in, cfg.DHid, bound, src)
		in = cfg.DHid
	}
	return assemble(cfg, cells, bound, src, options{})
}

func newLSTM1997(cfg Config, src rand.Source) (LanguageModel, error) {
	return newBlockStack(cfg, src, func(in int, bound float64) nn.Cell {
		return nn.NewLSTM1997Cell(in, cfg.NBlk, cfg.DBlk, bound, src)
	})
}

func newLSTM2000(cfg Config, src rand.Source) (LanguageModel, error) {
	return newBlockStack(cfg, src, func(in int, bound float64) nn.Cell {
		return nn.NewLSTM2000Cell(in, cfg.NBlk, cfg.DBlk, bound, src)
	})
}

func newLSTM2002(cfg Config, src rand.Source) (LanguageModel, error) {
	return newBlockStack(cfg, src, func(in int, bound float64) nn.Cell {
		return nn.NewLSTM2002Cell(in, cfg.NBlk, cfg.DBlk, bound, src)
	})
}

func newBlockStack(cfg Config, src rand.Source, mk func(in int, bound float64) nn.Cell) (LanguageModel, error) {
	hid := cfg.NBlk * cfg.DBlk
	bound := nn.InitBound(cfg.DEmb, hid)
	cells := make([]nn.Cell, cfg.NLyr)
	in := cfg.DEmb
	for l := range cells {
		cells[l] = mk(in, bound)
		in = hid
	}
	return assemble(cfg, cells, bound, src, options{})
}

// newResLSTM projects the embedding to the hidden width, then stacks
// residual blocks out = in + cell(in) over LSTM-2000 cells.
func newResLSTM(cfg Config, src rand.Source) (LanguageModel, error) {
	hid := cfg.NBlk * cfg.DBlk
	bound := nn.InitBound(cfg.DEmb, hid)
	cells := make([]nn.Cell, cfg.NLyr)
	for l := range cells {
		cells[l] = nn.NewLSTM2000Cell(hid, cfg.NBlk, cfg.DBlk, bound, src)
	}
	return assemble(cfg, cells, bound, src, options{inputProj: true, residual: true})
}

// newAttnLSTM runs an LSTM-2000 stack and then causal self-attention
// over the sequence of top hidden states before the output head.
func newAttnLSTM(cfg Config, src rand.Source) (LanguageModel, error) {
	hid := cfg.NBlk * cfg.DBlk
	bound := nn.InitBound(cfg.DEmb, hid)
	cells := make([]nn.Cell, cfg.NLyr)
	in := cfg.DEmb
	for l := range cells {
		cells[l] = nn.NewLSTM2000Cell(in, cfg.NBlk, cfg.DBlk, bound, src)
		in = hid
	}
	return assemble(cfg, cells, bound, src, options{attention: true})
}
