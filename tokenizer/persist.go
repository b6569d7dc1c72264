package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the tokenizer configuration file name inside an experiment
// directory.
const FileName = "tokenizer.yaml"

// fileV1 is the on-disk layout: variant name, normalization settings and
// the id-ordered token list. Rebuilding the token list in order is enough
// to reconstruct the full bidirectional mapping.
type fileV1 struct {
	Variant   string   `yaml:"variant"`
	IsUncased bool     `yaml:"is_uncased"`
	MaxVocab  int      `yaml:"max_vocab"`
	MinCount  int      `yaml:"min_count"`
	Tokens    []string `yaml:"tokens"`
}

// Save writes the tokenizer under expDir/expName/tokenizer.yaml.
func Save(t Tokenizer, expDir, expName string) error {
	dir := filepath.Join(expDir, expName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tokenizer: create experiment dir: %w", err)
	}

	f := fileV1{
		Variant:   t.Name(),
		IsUncased: t.IsUncased(),
		Tokens:    t.Vocab().Tokens(),
	}
	switch v := t.(type) {
	case *Whitespace:
		f.MaxVocab, f.MinCount = v.maxVocab, v.minCount
	case *Character:
		f.MaxVocab, f.MinCount = v.maxVocab, v.minCount
	}

	raw, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("tokenizer: marshal: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, FileName), raw, 0o644)
}

// Load reads expDir/expName/tokenizer.yaml and reconstructs the concrete
// variant with its trained vocabulary.
func Load(expDir, expName string) (Tokenizer, error) {
	raw, err := os.ReadFile(filepath.Join(expDir, expName, FileName))
	if err != nil {
		return nil, fmt.Errorf("tokenizer: read %s: %w", expName, err)
	}

	var f fileV1
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("tokenizer: unmarshal %s: %w", expName, err)
	}

	t, err := New(f.Variant, f.IsUncased, f.MaxVocab, f.MinCount)
	if err != nil {
		return nil, err
	}
	v := vocabFromTokens(f.Tokens)
	switch tt := t.(type) {
	case *Whitespace:
		tt.vocab = v
	case *Character:
		tt.vocab = v
	}
	return t, nil
}
