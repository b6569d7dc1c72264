package model

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	ckptPrefix = "model-"
	ckptExt    = ".ckpt"
)

// checkpointFile is the on-disk snapshot: parameter name to flat values.
// Shapes come from the model config, so only lengths are validated.
type checkpointFile struct {
	Step   int
	Params map[string][]float64
}

// CheckpointPath returns the snapshot path for a step inside an
// experiment directory.
func CheckpointPath(dir string, step int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", ckptPrefix, step, ckptExt))
}

// SaveCheckpoint writes the model's parameters as dir/model-<step>.ckpt,
// creating the directory if needed.
func SaveCheckpoint(dir string, step int, m LanguageModel) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	ck := checkpointFile{Step: step, Params: make(map[string][]float64)}
	for _, p := range m.Params() {
		data := p.Val.RawMatrix().Data
		vals := make([]float64, len(data))
		copy(vals, data)
		ck.Params[p.Name] = vals
	}

	f, err := os.Create(CheckpointPath(dir, step))
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	return f.Close()
}

// LoadCheckpoint restores parameters from a snapshot into a model built
// with the same config. Every parameter must be present with a matching
// element count.
func LoadCheckpoint(path string, m LanguageModel) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	var ck checkpointFile
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}

	for _, p := range m.Params() {
		vals, ok := ck.Params[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint: %s: missing parameter %q", path, p.Name)
		}
		data := p.Val.RawMatrix().Data
		if len(vals) != len(data) {
			return fmt.Errorf("checkpoint: %s: parameter %q has %d values, want %d",
				path, p.Name, len(vals), len(data))
		}
		copy(data, vals)
	}
	return nil
}

// LatestStep scans an experiment directory for model-<step>.ckpt files
// and returns the highest step.
func LatestStep(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}

	best := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, ckptPrefix) || !strings.HasSuffix(name, ckptExt) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, ckptPrefix), ckptExt))
		if err != nil {
			continue
		}
		if step > best {
			best = step
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("checkpoint: no snapshots under %s", dir)
	}
	return best, nil
}
