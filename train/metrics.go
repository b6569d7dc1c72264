package train

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// ScalarsFileName is the metrics log inside an experiment directory.
const ScalarsFileName = "scalars.tsv"

// ScalarWriter appends tagged scalar series as "step<TAB>tag<TAB>value"
// lines. Only rank 0 writes one during distributed training.
type ScalarWriter struct {
	f *os.File
	w *bufio.Writer
}

// NewScalarWriter opens (or creates) the experiment's scalar log for
// appending.
func NewScalarWriter(expDir string) (*ScalarWriter, error) {
	if err := os.MkdirAll(expDir, 0o755); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(expDir, ScalarsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return &ScalarWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Add records one scalar observation.
func (s *ScalarWriter) Add(step int, tag string, value float64) error {
	_, err := fmt.Fprintf(s.w, "%d\t%s\t%g\n", step, tag, value)
	return err
}

// Close flushes and closes the log.
func (s *ScalarWriter) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
