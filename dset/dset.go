// Package dset loads named text datasets and assembles padded id
// batches for language model training.
package dset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Dataset versions.
const (
	VerTrain = "train"
	VerValid = "valid"
	VerTest  = "test"
)

// DemoName is the built-in in-memory dataset used by tests and smoke
// runs; no files required.
const DemoName = "demo"

// Dataset is one version of a named text corpus, one sample per line.
type Dataset struct {
	Name    string
	Ver     string
	Samples []string
}

var demoSamples = map[string][]string{
	VerTrain: {
		"hello world",
		"hello there world",
		"the quick brown fox",
		"the slow brown dog",
		"a quick fox jumps",
		"a slow dog sleeps",
		"world of the fox",
		"hello quick world",
	},
	VerValid: {
		"hello brown world",
		"the quick dog jumps",
	},
	VerTest: {
		"a brown fox sleeps",
		"hello slow world",
	},
}

// ValidVer reports whether ver names a known dataset version.
func ValidVer(ver string) bool {
	return ver == VerTrain || ver == VerValid || ver == VerTest
}

// Load reads one dataset version. The demo dataset is served from
// memory; everything else comes from dataDir/<name>/<ver>.txt with one
// sample per line, blank lines skipped.
func Load(dataDir, name, ver string) (*Dataset, error) {
	if !ValidVer(ver) {
		return nil, fmt.Errorf("dset: unknown version %q (want %s, %s or %s)", ver, VerTrain, VerValid, VerTest)
	}
	if name == DemoName {
		return &Dataset{Name: name, Ver: ver, Samples: demoSamples[ver]}, nil
	}

	path := filepath.Join(dataDir, name, ver+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dset: %w", err)
	}
	defer f.Close()

	var samples []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		samples = append(samples, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dset: read %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("dset: %s is empty", path)
	}
	return &Dataset{Name: name, Ver: ver, Samples: samples}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }
