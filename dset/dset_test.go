package dset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shangrex/language-model-playground/tokenizer"
)

func TestLoadDemo(t *testing.T) {
	for _, ver := range []string{VerTrain, VerValid, VerTest} {
		d, err := Load("", DemoName, ver)
		if err != nil {
			t.Fatalf("Load demo %s: %v", ver, err)
		}
		if d.Len() == 0 {
			t.Errorf("demo %s is empty", ver)
		}
	}
	if _, err := Load("", DemoName, "dev"); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestLoadFileBacked(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "tiny"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "first sample\n\nsecond sample\n"
	if err := os.WriteFile(filepath.Join(dir, "tiny", "train.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := Load(dir, "tiny", VerTrain)
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 2 {
		t.Fatalf("loaded %d samples, want 2 (blank lines skipped)", d.Len())
	}
	if d.Samples[0] != "first sample" || d.Samples[1] != "second sample" {
		t.Errorf("unexpected samples: %v", d.Samples)
	}

	if _, err := Load(dir, "missing", VerTrain); err == nil {
		t.Error("expected error for missing dataset file")
	}
}

func TestEncodeAllAndBatches(t *testing.T) {
	tk, err := tokenizer.New("whitespace", false, -1, 1)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Load("", DemoName, VerTrain)
	if err != nil {
		t.Fatal(err)
	}
	tk.TrainVocab(d.Samples)

	const maxSeqLen = 6
	ids := EncodeAll(tk, d.Samples, maxSeqLen)
	for i, row := range ids {
		if len(row) != maxSeqLen {
			t.Fatalf("row %d has length %d, want %d", i, len(row), maxSeqLen)
		}
		if row[0] != tokenizer.BosID {
			t.Errorf("row %d does not start with bos", i)
		}
	}

	order := []int{3, 1, 4, 0, 2}
	batches := MakeBatches(ids, order, 2)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[2].Cur) != 1 {
		t.Errorf("tail batch has %d rows, want 1", len(batches[2].Cur))
	}

	// Next is cur shifted by one, both one shorter than the full row.
	first := batches[0]
	if len(first.Cur[0]) != maxSeqLen-1 || len(first.Next[0]) != maxSeqLen-1 {
		t.Fatalf("cur/next lengths %d/%d, want %d", len(first.Cur[0]), len(first.Next[0]), maxSeqLen-1)
	}
	row := ids[order[0]]
	for j := 0; j < maxSeqLen-1; j++ {
		if first.Cur[0][j] != row[j] || first.Next[0][j] != row[j+1] {
			t.Fatalf("batch rows are not a shifted pair of the source row")
		}
	}
}
