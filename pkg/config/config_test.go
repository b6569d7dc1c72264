package config

import (
	"strings"
	"testing"
)

func validTrain() Train {
	c := DefaultTrain()
	c.ExpName = "demo-run"
	c.Variant = "lstm-2000"
	return c
}

func TestDefaultTrainValidates(t *testing.T) {
	c := validTrain()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Train)
	}{
		{"batch_size", func(c *Train) { c.BatchSize = 0 }},
		{"n_epoch", func(c *Train) { c.NEpoch = 0 }},
		{"ckpt_step", func(c *Train) { c.CkptStep = 0 }},
		{"log_step", func(c *Train) { c.LogStep = -1 }},
		{"max_seq_len", func(c *Train) { c.MaxSeqLen = 1 }},
		{"max_norm", func(c *Train) { c.MaxNorm = -0.5 }},
		{"beta1", func(c *Train) { c.Beta1 = 1.5 }},
		{"world_size", func(c *Train) { c.WorldSize = 0 }},
		{"rank", func(c *Train) { c.WorldSize = 2; c.Rank = 2 }},
		{"local_rank", func(c *Train) { c.LocalRank = -1 }},
		{"exp_name", func(c *Train) { c.ExpName = "" }},
	}
	for _, tc := range cases {
		c := validTrain()
		tc.mut(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := validTrain()
	c.LR = 3e-4
	c.NBlk = 4
	c.Rank = 1
	c.WorldSize = 2

	if err := c.Save(dir); err != nil {
		t.Fatal(err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if got.LR != c.LR || got.NBlk != c.NBlk || got.ExpName != c.ExpName || got.Variant != c.Variant {
		t.Errorf("round trip changed values: %+v", got)
	}
	// Identity fields are not persisted.
	if got.Rank != 0 || got.WorldSize != 1 {
		t.Errorf("identity fields leaked into the snapshot: rank=%d world=%d", got.Rank, got.WorldSize)
	}
}

func TestSyncFieldsExcludeIdentity(t *testing.T) {
	c := validTrain()
	for _, f := range c.SyncFields() {
		for _, banned := range []string{"host_name", "host_port", "local_rank", "rank", "world_size"} {
			if f.Name == banned {
				t.Errorf("identity field %s must not be synchronized", banned)
			}
		}
	}
	if len(c.SyncFields()) < 20 {
		t.Errorf("suspiciously few synced fields: %d", len(c.SyncFields()))
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "config") {
		t.Errorf("expected config error for missing file, got %v", err)
	}
}
