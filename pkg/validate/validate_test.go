package validate

import (
	"strings"
	"testing"
)

func TestOrdered(t *testing.T) {
	if err := Ordered([]float64{0, 0.5, 1}, []string{"0", "p", "1"}); err != nil {
		t.Errorf("valid ordering rejected: %v", err)
	}
	if err := Ordered([]float64{0, 0}, []string{"0", "x"}); err != nil {
		t.Errorf("equal values must pass: %v", err)
	}

	err := Ordered([]float64{1, 0}, []string{"1", "batch_size"})
	if err == nil {
		t.Fatal("descending values must fail")
	}
	if !strings.Contains(err.Error(), "batch_size") {
		t.Errorf("error does not name the offending flag: %v", err)
	}

	if err := Ordered([]float64{1, 2}, []string{"1"}); err == nil {
		t.Error("mismatched names must fail")
	}
}
