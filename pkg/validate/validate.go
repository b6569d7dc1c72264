// Package validate provides the eager argument checks the CLI commands
// run before constructing anything expensive.
package validate

import (
	"fmt"
	"strings"
)

// Ordered fails unless vals is non-decreasing. names label the values
// in the error message, so callers can mix literals ("0") with flag
// names ("batch_size").
func Ordered(vals []float64, names []string) error {
	if len(vals) != len(names) {
		return fmt.Errorf("validate: %d values but %d names", len(vals), len(names))
	}
	for i := 0; i+1 < len(vals); i++ {
		if vals[i] > vals[i+1] {
			return fmt.Errorf("validate: want %s, got %s=%g > %s=%g",
				strings.Join(names, " <= "), names[i], vals[i], names[i+1], vals[i+1])
		}
	}
	return nil
}
