package engine

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/BaSui01/flowforge/types"
)

// Numeric comparisons must agree with Go's own operators for any value pair.
func TestEvalCondition_NumericComparisonProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		lhs := rapid.Float64Range(-1e6, 1e6).Draw(t, "lhs")
		rhs := rapid.Float64Range(-1e6, 1e6).Draw(t, "rhs")
		output := types.JSONMap{"v": lhs}

		checks := map[string]bool{
			">":  lhs > rhs,
			">=": lhs >= rhs,
			"<":  lhs < rhs,
			"<=": lhs <= rhs,
			"==": lhs == rhs,
			"!=": lhs != rhs,
		}
		for op, want := range checks {
			got, err := EvalCondition(fmt.Sprintf("v %s %v", op, rhs), output)
			if err != nil {
				t.Fatalf("op %s: %v", op, err)
			}
			if got != want {
				t.Fatalf("op %s: lhs=%v rhs=%v got %v want %v", op, lhs, rhs, got, want)
			}
		}
	})
}

// == and != must be exact complements whenever evaluation succeeds.
func TestEvalCondition_EqualityComplementProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		val := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "val")
		lit := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "lit")
		output := types.JSONMap{"v": val}

		eq, err := EvalCondition(fmt.Sprintf("v == %q", lit), output)
		if err != nil {
			t.Fatal(err)
		}
		ne, err := EvalCondition(fmt.Sprintf("v != %q", lit), output)
		if err != nil {
			t.Fatal(err)
		}
		if eq == ne {
			t.Fatalf("val=%q lit=%q: == and != both %v", val, lit, eq)
		}
		if eq != (val == lit) {
			t.Fatalf("val=%q lit=%q: eq=%v", val, lit, eq)
		}
	})
}
