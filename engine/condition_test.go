package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowforge/types"
)

func TestEvalCondition(t *testing.T) {
	t.Parallel()

	output := types.JSONMap{
		"score":    float64(85),
		"approved": true,
		"decision": "ship",
		"result":   map[string]any{"grade": "A", "points": float64(9)},
		"tags":     []any{"urgent", "backend"},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`score >= 80`, true},
		{`score > 85`, false},
		{`score <= 85`, true},
		{`score < 85`, false},
		{`score == 85`, true},
		{`score != 85`, false},
		{`approved == true`, true},
		{`approved != true`, false},
		{`decision == "ship"`, true},
		{`decision == 'ship'`, true},
		{`decision != "hold"`, true},
		{`result.grade == "A"`, true},
		{`result.points > 8`, true},
		{`decision contains "hi"`, true},
		{`tags contains "urgent"`, true},
		{`tags contains "frontend"`, false},
	}
	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, output)
		require.NoError(t, err, "expr %s", tc.expr)
		assert.Equal(t, tc.want, got, "expr %s", tc.expr)
	}
}

func TestEvalCondition_Errors(t *testing.T) {
	t.Parallel()

	output := types.JSONMap{"score": float64(50), "name": "x"}

	exprs := []string{
		``,
		`score`,
		`score >`,
		`score ~= 5`,
		`missing == 1`,
		`result.deep == 1`,
		`name > 5`,
		`score > "high"`,
		`score contains "5"`,
	}
	for _, expr := range exprs {
		_, err := EvalCondition(expr, output)
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestEvalCondition_QuotedLiteralWithSpaces(t *testing.T) {
	t.Parallel()

	output := types.JSONMap{"summary": "needs more work"}
	got, err := EvalCondition(`summary == "needs more work"`, output)
	require.NoError(t, err)
	assert.True(t, got)
}
