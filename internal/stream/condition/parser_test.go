package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccepts(t *testing.T) {
	exprs := []string{
		`event_type == "error"`,
		`severity in ("high", "critical")`,
		`"checkout" in tags`,
		`data.response_time > 500`,
		`windows["errors_1m"].count() > 10`,
		`metrics["events_by_severity"] >= 3`,
		`event_type == "error" and severity == "high"`,
		`not (source == "test") or data.retries >= 2`,
		`data.a.b.c != "x"`,
		`data.total / data.count > 1.5`,
		`-data.delta < 0`,
		`true`,
		`false`,
	}

	for _, input := range exprs {
		t.Run(input, func(t *testing.T) {
			expr, err := Parse(input)
			require.NoError(t, err)
			assert.NotNil(t, expr)
		})
	}
}

func TestParseRejects(t *testing.T) {
	exprs := []string{
		``,
		`response_time > 500`,
		`user_id == "u1"`,
		`data`,
		`windows["w"].sum() > 1`,
		`windows.errors.count() > 1`,
		`metrics[events] > 1`,
		`event_type == "error" extra`,
		`event_type ==`,
		`(severity == "high"`,
		`severity in ("high",`,
		`event_type = "error"`,
	}

	for _, input := range exprs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	// "or" binds looser than "and": the expression reads a or (b and c).
	expr, err := Parse(`event_type == "a" or event_type == "b" and severity == "high"`)
	require.NoError(t, err)

	root, ok := expr.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "or", root.Op)

	right, ok := root.Right.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "and", right.Op)
}

func TestParseArithmeticPrecedence(t *testing.T) {
	// Multiplication binds tighter: 1 + (2 * 3) == 7.
	expr, err := Parse(`data.x == 1 + 2 * 3`)
	require.NoError(t, err)

	ok, err := EvalBool(expr, &Context{Data: map[string]any{"x": float64(7)}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWindows(t *testing.T) {
	expr, err := Parse(`windows["errors_1m"].count() > 10 and windows["errors_1m"].count() < windows["all_5m"].count()`)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"errors_1m", "all_5m"}, Windows(expr))

	plain, err := Parse(`severity == "high"`)
	require.NoError(t, err)
	assert.Empty(t, Windows(plain))
}
