package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Arithmetic(t *testing.T) {
	e := MustNew()

	val, err := e.Eval("data.v * 2", &Activation{
		Input: map[string]interface{}{"v": 3},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, val)
}

func TestEvalBool_Comparisons(t *testing.T) {
	e := MustNew()

	cases := []struct {
		expr string
		in   map[string]interface{}
		want bool
	}{
		{"data.v > 0", map[string]interface{}{"v": 5}, true},
		{"data.v <= 0", map[string]interface{}{"v": 5}, false},
		{"data.name == 'alice'", map[string]interface{}{"name": "alice"}, true},
		{"'x' in data.tags", map[string]interface{}{"tags": []interface{}{"x", "y"}}, true},
		{"size(data.tags) == 2", map[string]interface{}{"tags": []interface{}{"x", "y"}}, true},
	}

	for _, tc := range cases {
		got, err := e.EvalBool(tc.expr, &Activation{Input: tc.in})
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEval_StringHelpers(t *testing.T) {
	e := MustNew()

	val, err := e.Eval("output.name.lowerAscii()", &Activation{
		Output: map[string]interface{}{"name": "ALICE"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", val)

	ok, err := e.EvalBool("output.msg.contains('hello')", &Activation{
		Output: map[string]interface{}{"msg": "well hello there"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_VariablesScope(t *testing.T) {
	e := MustNew()

	ok, err := e.EvalBool("variables.region == 'eu' && output.total > 10", &Activation{
		Output:    map[string]interface{}{"total": 11},
		Variables: map[string]interface{}{"region": "eu"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_JSONPathCompat(t *testing.T) {
	e := MustNew()

	ok, err := e.EvalBool("$.approved == true", &Activation{
		Output: map[string]interface{}{"approved": true},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalBool_NonBooleanRejected(t *testing.T) {
	e := MustNew()

	_, err := e.EvalBool("data.v + 1", &Activation{
		Input: map[string]interface{}{"v": 1},
	})
	assert.Error(t, err)
}

func TestEval_CompileErrorSurfaces(t *testing.T) {
	e := MustNew()

	_, err := e.Eval("data.v >>> 2", &Activation{})
	assert.Error(t, err)
}

func TestProgramCache(t *testing.T) {
	e := MustNew()

	_, err := e.Eval("data.v * 2", &Activation{Input: map[string]interface{}{"v": 1}})
	require.NoError(t, err)
	_, err = e.Eval("data.v * 2", &Activation{Input: map[string]interface{}{"v": 2}})
	require.NoError(t, err)

	assert.Equal(t, 1, e.CacheSize())
}

func TestEval_ItemAccForTransforms(t *testing.T) {
	e := MustNew()

	val, err := e.Eval("acc + item", &Activation{Acc: 10, Item: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 15, val)

	keep, err := e.EvalBool("item % 2 == 0", &Activation{Item: 4})
	require.NoError(t, err)
	assert.True(t, keep)
}
