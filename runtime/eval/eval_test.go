package eval_test

import (
	"testing"

	"github.com/dbug-project/dbug/runtime/eval"
	"github.com/stretchr/testify/assert"
)

func TestLiteralsAndArithmetic(t *testing.T) {
	scope := eval.MapScope{}
	assert.Equal(t, "7", eval.Eval("3+4", scope).Render())
	assert.Equal(t, "12", eval.Eval("3*4", scope).Render())
	assert.Equal(t, "1", eval.Eval("7%2", scope).Render())
	assert.Equal(t, "true", eval.Eval("3 < 4", scope).Render())
}

func TestIdentifierResolution(t *testing.T) {
	scope := eval.MapScope{"i": "3"}
	assert.True(t, eval.EvalCondition("i>=3", scope))
	assert.False(t, eval.EvalCondition("i>=4", scope))
}

func TestUnevaluableOnMissingIdentifier(t *testing.T) {
	scope := eval.MapScope{}
	v := eval.Eval("missing == 1", scope)
	assert.Contains(t, v.Render(), "<unevaluable:")
	assert.False(t, v.Truthy())
}

func TestConditionEmptyIsTruthy(t *testing.T) {
	assert.True(t, eval.EvalCondition("", eval.MapScope{}))
}

func TestDeterminismAcrossCalls(t *testing.T) {
	scope := eval.MapScope{"x": "10"}
	a := eval.Eval("x*2", scope).Render()
	b := eval.Eval("x*2", scope).Render()
	assert.Equal(t, a, b)
}

func TestBooleanOperators(t *testing.T) {
	scope := eval.MapScope{"a": "true", "b": "false"}
	assert.True(t, eval.EvalCondition("a && !b", scope))
	assert.True(t, eval.EvalCondition("a || b", scope))
	assert.False(t, eval.EvalCondition("a && b", scope))
}

func TestMemberAccessUnsupportedYieldsUnevaluable(t *testing.T) {
	scope := eval.MapScope{"obj": "{1 fields}"}
	v := eval.Eval("obj.field", scope)
	assert.Contains(t, v.Render(), "<unevaluable:")
}
