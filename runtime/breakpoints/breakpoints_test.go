package breakpoints_test

import (
	"testing"

	"github.com/dbug-project/dbug/runtime/breakpoints"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitCountEqualsZeroNeverFires(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "a.go", Line: 5}
	tbl.Add(loc, "", breakpoints.Predicate{Kind: breakpoints.Equals, N: 0})

	for i := 0; i < 5; i++ {
		assert.False(t, tbl.ShouldSuspend(loc, false, nil))
	}
}

func TestHitCountEqualsThirdHitOnly(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "a.go", Line: 5}
	tbl.Add(loc, "", breakpoints.Predicate{Kind: breakpoints.Equals, N: 3})

	var hits []bool
	for i := 0; i < 5; i++ {
		hits = append(hits, tbl.ShouldSuspend(loc, false, nil))
	}
	assert.Equal(t, []bool{false, false, true, false, false}, hits)
}

func TestConditionUnevaluableNeverFires(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "a.go", Line: 5}
	tbl.Add(loc, "i>=3", breakpoints.Predicate{Kind: breakpoints.Always})

	eval := func(expr string) bool { return false }
	assert.False(t, tbl.ShouldSuspend(loc, false, eval))
}

func TestImplicitInlineBreakWithNoExplicitBreakpoint(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "a.go", Line: 5}
	assert.True(t, tbl.ShouldSuspend(loc, true, nil))
	assert.False(t, tbl.ShouldSuspend(breakpoints.Location{File: "a.go", Line: 6}, false, nil))
}

func TestSetClearRoundTripIsIdentity(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "a.go", Line: 5}
	id := tbl.Add(loc, "", breakpoints.Predicate{Kind: breakpoints.Always})

	before := tbl.All()
	ok := tbl.Remove(id)
	require.True(t, ok)
	assert.Empty(t, tbl.All())

	id2 := tbl.Add(loc, "", breakpoints.Predicate{Kind: breakpoints.Always})
	tbl.Remove(id2)
	assert.Equal(t, len(before)-1, len(tbl.All()))
}

func TestEnableIdempotent(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "a.go", Line: 5}
	id := tbl.Add(loc, "", breakpoints.Predicate{Kind: breakpoints.Always})

	assert.True(t, tbl.SetEnabled(id, true))
	assert.True(t, tbl.SetEnabled(id, true))
	bp, ok := tbl.Get(id)
	require.True(t, ok)
	assert.True(t, bp.Enabled)
}

func TestConditionalThirdAndFourthIteration(t *testing.T) {
	tbl := breakpoints.NewTable()
	loc := breakpoints.Location{File: "loop.go", Line: 10}
	tbl.Add(loc, "i>=3", breakpoints.Predicate{Kind: breakpoints.Always})

	var fired []bool
	for i := 0; i < 5; i++ {
		i := i
		eval := func(string) bool { return i >= 3 }
		fired = append(fired, tbl.ShouldSuspend(loc, false, eval))
	}
	assert.Equal(t, []bool{false, false, false, true, true}, fired)
}
