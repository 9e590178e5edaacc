package proofread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/types"
)

func ruleset() *types.RuleSet {
	return &types.RuleSet{ID: 1, Version: 1, Status: types.RulesetPublished, Generation: 3}
}

func TestCompileSkipsDisabledRules(t *testing.T) {
	eng, errs := Compile(ruleset(), []*types.Rule{
		{ID: 1, Code: "C1", Pattern: `foo`, Severity: types.SeverityError, Enabled: true},
		{ID: 2, Code: "C2", Pattern: `bar`, Severity: types.SeverityError, Enabled: false},
	})
	assert.Empty(t, errs)
	assert.Equal(t, 1, eng.RuleCount())
	assert.Equal(t, 3, eng.Generation())
}

func TestCompileReportsUnknownBuiltin(t *testing.T) {
	eng, errs := Compile(ruleset(), []*types.Rule{
		{ID: 1, Code: "A1", Pattern: "builtin:no_such_predicate", Severity: types.SeverityCritical, Enabled: true},
		{ID: 2, Code: "C1", Pattern: `foo`, Severity: types.SeverityError, Enabled: true},
	})
	require.Len(t, errs, 1)
	var rerr *types.RuleRuntimeError
	require.ErrorAs(t, errs[0], &rerr)
	assert.Equal(t, "A1", rerr.Code)
	assert.Equal(t, 1, eng.RuleCount(), "remaining rules still compile")
}

func TestAnalyzeOrdersIssues(t *testing.T) {
	eng, errs := Compile(ruleset(), []*types.Rule{
		{ID: 1, Code: "E1", Pattern: `very`, Severity: types.SeverityInfo, Enabled: true},
		{ID: 2, Code: "C1", Pattern: `very good`, Severity: types.SeverityError, Enabled: true},
	})
	require.Empty(t, errs)

	issues, runErrs := eng.Analyze("this is very good and very bad")
	require.Empty(t, runErrs)
	require.Len(t, issues, 3)

	// Same start offset: higher severity first.
	assert.Equal(t, int64(2), issues[0].RuleID)
	assert.Equal(t, int64(1), issues[1].RuleID)
	assert.LessOrEqual(t, issues[0].StartOffset, issues[1].StartOffset)
	assert.Less(t, issues[1].StartOffset, issues[2].StartOffset)

	for _, is := range issues {
		assert.Equal(t, 3, is.RulesetGeneration)
		assert.Equal(t, is.OriginalText, "this is very good and very bad"[is.StartOffset:is.EndOffset])
	}
}

func TestAnalyzeContainsPanickingRule(t *testing.T) {
	builtins["test_panic"] = func(string) []finding { panic("boom") }
	defer delete(builtins, "test_panic")

	eng, errs := Compile(ruleset(), []*types.Rule{
		{ID: 1, Code: "A1", Pattern: "builtin:test_panic", Severity: types.SeverityCritical, Enabled: true},
		{ID: 2, Code: "E1", Pattern: `very`, Severity: types.SeverityInfo, Enabled: true},
	})
	require.Empty(t, errs)

	issues, runErrs := eng.Analyze("a very plain sentence")
	require.Len(t, runErrs, 1)
	var rerr *types.RuleRuntimeError
	require.ErrorAs(t, runErrs[0], &rerr)
	assert.Equal(t, "A1", rerr.Code)

	require.Len(t, issues, 1, "surviving rules still report")
	assert.Equal(t, int64(2), issues[0].RuleID)
}

func TestEngineCodeOf(t *testing.T) {
	eng, _ := Compile(ruleset(), []*types.Rule{
		{ID: 7, Code: "D2", Pattern: `x`, Severity: types.SeverityWarning, Enabled: true},
	})
	assert.Equal(t, "D2", eng.CodeOf(7))
	assert.Equal(t, "", eng.CodeOf(99))
}
