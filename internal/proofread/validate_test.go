package proofread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/types"
)

func validRule(code, pattern string) *types.Rule {
	return &types.Rule{
		Code:        code,
		Pattern:     pattern,
		Description: "test rule",
		Severity:    types.SeverityWarning,
		Enabled:     true,
	}
}

func TestValidateRulesAcceptsWellFormedSet(t *testing.T) {
	rules := []*types.Rule{
		validRule("A1", `builtin:repeated_word`),
		validRule("B12", `\bteh\b`),
		validRule("F103", `builtin:trailing_whitespace`),
	}
	rules[2].Enabled = false

	require.NoError(t, ValidateRules(rules))
}

func TestValidateRulesRejectsMalformedCode(t *testing.T) {
	for _, code := range []string{"", "1A", "G1", "A", "A1234", "a1"} {
		err := ValidateRules([]*types.Rule{validRule(code, `x`)})
		assert.Error(t, err, "code %q", code)
	}
}

func TestValidateRulesRejectsDuplicateCode(t *testing.T) {
	err := ValidateRules([]*types.Rule{
		validRule("A1", `x`),
		validRule("A1", `y`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateRulesRejectsUnknownSeverity(t *testing.T) {
	r := validRule("A1", `x`)
	r.Severity = "catastrophic"

	err := ValidateRules([]*types.Rule{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "severity")
}

func TestValidateRulesRejectsBadPattern(t *testing.T) {
	err := ValidateRules([]*types.Rule{validRule("A1", `[unclosed`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not compile")
}

func TestValidateRulesRejectsUnknownBuiltin(t *testing.T) {
	err := ValidateRules([]*types.Rule{validRule("A1", "builtin:no_such_check")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown builtin")
}

func TestValidateRulesRequiresEnabledRule(t *testing.T) {
	r := validRule("A1", `x`)
	r.Enabled = false

	err := ValidateRules([]*types.Rule{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled rules")
}
