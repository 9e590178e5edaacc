package proofread

import (
	"fmt"
	"regexp"
	"strings"

	"copydesk/internal/types"
)

var ruleCodeRe = regexp.MustCompile(`^[A-F][0-9]{1,3}$`)

// ValidateRules is the publish gate for a draft ruleset: every enabled
// rule must carry a well-formed unique code, a known severity, and a
// pattern that compiles or names an existing builtin. A ruleset with no
// enabled rules cannot be published.
func ValidateRules(rules []*types.Rule) error {
	enabled := 0
	seen := make(map[string]bool, len(rules))

	for _, rule := range rules {
		code := strings.TrimSpace(rule.Code)
		if !ruleCodeRe.MatchString(code) {
			return fmt.Errorf("rule code %q must be a class letter A-F followed by digits", rule.Code)
		}
		if seen[code] {
			return fmt.Errorf("duplicate rule code %q", code)
		}
		seen[code] = true

		if !types.ValidRuleClass(types.RuleClass(code[:1])) {
			return fmt.Errorf("rule %s: invalid class %q", code, code[:1])
		}
		if types.SeverityRank(rule.Severity) < 0 {
			return fmt.Errorf("rule %s: unknown severity %q", code, rule.Severity)
		}

		if name, ok := strings.CutPrefix(rule.Pattern, BuiltinPrefix); ok {
			if _, known := builtins[name]; !known {
				return fmt.Errorf("rule %s: unknown builtin predicate %q", code, name)
			}
		} else if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("rule %s: pattern does not compile: %v", code, err)
		}

		if rule.Enabled {
			enabled++
		}
	}

	if enabled == 0 {
		return fmt.Errorf("ruleset has no enabled rules")
	}
	return nil
}
