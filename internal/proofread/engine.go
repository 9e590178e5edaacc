// Package proofread runs versioned editorial rules over article body
// text, merges operator decisions into an applied body, and feeds
// decision outcomes back into an advisory rule-quality report.
//
// Offsets everywhere in this package are byte offsets into body_text,
// the same coordinate space the sanitizer's offset table translates
// back into body_html.
package proofread

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// BuiltinPrefix marks a rule pattern as a named predicate implemented
// in code rather than a regular expression.
const BuiltinPrefix = "builtin:"

// finding is one rule hit before it becomes a stored issue. An empty
// Suggested means the rule has no automatic fix; such issues cannot be
// accepted, only rejected or modified.
type finding struct {
	start      int
	end        int
	original   string
	suggested  string
	reasoning  string
	confidence float64
}

type builtinFunc func(text string) []finding

// builtins are the predicates a rule pattern may name. Each returns its
// findings in offset order.
var builtins = map[string]builtinFunc{
	"repeated_word":       findRepeatedWords,
	"unbalanced_brackets": findUnbalancedBrackets,
	"long_sentence":       findLongSentences,
	"trailing_whitespace": findTrailingWhitespace,
}

type compiledRule struct {
	rule    *types.Rule
	re      *regexp.Regexp
	builtin builtinFunc
}

// Engine is one compiled ruleset generation, safe for concurrent use.
type Engine struct {
	rulesetID  int64
	generation int
	rules      []compiledRule
}

// Compile builds an engine from a ruleset's rules. Disabled rules are
// skipped. Rules that fail to compile are skipped with a
// RuleRuntimeError; published rulesets are validated so this only
// happens when a builtin disappears across versions.
func Compile(rs *types.RuleSet, rules []*types.Rule) (*Engine, []error) {
	eng := &Engine{rulesetID: rs.ID, generation: rs.Generation}
	var errs []error

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		cr, err := compileRule(rule)
		if err != nil {
			errs = append(errs, &types.RuleRuntimeError{RuleID: rule.ID, Code: rule.Code, Err: err})
			continue
		}
		eng.rules = append(eng.rules, cr)
	}
	return eng, errs
}

func compileRule(rule *types.Rule) (compiledRule, error) {
	if name, ok := strings.CutPrefix(rule.Pattern, BuiltinPrefix); ok {
		fn, known := builtins[name]
		if !known {
			return compiledRule{}, fmt.Errorf("unknown builtin predicate %q", name)
		}
		return compiledRule{rule: rule, builtin: fn}, nil
	}
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("compiling pattern: %w", err)
	}
	return compiledRule{rule: rule, re: re}, nil
}

// Generation returns the ruleset generation the engine was compiled
// from. Issues it produces are tagged with it.
func (e *Engine) Generation() int { return e.generation }

// RulesetID returns the source ruleset id.
func (e *Engine) RulesetID() int64 { return e.rulesetID }

// RuleCount returns the number of runnable rules.
func (e *Engine) RuleCount() int { return len(e.rules) }

// CodeOf returns the code of a rule in this engine, "" when unknown.
func (e *Engine) CodeOf(ruleID int64) string {
	for _, cr := range e.rules {
		if cr.rule.ID == ruleID {
			return cr.rule.Code
		}
	}
	return ""
}

// Analyze evaluates every rule against the body text. A rule that
// panics is skipped and reported as a RuleRuntimeError; the remaining
// rules still run and the full issue list is returned, sorted by start
// offset ascending then severity descending.
func (e *Engine) Analyze(bodyText string) ([]types.Issue, []error) {
	var (
		issues []types.Issue
		errs   []error
	)

	for _, cr := range e.rules {
		findings, err := e.runRule(cr, bodyText)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, f := range findings {
			issues = append(issues, types.Issue{
				RuleID:            cr.rule.ID,
				RuleClass:         cr.rule.Class(),
				Severity:          cr.rule.Severity,
				StartOffset:       f.start,
				EndOffset:         f.end,
				OriginalText:      f.original,
				SuggestedText:     f.suggested,
				Reasoning:         f.reasoning,
				Confidence:        f.confidence,
				RulesetGeneration: e.generation,
			})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].StartOffset != issues[j].StartOffset {
			return issues[i].StartOffset < issues[j].StartOffset
		}
		return types.SeverityRank(issues[i].Severity) > types.SeverityRank(issues[j].Severity)
	})
	return issues, errs
}

// runRule evaluates one rule with panic containment.
func (e *Engine) runRule(cr compiledRule, text string) (findings []finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ProofreadWarn("rule %s panicked: %v", cr.rule.Code, r)
			findings = nil
			err = &types.RuleRuntimeError{
				RuleID: cr.rule.ID,
				Code:   cr.rule.Code,
				Err:    fmt.Errorf("rule panicked: %v", r),
			}
		}
	}()

	if cr.builtin != nil {
		return cr.builtin(text), nil
	}

	var out []finding
	for _, loc := range cr.re.FindAllStringIndex(text, -1) {
		out = append(out, finding{
			start:      loc[0],
			end:        loc[1],
			original:   text[loc[0]:loc[1]],
			reasoning:  cr.rule.Description,
			confidence: 0.8,
		})
	}
	return out, nil
}
