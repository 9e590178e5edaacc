package types

import "time"

// RuleClass buckets rules A (most severe) through F (stylistic). The
// class letter is the first character of the rule code.
type RuleClass string

const (
	RuleClassA RuleClass = "A"
	RuleClassB RuleClass = "B"
	RuleClassC RuleClass = "C"
	RuleClassD RuleClass = "D"
	RuleClassE RuleClass = "E"
	RuleClassF RuleClass = "F"
)

// ValidRuleClass reports whether c is one of A..F.
func ValidRuleClass(c RuleClass) bool {
	switch c {
	case RuleClassA, RuleClassB, RuleClassC, RuleClassD, RuleClassE, RuleClassF:
		return true
	}
	return false
}

// Severity of a proofreading issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// SeverityRank orders severities for issue sorting; higher is more
// severe.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 0
	}
	return -1
}

// Issue is one rule firing on one article, anchored to a character
// range in body_text. Issues are immutable after creation; a re-analysis
// produces a fresh set.
type Issue struct {
	ID                int64
	ArticleID         int64
	RuleID            int64
	RuleClass         RuleClass
	Severity          Severity
	StartOffset       int
	EndOffset         int
	OriginalText      string
	SuggestedText     string
	Reasoning         string
	Confidence        float64
	RulesetGeneration int
	Superseded        bool
	CreatedAt         time.Time
}

// ZeroWidth reports whether the issue is a pure insertion point.
func (i *Issue) ZeroWidth() bool {
	return i.StartOffset == i.EndOffset
}

// DecisionKind is the operator action on an issue.
type DecisionKind string

const (
	DecisionAccepted DecisionKind = "accepted"
	DecisionRejected DecisionKind = "rejected"
	DecisionModified DecisionKind = "modified"
)

// Decision is an operator action on an issue. At most one decision per
// issue is active; superseded decisions are retained for the feedback
// loop. Carried marks decisions migrated across a re-analysis.
type Decision struct {
	ID              int64
	ArticleID       int64
	IssueID         int64
	Decision        DecisionKind
	ModifiedContent string
	Notes           string
	DecidedBy       string
	DecidedAt       time.Time
	Revision        int
	Superseded      bool
	Archived        bool
	Carried         bool
}

// RulesetStatus is the lifecycle state of a ruleset.
type RulesetStatus string

const (
	RulesetDraft     RulesetStatus = "draft"
	RulesetPublished RulesetStatus = "published"
	RulesetArchived  RulesetStatus = "archived"
)

// RuleSet is a versioned proofreading corpus. Exactly one ruleset is
// published at any instant; publishing bumps the generation counter and
// archives the previous active set.
type RuleSet struct {
	ID          int64
	Version     int
	Status      RulesetStatus
	Generation  int
	PublishedAt *time.Time
	Publisher   string
	CreatedAt   time.Time
}

// Rule is one entry in a ruleset. Pattern is either a regular
// expression or a named builtin predicate ("builtin:<name>"); codes are
// unique within a ruleset and start with the class letter.
type Rule struct {
	ID          int64
	RulesetID   int64
	Code        string
	Pattern     string
	Description string
	Severity    Severity
	Enabled     bool
}

// Class derives the rule class from the leading code letter.
func (r *Rule) Class() RuleClass {
	if len(r.Code) == 0 {
		return ""
	}
	return RuleClass(r.Code[:1])
}

// RuleQuality aggregates operator decisions against one rule for the
// advisory report.
type RuleQuality struct {
	RuleID      int64
	Code        string
	Description string
	Accepted    int
	Rejected    int
	Modified    int
	Notes       []string
}

// Total returns the number of decisions recorded against the rule.
func (q *RuleQuality) Total() int {
	return q.Accepted + q.Rejected + q.Modified
}

// AcceptRate returns accepted/total, 0 when no decisions exist.
func (q *RuleQuality) AcceptRate() float64 {
	t := q.Total()
	if t == 0 {
		return 0
	}
	return float64(q.Accepted) / float64(t)
}
