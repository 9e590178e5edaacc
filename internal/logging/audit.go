// Audit logging for operator-visible actions. Every state transition,
// review decision, ruleset publication and publish attempt lands in an
// append-only JSON-lines file so an item's history can be reconstructed
// independently of the database. Values are references and ids only;
// credential values and article bodies never reach this file.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Worklist item lifecycle
	AuditItemCreated    AuditEventType = "item_created"
	AuditItemTransition AuditEventType = "item_transition"
	AuditItemReset      AuditEventType = "item_reset"
	AuditItemNote       AuditEventType = "item_note"

	// Review gates
	AuditParsingConfirmed  AuditEventType = "parsing_confirmed"
	AuditDecisionSubmitted AuditEventType = "decision_submitted"
	AuditDecisionSupersede AuditEventType = "decision_superseded"
	AuditReviewFinalized   AuditEventType = "review_finalized"
	AuditImageReview       AuditEventType = "image_review"
	AuditArticleEdited     AuditEventType = "article_edited"

	// Publishing
	AuditPublishStarted   AuditEventType = "publish_started"
	AuditPublishAttempt   AuditEventType = "publish_attempt"
	AuditPublishCompleted AuditEventType = "publish_completed"
	AuditPublishFailed    AuditEventType = "publish_failed"
	AuditDraftAdopted     AuditEventType = "draft_adopted"

	// Rulesets
	AuditRulesetPublished AuditEventType = "ruleset_published"
	AuditRulesetArchived  AuditEventType = "ruleset_archived"

	// Cost control
	AuditCostCapHit   AuditEventType = "cost_cap_hit"
	AuditCostOverride AuditEventType = "cost_override"

	// Credentials (keys only, never values)
	AuditCredentialAccess AuditEventType = "credential_access"

	// Synchronization
	AuditSyncRun AuditEventType = "sync_run"
)

// AuditEvent is one JSON line in the audit file.
type AuditEvent struct {
	Timestamp     int64                  `json:"ts"` // Unix milliseconds
	EventType     AuditEventType         `json:"event"`
	CorrelationID string                 `json:"cid,omitempty"`
	ItemID        int64                  `json:"item_id,omitempty"`
	ArticleID     int64                  `json:"article_id,omitempty"`
	Actor         string                 `json:"actor,omitempty"` // operator or "system"
	Target        string                 `json:"target,omitempty"`
	Success       bool                   `json:"success"`
	DurationMs    int64                  `json:"dur_ms,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Message       string                 `json:"msg"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes operator-action events, optionally scoped to a
// correlation id.
type AuditLogger struct {
	cid   string
	actor string
}

// InitAudit opens the audit file under the logging directory. No-op
// when logging is uninitialized.
func InitAudit() error {
	optsMu.RLock()
	dir := opts.Dir
	optsMu.RUnlock()
	if dir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	date := time.Now().UTC().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{actor: "system"}
	}
	return auditLogger
}

// AuditWithActor creates an audit logger attributed to an operator.
func AuditWithActor(actor string) *AuditLogger {
	return &AuditLogger{actor: actor}
}

// AuditWithCorrelation creates an audit logger scoped to a job.
func AuditWithCorrelation(cid string) *AuditLogger {
	return &AuditLogger{cid: cid, actor: "system"}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = a.cid
	}
	if event.Actor == "" {
		event.Actor = a.actor
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// ItemTransition records a state transition on a worklist item.
func (a *AuditLogger) ItemTransition(itemID int64, from, to, actor string) {
	a.Log(AuditEvent{
		EventType: AuditItemTransition,
		ItemID:    itemID,
		Actor:     actor,
		Target:    to,
		Success:   true,
		Fields:    map[string]interface{}{"from": from, "to": to},
		Message:   fmt.Sprintf("item %d: %s -> %s", itemID, from, to),
	})
}

// ItemReset records an operator reset out of the failed lane.
func (a *AuditLogger) ItemReset(itemID int64, to, actor, note string) {
	a.Log(AuditEvent{
		EventType: AuditItemReset,
		ItemID:    itemID,
		Actor:     actor,
		Target:    to,
		Success:   true,
		Fields:    map[string]interface{}{"note": note},
		Message:   fmt.Sprintf("item %d reset to %s", itemID, to),
	})
}

// DecisionSubmitted records an operator decision on an issue.
func (a *AuditLogger) DecisionSubmitted(articleID, issueID int64, decision, actor string, superseded bool) {
	et := AuditDecisionSubmitted
	if superseded {
		et = AuditDecisionSupersede
	}
	a.Log(AuditEvent{
		EventType: et,
		ArticleID: articleID,
		Actor:     actor,
		Success:   true,
		Fields:    map[string]interface{}{"issue_id": issueID, "decision": decision},
		Message:   fmt.Sprintf("issue %d: %s by %s", issueID, decision, actor),
	})
}

// ReviewFinalized records a proofreading review finalize.
func (a *AuditLogger) ReviewFinalized(articleID int64, actor string, applied, conflicts int) {
	a.Log(AuditEvent{
		EventType: AuditReviewFinalized,
		ArticleID: articleID,
		Actor:     actor,
		Success:   true,
		Fields:    map[string]interface{}{"applied": applied, "conflicts": conflicts},
		Message:   fmt.Sprintf("article %d review finalized (%d applied, %d conflicts)", articleID, applied, conflicts),
	})
}

// PublishAttempt records one attempt on a publish task.
func (a *AuditLogger) PublishAttempt(articleID, taskID int64, provider string, attempt int) {
	a.Log(AuditEvent{
		EventType: AuditPublishAttempt,
		ArticleID: articleID,
		Target:    provider,
		Success:   true,
		Fields:    map[string]interface{}{"task_id": taskID, "attempt": attempt},
		Message:   fmt.Sprintf("task %d attempt %d via %s", taskID, attempt, provider),
	})
}

// PublishOutcome records terminal publish state.
func (a *AuditLogger) PublishOutcome(articleID, taskID int64, success bool, durationMs int64, errMsg string) {
	et := AuditPublishCompleted
	if !success {
		et = AuditPublishFailed
	}
	a.Log(AuditEvent{
		EventType:  et,
		ArticleID:  articleID,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"task_id": taskID},
		Message:    fmt.Sprintf("task %d finished success=%v", taskID, success),
	})
}

// DraftAdopted records adoption of a pre-existing CMS draft.
func (a *AuditLogger) DraftAdopted(taskID int64, cmsArticleID string) {
	a.Log(AuditEvent{
		EventType: AuditDraftAdopted,
		Success:   true,
		Target:    cmsArticleID,
		Fields:    map[string]interface{}{"task_id": taskID},
		Message:   fmt.Sprintf("task %d adopted existing draft %s", taskID, cmsArticleID),
	})
}

// RulesetPublished records a ruleset activation.
func (a *AuditLogger) RulesetPublished(rulesetID int64, generation int, actor string) {
	a.Log(AuditEvent{
		EventType: AuditRulesetPublished,
		Actor:     actor,
		Success:   true,
		Fields:    map[string]interface{}{"ruleset_id": rulesetID, "generation": generation},
		Message:   fmt.Sprintf("ruleset %d published as generation %d", rulesetID, generation),
	})
}

// CostCapHit records an aborted model call.
func (a *AuditLogger) CostCapHit(articleID int64, spentUSD, capUSD float64) {
	a.Log(AuditEvent{
		EventType: AuditCostCapHit,
		ArticleID: articleID,
		Success:   false,
		Fields:    map[string]interface{}{"spent_usd": spentUSD, "cap_usd": capUSD},
		Message:   fmt.Sprintf("article %d hit cost cap ($%.2f of $%.2f)", articleID, spentUSD, capUSD),
	})
}

// CredentialAccess records a vault read. Key only.
func (a *AuditLogger) CredentialAccess(key, source string, hit bool) {
	a.Log(AuditEvent{
		EventType: AuditCredentialAccess,
		Target:    key,
		Success:   true,
		Fields:    map[string]interface{}{"source": source, "cache_hit": hit},
		Message:   fmt.Sprintf("credential %q read from %s", key, source),
	})
}

// SyncRun records a document-store sync pass.
func (a *AuditLogger) SyncRun(created, updated, skipped int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSyncRun,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"created": created, "updated": updated, "skipped": skipped},
		Message:    fmt.Sprintf("sync: %d created, %d updated, %d unchanged", created, updated, skipped),
	})
}
