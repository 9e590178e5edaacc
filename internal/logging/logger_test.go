package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	opts = Options{}
	logLevel = LevelInfo
	auditLogger = nil
}

func TestCategoriesCreateFiles(t *testing.T) {
	tempDir := t.TempDir()
	resetState()

	if err := Initialize(Options{Dir: tempDir, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	categories := []Category{
		CategorySync,
		CategoryWorklist,
		CategoryParser,
		CategoryOptimizer,
		CategoryProofread,
		CategoryPublish,
		CategoryVault,
		CategoryStore,
		CategoryAPI,
		CategoryLLM,
		CategoryCMS,
		CategoryReport,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("info for %s", cat)
		logger.Debug("debug for %s", cat)
		logger.Warn("warn for %s", cat)
		logger.Error("error for %s", cat)
	}

	Sync("convenience sync log")
	Worklist("convenience worklist log")
	Parser("convenience parser log")
	Publish("convenience publish log")

	CloseAll()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(tempDir, entry.Name()))
				if err != nil {
					t.Errorf("read log for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("no log file for category %s", cat)
		}
	}
}

func TestUninitializedIsNoop(t *testing.T) {
	resetState()

	// Without Initialize every logger is a no-op and nothing is written.
	if IsCategoryEnabled(CategoryWorklist) {
		t.Error("categories should be disabled before Initialize")
	}
	Worklist("should not be written anywhere")
	Get(CategoryPublish).Error("also dropped")
}

func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()
	resetState()

	err := Initialize(Options{
		Dir:   tempDir,
		Level: "debug",
		Categories: map[string]bool{
			"worklist": true,
			"publish":  false,
		},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryWorklist) {
		t.Error("worklist should be enabled")
	}
	if IsCategoryEnabled(CategoryPublish) {
		t.Error("publish should be disabled")
	}
	// Unlisted categories default to enabled.
	if !IsCategoryEnabled(CategoryParser) {
		t.Error("parser (unlisted) should default to enabled")
	}

	Worklist("this should be logged")
	Publish("this should NOT be logged")
	CloseAll()

	entries, _ := os.ReadDir(tempDir)
	hasWorklist, hasPublish := false, false
	for _, e := range entries {
		if strings.Contains(e.Name(), "worklist") {
			hasWorklist = true
		}
		if strings.Contains(e.Name(), "publish") {
			hasPublish = true
		}
	}
	if !hasWorklist {
		t.Error("expected worklist log file")
	}
	if hasPublish {
		t.Error("should not have publish log file (disabled)")
	}
}

func TestLevelGating(t *testing.T) {
	tempDir := t.TempDir()
	resetState()

	if err := Initialize(Options{Dir: tempDir, Level: "warn"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	l := Get(CategoryStore)
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept warn")
	l.Error("kept error")
	CloseAll()

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	content, err := os.ReadFile(filepath.Join(tempDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(content)
	if strings.Contains(text, "dropped") {
		t.Error("level gating failed: found suppressed entries")
	}
	if !strings.Contains(text, "kept warn") || !strings.Contains(text, "kept error") {
		t.Error("warn/error entries missing")
	}
}

func TestJobLoggerCorrelation(t *testing.T) {
	tempDir := t.TempDir()
	resetState()

	if err := Initialize(Options{Dir: tempDir, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	jl := WithCorrelation(CategoryWorklist, "job-42").WithField("item_id", 7)
	jl.Info("parse job started")
	jl.Info("parse job finished")
	CloseAll()

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	content, _ := os.ReadFile(filepath.Join(tempDir, entries[0].Name()))
	if !strings.Contains(string(content), "cid:job-42") {
		t.Errorf("correlation id missing from output: %s", content)
	}
}

func TestJSONFormat(t *testing.T) {
	tempDir := t.TempDir()
	resetState()

	if err := Initialize(Options{Dir: tempDir, Level: "info", JSONFormat: true}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Get(CategoryLLM).Info("model call finished")
	CloseAll()

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	f, err := os.Open(filepath.Join(tempDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("log file empty")
	}
	line := scanner.Text()
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no JSON payload in line: %s", line)
	}
	var entry StructuredLogEntry
	if err := json.Unmarshal([]byte(line[idx:]), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", line[idx:], err)
	}
	if entry.Category != "llm" || entry.Message != "model call finished" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestAuditEvents(t *testing.T) {
	tempDir := t.TempDir()
	resetState()

	if err := Initialize(Options{Dir: tempDir, Level: "info"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit: %v", err)
	}

	AuditWithActor("editor-1").ItemTransition(3, "pending", "parsing", "editor-1")
	Audit().CredentialAccess("cms_password", "env_file", true)
	Audit().SyncRun(2, 1, 10, 120)
	CloseAudit()

	var auditPath string
	entries, _ := os.ReadDir(tempDir)
	for _, e := range entries {
		if strings.Contains(e.Name(), "audit") {
			auditPath = filepath.Join(tempDir, e.Name())
		}
	}
	if auditPath == "" {
		t.Fatal("no audit file created")
	}

	content, _ := os.ReadFile(auditPath)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 audit lines, got %d", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if first.EventType != AuditItemTransition || first.ItemID != 3 {
		t.Errorf("unexpected first event: %+v", first)
	}
	if first.Fields["from"] != "pending" || first.Fields["to"] != "parsing" {
		t.Errorf("transition fields wrong: %+v", first.Fields)
	}
	// The credential line must carry the key only, never a value.
	if strings.Contains(lines[1], "hunter2") {
		t.Error("credential value leaked into audit log")
	}
}
