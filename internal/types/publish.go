package types

import "time"

// Provider selects the mechanism that drives the CMS.
type Provider string

const (
	ProviderPlaywright  Provider = "playwright"
	ProviderComputerUse Provider = "computer_use"
	ProviderHybrid      Provider = "hybrid"
)

// ValidProvider reports whether p is a recognized provider.
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderPlaywright, ProviderComputerUse, ProviderHybrid:
		return true
	}
	return false
}

// TaskStatus tracks a publish task through its steps.
type TaskStatus string

const (
	TaskIdle            TaskStatus = "idle"
	TaskPending         TaskStatus = "pending"
	TaskInitializing    TaskStatus = "initializing"
	TaskLoggingIn       TaskStatus = "logging_in"
	TaskCreatingPost    TaskStatus = "creating_post"
	TaskUploadingImages TaskStatus = "uploading_images"
	TaskConfiguringSEO  TaskStatus = "configuring_seo"
	TaskPublishing      TaskStatus = "publishing"
	TaskCompleted       TaskStatus = "completed"
	TaskFailed          TaskStatus = "failed"
	TaskCancelled       TaskStatus = "cancelled"
)

// IsTerminalTask reports whether the status ends the task. Terminal
// tasks carry completed_at and cannot be retried.
func IsTerminalTask(s TaskStatus) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Screenshot is one captured step artifact. ImageRef points into the
// configured screenshot store; bytes never land in the database or the
// logs. Timestamps are strictly increasing within a task.
type Screenshot struct {
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	ImageRef  string    `json:"image_ref"`
	Provider  Provider  `json:"provider,omitempty"` // which provider captured it (hybrid labels both)
}

// PublishTask is one publication attempt chain against the CMS. Tasks
// are append-only; a durable row exists before the first CMS
// interaction, which is the anchor of the at-most-once guarantee.
type PublishTask struct {
	ID            int64
	ArticleID     int64
	Provider      Provider
	Status        TaskStatus
	Progress      int // 0..100, monotonic
	CurrentStep   string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DurationSecs  float64
	CostUSD       float64
	RetryCount    int
	MaxRetries    int
	Screenshots   []Screenshot
	ErrorMessage  string
	CMSArticleID  string
	PublishedURL  string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanRetry reports whether another attempt is allowed.
func (t *PublishTask) CanRetry() bool {
	return !IsTerminalTask(t.Status) && t.RetryCount < t.MaxRetries
}

// Credential is a vault-managed secret. Values are never logged or
// serialized into screenshots.
type Credential struct {
	Key           string
	Value         string
	SourceBackend string
	CachedAt      time.Time
}

// String implements fmt.Stringer without exposing the value.
func (c Credential) String() string {
	return c.Key + "=<redacted>"
}
