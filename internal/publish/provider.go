// Package publish drives the target CMS to create article drafts. Three
// providers implement the same contract: a scripted headless-browser
// walk, a computer-use agent steered by screenshots, and a hybrid that
// starts scripted and hands the live session to the agent when a step
// fails after login. The task manager owns durability, retries and the
// at-most-once draft guarantee.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"copydesk/internal/cms"
	"copydesk/internal/types"
)

// Step names, in execution order. The agent receives these as goals;
// progress percentages derive from the table below.
const (
	StepInitialize = "initialize"
	StepLogin      = "login"
	StepCompose    = "compose"
	StepBody       = "body"
	StepImages     = "images"
	StepSEO        = "seo"
	StepSaveDraft  = "save_draft"
	StepConfirm    = "confirm"
)

type stepInfo struct {
	name    string
	percent int
	status  types.TaskStatus
	detail  string
}

// script is the canonical step sequence. Hybrid handoff indexes into it.
var script = []stepInfo{
	{StepInitialize, 5, types.TaskInitializing, "open the CMS"},
	{StepLogin, 15, types.TaskLoggingIn, "sign in with the operator account"},
	{StepCompose, 30, types.TaskCreatingPost, "open the new-post editor and set the title"},
	{StepBody, 45, types.TaskCreatingPost, "paste the article body into the content editor"},
	{StepImages, 60, types.TaskUploadingImages, "attach the article images"},
	{StepSEO, 75, types.TaskConfiguringSEO, "fill the meta description, keywords and tags"},
	{StepSaveDraft, 90, types.TaskPublishing, "save the post as a draft, never publish live"},
	{StepConfirm, 100, types.TaskPublishing, "verify the draft-saved confirmation and read the draft URL"},
}

func stepIndex(name string) int {
	for i, s := range script {
		if s.name == name {
			return i
		}
	}
	return -1
}

// ProgressSink receives step advancement events. Implementations must
// tolerate an empty screenshot ref: the login step never captures one.
type ProgressSink interface {
	Progress(step string, percent int, status types.TaskStatus, screenshotRef string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(step string, percent int, status types.TaskStatus, screenshotRef string)

func (f ProgressFunc) Progress(step string, percent int, status types.TaskStatus, screenshotRef string) {
	if f != nil {
		f(step, percent, status, screenshotRef)
	}
}

// Credentials carry the CMS login pair. Values never reach logs,
// prompts or screenshots.
type Credentials struct {
	Username string
	Password string
}

// Request is one publish attempt against the CMS.
type Request struct {
	Task      *types.PublishTask
	Article   *types.Article
	Images    []*types.ArticleImage
	BaseURL   string
	Selectors *cms.SelectorMap
	Creds     Credentials

	// StepTimeout bounds one CMS interaction; the attempt as a whole is
	// bounded by the caller's context.
	StepTimeout time.Duration

	Progress ProgressSink
}

// Outcome reports one attempt. On failure it still carries the
// screenshots taken and the cost incurred so the task row can
// accumulate them.
type Outcome struct {
	Success      bool
	CMSArticleID string
	PublishedURL string
	Duration     time.Duration
	CostUSD      float64
	Screenshots  []types.Screenshot
	Err          error
}

// Provider drives one publish attempt. Implementations return a non-nil
// Outcome even on error so accounting survives the failure.
type Provider interface {
	Name() types.Provider
	Publish(ctx context.Context, req *Request) (*Outcome, error)
}

// StepError marks which script step failed. The hybrid provider hands
// the session to the agent only for steps after login.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AfterLogin reports whether the failing step comes after the login
// step in the script.
func (e *StepError) AfterLogin() bool {
	return stepIndex(e.Step) > stepIndex(StepLogin)
}

// failedStep extracts the script index of a StepError, -1 otherwise.
func failedStep(err error) int {
	var se *StepError
	if errors.As(err, &se) {
		return stepIndex(se.Step)
	}
	return -1
}
