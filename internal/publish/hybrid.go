package publish

import (
	"context"
	"errors"
	"time"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// HybridProvider runs the scripted flow and, when a selector breaks
// after login, hands the live session to the agent at the failed step.
// The handoff happens within the attempt; it is not a retry.
type HybridProvider struct {
	browser *BrowserProvider
	agent   *ComputerUseProvider
}

// NewHybridProvider composes the two underlying providers.
func NewHybridProvider(browser *BrowserProvider, agent *ComputerUseProvider) *HybridProvider {
	return &HybridProvider{browser: browser, agent: agent}
}

func (p *HybridProvider) Name() types.Provider { return types.ProviderHybrid }

// Publish prefers the free scripted path. Failures at or before login
// are not handed off: an agent cannot log in without seeing
// credentials, so those fail the attempt.
func (p *HybridProvider) Publish(ctx context.Context, req *Request) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{}

	sess, err := newSession(ctx, p.browser.headless, req.StepTimeout, req.Selectors.Waits.ElementRetries)
	if err != nil {
		out.Err = &StepError{Step: StepInitialize, Err: err}
		out.Duration = time.Since(start)
		return out, out.Err
	}
	defer sess.close()

	rec := newRecorder(req, types.ProviderPlaywright, p.browser.shots)
	err = runScript(ctx, sess, req, rec, out, 0)

	var stepErr *StepError
	if err != nil && errors.As(err, &stepErr) && stepErr.AfterLogin() {
		// Same session: cookies and partially filled form state
		// survive into the agent's hands.
		logging.PublishWarn("task %d scripted step %s failed (%v); agent takes over",
			rec.taskID, stepErr.Step, stepErr.Err)
		rec.provider = types.ProviderComputerUse
		err = p.agent.runFrom(ctx, sess, req, rec, out, stepIndex(stepErr.Step))
	}

	out.Screenshots = rec.taken
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		return out, err
	}
	out.Success = true
	return out, nil
}
