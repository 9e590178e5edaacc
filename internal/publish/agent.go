package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"copydesk/internal/llm"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/prompt"
	"copydesk/internal/types"
)

// Action budgets keep a confused model from looping forever against a
// page it cannot read.
const (
	maxActionsPerStep = 12
	maxActionsTotal   = 40

	agentWaitPause = 2 * time.Second
)

// agentAction mirrors the JSON contract of the publish.goal template.
type agentAction struct {
	Action       string  `json:"action"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Text         string  `json:"text"`
	Reason       string  `json:"reason"`
	StepComplete bool    `json:"step_complete"`
}

// ComputerUseProvider drives the CMS through a vision model: one
// screenshot per turn, one action back. It survives UI changes that
// break selectors and costs roughly twenty cents per publish.
type ComputerUseProvider struct {
	headless  bool
	shots     ShotStore
	client    llm.Client
	model     string
	aiTimeout time.Duration
	metrics   *metrics.Metrics
}

// NewComputerUseProvider builds the agent provider. model is the
// computer-use model name, distinct from the text default.
func NewComputerUseProvider(headless bool, shots ShotStore, client llm.Client, model string, aiTimeout time.Duration, m *metrics.Metrics) *ComputerUseProvider {
	return &ComputerUseProvider{
		headless:  headless,
		shots:     shots,
		client:    client,
		model:     model,
		aiTimeout: aiTimeout,
		metrics:   m,
	}
}

func (p *ComputerUseProvider) Name() types.Provider { return types.ProviderComputerUse }

// Publish opens a fresh session and runs every step. Initialize and
// login stay scripted even here: credential values must never enter
// model prompts or stored screenshots.
func (p *ComputerUseProvider) Publish(ctx context.Context, req *Request) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{}

	sess, err := newSession(ctx, p.headless, req.StepTimeout, req.Selectors.Waits.ElementRetries)
	if err != nil {
		out.Err = &StepError{Step: StepInitialize, Err: err}
		out.Duration = time.Since(start)
		return out, out.Err
	}
	defer sess.close()

	rec := newRecorder(req, p.Name(), p.shots)
	err = p.runFrom(ctx, sess, req, rec, out, 0)
	out.Screenshots = rec.taken
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		return out, err
	}
	out.Success = true
	return out, nil
}

// runFrom executes the script from the given index. Steps up to and
// including login run scripted; the rest go through the agent loop.
// The hybrid provider enters here with a live, logged-in session.
func (p *ComputerUseProvider) runFrom(ctx context.Context, sess *session, req *Request, rec *recorder, out *Outcome, from int) error {
	used := 0
	for i := from; i < len(script); i++ {
		st := script[i]
		if stepIndex(st.name) <= stepIndex(StepLogin) {
			if err := runStep(ctx, sess, req, out, st.name); err != nil {
				return &StepError{Step: st.name, Err: err}
			}
			rec.progressOnly(st)
			continue
		}
		logging.PublishDebug("task %d agent step %s", rec.taskID, st.name)
		if err := p.agentStep(ctx, sess, req, out, st, &used); err != nil {
			return &StepError{Step: st.name, Err: err}
		}
		rec.capture(ctx, sess, st)
	}
	if out.PublishedURL == "" {
		out.PublishedURL = sess.currentURL()
		out.CMSArticleID = parseCMSArticleID(out.PublishedURL)
	}
	return nil
}

// agentStep loops screenshot, decision, action until the model declares
// the step complete or a budget runs out.
func (p *ComputerUseProvider) agentStep(ctx context.Context, sess *session, req *Request, out *Outcome, st stepInfo, used *int) error {
	history := make([]string, 0, maxActionsPerStep)
	for taken := 0; taken < maxActionsPerStep; taken++ {
		if *used >= maxActionsTotal {
			return fmt.Errorf("action budget exhausted after %d actions", *used)
		}
		png, err := sess.screenshot(ctx)
		if err != nil {
			return fmt.Errorf("screenshot for agent: %w", err)
		}

		act, err := p.decide(ctx, req, st, history, png, out)
		if err != nil {
			return err
		}
		*used++
		history = append(history, fmt.Sprintf("%s: %s", act.Action, act.Reason))

		done, err := p.apply(ctx, sess, req, st, act)
		if err != nil {
			return err
		}
		if done || act.StepComplete {
			return nil
		}
	}
	return fmt.Errorf("step not complete after %d actions", maxActionsPerStep)
}

// decide renders the goal prompt, sends the screenshot and parses the
// returned action. Cost accumulates onto the outcome either way.
func (p *ComputerUseProvider) decide(ctx context.Context, req *Request, st stepInfo, history []string, png []byte, out *Outcome) (*agentAction, error) {
	vars := map[string]any{
		"Title":      req.Article.DisplayTitle(),
		"CMSURL":     req.BaseURL,
		"Step":       st.name,
		"StepDetail": stepDetailFor(req, st),
	}
	if len(history) > 0 {
		vars["History"] = strings.Join(history, "\n")
	}
	system, user, err := prompt.Get().Render(prompt.PublishGoal, vars)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.GenerateVision(ctx, llm.VisionRequest{
		System:   system,
		Prompt:   user,
		ImagePNG: png,
		Timeout:  p.aiTimeout,
		Model:    p.model,
	})
	if p.metrics != nil {
		var usage llm.Usage
		var cost float64
		if resp != nil {
			usage, cost = resp.Usage, resp.CostUSD
		}
		p.metrics.RecordModelUsage("publisher", err, int32(usage.InputTokens), int32(usage.OutputTokens), cost)
	}
	if resp != nil {
		out.CostUSD += resp.CostUSD
	}
	if err != nil {
		return nil, err
	}

	var act agentAction
	if err := llm.SmartParse(resp.Text, &act); err != nil {
		return nil, fmt.Errorf("%w: unusable agent action: %v", types.ErrGenerationFailed, err)
	}
	return &act, nil
}

// apply executes one model action. It returns done=true when the model
// signals the step finished.
func (p *ComputerUseProvider) apply(ctx context.Context, sess *session, req *Request, st stepInfo, act *agentAction) (bool, error) {
	switch act.Action {
	case "click":
		return false, sess.clickAt(ctx, act.X, act.Y)
	case "type":
		if act.X != 0 || act.Y != 0 {
			if err := sess.clickAt(ctx, act.X, act.Y); err != nil {
				return false, err
			}
		}
		// The article body never rides through the model. The agent
		// points at the editor; the provider inserts the text itself.
		text := act.Text
		if st.name == StepBody {
			text = req.Article.BodyText
		}
		return false, sess.typeText(ctx, text)
	case "scroll":
		return false, sess.scrollBy(ctx, act.X, act.Y)
	case "select":
		if err := sess.clickAt(ctx, act.X, act.Y); err != nil {
			return false, err
		}
		return false, sess.typeText(ctx, act.Text)
	case "wait":
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(agentWaitPause):
		}
		return false, nil
	case "done":
		return true, nil
	case "fail":
		return false, fmt.Errorf("agent gave up: %s", act.Reason)
	default:
		return false, fmt.Errorf("%w: unknown agent action %q", types.ErrGenerationFailed, act.Action)
	}
}

// stepDetailFor augments the static step detail with the concrete
// values the model needs to type. Credentials are never among them.
func stepDetailFor(req *Request, st stepInfo) string {
	art := req.Article
	switch st.name {
	case StepBody:
		return st.detail + " Click the body editor area; once it is focused the article text is inserted for you. Mark the step complete after text appears in the editor."
	case StepSEO:
		var b strings.Builder
		b.WriteString(st.detail)
		if desc := metaDescription(art); desc != "" {
			fmt.Fprintf(&b, " Meta description to enter: %q.", desc)
		}
		if len(art.SEOKeywords) > 0 {
			fmt.Fprintf(&b, " Focus keyword: %q.", art.SEOKeywords[0])
		}
		if len(art.Tags) > 0 {
			fmt.Fprintf(&b, " Tags to add: %s.", strings.Join(art.Tags, ", "))
		}
		return b.String()
	case StepImages:
		if len(req.Images) == 0 {
			return "No images for this article; mark the step complete."
		}
		return st.detail
	default:
		return st.detail
	}
}
