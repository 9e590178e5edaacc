package publish

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"copydesk/internal/cms"
	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// BrowserProvider drives the CMS through scripted selectors. It is the
// default publisher and costs nothing per run.
type BrowserProvider struct {
	headless bool
	shots    ShotStore
}

// NewBrowserProvider builds the scripted provider.
func NewBrowserProvider(headless bool, shots ShotStore) *BrowserProvider {
	return &BrowserProvider{headless: headless, shots: shots}
}

func (p *BrowserProvider) Name() types.Provider { return types.ProviderPlaywright }

// Publish runs the full step script against a fresh browser session.
func (p *BrowserProvider) Publish(ctx context.Context, req *Request) (*Outcome, error) {
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
	err = runScript(ctx, sess, req, rec, out, 0)
	out.Screenshots = rec.taken
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = err
		return out, err
	}
	out.Success = true
	return out, nil
}

// runScript executes the step script from the given index. The hybrid
// provider re-enters here with a live session and a non-zero start.
func runScript(ctx context.Context, sess *session, req *Request, rec *recorder, out *Outcome, from int) error {
	for i := from; i < len(script); i++ {
		st := script[i]
		logging.PublishDebug("task %d step %s", rec.taskID, st.name)
		if err := runStep(ctx, sess, req, out, st.name); err != nil {
			return &StepError{Step: st.name, Err: err}
		}
		if st.name == StepLogin {
			// The login form stays out of the archive.
			rec.progressOnly(st)
			continue
		}
		rec.capture(ctx, sess, st)
	}
	return nil
}

func runStep(ctx context.Context, sess *session, req *Request, out *Outcome, step string) error {
	sel := req.Selectors
	switch step {
	case StepInitialize:
		return sess.navigate(ctx, req.BaseURL)
	case StepLogin:
		return doLogin(ctx, sess, req)
	case StepCompose:
		if err := sess.navigate(ctx, joinURL(req.BaseURL, sel.Compose.Path)); err != nil {
			return err
		}
		return sess.fill(ctx, sel.Compose.Title, req.Article.DisplayTitle())
	case StepBody:
		if sel.Compose.BodyFrame != "" {
			return sess.fillFrame(ctx, sel.Compose.BodyFrame, req.Article.BodyHTML)
		}
		return sess.setValue(ctx, sel.Compose.Body, req.Article.BodyHTML)
	case StepImages:
		return doImages(ctx, sess, req)
	case StepSEO:
		return doSEO(ctx, sess, req)
	case StepSaveDraft:
		return sess.click(ctx, sel.Compose.SaveDraft)
	case StepConfirm:
		return doConfirm(ctx, sess, req, out)
	}
	return fmt.Errorf("unknown step %q", step)
}

func doLogin(ctx context.Context, sess *session, req *Request) error {
	sel := req.Selectors.Login
	if err := sess.navigate(ctx, joinURL(req.BaseURL, sel.Path)); err != nil {
		return err
	}
	if err := sess.fill(ctx, sel.Username, req.Creds.Username); err != nil {
		return err
	}
	if err := sess.fill(ctx, sel.Password, req.Creds.Password); err != nil {
		return err
	}
	if err := sess.click(ctx, sel.Submit); err != nil {
		return err
	}
	if err := sess.waitVisible(ctx, sel.Success, assertWindow(req.Selectors)); err != nil {
		return fmt.Errorf("login not confirmed: %w", err)
	}
	return nil
}

func doImages(ctx context.Context, sess *session, req *Request) error {
	sel := req.Selectors
	if !sel.MediaEnabled() || len(req.Images) == 0 {
		return nil
	}
	for _, img := range req.Images {
		path := img.SourcePath
		if path == "" {
			path = img.PreviewPath
		}
		if path == "" {
			logging.PublishWarn("image %d has no local file, skipping upload", img.ID)
			continue
		}
		if err := sess.click(ctx, sel.Media.OpenButton); err != nil {
			return err
		}
		if err := sess.setFiles(ctx, sel.Media.FileInput, []string{path}); err != nil {
			return err
		}
		if err := sess.click(ctx, sel.Media.InsertButton); err != nil {
			return err
		}
		// Some CMSes keep the modal open after insert.
		if sel.Media.CloseButton != "" && sess.exists(ctx, sel.Media.CloseButton) {
			_ = sess.click(ctx, sel.Media.CloseButton)
		}
	}
	return nil
}

func doSEO(ctx context.Context, sess *session, req *Request) error {
	sel := req.Selectors.Compose
	art := req.Article
	if sel.Tags != "" {
		for _, tag := range art.Tags {
			if err := sess.fill(ctx, sel.Tags, tag); err != nil {
				return err
			}
			if sel.TagConfirm != "" {
				if err := sess.click(ctx, sel.TagConfirm); err != nil {
					return err
				}
			}
		}
	}
	if desc := metaDescription(art); desc != "" && sel.SEO.MetaDescription != "" {
		if err := sess.setValue(ctx, sel.SEO.MetaDescription, desc); err != nil {
			return err
		}
	}
	if sel.SEO.FocusKeyword != "" && len(art.SEOKeywords) > 0 {
		if err := sess.fill(ctx, sel.SEO.FocusKeyword, art.SEOKeywords[0]); err != nil {
			return err
		}
	}
	return nil
}

// doConfirm asserts the draft-saved indicator and reads back where the
// draft lives. A missing indicator within the assert window fails the
// attempt.
func doConfirm(ctx context.Context, sess *session, req *Request, out *Outcome) error {
	sel := req.Selectors.Compose
	if err := sess.waitVisible(ctx, sel.SavedIndicator, assertWindow(req.Selectors)); err != nil {
		return fmt.Errorf("draft-saved indicator: %w", err)
	}
	if sel.DraftLink != "" {
		if href, err := sess.attr(ctx, sel.DraftLink, "href"); err == nil && href != "" {
			out.PublishedURL = href
		}
	}
	if out.PublishedURL == "" {
		out.PublishedURL = sess.currentURL()
	}
	out.CMSArticleID = parseCMSArticleID(out.PublishedURL)
	return nil
}

func metaDescription(a *types.Article) string {
	if a.MetaDescription != "" {
		return a.MetaDescription
	}
	return a.SuggestedMetaDescription
}

func assertWindow(sel *cms.SelectorMap) time.Duration {
	return time.Duration(sel.Waits.AssertSeconds) * time.Second
}

// joinURL glues a site base and a selector-map path. Paths may carry
// query strings, so no url.JoinPath here.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// parseCMSArticleID extracts the CMS's own identifier from a draft URL.
// A "post" or "p" query parameter wins; otherwise the last path segment
// when it does not look like a script name.
func parseCMSArticleID(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("post"); id != "" {
		return id
	}
	if id := u.Query().Get("p"); id != "" {
		return id
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segs[len(segs)-1]
	if last == "" || strings.Contains(last, ".") {
		return ""
	}
	return last
}

// recorder stores step screenshots and forwards progress to the sink.
// A failed capture degrades to progress with an empty reference rather
// than failing the step.
type recorder struct {
	taskID   int64
	provider types.Provider
	shots    ShotStore
	sink     ProgressSink
	taken    []types.Screenshot
}

func newRecorder(req *Request, provider types.Provider, shots ShotStore) *recorder {
	r := &recorder{provider: provider, shots: shots, sink: req.Progress}
	if req.Task != nil {
		r.taskID = req.Task.ID
	}
	return r
}

func (r *recorder) capture(ctx context.Context, sess *session, st stepInfo) {
	ref := ""
	png, err := sess.screenshot(ctx)
	if err != nil {
		logging.PublishWarn("screenshot at %s: %v", st.name, err)
	} else if r.shots != nil {
		ref, err = r.shots.Save(ctx, r.taskID, st.name, png)
		if err != nil {
			logging.PublishWarn("storing screenshot at %s: %v", st.name, err)
			ref = ""
		}
	}
	if ref != "" {
		r.taken = append(r.taken, types.Screenshot{
			Step:      st.name,
			Timestamp: time.Now().UTC(),
			ImageRef:  ref,
			Provider:  r.provider,
		})
	}
	r.report(st, ref)
}

// progressOnly reports a step without capturing the page.
func (r *recorder) progressOnly(st stepInfo) { r.report(st, "") }

func (r *recorder) report(st stepInfo, ref string) {
	if r.sink != nil {
		r.sink.Progress(st.name, st.percent, st.status, ref)
	}
}
