package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

const (
	viewportWidth  = 1920
	viewportHeight = 1080
)

// session owns one Chrome instance and one incognito page for the
// duration of a publish attempt. The hybrid provider passes the same
// session from the scripted walk to the agent so cookies and form state
// survive the handoff.
type session struct {
	browser *rod.Browser
	page    *rod.Page

	stepTimeout time.Duration
	retries     int
}

// newSession launches Chrome and opens a blank incognito page.
func newSession(ctx context.Context, headless bool, stepTimeout time.Duration, retries int) (*session, error) {
	controlURL, err := launcher.New().Headless(headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	incognito, err := browser.Incognito()
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.PublishWarn("viewport override failed: %v", err)
	}

	if retries < 1 {
		retries = 1
	}
	return &session{
		browser:     browser,
		page:        page,
		stepTimeout: stepTimeout,
		retries:     retries,
	}, nil
}

func (s *session) close() {
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
}

// navigate loads url and waits for the load event, bounded by the step
// timeout.
func (s *session) navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.stepTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// element waits for a selector, retrying up to the configured count
// with one step timeout per try. This is the provider's failure
// definition: a selector absent through every try fails the step.
func (s *session) element(ctx context.Context, selector string) (*rod.Element, error) {
	var lastErr error
	for try := 0; try < s.retries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		el, err := s.page.Context(ctx).Timeout(s.stepTimeout).Element(selector)
		if err == nil {
			return el, nil
		}
		lastErr = err
		logging.PublishDebug("selector %q not found (try %d/%d)", selector, try+1, s.retries)
	}
	return nil, fmt.Errorf("%w: selector %q absent after %d tries: %v",
		types.ErrTimeout, selector, s.retries, lastErr)
}

// click waits for the selector and clicks it.
func (s *session) click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// fill types text into an input, replacing any prior value.
func (s *session) fill(ctx context.Context, selector, text string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	// Selected text is overwritten by the first typed rune.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input %q: %w", selector, err)
	}
	return nil
}

// setValue assigns a field value through the DOM and fires an input
// event. Large article bodies go through here; typing them key by key
// would blow the step timeout.
func (s *session) setValue(ctx context.Context, selector, value string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	_, err = el.Eval(`(v) => {
		this.value = v;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	if err != nil {
		return fmt.Errorf("set value %q: %w", selector, err)
	}
	return nil
}

// fillFrame writes HTML into the body of an editor iframe. Visual
// editors render content in a nested document the top-level selectors
// cannot reach.
func (s *session) fillFrame(ctx context.Context, frameSelector, html string) error {
	el, err := s.element(ctx, frameSelector)
	if err != nil {
		return err
	}
	frame, err := el.Frame()
	if err != nil {
		return fmt.Errorf("frame %q: %w", frameSelector, err)
	}
	body, err := frame.Context(ctx).Timeout(s.stepTimeout).Element("body")
	if err != nil {
		return fmt.Errorf("frame %q body: %w", frameSelector, err)
	}
	if _, err := body.Eval(`(html) => { this.innerHTML = html }`, html); err != nil {
		return fmt.Errorf("frame %q content: %w", frameSelector, err)
	}
	return nil
}

// setFiles attaches local file paths to a file input.
func (s *session) setFiles(ctx context.Context, selector string, paths []string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SetFiles(paths); err != nil {
		return fmt.Errorf("set files %q: %w", selector, err)
	}
	return nil
}

// exists reports whether the selector matches right now, without the
// retry loop.
func (s *session) exists(ctx context.Context, selector string) bool {
	has, _, err := s.page.Context(ctx).Has(selector)
	return err == nil && has
}

// waitVisible waits up to d for the selector to appear. Used for the
// draft-saved assertion, which has its own window.
func (s *session) waitVisible(ctx context.Context, selector string, d time.Duration) error {
	el, err := s.page.Context(ctx).Timeout(d).Element(selector)
	if err != nil {
		return fmt.Errorf("%w: %q not visible within %s: %v", types.ErrTimeout, selector, d, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("%w: %q not visible within %s: %v", types.ErrTimeout, selector, d, err)
	}
	return nil
}

// text returns the trimmed text content of the first selector match.
func (s *session) text(ctx context.Context, selector string) (string, error) {
	el, err := s.element(ctx, selector)
	if err != nil {
		return "", err
	}
	txt, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("text %q: %w", selector, err)
	}
	return txt, nil
}

// attr returns an attribute of the first selector match, or "".
func (s *session) attr(ctx context.Context, selector, name string) (string, error) {
	el, err := s.element(ctx, selector)
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute %s of %q: %w", name, selector, err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

// screenshot captures the visible viewport as PNG.
func (s *session) screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

// clickAt moves the mouse to viewport coordinates and left-clicks. Agent
// actions address the page by pixel, not by selector.
func (s *session) clickAt(ctx context.Context, x, y float64) error {
	page := s.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move to (%.0f,%.0f): %w", x, y, err)
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click at (%.0f,%.0f): %w", x, y, err)
	}
	return nil
}

// typeText inserts text at the current focus.
func (s *session) typeText(ctx context.Context, text string) error {
	if err := s.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// scrollBy scrolls the page by the given pixel offsets.
func (s *session) scrollBy(ctx context.Context, dx, dy float64) error {
	if err := s.page.Context(ctx).Mouse.Scroll(dx, dy, 4); err != nil {
		return fmt.Errorf("scroll by (%.0f,%.0f): %w", dx, dy, err)
	}
	return nil
}

// currentURL returns the page's URL.
func (s *session) currentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
