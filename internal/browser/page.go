package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

// elementAttr marks interactive elements so later actions can address them by number.
const elementAttr = "data-op-id"

// tagElementsJS numbers the visible interactive elements of the page.
const tagElementsJS = `(() => {
	const selector = 'a[href], button, input:not([type=hidden]), textarea, select, summary, [role=button], [role=link], [role=tab], [role=menuitem], [onclick], [contenteditable=true]';
	document.querySelectorAll('[` + elementAttr + `]').forEach(el => el.removeAttribute('` + elementAttr + `'));
	const out = [];
	let id = 0;
	for (const el of document.querySelectorAll(selector)) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		id++;
		el.setAttribute('` + elementAttr + `', String(id));
		const label = el.getAttribute('aria-label') || el.innerText || el.value || el.getAttribute('placeholder') || el.getAttribute('title') || el.getAttribute('alt') || '';
		out.push({id: id, role: el.getAttribute('role') || el.tagName.toLowerCase(), name: label.trim().replace(/\s+/g, ' ').slice(0, 80)});
		if (id >= 150) break;
	}
	return out;
})()`

const bodyTextJS = `document.body ? document.body.innerText : ""`

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
}

// cdpPage drives one tab of a remote browser over CDP.
type cdpPage struct {
	ctx           context.Context // chromedp tab context
	cancel        context.CancelFunc
	actionTimeout time.Duration
	logger        *zap.Logger
}

var _ schemas.Page = (*cdpPage)(nil)

// run executes actions bound to both the tab lifetime and the caller's context.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	runCtx, cancel := context.WithTimeout(opCtx, p.actionTimeout)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating to URL", zap.String("url", url))
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *cdpPage) Back(ctx context.Context) error {
	if err := p.run(ctx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("navigate back failed: %w", err)
	}
	return nil
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *cdpPage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	var t string
	if err := p.run(ctx, chromedp.Title(&t)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return t, nil
}

func (p *cdpPage) Text(ctx context.Context) (string, error) {
	var text string
	if err := p.run(ctx, chromedp.Evaluate(bodyTextJS, &text)); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

func (p *cdpPage) Elements(ctx context.Context) ([]schemas.Element, error) {
	var els []schemas.Element
	if err := p.run(ctx, chromedp.Evaluate(tagElementsJS, &els)); err != nil {
		return nil, fmt.Errorf("failed to enumerate elements: %w", err)
	}
	return els, nil
}

func elementSelector(id int) string {
	return fmt.Sprintf(`[%s="%d"]`, elementAttr, id)
}

func (p *cdpPage) Click(ctx context.Context, elementID int) error {
	sel := elementSelector(elementID)
	err := p.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click on element %d failed: %w", elementID, err)
	}
	return nil
}

func (p *cdpPage) Type(ctx context.Context, elementID int, text string) error {
	sel := elementSelector(elementID)
	err := p.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("typing into element %d failed: %w", elementID, err)
	}
	return nil
}

// KeyFor maps a key name such as "Enter" or "ArrowDown" to its chromedp key
// sequence. Unknown names are sent as literal text.
func KeyFor(name string) string {
	if k, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k
	}
	return name
}

func (p *cdpPage) PressKey(ctx context.Context, key string) error {
	if err := p.run(ctx, chromedp.KeyEvent(KeyFor(key))); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	return nil
}

func (p *cdpPage) Scroll(ctx context.Context, deltaY int) error {
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// Close drops the CDP connection. The remote session keeps running.
func (p *cdpPage) Close() error {
	p.cancel()
	return nil
}

// RemoteConnector attaches to a remote browser through its CDP websocket URL.
type RemoteConnector struct {
	ConnectTimeout time.Duration
	ActionTimeout  time.Duration
	Logger         *zap.Logger
}

// ErrNoPageTarget means the remote browser had no open tab to attach to.
var ErrNoPageTarget = errors.New("remote browser has no page target")

// Connect attaches to the first existing page of the browser at connectURL.
// The connection is independent of ctx; ctx only bounds the attach.
func (r RemoteConnector) Connect(ctx context.Context, connectURL string) (schemas.Page, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connectTimeout := r.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 60 * time.Second
	}
	actionTimeout := r.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), connectURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	closeAll := func() {
		browserCancel()
		allocCancel()
	}

	type result struct {
		targets []*target.Info
		err     error
	}
	done := make(chan result, 1)
	go func() {
		targets, err := chromedp.Targets(browserCtx)
		done <- result{targets, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(connectTimeout):
		closeAll()
		return nil, fmt.Errorf("timed out after %s connecting to remote browser", connectTimeout)
	case <-ctx.Done():
		closeAll()
		return nil, ctx.Err()
	}
	if res.err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to connect to remote browser: %w", res.err)
	}

	var pageTarget *target.Info
	for _, t := range res.targets {
		if t.Type == "page" {
			pageTarget = t
			break
		}
	}
	if pageTarget == nil {
		closeAll()
		return nil, ErrNoPageTarget
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(pageTarget.TargetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		closeAll()
		return nil, fmt.Errorf("failed to attach to page target: %w", err)
	}
	logger.Debug("Attached to remote page.", zap.String("target_id", string(pageTarget.TargetID)), zap.String("url", pageTarget.URL))

	return &cdpPage{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			closeAll()
		},
		actionTimeout: actionTimeout,
		logger:        logger.Named("page"),
	}, nil
}
