package browser

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"

	"marketwatcher/pkg/config"
	errs "marketwatcher/pkg/errors"
)

// PlaywrightDriver implements Driver on top of a Chromium instance.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     config.BrowserConfig
}

// NewPlaywrightDriver installs (if needed) and starts Playwright, then
// launches Chromium.
func NewPlaywrightDriver(cfg config.BrowserConfig) (*PlaywrightDriver, error) {
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &PlaywrightDriver{pw: pw, browser: b, cfg: cfg}, nil
}

// NewContext creates an isolated browser context with the fingerprint
// surface applied.
func (d *PlaywrightDriver) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	contextOpts := playwright.BrowserNewContextOptions{}

	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		}
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.Latitude != 0 || opts.Longitude != 0 {
		contextOpts.Geolocation = &playwright.Geolocation{
			Latitude:  opts.Latitude,
			Longitude: opts.Longitude,
		}
		contextOpts.Permissions = []string{"geolocation"}
	}
	if len(opts.ExtraHeaders) > 0 {
		contextOpts.ExtraHttpHeaders = opts.ExtraHeaders
	}

	bc, err := d.browser.NewContext(contextOpts)
	if err != nil {
		return nil, classify(ctx, err, "new_context")
	}

	return &playwrightContext{bc: bc, cfg: d.cfg}, nil
}

// Close shuts the browser and Playwright down.
func (d *PlaywrightDriver) Close() error {
	if err := d.browser.Close(); err != nil {
		d.pw.Stop()
		return fmt.Errorf("failed to close browser: %w", err)
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightContext struct {
	bc  playwright.BrowserContext
	cfg config.BrowserConfig
}

func (c *playwrightContext) AddCookies(ctx context.Context, cookies []Cookie) error {
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, ck := range cookies {
		oc := playwright.OptionalCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   playwright.String(ck.Domain),
			Path:     playwright.String(ck.Path),
			HttpOnly: playwright.Bool(ck.HTTPOnly),
			Secure:   playwright.Bool(ck.Secure),
		}
		if !ck.Expires.IsZero() {
			oc.Expires = playwright.Float(float64(ck.Expires.Unix()))
		}
		converted = append(converted, oc)
	}

	if err := c.bc.AddCookies(converted); err != nil {
		return classify(ctx, err, "add_cookies")
	}
	return nil
}

func (c *playwrightContext) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := c.bc.Cookies()
	if err != nil {
		return nil, classify(ctx, err, "cookies")
	}

	out := make([]Cookie, 0, len(raw))
	for _, ck := range raw {
		cookie := Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HttpOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			cookie.Expires = time.Unix(int64(ck.Expires), 0)
		}
		out = append(out, cookie)
	}
	return out, nil
}

func (c *playwrightContext) AddInitScript(script string) error {
	if err := c.bc.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return errs.Wrap(err, errs.ErrorTypeEvasion, errs.SeverityLow, "add_init_script",
			"failed to register init script")
	}
	return nil
}

func (c *playwrightContext) NewPage(ctx context.Context) (Page, error) {
	p, err := c.bc.NewPage()
	if err != nil {
		return nil, classify(ctx, err, "new_page")
	}
	p.SetDefaultTimeout(float64(c.cfg.ActionTimeout.Milliseconds()))
	return &playwrightPage{p: p, cfg: c.cfg}, nil
}

func (c *playwrightContext) Close() error {
	return c.bc.Close()
}

type playwrightPage struct {
	p   playwright.Page
	cfg config.BrowserConfig
}

func (pg *playwrightPage) Goto(ctx context.Context, url string) error {
	_, err := pg.p.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(float64(pg.cfg.NavTimeout.Milliseconds())),
	})
	if err != nil {
		return classify(ctx, err, "goto")
	}
	return nil
}

func (pg *playwrightPage) WaitForSelector(ctx context.Context, selector string) error {
	_, err := pg.p.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(pg.cfg.ActionTimeout.Milliseconds())),
	})
	if err != nil {
		return classify(ctx, err, "wait_for_selector")
	}
	return nil
}

func (pg *playwrightPage) Click(ctx context.Context, selector string) error {
	if err := pg.p.Click(selector); err != nil {
		return classify(ctx, err, "click")
	}
	return nil
}

func (pg *playwrightPage) TypeText(ctx context.Context, selector, text string, delay time.Duration) error {
	err := pg.p.Type(selector, text, playwright.PageTypeOptions{
		Delay: playwright.Float(float64(delay.Milliseconds())),
	})
	if err != nil {
		return classify(ctx, err, "type")
	}
	return nil
}

func (pg *playwrightPage) Press(ctx context.Context, selector, key string) error {
	if err := pg.p.Press(selector, key); err != nil {
		return classify(ctx, err, "press")
	}
	return nil
}

func (pg *playwrightPage) Fill(ctx context.Context, selector, value string) error {
	if err := pg.p.Fill(selector, value); err != nil {
		return classify(ctx, err, "fill")
	}
	return nil
}

func (pg *playwrightPage) Text(ctx context.Context, selector string) (string, error) {
	text, err := pg.p.TextContent(selector)
	if err != nil {
		return "", classify(ctx, err, "text_content")
	}
	return text, nil
}

func (pg *playwrightPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	value, err := pg.p.GetAttribute(selector, name)
	if err != nil {
		return "", classify(ctx, err, "get_attribute")
	}
	return value, nil
}

func (pg *playwrightPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	handles, err := pg.p.QuerySelectorAll(selector)
	if err != nil {
		return nil, classify(ctx, err, "query_all")
	}

	out := make([]Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &playwrightElement{h: h})
	}
	return out, nil
}

func (pg *playwrightPage) MouseMove(ctx context.Context, x, y float64) error {
	if err := pg.p.Mouse().Move(x, y); err != nil {
		return classify(ctx, err, "mouse_move")
	}
	return nil
}

func (pg *playwrightPage) Screenshot(ctx context.Context, path string) error {
	_, err := pg.p.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return classify(ctx, err, "screenshot")
	}
	return nil
}

func (pg *playwrightPage) URL() string {
	return pg.p.URL()
}

func (pg *playwrightPage) Close() error {
	return pg.p.Close()
}

type playwrightElement struct {
	h playwright.ElementHandle
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	text, err := e.h.TextContent()
	if err != nil {
		return "", classify(ctx, err, "element_text")
	}
	return text, nil
}

func (e *playwrightElement) Attribute(ctx context.Context, name string) (string, error) {
	value, err := e.h.GetAttribute(name)
	if err != nil {
		return "", classify(ctx, err, "element_attribute")
	}
	return value, nil
}

func (e *playwrightElement) Query(ctx context.Context, selector string) (Element, error) {
	h, err := e.h.QuerySelector(selector)
	if err != nil {
		return nil, classify(ctx, err, "element_query")
	}
	if h == nil {
		return nil, nil
	}
	return &playwrightElement{h: h}, nil
}

// classify maps driver failures into the error taxonomy: a blown
// deadline is a timeout, everything else transient network trouble.
func classify(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil || errs.Is(err, playwright.ErrTimeout) {
		return errs.Wrap(err, errs.ErrorTypeTimeout, errs.SeverityMedium, op, "browser operation timed out")
	}
	return errs.Wrap(err, errs.ErrorTypeNetwork, errs.SeverityMedium, op, "browser operation failed")
}
