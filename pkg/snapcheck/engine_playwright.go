package snapcheck

import (
	"context"
	"time"

	"github.com/playwright-community/playwright-go"
)

type playwrightEngine struct {
	pw *playwright.Playwright
}

func newPlaywrightEngine() (Engine, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, err
	}
	return &playwrightEngine{pw: pw}, nil
}

func installPlaywright() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

func (e *playwrightEngine) Stop() error {
	return e.pw.Stop()
}

func (e *playwrightEngine) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := e.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-dev-shm-usage"},
	})
	if err != nil {
		return nil, err
	}

	return &playwrightBrowser{browser: browser, opts: opts}, nil
}

type playwrightBrowser struct {
	browser playwright.Browser
	opts    LaunchOptions
}

func (b *playwrightBrowser) NewContext(_ context.Context, ignoreHTTPSErrors bool) (BrowserContext, error) {
	options := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(ignoreHTTPSErrors),
	}

	if b.opts.UserAgent != "" {
		options.UserAgent = playwright.String(b.opts.UserAgent)
	}

	if b.opts.Width > 0 && b.opts.Height > 0 {
		options.Viewport = &playwright.Size{Width: b.opts.Width, Height: b.opts.Height}
	}

	bctx, err := b.browser.NewContext(options)
	if err != nil {
		return nil, err
	}
	return &playwrightContext{context: bctx}, nil
}

func (b *playwrightBrowser) Close() error {
	return b.browser.Close()
}

type playwrightContext struct {
	context playwright.BrowserContext
}

func (c *playwrightContext) NewPage(_ context.Context) (Page, error) {
	page, err := c.context.NewPage()
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: page}, nil
}

// playwrightPage cannot be cancelled mid-call; ctx is only checked before each step.
type playwrightPage struct {
	page playwright.Page
}

func milliseconds(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   milliseconds(timeout),
	})
	return err
}

func (p *playwrightPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: milliseconds(timeout),
	})
}

func (p *playwrightPage) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(full),
		Type:     playwright.ScreenshotTypePng,
	})
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}
