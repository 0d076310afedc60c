package snapcheck

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"
)

type chromedpEngine struct{}

func newChromedpEngine() (Engine, error) {
	return chromedpEngine{}, nil
}

func (chromedpEngine) Stop() error { return nil }

// Launch starts Chrome through an exec allocator. The allocator context is detached
// from ctx so that cancelling a run still lets Close shut the browser down cleanly.
func (chromedpEngine) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], customFlags(opts)...)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}

	return &chromedpBrowser{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// customFlags returns chromedp.ExecAllocatorOptions for opts.
func customFlags(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	flags := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
	}

	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}

	if opts.Width > 0 && opts.Height > 0 {
		flags = append(flags, chromedp.WindowSize(opts.Width, opts.Height))
	}

	return flags
}

type chromedpBrowser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	tabs          []context.CancelFunc
}

func (b *chromedpBrowser) NewContext(_ context.Context, ignoreHTTPSErrors bool) (BrowserContext, error) {
	return &chromedpContext{parent: b, ignoreHTTPSErrors: ignoreHTTPSErrors}, nil
}

// Close closes open tabs, asks the browser to exit and waits for the allocator to
// remove the process and its profile directory.
func (b *chromedpBrowser) Close() error {
	for _, cancel := range b.tabs {
		cancel()
	}
	err := chromedp.Cancel(b.ctx)
	b.cancelBrowser()
	b.cancelAlloc()
	return err
}

type chromedpContext struct {
	parent            *chromedpBrowser
	ignoreHTTPSErrors bool
}

func (c *chromedpContext) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.parent.ctx)
	c.parent.tabs = append(c.parent.tabs, cancel)

	p := &chromedpPage{ctx: tabCtx, idle: newIdleTracker()}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			p.onLifecycle(e)
		}
	})

	err := chromedp.Run(tabCtx,
		security.SetIgnoreCertificateErrors(c.ignoreHTTPSErrors),
		page.SetLifecycleEventsEnabled(true),
	)
	if err != nil {
		return nil, err
	}

	return p, nil
}

type chromedpPage struct {
	ctx  context.Context
	idle *idleTracker
}

func (p *chromedpPage) onLifecycle(e *page.EventLifecycleEvent) {
	p.idle.record(e.Name, string(e.LoaderID))
}

// bound derives a context from the tab that also ends when ctx does.
func (p *chromedpPage) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var tctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		tctx, cancel = context.WithCancel(p.ctx)
	}

	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (p *chromedpPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	tctx, cancel := p.bound(ctx, timeout)
	defer cancel()

	// Navigate waits for the load event.
	return chromedp.Run(tctx, chromedp.Navigate(url))
}

func (p *chromedpPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	tctx, cancel := p.bound(ctx, 0)
	defer cancel()

	var loaderID string
	err := chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		loaderID = string(tree.Frame.LoaderID)
		return nil
	}))
	if err != nil {
		return err
	}

	return p.idle.wait(ctx, loaderID, timeout)
}

func (p *chromedpPage) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	tctx, cancel := p.bound(ctx, 0)
	defer cancel()

	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if full {
		// Quality 100 keeps the output PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	}

	if err := chromedp.Run(tctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) URL() string {
	var location string
	if err := chromedp.Run(p.ctx, chromedp.Location(&location)); err != nil {
		return ""
	}
	return location
}
