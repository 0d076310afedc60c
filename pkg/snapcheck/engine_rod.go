package snapcheck

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/root4loot/goutils/log"
)

type rodEngine struct{}

func newRodEngine() (Engine, error) {
	return rodEngine{}, nil
}

func installRod() error {
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return err
	}
	log.Debugf("Browser available at %s", path)
	return nil
}

func (rodEngine) Stop() error { return nil }

func (rodEngine) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	l := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		NoSandbox(true)

	if path, found := launcher.LookPath(); found {
		l = l.Bin(path)
	}

	if opts.UserAgent != "" {
		l.Set("user-agent", opts.UserAgent)
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, err
	}

	return &rodBrowser{launcher: l, browser: browser, opts: opts}, nil
}

type rodBrowser struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	opts      LaunchOptions
	listeners []context.CancelFunc
}

func (b *rodBrowser) NewContext(ctx context.Context, ignoreHTTPSErrors bool) (BrowserContext, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, err
	}

	if ignoreHTTPSErrors {
		if err := incognito.IgnoreCertErrors(true); err != nil {
			return nil, err
		}
	}

	return &rodContext{parent: b, browser: incognito}, nil
}

// Close shuts the browser down and waits for the process to exit.
func (b *rodBrowser) Close() error {
	for _, cancel := range b.listeners {
		cancel()
	}

	err := b.browser.Close()
	if err != nil {
		b.launcher.Kill()
	}
	b.launcher.Cleanup()
	return err
}

type rodContext struct {
	parent  *rodBrowser
	browser *rod.Browser
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	if c.parent.opts.Width > 0 && c.parent.opts.Height > 0 {
		viewport := &proto.EmulationSetDeviceMetricsOverride{
			Width:             c.parent.opts.Width,
			Height:            c.parent.opts.Height,
			DeviceScaleFactor: 1,
			Mobile:            false,
		}
		if err := page.SetViewport(viewport); err != nil {
			return nil, err
		}
	}

	if err := (proto.PageSetLifecycleEventsEnabled{Enabled: true}).Call(page); err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	c.parent.listeners = append(c.parent.listeners, cancel)

	p := &rodPage{page: page, idle: newIdleTracker()}
	p.listen(lctx)
	return p, nil
}

type rodPage struct {
	page *rod.Page
	idle *idleTracker
}

// listen feeds lifecycle events to the idle tracker until ctx is done or the page
// goes away.
func (p *rodPage) listen(ctx context.Context) {
	wait := p.page.Context(ctx).EachEvent(func(e *proto.PageLifecycleEvent) bool {
		p.onLifecycle(e)
		return false
	})
	go wait()
}

func (p *rodPage) onLifecycle(e *proto.PageLifecycleEvent) {
	p.idle.record(string(e.Name), string(e.LoaderID))
}

func (p *rodPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return err
	}

	return page.WaitLoad()
}

func (p *rodPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	tree, err := proto.PageGetFrameTree{}.Call(p.page.Context(ctx))
	if err != nil {
		return err
	}
	return p.idle.wait(ctx, string(tree.FrameTree.Frame.LoaderID), timeout)
}

func (p *rodPage) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(full, nil)
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
