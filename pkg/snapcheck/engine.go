package snapcheck

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// networkIdleEvent is the page lifecycle event Chrome emits once a document has had no
// network connections for 500ms.
const networkIdleEvent = "networkIdle"

// LaunchOptions are the browser process settings.
type LaunchOptions struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
}

// Engine is a started automation engine. Stop releases it.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	Stop() error
}

// Browser is one browser process. Close terminates it.
type Browser interface {
	NewContext(ctx context.Context, ignoreHTTPSErrors bool) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated session inside a browser.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is a single tab.
type Page interface {
	// Goto loads url and waits for the load event.
	Goto(ctx context.Context, url string, timeout time.Duration) error
	// WaitForNetworkIdle waits until the current document reports network idle.
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	// Screenshot returns a PNG of the viewport, or of the whole document when full is set.
	Screenshot(ctx context.Context, full bool) ([]byte, error)
	// URL is the address currently loaded.
	URL() string
}

type engineFactory struct {
	start   func() (Engine, error)
	install func() error
}

var engines = map[string]engineFactory{
	"rod":        {start: newRodEngine, install: installRod},
	"chromedp":   {start: newChromedpEngine},
	"playwright": {start: newPlaywrightEngine, install: installPlaywright},
}

// Engines lists the engine names StartEngine accepts.
func Engines() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartEngine starts the named engine.
func StartEngine(name string) (Engine, error) {
	f, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", name)
	}
	return f.start()
}

// InstallEngine downloads whatever the named engine needs to run a browser. Engines
// that rely on a system Chrome have nothing to install.
func InstallEngine(name string) error {
	f, ok := engines[name]
	if !ok {
		return fmt.Errorf("unknown engine %q", name)
	}
	if f.install == nil {
		return nil
	}
	return f.install()
}

// idleTracker records which documents have reported network idle. Engines feed it
// from their lifecycle event listeners and block on it in WaitForNetworkIdle.
type idleTracker struct {
	mu     sync.Mutex
	idle   map[string]struct{}
	notify chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		idle:   make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

func (t *idleTracker) record(name, loaderID string) {
	if name != networkIdleEvent {
		return
	}

	t.mu.Lock()
	t.idle[loaderID] = struct{}{}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *idleTracker) seen(loaderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.idle[loaderID]
	return ok
}

func (t *idleTracker) wait(ctx context.Context, loaderID string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for !t.seen(loaderID) {
		select {
		case <-t.notify:
		case <-timer.C:
			return timeoutError("waiting for network idle", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
