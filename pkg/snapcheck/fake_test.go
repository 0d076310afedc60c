package snapcheck

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"
)

// fakeEngine records the calls a check makes so tests can assert ordering and cleanup.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	launchErr  error
	gotoErr    error
	idleErr    error
	captureErr error
	image      []byte
	landingURL string

	gotURL      string
	gotTimeouts []time.Duration
	gotIgnore   bool
	gotFull     bool
	gotLaunch   LaunchOptions
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEngine) starter() func(string) (Engine, error) {
	return func(string) (Engine, error) {
		f.record("start")
		return f, nil
	}
}

func (f *fakeEngine) Launch(_ context.Context, opts LaunchOptions) (Browser, error) {
	f.record("launch")
	f.gotLaunch = opts
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return fakeBrowser{f}, nil
}

func (f *fakeEngine) Stop() error {
	f.record("stop")
	return nil
}

type fakeBrowser struct{ f *fakeEngine }

func (b fakeBrowser) NewContext(_ context.Context, ignoreHTTPSErrors bool) (BrowserContext, error) {
	b.f.record("context")
	b.f.gotIgnore = ignoreHTTPSErrors
	return b, nil
}

func (b fakeBrowser) NewPage(context.Context) (Page, error) {
	b.f.record("page")
	return b, nil
}

func (b fakeBrowser) Close() error {
	b.f.record("close")
	return nil
}

func (b fakeBrowser) Goto(_ context.Context, url string, timeout time.Duration) error {
	b.f.record("goto")
	b.f.gotURL = url
	b.f.gotTimeouts = append(b.f.gotTimeouts, timeout)
	return b.f.gotoErr
}

func (b fakeBrowser) WaitForNetworkIdle(_ context.Context, timeout time.Duration) error {
	b.f.record("idle")
	b.f.gotTimeouts = append(b.f.gotTimeouts, timeout)
	return b.f.idleErr
}

func (b fakeBrowser) Screenshot(_ context.Context, full bool) ([]byte, error) {
	b.f.record("screenshot")
	b.f.gotFull = full
	if b.f.captureErr != nil {
		return nil, b.f.captureErr
	}
	return b.f.image, nil
}

func (b fakeBrowser) URL() string {
	if b.f.landingURL != "" {
		return b.f.landingURL
	}
	return b.f.gotURL
}

var errRefused = errors.New("page load error net::ERR_CONNECTION_REFUSED")

// testPNG returns a w x h PNG filled with c.
func testPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
