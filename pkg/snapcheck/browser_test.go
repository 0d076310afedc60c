package snapcheck

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
)

// These tests drive a real browser against a local TLS server with a self-signed
// certificate. They are skipped when the engine cannot start.

const tallPage = `<!doctype html>
<html><body style="margin:0">
<div style="height:3000px;background:linear-gradient(#fff,#06c)">snapcheck</div>
<img src="/pixel.png">
</body></html>`

func newTLSTarget(t *testing.T) *httptest.Server {
	t.Helper()

	pixel := testPNG(t, 1, 1, color.Black)

	mux := http.NewServeMux()
	mux.HandleFunc("/pixel.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pixel)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tallPage)
	})

	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)
	return server
}

func browserChecker(t *testing.T, engine, target string) *Checker {
	t.Helper()

	if engine != "playwright" {
		if _, found := launcher.LookPath(); !found {
			t.Skip("no Chrome binary found")
		}
	}

	opts := NewOptions()
	opts.Engine = engine
	opts.TargetURL = target
	opts.OutputPath = filepath.Join(t.TempDir(), DefaultOutputPath)
	opts.NavigationTimeout = 10
	opts.IdleTimeout = 10

	checker := NewCheckerWithOptions(opts)
	checker.StartEngine = func(name string) (Engine, error) {
		e, err := StartEngine(name)
		if err != nil {
			t.Skipf("Could not start %s: %v", name, err)
		}
		return e, err
	}
	return checker
}

func TestBrowserCapture(t *testing.T) {
	server := newTLSTarget(t)

	for _, engine := range Engines() {
		t.Run(engine, func(t *testing.T) {
			checker := browserChecker(t, engine, server.URL)

			result, err := checker.Run(context.Background())
			if err != nil {
				t.Fatalf("Failed to capture %s with %s: %v", server.URL, engine, err)
			}

			data, err := os.ReadFile(result.OutputPath)
			if err != nil {
				t.Fatalf("Failed to read artifact: %v", err)
			}
			if len(data) == 0 {
				t.Fatal("Artifact is empty")
			}

			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Artifact is not a PNG: %v", err)
			}
			if img.Bounds().Dy() < 3000 {
				t.Errorf("Expected a full page capture of at least 3000px, got %d", img.Bounds().Dy())
			}
		})
	}
}

func TestBrowserConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	target := "https://" + listener.Addr().String()
	listener.Close()

	for _, engine := range Engines() {
		t.Run(engine, func(t *testing.T) {
			checker := browserChecker(t, engine, target)

			_, err := checker.Run(context.Background())
			if err == nil {
				t.Fatal("Expected an error for a closed port")
			}
			if !IsConnectionRefused(err) {
				t.Errorf("Expected a connection refused error, got %v", err)
			}
			if _, err := os.Stat(checker.Options.OutputPath); !os.IsNotExist(err) {
				t.Error("Expected no artifact")
			}
		})
	}
}

func TestBrowserHangingServer(t *testing.T) {
	done := make(chan struct{})
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(done) })

	for _, engine := range Engines() {
		t.Run(engine, func(t *testing.T) {
			checker := browserChecker(t, engine, server.URL)
			checker.Options.NavigationTimeout = 2

			_, err := checker.Run(context.Background())
			if err == nil {
				t.Fatal("Expected an error for a hanging server")
			}
			if !IsTimeout(err) && !strings.Contains(strings.ToLower(err.Error()), "timeout") {
				t.Errorf("Expected a timeout error, got %v", err)
			}
			if _, err := os.Stat(checker.Options.OutputPath); !os.IsNotExist(err) {
				t.Error("Expected no artifact")
			}
		})
	}
}

func TestBrowserIdleWaitCancelled(t *testing.T) {
	server := newTLSTarget(t)

	for _, engine := range Engines() {
		t.Run(engine, func(t *testing.T) {
			checker := browserChecker(t, engine, server.URL)
			opts := checker.Options

			e, err := checker.StartEngine(engine)
			if err != nil {
				t.Fatalf("StartEngine() error = %v", err)
			}
			defer e.Stop()

			browser, err := e.Launch(context.Background(), opts.launchOptions())
			if err != nil {
				t.Skipf("Could not launch %s: %v", engine, err)
			}
			defer browser.Close()

			bctx, err := browser.NewContext(context.Background(), true)
			if err != nil {
				t.Fatalf("NewContext() error = %v", err)
			}
			p, err := bctx.NewPage(context.Background())
			if err != nil {
				t.Fatalf("NewPage() error = %v", err)
			}
			if err := p.Goto(context.Background(), server.URL, opts.navigationTimeout()); err != nil {
				t.Fatalf("Goto() error = %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			start := time.Now()
			if err := p.WaitForNetworkIdle(ctx, opts.idleTimeout()); err == nil {
				t.Fatal("Expected an error for a cancelled context")
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("Expected a cancelled wait to return promptly, took %s", elapsed)
			}
		})
	}
}
