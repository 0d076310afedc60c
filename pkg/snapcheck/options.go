package snapcheck

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTargetURL  = "https://localhost:8888"
	DefaultOutputPath = "test_result.png"
	DefaultEngine     = "rod"
)

// Options contains the options for a single check.
type Options struct {
	TargetURL               string `yaml:"url"`                // URL to load
	NavigationTimeout       int    `yaml:"navigation_timeout"` // Navigation timeout (seconds)
	IdleTimeout             int    `yaml:"idle_timeout"`       // Network idle timeout (seconds)
	OutputPath              string `yaml:"output"`             // Where the PNG is written
	Engine                  string `yaml:"engine"`             // rod, chromedp or playwright
	Headless                bool   `yaml:"headless"`           // Run in headless mode
	IgnoreCertificateErrors bool   `yaml:"ignore_cert_errors"` // Ignore TLS certificate errors
	CaptureFull             bool   `yaml:"capture_full"`       // Capture the whole scrollable page
	CaptureWidth            int    `yaml:"capture_width"`      // Viewport width
	CaptureHeight           int    `yaml:"capture_height"`     // Viewport height
	UserAgent               string `yaml:"user_agent"`         // User agent, engine default if empty
	Imprint                 bool   `yaml:"imprint"`            // Stamp the page origin below the image
	CompareWithPrevious     bool   `yaml:"compare"`            // Log similarity to the artifact being replaced
}

// NewOptions returns Options initialized with default values.
func NewOptions() Options {
	return Options{
		TargetURL:               DefaultTargetURL,
		NavigationTimeout:       30,
		IdleTimeout:             30,
		OutputPath:              DefaultOutputPath,
		Engine:                  DefaultEngine,
		Headless:                true,
		IgnoreCertificateErrors: true,
		CaptureFull:             true,
		CaptureWidth:            1280,
		CaptureHeight:           720,
	}
}

// LoadOptionsFile reads a YAML file on top of base. Keys missing from the file keep
// the value they have in base.
func LoadOptionsFile(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}

	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}

	return opts, nil
}

// Validate reports the first problem with o.
func (o Options) Validate() error {
	if o.TargetURL == "" {
		return fmt.Errorf("target URL is required")
	}
	if o.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if o.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive, got %d", o.NavigationTimeout)
	}
	if o.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %d", o.IdleTimeout)
	}
	if o.CaptureWidth < 0 || o.CaptureHeight < 0 {
		return fmt.Errorf("invalid viewport %dx%d", o.CaptureWidth, o.CaptureHeight)
	}
	if _, ok := engines[o.Engine]; !ok {
		return fmt.Errorf("unknown engine %q", o.Engine)
	}
	return nil
}

func (o Options) navigationTimeout() time.Duration {
	return time.Duration(o.NavigationTimeout) * time.Second
}

func (o Options) idleTimeout() time.Duration {
	return time.Duration(o.IdleTimeout) * time.Second
}

// launchOptions returns what the engine needs to start a browser.
func (o Options) launchOptions() LaunchOptions {
	return LaunchOptions{
		Headless:  o.Headless,
		UserAgent: o.UserAgent,
		Width:     o.CaptureWidth,
		Height:    o.CaptureHeight,
	}
}
