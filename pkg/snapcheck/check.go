package snapcheck

import (
	"context"
	"fmt"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/goutils/urlutil"
)

// Checker loads one page and saves a screenshot of it.
type Checker struct {
	Options Options

	// StartEngine starts the engine named in Options.Engine. Nil means the
	// package-level StartEngine.
	StartEngine func(name string) (Engine, error)
}

// Result contains the outcome of a successful check.
type Result struct {
	TargetURL  string
	LandingURL string
	OutputPath string
	Image      Image
	Similarity int // ssdeep score against the replaced artifact, -1 when not compared
}

// NewChecker creates a Checker with default options.
func NewChecker() *Checker {
	return &Checker{Options: NewOptions()}
}

// NewCheckerWithOptions creates a Checker with the provided options.
func NewCheckerWithOptions(options Options) *Checker {
	return &Checker{Options: options}
}

func Init() {
	log.Init("snapcheck")
	log.SetLevel(log.InfoLevel)
}

// SetDebug enables or disables debug logging.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// Run launches a browser, loads the target, waits for the network to settle and
// writes the screenshot to Options.OutputPath. The browser is closed exactly once
// on every path after a successful launch. Errors are *StepError values.
func (c *Checker) Run(ctx context.Context) (result *Result, err error) {
	opts := c.Options
	if err := opts.Validate(); err != nil {
		return nil, newStepError(StepLaunch, ErrLaunch, err)
	}

	target := opts.TargetURL
	if normalized, err := urlutil.EnsureTrailingSlash(target); err == nil {
		target = normalized
	}

	start := c.StartEngine
	if start == nil {
		start = StartEngine
	}

	log.Debugf("Starting %s engine", opts.Engine)
	engine, err := start(opts.Engine)
	if err != nil {
		return nil, newStepError(StepLaunch, ErrLaunch, fmt.Errorf("start %s engine: %w", opts.Engine, err))
	}
	defer func() {
		if stopErr := engine.Stop(); stopErr != nil {
			log.Debugf("Stopping %s engine: %v", opts.Engine, stopErr)
		}
	}()

	browser, err := engine.Launch(ctx, opts.launchOptions())
	if err != nil {
		return nil, newStepError(StepLaunch, ErrLaunch, fmt.Errorf("launch browser: %w", err))
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.Debugf("Closing browser: %v", closeErr)
		}
		log.Debug("Browser closed")
	}()

	bctx, err := browser.NewContext(ctx, opts.IgnoreCertificateErrors)
	if err != nil {
		return nil, newStepError(StepLaunch, ErrLaunch, fmt.Errorf("new context: %w", err))
	}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, newStepError(StepLaunch, ErrLaunch, fmt.Errorf("new page: %w", err))
	}

	log.Debugf("Navigating to %s", target)
	if err := page.Goto(ctx, target, opts.navigationTimeout()); err != nil {
		return nil, newStepError(StepNavigate, ErrNavigation, err)
	}

	log.Debugf("Waiting up to %s for network idle", opts.idleTimeout())
	if err := page.WaitForNetworkIdle(ctx, opts.idleTimeout()); err != nil {
		return nil, newStepError(StepIdle, ErrIdleTimeout, err)
	}

	image, err := page.Screenshot(ctx, opts.CaptureFull)
	if err != nil {
		return nil, newStepError(StepCapture, ErrCapture, fmt.Errorf("screenshot: %w", err))
	}

	result = &Result{
		TargetURL:  target,
		LandingURL: page.URL(),
		OutputPath: opts.OutputPath,
		Image:      Image(image),
		Similarity: -1,
	}

	if opts.Imprint {
		imprinted, err := result.Image.Imprint(result.LandingURL)
		if err != nil {
			log.Warnf("Could not imprint %s: %v", result.LandingURL, err)
		} else {
			result.Image = imprinted
		}
	}

	if opts.CompareWithPrevious {
		result.Similarity = result.Image.SimilarityToFile(opts.OutputPath)
		if result.Similarity >= 0 {
			log.Debugf("Similarity to previous %s: %d", opts.OutputPath, result.Similarity)
		}
	}

	if err := result.Image.WriteFile(opts.OutputPath); err != nil {
		return nil, newStepError(StepCapture, ErrCapture, err)
	}

	return result, nil
}
