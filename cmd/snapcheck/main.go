package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/snapcheck/pkg/snapcheck"
)

const (
	author  = "@danielantonsen"
	version = "0.1.0"
	usage   = `USAGE:
  snapcheck [options]

With no options snapcheck loads https://localhost:8888, waits for the network to go
idle and saves a full page screenshot to test_result.png.

TARGET:
  -u,   --url                    page to load                                            (Default: https://localhost:8888)
  -o,   --output                 screenshot path, overwritten on every run               (Default: test_result.png)

CONFIGURATIONS:
  -c,   --config                 YAML file with options, flags take precedence
  -e,   --engine                 browser engine: rod, chromedp, playwright               (Default: rod)
  -nt,  --navigation-timeout     navigation timeout (seconds)                            (Default: 30)
  -it,  --idle-timeout           network idle timeout (seconds)                          (Default: 30)
  -cw,  --capture-width          viewport width                                          (Default: 1280)
  -ch,  --capture-height         viewport height                                         (Default: 720)
  -ua,  --user-agent             specify user agent                                      (Default: engine UA)
  -vo,  --viewport-only          capture the viewport instead of the full page           (Default: false)
  -rce, --respect-cert-err       respect certificate errors                              (Default: false)
        --headful                show the browser window                                 (Default: false)
        --install                download the browser for the selected engine first

OUTPUT:
  -im,  --imprint                add the page origin below the image                     (Default: false)
        --compare                log similarity to the screenshot being replaced         (Default: false)
        --strict                 exit 1 when the page could not be captured              (Default: false)
        --debug                  enable debug mode
        --version                display version
`
)

type cli struct {
	*snapcheck.Checker
	ConfigFile string
	Strict     bool
	Install    bool
	Debug      bool
	Help       bool
	Version    bool
}

func NewCLI() *cli {
	return &cli{Checker: snapcheck.NewChecker()}
}

func main() {
	snapcheck.Init()

	cli := NewCLI()
	if err := cli.parseFlags(os.Args[1:]); err != nil {
		log.Errorf("%v", err)
		fmt.Print(usage)
		os.Exit(2)
	}

	if cli.Help {
		fmt.Print(usage)
		os.Exit(0)
	}

	if cli.Version {
		fmt.Println("snapcheck", version, "by", author)
		os.Exit(0)
	}

	snapcheck.SetDebug(cli.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.run(ctx, os.Stdout)
	stop()
	os.Exit(code)
}

// run performs the check and prints a single result line to out. It returns the exit
// code: failures after launch exit 0 unless Strict is set, launch failures exit 1.
func (cli *cli) run(ctx context.Context, out io.Writer) int {
	if cli.Install {
		log.Debugf("Installing browser for %s", cli.Options.Engine)
		if err := snapcheck.InstallEngine(cli.Options.Engine); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return 1
		}
	}

	result, err := cli.Checker.Run(ctx)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		handleCaptureError(cli.Options.TargetURL, err)

		if snapcheck.IsLaunchError(err) || cli.Strict {
			return 1
		}
		return 0
	}

	fmt.Fprintf(out, "Screenshot saved to %s\n", result.OutputPath)
	return 0
}

func handleCaptureError(target string, err error) {
	var stepErr *snapcheck.StepError
	step := "check"
	if errors.As(err, &stepErr) {
		step = string(stepErr.Step)
	}

	switch {
	case snapcheck.IsConnectionRefused(err):
		log.Debugf("Connection refused by %s", target)
	case snapcheck.IsTimeout(err):
		log.Debugf("Timeout during %s of %s", step, target)
	default:
		log.Debugf("%s of %s failed: %v", step, target, err)
	}
}

// parseFlags parses args in two passes: the first finds --config, whose values then
// become the defaults for the second, so explicit flags win over the file.
func (cli *cli) parseFlags(args []string) error {
	probe := cli.flagSet(io.Discard)
	if err := probe.Parse(args); err != nil {
		return err
	}

	if cli.ConfigFile != "" {
		options, err := snapcheck.LoadOptionsFile(cli.ConfigFile, snapcheck.NewOptions())
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cli.Options = options
	}

	fs := cli.flagSet(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	return nil
}

// flagSet binds every flag to cli, using the current options as defaults.
func (cli *cli) flagSet(output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("snapcheck", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {}

	opts := &cli.Options
	headful := newNegatedBool(&opts.Headless)
	respectCertErr := newNegatedBool(&opts.IgnoreCertificateErrors)
	viewportOnly := newNegatedBool(&opts.CaptureFull)

	// TARGET
	fs.StringVar(&opts.TargetURL, "url", opts.TargetURL, "")
	fs.StringVar(&opts.TargetURL, "u", opts.TargetURL, "")
	fs.StringVar(&opts.OutputPath, "output", opts.OutputPath, "")
	fs.StringVar(&opts.OutputPath, "o", opts.OutputPath, "")

	// CONFIGURATIONS
	fs.StringVar(&cli.ConfigFile, "config", cli.ConfigFile, "")
	fs.StringVar(&cli.ConfigFile, "c", cli.ConfigFile, "")
	fs.StringVar(&opts.Engine, "engine", opts.Engine, "")
	fs.StringVar(&opts.Engine, "e", opts.Engine, "")
	fs.IntVar(&opts.NavigationTimeout, "navigation-timeout", opts.NavigationTimeout, "")
	fs.IntVar(&opts.NavigationTimeout, "nt", opts.NavigationTimeout, "")
	fs.IntVar(&opts.IdleTimeout, "idle-timeout", opts.IdleTimeout, "")
	fs.IntVar(&opts.IdleTimeout, "it", opts.IdleTimeout, "")
	fs.IntVar(&opts.CaptureWidth, "capture-width", opts.CaptureWidth, "")
	fs.IntVar(&opts.CaptureWidth, "cw", opts.CaptureWidth, "")
	fs.IntVar(&opts.CaptureHeight, "capture-height", opts.CaptureHeight, "")
	fs.IntVar(&opts.CaptureHeight, "ch", opts.CaptureHeight, "")
	fs.StringVar(&opts.UserAgent, "user-agent", opts.UserAgent, "")
	fs.StringVar(&opts.UserAgent, "ua", opts.UserAgent, "")
	fs.Var(viewportOnly, "viewport-only", "")
	fs.Var(viewportOnly, "vo", "")
	fs.Var(respectCertErr, "respect-cert-err", "")
	fs.Var(respectCertErr, "rce", "")
	fs.Var(headful, "headful", "")
	fs.BoolVar(&cli.Install, "install", cli.Install, "")

	// OUTPUT
	fs.BoolVar(&opts.Imprint, "imprint", opts.Imprint, "")
	fs.BoolVar(&opts.Imprint, "im", opts.Imprint, "")
	fs.BoolVar(&opts.CompareWithPrevious, "compare", opts.CompareWithPrevious, "")
	fs.BoolVar(&cli.Strict, "strict", cli.Strict, "")
	fs.BoolVar(&cli.Debug, "debug", cli.Debug, "")
	fs.BoolVar(&cli.Help, "help", cli.Help, "")
	fs.BoolVar(&cli.Help, "h", cli.Help, "")
	fs.BoolVar(&cli.Version, "version", cli.Version, "")

	return fs
}

// negatedBool is a boolean flag that clears the option it points to when set.
type negatedBool struct {
	target *bool
}

func newNegatedBool(target *bool) *negatedBool {
	return &negatedBool{target: target}
}

func (b *negatedBool) String() string {
	if b == nil || b.target == nil {
		return "false"
	}
	return strconv.FormatBool(!*b.target)
}

func (b *negatedBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b.target = !v
	return nil
}

func (b *negatedBool) IsBoolFlag() bool { return true }
