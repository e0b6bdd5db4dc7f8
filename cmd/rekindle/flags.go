package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"rekindle/internal/config"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty value")
	}
	*m = append(*m, value)
	return nil
}

// cliOptions holds the parsed command line. Empty strings mean the flag
// was not given and the settings file or defaults win.
type cliOptions struct {
	SettingsFile string
	ServiceURL   string
	Debounce     string
	PackagesFile string
	LogLevel     string
	Paths        multiFlag
	Globs        multiFlag
	WatchDeps    bool
	ShowVersion  bool
}

func parseArgs(args []string, errOut io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("rekindle", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.SettingsFile, "config", "", "Settings file (YAML)")
	fs.StringVar(&opts.ServiceURL, "url", "", "Reload service URL (env: REKINDLE_SERVICE_URL, default: "+config.DefaultServiceURL+")")
	fs.StringVar(&opts.Debounce, "debounce", "", "Quiet window between reloads, e.g. 500ms or 5s (env: REKINDLE_DEBOUNCE)")
	fs.StringVar(&opts.PackagesFile, "packages", "", "Package map file (env: REKINDLE_PACKAGES_FILE)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error (env: REKINDLE_LOG_LEVEL)")
	fs.Var(&opts.Paths, "watch", "Path to watch (repeatable)")
	fs.Var(&opts.Globs, "glob", "Glob of paths to watch (repeatable)")
	fs.BoolVar(&opts.WatchDeps, "deps", false, "Also watch every package root from the package map")
	helpFlag := fs.Bool("help", false, "Show this help message")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		printHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if *helpFlag {
		fs.Usage()
		return cliOptions{}, flag.ErrHelp
	}

	// Bare positional arguments are watch paths too.
	for _, arg := range fs.Args() {
		arg = strings.TrimSpace(arg)
		if arg != "" {
			opts.Paths = append(opts.Paths, arg)
		}
	}
	return opts, nil
}

// applyFlags overlays command-line values onto loaded settings.
func applyFlags(settings *config.Settings, opts cliOptions) error {
	if opts.ServiceURL != "" {
		settings.ServiceURL = opts.ServiceURL
	}
	if opts.Debounce != "" {
		debounce, err := time.ParseDuration(opts.Debounce)
		if err != nil {
			return fmt.Errorf("parse -debounce %q: %w", opts.Debounce, err)
		}
		if debounce < 0 {
			return fmt.Errorf("-debounce must not be negative, got %s", debounce)
		}
		settings.Debounce = debounce
	}
	if opts.PackagesFile != "" {
		settings.PackagesFile = opts.PackagesFile
	}
	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}
	settings.Paths = append(settings.Paths, opts.Paths...)
	settings.Globs = append(settings.Globs, opts.Globs...)
	if opts.WatchDeps {
		settings.WatchDependencies = true
	}
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: rekindle [flags] [path ...]

Watches the given paths and asks the local reload service to hot
reload once per quiet window after changes.

Flags:
  -config file       Settings file (YAML)
  -url url           Reload service URL (default `+config.DefaultServiceURL+`)
  -debounce window   Quiet window between reloads, e.g. 500ms or 5s
  -watch path        Path to watch (repeatable)
  -glob pattern      Glob of paths to watch (repeatable)
  -packages file     Package map file
  -deps              Also watch every package root from the package map
  -log-level level   debug, info, warn or error
  -version           Print version and exit
  -help              Show this help message
`)
}
