package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"rekindle/internal/config"
	"rekindle/internal/logging"
	"rekindle/internal/reload"
	"rekindle/internal/version"
)

func main() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, signals))
}

func run(args []string, out, errOut io.Writer, signals <-chan os.Signal) int {
	opts, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.ShowVersion {
		fmt.Fprintln(out, version.GetVersionInfo().String())
		return 0
	}

	settings, err := config.Load(opts.SettingsFile)
	if err != nil {
		fmt.Fprintf(errOut, "rekindle: %v\n", err)
		return 1
	}
	if err := applyFlags(&settings, opts); err != nil {
		fmt.Fprintf(errOut, "rekindle: %v\n", err)
		return 2
	}

	level, ok := logging.ParseLevel(settings.LogLevel)
	if !ok {
		fmt.Fprintf(errOut, "rekindle: unknown log level %q\n", settings.LogLevel)
		return 2
	}
	logger := logging.NewWithOutput(level, errOut)

	coordinator, err := reload.New(reload.Options{
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(errOut, "rekindle: %v\n", err)
		return 1
	}
	defer func() {
		_ = coordinator.Terminate()
	}()

	if err := registerTargets(coordinator, settings); err != nil {
		fmt.Fprintf(errOut, "rekindle: %v\n", err)
		return 1
	}
	if len(coordinator.RegisteredPaths()) == 0 {
		fmt.Fprintln(errOut, "rekindle: nothing to watch; give a path, -watch, -glob or -deps")
		return 2
	}

	reloads, cancelReloads := coordinator.Reloads()
	defer cancelReloads()
	go func() {
		count := 0
		for completed := range reloads {
			count++
			logger.Info("sources reloaded", map[string]string{
				"at":    completed.CompletedAt.Format("15:04:05.000"),
				"count": strconv.Itoa(count),
			})
		}
	}()

	if err := coordinator.Start(); err != nil {
		fmt.Fprintf(errOut, "rekindle: %v\n", err)
		return 1
	}
	logger.Info("watching for changes", map[string]string{
		"paths":    strconv.Itoa(len(coordinator.WatchedPaths())),
		"service":  settings.ServiceURL,
		"debounce": settings.Debounce.String(),
	})

	if sig := <-signals; sig != nil {
		logger.Info("shutdown signal received", map[string]string{
			"signal": sig.String(),
		})
	}
	return 0
}

func registerTargets(coordinator *reload.Coordinator, settings config.Settings) error {
	for _, path := range settings.Paths {
		if err := coordinator.RegisterURI(path); err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}
	}
	for _, pattern := range settings.Globs {
		if err := coordinator.RegisterGlob(pattern); err != nil {
			return fmt.Errorf("register glob %s: %w", pattern, err)
		}
	}
	if settings.WatchDependencies {
		if err := coordinator.RegisterDependencies(); err != nil {
			return fmt.Errorf("register package roots: %w", err)
		}
	}
	return nil
}
