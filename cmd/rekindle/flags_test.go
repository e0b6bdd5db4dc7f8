package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"rekindle/internal/config"
)

func TestParseArgsCollectsWatchTargets(t *testing.T) {
	opts, err := parseArgs([]string{
		"-url", "ws://127.0.0.1:9000/ws",
		"-debounce", "250ms",
		"-watch", "/srv/app/lib",
		"-watch", "/srv/app/web",
		"-glob", "/srv/app/*.yaml",
		"-deps",
		"/srv/app/extra",
	}, new(bytes.Buffer))
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}

	if opts.ServiceURL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("unexpected url %q", opts.ServiceURL)
	}
	if opts.Debounce != "250ms" {
		t.Fatalf("unexpected debounce %q", opts.Debounce)
	}
	want := []string{"/srv/app/lib", "/srv/app/web", "/srv/app/extra"}
	if len(opts.Paths) != len(want) {
		t.Fatalf("expected paths %v, got %v", want, opts.Paths)
	}
	for i, path := range want {
		if opts.Paths[i] != path {
			t.Fatalf("expected paths %v, got %v", want, opts.Paths)
		}
	}
	if len(opts.Globs) != 1 || opts.Globs[0] != "/srv/app/*.yaml" {
		t.Fatalf("unexpected globs %v", opts.Globs)
	}
	if !opts.WatchDeps {
		t.Fatal("expected -deps to be set")
	}
}

func TestParseArgsHelp(t *testing.T) {
	var errOut bytes.Buffer
	_, err := parseArgs([]string{"-help"}, &errOut)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(errOut.String(), "Usage: rekindle") {
		t.Fatalf("help text not printed: %q", errOut.String())
	}
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"-bogus"}, new(bytes.Buffer)); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

func TestApplyFlagsOverlaysSettings(t *testing.T) {
	settings := config.Default()
	settings.Paths = []string{"/from/file"}

	opts := cliOptions{
		ServiceURL: "ws://127.0.0.1:9000/ws",
		Debounce:   "2s",
		LogLevel:   "debug",
		Paths:      multiFlag{"/from/flag"},
		WatchDeps:  true,
	}
	if err := applyFlags(&settings, opts); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}

	if settings.ServiceURL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("unexpected url %q", settings.ServiceURL)
	}
	if settings.Debounce != 2*time.Second {
		t.Fatalf("unexpected debounce %s", settings.Debounce)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("unexpected log level %q", settings.LogLevel)
	}
	if len(settings.Paths) != 2 || settings.Paths[1] != "/from/flag" {
		t.Fatalf("expected flag paths appended, got %v", settings.Paths)
	}
	if !settings.WatchDependencies {
		t.Fatal("expected watch_dependencies enabled")
	}
}

func TestApplyFlagsRejectsBadDebounce(t *testing.T) {
	settings := config.Default()
	if err := applyFlags(&settings, cliOptions{Debounce: "soon"}); err == nil {
		t.Fatal("expected an error for an unparseable debounce")
	}
	if err := applyFlags(&settings, cliOptions{Debounce: "-1s"}); err == nil {
		t.Fatal("expected an error for a negative debounce")
	}
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-version"}, &out, &errOut, nil); code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %q)", code, errOut.String())
	}
	if !strings.Contains(out.String(), "rekindle") {
		t.Fatalf("version banner missing: %q", out.String())
	}
}

func TestRunRequiresWatchTargets(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut, nil); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "nothing to watch") {
		t.Fatalf("expected a nothing-to-watch message, got %q", errOut.String())
	}
}

func TestRunRejectsUnsupportedURL(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-url", "http://localhost:8181/ws", t.TempDir()}, &out, &errOut, nil)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "hot reload") {
		t.Fatalf("expected an unsupported-endpoint message, got %q", errOut.String())
	}
}
