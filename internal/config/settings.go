package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServiceURL is the well-known local reload service endpoint.
	DefaultServiceURL = "ws://localhost:8181/ws"
	// DefaultDebounce is the quiescence window between reload batches.
	DefaultDebounce = 5 * time.Second
)

// Settings is the resolved runtime configuration.
type Settings struct {
	ServiceURL        string
	Debounce          time.Duration
	Paths             []string
	Globs             []string
	PackagesFile      string
	WatchDependencies bool
	LogLevel          string
}

// fileSettings is the on-disk YAML shape. Debounce is a duration string
// ("100ms", "5s") so the file stays human-editable.
type fileSettings struct {
	ServiceURL        string   `yaml:"service_url"`
	Debounce          string   `yaml:"debounce"`
	Paths             []string `yaml:"paths"`
	Globs             []string `yaml:"globs"`
	PackagesFile      string   `yaml:"packages_file"`
	WatchDependencies *bool    `yaml:"watch_dependencies"`
	LogLevel          string   `yaml:"log_level"`
}

func Default() Settings {
	return Settings{
		ServiceURL: DefaultServiceURL,
		Debounce:   DefaultDebounce,
		LogLevel:   "info",
	}
}

// Load resolves settings from defaults, an optional YAML file, and
// REKINDLE_* environment variables, in that precedence order.
func Load(path string) (Settings, error) {
	settings := Default()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read settings file: %w", err)
			}
		} else {
			var file fileSettings
			if err := yaml.Unmarshal(payload, &file); err != nil {
				return Settings{}, fmt.Errorf("parse settings file %s: %w", path, err)
			}
			if err := applyFile(&settings, file); err != nil {
				return Settings{}, err
			}
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func applyFile(settings *Settings, file fileSettings) error {
	if file.ServiceURL != "" {
		settings.ServiceURL = file.ServiceURL
	}
	if file.Debounce != "" {
		debounce, err := parseDebounce(file.Debounce)
		if err != nil {
			return err
		}
		settings.Debounce = debounce
	}
	if len(file.Paths) > 0 {
		settings.Paths = append(settings.Paths, file.Paths...)
	}
	if len(file.Globs) > 0 {
		settings.Globs = append(settings.Globs, file.Globs...)
	}
	if file.PackagesFile != "" {
		settings.PackagesFile = file.PackagesFile
	}
	if file.WatchDependencies != nil {
		settings.WatchDependencies = *file.WatchDependencies
	}
	if file.LogLevel != "" {
		settings.LogLevel = file.LogLevel
	}
	return nil
}

func applyEnv(settings *Settings) error {
	if value := os.Getenv("REKINDLE_SERVICE_URL"); value != "" {
		settings.ServiceURL = value
	}
	if value := os.Getenv("REKINDLE_DEBOUNCE"); value != "" {
		debounce, err := parseDebounce(value)
		if err != nil {
			return err
		}
		settings.Debounce = debounce
	}
	if value := os.Getenv("REKINDLE_PACKAGES_FILE"); value != "" {
		settings.PackagesFile = value
	}
	if value := os.Getenv("REKINDLE_LOG_LEVEL"); value != "" {
		settings.LogLevel = value
	}
	return nil
}

func parseDebounce(value string) (time.Duration, error) {
	debounce, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse debounce %q: %w", value, err)
	}
	if debounce < 0 {
		return 0, fmt.Errorf("debounce must not be negative, got %s", debounce)
	}
	return debounce, nil
}
