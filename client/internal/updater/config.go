package updater

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/updraftio/updraft/util"
	"github.com/updraftio/updraft/version"
)

const (
	// DefaultWorkerScriptPath is where the deployment serves the worker
	// script relative to its base URL.
	DefaultWorkerScriptPath = "/service-worker.js"

	defaultPollInitialDelay = 10 * time.Second
	defaultPollInterval     = 15 * time.Minute
	defaultReloadGrace      = 2 * time.Second
)

// Config holds the updater settings. Durations are tuning parameters,
// not contract; the defaults match a deployment that changes a few times
// a day under sessions that stay open for days.
type Config struct {
	// DeploymentURL is the base URL of the deployment, serving
	// /version.json and the worker script.
	DeploymentURL string
	// WorkerScriptPath is the script registered with the worker host,
	// relative to DeploymentURL.
	WorkerScriptPath string
	// CurrentVersion is the version this session is running. Defaults to
	// the build version.
	CurrentVersion string

	PollInitialDelay time.Duration
	PollInterval     time.Duration
	// ReloadGrace is how long ReloadNow waits for the controller change
	// after posting skip-waiting before reloading unconditionally.
	ReloadGrace time.Duration
}

// NewConfig returns a Config with every tuning field at its default.
func NewConfig() *Config {
	return &Config{
		WorkerScriptPath: DefaultWorkerScriptPath,
		CurrentVersion:   version.UpdraftVersion(),
		PollInitialDelay: defaultPollInitialDelay,
		PollInterval:     defaultPollInterval,
		ReloadGrace:      defaultReloadGrace,
	}
}

// ReadConfig loads the config file at path on top of the defaults. A
// missing file is not an error: the defaults are written out to path so
// the next run starts from a file, and flags carry the day this run.
func ReadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteOutConfig(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if _, err := util.ReadJson(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// WriteOutConfig writes the prepared config to the given path.
func WriteOutConfig(path string, cfg *Config) error {
	if err := util.WriteJson(context.Background(), path, cfg); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the fields a running updater cannot do without.
func (c *Config) Validate() error {
	if c.DeploymentURL == "" {
		return fmt.Errorf("deployment URL is required")
	}
	if _, err := url.Parse(c.DeploymentURL); err != nil {
		return fmt.Errorf("invalid deployment URL %s: %w", c.DeploymentURL, err)
	}
	return nil
}

// VersionURL returns the polled version document URL.
func (c *Config) VersionURL() string {
	return strings.TrimRight(c.DeploymentURL, "/") + "/version.json"
}
