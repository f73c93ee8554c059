package attach

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docattach/attach/internal/flow"
	"github.com/hazyhaar/docattach/attach/internal/preflight"
	"github.com/hazyhaar/docattach/attach/internal/session"
)

// Config is the full docattach configuration.
type Config struct {
	// Protocol describes the remote application: process URL, selectors,
	// field names, success markers, classifier rules.
	Protocol flow.Config `yaml:"protocol" json:"protocol"`
	// HTTP tunes the session client.
	HTTP session.Config `yaml:"http" json:"http"`
	// Preflight tunes the local file checks.
	Preflight preflight.Config `yaml:"preflight" json:"preflight"`
	// Journal is the SQLite outcome journal path. Empty disables it.
	Journal string `yaml:"journal" json:"journal"`
	// Listen is the address of the status server, e.g. "127.0.0.1:8090".
	Listen string `yaml:"listen" json:"listen"`
	// API guards the /api routes of the status server.
	API APIConfig `yaml:"api" json:"api"`
	// Cookies seed the session jar for the process URL host, e.g. a
	// PHPSESSID copied from a browser.
	Cookies map[string]string `yaml:"cookies" json:"-"`
	// Browser configures the cookie import from a logged-in Chrome.
	Browser BrowserConfig `yaml:"browser" json:"browser"`
}

// APIConfig guards the status server. With no Token every /api request is
// refused; with no UploadRoot the API cannot enqueue files.
type APIConfig struct {
	Token      string `yaml:"token" json:"-"`
	UploadRoot string `yaml:"upload_root" json:"upload_root"`
}

// BrowserConfig configures ImportBrowserSession.
type BrowserConfig struct {
	RemoteURL    string        `yaml:"remote_url" json:"remote_url"`
	Headless     bool          `yaml:"headless" json:"headless"`
	LoginTimeout time.Duration `yaml:"login_timeout" json:"login_timeout"`
}

// DefaultConfig returns a Config with every default filled in except the
// process URL.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Protocol.Defaults()
	if c.Browser.LoginTimeout <= 0 {
		c.Browser.LoginTimeout = 5 * time.Minute
	}
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("attach: read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("attach: parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks the fields New cannot default.
func (c *Config) Validate() error {
	if c.Protocol.ProcessURL == "" {
		return errors.New("attach: protocol.process_url is required")
	}
	if c.Protocol.StageTimeout < time.Second {
		return fmt.Errorf("attach: protocol.stage_timeout %s is too short", c.Protocol.StageTimeout)
	}
	return nil
}
