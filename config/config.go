// Package config reads agent settings from the environment.
package config

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/grafana/xk6-browser-agent/agent"
	"github.com/grafana/xk6-browser-agent/log"
	"github.com/grafana/xk6-browser-agent/metrics"
)

// Prefix of every environment variable, as in BROWSER_AGENT_PROXY.
const Prefix = "BROWSER_AGENT"

// Config holds the agent settings.
type Config struct {
	Visible bool `envconfig:"VISIBLE" default:"false"`
	// Headless is a boolean, empty to follow Visible.
	Headless   string `envconfig:"HEADLESS"`
	Proxy      string `envconfig:"PROXY"`
	Cookie     string `envconfig:"COOKIE"`
	CookieFile string `envconfig:"COOKIE_FILE"`
	URL        string `envconfig:"URL"`

	DevtoolsURL string        `envconfig:"DEVTOOLS_URL"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LogCategoryFilter string `envconfig:"LOG_CATEGORY_FILTER"`
}

// FromEnv loads and validates the configuration from the environment.
func FromEnv() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when the environment is empty.
func Default() *Config {
	return &Config{
		Timeout:  30 * time.Second,
		LogLevel: "info",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.headless(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %s: must be positive", c.Timeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

func (c *Config) headless() (*bool, error) {
	if c.Headless == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(c.Headless)
	if err != nil {
		return nil, fmt.Errorf("invalid headless value %q: %w", c.Headless, err)
	}
	return &b, nil
}

// AgentOptions translates the configuration. Empty settings stay unset.
func (c *Config) AgentOptions(logger *log.Logger, m *metrics.Events) (agent.Options, error) {
	headless, err := c.headless()
	if err != nil {
		return agent.Options{}, err
	}

	opts := agent.Options{
		Visible:    c.Visible,
		Headless:   headless,
		CookieFile: c.CookieFile,
		URL:        c.URL,
		Logger:     logger,
		Metrics:    m,
	}
	if c.Proxy != "" {
		opts.Proxy = c.Proxy
	}
	if c.Cookie != "" {
		opts.Cookie = c.Cookie
	}
	return opts, nil
}

// Logger returns a logger writing text to w at the configured level.
func (c *Config) Logger(w io.Writer) (*log.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logger := log.New(l, false, nil)
	if err := logger.SetLevel(c.LogLevel); err != nil {
		return nil, err
	}
	if err := logger.SetCategoryFilter(c.LogCategoryFilter); err != nil {
		return nil, err
	}
	return logger, nil
}
