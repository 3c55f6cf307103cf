package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/xk6-browser-agent/agent"
	"github.com/grafana/xk6-browser-agent/chromium"
	"github.com/grafana/xk6-browser-agent/config"
	"github.com/grafana/xk6-browser-agent/log"
	"github.com/grafana/xk6-browser-agent/metrics"
	"github.com/grafana/xk6-browser-agent/network"
)

type runFlags struct {
	devtoolsURL string
	url         string
	proxy       string
	cookie      string
	cookieFile  string
	visible     bool
	headless    string
	timeout     time.Duration
	logLevel    string

	like         string
	match        string
	responses    bool
	saveCookies  string
	clearCookies bool
	metricsAddr  string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Print every URL the page requests until it closes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.DevtoolsURL == "" {
				return errors.New("a DevTools URL is required (--devtools-url or BROWSER_AGENT_DEVTOOLS_URL)")
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.devtoolsURL, "devtools-url", "", "websocket DevTools URL of the page")
	fs.StringVar(&f.url, "url", "", "URL to navigate to after setup")
	fs.StringVar(&f.proxy, "proxy", "", "proxy URL the browser was launched with")
	fs.StringVar(&f.cookie, "cookie", "", "cookie string to set before navigating")
	fs.StringVar(&f.cookieFile, "cookie-file", "", "file of cookie strings to set before navigating")
	fs.BoolVar(&f.visible, "visible", false, "the browser has a window")
	fs.StringVar(&f.headless, "headless", "", "the browser has no window (defaults to not --visible)")
	fs.DurationVar(&f.timeout, "timeout", 0, "timeout of setup and cookie saving")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	fs.StringVar(&f.like, "like", "", "only print URLs containing this string")
	fs.StringVar(&f.match, "match", "", "only print URLs matching this regular expression")
	fs.BoolVar(&f.responses, "responses", false, "also print every response with its request")
	fs.StringVar(&f.saveCookies, "save-cookies", "", "save the browser cookies to this file on close")
	fs.BoolVar(&f.clearCookies, "clear-cookies", false, "clear the browser cookies before loading any")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.MarkFlagsMutuallyExclusive("like", "match")

	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("devtools-url", &cfg.DevtoolsURL, f.devtoolsURL)
	set("url", &cfg.URL, f.url)
	set("proxy", &cfg.Proxy, f.proxy)
	set("cookie", &cfg.Cookie, f.cookie)
	set("cookie-file", &cfg.CookieFile, f.cookieFile)
	set("headless", &cfg.Headless, f.headless)
	set("log-level", &cfg.LogLevel, f.logLevel)
	if fs.Changed("visible") {
		cfg.Visible = f.visible
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, f *runFlags) error {
	logger, err := cfg.Logger(stderr)
	if err != nil {
		return err
	}
	var re *regexp.Regexp
	if f.match != "" {
		if re, err = regexp.Compile(f.match); err != nil {
			return fmt.Errorf("compiling --match: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.NewEvents(reg)

	engine, err := chromium.Connect(ctx, cfg.DevtoolsURL, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	opts, err := cfg.AgentOptions(logger, m)
	if err != nil {
		return err
	}
	opts.ErrorHandler = func(err error) {
		logger.Warnf("browser-agent", "%v", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if f.clearCookies {
		if err := engine.ClearCookies(setupCtx); err != nil {
			return err
		}
	}
	a, err := agent.New(setupCtx, engine, opts)
	if err != nil {
		return err
	}
	defer a.Detach()

	if err := subscribe(a, stdout, re, f); err != nil {
		return err
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		defer cancelWait()
		return a.WaitUntilClosed(gctx)
	})
	if f.metricsAddr != "" {
		serveMetrics(gctx, g, f.metricsAddr, reg, logger)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if f.saveCookies == "" {
		return nil
	}
	saveCtx, cancelSave := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancelSave()
	if err := a.SaveCookies(saveCtx, f.saveCookies); err != nil {
		return fmt.Errorf("saving cookies to %q: %w", f.saveCookies, err)
	}
	logger.Infof("browser-agent", "saved cookies to %q", f.saveCookies)

	return nil
}

func subscribe(a *agent.Agent, stdout io.Writer, re *regexp.Regexp, f *runFlags) error {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(stdout, format, args...)
	}
	printURL := func(url string) { printf("%s\n", url) }

	var err error
	switch {
	case re != nil:
		_, err = a.EveryURLMatching(re, printURL)
	case f.like != "":
		_, err = a.EveryURLLike(f.like, printURL)
	default:
		_, err = a.EveryURL(printURL)
	}
	if err != nil {
		return err
	}

	if f.responses {
		a.EveryResponseWithRequest(func(resp *network.Response, req *network.Request) {
			printf("%d %s %s\n", resp.Status, req.Method, resp.URL)
		})
	}
	return nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, logger *log.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Infof("browser-agent", "serving metrics on %s", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
}
