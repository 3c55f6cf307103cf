package agent

import (
	"fmt"

	"github.com/grafana/xk6-browser-agent/cookie"
	"github.com/grafana/xk6-browser-agent/events"
	"github.com/grafana/xk6-browser-agent/log"
	"github.com/grafana/xk6-browser-agent/metrics"
	"github.com/grafana/xk6-browser-agent/storage"
)

// Options configures an Agent. The zero value is a headless agent without
// a proxy that does not navigate anywhere.
type Options struct {
	Visible bool
	// Headless defaults to the complement of Visible.
	Headless *bool

	// Proxy is nil, a *proxy.Config, a *url.URL or a URL string.
	Proxy any
	// Cookie is a *cookie.Cookie, a cookie.Cookie or a wire-format string.
	Cookie     any
	CookieFile string
	URL        string

	Logger       *log.Logger
	Metrics      *metrics.Events
	ErrorHandler events.ErrorHandler
	// Persister writes saved cookie files. Defaults to the local disk.
	Persister storage.FilePersister
}

func (o *Options) headless() bool {
	if o.Headless != nil {
		return *o.Headless
	}
	return !o.Visible
}

func (o *Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.NewNullLogger()
	}
	return o.Logger
}

func normalizeCookie(v any) (*cookie.Cookie, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case *cookie.Cookie:
		return c, nil
	case cookie.Cookie:
		return &c, nil
	case string:
		return cookie.Parse(c)
	default:
		return nil, fmt.Errorf("invalid cookie %#v (%T): must be a *cookie.Cookie or a cookie string", v, v)
	}
}
