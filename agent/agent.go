/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package agent is a browser session with cookie, proxy and network event
// management layered over a browser engine.
package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/grafana/xk6-browser-agent/cookie"
	"github.com/grafana/xk6-browser-agent/events"
	"github.com/grafana/xk6-browser-agent/log"
	"github.com/grafana/xk6-browser-agent/proxy"
	"github.com/grafana/xk6-browser-agent/storage"
)

// Agent drives a single engine. The embedded router exposes the request,
// response, URL and close subscriptions.
type Agent struct {
	*events.Router

	engine   Engine
	logger   *log.Logger
	cookies  *storage.CookieFile
	proxy    *proxy.Config
	headless bool

	bypassCSP bool
}

// New configures engine according to opts. The proxy is applied first,
// then the cookie, then the cookies from the cookie file one at a time, and
// finally the initial navigation.
func New(ctx context.Context, engine Engine, opts Options) (*Agent, error) {
	p, err := proxy.Normalize(opts.Proxy)
	if err != nil {
		return nil, err
	}
	c, err := normalizeCookie(opts.Cookie)
	if err != nil {
		return nil, err
	}

	logger := opts.logger()
	routerOpts := []events.Option{events.WithMetrics(opts.Metrics)}
	if opts.ErrorHandler != nil {
		routerOpts = append(routerOpts, events.WithErrorHandler(opts.ErrorHandler))
	}

	a := &Agent{
		Router:   events.NewRouter(ctx, engine, logger, routerOpts...),
		engine:   engine,
		logger:   logger,
		cookies:  storage.NewCookieFile(),
		proxy:    p,
		headless: opts.headless(),
	}
	if opts.Persister != nil {
		a.cookies.Persister = opts.Persister
	}

	if p != nil {
		ps, ok := engine.(ProxySetter)
		if !ok {
			a.Detach()
			return nil, fmt.Errorf("engine %T cannot use proxy %s", engine, p)
		}
		if err := ps.SetProxy(ctx, p); err != nil {
			a.Detach()
			return nil, fmt.Errorf("setting proxy: %w", err)
		}
		a.logger.Debugf("Agent:New", "proxy:%s", p)
	}
	if c != nil {
		if err := a.SetCookie(ctx, c); err != nil {
			a.Detach()
			return nil, err
		}
	}
	if opts.CookieFile != "" {
		if _, err := a.LoadCookies(ctx, opts.CookieFile); err != nil {
			a.Detach()
			return nil, err
		}
	}
	if opts.URL != "" {
		if err := a.Navigate(ctx, opts.URL); err != nil {
			a.Detach()
			return nil, err
		}
	}

	return a, nil
}

// Engine returns the engine the agent drives.
func (a *Agent) Engine() Engine {
	return a.engine
}

// Headless reports whether the browser runs without a window.
func (a *Agent) Headless() bool {
	return a.headless
}

// Visible is the complement of Headless.
func (a *Agent) Visible() bool {
	return !a.headless
}

// Proxy returns the normalized proxy, or nil.
func (a *Agent) Proxy() *proxy.Config {
	return a.proxy
}

// BypassCSP reports the last value passed to SetBypassCSP.
func (a *Agent) BypassCSP() bool {
	return a.bypassCSP
}

// SetBypassCSP toggles Content-Security-Policy enforcement for pages loaded
// from now on.
func (a *Agent) SetBypassCSP(ctx context.Context, enabled bool) error {
	if err := a.engine.SetBypassCSP(ctx, enabled); err != nil {
		return err
	}
	a.bypassCSP = enabled
	return nil
}

// Navigate loads url in the page.
func (a *Agent) Navigate(ctx context.Context, url string) error {
	a.logger.Debugf("Agent:Navigate", "url:%q", url)
	return a.engine.Navigate(ctx, url)
}

// Search runs query as XPath when it starts with "/" and as a CSS selector
// otherwise.
func (a *Agent) Search(ctx context.Context, query string) ([]*Node, error) {
	if strings.HasPrefix(query, "/") {
		return a.engine.XPath(ctx, query)
	}
	return a.engine.CSS(ctx, query)
}

// At returns the first node matching query, or nil when nothing matches.
func (a *Agent) At(ctx context.Context, query string) (*Node, error) {
	nodes, err := a.Search(ctx, query)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// Links returns the href of every anchor in the current document, resolved
// against the current page URL. Hrefs that are not valid URLs are skipped.
func (a *Agent) Links(ctx context.Context) ([]*url.URL, error) {
	current, err := a.engine.URL(ctx)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("parsing page URL %q: %w", current, err)
	}
	content, err := a.engine.Content(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parsing document of %q: %w", current, err)
	}

	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			a.logger.Debugf("Agent:Links", "skipping href %q: %v", href, err)
			return
		}
		links = append(links, base.ResolveReference(ref))
	})

	return links, nil
}

// Cookies returns every cookie of the browser.
func (a *Agent) Cookies(ctx context.Context) ([]*cookie.Cookie, error) {
	return a.engine.Cookies(ctx)
}

// SessionCookies returns the cookies whose name marks them as holding a
// session, in browser order.
func (a *Agent) SessionCookies(ctx context.Context) ([]*cookie.Cookie, error) {
	all, err := a.engine.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	var session []*cookie.Cookie
	for _, c := range all {
		if c.NamedAsSession() {
			session = append(session, c)
		}
	}
	return session, nil
}

// SetCookie stores c in the browser.
func (a *Agent) SetCookie(ctx context.Context, c *cookie.Cookie) error {
	if err := a.engine.SetCookies(ctx, []*cookie.Cookie{c}); err != nil {
		return fmt.Errorf("setting cookie %q: %w", c.Name, err)
	}
	return nil
}

// LoadCookies stores every cookie of the file at path in the browser, one at
// a time, and returns how many were stored. It stops at the first cookie
// that fails to parse or to be stored.
func (a *Agent) LoadCookies(ctx context.Context, path string) (int, error) {
	var n int
	for c, err := range a.cookies.Load(path) {
		if err != nil {
			return n, err
		}
		if err := a.SetCookie(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	a.logger.Debugf("Agent:LoadCookies", "path:%q loaded:%d", path, n)
	return n, nil
}

// SaveCookies writes every cookie of the browser to path.
func (a *Agent) SaveCookies(ctx context.Context, path string) error {
	all, err := a.engine.Cookies(ctx)
	if err != nil {
		return err
	}
	return a.cookies.Save(ctx, path, all)
}
