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

// Package chromium drives a Chromium page over the DevTools protocol.
package chromium

import (
	"context"
	"fmt"
	"sync"

	cdpcdp "github.com/chromedp/cdproto/cdp"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	cdpnetwork "github.com/chromedp/cdproto/network"

	"github.com/grafana/xk6-browser-agent/agent"
	"github.com/grafana/xk6-browser-agent/cdp"
	"github.com/grafana/xk6-browser-agent/cookie"
	"github.com/grafana/xk6-browser-agent/events"
	"github.com/grafana/xk6-browser-agent/log"
	"github.com/grafana/xk6-browser-agent/network"
	"github.com/grafana/xk6-browser-agent/proxy"
)

var (
	_ agent.Engine      = &Engine{}
	_ agent.ProxySetter = &Engine{}
)

type rawHandler struct {
	id uint64
	fn events.RawHandler
}

// Engine is a page of a Chromium browser. Notifications are delivered to
// handlers one at a time, in the order the browser sent them.
type Engine struct {
	ctx     context.Context
	client  *cdp.Client
	logger  *log.Logger
	traffic *network.Traffic

	handlersMu sync.RWMutex
	handlers   map[string][]*rawHandler
	nextID     uint64

	mu           sync.Mutex
	proxy        *proxy.Config
	fetchEnabled bool
	handleAuth   bool

	startOnce  sync.Once
	detachOnce sync.Once
	cancelSub  func()
	stopped    chan struct{}
}

// New returns an Engine over an established client. Call Start before use.
func New(ctx context.Context, client *cdp.Client, logger *log.Logger) *Engine {
	return &Engine{
		ctx:       ctx,
		client:    client,
		logger:    logger,
		traffic:   network.NewTraffic(),
		handlers:  make(map[string][]*rawHandler),
		cancelSub: func() {},
		stopped:   make(chan struct{}),
	}
}

// Connect dials the DevTools endpoint of a page at wsURL and starts an
// Engine on it.
func Connect(ctx context.Context, wsURL string, logger *log.Logger) (*Engine, error) {
	client := cdp.NewClient(ctx, logger)
	if err := client.Connect(wsURL); err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", wsURL, err)
	}
	e := New(ctx, client, logger)
	if err := e.Start(ctx); err != nil {
		client.Disconnect()
		return nil, err
	}
	return e, nil
}

// Start begins dispatching notifications and enables the network and page
// domains.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		var evts <-chan *cdp.Event
		evts, e.cancelSub = e.client.Subscribe()
		go e.loop(evts)
	})

	if err := e.client.Network.Enable(ctx); err != nil {
		return err
	}
	return e.client.Page.Enable(ctx)
}

// Close stops dispatching and disconnects from the browser.
func (e *Engine) Close() {
	e.cancelSub()
	e.client.Disconnect()
}

// Stopped is closed once the dispatch loop returned.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}

// On subscribes h to the notification name.
func (e *Engine) On(name string, h events.RawHandler) func() {
	e.handlersMu.Lock()
	e.nextID++
	id := e.nextID
	hs := make([]*rawHandler, 0, len(e.handlers[name])+1)
	hs = append(hs, e.handlers[name]...)
	e.handlers[name] = append(hs, &rawHandler{id: id, fn: h})
	e.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(name, id) })
	}
}

func (e *Engine) off(name string, id uint64) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()

	hs := make([]*rawHandler, 0, len(e.handlers[name]))
	for _, h := range e.handlers[name] {
		if h.id != id {
			hs = append(hs, h)
		}
	}
	if len(hs) == 0 {
		delete(e.handlers, name)
		return
	}
	e.handlers[name] = hs
}

func (e *Engine) snapshot(name string) []*rawHandler {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	return e.handlers[name]
}

// Intercept pauses every request until it is continued. Requests paused
// while nothing subscribed to Fetch.requestPaused are continued right away.
func (e *Engine) Intercept(ctx context.Context) error {
	return e.enableFetch(ctx)
}

// SetProxy records the proxy the browser was launched with. Its credentials
// answer the proxy's auth challenges.
func (e *Engine) SetProxy(ctx context.Context, p *proxy.Config) error {
	e.mu.Lock()
	e.proxy = p
	auth := p.HasCredentials()
	e.handleAuth = e.handleAuth || auth
	e.mu.Unlock()

	e.logger.Infof("chromium", "the browser must be launched with %s", p.ServerArg())
	if !auth {
		return nil
	}
	return e.enableFetch(ctx)
}

// Fetch.enable replaces the previous configuration, so it is sent again
// whenever auth handling is switched on after interception.
func (e *Engine) enableFetch(ctx context.Context) error {
	e.mu.Lock()
	auth := e.handleAuth
	if e.fetchEnabled && !auth {
		e.mu.Unlock()
		return nil
	}
	e.fetchEnabled = true
	e.mu.Unlock()

	e.logger.Debugf("Engine:enableFetch", "handleAuth:%t", auth)
	return e.client.Fetch.Enable(ctx, auth)
}

// Exchange returns the most recent exchange for requestID.
func (e *Engine) Exchange(requestID string) (*network.Exchange, bool) {
	return e.traffic.Latest(requestID)
}

// Traffic returns the exchanges seen since the last Navigate. Navigate
// starts a fresh table so a long session does not accumulate every page.
func (e *Engine) Traffic() *network.Traffic {
	return e.traffic
}

func (e *Engine) loop(evts <-chan *cdp.Event) {
	defer close(e.stopped)

	for {
		select {
		case evt, ok := <-evts:
			if !ok {
				e.detached("event stream closed")
				return
			}
			e.handle(evt)
		case <-e.client.Done():
			e.detached("connection closed")
			return
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handle(evt *cdp.Event) {
	var params any = evt.Data

	switch ev := evt.Data.(type) {
	case *cdpnetwork.EventRequestWillBeSent:
		if ev.RedirectResponse != nil {
			e.traffic.SetResponse(toResponse(ev.RequestID, ev.RedirectResponse, ev.Timestamp))
		}
		e.traffic.AddRequest(toRequest(ev))
	case *cdpnetwork.EventResponseReceived:
		if ev.Response != nil {
			e.traffic.SetResponse(toResponse(ev.RequestID, ev.Response, ev.Timestamp))
		}
	case *cdpfetch.EventRequestPaused:
		p := &paused{engine: e, id: string(ev.RequestID), req: toPausedRequest(ev)}
		if len(e.snapshot(events.RawRequestPaused)) == 0 {
			if err := p.Continue(e.ctx); err != nil {
				e.logger.Errorf("Engine:handle", "%v", err)
			}
			return
		}
		params = p
	case *cdpfetch.EventAuthRequired:
		e.answerAuth(ev)
	case *inspector.EventDetached:
		if !e.markDetached() {
			return
		}
	}

	e.emit(string(evt.Name), params)
}

func (e *Engine) emit(name string, params any) {
	hs := e.snapshot(name)
	for i, h := range hs {
		h.fn(events.Raw{Name: name, Params: params, Index: i, Total: len(hs)})
	}
}

func (e *Engine) answerAuth(ev *cdpfetch.EventAuthRequired) {
	e.mu.Lock()
	p := e.proxy
	e.mu.Unlock()

	id := string(ev.RequestID)
	var err error
	if ev.AuthChallenge != nil && ev.AuthChallenge.Source == cdpfetch.AuthChallengeSourceProxy && p.HasCredentials() {
		e.logger.Debugf("Engine:answerAuth", "rid:%s proxy:%s", id, p)
		err = e.client.Fetch.ContinueWithAuth(e.ctx, id, p.User.String, p.Password.String)
	} else {
		err = e.client.Fetch.CancelAuth(e.ctx, id)
	}
	if err != nil {
		e.logger.Errorf("Engine:answerAuth", "%v", err)
	}
}

func (e *Engine) markDetached() (first bool) {
	e.detachOnce.Do(func() { first = true })
	return first
}

func (e *Engine) detached(reason string) {
	if !e.markDetached() {
		return
	}
	e.logger.Debugf("Engine:detached", "reason:%s", reason)
	e.emit(events.RawDetached, &inspector.EventDetached{Reason: reason})
}

// Navigate loads url in the page, forgetting the traffic of the previous
// document.
func (e *Engine) Navigate(ctx context.Context, url string) error {
	e.traffic.Clear()
	_, err := e.client.Page.Navigate(ctx, url, "")
	return err
}

// XPath returns the nodes matching expr.
func (e *Engine) XPath(ctx context.Context, expr string) ([]*agent.Node, error) {
	ids, err := e.client.DOM.XPath(ctx, expr)
	if err != nil {
		return nil, err
	}
	return e.describe(ctx, ids)
}

// CSS returns the nodes matching selector.
func (e *Engine) CSS(ctx context.Context, selector string) ([]*agent.Node, error) {
	ids, err := e.client.DOM.QuerySelectorAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	return e.describe(ctx, ids)
}

func (e *Engine) describe(ctx context.Context, ids []cdpcdp.NodeID) ([]*agent.Node, error) {
	nodes := make([]*agent.Node, 0, len(ids))
	for _, id := range ids {
		n, err := e.client.DOM.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, toNode(id, n))
	}
	return nodes, nil
}

// SetCookies stores cookies in the browser. Cookies without a domain are
// scoped to the current page.
func (e *Engine) SetCookies(ctx context.Context, cookies []*cookie.Cookie) error {
	var pageURL string
	for _, c := range cookies {
		if c.Domain == "" {
			u, err := e.URL(ctx)
			if err != nil {
				return err
			}
			pageURL = u
			break
		}
	}

	params := make([]*cdpnetwork.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, c.Param(pageURL))
	}
	return e.client.Network.SetCookies(ctx, params)
}

// Cookies returns every cookie of the browser.
func (e *Engine) Cookies(ctx context.Context) ([]*cookie.Cookie, error) {
	ncs, err := e.client.Storage.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	cookies := make([]*cookie.Cookie, 0, len(ncs))
	for _, nc := range ncs {
		cookies = append(cookies, cookie.FromCDP(nc))
	}
	return cookies, nil
}

// ClearCookies removes every cookie of the browser.
func (e *Engine) ClearCookies(ctx context.Context) error {
	return e.client.Network.ClearCookies(ctx)
}

// SetBypassCSP toggles Content-Security-Policy enforcement.
func (e *Engine) SetBypassCSP(ctx context.Context, enabled bool) error {
	return e.client.Page.SetBypassCSP(ctx, enabled)
}

// URL returns the address of the current document.
func (e *Engine) URL(ctx context.Context) (string, error) {
	return e.client.Page.CurrentURL(ctx)
}

// Content returns the outer HTML of the current document.
func (e *Engine) Content(ctx context.Context) (string, error) {
	root, err := e.client.DOM.Document(ctx)
	if err != nil {
		return "", err
	}
	return e.client.DOM.OuterHTML(ctx, root.NodeID)
}

// Version returns the product and user agent of the browser.
func (e *Engine) Version(ctx context.Context) (product, userAgent string, err error) {
	return e.client.Browser.GetVersion(ctx)
}

type paused struct {
	engine *Engine
	id     string
	req    *network.Request
}

func (p *paused) Request() *network.Request {
	return p.req
}

func (p *paused) Continue(ctx context.Context) error {
	return p.engine.client.Fetch.ContinueRequest(ctx, p.id)
}
