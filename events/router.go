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

// Package events derives request, response, URL and close subscriptions from
// the raw notifications of a browser engine.
package events

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	cdpnetwork "github.com/chromedp/cdproto/network"

	"github.com/grafana/xk6-browser-agent/log"
	"github.com/grafana/xk6-browser-agent/metrics"
	"github.com/grafana/xk6-browser-agent/network"
)

const (
	// KindRequest is delivered for every intercepted request. Params is a
	// network.Intercepted which the router continues once every handler
	// returned.
	KindRequest = "request"

	// KindResponse is delivered for every response notification that could
	// be matched to an exchange. Params is the *network.Exchange.
	KindResponse = "response"

	// KindClose is delivered when the engine detaches from the page.
	KindClose = "close"
)

// Raw notification names the router listens to.
const (
	RawRequestPaused    = string(cdproto.EventFetchRequestPaused)
	RawResponseReceived = string(cdproto.EventNetworkResponseReceived)
	RawDetached         = string(cdproto.EventInspectorDetached)
)

// Raw is a notification as delivered by the engine. Index is the position of
// the receiving handler among the subscribers of Name, and Total is the
// number of those subscribers.
type Raw struct {
	Name   string
	Params any
	Index  int
	Total  int
}

// RawHandler receives notifications.
type RawHandler func(Raw)

// Source is the part of the browser engine the router consumes.
type Source interface {
	// On subscribes h to the raw notification name and returns a function
	// that removes the subscription.
	On(name string, h RawHandler) (unsubscribe func())
	// Intercept pauses every request until it is continued.
	Intercept(ctx context.Context) error
	// Exchange returns the most recent exchange for requestID.
	Exchange(requestID string) (*network.Exchange, bool)
}

// ErrorHandler receives failures of subscriber callbacks and of request
// continuation.
type ErrorHandler func(error)

type handler struct {
	id uint64
	fn func(Raw) error
}

// Router fans raw engine notifications out to derived subscriptions. It
// attaches at most one engine listener per derived kind.
type Router struct {
	ctx     context.Context
	src     Source
	logger  *log.Logger
	metrics *metrics.Events
	onError ErrorHandler

	mu           sync.Mutex
	handlers     map[string][]*handler
	listeners    map[string]func()
	nextID       uint64
	intercepting bool

	closeOnce sync.Once
	closed    chan struct{}
	detach    func()
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records router activity in m.
func WithMetrics(m *metrics.Events) Option {
	return func(r *Router) { r.metrics = m }
}

// WithErrorHandler reports callback failures to fn in addition to the log.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(r *Router) { r.onError = fn }
}

// NewRouter returns a Router over src. The router starts tracking the close
// state right away.
func NewRouter(ctx context.Context, src Source, logger *log.Logger, opts ...Option) *Router {
	r := &Router{
		ctx:       ctx,
		src:       src,
		logger:    logger,
		handlers:  make(map[string][]*handler),
		listeners: make(map[string]func()),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.detach = src.On(RawDetached, func(Raw) { r.markClosed() })

	return r
}

// Subscription is the handle of a registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Dispose removes the registration. It is safe to call more than once.
func (s *Subscription) Dispose() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// On subscribes h to kind. KindResponse, KindClose and KindRequest are
// derived by the router; any other kind is subscribed to on the engine as is.
func (r *Router) On(kind string, h RawHandler) *Subscription {
	fn := func(ev Raw) error {
		h(ev)
		return nil
	}
	switch kind {
	case KindResponse, KindClose, KindRequest:
		return r.subscribe(kind, fn)
	default:
		return &Subscription{cancel: r.src.On(kind, func(ev Raw) {
			r.call(kind, fn, ev)
		})}
	}
}

// OnResponse calls fn with the most recent exchange of every response
// notification.
func (r *Router) OnResponse(fn func(ex *network.Exchange, index, total int)) *Subscription {
	return r.subscribe(KindResponse, func(ev Raw) error {
		fn(ev.Params.(*network.Exchange), ev.Index, ev.Total) //nolint:forcetypeassert
		return nil
	})
}

// OnClose calls fn when the engine detaches.
func (r *Router) OnClose(fn func()) *Subscription {
	return r.subscribe(KindClose, func(Raw) error {
		fn()
		return nil
	})
}

// EveryRequest enables interception and calls fn for every request. The
// request is continued after fn returns, even if fn fails or panics.
// The subscription is in place before interception starts, so no request
// paused by it goes unseen.
func (r *Router) EveryRequest(fn func(*network.Request) error) (*Subscription, error) {
	sub := r.subscribe(KindRequest, func(ev Raw) error {
		return fn(ev.Params.(network.Intercepted).Request()) //nolint:forcetypeassert
	})
	if err := r.intercept(); err != nil {
		sub.Dispose()
		return nil, err
	}
	return sub, nil
}

// EveryResponse calls fn with every response matched to an exchange.
func (r *Router) EveryResponse(fn func(*network.Response)) *Subscription {
	return r.EveryResponseWithRequest(func(resp *network.Response, _ *network.Request) {
		fn(resp)
	})
}

// EveryResponseWithRequest calls fn with every response matched to an
// exchange and the request it answers.
func (r *Router) EveryResponseWithRequest(fn func(*network.Response, *network.Request)) *Subscription {
	return r.OnResponse(func(ex *network.Exchange, _, _ int) {
		if ex.Response == nil {
			return
		}
		fn(ex.Response, ex.Request)
	})
}

// EveryURL calls fn with the URL of every request.
func (r *Router) EveryURL(fn func(url string)) (*Subscription, error) {
	return r.EveryRequest(func(req *network.Request) error {
		fn(req.URL)
		return nil
	})
}

// EveryURLLike calls fn with the URL of every request containing substr.
func (r *Router) EveryURLLike(substr string, fn func(url string)) (*Subscription, error) {
	return r.EveryURL(func(url string) {
		if strings.Contains(url, substr) {
			fn(url)
		}
	})
}

// EveryURLMatching calls fn with the URL of every request matching re.
func (r *Router) EveryURLMatching(re *regexp.Regexp, fn func(url string)) (*Subscription, error) {
	return r.EveryURL(func(url string) {
		if re.MatchString(url) {
			fn(url)
		}
	})
}

// WaitUntilClosed blocks until the engine detached or ctx is done. It
// returns immediately once the router has seen the close notification.
func (r *Router) WaitUntilClosed(ctx context.Context) error {
	select {
	case <-r.closed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for close: %w", ctx.Err())
	}
}

// Closed reports whether the close notification was seen.
func (r *Router) Closed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed on the close notification.
func (r *Router) Done() <-chan struct{} {
	return r.closed
}

// Detach removes every engine listener the router attached. Subscriptions
// made afterwards attach them again.
func (r *Router) Detach() {
	r.mu.Lock()
	listeners := r.listeners
	r.listeners = make(map[string]func())
	r.handlers = make(map[string][]*handler)
	r.mu.Unlock()

	for _, cancel := range listeners {
		cancel()
	}
	r.detach()
}

func (r *Router) markClosed() {
	r.closeOnce.Do(func() {
		r.logger.Debugf("Router:markClosed", "engine detached")
		close(r.closed)
	})
}

func (r *Router) intercept() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.intercepting {
		return nil
	}
	if err := r.src.Intercept(r.ctx); err != nil {
		return fmt.Errorf("enabling request interception: %w", err)
	}
	r.intercepting = true

	return nil
}

// subscribe registers fn under a derived kind and attaches the engine
// listener for it on first use. Handler lists are replaced rather than
// mutated so that dispatch can iterate a snapshot without holding the lock.
func (r *Router) subscribe(kind string, fn func(Raw) error) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	h := &handler{id: r.nextID, fn: fn}
	hs := make([]*handler, 0, len(r.handlers[kind])+1)
	hs = append(hs, r.handlers[kind]...)
	r.handlers[kind] = append(hs, h)

	if _, ok := r.listeners[kind]; !ok {
		r.listeners[kind] = r.attach(kind)
	}

	return &Subscription{cancel: func() { r.unsubscribe(kind, h.id) }}
}

func (r *Router) unsubscribe(kind string, id uint64) {
	r.mu.Lock()
	hs := make([]*handler, 0, len(r.handlers[kind]))
	for _, h := range r.handlers[kind] {
		if h.id != id {
			hs = append(hs, h)
		}
	}
	var cancel func()
	if len(hs) == 0 {
		delete(r.handlers, kind)
		cancel = r.listeners[kind]
		delete(r.listeners, kind)
	} else {
		r.handlers[kind] = hs
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (r *Router) attach(kind string) func() {
	switch kind {
	case KindResponse:
		return r.src.On(RawResponseReceived, r.onResponseReceived)
	case KindClose:
		return r.src.On(RawDetached, func(ev Raw) {
			r.dispatch(KindClose, Raw{Name: KindClose, Params: ev.Params, Index: ev.Index, Total: ev.Total})
		})
	case KindRequest:
		return r.src.On(RawRequestPaused, r.onRequestPaused)
	default:
		panic(fmt.Sprintf("events: no listener for kind %q", kind))
	}
}

func (r *Router) onResponseReceived(ev Raw) {
	id, ok := responseRequestID(ev.Params)
	if !ok {
		r.logger.Warnf("Router:onResponseReceived", "unexpected params %T", ev.Params)
		return
	}
	ex, ok := r.src.Exchange(id)
	if !ok || ex == nil {
		r.metrics.ResponseSkipped()
		r.logger.Debugf("Router:onResponseReceived", "rid:%s no exchange, skipping", id)
		return
	}
	r.metrics.ResponseMatched()
	r.dispatch(KindResponse, Raw{Name: KindResponse, Params: ex, Index: ev.Index, Total: ev.Total})
}

func (r *Router) onRequestPaused(ev Raw) {
	ir, ok := ev.Params.(network.Intercepted)
	if !ok {
		r.logger.Warnf("Router:onRequestPaused", "unexpected params %T", ev.Params)
		return
	}
	r.metrics.RequestIntercepted()
	defer func() {
		if err := ir.Continue(r.ctx); err != nil {
			r.fail(fmt.Errorf("continuing request %q: %w", ir.Request().ID, err))
		}
	}()
	r.dispatch(KindRequest, Raw{Name: KindRequest, Params: ir, Index: ev.Index, Total: ev.Total})
}

func (r *Router) dispatch(kind string, ev Raw) {
	r.mu.Lock()
	hs := r.handlers[kind]
	r.mu.Unlock()

	for _, h := range hs {
		r.call(kind, h.fn, ev)
	}
}

// call runs fn and turns a returned error or a panic into a reported
// failure, so one subscriber cannot break delivery to the others.
func (r *Router) call(kind string, fn func(Raw) error, ev Raw) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%s callback panicked: %v\n%s", kind, rec, debug.Stack())
			}
		}()
		return fn(ev)
	}()
	if err != nil {
		r.metrics.CallbackFailed(kind)
		r.fail(fmt.Errorf("%s callback: %w", kind, err))
	}
}

func (r *Router) fail(err error) {
	r.logger.Errorf("Router", "%v", err)
	if r.onError != nil {
		r.onError(err)
	}
}

func responseRequestID(params any) (string, bool) {
	switch p := params.(type) {
	case *cdpnetwork.EventResponseReceived:
		return string(p.RequestID), true
	case *network.Response:
		return p.RequestID, true
	default:
		return "", false
	}
}
