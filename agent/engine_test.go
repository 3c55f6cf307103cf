package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/grafana/xk6-browser-agent/cookie"
	"github.com/grafana/xk6-browser-agent/events"
	"github.com/grafana/xk6-browser-agent/network"
	"github.com/grafana/xk6-browser-agent/proxy"
)

// fakeEngine serves a fixed document and records every call that changes
// browser state.
type fakeEngine struct {
	mu       sync.Mutex
	url      string
	content  string
	cookies  []*cookie.Cookie
	calls    []string
	handlers map[string][]events.RawHandler

	cookieErr error
}

var (
	_ Engine      = &fakeEngine{}
	_ ProxySetter = &fakeEngine{}
)

func newFakeEngine(url, content string) *fakeEngine {
	return &fakeEngine{
		url:      url,
		content:  content,
		handlers: make(map[string][]events.RawHandler),
	}
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) On(name string, h events.RawHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], h)
	return func() {}
}

func (e *fakeEngine) Intercept(context.Context) error {
	e.record("intercept")
	return nil
}

func (e *fakeEngine) Exchange(string) (*network.Exchange, bool) {
	return nil, false
}

func (e *fakeEngine) SetProxy(_ context.Context, p *proxy.Config) error {
	e.record("proxy:" + p.Address())
	return nil
}

func (e *fakeEngine) Navigate(_ context.Context, url string) error {
	e.record("navigate:" + url)
	e.mu.Lock()
	e.url = url
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) XPath(_ context.Context, expr string) ([]*Node, error) {
	e.record("xpath:" + expr)
	doc, err := htmlquery.Parse(strings.NewReader(e.content))
	if err != nil {
		return nil, err
	}
	found, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, err
	}
	return toNodes(found), nil
}

func (e *fakeEngine) CSS(_ context.Context, selector string) ([]*Node, error) {
	e.record("css:" + selector)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.content))
	if err != nil {
		return nil, err
	}
	return toNodes(doc.Find(selector).Nodes), nil
}

func (e *fakeEngine) SetCookies(_ context.Context, cookies []*cookie.Cookie) error {
	if e.cookieErr != nil {
		return e.cookieErr
	}
	for _, c := range cookies {
		e.record("cookie:" + c.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cookies = append(e.cookies, cookies...)
	return nil
}

func (e *fakeEngine) Cookies(context.Context) ([]*cookie.Cookie, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*cookie.Cookie(nil), e.cookies...), nil
}

func (e *fakeEngine) SetBypassCSP(_ context.Context, enabled bool) error {
	if enabled {
		e.record("csp:bypass")
	} else {
		e.record("csp:enforce")
	}
	return nil
}

func (e *fakeEngine) URL(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url, nil
}

func (e *fakeEngine) Content(context.Context) (string, error) {
	return e.content, nil
}

func toNodes(found []*html.Node) []*Node {
	nodes := make([]*Node, 0, len(found))
	for _, n := range found {
		attrs := make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		nodes = append(nodes, &Node{Name: n.Data, Attributes: attrs})
	}
	return nodes
}
